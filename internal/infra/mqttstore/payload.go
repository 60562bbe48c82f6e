package mqttstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"smart-control/internal/domain"
)

const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"
)

// Payload is the retained record stored on each field topic.
type Payload struct {
	Value     domain.State `json:"value"`
	UpdatedAt time.Time    `json:"updated_at"`
	Source    string       `json:"source,omitempty"`
}

func EncodePayload(p Payload) ([]byte, error) {
	return json.Marshal(p)
}

// DecodePayload accepts the JSON record or a bare "on"/"off" written by other
// tools.
func DecodePayload(b []byte) (Payload, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return Payload{}, fmt.Errorf("%w: empty payload", domain.ErrInvalidState)
	}

	if b[0] == '{' {
		var raw struct {
			Value     string    `json:"value"`
			UpdatedAt time.Time `json:"updated_at"`
			Source    string    `json:"source"`
		}
		if err := json.Unmarshal(b, &raw); err != nil {
			return Payload{}, fmt.Errorf("decoding payload: %w", err)
		}
		state, err := domain.ParseState(raw.Value)
		if err != nil {
			return Payload{}, err
		}
		return Payload{Value: state, UpdatedAt: raw.UpdatedAt, Source: raw.Source}, nil
	}

	state, err := domain.ParseState(strings.Trim(string(b), `"`))
	if err != nil {
		return Payload{}, err
	}
	return Payload{Value: state}, nil
}

func FieldTopic(baseTopic string, field domain.DeviceField) string {
	return fmt.Sprintf("%s/%s", baseTopic, field)
}

func BridgeStateTopic(baseTopic string) string {
	return fmt.Sprintf("%s/bridge/state", baseTopic)
}

// ParseFieldTopic extracts the device field from a field topic.
func ParseFieldTopic(baseTopic, topic string) (domain.DeviceField, bool) {
	rest, ok := strings.CutPrefix(topic, baseTopic+"/")
	if !ok || strings.Contains(rest, "/") {
		return "", false
	}
	field := domain.DeviceField(rest)
	return field, field.Valid()
}
