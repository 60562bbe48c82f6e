package domain

import (
	"fmt"
	"strings"
	"time"
)

type DeviceField string

const (
	FieldAlarm      DeviceField = "alarm"
	FieldOverride   DeviceField = "override"
	FieldMovieNight DeviceField = "movie_night"
)

// Fields lists every tracked field in dashboard order.
var Fields = []DeviceField{FieldAlarm, FieldOverride, FieldMovieNight}

type DeviceInfo struct {
	Field       DeviceField
	Title       string
	Description string
}

var deviceInfo = map[DeviceField]DeviceInfo{
	FieldAlarm: {
		Field:       FieldAlarm,
		Title:       "Security Alarm",
		Description: "Enable or disable security system",
	},
	FieldOverride: {
		Field:       FieldOverride,
		Title:       "Override Mode",
		Description: "Toggle emergency override",
	},
	FieldMovieNight: {
		Field:       FieldMovieNight,
		Title:       "Movie Night",
		Description: "Activate cinematic mode",
	},
}

func (f DeviceField) Info() DeviceInfo {
	if info, ok := deviceInfo[f]; ok {
		return info
	}
	return DeviceInfo{Field: f, Title: string(f)}
}

func (f DeviceField) Valid() bool {
	_, ok := deviceInfo[f]
	return ok
}

func ParseField(s string) (DeviceField, error) {
	f := DeviceField(strings.ToLower(strings.TrimSpace(s)))
	if !f.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownField, s)
	}
	return f, nil
}

type State string

const (
	StateOn  State = "on"
	StateOff State = "off"
)

// ParseState accepts "on"/"off" in any case, surrounding space ignored.
func ParseState(s string) (State, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(StateOn):
		return StateOn, nil
	case string(StateOff):
		return StateOff, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidState, s)
	}
}

func (s State) Invert() State {
	if s == StateOn {
		return StateOff
	}
	return StateOn
}

func (s State) On() bool {
	return s == StateOn
}

// Snapshot is the mirrored device state. Missing fields read as off.
type Snapshot map[DeviceField]State

func (s Snapshot) Get(f DeviceField) State {
	if v, ok := s[f]; ok {
		return v
	}
	return StateOff
}

func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Update is one value delivered by a store subscription.
type Update struct {
	Field     DeviceField `json:"field"`
	Value     State       `json:"value"`
	UpdatedAt time.Time   `json:"updated_at"`
	Source    string      `json:"source,omitempty"`
}

const (
	SourceManual = "manual"
	SourceVoice  = "voice"
)
