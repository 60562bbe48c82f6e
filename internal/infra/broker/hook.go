package broker

import (
	"bytes"
	"log/slog"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/packets"

	"smart-control/internal/infra/mqttstore"
)

// StateGuardHook drops publishes to field topics whose payload is not a valid
// state, so a misbehaving client cannot poison the retained store.
type StateGuardHook struct {
	mochi.HookBase
	baseTopic string
	logger    *slog.Logger
}

func (h *StateGuardHook) ID() string {
	return "state-guard"
}

func (h *StateGuardHook) Provides(b byte) bool {
	return bytes.Contains([]byte{mochi.OnPublish}, []byte{b})
}

// OnPublish is called when a client publishes a message.
func (h *StateGuardHook) OnPublish(cl *mochi.Client, pk packets.Packet) (packets.Packet, error) {
	if _, ok := mqttstore.ParseFieldTopic(h.baseTopic, pk.TopicName); !ok {
		return pk, nil
	}
	// empty retained payloads clear the topic
	if len(pk.Payload) == 0 {
		return pk, nil
	}
	if _, err := mqttstore.DecodePayload(pk.Payload); err != nil {
		h.logger.Warn("rejecting invalid state publish", "client", cl.ID, "topic", pk.TopicName, "error", err)
		return pk, packets.ErrRejectPacket
	}
	return pk, nil
}
