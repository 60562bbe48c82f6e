package broker

import (
	"io"
	"log/slog"
	"testing"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/packets"
	"github.com/stretchr/testify/assert"
)

func newHook() *StateGuardHook {
	return &StateGuardHook{
		baseTopic: "home",
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestStateGuardHook_Provides(t *testing.T) {
	h := newHook()
	assert.True(t, h.Provides(mochi.OnPublish))
	assert.False(t, h.Provides(mochi.OnConnect))
}

func TestStateGuardHook_OnPublish(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		payload string
		reject  bool
	}{
		{"json state", "home/alarm", `{"value":"on","updated_at":"2024-01-01T00:00:00Z"}`, false},
		{"bare state", "home/override", "OFF", false},
		{"cleared retained", "home/alarm", "", false},
		{"garbage on field", "home/movie_night", "maybe", true},
		{"bad json value", "home/alarm", `{"value":"dim"}`, true},
		{"bridge state", "home/bridge/state", "online", false},
		{"unknown field", "home/garage", "anything", false},
		{"other tree", "elsewhere/alarm", "anything", false},
	}

	h := newHook()
	cl := &mochi.Client{ID: "test"}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pk := packets.Packet{TopicName: tt.topic, Payload: []byte(tt.payload)}
			_, err := h.OnPublish(cl, pk)
			if tt.reject {
				assert.ErrorIs(t, err, packets.ErrRejectPacket)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLedger(t *testing.T) {
	l := ledger([]User{{Username: "panel", Password: "secret"}})

	assert.Len(t, l.Auth, 3)
	assert.Equal(t, auth.RString("panel"), l.Auth[2].Username)
	last := l.ACL[len(l.ACL)-1]
	assert.Empty(t, last.Username)
}
