package application

import (
	"context"

	"smart-control/internal/domain"
)

// StateStore is the shared realtime store holding the device fields.
type StateStore interface {
	// Subscribe delivers the current value (if any) right away, then every
	// change. The channel is closed when ctx ends.
	Subscribe(ctx context.Context, field domain.DeviceField) (<-chan domain.Update, error)
	Write(ctx context.Context, field domain.DeviceField, value domain.State, source string) error
	Connected() bool
	WatchConnection(ctx context.Context) <-chan bool
}
