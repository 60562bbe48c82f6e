package application

import (
	"context"

	"smart-control/internal/domain"
)

// Notifier delivers notices outside the dashboard, e.g. as push messages.
type Notifier interface {
	Notify(ctx context.Context, notice domain.Notice) error
}

type NoopNotifier struct{}

func (n *NoopNotifier) Notify(_ context.Context, _ domain.Notice) error {
	return nil
}
