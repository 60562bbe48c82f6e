// Package memstore is an in-process device state store. It backs
// single-process runs and tests with the same semantics as the MQTT store.
package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"smart-control/internal/domain"
	"smart-control/internal/infra/feed"
)

type Store struct {
	hub *feed.Hub

	mu       sync.Mutex
	writeErr error
	writes   int
	now      func() time.Time
}

func New() *Store {
	s := &Store{
		hub: feed.NewHub(),
		now: time.Now,
	}
	s.hub.SetConnected(true)
	return s
}

func (s *Store) Subscribe(ctx context.Context, field domain.DeviceField) (<-chan domain.Update, error) {
	if !field.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownField, field)
	}
	return s.hub.Subscribe(ctx, field), nil
}

func (s *Store) Write(ctx context.Context, field domain.DeviceField, value domain.State, source string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !field.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrUnknownField, field)
	}
	if !s.hub.Connected() {
		return domain.ErrStoreDisconnected
	}

	s.mu.Lock()
	writeErr := s.writeErr
	s.writes++
	now := s.now()
	s.mu.Unlock()

	if writeErr != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreWrite, writeErr)
	}

	s.hub.Publish(domain.Update{
		Field:     field,
		Value:     value,
		UpdatedAt: now,
		Source:    source,
	})
	return nil
}

func (s *Store) Connected() bool {
	return s.hub.Connected()
}

func (s *Store) WatchConnection(ctx context.Context) <-chan bool {
	return s.hub.WatchConnection(ctx)
}

// SetConnected simulates the backing service going away or coming back.
func (s *Store) SetConnected(connected bool) {
	s.hub.SetConnected(connected)
}

// FailWrites makes subsequent writes fail with err; nil restores writes.
func (s *Store) FailWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeErr = err
}

// Writes reports how many write calls reached the store.
func (s *Store) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// Value returns the stored value for field, if any.
func (s *Store) Value(field domain.DeviceField) (domain.State, bool) {
	u, ok := s.hub.Last(field)
	return u.Value, ok
}
