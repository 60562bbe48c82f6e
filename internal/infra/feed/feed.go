// Package feed fans store updates out to per-field subscribers and tracks
// the connectivity flag. Store adapters feed it from their own callbacks.
package feed

import (
	"context"
	"sync"

	"smart-control/internal/domain"
)

const bufferSize = 16

type Hub struct {
	mu        sync.Mutex
	last      map[domain.DeviceField]domain.Update
	subs      map[domain.DeviceField]map[int]chan domain.Update
	conns     map[int]chan bool
	connected bool
	nextID    int
}

func NewHub() *Hub {
	return &Hub{
		last:  make(map[domain.DeviceField]domain.Update),
		subs:  make(map[domain.DeviceField]map[int]chan domain.Update),
		conns: make(map[int]chan bool),
	}
}

// Subscribe registers a subscriber that first receives the last known value,
// if any. The channel is closed once ctx is done.
func (h *Hub) Subscribe(ctx context.Context, field domain.DeviceField) <-chan domain.Update {
	ch := make(chan domain.Update, bufferSize)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	if h.subs[field] == nil {
		h.subs[field] = make(map[int]chan domain.Update)
	}
	h.subs[field][id] = ch
	if u, ok := h.last[field]; ok {
		ch <- u
	}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs[field], id)
		close(ch)
		h.mu.Unlock()
	}()

	return ch
}

// Publish records u and delivers it unless the value equals the last one
// seen for the field. Reports whether subscribers were notified.
func (h *Hub) Publish(u domain.Update) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	prev, ok := h.last[u.Field]
	h.last[u.Field] = u
	if ok && prev.Value == u.Value {
		return false
	}

	for _, ch := range h.subs[u.Field] {
		offer(ch, u)
	}
	return true
}

// Last returns the most recent update recorded for field.
func (h *Hub) Last(field domain.DeviceField) (domain.Update, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	u, ok := h.last[field]
	return u, ok
}

func (h *Hub) Connected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connected
}

func (h *Hub) SetConnected(connected bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.connected == connected {
		return
	}
	h.connected = connected
	for _, ch := range h.conns {
		offer(ch, connected)
	}
}

// WatchConnection delivers the current flag immediately, then every change.
func (h *Hub) WatchConnection(ctx context.Context) <-chan bool {
	ch := make(chan bool, bufferSize)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.conns[id] = ch
	ch <- h.connected
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.conns, id)
		close(ch)
		h.mu.Unlock()
	}()

	return ch
}

// offer never blocks: a full buffer loses its oldest entry, since only the
// latest state matters to a slow reader. Callers hold h.mu, so ch has a
// single writer.
func offer[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
