package audio

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrUploadBusy   = errors.New("an upload is already waiting")
	ErrNotListening = errors.New("no capture session is listening")
)

// UploadRecorder receives recordings pushed by the dashboard, for browsers
// that can record audio but have no speech recognition of their own.
// Uploads are only accepted while a session waits in Record.
type UploadRecorder struct {
	mu      sync.Mutex
	waiting chan []byte
}

func NewUploadRecorder() *UploadRecorder {
	return &UploadRecorder{}
}

func (u *UploadRecorder) Name() string {
	return "upload"
}

func (u *UploadRecorder) Record(ctx context.Context) ([]byte, error) {
	slot := make(chan []byte, 1)

	u.mu.Lock()
	u.waiting = slot
	u.mu.Unlock()

	defer func() {
		u.mu.Lock()
		if u.waiting == slot {
			u.waiting = nil
		}
		u.mu.Unlock()
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case data := <-slot:
		return data, nil
	}
}

// Listening reports whether a session is waiting for an upload.
func (u *UploadRecorder) Listening() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.waiting != nil
}

// Submit hands a recording to the session waiting in Record.
func (u *UploadRecorder) Submit(data []byte) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.waiting == nil {
		return ErrNotListening
	}
	select {
	case u.waiting <- data:
		return nil
	default:
		return ErrUploadBusy
	}
}
