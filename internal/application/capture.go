package application

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"smart-control/internal/domain"
)

type CaptureStatus string

const (
	CaptureTranscriptReady CaptureStatus = "transcript_ready"
	CaptureFailed          CaptureStatus = "error"
	CaptureEnded           CaptureStatus = "ended"
)

// CaptureResult is the single result of one capture session.
type CaptureResult struct {
	Status     CaptureStatus           `json:"status"`
	Transcript string                  `json:"transcript,omitempty"`
	ErrorKind  domain.CaptureErrorKind `json:"error_kind,omitempty"`
	Err        error                   `json:"-"`
}

type captureSession struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Capture serializes recognition sessions over a Recognizer. Starting a
// session while one is active aborts the old one first.
type Capture struct {
	recognizer Recognizer
	logger     *slog.Logger
	onListen   func(bool)

	mu        sync.Mutex
	active    *captureSession
	listening bool
}

func NewCapture(recognizer Recognizer, logger *slog.Logger) *Capture {
	return &Capture{
		recognizer: recognizer,
		logger:     logger,
	}
}

// OnListeningChange registers a callback fired whenever the listening flag
// flips. It is called with the capture lock released.
func (c *Capture) OnListeningChange(fn func(bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onListen = fn
}

func (c *Capture) Listening() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listening
}

// Start runs one session and blocks until it yields a result.
func (c *Capture) Start(ctx context.Context) CaptureResult {
	if c.recognizer == nil {
		return CaptureResult{
			Status:    CaptureFailed,
			ErrorKind: domain.CaptureUnsupported,
			Err:       domain.ErrCaptureUnsupported,
		}
	}

	c.mu.Lock()
	for c.active != nil {
		prev := c.active
		prev.cancel()
		c.mu.Unlock()
		c.logger.Debug("aborting previous capture session")
		<-prev.done
		c.mu.Lock()
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	session := &captureSession{cancel: cancel, done: make(chan struct{})}
	c.active = session
	c.listening = true
	notify := c.onListen
	c.mu.Unlock()

	if notify != nil {
		notify(true)
	}

	text, err := c.recognizer.Recognize(sessionCtx)
	aborted := sessionCtx.Err() != nil
	cancel()

	c.mu.Lock()
	if c.active == session {
		c.active = nil
		c.listening = false
	}
	notify = c.onListen
	c.mu.Unlock()

	// flag observers must see false before a waiting session flips it back
	if notify != nil {
		notify(false)
	}
	close(session.done)

	return c.result(text, err, aborted)
}

// Stop ends the active session, if any. The session reports CaptureEnded.
func (c *Capture) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil {
		c.active.cancel()
	}
}

func (c *Capture) result(text string, err error, aborted bool) CaptureResult {
	if err != nil {
		if aborted || errors.Is(err, context.Canceled) {
			return CaptureResult{Status: CaptureEnded}
		}
		kind := domain.ClassifyCaptureError(err)
		c.logger.Warn("capture failed", "kind", kind, "error", err)
		return CaptureResult{Status: CaptureFailed, ErrorKind: kind, Err: err}
	}

	text = strings.TrimSpace(text)
	if text == "" {
		if aborted {
			return CaptureResult{Status: CaptureEnded}
		}
		return CaptureResult{Status: CaptureFailed, ErrorKind: domain.CaptureNoSpeech, Err: domain.ErrNoSpeech}
	}

	return CaptureResult{Status: CaptureTranscriptReady, Transcript: text}
}
