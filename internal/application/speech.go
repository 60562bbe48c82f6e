package application

import (
	"context"
	"fmt"

	"smart-control/internal/domain"
)

type SpeechToText interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// Recognizer runs one single-utterance recognition and returns the final
// transcript. It must return promptly once ctx is canceled.
type Recognizer interface {
	Recognize(ctx context.Context) (string, error)
}

// UnsupportedRecognizer is used when the host has no speech capability; the
// dashboard then falls back to browser-side recognition.
type UnsupportedRecognizer struct{}

func (UnsupportedRecognizer) Recognize(_ context.Context) (string, error) {
	return "", fmt.Errorf("server-side recognition not configured: %w", domain.ErrCaptureUnsupported)
}
