//go:build !portaudio
// +build !portaudio

package audio

import (
	"context"
	"fmt"
	"log/slog"

	"smart-control/internal/domain"
)

// Microphone stub when portaudio is not available
type Microphone struct {
	logger *slog.Logger
}

func NewMicrophone(sampleRate int, logger *slog.Logger) *Microphone {
	return &Microphone{logger: logger}
}

func (m *Microphone) Name() string {
	return "microphone"
}

func (m *Microphone) Record(_ context.Context) ([]byte, error) {
	return nil, fmt.Errorf("microphone not available, rebuild with -tags portaudio: %w", domain.ErrCaptureUnsupported)
}
