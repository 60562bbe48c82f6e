//go:build portaudio
// +build portaudio

package audio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"

	"smart-control/internal/domain"
)

const framesPerBuffer = 1024

// Microphone records from the default input device until the speaker pauses.
type Microphone struct {
	sampleRate int
	logger     *slog.Logger

	// portaudio allows one open default stream per process here
	mu sync.Mutex
}

func NewMicrophone(sampleRate int, logger *slog.Logger) *Microphone {
	return &Microphone{
		sampleRate: sampleRate,
		logger:     logger,
	}
}

func (m *Microphone) Name() string {
	return "microphone"
}

func (m *Microphone) Record(ctx context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initializing portaudio (%v): %w", err, domain.ErrCaptureUnsupported)
	}
	defer portaudio.Terminate()

	buffer := make([]int16, framesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(m.sampleRate), framesPerBuffer, buffer)
	if err != nil {
		return nil, fmt.Errorf("opening input stream (%v): %w", err, domain.ErrPermissionDenied)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return nil, fmt.Errorf("starting input stream (%v): %w", err, domain.ErrPermissionDenied)
	}
	defer stream.Stop()

	m.logger.Info("microphone listening", "sampleRate", m.sampleRate)

	samples := make([]int, 0, m.sampleRate*5)
	silenceDuration := 0
	heardSpeech := false
	maxSilence := m.sampleRate
	maxSamples := m.sampleRate * 10

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		// Read fills the buffer the stream was opened with.
		if err := stream.Read(); err != nil {
			return nil, fmt.Errorf("reading from stream: %w", err)
		}

		silent := true
		for _, s := range buffer {
			samples = append(samples, int(s))
			if s > DefaultSilenceThreshold || s < -DefaultSilenceThreshold {
				silent = false
			}
		}

		if silent {
			silenceDuration += len(buffer)
		} else {
			silenceDuration = 0
			heardSpeech = true
		}

		if heardSpeech && silenceDuration > maxSilence {
			break
		}
		if !heardSpeech && len(samples) > maxSamples/2 {
			return nil, domain.ErrNoSpeech
		}
		if len(samples) > maxSamples {
			break
		}
	}

	return EncodeWAV(samples, m.sampleRate)
}
