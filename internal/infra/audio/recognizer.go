package audio

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"smart-control/internal/application"
	"smart-control/internal/domain"
)

// Recognizer records one utterance and sends it to a speech-to-text
// service.
type Recognizer struct {
	recorder         application.Recorder
	stt              application.SpeechToText
	silenceThreshold int
	logger           *slog.Logger
}

func NewRecognizer(recorder application.Recorder, stt application.SpeechToText, logger *slog.Logger) *Recognizer {
	return &Recognizer{
		recorder:         recorder,
		stt:              stt,
		silenceThreshold: DefaultSilenceThreshold,
		logger:           logger,
	}
}

func (r *Recognizer) Recognize(ctx context.Context) (string, error) {
	data, err := r.recorder.Record(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("recording from %s: %w", r.recorder.Name(), err)
	}
	if len(data) == 0 {
		return "", domain.ErrNoSpeech
	}

	format := DetectFormat(data)
	switch format {
	case FormatUnknown:
		return "", fmt.Errorf("recording from %s: %w", r.recorder.Name(), ErrUnsupportedFormat)
	case FormatWAV:
		// compressed formats cannot be checked locally and go straight to
		// the transcriber
		if pcm, err := DecodeWAV(data); err == nil && IsSilent(pcm, r.silenceThreshold) {
			r.logger.Debug("recording is silent", "source", r.recorder.Name(), "bytes", len(data))
			return "", domain.ErrNoSpeech
		}
	}
	r.logger.Debug("recording captured", "source", r.recorder.Name(), "format", format, "bytes", len(data))

	text, err := r.stt.Transcribe(ctx, data)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("transcribing: %w", err)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", domain.ErrNoSpeech
	}
	r.logger.Info("speech recognized", "source", r.recorder.Name(), "text", text)
	return text, nil
}
