package application

import "context"

// Recorder captures a single utterance and returns it as encoded audio,
// usually WAV.
type Recorder interface {
	Record(ctx context.Context) ([]byte, error)
	Name() string
}
