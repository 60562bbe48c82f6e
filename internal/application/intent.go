package application

import (
	"context"

	"smart-control/internal/domain"
)

// IntentResolver classifies a transcript. It never fails: transport problems
// yield the unknown fallback with Unavailable set.
type IntentResolver interface {
	Resolve(ctx context.Context, text string) domain.IntentResult
}
