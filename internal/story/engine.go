// Package story turns an uploaded photograph into a caption, a short story
// and, on demand, a spoken rendition of that story.
package story

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"storyteller/internal/models"
)

// Per-call inference budgets. A timeout is reported like any other inference failure.
const (
	CaptionTimeout  = 60 * time.Second
	GenerateTimeout = 3 * time.Minute
	SpeechTimeout   = 2 * time.Minute
)

// ModelSource hands out loaded capabilities. *models.Cache satisfies it.
type ModelSource interface {
	Ensure(ctx context.Context, kind models.Kind) (models.Handle, error)
}

// acquire returns the capability of the given kind along with the model name it was loaded for.
func acquire[T any](ctx context.Context, src ModelSource, kind models.Kind) (T, string, error) {
	var zero T
	h, err := src.Ensure(ctx, kind)
	if err != nil {
		return zero, "", &InitializationError{Kind: kind, Err: err}
	}
	capability, err := models.As[T](h)
	if err != nil {
		return zero, "", &InitializationError{Kind: kind, Err: err}
	}
	return capability, h.Model, nil
}

// inferenceContext bounds a single capability call. Once issued, a call runs
// until it settles or times out; caller cancellation does not interrupt it.
func inferenceContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}

func waitTurn(ctx context.Context, limiter *rate.Limiter) error {
	if limiter == nil {
		return nil
	}
	return limiter.Wait(ctx)
}
