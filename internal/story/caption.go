package story

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"storyteller/internal/ai"
	"storyteller/internal/models"
)

// CaptionFallback stands in for an empty caption so the pipeline can proceed.
const CaptionFallback = "No caption generated."

// CaptionResult is the description produced for one image.
type CaptionResult struct {
	Text string
}

// CaptionEngine wraps the image-to-text capability.
type CaptionEngine struct {
	models  ModelSource
	limiter *rate.Limiter
	timeout time.Duration
}

// NewCaptionEngine returns a caption engine. limiter may be nil.
func NewCaptionEngine(src ModelSource, limiter *rate.Limiter) *CaptionEngine {
	return &CaptionEngine{models: src, limiter: limiter, timeout: CaptionTimeout}
}

// Caption describes the image at imagePath. Captioning is best-effort: an
// empty model result becomes CaptionFallback rather than an error.
func (e *CaptionEngine) Caption(ctx context.Context, imagePath string) (CaptionResult, error) {
	captioner, model, err := acquire[ai.Captioner](ctx, e.models, models.KindCaption)
	if err != nil {
		return CaptionResult{}, err
	}

	image, err := os.ReadFile(imagePath)
	if err != nil {
		return CaptionResult{}, &InferenceError{Stage: StageCaption, Err: fmt.Errorf("read image: %w", err)}
	}
	if err := waitTurn(ctx, e.limiter); err != nil {
		return CaptionResult{}, &InferenceError{Stage: StageCaption, Err: err}
	}

	callCtx, cancel := inferenceContext(ctx, e.timeout)
	defer cancel()
	start := time.Now()
	text, err := captioner.Caption(callCtx, model, image, http.DetectContentType(image))
	if err != nil {
		return CaptionResult{}, &InferenceError{Stage: StageCaption, Err: err}
	}

	text = strings.TrimSpace(text)
	if text == "" {
		slog.Warn("caption model returned no text, using fallback", "path", imagePath)
		text = CaptionFallback
	}
	slog.Info("caption generated", "caption", text, "elapsed", time.Since(start).String())
	return CaptionResult{Text: text}, nil
}
