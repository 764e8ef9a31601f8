package story

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/time/rate"

	"storyteller/internal/ai"
	"storyteller/internal/models"
)

// SpeechEngine wraps the text-to-speech capability.
type SpeechEngine struct {
	models  ModelSource
	limiter *rate.Limiter
	timeout time.Duration
	voice   string
}

// NewSpeechEngine returns a speech engine speaking with voice. limiter may be nil.
func NewSpeechEngine(src ModelSource, voice string, limiter *rate.Limiter) *SpeechEngine {
	return &SpeechEngine{models: src, limiter: limiter, timeout: SpeechTimeout, voice: voice}
}

// Synthesize renders the full text to audio and writes it to outputPath.
// An empty audio payload is a failure: no file is better than an unusable one.
func (e *SpeechEngine) Synthesize(ctx context.Context, text, outputPath string) (string, error) {
	synth, model, err := acquire[ai.Synthesizer](ctx, e.models, models.KindSpeech)
	if err != nil {
		return "", err
	}
	if err := waitTurn(ctx, e.limiter); err != nil {
		return "", &InferenceError{Stage: StageSpeech, Err: err}
	}

	callCtx, cancel := inferenceContext(ctx, e.timeout)
	defer cancel()
	start := time.Now()
	audio, err := synth.Synthesize(callCtx, model, e.voice, text)
	if err != nil {
		return "", &InferenceError{Stage: StageSpeech, Err: err}
	}
	if len(audio) == 0 {
		return "", &InferenceError{Stage: StageSpeech, Err: ErrEmptyAudio}
	}

	if err := writeAudio(outputPath, audio); err != nil {
		return "", &InferenceError{Stage: StageSpeech, Err: err}
	}
	slog.Info("audio written", "path", outputPath, "bytes", len(audio), "elapsed", time.Since(start).String())
	return outputPath, nil
}

func writeAudio(path string, audio []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create audio dir: %w", err)
	}
	if err := os.WriteFile(path, audio, 0o644); err != nil {
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			slog.Warn("failed to remove partial audio file", "path", path, "err", rmErr)
		}
		return fmt.Errorf("write audio: %w", err)
	}
	return nil
}
