package story

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"storyteller/internal/metrics"
	"storyteller/internal/paths"
)

// DefaultAudioGrace is how long a generated audio file outlives the request
// that produced it, leaving the client time to fetch it.
const DefaultAudioGrace = 60 * time.Second

// StoryResult is the outcome of the image pipeline.
type StoryResult struct {
	Caption string `json:"caption"`
	Story   string `json:"story"`
}

// ImageCaptioner describes an image file. *CaptionEngine satisfies it.
type ImageCaptioner interface {
	Caption(ctx context.Context, imagePath string) (CaptionResult, error)
}

// Narrator turns a caption into a story. *NarrativeEngine satisfies it.
type Narrator interface {
	Narrate(ctx context.Context, caption string) (string, error)
}

// Speaker writes spoken text to a file. *SpeechEngine satisfies it.
type Speaker interface {
	Synthesize(ctx context.Context, text, outputPath string) (string, error)
}

// Coordinator runs the two pipelines and owns the transient files they touch.
type Coordinator struct {
	captions ImageCaptioner
	narrator Narrator
	speech   Speaker
	paths    *paths.Builder
	grace    time.Duration

	mu      sync.Mutex
	pending map[*AudioArtifact]struct{}
}

// NewCoordinator wires the engines together. A non-positive grace uses DefaultAudioGrace.
func NewCoordinator(captions ImageCaptioner, narrator Narrator, speech Speaker, pb *paths.Builder, grace time.Duration) *Coordinator {
	if grace <= 0 {
		grace = DefaultAudioGrace
	}
	if pb == nil {
		pb = paths.New("", "")
	}
	return &Coordinator{
		captions: captions,
		narrator: narrator,
		speech:   speech,
		paths:    pb,
		grace:    grace,
		pending:  make(map[*AudioArtifact]struct{}),
	}
}

// GenerateStoryFromImage captions the image and writes a story about it.
// The image at imagePath is deleted exactly once, whether or not the pipeline succeeds.
// Every failure is a *PipelineError; an empty path wraps a *ValidationError.
func (c *Coordinator) GenerateStoryFromImage(ctx context.Context, imagePath string) (StoryResult, error) {
	if strings.TrimSpace(imagePath) == "" {
		return StoryResult{}, &PipelineError{
			Stage: StageCaption,
			Err:   &ValidationError{Field: "imagePath", Reason: "must not be empty"},
		}
	}
	removeUpload := sync.OnceFunc(func() { deleteUpload(imagePath) })
	defer removeUpload()

	start := time.Now()
	caption, err := c.captions.Caption(ctx, imagePath)
	observeStage(StageCaption, start, err)
	// The image is not needed past this point.
	removeUpload()
	if err != nil {
		return StoryResult{}, c.fail(StageCaption, err)
	}

	start = time.Now()
	text, err := c.narrator.Narrate(ctx, caption.Text)
	observeStage(StageNarrate, start, err)
	if err != nil {
		return StoryResult{}, c.fail(StageNarrate, err)
	}
	return StoryResult{Caption: caption.Text, Story: text}, nil
}

// GenerateAudioFromText speaks text into a freshly named file. The returned
// artifact deletes itself after the coordinator's grace period unless kept.
func (c *Coordinator) GenerateAudioFromText(ctx context.Context, text string) (*AudioArtifact, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &ValidationError{Field: "storyText", Reason: "must not be empty"}
	}

	start := time.Now()
	path, err := c.speech.Synthesize(ctx, text, c.paths.AudioPath())
	observeStage(StageSpeech, start, err)
	if err != nil {
		return nil, c.fail(StageSpeech, err)
	}

	artifact := newAudioArtifact(text, path, time.Now(), c.release)
	c.mu.Lock()
	c.pending[artifact] = struct{}{}
	c.mu.Unlock()
	metrics.ArtifactsPending.Inc()
	artifact.scheduleExpiry(c.grace)
	slog.Info("audio artifact created", "path", path, "grace", c.grace.String())
	return artifact, nil
}

// Shutdown deletes every artifact whose timer has not fired yet.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	pending := make([]*AudioArtifact, 0, len(c.pending))
	for a := range c.pending {
		pending = append(pending, a)
	}
	c.mu.Unlock()

	for _, a := range pending {
		a.Expire()
	}
	if len(pending) > 0 {
		slog.Info("reclaimed pending audio artifacts", "count", len(pending))
	}
}

// Pending reports how many artifacts are awaiting deletion.
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Coordinator) release(a *AudioArtifact) {
	c.mu.Lock()
	_, ok := c.pending[a]
	delete(c.pending, a)
	c.mu.Unlock()
	if ok {
		metrics.ArtifactsPending.Dec()
	}
}

func (c *Coordinator) fail(stage Stage, err error) error {
	if IsValidation(err) {
		return err
	}
	slog.Error("pipeline stage failed", "stage", stage, "err", err)
	return &PipelineError{Stage: stage, Err: err}
}

func deleteUpload(path string) {
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return
		}
		metrics.FileDeleteFailures.WithLabelValues("upload").Inc()
		slog.Warn("failed to delete uploaded image", "path", path, "err", err)
		return
	}
	slog.Debug("uploaded image deleted", "path", path)
}

func observeStage(stage Stage, start time.Time, err error) {
	metrics.StageDuration.WithLabelValues(string(stage), metrics.Outcome(err)).Observe(time.Since(start).Seconds())
}
