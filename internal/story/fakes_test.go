package story

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"storyteller/internal/ai"
	"storyteller/internal/models"
	"storyteller/internal/paths"
)

type fakeCaptioner struct {
	mu       sync.Mutex
	text     string
	err      error
	calls    int
	mimeType string
}

func (f *fakeCaptioner) Caption(ctx context.Context, model string, image []byte, mimeType string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.mimeType = mimeType
	return f.text, f.err
}

type fakeGenerator struct {
	mu       sync.Mutex
	respond  func(req ai.GenerateRequest) (string, error)
	requests []ai.GenerateRequest
}

func (f *fakeGenerator) Generate(ctx context.Context, req ai.GenerateRequest) (ai.Generation, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	text, err := f.respond(req)
	if err != nil {
		return ai.Generation{}, err
	}
	return ai.Generation{Text: text, Usage: ai.TokenUsage{InputTokens: 10, OutputTokens: 20, TotalTokens: 30}}, nil
}

func (f *fakeGenerator) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type fakeSynthesizer struct {
	mu    sync.Mutex
	audio []byte
	err   error
	calls int
	voice string
}

func (f *fakeSynthesizer) Synthesize(ctx context.Context, model, voice, text string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.voice = voice
	return f.audio, f.err
}

type fakes struct {
	captioner   *fakeCaptioner
	generator   *fakeGenerator
	synthesizer *fakeSynthesizer
	// loadErr makes every load of the given kind fail.
	loadErr map[models.Kind]error
}

func newFakes() *fakes {
	return &fakes{
		captioner: &fakeCaptioner{text: "a person walking on a beach"},
		generator: &fakeGenerator{respond: func(req ai.GenerateRequest) (string, error) {
			return req.Prompt + " Once upon a time, a traveller followed the tide line until the sun went down.", nil
		}},
		synthesizer: &fakeSynthesizer{audio: ai.WrapPCM([]byte{0, 1, 2, 3}, 24000, 1, 16)},
		loadErr:     map[models.Kind]error{},
	}
}

func (f *fakes) cache() *models.Cache {
	spec := func(kind models.Kind, model string, value any) models.Spec {
		return models.Spec{Load: func(ctx context.Context) (models.Handle, error) {
			if err := f.loadErr[kind]; err != nil {
				return models.Handle{}, err
			}
			return models.Handle{Model: model, Value: value}, nil
		}}
	}
	return models.New(map[models.Kind]models.Spec{
		models.KindCaption:  spec(models.KindCaption, "vision-test", f.captioner),
		models.KindGenerate: spec(models.KindGenerate, "text-test", f.generator),
		models.KindSpeech:   spec(models.KindSpeech, "tts-test", f.synthesizer),
	})
}

func (f *fakes) coordinator(t *testing.T, grace time.Duration) (*Coordinator, *paths.Builder) {
	t.Helper()
	tmp := t.TempDir()
	pb := paths.New(filepath.Join(tmp, "uploads"), filepath.Join(tmp, "audio"))
	if err := pb.EnsureDirs(); err != nil {
		t.Fatalf("EnsureDirs: %v", err)
	}
	cache := f.cache()
	c := NewCoordinator(
		NewCaptionEngine(cache, nil),
		NewNarrativeEngine(cache, nil),
		NewSpeechEngine(cache, "alloy", nil),
		pb,
		grace,
	)
	t.Cleanup(c.Shutdown)
	return c, pb
}

func writeUpload(t *testing.T, pb *paths.Builder) string {
	t.Helper()
	p := pb.UploadPath(".png")
	// PNG signature followed by padding.
	img := append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 32)...)
	if err := os.WriteFile(p, img, 0o644); err != nil {
		t.Fatalf("write upload: %v", err)
	}
	return p
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

var errBoom = errors.New("boom")

func waitClosed(t *testing.T, ch <-chan struct{}, within time.Duration, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(within):
		t.Fatalf("%s did not happen within %s", what, within)
	}
}

func describe(err error) string {
	if err == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%T: %v", err, err)
}
