package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"storyteller/internal/ai"
	cfgpkg "storyteller/internal/config"
	"storyteller/internal/models"
	"storyteller/internal/server"
)

type fakeCaptioner struct{ text string }

func (f *fakeCaptioner) Caption(ctx context.Context, model string, image []byte, mimeType string) (string, error) {
	return f.text, nil
}

type fakeGenerator struct {
	mu       sync.Mutex
	text     string
	requests []ai.GenerateRequest
}

func (f *fakeGenerator) Generate(ctx context.Context, req ai.GenerateRequest) (ai.Generation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return ai.Generation{Text: req.Prompt + " " + f.text}, nil
}

type fakeSynthesizer struct {
	calls int
	voice string
}

func (f *fakeSynthesizer) Synthesize(ctx context.Context, model, voice, text string) ([]byte, error) {
	f.calls++
	f.voice = voice
	return ai.WrapPCM([]byte{0, 0, 1, 1}, 24000, 1, 16), nil
}

type fakePublisher struct {
	published []string
}

func (f *fakePublisher) PublishAudio(ctx context.Context, localPath string, createdAt time.Time) (string, error) {
	f.published = append(f.published, localPath)
	return "s3://bucket/storyteller/" + filepath.Base(localPath), nil
}

func (f *fakePublisher) DeleteURL(ctx context.Context, objectURL string) (bool, error) {
	return true, nil
}

type testEnv struct {
	dir         string
	out         *bytes.Buffer
	captioner   *fakeCaptioner
	generator   *fakeGenerator
	synthesizer *fakeSynthesizer
	publisher   *fakePublisher
	loadErr     map[models.Kind]error
	cfg         cfgpkg.Config
}

// setupTest runs the command in a temp dir with fake model backends and
// captures stdout.
func setupTest(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		dir:         t.TempDir(),
		out:         &bytes.Buffer{},
		captioner:   &fakeCaptioner{text: "a person walking on a beach"},
		generator:   &fakeGenerator{text: "The tide carried her footprints away as the sun went down."},
		synthesizer: &fakeSynthesizer{},
		publisher:   &fakePublisher{},
		loadErr:     map[models.Kind]error{},
	}

	origCaps, origPub, origOut := newCapabilities, newPublisher, stdout
	t.Cleanup(func() {
		newCapabilities, newPublisher, stdout = origCaps, origPub, origOut
	})
	stdout = env.out
	newCapabilities = func(cfg cfgpkg.Config) map[models.Kind]models.Spec {
		env.cfg = cfg
		spec := func(kind models.Kind, model string, value any) models.Spec {
			return models.Spec{Load: func(ctx context.Context) (models.Handle, error) {
				if err := env.loadErr[kind]; err != nil {
					return models.Handle{}, err
				}
				return models.Handle{Model: model, Value: value}, nil
			}}
		}
		return map[models.Kind]models.Spec{
			models.KindCaption:  spec(models.KindCaption, cfg.CaptionModel, ai.Captioner(env.captioner)),
			models.KindGenerate: spec(models.KindGenerate, cfg.TextModel, ai.Generator(env.generator)),
			models.KindSpeech:   spec(models.KindSpeech, cfg.TTSModel, ai.Synthesizer(env.synthesizer)),
		}
	}
	newPublisher = func(ctx context.Context, bucket, prefix, region string) (server.Publisher, error) {
		if bucket == "" {
			return nil, errors.New("no bucket")
		}
		return env.publisher, nil
	}

	origWD, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(env.dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(origWD) })

	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("AWS_S3_BUCKET", "")
	return env
}

// writeImage writes a tiny file that sniffs as PNG.
func writeImage(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "photo.png")
	data := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write image: %v", err)
	}
	return path
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil && !os.IsNotExist(err) {
		t.Fatalf("read dir %s: %v", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}
