package main

import (
	"encoding/json"
	"os"
	"testing"

	"storyteller/internal/story"
)

func TestStoryPrintsCaptionAndStory(t *testing.T) {
	env := setupTest(t)
	image := writeImage(t, env.dir)

	if code := run([]string{"story", "--image", image}); code != 0 {
		t.Fatalf("story returned non-zero: %d", code)
	}

	var res story.StoryResult
	if err := json.Unmarshal(env.out.Bytes(), &res); err != nil {
		t.Fatalf("decode output %q: %v", env.out.String(), err)
	}
	if res.Caption != "a person walking on a beach" {
		t.Fatalf("caption = %q", res.Caption)
	}
	if res.Story != env.generator.text {
		t.Fatalf("story was not cleaned: %q", res.Story)
	}
	if _, err := os.Stat(image); err != nil {
		t.Fatalf("source image must survive: %v", err)
	}
	if left := listDir(t, env.cfg.UploadDir); len(left) != 0 {
		t.Fatalf("upload copies left behind: %v", left)
	}
}

func TestStoryDeterministicPinsSampling(t *testing.T) {
	env := setupTest(t)
	image := writeImage(t, env.dir)

	if code := run([]string{"story", "--image", image, "--deterministic", "--seed", "7"}); code != 0 {
		t.Fatalf("story returned non-zero: %d", code)
	}
	if len(env.generator.requests) != 1 {
		t.Fatalf("expected one generation, got %d", len(env.generator.requests))
	}
	req := env.generator.requests[0]
	if req.Temperature != 0 || req.Seed == nil || *req.Seed != 7 {
		t.Fatalf("sampling not pinned: temperature=%v seed=%v", req.Temperature, req.Seed)
	}
}

func TestStoryRequiresImage(t *testing.T) {
	setupTest(t)
	if code := run([]string{"story"}); code == 0 {
		t.Fatalf("expected non-zero without --image")
	}
}

func TestStoryRequiresAPIKey(t *testing.T) {
	env := setupTest(t)
	t.Setenv("OPENAI_API_KEY", "")
	image := writeImage(t, env.dir)
	if code := run([]string{"story", "--image", image}); code == 0 {
		t.Fatalf("expected non-zero without an API key")
	}
}
