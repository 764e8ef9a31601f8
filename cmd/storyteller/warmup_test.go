package main

import (
	"errors"
	"strings"
	"testing"

	"storyteller/internal/models"
)

func TestWarmupReportsEveryKind(t *testing.T) {
	env := setupTest(t)
	if code := run([]string{"warmup"}); code != 0 {
		t.Fatalf("warmup returned non-zero: %d", code)
	}
	want := "caption: ready\ngenerate: ready\nspeech: ready\n"
	if env.out.String() != want {
		t.Fatalf("output = %q, want %q", env.out.String(), want)
	}
}

func TestWarmupReportsFailure(t *testing.T) {
	env := setupTest(t)
	env.loadErr[models.KindSpeech] = errors.New("voice not found")

	if code := run([]string{"warmup"}); code == 0 {
		t.Fatalf("expected non-zero when a load fails")
	}
	out := env.out.String()
	if !strings.Contains(out, "speech: failed") || !strings.Contains(out, "voice not found") {
		t.Fatalf("failure not reported: %q", out)
	}
}

func TestWarmupSelectedKinds(t *testing.T) {
	env := setupTest(t)
	if code := run([]string{"warmup", "--kinds", "caption"}); code != 0 {
		t.Fatalf("warmup returned non-zero: %d", code)
	}
	if !strings.Contains(env.out.String(), "caption: ready") || !strings.Contains(env.out.String(), "speech: uninitialized") {
		t.Fatalf("unexpected states: %q", env.out.String())
	}
}

func TestParseKindsRejectsUnknown(t *testing.T) {
	if _, err := parseKinds("caption,vision"); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}
