package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	cfgpkg "storyteller/internal/config"
	"storyteller/internal/story"
)

// stdout is where subcommands print their result.
var stdout io.Writer = os.Stdout

// storyteller story
func cmdStory(args []string) error {
	var cf commonFlags
	var image string
	var deterministic bool
	var seed int64
	var captionModel, textModel stringFlag
	var retries intFlag
	fs := flag.NewFlagSet("story", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	addCommonFlags(fs, &cf)
	fs.StringVar(&image, "image", "", "Path to a JPEG, PNG or WebP image")
	fs.BoolVar(&deterministic, "deterministic", false, "Disable sampling for reproducible output")
	fs.Int64Var(&seed, "seed", 42, "Seed used with --deterministic")
	fs.Var(&captionModel, "caption-model", "Captioning model")
	fs.Var(&textModel, "text-model", "Story generation model")
	fs.Var(&retries, "retries", "Regenerate degenerate stories this many times")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}
	setupLogger(cf.logLevel)
	if strings.TrimSpace(image) == "" {
		return errors.New("--image is required")
	}
	cfg, err := loadConfig(cf, cfgpkg.Overrides{
		CaptionModel: captionModel.ptr(),
		TextModel:    textModel.ptr(),
		StoryRetries: retries.ptr(),
	})
	if err != nil {
		return err
	}
	if err := cfgpkg.ValidateForStory(cfg); err != nil {
		return err
	}

	var opts pipelineOptions
	if deterministic {
		s := story.DeterministicSampling(seed)
		opts.sampling = &s
	}
	p, err := newPipeline(cfg, opts)
	if err != nil {
		return err
	}
	defer p.coordinator.Shutdown()

	// The pipeline deletes its input, so hand it a copy.
	upload, err := copyFile(image, p.paths.UploadPath(strings.ToLower(filepath.Ext(image))))
	if err != nil {
		return err
	}
	res, err := p.coordinator.GenerateStoryFromImage(context.Background(), upload)
	if err != nil {
		return err
	}
	slog.Info("story generated", "image", image, "caption", res.Caption, "words", len(strings.Fields(res.Story)))
	return printJSON(res)
}

func copyFile(src, dst string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		_ = os.Remove(dst)
		return "", fmt.Errorf("copy image: %w", err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dst)
		return "", err
	}
	return dst, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
