package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	cfgpkg "storyteller/internal/config"
	"storyteller/internal/models"
)

// storyteller warmup
func cmdWarmup(args []string) error {
	var cf commonFlags
	var kinds string
	fs := flag.NewFlagSet("warmup", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	addCommonFlags(fs, &cf)
	fs.StringVar(&kinds, "kinds", "", "Comma-separated kinds to load: caption, generate, speech (default all)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}
	setupLogger(cf.logLevel)
	cfg, err := loadConfig(cf, cfgpkg.Overrides{})
	if err != nil {
		return err
	}

	selected, err := parseKinds(kinds)
	if err != nil {
		return err
	}
	for _, k := range selected {
		if err := validateKind(cfg, k); err != nil {
			return err
		}
	}

	p, err := newPipeline(cfg, pipelineOptions{})
	if err != nil {
		return err
	}
	defer p.coordinator.Shutdown()

	werr := p.cache.Warmup(context.Background(), selected...)
	for _, line := range reportStates(p.cache) {
		fmt.Fprintln(stdout, line)
	}
	return werr
}

func parseKinds(s string) ([]models.Kind, error) {
	if strings.TrimSpace(s) == "" {
		return []models.Kind{models.KindCaption, models.KindGenerate, models.KindSpeech}, nil
	}
	var kinds []models.Kind
	for _, part := range strings.Split(s, ",") {
		k := models.Kind(strings.TrimSpace(part))
		switch k {
		case models.KindCaption, models.KindGenerate, models.KindSpeech:
			kinds = append(kinds, k)
		default:
			return nil, fmt.Errorf("unknown model kind %q", part)
		}
	}
	return kinds, nil
}

func validateKind(cfg cfgpkg.Config, kind models.Kind) error {
	switch kind {
	case models.KindSpeech:
		return cfgpkg.ValidateForAudio(cfg)
	default:
		return cfgpkg.ValidateForStory(cfg)
	}
}
