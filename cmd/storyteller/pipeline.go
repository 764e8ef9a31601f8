package main

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"storyteller/internal/ai"
	cfgpkg "storyteller/internal/config"
	"storyteller/internal/models"
	"storyteller/internal/paths"
	"storyteller/internal/server"
	"storyteller/internal/storage"
	"storyteller/internal/story"
)

// newCapabilities returns the loaders for the three inference capabilities.
// Loading verifies that the configured model or voice is actually served.
var newCapabilities = func(cfg cfgpkg.Config) map[models.Kind]models.Spec {
	openAILoader := func(model string, wrap func(*ai.Client) any) models.Loader {
		return func(ctx context.Context) (models.Handle, error) {
			client, err := ai.New(cfg.OpenAIAPIKey, cfg.BaseURL)
			if err != nil {
				return models.Handle{}, err
			}
			if err := client.VerifyModel(ctx, model); err != nil {
				return models.Handle{}, err
			}
			return models.Handle{Model: model, Value: wrap(client)}, nil
		}
	}

	speech := openAILoader(cfg.TTSModel, func(c *ai.Client) any { return ai.Synthesizer(c) })
	if cfg.Provider() == cfgpkg.ProviderElevenLabs {
		speech = func(ctx context.Context) (models.Handle, error) {
			client, err := ai.NewElevenLabs(cfg.ElevenLabsAPIKey)
			if err != nil {
				return models.Handle{}, err
			}
			if err := client.VerifyVoice(ctx, cfg.Voice); err != nil {
				return models.Handle{}, err
			}
			return models.Handle{Model: cfg.TTSModel, Value: ai.Synthesizer(client)}, nil
		}
	}

	return map[models.Kind]models.Spec{
		models.KindCaption: {
			Load:    openAILoader(cfg.CaptionModel, func(c *ai.Client) any { return ai.Captioner(c) }),
			Timeout: models.DefaultCaptionLoadTimeout,
		},
		models.KindGenerate: {
			Load:    openAILoader(cfg.TextModel, func(c *ai.Client) any { return ai.Generator(c) }),
			Timeout: models.DefaultGenerateLoadTimeout,
		},
		models.KindSpeech: {
			Load:    speech,
			Timeout: models.DefaultSpeechLoadTimeout,
		},
	}
}

var newPublisher = func(ctx context.Context, bucket, prefix, region string) (server.Publisher, error) {
	return storage.New(ctx, bucket, prefix, region)
}

type pipeline struct {
	cache       *models.Cache
	coordinator *story.Coordinator
	paths       *paths.Builder
}

type pipelineOptions struct {
	sampling *story.Sampling
}

func newPipeline(cfg cfgpkg.Config, opts pipelineOptions) (*pipeline, error) {
	pb := paths.New(cfg.UploadDir, cfg.AudioDir)
	if err := pb.EnsureDirs(); err != nil {
		return nil, err
	}
	cache := models.New(newCapabilities(cfg))
	limiter := newLimiter(cfg.RateLimitPerMinute)

	narrator := story.NewNarrativeEngine(cache, limiter)
	if opts.sampling != nil {
		narrator = narrator.WithSampling(*opts.sampling)
	}
	narrator.Retries = cfg.StoryRetries

	coord := story.NewCoordinator(
		story.NewCaptionEngine(cache, limiter),
		narrator,
		story.NewSpeechEngine(cache, cfg.Voice, limiter),
		pb,
		cfg.AudioGrace(),
	)
	return &pipeline{cache: cache, coordinator: coord, paths: pb}, nil
}

// newLimiter spaces inference calls evenly; zero means unlimited.
func newLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
}

// reportStates describes the state of every model kind, one line each.
func reportStates(cache *models.Cache) []string {
	lines := make([]string, 0, 3)
	for _, kind := range cache.Kinds() {
		state := cache.State(kind)
		line := fmt.Sprintf("%s: %s", kind, state)
		if err := cache.LastError(kind); state == models.Failed && err != nil {
			line += " (" + err.Error() + ")"
		}
		lines = append(lines, line)
	}
	return lines
}
