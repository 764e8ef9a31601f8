package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"

	cfgpkg "storyteller/internal/config"
)

type audioOutput struct {
	AudioPath string `json:"audioPath"`
	AudioURL  string `json:"audioUrl,omitempty"`
}

// storyteller audio
func cmdAudio(args []string) error {
	var cf commonFlags
	var text, file string
	var publish bool
	var voice, provider, ttsModel stringFlag
	fs := flag.NewFlagSet("audio", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	addCommonFlags(fs, &cf)
	fs.StringVar(&text, "text", "", "Story text to read aloud")
	fs.StringVar(&file, "file", "", "Read story text from this file")
	fs.BoolVar(&publish, "publish", false, "Upload the audio to S3")
	fs.Var(&voice, "voice", "TTS voice")
	fs.Var(&provider, "tts-provider", "TTS provider: openai or elevenlabs")
	fs.Var(&ttsModel, "tts-model", "TTS model")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}
	setupLogger(cf.logLevel)
	if text != "" && file != "" {
		return errors.New("use either --text or --file, not both")
	}
	if file != "" {
		b, err := os.ReadFile(file)
		if err != nil {
			return err
		}
		text = string(b)
	}
	cfg, err := loadConfig(cf, cfgpkg.Overrides{
		Voice:       voice.ptr(),
		TTSProvider: provider.ptr(),
		TTSModel:    ttsModel.ptr(),
	})
	if err != nil {
		return err
	}
	if err := cfgpkg.ValidateForAudio(cfg); err != nil {
		return err
	}
	if publish {
		if err := cfgpkg.ValidateForPublish(cfg); err != nil {
			return err
		}
	}

	p, err := newPipeline(cfg, pipelineOptions{})
	if err != nil {
		return err
	}
	defer p.coordinator.Shutdown()

	ctx := context.Background()
	artifact, err := p.coordinator.GenerateAudioFromText(ctx, text)
	if err != nil {
		return err
	}
	// The process exits long before the grace period; the file is the result.
	artifact.Keep()

	out := audioOutput{AudioPath: artifact.FilePath}
	if publish {
		pub, err := newPublisher(ctx, cfg.S3Bucket, cfg.S3Prefix, cfg.Region)
		if err != nil {
			return err
		}
		url, err := pub.PublishAudio(ctx, artifact.FilePath, artifact.CreatedAt)
		if err != nil {
			return err
		}
		out.AudioURL = url
	}

	slog.Info(
		"audio generated",
		"voice", cfg.Voice,
		"ttsModel", cfg.TTSModel,
		"ttsProvider", cfg.Provider(),
		"path", artifact.FilePath,
	)
	return printJSON(out)
}
