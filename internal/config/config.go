package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	ProviderOpenAI     = "openai"
	ProviderElevenLabs = "elevenlabs"
)

// Config holds resolved configuration values after merging file, env, and flags.
type Config struct {
	CaptionModel string `json:"captionModel,omitempty"`
	TextModel    string `json:"textModel,omitempty"`
	TTSModel     string `json:"ttsModel,omitempty"`
	TTSProvider  string `json:"ttsProvider,omitempty"`
	Voice        string `json:"voice,omitempty"`
	BaseURL      string `json:"baseURL,omitempty"`

	UploadDir         string `json:"uploadDir,omitempty"`
	AudioDir          string `json:"audioDir,omitempty"`
	AudioGraceSeconds int    `json:"audioGraceSeconds,omitempty"`

	Addr               string `json:"addr,omitempty"`
	DBPath             string `json:"dbPath,omitempty"`
	StoryRetries       int    `json:"storyRetries,omitempty"`
	RateLimitPerMinute int    `json:"rateLimitPerMinute,omitempty"`

	S3Bucket string `json:"s3Bucket,omitempty"`
	S3Prefix string `json:"s3Prefix,omitempty"`
	Region   string `json:"region,omitempty"`
	Debug    bool   `json:"debug,omitempty"`

	// Not persisted to file; sourced from env only.
	OpenAIAPIKey     string `json:"-"`
	ElevenLabsAPIKey string `json:"-"`
}

// Overrides represents optional overrides from env or flags.
// Only non-nil pointers are applied during merge.
type Overrides struct {
	CaptionModel       *string
	TextModel          *string
	TTSModel           *string
	TTSProvider        *string
	Voice              *string
	BaseURL            *string
	UploadDir          *string
	AudioDir           *string
	AudioGraceSeconds  *int
	Addr               *string
	DBPath             *string
	StoryRetries       *int
	RateLimitPerMinute *int
	S3Bucket           *string
	S3Prefix           *string
	Region             *string
	Debug              *bool
}

// Secrets are read from the environment only.
type Secrets struct {
	OpenAIAPIKey     string
	ElevenLabsAPIKey string
}

func Default() Config {
	return Config{
		CaptionModel:      "gpt-4o-mini",
		TextModel:         "gpt-4o-mini",
		TTSModel:          "gpt-4o-mini-tts",
		TTSProvider:       ProviderOpenAI,
		Voice:             "alloy",
		UploadDir:         "uploads",
		AudioDir:          "out/audio",
		AudioGraceSeconds: 60,
		Addr:              ":8080",
		DBPath:            "storyteller.db",
		S3Prefix:          "storyteller",
	}
}

// AudioGrace is the lifetime of a generated audio file.
func (c Config) AudioGrace() time.Duration {
	return time.Duration(c.AudioGraceSeconds) * time.Second
}

// Provider returns the normalized TTS provider name, defaulting to openai.
func (c Config) Provider() string {
	p := strings.ToLower(strings.TrimSpace(c.TTSProvider))
	if p == "" {
		return ProviderOpenAI
	}
	return p
}

// LoadFile reads a JSON config. If file not found, returns defaults and no error.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config file: %w", err)
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// FromEnv reads env vars and returns overrides and secrets.
// Values that fail to parse are ignored.
func FromEnv() (Overrides, Secrets) {
	var ov Overrides

	str := func(name string, dst **string) {
		if v, ok := os.LookupEnv(name); ok {
			*dst = &v
		}
	}
	num := func(name string, dst **int) {
		if v, ok := os.LookupEnv(name); ok {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				*dst = &n
			}
		}
	}

	str("STORYTELLER_CAPTION_MODEL", &ov.CaptionModel)
	str("STORYTELLER_TEXT_MODEL", &ov.TextModel)
	str("STORYTELLER_TTS_MODEL", &ov.TTSModel)
	str("STORYTELLER_TTS_PROVIDER", &ov.TTSProvider)
	str("STORYTELLER_VOICE", &ov.Voice)
	str("STORYTELLER_BASE_URL", &ov.BaseURL)
	str("STORYTELLER_UPLOAD_DIR", &ov.UploadDir)
	str("STORYTELLER_AUDIO_DIR", &ov.AudioDir)
	num("STORYTELLER_AUDIO_GRACE_SECONDS", &ov.AudioGraceSeconds)
	str("STORYTELLER_ADDR", &ov.Addr)
	str("STORYTELLER_DB_PATH", &ov.DBPath)
	num("STORYTELLER_STORY_RETRIES", &ov.StoryRetries)
	num("STORYTELLER_RATE_LIMIT_PER_MINUTE", &ov.RateLimitPerMinute)
	str("AWS_S3_BUCKET", &ov.S3Bucket)
	str("AWS_S3_PREFIX", &ov.S3Prefix)
	str("AWS_REGION", &ov.Region)
	if v, ok := os.LookupEnv("STORYTELLER_DEBUG"); ok {
		if b, err := parseBool(v); err == nil {
			ov.Debug = &b
		}
	}

	secrets := Secrets{
		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
		ElevenLabsAPIKey: os.Getenv("ELEVENLABS_API_KEY"),
	}
	return ov, secrets
}

func parseBool(s string) (bool, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return false, fmt.Errorf("empty bool")
	}
	if s == "1" || s == "t" || s == "true" || s == "y" || s == "yes" || s == "on" {
		return true, nil
	}
	if s == "0" || s == "f" || s == "false" || s == "n" || s == "no" || s == "off" {
		return false, nil
	}
	// try strconv
	return strconv.ParseBool(s)
}

// Merge applies overrides in order: file -> env -> flags.
func Merge(fileCfg Config, env Overrides, flags Overrides, secrets Secrets) Config {
	cfg := fileCfg

	setStr := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	setInt := func(dst *int, v *int) {
		if v != nil {
			*dst = *v
		}
	}
	apply := func(ov Overrides) {
		setStr(&cfg.CaptionModel, ov.CaptionModel)
		setStr(&cfg.TextModel, ov.TextModel)
		setStr(&cfg.TTSModel, ov.TTSModel)
		setStr(&cfg.TTSProvider, ov.TTSProvider)
		setStr(&cfg.Voice, ov.Voice)
		setStr(&cfg.BaseURL, ov.BaseURL)
		setStr(&cfg.UploadDir, ov.UploadDir)
		setStr(&cfg.AudioDir, ov.AudioDir)
		setInt(&cfg.AudioGraceSeconds, ov.AudioGraceSeconds)
		setStr(&cfg.Addr, ov.Addr)
		setStr(&cfg.DBPath, ov.DBPath)
		setInt(&cfg.StoryRetries, ov.StoryRetries)
		setInt(&cfg.RateLimitPerMinute, ov.RateLimitPerMinute)
		setStr(&cfg.S3Bucket, ov.S3Bucket)
		setStr(&cfg.S3Prefix, ov.S3Prefix)
		setStr(&cfg.Region, ov.Region)
		if ov.Debug != nil {
			cfg.Debug = *ov.Debug
		}
	}

	apply(env)
	apply(flags)

	cfg.OpenAIAPIKey = secrets.OpenAIAPIKey
	cfg.ElevenLabsAPIKey = secrets.ElevenLabsAPIKey
	return cfg
}

// Validation helpers
func ValidateForStory(cfg Config) error {
	if cfg.OpenAIAPIKey == "" {
		return errors.New("OPENAI_API_KEY is required for story generation")
	}
	if cfg.CaptionModel == "" {
		return errors.New("caption model is required")
	}
	if cfg.TextModel == "" {
		return errors.New("text model is required")
	}
	if cfg.StoryRetries < 0 {
		return errors.New("story retries must not be negative")
	}
	if cfg.RateLimitPerMinute < 0 {
		return errors.New("rate limit must not be negative")
	}
	return nil
}

func ValidateForAudio(cfg Config) error {
	switch cfg.Provider() {
	case ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return errors.New("OPENAI_API_KEY is required for audio generation")
		}
	case ProviderElevenLabs:
		if cfg.ElevenLabsAPIKey == "" {
			return errors.New("ELEVENLABS_API_KEY is required for audio generation")
		}
	default:
		return fmt.Errorf("unsupported tts provider: %s", cfg.TTSProvider)
	}
	if cfg.TTSModel == "" {
		return errors.New("tts model is required")
	}
	if cfg.Voice == "" {
		return errors.New("voice is required")
	}
	if cfg.AudioGraceSeconds <= 0 {
		return errors.New("audio grace period must be positive")
	}
	return nil
}

func ValidateForServe(cfg Config) error {
	if err := ValidateForStory(cfg); err != nil {
		return err
	}
	if err := ValidateForAudio(cfg); err != nil {
		return err
	}
	if cfg.Addr == "" {
		return errors.New("listen address is required")
	}
	if cfg.DBPath == "" {
		return errors.New("database path is required")
	}
	return nil
}

func ValidateForPublish(cfg Config) error {
	if cfg.S3Bucket == "" {
		return errors.New("S3 bucket is required for publish")
	}
	if cfg.Region == "" {
		return errors.New("AWS region is required for publish")
	}
	return nil
}
