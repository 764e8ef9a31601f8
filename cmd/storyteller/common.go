package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	cfgpkg "storyteller/internal/config"
)

// set up slog logger according to level; defaults to info.
func setupLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	h := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	logger := slog.New(h)
	slog.SetDefault(logger)
	return logger
}

// Common flags for config/log-level across subcommands
type commonFlags struct {
	config   string
	logLevel string
}

func addCommonFlags(fs *flag.FlagSet, cf *commonFlags) {
	fs.StringVar(&cf.config, "config", "config.json", "Path to config file")
	fs.StringVar(&cf.logLevel, "log-level", "info", "Log level: debug, info, warn, error")
}

// loadConfig merges the config file, the environment and flag overrides.
// A debug config forces debug logging.
func loadConfig(cf commonFlags, flagOv cfgpkg.Overrides) (cfgpkg.Config, error) {
	fileCfg, err := cfgpkg.LoadFile(cf.config)
	if err != nil {
		return cfgpkg.Config{}, err
	}
	envOv, secrets := cfgpkg.FromEnv()
	cfg := cfgpkg.Merge(fileCfg, envOv, flagOv, secrets)
	if cfg.Debug {
		setupLogger("debug")
	}
	return cfg, nil
}

// stringFlag records whether it was set so unset flags do not override config.
type stringFlag struct {
	v   string
	set bool
}

func (f *stringFlag) String() string { return f.v }

func (f *stringFlag) Set(s string) error {
	f.v = s
	f.set = true
	return nil
}

func (f *stringFlag) ptr() *string {
	if !f.set {
		return nil
	}
	return &f.v
}

type boolFlag struct {
	v   bool
	set bool
}

func (f *boolFlag) String() string { return strconv.FormatBool(f.v) }

func (f *boolFlag) Set(s string) error {
	b, err := strconv.ParseBool(s)
	if err != nil {
		return fmt.Errorf("invalid bool %q", s)
	}
	f.v = b
	f.set = true
	return nil
}

func (f *boolFlag) IsBoolFlag() bool { return true }

type intFlag struct {
	v   int
	set bool
}

func (f *intFlag) String() string { return strconv.Itoa(f.v) }

func (f *intFlag) Set(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid number %q", s)
	}
	f.v = n
	f.set = true
	return nil
}

func (f *intFlag) ptr() *int {
	if !f.set {
		return nil
	}
	return &f.v
}
