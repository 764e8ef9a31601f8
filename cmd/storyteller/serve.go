package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	cfgpkg "storyteller/internal/config"
	"storyteller/internal/server"
	"storyteller/internal/store"
)

const shutdownTimeout = 30 * time.Second

// listen is swapped in tests to run the server without a socket.
var listen = func(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// storyteller serve
func cmdServe(args []string) error {
	var cf commonFlags
	var addr, dbPath stringFlag
	var warmup bool
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	addCommonFlags(fs, &cf)
	fs.Var(&addr, "addr", "Listen address")
	fs.Var(&dbPath, "db", "SQLite database path for saved stories")
	fs.BoolVar(&warmup, "warmup", false, "Load every model before accepting requests")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}
	setupLogger(cf.logLevel)
	cfg, err := loadConfig(cf, cfgpkg.Overrides{Addr: addr.ptr(), DBPath: dbPath.ptr()})
	if err != nil {
		return err
	}
	if err := cfgpkg.ValidateForServe(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := newPipeline(cfg, pipelineOptions{})
	if err != nil {
		return err
	}
	defer p.coordinator.Shutdown()

	if warmup {
		if err := p.cache.Warmup(ctx); err != nil {
			// Failed kinds reload on first use.
			slog.Warn("warmup incomplete", "err", err)
		}
	}

	records, err := store.Open(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := records.Close(); cerr != nil {
			slog.Warn("failed to close store", "err", cerr)
		}
	}()

	api := server.New(p.coordinator, p.paths)
	api.SetRecords(records)
	if cfg.S3Bucket != "" {
		if err := cfgpkg.ValidateForPublish(cfg); err != nil {
			return err
		}
		pub, err := newPublisher(ctx, cfg.S3Bucket, cfg.S3Prefix, cfg.Region)
		if err != nil {
			return err
		}
		api.SetPublisher(pub)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info(
		"server listening",
		"addr", cfg.Addr,
		"captionModel", cfg.CaptionModel,
		"textModel", cfg.TextModel,
		"ttsModel", cfg.TTSModel,
		"ttsProvider", cfg.Provider(),
		"publish", cfg.S3Bucket != "",
	)
	if err := listen(ctx, srv); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	slog.Info("server stopped", "pendingAudio", p.coordinator.Pending())
	return nil
}
