// cmd/flashqa/main.go
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/tamzrod/flashqa/internal/config"
	"github.com/tamzrod/flashqa/internal/flash"
	"github.com/tamzrod/flashqa/internal/history"
	"github.com/tamzrod/flashqa/internal/quality"
	"github.com/tamzrod/flashqa/internal/writer"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatal("usage: flashqa <config.yaml>")
	}

	cfgPath := os.Args[1]

	// --------------------
	// Load + validate config
	// --------------------

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	if err := config.Validate(cfg); err != nil {
		log.Fatalf("config validation failed: %v", err)
	}
	config.Normalize(cfg)

	logger := newLogger(os.Stderr, cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("flashqa failed", "err", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	// --------------------
	// Bus + driver
	// --------------------

	bus, closeBus, busOpts, err := openBus(cfg.Bus, logger)
	if err != nil {
		return err
	}
	defer closeBus()

	// driver logs are held with the engine's during timed stages
	logbuf := quality.NewLogBuffer(logger.Handler())

	dev := flash.New(bus, append(flashOptions(cfg.Flash, slog.New(logbuf)), busOpts...)...)
	defer dev.Deinit()

	st := &station{
		dev:    dev,
		opts:   qualityOptions(cfg.Quality, logbuf),
		report: os.Stdout,
		log:    logger,
	}

	// --------------------
	// Optional publish + archive
	// --------------------

	if cfg.Jig.Status != nil {
		sw, closeWriter, err := writer.Build(*cfg.Jig.Status)
		if err != nil {
			return fmt.Errorf("status writer: %w", err)
		}
		defer closeWriter()
		st.status = sw
	}

	if cfg.History.Path != "" {
		store, err := history.Open(cfg.History.Path)
		if err != nil {
			return err
		}
		defer store.Close()
		st.store = store
	}

	switch cfg.Mode {
	case config.ModeJig:
		return runJig(ctx, st, *cfg.Jig.Trigger)
	case config.ModeShell:
		return runShell(ctx, st, cfg.Filesystem)
	default:
		_, err := st.assess(ctx)
		return err
	}
}
