package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gridpilot/gridpilot/pkg/config"
	"github.com/gridpilot/gridpilot/pkg/engine"
	"github.com/gridpilot/gridpilot/pkg/hub"
	"github.com/gridpilot/gridpilot/pkg/loadmgr"
	"github.com/gridpilot/gridpilot/pkg/log"
	"github.com/gridpilot/gridpilot/pkg/notify"
	"github.com/gridpilot/gridpilot/pkg/planner"
	"github.com/gridpilot/gridpilot/pkg/prices"
	"github.com/gridpilot/gridpilot/pkg/scheduler"
	"github.com/gridpilot/gridpilot/pkg/server"
	"github.com/gridpilot/gridpilot/pkg/solar"
	"github.com/gridpilot/gridpilot/pkg/storage"

	"github.com/levenlabs/go-lflag"
	"github.com/levenlabs/go-llog"
)

func main() {
	// init packages
	cfg := config.Configured()
	ha := hub.Configured()
	db := storage.Configured()
	priceProvider := prices.Configured()
	solarProvider := solar.Configured()
	notifier := notify.Configured()

	eng := engine.New()
	// swap in the operator's tuning once flags are resolved
	lflag.Do(func() {
		*eng = *engine.NewWithHeuristics(cfg.Heuristics)
	})
	loads := loadmgr.Configured(cfg, ha, db)

	sched := scheduler.New(scheduler.Deps{
		Config:   cfg,
		Hub:      ha,
		DB:       db,
		Engine:   eng,
		Prices:   priceProvider,
		Solar:    solarProvider,
		Loads:    loads,
		Notifier: notifier,
	})

	srv := server.Configured(server.Deps{
		Config:  cfg,
		Hub:     ha,
		DB:      db,
		Sched:   sched,
		Planner: planner.New(eng),
		Prices:  priceProvider,
		Solar:   solarProvider,
		Loads:   loads,
	})

	// parse flags
	lflag.Configure()

	var level slog.Level
	// lflag automatically sets llog's level, but we need to set the slog level
	switch llog.GetLevel() {
	case llog.DebugLevel:
		level = slog.LevelDebug
	case llog.InfoLevel:
		level = slog.LevelInfo
	case llog.WarnLevel:
		level = slog.LevelWarn
	case llog.ErrorLevel:
		level = slog.LevelError
	default:
		panic(fmt.Errorf("unknown log level: %s", llog.GetLevel().String()))
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	slog.Debug("logger configured", slog.String("level", level.String()))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	defer func() {
		if err := db.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", "error", err)
		}
	}()

	// the scheduler runs alongside the HTTP server; either one failing
	// tears the process down
	go func() {
		if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
			log.Ctx(ctx).ErrorContext(ctx, "scheduler failed", "error", err)
			cancel()
		}
	}()

	if err := srv.Run(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "server failed", "error", err)
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "server exited cleanly")
}
