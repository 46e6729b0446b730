package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"multillm/internal/app"
	"multillm/internal/config"
	"multillm/internal/util"
)

func main() {
	envPath := flag.String("env", ".env", "path to .env file")
	configPath := flag.String("config", "", "path to config.yaml")
	once := flag.Bool("once", false, "run a single sweep and exit")
	consumers := flag.Int("consumers", 2, "usage queue consumers")
	flag.Parse()

	if err := config.LoadEnv(*envPath); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}
	util.InitLoggerTo(os.Stdout, cfg.LogLevel, cfg.LogFormat)

	interval, err := config.ParseJanitorInterval(cfg.JanitorInterval)
	if err != nil {
		util.Fatal("invalid janitor interval", "err", err)
	}
	appCore, res, err := app.Open(cfg)
	if err != nil {
		util.Fatal("failed to init app", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *once {
		sweep(ctx, appCore, res.Queue != nil)
		closeResources(res)
		return
	}

	slog.Info("janitor started", "interval", interval.String(), "usage_queue", res.Queue != nil)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return every(gctx, interval, func() { expireSessions(appCore) })
	})
	if res.Queue != nil {
		g.Go(func() error {
			if err := appCore.ConsumeUsage(gctx, *consumers); err != nil {
				return fmt.Errorf("start usage consumers: %w", err)
			}
			<-gctx.Done()
			return gctx.Err()
		})
	}
	err = g.Wait()
	closeResources(res)
	if err != nil && !errors.Is(err, context.Canceled) {
		util.Fatal("janitor stopped", "err", err)
	}
	slog.Info("janitor stopped")
}

// closeResources runs before any exit path; util.Fatal skips deferred calls.
func closeResources(res *app.Resources) {
	if err := res.Close(); err != nil {
		slog.Warn("close resources", "err", err)
	}
}

func sweep(ctx context.Context, a *app.App, withQueue bool) {
	expireSessions(a)
	if withQueue {
		drainUsage(ctx, a)
	}
}

// every runs fn immediately and then on each tick until ctx is done.
func every(ctx context.Context, interval time.Duration, fn func()) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		fn()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func expireSessions(a *app.App) {
	n, err := a.SweepSessions()
	if err != nil {
		slog.Error("expire sessions failed", "err", err)
		return
	}
	if n > 0 {
		slog.Info("expired sessions", "count", n)
	}
}

func drainUsage(ctx context.Context, a *app.App) {
	n, err := a.DrainUsage(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("drain usage failed", "err", err)
		return
	}
	if n > 0 {
		slog.Info("applied usage events", "count", n)
	}
}
