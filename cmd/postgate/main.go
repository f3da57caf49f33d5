package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"postgate/internal/adapter"
	"postgate/internal/api"
	"postgate/internal/audit"
	"postgate/internal/bot"
	"postgate/internal/config"
	"postgate/internal/content"
	"postgate/internal/control"
	"postgate/internal/dedupe"
	"postgate/internal/intake"
	"postgate/internal/metrics"
	"postgate/internal/publish"
	"postgate/internal/ratelimit"
	"postgate/internal/scheduler"
	"postgate/internal/storage"
)

const (
	feedTimeout     = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

	if err := run(cfg, log); err != nil {
		log.Error("postgate stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("postgate stopped")
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return err
		}
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	rec := metrics.New()

	auditor := audit.New(store, log)
	auditor.SetObserver(rec)

	controls := control.New(store, log)

	var locker dedupe.Locker = dedupe.NewStoreLocker(store)
	if cfg.RedisURL != "" {
		client, err := dedupe.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()
		locker = dedupe.NewRedisLocker(client)
		log.Info("using redis publish locks")
	}
	guard := dedupe.New(store, store, locker, cfg.LockTTLMinutes, log)

	registry := adapter.NewRegistry()
	adapterClient := &http.Client{}
	for platform, url := range cfg.Webhooks {
		registry.Register(platform, adapter.NewWebhook(url, adapterClient, cfg.AdapterTimeout))
	}
	if len(cfg.Webhooks) == 0 {
		log.Warn("no platform adapters configured, every publish will fail")
	}

	limiter := ratelimit.New(store, controls, auditor, nil, ratelimit.Options{
		ErrorRateThreshold:    cfg.ErrorRateThreshold,
		ErrorWindow:           cfg.ErrorWindow,
		CapViolationThreshold: cfg.CapViolationThreshold,
	}, log)

	orch := publish.New(controls, guard, limiter, auditor, store, registry, log)
	orch.SetMetrics(rec)
	orch.SetAdapterTimeout(cfg.AdapterTimeout)

	contents := content.New(store, auditor, log)

	fetcher := intake.NewFetcher(&http.Client{Timeout: feedTimeout})
	importer := intake.NewImporter(store, fetcher, log)

	sched := scheduler.New(orch, importer, log)
	sched.SetTickIntervals(cfg.PublishTick, cfg.IntakeTick)

	handler := api.NewHandler(controls, limiter, contents, auditor, orch, rec.Handler(), log)
	handler.SetPinger(store)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler.Routes(cfg.CronToken, cfg.APIRequestsPerSecond),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var b *bot.Bot
	if cfg.TelegramBotToken != "" {
		b, err = bot.New(cfg.TelegramBotToken, bot.Services{
			Controls:  controls,
			Limiter:   limiter,
			Content:   contents,
			Audit:     auditor,
			Publisher: orch,
			Intake:    store,
			Fetcher:   fetcher,
		}, cfg, log)
		if err != nil {
			return err
		}
		limiter.SetAlerter(b)
	} else {
		log.Warn("telegram bot disabled, alerts go to the log only")
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sched.Run(ctx)
		return nil
	})

	g.Go(func() error {
		log.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		// In-flight publishes finish under the adapter timeout before handlers return.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.AdapterTimeout+shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if b != nil {
		g.Go(func() error {
			b.Run(ctx)
			return nil
		})
	}

	log.Info("starting postgate")
	return g.Wait()
}

func newLogger(level string) *slog.Logger {
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
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
