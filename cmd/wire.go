package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"aucradar/ingest-service/internal/config"
	"aucradar/ingest-service/internal/db"
	"aucradar/ingest-service/internal/enrich"
	"aucradar/ingest-service/internal/events"
	"aucradar/ingest-service/internal/ingest"
	"aucradar/ingest-service/internal/jobs"
	"aucradar/ingest-service/internal/model"
	"aucradar/ingest-service/internal/notify"
	"aucradar/ingest-service/internal/ops"
	"aucradar/ingest-service/internal/refresh"
	"aucradar/ingest-service/internal/source"
	"aucradar/ingest-service/internal/store"
	"aucradar/ingest-service/internal/store/memstore"
	"aucradar/ingest-service/internal/store/pgstore"
)

// app holds the wired service and the resources to release on exit.
type app struct {
	svc     *ops.Service
	rdb     *redis.Client
	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// buildApp connects the backing stores and wires every engine. An ephemeral
// app runs against the in-memory store with no Redis, for dry runs.
func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, ephemeral bool) (*app, error) {
	a := &app{}

	var st store.Store
	if ephemeral {
		logger.Info("Using in-memory store, nothing will be persisted")
		st = memstore.New()
	} else {
		logger.Info("Connecting to PostgreSQL…")
		pool, err := db.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		if err := db.Migrate(ctx, pool); err != nil {
			a.Close()
			return nil, err
		}
		logger.Info("PostgreSQL connected ✓")
		st = pgstore.New(pool)

		if cfg.RedisURL != "" {
			logger.Info("Connecting to Redis…")
			rdb, err := db.NewRedisClient(ctx, cfg.RedisURL)
			if err != nil {
				a.Close()
				return nil, fmt.Errorf("redis: %w", err)
			}
			a.rdb = rdb
			a.closers = append(a.closers, func() { _ = rdb.Close() })
			logger.Info("Redis connected ✓")
		} else {
			logger.Warn("REDIS_URL not set, events disabled and run locks are process-local")
		}
	}

	pub := events.NewPublisher(a.rdb)
	locker := events.NewLocker(a.rdb)

	adapters := source.Registry{
		model.SourceCourt: source.NewCourtAdapter(source.CourtOptions{
			BaseURL:       cfg.CourtBaseURL,
			Codes:         cfg.CourtCodes,
			RatePerSecond: cfg.CourtRatePerSecond,
			WarmupTimeout: cfg.CourtWarmupTimeout,
			PageTimeout:   cfg.CourtPageTimeout,
			Location:      cfg.Location,
			Logger:        logger,
		}),
		model.SourceOnbid: source.NewOnbidAdapter(source.OnbidOptions{
			BaseURL:  cfg.OnbidBaseURL,
			APIKey:   cfg.OnbidAPIKey,
			Timeout:  cfg.OnbidTimeout,
			Retries:  cfg.OnbidRetries,
			PageSize: cfg.OnbidPageSize,
			Location: cfg.Location,
			Logger:   logger,
		}),
	}

	var predictor enrich.Predictor
	if pc := enrich.NewPriceClient(cfg.PriceAPIURL, cfg.PriceAPITimeout); pc != nil {
		predictor = pc
	}

	tracker := jobs.NewTracker(st, pub, logger)
	up := ingest.NewUpserter(st, ingest.UpserterOptions{
		Enricher: enrich.NewEnricher(predictor, logger),
		Events:   pub,
		Logger:   logger,
		Location: cfg.Location,
	})
	runner := ingest.NewRunner(adapters, up, tracker, ingest.RunnerOptions{
		Locker:   locker,
		LockTTL:  cfg.LockTTL,
		Logger:   logger,
		Location: cfg.Location,
	})
	refresher := refresh.NewEngine(st, adapters, tracker, refresh.Options{
		DaysBack:  cfg.RefreshDaysBack,
		DaysAhead: cfg.RefreshDaysAhead,
		Locker:    locker,
		LockTTL:   cfg.LockTTL,
		Logger:    logger,
		Location:  cfg.Location,
	})
	dispatcher := notify.NewDispatcher(st, senders(cfg, logger), notify.Options{
		Logger:   logger,
		Location: cfg.Location,
	})

	a.svc = ops.NewService(st, runner, refresher, dispatcher, locker, ops.Options{
		CrawlDays:     cfg.CrawlDays,
		DispatchLimit: cfg.DispatchLimit,
		MaxAttempts:   cfg.NotifyMaxAttempt,
		LockTTL:       cfg.LockTTL,
	})
	return a, nil
}

// senders returns the configured delivery channels. A channel with no
// credentials has no sender, so its notifications are recorded as failed.
func senders(cfg *config.Config, logger *slog.Logger) []notify.Sender {
	var out []notify.Sender
	if cfg.SMTPHost != "" {
		out = append(out, notify.NewEmailSender(&notify.SMTPMailer{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			User:     cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			Timeout:  cfg.SMTPTimeout,
		}, cfg.MailFrom))
	} else {
		logger.Warn("SMTP_HOST not set, email notifications will fail")
	}
	if cfg.TelegramToken != "" {
		out = append(out, notify.NewTelegramSender(cfg.TelegramToken, cfg.TelegramAPIBase, 10*time.Second))
	} else {
		logger.Warn("TELEGRAM_BOT_TOKEN not set, telegram notifications will fail")
	}
	return out
}
