package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"polity/engine/internal/app"
	"polity/engine/internal/archive"
	"polity/engine/internal/config"
	"polity/engine/internal/email"
	"polity/engine/internal/lock"
	"polity/engine/internal/notify"
	"polity/engine/internal/scheduler"
	"polity/engine/internal/search"
	"polity/engine/internal/settings"
	"polity/engine/internal/store"
)

func main() {
	cfg := config.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		fatal(logger, "database connection failed", err)
	}
	defer db.Close()

	applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir, logger)
	if err != nil {
		fatal(logger, "migrations failed", err)
	}
	logger.Info("schema up to date", "event", "migrations_done", "module", "main", "applied_count", len(applied))
	dataStore := store.NewPostgresStore(db)

	completionLock, authorityLock := lock.Locker(lock.NewLocal()), lock.Locker(lock.NewLocal())
	if strings.TrimSpace(cfg.RedisURL) != "" {
		client, err := lock.Connect(cfg.RedisURL)
		if err != nil {
			fatal(logger, "redis connection failed", err)
		}
		defer client.Close()
		completionLock = lock.NewRedis(client, "polity:lock:"+scheduler.JobCompletion, cfg.LockTTL)
		authorityLock = lock.NewRedis(client, "polity:lock:"+scheduler.JobAuthorityPoll, cfg.LockTTL)
		logger.Info("using redis scheduler locks", "event", "lock_backend_selected", "module", "main", "backend", "redis")
	} else {
		logger.Info("using in-process scheduler locks", "event", "lock_backend_selected", "module", "main", "backend", "local")
	}

	sinks := notify.Fanout{notify.LogSink{Logger: logger}}

	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if mailer.IsConfigured() {
		sinks = append(sinks, &email.Sink{Sender: mailer, Recipients: dataStore, Logger: logger})
	}

	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meiliClient.Close()
		sinks = append(sinks, &search.Sink{Indexer: meiliClient, Logger: logger})
	}

	if strings.TrimSpace(cfg.ArchiveEndpoint) != "" {
		archiver, err := archive.NewMinIO(ctx, archive.Config{
			Endpoint:  cfg.ArchiveEndpoint,
			AccessKey: cfg.ArchiveAccessKey,
			SecretKey: cfg.ArchiveSecretKey,
			Bucket:    cfg.ArchiveBucket,
			UseSSL:    cfg.ArchiveUseSSL,
		})
		if err != nil {
			logger.Warn("archive sink disabled", "event", "archive_unavailable", "module", "main", "error", err.Error())
		} else {
			sinks = append(sinks, &archive.Sink{Writer: archiver, Logger: logger})
		}
	}

	tenantSettings := settings.NewProvider(dataStore)
	completion := &scheduler.CompletionScheduler{
		Polls:     dataStore,
		Authority: dataStore,
		Policies:  dataStore,
		Settings:  tenantSettings,
		Locker:    completionLock,
		Notifier:  sinks,
		LockWait:  cfg.LockWait,
		Logger:    logger,
	}
	authorityPolls := &scheduler.AuthorityPollScheduler{
		Polls:    dataStore,
		Settings: tenantSettings,
		Locker:   authorityLock,
		Notifier: sinks,
		LockWait: cfg.LockWait,
		Logger:   logger,
	}

	worker := &app.Worker{
		Interval: cfg.TickInterval,
		Logger:   logger,
		Jobs: []app.Job{
			{Name: scheduler.JobCompletion, Run: completion.RunCompletionPass},
			{Name: scheduler.JobAuthorityPoll, Run: authorityPolls.RunAuthorityPollStartPass},
		},
	}

	logger.Info("polity scheduler started",
		"event", "scheduler_started",
		"module", "main",
		"tick", cfg.TickInterval.String(),
	)
	worker.Run(ctx)

	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := sinks.Wait(drainCtx); err != nil {
		logger.Warn("pending notifications dropped", "event", "notify_drain_timeout", "module", "main", "error", err.Error())
	}
	logger.Info("polity scheduler stopped", "event", "scheduler_stopped", "module", "main")
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "module", "main", "error", err.Error())
	os.Exit(1)
}
