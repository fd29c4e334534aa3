package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/md-rashed-zaman/medibook/libs/db"
	"github.com/md-rashed-zaman/medibook/libs/httpx"
	"github.com/md-rashed-zaman/medibook/libs/jobs"
	"github.com/md-rashed-zaman/medibook/libs/kafkax"
	otelx "github.com/md-rashed-zaman/medibook/libs/otel"
	"github.com/md-rashed-zaman/medibook/libs/outbox"
	"github.com/md-rashed-zaman/medibook/libs/runtime"
	"github.com/md-rashed-zaman/medibook/services/reminder-service/internal/maintenance"
	"github.com/md-rashed-zaman/medibook/services/reminder-service/internal/storage"
	"github.com/md-rashed-zaman/medibook/services/reminder-service/internal/worker"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	if err := run(context.Background()); err != nil {
		os.Exit(1)
	}
}

func run(parent context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := runtime.NewLogger(cfg.Service)

	ctx, stop := runtime.SignalContext(parent)
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(cfg.Service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	pool, err := db.Open(ctx, cfg.DatabaseURL, db.Options{MaxConns: cfg.DBMaxConns})
	if err != nil {
		logger.Error("db connection failed", "err", err)
		return err
	}
	defer pool.Close()

	jobRepo := jobs.NewRepository()
	outboxRepo := outbox.NewRepository()
	store := storage.NewRepository()

	publisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   cfg.KafkaBrokers,
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go publisher.Run(ctx)

	if cfg.SMTP.Host == "" {
		logger.Warn("SMTP_HOST not set; reminders will fail and be retried")
	}
	reminders := worker.New(pool, jobRepo, outboxRepo, store, cfg.mailer(), logger, worker.Config{
		Interval:    cfg.PollInterval,
		BatchSize:   cfg.BatchSize,
		Backoff:     cfg.Backoff,
		SendTimeout: cfg.SendTimeout,
	})
	go reminders.Run(ctx)

	cleaner, err := maintenance.NewCleaner(logger, maintenance.Config{
		Schedule:  cfg.CleanupSchedule,
		Retention: cfg.Retention,
	},
		maintenance.Target{Name: "scheduler_jobs", Purge: func(ctx context.Context, cutoff time.Time) (int64, error) {
			return jobRepo.Purge(ctx, pool, cutoff)
		}},
		maintenance.Target{Name: "outbox_events", Purge: func(ctx context.Context, cutoff time.Time) (int64, error) {
			return outboxRepo.PurgePublished(ctx, pool, cutoff)
		}},
		maintenance.Target{Name: "notifications", Purge: func(ctx context.Context, cutoff time.Time) (int64, error) {
			return store.PurgeNotifications(ctx, pool, cutoff)
		}},
	)
	if err != nil {
		logger.Error("cleanup config invalid", "err", err)
		return err
	}
	go func() {
		if err := cleaner.Run(ctx); err != nil {
			logger.Error("cleanup scheduler failed", "err", err)
		}
	}()

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(cfg.KafkaBrokers)},
	)
	handler := httpx.Chain(mux,
		httpx.WithRecover(logger),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "reminder")
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("http server error", "err", err)
		return err
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
	return nil
}
