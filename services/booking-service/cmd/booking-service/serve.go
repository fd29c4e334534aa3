package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/md-rashed-zaman/medibook/libs/auth"
	"github.com/md-rashed-zaman/medibook/libs/db"
	"github.com/md-rashed-zaman/medibook/libs/httpx"
	"github.com/md-rashed-zaman/medibook/libs/jobs"
	"github.com/md-rashed-zaman/medibook/libs/kafkax"
	otelx "github.com/md-rashed-zaman/medibook/libs/otel"
	"github.com/md-rashed-zaman/medibook/libs/outbox"
	"github.com/md-rashed-zaman/medibook/libs/runtime"
	"github.com/md-rashed-zaman/medibook/libs/schema"
	"github.com/md-rashed-zaman/medibook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/medibook/services/booking-service/internal/directory"
	"github.com/md-rashed-zaman/medibook/services/booking-service/internal/handlers"
	"github.com/md-rashed-zaman/medibook/services/booking-service/internal/storage"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func newRedis(cfg Config) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

func newDoctorCache(cfg Config, rdb *redis.Client, logger *slog.Logger) *storage.DoctorCache {
	if rdb == nil {
		return nil
	}
	return storage.NewDoctorCache(rdb, cfg.DoctorCache, "medibook:doctors", logger)
}

func redisReadyCheck(rdb *redis.Client) func(context.Context) error {
	if rdb == nil {
		return nil
	}
	return func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}
}

func rateLimit(cfg Config, rdb *redis.Client, logger *slog.Logger) httpx.Middleware {
	if rdb != nil {
		logger.Info("rate limiting enabled (redis)", "per_minute", cfg.RateLimitPerMinute)
		return httpx.NewRedisRateLimiter(rdb, cfg.RateLimitPerMinute, time.Minute, "medibook:rl").Middleware(logger, cfg.RateLimitFailOpen)
	}
	logger.Info("rate limiting enabled (in-memory)", "per_minute", cfg.RateLimitPerMinute)
	return httpx.NewRateLimiter(cfg.RateLimitPerMinute).Middleware()
}

func runServe(parent context.Context) error {
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

	if cfg.AutoMigrate {
		applied, err := db.NewMigrator(pool, schema.Migrations()).Up(ctx)
		if err != nil {
			logger.Error("migrations failed", "err", err)
			return err
		}
		logger.Info("migrations applied", "count", applied)
	}

	rdb := newRedis(cfg)
	if rdb != nil {
		defer func() { _ = rdb.Close() }()
	}

	doctorRepo := storage.NewDoctorRepository(pool, newDoctorCache(cfg, rdb, logger))
	if cfg.SeedDoctors {
		n, err := doctorRepo.SeedIfEmpty(ctx, storage.SeedDoctors)
		if err != nil {
			logger.Error("seeding doctors failed", "err", err)
			return err
		}
		if n > 0 {
			logger.Info("doctor directory seeded", "count", n)
		}
	}

	outboxRepo := outbox.NewRepository()
	publisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   cfg.KafkaBrokers,
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go publisher.Run(ctx)

	apptRepo := storage.NewAppointmentRepository(pool, jobs.NewRepository(), outboxRepo)
	users := storage.NewUserRepository(pool)
	issuer := auth.NewIssuer(cfg.JWTSecret, cfg.JWTIssuer, cfg.AccessTTL)

	bookingSvc := booking.NewService(
		storage.BookingStore{DoctorRepository: doctorRepo, AppointmentRepository: apptRepo},
		cfg.mailer(), logger, booking.Config{EmailTimeout: cfg.EmailTimeout},
	)
	if cfg.SMTP.Host == "" {
		logger.Warn("SMTP_HOST not set; confirmation emails are disabled")
	}

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(cfg.KafkaBrokers)},
		runtime.ReadyCheck{Name: "redis", Check: redisReadyCheck(rdb)},
	)
	handlers.Routes{
		Doctors:      handlers.NewDoctorHandler(directory.NewService(doctorRepo), logger),
		Appointments: handlers.NewAppointmentHandler(bookingSvc, logger),
		Auth:         handlers.NewAuthHandler(issuer, users, storage.NewRefreshRepository(pool), cfg.RefreshTTL, logger),
		Config:       handlers.NewConfigHandler(cfg.GoogleMapsAPIKey, logger),
		Authn:        handlers.NewAuthenticator(issuer, users, logger),
	}.Register(mux)

	handler := httpx.Chain(mux,
		httpx.WithRecover(logger),
		httpx.WithCORS(cfg.CORS),
		httpx.WithRequestID,
		httpx.WithClientIP(cfg.TrustedProxies),
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(cfg.BodyLimitBytes),
		httpx.WithTimeout(cfg.RequestTimeout),
		rateLimit(cfg, rdb, logger),
	)
	handler = otelhttp.NewHandler(handler, "booking")
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
