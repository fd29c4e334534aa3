package main

import (
	"net/netip"
	"time"

	"github.com/md-rashed-zaman/medibook/libs/config"
	"github.com/md-rashed-zaman/medibook/libs/email"
	"github.com/md-rashed-zaman/medibook/libs/httpx"
)

// Config is read once at startup and never changes afterwards.
type Config struct {
	Service     string
	Port        string
	DatabaseURL string
	DBMaxConns  int32

	JWTSecret  string
	JWTIssuer  string
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	GoogleMapsAPIKey string
	SMTP             email.SMTPConfig
	EmailTimeout     time.Duration

	KafkaBrokers string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	DoctorCache   time.Duration

	RateLimitPerMinute int
	RateLimitFailOpen  bool
	TrustedProxies     []netip.Prefix
	BodyLimitBytes     int64
	RequestTimeout     time.Duration
	CORS               httpx.CORSPolicy

	AutoMigrate bool
	SeedDoctors bool
}

func loadConfig() (Config, error) {
	if err := config.LoadDotEnv(); err != nil {
		return Config{}, err
	}
	port, err := config.Port("PORT", "5000")
	if err != nil {
		return Config{}, err
	}
	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		return Config{}, err
	}
	secret, err := config.RequiredString("JWT_SECRET")
	if err != nil {
		return Config{}, err
	}
	trusted, err := httpx.ParseTrustedProxies(config.List("TRUSTED_PROXIES", ""))
	if err != nil {
		return Config{}, err
	}

	return Config{
		Service:     config.String("SERVICE_NAME", "booking-service"),
		Port:        port,
		DatabaseURL: dbURL,
		DBMaxConns:  int32(config.Int("DB_MAX_CONNS", 10)),

		JWTSecret:  secret,
		JWTIssuer:  config.String("JWT_ISSUER", "medibook"),
		AccessTTL:  config.Duration("JWT_ACCESS_TTL", time.Hour),
		RefreshTTL: config.Duration("JWT_REFRESH_TTL", 30*24*time.Hour),

		GoogleMapsAPIKey: config.String("GOOGLE_MAPS_API_KEY", ""),
		SMTP: email.SMTPConfig{
			Host:     config.String("SMTP_HOST", ""),
			Port:     config.String("SMTP_PORT", "587"),
			Username: config.String("SMTP_USERNAME", ""),
			Password: config.String("SMTP_PASSWORD", ""),
			From:     config.String("EMAIL_FROM", "no-reply@medibook.local"),
			FromName: config.String("EMAIL_FROM_NAME", "Doctor Appointments"),
		},
		EmailTimeout: config.Duration("EMAIL_TIMEOUT", 10*time.Second),

		KafkaBrokers: config.String("KAFKA_BROKERS", ""),

		RedisAddr:     config.String("REDIS_ADDR", ""),
		RedisPassword: config.String("REDIS_PASSWORD", ""),
		RedisDB:       config.Int("REDIS_DB", 0),
		DoctorCache:   config.Duration("DOCTOR_CACHE_TTL", 5*time.Minute),

		RateLimitPerMinute: config.Int("RATE_LIMIT_PER_MINUTE", 120),
		RateLimitFailOpen:  config.Bool("RATE_LIMIT_FAIL_OPEN", true),
		TrustedProxies:     trusted,
		BodyLimitBytes:     int64(config.Int("REQUEST_BODY_LIMIT_BYTES", 1<<20)),
		RequestTimeout:     config.Duration("REQUEST_TIMEOUT", 15*time.Second),
		CORS: httpx.CORSPolicy{
			AllowedOrigins:   config.List("CORS_ALLOWED_ORIGINS", ""),
			AllowedMethods:   config.List("CORS_ALLOWED_METHODS", ""),
			AllowedHeaders:   config.List("CORS_ALLOWED_HEADERS", ""),
			AllowCredentials: config.Bool("CORS_ALLOW_CREDENTIALS", false),
			MaxAge:           config.Duration("CORS_MAX_AGE", 10*time.Minute),
		},

		AutoMigrate: config.Bool("AUTO_MIGRATE", true),
		SeedDoctors: config.Bool("SEED_DOCTORS", true),
	}, nil
}

// mailer picks SMTP delivery when a host is configured.
func (c Config) mailer() email.Sender {
	if c.SMTP.Host == "" {
		return email.DisabledSender{}
	}
	return email.NewSMTPSender(c.SMTP)
}
