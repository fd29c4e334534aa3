package main

import (
	"time"

	"github.com/md-rashed-zaman/medibook/libs/config"
	"github.com/md-rashed-zaman/medibook/libs/email"
)

type Config struct {
	Service     string
	Port        string
	DatabaseURL string
	DBMaxConns  int32

	SMTP        email.SMTPConfig
	SendTimeout time.Duration

	KafkaBrokers string

	PollInterval time.Duration
	BatchSize    int
	Backoff      time.Duration

	CleanupSchedule string
	Retention       time.Duration
}

func loadConfig() (Config, error) {
	if err := config.LoadDotEnv(); err != nil {
		return Config{}, err
	}
	port, err := config.Port("PORT", "5001")
	if err != nil {
		return Config{}, err
	}
	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		return Config{}, err
	}

	return Config{
		Service:     config.String("SERVICE_NAME", "reminder-service"),
		Port:        port,
		DatabaseURL: dbURL,
		DBMaxConns:  int32(config.Int("DB_MAX_CONNS", 5)),

		SMTP: email.SMTPConfig{
			Host:     config.String("SMTP_HOST", ""),
			Port:     config.String("SMTP_PORT", "587"),
			Username: config.String("SMTP_USERNAME", ""),
			Password: config.String("SMTP_PASSWORD", ""),
			From:     config.String("EMAIL_FROM", "no-reply@medibook.local"),
			FromName: config.String("EMAIL_FROM_NAME", "Doctor Appointments"),
		},
		SendTimeout: config.Duration("EMAIL_TIMEOUT", 10*time.Second),

		KafkaBrokers: config.String("KAFKA_BROKERS", ""),

		PollInterval: config.Duration("REMINDER_POLL_INTERVAL", 5*time.Second),
		BatchSize:    config.Int("REMINDER_BATCH_SIZE", 50),
		Backoff:      config.Duration("REMINDER_BACKOFF", time.Minute),

		CleanupSchedule: config.String("CLEANUP_SCHEDULE", "15 3 * * *"),
		Retention:       time.Duration(config.Int("RETENTION_DAYS", 30)) * 24 * time.Hour,
	}, nil
}

func (c Config) mailer() email.Sender {
	if c.SMTP.Host == "" {
		return email.DisabledSender{}
	}
	return email.NewSMTPSender(c.SMTP)
}
