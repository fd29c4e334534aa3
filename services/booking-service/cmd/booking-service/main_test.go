package main

import (
	"testing"
	"time"

	"github.com/md-rashed-zaman/medibook/libs/email"
)

func TestLoadConfigRequiresSecrets(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", "")
	if _, err := loadConfig(); err == nil {
		t.Fatal("expected error without DATABASE_URL")
	}

	t.Setenv("DATABASE_URL", "postgres://localhost/medibook")
	if _, err := loadConfig(); err == nil {
		t.Fatal("expected error without JWT_SECRET")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/medibook")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("PORT", "")
	t.Setenv("SMTP_HOST", "")
	t.Setenv("EMAIL_TIMEOUT", "3s")

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Port != "5000" || cfg.AccessTTL != time.Hour || cfg.EmailTimeout != 3*time.Second {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if !cfg.SeedDoctors || !cfg.AutoMigrate {
		t.Fatal("seeding and migrations default to on")
	}
	if _, ok := cfg.mailer().(email.DisabledSender); !ok {
		t.Fatal("expected disabled sender without SMTP_HOST")
	}

	t.Setenv("SMTP_HOST", "mailpit")
	cfg, _ = loadConfig()
	if _, ok := cfg.mailer().(*email.SMTPSender); !ok {
		t.Fatal("expected SMTP sender")
	}
}

func TestRootCommandTree(t *testing.T) {
	root := rootCmd()
	for _, path := range [][]string{{"serve"}, {"migrate", "up"}, {"migrate", "status"}, {"seed"}} {
		cmd, _, err := root.Find(path)
		if err != nil || cmd == root {
			t.Fatalf("command %v not registered: %v", path, err)
		}
	}
}

func TestLoadConfigTrustedProxies(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/medibook")
	t.Setenv("JWT_SECRET", "s3cret")

	t.Setenv("TRUSTED_PROXIES", "")
	cfg, err := loadConfig()
	if err != nil || len(cfg.TrustedProxies) != 0 {
		t.Fatalf("no proxies are trusted by default: %v %v", cfg.TrustedProxies, err)
	}

	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8,127.0.0.1")
	cfg, err = loadConfig()
	if err != nil || len(cfg.TrustedProxies) != 2 {
		t.Fatalf("unexpected proxies %v %v", cfg.TrustedProxies, err)
	}

	t.Setenv("TRUSTED_PROXIES", "nonsense")
	if _, err := loadConfig(); err == nil {
		t.Fatal("expected error for invalid TRUSTED_PROXIES")
	}
}
