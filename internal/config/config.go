package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config carries everything the binaries read from the environment.
type Config struct {
	HTTPAddr string `env:"OPSDESK_HTTP_ADDR" envDefault:":8080"`
	PGDSN    string `env:"OPSDESK_PG_DSN"`

	// SiteURL is the public base URL embedded into invitation and reset links.
	SiteURL string `env:"OPSDESK_SITE_URL" envDefault:"http://localhost:8080"`

	// AuthSecret signs session credentials issued by the identity provider.
	AuthSecret string `env:"OPSDESK_AUTH_SECRET"`

	SessionTTL       time.Duration `env:"OPSDESK_SESSION_TTL" envDefault:"12h"`
	InvitationTTL    time.Duration `env:"OPSDESK_INVITATION_TTL" envDefault:"12h"`
	PasswordResetTTL time.Duration `env:"OPSDESK_PASSWORD_RESET_TTL" envDefault:"30m"`

	// AuditRetentionDays bounds the audit log; zero disables pruning.
	AuditRetentionDays int `env:"OPSDESK_AUDIT_RETENTION_DAYS" envDefault:"0"`

	MigrationsPath string `env:"OPSDESK_MIGRATIONS_PATH" envDefault:"ops/migrations/sql"`
	SeedsPath      string `env:"OPSDESK_SEEDS_PATH" envDefault:"ops/migrations/seeds"`
}

// Load parses configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	cfg.SiteURL = strings.TrimRight(strings.TrimSpace(cfg.SiteURL), "/")
	return cfg, nil
}
