// Package config loads the service configuration from a YAML file and
// INBOXSYNC_ environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. INBOXSYNC_DATABASE_DSN.
const EnvPrefix = "INBOXSYNC"

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr         string        `mapstructure:"addr" yaml:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
}

// DatabaseConfig selects the mirror store driver.
type DatabaseConfig struct {
	// Driver is one of sqlite, sqlite3 or pgx.
	Driver string `mapstructure:"driver" yaml:"driver"`
	DSN    string `mapstructure:"dsn" yaml:"dsn"`
}

// LogConfig controls the global logger.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// AuthConfig points at the token broker and the JWKS used to verify API
// callers. An empty JWKSURL leaves the API unauthenticated.
type AuthConfig struct {
	BrokerURL   string        `mapstructure:"broker_url" yaml:"broker_url"`
	JWKSURL     string        `mapstructure:"jwks_url" yaml:"jwks_url"`
	JWKSRefresh time.Duration `mapstructure:"jwks_refresh" yaml:"jwks_refresh"`
	Issuer      string        `mapstructure:"issuer" yaml:"issuer"`
	Audience    string        `mapstructure:"audience" yaml:"audience"`
}

// NATSConfig holds the change-event publisher settings. An empty URL
// disables publishing; events stay in the outbox.
type NATSConfig struct {
	URL      string   `mapstructure:"url" yaml:"url"`
	Stream   string   `mapstructure:"stream" yaml:"stream"`
	Subjects []string `mapstructure:"subjects" yaml:"subjects"`
}

// SyncConfig tunes the runners and the outbox dispatcher.
type SyncConfig struct {
	CalendarPast   time.Duration `mapstructure:"calendar_past" yaml:"calendar_past"`
	CalendarFuture time.Duration `mapstructure:"calendar_future" yaml:"calendar_future"`
	PageSize       int32         `mapstructure:"page_size" yaml:"page_size"`
	LeaseTTL       time.Duration `mapstructure:"lease_ttl" yaml:"lease_ttl"`
	RetryBase      time.Duration `mapstructure:"retry_base" yaml:"retry_base"`
	RetryMax       time.Duration `mapstructure:"retry_max" yaml:"retry_max"`
	Events         bool          `mapstructure:"events" yaml:"events"`
	OutboxBatch    int           `mapstructure:"outbox_batch" yaml:"outbox_batch"`
	OutboxInterval time.Duration `mapstructure:"outbox_interval" yaml:"outbox_interval"`
	OutboxRetain   time.Duration `mapstructure:"outbox_retain" yaml:"outbox_retain"`
}

// SchedulerConfig enables periodic syncs of every configured account.
type SchedulerConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Spec    string `mapstructure:"spec" yaml:"spec"`
}

// AccountConfig describes one mirrored account.
type AccountConfig struct {
	ID string `mapstructure:"id" yaml:"id"`
	// Provider is microsoft or google.
	Provider string `mapstructure:"provider" yaml:"provider"`
	// ServiceToken is presented to the token broker.
	ServiceToken string `mapstructure:"service_token" yaml:"service_token"`
	// AccessToken bypasses the broker.
	AccessToken string   `mapstructure:"access_token" yaml:"access_token"`
	UserID      string   `mapstructure:"user_id" yaml:"user_id"`
	CalendarID  string   `mapstructure:"calendar_id" yaml:"calendar_id"`
	Resources   []string `mapstructure:"resources" yaml:"resources"`
}

// Config is the top-level service configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Database  DatabaseConfig  `mapstructure:"database" yaml:"database"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	Auth      AuthConfig      `mapstructure:"auth" yaml:"auth"`
	NATS      NATSConfig      `mapstructure:"nats" yaml:"nats"`
	Sync      SyncConfig      `mapstructure:"sync" yaml:"sync"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" yaml:"scheduler"`
	Accounts  []AccountConfig `mapstructure:"accounts" yaml:"accounts"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 5*time.Minute)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "data/mirror.db")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("auth.jwks_refresh", 5*time.Minute)

	v.SetDefault("nats.stream", "MAILSYNC_EVENTS")
	v.SetDefault("nats.subjects", []string{"mailsync.>"})

	v.SetDefault("sync.calendar_past", 30*24*time.Hour)
	v.SetDefault("sync.calendar_future", 395*24*time.Hour)
	v.SetDefault("sync.page_size", 50)
	v.SetDefault("sync.lease_ttl", 15*time.Minute)
	v.SetDefault("sync.retry_base", time.Minute)
	v.SetDefault("sync.retry_max", 6*time.Hour)
	v.SetDefault("sync.events", true)
	v.SetDefault("sync.outbox_batch", 100)
	v.SetDefault("sync.outbox_interval", 500*time.Millisecond)
	v.SetDefault("sync.outbox_retain", 7*24*time.Hour)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.spec", "@every 5m")
}

// Load reads path, when it exists, and applies environment overrides.
// An empty path or a missing file yields the defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the fields that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "sqlite3", "pgx":
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}

	seen := make(map[string]bool, len(c.Accounts))
	for i, a := range c.Accounts {
		if a.ID == "" {
			return fmt.Errorf("accounts[%d]: id is required", i)
		}
		if seen[a.ID] {
			return fmt.Errorf("accounts[%d]: duplicate id %q", i, a.ID)
		}
		seen[a.ID] = true

		switch a.Provider {
		case "microsoft", "google":
		default:
			return fmt.Errorf("account %s: unknown provider %q", a.ID, a.Provider)
		}
		if a.AccessToken == "" && a.ServiceToken == "" {
			return fmt.Errorf("account %s: service_token or access_token is required", a.ID)
		}
		if a.ServiceToken != "" && c.Auth.BrokerURL == "" {
			return fmt.Errorf("account %s: auth.broker_url is required with service_token", a.ID)
		}
	}
	return nil
}

// Account returns the configured account with id.
func (c *Config) Account(id string) (AccountConfig, bool) {
	for _, a := range c.Accounts {
		if a.ID == id {
			return a, true
		}
	}
	return AccountConfig{}, false
}
