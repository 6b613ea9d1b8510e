package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	PoolSize int    `yaml:"pool_size"`
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// duration parses yaml "15m" style values into time.Duration.
type duration time.Duration

func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = duration(v)
	return nil
}

// BillingConfig drives the renewal engine. The decline backoff ladder is
// an ordered duration list consumed from its tail as retries run out.
type BillingConfig struct {
	DeclineBackoff        []time.Duration `yaml:"-"`
	TransportRetryDelay   time.Duration   `yaml:"-"`
	DefaultRetries        int             `yaml:"default_retries"`
	DueLookahead          time.Duration   `yaml:"-"`
	FastChargeMinInterval time.Duration   `yaml:"-"`
	GatewayTimeout        time.Duration   `yaml:"-"`
	PollCron              string          `yaml:"poll_cron"`
	DiagnosticsCron       string          `yaml:"diagnostics_cron"`
	BatchLimit            int             `yaml:"batch_limit"`
	Currency              string          `yaml:"currency"`
}

func (c *BillingConfig) UnmarshalYAML(value *yaml.Node) error {
	type plain BillingConfig
	aux := struct {
		*plain                `yaml:",inline"`
		DeclineBackoff        []duration `yaml:"decline_backoff"`
		TransportRetryDelay   duration   `yaml:"transport_retry_delay"`
		DueLookahead          duration   `yaml:"due_lookahead"`
		FastChargeMinInterval duration   `yaml:"fast_charge_min_interval"`
		GatewayTimeout        duration   `yaml:"gateway_timeout"`
	}{plain: (*plain)(c)}
	if err := value.Decode(&aux); err != nil {
		return err
	}
	for _, d := range aux.DeclineBackoff {
		c.DeclineBackoff = append(c.DeclineBackoff, time.Duration(d))
	}
	c.TransportRetryDelay = time.Duration(aux.TransportRetryDelay)
	c.DueLookahead = time.Duration(aux.DueLookahead)
	c.FastChargeMinInterval = time.Duration(aux.FastChargeMinInterval)
	c.GatewayTimeout = time.Duration(aux.GatewayTimeout)
	return nil
}

type EventsConfig struct {
	Stream         string        `yaml:"stream"`      // redis stream key
	WebhookURL     string        `yaml:"webhook_url"` // optional outbound webhook
	WebhookTimeout time.Duration `yaml:"-"`           // per delivery attempt
}

func (c *EventsConfig) UnmarshalYAML(value *yaml.Node) error {
	type plain EventsConfig
	aux := struct {
		*plain         `yaml:",inline"`
		WebhookTimeout duration `yaml:"webhook_timeout"`
	}{plain: (*plain)(c)}
	if err := value.Decode(&aux); err != nil {
		return err
	}
	c.WebhookTimeout = time.Duration(aux.WebhookTimeout)
	return nil
}

type AdminConfig struct {
	Port       int           `yaml:"port"`
	JWTSecret  string        `yaml:"jwt_secret"`
	SessionTTL time.Duration `yaml:"-"`
}

func (c *AdminConfig) UnmarshalYAML(value *yaml.Node) error {
	type plain AdminConfig
	aux := struct {
		*plain     `yaml:",inline"`
		SessionTTL duration `yaml:"session_ttl"`
	}{plain: (*plain)(c)}
	if err := value.Decode(&aux); err != nil {
		return err
	}
	c.SessionTTL = time.Duration(aux.SessionTTL)
	return nil
}

type Config struct {
	Log      LogConfig      `yaml:"log"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Billing  BillingConfig  `yaml:"billing"`
	Events   EventsConfig   `yaml:"events"`
	Admin    AdminConfig    `yaml:"admin"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads and validates the yaml config at path. Defaults are
// applied before validation so a minimal file stays minimal.
func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// defaults
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Database.PoolSize <= 0 {
		cfg.Database.PoolSize = 10
	}
	if len(cfg.Billing.DeclineBackoff) == 0 {
		cfg.Billing.DeclineBackoff = []time.Duration{
			15 * time.Minute, 6 * time.Hour, 6 * time.Hour, 6 * time.Hour, 6 * time.Hour,
		}
	}
	if cfg.Billing.TransportRetryDelay <= 0 {
		cfg.Billing.TransportRetryDelay = 2 * time.Hour
	}
	if cfg.Billing.DefaultRetries <= 0 {
		cfg.Billing.DefaultRetries = 4
	}
	if cfg.Billing.DueLookahead <= 0 {
		cfg.Billing.DueLookahead = 15 * time.Minute
	}
	if cfg.Billing.FastChargeMinInterval <= 0 {
		cfg.Billing.FastChargeMinInterval = time.Hour
	}
	if cfg.Billing.GatewayTimeout <= 0 {
		cfg.Billing.GatewayTimeout = 30 * time.Second
	}
	if cfg.Billing.PollCron == "" {
		cfg.Billing.PollCron = "@every 5m"
	}
	if cfg.Billing.DiagnosticsCron == "" {
		cfg.Billing.DiagnosticsCron = "@every 1h"
	}
	if cfg.Billing.BatchLimit <= 0 {
		cfg.Billing.BatchLimit = 200
	}
	if cfg.Billing.Currency == "" {
		cfg.Billing.Currency = "EUR"
	}
	if cfg.Events.Stream == "" {
		cfg.Events.Stream = "billing:events"
	}
	if cfg.Events.WebhookTimeout <= 0 {
		cfg.Events.WebhookTimeout = 10 * time.Second
	}
	if cfg.Admin.Port <= 0 {
		cfg.Admin.Port = 8081
	}
	if cfg.Admin.SessionTTL <= 0 {
		cfg.Admin.SessionTTL = 30 * time.Minute
	}

	// minimal validation
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}
	if cfg.Redis.URL == "" {
		return nil, errors.New("redis.url is required")
	}
	for _, d := range cfg.Billing.DeclineBackoff {
		if d <= 0 {
			return nil, errors.New("billing.decline_backoff durations must be positive")
		}
	}
	if !dev && cfg.Admin.JWTSecret == "" {
		return nil, errors.New("admin.jwt_secret is required outside dev mode")
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}
