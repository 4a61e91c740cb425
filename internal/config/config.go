// Package config loads application configuration from a YAML file with
// environment-variable overrides. A local .env file is honored in
// development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the outreach pipeline.
type Config struct {
	Environment string         `yaml:"environment"` // "development" or "production"
	Database    DatabaseConfig `yaml:"database"`
	Redis       RedisConfig    `yaml:"redis"`
	Mailgun     MailgunConfig  `yaml:"mailgun"`
	SES         SESConfig      `yaml:"ses"`
	Sender      SenderConfig   `yaml:"sender"`
	Google      GoogleConfig   `yaml:"google"`
	Queue       QueueConfig    `yaml:"queue"`
	FollowUp    FollowUpConfig `yaml:"follow_up"`
	Poller      PollerConfig   `yaml:"poller"`
	Warmup      WarmupConfig   `yaml:"warmup"`
	Webhook     WebhookConfig  `yaml:"webhook"`
	Server      ServerConfig   `yaml:"server"`
	LogLevel    string         `yaml:"log_level"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig holds the Redis connection used for distributed locks.
// Redis is optional; without it, locking falls back to PG advisory locks.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// MailgunConfig holds the primary transport provider credentials.
type MailgunConfig struct {
	APIKey  string `yaml:"api_key"`
	Domain  string `yaml:"domain"`
	BaseURL string `yaml:"base_url"`
}

// SESConfig holds the secondary (fallback) transport credentials.
type SESConfig struct {
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
}

// SenderConfig identifies the outreach sender.
type SenderConfig struct {
	FromName        string `yaml:"from_name"`
	FromEmail       string `yaml:"from_email"`
	OutreachAddress string `yaml:"outreach_address"` // reply-to for automated reminders
	UnsubscribeURL  string `yaml:"unsubscribe_url"`  // optional HTTPS unsubscribe link
}

// GoogleConfig holds the OAuth client used to refresh mailbox tokens.
type GoogleConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

// QueueConfig tunes the job queue consumers.
type QueueConfig struct {
	SendConcurrency     int           `yaml:"send_concurrency"`
	FollowUpConcurrency int           `yaml:"follow_up_concurrency"`
	PollInterval        time.Duration `yaml:"poll_interval"`
	VisibilityTimeout   time.Duration `yaml:"visibility_timeout"`
	MaxAttempts         int           `yaml:"max_attempts"`
	BackoffBase         time.Duration `yaml:"backoff_base"`
}

// FollowUpConfig controls the escalation windows. Each transition delay is
// independently configurable; zero values fall back to environment defaults
// (seconds in development, hours in production).
type FollowUpConfig struct {
	Step1Delay     time.Duration `yaml:"step1_delay"` // initial send → step-1 check
	Step2Delay     time.Duration `yaml:"step2_delay"` // step-1 reminder → step-2 check
	RejectDelay    time.Duration `yaml:"reject_delay"` // step-2 reminder → final check
	MaxReschedules int           `yaml:"max_reschedules"`
	BulkInterval   time.Duration `yaml:"bulk_interval"` // stagger between bulk sends
	BulkJitter     time.Duration `yaml:"bulk_jitter"`
}

// PollerConfig controls the redundant automation sweep.
type PollerConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

// WarmupConfig controls the deliverability warm-up window.
type WarmupConfig struct {
	StartDate     string `yaml:"start_date"` // YYYY-MM-DD; empty disables warm-up tracking
	ThresholdDays int    `yaml:"threshold_days"`
}

// WebhookConfig holds the provider webhook verification secret.
type WebhookConfig struct {
	SigningKey string `yaml:"signing_key"`
}

// ServerConfig holds the webhook HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Load reads configuration from the given YAML path (may be empty) and
// applies environment overrides and defaults.
func Load(path string) (*Config, error) {
	// Best-effort .env for local development.
	_ = godotenv.Load()

	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("APP_ENV"); v != "" {
		c.Environment = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("MAILGUN_API_KEY"); v != "" {
		c.Mailgun.APIKey = v
	}
	if v := os.Getenv("MAILGUN_DOMAIN"); v != "" {
		c.Mailgun.Domain = v
	}
	if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
		c.SES.AccessKey = v
	}
	if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
		c.SES.SecretKey = v
	}
	if v := os.Getenv("GOOGLE_CLIENT_ID"); v != "" {
		c.Google.ClientID = v
	}
	if v := os.Getenv("GOOGLE_CLIENT_SECRET"); v != "" {
		c.Google.ClientSecret = v
	}
	if v := os.Getenv("WEBHOOK_SIGNING_KEY"); v != "" {
		c.Webhook.SigningKey = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Server.Port = p
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Environment == "" {
		c.Environment = "development"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 25
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Mailgun.BaseURL == "" {
		c.Mailgun.BaseURL = "https://api.mailgun.net/v3"
	}
	if c.SES.Region == "" {
		c.SES.Region = "us-east-1"
	}
	if c.Queue.SendConcurrency == 0 {
		c.Queue.SendConcurrency = 5
	}
	if c.Queue.FollowUpConcurrency == 0 {
		c.Queue.FollowUpConcurrency = 3
	}
	if c.Queue.PollInterval == 0 {
		c.Queue.PollInterval = time.Second
	}
	if c.Queue.VisibilityTimeout == 0 {
		c.Queue.VisibilityTimeout = 5 * time.Minute
	}
	if c.Queue.MaxAttempts == 0 {
		c.Queue.MaxAttempts = 3
	}
	if c.Queue.BackoffBase == 0 {
		c.Queue.BackoffBase = 30 * time.Second
	}
	if c.FollowUp.MaxReschedules == 0 {
		c.FollowUp.MaxReschedules = 5
	}
	if c.Warmup.ThresholdDays == 0 {
		c.Warmup.ThresholdDays = 14
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8085
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	// Delay windows differ by environment: seconds while developing,
	// hours in production.
	if c.IsProduction() {
		if c.FollowUp.Step1Delay == 0 {
			c.FollowUp.Step1Delay = 24 * time.Hour
		}
		if c.FollowUp.Step2Delay == 0 {
			c.FollowUp.Step2Delay = 24 * time.Hour
		}
		if c.FollowUp.RejectDelay == 0 {
			c.FollowUp.RejectDelay = 48 * time.Hour
		}
		if c.FollowUp.BulkInterval == 0 {
			c.FollowUp.BulkInterval = 45 * time.Second
		}
		if c.FollowUp.BulkJitter == 0 {
			c.FollowUp.BulkJitter = 15 * time.Second
		}
		if c.Poller.Interval == 0 {
			c.Poller.Interval = time.Minute
		}
	} else {
		if c.FollowUp.Step1Delay == 0 {
			c.FollowUp.Step1Delay = 30 * time.Second
		}
		if c.FollowUp.Step2Delay == 0 {
			c.FollowUp.Step2Delay = 30 * time.Second
		}
		if c.FollowUp.RejectDelay == 0 {
			c.FollowUp.RejectDelay = 60 * time.Second
		}
		if c.FollowUp.BulkInterval == 0 {
			c.FollowUp.BulkInterval = 2 * time.Second
		}
		if c.FollowUp.BulkJitter == 0 {
			c.FollowUp.BulkJitter = time.Second
		}
		if c.Poller.Interval == 0 {
			c.Poller.Interval = 15 * time.Second
		}
	}
}

// IsProduction reports whether the app runs with production delay windows.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// StepDelay returns the wait before the follow-up check for the given step:
// step 1 waits Step1Delay after the initial send, step 2 waits Step2Delay
// after the first reminder, step 3 waits RejectDelay after the second.
func (c *Config) StepDelay(step int) time.Duration {
	switch step {
	case 1:
		return c.FollowUp.Step1Delay
	case 2:
		return c.FollowUp.Step2Delay
	default:
		return c.FollowUp.RejectDelay
	}
}

// WarmupDay returns the number of days since the warm-up start date, or a
// value past the threshold when warm-up tracking is disabled.
func (c *Config) WarmupDay(now time.Time) int {
	if c.Warmup.StartDate == "" {
		return c.Warmup.ThresholdDays + 1
	}
	start, err := time.Parse("2006-01-02", c.Warmup.StartDate)
	if err != nil {
		return c.Warmup.ThresholdDays + 1
	}
	return int(now.Sub(start).Hours() / 24)
}
