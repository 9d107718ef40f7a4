package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the dispatcher service.
type Config struct {
	Environment string          `yaml:"environment"`
	Server      ServerConfig    `yaml:"server"`
	Database    DatabaseConfig  `yaml:"database"`
	AWS         AWSConfig       `yaml:"aws"`
	Cron        CronConfig      `yaml:"cron"`
	Dispatch    DispatchConfig  `yaml:"dispatch"`
	Mail        MailConfig      `yaml:"mail"`
	Redis       RedisConfig     `yaml:"redis"`
	AMQP        AMQPConfig      `yaml:"amqp"`
	Scheduler   SchedulerConfig `yaml:"scheduler"`
	Logging     LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Port           string   `yaml:"port" validate:"required,numeric"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DatabaseConfig accepts either a full URL or the individual DB_* parts.
type DatabaseConfig struct {
	URL      string `yaml:"url"`
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type AWSConfig struct {
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Region          string `yaml:"region"`
}

// CronConfig controls the auth gate of the dispatch endpoint.
// An empty Secret disables bearer auth; an empty Signature accepts any
// non-empty platform signature header.
type CronConfig struct {
	Secret    string `yaml:"secret"`
	Signature string `yaml:"signature"`
}

type DispatchConfig struct {
	BatchSending             bool `yaml:"batch_sending"`
	ParallelBatchSize        int  `yaml:"parallel_batch_size" validate:"min=1"`
	BatchDelayMS             int  `yaml:"batch_delay_ms" validate:"min=0"`
	SendDelayMS              int  `yaml:"send_delay_ms" validate:"min=0"`
	StaleSendingAfterMinutes int  `yaml:"stale_sending_after_minutes" validate:"min=0"`
	LockTTLMinutes           int  `yaml:"lock_ttl_minutes" validate:"min=1"`
}

func (d DispatchConfig) BatchDelay() time.Duration {
	return time.Duration(d.BatchDelayMS) * time.Millisecond
}

func (d DispatchConfig) SendDelay() time.Duration {
	return time.Duration(d.SendDelayMS) * time.Millisecond
}

func (d DispatchConfig) StaleSendingAfter() time.Duration {
	return time.Duration(d.StaleSendingAfterMinutes) * time.Minute
}

func (d DispatchConfig) LockTTL() time.Duration {
	return time.Duration(d.LockTTLMinutes) * time.Minute
}

type MailConfig struct {
	DefaultSenderName  string `yaml:"default_sender_name"`
	DefaultSenderEmail string `yaml:"default_sender_email" validate:"omitempty,email"`
	SiteURL            string `yaml:"site_url" validate:"required,url"`
	BrandName          string `yaml:"brand_name"`
	UnsubscribeSecret  string `yaml:"unsubscribe_secret"`
}

type RedisConfig struct {
	URL string `yaml:"url"`
}

type AMQPConfig struct {
	URL string `yaml:"url"`
}

// SchedulerConfig drives the in-process trigger that calls the dispatch endpoint.
type SchedulerConfig struct {
	Enabled         bool   `yaml:"enabled"`
	IntervalSeconds int    `yaml:"interval_seconds" validate:"min=1"`
	TimeoutSeconds  int    `yaml:"timeout_seconds" validate:"min=1"`
	Endpoint        string `yaml:"endpoint"`
}

func (s SchedulerConfig) Interval() time.Duration {
	return time.Duration(s.IntervalSeconds) * time.Second
}

func (s SchedulerConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

type LoggingConfig struct {
	Level     string `yaml:"level"`
	SentryDSN string `yaml:"sentry_dsn"`
}

var validate = validator.New()

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: "8080",
		},
		Database: DatabaseConfig{
			SSLMode: "disable",
		},
		AWS: AWSConfig{
			Region: "us-east-1",
		},
		Dispatch: DispatchConfig{
			ParallelBatchSize: 50,
			BatchDelayMS:      200,
			SendDelayMS:       100,
			LockTTLMinutes:    15,
		},
		Mail: MailConfig{
			DefaultSenderName:  "Cymasphere",
			DefaultSenderEmail: "support@cymasphere.com",
			SiteURL:            "https://cymasphere.com",
			BrandName:          "NNAud.io",
		},
		Scheduler: SchedulerConfig{
			IntervalSeconds: 60,
			TimeoutSeconds:  30,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file and the
// environment, in that order of precedence (environment wins).
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on OS environment variables")
	}

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if cfg.Scheduler.Endpoint == "" {
		cfg.Scheduler.Endpoint = fmt.Sprintf("http://localhost:%s/api/email-campaigns/process-scheduled", cfg.Server.Port)
	}
	if cfg.Environment == "production" {
		cfg.Scheduler.Enabled = true
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, formatValidationError(err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.Environment, "ENVIRONMENT")
	setString(&c.Server.Port, "PORT")
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		c.Server.AllowedOrigins = splitList(origins)
	}

	setString(&c.Database.URL, "DATABASE_URL")
	setString(&c.Database.Host, "DB_HOST")
	setString(&c.Database.Port, "DB_PORT")
	setString(&c.Database.User, "DB_USER")
	setString(&c.Database.Password, "DB_PASSWORD")
	setString(&c.Database.Name, "DB_NAME")
	setString(&c.Database.SSLMode, "DB_SSLMODE")

	setString(&c.AWS.AccessKeyID, "AWS_ACCESS_KEY_ID")
	setString(&c.AWS.SecretAccessKey, "AWS_SECRET_ACCESS_KEY")
	setString(&c.AWS.Region, "AWS_REGION")

	setString(&c.Cron.Secret, "CRON_SECRET")
	setString(&c.Cron.Signature, "CRON_SIGNATURE")

	setString(&c.Mail.DefaultSenderName, "DEFAULT_SENDER_NAME")
	setString(&c.Mail.DefaultSenderEmail, "DEFAULT_SENDER_EMAIL")
	setString(&c.Mail.SiteURL, "NEXT_PUBLIC_SITE_URL")
	setString(&c.Mail.SiteURL, "SITE_URL")
	setString(&c.Mail.BrandName, "BRAND_NAME")
	setString(&c.Mail.UnsubscribeSecret, "UNSUBSCRIBE_SECRET")

	setString(&c.Redis.URL, "REDIS_URL")
	setString(&c.AMQP.URL, "AMQP_URL")
	setString(&c.Scheduler.Endpoint, "SCHEDULER_ENDPOINT")

	setString(&c.Logging.Level, "LOG_LEVEL")
	setString(&c.Logging.SentryDSN, "SENTRY_DSN")

	setBool(&c.Dispatch.BatchSending, "ENABLE_BATCH_EMAIL_SENDING")
	setBool(&c.Scheduler.Enabled, "ENABLE_SCHEDULER")

	ints := []struct {
		dst *int
		key string
	}{
		{&c.Dispatch.ParallelBatchSize, "EMAIL_PARALLEL_BATCH_SIZE"},
		{&c.Dispatch.BatchDelayMS, "EMAIL_BATCH_DELAY_MS"},
		{&c.Dispatch.SendDelayMS, "EMAIL_SEND_DELAY_MS"},
		{&c.Dispatch.StaleSendingAfterMinutes, "STALE_SENDING_AFTER_MINUTES"},
		{&c.Dispatch.LockTTLMinutes, "DISPATCH_LOCK_TTL_MINUTES"},
		{&c.Scheduler.IntervalSeconds, "SCHEDULER_INTERVAL_SECONDS"},
		{&c.Scheduler.TimeoutSeconds, "SCHEDULER_TIMEOUT_SECONDS"},
	}
	for _, i := range ints {
		if err := setInt(i.dst, i.key); err != nil {
			return err
		}
	}
	return nil
}

// DatabaseDSN returns the Postgres connection string, or "" when the
// database is not configured.
func (c *Config) DatabaseDSN() string {
	if c.Database.URL != "" {
		return c.Database.URL
	}
	if c.Database.Host == "" || c.Database.Name == "" {
		return ""
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.Database.User, c.Database.Password, c.Database.Host, c.Database.Port, c.Database.Name, c.Database.SSLMode,
	)
}

type providerCredentials struct {
	Database        string `validate:"required"`
	AccessKeyID     string `validate:"required"`
	SecretAccessKey string `validate:"required"`
	Region          string `validate:"required"`
}

// ProviderError reports missing database or mail provider credentials.
// The dispatcher refuses to run while it returns non-nil.
func (c *Config) ProviderError() error {
	creds := providerCredentials{
		Database:        c.DatabaseDSN(),
		AccessKeyID:     c.AWS.AccessKeyID,
		SecretAccessKey: c.AWS.SecretAccessKey,
		Region:          c.AWS.Region,
	}
	if err := validate.Struct(creds); err != nil {
		return formatValidationError(err)
	}
	return nil
}

func formatValidationError(err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}

	var msgs []string
	for _, e := range verrs {
		field := e.Namespace()
		if i := strings.Index(field, "."); i >= 0 {
			field = field[i+1:]
		}
		field = strings.ToLower(field)
		switch e.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "min":
			msgs = append(msgs, field+" must be at least "+e.Param())
		case "email":
			msgs = append(msgs, field+" must be a valid email")
		case "url":
			msgs = append(msgs, field+" must be a valid URL")
		default:
			msgs = append(msgs, field+" is invalid")
		}
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, ", "))
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v == "true"
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = n
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
