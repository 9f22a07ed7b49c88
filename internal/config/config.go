package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultConfigPath     = "config.toml"
	DefaultHTTPAddr       = ":8080"
	DefaultJWTExpiresIn   = "24h"
	DefaultPGHost         = "127.0.0.1"
	DefaultPGPort         = 5432
	DefaultPGUser         = "postgres"
	DefaultPGDatabase     = "intake"
	DefaultPGSSLMode      = "disable"
	DefaultRedisAddr      = "127.0.0.1:6379"
	DefaultStorageRoot    = "data/attachments"
	DefaultDigestSchedule = "0 18 * * *"

	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"

	StorageLocal = "local"
	StorageGCS   = "gcs"
)

type Config struct {
	Log      LogConfig      `toml:"log"`
	Server   ServerConfig   `toml:"server"`
	Admin    AdminConfig    `toml:"admin"`
	Auth     AuthConfig     `toml:"auth"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	Session  SessionConfig  `toml:"session"`
	Requests RequestsConfig `toml:"requests"`
	Storage  StorageConfig  `toml:"storage"`
	Twilio   TwilioConfig   `toml:"twilio"`
	Telegram TelegramConfig `toml:"telegram"`
	Notify   NotifyConfig   `toml:"notify"`
	SMTP     SMTPConfig     `toml:"smtp"`
	Mailgun  MailgunConfig  `toml:"mailgun"`
	Retry    RetryConfig    `toml:"retry"`
	Digest   DigestConfig   `toml:"digest"`
	Catalog  CatalogConfig  `toml:"catalog"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
	// PublicURL is the externally reachable base URL, used to verify webhook signatures.
	PublicURL string `toml:"public_url"`
}

type AdminConfig struct {
	Username string `toml:"username"`
	Password string `toml:"password"`
}

type AuthConfig struct {
	JWTSecret    string `toml:"jwt_secret"`
	JWTExpiresIn string `toml:"jwt_expires_in"`
}

// ExpiresIn parses JWTExpiresIn, falling back to the default on bad input.
func (c AuthConfig) ExpiresIn() time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(c.JWTExpiresIn))
	if err != nil || d <= 0 {
		d, _ = time.ParseDuration(DefaultJWTExpiresIn)
	}
	return d
}

type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
	// URL overrides the discrete fields when set.
	URL string `toml:"url"`
}

// DSN returns a postgres connection URL.
func (c PostgresConfig) DSN() string {
	if strings.TrimSpace(c.URL) != "" {
		return strings.TrimSpace(c.URL)
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

type SessionConfig struct {
	Backend   string `toml:"backend"`
	KeyPrefix string `toml:"key_prefix"`
	TTLHours  int    `toml:"ttl_hours"`
	LockTTLMs int    `toml:"lock_ttl_ms"`
}

type RequestsConfig struct {
	Backend string `toml:"backend"`
}

type StorageConfig struct {
	Provider            string `toml:"provider"`
	LocalRoot           string `toml:"local_root"`
	GCSBucket           string `toml:"gcs_bucket"`
	GCSCredentialsFile  string `toml:"gcs_credentials_file"`
	PublicBaseURL       string `toml:"public_base_url"`
	MaxAttachmentBytes  int64  `toml:"max_attachment_bytes"`
	FetchTimeoutSeconds int    `toml:"fetch_timeout_seconds"`
}

type TwilioConfig struct {
	Enabled    bool   `toml:"enabled"`
	AccountSID string `toml:"account_sid"`
	AuthToken  string `toml:"auth_token"`
	From       string `toml:"from"`
	// Region and Edge select a Twilio data center, e.g. "ie1" and "dublin".
	Region            string `toml:"region"`
	Edge              string `toml:"edge"`
	ValidateSignature bool   `toml:"validate_signature"`
}

type TelegramConfig struct {
	Enabled       bool   `toml:"enabled"`
	BotToken      string `toml:"bot_token"`
	WebhookSecret string `toml:"webhook_secret"`
}

type NotifyConfig struct {
	// Recipients are channel targets ("twilio:whatsapp:+27...", "telegram:123")
	// or e-mail addresses prefixed with "email:".
	Recipients    []string `toml:"recipients"`
	SubjectPrefix string   `toml:"subject_prefix"`
	Mailer        string   `toml:"mailer"`
}

type SMTPConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	From     string `toml:"from"`
	Security string `toml:"security"`
}

type MailgunConfig struct {
	Domain string `toml:"domain"`
	APIKey string `toml:"api_key"`
	Region string `toml:"region"`
	From   string `toml:"from"`
}

type RetryConfig struct {
	MaxAttempts int     `toml:"max_attempts"`
	BaseDelayMs int     `toml:"base_delay_ms"`
	MaxDelayMs  int     `toml:"max_delay_ms"`
	Factor      float64 `toml:"factor"`
}

type DigestConfig struct {
	Enabled  bool   `toml:"enabled"`
	Schedule string `toml:"schedule"`
	Timezone string `toml:"timezone"`
}

type CatalogConfig struct {
	Path string `toml:"path"`
}

func defaults() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Admin: AdminConfig{
			Username: "admin",
			Password: "change-your-password-here",
		},
		Auth: AuthConfig{
			JWTExpiresIn: DefaultJWTExpiresIn,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		Redis: RedisConfig{
			Addr: DefaultRedisAddr,
		},
		Session: SessionConfig{
			Backend:   BackendPostgres,
			KeyPrefix: "intake:session:",
			LockTTLMs: 30000,
		},
		Requests: RequestsConfig{
			Backend: BackendPostgres,
		},
		Storage: StorageConfig{
			Provider:            StorageLocal,
			LocalRoot:           DefaultStorageRoot,
			MaxAttachmentBytes:  20 * 1024 * 1024,
			FetchTimeoutSeconds: 20,
		},
		Twilio: TwilioConfig{
			ValidateSignature: true,
		},
		Notify: NotifyConfig{
			SubjectPrefix: "[Store Support]",
			Mailer:        "smtp",
		},
		SMTP: SMTPConfig{
			Port:     587,
			Security: "starttls",
		},
		Mailgun: MailgunConfig{
			Region: "us",
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelayMs: 1000,
			MaxDelayMs:  10000,
			Factor:      2,
		},
		Digest: DigestConfig{
			Schedule: DefaultDigestSchedule,
			Timezone: "Africa/Johannesburg",
		},
	}
}

// Load reads the TOML file at path over the built-in defaults. A missing file
// yields the defaults. Secrets may be overridden from the environment.
func Load(path string) (Config, error) {
	cfg := defaults()

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return cfg, err
		}
	} else if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	applyEnv(&cfg, os.Getenv)
	return cfg, nil
}

func applyEnv(cfg *Config, getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&cfg.Postgres.URL, "DATABASE_URL")
	set(&cfg.Auth.JWTSecret, "JWT_SECRET")
	set(&cfg.Admin.Password, "ADMIN_PASSWORD")
	set(&cfg.Twilio.AuthToken, "TWILIO_AUTH_TOKEN")
	set(&cfg.Twilio.AccountSID, "TWILIO_ACCOUNT_SID")
	set(&cfg.Telegram.BotToken, "TELEGRAM_BOT_TOKEN")
	set(&cfg.Redis.Password, "REDIS_PASSWORD")
	set(&cfg.SMTP.Password, "SMTP_PASSWORD")
	set(&cfg.Mailgun.APIKey, "MAILGUN_API_KEY")
}
