package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server configuration
	Port       string
	Mode       string
	BaseURL    string
	CronSecret string

	// Telegram configuration
	BotToken  string
	ChannelID int64
	// ChannelUsername is set instead of ChannelID for public channels given as @name
	ChannelUsername string
	// Kick removes the member without leaving a ban, BanUnban replays the legacy sequence
	RevokeMode string

	// Subscription configuration
	PriceINR             int
	SubscriptionDays     int
	InviteLinkTTLSeconds int
	Timezone             string
	ExpiryCron           string
	CallTimeout          time.Duration

	// Storage configuration
	StoreDriver      string
	DataFile         string
	DatabaseURL      string
	RedisURL         string
	PaymentDedupeTTL time.Duration

	// Instamojo configuration
	InstamojoAPIBase   string
	InstamojoAuthToken string
	InstamojoAPIKey    string
	InstamojoAPIToken  string
	InstamojoSalt      string

	// Brevo operator alerts
	BrevoAPIKey    string
	BrevoFromEmail string
	BrevoFromName  string
	AlertEmail     string

	// Logging
	LogLevel  string
	LogFormat string
}

const (
	RevokeModeKick     = "kick"
	RevokeModeBanUnban = "ban_unban"

	StoreDriverFile     = "file"
	StoreDriverSQLite   = "sqlite"
	StoreDriverPostgres = "postgres"
)

// Load reads .env (when present) and the process environment.
func Load() (*Config, error) {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		// Ignore error if .env file doesn't exist
	}

	cfg := &Config{
		Port:       getEnv("PORT", "10000"),
		Mode:       getEnv("GIN_MODE", "release"),
		BaseURL:    strings.TrimRight(getEnv("BASE_URL", ""), "/"),
		CronSecret: getEnv("CRON_SECRET", ""),

		BotToken:   getEnv("BOT_TOKEN", ""),
		RevokeMode: strings.ToLower(getEnv("REVOKE_MODE", RevokeModeKick)),

		PriceINR:             getEnvInt("PRICE_INR", 2500),
		SubscriptionDays:     getEnvInt("SUBSCRIPTION_DAYS", 30),
		InviteLinkTTLSeconds: getEnvInt("INVITE_LINK_TTL_SECONDS", 600),
		Timezone:             getEnv("TIMEZONE", "Asia/Kolkata"),
		ExpiryCron:           getEnv("EXPIRY_CRON", "5 2 * * *"),
		CallTimeout:          getEnvDuration("CALL_TIMEOUT", 20*time.Second),

		StoreDriver:      strings.ToLower(getEnv("STORE_DRIVER", StoreDriverFile)),
		DataFile:         getEnv("DATA_FILE", "data/subscribers.json"),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		RedisURL:         getEnv("REDIS_URL", ""),
		PaymentDedupeTTL: getEnvDuration("PAYMENT_DEDUPE_TTL", 24*time.Hour),

		InstamojoAPIBase:   strings.TrimRight(getEnv("INSTAMOJO_API_BASE", "https://www.instamojo.com/api/1.1"), "/"),
		InstamojoAuthToken: strings.TrimSpace(getEnv("INSTAMOJO_AUTH_TOKEN", "")),
		InstamojoAPIKey:    strings.TrimSpace(getEnv("INSTAMOJO_API_KEY", "")),
		InstamojoAPIToken:  strings.TrimSpace(getEnv("INSTAMOJO_API_TOKEN", "")),
		InstamojoSalt:      strings.TrimSpace(getEnv("INSTAMOJO_SALT", "")),

		BrevoAPIKey:    getEnv("BREVO_API_KEY", ""),
		BrevoFromEmail: getEnv("BREVO_FROM_EMAIL", ""),
		BrevoFromName:  getEnv("BREVO_FROM_NAME", "Channel Gate"),
		AlertEmail:     getEnv("ALERT_EMAIL", ""),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}

	if err := cfg.parseChannel(getEnv("CHANNEL_ID", "")); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required settings and enum values
func (c *Config) Validate() error {
	if c.BotToken == "" {
		return fmt.Errorf("BOT_TOKEN is not set")
	}
	if c.ChannelID == 0 && c.ChannelUsername == "" {
		return fmt.Errorf("CHANNEL_ID is not set")
	}
	if c.BaseURL == "" {
		return fmt.Errorf("BASE_URL is not set")
	}
	if c.SubscriptionDays <= 0 {
		return fmt.Errorf("SUBSCRIPTION_DAYS must be positive, got %d", c.SubscriptionDays)
	}
	switch c.RevokeMode {
	case RevokeModeKick, RevokeModeBanUnban:
	default:
		return fmt.Errorf("unknown REVOKE_MODE %q", c.RevokeMode)
	}
	switch c.StoreDriver {
	case StoreDriverFile, StoreDriverSQLite:
	case StoreDriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for STORE_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves the configured timezone
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// SubscriptionPeriod is the access granted by one payment
func (c *Config) SubscriptionPeriod() time.Duration {
	return time.Duration(c.SubscriptionDays) * 24 * time.Hour
}

// InviteTTL is the requested lifetime of an invite link
func (c *Config) InviteTTL() time.Duration {
	return time.Duration(c.InviteLinkTTLSeconds) * time.Second
}

// AlertsEnabled reports whether operator emails can be sent
func (c *Config) AlertsEnabled() bool {
	return c.BrevoAPIKey != "" && c.BrevoFromEmail != "" && c.AlertEmail != ""
}

// parseChannel accepts the numeric chat ID Telegram assigns to channels (-100...)
// or the @username of a public channel
func (c *Config) parseChannel(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if strings.HasPrefix(raw, "@") {
		if len(raw) == 1 || strings.ContainsAny(raw[1:], "@ /") {
			return fmt.Errorf("CHANNEL_ID %q is not a valid @username", raw)
		}
		c.ChannelUsername = raw
		return nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("CHANNEL_ID must be a numeric chat id or @username: %w", err)
	}
	c.ChannelID = id
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
