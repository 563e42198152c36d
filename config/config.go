// Package config loads service configuration from environment variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Live match primary backends.
const (
	LiveBackendBucket    = "bucket"
	LiveBackendPostgres  = "postgres"
	LiveBackendFirestore = "firestore"
)

// Email providers.
const (
	EmailMock     = "mock"
	EmailBrevo    = "brevo"
	EmailSendGrid = "sendgrid"
	EmailGmail    = "gmail"
)

// Config holds every setting of the service.
type Config struct {
	// HTTP
	Port          string
	CORSOrigins   []string
	SubscribeRate int // requests per minute per IP

	// Logging
	LogLevel  slog.Level
	LogFormat string // json or text

	// Storage
	LocalStorage  string
	StorageBucket string

	// Live matches
	LiveBackend         string
	DatabaseURL         string
	DBPoolMinConns      int32
	DBPoolMaxConns      int32
	FirestoreProject    string
	FirestoreCollection string
	PrimaryTimeout      time.Duration
	WebhookTimeout      time.Duration
	AdminToken          string

	// Email
	EmailProvider         string
	BrevoAPIKey           string
	SendGridAPIKey        string
	EmailFrom             string
	EmailFromName         string
	GoogleCredentialsJSON string

	// Upstream
	FFHBaseURL        string
	FFHSeason         string
	FFHRequestsPerMin int
	PollInterval      time.Duration
	PollWorkers       int
	SourceTimeout     time.Duration
}

// LoadDotEnv loads path into the environment when the file exists.
// Variables already set take precedence.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Port:          envOr("PORT", "8080"),
		CORSOrigins:   envList("CORS_ORIGINS", []string{"*"}),
		SubscribeRate: envInt("SUBSCRIBE_RATE", 10),

		LogFormat: strings.ToLower(envOr("LOG_FORMAT", "json")),

		LocalStorage:  os.Getenv("LOCAL_STORAGE"),
		StorageBucket: os.Getenv("STORAGE_BUCKET"),

		LiveBackend:         strings.ToLower(envOr("LIVE_BACKEND", LiveBackendBucket)),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		DBPoolMinConns:      int32(envInt("DB_POOL_MIN_CONNS", 1)),
		DBPoolMaxConns:      int32(envInt("DB_POOL_MAX_CONNS", 5)),
		FirestoreProject:    envOr("FIRESTORE_PROJECT", os.Getenv("GOOGLE_CLOUD_PROJECT")),
		FirestoreCollection: envOr("FIRESTORE_COLLECTION", "live_matches"),
		PrimaryTimeout:      envDuration("PRIMARY_TIMEOUT", 5*time.Second),
		WebhookTimeout:      envDuration("WEBHOOK_TIMEOUT", 5*time.Second),
		AdminToken:          os.Getenv("ADMIN_TOKEN"),

		EmailProvider:         strings.ToLower(os.Getenv("EMAIL_PROVIDER")),
		BrevoAPIKey:           os.Getenv("BREVO_API_KEY"),
		SendGridAPIKey:        os.Getenv("SENDGRID_API_KEY"),
		EmailFrom:             os.Getenv("EMAIL_FROM"),
		EmailFromName:         envOr("EMAIL_FROM_NAME", "Hockey Notifier"),
		GoogleCredentialsJSON: os.Getenv("GOOGLE_CREDENTIALS_JSON"),

		FFHBaseURL:        os.Getenv("FFH_BASE_URL"),
		FFHSeason:         envOr("FFH_SEASON", defaultSeason(time.Now())),
		FFHRequestsPerMin: envInt("FFH_REQUESTS_PER_MINUTE", 60),
		PollInterval:      envDuration("POLL_INTERVAL", 30*time.Minute),
		PollWorkers:       envInt("POLL_WORKERS", 4),
		SourceTimeout:     envDuration("SOURCE_TIMEOUT", 15*time.Second),
	}

	level, err := parseLevel(envOr("LOG_LEVEL", "info"))
	if err != nil {
		return nil, err
	}
	cfg.LogLevel = level

	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("LOG_FORMAT must be json or text, got %q", cfg.LogFormat)
	}

	// Default to local development mode if no bucket specified
	if cfg.StorageBucket == "" && cfg.LocalStorage == "" {
		cfg.LocalStorage = "./data"
	}

	switch cfg.LiveBackend {
	case LiveBackendBucket:
	case LiveBackendPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required when LIVE_BACKEND=%s", LiveBackendPostgres)
		}
	case LiveBackendFirestore:
		if cfg.FirestoreProject == "" {
			return nil, fmt.Errorf("FIRESTORE_PROJECT or GOOGLE_CLOUD_PROJECT is required when LIVE_BACKEND=%s", LiveBackendFirestore)
		}
	default:
		return nil, fmt.Errorf("LIVE_BACKEND must be %s, %s or %s, got %q",
			LiveBackendBucket, LiveBackendPostgres, LiveBackendFirestore, cfg.LiveBackend)
	}

	if cfg.EmailProvider == "" {
		cfg.EmailProvider = cfg.detectEmailProvider()
	}
	switch cfg.EmailProvider {
	case EmailMock, EmailBrevo, EmailSendGrid, EmailGmail:
	default:
		return nil, fmt.Errorf("EMAIL_PROVIDER must be one of mock, brevo, sendgrid, gmail, got %q", cfg.EmailProvider)
	}

	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("POLL_INTERVAL must be positive, got %s", cfg.PollInterval)
	}
	return cfg, nil
}

// detectEmailProvider picks the first provider with credentials, else mock.
func (c *Config) detectEmailProvider() string {
	switch {
	case c.BrevoAPIKey != "":
		return EmailBrevo
	case c.SendGridAPIKey != "":
		return EmailSendGrid
	case c.GoogleCredentialsJSON != "":
		return EmailGmail
	default:
		return EmailMock
	}
}

// IsLocal reports whether objects are stored on the local filesystem.
func (c *Config) IsLocal() bool {
	return c.LocalStorage != ""
}

// defaultSeason returns the FFH season year: seasons start in September and
// are named after the year they end in.
func defaultSeason(now time.Time) string {
	year := now.Year()
	if now.Month() >= time.September {
		year++
	}
	return strconv.Itoa(year)
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("LOG_LEVEL %q: %w", s, err)
	}
	return level, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return fallback
}
