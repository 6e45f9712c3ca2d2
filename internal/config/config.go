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

const (
	AuditBackendFile     = "file"
	AuditBackendPostgres = "postgres"
	AuditBackendSQLite   = "sqlite"
	AuditBackendMemory   = "memory"
)

type Config struct {
	ServerPort              string
	ServerReadHeaderTimeout time.Duration
	ServerWriteTimeout      time.Duration
	ServerIdleTimeout       time.Duration
	RequestTimeout          time.Duration
	CORSOrigins             []string
	WebhookRateLimitRPM     int
	APIRateLimitRPM         int
	LogLevel                slog.Level
	LogRedactSenders        bool

	StorageRoot string
	TrashRoot   string

	AuditBackend    string
	AuditLogFile    string
	AuditMaxEntries int
	DatabaseURL     string
	DBMaxConns      int32
	DBMinConns      int32
	SQLitePath      string

	RateLimitPerHour   int
	RateLimitWindow    time.Duration
	RateLimitFailOpen  bool
	ConfirmationExpire time.Duration
	DedupTTL           time.Duration
	DedupMaxEntries    int
	DedupSweepInterval time.Duration

	MaxFilesPerSummary  int
	MaxContentLength    int
	CollaboratorTimeout time.Duration
	OpenAIAPIKey        string
	OpenAIModel         string
	OpenAIBaseURL       string
	AnthropicAPIKey     string
	AnthropicModel      string
	AnthropicBaseURL    string

	AdminJWTSecret string
	AdminTokenTTL  time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := FromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv reads the environment without loading .env or validating.
func FromEnv() *Config {
	return &Config{
		ServerPort:              getEnv("SERVER_PORT", "8080"),
		ServerReadHeaderTimeout: getDuration("SERVER_READ_HEADER_TIMEOUT", 10*time.Second),
		ServerWriteTimeout:      getDuration("SERVER_WRITE_TIMEOUT", 60*time.Second),
		ServerIdleTimeout:       getDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
		RequestTimeout:          getDuration("REQUEST_TIMEOUT", 30*time.Second),
		CORSOrigins:             splitCSV(getEnv("CORS_ORIGINS", "*")),
		WebhookRateLimitRPM:     getInt("WEBHOOK_RATE_LIMIT_RPM", 120),
		APIRateLimitRPM:         getInt("API_RATE_LIMIT_RPM", 60),
		LogLevel:                getLevel("LOG_LEVEL", slog.LevelInfo),
		LogRedactSenders:        getBool("LOG_REDACT_SENDERS", true),

		StorageRoot: getEnv("STORAGE_ROOT", "./data"),
		TrashRoot:   getEnv("TRASH_ROOT", "./state/trash"),

		AuditBackend:    strings.ToLower(getEnv("AUDIT_BACKEND", AuditBackendFile)),
		AuditLogFile:    getEnv("AUDIT_LOG_FILE", "./state/audit.jsonl"),
		AuditMaxEntries: getInt("AUDIT_MAX_ENTRIES", 10000),
		DatabaseURL:     strings.TrimSpace(os.Getenv("DATABASE_URL")),
		DBMaxConns:      int32(getInt("DB_MAX_CONNS", 10)),
		DBMinConns:      int32(getInt("DB_MIN_CONNS", 1)),
		SQLitePath:      getEnv("SQLITE_PATH", "./state/audit.db"),

		RateLimitPerHour:   getInt("RATE_LIMIT_PER_HOUR", 30),
		RateLimitWindow:    getDuration("RATE_LIMIT_WINDOW", time.Hour),
		RateLimitFailOpen:  getBool("RATE_LIMIT_FAIL_OPEN", true),
		ConfirmationExpire: getDuration("CONFIRMATION_EXPIRE", 5*time.Minute),
		DedupTTL:           getDuration("DEDUP_TTL", 24*time.Hour),
		DedupMaxEntries:    getInt("DEDUP_MAX_ENTRIES", 100000),
		DedupSweepInterval: getDuration("DEDUP_SWEEP_INTERVAL", time.Minute),

		MaxFilesPerSummary:  getInt("MAX_FILES_PER_SUMMARY", 5),
		MaxContentLength:    getInt("MAX_CONTENT_LENGTH", 8000),
		CollaboratorTimeout: getDuration("COLLABORATOR_TIMEOUT", 20*time.Second),
		OpenAIAPIKey:        strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		OpenAIModel:         getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL:       getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		AnthropicAPIKey:     strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")),
		AnthropicModel:      getEnv("ANTHROPIC_MODEL", "claude-3-haiku-20240307"),
		AnthropicBaseURL:    getEnv("ANTHROPIC_BASE_URL", "https://api.anthropic.com/v1"),

		AdminJWTSecret: strings.TrimSpace(os.Getenv("ADMIN_JWT_SECRET")),
		AdminTokenTTL:  getDuration("ADMIN_TOKEN_TTL", 12*time.Hour),
	}
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.AdminJWTSecret) == "" {
		return fmt.Errorf("ADMIN_JWT_SECRET is required")
	}

	if c.ServerPort == "" {
		return fmt.Errorf("SERVER_PORT cannot be empty")
	}

	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}

	if strings.TrimSpace(c.StorageRoot) == "" {
		return fmt.Errorf("STORAGE_ROOT cannot be empty")
	}

	if strings.TrimSpace(c.TrashRoot) == "" {
		return fmt.Errorf("TRASH_ROOT cannot be empty")
	}

	switch c.AuditBackend {
	case AuditBackendFile:
		if strings.TrimSpace(c.AuditLogFile) == "" {
			return fmt.Errorf("AUDIT_LOG_FILE cannot be empty")
		}
	case AuditBackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when AUDIT_BACKEND=postgres")
		}
	case AuditBackendSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return fmt.Errorf("SQLITE_PATH cannot be empty")
		}
	case AuditBackendMemory:
	default:
		return fmt.Errorf("AUDIT_BACKEND must be one of file, postgres, sqlite, memory; got %q", c.AuditBackend)
	}

	if c.AuditMaxEntries <= 0 {
		return fmt.Errorf("AUDIT_MAX_ENTRIES must be positive")
	}

	if c.RateLimitPerHour <= 0 {
		return fmt.Errorf("RATE_LIMIT_PER_HOUR must be positive")
	}

	if c.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be positive")
	}

	if c.ConfirmationExpire <= 0 {
		return fmt.Errorf("CONFIRMATION_EXPIRE must be positive")
	}

	if c.DedupTTL <= 0 || c.DedupMaxEntries <= 0 {
		return fmt.Errorf("DEDUP_TTL and DEDUP_MAX_ENTRIES must be positive")
	}

	if c.CollaboratorTimeout <= 0 {
		return fmt.Errorf("COLLABORATOR_TIMEOUT must be positive")
	}

	if c.MaxFilesPerSummary <= 0 {
		return fmt.Errorf("MAX_FILES_PER_SUMMARY must be positive")
	}

	if c.MaxContentLength <= 0 {
		return fmt.Errorf("MAX_CONTENT_LENGTH must be positive")
	}

	return nil
}

func getEnv(key string, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}

	return v
}

func getInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}

	return v
}

func getBool(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}

	return v
}

func getDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	v, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return v
}

func getLevel(key string, fallback slog.Level) slog.Level {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return fallback
	}
	return level
}

func splitCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}

	return out
}
