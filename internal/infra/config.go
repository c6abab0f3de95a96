package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv              string
	Port                string
	DatabaseURL         string
	GeoIPDBPath         string
	DefaultLocale       string
	CORSAllowedOrigins  []string
	GeminiAPIKey        string
	GeminiBaseURL       string
	GeminiBaseModel     string
	GeminiEnhancedModel string
	EnhancerProvider    string
	TierConfigPath      string
	StoragePath         string
	ArchivePrefix       string
	QueueSettleDelay    time.Duration
	EnhanceTimeout      time.Duration
	HTTPReadTimeout     time.Duration
	HTTPWriteTimeout    time.Duration
	HTTPIdleTimeout     time.Duration
	RateLimitPerMin     int
}

// LoadDotEnv loads .env files when present. Missing files are not an error;
// variables already set in the environment win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("load env files: %w", err)
	}
	return nil
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:              getEnv("APP_ENV", "development"),
		Port:                getEnv("PORT", "8080"),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		GeoIPDBPath:         os.Getenv("GEOIP_DB_PATH"),
		DefaultLocale:       strings.ToLower(getEnv("DEFAULT_LOCALE", "en")),
		CORSAllowedOrigins:  getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		GeminiAPIKey:        strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		GeminiBaseURL:       getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		GeminiBaseModel:     getEnv("GEMINI_BASE_MODEL", "gemini-2.5-flash-image"),
		GeminiEnhancedModel: getEnv("GEMINI_ENHANCED_MODEL", "gemini-3-pro-image-preview"),
		EnhancerProvider:    strings.ToLower(getEnv("ENHANCER_PROVIDER", "gemini")),
		TierConfigPath:      os.Getenv("TIER_CONFIG_PATH"),
		StoragePath:         getEnv("STORAGE_PATH", "./data/blobs"),
		ArchivePrefix:       getEnv("ARCHIVE_PREFIX", "lumina_batch"),
		QueueSettleDelay:    time.Millisecond * time.Duration(getEnvInt("QUEUE_SETTLE_MS", 500)),
		EnhanceTimeout:      time.Second * time.Duration(getEnvInt("ENHANCE_TIMEOUT_SECONDS", 180)),
		HTTPReadTimeout:     time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 60)),
		HTTPWriteTimeout:    time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 120)),
		HTTPIdleTimeout:     time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:     getEnvInt("RATE_LIMIT_PER_MINUTE", 120),
	}

	switch cfg.EnhancerProvider {
	case "gemini", "local":
	default:
		return nil, fmt.Errorf("ENHANCER_PROVIDER must be gemini or local, got %q", cfg.EnhancerProvider)
	}

	if cfg.QueueSettleDelay < 0 {
		return nil, fmt.Errorf("QUEUE_SETTLE_MS must not be negative")
	}

	if cfg.EnhanceTimeout < 0 {
		return nil, fmt.Errorf("ENHANCE_TIMEOUT_SECONDS must not be negative")
	}

	return cfg, nil
}

// HasDatabase reports whether Postgres-backed features are enabled.
func (c *Config) HasDatabase() bool {
	return strings.TrimSpace(c.DatabaseURL) != ""
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
