package infra

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv        string
	Port          string
	DatabaseURL   string
	WebhookSecret string

	PublicBaseURL  string
	StoragePath    string
	StorageBaseURL string
	MaxIngestBytes int64

	TextImageAPIKey  string
	TextImageBaseURL string
	VideoAPIKey      string
	VideoBaseURL     string
	PollImageAPIKey  string
	PollImageBaseURL string

	PollInterval      time.Duration
	PollMaxAttempts   int
	HeartbeatInterval time.Duration

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:        getEnv("APP_ENV", "development"),
		Port:          getEnv("PORT", "8080"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		WebhookSecret: os.Getenv("WEBHOOK_SECRET"),

		PublicBaseURL:  getEnv("PUBLIC_BASE_URL", "http://localhost:8080"),
		StoragePath:    getEnv("STORAGE_PATH", "./storage"),
		StorageBaseURL: getEnv("STORAGE_BASE_URL", "http://localhost:8080/static"),
		MaxIngestBytes: int64(getEnvInt("MAX_INGEST_MB", 200)) * 1024 * 1024,

		TextImageAPIKey:  os.Getenv("TEXT_IMAGE_API_KEY"),
		TextImageBaseURL: getEnv("TEXT_IMAGE_BASE_URL", "https://api.textimage.example.com/v1"),
		VideoAPIKey:      os.Getenv("VIDEO_API_KEY"),
		VideoBaseURL:     getEnv("VIDEO_BASE_URL", "https://api.videogen.example.com/v1"),
		PollImageAPIKey:  os.Getenv("POLL_IMAGE_API_KEY"),
		PollImageBaseURL: getEnv("POLL_IMAGE_BASE_URL", "https://api.pollimage.example.com/v1"),

		PollInterval:      time.Second * time.Duration(getEnvInt("POLL_INTERVAL_SECONDS", 5)),
		PollMaxAttempts:   getEnvInt("POLL_MAX_ATTEMPTS", 60),
		HeartbeatInterval: time.Second * time.Duration(getEnvInt("HEARTBEAT_INTERVAL_SECONDS", 30)),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.WebhookSecret == "" {
		return nil, fmt.Errorf("WEBHOOK_SECRET is required")
	}

	return cfg, nil
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
