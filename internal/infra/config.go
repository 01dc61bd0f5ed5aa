package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv            string
	LogLevel          string
	Port              string
	AllowedOrigins    []string
	ProviderEnv       string
	ProviderRESTURL   string
	ProviderSocketURL string
	ProviderUsername  string
	ProviderPassword  string
	ProviderAppID     string
	ProviderTimeout   time.Duration
	HTTPReadTimeout   time.Duration
	HTTPWriteTimeout  time.Duration
	HTTPIdleTimeout   time.Duration
	HeartbeatInterval time.Duration
	ResultRetention   time.Duration
	ProjectTimeout    time.Duration
}

var providerEnvironments = map[string]struct{}{
	"local":      {},
	"staging":    {},
	"production": {},
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:            getEnv("APP_ENV", "development"),
		LogLevel:          os.Getenv("LOG_LEVEL"),
		Port:              getEnv("PORT", "3001"),
		AllowedOrigins:    splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:5173")),
		ProviderEnv:       strings.ToLower(getEnv("PROVIDER_ENV", "production")),
		ProviderRESTURL:   os.Getenv("PROVIDER_REST_URL"),
		ProviderSocketURL: os.Getenv("PROVIDER_SOCKET_URL"),
		ProviderUsername:  os.Getenv("PROVIDER_USERNAME"),
		ProviderPassword:  os.Getenv("PROVIDER_PASSWORD"),
		ProviderAppID:     getEnv("PROVIDER_APP_ID", "inkrelay-"+uuid.NewString()),
		ProviderTimeout:   time.Second * time.Duration(getEnvInt("PROVIDER_TIMEOUT_SECONDS", 30)),
		HTTPReadTimeout:   time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout:  time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:   time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		HeartbeatInterval: time.Second * time.Duration(getEnvInt("SSE_HEARTBEAT_SECONDS", 20)),
		ResultRetention:   time.Minute * time.Duration(getEnvInt("RESULT_RETENTION_MINUTES", 30)),
		ProjectTimeout:    time.Minute * time.Duration(getEnvInt("PROJECT_TIMEOUT_MINUTES", 15)),
	}

	if _, ok := providerEnvironments[cfg.ProviderEnv]; !ok {
		return nil, fmt.Errorf("PROVIDER_ENV must be one of local, staging, production (got %q)", cfg.ProviderEnv)
	}

	if cfg.ProviderUsername == "" || cfg.ProviderPassword == "" {
		return nil, fmt.Errorf("PROVIDER_USERNAME and PROVIDER_PASSWORD are required")
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
		if i, err := strconv.Atoi(v); err == nil && i > 0 {
			return i
		}
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
