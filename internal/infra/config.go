package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv              string
	BackendBaseURL      string
	BackendWSURL        string
	TemplateBaseURL     string
	SessionFolderPrefix string
	HTTPTimeout         time.Duration
	ReconnectDelay      time.Duration
	VerifyRetryDelay    time.Duration
	JobTimeout          time.Duration
	CompletionLinger    time.Duration
}

// LoadConfig loads configuration from environment variables and applies
// defaults where needed. The websocket and template endpoints default to the
// backend base URL so a single ATELIER_BACKEND_URL is enough for the common
// single-host deployment.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:              getEnv("APP_ENV", "development"),
		BackendBaseURL:      getEnv("ATELIER_BACKEND_URL", "http://127.0.0.1:8188"),
		BackendWSURL:        os.Getenv("ATELIER_BACKEND_WS_URL"),
		TemplateBaseURL:     os.Getenv("ATELIER_TEMPLATE_URL"),
		SessionFolderPrefix: getEnv("ATELIER_SESSION_PREFIX", "gradio/session"),
		HTTPTimeout:         time.Second * time.Duration(getEnvInt("ATELIER_HTTP_TIMEOUT_SECONDS", 45)),
		ReconnectDelay:      time.Second * time.Duration(getEnvInt("ATELIER_RECONNECT_DELAY_SECONDS", 5)),
		VerifyRetryDelay:    time.Second * time.Duration(getEnvInt("ATELIER_VERIFY_RETRY_DELAY_SECONDS", 3)),
		JobTimeout:          time.Second * time.Duration(getEnvInt("ATELIER_JOB_TIMEOUT_SECONDS", 600)),
		CompletionLinger:    time.Second * time.Duration(getEnvInt("ATELIER_COMPLETION_LINGER_SECONDS", 1)),
	}

	if cfg.BackendBaseURL == "" {
		return nil, fmt.Errorf("ATELIER_BACKEND_URL is required")
	}
	if cfg.BackendWSURL == "" {
		cfg.BackendWSURL = deriveWSURL(cfg.BackendBaseURL)
	}
	if cfg.TemplateBaseURL == "" {
		cfg.TemplateBaseURL = cfg.BackendBaseURL
	}

	return cfg, nil
}

func deriveWSURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://") + "/ws"
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://") + "/ws"
	default:
		return base + "/ws"
	}
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
