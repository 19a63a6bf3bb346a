package infra

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.BackendBaseURL != "http://127.0.0.1:8188" {
		t.Fatalf("BackendBaseURL = %q", cfg.BackendBaseURL)
	}
	if cfg.BackendWSURL != "ws://127.0.0.1:8188/ws" {
		t.Fatalf("BackendWSURL = %q", cfg.BackendWSURL)
	}
	if cfg.TemplateBaseURL != cfg.BackendBaseURL {
		t.Fatalf("TemplateBaseURL = %q", cfg.TemplateBaseURL)
	}
	if cfg.SessionFolderPrefix != "gradio/session" {
		t.Fatalf("SessionFolderPrefix = %q", cfg.SessionFolderPrefix)
	}
	if cfg.HTTPTimeout != 45*time.Second {
		t.Fatalf("HTTPTimeout = %v", cfg.HTTPTimeout)
	}
	if cfg.ReconnectDelay != 5*time.Second {
		t.Fatalf("ReconnectDelay = %v", cfg.ReconnectDelay)
	}
	if cfg.JobTimeout != 600*time.Second {
		t.Fatalf("JobTimeout = %v", cfg.JobTimeout)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("ATELIER_BACKEND_URL", "https://backend.example.com")
	t.Setenv("ATELIER_TEMPLATE_URL", "https://assets.example.com")
	t.Setenv("ATELIER_JOB_TIMEOUT_SECONDS", "120")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.BackendBaseURL != "https://backend.example.com" {
		t.Fatalf("BackendBaseURL = %q", cfg.BackendBaseURL)
	}
	if cfg.BackendWSURL != "wss://backend.example.com/ws" {
		t.Fatalf("BackendWSURL = %q", cfg.BackendWSURL)
	}
	if cfg.TemplateBaseURL != "https://assets.example.com" {
		t.Fatalf("TemplateBaseURL = %q", cfg.TemplateBaseURL)
	}
	if cfg.JobTimeout != 2*time.Minute {
		t.Fatalf("JobTimeout = %v", cfg.JobTimeout)
	}
}

func TestLoadConfigExplicitWSURLWins(t *testing.T) {
	t.Setenv("ATELIER_BACKEND_WS_URL", "ws://other-host:9999/events")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.BackendWSURL != "ws://other-host:9999/events" {
		t.Fatalf("BackendWSURL = %q", cfg.BackendWSURL)
	}
}

func TestLoadConfigBadIntFallsBack(t *testing.T) {
	t.Setenv("ATELIER_RECONNECT_DELAY_SECONDS", "soon")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.ReconnectDelay != 5*time.Second {
		t.Fatalf("ReconnectDelay = %v", cfg.ReconnectDelay)
	}
}
