package config

import (
	"strings"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("BACKEND_API_URL", "https://backend.example.com/api")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q", cfg.BindAddr)
	}
	if cfg.MetricsNamespace != "voicebridge" {
		t.Fatalf("MetricsNamespace = %q", cfg.MetricsNamespace)
	}
	if cfg.SessionIdleTimeout != 30*time.Minute {
		t.Fatalf("SessionIdleTimeout = %v", cfg.SessionIdleTimeout)
	}
	if cfg.SweepInterval != time.Minute {
		t.Fatalf("SweepInterval = %v", cfg.SweepInterval)
	}
	if cfg.OrgConfigTTL != 5*time.Minute {
		t.Fatalf("OrgConfigTTL = %v", cfg.OrgConfigTTL)
	}
	if cfg.OpenAIRealtimeModel != "gpt-4o-realtime-preview" {
		t.Fatalf("OpenAIRealtimeModel = %q", cfg.OpenAIRealtimeModel)
	}
	if cfg.AllowAnyOrigin {
		t.Fatalf("AllowAnyOrigin defaulted true")
	}
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("APP_BIND_ADDR", ":9090")
	t.Setenv("SESSION_IDLE_TIMEOUT", "10m")
	t.Setenv("ORG_CONFIG_TTL", "90s")
	t.Setenv("APP_ALLOW_ANY_ORIGIN", "yes")
	t.Setenv("OPENAI_VOICE", "verse")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BindAddr != ":9090" {
		t.Fatalf("BindAddr = %q", cfg.BindAddr)
	}
	if cfg.SessionIdleTimeout != 10*time.Minute {
		t.Fatalf("SessionIdleTimeout = %v", cfg.SessionIdleTimeout)
	}
	if cfg.OrgConfigTTL != 90*time.Second {
		t.Fatalf("OrgConfigTTL = %v", cfg.OrgConfigTTL)
	}
	if !cfg.AllowAnyOrigin {
		t.Fatalf("AllowAnyOrigin not applied")
	}
	if cfg.OpenAIVoice != "verse" {
		t.Fatalf("OpenAIVoice = %q", cfg.OpenAIVoice)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("BACKEND_API_URL", "https://backend.example.com/api")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "OPENAI_API_KEY") {
		t.Fatalf("missing api key error = %v", err)
	}

	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("BACKEND_API_URL", "")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "BACKEND_API_URL") {
		t.Fatalf("missing backend url error = %v", err)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	setRequired(t)

	t.Setenv("SESSION_IDLE_TIMEOUT", "soon")
	if _, err := Load(); err == nil {
		t.Fatalf("bad duration accepted")
	}
	t.Setenv("SESSION_IDLE_TIMEOUT", "1s")
	if _, err := Load(); err == nil {
		t.Fatalf("sub-minimum idle timeout accepted")
	}
	t.Setenv("SESSION_IDLE_TIMEOUT", "30m")

	t.Setenv("APP_ALLOW_ANY_ORIGIN", "maybe")
	if _, err := Load(); err == nil {
		t.Fatalf("bad bool accepted")
	}
	t.Setenv("APP_ALLOW_ANY_ORIGIN", "")

	t.Setenv("ORG_CONFIG_TTL", "-1m")
	if _, err := Load(); err == nil {
		t.Fatalf("negative ttl accepted")
	}
}

func TestBoolFromEnvForms(t *testing.T) {
	for _, v := range []string{"1", "true", "T", "YES", "on"} {
		t.Setenv("FLAG_UNDER_TEST", v)
		got, err := boolFromEnv("FLAG_UNDER_TEST", false)
		if err != nil || !got {
			t.Fatalf("boolFromEnv(%q) = %v, %v", v, got, err)
		}
	}
	for _, v := range []string{"0", "false", "No", "off"} {
		t.Setenv("FLAG_UNDER_TEST", v)
		got, err := boolFromEnv("FLAG_UNDER_TEST", true)
		if err != nil || got {
			t.Fatalf("boolFromEnv(%q) = %v, %v", v, got, err)
		}
	}
}
