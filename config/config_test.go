package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GROQ_API_KEY", "")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":3000" || cfg.VoiceTimeout() != 5*time.Second {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.GroqModel != "llama-3.2-90b-vision-preview" {
		t.Errorf("GroqModel = %q", cfg.GroqModel)
	}
}

func TestLoadPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := "addr: \":8080\"\ngroq_model: from-yaml\nvoice_timeout_seconds: 9\nlog_level: debug\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GROQ_MODEL", "from-env")
	t.Setenv("ADDR", "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Errorf("Addr = %q, want yaml value", cfg.Addr)
	}
	if cfg.GroqModel != "from-env" {
		t.Errorf("GroqModel = %q, want env value", cfg.GroqModel)
	}
	if cfg.VoiceTimeoutSeconds != 9 {
		t.Errorf("VoiceTimeoutSeconds = %d", cfg.VoiceTimeoutSeconds)
	}
	if cfg.SlogLevel() != slog.LevelDebug {
		t.Errorf("SlogLevel() = %v", cfg.SlogLevel())
	}
}

func TestLoadRejectsBadTimeout(t *testing.T) {
	t.Setenv("VOICE_TIMEOUT_SECONDS", "soon")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for non-numeric timeout")
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	_ = os.WriteFile(path, []byte("addr: [unclosed"), 0o644)
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}
