package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config holds every tunable of the service. Values come from defaults, then
// an optional YAML file, then environment variables (a .env file is loaded
// into the environment first).
type Config struct {
	Addr     string `yaml:"addr"`
	WorkDir  string `yaml:"work_dir"`
	LogLevel string `yaml:"log_level"`

	HFToken         string `yaml:"hf_token"`
	PhiVisionURL    string `yaml:"phi_vision_url"`
	FlorenceURL     string `yaml:"florence_url"`
	GradioAPIPrefix string `yaml:"gradio_api_prefix"`
	PhiModelID      string `yaml:"phi_model_id"`

	GroqAPIKey  string `yaml:"groq_api_key"`
	GroqBaseURL string `yaml:"groq_base_url"`
	GroqModel   string `yaml:"groq_model"`

	ElevenLabsAPIKey  string `yaml:"eleven_labs_api_key"`
	ElevenLabsVoiceID string `yaml:"eleven_labs_voice_id"`
	ElevenLabsModelID string `yaml:"eleven_labs_model_id"`
	ElevenLabsBaseURL string `yaml:"eleven_labs_base_url"`

	DeepgramAPIKey      string `yaml:"deepgram_api_key"`
	DeepgramURL         string `yaml:"deepgram_url"`
	VoiceTimeoutSeconds int    `yaml:"voice_timeout_seconds"`
}

func defaults() Config {
	return Config{
		Addr:                ":3000",
		WorkDir:             filepath.Join(os.TempDir(), "image-narrator"),
		LogLevel:            "info",
		GradioAPIPrefix:     "/gradio_api",
		GroqBaseURL:         "https://api.groq.com/openai/v1",
		GroqModel:           "llama-3.2-90b-vision-preview",
		VoiceTimeoutSeconds: 5,
	}
}

// Load builds the configuration. path may be empty or point to a missing
// file, in which case only defaults and the environment are used.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, using environment variables")
	}

	cfg := defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, errors.Wrapf(err, "parse %s", path)
			}
		case !os.IsNotExist(err):
			return Config{}, errors.Wrapf(err, "read %s", path)
		}
	}

	overrideString(&cfg.Addr, "ADDR")
	overrideString(&cfg.WorkDir, "WORK_DIR")
	overrideString(&cfg.LogLevel, "LOG_LEVEL")
	overrideString(&cfg.HFToken, "HF_TOKEN")
	overrideString(&cfg.PhiVisionURL, "PHI_VISION_URL")
	overrideString(&cfg.FlorenceURL, "FLORENCE_URL")
	overrideString(&cfg.GradioAPIPrefix, "GRADIO_API_PREFIX")
	overrideString(&cfg.PhiModelID, "PHI_MODEL_ID")
	overrideString(&cfg.GroqAPIKey, "GROQ_API_KEY")
	overrideString(&cfg.GroqBaseURL, "GROQ_BASE_URL")
	overrideString(&cfg.GroqModel, "GROQ_MODEL")
	overrideString(&cfg.ElevenLabsAPIKey, "ELEVEN_LABS_API_KEY")
	overrideString(&cfg.ElevenLabsVoiceID, "ELEVEN_LABS_VOICE_ID")
	overrideString(&cfg.ElevenLabsModelID, "ELEVEN_LABS_MODEL_ID")
	overrideString(&cfg.ElevenLabsBaseURL, "ELEVEN_LABS_BASE_URL")
	overrideString(&cfg.DeepgramAPIKey, "DEEPGRAM_API_KEY")
	overrideString(&cfg.DeepgramURL, "DEEPGRAM_URL")
	if v := os.Getenv("VOICE_TIMEOUT_SECONDS"); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil || seconds <= 0 {
			return Config{}, errors.Errorf("VOICE_TIMEOUT_SECONDS must be a positive integer, got %q", v)
		}
		cfg.VoiceTimeoutSeconds = seconds
	}
	if cfg.VoiceTimeoutSeconds <= 0 {
		cfg.VoiceTimeoutSeconds = 5
	}
	return cfg, nil
}

func overrideString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func (c Config) VoiceTimeout() time.Duration {
	return time.Duration(c.VoiceTimeoutSeconds) * time.Second
}

// SlogLevel maps LogLevel to a slog level, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
