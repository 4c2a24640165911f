package config

import (
	"encoding/json"
	"os"
	"strconv"
	"time"
)

// Built-in defaults shared with the command-line flags.
const (
	DefaultLanguage       = "English"
	DefaultModelID        = "Qwen/Qwen3-TTS-12Hz-0.6B-Base"
	DefaultMaxUploadBytes = 64 << 20
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" json:"server"`
	Engine    EngineConfig    `mapstructure:"engine" json:"engine"`
	Storage   StorageConfig   `mapstructure:"storage" json:"storage"`
	Synthesis SynthesisConfig `mapstructure:"synthesis" json:"synthesis"`
	Auth      AuthConfig      `mapstructure:"auth" json:"auth"`
	Limits    LimitsConfig    `mapstructure:"limits" json:"limits"`
	Logging   LoggingConfig   `mapstructure:"logging" json:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Listen       string        `mapstructure:"listen" json:"listen"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" json:"write_timeout"`
}

// EngineConfig holds settings for the external speech-synthesis engine.
type EngineConfig struct {
	URL            string        `mapstructure:"url" json:"url"`
	Timeout        time.Duration `mapstructure:"timeout" json:"timeout"`
	MaxConnections int           `mapstructure:"max_connections" json:"max_connections"`
}

// StorageConfig locates voice data on disk.
type StorageConfig struct {
	Root       string `mapstructure:"root" json:"root"`
	LegacyRoot string `mapstructure:"legacy_root" json:"legacy_root"`
}

// SynthesisConfig holds generation defaults.
type SynthesisConfig struct {
	Language string `mapstructure:"language" json:"language"`
	ModelID  string `mapstructure:"model_id" json:"model_id"`
	// QueueSize is how many generate calls may wait behind the running one.
	QueueSize int `mapstructure:"queue_size" json:"queue_size"`
	// DefaultScript overrides the built-in reference script when the index
	// document has none.
	DefaultScript string `mapstructure:"default_script" json:"default_script"`
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	APIKey string `mapstructure:"api_key" json:"api_key"`
}

// LimitsConfig holds request limit settings.
type LimitsConfig struct {
	MaxTextLength  int   `mapstructure:"max_text_length" json:"max_text_length"`
	MaxUploadBytes int64 `mapstructure:"max_upload_bytes" json:"max_upload_bytes"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level" json:"level"`
	Format string `mapstructure:"format" json:"format"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:       "127.0.0.1:7860",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 300 * time.Second,
		},
		Engine: EngineConfig{
			URL:            "http://127.0.0.1:8081",
			Timeout:        240 * time.Second,
			MaxConnections: 8,
		},
		Storage: StorageConfig{
			Root:       "./voices",
			LegacyRoot: "./profiles",
		},
		Synthesis: SynthesisConfig{
			Language:  DefaultLanguage,
			ModelID:   DefaultModelID,
			QueueSize: 0,
		},
		Limits: LimitsConfig{
			MaxTextLength:  0,
			MaxUploadBytes: DefaultMaxUploadBytes,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load returns a Config populated with defaults and environment overrides.
func Load() (*Config, error) {
	return LoadWithDefaults(nil)
}

// LoadWithDefaults loads configuration using defaults and optional overrides map (for tests).
func LoadWithDefaults(overrides map[string]interface{}) (*Config, error) {
	cfg := Default()
	applyEnvOverrides(cfg)

	if overrides != nil {
		raw, err := json.Marshal(overrides)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("VOICECLONE_LISTEN"); v != "" {
		cfg.Server.Listen = v
	}
	if v := os.Getenv("VOICECLONE_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ReadTimeout = d
		}
	}
	if v := os.Getenv("VOICECLONE_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.WriteTimeout = d
		}
	}
	if v := os.Getenv("VOICECLONE_ENGINE"); v != "" {
		cfg.Engine.URL = v
	}
	if v := os.Getenv("VOICECLONE_ENGINE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Engine.Timeout = d
		}
	}
	if v := os.Getenv("VOICECLONE_DATA_DIR"); v != "" {
		cfg.Storage.Root = v
	}
	if v := os.Getenv("VOICECLONE_LEGACY_DIR"); v != "" {
		cfg.Storage.LegacyRoot = v
	}
	if v := os.Getenv("VOICECLONE_LANGUAGE"); v != "" {
		cfg.Synthesis.Language = v
	}
	if v := os.Getenv("VOICECLONE_MODEL"); v != "" {
		cfg.Synthesis.ModelID = v
	}
	if v := os.Getenv("VOICECLONE_QUEUE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Synthesis.QueueSize = n
		}
	}
	if v := os.Getenv("VOICECLONE_DEFAULT_SCRIPT"); v != "" {
		cfg.Synthesis.DefaultScript = v
	}
	if v := os.Getenv("VOICECLONE_API_KEY"); v != "" {
		cfg.Auth.APIKey = v
	}
	if v := os.Getenv("VOICECLONE_MAX_TEXT_LENGTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Limits.MaxTextLength = n
		}
	}
	if v := os.Getenv("VOICECLONE_MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Limits.MaxUploadBytes = n
		}
	}
	if v := os.Getenv("VOICECLONE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("VOICECLONE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
