package config

import (
	"fmt"
	"log/slog"

	"github.com/caarlos0/env/v11"
)

// Settings are process-level options read from the environment.
type Settings struct {
	// ConfigFile is the sink configuration file. Empty means no file.
	ConfigFile string `env:"PRODACT_CONFIG"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `env:"PRODACT_LOG_LEVEL" envDefault:"info"`

	// Metrics enables dispatcher metrics.
	Metrics bool `env:"PRODACT_METRICS" envDefault:"false"`

	// Tracing enables dispatcher spans.
	Tracing bool `env:"PRODACT_TRACING" envDefault:"false"`
}

// LoadSettings reads Settings from the environment.
func LoadSettings() (Settings, error) {
	var s Settings
	if err := ParseEnv(&s); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// ParseEnv loads environment variables into target.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Level returns the slog level for LogLevel. Unknown names map to info.
func (s Settings) Level() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// Load returns the configuration named by ConfigFile, or an empty Config
// when no file is set. The metrics and tracing keys of the file are
// enabled when the matching setting is on.
func (s Settings) Load() (Config, error) {
	cfg := New(nil)
	if s.ConfigFile != "" {
		loaded, err := FromFile(s.ConfigFile)
		if err != nil {
			return Config{}, err
		}
		cfg = loaded
	}
	if s.Metrics {
		cfg.data[KeyMetrics] = true
	}
	if s.Tracing {
		cfg.data[KeyTracing] = true
	}
	return cfg, nil
}

// Top-level configuration keys.
const (
	KeySinks   = "sinks"
	KeyMetrics = "metrics"
	KeyTracing = "tracing"
	KeyType    = "type"
)
