// Package config loads the settings of the procedures demo.
//
// Values come from, in increasing precedence: field defaults, the process
// environment (optionally seeded from a .env file) and an optional YAML file.
// ${VAR} references in the YAML file are expanded before parsing.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Prefix is prepended to every environment variable name.
const Prefix = "FSM_"

// Validation errors returned by Load and Config.Validate.
var (
	ErrInvalidInterval  = errors.New("config: tick interval must be positive")
	ErrInvalidTimeScale = errors.New("config: time scale must be positive")
	ErrInvalidFrames    = errors.New("config: frames must not be negative")
	ErrInvalidFormat    = errors.New("config: log format must be text or json")
)

// Config holds the settings of the procedures demo.
type Config struct {
	// TickInterval is the wall time between frames.
	TickInterval time.Duration `env:"TICK_INTERVAL" envDefault:"16ms" yaml:"tick_interval"`
	// TimeScale multiplies elapsed game time.
	TimeScale float64 `env:"TIME_SCALE" envDefault:"1" yaml:"time_scale"`
	// Frames stops the demo after that many frames; zero runs until interrupted.
	Frames int `env:"FRAMES" envDefault:"0" yaml:"frames"`
	// LaunchDuration is how long the launch procedure waits before the menu.
	LaunchDuration time.Duration `env:"LAUNCH_DURATION" envDefault:"500ms" yaml:"launch_duration"`
	LogLevel       string        `env:"LOG_LEVEL" envDefault:"info" yaml:"log_level"`
	LogFormat      string        `env:"LOG_FORMAT" envDefault:"text" yaml:"log_format"`
	// Diagram, when set, is the file the final PlantUML diagrams are written to.
	Diagram string `env:"DIAGRAM" yaml:"diagram"`
}

// Options says where to look for configuration beyond the environment.
type Options struct {
	// DotEnv is a .env file loaded into the environment. Missing files are ignored.
	DotEnv string
	// File is a YAML file overlaid on the environment. Empty skips it.
	File string
}

// Load reads the configuration and validates it.
func Load(options Options) (Config, error) {
	if options.DotEnv != "" {
		if err := loadDotEnv(options.DotEnv); err != nil {
			return Config{}, fmt.Errorf("config: load %s: %w", options.DotEnv, err)
		}
	}
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: Prefix}); err != nil {
		return Config{}, fmt.Errorf("config: parse env: %w", err)
	}
	if options.File != "" {
		if err := overlayFile(&cfg, options.File); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// loadDotEnv does not override variables that are already set.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func overlayFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: load %s: %w", path, err)
	}
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// Validate checks that the interval and time scale are positive, frames is not
// negative and the log format is text or json.
func (c Config) Validate() error {
	if c.TickInterval <= 0 {
		return ErrInvalidInterval
	}
	if c.TimeScale <= 0 {
		return ErrInvalidTimeScale
	}
	if c.Frames < 0 {
		return ErrInvalidFrames
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidFormat, c.LogFormat)
	}
	return nil
}
