package model

import (
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Keys accepted by RunnerConfig.Set. Durations are expressed in milliseconds.
const (
	KeyPath             = "path"
	KeyMaxRunning       = "maxRunning"
	KeyTimeout          = "timeout"
	KeyTerminateGraceMs = "terminateGraceMs"
	KeyTerminateForceMs = "terminateForceMs"
	KeyLineBufferSize   = "lineBufferSize"
	KeyCharBufferSize   = "charBufferSize"
)

const envPrefix = "TASKRUNNER"

// MaxMillis is the largest number of milliseconds a time.Duration can hold.
const MaxMillis = int64(math.MaxInt64 / time.Millisecond)

// Config is the content of taskrunner.yaml.
type Config struct {
	Runner  RunnerConfig `mapstructure:"runner" yaml:"runner"`
	Service Service      `mapstructure:"service" yaml:"service"`
}

// RunnerConfig holds the mutable parameters of a task runner.
type RunnerConfig struct {
	Path           string        `mapstructure:"path" yaml:"path"` // default working directory
	MaxRunning     int           `mapstructure:"max_running" yaml:"max_running"`
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout,omitempty"` // zero means no timeout
	TerminateGrace time.Duration `mapstructure:"terminate_grace" yaml:"terminate_grace"`
	TerminateForce time.Duration `mapstructure:"terminate_force" yaml:"terminate_force"`
	LineBufferSize int           `mapstructure:"line_buffer_size" yaml:"line_buffer_size"`
	CharBufferSize int           `mapstructure:"char_buffer_size" yaml:"char_buffer_size"`
}

// Service configures the process hosting the runner.
type Service struct {
	Verbose     bool   `mapstructure:"verbose" yaml:"verbose"`
	MetricsAddr string `mapstructure:"metrics_addr" yaml:"metrics_addr,omitempty"` // e.g. 127.0.0.1:9464, empty disables
}

func DefaultConfig() Config {
	path, err := os.Getwd()
	if err != nil {
		path = "."
	}
	return Config{
		Runner: RunnerConfig{
			Path:           path,
			MaxRunning:     4,
			TerminateGrace: 5 * time.Second,
			TerminateForce: 2 * time.Second,
			LineBufferSize: 10000,
			CharBufferSize: 100000,
		},
	}
}

// LoadConfig reads YAML from r, applies TASKRUNNER_* environment overrides
// (e.g. TASKRUNNER_RUNNER_MAX_RUNNING) and validates the result.
// A nil reader yields the defaults plus environment overrides.
func LoadConfig(r io.Reader) (Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	d := DefaultConfig()
	v.SetDefault("runner.path", d.Runner.Path)
	v.SetDefault("runner.max_running", d.Runner.MaxRunning)
	v.SetDefault("runner.timeout", d.Runner.Timeout)
	v.SetDefault("runner.terminate_grace", d.Runner.TerminateGrace)
	v.SetDefault("runner.terminate_force", d.Runner.TerminateForce)
	v.SetDefault("runner.line_buffer_size", d.Runner.LineBufferSize)
	v.SetDefault("runner.char_buffer_size", d.Runner.CharBufferSize)
	v.SetDefault("service.verbose", d.Service.Verbose)
	v.SetDefault("service.metrics_addr", d.Service.MetricsAddr)

	if r != nil {
		if err := v.ReadConfig(r); err != nil {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}

	if cfg.Runner.Path != "" {
		abs, err := filepath.Abs(cfg.Runner.Path)
		if err != nil {
			return Config{}, fmt.Errorf("runner.path: %w", err)
		}
		cfg.Runner.Path = abs
	}
	if err := cfg.Runner.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the whole configuration at once, Set checks a single key.
func (c RunnerConfig) Validate() error {
	switch {
	case strings.TrimSpace(c.Path) == "":
		return fmt.Errorf("%w: path must not be empty", ErrInvalidValue)
	case c.MaxRunning < 1:
		return fmt.Errorf("%w: max_running must be a positive integer, got %d", ErrInvalidValue, c.MaxRunning)
	case c.Timeout < 0:
		return fmt.Errorf("%w: timeout must not be negative, got %s", ErrInvalidValue, c.Timeout)
	case c.TerminateGrace < 0:
		return fmt.Errorf("%w: terminate_grace must not be negative, got %s", ErrInvalidValue, c.TerminateGrace)
	case c.TerminateForce < 0:
		return fmt.Errorf("%w: terminate_force must not be negative, got %s", ErrInvalidValue, c.TerminateForce)
	case c.LineBufferSize < 1:
		return fmt.Errorf("%w: line_buffer_size must be a positive integer, got %d", ErrInvalidValue, c.LineBufferSize)
	case c.CharBufferSize < 1:
		return fmt.Errorf("%w: char_buffer_size must be a positive integer, got %d", ErrInvalidValue, c.CharBufferSize)
	}
	return nil
}

// Set validates value and stores it under key. Numbers may be any Go integer or
// float type, a json.Number or a numeric string. A nil value clears the timeout.
// On error c is left untouched.
func (c *RunnerConfig) Set(key string, value any) error {
	switch key {
	case KeyPath:
		s, ok := value.(string)
		if !ok || strings.TrimSpace(s) == "" {
			return fmt.Errorf("%w: %s must be a non-empty string", ErrInvalidValue, key)
		}
		abs, err := filepath.Abs(s)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidValue, key, err)
		}
		c.Path = abs
	case KeyMaxRunning:
		n, err := positiveInt(key, value)
		if err != nil {
			return err
		}
		c.MaxRunning = n
	case KeyTimeout:
		if value == nil {
			c.Timeout = 0
			return nil
		}
		ms, err := number(key, value)
		if err != nil {
			return err
		}
		if ms <= 0 || ms > float64(MaxMillis) {
			return fmt.Errorf("%w: %s must be a positive number of milliseconds up to %d", ErrInvalidValue, key, MaxMillis)
		}
		c.Timeout = millis(ms)
	case KeyTerminateGraceMs, KeyTerminateForceMs:
		ms, err := number(key, value)
		if err != nil {
			return err
		}
		if ms < 0 || ms > float64(MaxMillis) {
			return fmt.Errorf("%w: %s must be a non-negative number of milliseconds up to %d", ErrInvalidValue, key, MaxMillis)
		}
		if key == KeyTerminateGraceMs {
			c.TerminateGrace = millis(ms)
		} else {
			c.TerminateForce = millis(ms)
		}
	case KeyLineBufferSize:
		n, err := positiveInt(key, value)
		if err != nil {
			return err
		}
		c.LineBufferSize = n
	case KeyCharBufferSize:
		n, err := positiveInt(key, value)
		if err != nil {
			return err
		}
		c.CharBufferSize = n
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	return nil
}

// millis converts whole milliseconds exactly, ms must not exceed MaxMillis.
func millis(ms float64) time.Duration {
	whole, frac := math.Modf(ms)
	return time.Duration(whole)*time.Millisecond + time.Duration(frac*float64(time.Millisecond))
}
