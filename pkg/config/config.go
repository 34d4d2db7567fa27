// Package config loads vpe settings from VPE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/ravi-parthasarathy/vpe/pkg/channel"
	"github.com/ravi-parthasarathy/vpe/pkg/compiler"
	"github.com/ravi-parthasarathy/vpe/pkg/logging"
	"github.com/ravi-parthasarathy/vpe/pkg/process"
)

// Prefix is prepended to every environment variable name.
const Prefix = "VPE"

// Config holds all runtime configuration.
type Config struct {
	FifoDir       string        `split_words:"true" default:"tmp"`
	Shell         string        `default:"/bin/sh"`
	DupTemplate   string        `split_words:"true" default:"vp dup {{.From}} {{.To}} {{.To2}}"`
	StopTimeout   time.Duration `split_words:"true" default:"2s"`
	LaunchPolicy  string        `split_words:"true" default:"best-effort"`
	ClearPolicy   string        `split_words:"true" default:"stop"`
	ReuseChannels bool          `split_words:"true" default:"true"`
	ReplaceStale  bool          `split_words:"true" default:"true"`
	Catalog       string
	Log           LogConfig
}

// LogConfig holds logging configuration (VPE_LOG_LEVEL, VPE_LOG_DEV).
type LogConfig struct {
	Level string `default:"info"`
	Dev   bool   `default:"false"`
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no variable is set.
func Default() *Config {
	return &Config{
		FifoDir:       channel.DefaultDir,
		Shell:         process.DefaultShell,
		DupTemplate:   compiler.DefaultDuplicator,
		StopTimeout:   process.DefaultStopTimeout,
		LaunchPolicy:  "best-effort",
		ClearPolicy:   "stop",
		ReuseChannels: true,
		ReplaceStale:  true,
		Log:           LogConfig{Level: "info"},
	}
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if err := channel.ValidateDir(c.FifoDir); err != nil {
		errs = append(errs, err)
	}
	if c.Shell == "" {
		errs = append(errs, errors.New("shell is empty"))
	}
	if c.StopTimeout <= 0 {
		errs = append(errs, fmt.Errorf("stop timeout %s must be positive", c.StopTimeout))
	}
	if _, err := process.ParseLaunchPolicy(c.LaunchPolicy); err != nil {
		errs = append(errs, err)
	}
	if _, err := process.ParseClearPolicy(c.ClearPolicy); err != nil {
		errs = append(errs, err)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Policies returns the parsed launch and clear policies.
func (c *Config) Policies() (process.LaunchPolicy, process.ClearPolicy, error) {
	lp, err := process.ParseLaunchPolicy(c.LaunchPolicy)
	if err != nil {
		return 0, 0, err
	}
	cp, err := process.ParseClearPolicy(c.ClearPolicy)
	if err != nil {
		return 0, 0, err
	}
	return lp, cp, nil
}

// Logging returns the logger configuration.
func (c *Config) Logging() logging.Config {
	return logging.Config{Level: c.Log.Level, Development: c.Log.Dev}
}
