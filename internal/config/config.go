package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/matheus3301/wallchat/internal/retry"
)

// TokenEnv overrides the configured API token when set.
const TokenEnv = "WALLCHAT_TOKEN"

// Config represents the global ~/.wallchat/config.toml.
type Config struct {
	DefaultAccount  string `toml:"default_account"`
	APIBaseURL      string `toml:"api_base_url"`
	PushURL         string `toml:"push_url"`
	UserID          string `toml:"user_id"`
	Token           string `toml:"token,omitempty"`
	HistoryPageSize int    `toml:"history_page_size"`
	LogLevel        string `toml:"log_level"`
	Retry           Retry  `toml:"retry"`
}

// Retry configures the backoff used for network calls and push reconnects.
type Retry struct {
	MaxAttempts int `toml:"max_attempts"`
	BaseDelayMs int `toml:"base_delay_ms"`
	MaxDelayMs  int `toml:"max_delay_ms"`
}

// Defaults returns the configuration used for keys missing from the file.
func Defaults() *Config {
	return &Config{
		DefaultAccount:  "main",
		HistoryPageSize: 50,
		LogLevel:        "info",
		Retry: Retry{
			MaxAttempts: retry.Default.MaxAttempts,
			BaseDelayMs: int(retry.Default.BaseDelay / time.Millisecond),
			MaxDelayMs:  int(retry.Default.MaxDelay / time.Millisecond),
		},
	}
}

// Load reads config from the given path on top of Defaults. Returns an error
// if the file is missing.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if tok := os.Getenv(TokenEnv); tok != "" {
		cfg.Token = tok
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// RetryPolicy converts the retry section into a retry.Policy.
func (c *Config) RetryPolicy() retry.Policy {
	return retry.NewPolicy(
		c.Retry.MaxAttempts,
		time.Duration(c.Retry.BaseDelayMs)*time.Millisecond,
		time.Duration(c.Retry.MaxDelayMs)*time.Millisecond,
	)
}

// Validate checks the fields the daemon needs to start.
func (c *Config) Validate() error {
	var errs []error
	if c.UserID == "" {
		errs = append(errs, errors.New("user_id is required"))
	}
	for name, raw := range map[string]string{"api_base_url": c.APIBaseURL, "push_url": c.PushURL} {
		u, err := url.Parse(raw)
		if raw == "" || err != nil || u.Host == "" {
			errs = append(errs, fmt.Errorf("%s %q is not an absolute url", name, raw))
		}
	}
	return errors.Join(errs...)
}
