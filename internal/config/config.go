// Package config handles lodgeline configuration loading and validation.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration structure.
type Config struct {
	// API settings for the remote property-management backend.
	API APIConfig `yaml:"api" mapstructure:"api"`

	// User identifies the local session owner.
	User UserConfig `yaml:"user" mapstructure:"user"`

	// Polling settings per view.
	Polling PollingConfig `yaml:"polling" mapstructure:"polling"`

	// Fetch pagination bounds.
	Fetch FetchConfig `yaml:"fetch" mapstructure:"fetch"`

	// MarkRead retry policy for optimistic read-state writes.
	MarkRead MarkReadConfig `yaml:"mark_read" mapstructure:"mark_read"`

	// Store settings for the local SQLite gateway.
	Store StoreConfig `yaml:"store" mapstructure:"store"`

	// Logging settings.
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`
}

// APIConfig contains remote gateway settings.
type APIConfig struct {
	// BaseURL is the REST API root, e.g. https://api.example.com/v1.
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`

	// Token is the bearer token identifying the local user.
	Token string `yaml:"token" mapstructure:"token"`

	// Timeout bounds a single HTTP round trip.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// UserConfig identifies the local user.
type UserConfig struct {
	// ID is the local user identifier; required for the SQLite gateway
	// and for aggregation.
	ID string `yaml:"id" mapstructure:"id"`
}

// PollingConfig contains per-view refresh intervals.
type PollingConfig struct {
	// ListInterval drives the conversation-list view.
	ListInterval time.Duration `yaml:"list_interval" mapstructure:"list_interval"`

	// ThreadInterval drives single-conversation views; shorter, since
	// staleness is more visible there.
	ThreadInterval time.Duration `yaml:"thread_interval" mapstructure:"thread_interval"`
}

// FetchConfig bounds feed pagination.
type FetchConfig struct {
	PageSize int `yaml:"page_size" mapstructure:"page_size"`
	MaxPages int `yaml:"max_pages" mapstructure:"max_pages"`
}

// MarkReadConfig controls mark-read retry behavior.
type MarkReadConfig struct {
	// RetryAfter is the age past which an unconfirmed intent is
	// reissued; defaults to the list poll interval.
	RetryAfter time.Duration `yaml:"retry_after" mapstructure:"retry_after"`

	// MaxAttempts before the failure is surfaced as retryable.
	MaxAttempts int `yaml:"max_attempts" mapstructure:"max_attempts"`
}

// StoreConfig configures the local SQLite gateway.
type StoreConfig struct {
	// Path is the SQLite database file; empty disables the local mode.
	Path string `yaml:"path" mapstructure:"path"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string `yaml:"level" mapstructure:"level"`

	// Format is the output format (json, console).
	Format string `yaml:"format" mapstructure:"format"`

	// EnableCaller adds caller information to logs.
	EnableCaller bool `yaml:"enable_caller" mapstructure:"enable_caller"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			Timeout: 15 * time.Second,
		},
		Polling: PollingConfig{
			ListInterval:   30 * time.Second,
			ThreadInterval: 10 * time.Second,
		},
		Fetch: FetchConfig{
			PageSize: 50,
			MaxPages: 20,
		},
		MarkRead: MarkReadConfig{
			MaxAttempts: 5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	if c.User.ID == "" {
		return fmt.Errorf("user.id is required")
	}
	if c.API.BaseURL == "" && c.Store.Path == "" {
		return fmt.Errorf("either api.base_url or store.path must be set")
	}
	if c.Polling.ListInterval <= 0 || c.Polling.ThreadInterval <= 0 {
		return fmt.Errorf("polling intervals must be positive")
	}
	if c.Fetch.PageSize <= 0 {
		return fmt.Errorf("fetch.page_size must be positive")
	}
	if c.MarkRead.MaxAttempts <= 0 {
		return fmt.Errorf("mark_read.max_attempts must be positive")
	}
	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal":
	default:
		return fmt.Errorf("invalid logging level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid logging format %q", c.Logging.Format)
	}
	return nil
}
