package dommark

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the service configuration, loaded from YAML.
type Config struct {
	// DBPath is the SQLite database file. Default: dommark.db.
	DBPath string `yaml:"db_path"`

	// Addr is the HTTP dashboard listen address. Default: :8479.
	Addr string `yaml:"addr"`

	// ContextLen is the prefix/suffix capture length in runes used when
	// minting anchors. Default: 30.
	ContextLen int `yaml:"context_len"`

	// DefaultColor for new highlights. Default: yellow.
	DefaultColor string `yaml:"default_color"`

	Fetch  FetchConfig  `yaml:"fetch"`
	Watch  WatchConfig  `yaml:"watch"`
	Repair RepairConfig `yaml:"repair"`
}

// FetchConfig tunes document acquisition.
type FetchConfig struct {
	// TimeoutSec is the HTTP timeout in seconds. Default: 30.
	TimeoutSec int `yaml:"timeout_sec"`
	// MaxBytes caps response bodies. Default: 10MB.
	MaxBytes int64 `yaml:"max_bytes"`
	// UserAgent sent with requests.
	UserAgent string `yaml:"user_agent"`
	// BrowserWSURL is the WebSocket URL of an external Chrome. When set,
	// pages are fetched through the browser so script-built text is
	// present before restoration.
	BrowserWSURL string `yaml:"browser_ws_url"`
	// UseBrowser forces the browser path even without a remote URL
	// (a local Chrome is launched).
	UseBrowser bool `yaml:"use_browser"`
}

// WatchConfig tunes the out-of-band write watcher.
type WatchConfig struct {
	// IntervalMS is the polling frequency in milliseconds. Default: 1000.
	IntervalMS int `yaml:"interval_ms"`
	// DebounceMS is the quiet window after a change. Default: 250.
	DebounceMS int `yaml:"debounce_ms"`
}

// RepairConfig tunes the drift sweep.
type RepairConfig struct {
	// Concurrency bounds parallel page fetches. Default: 4.
	Concurrency int `yaml:"concurrency"`
	// IntervalMin is the sweep period in minutes. Default: 360 (6h).
	IntervalMin int `yaml:"interval_min"`
}

func (c *Config) defaults() {
	if c.DBPath == "" {
		c.DBPath = "dommark.db"
	}
	if c.Addr == "" {
		c.Addr = ":8479"
	}
	if c.ContextLen <= 0 {
		c.ContextLen = 30
	}
	if c.DefaultColor == "" {
		c.DefaultColor = "yellow"
	}
	if c.Fetch.TimeoutSec <= 0 {
		c.Fetch.TimeoutSec = 30
	}
	if c.Fetch.MaxBytes <= 0 {
		c.Fetch.MaxBytes = 10 * 1024 * 1024
	}
	if c.Watch.IntervalMS <= 0 {
		c.Watch.IntervalMS = 1000
	}
	if c.Watch.DebounceMS <= 0 {
		c.Watch.DebounceMS = 250
	}
	if c.Repair.Concurrency <= 0 {
		c.Repair.Concurrency = 4
	}
	if c.Repair.IntervalMin <= 0 {
		c.Repair.IntervalMin = 360
	}
}

// FetchTimeout returns the HTTP timeout as a duration.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSec) * time.Second
}

// RepairInterval returns the sweep period as a duration.
func (c *Config) RepairInterval() time.Duration {
	return time.Duration(c.Repair.IntervalMin) * time.Minute
}

// WatchInterval returns the poll interval as a duration.
func (c *Config) WatchInterval() time.Duration {
	return time.Duration(c.Watch.IntervalMS) * time.Millisecond
}

// WatchDebounce returns the debounce window as a duration.
func (c *Config) WatchDebounce() time.Duration {
	return time.Duration(c.Watch.DebounceMS) * time.Millisecond
}

// LoadConfigFile reads and validates a YAML config file. A missing path
// yields the defaults.
func LoadConfigFile(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("dommark: read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("dommark: parse config: %w", err)
		}
	}
	cfg.defaults()
	return &cfg, nil
}
