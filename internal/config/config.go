package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds all application configuration
type Config struct {
	Version    int              `toml:"version"`
	Account    AccountConfig    `toml:"account"`
	Collection CollectionConfig `toml:"collection"`
	Browser    BrowserConfig    `toml:"browser"`
	Media      MediaConfig      `toml:"media"`
	Storage    StorageConfig    `toml:"storage"`
	Logging    LoggingConfig    `toml:"logging"`
	Schedule   ScheduleConfig   `toml:"schedule"`
}

type AccountConfig struct {
	// Handle is the account whose likes are archived. When empty it is
	// resolved from the logged-in session's profile link.
	Handle string `toml:"handle"`
}

type CollectionConfig struct {
	IncrementalMaxScrolls int `toml:"incremental_max_scrolls"`
	BackfillMaxScrolls    int `toml:"backfill_max_scrolls"`
	StallScrollLimit      int `toml:"stall_scroll_limit"`
	ScrollSettleMs        int `toml:"scroll_settle_ms"`
	ThreadMaxScrolls      int `toml:"thread_max_scrolls"`
}

type BrowserConfig struct {
	Headless       bool   `toml:"headless"`
	ProfileDir     string `toml:"profile_dir"`
	ChromePath     string `toml:"chrome_path"`
	LoginWaitMins  int    `toml:"login_wait_minutes"`
	NavTimeoutSecs int    `toml:"nav_timeout_seconds"`
}

type MediaConfig struct {
	Concurrency       int `toml:"concurrency"`
	FetchTimeoutSecs  int `toml:"fetch_timeout_seconds"`
	RequestsPerMinute int `toml:"requests_per_minute"`
}

type StorageConfig struct {
	// DataDir is where the database, media and run snapshots live.
	// When empty the default per-user location is used.
	DataDir string `toml:"data_dir"`
}

type LoggingConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

type ScheduleConfig struct {
	Enabled       bool `toml:"enabled"`
	IntervalHours int  `toml:"interval_hours"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	return &Config{
		Version: 1,
		Collection: CollectionConfig{
			IncrementalMaxScrolls: 20,
			BackfillMaxScrolls:    400,
			StallScrollLimit:      3,
			ScrollSettleMs:        1500,
			ThreadMaxScrolls:      10,
		},
		Browser: BrowserConfig{
			Headless:       true,
			LoginWaitMins:  5,
			NavTimeoutSecs: 45,
		},
		Media: MediaConfig{
			Concurrency:       5,
			FetchTimeoutSecs:  60,
			RequestsPerMinute: 120,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Schedule: ScheduleConfig{
			Enabled:       true,
			IntervalHours: 6,
		},
	}
}

// ConfigDir returns the platform-appropriate config directory
func ConfigDir() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "likevault"), nil
}

// ConfigPath returns the full path to the config file
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// Load reads config from disk
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}

	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadOrDefault reads config from disk, falling back to (and saving)
// defaults when no config file exists yet.
func LoadOrDefault() (*Config, error) {
	cfg, err := Load()
	if err == nil {
		return cfg, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}
	cfg = Default()
	if err := cfg.Save(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes config to disk
func (c *Config) Save() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	path, err := ConfigPath()
	if err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(c)
}

// DataDir returns the resolved data directory, creating nothing.
func (c *Config) DataDir() (string, error) {
	if c.Storage.DataDir != "" {
		return c.Storage.DataDir, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "data"), nil
}

// DatabasePath returns the sqlite file location under the data dir.
func (c *Config) DatabasePath() (string, error) {
	dir, err := c.DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "likevault.db"), nil
}

// MediaDir returns the media archive root under the data dir.
func (c *Config) MediaDir() (string, error) {
	dir, err := c.DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "media"), nil
}

// RunsDir returns where per-run snapshots are written.
func (c *Config) RunsDir() (string, error) {
	dir, err := c.DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "runs"), nil
}

// SessionPath returns the session snapshot file location.
func (c *Config) SessionPath() (string, error) {
	dir, err := c.DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "session.json"), nil
}

// ProfileDir returns the browser profile directory. The profile is
// owned by the app so logins survive between runs without touching the
// user's own browser.
func (c *Config) ProfileDir() (string, error) {
	if c.Browser.ProfileDir != "" {
		return c.Browser.ProfileDir, nil
	}
	dir, err := c.DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "profile"), nil
}

// SelectorsPath returns the optional selector override file location.
func (c *Config) SelectorsPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "selectors.yaml"), nil
}

func (c *CollectionConfig) ScrollSettle() time.Duration {
	return time.Duration(c.ScrollSettleMs) * time.Millisecond
}

func (c *CollectionConfig) MaxScrolls(backfill bool) int {
	if backfill {
		return c.BackfillMaxScrolls
	}
	return c.IncrementalMaxScrolls
}

func (b *BrowserConfig) LoginWait() time.Duration {
	return time.Duration(b.LoginWaitMins) * time.Minute
}

func (b *BrowserConfig) NavTimeout() time.Duration {
	return time.Duration(b.NavTimeoutSecs) * time.Second
}

func (m *MediaConfig) FetchTimeout() time.Duration {
	return time.Duration(m.FetchTimeoutSecs) * time.Second
}
