package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// BasicAuthConfig holds HTTP Basic Auth credentials for the web API.
// PasswordHash is a bcrypt hash (see the hash-password command).
type BasicAuthConfig struct {
	Username     string `yaml:"username" json:"username"`
	PasswordHash string `yaml:"password_hash" json:"-"`
}

// CaptureConfig controls the month-view PNG snapshot.
type CaptureConfig struct {
	// URL of the page to capture. Empty means http://<listen>/calendar.
	URL    string `yaml:"url" json:"url"`
	Output string `yaml:"output" json:"output"`
	Width  int    `yaml:"width" json:"width"`
	Height int    `yaml:"height" json:"height"`
}

// Config is the top-level application configuration.
type Config struct {
	// DataFile is the flat event file; its directory is created on demand.
	DataFile string `yaml:"data_file" json:"data_file"`

	// Listen is the HTTP listen address for the web API.
	Listen string `yaml:"listen" json:"listen"`

	// WeekStart controls which weekday starts a week in week views.
	// Supported values:
	//   - "sunday" (default)
	//   - "monday"
	WeekStart string `yaml:"week_start" json:"week_start"`

	// ReminderCron is a robfig/cron schedule for the reminder scan,
	// e.g. "@every 20s" or "*/1 * * * *".
	ReminderCron string `yaml:"reminder_cron" json:"reminder_cron"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`

	Capture CaptureConfig `yaml:"capture" json:"capture"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		DataFile:     "data/events.csv",
		Listen:       "127.0.0.1:8080",
		WeekStart:    "sunday",
		ReminderCron: "@every 20s",
		LogLevel:     "info",
		BasicAuth:    nil,
		Capture: CaptureConfig{
			Output: "data/calendar.png",
			Width:  1200,
			Height: 900,
		},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.DataFile == "" {
		c.DataFile = def.DataFile
	}
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	switch strings.ToLower(c.WeekStart) {
	case "monday", "sunday":
		c.WeekStart = strings.ToLower(c.WeekStart)
	default:
		// Unknown value; fall back to sunday to match the month grid.
		c.WeekStart = def.WeekStart
	}
	if c.ReminderCron == "" {
		c.ReminderCron = def.ReminderCron
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.BasicAuth != nil && (c.BasicAuth.Username == "" || c.BasicAuth.PasswordHash == "") {
		c.BasicAuth = nil
	}
	if c.Capture.Output == "" {
		c.Capture.Output = def.Capture.Output
	}
	if c.Capture.Width <= 0 {
		c.Capture.Width = def.Capture.Width
	}
	if c.Capture.Height <= 0 {
		c.Capture.Height = def.Capture.Height
	}
}

// WeekStartDay returns WeekStart as a time.Weekday.
func (c *Config) WeekStartDay() time.Weekday {
	if c.WeekStart == "monday" {
		return time.Monday
	}
	return time.Sunday
}

// CaptureURL returns the page used for snapshots.
func (c *Config) CaptureURL() string {
	if c.Capture.URL != "" {
		return c.Capture.URL
	}
	return "http://" + c.Listen + "/calendar"
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600
// permissions, creating the parent directory (0700) if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".calsched-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}
