package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"

	"github.com/sydlexius/corruptscan/internal/logging"
)

// relPath is where the config file lives below an XDG config directory.
const relPath = "corruptscan/config.yaml"

// Config holds all application configuration.
type Config struct {
	Scan     ScanConfig     `yaml:"scan"`
	Progress ProgressConfig `yaml:"progress"`
	Watch    WatchConfig    `yaml:"watch"`
	Output   OutputConfig   `yaml:"output"`
	Logging  logging.Config `yaml:"logging"`
}

// ScanConfig holds classification settings.
type ScanConfig struct {
	// Workers is the number of files classified concurrently. 1 keeps the
	// scan strictly sequential in enumeration order.
	Workers int `yaml:"workers"`
}

// ProgressConfig holds progress display settings.
type ProgressConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// WatchConfig holds --watch settings.
type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce"`
	// PollInterval applies when the root does not deliver fsnotify events,
	// as on many network mounts.
	PollInterval time.Duration `yaml:"poll_interval"`
}

// OutputConfig holds console output settings.
type OutputConfig struct {
	NoColor bool `yaml:"no_color"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Scan: ScanConfig{
			Workers: runtime.NumCPU(),
		},
		Progress: ProgressConfig{
			Interval: 250 * time.Millisecond,
		},
		Watch: WatchConfig{
			Debounce:     500 * time.Millisecond,
			PollInterval: 30 * time.Second,
		},
		Logging: logging.DefaultConfig(),
	}
}

// ResolvePath picks the config file to load: the explicit flag value, then
// CS_CONFIG_PATH, then corruptscan/config.yaml in the XDG config directories.
// An empty result means no config file.
func ResolvePath(flag string) string {
	if flag != "" {
		return flag
	}
	if v := os.Getenv("CS_CONFIG_PATH"); v != "" {
		return v
	}
	path, err := xdg.SearchConfigFile(relPath)
	if err != nil {
		return ""
	}
	return path
}

// Load reads config from a YAML file (if it exists) and overrides with
// environment variables. Environment variables take precedence.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	if err := cfg.loadFromEnv(); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the operator
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, c)
}

func (c *Config) loadFromEnv() error {
	if v := os.Getenv("CS_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CS_WORKERS: %w", err)
		}
		c.Scan.Workers = n
	}
	if v := os.Getenv("CS_PROGRESS_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("CS_PROGRESS_INTERVAL: %w", err)
		}
		c.Progress.Interval = d
	}
	if v := os.Getenv("CS_WATCH_DEBOUNCE"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("CS_WATCH_DEBOUNCE: %w", err)
		}
		c.Watch.Debounce = d
	}
	if v := os.Getenv("CS_WATCH_POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("CS_WATCH_POLL_INTERVAL: %w", err)
		}
		c.Watch.PollInterval = d
	}
	if v := os.Getenv("CS_NO_COLOR"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("CS_NO_COLOR: %w", err)
		}
		c.Output.NoColor = b
	}
	if v := os.Getenv("CS_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("CS_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("CS_LOG_FILE"); v != "" {
		c.Logging.FilePath = v
	}
	return nil
}

// Validate checks the merged configuration. A worker count of zero or less
// means one worker per CPU. main calls it again after applying flags.
func (c *Config) Validate() error {
	if c.Scan.Workers <= 0 {
		c.Scan.Workers = runtime.NumCPU()
	}
	if c.Progress.Interval <= 0 {
		return fmt.Errorf("invalid progress interval: %s", c.Progress.Interval)
	}
	if c.Watch.Debounce <= 0 {
		return fmt.Errorf("invalid watch debounce: %s", c.Watch.Debounce)
	}
	if c.Watch.PollInterval <= 0 {
		return fmt.Errorf("invalid watch poll interval: %s", c.Watch.PollInterval)
	}
	if !logging.ValidLevel(c.Logging.Level) {
		return fmt.Errorf("invalid log level: %q", c.Logging.Level)
	}
	if !logging.ValidFormat(c.Logging.Format) {
		return fmt.Errorf("invalid log format: %q", c.Logging.Format)
	}
	return nil
}
