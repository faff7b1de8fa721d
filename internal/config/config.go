// Package config loads the caseguard configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	DriverFile     = "file"
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
)

// Config is the on-disk configuration.
type Config struct {
	Supabase   Supabase `yaml:"supabase"`
	Store      Store    `yaml:"store"`
	Session    Session  `yaml:"session"`
	SignInPath string   `yaml:"sign_in_path"`
}

// Supabase holds the project connection settings.
type Supabase struct {
	URL      string        `yaml:"url"`
	AnonKey  string        `yaml:"anon_key"`
	Timeout  time.Duration `yaml:"timeout"`
	CacheDir string        `yaml:"cache_dir"`
}

// Store selects where session state is persisted.
type Store struct {
	Driver      string `yaml:"driver"`
	Path        string `yaml:"path"`
	RedisAddr   string `yaml:"redis_addr"`
	PostgresDSN string `yaml:"postgres_dsn"`
	Namespace   string `yaml:"namespace"`
}

// Session holds the inactivity policy.
type Session struct {
	Timeout         time.Duration `yaml:"timeout"`
	WarningWindow   time.Duration `yaml:"warning_window"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

// DefaultDir returns ~/.caseguard.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".caseguard"), nil
}

// Load reads the file at path. A missing file yields the defaults. An empty
// path means ~/.caseguard/config.yaml.
func Load(path string) (*Config, error) {
	if path == "" {
		dir, err := DefaultDir()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(dir, "config.yaml")
	}

	cfg := &Config{}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.ApplyDefaults()
	return cfg, nil
}

// ApplyDefaults applies default values to unset configuration fields.
func (c *Config) ApplyDefaults() {
	if c.SignInPath == "" {
		c.SignInPath = "/login"
	}
	if c.Supabase.Timeout == 0 {
		c.Supabase.Timeout = 10 * time.Second
	}
	if c.Store.Driver == "" {
		c.Store.Driver = DriverFile
	}
	if c.Session.Timeout == 0 {
		c.Session.Timeout = 15 * time.Minute
	}
	if c.Session.WarningWindow == 0 {
		c.Session.WarningWindow = 2 * time.Minute
	}
	if c.Session.PollInterval == 0 {
		c.Session.PollInterval = 30 * time.Second
	}
	if c.Session.RefreshInterval == 0 {
		c.Session.RefreshInterval = 60 * time.Second
	}
}

// Validate checks the configuration is complete and consistent.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Supabase),
		validation.Field(&c.Store),
		validation.Field(&c.Session),
		validation.Field(&c.SignInPath, validation.Required),
	)
}

// Validate checks the project settings.
func (s Supabase) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.URL, validation.Required, is.URL),
		validation.Field(&s.AnonKey, validation.Required),
		validation.Field(&s.Timeout, validation.Min(time.Second)),
	)
}

// Validate checks the driver has what it needs.
func (s Store) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Driver, validation.Required, validation.In(DriverFile, DriverMemory, DriverRedis, DriverPostgres)),
		validation.Field(&s.RedisAddr, validation.By(requiredFor(s.Driver, DriverRedis))),
		validation.Field(&s.PostgresDSN, validation.By(requiredFor(s.Driver, DriverPostgres))),
	)
}

// Validate checks the inactivity policy is coherent.
func (s Session) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Timeout, validation.Min(time.Minute)),
		validation.Field(&s.WarningWindow, validation.Min(time.Second), validation.Max(s.Timeout)),
		validation.Field(&s.PollInterval, validation.Min(time.Second)),
		validation.Field(&s.RefreshInterval, validation.Min(time.Second)),
	)
}

func requiredFor(driver, want string) validation.RuleFunc {
	return func(value any) error {
		if driver != want {
			return nil
		}
		if s, _ := value.(string); s == "" {
			return fmt.Errorf("required for the %s driver", want)
		}
		return nil
	}
}
