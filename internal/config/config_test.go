package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "/login", cfg.SignInPath)
	assert.Equal(t, DriverFile, cfg.Store.Driver)
	assert.Equal(t, 15*time.Minute, cfg.Session.Timeout)
	assert.Equal(t, 2*time.Minute, cfg.Session.WarningWindow)
	assert.Equal(t, 30*time.Second, cfg.Session.PollInterval)
	assert.Equal(t, time.Minute, cfg.Session.RefreshInterval)
	assert.Equal(t, 10*time.Second, cfg.Supabase.Timeout)

	// no project configured yet
	require.Error(t, cfg.Validate())
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
supabase:
  url: https://abcd.supabase.co
  anon_key: anon
store:
  driver: redis
  redis_addr: localhost:6379
session:
  timeout: 30m
  warning_window: 5m
sign_in_path: /signin
`), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "https://abcd.supabase.co", cfg.Supabase.URL)
	assert.Equal(t, DriverRedis, cfg.Store.Driver)
	assert.Equal(t, 30*time.Minute, cfg.Session.Timeout)
	assert.Equal(t, 5*time.Minute, cfg.Session.WarningWindow)
	assert.Equal(t, "/signin", cfg.SignInPath)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("supabase: [unclosed"), 0600))

	_, err := Load(path)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{Supabase: Supabase{URL: "https://abcd.supabase.co", AnonKey: "anon"}}
		cfg.ApplyDefaults()
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "bad url", mutate: func(c *Config) { c.Supabase.URL = "not a url" }, wantErr: "URL"},
		{name: "missing anon key", mutate: func(c *Config) { c.Supabase.AnonKey = "" }, wantErr: "AnonKey"},
		{name: "unknown driver", mutate: func(c *Config) { c.Store.Driver = "etcd" }, wantErr: "Driver"},
		{name: "redis without addr", mutate: func(c *Config) { c.Store.Driver = DriverRedis }, wantErr: "RedisAddr"},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Store.Driver = DriverPostgres }, wantErr: "PostgresDSN"},
		{name: "postgres with dsn", mutate: func(c *Config) {
			c.Store.Driver = DriverPostgres
			c.Store.PostgresDSN = "postgres://localhost/caseguard"
		}},
		{name: "warning longer than timeout", mutate: func(c *Config) { c.Session.WarningWindow = time.Hour }, wantErr: "WarningWindow"},
		{name: "timeout too short", mutate: func(c *Config) { c.Session.Timeout = time.Second }, wantErr: "Timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
