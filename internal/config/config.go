// Package config loads and validates the daemon configuration. A
// configuration error is fatal at startup; nothing here is consulted
// again at request time.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Duration wraps time.Duration so YAML values like "15m" parse.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Default file locations, following the host layout under /etc/luigi
// and /var/log/luigi.
const (
	DefaultPath         = "/etc/luigi/luigid.yaml"
	DefaultRegistryPath = "/etc/luigi/modules.yaml"
	DefaultSecretsPath  = "/etc/luigi/secrets.json"
	DefaultAuditLogPath = "/var/log/luigi/audit.log"
	DefaultAuditDBPath  = "/var/log/luigi/audit.db"
)

// Config is the complete daemon configuration.
type Config struct {
	Listen   string        `yaml:"listen"`
	TLS      TLSConfig     `yaml:"tls"`
	Secrets  string        `yaml:"secrets"`
	Registry string        `yaml:"registry"`
	Audit    AuditConfig   `yaml:"audit"`
	Limits   LimitsConfig  `yaml:"limits"`
	Command  CommandConfig `yaml:"command"`
	Log      LogConfig     `yaml:"log"`

	// TrustedProxies lists proxy addresses whose forwarding headers are
	// believed when resolving the client IP. Empty means headers are
	// ignored and the connection peer is the client.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// TLSConfig holds the certificate pair. Both empty means plaintext,
// which the daemon warns about at startup.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// Enabled reports whether a certificate pair is configured.
func (t TLSConfig) Enabled() bool {
	return t.CertFile != "" && t.KeyFile != ""
}

// AuditConfig holds the audit trail locations and rotation policy.
type AuditConfig struct {
	LogPath       string `yaml:"log_path"`
	DBPath        string `yaml:"db_path"`
	MaxBytes      int64  `yaml:"max_bytes"`
	Backups       int    `yaml:"backups"`
	RetentionDays int    `yaml:"retention_days"`
}

// LimitsConfig holds the rate-limit ceilings per tier.
type LimitsConfig struct {
	GlobalLimit     int      `yaml:"global_limit"`
	GlobalWindow    Duration `yaml:"global_window"`
	AuthLimit       int      `yaml:"auth_limit"`
	AuthWindow      Duration `yaml:"auth_window"`
	SensitiveLimit  int      `yaml:"sensitive_limit"`
	SensitiveWindow Duration `yaml:"sensitive_window"`
}

// CommandConfig holds process execution settings.
type CommandConfig struct {
	Timeout Duration `yaml:"timeout"`
}

// LogConfig holds application logging settings.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Listen:   "0.0.0.0:8443",
		Secrets:  DefaultSecretsPath,
		Registry: DefaultRegistryPath,
		Audit: AuditConfig{
			LogPath:       DefaultAuditLogPath,
			DBPath:        DefaultAuditDBPath,
			MaxBytes:      5 * 1024 * 1024,
			Backups:       5,
			RetentionDays: 90,
		},
		Limits: LimitsConfig{
			GlobalLimit:     100,
			GlobalWindow:    Duration(15 * time.Minute),
			AuthLimit:       5,
			AuthWindow:      Duration(15 * time.Minute),
			SensitiveLimit:  20,
			SensitiveWindow: Duration(time.Minute),
		},
		Command: CommandConfig{Timeout: Duration(30 * time.Second)},
		Log:     LogConfig{Level: "info"},
	}
}

// Load reads the config file at path, applies defaults for anything
// unset, and validates the result. path may be empty for the default
// location; a missing default file yields the built-in configuration.
func Load(path string) (*Config, error) {
	usingDefault := path == ""
	if usingDefault {
		path = DefaultPath
	}

	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if usingDefault && os.IsNotExist(err) {
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks the configuration for fatal misconfigurations.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return errors.New("listen address is required")
	}
	if c.Secrets == "" {
		return errors.New("secrets path is required")
	}
	if c.Registry == "" {
		return errors.New("registry path is required")
	}
	if c.Audit.LogPath == "" {
		return errors.New("audit log path is required")
	}
	if c.Audit.MaxBytes <= 0 {
		return errors.New("audit max_bytes must be positive")
	}
	if c.Audit.Backups < 0 {
		return errors.New("audit backups cannot be negative")
	}

	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		return errors.New("tls cert_file and key_file must be set together")
	}

	if c.Limits.GlobalLimit <= 0 || c.Limits.AuthLimit <= 0 || c.Limits.SensitiveLimit <= 0 {
		return errors.New("rate limits must be positive")
	}
	if c.Limits.GlobalWindow <= 0 || c.Limits.AuthWindow <= 0 || c.Limits.SensitiveWindow <= 0 {
		return errors.New("rate limit windows must be positive")
	}

	if c.Command.Timeout <= 0 {
		return errors.New("command timeout must be positive")
	}

	for _, p := range c.TrustedProxies {
		if net.ParseIP(p) == nil {
			return fmt.Errorf("invalid trusted proxy address: %s", p)
		}
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level: %s", c.Log.Level)
	}

	return nil
}
