// Package config loads acpx's configuration from defaults, a YAML file, and
// ACPX_* environment variables, in that precedence order (lowest to
// highest), the way github.com/spf13/viper and the mapstructure decode-hook
// pattern are used across this codebase's pack.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is acpx's process-wide configuration.
type Config struct {
	Logging    LoggingConfig    `mapstructure:"logging"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Permission PermissionConfig `mapstructure:"permission"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

// LoggingConfig controls zap's output (internal/logger).
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// QueueConfig carries owner-runtime defaults that aren't fixed protocol
// constants (those live in internal/constants).
type QueueConfig struct {
	DefaultTTLMs int `mapstructure:"default_ttl_ms"`
}

// PermissionConfig carries the default permission policy applied when a
// submit_prompt request doesn't override it (spec §6 --permission-mode,
// --non-interactive-permissions, --auth-policy).
type PermissionConfig struct {
	Mode                      string `mapstructure:"mode"`
	NonInteractivePermissions string `mapstructure:"non_interactive_permissions"`
	AuthPolicy                string `mapstructure:"auth_policy"`
}

// MetricsConfig controls the optional Prometheus HTTP endpoint (SPEC_FULL §S.6).
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// Default returns acpx's built-in defaults, used when no config file exists
// and no environment override is set.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Queue:   QueueConfig{DefaultTTLMs: 300000},
		Permission: PermissionConfig{
			Mode:       "acceptEdits",
			AuthPolicy: "on-request",
		},
		Metrics: MetricsConfig{Enabled: false, Addr: "127.0.0.1:9464"},
	}
}

// Load reads configuration from configPath (if non-empty and it exists),
// overlays ACPX_* environment variables, and falls back to Default() for
// anything unset.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ACPX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		dir := defaultConfigDir()
		v.AddConfigPath(dir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("queue.default_ttl_ms", d.Queue.DefaultTTLMs)
	v.SetDefault("permission.mode", d.Permission.Mode)
	v.SetDefault("permission.auth_policy", d.Permission.AuthPolicy)
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.addr", d.Metrics.Addr)
}

// defaultConfigDir is $XDG_CONFIG_HOME/acpx, or ~/.config/acpx, or "." as a
// last resort (mirrors the pack's dittofs-style config-dir resolution).
func defaultConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "acpx")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "acpx")
}
