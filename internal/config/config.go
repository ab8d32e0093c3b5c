// Package config handles application configuration using Viper.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

const (
	// AppName is the application name, used to derive the config directory.
	AppName = "xec"
	// ConfigFileName is the name of the config file (without extension).
	ConfigFileName = "config"
	// ConfigFileExt is the config file extension.
	ConfigFileExt = "toml"
)

var (
	// globalConfig holds the loaded configuration.
	globalConfig *Config
	// configPath stores the path where config was loaded from.
	configPath string
)

// ConfigDir returns the engine's configuration directory.
func ConfigDir() (string, error) {
	if configDirOverride != "" {
		return filepath.Join(configDirOverride, AppName), nil
	}

	var configDir string

	switch runtime.GOOS {
	case "windows":
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, "Library", "Application Support")
	default: // Linux and others
		configDir = os.Getenv("XDG_CONFIG_HOME")
		if configDir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			configDir = filepath.Join(home, ".config")
		}
	}

	return filepath.Join(configDir, AppName), nil
}

// Load reads and parses the configuration file, falling back to defaults
// when no file is present.
func Load() (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	v := viper.New()
	v.SetConfigName(ConfigFileName)
	v.SetConfigType(ConfigFileExt)

	cfgDir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	v.AddConfigPath(cfgDir)
	v.AddConfigPath(".")

	setDefaults(v, DefaultConfig())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			globalConfig = DefaultConfig()
			return globalConfig, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	configPath = v.ConfigFileUsed()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	globalConfig = &cfg
	return globalConfig, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("default_adapter", d.DefaultAdapter)
	v.SetDefault("max_buffer", d.MaxBuffer)

	v.SetDefault("ssh.enabled", d.SSH.Enabled)
	v.SetDefault("ssh.max_connections", d.SSH.MaxConnections)
	v.SetDefault("ssh.idle_timeout", d.SSH.IdleTimeout)
	v.SetDefault("ssh.keep_alive", d.SSH.KeepAlive)
	v.SetDefault("ssh.keep_alive_interval", d.SSH.KeepAliveInterval)
	v.SetDefault("ssh.auto_reconnect", d.SSH.AutoReconnect)
	v.SetDefault("ssh.max_reconnect_attempts", d.SSH.MaxReconnectAttempts)
	v.SetDefault("ssh.reconnect_delay", d.SSH.ReconnectDelay)

	v.SetDefault("container.engine", d.Container.Engine)
	v.SetDefault("container.auto_provision.enabled", d.Container.AutoProvision.Enabled)
	v.SetDefault("container.auto_provision.binary_path", d.Container.AutoProvision.BinaryPath)
	v.SetDefault("container.auto_provision.cache_dir", d.Container.AutoProvision.CacheDir)

	v.SetDefault("kubernetes.context", d.Kubernetes.Context)
	v.SetDefault("kubernetes.namespace", d.Kubernetes.Namespace)
	v.SetDefault("kubernetes.kubeconfig_path", d.Kubernetes.KubeconfigPath)

	v.SetDefault("retry.max_retries", d.Retry.MaxRetries)
	v.SetDefault("retry.initial_delay", d.Retry.InitialDelay)
	v.SetDefault("retry.backoff_multiplier", d.Retry.BackoffMultiplier)
	v.SetDefault("retry.max_delay", d.Retry.MaxDelay)
	v.SetDefault("retry.jitter_fraction", d.Retry.JitterFraction)

	v.SetDefault("cache.enabled", d.Cache.Enabled)
	v.SetDefault("cache.default_ttl", d.Cache.DefaultTTL)
	v.SetDefault("cache.max_entries", d.Cache.MaxEntries)

	v.SetDefault("ui.color_scheme", d.UI.ColorScheme)
	v.SetDefault("ui.verbose", d.UI.Verbose)
	v.SetDefault("ui.interactive", d.UI.Interactive)
}

// Get returns the currently loaded configuration, loading it on first use.
func Get() *Config {
	if globalConfig == nil {
		cfg, err := Load()
		if err != nil {
			return DefaultConfig()
		}
		return cfg
	}
	return globalConfig
}

// ConfigFilePath returns the path to the config file that was loaded, if any.
func ConfigFilePath() string {
	return configPath
}

// EnsureConfigDir creates the config directory if it doesn't exist.
func EnsureConfigDir() error {
	cfgDir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(cfgDir, 0o755)
}

// CreateDefaultConfig creates a default config file if it doesn't exist.
func CreateDefaultConfig() error {
	cfgDir, err := ConfigDir()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfgDir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	cfgPath := filepath.Join(cfgDir, ConfigFileName+"."+ConfigFileExt)

	if _, err := os.Stat(cfgPath); err == nil {
		return nil // File exists
	}

	defaults := DefaultConfig()
	data, err := toml.Marshal(defaults)
	if err != nil {
		return fmt.Errorf("failed to marshal default config: %w", err)
	}

	header := []byte(`# xec configuration file
# This file configures the command-execution engine's adapters, pool, and cache.

`)

	if err := os.WriteFile(cfgPath, append(header, data...), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Save writes the current configuration to file.
func Save(cfg *Config) error {
	cfgDir, err := ConfigDir()
	if err != nil {
		return err
	}

	cfgPath := filepath.Join(cfgDir, ConfigFileName+"."+ConfigFileExt)

	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(cfgPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	globalConfig = cfg
	return nil
}
