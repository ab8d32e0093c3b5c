// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"github.com/xec-sh/xec/pkg/types"
)

func TestConfigDir(t *testing.T) {
	originalXDGConfigHome := os.Getenv("XDG_CONFIG_HOME")
	defer func() {
		if originalXDGConfigHome != "" {
			os.Setenv("XDG_CONFIG_HOME", originalXDGConfigHome)
		} else {
			os.Unsetenv("XDG_CONFIG_HOME")
		}
	}()

	if runtime.GOOS == "linux" {
		testXDGPath := "/tmp/test-xdg-config"
		os.Setenv("XDG_CONFIG_HOME", testXDGPath)

		dir, err := ConfigDir()
		if err != nil {
			t.Fatalf("ConfigDir() returned error: %v", err)
		}

		expected := filepath.Join(testXDGPath, AppName)
		if dir != expected {
			t.Errorf("ConfigDir() = %s, want %s", dir, expected)
		}
	}
}

func TestReset(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DefaultAdapter = AdapterSSH
	globalConfig = cfg
	configPath = "/some/path"

	Reset()

	if globalConfig != nil {
		t.Error("expected globalConfig to be nil after Reset()")
	}
	if configPath != "" {
		t.Error("expected configPath to be empty after Reset()")
	}
}

func TestGet_ReturnsDefaultOnNoConfig(t *testing.T) {
	Reset()
	defer Reset()

	tmpDir := t.TempDir()
	originalWd, _ := os.Getwd()
	os.Chdir(tmpDir)
	defer os.Chdir(originalWd)

	cfg := Get()
	if cfg == nil {
		t.Fatal("Get() returned nil")
	}
	if cfg.Container.Engine != ContainerEnginePodman {
		t.Errorf("expected default container engine, got %s", cfg.Container.Engine)
	}
}

func TestEnsureConfigDir(t *testing.T) {
	tmpDir := t.TempDir()
	configDir := filepath.Join(tmpDir, AppName)

	SetConfigDirOverride(tmpDir)
	defer Reset()

	if err := EnsureConfigDir(); err != nil {
		t.Fatalf("EnsureConfigDir() returned error: %v", err)
	}
	if _, err := os.Stat(configDir); os.IsNotExist(err) {
		t.Errorf("EnsureConfigDir() did not create directory %s", configDir)
	}
}

func TestLoadAndSave(t *testing.T) {
	Reset()
	defer Reset()

	tmpDir := t.TempDir()
	SetConfigDirOverride(tmpDir)

	if err := EnsureConfigDir(); err != nil {
		t.Fatalf("EnsureConfigDir() returned error: %v", err)
	}

	cfg := DefaultConfig()
	cfg.Container.Engine = ContainerEngineDocker
	cfg.DefaultAdapter = AdapterContainer
	cfg.UI.ColorScheme = "dark"
	cfg.UI.Verbose = true
	cfg.Container.AutoProvision.Enabled = false
	cfg.Container.AutoProvision.BinaryPath = "/custom/bin/xec"

	if err := Save(cfg); err != nil {
		t.Fatalf("Save() returned error: %v", err)
	}

	Reset()
	SetConfigDirOverride(tmpDir)

	loaded, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if loaded.Container.Engine != ContainerEngineDocker {
		t.Errorf("Container.Engine = %s, want docker", loaded.Container.Engine)
	}
	if loaded.DefaultAdapter != AdapterContainer {
		t.Errorf("DefaultAdapter = %s, want container", loaded.DefaultAdapter)
	}
	if loaded.UI.ColorScheme != "dark" {
		t.Errorf("ColorScheme = %s, want dark", loaded.UI.ColorScheme)
	}
	if !loaded.UI.Verbose {
		t.Error("Verbose = false, want true")
	}
	if loaded.Container.AutoProvision.Enabled {
		t.Error("AutoProvision.Enabled = true, want false")
	}
	if loaded.Container.AutoProvision.BinaryPath != "/custom/bin/xec" {
		t.Errorf("AutoProvision.BinaryPath = %q, want /custom/bin/xec", loaded.Container.AutoProvision.BinaryPath)
	}
}

func TestLoad_ReturnsDefaultsWhenNoConfigFile(t *testing.T) {
	Reset()
	defer Reset()

	tmpDir := t.TempDir()
	SetConfigDirOverride(tmpDir)

	originalWd, _ := os.Getwd()
	os.Chdir(tmpDir)
	defer os.Chdir(originalWd)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	defaults := DefaultConfig()
	if cfg.Container.Engine != defaults.Container.Engine {
		t.Errorf("Container.Engine = %s, want %s", cfg.Container.Engine, defaults.Container.Engine)
	}
	if cfg.DefaultAdapter != defaults.DefaultAdapter {
		t.Errorf("DefaultAdapter = %s, want %s", cfg.DefaultAdapter, defaults.DefaultAdapter)
	}
}

func TestLoad_ReturnsCachedConfig(t *testing.T) {
	Reset()
	defer Reset()

	cachedCfg := DefaultConfig()
	cachedCfg.Kubernetes.Namespace = "cached-namespace"
	globalConfig = cachedCfg

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Kubernetes.Namespace != "cached-namespace" {
		t.Errorf("expected cached config, got Namespace = %s", cfg.Kubernetes.Namespace)
	}
}

func TestCreateDefaultConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configDir := filepath.Join(tmpDir, AppName)
	SetConfigDirOverride(tmpDir)
	defer Reset()

	if err := CreateDefaultConfig(); err != nil {
		t.Fatalf("CreateDefaultConfig() returned error: %v", err)
	}

	expectedPath := filepath.Join(configDir, ConfigFileName+"."+ConfigFileExt)
	if _, statErr := os.Stat(expectedPath); os.IsNotExist(statErr) {
		t.Errorf("CreateDefaultConfig() did not create file at %s", expectedPath)
	}

	content, err := os.ReadFile(expectedPath)
	if err != nil {
		t.Fatalf("failed to read config file: %v", err)
	}
	if len(content) == 0 {
		t.Error("config file is empty")
	}

	if err := CreateDefaultConfig(); err != nil {
		t.Fatalf("CreateDefaultConfig() returned error on second call: %v", err)
	}
}

func TestConfigFilePath(t *testing.T) {
	Reset()
	defer Reset()

	if path := ConfigFilePath(); path != "" {
		t.Errorf("ConfigFilePath() = %s, want empty string", path)
	}

	configPath = "/some/test/path"
	if path := ConfigFilePath(); path != "/some/test/path" {
		t.Errorf("ConfigFilePath() = %s, want /some/test/path", path)
	}
}

func TestConstants(t *testing.T) {
	if AppName != "xec" {
		t.Errorf("AppName = %s, want xec", AppName)
	}
	if ConfigFileName != "config" {
		t.Errorf("ConfigFileName = %s, want config", ConfigFileName)
	}
	if ConfigFileExt != "toml" {
		t.Errorf("ConfigFileExt = %s, want toml", ConfigFileExt)
	}
}

func TestProvider_Load_UsesExplicitConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	cfgFile := filepath.Join(tmpDir, "custom.toml")

	cfg := DefaultConfig()
	cfg.Kubernetes.Namespace = "explicit-file-namespace"
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("failed to marshal config: %v", err)
	}
	if err := os.WriteFile(cfgFile, data, 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	provider := NewProvider()
	loaded, err := provider.Load(context.Background(), LoadOptions{
		ConfigFilePath: types.FilesystemPath(cfgFile),
	})
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if loaded.Kubernetes.Namespace != "explicit-file-namespace" {
		t.Errorf("Namespace = %q, want %q", loaded.Kubernetes.Namespace, "explicit-file-namespace")
	}
}

func TestProvider_Load_RejectsInvalidOptions(t *testing.T) {
	provider := NewProvider()
	_, err := provider.Load(context.Background(), LoadOptions{
		ConfigDirPath: types.FilesystemPath("   "),
	})
	if err == nil {
		t.Fatal("expected error for whitespace-only ConfigDirPath")
	}
}
