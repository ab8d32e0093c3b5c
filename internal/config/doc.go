// SPDX-License-Identifier: MPL-2.0

// Package config handles application configuration using Viper with TOML as
// the file format.
//
// Configuration is loaded from ~/.config/xec/config.toml (or the XDG
// equivalent on Linux, ~/Library/Application Support/xec/config.toml on
// macOS, %APPDATA%\xec\config.toml on Windows). The package provides
// type-safe access to adapter defaults, the SSH connection pool, the
// container runtime, the Kubernetes context, and retry/cache defaults.
package config
