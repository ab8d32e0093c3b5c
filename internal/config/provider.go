// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/viper"

	"github.com/xec-sh/xec/pkg/types"
)

// ErrInvalidLoadOptions is the sentinel error wrapped by InvalidLoadOptionsError.
var ErrInvalidLoadOptions = errors.New("invalid load options")

type (
	// LoadOptions defines explicit configuration loading inputs. Every field's
	// zero value means "use the default lookup behavior"; when set, a field
	// must not be whitespace-only.
	LoadOptions struct {
		// ConfigFilePath forces loading from a specific config file when set.
		ConfigFilePath types.FilesystemPath
		// ConfigDirPath overrides the config directory lookup when set.
		ConfigDirPath types.FilesystemPath
		// BaseDir is prepended to relative paths found in the config file
		// (e.g. Container.AutoProvision.CacheDir).
		BaseDir types.FilesystemPath
	}

	// InvalidLoadOptionsError is returned when one or more LoadOptions fields
	// are set but whitespace-only.
	InvalidLoadOptionsError struct {
		FieldErrors []error
	}

	// Provider loads configuration from explicit options.
	Provider interface {
		Load(ctx context.Context, opts LoadOptions) (*Config, error)
	}

	fileProvider struct{}
)

// Error implements the error interface for InvalidLoadOptionsError.
func (e *InvalidLoadOptionsError) Error() string {
	if len(e.FieldErrors) == 1 {
		return fmt.Sprintf("invalid load options: %s", e.FieldErrors[0])
	}
	return fmt.Sprintf("invalid load options: %d field errors", len(e.FieldErrors))
}

// Unwrap returns ErrInvalidLoadOptions for errors.Is() compatibility.
func (e *InvalidLoadOptionsError) Unwrap() error { return ErrInvalidLoadOptions }

// IsValid validates LoadOptions. Every field is optional; a zero value is
// valid and skipped, but a non-empty value must not be whitespace-only.
func (o LoadOptions) IsValid() (bool, []error) {
	var errs []error
	if o.ConfigFilePath != "" {
		if ok, fieldErrs := o.ConfigFilePath.IsValid(); !ok {
			errs = append(errs, fieldErrs...)
		}
	}
	if o.ConfigDirPath != "" {
		if ok, fieldErrs := o.ConfigDirPath.IsValid(); !ok {
			errs = append(errs, fieldErrs...)
		}
	}
	if o.BaseDir != "" {
		if ok, fieldErrs := o.BaseDir.IsValid(); !ok {
			errs = append(errs, fieldErrs...)
		}
	}
	if len(errs) > 0 {
		return false, []error{&InvalidLoadOptionsError{FieldErrors: errs}}
	}
	return true, nil
}

// NewProvider creates a configuration provider.
func NewProvider() Provider {
	return &fileProvider{}
}

// Load reads configuration from the requested source.
func (p *fileProvider) Load(ctx context.Context, opts LoadOptions) (*Config, error) {
	cfg, _, err := loadWithOptions(ctx, opts)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadWithOptions resolves the config file per opts and unmarshals it,
// returning the resolved Config along with the file path actually used
// (empty when no file was found and defaults apply).
func loadWithOptions(_ context.Context, opts LoadOptions) (*Config, string, error) {
	if valid, errs := opts.IsValid(); !valid {
		return nil, "", errors.Join(errs...)
	}

	v := viper.New()
	v.SetConfigType(ConfigFileExt)
	setDefaults(v, DefaultConfig())

	switch {
	case opts.ConfigFilePath != "":
		v.SetConfigFile(string(opts.ConfigFilePath))
	default:
		v.SetConfigName(ConfigFileName)
		if opts.ConfigDirPath != "" {
			v.AddConfigPath(string(opts.ConfigDirPath))
		} else {
			cfgDir, err := ConfigDir()
			if err != nil {
				return nil, "", err
			}
			v.AddConfigPath(cfgDir)
		}
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return DefaultConfig(), "", nil
		}
		return nil, "", fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}

	return &cfg, v.ConfigFileUsed(), nil
}
