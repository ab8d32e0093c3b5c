// SPDX-License-Identifier: MPL-2.0

package main

import (
	"github.com/charmbracelet/log"

	containerpkg "github.com/xec-sh/xec/internal/container"
	"github.com/xec-sh/xec/internal/config"
	"github.com/xec-sh/xec/pkg/adapter"
	"github.com/xec-sh/xec/pkg/adapter/container"
	"github.com/xec-sh/xec/pkg/adapter/k8s"
	"github.com/xec-sh/xec/pkg/adapter/local"
	"github.com/xec-sh/xec/pkg/adapter/ssh"
	"github.com/xec-sh/xec/pkg/cache"
	"github.com/xec-sh/xec/pkg/command"
	"github.com/xec-sh/xec/pkg/engine"
	"github.com/xec-sh/xec/pkg/retry"
)

// newEngineFromConfig builds a registry wired from cfg's adapter settings and
// an Engine over it carrying cfg's retry/cache defaults, replacing
// engine.Default's environment-probed registration with the loaded config's
// explicit choices.
func newEngineFromConfig(cfg *config.Config, logger *log.Logger) *engine.Engine {
	reg := adapter.NewRegistry()
	reg.Register(command.AdapterLocal, local.New(local.Options{MaxBuffer: cfg.MaxBuffer}))
	reg.Register(command.AdapterSSH, ssh.New(ssh.Options{
		MaxConnections:       cfg.SSH.MaxConnections,
		IdleTimeout:          cfg.SSH.IdleTimeout,
		MaxReconnectAttempts: cfg.SSH.MaxReconnectAttempts,
	}))
	if a, err := container.New(container.Options{Engine: containerpkg.EngineType(cfg.Container.Engine)}); err == nil {
		reg.Register(command.AdapterContainer, a)
	} else {
		logger.Warn("container adapter unavailable", "error", err)
	}
	if a, err := k8s.New(k8s.Options{
		KubeconfigPath: cfg.Kubernetes.KubeconfigPath,
		Context:        cfg.Kubernetes.Context,
		Namespace:      cfg.Kubernetes.Namespace,
	}); err == nil {
		reg.Register(command.AdapterK8s, a)
	} else {
		logger.Warn("kubernetes adapter unavailable", "error", err)
	}

	econf := engine.Config{DefaultAdapter: command.AdapterTag(cfg.DefaultAdapter)}
	if cfg.Retry.MaxRetries > 0 {
		econf.RetryPolicy = &retry.Policy{
			MaxAttempts:       cfg.Retry.MaxRetries + 1,
			InitialDelay:      cfg.Retry.InitialDelay,
			MaxDelay:          cfg.Retry.MaxDelay,
			BackoffMultiplier: cfg.Retry.BackoffMultiplier,
			JitterFraction:    cfg.Retry.JitterFraction,
		}
	}
	if cfg.Cache.Enabled {
		econf.CacheStore = cache.New()
		econf.CacheOptions = cache.Options{TTL: cfg.Cache.DefaultTTL}
	}

	return engine.New(reg, econf, engine.WithLogger(logger))
}
