// SPDX-License-Identifier: MPL-2.0

package engine

import (
	"sync"

	"github.com/xec-sh/xec/pkg/adapter"
	"github.com/xec-sh/xec/pkg/adapter/container"
	"github.com/xec-sh/xec/pkg/adapter/k8s"
	"github.com/xec-sh/xec/pkg/adapter/local"
	"github.com/xec-sh/xec/pkg/adapter/ssh"
	"github.com/xec-sh/xec/pkg/command"
)

var (
	defaultOnce   sync.Once
	defaultEngine *Engine
)

// Default returns the process-wide ambient Engine, constructing it on
// first use with a registry carrying the Local and SSH adapters (SSH with
// empty Options, so it reports unavailable until a Command supplies a
// host) and the Container and Kubernetes adapters wherever they construct
// successfully. An adapter that fails to construct (no container engine
// found, no kubeconfig) is simply left unregistered rather than failing
// Default itself, since the ambient Engine must come up in any environment.
func Default() *Engine {
	defaultOnce.Do(func() {
		defaultEngine = New(defaultRegistry(), Config{DefaultAdapter: command.AdapterLocal})
	})
	return defaultEngine
}

// ResetDefault discards the process-wide ambient Engine so the next call
// to Default constructs a fresh one. Test-only, mirroring internal/config's
// own Reset pattern for HOME-independent, order-independent test runs.
func ResetDefault() {
	defaultOnce = sync.Once{}
	defaultEngine = nil
}

func defaultRegistry() *adapter.Registry {
	reg := adapter.NewRegistry()
	reg.Register(command.AdapterLocal, local.New(local.Options{}))
	reg.Register(command.AdapterSSH, ssh.New(ssh.Options{}))
	if a, err := container.New(container.Options{}); err == nil {
		reg.Register(command.AdapterContainer, a)
	}
	if a, err := k8s.New(k8s.Options{}); err == nil {
		reg.Register(command.AdapterK8s, a)
	}
	return reg
}
