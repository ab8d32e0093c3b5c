// SPDX-License-Identifier: MPL-2.0

// Package k8s implements the Kubernetes adapter: it runs Commands inside an
// existing pod via the pod-exec streaming API, and exposes logs, port
// forwarding, and tar-based copy as adapter-specific operations beyond the
// common Execute surface.
package k8s

import (
	"github.com/xec-sh/xec/pkg/command"
)

// Options configures how the adapter loads its kubeconfig and which
// context it targets. One Adapter, and therefore one *rest.Config, serves
// every pod in that context — matching spec.md's "one client per
// context/namespace, no per-pod long-lived connection to pool" model.
type Options struct {
	// KubeconfigPath overrides the default kubeconfig resolution
	// (KUBECONFIG env var, then ~/.kube/config). Empty uses the default.
	KubeconfigPath string
	// Context selects a non-current context from the kubeconfig. Empty
	// uses the kubeconfig's current-context.
	Context string
	// Namespace is the default namespace for commands that don't set one
	// via CommandOptions. Empty means "default".
	Namespace string
	// QPS and Burst tune the underlying client's rate limiter. Zero
	// values fall back to client-go's defaults.
	QPS   float32
	Burst int
}

func (Options) adapterOptions() {}

var _ command.AdapterOptions = Options{}

// CommandOptions names the pod (and optional container within it) that a
// Command targets.
type CommandOptions struct {
	Pod       string
	Container string
	Namespace string
	TTY       bool
}

func (CommandOptions) adapterOptions() {}

var _ command.AdapterOptions = CommandOptions{}

// namespace resolves the effective namespace: the CommandOptions override,
// else the Adapter's configured default, else "default".
func (co CommandOptions) namespace(adapterDefault string) string {
	if co.Namespace != "" {
		return co.Namespace
	}
	if adapterDefault != "" {
		return adapterDefault
	}
	return "default"
}
