// SPDX-License-Identifier: MPL-2.0

// Package adapter defines the uniform contract every execution context
// (local, SSH, container, Kubernetes) implements, plus the registry the
// Engine uses to resolve a Command's tag to a concrete Adapter.
package adapter

import (
	"context"
	"errors"
	"fmt"

	"github.com/xec-sh/xec/pkg/command"
)

// Adapter executes Commands in a specific context and owns whatever
// resources that requires (pooled connections, API clients, …).
type Adapter interface {
	// Name identifies the adapter for Result.Adapter and log/event payloads.
	Name() command.AdapterTag

	// Available reports whether this adapter can be used on the current
	// system (e.g. an SSH binary configured, a container engine reachable).
	Available() bool

	// ValidateConfig checks adapter-specific configuration before first use.
	ValidateConfig() error

	// Execute runs cmd and returns its terminal Result. Honours ctx
	// cancellation, cmd.Timeout, cmd.Shell, and cmd.Stdin as specified by
	// the adapter contract.
	Execute(ctx context.Context, cmd command.Command) (command.Result, error)

	// Dispose releases every resource the adapter owns. Idempotent.
	Dispose(ctx context.Context) error
}

// ErrAdapterNotRegistered is returned by Registry.Get for an unknown tag.
var ErrAdapterNotRegistered = errors.New("adapter not registered")

// ErrAdapterUnavailable names the condition of an adapter whose Available()
// reports false. Resolve and the Engine do not consult Available(), and no
// code path in this module returns this error.
var ErrAdapterUnavailable = errors.New("adapter not available")

// AdapterFailureError reports a generic adapter-level failure: bad
// configuration or an unsupported operation, per the taxonomy's
// AdapterFailure kind.
type AdapterFailureError struct {
	Adapter   command.AdapterTag
	Operation string
	Cause     error
}

func (e *AdapterFailureError) Error() string {
	return fmt.Sprintf("adapter %s: %s: %s", e.Adapter, e.Operation, e.Cause)
}

func (e *AdapterFailureError) Unwrap() error { return e.Cause }

// AdapterEvent is an out-of-band notification from an Adapter implementing
// EventEmitter: something on its own timeline — a pool connect/disconnect,
// a reconnect, a metrics snapshot — that the uniform Execute/Dispose
// contract has no room for.
type AdapterEvent struct {
	Name    string
	Key     string
	Err     error
	Metrics map[string]int
}

// EventEmitter is implemented by an Adapter that raises AdapterEvents
// beyond Execute/Dispose (the SSH adapter's connection pool, for
// instance). The Engine wires every registered Adapter satisfying this
// into its own bus at construction time.
type EventEmitter interface {
	SetEventHandler(func(AdapterEvent))
}

// Registry holds the set of Adapters an Engine can dispatch to, mirroring
// the teacher's runtime.Registry but keyed by command.AdapterTag.
type Registry struct {
	adapters map[command.AdapterTag]Adapter
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[command.AdapterTag]Adapter)}
}

// Register adds or replaces the Adapter bound to tag.
func (r *Registry) Register(tag command.AdapterTag, a Adapter) {
	r.adapters[tag] = a
}

// Get returns the Adapter registered for tag.
func (r *Registry) Get(tag command.AdapterTag) (Adapter, error) {
	a, ok := r.adapters[tag]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAdapterNotRegistered, tag)
	}
	return a, nil
}

// Resolve returns the Adapter for cmd.Adapter, resolving AdapterAuto to the
// given default tag.
func (r *Registry) Resolve(cmd command.Command, defaultTag command.AdapterTag) (Adapter, error) {
	tag := cmd.Adapter
	if tag == command.AdapterAuto || tag == "" {
		tag = defaultTag
	}
	return r.Get(tag)
}

// All returns every registered Adapter keyed by its tag, for callers (the
// Engine, wiring EventEmitters) that need to range over the whole set.
func (r *Registry) All() map[command.AdapterTag]Adapter {
	all := make(map[command.AdapterTag]Adapter, len(r.adapters))
	for tag, a := range r.adapters {
		all[tag] = a
	}
	return all
}

// Available lists the tags of every registered Adapter whose Available()
// reports true.
func (r *Registry) Available() []command.AdapterTag {
	var tags []command.AdapterTag
	for tag, a := range r.adapters {
		if a.Available() {
			tags = append(tags, tag)
		}
	}
	return tags
}

// DisposeAll disposes every registered adapter, continuing past individual
// failures and joining them into one error.
func (r *Registry) DisposeAll(ctx context.Context) error {
	var errs []error
	for _, a := range r.adapters {
		if err := a.Dispose(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DisposeEach disposes every registered adapter, invoking onErr for each
// one that fails instead of joining the failures into a single error — the
// Engine uses this to log each adapter's dispose failure individually
// while still disposing every other adapter, per spec.md §4.13.
func (r *Registry) DisposeEach(ctx context.Context, onErr func(tag command.AdapterTag, err error)) {
	for tag, a := range r.adapters {
		if err := a.Dispose(ctx); err != nil && onErr != nil {
			onErr(tag, err)
		}
	}
}
