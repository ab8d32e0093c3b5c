// SPDX-License-Identifier: MPL-2.0

// Package engine implements the Engine: the Adapter registry, the typed
// event bus, live-handle tracking, a temp file/dir tracker, and
// copy-on-write configuration derivation, per spec.md §4.13. An Engine
// resolves a Command's adapter tag, wraps dispatch with event emission,
// and is the thing that finally supplies pkg/handle's Dispatcher.
package engine

import (
	"context"
	"io"
	"os"
	"sync"
	"time"
	"weak"

	"github.com/charmbracelet/log"

	"github.com/xec-sh/xec/pkg/adapter"
	"github.com/xec-sh/xec/pkg/cache"
	"github.com/xec-sh/xec/pkg/command"
	"github.com/xec-sh/xec/pkg/handle"
	"github.com/xec-sh/xec/pkg/retry"
)

// Config holds the Engine's defaults, copied by every derivation method.
type Config struct {
	// DefaultAdapter resolves a Command whose Adapter is AdapterAuto.
	DefaultAdapter command.AdapterTag
	// DefaultDir is applied to a Command with an empty Dir.
	DefaultDir string
	// DefaultEnv is merged beneath a Command's own Env, which wins on
	// conflicting keys.
	DefaultEnv map[string]string
	// DefaultTimeout is applied to a Command with a zero Timeout.
	DefaultTimeout time.Duration
	// DefaultShell, when non-nil, overrides every Command's Shell flag.
	DefaultShell *bool
	// RetryPolicy, when set, wraps every Handle this Engine creates.
	RetryPolicy *retry.Policy
	// CacheStore and CacheOptions, when CacheStore is set, wrap every
	// Handle this Engine creates.
	CacheStore   *cache.Cache
	CacheOptions cache.Options
}

func (c Config) clone() Config {
	if c.DefaultEnv != nil {
		env := make(map[string]string, len(c.DefaultEnv))
		for k, v := range c.DefaultEnv {
			env[k] = v
		}
		c.DefaultEnv = env
	}
	return c
}

// trackedHandle pairs a weak reference to a live Handle (so tracking it
// never extends its lifetime, per spec.md §4.13's WeakSet wording) with
// the cancel function that tears down its run context on dispose.
type trackedHandle struct {
	ref    weak.Pointer[handle.Handle]
	cancel context.CancelFunc
}

// shared is the state every Engine derived via With/Env/Cd/Timeout/Retry/
// Shell/Defaults holds a pointer to in common: the registry, event bus,
// live-handle set, and temp tracker are true engine-wide resources: only
// Config is copy-on-write per derivation.
type shared struct {
	registry *adapter.Registry
	logger   *log.Logger
	bus      *eventBus

	mu           sync.Mutex
	handles      map[uint64]trackedHandle
	nextHandleID uint64
	tempPaths    map[string]struct{}
	disposed     bool
}

// Engine owns an Adapter registry, an event bus, the set of live Process
// Handles, and a set of tracked temp resources. Derive a new Engine with
// different defaults via With/Env/Cd/Timeout/Retry/Shell/Defaults without
// losing track of handles or temp paths created through either instance.
type Engine struct {
	shared *shared
	cfg    Config
}

// Option configures an Engine at construction time.
type Option func(*shared)

// WithLogger sets the Engine's logger. The default discards everything.
func WithLogger(l *log.Logger) Option {
	return func(s *shared) { s.logger = l }
}

// WithMaxListeners sets the event bus's per-EventType listener warning
// threshold. The default is 10, mirroring Node's EventEmitter default.
func WithMaxListeners(n int) Option {
	return func(s *shared) { s.bus = newEventBus(n) }
}

// New constructs an Engine over registry with cfg as its initial defaults.
func New(registry *adapter.Registry, cfg Config, opts ...Option) *Engine {
	sh := &shared{
		registry:  registry,
		logger:    log.New(io.Discard),
		bus:       newEventBus(defaultMaxListeners),
		handles:   make(map[uint64]trackedHandle),
		tempPaths: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(sh)
	}
	sh.bus.onExceed = func(t EventType, count int) {
		sh.logger.Warn("event listener count exceeds limit", "event", t, "count", count)
	}
	wireAdapterEvents(sh, registry)
	return &Engine{shared: sh, cfg: cfg.clone()}
}

// wireAdapterEvents forwards every registered Adapter's AdapterEvents (the
// SSH pool's connect/disconnect/reconnect/cleanup/metrics notifications,
// for any adapter implementing EventEmitter) onto sh's bus.
func wireAdapterEvents(sh *shared, registry *adapter.Registry) {
	for _, a := range registry.All() {
		emitter, ok := a.(adapter.EventEmitter)
		if !ok {
			continue
		}
		emitter.SetEventHandler(func(ev adapter.AdapterEvent) {
			sh.bus.emit(Event{
				Type:    EventType(ev.Name),
				Key:     ev.Key,
				Err:     ev.Err,
				Metrics: ev.Metrics,
				Time:    time.Now(),
			})
		})
	}
}

func (e *Engine) clone() *Engine {
	return &Engine{shared: e.shared, cfg: e.cfg.clone()}
}

// With returns a new Engine sharing this one's registry, bus, and live
// tracking, with fn applied to a copy of its Config.
func (e *Engine) With(fn func(*Config)) *Engine {
	n := e.clone()
	fn(&n.cfg)
	return n
}

// Env returns a new Engine whose DefaultEnv has overrides merged in,
// overrides winning on conflicting keys.
func (e *Engine) Env(overrides map[string]string) *Engine {
	n := e.clone()
	merged := make(map[string]string, len(n.cfg.DefaultEnv)+len(overrides))
	for k, v := range n.cfg.DefaultEnv {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	n.cfg.DefaultEnv = merged
	return n
}

// Cd returns a new Engine with DefaultDir set to dir.
func (e *Engine) Cd(dir string) *Engine {
	n := e.clone()
	n.cfg.DefaultDir = dir
	return n
}

// Timeout returns a new Engine with DefaultTimeout set to d.
func (e *Engine) Timeout(d time.Duration) *Engine {
	n := e.clone()
	n.cfg.DefaultTimeout = d
	return n
}

// Retry returns a new Engine whose Handles are wrapped with policy.
func (e *Engine) Retry(policy retry.Policy) *Engine {
	n := e.clone()
	n.cfg.RetryPolicy = &policy
	return n
}

// Shell returns a new Engine that forces every Command's Shell flag to
// enabled.
func (e *Engine) Shell(enabled bool) *Engine {
	n := e.clone()
	n.cfg.DefaultShell = &enabled
	return n
}

// Defaults returns a new Engine with its entire Config replaced by cfg.
func (e *Engine) Defaults(cfg Config) *Engine {
	return &Engine{shared: e.shared, cfg: cfg.clone()}
}

// Config returns the Engine's current defaults.
func (e *Engine) Config() Config { return e.cfg.clone() }

// On subscribes l to events of type t and returns a function that
// unsubscribes it.
func (e *Engine) On(t EventType, l Listener) func() {
	return e.shared.bus.on(t, l)
}

func (e *Engine) applyDefaults(cmd command.Command) command.Command {
	if cmd.Dir == "" && e.cfg.DefaultDir != "" {
		cmd = cmd.WithDir(e.cfg.DefaultDir)
	}
	if len(e.cfg.DefaultEnv) > 0 {
		merged := make(map[string]string, len(e.cfg.DefaultEnv)+len(cmd.Env))
		for k, v := range e.cfg.DefaultEnv {
			merged[k] = v
		}
		for k, v := range cmd.Env {
			merged[k] = v
		}
		cmd.Env = merged
	}
	if cmd.Timeout == 0 && e.cfg.DefaultTimeout > 0 {
		cmd = cmd.WithTimeout(e.cfg.DefaultTimeout)
	}
	if e.cfg.DefaultShell != nil {
		cmd = cmd.WithShell(*e.cfg.DefaultShell)
	}
	return cmd
}

// dispatch resolves cmd's adapter against the registry and executes it,
// emitting command:start and then either command:complete or
// command:error around the call. This is the Dispatcher every Handle
// this Engine creates is built with.
func (e *Engine) dispatch(ctx context.Context, cmd command.Command) (command.Result, error) {
	a, err := e.shared.registry.Resolve(cmd, e.cfg.DefaultAdapter)
	if err != nil {
		return command.Result{}, err
	}

	e.shared.bus.emit(Event{Type: EventCommandStart, Command: cmd, Time: time.Now()})
	e.shared.logger.Debug("command:start", "adapter", a.Name(), "command", cmd.String())

	result, err := a.Execute(ctx, cmd)

	if err != nil {
		e.shared.bus.emit(Event{Type: EventCommandError, Command: cmd, Result: result, Err: err, Time: time.Now()})
		e.shared.logger.Debug("command:error", "adapter", a.Name(), "error", err)
	} else {
		e.shared.bus.emit(Event{Type: EventCommandComplete, Command: cmd, Result: result, Time: time.Now()})
		e.shared.logger.Debug("command:complete", "adapter", a.Name(), "ok", result.OK())
	}
	return result, err
}

// Run builds a Handle for cmd, with this Engine's defaults applied and its
// RetryPolicy/CacheStore (if configured) already wrapped around it, and
// tracks it for Dispose. The Handle itself still needs a terminal call
// (Await/Text/JSON/Lines/Buffer) to execute.
func (e *Engine) Run(ctx context.Context, cmd command.Command) *handle.Handle {
	cmd = e.applyDefaults(cmd)

	runCtx, cancel := context.WithCancel(context.Background())
	h := handle.New(ctx, e.dispatch, cmd).Signal(runCtx)

	if e.cfg.RetryPolicy != nil {
		policy := *e.cfg.RetryPolicy
		userOnRetry := policy.OnRetry
		policy.OnRetry = func(attempt int, lastResult command.Result, lastErr error, delay time.Duration) {
			if userOnRetry != nil {
				userOnRetry(attempt, lastResult, lastErr, delay)
			}
			e.shared.bus.emit(Event{Type: EventRetryAttempt, Command: cmd, Result: lastResult, Err: lastErr, Attempt: attempt, Delay: delay, Time: time.Now()})
		}
		h = h.Retry(policy)
	}

	if e.cfg.CacheStore != nil {
		opts := e.cfg.CacheOptions
		userOnEvent := opts.OnEvent
		opts.OnEvent = func(ev cache.Event, key string) {
			if userOnEvent != nil {
				userOnEvent(ev, key)
			}
			e.shared.bus.emit(Event{Type: cacheEventType(ev), Command: cmd, Key: key, Time: time.Now()})
		}
		h = h.Cache(e.cfg.CacheStore, opts)
	}

	e.track(h, cancel)
	return h
}

func cacheEventType(ev cache.Event) EventType {
	switch ev {
	case cache.EventHit:
		return EventCacheHit
	case cache.EventStore:
		return EventCacheStore
	default:
		return EventCacheMiss
	}
}

// track registers h for dispose-time cancellation via a weak reference
// that does not extend h's lifetime, sweeping out entries whose Handle has
// already been collected.
func (e *Engine) track(h *handle.Handle, cancel context.CancelFunc) {
	e.shared.mu.Lock()
	defer e.shared.mu.Unlock()
	for id, th := range e.shared.handles {
		if th.ref.Value() == nil {
			delete(e.shared.handles, id)
		}
	}
	id := e.shared.nextHandleID
	e.shared.nextHandleID++
	e.shared.handles[id] = trackedHandle{ref: weak.Make(h), cancel: cancel}
}

// LiveHandles returns every Handle this Engine is still tracking that has
// not yet been garbage-collected.
func (e *Engine) LiveHandles() []*handle.Handle {
	e.shared.mu.Lock()
	defer e.shared.mu.Unlock()
	live := make([]*handle.Handle, 0, len(e.shared.handles))
	for _, th := range e.shared.handles {
		if h := th.ref.Value(); h != nil {
			live = append(live, h)
		}
	}
	return live
}

// TempDir creates a tracked temp directory, deleted on Dispose if the
// caller has not already removed it.
func (e *Engine) TempDir(pattern string) (string, error) {
	dir, err := os.MkdirTemp("", pattern)
	if err != nil {
		return "", err
	}
	e.trackTemp(dir)
	e.shared.bus.emit(Event{Type: EventTempCreate, Path: dir, Time: time.Now()})
	return dir, nil
}

// TempFile creates a tracked temp file, deleted on Dispose if the caller
// has not already removed it.
func (e *Engine) TempFile(pattern string) (*os.File, error) {
	f, err := os.CreateTemp("", pattern)
	if err != nil {
		return nil, err
	}
	e.trackTemp(f.Name())
	e.shared.bus.emit(Event{Type: EventTempCreate, Path: f.Name(), Time: time.Now()})
	return f, nil
}

func (e *Engine) trackTemp(path string) {
	e.shared.mu.Lock()
	defer e.shared.mu.Unlock()
	e.shared.tempPaths[path] = struct{}{}
}

// Dispose cancels every active Handle's run context, disposes every
// registered Adapter (logging, not aborting on, individual failures),
// removes every event listener, and deletes every tracked temp path.
// Idempotent: a second call is a no-op.
func (e *Engine) Dispose(ctx context.Context) error {
	e.shared.mu.Lock()
	if e.shared.disposed {
		e.shared.mu.Unlock()
		return nil
	}
	e.shared.disposed = true
	handles := e.shared.handles
	e.shared.handles = make(map[uint64]trackedHandle)
	tempPaths := e.shared.tempPaths
	e.shared.tempPaths = make(map[string]struct{})
	e.shared.mu.Unlock()

	for _, th := range handles {
		th.cancel()
	}

	e.shared.registry.DisposeEach(ctx, func(tag command.AdapterTag, err error) {
		e.shared.logger.Warn("adapter dispose failed", "adapter", tag, "error", err)
	})

	for path := range tempPaths {
		err := os.RemoveAll(path)
		if err != nil {
			e.shared.logger.Warn("temp path cleanup failed", "path", path, "error", err)
		}
		e.shared.bus.emit(Event{Type: EventTempCleanup, Path: path, Err: err, Time: time.Now()})
	}

	e.shared.bus.removeAll()
	return nil
}
