// SPDX-License-Identifier: MPL-2.0

// Package handle implements the Process Handle: a lazy, single-shot
// future over a Command's execution, per spec.md §4.8. A Handle accepts
// fluent modifiers (cwd, env, shell, timeout, stdin, signal, nothrow,
// quiet, interactive, retry, cache, pipe) until its first terminal call
// (Await/Text/JSON/Lines/Buffer), which locks the modifiers, runs the
// command exactly once, and memoizes the outcome for every subsequent
// terminal call.
package handle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/xec-sh/xec/pkg/adapter"
	"github.com/xec-sh/xec/pkg/cache"
	"github.com/xec-sh/xec/pkg/command"
	"github.com/xec-sh/xec/pkg/pipe"
	"github.com/xec-sh/xec/pkg/retry"
)

// State is the Handle's lifecycle stage. Only Pending -> Running is
// externally triggered, by the first terminal call.
type State int

const (
	Pending State = iota
	Running
	Succeeded
	Failed
	Cancelled
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Dispatcher resolves and runs cmd against whatever Adapter owns its
// target context, returning its terminal Result. An Engine supplies this
// once it has resolved cmd.Adapter against its registry.
type Dispatcher func(ctx context.Context, cmd command.Command) (command.Result, error)

// ExecutionError is returned by a Handle's terminal methods when its
// Result is non-OK and nothrow() was not applied, per §4.8's default
// throw-on-nonzero-exit policy.
type ExecutionError struct {
	Result command.Result
}

func (e *ExecutionError) Error() string { return e.Result.Cause() }

// Handle is a lazy, single-shot future over a Command's execution.
type Handle struct {
	ctx      context.Context
	dispatch Dispatcher

	mu          sync.Mutex
	cmd         command.Command
	locked      bool
	customRun   func(ctx context.Context) (command.Result, error)
	nothrow     bool
	quiet       bool
	interactive bool
	retryPolicy *retry.Policy
	cacheStore  *cache.Cache
	cacheOpts   cache.Options
	external    context.Context

	once   sync.Once
	state  State
	result command.Result
	err    error
}

// New constructs a Pending Handle for cmd. ctx is the Handle's base
// context — combined at run time with cmd.Timeout and any context
// supplied via Signal — and dispatch is how the Handle actually carries
// out cmd once started.
func New(ctx context.Context, dispatch Dispatcher, cmd command.Command) *Handle {
	return &Handle{ctx: ctx, dispatch: dispatch, cmd: cmd, state: Pending}
}

// derive builds a new Handle that runs custom instead of dispatching its
// own cmd — used by the Pipe* modifiers, whose downstream execution is
// not a single Command dispatch.
func (h *Handle) derive(custom func(ctx context.Context) (command.Result, error)) *Handle {
	return &Handle{ctx: h.ctx, dispatch: h.dispatch, customRun: custom, state: Pending}
}

func (h *Handle) lockForModify() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.locked {
		panic("handle: modifier applied after execution started")
	}
}

// Cwd sets the working directory. Not valid on a Handle derived from Pipe.
func (h *Handle) Cwd(dir string) *Handle {
	h.lockForModify()
	if h.customRun != nil {
		panic("handle: Cwd is not valid on a piped Handle")
	}
	h.cmd = h.cmd.WithDir(dir)
	return h
}

// Env merges overrides into the Command's environment, later keys winning.
func (h *Handle) Env(overrides map[string]string) *Handle {
	h.lockForModify()
	if h.customRun != nil {
		panic("handle: Env is not valid on a piped Handle")
	}
	h.cmd = h.cmd.WithEnv(overrides)
	return h
}

// Shell toggles whether the Command runs through a shell.
func (h *Handle) Shell(enabled bool) *Handle {
	h.lockForModify()
	if h.customRun != nil {
		panic("handle: Shell is not valid on a piped Handle")
	}
	h.cmd = h.cmd.WithShell(enabled)
	return h
}

// Timeout sets the Command's per-execution timeout.
func (h *Handle) Timeout(d time.Duration) *Handle {
	h.lockForModify()
	if h.customRun != nil {
		panic("handle: Timeout is not valid on a piped Handle")
	}
	h.cmd = h.cmd.WithTimeout(d)
	return h
}

// Stdin sets the Command's standard input.
func (h *Handle) Stdin(r io.Reader) *Handle {
	h.lockForModify()
	if h.customRun != nil {
		panic("handle: Stdin is not valid on a piped Handle")
	}
	h.cmd = h.cmd.WithStdin(r)
	return h
}

// Signal merges an external cancellation token into the Handle's run
// context: when signalCtx is done, the in-flight execution is cancelled
// the same way a timeout or engine dispose would cancel it.
func (h *Handle) Signal(signalCtx context.Context) *Handle {
	h.lockForModify()
	h.mu.Lock()
	h.external = signalCtx
	h.mu.Unlock()
	return h
}

// Nothrow makes a non-zero exit resolve as a non-OK Result instead of an
// ExecutionError.
func (h *Handle) Nothrow() *Handle {
	h.lockForModify()
	h.mu.Lock()
	h.nothrow = true
	h.mu.Unlock()
	return h
}

// Quiet suppresses adapter-level live output forwarding. It does not
// affect captured stdout/stderr.
func (h *Handle) Quiet() *Handle {
	h.lockForModify()
	h.mu.Lock()
	h.quiet = true
	h.mu.Unlock()
	return h
}

// Interactive records that interactive mode was requested, reported by
// IsInteractive. No adapter reads it: output is still captured and the
// caller's terminal is not attached to the child.
func (h *Handle) Interactive() *Handle {
	h.lockForModify()
	h.mu.Lock()
	h.interactive = true
	h.mu.Unlock()
	return h
}

// Retry wraps execution in policy, per spec.md §4.11.
func (h *Handle) Retry(policy retry.Policy) *Handle {
	h.lockForModify()
	h.mu.Lock()
	h.retryPolicy = &policy
	h.mu.Unlock()
	return h
}

// Cache wraps execution in store under opts, per spec.md §4.12. Whether
// a non-OK Result is eligible for caching always tracks the Handle's own
// Nothrow state — opts.CacheFailures is overridden at run time to match
// it, since the spec ties the two together explicitly.
func (h *Handle) Cache(store *cache.Cache, opts cache.Options) *Handle {
	h.lockForModify()
	h.mu.Lock()
	h.cacheStore = store
	h.cacheOpts = opts
	h.mu.Unlock()
	return h
}

// PipeCommand runs downstream with its Stdin set to this Handle's
// stdout (or stdout+stderr, per opts), returning a new Handle for the
// downstream execution. If this Handle fails without Nothrow, downstream
// never runs and the new Handle resolves to the same error.
func (h *Handle) PipeCommand(downstream command.Command, opts pipe.Options) *Handle {
	return h.derive(func(ctx context.Context) (command.Result, error) {
		up, err := h.resolveUpstream(ctx)
		if err != nil {
			return command.Result{}, err
		}
		return pipe.Exec(up, downstream, opts, func(c command.Command) (command.Result, error) {
			return h.dispatch(ctx, c)
		})
	})
}

// PipeTransform returns a new Handle whose Result is this Handle's
// Result with stdout replaced by t's output.
func (h *Handle) PipeTransform(t pipe.Transform, opts pipe.Options) *Handle {
	return h.derive(func(ctx context.Context) (command.Result, error) {
		up, err := h.resolveUpstream(ctx)
		if err != nil {
			return command.Result{}, err
		}
		return pipe.ToTransform(up, t, opts)
	})
}

// PipeSink returns a new Handle that drains this Handle's stdout into w
// and resolves to this Handle's Result unchanged.
func (h *Handle) PipeSink(w io.Writer, opts pipe.Options) *Handle {
	return h.derive(func(ctx context.Context) (command.Result, error) {
		up, err := h.resolveUpstream(ctx)
		if err != nil {
			return command.Result{}, err
		}
		return pipe.ToSink(up, w, opts)
	})
}

// PipeLines returns a new Handle that invokes cb per non-final line of
// this Handle's stdout and resolves to this Handle's Result unchanged.
func (h *Handle) PipeLines(cb func(line string) error, opts pipe.Options) *Handle {
	return h.derive(func(ctx context.Context) (command.Result, error) {
		up, err := h.resolveUpstream(ctx)
		if err != nil {
			return command.Result{}, err
		}
		return pipe.ToLines(up, cb, opts)
	})
}

// resolveUpstream awaits h and packages the outcome as a pipe.Upstream.
// Await already applies h's own throw-unless-Nothrow policy, so a
// non-nil error here — whether an ExecutionError from a non-OK Result or
// a genuine adapter failure — is exactly §4.9's "upstream fails and
// throwOnError" case: downstream never runs. A nil error — because h
// succeeded outright or because Nothrow() converted a non-OK Result
// into one — is exactly the case where downstream runs on whatever
// (possibly empty) output h produced.
func (h *Handle) resolveUpstream(ctx context.Context) (pipe.Upstream, error) {
	result, err := h.Await(ctx)
	if err != nil {
		return pipe.Upstream{}, err
	}
	return pipe.Upstream{Result: result}, nil
}

// State reports the Handle's current lifecycle stage.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// IsQuiet reports whether Quiet() was applied. Nothing in this module
// calls it; no adapter or Engine forwards live output.
func (h *Handle) IsQuiet() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.quiet
}

// IsInteractive reports whether Interactive() was applied.
func (h *Handle) IsInteractive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.interactive
}

// Await resolves the Handle, running its execution on the first call
// from any goroutine and returning the same memoized (Result, error) to
// every caller thereafter.
func (h *Handle) Await(ctx context.Context) (command.Result, error) {
	h.once.Do(func() {
		h.mu.Lock()
		h.locked = true
		h.state = Running
		h.mu.Unlock()

		runCtx, cancel := h.runContext(ctx)
		defer cancel()

		result, err := h.runPipeline(runCtx)

		h.mu.Lock()
		h.result, h.err = result, err
		switch {
		case isCancellation(err):
			h.state = Cancelled
		case err != nil:
			h.state = Failed
		default:
			h.state = Succeeded
		}
		h.mu.Unlock()
	})
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result, h.err
}

// isCancellation reports whether err reflects the Handle having been
// cancelled or timed out rather than having genuinely failed. Three
// shapes count: an adapter-level CancelledError/TimeoutError (adapters
// that still raise those directly), a raw context error from a layer
// above the adapter (retry's own ctx.Err() check, for instance), or an
// ExecutionError wrapping a signal-bearing Result whose Cause names a
// terminate-then-kill outcome — local and SSH both report timeout/
// cancellation this way, as a Result rather than an error, so the
// classification has to look inside it.
func isCancellation(err error) bool {
	if err == nil {
		return false
	}
	var cancelled *adapter.CancelledError
	var timeout *adapter.TimeoutError
	if errors.As(err, &cancelled) || errors.As(err, &timeout) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var execErr *ExecutionError
	if errors.As(err, &execErr) && execErr.Result.Signal != "" {
		cause := execErr.Result.Cause()
		return strings.HasPrefix(cause, "cancelled:") || strings.HasPrefix(cause, "timed out after")
	}
	return false
}

func (h *Handle) runContext(ctx context.Context) (context.Context, context.CancelFunc) {
	base := h.ctx
	if base == nil {
		base = ctx
	}
	runCtx, cancel := context.WithCancel(base)
	if h.cmd.Timeout > 0 {
		var timeoutCancel context.CancelFunc
		runCtx, timeoutCancel = context.WithTimeout(runCtx, h.cmd.Timeout)
		prev := cancel
		cancel = func() { timeoutCancel(); prev() }
	}
	if h.external != nil {
		stop := context.AfterFunc(h.external, cancel)
		prev := cancel
		cancel = func() { stop(); prev() }
	}
	return runCtx, cancel
}

// runPipeline executes the Handle's base work (its own cmd dispatch or a
// derived custom run) wrapped by cache (outermost) and retry
// (innermost), per the resolved composition order: cache wraps the
// outer call, so a cache hit never re-enters retry at all.
func (h *Handle) runPipeline(ctx context.Context) (command.Result, error) {
	base := h.baseRun()
	if h.retryPolicy != nil {
		policy := *h.retryPolicy
		inner := base
		base = func(ctx context.Context) (command.Result, error) { return retry.Do(ctx, policy, inner) }
	}
	if h.cacheStore != nil {
		opts := h.cacheOpts
		opts.CacheFailures = h.nothrow
		inner := base
		base = func(ctx context.Context) (command.Result, error) {
			return h.cacheStore.Get(ctx, h.cmd, opts, inner)
		}
	}

	result, err := base(ctx)
	if err == nil && !result.OK() && !h.nothrow {
		err = &ExecutionError{Result: result}
	}
	return result, err
}

func (h *Handle) baseRun() func(ctx context.Context) (command.Result, error) {
	if h.customRun != nil {
		return h.customRun
	}
	cmd := h.cmd
	return func(ctx context.Context) (command.Result, error) { return h.dispatch(ctx, cmd) }
}

// Text resolves the Handle and returns its stdout as a string with one
// trailing newline stripped.
func (h *Handle) Text(ctx context.Context) (string, error) {
	result, err := h.Await(ctx)
	if err != nil {
		return "", err
	}
	return result.Text(), nil
}

// JSON resolves the Handle and decodes its stdout into v.
func (h *Handle) JSON(ctx context.Context, v any) error {
	result, err := h.Await(ctx)
	if err != nil {
		return err
	}
	if decodeErr := result.JSON(v); decodeErr != nil {
		return fmt.Errorf("handle: decode result as json: %w", decodeErr)
	}
	return nil
}

// Lines resolves the Handle and splits its stdout into non-empty lines.
func (h *Handle) Lines(ctx context.Context) ([]string, error) {
	result, err := h.Await(ctx)
	if err != nil {
		return nil, err
	}
	return result.Lines(), nil
}

// Buffer resolves the Handle and returns its raw stdout bytes.
func (h *Handle) Buffer(ctx context.Context) ([]byte, error) {
	result, err := h.Await(ctx)
	if err != nil {
		return nil, err
	}
	return result.Buffer(), nil
}
