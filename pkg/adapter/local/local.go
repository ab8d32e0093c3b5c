// SPDX-License-Identifier: MPL-2.0

// Package local implements the Local adapter: it spawns child processes on
// the host running the engine, plumbing stdio and honoring timeouts and
// cancellation.
package local

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/xec-sh/xec/pkg/adapter"
	"github.com/xec-sh/xec/pkg/command"
)

// Options configures the Local adapter. A zero value resolves the shell from
// $SHELL (Unix) or PowerShell/cmd (Windows), with no buffer cap.
type Options struct {
	// Shell overrides the interpreter used when a Command sets Shell=true.
	Shell string
	// ShellArgs overrides the arguments passed to Shell before the command
	// string (e.g. "-c" for POSIX shells, "/C" for cmd.exe).
	ShellArgs []string
	// MaxBuffer caps captured stdout+stderr bytes per stream; 0 means
	// unlimited.
	MaxBuffer int
}

func (Options) adapterOptions() {}

var _ command.AdapterOptions = Options{}

// Adapter executes Commands as local child processes.
type Adapter struct {
	opts Options
	mu   sync.Mutex
	// disposed guards against use after Dispose, mirroring the teacher's
	// idempotent-dispose contract.
	disposed bool
}

// New constructs a Local adapter with the given Options.
func New(opts Options) *Adapter {
	return &Adapter{opts: opts}
}

// Name identifies this adapter as command.AdapterLocal.
func (a *Adapter) Name() command.AdapterTag { return command.AdapterLocal }

// Available reports whether a usable shell can be resolved on this host.
func (a *Adapter) Available() bool {
	_, err := a.resolveShell()
	return err == nil
}

// ValidateConfig checks that a shell can be resolved when ShellArgs is
// explicitly configured without a Shell override, which would otherwise
// silently target the wrong interpreter.
func (a *Adapter) ValidateConfig() error {
	if len(a.opts.ShellArgs) > 0 && a.opts.Shell == "" {
		return &adapter.AdapterFailureError{
			Adapter:   command.AdapterLocal,
			Operation: "validateConfig",
			Cause:     errors.New("ShellArgs set without an explicit Shell"),
		}
	}
	return nil
}

// Execute spawns cmd as a child process. A non-zero exit or termination by
// signal is reported through the returned Result (ok=false), not as a Go
// error, and so are timeout and cancellation (a signal-bearing Result whose
// Cause names them); the returned error is reserved for infrastructure
// failures — a disposed adapter, no usable shell, a buffer overflow, or an
// inability to even start the process.
func (a *Adapter) Execute(ctx context.Context, cmd command.Command) (command.Result, error) {
	a.mu.Lock()
	disposed := a.disposed
	a.mu.Unlock()
	if disposed {
		return command.Result{}, &adapter.AdapterFailureError{
			Adapter:   command.AdapterLocal,
			Operation: "execute",
			Cause:     errors.New("adapter disposed"),
		}
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if cmd.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	program, args, err := a.resolveInvocation(cmd)
	if err != nil {
		return command.Result{}, err
	}

	execCmd := exec.CommandContext(runCtx, program, args...)
	if cmd.Dir != "" {
		execCmd.Dir = cmd.Dir
	}
	execCmd.Env = mergeEnv(os.Environ(), cmd.Env)
	if cmd.Stdin != nil {
		execCmd.Stdin = cmd.Stdin
	}

	stdout := newCaptureBuffer(a.opts.MaxBuffer)
	stderr := newCaptureBuffer(a.opts.MaxBuffer)
	execCmd.Stdout = stdout
	execCmd.Stderr = stderr

	// On context cancellation (caller signal, per-command timeout, or
	// engine dispose), exec calls Cancel instead of killing outright; it
	// then waits WaitDelay for the child to exit on its own before forcing
	// termination, giving every cancellation path the same grace period.
	execCmd.Cancel = func() error { return sendTerminate(execCmd.Process) }
	execCmd.WaitDelay = cmd.EffectiveGrace()

	started := time.Now()
	runErr := execCmd.Run()
	finished := time.Now()

	if stdout.overflowed || stderr.overflowed {
		return command.Result{}, &adapter.BufferOverflowError{Command: cmd.String(), MaxBuffer: a.opts.MaxBuffer}
	}

	var exitCode *int
	var signal string
	var exitErr *exec.ExitError
	switch {
	case errors.As(runErr, &exitErr):
		code := exitErr.ExitCode()
		exitCode = &code
		signal = signalName(exitErr)
		if signal == "" && errors.Is(runErr, exec.ErrWaitDelay) {
			// The child ignored the graceful signal past the grace period
			// and had to be force-killed; exec reports this by wrapping
			// ErrWaitDelay alongside the exit status.
			signal = "SIGKILL"
		}
	case errors.Is(runErr, exec.ErrWaitDelay):
		signal = "SIGKILL"
	case runErr != nil:
		return command.Result{}, &adapter.AdapterFailureError{
			Adapter:   command.AdapterLocal,
			Operation: "execute",
			Cause:     runErr,
		}
	default:
		code := 0
		exitCode = &code
	}

	cause := ""
	if signal != "" {
		switch {
		case errors.Is(ctx.Err(), context.Canceled):
			cause = fmt.Sprintf("cancelled: sent %s, grace %s", terminateSignalName, cmd.EffectiveGrace())
		case errors.Is(runCtx.Err(), context.DeadlineExceeded):
			cause = fmt.Sprintf("timed out after %s: sent %s, grace %s", cmd.Timeout, terminateSignalName, cmd.EffectiveGrace())
		}
	}

	return command.NewResult(
		command.AdapterLocal,
		cmd.String(),
		stdout.Bytes(),
		stderr.Bytes(),
		exitCode,
		signal,
		started,
		finished,
		cause,
	), nil
}

// Dispose is a no-op for the Local adapter: it owns no pooled resources,
// only the child processes it has already waited on. Idempotent.
func (a *Adapter) Dispose(context.Context) error {
	a.mu.Lock()
	a.disposed = true
	a.mu.Unlock()
	return nil
}

// resolveInvocation turns cmd into the program/args pair to hand to
// exec.CommandContext: either the shell invoking cmd.Program+Args as a
// single command string, or cmd.Program+Args verbatim when shell=false.
func (a *Adapter) resolveInvocation(cmd command.Command) (string, []string, error) {
	if !cmd.Shell {
		return cmd.Program, cmd.Args, nil
	}

	shell, err := a.resolveShell()
	if err != nil {
		return "", nil, &adapter.AdapterFailureError{Adapter: command.AdapterLocal, Operation: "resolveShell", Cause: err}
	}
	shellArgs := a.shellArgs(shell)

	// A shell-mode Command produced by the interpolator carries the full
	// shell string as its sole Args entry and leaves Program empty; a
	// caller-constructed Command may instead set Program to the shell
	// string directly with no args.
	script := cmd.Program
	if len(cmd.Args) > 0 {
		if script != "" {
			script = script + " " + strings.Join(cmd.Args, " ")
		} else {
			script = strings.Join(cmd.Args, " ")
		}
	}

	return shell, append(shellArgs, script), nil
}

// resolveShell determines which shell to invoke for shell=true Commands.
func (a *Adapter) resolveShell() (string, error) {
	if a.opts.Shell != "" {
		return a.opts.Shell, nil
	}
	switch runtime.GOOS {
	case "windows":
		if pwsh, err := exec.LookPath("pwsh"); err == nil {
			return pwsh, nil
		}
		if ps, err := exec.LookPath("powershell"); err == nil {
			return ps, nil
		}
		return exec.LookPath("cmd")
	default:
		if shell := os.Getenv("SHELL"); shell != "" {
			return shell, nil
		}
		if bash, err := exec.LookPath("bash"); err == nil {
			return bash, nil
		}
		if sh, err := exec.LookPath("sh"); err == nil {
			return sh, nil
		}
		return "", fmt.Errorf("no shell found")
	}
}

func (a *Adapter) shellArgs(shell string) []string {
	if len(a.opts.ShellArgs) > 0 {
		return append([]string(nil), a.opts.ShellArgs...)
	}
	base := strings.TrimSuffix(filepath.Base(shell), ".exe")
	switch base {
	case "cmd":
		return []string{"/C"}
	case "powershell", "pwsh":
		return []string{"-NoProfile", "-Command"}
	default:
		return []string{"-c"}
	}
}

// mergeEnv layers overrides on top of base, "name=value" formatted, later
// entries for the same name winning.
func mergeEnv(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return base
	}
	merged := make([]string, 0, len(base)+len(overrides))
	seen := make(map[string]bool, len(overrides))
	for name := range overrides {
		seen[name] = true
	}
	for _, kv := range base {
		name, _, ok := strings.Cut(kv, "=")
		if ok && seen[name] {
			continue
		}
		merged = append(merged, kv)
	}
	for name, value := range overrides {
		merged = append(merged, name+"="+value)
	}
	return merged
}

// captureBuffer is a bytes.Buffer that stops accepting writes once a
// configured cap is exceeded, surfacing a BufferOverflow instead of growing
// without bound.
type captureBuffer struct {
	buf        bytes.Buffer
	limit      int
	overflowed bool
}

func newCaptureBuffer(limit int) *captureBuffer {
	return &captureBuffer{limit: limit}
}

func (c *captureBuffer) Write(p []byte) (int, error) {
	if c.limit > 0 && c.buf.Len()+len(p) > c.limit {
		c.overflowed = true
		return len(p), nil
	}
	return c.buf.Write(p)
}

func (c *captureBuffer) Bytes() []byte { return c.buf.Bytes() }
