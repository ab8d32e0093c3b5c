// SPDX-License-Identifier: MPL-2.0

package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	xssh "golang.org/x/crypto/ssh"

	"github.com/xec-sh/xec/pkg/adapter"
	"github.com/xec-sh/xec/pkg/command"
)

// Adapter executes Commands over a pooled SSH transport.
type Adapter struct {
	opts Options
	pool *Pool
}

var _ adapter.EventEmitter = (*Adapter)(nil)

// SetEventHandler installs fn as the sink for this adapter's connection
// pool lifecycle events (ssh:connect/disconnect/reconnect/pool-cleanup/
// pool-metrics), satisfying adapter.EventEmitter.
func (a *Adapter) SetEventHandler(fn func(adapter.AdapterEvent)) {
	a.pool.SetEventHandler(fn)
}

// New constructs an SSH adapter backed by a fresh connection pool.
func New(opts Options) *Adapter {
	return &Adapter{opts: opts, pool: NewPool()}
}

// Name identifies this adapter as command.AdapterSSH.
func (a *Adapter) Name() command.AdapterTag { return command.AdapterSSH }

// Available reports whether Options carry enough information to dial: a
// host and at least one auth method.
func (a *Adapter) Available() bool {
	return a.opts.Host != "" && len(a.opts.Auth) > 0
}

// ValidateConfig checks that Options describe a dialable target.
func (a *Adapter) ValidateConfig() error {
	if a.opts.Host == "" {
		return &adapter.AdapterFailureError{Adapter: command.AdapterSSH, Operation: "validateConfig", Cause: errors.New("Host is required")}
	}
	if len(a.opts.Auth) == 0 {
		return &adapter.AdapterFailureError{Adapter: command.AdapterSSH, Operation: "validateConfig", Cause: errors.New("at least one Auth method is required")}
	}
	return nil
}

// Execute runs cmd on the remote host, acquiring a pooled transport for its
// resolved (user, host, port) triple and releasing it back to the pool on
// return (not closing it — the pool owns the transport's lifetime).
func (a *Adapter) Execute(ctx context.Context, cmd command.Command) (command.Result, error) {
	key, opts := a.opts.withCommand(cmd)

	client, err := a.pool.Acquire(ctx, key, opts)
	if err != nil {
		return command.Result{}, err
	}
	defer a.pool.Release(key)

	session, err := client.NewSession()
	if err != nil {
		return command.Result{}, &adapter.ConnectionError{Host: key.addr(), Cause: err}
	}
	defer func() { _ = session.Close() }()

	// sshd commonly restricts which names Setenv may forward (AcceptEnv), so
	// any rejected entry is instead exported as a prefix to the remote
	// command line, where the remote shell sets it unconditionally.
	rejected := applyEnv(session, cmd.Env)
	remoteCmd := withEnvPrefix(remoteCommandString(cmd), rejected)

	if cmd.Stdin != nil {
		session.Stdin = cmd.Stdin
	}
	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	runCtx := ctx
	var cancel context.CancelFunc
	if cmd.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	started := time.Now()
	done := make(chan error, 1)
	go func() { done <- session.Run(remoteCmd) }()

	select {
	case runErr := <-done:
		finished := time.Now()
		exitCode, signal, failure := exitInfo(runErr)
		if failure != nil {
			return command.Result{}, &adapter.ConnectionError{Host: key.addr(), Cause: failure}
		}
		return command.NewResult(
			command.AdapterSSH,
			remoteCmd,
			stdout.Bytes(),
			stderr.Bytes(),
			exitCode,
			signal,
			started,
			finished,
			"",
		), nil
	case <-runCtx.Done():
		// Give the remote process a chance to exit on its own before
		// forcing it, mirroring the local adapter's terminate-then-kill
		// sequence — SSH has no SIGTERM-vs-SIGKILL default, so both are
		// sent explicitly.
		grace := cmd.EffectiveGrace()
		_ = session.Signal(xssh.SIGTERM)

		var runErr error
		forced := false
		select {
		case runErr = <-done:
		case <-time.After(grace):
			forced = true
			_ = session.Signal(xssh.SIGKILL)
			runErr = <-done
		}
		finished := time.Now()

		exitCode, signal, _ := exitInfo(runErr)
		if signal == "" {
			signal = string(xssh.SIGTERM)
			if forced {
				signal = string(xssh.SIGKILL)
			}
		}

		var cause string
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			cause = fmt.Sprintf("timed out after %s: sent SIGTERM, grace %s", cmd.Timeout, grace)
		} else {
			cause = fmt.Sprintf("cancelled: sent SIGTERM, grace %s", grace)
		}
		if forced {
			cause += "; forced SIGKILL after grace elapsed"
		}

		return command.NewResult(
			command.AdapterSSH,
			remoteCmd,
			stdout.Bytes(),
			stderr.Bytes(),
			exitCode,
			signal,
			started,
			finished,
			cause,
		), nil
	}
}

// exitInfo extracts the exit code and terminating signal from a session
// Run error. A nil error means a clean exit (code 0, no signal); any error
// that isn't an *ssh.ExitError is a transport-level failure, not a command
// outcome, and is returned as failure for the caller to wrap.
func exitInfo(runErr error) (exitCode *int, signal string, failure error) {
	if runErr == nil {
		code := 0
		return &code, "", nil
	}
	var exitErr *xssh.ExitError
	if errors.As(runErr, &exitErr) {
		code := exitErr.ExitStatus()
		return &code, exitErr.Signal(), nil
	}
	return nil, "", runErr
}

// applyEnv sets each entry of env on session via Setenv, returning the
// subset the remote sshd rejected (typically because the name isn't listed
// in its AcceptEnv) for the caller to apply a different way.
func applyEnv(session *xssh.Session, env map[string]string) map[string]string {
	if len(env) == 0 {
		return nil
	}
	var rejected map[string]string
	for name, value := range env {
		if err := session.Setenv(name, value); err != nil {
			if rejected == nil {
				rejected = make(map[string]string, len(env))
			}
			rejected[name] = value
		}
	}
	return rejected
}

// withEnvPrefix prepends POSIX "export NAME=value;" assignments for env to
// cmdLine, so names the remote sshd wouldn't forward via Setenv still reach
// the command.
func withEnvPrefix(cmdLine string, env map[string]string) string {
	if len(env) == 0 {
		return cmdLine
	}
	names := make([]string, 0, len(env))
	for name := range env {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		b.WriteString("export ")
		b.WriteString(name)
		b.WriteString("=")
		b.WriteString(quotePOSIX(env[name]))
		b.WriteString("; ")
	}
	b.WriteString(cmdLine)
	return b.String()
}

// Dispose closes every pooled transport. Idempotent.
func (a *Adapter) Dispose(context.Context) error {
	return a.pool.Close()
}

// Tunnel opens a dynamic local-to-remote TCP tunnel through the transport
// pooled for the given command options, per the Tunnel data model.
func (a *Adapter) Tunnel(ctx context.Context, opts CommandOptions, localPort int, remoteHost string, remotePort int) (*Tunnel, error) {
	key, resolved := a.opts.withCommand(command.Command{Options: opts})
	client, err := a.pool.Acquire(ctx, key, resolved)
	if err != nil {
		return nil, err
	}
	t, err := openTunnel(client, localPort, remoteHost, remotePort)
	if err != nil {
		a.pool.Release(key)
		return nil, err
	}
	t.onClose = func() { a.pool.Release(key) }
	return t, nil
}

// remoteCommandString renders cmd into the single string the SSH exec
// channel expects. shell=true passes the caller's string through untouched
// (the remote shell interprets it, as intended); shell=false quotes every
// argument so the remote shell's tokenization reproduces the exact argv the
// caller provided, with no re-parsing.
func remoteCommandString(cmd command.Command) string {
	var base string
	if len(cmd.Args) > 0 && cmd.Program == "" {
		base = cmd.Args[0]
	} else if cmd.Shell {
		base = cmd.Program
		if len(cmd.Args) > 0 {
			base += " " + strings.Join(cmd.Args, " ")
		}
	} else {
		parts := make([]string, 0, len(cmd.Args)+1)
		parts = append(parts, quotePOSIX(cmd.Program))
		for _, a := range cmd.Args {
			parts = append(parts, quotePOSIX(a))
		}
		base = strings.Join(parts, " ")
	}
	if cmd.Dir != "" {
		return fmt.Sprintf("cd %s && %s", quotePOSIX(cmd.Dir), base)
	}
	return base
}

func quotePOSIX(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
