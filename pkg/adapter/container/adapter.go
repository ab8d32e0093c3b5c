// SPDX-License-Identifier: MPL-2.0

package container

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"time"

	containerpkg "github.com/xec-sh/xec/internal/container"
	"github.com/xec-sh/xec/pkg/adapter"
	"github.com/xec-sh/xec/pkg/command"
)

// Adapter executes Commands as one-shot, auto-removed containers.
type Adapter struct {
	engine containerpkg.Engine
}

// New resolves a container engine per opts.Engine (auto-detecting when
// unset) and returns an Adapter backed by it.
func New(opts Options) (*Adapter, error) {
	var engine containerpkg.Engine
	var err error
	if opts.Engine == "" {
		engine, err = containerpkg.AutoDetectEngine()
	} else {
		engine, err = containerpkg.NewEngine(opts.Engine)
	}
	if err != nil {
		return nil, &adapter.AdapterFailureError{Adapter: command.AdapterContainer, Operation: "new", Cause: err}
	}
	return &Adapter{engine: engine}, nil
}

// Name identifies this adapter as command.AdapterContainer.
func (a *Adapter) Name() command.AdapterTag { return command.AdapterContainer }

// Available reports whether the underlying engine binary is reachable.
func (a *Adapter) Available() bool { return a.engine.Available() }

// ValidateConfig checks that the underlying engine is available.
func (a *Adapter) ValidateConfig() error {
	if !a.engine.Available() {
		return &adapter.AdapterFailureError{
			Adapter:   command.AdapterContainer,
			Operation: "validateConfig",
			Cause:     errors.New(a.engine.Name() + " engine is not available"),
		}
	}
	return nil
}

// Execute runs cmd as a new container, image and mounts taken from cmd's
// CommandOptions. The container is removed after exit regardless of
// outcome.
func (a *Adapter) Execute(ctx context.Context, cmd command.Command) (command.Result, error) {
	co, ok := cmd.Options.(CommandOptions)
	if !ok || co.Image == "" {
		return command.Result{}, &adapter.AdapterFailureError{
			Adapter:   command.AdapterContainer,
			Operation: "execute",
			Cause:     errors.New("container adapter requires CommandOptions with a non-empty Image"),
		}
	}

	var stdout, stderr bytes.Buffer
	runOpts := containerpkg.RunOptions{
		Image:      co.Image,
		Command:    remoteArgv(cmd),
		WorkDir:    containerpkg.MountTargetPath(cmd.Dir),
		Env:        cmd.Env,
		Volumes:    co.Volumes,
		Ports:      co.Ports,
		ExtraHosts: co.ExtraHosts,
		Name:       co.Name,
		Remove:     true,
		Stdin:      cmd.Stdin,
		Stdout:     &stdout,
		Stderr:     &stderr,
	}
	if err := runOpts.Validate(); err != nil {
		return command.Result{}, &adapter.AdapterFailureError{Adapter: command.AdapterContainer, Operation: "execute", Cause: err}
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if cmd.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	started := time.Now()
	result, err := a.engine.Run(runCtx, runOpts)
	finished := time.Now()
	if err != nil {
		// Engine.Run's own implementations never return a non-nil error
		// (infra failures surface via result.Error instead), but the
		// interface allows it, so handle it the same way as result.Error.
		return command.Result{}, containerRunError(runCtx, ctx, cmd, result, err)
	}
	if result.Error != nil {
		return command.Result{}, containerRunError(runCtx, ctx, cmd, result, result.Error)
	}

	exitCode := result.ExitCode
	r := command.NewResult(
		command.AdapterContainer,
		cmd.String(),
		stdout.Bytes(),
		stderr.Bytes(),
		&exitCode,
		"",
		started,
		finished,
		"",
	)
	r.Container = result.ContainerID.String()
	return r, nil
}

// Dispose is a no-op: every container this adapter starts is run with
// Remove=true, so there is nothing left to clean up between calls.
func (a *Adapter) Dispose(context.Context) error { return nil }

// containerRunError classifies a run failure as timeout, cancellation, or a
// generic container operation error.
func containerRunError(runCtx, callerCtx context.Context, cmd command.Command, result *containerpkg.RunResult, cause error) error {
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return &adapter.TimeoutError{Command: cmd.String(), Timeout: cmd.Timeout}
	}
	if errors.Is(callerCtx.Err(), context.Canceled) {
		return &adapter.CancelledError{Command: cmd.String(), Cause: callerCtx.Err()}
	}
	container := ""
	if result != nil {
		container = result.ContainerID.String()
	}
	return &adapter.ContainerOperationError{Container: container, Operation: "run", Cause: cause}
}

// remoteArgv builds the in-container argv: the script string under the
// image's shell when cmd.Shell, or cmd.Program+Args verbatim otherwise —
// matching the "shell=false sees arguments exactly as provided" invariant.
func remoteArgv(cmd command.Command) []string {
	if !cmd.Shell {
		return append([]string{cmd.Program}, cmd.Args...)
	}
	script := cmd.Program
	if len(cmd.Args) > 0 {
		if script != "" {
			script += " " + strings.Join(cmd.Args, " ")
		} else {
			script = strings.Join(cmd.Args, " ")
		}
	}
	return []string{"sh", "-c", script}
}
