// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"errors"
	"io"
	"testing"

	containerpkg "github.com/xec-sh/xec/internal/container"
	"github.com/xec-sh/xec/pkg/command"
)

// fakeEngine is an in-memory containerpkg.Engine double: it records the
// RunOptions it was given and writes a canned stdout/stderr/exit code,
// avoiding any dependency on a real docker/podman binary being present.
type fakeEngine struct {
	available   bool
	lastOpts    containerpkg.RunOptions
	stdout      string
	stderr      string
	exitCode    int
	runErr      error
	resultErr   error
	containerID containerpkg.ContainerID
}

func (f *fakeEngine) Name() string          { return "fake" }
func (f *fakeEngine) Available() bool       { return f.available }
func (f *fakeEngine) Version(context.Context) (string, error) { return "0.0.0", nil }
func (f *fakeEngine) Build(context.Context, containerpkg.BuildOptions) error { return nil }

func (f *fakeEngine) Run(ctx context.Context, opts containerpkg.RunOptions) (*containerpkg.RunResult, error) {
	f.lastOpts = opts
	if f.runErr != nil {
		return nil, f.runErr
	}
	if opts.Stdout != nil && f.stdout != "" {
		_, _ = io.WriteString(opts.Stdout, f.stdout)
	}
	if opts.Stderr != nil && f.stderr != "" {
		_, _ = io.WriteString(opts.Stderr, f.stderr)
	}
	id := f.containerID
	if id == "" {
		id = "deadbeef"
	}
	return &containerpkg.RunResult{ContainerID: id, ExitCode: f.exitCode, Error: f.resultErr}, nil
}

func (f *fakeEngine) Remove(context.Context, containerpkg.ContainerID, bool) error { return nil }
func (f *fakeEngine) ImageExists(context.Context, containerpkg.ImageTag) (bool, error) {
	return true, nil
}
func (f *fakeEngine) RemoveImage(context.Context, containerpkg.ImageTag, bool) error { return nil }
func (f *fakeEngine) BinaryPath() string                                            { return "/usr/bin/fake" }
func (f *fakeEngine) BuildRunArgs(containerpkg.RunOptions) []string                 { return nil }

var _ containerpkg.Engine = (*fakeEngine)(nil)

func TestAdapter_Execute_MissingCommandOptions(t *testing.T) {
	a := &Adapter{engine: &fakeEngine{available: true}}
	cmd := command.New("echo hi")

	_, err := a.Execute(context.Background(), cmd)
	if err == nil {
		t.Fatal("Execute() expected error when CommandOptions is missing")
	}
}

func TestAdapter_Execute_Success(t *testing.T) {
	fe := &fakeEngine{available: true, stdout: "hello\n", exitCode: 0}
	a := &Adapter{engine: fe}

	cmd := command.New("echo hello").WithAdapter(command.AdapterContainer, CommandOptions{Image: "alpine:latest"})
	result, err := a.Execute(context.Background(), cmd)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !result.OK() {
		t.Errorf("Execute() result not OK: cause=%q", result.Cause())
	}
	if result.Text() != "hello" {
		t.Errorf("Text() = %q, want %q", result.Text(), "hello")
	}
	if result.Container != "deadbeef" {
		t.Errorf("Container = %q, want %q", result.Container, "deadbeef")
	}
	if len(fe.lastOpts.Command) == 0 || fe.lastOpts.Command[0] != "sh" {
		t.Errorf("lastOpts.Command = %v, want a shell invocation", fe.lastOpts.Command)
	}
}

func TestAdapter_Execute_NonZeroExitIsResultNotError(t *testing.T) {
	fe := &fakeEngine{available: true, exitCode: 3}
	a := &Adapter{engine: fe}

	cmd := command.New("exit 3").WithAdapter(command.AdapterContainer, CommandOptions{Image: "alpine:latest"})
	result, err := a.Execute(context.Background(), cmd)
	if err != nil {
		t.Fatalf("Execute() error = %v, want nil (exit code belongs in Result)", err)
	}
	if result.OK() {
		t.Fatal("Execute() result should not be OK for exit code 3")
	}
	if result.ExitCode == nil || *result.ExitCode != 3 {
		t.Errorf("ExitCode = %v, want 3", result.ExitCode)
	}
}

func TestAdapter_Execute_ShellFalsePassesArgsVerbatim(t *testing.T) {
	fe := &fakeEngine{available: true}
	a := &Adapter{engine: fe}

	cmd := command.Command{
		Program: "echo",
		Args:    []string{"a;b"},
		Shell:   false,
		Adapter: command.AdapterContainer,
		Options: CommandOptions{Image: "alpine:latest"},
	}
	if _, err := a.Execute(context.Background(), cmd); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	want := []string{"echo", "a;b"}
	if len(fe.lastOpts.Command) != len(want) {
		t.Fatalf("lastOpts.Command = %v, want %v", fe.lastOpts.Command, want)
	}
	for i := range want {
		if fe.lastOpts.Command[i] != want[i] {
			t.Errorf("lastOpts.Command[%d] = %q, want %q", i, fe.lastOpts.Command[i], want[i])
		}
	}
}

func TestAdapter_Execute_EngineErrorWrapped(t *testing.T) {
	fe := &fakeEngine{available: true, resultErr: errors.New("engine exploded")}
	a := &Adapter{engine: fe}

	cmd := command.New("echo hi").WithAdapter(command.AdapterContainer, CommandOptions{Image: "alpine:latest"})
	_, err := a.Execute(context.Background(), cmd)
	if err == nil {
		t.Fatal("Execute() expected error when RunResult.Error is set")
	}
}

func TestAdapter_Execute_InvalidImage(t *testing.T) {
	fe := &fakeEngine{available: true}
	a := &Adapter{engine: fe}

	cmd := command.New("echo hi").WithAdapter(command.AdapterContainer, CommandOptions{Image: "   "})
	_, err := a.Execute(context.Background(), cmd)
	if err == nil {
		t.Fatal("Execute() expected error for whitespace-only image tag")
	}
}

func TestAdapter_Name(t *testing.T) {
	a := &Adapter{engine: &fakeEngine{available: true}}
	if a.Name() != command.AdapterContainer {
		t.Errorf("Name() = %v, want %v", a.Name(), command.AdapterContainer)
	}
}

func TestAdapter_ValidateConfig_Unavailable(t *testing.T) {
	a := &Adapter{engine: &fakeEngine{available: false}}
	if err := a.ValidateConfig(); err == nil {
		t.Fatal("ValidateConfig() expected error when engine unavailable")
	}
}

func TestAdapter_Dispose_NoOp(t *testing.T) {
	a := &Adapter{engine: &fakeEngine{available: true}}
	if err := a.Dispose(context.Background()); err != nil {
		t.Fatalf("Dispose() error = %v", err)
	}
}
