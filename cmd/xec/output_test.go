// SPDX-License-Identifier: MPL-2.0

package main

import (
	"errors"
	"strings"
	"testing"

	"github.com/xec-sh/xec/internal/issue"
	"github.com/xec-sh/xec/pkg/command"
)

func TestExitDescription(t *testing.T) {
	t.Parallel()

	code := 7
	tests := []struct {
		name string
		r    command.Result
		want string
	}{
		{
			name: "signal takes priority",
			r:    command.Result{Signal: "SIGKILL", ExitCode: &code},
			want: "signal SIGKILL",
		},
		{
			name: "exit code",
			r:    command.Result{ExitCode: &code},
			want: "status 7",
		},
		{
			name: "neither known",
			r:    command.Result{},
			want: "an unknown status",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := exitDescription(tt.r); got != tt.want {
				t.Errorf("exitDescription() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWrapAdapterError(t *testing.T) {
	t.Parallel()

	dialErr := errors.New("dial tcp: connection refused")
	err := wrapAdapterError(dialErr, command.AdapterSSH, "build.internal")

	var ae *issue.ActionableError
	if !errors.As(err, &ae) {
		t.Fatalf("wrapAdapterError() = %v, want an *issue.ActionableError", err)
	}
	if ae.Resource() != "build.internal" {
		t.Errorf("Resource() = %q, want %q", ae.Resource(), "build.internal")
	}
	if !errors.Is(err, dialErr) && ae.Cause() != dialErr {
		t.Errorf("Cause() = %v, want %v", ae.Cause(), dialErr)
	}
	if !ae.HasSuggestions() {
		t.Errorf("expected ssh adapter errors to carry remediation suggestions")
	}
	if !strings.Contains(err.Error(), "build.internal") {
		t.Errorf("Error() = %q, want it to mention the resource", err.Error())
	}
}

func TestAdapterSuggestions(t *testing.T) {
	t.Parallel()

	for _, tag := range []command.AdapterTag{command.AdapterSSH, command.AdapterContainer, command.AdapterK8s} {
		if len(adapterSuggestions(tag)) == 0 {
			t.Errorf("adapterSuggestions(%v) returned none, want adapter-specific suggestions", tag)
		}
	}
	if got := adapterSuggestions(command.AdapterLocal); got != nil {
		t.Errorf("adapterSuggestions(local) = %v, want nil", got)
	}
}
