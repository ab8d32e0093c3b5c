// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/xec-sh/xec/internal/issue"
	"github.com/xec-sh/xec/pkg/command"
	"github.com/xec-sh/xec/pkg/handle"
)

// runAndReport awaits h, writes its captured stdout/stderr to this
// process's own, and turns a non-OK Result into an error cobra can use to
// set a non-zero exit status. A dispatch failure below the adapter (the
// host unreachable, the image missing, the pod not found) is wrapped into
// an actionable error carrying adapter-specific remediation suggestions
// instead of being returned unchanged.
func runAndReport(ctx context.Context, h *handle.Handle, tag command.AdapterTag, resource string) error {
	result, err := h.Await(ctx)
	os.Stdout.Write(result.Stdout)
	os.Stderr.Write(result.Stderr)

	var execErr *handle.ExecutionError
	if errors.As(err, &execErr) {
		return fmt.Errorf("command exited with %s", exitDescription(result))
	}
	if err != nil {
		return wrapAdapterError(err, tag, resource)
	}
	return nil
}

// wrapAdapterError turns a dispatch-level failure into an issue.ActionableError
// carrying the adapter and resource involved plus remediation suggestions,
// so the message fang prints names what to check rather than just the
// underlying transport error.
func wrapAdapterError(err error, tag command.AdapterTag, resource string) error {
	c := issue.NewErrorContext().
		WithOperation("dispatch command via " + string(tag) + " adapter").
		WithResource(resource).
		Wrap(err).
		WithSuggestions(adapterSuggestions(tag)...)
	return c.BuildError()
}

func adapterSuggestions(tag command.AdapterTag) []string {
	switch tag {
	case command.AdapterSSH:
		return []string{
			"Check that the host is reachable and its SSH port is open",
			"Verify the configured user and authentication method are correct",
		}
	case command.AdapterContainer:
		return []string{
			"Check that the configured container engine is installed and running",
			"Verify the image name is correct and can be pulled",
		}
	case command.AdapterK8s:
		return []string{
			"Check that the kubeconfig context and namespace are correct",
			"Verify the pod and container names exist and are running",
		}
	default:
		return nil
	}
}

func exitDescription(r command.Result) string {
	if r.Signal != "" {
		return "signal " + r.Signal
	}
	if r.ExitCode != nil {
		return fmt.Sprintf("status %d", *r.ExitCode)
	}
	return "an unknown status"
}
