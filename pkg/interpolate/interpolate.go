// SPDX-License-Identifier: MPL-2.0

// Package interpolate implements the template-literal-style front end that
// safely turns fragments and interpolated values into a Command: a single
// shell string when the command targets a shell, or an argv vector when it
// does not.
package interpolate

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/xec-sh/xec/pkg/command"
)

// ErrInterpolation is the sentinel wrapped by InterpolationError.
var ErrInterpolation = errors.New("interpolation error")

// InterpolationError reports a value that could not be serialized into a
// command fragment (e.g. a cyclic object).
type InterpolationError struct {
	Value any
	Cause error
}

func (e *InterpolationError) Error() string {
	return fmt.Sprintf("interpolation error: value %#v: %s", e.Value, e.Cause)
}

func (e *InterpolationError) Unwrap() error { return ErrInterpolation }

// Raw marks a value that should be inlined into the rendered command with no
// quoting at all, for callers that explicitly opt out of safety.
type Raw string

// Tag renders fragments and values in the style of a tagged template
// literal: fragments[0] + render(values[0]) + fragments[1] + … It returns a
// Command ready to execute, defaulting to shell mode. Pass shell=false to
// Build instead for an argv-vector Command.
func Tag(fragments []string, values ...any) (command.Command, error) {
	s, err := Render(fragments, values...)
	if err != nil {
		return command.Command{}, err
	}
	return shellCommand(s), nil
}

// Render quotes and joins fragments/values into a single POSIX shell string,
// the "(a) single shell-string when shell=true" form.
func Render(fragments []string, values ...any) (string, error) {
	if len(fragments) == 0 {
		return "", nil
	}
	var b strings.Builder
	b.WriteString(fragments[0])
	for i, v := range values {
		rendered, err := renderValue(v)
		if err != nil {
			return "", err
		}
		b.WriteString(rendered)
		if i+1 < len(fragments) {
			b.WriteString(fragments[i+1])
		}
	}
	return b.String(), nil
}

// Build renders fragments/values into an argv vector instead of a shell
// string, the "(b) argv list when shell=false" form: an interpolated
// []string spreads into separate argv entries, and any other value
// (including a slice of another element type, which is JSON-encoded) is
// appended unquoted to the current entry together with the adjacent
// fragment text — argv elements are never shell-tokenized.
func Build(fragments []string, values ...any) ([]string, error) {
	if len(fragments) == 0 {
		return nil, nil
	}
	var args []string
	pending := fragments[0]
	flush := func() {
		if pending != "" {
			args = append(args, pending)
			pending = ""
		}
	}
	for i, v := range values {
		switch vv := v.(type) {
		case []string:
			flush()
			args = append(args, vv...)
		case Raw:
			pending += string(vv)
		default:
			s, err := scalarText(v)
			if err != nil {
				return nil, err
			}
			pending += s
		}
		if i+1 < len(fragments) {
			pending += fragments[i+1]
		}
	}
	flush()
	return args, nil
}

func shellCommand(shellString string) command.Command {
	c := command.New("")
	c.Shell = true
	c.Adapter = command.AdapterAuto
	// The shell string is carried as the sole argument to the adapter's
	// shell invocation ("<shell> -c <string>"); Program is resolved by the
	// adapter, not here.
	c.Args = []string{shellString}
	return c
}

func renderValue(v any) (string, error) {
	switch vv := v.(type) {
	case Raw:
		return string(vv), nil
	case []string:
		parts := make([]string, len(vv))
		for i, s := range vv {
			parts[i] = quotePOSIX(s)
		}
		return strings.Join(parts, " "), nil
	default:
		s, err := scalarText(v)
		if err != nil {
			return "", err
		}
		return quotePOSIX(s), nil
	}
}

// scalarText serializes a single interpolated value to its textual form,
// per §4.2: strings pass through, int/int64/float64/bool use their textual
// form, and every other value (objects, and slices other than the []string
// its callers spread) is JSON-encoded.
func scalarText(v any) (string, error) {
	switch vv := v.(type) {
	case string:
		return vv, nil
	case bool:
		return strconv.FormatBool(vv), nil
	case int:
		return strconv.Itoa(vv), nil
	case int64:
		return strconv.FormatInt(vv, 10), nil
	case float64:
		return strconv.FormatFloat(vv, 'g', -1, 64), nil
	case nil:
		return "", nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return "", &InterpolationError{Value: v, Cause: err}
		}
		return string(data), nil
	}
}

// quotePOSIX wraps s in single quotes, escaping any embedded single quote as
// '\'' (close quote, escaped literal quote, reopen quote).
func quotePOSIX(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
