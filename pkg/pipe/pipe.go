// SPDX-License-Identifier: MPL-2.0

// Package pipe composes a Process Handle's stdout into a downstream
// Command, a byte transform, a sink, or a line callback, per spec.md
// §4.9. Every composer takes an Upstream, which already encodes whether
// the handle that produced it had nothrow() applied: a non-nil Err means
// the upstream threw and short-circuits the pipe; a nil Err with a
// non-OK Result means the upstream had nothrow() applied and the pipe
// proceeds on whatever (possibly empty) output it produced.
package pipe

import (
	"bufio"
	"bytes"
	"io"
	"regexp"
	"strings"

	"github.com/xec-sh/xec/pkg/command"
)

// Upstream is the outcome a pipe composer chains from.
type Upstream struct {
	Result command.Result
	Err    error
}

// Options configures a single pipe composition.
type Options struct {
	// Stderr, when true, appends the upstream's stderr bytes after its
	// stdout as the byte source fed downstream. Off by default: stderr
	// does not participate in pipe composition unless opted in via
	// WithStderr.
	Stderr bool
	// LineSeparator splits stdout for ToLines and the line-oriented
	// utilities. Defaults to "\n".
	LineSeparator string
}

// WithStderr returns opts with Stderr enabled.
func (o Options) WithStderr() Options {
	o.Stderr = true
	return o
}

func (o Options) separator() string {
	if o.LineSeparator == "" {
		return "\n"
	}
	return o.LineSeparator
}

func (o Options) source(up Upstream) []byte {
	if !o.Stderr || len(up.Result.Stderr) == 0 {
		return up.Result.Stdout
	}
	src := make([]byte, 0, len(up.Result.Stdout)+len(up.Result.Stderr))
	src = append(src, up.Result.Stdout...)
	src = append(src, up.Result.Stderr...)
	return src
}

// Transform is a duplex byte processor: it reads upstream bytes from src
// and writes the transformed bytes to dst.
type Transform func(src io.Reader, dst io.Writer) error

// Exec runs a downstream Command whose Stdin is the upstream's output,
// via the caller-supplied exec function (ordinarily a Process Handle's
// or Engine's own command dispatch). If upstream failed without
// nothrow(), downstream is never started.
func Exec(up Upstream, downstream command.Command, opts Options, exec func(command.Command) (command.Result, error)) (command.Result, error) {
	if up.Err != nil {
		return command.Result{}, up.Err
	}
	downstream = downstream.WithStdin(bytes.NewReader(opts.source(up)))
	return exec(downstream)
}

// ToTransform runs t over the upstream's bytes and returns a Result
// identical to upstream except for its stdout, which is replaced by t's
// output.
func ToTransform(up Upstream, t Transform, opts Options) (command.Result, error) {
	if up.Err != nil {
		return command.Result{}, up.Err
	}
	var out bytes.Buffer
	if err := t(bytes.NewReader(opts.source(up)), &out); err != nil {
		return command.Result{}, err
	}
	return withStdout(up.Result, out.Bytes()), nil
}

// ToSink drains the upstream's bytes into w and returns the upstream
// Result unchanged.
func ToSink(up Upstream, w io.Writer, opts Options) (command.Result, error) {
	if up.Err != nil {
		return command.Result{}, up.Err
	}
	if _, err := w.Write(opts.source(up)); err != nil {
		return command.Result{}, err
	}
	return up.Result, nil
}

// ToLines splits the upstream's bytes by opts.LineSeparator (default
// "\n") and invokes cb for each line, the last one included, returning
// the upstream Result unchanged. A trailing empty segment produced by a
// final separator is not treated as a line.
func ToLines(up Upstream, cb func(line string) error, opts Options) (command.Result, error) {
	if up.Err != nil {
		return command.Result{}, up.Err
	}
	lines := splitLines(opts.source(up), opts.separator())
	for _, line := range lines {
		if err := cb(line); err != nil {
			return command.Result{}, err
		}
	}
	return up.Result, nil
}

func splitLines(data []byte, sep string) []string {
	if len(data) == 0 {
		return nil
	}
	lines := strings.Split(string(data), sep)
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	return lines
}

func withStdout(r command.Result, stdout []byte) command.Result {
	out := command.NewResult(r.Adapter, r.CommandLine, stdout, r.Stderr, r.ExitCode, r.Signal, r.StartedAt, r.FinishedAt, r.Cause())
	out.Host = r.Host
	out.Container = r.Container
	out.Pod = r.Pod
	return out
}

// ToUpperCase is a Transform that upper-cases every byte it reads.
func ToUpperCase(src io.Reader, dst io.Writer) error {
	b, err := io.ReadAll(src)
	if err != nil {
		return err
	}
	_, err = dst.Write([]byte(strings.ToUpper(string(b))))
	return err
}

// Grep returns a Transform that keeps only lines matching pattern, which
// may be a string (substring match) or a *regexp.Regexp.
func Grep(pattern any) Transform {
	match := matcher(pattern)
	return func(src io.Reader, dst io.Writer) error {
		scanner := bufio.NewScanner(src)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		w := bufio.NewWriter(dst)
		for scanner.Scan() {
			line := scanner.Text()
			if match(line) {
				if _, err := w.WriteString(line); err != nil {
					return err
				}
				if _, err := w.WriteString("\n"); err != nil {
					return err
				}
			}
		}
		if err := scanner.Err(); err != nil {
			return err
		}
		return w.Flush()
	}
}

func matcher(pattern any) func(string) bool {
	switch p := pattern.(type) {
	case *regexp.Regexp:
		return p.MatchString
	case string:
		return func(line string) bool { return strings.Contains(line, p) }
	default:
		return func(string) bool { return false }
	}
}

// Replace returns a Transform that replaces every match of pattern
// (string or *regexp.Regexp) with replacement across the whole stream.
func Replace(pattern any, replacement string) Transform {
	return func(src io.Reader, dst io.Writer) error {
		b, err := io.ReadAll(src)
		if err != nil {
			return err
		}
		var out string
		switch p := pattern.(type) {
		case *regexp.Regexp:
			out = p.ReplaceAllString(string(b), replacement)
		case string:
			out = strings.ReplaceAll(string(b), p, replacement)
		default:
			out = string(b)
		}
		_, err = dst.Write([]byte(out))
		return err
	}
}

// Tee returns a Transform that copies upstream bytes to dst and to every
// additional sink in dests, so the pipeline can branch to side-channel
// writers (a log file, a progress meter) without breaking the chain.
func Tee(dests ...io.Writer) Transform {
	return func(src io.Reader, dst io.Writer) error {
		writers := append([]io.Writer{dst}, dests...)
		_, err := io.Copy(io.MultiWriter(writers...), src)
		return err
	}
}
