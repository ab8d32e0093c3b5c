// SPDX-License-Identifier: MPL-2.0

package k8s

import (
	"bufio"
	"context"
	"io"
	"sync"
	"time"

	corev1 "k8s.io/api/core/v1"

	"github.com/xec-sh/xec/pkg/adapter"
)

// LogOptions configures a logs() call, matching spec.md §4.7's
// {tail, since, timestamps, container, follow} parameters.
type LogOptions struct {
	Container  string
	Namespace  string
	Tail       int64
	Since      time.Duration
	Timestamps bool
	Follow     bool
}

// LogStream is the handle returned by a streaming Logs call; Stop cancels
// the underlying watch and closes the line channel.
type LogStream struct {
	Lines <-chan string
	Err   <-chan error

	cancel context.CancelFunc
	closed bool
	mu     sync.Mutex
}

// Stop cancels the streaming logs call. Idempotent.
func (s *LogStream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.cancel()
}

// Logs fetches (or streams, when opts.Follow is set) logs for a pod. In
// both modes it returns a LogStream once the log request is open; its
// Lines channel is fed in the background until Stop is called or the
// pod's log stream ends.
func (a *Adapter) Logs(ctx context.Context, pod string, opts LogOptions) (*LogStream, error) {
	namespace := opts.namespace(a.opts.Namespace)
	podLogOpts := &corev1.PodLogOptions{
		Container:  opts.Container,
		Follow:     opts.Follow,
		Timestamps: opts.Timestamps,
	}
	if opts.Tail > 0 {
		podLogOpts.TailLines = &opts.Tail
	}
	if opts.Since > 0 {
		secs := int64(opts.Since.Seconds())
		podLogOpts.SinceSeconds = &secs
	}

	streamCtx, cancel := context.WithCancel(ctx)
	req := a.clientset.CoreV1().Pods(namespace).GetLogs(pod, podLogOpts)
	rc, err := req.Stream(streamCtx)
	if err != nil {
		cancel()
		return nil, &adapter.ConnectionError{Host: namespace + "/" + pod, Cause: err}
	}

	lines := make(chan string, 64)
	errc := make(chan error, 1)
	ls := &LogStream{Lines: lines, Err: errc, cancel: cancel}

	go func() {
		defer close(lines)
		defer close(errc)
		defer func() { _ = rc.Close() }()
		scanner := bufio.NewScanner(rc)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-streamCtx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil && err != io.EOF {
			errc <- err
		}
	}()

	return ls, nil
}

func (o LogOptions) namespace(adapterDefault string) string {
	if o.Namespace != "" {
		return o.Namespace
	}
	if adapterDefault != "" {
		return adapterDefault
	}
	return "default"
}
