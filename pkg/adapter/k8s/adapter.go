// SPDX-License-Identifier: MPL-2.0

package k8s

import (
	"bytes"
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/tools/remotecommand"
	executil "k8s.io/client-go/util/exec"

	"github.com/xec-sh/xec/pkg/adapter"
	"github.com/xec-sh/xec/pkg/command"
)

// execFunc abstracts remotecommand.NewSPDYExecutor so tests can substitute a
// fake stream without a real API server.
type execFunc func(config *rest.Config, method string, url *url.URL) (remotecommand.Executor, error)

// Adapter runs Commands inside existing pods via the pod-exec streaming API.
type Adapter struct {
	opts        Options
	config      *rest.Config
	clientset   kubernetes.Interface
	newExecutor execFunc
}

// New loads a kubeconfig per opts and constructs the REST client used for
// every subsequent operation. One Adapter serves every pod in the resolved
// context, per spec.md's "connection multiplexing happens at the API-client
// level" note — there is nothing per-pod to pool.
func New(opts Options) (*Adapter, error) {
	config, err := loadConfig(opts)
	if err != nil {
		return nil, &adapter.AdapterFailureError{Adapter: command.AdapterK8s, Operation: "new", Cause: err}
	}
	if opts.QPS > 0 {
		config.QPS = opts.QPS
	}
	if opts.Burst > 0 {
		config.Burst = opts.Burst
	}
	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, &adapter.AdapterFailureError{Adapter: command.AdapterK8s, Operation: "new", Cause: err}
	}
	return &Adapter{
		opts:        opts,
		config:      config,
		clientset:   clientset,
		newExecutor: remotecommand.NewSPDYExecutor,
	}, nil
}

func loadConfig(opts Options) (*rest.Config, error) {
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	if opts.KubeconfigPath != "" {
		rules.ExplicitPath = opts.KubeconfigPath
	}
	overrides := &clientcmd.ConfigOverrides{}
	if opts.Context != "" {
		overrides.CurrentContext = opts.Context
	}
	return clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, overrides).ClientConfig()
}

// Name identifies this adapter as command.AdapterK8s.
func (a *Adapter) Name() command.AdapterTag { return command.AdapterK8s }

// Available reports whether a REST config and clientset were constructed
// successfully; it does not probe the API server.
func (a *Adapter) Available() bool { return a.config != nil && a.clientset != nil }

// ValidateConfig checks that the adapter has a usable client.
func (a *Adapter) ValidateConfig() error {
	if !a.Available() {
		return &adapter.AdapterFailureError{
			Adapter:   command.AdapterK8s,
			Operation: "validateConfig",
			Cause:     errors.New("no Kubernetes client configured"),
		}
	}
	return nil
}

// Execute runs cmd inside the pod named by cmd.Options (a CommandOptions),
// streaming stdin/stdout/stderr over the pod-exec API.
func (a *Adapter) Execute(ctx context.Context, cmd command.Command) (command.Result, error) {
	co, ok := cmd.Options.(CommandOptions)
	if !ok || co.Pod == "" {
		return command.Result{}, &adapter.AdapterFailureError{
			Adapter:   command.AdapterK8s,
			Operation: "execute",
			Cause:     errors.New("k8s adapter requires CommandOptions with a non-empty Pod"),
		}
	}
	namespace := co.namespace(a.opts.Namespace)
	argv := remoteArgv(cmd)

	req := a.clientset.CoreV1().RESTClient().Post().
		Resource("pods").
		Name(co.Pod).
		Namespace(namespace).
		SubResource("exec")
	req.VersionedParams(&corev1.PodExecOptions{
		Container: co.Container,
		Command:   argv,
		Stdin:     cmd.Stdin != nil,
		Stdout:    true,
		Stderr:    true,
		TTY:       co.TTY,
	}, scheme.ParameterCodec)

	executor, err := a.newExecutor(a.config, "POST", req.URL())
	if err != nil {
		return command.Result{}, &adapter.ConnectionError{Host: namespace + "/" + co.Pod, Cause: err}
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if cmd.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	started := time.Now()
	err = executor.StreamWithContext(runCtx, remotecommand.StreamOptions{
		Stdin:  cmd.Stdin,
		Stdout: &stdout,
		Stderr: &stderr,
		Tty:    co.TTY,
	})
	finished := time.Now()

	exitCode := 0
	if err != nil {
		var codeErr executil.CodeExitError
		switch {
		case errors.As(err, &codeErr):
			exitCode = codeErr.Code
		case errors.Is(runCtx.Err(), context.DeadlineExceeded):
			return command.Result{}, &adapter.TimeoutError{Command: cmd.String(), Timeout: cmd.Timeout}
		case errors.Is(ctx.Err(), context.Canceled):
			return command.Result{}, &adapter.CancelledError{Command: cmd.String(), Cause: ctx.Err()}
		default:
			return command.Result{}, &adapter.ConnectionError{Host: namespace + "/" + co.Pod, Cause: err}
		}
	}

	r := command.NewResult(
		command.AdapterK8s,
		cmd.String(),
		stdout.Bytes(),
		stderr.Bytes(),
		&exitCode,
		"",
		started,
		finished,
		"",
	)
	r.Pod = co.Pod
	return r, nil
}

// Dispose is a no-op: the adapter holds no connections beyond the shared
// HTTP client inside config/clientset, which needs no explicit teardown.
func (a *Adapter) Dispose(context.Context) error { return nil }

// remoteArgv builds the in-pod argv, mirroring the container adapter's
// shell/no-shell convention.
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
