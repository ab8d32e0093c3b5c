// SPDX-License-Identifier: MPL-2.0

package k8s

import (
	"fmt"
	"net/http"

	"k8s.io/client-go/tools/portforward"
	"k8s.io/client-go/transport/spdy"

	"github.com/xec-sh/xec/pkg/adapter"
	"github.com/xec-sh/xec/pkg/command"
)

// PortForward is the handle returned by Adapter.PortForward,
// mirroring spec.md §4.7/§4.5's {localPort, remoteHost, remotePort, close()}
// shape.
type PortForward struct {
	LocalPort  int
	RemoteHost string
	RemotePort int

	stopCh chan struct{}
	doneCh chan struct{}
}

// Close stops the port-forward session and waits for its goroutine to
// exit. Idempotent.
func (p *PortForward) Close() error {
	select {
	case <-p.stopCh:
	default:
		close(p.stopCh)
	}
	<-p.doneCh
	return nil
}

// PortForward binds localPort (0 picks an OS-assigned port) to remotePort
// on pod, tunneling through the pod's port-forward subresource.
func (a *Adapter) PortForward(pod string, opts CommandOptions, localPort, remotePort int) (*PortForward, error) {
	namespace := opts.namespace(a.opts.Namespace)

	transport, upgrader, err := spdy.RoundTripperFor(a.config)
	if err != nil {
		return nil, &adapter.AdapterFailureError{Adapter: command.AdapterK8s, Operation: "portForward", Cause: err}
	}

	req := a.clientset.CoreV1().RESTClient().Post().
		Resource("pods").
		Namespace(namespace).
		Name(pod).
		SubResource("portforward")

	dialer := spdy.NewDialer(upgrader, &http.Client{Transport: transport}, "POST", req.URL())

	stopCh := make(chan struct{})
	doneCh := make(chan struct{})
	readyCh := make(chan struct{})

	ports := []string{fmt.Sprintf("%d:%d", localPort, remotePort)}
	fw, err := portforward.New(dialer, ports, stopCh, readyCh, portForwardDiscard{}, portForwardDiscard{})
	if err != nil {
		return nil, &adapter.ConnectionError{Host: namespace + "/" + pod, Cause: err}
	}

	errCh := make(chan error, 1)
	go func() {
		defer close(doneCh)
		errCh <- fw.ForwardPorts()
	}()

	select {
	case <-readyCh:
	case err := <-errCh:
		return nil, &adapter.ConnectionError{Host: namespace + "/" + pod, Cause: err}
	}

	actualLocal := localPort
	if ports, err := fw.GetPorts(); err == nil && len(ports) == 1 {
		actualLocal = int(ports[0].Local)
	}

	return &PortForward{
		LocalPort:  actualLocal,
		RemoteHost: pod,
		RemotePort: remotePort,
		stopCh:     stopCh,
		doneCh:     doneCh,
	}, nil
}

// portForwardDiscard is an io.Writer sink for the portforward package's
// diagnostic out/errOut streams, which this adapter does not surface.
type portForwardDiscard struct{}

func (portForwardDiscard) Write(p []byte) (int, error) { return len(p), nil }
