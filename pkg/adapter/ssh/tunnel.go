// SPDX-License-Identifier: MPL-2.0

package ssh

import (
	"fmt"
	"io"
	"net"
	"sync"

	xssh "golang.org/x/crypto/ssh"

	"github.com/xec-sh/xec/pkg/adapter"
)

// Tunnel is a local TCP listener forwarding accepted connections to a
// remote endpoint through an SSH transport's direct-tcpip channel, per the
// Tunnel glossary entry.
type Tunnel struct {
	listener   net.Listener
	client     *xssh.Client
	remoteHost string
	remotePort int

	mu      sync.Mutex
	closed  bool
	wg      sync.WaitGroup
	onClose func()
	conns   map[net.Conn]struct{}
}

func openTunnel(client *xssh.Client, localPort int, remoteHost string, remotePort int) (*Tunnel, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", localPort))
	if err != nil {
		return nil, &adapter.ConnectionError{Host: remoteHost, Cause: err}
	}
	t := &Tunnel{
		listener:   listener,
		client:     client,
		remoteHost: remoteHost,
		remotePort: remotePort,
		conns:      make(map[net.Conn]struct{}),
	}
	t.wg.Add(1)
	go t.acceptLoop()
	return t, nil
}

// LocalPort returns the OS-assigned (or explicitly requested) local port
// the tunnel is listening on.
func (t *Tunnel) LocalPort() int {
	return t.listener.Addr().(*net.TCPAddr).Port
}

func (t *Tunnel) acceptLoop() {
	defer t.wg.Done()
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			return
		}
		t.wg.Add(1)
		go t.forward(conn)
	}
}

func (t *Tunnel) forward(local net.Conn) {
	defer t.wg.Done()
	defer func() { _ = local.Close() }()

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.conns[local] = struct{}{}
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.conns, local)
		t.mu.Unlock()
	}()

	remote, err := t.client.Dial("tcp", fmt.Sprintf("%s:%d", t.remoteHost, t.remotePort))
	if err != nil {
		return
	}
	defer func() { _ = remote.Close() }()

	var copyWg sync.WaitGroup
	copyWg.Add(2)
	go func() {
		defer copyWg.Done()
		_, _ = io.Copy(remote, local)
	}()
	go func() {
		defer copyWg.Done()
		_, _ = io.Copy(local, remote)
	}()
	copyWg.Wait()
}

// Close stops accepting new connections and releases the tunnel's pooled
// transport reference. Idempotent; no further bytes are delivered to either
// side once Close returns, and the local socket is freed.
func (t *Tunnel) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	for conn := range t.conns {
		_ = conn.Close()
	}
	t.mu.Unlock()

	err := t.listener.Close()
	t.wg.Wait()
	if t.onClose != nil {
		t.onClose()
	}
	return err
}
