// SPDX-License-Identifier: MPL-2.0

package ssh

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/xec-sh/xec/pkg/adapter"
)

// poolKey identifies a reusable transport by the triple that determines its
// identity on the remote end.
type poolKey struct {
	user string
	host string
	port int
}

func (k poolKey) addr() string {
	return fmt.Sprintf("%s:%d", k.host, k.port)
}

func (k poolKey) String() string {
	return fmt.Sprintf("%s@%s", k.user, k.addr())
}

// poolEntry is a single live transport plus its pool bookkeeping, per the
// Connection Pool Entry data model: a live transport, an idle-since
// timestamp, an in-use counter, the last heartbeat result, and the
// reconnection attempt counter.
type poolEntry struct {
	client            *ssh.Client
	inUse             int
	idleSince         time.Time
	lastHeartbeat     error
	reconnectAttempts int
}

// Metrics exposes pool-wide counters for observability and tests (the
// "SSH connection reuse" scenario checks these directly).
type Metrics struct {
	ConnectionsCreated int
	ReuseCount         int
}

// dialFunc opens a new transport for key; overridable in tests.
type dialFunc func(ctx context.Context, key poolKey, opts Options) (*ssh.Client, error)

// Pool manages live SSH transports keyed by (user, host, port), reusing idle
// entries and enforcing Options.MaxConnections across the whole pool.
type Pool struct {
	mu      sync.Mutex
	entries map[poolKey]*poolEntry
	dial    dialFunc
	metrics Metrics
	onEvent func(adapter.AdapterEvent)
}

// NewPool constructs an empty Pool using the real network dialer.
func NewPool() *Pool {
	return &Pool{
		entries: make(map[poolKey]*poolEntry),
		dial:    dialNetwork,
	}
}

// emit delivers an AdapterEvent to the Pool's configured handler, if any,
// never under p.mu. key is empty for a pool-wide event with no single
// connection to name.
func (p *Pool) emit(name string, key string, err error) {
	p.mu.Lock()
	onEvent := p.onEvent
	p.mu.Unlock()
	if onEvent == nil {
		return
	}
	onEvent(adapter.AdapterEvent{Name: name, Key: key, Err: err})
}

func (p *Pool) emitMetrics() {
	p.mu.Lock()
	onEvent := p.onEvent
	m := p.metrics
	p.mu.Unlock()
	if onEvent == nil {
		return
	}
	onEvent(adapter.AdapterEvent{
		Name: "ssh:pool-metrics",
		Metrics: map[string]int{
			"connectionsCreated": m.ConnectionsCreated,
			"reuseCount":         m.ReuseCount,
		},
	})
}

func dialNetwork(ctx context.Context, key poolKey, opts Options) (*ssh.Client, error) {
	cfg := &ssh.ClientConfig{
		User:            key.user,
		Auth:            opts.Auth,
		HostKeyCallback: opts.HostKeyCallback,
		Timeout:         opts.DialTimeout,
	}
	if cfg.HostKeyCallback == nil {
		cfg.HostKeyCallback = ssh.InsecureIgnoreHostKey()
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", key.addr())
	if err != nil {
		return nil, err
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, key.addr(), cfg)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return ssh.NewClient(sshConn, chans, reqs), nil
}

// Acquire returns a live transport for key, reusing an idle entry when one
// exists and is healthy, dialing a new one otherwise. It enforces
// Options.MaxConnections by evicting one idle entry for a different key
// before dialing (whichever idle entry the map iteration meets first, not
// necessarily the oldest), and returns a Connection error when the pool is
// full of in-use entries and no slot can be freed.
func (p *Pool) Acquire(ctx context.Context, cmdKey poolKey, opts Options) (*ssh.Client, error) {
	p.mu.Lock()
	if entry, ok := p.entries[cmdKey]; ok && entry.client != nil {
		entry.inUse++
		entry.idleSince = time.Time{}
		p.metrics.ReuseCount++
		client := entry.client
		p.mu.Unlock()
		p.emitMetrics()
		return client, nil
	}

	var evicted poolKey
	didEvict := false
	if opts.MaxConnections > 0 && len(p.entries) >= opts.MaxConnections {
		evicted, didEvict = p.evictOneIdleLocked()
		if !didEvict {
			p.mu.Unlock()
			return nil, &adapter.ConnectionError{
				Host:  cmdKey.addr(),
				Cause: fmt.Errorf("pool at capacity (%d connections) with no idle entry to evict", opts.MaxConnections),
			}
		}
	}
	p.mu.Unlock()
	if didEvict {
		p.emit("ssh:disconnect", evicted.String(), nil)
	}

	client, err := p.dialWithRetry(ctx, cmdKey, opts)
	if err != nil {
		return nil, &adapter.ConnectionError{Host: cmdKey.addr(), Cause: err}
	}

	p.mu.Lock()
	p.entries[cmdKey] = &poolEntry{client: client, inUse: 1}
	p.metrics.ConnectionsCreated++
	p.mu.Unlock()
	p.emit("ssh:connect", cmdKey.String(), nil)
	p.emitMetrics()
	return client, nil
}

func (p *Pool) dialWithRetry(ctx context.Context, key poolKey, opts Options) (*ssh.Client, error) {
	attempts := opts.MaxReconnectAttempts
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			p.emit("ssh:reconnect", key.String(), lastErr)
		}
		client, err := p.dial(ctx, key, opts)
		if err == nil {
			return client, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

// evictOneIdleLocked removes one idle entry, if any exists, returning its
// key so the caller can emit a disconnect event once p.mu is released.
// Caller must hold p.mu.
func (p *Pool) evictOneIdleLocked() (poolKey, bool) {
	for key, entry := range p.entries {
		if entry.inUse == 0 {
			_ = entry.client.Close()
			delete(p.entries, key)
			return key, true
		}
	}
	return poolKey{}, false
}

// Release marks one use of key's entry as finished. When the in-use count
// reaches zero the entry becomes eligible for idle eviction.
func (p *Pool) Release(key poolKey) {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.entries[key]
	if !ok {
		return
	}
	if entry.inUse > 0 {
		entry.inUse--
	}
	if entry.inUse == 0 {
		entry.idleSince = time.Now()
	}
}

// EvictIdle closes and removes every entry that has been idle longer than
// idleTimeout.
func (p *Pool) EvictIdle(idleTimeout time.Duration) {
	p.mu.Lock()
	now := time.Now()
	var evicted []poolKey
	for key, entry := range p.entries {
		if entry.inUse == 0 && !entry.idleSince.IsZero() && now.Sub(entry.idleSince) > idleTimeout {
			_ = entry.client.Close()
			delete(p.entries, key)
			evicted = append(evicted, key)
		}
	}
	p.mu.Unlock()

	for _, key := range evicted {
		p.emit("ssh:disconnect", key.String(), nil)
	}
	if len(evicted) > 0 {
		p.emit("ssh:pool-cleanup", "", nil)
	}
}

// SetEventHandler installs fn as the Pool's AdapterEvent sink, satisfying
// adapter.EventEmitter through Adapter.SetEventHandler.
func (p *Pool) SetEventHandler(fn func(adapter.AdapterEvent)) {
	p.mu.Lock()
	p.onEvent = fn
	p.mu.Unlock()
}

// Heartbeat runs a no-op remote check against key's transport, recording
// the outcome as the entry's last heartbeat result.
func (p *Pool) Heartbeat(key poolKey) error {
	p.mu.Lock()
	entry, ok := p.entries[key]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("ssh: no pool entry for %s", key)
	}

	session, err := entry.client.NewSession()
	if err == nil {
		err = session.Run("true")
		_ = session.Close()
	}

	p.mu.Lock()
	entry.lastHeartbeat = err
	if err != nil {
		entry.reconnectAttempts++
	} else {
		entry.reconnectAttempts = 0
	}
	p.mu.Unlock()
	return err
}

// Metrics returns a snapshot of the pool-wide counters.
func (p *Pool) Metrics() Metrics {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.metrics
}

// Len reports the number of live entries, for tests asserting the
// maxConnections invariant.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Close closes every live transport and empties the pool. Idempotent.
func (p *Pool) Close() error {
	p.mu.Lock()
	keys := make([]poolKey, 0, len(p.entries))
	for key, entry := range p.entries {
		_ = entry.client.Close()
		keys = append(keys, key)
	}
	p.entries = make(map[poolKey]*poolEntry)
	p.mu.Unlock()

	for _, key := range keys {
		p.emit("ssh:disconnect", key.String(), nil)
	}
	if len(keys) > 0 {
		p.emit("ssh:pool-cleanup", "", nil)
	}
	return nil
}
