// SPDX-License-Identifier: MPL-2.0

// Package ssh implements the SSH adapter: command execution over a pooled,
// reused SSH transport, plus dynamic local-to-remote TCP tunnels.
package ssh

import (
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/xec-sh/xec/pkg/command"
)

// Options configures a host triple's default connection parameters and the
// shared pool's limits. A Command may override Host/Port/User per call via
// CommandOptions.
type Options struct {
	Host string
	Port int
	User string

	Auth            []ssh.AuthMethod
	HostKeyCallback ssh.HostKeyCallback

	// MaxConnections caps live pool entries across all (user, host, port)
	// keys. 0 means unlimited.
	MaxConnections int
	// IdleTimeout is stored with the Options but not read by the adapter or
	// its Pool: idle entries are removed only by an explicit Pool.EvictIdle
	// call, which takes its own timeout.
	IdleTimeout time.Duration
	// MaxReconnectAttempts bounds how many times Acquire retries a failed
	// dial for the same key before giving up with a Connection error.
	MaxReconnectAttempts int
	// DialTimeout bounds a single dial attempt.
	DialTimeout time.Duration
}

func (o Options) adapterOptions() {}

var _ command.AdapterOptions = Options{}

// CommandOptions overrides Host/Port/User for one Command, letting a single
// adapter instance multiplex several remote triples through one pool.
type CommandOptions struct {
	Host string
	Port int
	User string
}

func (o CommandOptions) adapterOptions() {}

var _ command.AdapterOptions = CommandOptions{}

func (o Options) key() poolKey {
	return poolKey{user: o.User, host: o.Host, port: o.Port}
}

func (o Options) withCommand(cmd command.Command) (poolKey, Options) {
	resolved := o
	if co, ok := cmd.Options.(CommandOptions); ok {
		if co.Host != "" {
			resolved.Host = co.Host
		}
		if co.Port != 0 {
			resolved.Port = co.Port
		}
		if co.User != "" {
			resolved.User = co.User
		}
	}
	if resolved.Port == 0 {
		resolved.Port = 22
	}
	return resolved.key(), resolved
}
