// SPDX-License-Identifier: MPL-2.0

// Package cache implements the keyed, TTL'd result cache a Process Handle
// can wrap itself in, per spec.md §4.12: a cache miss executes the wrapped
// command exactly once even under concurrent callers (via singleflight), a
// hit returns the stored Result without executing, and successful results
// can invalidate other entries by glob pattern.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/xec-sh/xec/pkg/command"
)

// Event names the three notifications a cache lookup can emit.
type Event string

const (
	EventHit   Event = "cache:hit"
	EventMiss  Event = "cache:miss"
	EventStore Event = "cache:store"
)

// Options configures a single Get call.
type Options struct {
	// Key overrides the derived cache key.
	Key string
	// TTL, when > 0, expires the entry that many after it is stored.
	// TTL <= 0 means the entry never expires on its own.
	TTL time.Duration
	// InvalidateOn lists key patterns (a trailing "*" globs on prefix)
	// to delete after a successful execution.
	InvalidateOn []string
	// CacheFailures allows a non-OK Result to be cached; by default only
	// OK results are stored. The Process Handle sets this when its own
	// nothrow() modifier is active, per spec.md §4.12.
	CacheFailures bool
	// OnEvent, if set, is invoked for each of Hit, Miss, and Store.
	OnEvent func(event Event, key string)
}

type entry struct {
	result    command.Result
	err       error
	expiresAt time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Cache is a keyed store of command results, safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	group   singleflight.Group
	now     func() time.Time
}

// New returns an empty Cache.
func New() *Cache {
	return &Cache{entries: make(map[string]entry), now: time.Now}
}

// Get returns cmd's cached Result under opts's key if a non-expired entry
// exists; otherwise it executes fn exactly once — even if multiple
// goroutines call Get concurrently for the same key — stores the outcome
// per opts, and processes opts.InvalidateOn on success.
func (c *Cache) Get(ctx context.Context, cmd command.Command, opts Options, fn func(ctx context.Context) (command.Result, error)) (command.Result, error) {
	key := opts.Key
	if key == "" {
		key = DeriveKey(cmd)
	}

	if e, ok := c.lookup(key); ok {
		c.notify(opts, EventHit, key)
		return e.result, e.err
	}

	type outcome struct {
		result command.Result
		err    error
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		// Re-check under the singleflight key: a concurrent caller may
		// have populated the entry while we were waiting to enter Do.
		if e, ok := c.lookup(key); ok {
			return outcome{e.result, e.err}, nil
		}
		c.notify(opts, EventMiss, key)
		result, callErr := fn(ctx)
		c.store(key, result, callErr, opts)
		return outcome{result, callErr}, nil
	})
	if err != nil {
		// singleflight.Do only returns a non-nil error if the shared
		// function panicked or the group's Forget mechanism raced;
		// fn's own error is carried inside outcome instead.
		return command.Result{}, err
	}
	o := v.(outcome)
	return o.result, o.err
}

func (c *Cache) lookup(key string) (entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return entry{}, false
	}
	if e.expired(c.now()) {
		delete(c.entries, key)
		return entry{}, false
	}
	return e, true
}

func (c *Cache) store(key string, result command.Result, err error, opts Options) {
	eligible := err == nil && (result.OK() || opts.CacheFailures)
	if eligible {
		e := entry{result: result, err: err}
		if opts.TTL > 0 {
			e.expiresAt = c.now().Add(opts.TTL)
		}
		c.mu.Lock()
		c.entries[key] = e
		c.mu.Unlock()
		c.notify(opts, EventStore, key)
	}
	if err == nil && result.OK() {
		c.invalidate(opts.InvalidateOn)
	}
}

func (c *Cache) notify(opts Options, event Event, key string) {
	if opts.OnEvent != nil {
		opts.OnEvent(event, key)
	}
}

// invalidate deletes every entry whose key matches any pattern. A pattern
// ending in "*" matches by prefix; otherwise it matches exactly.
func (c *Cache) invalidate(patterns []string) {
	if len(patterns) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if matchesAny(key, patterns) {
			delete(c.entries, key)
		}
	}
}

func matchesAny(key string, patterns []string) bool {
	for _, p := range patterns {
		if prefix, ok := strings.CutSuffix(p, "*"); ok {
			if strings.HasPrefix(key, prefix) {
				return true
			}
		} else if key == p {
			return true
		}
	}
	return false
}

// Delete removes a single entry by exact key, for callers that manage
// their own keys outside of Get/DeriveKey.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Len reports the number of entries currently stored, including any that
// have expired but have not yet been looked up (and thus swept).
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// DeriveKey builds the default cache key from a Command: its program and
// args, its environment (sorted for determinism), its working directory,
// and its adapter signature — per spec.md §4.12's
// "(program+args, sorted-env, cwd, adapter-signature)" default.
func DeriveKey(cmd command.Command) string {
	var b strings.Builder
	b.WriteString(cmd.Program)
	for _, a := range cmd.Args {
		b.WriteByte('\x00')
		b.WriteString(a)
	}
	b.WriteByte('\x1f')

	keys := make([]string, 0, len(cmd.Env))
	for k := range cmd.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(cmd.Env[k])
		b.WriteByte('\x00')
	}
	b.WriteByte('\x1f')

	b.WriteString(cmd.Dir)
	b.WriteByte('\x1f')
	b.WriteString(string(cmd.Adapter))
	b.WriteByte('\x1f')
	if cmd.Options != nil {
		fmt.Fprintf(&b, "%#v", cmd.Options)
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
