// SPDX-License-Identifier: MPL-2.0

package engine

import (
	"context"
	"errors"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xec-sh/xec/pkg/adapter"
	"github.com/xec-sh/xec/pkg/cache"
	"github.com/xec-sh/xec/pkg/command"
	"github.com/xec-sh/xec/pkg/handle"
	"github.com/xec-sh/xec/pkg/retry"
)

type fakeAdapter struct {
	tag       command.AdapterTag
	mu        sync.Mutex
	calls     int
	disposed  bool
	disposeErr error
	run       func(ctx context.Context, cmd command.Command) (command.Result, error)
}

func (a *fakeAdapter) Name() command.AdapterTag { return a.tag }
func (a *fakeAdapter) Available() bool          { return true }
func (a *fakeAdapter) ValidateConfig() error    { return nil }

func (a *fakeAdapter) Execute(ctx context.Context, cmd command.Command) (command.Result, error) {
	a.mu.Lock()
	a.calls++
	a.mu.Unlock()
	if a.run != nil {
		return a.run(ctx, cmd)
	}
	code := 0
	return command.NewResult(a.tag, cmd.String(), []byte("ok"), nil, &code, "", time.Time{}, time.Time{}, ""), nil
}

func (a *fakeAdapter) Dispose(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.disposed = true
	return a.disposeErr
}

func newTestEngine(a adapter.Adapter) (*Engine, *fakeAdapter) {
	reg := adapter.NewRegistry()
	reg.Register(a.Name(), a)
	fa, _ := a.(*fakeAdapter)
	return New(reg, Config{DefaultAdapter: a.Name()}), fa
}

// fakeEmittingAdapter is a fakeAdapter that also implements
// adapter.EventEmitter, letting tests drive the Engine's wiring between a
// pool-style adapter and its own bus without a real SSH transport.
type fakeEmittingAdapter struct {
	fakeAdapter
	handler func(adapter.AdapterEvent)
}

func (a *fakeEmittingAdapter) SetEventHandler(fn func(adapter.AdapterEvent)) {
	a.handler = fn
}

var _ adapter.EventEmitter = (*fakeEmittingAdapter)(nil)

func TestEngine_ForwardsAdapterEvents(t *testing.T) {
	fa := &fakeEmittingAdapter{fakeAdapter: fakeAdapter{tag: command.AdapterSSH}}
	reg := adapter.NewRegistry()
	reg.Register(fa.Name(), fa)
	e := New(reg, Config{DefaultAdapter: fa.Name()})

	var got Event
	var mu sync.Mutex
	e.On(EventSSHConnect, func(ev Event) { mu.Lock(); got = ev; mu.Unlock() })

	fa.handler(adapter.AdapterEvent{Name: "ssh:connect", Key: "tester@127.0.0.1:22"})

	mu.Lock()
	defer mu.Unlock()
	if got.Type != EventSSHConnect || got.Key != "tester@127.0.0.1:22" {
		t.Errorf("got Event = %+v, want ssh:connect for tester@127.0.0.1:22", got)
	}
}

func TestEngine_RunDispatchesThroughResolvedAdapter(t *testing.T) {
	fa := &fakeAdapter{tag: command.AdapterLocal}
	e, _ := newTestEngine(fa)

	result, err := e.Run(context.Background(), command.New("echo", "hi")).Await(context.Background())
	if err != nil {
		t.Fatalf("Await() error = %v", err)
	}
	if result.Text() != "ok" {
		t.Errorf("Text() = %q, want %q", result.Text(), "ok")
	}
	if fa.calls != 1 {
		t.Errorf("adapter called %d times, want 1", fa.calls)
	}
}

func TestEngine_RunAppliesDefaults(t *testing.T) {
	var seen command.Command
	fa := &fakeAdapter{tag: command.AdapterLocal, run: func(_ context.Context, cmd command.Command) (command.Result, error) {
		seen = cmd
		code := 0
		return command.NewResult(command.AdapterLocal, cmd.String(), nil, nil, &code, "", time.Time{}, time.Time{}, ""), nil
	}}
	e, _ := newTestEngine(fa)
	e = e.Cd("/work").Env(map[string]string{"A": "1"}).Timeout(5 * time.Second)

	if _, err := e.Run(context.Background(), command.New("echo")).Await(context.Background()); err != nil {
		t.Fatalf("Await() error = %v", err)
	}
	if seen.Dir != "/work" {
		t.Errorf("Dir = %q, want /work", seen.Dir)
	}
	if seen.Env["A"] != "1" {
		t.Errorf("Env[A] = %q, want 1", seen.Env["A"])
	}
	if seen.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v, want 5s", seen.Timeout)
	}
}

func TestEngine_EnvOverrideWinsOverDefault(t *testing.T) {
	var seen command.Command
	fa := &fakeAdapter{tag: command.AdapterLocal, run: func(_ context.Context, cmd command.Command) (command.Result, error) {
		seen = cmd
		code := 0
		return command.NewResult(command.AdapterLocal, "", nil, nil, &code, "", time.Time{}, time.Time{}, ""), nil
	}}
	e, _ := newTestEngine(fa)
	e = e.Env(map[string]string{"A": "default"})

	cmd := command.New("echo").WithEnv(map[string]string{"A": "explicit"})
	if _, err := e.Run(context.Background(), cmd).Await(context.Background()); err != nil {
		t.Fatalf("Await() error = %v", err)
	}
	if seen.Env["A"] != "explicit" {
		t.Errorf("Env[A] = %q, want explicit (command's own value wins)", seen.Env["A"])
	}
}

func TestEngine_DeriveDoesNotAffectParent(t *testing.T) {
	fa := &fakeAdapter{tag: command.AdapterLocal}
	e, _ := newTestEngine(fa)
	child := e.Cd("/elsewhere")

	if e.Config().DefaultDir == "/elsewhere" {
		t.Error("deriving a child Engine mutated the parent's Config")
	}
	if child.Config().DefaultDir != "/elsewhere" {
		t.Error("child Engine did not pick up its own Cd")
	}
}

func TestEngine_EmitsCommandStartAndEnd(t *testing.T) {
	fa := &fakeAdapter{tag: command.AdapterLocal}
	e, _ := newTestEngine(fa)

	var types []EventType
	var mu sync.Mutex
	e.On(EventCommandStart, func(ev Event) { mu.Lock(); types = append(types, ev.Type); mu.Unlock() })
	e.On(EventCommandComplete, func(ev Event) { mu.Lock(); types = append(types, ev.Type); mu.Unlock() })
	e.On(EventCommandError, func(ev Event) { mu.Lock(); types = append(types, ev.Type); mu.Unlock() })

	if _, err := e.Run(context.Background(), command.New("echo")).Await(context.Background()); err != nil {
		t.Fatalf("Await() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(types) != 2 || types[0] != EventCommandStart || types[1] != EventCommandComplete {
		t.Errorf("event sequence = %v, want [command:start command:complete]", types)
	}
}

func TestEngine_EmitsCommandErrorOnAdapterFailure(t *testing.T) {
	fa := &fakeAdapter{tag: command.AdapterLocal, run: func(context.Context, command.Command) (command.Result, error) {
		return command.Result{}, errors.New("boom")
	}}
	e, _ := newTestEngine(fa)

	var types []EventType
	var mu sync.Mutex
	e.On(EventCommandComplete, func(ev Event) { mu.Lock(); types = append(types, ev.Type); mu.Unlock() })
	e.On(EventCommandError, func(ev Event) { mu.Lock(); types = append(types, ev.Type); mu.Unlock() })

	if _, err := e.Run(context.Background(), command.New("echo")).Await(context.Background()); err == nil {
		t.Fatal("Await() expected an error")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(types) != 1 || types[0] != EventCommandError {
		t.Errorf("event sequence = %v, want [command:error]", types)
	}
}

func TestEngine_UnsubscribeStopsDelivery(t *testing.T) {
	fa := &fakeAdapter{tag: command.AdapterLocal}
	e, _ := newTestEngine(fa)

	var count int32
	unsubscribe := e.On(EventCommandStart, func(Event) { atomic.AddInt32(&count, 1) })
	if _, err := e.Run(context.Background(), command.New("echo")).Await(context.Background()); err != nil {
		t.Fatalf("Await() error = %v", err)
	}
	unsubscribe()
	if _, err := e.Run(context.Background(), command.New("echo")).Await(context.Background()); err != nil {
		t.Fatalf("Await() error = %v", err)
	}
	if atomic.LoadInt32(&count) != 1 {
		t.Errorf("listener fired %d times after unsubscribe, want 1", count)
	}
}

func TestEngine_MaxListenersWarns(t *testing.T) {
	fa := &fakeAdapter{tag: command.AdapterLocal}
	reg := adapter.NewRegistry()
	reg.Register(fa.Name(), fa)
	var warned int32
	e := New(reg, Config{DefaultAdapter: fa.Name()}, WithMaxListeners(1))
	e.shared.bus.onExceed = func(EventType, int) { atomic.AddInt32(&warned, 1) }

	e.On(EventCommandStart, func(Event) {})
	e.On(EventCommandStart, func(Event) {})

	if atomic.LoadInt32(&warned) != 1 {
		t.Errorf("onExceed called %d times, want 1", warned)
	}
}

func TestEngine_CacheWiresHandleAndEmitsEvents(t *testing.T) {
	fa := &fakeAdapter{tag: command.AdapterLocal}
	e, _ := newTestEngine(fa)
	e = e.With(func(c *Config) { c.CacheStore = cache.New() })

	var hits, misses int32
	e.On(EventCacheHit, func(Event) { atomic.AddInt32(&hits, 1) })
	e.On(EventCacheMiss, func(Event) { atomic.AddInt32(&misses, 1) })

	cmd := command.New("echo", "cached")
	if _, err := e.Run(context.Background(), cmd).Await(context.Background()); err != nil {
		t.Fatalf("Await() error = %v", err)
	}
	if _, err := e.Run(context.Background(), cmd).Await(context.Background()); err != nil {
		t.Fatalf("Await() error = %v", err)
	}
	if fa.calls != 1 {
		t.Errorf("adapter called %d times across two cached runs, want 1", fa.calls)
	}
	if atomic.LoadInt32(&misses) != 1 || atomic.LoadInt32(&hits) != 1 {
		t.Errorf("misses=%d hits=%d, want 1 and 1", misses, hits)
	}
}

func TestEngine_RetryWiresHandleAndEmitsEvents(t *testing.T) {
	var attempts int32
	fa := &fakeAdapter{tag: command.AdapterLocal, run: func(context.Context, command.Command) (command.Result, error) {
		n := atomic.AddInt32(&attempts, 1)
		if n < 2 {
			return command.Result{}, errors.New("transient")
		}
		code := 0
		return command.NewResult(command.AdapterLocal, "", []byte("ok"), nil, &code, "", time.Time{}, time.Time{}, ""), nil
	}}
	e, _ := newTestEngine(fa)
	e = e.Retry(retry.Policy{MaxAttempts: 3, InitialDelay: time.Millisecond})

	var retryEvents int32
	e.On(EventRetryAttempt, func(Event) { atomic.AddInt32(&retryEvents, 1) })

	result, err := e.Run(context.Background(), command.New("flaky")).Await(context.Background())
	if err != nil {
		t.Fatalf("Await() error = %v", err)
	}
	if result.Text() != "ok" {
		t.Errorf("Text() = %q, want ok", result.Text())
	}
	if atomic.LoadInt32(&retryEvents) != 1 {
		t.Errorf("retry events = %d, want 1", retryEvents)
	}
}

func TestEngine_DisposeCancelsLiveHandlesAndIsIdempotent(t *testing.T) {
	started := make(chan struct{})
	fa := &fakeAdapter{tag: command.AdapterLocal, run: func(ctx context.Context, _ command.Command) (command.Result, error) {
		close(started)
		<-ctx.Done()
		return command.Result{}, &adapter.CancelledError{Command: "sleep", Cause: ctx.Err()}
	}}
	e, _ := newTestEngine(fa)

	h := e.Run(context.Background(), command.New("sleep"))
	done := make(chan struct{})
	go func() {
		h.Await(context.Background())
		close(done)
	}()
	<-started

	if err := e.Dispose(context.Background()); err != nil {
		t.Fatalf("Dispose() error = %v", err)
	}
	<-done
	if h.State() != handle.Cancelled {
		t.Errorf("State() = %v, want Cancelled", h.State())
	}

	if err := e.Dispose(context.Background()); err != nil {
		t.Fatalf("second Dispose() error = %v", err)
	}
	if !fa.disposed {
		t.Error("adapter was never disposed")
	}
}

func TestEngine_DisposeLogsButContinuesPastAdapterFailure(t *testing.T) {
	failing := &fakeAdapter{tag: command.AdapterSSH, disposeErr: errors.New("boom")}
	ok := &fakeAdapter{tag: command.AdapterLocal}
	reg := adapter.NewRegistry()
	reg.Register(failing.Name(), failing)
	reg.Register(ok.Name(), ok)
	e := New(reg, Config{DefaultAdapter: command.AdapterLocal})

	if err := e.Dispose(context.Background()); err != nil {
		t.Fatalf("Dispose() error = %v, want nil (failures are logged, not returned)", err)
	}
	if !failing.disposed || !ok.disposed {
		t.Error("both adapters should be disposed even though one failed")
	}
}

func TestEngine_TempDirIsRemovedOnDispose(t *testing.T) {
	fa := &fakeAdapter{tag: command.AdapterLocal}
	e, _ := newTestEngine(fa)

	var types []EventType
	var mu sync.Mutex
	e.On(EventTempCreate, func(ev Event) { mu.Lock(); types = append(types, ev.Type); mu.Unlock() })
	e.On(EventTempCleanup, func(ev Event) { mu.Lock(); types = append(types, ev.Type); mu.Unlock() })

	dir, err := e.TempDir("xec-engine-test-*")
	if err != nil {
		t.Fatalf("TempDir() error = %v", err)
	}
	if err := e.Dispose(context.Background()); err != nil {
		t.Fatalf("Dispose() error = %v", err)
	}
	if _, statErr := os.Stat(dir); statErr == nil {
		t.Errorf("temp dir %q still exists after Dispose", dir)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(types) != 2 || types[0] != EventTempCreate || types[1] != EventTempCleanup {
		t.Errorf("event sequence = %v, want [temp:create temp:cleanup]", types)
	}
}

func TestEngine_LiveHandlesDropsCollectedEntries(t *testing.T) {
	fa := &fakeAdapter{tag: command.AdapterLocal}
	e, _ := newTestEngine(fa)

	func() {
		h := e.Run(context.Background(), command.New("echo"))
		if _, err := h.Await(context.Background()); err != nil {
			t.Fatalf("Await() error = %v", err)
		}
	}()
	runtime.GC()
	runtime.GC()

	e.Run(context.Background(), command.New("echo", "force-sweep"))
	if err := e.Dispose(context.Background()); err != nil {
		t.Fatalf("Dispose() error = %v", err)
	}
}
