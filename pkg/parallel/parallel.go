// SPDX-License-Identifier: MPL-2.0

// Package parallel implements the fan-out combinators over a sequence of
// executions — all, settled, race, map, filter, some, every — per
// spec.md §4.10. All, Settled, Map and Filter take a concurrency cap
// enforced by a counting semaphore, and Batch uses the fixed cap
// DefaultBatchConcurrency; Race, Some and Every start every task at once.
// All, Settled and Map fire an optional onProgress callback after each
// completion; Filter and Batch do not.
package parallel

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/xec-sh/xec/pkg/command"
)

// Task is a single unit of parallel work: an execution that produces a
// Result or fails outright. Both a bound Command and an awaited Process
// Handle reduce to this shape.
type Task func(ctx context.Context) (command.Result, error)

// Outcome pairs a Task's Result and error, preserving its input position.
type Outcome struct {
	Result command.Result
	Err    error
}

// OK reports whether the task produced neither an error nor a non-OK Result.
func (o Outcome) OK() bool { return o.Err == nil && o.Result.OK() }

// Options configures concurrency and progress reporting shared by every
// combinator in this package.
type Options struct {
	// MaxConcurrency caps the number of Tasks running at any instant.
	// Zero or negative means unlimited.
	MaxConcurrency int
	// OnProgress, if set, is invoked after each Task completes, in
	// completion order (not input order), by All, Settled and Map.
	OnProgress func(completed, total, succeeded, failed int)
}

// DefaultBatchConcurrency is the cap used by the convenience Batch form,
// per spec.md §4.10 ("5 for the convenience batch form").
const DefaultBatchConcurrency = 5

func (o Options) limit(total int) int64 {
	if o.MaxConcurrency <= 0 {
		return int64(total)
	}
	return int64(o.MaxConcurrency)
}

// forEach runs fn for each index in [0,total) with at most limit
// concurrently in flight and blocks until every invocation has completed.
func forEach(ctx context.Context, total int, limit int64, fn func(ctx context.Context, i int)) {
	sem := semaphore.NewWeighted(limit)
	done := make(chan struct{}, total)
	for i := 0; i < total; i++ {
		i := i
		if err := sem.Acquire(ctx, 1); err != nil {
			// Context already done; run the remaining tasks inline so
			// every index still gets a Task invocation (and thus an
			// Outcome), consistent with settled's no-throw contract.
			fn(ctx, i)
			done <- struct{}{}
			continue
		}
		go func() {
			defer sem.Release(1)
			fn(ctx, i)
			done <- struct{}{}
		}()
	}
	for i := 0; i < total; i++ {
		<-done
	}
}

// All awaits every task, failing fast: the first error cancels the
// remaining tasks' context, and All returns that error once every started
// task has returned. Tasks not yet started or failed when that happens
// leave their slot in the returned slice as the zero Result. Whether a non-OK Result (as
// opposed to a Go error) counts as failure is the calling Task's own
// choice — a Process Handle without nothrow() already turns a non-OK
// Result into an error before it reaches All.
func All(ctx context.Context, tasks []Task, opts Options) ([]command.Result, error) {
	results := make([]command.Result, len(tasks))
	g, gCtx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(opts.limit(len(tasks)))
	var mu sync.Mutex
	completed, succeeded, failed := 0, 0, 0

	for i, task := range tasks {
		i, task := i, task
		g.Go(func() error {
			if err := sem.Acquire(gCtx, 1); err != nil {
				return err
			}
			defer sem.Release(1)
			result, err := task(gCtx)
			if opts.OnProgress != nil {
				mu.Lock()
				completed++
				if err == nil && result.OK() {
					succeeded++
				} else {
					failed++
				}
				c, s, f := completed, succeeded, failed
				mu.Unlock()
				opts.OnProgress(c, len(tasks), s, f)
			}
			if err != nil {
				return err
			}
			results[i] = result
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// Settled awaits every task's outcome and never returns an error of its
// own; Results and errors are reported per-index via the returned slice,
// which preserves input order regardless of completion order.
type SettledResult struct {
	Results   []Outcome
	Succeeded []int
	Failed    []int
	Duration  time.Duration
}

func Settled(ctx context.Context, tasks []Task, opts Options) SettledResult {
	started := time.Now()
	outcomes := make([]Outcome, len(tasks))
	var mu sync.Mutex
	completed, succeeded, failed := 0, 0, 0

	forEach(ctx, len(tasks), opts.limit(len(tasks)), func(taskCtx context.Context, i int) {
		result, err := tasks[i](taskCtx)
		outcomes[i] = Outcome{Result: result, Err: err}

		mu.Lock()
		completed++
		if err == nil && result.OK() {
			succeeded++
		} else {
			failed++
		}
		c, s, f := completed, succeeded, failed
		mu.Unlock()

		if opts.OnProgress != nil {
			opts.OnProgress(c, len(tasks), s, f)
		}
	})

	sr := SettledResult{Results: outcomes, Duration: time.Since(started)}
	for i, o := range outcomes {
		if o.OK() {
			sr.Succeeded = append(sr.Succeeded, i)
		} else {
			sr.Failed = append(sr.Failed, i)
		}
	}
	return sr
}

// Race resolves with the first task to settle (success or failure) and
// cancels the rest.
func Race(ctx context.Context, tasks []Task) (command.Result, error) {
	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type indexed struct {
		result command.Result
		err    error
	}
	results := make(chan indexed, len(tasks))
	for _, task := range tasks {
		task := task
		go func() {
			result, err := task(raceCtx)
			select {
			case results <- indexed{result, err}:
			case <-raceCtx.Done():
			}
		}()
	}

	select {
	case first := <-results:
		return first.result, first.err
	case <-ctx.Done():
		return command.Result{}, ctx.Err()
	}
}

// Map runs fn over each item with the concurrency cap in opts, returning
// one Result per item in input order. The first error cancels the rest,
// mirroring All.
func Map[T any](ctx context.Context, items []T, fn func(ctx context.Context, item T) (command.Result, error), opts Options) ([]command.Result, error) {
	tasks := make([]Task, len(items))
	for i, item := range items {
		item := item
		tasks[i] = func(ctx context.Context) (command.Result, error) { return fn(ctx, item) }
	}
	return All(ctx, tasks, opts)
}

// Filter runs predicate over each item with the concurrency cap in opts
// and returns the items for which it reported true, in input order. An
// error from predicate for any item aborts the whole call.
func Filter[T any](ctx context.Context, items []T, predicate func(ctx context.Context, item T) (bool, error), opts Options) ([]T, error) {
	kept := make([]bool, len(items))
	errs := make([]error, len(items))

	forEach(ctx, len(items), opts.limit(len(items)), func(taskCtx context.Context, i int) {
		ok, err := predicate(taskCtx, items[i])
		kept[i], errs[i] = ok, err
	})

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	result := make([]T, 0, len(items))
	for i, item := range items {
		if kept[i] {
			result = append(result, item)
		}
	}
	return result, nil
}

// Some reports whether at least one task succeeds, short-circuiting (and
// cancelling the rest) as soon as one does.
func Some(ctx context.Context, tasks []Task) (bool, error) {
	someCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan bool, len(tasks))
	for _, task := range tasks {
		task := task
		go func() {
			result, err := task(someCtx)
			done <- err == nil && result.OK()
		}()
	}

	remaining := len(tasks)
	for remaining > 0 {
		select {
		case ok := <-done:
			remaining--
			if ok {
				return true, nil
			}
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	return false, nil
}

// Every reports whether every task succeeds, short-circuiting (and
// cancelling the rest) as soon as one fails.
func Every(ctx context.Context, tasks []Task) (bool, error) {
	everyCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan bool, len(tasks))
	for _, task := range tasks {
		task := task
		go func() {
			result, err := task(everyCtx)
			done <- err == nil && result.OK()
		}()
	}

	remaining := len(tasks)
	for remaining > 0 {
		select {
		case ok := <-done:
			remaining--
			if !ok {
				return false, nil
			}
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	return true, nil
}

// Batch runs fn over items with DefaultBatchConcurrency, the convenience
// form of Map for callers that don't need a custom cap.
func Batch[T any](ctx context.Context, items []T, fn func(ctx context.Context, item T) (command.Result, error)) ([]command.Result, error) {
	return Map(ctx, items, fn, Options{MaxConcurrency: DefaultBatchConcurrency})
}
