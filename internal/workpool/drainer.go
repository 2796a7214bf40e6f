// Package workpool runs independent operations under a fixed concurrency
// ceiling while exposing a live, monotonic status per item.
package workpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
)

// ErrNotStarted marks items that were never started because an earlier item
// failed or the context was cancelled.
var ErrNotStarted = errors.New("not started")

// Options configures a Drainer.
type Options struct {
	// Limit is the maximum number of operations in flight. Values below 1
	// are treated as 1.
	Limit int
	// StopOnFailure stops starting queued items once any item has failed.
	// Items already running always finish.
	StopOnFailure bool
}

// Drainer runs op for every item with at most Options.Limit in flight.
type Drainer[T any] struct {
	items   []T
	key     func(T) string
	op      func(context.Context, T) error
	opts    Options
	tracker *Tracker

	failed    atomic.Bool
	mu        sync.Mutex
	errs      *multierror.Error
	startOnce sync.Once
	done      chan struct{}
}

// New prepares a drainer. key must return a distinct name per item; it is
// used for status tracking and error messages.
func New[T any](items []T, key func(T) string, op func(context.Context, T) error, opts Options) *Drainer[T] {
	if opts.Limit < 1 {
		opts.Limit = 1
	}
	keys := make([]string, len(items))
	for i, it := range items {
		keys[i] = key(it)
	}
	return &Drainer[T]{
		items:   items,
		key:     key,
		op:      op,
		opts:    opts,
		tracker: NewTracker(keys),
		done:    make(chan struct{}),
	}
}

// Tracker exposes the live statuses, for progress displays.
func (d *Drainer[T]) Tracker() *Tracker {
	return d.tracker
}

// Start launches the drainer in the background. Only the first call has an
// effect.
func (d *Drainer[T]) Start(ctx context.Context) {
	d.startOnce.Do(func() {
		go d.run(ctx)
	})
}

// Wait blocks until every item is Success or Failed and returns the
// aggregated failures, or nil when all items succeeded. It starts the drainer
// with a background context if Start was never called.
func (d *Drainer[T]) Wait() error {
	d.Start(context.Background())
	<-d.done

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.errs.ErrorOrNil()
}

// Drain runs items to completion and returns the aggregated failures.
func Drain[T any](ctx context.Context, items []T, key func(T) string, op func(context.Context, T) error, opts Options) error {
	d := New(items, key, op, opts)
	d.Start(ctx)
	return d.Wait()
}

func (d *Drainer[T]) run(ctx context.Context) {
	defer close(d.done)

	var (
		g         errgroup.Group
		cancelled atomic.Bool
	)
	g.SetLimit(d.opts.Limit)
	for _, item := range d.items {
		g.Go(func() error {
			if !d.process(ctx, item) {
				cancelled.Store(true)
			}
			return nil
		})
	}
	_ = g.Wait()

	if cancelled.Load() {
		d.record(fmt.Errorf("%w: %w", ErrNotStarted, ctx.Err()))
	}
}

// process runs one item. It returns false when the item was skipped because
// the context was done.
func (d *Drainer[T]) process(ctx context.Context, item T) bool {
	k := d.key(item)

	if d.opts.StopOnFailure && d.failed.Load() {
		d.tracker.Fail(k, ErrNotStarted)
		return true
	}
	if err := ctx.Err(); err != nil {
		d.tracker.Fail(k, fmt.Errorf("%w: %w", ErrNotStarted, err))
		return false
	}

	d.tracker.Advance(k, Fetching)
	if err := d.op(ctx, item); err != nil {
		d.failed.Store(true)
		d.tracker.Fail(k, err)
		d.record(fmt.Errorf("%s: %w", k, err))
		return true
	}
	d.tracker.Advance(k, Success)
	return true
}

func (d *Drainer[T]) record(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errs = multierror.Append(d.errs, err)
}
