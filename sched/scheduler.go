// Package sched runs work on two scheduling contexts: a single UI-affinity
// thread with FIFO ordering and a bounded background pool for blocking work.
package sched

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

var (
	// ErrClosed is returned for work submitted after shutdown.
	ErrClosed = errors.New("sched: scheduler closed")
	// ErrPanic wraps a panic recovered from a work item.
	ErrPanic = errors.New("sched: work panicked")
)

// Work is a unit of work. ctx carries the affinity it runs under and the
// values of the submitting context, but not its cancellation.
type Work[T any] func(ctx context.Context) (T, error)

// Options configures a Scheduler.
type Options struct {
	// Workers bounds the background pool. Values <= 0 mean 1.
	Workers int
	Logger  *slog.Logger
}

// Scheduler exposes the two submission surfaces: the UI-affinity context,
// backed by a Dispatcher, and a bounded background pool.
type Scheduler struct {
	ui      Dispatcher
	workers int
	sem     chan struct{}
	wg      sync.WaitGroup
	log     *slog.Logger

	mu     sync.Mutex
	closed bool

	uiPending atomic.Int64
	bgQueued  atomic.Int64
	bgActive  atomic.Int64
}

// New creates a scheduler that runs UI-affinity work through ui.
func New(ui Dispatcher, opts Options) *Scheduler {
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		ui:      ui,
		workers: workers,
		sem:     make(chan struct{}, workers),
		log:     log.With(slog.String("component", "scheduler")),
	}
}

// UI enqueues work on the UI-affinity thread. Submissions run in FIFO order
// relative to each other, one at a time.
func UI[T any](s *Scheduler, ctx context.Context, work Work[T]) *Future[T] {
	f := NewFuture[T]()
	wctx := withAffinity(context.WithoutCancel(ctx), AffinityUI)

	s.uiPending.Add(1)
	err := s.ui.Dispatch(func() {
		s.uiPending.Add(-1)
		v, err := call(s.log, wctx, work)
		f.Resolve(v, err)
	})
	if err != nil {
		s.uiPending.Add(-1)
		var zero T
		f.Resolve(zero, err)
	}
	return f
}

// Background enqueues work on the worker pool. There is no ordering between
// background submissions and submit never blocks the caller.
func Background[T any](s *Scheduler, ctx context.Context, work Work[T]) *Future[T] {
	f := NewFuture[T]()
	if !s.enter() {
		var zero T
		f.Resolve(zero, ErrClosed)
		return f
	}
	wctx := withAffinity(context.WithoutCancel(ctx), AffinityBackground)

	s.bgQueued.Add(1)
	go func() {
		defer s.wg.Done()
		s.acquire()
		v, err := call(s.log, wctx, work)
		s.release()
		f.Resolve(v, err)
	}()
	return f
}

// Submit dispatches work to the context named by a.
func Submit[T any](s *Scheduler, ctx context.Context, a Affinity, work Work[T]) *Future[T] {
	switch a {
	case AffinityUI:
		return UI(s, ctx, work)
	case AffinityBackground:
		return Background(s, ctx, work)
	}
	return Failed[T](fmt.Errorf("sched: no scheduling context for affinity %s", a))
}

// Then schedules next in context a once f succeeds. Failures of f skip next
// and pass straight through. No goroutine waits in the meantime.
func Then[T, U any](s *Scheduler, ctx context.Context, f *Future[T], a Affinity, next func(ctx context.Context, v T) (U, error)) *Future[U] {
	out := NewFuture[U]()
	f.Finally(func(v T, err error) {
		if err != nil {
			var zero U
			out.Resolve(zero, err)
			return
		}
		Submit(s, ctx, a, func(ctx context.Context) (U, error) {
			return next(ctx, v)
		}).Finally(func(u U, err error) { out.Resolve(u, err) })
	})
	return out
}

// SubmitUI is the non-generic form of UI.
func (s *Scheduler) SubmitUI(ctx context.Context, fn func(ctx context.Context) error) *Future[struct{}] {
	return UI(s, ctx, func(ctx context.Context) (struct{}, error) { return struct{}{}, fn(ctx) })
}

// SubmitBackground is the non-generic form of Background.
func (s *Scheduler) SubmitBackground(ctx context.Context, fn func(ctx context.Context) error) *Future[struct{}] {
	return Background(s, ctx, func(ctx context.Context) (struct{}, error) { return struct{}{}, fn(ctx) })
}

// Stats is a point-in-time view of the scheduler queues.
type Stats struct {
	Workers          int
	UIPending        int
	BackgroundQueued int
	BackgroundActive int
	Closed           bool
}

func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	return Stats{
		Workers:          s.workers,
		UIPending:        int(s.uiPending.Load()),
		BackgroundQueued: int(s.bgQueued.Load()),
		BackgroundActive: int(s.bgActive.Load()),
		Closed:           closed,
	}
}

// Close rejects further background work and waits for submitted background
// work to finish. The UI dispatcher is closed by its owner.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Scheduler) enter() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.wg.Add(1)
	return true
}

func (s *Scheduler) acquire() {
	s.sem <- struct{}{}
	s.bgQueued.Add(-1)
	s.bgActive.Add(1)
}

func (s *Scheduler) release() {
	s.bgActive.Add(-1)
	<-s.sem
}

func call[T any](log *slog.Logger, ctx context.Context, work Work[T]) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("task panic",
				slog.String("affinity", AffinityOf(ctx).String()),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			var zero T
			v, err = zero, fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return work(ctx)
}
