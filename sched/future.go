package sched

import (
	"context"
	"errors"
	"sync"
)

// Future is the completion handle of a submitted work item. It is resolved
// exactly once, with either a value or an error.
type Future[T any] struct {
	mu    sync.Mutex
	done  chan struct{}
	val   T
	err   error
	set   bool
	after []func(T, error)
}

// NewFuture returns an unresolved future. Callers complete it with Resolve.
func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Done returns an already resolved future.
func Done[T any](v T, err error) *Future[T] {
	f := NewFuture[T]()
	f.Resolve(v, err)
	return f
}

// Resolved returns a future holding v.
func Resolved[T any](v T) *Future[T] { return Done(v, nil) }

// Failed returns a future holding err.
func Failed[T any](err error) *Future[T] {
	var zero T
	return Done(zero, err)
}

// Resolve completes the future. Only the first call has an effect; the return
// value reports whether this call was it. Callbacks registered with Finally
// run on the calling goroutine.
func (f *Future[T]) Resolve(v T, err error) bool {
	f.mu.Lock()
	if f.set {
		f.mu.Unlock()
		return false
	}
	f.val, f.err, f.set = v, err, true
	after := f.after
	f.after = nil
	close(f.done)
	f.mu.Unlock()

	for _, fn := range after {
		fn(v, err)
	}
	return true
}

// Done is closed once the future is resolved.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Await blocks until the future resolves or ctx ends. It must never be called
// from the UI-affinity context.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Peek returns the result without blocking. ok is false while unresolved.
func (f *Future[T]) Peek() (v T, err error, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.val, f.err, f.set
}

// Finally registers fn to run once the future resolves, on every completion
// path. If it is already resolved fn runs immediately on the caller's
// goroutine. fn must not block: it runs on whichever goroutine resolved the
// future, which may be the UI-affinity context.
func (f *Future[T]) Finally(fn func(T, error)) {
	f.mu.Lock()
	if !f.set {
		f.after = append(f.after, fn)
		f.mu.Unlock()
		return
	}
	v, err := f.val, f.err
	f.mu.Unlock()
	fn(v, err)
}

// Flatten unwraps a future of a future.
func Flatten[T any](f *Future[*Future[T]]) *Future[T] {
	out := NewFuture[T]()
	f.Finally(func(inner *Future[T], err error) {
		if err != nil {
			var zero T
			out.Resolve(zero, err)
			return
		}
		if inner == nil {
			var zero T
			out.Resolve(zero, errors.New("sched: nil future"))
			return
		}
		inner.Finally(func(v T, err error) { out.Resolve(v, err) })
	})
	return out
}

// MapErr rewrites the error of f, if any, with fn.
func MapErr[T any](f *Future[T], fn func(error) error) *Future[T] {
	out := NewFuture[T]()
	f.Finally(func(v T, err error) {
		if err != nil {
			err = fn(err)
		}
		out.Resolve(v, err)
	})
	return out
}

// All resolves once every future has resolved, with the values in order and
// the joined errors.
func All[T any](fs ...*Future[T]) *Future[[]T] {
	out := NewFuture[[]T]()
	if len(fs) == 0 {
		out.Resolve(nil, nil)
		return out
	}

	var (
		mu      sync.Mutex
		vals    = make([]T, len(fs))
		errs    = make([]error, len(fs))
		pending = len(fs)
	)
	for i, f := range fs {
		f.Finally(func(v T, err error) {
			mu.Lock()
			vals[i], errs[i] = v, err
			pending--
			last := pending == 0
			mu.Unlock()
			if last {
				out.Resolve(vals, errors.Join(errs...))
			}
		})
	}
	return out
}
