package sched

import (
	"log/slog"
	"runtime/debug"
	"sync"
)

// Dispatcher places functions on the single UI-affinity thread. Dispatch
// must never block and must never run fn inline: functions dispatched from
// any goroutine, including from inside a dispatched function, run one at a
// time in dispatch order.
type Dispatcher interface {
	Dispatch(fn func()) error
}

// Loop is an unbounded FIFO drained by one pump goroutine. By default the
// pump goroutine runs each function itself and so is the UI-affinity thread;
// NewLoopFunc hands functions to another event loop instead.
type Loop struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []func()
	closed  bool
	deliver func(func())
	done    chan struct{}
	log     *slog.Logger
}

// NewLoop starts a loop whose own goroutine executes dispatched functions.
func NewLoop(log *slog.Logger) *Loop {
	l := newLoop(log)
	l.deliver = l.runSafe
	go l.pump()
	return l
}

// NewLoopFunc starts a loop that passes each function to deliver, in order,
// from a single goroutine. deliver must return only once the target event
// loop has accepted fn, so that functions never overlap.
func NewLoopFunc(deliver func(fn func()), log *slog.Logger) *Loop {
	l := newLoop(log)
	l.deliver = deliver
	go l.pump()
	return l
}

func newLoop(log *slog.Logger) *Loop {
	if log == nil {
		log = slog.Default()
	}
	l := &Loop{done: make(chan struct{}), log: log.With(slog.String("component", "ui-loop"))}
	l.cond = sync.NewCond(&l.mu)
	return l
}

func (l *Loop) Dispatch(fn func()) error {
	if fn == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	l.queue = append(l.queue, fn)
	l.cond.Signal()
	return nil
}

// Pending reports the number of queued functions not yet delivered.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Close stops accepting functions, drains what is already queued and waits
// for the pump goroutine to exit.
func (l *Loop) Close() {
	l.mu.Lock()
	l.closed = true
	l.cond.Broadcast()
	l.mu.Unlock()
	<-l.done
}

func (l *Loop) pump() {
	defer close(l.done)
	for {
		fn, ok := l.next()
		if !ok {
			return
		}
		l.deliver(fn)
	}
}

func (l *Loop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for len(l.queue) == 0 {
		if l.closed {
			return nil, false
		}
		l.cond.Wait()
	}
	fn := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return fn, true
}

func (l *Loop) runSafe(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("ui task panic", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
		}
	}()
	fn()
}
