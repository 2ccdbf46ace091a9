// Package bridge executes scripts inside a rendering surface. Calls made on
// the UI-affinity context run immediately; calls made anywhere else are
// re-dispatched through the scheduler and complete later.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strings"
	"sync"

	"github.com/humblenginr/docconvert/progress"
	"github.com/humblenginr/docconvert/sched"
)

var (
	ErrBadFunction = errors.New("invalid script function name")
	ErrResultType  = errors.New("unexpected script result type")
)

var identRe = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*(\.[A-Za-z_$][A-Za-z0-9_$]*)*$`)

const argPrefix = "__bridgeArg"

// Executor is the script bridge for one surface.
type Executor struct {
	surface Surface
	sched   *sched.Scheduler
	log     *slog.Logger

	mu      sync.Mutex
	pending []func(ctx context.Context)
}

func New(surface Surface, s *sched.Scheduler, log *slog.Logger) *Executor {
	if log == nil {
		log = slog.Default()
	}
	e := &Executor{
		surface: surface,
		sched:   s,
		log:     log.With(slog.String("component", "bridge")),
	}
	surface.OnLoadState(e.loadState)
	return e
}

// onUI runs fn directly when ctx is already the UI context, otherwise it
// queues fn there.
func onUI[T any](e *Executor, ctx context.Context, fn func() (T, error)) *sched.Future[T] {
	if sched.OnUI(ctx) {
		v, err := fn()
		return sched.Done(v, err)
	}
	return sched.UI(e.sched, ctx, func(context.Context) (T, error) { return fn() })
}

// SetValue binds value to name in the surface's global scope.
func (e *Executor) SetValue(ctx context.Context, name string, value any) *sched.Future[struct{}] {
	return onUI(e, ctx, func() (struct{}, error) {
		return struct{}{}, e.surface.SetGlobal(name, value)
	})
}

// Invoke calls the script function fn with args and returns its result.
// Arguments are passed as globals so no value is ever spliced into script
// text.
func (e *Executor) Invoke(ctx context.Context, fn string, args ...any) *sched.Future[any] {
	if !identRe.MatchString(fn) {
		return sched.Failed[any](fmt.Errorf("%w: %q", ErrBadFunction, fn))
	}
	return onUI(e, ctx, func() (any, error) { return e.invoke(fn, args...) })
}

func (e *Executor) invoke(fn string, args ...any) (any, error) {
	names := make([]string, len(args))
	for i, a := range args {
		names[i] = fmt.Sprintf("%s%d", argPrefix, i)
		if err := e.surface.SetGlobal(names[i], a); err != nil {
			return nil, fmt.Errorf("binding argument %d of %s: %w", i, fn, err)
		}
	}
	v, err := e.surface.ExecuteScript(fn + "(" + strings.Join(names, ",") + ")")
	if err != nil {
		return nil, fmt.Errorf("calling %s: %w", fn, err)
	}
	return v, nil
}

// Load navigates the surface to url, cancelling any load already running.
func (e *Executor) Load(ctx context.Context, url string) *sched.Future[struct{}] {
	if url == "" {
		e.log.Error("url is not loaded", slog.String("reason", "empty url"))
		return sched.Resolved(struct{}{})
	}
	return onUI(e, ctx, func() (struct{}, error) {
		e.surface.CancelLoad()
		e.surface.Load(url)
		return struct{}{}, nil
	})
}

// OnLoadSucceeded queues cb on the UI context after the next successful
// load. Each registration fires at most once.
func (e *Executor) OnLoadSucceeded(cb func(ctx context.Context)) {
	e.mu.Lock()
	e.pending = append(e.pending, cb)
	e.mu.Unlock()
}

func (e *Executor) loadState(st LoadState) {
	if st != LoadSucceeded {
		return
	}
	e.mu.Lock()
	cbs := e.pending
	e.pending = nil
	e.mu.Unlock()
	for _, cb := range cbs {
		e.sched.SubmitUI(context.Background(), func(ctx context.Context) error {
			cb(ctx)
			return nil
		}).Finally(func(_ struct{}, err error) {
			if err != nil {
				e.log.Error("load callback", slog.Any("error", err))
			}
		})
	}
}

// Location is the URL currently shown by the surface.
func (e *Executor) Location(ctx context.Context) *sched.Future[string] {
	return onUI(e, ctx, func() (string, error) { return e.surface.Location(), nil })
}

// Scroll moves the surface to the same relative offset as an editor at pos
// out of maximum. A non-positive or non-finite maximum, or a non-finite pos,
// is ignored; a negative pos counts as 0.
func (e *Executor) Scroll(ctx context.Context, pos, maximum float64) *sched.Future[struct{}] {
	if !finite(pos) || !finite(maximum) || maximum <= 0 {
		return sched.Resolved(struct{}{})
	}
	if pos < 0 {
		pos = 0
	}
	ratio := pos * 100 / maximum
	return onUI(e, ctx, func() (struct{}, error) {
		v, err := e.surface.ExecuteScript("document.documentElement.scrollHeight - document.documentElement.clientHeight;")
		if err != nil {
			return struct{}{}, err
		}
		browserMax, err := toFloat(v)
		if err != nil {
			return struct{}{}, err
		}
		_, err = e.surface.ExecuteScript(fmt.Sprintf("window.scrollTo(0, %f )", browserMax*ratio/100))
		return struct{}{}, err
	})
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case float32:
		return float64(n), nil
	case float64:
		return n, nil
	}
	return 0, fmt.Errorf("%w: %T", ErrResultType, v)
}

func (e *Executor) Indicator() progress.Indicator {
	return progress.IndicatorFuncs{
		OnShow: func() { e.StartProgressBar(context.Background()) },
		OnHide: func() { e.StopProgressBar(context.Background()) },
	}
}
