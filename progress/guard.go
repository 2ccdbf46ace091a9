package progress

import (
	"context"
	"log/slog"
	"sync"

	"github.com/humblenginr/docconvert/sched"
)

// Indicator is the UI-visible busy signal. Its methods are only ever called
// on the UI-affinity context.
type Indicator interface {
	Show()
	Hide()
}

// IndicatorFuncs adapts a pair of functions to Indicator.
type IndicatorFuncs struct {
	OnShow func()
	OnHide func()
}

func (f IndicatorFuncs) Show() {
	if f.OnShow != nil {
		f.OnShow()
	}
}

func (f IndicatorFuncs) Hide() {
	if f.OnHide != nil {
		f.OnHide()
	}
}

// Guard is a reference-counted busy signal. The indicator is visible iff at
// least one Handle is outstanding.
type Guard struct {
	sched *sched.Scheduler
	ind   Indicator
	log   *slog.Logger

	mu    sync.Mutex
	count int

	// shown is only touched on the UI-affinity context.
	shown bool
}

func New(s *sched.Scheduler, ind Indicator, log *slog.Logger) *Guard {
	if ind == nil {
		ind = IndicatorFuncs{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Guard{sched: s, ind: ind, log: log.With(slog.String("component", "progress"))}
}

// Start opens one busy interval. The returned handle must be completed on
// every exit path of the owning operation, typically with defer.
func (g *Guard) Start(ctx context.Context) *Handle {
	g.mu.Lock()
	g.count++
	first := g.count == 1
	g.mu.Unlock()

	if first {
		g.reconcile(ctx)
	}
	return &Handle{g: g}
}

// Complete closes one busy interval. Extra calls are clamped at zero and
// logged rather than reported.
func (g *Guard) Complete(ctx context.Context) {
	g.mu.Lock()
	if g.count == 0 {
		g.mu.Unlock()
		g.log.Warn("progress complete without matching start")
		return
	}
	g.count--
	last := g.count == 0
	g.mu.Unlock()

	if last {
		g.reconcile(ctx)
	}
}

// Active returns the number of open busy intervals.
func (g *Guard) Active() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.count
}

// reconcile brings the indicator in line with the counter on the UI thread.
// Reading the counter there, rather than trusting the transition that
// triggered it, keeps show/hide correct when transitions race.
func (g *Guard) reconcile(ctx context.Context) {
	g.sched.SubmitUI(ctx, func(context.Context) error {
		busy := g.Active() > 0
		switch {
		case busy && !g.shown:
			g.shown = true
			g.ind.Show()
		case !busy && g.shown:
			g.shown = false
			g.ind.Hide()
		}
		return nil
	}).Finally(func(_ struct{}, err error) {
		if err != nil {
			g.log.Warn("indicator update not delivered", slog.Any("error", err))
		}
	})
}

// Handle is one open busy interval. Complete is idempotent and safe on a nil
// handle.
type Handle struct {
	g    *Guard
	once sync.Once
}

func (h *Handle) Complete(ctx context.Context) {
	if h == nil || h.g == nil {
		return
	}
	h.once.Do(func() { h.g.Complete(ctx) })
}
