package sched

import "context"

// Affinity names the scheduling context a unit of work is bound to.
type Affinity int

const (
	AffinityNone Affinity = iota
	AffinityUI
	AffinityBackground
)

func (a Affinity) String() string {
	switch a {
	case AffinityUI:
		return "ui"
	case AffinityBackground:
		return "background"
	}
	return "none"
}

type affinityKey struct{}

func withAffinity(ctx context.Context, a Affinity) context.Context {
	return context.WithValue(ctx, affinityKey{}, a)
}

// AffinityOf reports the context a work item is running in. Contexts that did
// not come from the scheduler report AffinityNone.
func AffinityOf(ctx context.Context) Affinity {
	if ctx == nil {
		return AffinityNone
	}
	a, _ := ctx.Value(affinityKey{}).(Affinity)
	return a
}

// OnUI reports whether ctx belongs to work executing on the UI-affinity context.
func OnUI(ctx context.Context) bool { return AffinityOf(ctx) == AffinityUI }
