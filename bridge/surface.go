package bridge

// LoadState is the state of a surface's page load.
type LoadState int

const (
	LoadReady LoadState = iota
	LoadScheduled
	LoadRunning
	LoadSucceeded
	LoadCancelled
	LoadFailed
)

func (s LoadState) String() string {
	switch s {
	case LoadReady:
		return "ready"
	case LoadScheduled:
		return "scheduled"
	case LoadRunning:
		return "running"
	case LoadSucceeded:
		return "succeeded"
	case LoadCancelled:
		return "cancelled"
	case LoadFailed:
		return "failed"
	}
	return "unknown"
}

// Surface is an embedded rendering engine. Every method except OnLoadState
// must be called on the UI-affinity context. OnLoadState listeners may be
// called from any goroutine.
type Surface interface {
	ExecuteScript(script string) (any, error)
	SetGlobal(name string, value any) error
	Load(url string)
	CancelLoad()
	Location() string
	OnLoadState(fn func(LoadState))
}
