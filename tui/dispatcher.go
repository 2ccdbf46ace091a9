package tui

import (
	"log/slog"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/humblenginr/docconvert/sched"
)

// taskMsg carries UI-affinity work into Update.
type taskMsg struct{ fn func() }

// Sender is the part of *tea.Program the dispatcher needs.
type Sender interface {
	Send(msg tea.Msg)
}

// Dispatcher runs UI-affinity work inside a bubbletea program's Update, so
// the program's event loop is the UI thread. Work dispatched before Attach
// waits until the program is attached.
type Dispatcher struct {
	*sched.Loop
	ready  chan struct{}
	sender Sender
}

func NewDispatcher(log *slog.Logger) *Dispatcher {
	d := &Dispatcher{ready: make(chan struct{})}
	d.Loop = sched.NewLoopFunc(d.deliver, log)
	return d
}

// Attach starts delivery to p. It must be called once.
func (d *Dispatcher) Attach(p Sender) {
	d.sender = p
	close(d.ready)
}

func (d *Dispatcher) deliver(fn func()) {
	<-d.ready
	d.sender.Send(taskMsg{fn: fn})
}
