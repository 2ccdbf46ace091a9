// Package tui is the interactive front-end. The bubbletea event loop is the
// UI-affinity context: Update is the only place the model, the busy
// indicator and the recent-items list are touched.
package tui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/humblenginr/docconvert/pipeline"
	"github.com/humblenginr/docconvert/sched"
)

// Exporter starts a conversion run.
type Exporter interface {
	Convert(ctx context.Context, askPath bool) *sched.Future[*pipeline.Run]
}

// Items is a read-only view of the recent-items list.
type Items interface {
	Items() []string
}

type Options struct {
	Scheduler *sched.Scheduler
	Exporter  Exporter
	Recent    Items
	Title     string
	Logger    *slog.Logger
}

type keyMap struct {
	Export   key.Binding
	ExportAs key.Binding
	Quit     key.Binding
	Accept   key.Binding
	Cancel   key.Binding
}

func newKeyMap() keyMap {
	return keyMap{
		Export:   key.NewBinding(key.WithKeys("e"), key.WithHelp("e", "export")),
		ExportAs: key.NewBinding(key.WithKeys("E"), key.WithHelp("E", "export as…")),
		Quit:     key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
		Accept:   key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "save")),
		Cancel:   key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "cancel")),
	}
}

type prompt struct {
	suggested string
	result    *sched.Future[string]
}

// Model is the bubbletea model. It is also the pipeline's destination
// chooser and the progress guard's indicator.
type Model struct {
	sched    *sched.Scheduler
	exporter Exporter
	recent   Items
	title    string
	log      *slog.Logger

	keys    keyMap
	spinner spinner.Model
	input   textinput.Model

	busy    bool
	ticking bool
	prompts []prompt
	status  string
	failed  bool
	running int
}

func New(opts Options) *Model {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = spinnerStyle

	in := textinput.New()
	in.Prompt = "Save as: "
	in.CharLimit = 4096
	in.Width = 60

	return &Model{
		sched:    opts.Scheduler,
		exporter: opts.Exporter,
		recent:   opts.Recent,
		title:    opts.Title,
		log:      log.With(slog.String("component", "tui")),
		keys:     newKeyMap(),
		spinner:  sp,
		input:    in,
	}
}

func (m *Model) Init() tea.Cmd { return nil }

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case taskMsg:
		msg.fn()
		return m, m.startTicking()

	case spinner.TickMsg:
		if !m.busy {
			m.ticking = false
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if len(m.prompts) > 0 {
			return m, m.updatePrompt(msg)
		}
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Export):
			m.export(false)
		case key.Matches(msg, m.keys.ExportAs):
			m.export(true)
		}
	}
	return m, nil
}

func (m *Model) updatePrompt(msg tea.KeyMsg) tea.Cmd {
	switch {
	case key.Matches(msg, m.keys.Accept):
		m.answer(strings.TrimSpace(m.input.Value()))
		return nil
	case key.Matches(msg, m.keys.Cancel):
		m.answer("")
		return nil
	case msg.Type == tea.KeyCtrlC:
		m.cancelPrompts()
		return tea.Quit
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return cmd
}

func (m *Model) export(askPath bool) {
	m.running++
	m.status, m.failed = "", false
	m.exporter.Convert(context.Background(), askPath).Finally(func(run *pipeline.Run, _ error) {
		m.sched.SubmitUI(context.Background(), func(context.Context) error {
			m.running--
			if run != nil {
				m.report(run)
			}
			return nil
		})
	})
}

// runResult is the part of a finished run the status line shows.
type runResult interface {
	Destination() string
	Err() error
}

func (m *Model) report(r runResult) {
	err := r.Err()
	switch {
	case err == nil:
		m.status, m.failed = "exported to "+r.Destination(), false
	case errors.Is(err, pipeline.ErrAbortedByUser):
		m.status, m.failed = "export cancelled", false
	default:
		m.status, m.failed = fmt.Sprintf("export failed: %v", err), true
	}
}

// Choose implements pipeline.Chooser. Prompts from overlapping runs are
// answered one at a time in request order.
func (m *Model) Choose(_ context.Context, suggested string) *sched.Future[string] {
	f := sched.NewFuture[string]()
	m.prompts = append(m.prompts, prompt{suggested: suggested, result: f})
	if len(m.prompts) == 1 {
		m.showPrompt()
	}
	return f
}

func (m *Model) showPrompt() {
	m.input.SetValue(m.prompts[0].suggested)
	m.input.CursorEnd()
	m.input.Focus()
}

func (m *Model) answer(path string) {
	p := m.prompts[0]
	m.prompts = m.prompts[1:]
	if len(m.prompts) > 0 {
		m.showPrompt()
	} else {
		m.input.Blur()
		m.input.SetValue("")
	}
	p.result.Resolve(path, nil)
}

func (m *Model) cancelPrompts() {
	for len(m.prompts) > 0 {
		m.answer("")
	}
}

// Show and Hide implement progress.Indicator.
func (m *Model) Show() { m.busy = true }

func (m *Model) Hide() { m.busy = false }

func (m *Model) startTicking() tea.Cmd {
	if !m.busy || m.ticking {
		return nil
	}
	m.ticking = true
	return m.spinner.Tick
}

func (m *Model) View() string {
	var b strings.Builder

	title := "docconvert"
	if m.title != "" {
		title += " · " + m.title
	}
	b.WriteString(titleStyle.Render(title))
	b.WriteString("\n")

	if m.busy {
		label := " converting…"
		if m.running > 1 {
			label = fmt.Sprintf(" converting %d documents…", m.running)
		}
		b.WriteString(m.spinner.View() + busyStyle.Render(label))
	} else {
		b.WriteString(idleStyle.Render("idle"))
	}
	b.WriteString("\n\n")

	b.WriteString(headerStyle.Render("Recent"))
	b.WriteString("\n")
	var items []string
	if m.recent != nil {
		items = m.recent.Items()
	}
	if len(items) == 0 {
		b.WriteString(idleStyle.Render("  nothing exported yet"))
		b.WriteString("\n")
	}
	for i, it := range items {
		b.WriteString(itemStyle.Render(fmt.Sprintf("  %d. %s", i+1, it)))
		b.WriteString("\n")
	}

	if len(m.prompts) > 0 {
		b.WriteString("\n")
		b.WriteString(promptStyle.Render(m.input.View() + "\n" + idleStyle.Render("enter: save  esc: cancel")))
		b.WriteString("\n")
	}

	if m.status != "" {
		b.WriteString("\n")
		if m.failed {
			b.WriteString(errStyle.Render(m.status))
		} else {
			b.WriteString(okStyle.Render(m.status))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(footerStyle.Render("e: export  E: export as…  q: quit"))
	return b.String()
}
