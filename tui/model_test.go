package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/humblenginr/docconvert/pipeline"
	"github.com/humblenginr/docconvert/sched"
)

type fakeExporter struct {
	asks []bool
}

func (f *fakeExporter) Convert(_ context.Context, askPath bool) *sched.Future[*pipeline.Run] {
	f.asks = append(f.asks, askPath)
	return sched.NewFuture[*pipeline.Run]()
}

type staticItems []string

func (s staticItems) Items() []string { return s }

type fakeRun struct {
	dest string
	err  error
}

func (r fakeRun) Destination() string { return r.dest }
func (r fakeRun) Err() error          { return r.err }

func keyRunes(s string) tea.KeyMsg { return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)} }

func newTestModel() (*Model, *fakeExporter) {
	exp := &fakeExporter{}
	return New(Options{Exporter: exp, Recent: staticItems{"/out/a.mobi", "/out/b.mobi"}, Title: "guide.adoc"}), exp
}

func TestExportKeys(t *testing.T) {
	m, exp := newTestModel()
	m.Update(keyRunes("e"))
	m.Update(keyRunes("E"))
	if len(exp.asks) != 2 || exp.asks[0] || !exp.asks[1] {
		t.Fatalf("asks = %v, want [false true]", exp.asks)
	}
}

func TestQuit(t *testing.T) {
	m, _ := newTestModel()
	_, cmd := m.Update(keyRunes("q"))
	if cmd == nil {
		t.Fatal("q returned no command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatal("q did not quit")
	}
}

func TestChooseAcceptEditedPath(t *testing.T) {
	m, exp := newTestModel()
	f := m.Choose(context.Background(), "/out/guide.mobi")

	if !strings.Contains(m.View(), "Save as") {
		t.Fatal("prompt not shown")
	}
	// keys go to the prompt, not the key map
	m.Update(keyRunes("e"))
	if len(exp.asks) != 0 {
		t.Fatal("export triggered while prompting")
	}
	m.Update(tea.KeyMsg{Type: tea.KeyBackspace})
	m.Update(tea.KeyMsg{Type: tea.KeyEnter})

	v, err, ok := f.Peek()
	if !ok || err != nil || v != "/out/guide.mobi" {
		t.Fatalf("choice = %q, %v, %v", v, err, ok)
	}
	if strings.Contains(m.View(), "Save as") {
		t.Fatal("prompt still shown")
	}
}

func TestChooseCancel(t *testing.T) {
	m, _ := newTestModel()
	f := m.Choose(context.Background(), "/out/guide.mobi")
	m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	if v, err, ok := f.Peek(); !ok || err != nil || v != "" {
		t.Fatalf("choice = %q, %v, %v; want cancellation", v, err, ok)
	}
}

func TestChooseQueuesPrompts(t *testing.T) {
	m, _ := newTestModel()
	first := m.Choose(context.Background(), "/out/one.mobi")
	second := m.Choose(context.Background(), "/out/two.mobi")

	if got := m.input.Value(); got != "/out/one.mobi" {
		t.Fatalf("input = %q", got)
	}
	m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if _, _, ok := second.Peek(); ok {
		t.Fatal("second prompt answered early")
	}
	if got := m.input.Value(); got != "/out/two.mobi" {
		t.Fatalf("input = %q after first answer", got)
	}
	m.Update(tea.KeyMsg{Type: tea.KeyEsc})

	v1, _, _ := first.Peek()
	v2, _, ok := second.Peek()
	if v1 != "/out/one.mobi" || !ok || v2 != "" {
		t.Fatalf("answers = %q, %q", v1, v2)
	}
}

func TestCtrlCCancelsPrompts(t *testing.T) {
	m, _ := newTestModel()
	f := m.Choose(context.Background(), "/out/one.mobi")
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	if cmd == nil {
		t.Fatal("ctrl+c returned no command")
	}
	if v, _, ok := f.Peek(); !ok || v != "" {
		t.Fatalf("prompt not cancelled: %q, %v", v, ok)
	}
}

func TestTaskMsgRunsAndTicks(t *testing.T) {
	m, _ := newTestModel()
	ran := false
	_, cmd := m.Update(taskMsg{fn: func() {
		ran = true
		m.Show()
	}})
	if !ran {
		t.Fatal("task did not run")
	}
	if cmd == nil {
		t.Fatal("busy indicator did not start the spinner")
	}
	if !strings.Contains(m.View(), "converting") {
		t.Fatal("busy indicator not rendered")
	}

	// a second task while ticking does not start another tick loop
	if _, cmd := m.Update(taskMsg{fn: func() {}}); cmd != nil {
		t.Fatal("duplicate tick loop")
	}

	m.Update(taskMsg{fn: m.Hide})
	if !strings.Contains(m.View(), "idle") {
		t.Fatal("indicator not cleared")
	}
}

func TestReport(t *testing.T) {
	cases := []struct {
		run    fakeRun
		want   string
		failed bool
	}{
		{fakeRun{dest: "/out/a.mobi"}, "exported to /out/a.mobi", false},
		{fakeRun{err: &pipeline.StageError{Stage: pipeline.StageResolve, Kind: pipeline.ErrAbortedByUser}}, "export cancelled", false},
		{fakeRun{err: fmt.Errorf("kindlegen: %w", pipeline.ErrExternalTool)}, "export failed: kindlegen", true},
		{fakeRun{err: errors.New("disk full")}, "export failed: disk full", true},
	}
	for _, tc := range cases {
		m, _ := newTestModel()
		m.report(tc.run)
		if !strings.HasPrefix(m.status, tc.want) || m.failed != tc.failed {
			t.Errorf("status = %q (failed %v), want %q (failed %v)", m.status, m.failed, tc.want, tc.failed)
		}
	}
}

func TestViewListsRecent(t *testing.T) {
	m, _ := newTestModel()
	out := m.View()
	for _, want := range []string{"guide.adoc", "1. /out/a.mobi", "2. /out/b.mobi", "e: export"} {
		if !strings.Contains(out, want) {
			t.Errorf("view missing %q", want)
		}
	}
}
