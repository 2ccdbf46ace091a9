package pipeline

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/humblenginr/docconvert/progress"
	"github.com/humblenginr/docconvert/recent"
	"github.com/humblenginr/docconvert/sched"
	"github.com/humblenginr/docconvert/tool"
)

type fakeDoc struct {
	path  string
	title string
}

func (d fakeDoc) CurrentPath() (string, bool) { return d.path, d.path != "" }
func (d fakeDoc) DisplayTitle() string        { return d.title }

// fakeTool plays kindlegen: it writes args[1] beside the artifact.
type fakeTool struct {
	calls    atomic.Int32
	exitCode int
	output   string
	affinity atomic.Int32
}

func (f *fakeTool) Run(ctx context.Context, _ string, args []string, dir string) tool.Result {
	f.calls.Add(1)
	f.affinity.Store(int32(sched.AffinityOf(ctx)))
	if f.exitCode != 0 {
		return tool.Result{Output: f.output, Cause: "kindlegen: exit status 1"}
	}
	if err := os.WriteFile(filepath.Join(dir, args[1]), []byte("MOBI"), 0o644); err != nil {
		return tool.Result{Cause: err.Error()}
	}
	return tool.Result{Output: f.output, Succeeded: true}
}

type harness struct {
	sched   *sched.Scheduler
	guard   *progress.Guard
	tool    *fakeTool
	recent  *recent.List
	logs    *syncBuffer
	docDir  string
	tempDir string
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	loop := sched.NewLoop(nil)
	s := sched.New(loop, sched.Options{Workers: 2})
	t.Cleanup(func() {
		s.Close()
		loop.Close()
	})
	return &harness{
		sched:   s,
		guard:   progress.New(s, nil, nil),
		tool:    &fakeTool{output: "Info(prcgen):I1036: Mobi file built successfully"},
		recent:  recent.NewList(10),
		logs:    &syncBuffer{},
		docDir:  t.TempDir(),
		tempDir: t.TempDir(),
	}
}

// producer returns an artifact inside h.tempDir, or fails with err.
func (h *harness) producer(err error) Producer {
	return ProducerFunc(func(ctx context.Context) *sched.Future[string] {
		return sched.Background(h.sched, ctx, func(context.Context) (string, error) {
			if err != nil {
				return "", err
			}
			art := filepath.Join(h.tempDir, "book.epub")
			return art, os.WriteFile(art, []byte("EPUB"), 0o644)
		})
	})
}

func (h *harness) converter(t *testing.T, doc Document, prod Producer, chooser Chooser) *Converter {
	t.Helper()
	c, err := NewConverter(Mobi("kindlegen"), Deps{
		Scheduler:   h.sched,
		Guard:       h.guard,
		Tool:        h.tool,
		Producer:    prod,
		Document:    doc,
		Chooser:     chooser,
		Recent:      h.recent,
		FallbackDir: h.tempDir,
		Logger:      slog.New(slog.NewTextHandler(h.logs, nil)),
	})
	if err != nil {
		t.Fatalf("NewConverter: %v", err)
	}
	return c
}

// convert triggers a run from the UI context, as a menu action would.
func (h *harness) convert(t *testing.T, c *Converter, ask bool) *Run {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	f, err := sched.UI(h.sched, ctx, func(ctx context.Context) (*sched.Future[*Run], error) {
		return c.Convert(ctx, ask), nil
	}).Await(ctx)
	if err != nil {
		t.Fatal(err)
	}
	run, err := f.Await(ctx)
	if err != nil {
		t.Fatalf("Convert future failed: %v", err)
	}
	return run
}

// recentItems reads the list on the UI context.
func (h *harness) recentItems(t *testing.T) []string {
	t.Helper()
	items, err := sched.UI(h.sched, context.Background(), func(context.Context) ([]string, error) {
		return h.recent.Items(), nil
	}).Await(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return items
}

func TestConvertDefaultDestination(t *testing.T) {
	h := newHarness(t)
	doc := fakeDoc{path: filepath.Join(h.docDir, "book.adoc"), title: "book.adoc *"}
	c := h.converter(t, doc, h.producer(nil), nil)
	before := h.guard.Active()

	run := h.convert(t, c, false)

	if run.State() != Succeeded || run.Err() != nil {
		t.Fatalf("state=%s err=%v", run.State(), run.Err())
	}
	want := filepath.Join(h.docDir, "book.mobi")
	if run.Destination() != want {
		t.Fatalf("destination = %s, want %s", run.Destination(), want)
	}
	if data, err := os.ReadFile(want); err != nil || string(data) != "MOBI" {
		t.Fatalf("final file: %q, %v", data, err)
	}
	if items := h.recentItems(t); len(items) == 0 || items[0] != want {
		t.Fatalf("recent = %v", items)
	}
	if h.guard.Active() != before {
		t.Fatalf("guard leaked: %d -> %d", before, h.guard.Active())
	}
	if a := sched.Affinity(h.tool.affinity.Load()); a != sched.AffinityBackground {
		t.Fatalf("tool ran on %s", a)
	}
	wantStages := []string{StageProduce, StageResolve, StageInvoke, StageFinalize, StageRelease}
	if got := run.Completed(); strings.Join(got, ",") != strings.Join(wantStages, ",") {
		t.Fatalf("stages = %v", got)
	}
	if !strings.Contains(run.Output(), "built successfully") {
		t.Fatalf("tool output not kept: %q", run.Output())
	}
}

func TestConvertOverwritesAndDeduplicatesRecent(t *testing.T) {
	h := newHarness(t)
	doc := fakeDoc{path: filepath.Join(h.docDir, "book.adoc"), title: "book.adoc"}
	c := h.converter(t, doc, h.producer(nil), nil)

	want := filepath.Join(h.docDir, "book.mobi")
	if err := os.WriteFile(want, []byte("stale"), 0o644); err != nil {
		t.Fatal(err)
	}
	h.convert(t, c, false)
	run := h.convert(t, c, false)
	if run.Err() != nil {
		t.Fatal(run.Err())
	}

	items := h.recentItems(t)
	if len(items) != 1 || items[0] != want {
		t.Fatalf("recent = %v, want exactly [%s]", items, want)
	}
	if data, _ := os.ReadFile(want); string(data) != "MOBI" {
		t.Fatalf("existing file not replaced: %q", data)
	}
}

func TestConvertToolFailure(t *testing.T) {
	h := newHarness(t)
	h.tool.exitCode = 1
	h.tool.output = "Error(kindlegen):E30005: Could not find file"
	doc := fakeDoc{path: filepath.Join(h.docDir, "book.adoc"), title: "book.adoc"}
	c := h.converter(t, doc, h.producer(nil), nil)

	run := h.convert(t, c, false)

	if run.State() != Failed || !errors.Is(run.Err(), ErrExternalTool) {
		t.Fatalf("state=%s err=%v", run.State(), run.Err())
	}
	if _, err := os.Stat(filepath.Join(h.docDir, "book.mobi")); !os.IsNotExist(err) {
		t.Fatal("failed run left a file at the destination")
	}
	if items := h.recentItems(t); len(items) != 0 {
		t.Fatalf("recent updated on failure: %v", items)
	}
	if h.guard.Active() != 0 {
		t.Fatalf("guard leaked: %d", h.guard.Active())
	}
	logs := h.logs.String()
	if !strings.Contains(logs, "level=ERROR") || !strings.Contains(logs, "E30005") {
		t.Fatalf("failure not logged with output: %s", logs)
	}
}

func TestConvertUserCancels(t *testing.T) {
	h := newHarness(t)
	var suggested string
	chooser := ChooserFunc(func(ctx context.Context, s string) *sched.Future[string] {
		if !sched.OnUI(ctx) {
			t.Error("chooser called off the UI context")
		}
		suggested = s
		return sched.Resolved("")
	})
	doc := fakeDoc{path: filepath.Join(h.docDir, "book.adoc"), title: "book.adoc"}
	c := h.converter(t, doc, h.producer(nil), chooser)

	run := h.convert(t, c, true)

	if run.State() != Failed || !errors.Is(run.Err(), ErrAbortedByUser) {
		t.Fatalf("state=%s err=%v", run.State(), run.Err())
	}
	if h.tool.calls.Load() != 0 {
		t.Fatal("tool invoked after cancel")
	}
	if h.guard.Active() != 0 {
		t.Fatalf("guard leaked: %d", h.guard.Active())
	}
	if strings.Contains(h.logs.String(), "level=ERROR") {
		t.Fatalf("cancellation logged as error: %s", h.logs.String())
	}
	if suggested != filepath.Join(h.docDir, "book.mobi") {
		t.Fatalf("chooser suggested %q", suggested)
	}
}

func TestConvertUserChoosesPath(t *testing.T) {
	h := newHarness(t)
	chosen := filepath.Join(t.TempDir(), "elsewhere.mobi")
	chooser := ChooserFunc(func(context.Context, string) *sched.Future[string] { return sched.Resolved(chosen) })
	doc := fakeDoc{path: filepath.Join(h.docDir, "book.adoc"), title: "book.adoc"}
	c := h.converter(t, doc, h.producer(nil), chooser)

	run := h.convert(t, c, true)
	if run.Err() != nil {
		t.Fatal(run.Err())
	}
	if _, err := os.Stat(chosen); err != nil {
		t.Fatalf("chosen destination missing: %v", err)
	}
}

func TestConvertUpstreamFailure(t *testing.T) {
	h := newHarness(t)
	doc := fakeDoc{path: filepath.Join(h.docDir, "book.adoc"), title: "book.adoc"}
	c := h.converter(t, doc, h.producer(errors.New("epub export failed")), nil)

	run := h.convert(t, c, false)

	if !errors.Is(run.Err(), ErrUpstream) {
		t.Fatalf("err = %v", run.Err())
	}
	if h.tool.calls.Load() != 0 {
		t.Fatal("tool invoked after upstream failure")
	}
	if h.guard.Active() != 0 {
		t.Fatalf("guard leaked: %d", h.guard.Active())
	}
}

func TestConvertUnwritableDestination(t *testing.T) {
	if runtime.GOOS == "windows" || os.Getuid() == 0 {
		t.Skip("permission bits not enforced")
	}
	h := newHarness(t)
	locked := filepath.Join(h.docDir, "locked")
	if err := os.Mkdir(locked, 0o555); err != nil {
		t.Fatal(err)
	}
	doc := fakeDoc{path: filepath.Join(locked, "book.adoc"), title: "book.adoc"}
	c := h.converter(t, doc, h.producer(nil), nil)

	run := h.convert(t, c, false)

	if !errors.Is(run.Err(), ErrIO) {
		t.Fatalf("err = %v", run.Err())
	}
	if h.tool.calls.Load() != 1 {
		t.Fatalf("tool calls = %d, want exactly one (no retry)", h.tool.calls.Load())
	}
}

func TestConvertPanickingProducer(t *testing.T) {
	h := newHarness(t)
	prod := ProducerFunc(func(context.Context) *sched.Future[string] { panic("producer exploded") })
	doc := fakeDoc{path: filepath.Join(h.docDir, "book.adoc"), title: "book.adoc"}
	c := h.converter(t, doc, prod, nil)

	run := h.convert(t, c, false)
	if run.State() != Failed {
		t.Fatalf("state = %s", run.State())
	}
	if h.guard.Active() != 0 {
		t.Fatalf("guard leaked: %d", h.guard.Active())
	}
}

func TestConcurrentRunsBalanceGuard(t *testing.T) {
	h := newHarness(t)
	var n atomic.Int32
	prod := ProducerFunc(func(ctx context.Context) *sched.Future[string] {
		return sched.Background(h.sched, ctx, func(context.Context) (string, error) {
			dir := filepath.Join(h.tempDir, "run", string(rune('a'+n.Add(1))))
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return "", err
			}
			art := filepath.Join(dir, "book.epub")
			return art, os.WriteFile(art, nil, 0o644)
		})
	})

	var convs []*Converter
	for i := 0; i < 6; i++ {
		title := string(rune('A' + i))
		convs = append(convs, h.converter(t, fakeDoc{path: filepath.Join(h.docDir, title+".adoc"), title: title}, prod, nil))
	}

	var wg sync.WaitGroup
	for _, c := range convs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			run, err := sched.Flatten(sched.UI(h.sched, ctx, func(ctx context.Context) (*sched.Future[*Run], error) {
				return c.Convert(ctx, false), nil
			})).Await(ctx)
			if err != nil || run.Err() != nil {
				t.Errorf("run failed: %v %v", err, run)
			}
		}()
	}
	wg.Wait()

	if h.guard.Active() != 0 {
		t.Fatalf("guard leaked: %d", h.guard.Active())
	}
	if items := h.recentItems(t); len(items) != 6 {
		t.Fatalf("recent = %v", items)
	}
}

func TestDefaultDestinationFallbacks(t *testing.T) {
	h := newHarness(t)
	cases := []struct {
		doc  fakeDoc
		want string
	}{
		{fakeDoc{path: "/docs/a.adoc", title: "a.adoc"}, filepath.Join("/docs", "a.mobi")},
		{fakeDoc{path: "/docs/a.adoc", title: "  *  "}, filepath.Join("/docs", DefaultName+".mobi")},
		{fakeDoc{title: "notes"}, filepath.Join(h.tempDir, "notes.mobi")},
		{fakeDoc{path: "/docs/x.adoc", title: "a/b"}, filepath.Join("/docs", "a_b.mobi")},
	}
	for _, tc := range cases {
		c := h.converter(t, tc.doc, h.producer(nil), nil)
		if got := c.DefaultDestination(); got != tc.want {
			t.Errorf("DefaultDestination(%+v) = %s, want %s", tc.doc, got, tc.want)
		}
	}
}

func TestNewConverterValidates(t *testing.T) {
	if _, err := NewConverter(Mobi("kindlegen"), Deps{}); err == nil {
		t.Fatal("expected missing collaborator error")
	}
	if _, err := NewConverter(Definition{}, Deps{}); err == nil {
		t.Fatal("expected incomplete definition error")
	}
}

func TestStageDescriptors(t *testing.T) {
	for _, name := range []string{StageResolve, StageFinalize} {
		d, ok := Stage(name)
		if !ok || d.Affinity != sched.AffinityUI {
			t.Fatalf("%s must run on the UI context: %+v", name, d)
		}
	}
	for _, name := range []string{StageProduce, StageInvoke} {
		d, ok := Stage(name)
		if !ok || d.Affinity != sched.AffinityBackground {
			t.Fatalf("%s must run in the background: %+v", name, d)
		}
	}
	if d, _ := Stage(StageRelease); !d.Cleanup {
		t.Fatal("release stage must be a cleanup stage")
	}
}

func TestConvertSchedulesStagesByDescriptor(t *testing.T) {
	h := newHarness(t)
	var produced, chose atomic.Int32
	prod := ProducerFunc(func(ctx context.Context) *sched.Future[string] {
		produced.Store(int32(sched.AffinityOf(ctx)))
		return h.producer(nil).Produce(ctx)
	})
	chooser := ChooserFunc(func(ctx context.Context, suggested string) *sched.Future[string] {
		chose.Store(int32(sched.AffinityOf(ctx)))
		return sched.Resolved(suggested)
	})
	c := h.converter(t, fakeDoc{path: filepath.Join(h.docDir, "book.adoc"), title: "book.adoc"}, prod, chooser)

	if run := h.convert(t, c, true); run.Err() != nil {
		t.Fatalf("run failed: %v", run.Err())
	}
	for _, tc := range []struct {
		stage string
		got   sched.Affinity
	}{
		{StageProduce, sched.Affinity(produced.Load())},
		{StageResolve, sched.Affinity(chose.Load())},
		{StageInvoke, sched.Affinity(h.tool.affinity.Load())},
	} {
		d, _ := Stage(tc.stage)
		if tc.got != d.Affinity {
			t.Errorf("%s ran on %s, descriptor says %s", tc.stage, tc.got, d.Affinity)
		}
	}
}
