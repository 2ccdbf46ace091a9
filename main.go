package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"

	"github.com/humblenginr/docconvert/config"
	"github.com/humblenginr/docconvert/pipeline"
	"github.com/humblenginr/docconvert/progress"
	"github.com/humblenginr/docconvert/recent"
	"github.com/humblenginr/docconvert/sched"
	"github.com/humblenginr/docconvert/tool"
	"github.com/humblenginr/docconvert/tui"
)

// IntermediateExtension is the artifact the producer command writes.
const IntermediateExtension = ".epub"

type options struct {
	doc      string
	title    string
	headless bool
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "docconvert: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := pflag.NewFlagSet("docconvert", pflag.ContinueOnError)
	var opts options
	fs.StringVar(&opts.doc, "doc", "", "document to convert")
	fs.StringVar(&opts.title, "title", "", "display title; defaults to the document file name")
	fs.BoolVar(&opts.headless, "headless", false, "convert --doc once to the default destination and exit")
	config.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(fs)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	if opts.doc != "" {
		if opts.doc, err = filepath.Abs(opts.doc); err != nil {
			return fmt.Errorf("doc path: %w", err)
		}
	}
	if opts.headless && opts.doc == "" {
		return errors.New("--headless needs --doc")
	}

	logOut, closeLog, err := openLog(cfg, opts.headless)
	if err != nil {
		return err
	}
	defer closeLog()
	log := slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: cfg.Level()}))
	slog.SetDefault(log)

	ctx := context.Background()

	store, err := recent.Open(ctx, cfg.Recent.DBPath, log)
	if err != nil {
		// the list still works, it just is not kept across sessions
		log.Warn("recent items not persisted", slog.Any("error", err))
		store = nil
	} else {
		defer store.Close()
	}

	if opts.headless {
		return runHeadless(ctx, cfg, opts, store, log)
	}
	return runInteractive(ctx, cfg, opts, store, log)
}

func openLog(cfg config.Config, headless bool) (io.Writer, func(), error) {
	if headless || cfg.Log.Path == "" {
		return os.Stderr, func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Log.Path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("mkdir log dir: %w", err)
	}
	f, err := os.OpenFile(cfg.Log.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}

// app is the wiring shared by both front-ends.
type app struct {
	sched  *sched.Scheduler
	recent *recent.List
	bound  *sched.Future[struct{}]
	conv   *pipeline.Converter
}

func build(ctx context.Context, cfg config.Config, opts options, ui sched.Dispatcher, ind progress.Indicator, chooser pipeline.Chooser, store *recent.Store, log *slog.Logger) (*app, error) {
	s := sched.New(ui, sched.Options{Workers: cfg.Scheduler.Workers, Logger: log})

	list := recent.NewList(cfg.Recent.Limit)
	bound := sched.Resolved(struct{}{})
	if store != nil {
		bound = recent.Bind(ctx, s, list, store, log)
	}

	invoker := &tool.Invoker{Log: log}
	producer := &pipeline.CommandProducer{
		Scheduler: s,
		Tool:      invoker,
		Command:   cfg.Producer.Command,
		Args:      cfg.Producer.Args,
		Source:    opts.doc,
		Extension: IntermediateExtension,
		Logger:    log,
	}

	conv, err := pipeline.NewConverter(pipeline.Mobi(cfg.ToolPath()), pipeline.Deps{
		Scheduler:   s,
		Guard:       progress.New(s, ind, log),
		Tool:        invoker,
		Producer:    producer,
		Document:    pipeline.FileDocument{Path: opts.doc, Title: opts.title},
		Chooser:     chooser,
		Recent:      list,
		FallbackDir: cfg.Output.FallbackDir,
		Logger:      log,
	})
	if err != nil {
		s.Close()
		return nil, err
	}
	return &app{sched: s, recent: list, bound: bound, conv: conv}, nil
}

func runHeadless(ctx context.Context, cfg config.Config, opts options, store *recent.Store, log *slog.Logger) error {
	loop := sched.NewLoop(log)
	defer loop.Close()

	ind := progress.IndicatorFuncs{
		OnShow: func() { log.Debug("busy") },
		OnHide: func() { log.Debug("idle") },
	}
	a, err := build(ctx, cfg, opts, loop, ind, nil, store, log)
	if err != nil {
		return err
	}
	defer a.sched.Close()

	// the stored list must be in place before the run prepends to it
	if _, err := a.bound.Await(ctx); err != nil {
		log.Warn("recent items not loaded", slog.Any("error", err))
	}

	r, err := a.conv.Convert(ctx, false).Await(ctx)
	if err != nil {
		return err
	}
	if err := r.Err(); err != nil {
		return err
	}
	fmt.Println(r.Destination())
	return nil
}

func runInteractive(ctx context.Context, cfg config.Config, opts options, store *recent.Store, log *slog.Logger) error {
	disp := tui.NewDispatcher(log)
	defer disp.Close()

	// the model and the converter refer to each other; m is set before the
	// program starts delivering UI work
	var m *tui.Model
	ind := progress.IndicatorFuncs{
		OnShow: func() { m.Show() },
		OnHide: func() { m.Hide() },
	}
	chooser := pipeline.ChooserFunc(func(ctx context.Context, suggested string) *sched.Future[string] {
		return m.Choose(ctx, suggested)
	})

	a, err := build(ctx, cfg, opts, disp, ind, chooser, store, log)
	if err != nil {
		return err
	}
	defer a.sched.Close()
	a.bound.Finally(func(_ struct{}, err error) {
		if err != nil {
			log.Warn("recent items not loaded", slog.Any("error", err))
		}
	})

	title := pipeline.FileDocument{Path: opts.doc, Title: opts.title}.DisplayTitle()
	m = tui.New(tui.Options{
		Scheduler: a.sched,
		Exporter:  a.conv,
		Recent:    a.recent,
		Title:     title,
		Logger:    log,
	})

	p := tea.NewProgram(m, tea.WithAltScreen())
	disp.Attach(p)
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("tui: %w", err)
	}
	return nil
}
