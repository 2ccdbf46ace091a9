// Package pipeline chains the stages of a conversion across the UI-affinity
// and background contexts.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/humblenginr/docconvert/progress"
	"github.com/humblenginr/docconvert/sched"
	"github.com/humblenginr/docconvert/tool"
)

// DefaultName is used when the document has no usable title.
const DefaultName = "untitled"

// Deps are the collaborators of a Converter. Chooser may be nil when no run
// asks for a prompt.
type Deps struct {
	Scheduler *sched.Scheduler
	Guard     *progress.Guard
	Tool      ToolRunner
	Producer  Producer
	Document  Document
	Chooser   Chooser
	Recent    RecentItems
	// FallbackDir holds default destinations for documents without a path.
	FallbackDir string
	Logger      *slog.Logger
}

// Converter runs one named conversion. Overlapping runs for the same
// destination are not de-duplicated; callers must not trigger them.
type Converter struct {
	def Definition
	Deps
	log *slog.Logger
}

func NewConverter(def Definition, deps Deps) (*Converter, error) {
	switch {
	case def.Name == "" || def.Args == nil:
		return nil, errors.New("pipeline: incomplete definition")
	case deps.Scheduler == nil, deps.Guard == nil, deps.Tool == nil,
		deps.Producer == nil, deps.Document == nil, deps.Recent == nil:
		return nil, fmt.Errorf("pipeline: %s: missing collaborator", def.Name)
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Converter{
		def:  def,
		Deps: deps,
		log:  log.With(slog.String("component", "pipeline"), slog.String("conversion", def.Name)),
	}, nil
}

func (c *Converter) Name() string { return c.def.Name }

// target travels down the chain once the artifact exists.
type target struct {
	artifact    string
	destination string
}

// Convert starts a run. The returned future never fails: the run itself
// reports Succeeded or Failed, and resolves only after the run's progress
// interval has been released.
func (c *Converter) Convert(ctx context.Context, askPath bool) *sched.Future[*Run] {
	source, _ := c.Document.CurrentPath()
	run := newRun(c.def.Name, source)
	log := c.log.With(slog.String("run", run.ID.String()))
	result := sched.NewFuture[*Run]()

	run.enter(Preparing)
	handle := c.Guard.Start(ctx)

	chained := false
	defer func() {
		if chained {
			return
		}
		// the chain was never built; release here
		err := stageErr("prepare", ErrInternal, fmt.Errorf("%v", recover()))
		handle.Complete(ctx)
		c.finish(log, run, err)
		result.Resolve(run, nil)
	}()

	artifact := sched.MapErr(sched.Flatten(sched.Submit(c.Scheduler, ctx, affinity(StageProduce),
		func(ctx context.Context) (*sched.Future[string], error) {
			run.enter(AwaitingIntermediate)
			return c.Producer.Produce(ctx), nil
		})), classify(StageProduce, ErrUpstream))

	resolved := sched.Flatten(sched.Then(c.Scheduler, ctx, artifact, affinity(StageResolve),
		func(ctx context.Context, art string) (*sched.Future[target], error) {
			run.setArtifact(art)
			run.mark(StageProduce)
			return c.resolveDestination(ctx, run, art, askPath), nil
		}))

	invoked := sched.Then(c.Scheduler, ctx, resolved, affinity(StageInvoke),
		func(ctx context.Context, t target) (string, error) {
			run.mark(StageResolve)
			return c.invoke(ctx, run, t)
		})

	finalized := sched.Then(c.Scheduler, ctx, invoked, affinity(StageFinalize),
		func(ctx context.Context, dest string) (struct{}, error) {
			run.mark(StageInvoke)
			run.enter(Finalizing)
			c.Recent.Remove(dest)
			c.Recent.InsertFirst(dest)
			run.mark(StageFinalize)
			return struct{}{}, nil
		})

	finalized.Finally(func(_ struct{}, err error) {
		if err != nil {
			err = classify("scheduler", ErrInternal)(err)
		}
		c.releaseArtifact(ctx, log, run).Finally(func(struct{}, error) {
			sched.Submit(c.Scheduler, ctx, affinity(StageRelease), func(ctx context.Context) (struct{}, error) {
				handle.Complete(ctx)
				run.mark(StageRelease)
				return struct{}{}, nil
			}).Finally(func(_ struct{}, uerr error) {
				if uerr != nil {
					// the UI context is gone; release from here instead
					log.Warn("progress released off the UI context", slog.Any("error", uerr))
					handle.Complete(ctx)
				}
				c.finish(log, run, err)
				result.Resolve(run, nil)
			})
		})
	})
	chained = true
	return result
}

// releaseArtifact hands the intermediate artifact back to a producer that
// owns it. Failures are logged and never fail the run.
func (c *Converter) releaseArtifact(ctx context.Context, log *slog.Logger, run *Run) *sched.Future[struct{}] {
	r, ok := c.Producer.(Releaser)
	art := run.Artifact()
	if !ok || art == "" {
		return sched.Resolved(struct{}{})
	}
	out := sched.NewFuture[struct{}]()
	c.Scheduler.SubmitBackground(ctx, func(context.Context) error {
		return r.Release(art)
	}).Finally(func(_ struct{}, err error) {
		if err != nil {
			log.Warn("intermediate artifact not released", slog.String("artifact", art), slog.Any("error", err))
		}
		out.Resolve(struct{}{}, nil)
	})
	return out
}

func (c *Converter) resolveDestination(ctx context.Context, run *Run, artifact string, askPath bool) *sched.Future[target] {
	run.enter(ResolvingDestination)
	suggested := c.DefaultDestination()

	if !askPath {
		run.setDestination(suggested)
		return sched.Resolved(target{artifact: artifact, destination: suggested})
	}
	if c.Chooser == nil {
		return sched.Failed[target](stageErr(StageResolve, ErrAbortedByUser, errors.New("no destination chooser")))
	}

	out := sched.NewFuture[target]()
	c.Chooser.Choose(ctx, suggested).Finally(func(dest string, err error) {
		switch {
		case err != nil:
			out.Resolve(target{}, stageErr(StageResolve, ErrInternal, err))
		case dest == "":
			out.Resolve(target{}, stageErr(StageResolve, ErrAbortedByUser, nil))
		default:
			run.setDestination(dest)
			out.Resolve(target{artifact: artifact, destination: dest}, nil)
		}
	})
	return out
}

// DefaultDestination derives <document dir>/<title><ext>. UI-affinity only,
// since it reads the document context.
func (c *Converter) DefaultDestination() string {
	dir := c.FallbackDir
	if p, ok := c.Document.CurrentPath(); ok && p != "" {
		dir = filepath.Dir(p)
	}
	return filepath.Join(dir, cleanTitle(c.Document.DisplayTitle())+c.def.Extension)
}

// cleanTitle strips the dirty marker and the source extension from a tab
// title and makes it safe as a file name.
func cleanTitle(title string) string {
	title = strings.TrimSpace(strings.ReplaceAll(title, "*", ""))
	title = strings.TrimSuffix(title, filepath.Ext(title))
	title = strings.NewReplacer("/", "_", `\`, "_").Replace(title)
	title = strings.TrimSpace(title)
	if title == "" || title == "." || title == ".." {
		return DefaultName
	}
	return title
}

func (c *Converter) invoke(ctx context.Context, run *Run, t target) (string, error) {
	run.enter(Invoking)
	name := filepath.Base(t.destination)

	res := c.Tool.Run(ctx, c.def.Tool, c.def.Args(name, t.artifact), filepath.Dir(t.artifact))
	run.setOutput(res.Output)
	if !res.Succeeded {
		return "", &StageError{Stage: StageInvoke, Kind: ErrExternalTool, Output: res.Output, Err: errors.New(res.Cause)}
	}

	produced := c.def.outputPath(t.artifact, name)
	if err := tool.Move(produced, t.destination); err != nil {
		// never leave the tool output lying beside the artifact
		_ = os.Remove(produced)
		return "", stageErr(StageInvoke, ErrIO, err)
	}
	return t.destination, nil
}

func (c *Converter) finish(log *slog.Logger, run *Run, err error) {
	run.finish(err)

	var (
		se     *StageError
		output string
	)
	if errors.As(err, &se) {
		output = se.Output
	}
	switch {
	case err == nil:
		log.Info("conversion succeeded",
			slog.String("destination", run.Destination()),
			slog.Duration("took", run.Duration()))
	case errors.Is(err, ErrAbortedByUser):
		log.Info("conversion cancelled by user")
	case errors.Is(err, ErrExternalTool):
		log.Error("conversion tool failed", slog.Any("error", err), slog.String("output", output))
	default:
		log.Error("conversion failed", slog.Any("error", err))
	}
}
