package pipeline

import (
	"context"
	"path/filepath"

	"github.com/humblenginr/docconvert/sched"
	"github.com/humblenginr/docconvert/tool"
)

// State is the position of a run in its lifecycle:
// Idle -> Preparing -> AwaitingIntermediate -> ResolvingDestination ->
// Invoking -> Finalizing -> Succeeded | Failed.
type State int

const (
	Idle State = iota
	Preparing
	AwaitingIntermediate
	ResolvingDestination
	Invoking
	Finalizing
	Succeeded
	Failed
)

func (s State) String() string {
	names := [...]string{
		"idle",
		"preparing",
		"awaiting-intermediate",
		"resolving-destination",
		"invoking",
		"finalizing",
		"succeeded",
		"failed",
	}
	if int(s) < len(names) {
		return names[s]
	}
	return "unknown"
}

// Terminal reports whether s ends a run.
func (s State) Terminal() bool { return s == Succeeded || s == Failed }

// StageDescriptor is static metadata for one stage of a conversion.
// Cleanup stages run whatever happened before them.
type StageDescriptor struct {
	Name     string
	State    State
	Affinity sched.Affinity
	Cleanup  bool
}

const (
	StageProduce  = "produce-intermediate"
	StageResolve  = "resolve-destination"
	StageInvoke   = "invoke-tool"
	StageFinalize = "finalize"
	StageRelease  = "release-progress"
)

// Stages is the fixed chain every conversion runs through.
var Stages = []StageDescriptor{
	{Name: StageProduce, State: AwaitingIntermediate, Affinity: sched.AffinityBackground},
	{Name: StageResolve, State: ResolvingDestination, Affinity: sched.AffinityUI},
	{Name: StageInvoke, State: Invoking, Affinity: sched.AffinityBackground},
	{Name: StageFinalize, State: Finalizing, Affinity: sched.AffinityUI},
	{Name: StageRelease, Affinity: sched.AffinityUI, Cleanup: true},
}

// Stage looks up a stage descriptor by name.
func Stage(name string) (StageDescriptor, bool) {
	for _, d := range Stages {
		if d.Name == name {
			return d, true
		}
	}
	return StageDescriptor{}, false
}

// affinity is the context a stage's work is scheduled on. An unknown stage
// has no context, so scheduling it fails instead of guessing.
func affinity(name string) sched.Affinity {
	d, _ := Stage(name)
	return d.Affinity
}

// Producer yields the intermediate artifact a conversion consumes.
type Producer interface {
	Produce(ctx context.Context) *sched.Future[string]
}

// ProducerFunc adapts a function to Producer.
type ProducerFunc func(ctx context.Context) *sched.Future[string]

func (f ProducerFunc) Produce(ctx context.Context) *sched.Future[string] { return f(ctx) }

// Releaser is implemented by producers that own the artifacts they yield.
// Release is called on the background context once a run is done with the
// artifact, whether the run succeeded or not.
type Releaser interface {
	Release(artifact string) error
}

// Document describes the document being converted. Used only to derive the
// default destination.
type Document interface {
	CurrentPath() (string, bool)
	DisplayTitle() string
}

// Chooser prompts for a destination on the UI-affinity context. The future
// resolves to "" when the user cancels.
type Chooser interface {
	Choose(ctx context.Context, suggested string) *sched.Future[string]
}

// ChooserFunc adapts a function to Chooser.
type ChooserFunc func(ctx context.Context, suggested string) *sched.Future[string]

func (f ChooserFunc) Choose(ctx context.Context, suggested string) *sched.Future[string] {
	return f(ctx, suggested)
}

// RecentItems is the observable recent-items list. UI-affinity only.
type RecentItems interface {
	Remove(key string) bool
	InsertFirst(key string)
}

// ToolRunner runs an external executable; *tool.Invoker implements it.
type ToolRunner interface {
	Run(ctx context.Context, executable string, args []string, dir string) tool.Result
}

// Definition names a conversion and how its tool is driven.
type Definition struct {
	Name      string
	Extension string
	Tool      string
	// Args builds the tool arguments from the output file name and the
	// intermediate artifact path.
	Args func(outputName, artifact string) []string
	// Output is where the tool leaves its result. Defaults to outputName
	// beside the artifact.
	Output func(artifact, outputName string) string
}

func (d Definition) outputPath(artifact, outputName string) string {
	if d.Output != nil {
		return d.Output(artifact, outputName)
	}
	return filepath.Join(filepath.Dir(artifact), outputName)
}

// Mobi is the epub-to-mobi conversion driven by kindlegen.
func Mobi(toolPath string) Definition {
	return Definition{
		Name:      "mobi",
		Extension: ".mobi",
		Tool:      toolPath,
		Args: func(outputName, artifact string) []string {
			return []string{"-o", outputName, artifact}
		},
	}
}
