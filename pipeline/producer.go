package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/humblenginr/docconvert/sched"
)

// Placeholders expanded in CommandProducer.Args.
const (
	InputPlaceholder  = "{input}"
	OutputPlaceholder = "{output}"
)

// CommandProducer makes the intermediate artifact by running an external
// converter on the source document, on the background context. Each call
// writes into a fresh temp directory so concurrent runs never share output;
// Release removes it once the run is done.
type CommandProducer struct {
	Scheduler *sched.Scheduler
	Tool      ToolRunner
	Command   string
	Args      []string
	Source    string
	// Extension of the artifact, e.g. ".epub".
	Extension string
	// TempDir is the parent for per-run directories; empty means os.TempDir.
	TempDir string
	Logger  *slog.Logger

	mu   sync.Mutex
	dirs map[string]struct{}
}

func (p *CommandProducer) Produce(ctx context.Context) *sched.Future[string] {
	return sched.Background(p.Scheduler, ctx, func(ctx context.Context) (string, error) {
		if p.Source == "" {
			return "", errors.New("no source document")
		}
		if _, err := os.Stat(p.Source); err != nil {
			return "", fmt.Errorf("stat source: %w", err)
		}

		dir, err := os.MkdirTemp(p.TempDir, "docconvert-*")
		if err != nil {
			return "", fmt.Errorf("mkdir artifact dir: %w", err)
		}
		stem := strings.TrimSuffix(filepath.Base(p.Source), filepath.Ext(p.Source))
		out := filepath.Join(dir, stem+p.Extension)

		res := p.Tool.Run(ctx, p.Command, expandArgs(p.Args, p.Source, out), filepath.Dir(p.Source))
		if !res.Succeeded {
			_ = os.RemoveAll(dir)
			return "", fmt.Errorf("%s: %w", p.Command, res.Err())
		}
		if _, err := os.Stat(out); err != nil {
			_ = os.RemoveAll(dir)
			return "", fmt.Errorf("%s produced no artifact: %w", p.Command, err)
		}

		p.own(dir)
		p.logger().Debug("intermediate artifact ready", slog.String("artifact", out))
		return out, nil
	})
}

// Release removes the directory Produce created for artifact. Artifacts
// this producer did not make are left alone.
func (p *CommandProducer) Release(artifact string) error {
	dir := filepath.Dir(artifact)
	p.mu.Lock()
	_, ok := p.dirs[dir]
	delete(p.dirs, dir)
	p.mu.Unlock()
	if !ok {
		return nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove artifact dir: %w", err)
	}
	p.logger().Debug("intermediate artifact released", slog.String("artifact", artifact))
	return nil
}

func (p *CommandProducer) own(dir string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dirs == nil {
		p.dirs = make(map[string]struct{})
	}
	p.dirs[dir] = struct{}{}
}

func (p *CommandProducer) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}

func expandArgs(args []string, input, output string) []string {
	r := strings.NewReplacer(InputPlaceholder, input, OutputPlaceholder, output)
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = r.Replace(a)
	}
	return out
}
