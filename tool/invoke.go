// Package tool runs external executables and moves their output into place.
package tool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/humblenginr/docconvert/sched"
)

// Invoker runs external tools to completion. It blocks, so it must only be
// used from the background context.
type Invoker struct {
	Log *slog.Logger
	// Env, when non-nil, replaces the environment of the child process.
	Env []string
}

func (i *Invoker) logger() *slog.Logger {
	if i == nil || i.Log == nil {
		return slog.Default()
	}
	return i.Log
}

// Run executes executable with args in dir, capturing stdout and stderr
// together. Failures never escape as errors or panics: a missing executable,
// a non-zero exit and an I/O failure all yield Succeeded=false with a Cause.
func (i *Invoker) Run(ctx context.Context, executable string, args []string, dir string) Result {
	log := i.logger().With(slog.String("component", "tool"), slog.String("executable", executable))

	if sched.OnUI(ctx) {
		log.Error("refusing blocking tool run on the UI context")
		return Result{Cause: fmt.Sprintf("%s: blocking tool run requested on the UI context", executable)}
	}
	if executable == "" {
		return Result{Cause: "executable not found: empty path"}
	}

	path, err := exec.LookPath(executable)
	if err != nil {
		return Result{Cause: fmt.Sprintf("executable not found: %s: %v", executable, err)}
	}
	if dir != "" {
		if st, err := os.Stat(dir); err != nil || !st.IsDir() {
			return Result{Cause: fmt.Sprintf("working directory %s unusable: %v", dir, err)}
		}
	}

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Dir = dir
	cmd.Stdout = &out
	cmd.Stderr = &out
	if i != nil && i.Env != nil {
		cmd.Env = i.Env
	}

	log.Debug("running command", slog.String("cmd", cmd.String()), slog.String("dir", dir))
	err = cmd.Run()
	text := strings.ToValidUTF8(out.String(), "�")

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return Result{Output: text, Cause: fmt.Sprintf("%s: %v", executable, exitErr)}
		}
		return Result{Output: text, Cause: fmt.Sprintf("%s: reading output: %v", executable, err)}
	}
	return Result{Output: text, Succeeded: true}
}
