package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrAbortedByUser marks a cancelled destination prompt. Not an error
	// condition for logging purposes.
	ErrAbortedByUser = errors.New("aborted by user")
	ErrExternalTool  = errors.New("external tool failure")
	ErrIO            = errors.New("io failure")
	ErrUpstream      = errors.New("upstream failure")
	// ErrInternal covers scheduler failures: recovered panics and work
	// rejected during shutdown.
	ErrInternal = errors.New("internal failure")
)

// StageError is the terminal failure of a run.
type StageError struct {
	Stage string
	Kind  error
	// Output is the captured tool output, when a tool ran.
	Output string
	Err    error
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Stage, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func stageErr(stage string, kind, err error) *StageError {
	return &StageError{Stage: stage, Kind: kind, Err: err}
}

// classify leaves StageErrors alone and files anything else under kind.
func classify(stage string, kind error) func(error) error {
	return func(err error) error {
		var se *StageError
		if errors.As(err, &se) {
			return err
		}
		return stageErr(stage, kind, err)
	}
}
