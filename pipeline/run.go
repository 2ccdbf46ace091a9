package pipeline

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Run is one in-flight execution of a conversion chain. Only the stage
// currently executing mutates it; the accessors are safe from anywhere.
type Run struct {
	ID         uuid.UUID
	Conversion string
	Source     string
	StartedAt  time.Time

	mu          sync.Mutex
	state       State
	completed   []string
	artifact    string
	destination string
	output      string
	err         error
	finishedAt  time.Time
}

func newRun(conversion, source string) *Run {
	return &Run{
		ID:         uuid.New(),
		Conversion: conversion,
		Source:     source,
		StartedAt:  time.Now(),
		state:      Idle,
	}
}

func (r *Run) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Completed returns the stages that finished, in order.
func (r *Run) Completed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.completed...)
}

func (r *Run) Destination() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.destination
}

// Output is the captured output of the conversion tool, if it ran.
func (r *Run) Output() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.output
}

// Err is the terminal failure, nil for a successful run.
func (r *Run) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *Run) Duration() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finishedAt.IsZero() {
		return time.Since(r.StartedAt)
	}
	return r.finishedAt.Sub(r.StartedAt)
}

func (r *Run) enter(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

func (r *Run) mark(stage string) {
	r.mu.Lock()
	r.completed = append(r.completed, stage)
	r.mu.Unlock()
}

// Artifact is the intermediate file the run consumed, empty if none was
// produced.
func (r *Run) Artifact() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.artifact
}

func (r *Run) setArtifact(p string) {
	r.mu.Lock()
	r.artifact = p
	r.mu.Unlock()
}

func (r *Run) setDestination(p string) {
	r.mu.Lock()
	r.destination = p
	r.mu.Unlock()
}

func (r *Run) setOutput(out string) {
	r.mu.Lock()
	r.output = out
	r.mu.Unlock()
}

func (r *Run) finish(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
	r.finishedAt = time.Now()
	if err != nil {
		r.state = Failed
		return
	}
	r.state = Succeeded
}
