package tool

import (
	"errors"
	"fmt"
)

// Result is the outcome of one external tool run. Cause is non-empty
// whenever Succeeded is false.
type Result struct {
	Output    string `json:"output"`
	Succeeded bool   `json:"succeeded"`
	Cause     string `json:"cause,omitempty"`
}

// Err converts a failed result into an error carrying the captured output.
func (r Result) Err() error {
	if r.Succeeded {
		return nil
	}
	if r.Output == "" {
		return errors.New(r.Cause)
	}
	return fmt.Errorf("%s – %s", r.Cause, r.Output)
}
