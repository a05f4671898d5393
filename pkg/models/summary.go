package models

import (
	"fmt"
	"strings"
)

// Failure records a unit of work that did not complete.
type Failure struct {
	Name string
	Err  error
}

// Summary collects the outcome of a sequential batch (files, tables, queries).
// A failed unit never stops the batch, it is recorded here instead.
type Summary struct {
	Succeeded []string
	Failed    []Failure
	Skipped   []string
}

// Success records a completed unit.
func (s *Summary) Success(name string) {
	s.Succeeded = append(s.Succeeded, name)
}

// Fail records a failed unit.
func (s *Summary) Fail(name string, err error) {
	s.Failed = append(s.Failed, Failure{Name: name, Err: err})
}

// Skip records a unit that was not attempted.
func (s *Summary) Skip(name string) {
	s.Skipped = append(s.Skipped, name)
}

// Total is the number of units seen.
func (s *Summary) Total() int {
	return len(s.Succeeded) + len(s.Failed) + len(s.Skipped)
}

// OK reports whether no unit failed.
func (s *Summary) OK() bool {
	return len(s.Failed) == 0
}

// FailedNames lists the failed units in order.
func (s *Summary) FailedNames() []string {
	names := make([]string, len(s.Failed))
	for i, f := range s.Failed {
		names[i] = f.Name
	}
	return names
}

func (s *Summary) String() string {
	msg := fmt.Sprintf("%d succeeded, %d failed, %d skipped", len(s.Succeeded), len(s.Failed), len(s.Skipped))
	if len(s.Failed) > 0 {
		msg += " (failed: " + strings.Join(s.FailedNames(), ", ") + ")"
	}
	return msg
}
