package engine

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrAuthentication is returned when the engine rejects the configured credentials.
// It aborts a whole run, unlike per-statement failures.
var ErrAuthentication = errors.New("engine authentication failed")

// ErrWaitTimeout is returned when a job is still running after the configured max wait.
var ErrWaitTimeout = errors.New("timed out waiting for job")

// APIError is a non-2xx response from the engine REST API.
type APIError struct {
	StatusCode int
	Method     string
	Path       string
	Message    string // errorMessage field of the response, when present
	Body       string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Body
	}
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.Path, e.StatusCode, msg)
}

// Is lets errors.Is(err, ErrAuthentication) match a 401 response.
func (e *APIError) Is(target error) bool {
	return target == ErrAuthentication && e.StatusCode == http.StatusUnauthorized
}

// IsConflict reports an "already exists" response to a create call.
func (e *APIError) IsConflict() bool {
	return e.StatusCode == http.StatusConflict
}

// IsNotFound reports a 404 response.
func (e *APIError) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// IsConflict reports whether err is an HTTP 409 from the engine.
func IsConflict(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.IsConflict()
}

// IsNotFound reports whether err is an HTTP 404 from the engine.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.IsNotFound()
}

// JobFailedError is returned when a job ends in a terminal state other than COMPLETED.
type JobFailedError struct {
	JobID   string
	State   JobState
	Message string
}

func (e *JobFailedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("job %s ended in state %s", e.JobID, e.State)
	}
	return fmt.Sprintf("job %s ended in state %s: %s", e.JobID, e.State, e.Message)
}
