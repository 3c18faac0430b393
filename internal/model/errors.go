package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound covers both missing rows and rows owned by someone else so
	// callers cannot discover other users' projects.
	ErrNotFound = errors.New("project not found or access denied")
	// ErrAccessDenied is returned when an owner id is missing entirely.
	ErrAccessDenied = errors.New("access denied")
	// ErrPreconditionFailed marks a request the project is not ready for.
	ErrPreconditionFailed = errors.New("precondition failed")
	// ErrNoAudio is the precondition failure for a project without audio.
	ErrNoAudio = fmt.Errorf("%w: no audio uploaded", ErrPreconditionFailed)
	// ErrTimeout is returned verbatim by inference clients when their deadline
	// expires; its text is what ends up in error_message.
	ErrTimeout = errors.New("timed out")
	// ErrNotConfigured means a live client is missing credentials or an
	// endpoint. It is returned before any network call.
	ErrNotConfigured = errors.New("not configured")
	// ErrLeaseHeld means another run for the same project is in flight.
	ErrLeaseHeld = errors.New("a pipeline run is already in progress for this project")
)

// UpstreamError is a non-2xx or malformed response from an external service.
type UpstreamError struct {
	Service    string
	StatusCode int
	Body       string
	Reason     string
}

func (e *UpstreamError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Body != "":
		return fmt.Sprintf("%s API error: %d - %s", e.Service, e.StatusCode, e.Body)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s API error: %d", e.Service, e.StatusCode)
	default:
		return fmt.Sprintf("%s API error: %s", e.Service, e.Reason)
	}
}

// Temporary reports whether retrying the same request could succeed.
func (e *UpstreamError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// StageError is a failure inside one pipeline stage. Its message is the
// cause's message so the recorded error_message stays specific.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return e.Stage + " failed"
	}
	return e.Err.Error()
}

func (e *StageError) Unwrap() error { return e.Err }

// PersistenceError means a write to the project store failed. When the write
// was itself recording a stage failure, Cause holds that failure.
type PersistenceError struct {
	Op    string
	Err   error
	Cause error
}

func (e *PersistenceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v (while recording: %v)", e.Op, e.Err, e.Cause)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Err, e.Cause}
	}
	return []error{e.Err}
}
