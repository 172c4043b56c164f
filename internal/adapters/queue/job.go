package queue

import (
	"errors"
	"fmt"
)

// JobState tracks a queue job through one Generate call.
type JobState string

const (
	StateSubmitted JobState = "submitted"
	StatePolling   JobState = "polling"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
	StateTimedOut  JobState = "timed_out"
)

// Job is an upstream queue request. It is never persisted.
type Job struct {
	RequestID string
	SubmitURL string
	StatusURL string
	ResultURL string
	State     JobState

	key string
}

// ErrJobFailed is returned when the upstream reports FAILED.
var ErrJobFailed = errors.New("queue: job failed")

// ErrorKind classifies a failed submit attempt.
type ErrorKind int

const (
	KindTransient ErrorKind = iota
	KindAuth
	KindMissingID
)

func (k ErrorKind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindMissingID:
		return "missing_request_id"
	default:
		return "transient"
	}
}

// AttemptError describes one failed submit or poll attempt.
type AttemptError struct {
	Kind    ErrorKind
	Status  int
	Message string
	Err     error
}

func (e *AttemptError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s (status %d): %s", e.Kind, e.Status, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *AttemptError) Unwrap() error { return e.Err }

// IsAuth reports whether err is an upstream 401/403.
func IsAuth(err error) bool {
	var ae *AttemptError
	return errors.As(err, &ae) && ae.Kind == KindAuth
}

// IsTransient reports whether err may succeed on a later attempt.
func IsTransient(err error) bool {
	if errors.Is(err, ErrJobFailed) {
		return false
	}
	var ae *AttemptError
	return errors.As(err, &ae)
}
