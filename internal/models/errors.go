package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies failures for the user and for retry decisions.
type ErrorKind string

const (
	// KindTransport covers network failures, timeouts and non-2xx responses.
	KindTransport ErrorKind = "transport"
	// KindProtocol covers malformed or unexpected response shapes.
	KindProtocol ErrorKind = "protocol"
	// KindStream covers dropped, stale or rejected progress streams.
	KindStream ErrorKind = "stream"
	// KindNotFound is returned when a result is requested for an unknown or incomplete job.
	KindNotFound ErrorKind = "not_found"
)

// Reason narrows an ErrorKind.
type Reason string

const (
	ReasonNetwork   Reason = "network"
	ReasonTimeout   Reason = "timeout"
	ReasonStatus    Reason = "status"
	ReasonMalformed Reason = "malformed"
	ReasonDropped   Reason = "dropped"
	ReasonStale     Reason = "stale"
	ReasonRejected  Reason = "rejected"
	ReasonRemote    Reason = "remote"
)

// Sentinel errors returned by the orchestrator for rejected requests.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrJobActive indicates a job is already uploading, queued or processing.
	ErrJobActive = errors.New("a job is already in progress")

	// ErrInvalidFile indicates the local file failed pre-flight validation.
	ErrInvalidFile = errors.New("invalid video file")
)

// Error is the typed failure produced by the transport client and stream listener.
type Error struct {
	Kind   ErrorKind
	Reason Reason
	// Op names the failing operation, e.g. "upload" or "progress stream".
	Op string
	// Status is the HTTP status code when Reason is ReasonStatus or ReasonRejected.
	Status int
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	b.WriteString(" error")
	if e.Reason != "" {
		fmt.Fprintf(&b, " (%s)", e.Reason)
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether repeating the operation may succeed.
// Client errors (4xx) and protocol errors are permanent.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindTransport:
		if e.Reason == ReasonStatus {
			return e.Status >= 500 || e.Status == 429
		}
		return true
	case KindStream:
		return e.Reason == ReasonDropped || e.Reason == ReasonStale
	default:
		return false
	}
}

// KindOf returns the ErrorKind carried by err, or "" if err is not a typed error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsRetryable reports whether err is a typed error worth retrying.
func IsRetryable(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Retryable()
}

// NewJobError converts err into the record stored on a failed job.
// Untyped errors are reported as transport failures.
func NewJobError(err error) *JobError {
	var e *Error
	if !errors.As(err, &e) {
		return &JobError{Kind: KindTransport, Message: err.Error()}
	}
	return &JobError{Kind: e.Kind, Reason: e.Reason, Message: userMessage(e)}
}

func userMessage(e *Error) string {
	switch e.Kind {
	case KindTransport:
		switch e.Reason {
		case ReasonTimeout:
			return fmt.Sprintf("The server did not respond in time during %s.", e.Op)
		case ReasonStatus:
			return fmt.Sprintf("The server rejected the %s request (HTTP %d).", e.Op, e.Status)
		default:
			return fmt.Sprintf("Could not reach the server during %s.", e.Op)
		}
	case KindProtocol:
		if e.Msg != "" {
			return fmt.Sprintf("Unexpected server response during %s: %s.", e.Op, e.Msg)
		}
		return fmt.Sprintf("Unexpected server response during %s.", e.Op)
	case KindStream:
		switch e.Reason {
		case ReasonStale:
			return "Progress updates stopped arriving."
		case ReasonRemote:
			return "The server reported a processing error."
		case ReasonRejected:
			return fmt.Sprintf("The server refused the progress stream (HTTP %d).", e.Status)
		default:
			return "The progress connection was lost."
		}
	case KindNotFound:
		return "The result is not available for this job."
	}
	return e.Error()
}
