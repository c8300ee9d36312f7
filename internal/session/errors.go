package session

import (
	"errors"
	"fmt"
)

// Admission failures. Match with errors.Is against an *AdmissionError.
var (
	ErrCapacityExceeded   = errors.New("capacity exceeded")
	ErrUnknownParticipant = errors.New("unknown participant")
	ErrSessionNotActive   = errors.New("session not active")
	ErrSessionNotFound    = errors.New("session not found")
	ErrQueueFull          = errors.New("command queue full")
)

// AdmissionError rejects a request before it reaches the pipeline.
// The session is unaffected.
type AdmissionError struct {
	SessionID string
	Reason    error
	Detail    string
}

func (e *AdmissionError) Error() string {
	msg := e.Reason.Error()
	if e.SessionID != "" {
		msg = fmt.Sprintf("session %s: %s", e.SessionID, msg)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *AdmissionError) Unwrap() error {
	return e.Reason
}

func reject(sessionID string, reason error, format string, args ...interface{}) *AdmissionError {
	return &AdmissionError{SessionID: sessionID, Reason: reason, Detail: fmt.Sprintf(format, args...)}
}
