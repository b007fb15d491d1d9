package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrRunCanceled is returned when a run stopped early because its
	// context was canceled. Results scored before that point are persisted.
	ErrRunCanceled = errors.New("annotation run canceled")
	// ErrRunInProgress is returned when another holder owns the run lock.
	ErrRunInProgress = errors.New("annotation run already in progress")
)

// ProvisionError means a table could neither be found nor created.
type ProvisionError struct {
	Table     string
	Operation string
	Cause     error
}

func (e *ProvisionError) Error() string {
	if e == nil {
		return "provision error"
	}
	return fmt.Sprintf("provision table %q: %s: %v", e.Table, e.Operation, e.Cause)
}

func (e *ProvisionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// QueryError means the store rejected or failed a read.
type QueryError struct {
	Operation string
	Cause     error
}

func (e *QueryError) Error() string {
	if e == nil {
		return "query error"
	}
	return fmt.Sprintf("query %s: %v", e.Operation, e.Cause)
}

func (e *QueryError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

type ScoringErrorKind string

const (
	ScoringTransport      ScoringErrorKind = "transport"
	ScoringTimeout        ScoringErrorKind = "timeout"
	ScoringRateLimited    ScoringErrorKind = "rate_limited"
	ScoringAuth           ScoringErrorKind = "auth"
	ScoringMalformedReply ScoringErrorKind = "malformed_reply"
	ScoringRefused        ScoringErrorKind = "refused"
	ScoringInvalidValue   ScoringErrorKind = "invalid_value"
	ScoringInvalidInput   ScoringErrorKind = "invalid_input"
	ScoringCircuitOpen    ScoringErrorKind = "circuit_open"
	ScoringCanceled       ScoringErrorKind = "canceled"
)

// ScoringError is a failed backend call for a single text. It never aborts
// a run; the record stays eligible for the next one.
type ScoringError struct {
	Backend    string
	Kind       ScoringErrorKind
	StatusCode int
	Message    string
	Cause      error
}

func (e *ScoringError) Error() string {
	if e == nil {
		return "scoring error"
	}
	parts := []string{"sentiment"}
	if e.Backend != "" {
		parts = append(parts, e.Backend)
	}
	parts = append(parts, string(e.Kind))
	msg := strings.Join(parts, " ")
	if e.StatusCode > 0 {
		msg += fmt.Sprintf(" (status=%d)", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ScoringError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func NewScoringError(backend string, kind ScoringErrorKind, message string, cause error) *ScoringError {
	return &ScoringError{Backend: backend, Kind: kind, Message: message, Cause: cause}
}

// ScoringKindOf returns the kind of the first ScoringError in err's chain.
func ScoringKindOf(err error) (ScoringErrorKind, bool) {
	var se *ScoringError
	if errors.As(err, &se) && se != nil {
		return se.Kind, true
	}
	return "", false
}

// PersistError is a write failure. Index and ID identify the row when the
// store reported it individually; Batch is set when the whole call failed.
type PersistError struct {
	Table string
	ID    string
	Index int
	Batch bool
	Cause error
}

func (e *PersistError) Error() string {
	if e == nil {
		return "persist error"
	}
	if e.Batch {
		return fmt.Sprintf("persist into %q: batch insert failed: %v", e.Table, e.Cause)
	}
	return fmt.Sprintf("persist into %q: row %d (id=%s): %v", e.Table, e.Index, e.ID, e.Cause)
}

func (e *PersistError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}
