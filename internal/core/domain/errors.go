// Package domain defines the core domain models for snapstream.
package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a domain error with a structured error code.
// Codes follow the format SNAP-<AREA>-<NNNN>.
type DomainError struct {
	Code    string // Error code (e.g., "SNAP-TASK-4001")
	Message string // Human-readable message
	Details string // Optional additional details
	Cause   error  // Underlying error (if any)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap() support.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is() support. Two domain errors match when their codes match.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewDomainError creates a new DomainError with the given code and message.
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *DomainError) WithDetails(details string) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		Cause:   e.Cause,
	}
}

// WithCause returns a copy of the error wrapping the given cause.
func (e *DomainError) WithCause(cause error) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		Cause:   cause,
	}
}

// IsDomainError checks if an error is a DomainError with the given code.
// If code is empty, it only checks if the error is a DomainError.
func IsDomainError(err error, code string) bool {
	var de *DomainError
	if errors.As(err, &de) {
		if code == "" {
			return true
		}
		return de.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error if it's a DomainError.
func GetErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// ============================================================================
// Task Errors (TASK)
// ============================================================================

var (
	// ErrTaskTargetMissing indicates a table task has no data target bound to it.
	ErrTaskTargetMissing = NewDomainError("SNAP-TASK-4001", "table task has no data target")

	// ErrTooManyTasks indicates a table has more tasks than the buffer pool has slots.
	ErrTooManyTasks = NewDomainError("SNAP-TASK-4002", "table has more tasks than buffer pool slots")

	// ErrActivationFailed indicates the row source refused to activate a table stream.
	ErrActivationFailed = NewDomainError("SNAP-TASK-5001", "failed to activate table stream")

	// ErrRowSource indicates the row source failed while serializing rows.
	ErrRowSource = NewDomainError("SNAP-TASK-5002", "row source failure")
)

// ============================================================================
// Session Errors (SESS)
// ============================================================================

var (
	// ErrSnapshotInProgress indicates the site is already streaming a snapshot.
	ErrSnapshotInProgress = NewDomainError("SNAP-SESS-4090", "snapshot already in progress")

	// ErrSessionMismatch indicates a site tried to join a different transaction
	// than the one the node is currently snapshotting.
	ErrSessionMismatch = NewDomainError("SNAP-SESS-4091", "node is snapshotting a different transaction")

	// ErrNoSnapshot indicates an operation that requires an initiated snapshot.
	ErrNoSnapshot = NewDomainError("SNAP-SESS-4040", "no snapshot initiated")

	// ErrTargetsNotAssigned indicates streaming cannot progress before targets are assigned.
	ErrTargetsNotAssigned = NewDomainError("SNAP-SESS-4041", "snapshot targets not assigned")
)

// ============================================================================
// Target Errors (TGT)
// ============================================================================

var (
	// ErrTargetClosed indicates a write or close on an already closed target.
	ErrTargetClosed = NewDomainError("SNAP-TGT-4100", "data target closed")

	// ErrTargetWrite indicates a data target failed to persist a frame.
	ErrTargetWrite = NewDomainError("SNAP-TGT-5001", "data target write failed")
)

// ============================================================================
// Coordination Errors (COORD)
// ============================================================================

var (
	// ErrPublishDeadline indicates the completion record could not be published in time.
	ErrPublishDeadline = NewDomainError("SNAP-COORD-5040", "completion publish deadline exceeded")

	// ErrCoordination indicates an unexpected coordination store failure.
	ErrCoordination = NewDomainError("SNAP-COORD-5000", "coordination store failure")

	// ErrRecordCorrupt indicates a completion record could not be decoded.
	ErrRecordCorrupt = NewDomainError("SNAP-COORD-5001", "completion record corrupt")
)
