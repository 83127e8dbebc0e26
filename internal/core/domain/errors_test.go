package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestDomainError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *DomainError
		expected string
	}{
		{
			name:     "error without details",
			err:      NewDomainError("SNAP-TEST-1000", "test message"),
			expected: "[SNAP-TEST-1000] test message",
		},
		{
			name:     "error with details",
			err:      NewDomainError("SNAP-TEST-1001", "test message").WithDetails("table 7"),
			expected: "[SNAP-TEST-1001] test message: table 7",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestDomainError_Is(t *testing.T) {
	err1 := NewDomainError("SNAP-TEST-1000", "message 1")
	err2 := NewDomainError("SNAP-TEST-1000", "message 2")
	err3 := NewDomainError("SNAP-TEST-1001", "message 1")

	if !errors.Is(err1, err2) {
		t.Error("errors.Is should return true for same error code")
	}
	if errors.Is(err1, err3) {
		t.Error("errors.Is should return false for different error code")
	}
	if errors.Is(err1, fmt.Errorf("some error")) {
		t.Error("errors.Is should return false for non-DomainError")
	}

	// Copies made with WithDetails keep matching the sentinel.
	if !errors.Is(ErrTaskTargetMissing.WithDetails("target x"), ErrTaskTargetMissing) {
		t.Error("detailed copy should match sentinel")
	}
}

func TestDomainError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("underlying cause")
	err := ErrTargetWrite.WithCause(cause)

	if !errors.Is(err, cause) {
		t.Errorf("errors.Is(err, cause) = false")
	}
	if errors.Unwrap(ErrTargetWrite) != nil {
		t.Error("Unwrap() should return nil when no cause")
	}
	if ErrTargetWrite.Cause != nil {
		t.Error("WithCause should not modify original error")
	}
}

func TestIsDomainError(t *testing.T) {
	wrapped := fmt.Errorf("publish: %w", ErrPublishDeadline)

	if !IsDomainError(wrapped, "SNAP-COORD-5040") {
		t.Error("IsDomainError should work with wrapped errors")
	}
	if !IsDomainError(wrapped, "") {
		t.Error("empty code should match any DomainError")
	}
	if IsDomainError(wrapped, "SNAP-COORD-5000") {
		t.Error("IsDomainError should return false for non-matching code")
	}
	if IsDomainError(fmt.Errorf("regular error"), "") {
		t.Error("IsDomainError should return false for non-DomainError")
	}
}

func TestPredefinedErrors(t *testing.T) {
	tests := []struct {
		err  *DomainError
		code string
	}{
		{ErrTaskTargetMissing, "SNAP-TASK-4001"},
		{ErrTooManyTasks, "SNAP-TASK-4002"},
		{ErrActivationFailed, "SNAP-TASK-5001"},
		{ErrRowSource, "SNAP-TASK-5002"},
		{ErrSnapshotInProgress, "SNAP-SESS-4090"},
		{ErrSessionMismatch, "SNAP-SESS-4091"},
		{ErrNoSnapshot, "SNAP-SESS-4040"},
		{ErrTargetsNotAssigned, "SNAP-SESS-4041"},
		{ErrTargetClosed, "SNAP-TGT-4100"},
		{ErrTargetWrite, "SNAP-TGT-5001"},
		{ErrPublishDeadline, "SNAP-COORD-5040"},
		{ErrCoordination, "SNAP-COORD-5000"},
		{ErrRecordCorrupt, "SNAP-COORD-5001"},
	}

	seen := make(map[string]bool)
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			if got := GetErrorCode(tt.err); got != tt.code {
				t.Errorf("code = %q, want %q", got, tt.code)
			}
			if seen[tt.code] {
				t.Errorf("duplicate code %q", tt.code)
			}
			seen[tt.code] = true
		})
	}
}
