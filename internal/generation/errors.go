package generation

import (
	"errors"
	"fmt"
)

// ErrorCode is the small fixed set of classified failure codes a caller can
// observe. Raw model output never crosses this boundary.
type ErrorCode string

const (
	CodeInvalidInput          ErrorCode = "invalid_input"
	CodeExtractionFailed      ErrorCode = "extraction_failed"
	CodeQualityBelowThreshold ErrorCode = "quality_below_threshold"
	CodeMinimumNotMet         ErrorCode = "minimum_not_met"
	CodeBackendTimeout        ErrorCode = "backend_timeout"
	CodeBackendError          ErrorCode = "backend_error"
	CodePersistenceFailed     ErrorCode = "persistence_failed"
	CodeCancelled             ErrorCode = "cancelled"
)

// Error is the single classified error a failed run surfaces, with partial
// diagnostic metadata for observability.
type Error struct {
	Code         ErrorCode
	Message      string
	Phase        string
	InputTokens  int
	OutputTokens int
	Attempts     int
	cause        error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

func newError(code ErrorCode, msg string, cause error) *Error {
	return &Error{Code: code, Message: msg, cause: cause}
}

// CodeOf extracts the classified code from an error chain, defaulting to
// CodeBackendError for unclassified failures.
func CodeOf(err error) ErrorCode {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Code
	}
	return CodeBackendError
}

// IsFatal reports whether a code permits no further retry at any level.
func IsFatal(code ErrorCode) bool {
	switch code {
	case CodeInvalidInput, CodePersistenceFailed, CodeCancelled:
		return true
	}
	return false
}
