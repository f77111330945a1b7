package dashboard

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes reconciliation failures.
type ErrorCode string

const (
	// ErrCodeValidation covers malformed channel ids, kind mismatches and
	// missing configuration references. Always local to one item.
	ErrCodeValidation ErrorCode = "VALIDATION"

	// ErrCodeRender means the artifact could not be created or updated.
	ErrCodeRender ErrorCode = "RENDER"

	// ErrCodePersistence means a database write after a render failed.
	ErrCodePersistence ErrorCode = "PERSISTENCE"

	// ErrCodeInfrastructure means the store is unreachable or its schema
	// is missing.
	ErrCodeInfrastructure ErrorCode = "INFRASTRUCTURE"
)

// Error is the structured error returned by the registry, the store and the
// orchestrator.
type Error struct {
	Code       ErrorCode
	Op         string
	ChannelID  string
	InstanceID string
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	prefix := string(e.Code)
	if e.Op != "" {
		prefix = e.Op + ": " + prefix
	}
	if e.ChannelID != "" {
		return fmt.Sprintf("%s: %s (channel=%s)", prefix, msg, e.ChannelID)
	}
	return fmt.Sprintf("%s: %s", prefix, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewValidationError builds a VALIDATION error.
func NewValidationError(op, channelID, format string, args ...any) *Error {
	return &Error{
		Code:      ErrCodeValidation,
		Op:        op,
		ChannelID: channelID,
		Message:   fmt.Sprintf(format, args...),
	}
}

// NewRenderError wraps a renderer failure.
func NewRenderError(op, channelID string, err error) *Error {
	return &Error{Code: ErrCodeRender, Op: op, ChannelID: channelID, Message: "render failed", Err: err}
}

// NewPersistenceError wraps a failed write.
func NewPersistenceError(op, instanceID string, err error) *Error {
	return &Error{Code: ErrCodePersistence, Op: op, InstanceID: instanceID, Message: "persist failed", Err: err}
}

// NewInfrastructureError wraps a store-level failure such as a missing table.
func NewInfrastructureError(op, message string, err error) *Error {
	return &Error{Code: ErrCodeInfrastructure, Op: op, Message: message, Err: err}
}

// CodeOf returns the code of the outermost *Error in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// IsValidation reports whether err is a VALIDATION error.
func IsValidation(err error) bool { return CodeOf(err) == ErrCodeValidation }

// IsRender reports whether err is a RENDER error.
func IsRender(err error) bool { return CodeOf(err) == ErrCodeRender }

// IsPersistence reports whether err is a PERSISTENCE error.
func IsPersistence(err error) bool { return CodeOf(err) == ErrCodePersistence }

// IsInfrastructure reports whether err is an INFRASTRUCTURE error.
func IsInfrastructure(err error) bool { return CodeOf(err) == ErrCodeInfrastructure }
