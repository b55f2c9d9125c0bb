package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by stores when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned by stores when a conditional update lost a race.
	ErrConflict = errors.New("conflicting update")
)

// BridgeError is the error object carried in a response envelope.
type BridgeError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
}

// Error implements error.
func (e *BridgeError) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewBridgeError builds a BridgeError with a formatted message.
func NewBridgeError(code ErrorCode, format string, args ...any) *BridgeError {
	return &BridgeError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithDetails returns a copy of e carrying details.
func (e *BridgeError) WithDetails(details any) *BridgeError {
	out := *e
	out.Details = details
	return &out
}

// AsBridgeError extracts a BridgeError from err.
func AsBridgeError(err error) (*BridgeError, bool) {
	var be *BridgeError
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}
