package errors

import (
	"fmt"
)

// ErrorCode represents a unique error code
type ErrorCode int

const (
	// ErrCodeUnknown represents an unknown error
	ErrCodeUnknown ErrorCode = 1000

	// Signaling errors (2000-2999)
	ErrCodeNotConnected       ErrorCode = 2000
	ErrCodeConnectionFailed   ErrorCode = 2001
	ErrCodeHeartbeatTimeout   ErrorCode = 2002
	ErrCodeMaxRetriesExceeded ErrorCode = 2003
	ErrCodeQueueOverflow      ErrorCode = 2004
	ErrCodeServerRejected     ErrorCode = 2005

	// Peer transport errors (3000-3999)
	ErrCodePeerNotFound        ErrorCode = 3000
	ErrCodePeerExists          ErrorCode = 3001
	ErrCodeChannelNotOpen      ErrorCode = 3002
	ErrCodeNegotiationFailed   ErrorCode = 3003
	ErrCodeNotInitialized      ErrorCode = 3004
	ErrCodeCredentialFetch     ErrorCode = 3005
	ErrCodeRestartFailed       ErrorCode = 3006
	ErrCodeCandidateBufferFull ErrorCode = 3007

	// Room session errors (4000-4999)
	ErrCodeRoomNotFound        ErrorCode = 4000
	ErrCodeNotInRoom           ErrorCode = 4001
	ErrCodeAlreadyInRoom       ErrorCode = 4002
	ErrCodeNotHost             ErrorCode = 4003
	ErrCodeUserNotFound        ErrorCode = 4004
	ErrCodeDuplicateUser       ErrorCode = 4005
	ErrCodeRecoveryFailed      ErrorCode = 4006
	ErrCodeControlNotPermitted ErrorCode = 4007

	// Storage errors (5000-5999)
	ErrCodeStorageError ErrorCode = 5000
	ErrCodeKeyNotFound  ErrorCode = 5001

	// Configuration errors (6000-6999)
	ErrCodeInvalidConfig ErrorCode = 6000
	ErrCodeInvalidInput  ErrorCode = 6001

	// Generic network errors (8000-8999)
	ErrCodeNetworkError ErrorCode = 8000
	ErrCodeTimeout      ErrorCode = 8001
)

// Error represents a custom error with code and message
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause of the error
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new Error with the given code and message
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with a code and message
func Wrap(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// IsCode checks if the error has the given error code
func IsCode(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}

	if e, ok := err.(*Error); ok {
		return e.Code == code
	}

	return false
}

// GetCode returns the error code from an error, or ErrCodeUnknown if not found
func GetCode(err error) ErrorCode {
	if err == nil {
		return ErrCodeUnknown
	}

	if e, ok := err.(*Error); ok {
		return e.Code
	}

	return ErrCodeUnknown
}

// Common error constructors for convenience

// NewNotConnectedError creates an error for sends attempted while disconnected
func NewNotConnectedError(messageType string) *Error {
	return New(ErrCodeNotConnected, fmt.Sprintf("cannot send %s: not connected", messageType))
}

// NewTimeoutError creates a protocol timeout error
func NewTimeoutError(operation string) *Error {
	return New(ErrCodeTimeout, fmt.Sprintf("%s timed out", operation))
}

// NewPeerNotFoundError creates a peer not found error
func NewPeerNotFoundError(peerID string) *Error {
	return New(ErrCodePeerNotFound, fmt.Sprintf("peer not found: %s", peerID))
}

// NewRoomNotFoundError creates a room not found error
func NewRoomNotFoundError(roomID string) *Error {
	return New(ErrCodeRoomNotFound, fmt.Sprintf("room not found: %s", roomID))
}

// NewUserNotFoundError creates a user not found error
func NewUserNotFoundError(userID string) *Error {
	return New(ErrCodeUserNotFound, fmt.Sprintf("user not found: %s", userID))
}

// NewNotHostError creates an error for host-only operations invoked by non-hosts
func NewNotHostError(operation string) *Error {
	return New(ErrCodeNotHost, fmt.Sprintf("only the host may %s", operation))
}

// NewNetworkError creates a new network error
func NewNetworkError(message string, cause error) *Error {
	return Wrap(ErrCodeNetworkError, message, cause)
}

// NewValidationError creates an invalid input error
func NewValidationError(message string) *Error {
	return New(ErrCodeInvalidInput, message)
}
