package channel

import "fmt"

// ErrorKind identifies a channel error category
type ErrorKind string

const (
	// ErrInvalidJSON: an inbound payload was not valid JSON; frame dropped.
	ErrInvalidJSON ErrorKind = "invalid_json"
	// ErrInvalidFrame: a frame was missing required correlation fields; dropped.
	ErrInvalidFrame ErrorKind = "invalid_frame"
	// ErrTransientClosure: the connection closed with a retryable code;
	// a reconnect is scheduled.
	ErrTransientClosure ErrorKind = "transient_closure"
	// ErrAuthenticationFailure: the server rejected the credential; terminal.
	ErrAuthenticationFailure ErrorKind = "authentication_failure"
	// ErrMaxAttemptsExceeded: the retry ceiling was reached; terminal.
	ErrMaxAttemptsExceeded ErrorKind = "max_attempts_exceeded"
)

// Terminal reports whether the kind stops all further reconnection.
func (k ErrorKind) Terminal() bool {
	return k == ErrAuthenticationFailure || k == ErrMaxAttemptsExceeded
}

// User-facing messages for terminal errors.
const (
	authFailedMessage     = "Authentication failed. Please refresh the page."
	connectionLostMessage = "Connection lost. Please refresh the page."
)

// ChannelError is an error surfaced through the error callback
type ChannelError struct {
	Kind    ErrorKind
	Message string
	Details string
}

func (e *ChannelError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	if e.Details != "" {
		msg += ": " + e.Details
	}
	return msg
}

// NewChannelError creates a new ChannelError
func NewChannelError(kind ErrorKind, message, details string) *ChannelError {
	return &ChannelError{
		Kind:    kind,
		Message: message,
		Details: details,
	}
}
