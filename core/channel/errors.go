package channel

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	// ErrorKindTransient errors are worth reconnecting for.
	ErrorKindTransient ErrorKind = "transient"
	// ErrorKindFatal errors end the session.
	ErrorKindFatal ErrorKind = "fatal"
)

// ChannelError reports a failed connection. It is both an error and the
// terminal Event of a failed connection.
type ChannelError struct {
	Kind ErrorKind
	Err  error
}

func NewTransientError(err error) *ChannelError {
	return &ChannelError{Kind: ErrorKindTransient, Err: err}
}

func NewFatalError(err error) *ChannelError {
	return &ChannelError{Kind: ErrorKindFatal, Err: err}
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("%s channel error: %v", e.Kind, e.Err)
}

func (e *ChannelError) Unwrap() error { return e.Err }

// ConnectError reports a failed Connect.
type ConnectError struct {
	Kind ErrorKind
	// StatusCode is the HTTP status of a rejected handshake, if any.
	StatusCode int
	Err        error
}

func (e *ConnectError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("failed to connect (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("failed to connect: %v", e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// IsFatal reports whether err should not be retried. Errors that carry no
// kind are treated as transient.
func IsFatal(err error) bool {
	var channelErr *ChannelError
	if errors.As(err, &channelErr) {
		return channelErr.Kind == ErrorKindFatal
	}
	var connectErr *ConnectError
	if errors.As(err, &connectErr) {
		return connectErr.Kind == ErrorKindFatal
	}
	return false
}

// KindForStatus classifies a rejected websocket handshake. Authentication
// and request errors are fatal, throttling and server errors are not.
func KindForStatus(status int) ErrorKind {
	switch {
	case status == 408 || status == 429:
		return ErrorKindTransient
	case status >= 400 && status < 500:
		return ErrorKindFatal
	default:
		return ErrorKindTransient
	}
}
