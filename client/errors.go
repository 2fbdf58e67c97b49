package client

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/navigatorvzhang/web-chatbot/codec"
)

// FailureKind classifies a failed call for the retry policy.
type FailureKind int

const (
	// Other failures are deterministic and never retried.
	Other FailureKind = iota
	Timeout
	ConnectionFailure
)

func (k FailureKind) String() string {
	switch k {
	case Timeout:
		return "timeout"
	case ConnectionFailure:
		return "connection failure"
	default:
		return "other"
	}
}

func (k FailureKind) retryable() bool {
	return k == Timeout || k == ConnectionFailure
}

var (
	ErrInvalidContentType = errors.New("invalid response format from server")
	// ErrInvalidResponse is returned when a 2xx chat body lacks a response or a context.
	ErrInvalidResponse = errors.New("invalid response from server")
)

// CallError is a transport failure that survived the retry budget.
type CallError struct {
	Kind     FailureKind
	Attempts int
	Err      error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s after %d attempt(s): %s", e.Kind, e.Attempts, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// StatusError is returned for any non-2xx response. Message is taken from the error body when the server sent one.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server error: %d", e.Code)
	}
	return fmt.Sprintf("server error %d: %s", e.Code, e.Message)
}

// classify maps a transport error to a failure kind. Caller cancellation is never retried.
func classify(err error) FailureKind {
	if err == nil || errors.Is(err, context.Canceled) {
		return Other
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Timeout
	}
	return ConnectionFailure
}

const (
	timeoutMessage    = "Request timed out. Please try again."
	connectionMessage = "Unable to connect to server. Please check your connection."
)

// UserMessage renders err as the single human-readable line shown to the user.
func UserMessage(err error) string {
	var callErr *CallError
	if errors.As(err, &callErr) {
		switch callErr.Kind {
		case Timeout:
			return timeoutMessage
		case ConnectionFailure:
			return connectionMessage
		}
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.Message != "" {
		return statusErr.Message
	}
	var appErr *codec.ApplicationError
	if errors.As(err, &appErr) {
		return appErr.Body.Message
	}
	if errors.Is(err, ErrInvalidResponse) {
		return ErrInvalidResponse.Error()
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
