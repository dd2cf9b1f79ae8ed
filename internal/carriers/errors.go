package carriers

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind classifies a carrier call failure. The scheduler's retry policy is
// keyed entirely off this classification.
type Kind string

const (
	KindInvalidRequest Kind = "INVALID_REQUEST"
	KindAuth           Kind = "AUTH_ERROR"
	KindRateLimited    Kind = "RATE_LIMITED"
	KindTimeout        Kind = "TIMEOUT"
	KindUpstream       Kind = "UPSTREAM_ERROR"
	KindNotFound       Kind = "NOT_FOUND"
	KindMalformed      Kind = "MALFORMED_RESPONSE"
)

// Retryable reports whether the scheduler may retry this kind with backoff.
func (k Kind) Retryable() bool {
	switch k {
	case KindRateLimited, KindTimeout, KindUpstream:
		return true
	}
	return false
}

// Error is a typed failure from a carrier call.
type Error struct {
	Carrier    string
	Kind       Kind
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %s: %v", e.Carrier, e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s %s: %s", e.Carrier, e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a carrier Error.
func NewError(carrier string, kind Kind, message string) *Error {
	return &Error{Carrier: carrier, Kind: kind, Message: message}
}

func (e *Error) WithCause(err error) *Error {
	e.Err = err
	return e
}

func (e *Error) WithStatusCode(code int) *Error {
	e.StatusCode = code
	return e
}

// KindOf extracts the failure kind from an error chain. Context deadlines and
// net timeouts count as KindTimeout; anything unclassified is KindUpstream.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTimeout
	}
	return KindUpstream
}

// IsTerminalKind reports kinds that will not resolve on retry.
func IsTerminalKind(k Kind) bool {
	return k == KindAuth || k == KindNotFound
}

// ClassifyHTTP maps an unexpected upstream HTTP status to a failure kind.
func ClassifyHTTP(status int) Kind {
	switch {
	case status == 401 || status == 403:
		return KindAuth
	case status == 404:
		return KindNotFound
	case status == 429:
		return KindRateLimited
	case status == 408 || status == 504:
		return KindTimeout
	default:
		return KindUpstream
	}
}
