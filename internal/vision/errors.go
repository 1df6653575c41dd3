package vision

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies a provider failure for the caller.
type Kind int

const (
	// KindUnknown covers provider failures that fit no other class.
	KindUnknown Kind = iota
	// KindAuth means the provider rejected our credentials or permissions.
	KindAuth
	// KindRateLimited means the provider asked us to slow down.
	KindRateLimited
	// KindMalformed means the response did not match the expected shape.
	KindMalformed
	// KindTransport means the request never produced a usable response.
	KindTransport
)

func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "authentication"
	case KindRateLimited:
		return "rate_limited"
	case KindMalformed:
		return "malformed_response"
	case KindTransport:
		return "transport"
	default:
		return "unknown"
	}
}

// Error is a classified provider failure. RetryAfter carries the provider's
// retry hint when the failure is a rate limit and a hint was present.
type Error struct {
	Kind       Kind
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the classified kind of err, or KindUnknown when err carries
// no classification.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}

func authError(message string, err error) *Error {
	return &Error{Kind: KindAuth, Message: message, Err: err}
}

func rateLimitError(message string, retryAfter time.Duration, err error) *Error {
	return &Error{Kind: KindRateLimited, Message: message, RetryAfter: retryAfter, Err: err}
}

func malformedError(message string, err error) *Error {
	return &Error{Kind: KindMalformed, Message: message, Err: err}
}

func transportError(message string, err error) *Error {
	return &Error{Kind: KindTransport, Message: message, Err: err}
}

func unknownError(message string, err error) *Error {
	return &Error{Kind: KindUnknown, Message: message, Err: err}
}
