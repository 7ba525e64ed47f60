package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure for callers that need to map it to a response.
type Kind int

const (
	KindInternal Kind = iota
	KindBadRequest
	KindUnauthorized
	KindPaymentRequired
	KindNotFound
	KindConflict
	KindPreconditionFailed
	KindUpstream
	KindStorage
	KindTimedOut
)

func (k Kind) String() string {
	switch k {
	case KindBadRequest:
		return "bad_request"
	case KindUnauthorized:
		return "unauthorized"
	case KindPaymentRequired:
		return "payment_required"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindPreconditionFailed:
		return "precondition_failed"
	case KindUpstream:
		return "upstream"
	case KindStorage:
		return "storage"
	case KindTimedOut:
		return "timed_out"
	default:
		return "internal"
	}
}

// StatusCode maps the kind to its HTTP status.
func (k Kind) StatusCode() int {
	switch k {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindPaymentRequired:
		return http.StatusPaymentRequired
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindPreconditionFailed:
		return http.StatusPreconditionFailed
	case KindUpstream:
		return http.StatusBadGateway
	case KindTimedOut:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

type Error struct {
	Kind    Kind
	Message string // safe to show to the caller
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Common error constructors

func BadRequest(message string) *Error         { return New(KindBadRequest, message) }
func Unauthorized(message string) *Error       { return New(KindUnauthorized, message) }
func PaymentRequired(message string) *Error    { return New(KindPaymentRequired, message) }
func NotFound(message string) *Error           { return New(KindNotFound, message) }
func Conflict(message string) *Error           { return New(KindConflict, message) }
func PreconditionFailed(message string) *Error { return New(KindPreconditionFailed, message) }
func Upstream(message string) *Error           { return New(KindUpstream, message) }
func TimedOut(message string) *Error           { return New(KindTimedOut, message) }

func Storage(message string, cause error) *Error {
	return Wrap(KindStorage, message, cause)
}

func Internal(message string, cause error) *Error {
	return Wrap(KindInternal, message, cause)
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// Message returns the caller-facing message for err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}
