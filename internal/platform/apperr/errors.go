// Package apperr defines the error taxonomy shared by the billing and
// cashier engines and its mapping onto HTTP status codes.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure by who is responsible for it.
type Kind int

const (
	// KindInternal is any failure without a more specific kind (store errors,
	// bugs). It is never produced explicitly by the engines.
	KindInternal Kind = iota
	// KindNotFound means a referenced entity does not exist.
	KindNotFound
	// KindInvalidRequest means a business precondition was violated.
	KindInvalidRequest
	// KindConflict means a concurrent writer won a uniqueness race.
	KindConflict
	// KindInternalInconsistency means related data the domain guarantees
	// to exist is missing upstream.
	KindInternalInconsistency
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalidRequest:
		return "invalid_request"
	case KindConflict:
		return "conflict"
	case KindInternalInconsistency:
		return "internal_inconsistency"
	default:
		return "internal"
	}
}

// Error carries a Kind, the operation that failed and a client-safe message.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op == "" {
		return msg
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by Kind so that errors.Is(err, apperr.ErrNotFound)
// works for any not-found error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Message == "" && t.Kind == e.Kind
}

// Sentinels for errors.Is comparisons.
var (
	ErrNotFound              = &Error{Kind: KindNotFound}
	ErrInvalidRequest        = &Error{Kind: KindInvalidRequest}
	ErrConflict              = &Error{Kind: KindConflict}
	ErrInternalInconsistency = &Error{Kind: KindInternalInconsistency}
)

func NotFound(op, format string, args ...interface{}) error {
	return &Error{Kind: KindNotFound, Op: op, Message: fmt.Sprintf(format, args...)}
}

func InvalidRequest(op, format string, args ...interface{}) error {
	return &Error{Kind: KindInvalidRequest, Op: op, Message: fmt.Sprintf(format, args...)}
}

func Conflict(op string, err error, format string, args ...interface{}) error {
	return &Error{Kind: KindConflict, Op: op, Message: fmt.Sprintf(format, args...), Err: err}
}

func InternalInconsistency(op, format string, args ...interface{}) error {
	return &Error{Kind: KindInternalInconsistency, Op: op, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the Kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// HTTPStatus maps err onto the status code a handler should answer with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidRequest:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the client-facing text for err. Internal failures are
// masked so that store details do not leak into responses.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != KindInternal {
		if e.Message != "" {
			return e.Message
		}
	}
	return "internal server error"
}
