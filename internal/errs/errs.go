// Package errs defines the tagged error kinds shared by the sync layer.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error so callers can decide how to react to it.
type Kind int

const (
	Unknown Kind = iota
	Unauthorized
	Conflict
	Validation
	Network
	Storage
	NotFound
)

func (k Kind) String() string {
	switch k {
	case Unauthorized:
		return "unauthorized"
	case Conflict:
		return "conflict"
	case Validation:
		return "validation"
	case Network:
		return "network"
	case Storage:
		return "storage"
	case NotFound:
		return "not found"
	default:
		return "unknown"
	}
}

// Error is an error tagged with a Kind and the operation that produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E creates a new tagged error.
func E(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf creates a new tagged error with a formatted cause.
func Errorf(kind Kind, op string, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the outermost tagged error in err's chain.
// Untagged errors are Unknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// FromStatus maps an HTTP status code returned by the backend to a Kind.
func FromStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return Unauthorized
	case status == http.StatusConflict:
		return Conflict
	case status == http.StatusNotFound:
		return NotFound
	case status == http.StatusBadRequest:
		return Validation
	default:
		return Unknown
	}
}

// HTTPStatus is the status the local API answers with for a given kind.
func HTTPStatus(kind Kind) int {
	switch kind {
	case Unauthorized:
		return http.StatusUnauthorized
	case Conflict:
		return http.StatusConflict
	case Validation:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case Network:
		return http.StatusBadGateway
	case Storage:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
