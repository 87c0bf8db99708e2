// Package apperr defines the error kinds shared by the clinic flows.
package apperr

import (
	"errors"
	"net/http"
)

// Kind classifies failures so the HTTP layer can pick a status code without
// parsing messages.
type Kind string

const (
	KindValidation       Kind = "validation"
	KindNotFound         Kind = "not_found"
	KindStoreUnavailable Kind = "store_unavailable"
	KindSlotConflict     Kind = "slot_conflict"
	KindNoMatch          Kind = "no_match"
)

// Error carries a Kind, the failing operation and a message safe to show
// to the user. Err holds the underlying cause, if any.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	s := string(e.Kind)
	if e.Msg != "" {
		s = e.Msg
	}
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Kind, so errors.Is(err, ErrNotFound)
// works on wrapped values.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrValidation       = &Error{Kind: KindValidation}
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrStoreUnavailable = &Error{Kind: KindStoreUnavailable}
	ErrSlotConflict     = &Error{Kind: KindSlotConflict}
	ErrNoMatch          = &Error{Kind: KindNoMatch}
)

func Validation(op, msg string) error {
	return &Error{Kind: KindValidation, Op: op, Msg: msg}
}

func NotFound(op, msg string) error {
	return &Error{Kind: KindNotFound, Op: op, Msg: msg}
}

func Unavailable(op string, err error) error {
	return &Error{Kind: KindStoreUnavailable, Op: op, Msg: "store unavailable", Err: err}
}

func Conflict(op, msg string) error {
	return &Error{Kind: KindSlotConflict, Op: op, Msg: msg}
}

func NoMatch(op, msg string) error {
	return &Error{Kind: KindNoMatch, Op: op, Msg: msg}
}

// Message returns the user-facing text of err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Msg != "" {
		return e.Msg
	}
	return "unexpected error"
}

// StatusCode maps an error to the HTTP status handlers respond with.
func StatusCode(err error) int {
	var e *Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound, KindNoMatch:
		return http.StatusNotFound
	case KindSlotConflict:
		return http.StatusConflict
	case KindStoreUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
