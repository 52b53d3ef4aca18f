// Package gateerr defines the error taxonomy shared by the approval and token
// registries, the gate service and the HTTP surface.
package gateerr

import (
	"errors"
	"fmt"
)

// Kind classifies a gate error.
type Kind string

const (
	NotFound            Kind = "not_found"
	AlreadyDecided      Kind = "already_decided"
	Expired             Kind = "expired"
	ScopeMismatch       Kind = "scope_mismatch"
	UpstreamUnavailable Kind = "upstream_unavailable"
	InvalidInput        Kind = "invalid_input"
)

// Sentinels for errors.Is checks. Matching is by Kind only.
var (
	ErrNotFound            = &Error{Kind: NotFound}
	ErrAlreadyDecided      = &Error{Kind: AlreadyDecided}
	ErrExpired             = &Error{Kind: Expired}
	ErrScopeMismatch       = &Error{Kind: ScopeMismatch}
	ErrUpstreamUnavailable = &Error{Kind: UpstreamUnavailable}
	ErrInvalidInput        = &Error{Kind: InvalidInput}
)

// Error is a classified failure. Op names the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

// New creates an error of the given kind.
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Wrap classifies an underlying error.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op == "" {
		return msg
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a gate error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first gate error in err's chain, or "".
func KindOf(err error) Kind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return ""
}
