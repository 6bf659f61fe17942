// Package apperr defines the error taxonomy shared by the sync pipeline,
// the calendar exporter and the HTTP API.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an error by how callers are expected to react to it.
type Kind int

const (
	KindInternal Kind = iota
	KindAuthentication
	KindForbidden
	KindValidation
	KindNotFound
	KindConflict
	KindConnection
	KindProtocol
	KindParse
)

func (k Kind) String() string {
	switch k {
	case KindAuthentication:
		return "authentication"
	case KindForbidden:
		return "forbidden"
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindConnection:
		return "connection"
	case KindProtocol:
		return "protocol"
	case KindParse:
		return "parse"
	default:
		return "internal"
	}
}

// Error is the concrete error carried across component boundaries.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Details map[string]string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	switch {
	case e.Message != "" && e.Err != nil:
		fmt.Fprintf(&b, "%s: %v", e.Message, e.Err)
	case e.Message != "":
		b.WriteString(e.Message)
	case e.Err != nil:
		b.WriteString(e.Err.Error())
	default:
		b.WriteString(e.Kind.String())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match on kind alone: errors.Is(err, &Error{Kind: KindParse}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

func newError(kind Kind, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

func Authentication(op, message string) *Error {
	return newError(KindAuthentication, op, message, nil)
}

func Forbidden(op, message string) *Error {
	return newError(KindForbidden, op, message, nil)
}

// Validation reports malformed caller input. details maps field names to problems.
func Validation(op, message string, details map[string]string) *Error {
	e := newError(KindValidation, op, message, nil)
	e.Details = details
	return e
}

func NotFound(op, message string) *Error {
	return newError(KindNotFound, op, message, nil)
}

func Conflict(op, message string) *Error {
	return newError(KindConflict, op, message, nil)
}

func Connection(op string, err error) *Error {
	return newError(KindConnection, op, "", err)
}

func Protocol(op string, err error) *Error {
	return newError(KindProtocol, op, "", err)
}

func Parse(op string, err error) *Error {
	return newError(KindParse, op, "", err)
}

func Internal(op string, err error) *Error {
	return newError(KindInternal, op, "", err)
}

// KindOf classifies err. Context deadlines and cancellations count as
// connection failures; anything unrecognised is internal.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindConnection
	}
	return KindInternal
}

// IsKind reports whether err classifies as kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// DetailsOf returns the validation details attached to err, if any.
func DetailsOf(err error) map[string]string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Details
	}
	return nil
}
