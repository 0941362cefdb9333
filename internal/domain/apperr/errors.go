// Package apperr defines the error taxonomy shared by the approval core.
// Every error returned by a service carries a Kind so callers can decide
// between retrying (lock_timeout), surfacing (validation, permission_denied)
// or failing hard (db_error).
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error
type Kind string

const (
	KindValidation       Kind = "validation"
	KindNotFound         Kind = "not_found"
	KindPermissionDenied Kind = "permission_denied"
	KindInvalidStatus    Kind = "invalid_status"
	KindConflict         Kind = "conflict"
	KindLockTimeout      Kind = "lock_timeout"
	KindDBError          Kind = "db_error"
)

// Sentinels for errors.Is checks. Any *Error of the same kind matches.
var (
	ErrValidation       = &Error{Kind: KindValidation}
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrPermissionDenied = &Error{Kind: KindPermissionDenied}
	ErrInvalidStatus    = &Error{Kind: KindInvalidStatus}
	ErrConflict         = &Error{Kind: KindConflict}
	ErrLockTimeout      = &Error{Kind: KindLockTimeout}
	ErrDB               = &Error{Kind: KindDBError}
)

// Error is a classified error with the operation that produced it
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, msg, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", msg, e.Err)
	default:
		return msg
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches by kind. A conflict also satisfies ErrInvalidStatus because
// overlapping delegations are reported as an invalid-status condition.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if e.Kind == t.Kind {
		return true
	}
	return e.Kind == KindConflict && t.Kind == KindInvalidStatus
}

// New creates a classified error
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Wrap classifies err. An err that already carries a kind keeps it.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func Validation(op, format string, args ...interface{}) *Error {
	return New(KindValidation, op, fmt.Sprintf(format, args...))
}

func NotFound(op, format string, args ...interface{}) *Error {
	return New(KindNotFound, op, fmt.Sprintf(format, args...))
}

func PermissionDenied(op, format string, args ...interface{}) *Error {
	return New(KindPermissionDenied, op, fmt.Sprintf(format, args...))
}

func InvalidStatus(op, format string, args ...interface{}) *Error {
	return New(KindInvalidStatus, op, fmt.Sprintf(format, args...))
}

func Conflict(op, format string, args ...interface{}) *Error {
	return New(KindConflict, op, fmt.Sprintf(format, args...))
}

func LockTimeout(op, format string, args ...interface{}) *Error {
	return New(KindLockTimeout, op, fmt.Sprintf(format, args...))
}

// DB wraps a persistence failure
func DB(op string, err error) error {
	return Wrap(KindDBError, op, err)
}

// KindOf returns the kind of err. Unclassified errors count as db_error.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindDBError
}

// Retryable reports whether repeating the operation may succeed
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindLockTimeout, KindDBError:
		return true
	default:
		return false
	}
}
