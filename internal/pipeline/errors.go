package pipeline

import (
	"errors"
	"fmt"
)

// Kind classifies pipeline failures.
type Kind string

const (
	KindNotFound         Kind = "not-found"
	KindIO               Kind = "io"
	KindProcessing       Kind = "processing"
	KindModelUnavailable Kind = "model-unavailable"
)

// Sentinels for errors.Is; an *Error matches the sentinel of its kind.
var (
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrIO               = &Error{Kind: KindIO}
	ErrProcessing       = &Error{Kind: KindProcessing}
	ErrModelUnavailable = &Error{Kind: KindModelUnavailable}
)

// Error is a typed pipeline failure carrying its cause.
type Error struct {
	Kind Kind
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Path != "" {
		msg += " " + e.Path
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

// KindOf returns the kind of err, or "" for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func newError(kind Kind, op, path string, err error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

func errorf(kind Kind, op, path, format string, args ...any) *Error {
	return newError(kind, op, path, fmt.Errorf(format, args...))
}
