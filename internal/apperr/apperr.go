// Package apperr holds the error taxonomy shared by the sync pipeline.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindTransientIO   Kind = "transient_io"
	KindConversion    Kind = "conversion"
	KindReplication   Kind = "replication"
	KindDiff          Kind = "diff"
	KindConfiguration Kind = "configuration"
)

// Error wraps a cause with its taxonomy kind and the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind, so errors.Is(err, apperr.ErrDiff) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Err == nil && t.Op == "" && t.Kind == e.Kind
}

// Sentinels usable with errors.Is.
var (
	ErrTransientIO   = &Error{Kind: KindTransientIO}
	ErrConversion    = &Error{Kind: KindConversion}
	ErrReplication   = &Error{Kind: KindReplication}
	ErrDiff          = &Error{Kind: KindDiff}
	ErrConfiguration = &Error{Kind: KindConfiguration}
)

func TransientIO(op string, err error) error {
	return wrap(KindTransientIO, op, err)
}

func Conversion(op string, err error) error {
	return wrap(KindConversion, op, err)
}

func Replication(op string, err error) error {
	return wrap(KindReplication, op, err)
}

func Diff(op string, err error) error {
	return wrap(KindDiff, op, err)
}

func Configuration(op string, err error) error {
	return wrap(KindConfiguration, op, err)
}

func wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
