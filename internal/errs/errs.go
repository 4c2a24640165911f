// Package errs defines the error taxonomy shared by the voice registry,
// the session controller and the synthesis dispatcher.
package errs

import (
	"errors"
	"strings"
)

// Kind classifies an error for callers and for the HTTP layer.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindNotFound
	KindForbidden
	KindStorage
	KindSynthesis
)

// String returns the human-readable prefix for the kind.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "invalid input"
	case KindNotFound:
		return "voice not found"
	case KindForbidden:
		return "not allowed"
	case KindStorage:
		return "storage failure"
	case KindSynthesis:
		return "synthesis failed"
	default:
		return "unexpected error"
	}
}

// Sentinels for errors.Is comparisons. Any *Error of the same kind matches.
var (
	ErrValidation = &Error{Kind: KindValidation}
	ErrNotFound   = &Error{Kind: KindNotFound}
	ErrForbidden  = &Error{Kind: KindForbidden}
	ErrStorage    = &Error{Kind: KindStorage}
	ErrSynthesis  = &Error{Kind: KindSynthesis}
)

// Error is a classified failure.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Msg == "" && t.Err == nil
}

// Reason returns the message without the operation prefix, for display.
func (e *Error) Reason() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func Validation(op, msg string) error {
	return &Error{Kind: KindValidation, Op: op, Msg: msg}
}

func NotFound(op, msg string) error {
	return &Error{Kind: KindNotFound, Op: op, Msg: msg}
}

func Forbidden(op, msg string) error {
	return &Error{Kind: KindForbidden, Op: op, Msg: msg}
}

func Storage(op string, err error) error {
	return &Error{Kind: KindStorage, Op: op, Err: err}
}

func Synthesis(op string, err error) error {
	return &Error{Kind: KindSynthesis, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Reason returns a display string for err that is distinct per kind.
func Reason(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason()
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
