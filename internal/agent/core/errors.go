package core

import (
	"errors"
	"fmt"
)

// Kind classifies orchestration failures. Only KindServiceUnavailable is
// surfaced to callers; the rest are logged and absorbed.
type Kind string

const (
	KindServiceUnavailable Kind = "service_unavailable"
	KindToolExecution      Kind = "tool_execution"
	KindParse              Kind = "parse"
	KindValidation         Kind = "validation"
	KindPersistence        Kind = "persistence"
)

// Sentinels for errors.Is against an *Error of the same kind.
var (
	ErrServiceUnavailable = &Error{Kind: KindServiceUnavailable}
	ErrToolExecution      = &Error{Kind: KindToolExecution}
	ErrParse              = &Error{Kind: KindParse}
	ErrValidation         = &Error{Kind: KindValidation}
	ErrPersistence        = &Error{Kind: KindPersistence}
)

// UnavailableMessage is the user-facing text for KindServiceUnavailable.
const UnavailableMessage = "text generation service unavailable"

type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
