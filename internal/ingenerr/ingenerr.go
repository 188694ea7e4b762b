// Package ingenerr defines the error kinds surfaced by the core (§7),
// grounded on the teacher's error.go/multierr.go: a small typed-error
// tree plus an execErrors-style aggregate for multi-child task failures.
package ingenerr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is one of the error taxonomy entries from spec.md §7.
type Kind int

const (
	Internal Kind = iota
	NotFound
	Exists
	BadRequest
	TypeMismatch
	ParentDiffers
	Feedback
	OutOfResources
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "NotFound"
	case Exists:
		return "Exists"
	case BadRequest:
		return "BadRequest"
	case TypeMismatch:
		return "TypeMismatch"
	case ParentDiffers:
		return "ParentDiffers"
	case Feedback:
		return "Feedback"
	case OutOfResources:
		return "OutOfResources"
	default:
		return "Internal"
	}
}

// Error is a typed error carrying one of the Kind values plus a message.
// errors.Is compares by Kind, the way the teacher's ErrorRun.Is compares
// by wrapped sentinel.
type Error struct {
	Kind    Kind
	Subject string // path or URI the error concerns, if any
	Cause   error
}

func (e *Error) Error() string {
	if e.Subject != "" {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Subject, e.msg())
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.msg())
}

func (e *Error) msg() error {
	if e.Cause != nil {
		return e.Cause
	}
	return errors.New("")
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error of the same Kind, satisfying
// errors.Is(err, ingenerr.New(kind, "", nil)) style sentinel comparisons.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New constructs an *Error of the given kind.
func New(k Kind, subject string, cause error) *Error {
	return &Error{Kind: k, Subject: subject, Cause: cause}
}

// Sentinel returns a bare sentinel of kind k, for errors.Is comparisons.
func Sentinel(k Kind) *Error { return &Error{Kind: k} }

// KindOf extracts the Kind from err, or Internal if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Aggregate wraps errors from multiple concurrently-run children (e.g. a
// PARALLEL task's children, or multiple failed events in one cycle),
// grounded on the teacher's execErrors in error.go/multierr.go.
type Aggregate []error

func (a Aggregate) Error() string {
	s := make([]string, 0, len(a))
	for _, e := range a {
		s = append(s, e.Error())
	}
	return strings.Join(s, ", ")
}

// Ret returns nil if a is empty, itself otherwise — mirrors the teacher's
// execErrors.ret helper used at the end of a fan-in.
func (a Aggregate) Ret() error {
	if len(a) == 0 {
		return nil
	}
	return a
}
