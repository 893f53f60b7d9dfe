// Package errors provides the error taxonomy shared by branchsync packages.
// Lower layers return typed errors; the sync orchestrator is the only layer
// that turns a Kind into a session-level decision.
package errors

import (
	"errors"
	"fmt"
)

// Op describes an operation, usually as "package.function".
type Op string

// Kind categorizes an error by how the caller should react to it.
type Kind int

const (
	KindUnknown Kind = iota
	// KindSkippable means the work should be tried later (lock held by a live owner).
	KindSkippable
	// KindUserAbort means a confirmation was declined.
	KindUserAbort
	// KindConflict means a merge or rebase stopped on conflicting paths.
	KindConflict
	// KindTransientRemote means a network or remote failure eligible for retry.
	KindTransientRemote
	// KindPermissionDenied means the remote rejected the operation by policy.
	KindPermissionDenied
	// KindFatal means the session cannot continue.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindSkippable:
		return "skippable"
	case KindUserAbort:
		return "user abort"
	case KindConflict:
		return "recoverable conflict"
	case KindTransientRemote:
		return "transient remote error"
	case KindPermissionDenied:
		return "permission denied"
	case KindFatal:
		return "fatal"
	default:
		return "unknown error"
	}
}

// Sentinel errors usable with errors.Is.
var (
	ErrLockHeld       = errors.New("another sync appears to be running")
	ErrDeclined       = errors.New("confirmation declined")
	ErrDirtyWorktree  = errors.New("working tree has uncommitted changes")
	ErrNotARepository = errors.New("not a git repository")
)

// Error is the structured error type for branchsync.
type Error struct {
	Op   Op
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E builds an *Error from its arguments. Arguments may be an Op, a Kind,
// an error or a string (which becomes the underlying error). Unset kinds
// are inherited from a wrapped *Error.
func E(args ...interface{}) error {
	e := &Error{}
	for _, arg := range args {
		switch a := arg.(type) {
		case Op:
			e.Op = a
		case Kind:
			e.Kind = a
		case error:
			e.Err = a
		case string:
			e.Err = errors.New(a)
		}
	}
	if e.Err == nil {
		e.Err = errors.New(e.Kind.String())
	}
	if e.Kind == KindUnknown {
		var inner *Error
		if errors.As(e.Err, &inner) {
			e.Kind = inner.Kind
		}
	}
	return e
}

// KindOf returns the Kind of the outermost *Error in err's chain, or a kind
// derived from well-known sentinels.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) && e.Kind != KindUnknown {
		return e.Kind
	}
	switch {
	case errors.Is(err, ErrLockHeld):
		return KindSkippable
	case errors.Is(err, ErrDeclined):
		return KindUserAbort
	}
	return KindUnknown
}

// Wrap wraps an error with a message for better context.
func Wrap(err error, message string) error {
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted message for better context.
func Wrapf(err error, format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether target is in err's chain.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// New creates a new error with the given message.
func New(message string) error {
	return errors.New(message)
}
