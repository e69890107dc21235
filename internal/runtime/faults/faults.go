// Package faults classifies stage errors. Untagged errors are transient and
// retried forever; Recoverable pauses the stage; Fatal stops it.
package faults

import (
	"context"
	"errors"
	"fmt"
)

// Kind is the outcome class of a stage error.
type Kind int

const (
	KindTransient Kind = iota
	KindRecoverable
	KindFatal
	// KindCanceled marks errors caused by the stage being paused or stopped.
	KindCanceled
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRecoverable:
		return "recoverable"
	case KindFatal:
		return "fatal"
	case KindCanceled:
		return "canceled"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is the tagged variant carried through the wrap chain.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Recoverable tags err as a persistent but recoverable failure. The stage pauses
// instead of retrying.
func Recoverable(err error) error {
	return tag(KindRecoverable, err)
}

// Fatal tags err as unrecoverable. The stage stops and reports unhealthy.
func Fatal(err error) error {
	return tag(KindFatal, err)
}

// Recoverablef and Fatalf format a new tagged error.
func Recoverablef(format string, args ...any) error {
	return Recoverable(fmt.Errorf(format, args...))
}

func Fatalf(format string, args ...any) error {
	return Fatal(fmt.Errorf(format, args...))
}

func tag(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// KindOf classifies err. The outermost tag wins.
func KindOf(err error) Kind {
	if err == nil {
		return KindTransient
	}
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCanceled
	}
	return KindTransient
}

// IsRetryable reports whether the retry executor should try again.
func IsRetryable(err error) bool {
	return err != nil && KindOf(err) == KindTransient
}

// Escalate tags errors that escaped retry without a classification as fatal.
// Tagged and canceled errors are returned unchanged.
func Escalate(err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) == KindTransient {
		return Fatal(err)
	}
	return err
}
