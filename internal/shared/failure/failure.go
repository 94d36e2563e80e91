package failure

import (
	"errors"
	"fmt"
)

// Kind classifies a failure at the command boundary.
type Kind int

const (
	KindUnknown Kind = iota
	KindInitialization
	KindStageExecution
	KindValidation
	KindPersistence
	KindProtocol
)

func (k Kind) String() string {
	switch k {
	case KindInitialization:
		return "initialization"
	case KindStageExecution:
		return "stage_execution"
	case KindValidation:
		return "validation"
	case KindPersistence:
		return "persistence"
	case KindProtocol:
		return "protocol"
	default:
		return "unknown"
	}
}

// Error is a classified failure. Op names the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op
	}
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Fatal reports whether the worker is unusable until re-initialised.
func (e *Error) Fatal() bool { return e.Kind == KindInitialization }

// New wraps err with the given kind and operation.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf builds a classified failure from a format string.
func Newf(kind Kind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func Initialization(op string, err error) *Error { return New(KindInitialization, op, err) }
func StageExecution(op string, err error) *Error { return New(KindStageExecution, op, err) }
func Validation(op string, err error) *Error     { return New(KindValidation, op, err) }
func Persistence(op string, err error) *Error    { return New(KindPersistence, op, err) }
func Protocol(op string, err error) *Error       { return New(KindProtocol, op, err) }

// KindOf returns the kind of the first classified failure in err's chain.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// IsFatal reports whether err carries a fatal classification.
func IsFatal(err error) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Fatal()
	}
	return false
}
