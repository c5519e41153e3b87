package export

import (
	"errors"
	"fmt"
)

// Kind classifies an export failure. Kinds are comparable with errors.Is
// against any error returned by the pipeline.
type Kind struct {
	code string
	msg  string
}

func (k *Kind) Error() string { return k.msg }

// Code returns the stable machine-readable identifier of the kind.
func (k *Kind) Code() string { return k.code }

var (
	ErrInvalidRequest     = &Kind{"INVALID_REQUEST", "invalid export request"}
	ErrInvalidRange       = &Kind{"INVALID_RANGE", "invalid clip range"}
	ErrTrim               = &Kind{"TRIM_FAILED", "trim failed"}
	ErrProbe              = &Kind{"PROBE_FAILED", "probe failed"}
	ErrUnachievableBudget = &Kind{"UNACHIEVABLE_BUDGET", "size ceiling cannot be met"}
	ErrEncode             = &Kind{"ENCODE_FAILED", "encode failed"}
	ErrConvergence        = &Kind{"CONVERGENCE_FAILED", "size did not converge"}
	ErrCleanup            = &Kind{"CLEANUP_FAILED", "cleanup failed"}
	ErrCanceled           = &Kind{"CANCELED", "export canceled"}
)

// Error is the terminal failure of an export. It matches its Kind and its
// underlying cause with errors.Is.
type Error struct {
	Kind  *Kind
	Phase Phase
	Err   error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %v", e.Kind.Error(), e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind *Kind, phase Phase, format string, args ...any) *Error {
	return &Error{Kind: kind, Phase: phase, Err: fmt.Errorf(format, args...)}
}

// ErrorCode returns the code of the export failure kind carried by err, or
// INTERNAL_ERROR for anything else.
func ErrorCode(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != nil {
		return e.Kind.Code()
	}
	var k *Kind
	if errors.As(err, &k) {
		return k.Code()
	}
	return "INTERNAL_ERROR"
}
