// Package errs implements the thread-local error-kind slot described by
// the sampler's error handling design: every failure is classified into a
// small set of kinds, and the kind alone determines whether it is fatal,
// retried, or merely logged.
package errs

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies a failure for the purposes of the sampling loop's
// recovery policy.
type Kind int

const (
	// OS covers failures from the underlying operating system that leave
	// the process in an unknown state.
	OS Kind = iota
	// Permission covers failures caused by insufficient privilege to
	// attach to or read a target.
	Permission
	// MemoryCopy covers a failed remote-memory read.
	MemoryCopy
	// MemoryAllocation covers a failed local allocation.
	MemoryAllocation
	// IO covers failures writing to the output sink.
	IO
	// CommandLine covers invalid CLI invocations.
	CommandLine
	// Environment covers invalid environment configuration.
	Environment
	// Value covers a malformed value read from a target (e.g. a struct
	// field that decodes to something structurally impossible).
	Value
	// Null covers an unexpected nil/zero pointer read from a target.
	Null
	// Version covers an unsupported or undetectable CPython version.
	Version
	// Binary covers a failure in one binary-discovery strategy, allowing
	// the locator to fall through to the next.
	Binary
	// PyObject covers a failure resolving a single Python object
	// (frame, code, string) that should only skip this sample.
	PyObject
	// VmMaps covers a failure reading the target's memory map, retried
	// on the next tick.
	VmMaps
	// IterationEnd is a loop sentinel, not a true error.
	IterationEnd
)

func (k Kind) String() string {
	switch k {
	case OS:
		return "os"
	case Permission:
		return "permission"
	case MemoryCopy:
		return "memory_copy"
	case MemoryAllocation:
		return "memory_allocation"
	case IO:
		return "io"
	case CommandLine:
		return "command_line"
	case Environment:
		return "environment"
	case Value:
		return "value"
	case Null:
		return "null"
	case Version:
		return "version"
	case Binary:
		return "binary"
	case PyObject:
		return "py_object"
	case VmMaps:
		return "vm_maps"
	case IterationEnd:
		return "iteration_end"
	default:
		return "unknown"
	}
}

// policy describes how the sampling loop should react to a Kind, mirroring
// the fatal/non-fatal table in the error handling design.
type policy struct {
	fatal   bool
	retried bool
}

var policies = map[Kind]policy{
	OS:               {fatal: true},
	Permission:       {fatal: true},
	MemoryCopy:       {fatal: false, retried: true},
	MemoryAllocation: {fatal: true},
	IO:               {fatal: true},
	CommandLine:      {fatal: true},
	Environment:      {fatal: true},
	Value:            {fatal: false},
	Null:             {fatal: true},
	Version:          {fatal: true},
	Binary:           {fatal: false, retried: true},
	PyObject:         {fatal: false},
	VmMaps:           {fatal: false, retried: true},
	IterationEnd:     {fatal: false},
}

// Fatal reports whether an error of this Kind should terminate the process
// (single-process mode) or the owning supervisor (tree mode).
func Fatal(k Kind) bool { return policies[k].fatal }

// Retried reports whether an error of this Kind is expected to clear up on
// a subsequent attempt without operator intervention.
func Retried(k Kind) bool { return policies[k].retried }

// Error is the error value threaded through the core: a classified,
// optionally-wrapped underlying cause.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is/As.
func (e *Error) Unwrap() error { return e.cause }

// Fatal reports whether this error terminates the owning target/process.
func (e *Error) Fatal() bool { return Fatal(e.Kind) }

// New creates a classified error with a stack-carrying cause when wrapping
// an underlying error, matching the rest of the pack's use of
// github.com/pkg/errors for diagnosable failures.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: errors.New(message)}
}

// Wrap classifies an existing error under kind, attaching message context.
func Wrap(kind Kind, cause error, message string) *Error {
	if cause == nil {
		return New(kind, message)
	}
	return &Error{Kind: kind, Message: message, cause: errors.Wrap(cause, message)}
}

// As reports whether err is (or wraps) an *Error, and returns it.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
