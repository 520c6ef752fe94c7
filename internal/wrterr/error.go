// Package wrterr defines the closed error taxonomy shared by every
// subsystem of the runtime core. Errors are values: nothing in this module
// unwinds via panic/recover across a public API boundary.
package wrterr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies an Error into one of the families described in spec §7.
// The set is closed: new kinds are added here, never invented ad hoc at
// call sites.
type Kind uint8

const (
	KindUnknown Kind = iota

	// Capacity
	KindMemoryLimitExceeded
	KindCapacityExceeded
	KindStackOverflow
	KindTooManyInstances

	// Bounds
	KindOutOfBounds
	KindIndexOutOfBounds

	// Type
	KindTypeMismatch
	KindSignatureMismatch
	KindInvalidConversion
	KindUninitializedElement

	// Arithmetic
	KindDivideByZero
	KindIntegerOverflow
	KindInvalidFloatConversion

	// Control
	KindUnreachable
	KindOutOfFuel
	KindTimeout
	KindCancelled
	KindCfiViolation

	// Integrity
	KindChecksumMismatch
	KindPoisonedState

	// Linkage
	KindImportMismatch
	KindExportNotFound
	KindDuplicateExport

	// Encoding
	KindInvalidUtf8
	KindInvalidFormat
	KindInvalidVersion
	KindInvalidMagic

	// Initialization
	KindAlreadyInitialized
	KindNotInitialized
	KindInvalidConfiguration
)

var kindNames = map[Kind]string{
	KindUnknown:                "Unknown",
	KindMemoryLimitExceeded:    "MemoryLimitExceeded",
	KindCapacityExceeded:       "CapacityExceeded",
	KindStackOverflow:          "StackOverflow",
	KindTooManyInstances:       "TooManyInstances",
	KindOutOfBounds:            "OutOfBounds",
	KindIndexOutOfBounds:       "IndexOutOfBounds",
	KindTypeMismatch:           "TypeMismatch",
	KindSignatureMismatch:      "SignatureMismatch",
	KindInvalidConversion:      "InvalidConversion",
	KindUninitializedElement:   "UninitializedElement",
	KindDivideByZero:           "DivideByZero",
	KindIntegerOverflow:        "IntegerOverflow",
	KindInvalidFloatConversion: "InvalidFloatConversion",
	KindUnreachable:            "Unreachable",
	KindOutOfFuel:              "OutOfFuel",
	KindTimeout:                "Timeout",
	KindCancelled:              "Cancelled",
	KindCfiViolation:           "CfiViolation",
	KindChecksumMismatch:       "ChecksumMismatch",
	KindPoisonedState:          "PoisonedState",
	KindImportMismatch:         "ImportMismatch",
	KindExportNotFound:         "ExportNotFound",
	KindDuplicateExport:        "DuplicateExport",
	KindInvalidUtf8:            "InvalidUtf8",
	KindInvalidFormat:          "InvalidFormat",
	KindInvalidVersion:         "InvalidVersion",
	KindInvalidMagic:           "InvalidMagic",
	KindAlreadyInitialized:     "AlreadyInitialized",
	KindNotInitialized:         "NotInitialized",
	KindInvalidConfiguration:   "InvalidConfiguration",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "Unknown"
}

// Error is the structured error record returned across every host boundary
// in this module. It never carries a Go stack trace to user code; Cause is
// retained internally via github.com/pkg/errors for diagnostics only.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	// Fields carries structured context (e.g. "shortfall_bytes", "crate")
	// for the handful of errors the facade surfaces with extra detail.
	Fields map[string]any
	cause  error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause to errors.Is/As without leaking a trace
// to callers that only format Error().
func (e *Error) Unwrap() error { return e.cause }

// New constructs an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches cause as the Error's underlying cause, capturing a stack via
// pkg/errors for internal diagnostics (never rendered to end users).
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		cause:   errors.WithStack(cause),
	}
}

// WithField attaches one structured field and returns the receiver for
// chaining at the construction site.
func (e *Error) WithField(key string, value any) *Error {
	if e.Fields == nil {
		e.Fields = make(map[string]any, 1)
	}
	e.Fields[key] = value
	return e
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
