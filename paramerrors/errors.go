// Package paramerrors defines the typed error taxonomy every public
// operation in paramforge returns.
package paramerrors

import (
	"errors"
	"fmt"
)

// Kind identifies the error category. Callers should switch on Kind
// via errors.As, not on the formatted message.
type Kind string

const (
	TypeMismatch        Kind = "type_mismatch"
	OutOfRange          Kind = "out_of_range"
	ParseError          Kind = "parse_error"
	UnknownPath         Kind = "unknown_path"
	UnknownCriterion    Kind = "unknown_criterion"
	UnknownConfiguration Kind = "unknown_configuration"
	NotRogue            Kind = "not_rogue"
	DomainOverlap       Kind = "domain_overlap"
	InvalidRule         Kind = "invalid_rule"
	BackendError        Kind = "backend_error"
	SchemaError         Kind = "schema_error"
	BindingError        Kind = "binding_error"
	ChecksumMismatch    Kind = "checksum_mismatch"
	StateConflict       Kind = "state_conflict"
)

// Error is the concrete error type carried by every Kind above.
type Error struct {
	Kind   Kind
	Op     string // operation that failed, e.g. "structure.Load"
	Path   string // parameter/element path, if applicable
	Detail string // human detail, e.g. violating kind name
	Err    error  // wrapped cause, if any
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.Path != "" {
		msg += fmt.Sprintf(" (%s)", e.Path)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is supports errors.Is(err, paramerrors.New(kind, ...)) by comparing Kind.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// New constructs an *Error. Use New(kind, op) and chain With* helpers,
// or call it with all fields at once via the struct literal directly.
func New(kind Kind, op string) *Error {
	return &Error{Kind: kind, Op: op}
}

func (e *Error) WithPath(path string) *Error {
	e.Path = path
	return e
}

func (e *Error) WithDetail(detail string) *Error {
	e.Detail = detail
	return e
}

func (e *Error) WithErr(err error) *Error {
	e.Err = err
	return e
}

// Wrap attaches op/kind context to an arbitrary error without losing it.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Of reports whether err (or something it wraps) carries the given Kind.
func Of(err error, kind Kind) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind == kind
	}
	return false
}
