// Package errors provides the result codes and typed errors shared by the
// storage engine, the compaction core and the public API.
package errors

import (
	"errors"
	"fmt"
)

// Code is a primary result code. The numeric values match the codes used in
// the on-disk engine's C API so they round-trip through tools that print them.
type Code int

const (
	OK         Code = 0
	ERROR      Code = 1
	INTERNAL   Code = 2
	PERM       Code = 3
	ABORT      Code = 4
	BUSY       Code = 5
	LOCKED     Code = 6
	NOMEM      Code = 7
	READONLY   Code = 8
	IOERR      Code = 10
	CORRUPT    Code = 11
	NOTFOUND   Code = 12
	FULL       Code = 13
	CANTOPEN   Code = 14
	SCHEMA     Code = 17
	TOOBIG     Code = 18
	CONSTRAINT Code = 19
	MISMATCH   Code = 20
	MISUSE     Code = 21
	RANGE      Code = 25
	NOTADB     Code = 26
)

var codeNames = map[Code]string{
	OK:         "not an error",
	ERROR:      "SQL logic error",
	INTERNAL:   "internal error",
	PERM:       "access permission denied",
	ABORT:      "query aborted",
	BUSY:       "database is locked",
	LOCKED:     "database table is locked",
	NOMEM:      "out of memory",
	READONLY:   "attempt to write a readonly database",
	IOERR:      "disk I/O error",
	CORRUPT:    "database disk image is malformed",
	NOTFOUND:   "unknown operation",
	FULL:       "database or disk is full",
	CANTOPEN:   "unable to open database file",
	SCHEMA:     "database schema has changed",
	TOOBIG:     "string or blob too big",
	CONSTRAINT: "constraint failed",
	MISMATCH:   "datatype mismatch",
	MISUSE:     "bad parameter or other API misuse",
	RANGE:      "column index out of range",
	NOTADB:     "file is not a database",
}

// String returns the engine's canonical message for the code.
func (c Code) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("unknown error (%d)", int(c))
}

// Sentinel errors for common cases
var (
	// ErrNotFound indicates a schema object or database was not found
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput indicates invalid input or validation failure
	ErrInvalidInput = errors.New("invalid input")
	// ErrAlreadyExists indicates a schema object already exists
	ErrAlreadyExists = errors.New("already exists")
	// ErrInternal indicates an internal invariant was violated
	ErrInternal = errors.New("internal error")
	// ErrUnsupported indicates an unsupported statement or feature
	ErrUnsupported = errors.New("unsupported")
	// ErrBusy indicates a lock could not be obtained
	ErrBusy = errors.New("database is locked")
)

// Error is an engine error carrying a result code and an optional message.
type Error struct {
	Code Code
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	case e.Msg != "":
		return e.Msg
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return e.Code.String()
}

func (e *Error) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	switch e.Code {
	case BUSY, LOCKED:
		return ErrBusy
	case INTERNAL:
		return ErrInternal
	}
	return nil
}

// New returns an Error with the given code and message.
func New(code Code, msg string) error {
	return &Error{Code: code, Msg: msg}
}

// Newf returns an Error with the given code and formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// WithCode attaches a result code to err. A nil err yields nil.
func WithCode(code Code, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Err: err}
}

// CodeOf extracts the result code from err. Errors without one report ERROR;
// nil reports OK.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	var c interface{ ResultCode() Code }
	if errors.As(err, &c) {
		return c.ResultCode()
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	switch {
	case errors.Is(err, ErrBusy):
		return BUSY
	case errors.Is(err, ErrInternal):
		return INTERNAL
	}
	return ERROR
}

// NotFoundError represents a missing schema object or attached database.
type NotFoundError struct {
	Resource string // "table", "index", "database", ...
	ID       string
	Err      error
}

func (e *NotFoundError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("no such %s: %s", e.Resource, e.ID)
	}
	return fmt.Sprintf("no such %s", e.Resource)
}

func (e *NotFoundError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrNotFound
}

// ResultCode implements the code carrier used by CodeOf.
func (e *NotFoundError) ResultCode() Code { return ERROR }

// ValidationError represents an input validation error with context
type ValidationError struct {
	Field   string
	Value   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

func (e *ValidationError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrInvalidInput
}

// ResultCode implements the code carrier used by CodeOf.
func (e *ValidationError) ResultCode() Code { return MISUSE }

// IOError represents a page-store I/O failure.
type IOError struct {
	Operation string // "read", "write", "sync", "truncate", "lock"
	Path      string
	Err       error
}

func (e *IOError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("failed to %s %s: %v", e.Operation, e.Path, e.Err)
	}
	return fmt.Sprintf("failed to %s: %v", e.Operation, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// ResultCode implements the code carrier used by CodeOf.
func (e *IOError) ResultCode() Code {
	var inner *Error
	if errors.As(e.Err, &inner) {
		return inner.Code
	}
	return IOERR
}

// ParseError represents a syntax error in SQL text.
type ParseError struct {
	Near    string
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Near != "" {
		return fmt.Sprintf("near %q: %s", e.Near, e.Message)
	}
	return e.Message
}

func (e *ParseError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrInvalidInput
}

// ResultCode implements the code carrier used by CodeOf.
func (e *ParseError) ResultCode() Code { return ERROR }

// UnsupportedError represents an unsupported statement or feature
type UnsupportedError struct {
	Feature string
	Reason  string
	Err     error
}

func (e *UnsupportedError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("unsupported %s: %s", e.Feature, e.Reason)
	}
	return fmt.Sprintf("unsupported %s", e.Feature)
}

func (e *UnsupportedError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrUnsupported
}

// ResultCode implements the code carrier used by CodeOf.
func (e *UnsupportedError) ResultCode() Code { return ERROR }

// ConstraintError reports a violated NOT NULL, UNIQUE, CHECK or PRIMARY KEY
// constraint.
type ConstraintError struct {
	Kind   string // "NOT NULL", "UNIQUE", "CHECK", "PRIMARY KEY"
	Target string // "t.a" or the CHECK expression
}

func (e *ConstraintError) Error() string {
	return fmt.Sprintf("%s constraint failed: %s", e.Kind, e.Target)
}

// ResultCode implements the code carrier used by CodeOf.
func (e *ConstraintError) ResultCode() Code { return CONSTRAINT }

// NewNotFound creates a new NotFoundError
func NewNotFound(resource, id string) error {
	return &NotFoundError{Resource: resource, ID: id}
}

// NewValidation creates a new ValidationError
func NewValidation(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// NewIO creates a new IOError
func NewIO(operation, path string, err error) error {
	return &IOError{Operation: operation, Path: path, Err: err}
}

// NewParse creates a new ParseError
func NewParse(near, message string) error {
	return &ParseError{Near: near, Message: message}
}

// NewUnsupported creates a new UnsupportedError
func NewUnsupported(feature, reason string) error {
	return &UnsupportedError{Feature: feature, Reason: reason}
}

// NewConstraint creates a new ConstraintError
func NewConstraint(kind, target string) error {
	return &ConstraintError{Kind: kind, Target: target}
}

// Wrap wraps an error with additional context message
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}
