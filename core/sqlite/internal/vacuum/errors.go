package vacuum

import (
	"errors"
	"fmt"

	errs "github.com/FocuswithJustin/sqlcompact/core/errors"
)

var (
	// ErrInvalidState reports a run attempted inside an explicit transaction.
	ErrInvalidState = errs.New(errs.ERROR, "cannot VACUUM from within a transaction")

	// ErrOutOfMemory reports an empty statement or a scratch store that
	// could not take the requested geometry.
	ErrOutOfMemory = errs.New(errs.NOMEM, "out of memory")

	// ErrActiveStatements reports a run attempted while another statement
	// on the connection is still stepping.
	ErrActiveStatements = errs.New(errs.LOCKED, "cannot VACUUM - SQL statements in progress")
)

// StatementError is a compile or step failure of one SQL statement the run
// issued.
type StatementError struct {
	SQL string
	Err error
}

func (e *StatementError) Error() string { return e.Err.Error() }
func (e *StatementError) Unwrap() error { return e.Err }

// ResultCode reports the engine code of the failed statement.
func (e *StatementError) ResultCode() errs.Code { return errs.CodeOf(e.Err) }

// StoreError is a page-store failure during configuration or the swap.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *StoreError) Unwrap() error { return e.Err }

// ResultCode reports the store's code, IOERR when it has none.
func (e *StoreError) ResultCode() errs.Code {
	var c interface{ ResultCode() errs.Code }
	var ce *errs.Error
	if errors.As(e.Err, &c) || errors.As(e.Err, &ce) {
		return errs.CodeOf(e.Err)
	}
	return errs.IOERR
}

// internalError marks a broken invariant. The run stops and reports INTERNAL.
func internalError(op string, err error) error {
	return &errs.Error{Code: errs.INTERNAL, Msg: "vacuum: " + op, Err: err}
}
