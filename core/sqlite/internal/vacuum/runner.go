package vacuum

import (
	"errors"
	"fmt"
)

// Runner executes the statements of a run on one connection.
type Runner struct {
	conn Conn
}

// NewRunner returns a Runner over conn.
func NewRunner(conn Conn) *Runner {
	return &Runner{conn: conn}
}

// Run compiles and runs a single statement to completion. The statement
// must not return rows.
func (r *Runner) Run(sql string) error {
	if sql == "" {
		return ErrOutOfMemory
	}
	stmt, err := r.conn.Prepare(sql)
	if err != nil {
		return &StatementError{SQL: sql, Err: err}
	}
	row, err := stmt.Step()
	if err == nil && row {
		err = internalError("run", errors.New("statement returned a row: "+sql))
	} else if err != nil {
		err = &StatementError{SQL: sql, Err: err}
	}
	if ferr := stmt.Finalize(); err == nil && ferr != nil {
		err = &StatementError{SQL: sql, Err: ferr}
	}
	return err
}

// RunGenerated steps a query whose rows each hold one statement and runs
// every statement before advancing. The first failure stops the iteration.
// The query must return exactly one column.
func (r *Runner) RunGenerated(sql string) (err error) {
	if sql == "" {
		return ErrOutOfMemory
	}
	gen, err := r.conn.Prepare(sql)
	if err != nil {
		return &StatementError{SQL: sql, Err: err}
	}
	defer func() {
		if ferr := gen.Finalize(); err == nil && ferr != nil {
			err = &StatementError{SQL: sql, Err: ferr}
		}
	}()
	if n := gen.ColumnCount(); n != 1 {
		return internalError("run generated", fmt.Errorf("generator returned %d columns: %s", n, sql))
	}

	for {
		row, err := gen.Step()
		if err != nil {
			return &StatementError{SQL: sql, Err: err}
		}
		if !row {
			return nil
		}
		if err := r.Run(gen.ColumnText(0)); err != nil {
			return err
		}
	}
}
