package engine

import (
	"fmt"
	"io"

	errs "github.com/FocuswithJustin/sqlcompact/core/errors"
	"github.com/FocuswithJustin/sqlcompact/core/sqlite/internal/parser"
	"github.com/FocuswithJustin/sqlcompact/core/sqlite/internal/record"
)

// Result represents the result of executing a SQL statement.
type Result struct {
	// Columns contains the names of result columns (for SELECT)
	Columns []string

	// Rows contains all result rows (for SELECT)
	Rows [][]record.Value

	// RowsAffected is the number of rows affected (for INSERT/UPDATE/DELETE)
	RowsAffected int64

	// LastInsertID is the last inserted rowid (for INSERT)
	LastInsertID int64
}

// RowCount returns the number of rows in the result.
func (r *Result) RowCount() int {
	return len(r.Rows)
}

// ColumnCount returns the number of columns in the result.
func (r *Result) ColumnCount() int {
	return len(r.Columns)
}

// Execute runs every statement in sql and returns the result of the last
// one. Arguments may only be given when sql holds a single statement.
func (e *Engine) Execute(sql string, args ...any) (*Result, error) {
	if e.closed {
		return nil, errClosed
	}
	p := parser.NewParser(sql)
	stmts, err := p.Parse()
	if err != nil {
		return nil, err
	}
	if len(args) > 0 && len(stmts) != 1 {
		return nil, errs.New(errs.MISUSE, "arguments need exactly one statement")
	}

	result := &Result{}
	for _, ast := range stmts {
		s := &Stmt{e: e, sql: sql, ast: ast, nparams: p.ParamCount()}
		s.args = make([]record.Value, s.nparams)
		if err := s.BindAll(args...); err != nil {
			return nil, err
		}
		if err := s.describe(); err != nil {
			return nil, err
		}
		result = &Result{Columns: s.columns}
		for {
			ok, err := s.Step()
			if err != nil {
				return nil, err
			}
			if !ok {
				break
			}
			result.Rows = append(result.Rows, append([]record.Value(nil), s.row...))
		}
		result.RowsAffected = s.changes
		result.LastInsertID = e.lastInsertRowid
	}
	return result, nil
}

// Exec executes a statement and returns the number of affected rows.
func (e *Engine) Exec(sql string, args ...any) (int64, error) {
	result, err := e.Execute(sql, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected, nil
}

// Query prepares sql, binds args and returns an iterator over its rows.
func (e *Engine) Query(sql string, args ...any) (*Rows, error) {
	s, err := e.Prepare(sql)
	if err != nil {
		return nil, err
	}
	if err := s.BindAll(args...); err != nil {
		s.Finalize()
		return nil, err
	}
	return &Rows{stmt: s, columns: s.columns}, nil
}

// Rows represents an iterator over query results.
// This is similar to database/sql.Rows.
type Rows struct {
	stmt    *Stmt
	columns []string
	done    bool
	current []record.Value
	err     error
}

// Next advances to the next result row.
// Returns true if there is a row, false if no more rows or an error occurred.
func (r *Rows) Next() bool {
	if r.done {
		return false
	}
	ok, err := r.stmt.Step()
	if err != nil || !ok {
		r.err = err
		r.Close()
		return false
	}
	r.current = r.stmt.row
	return true
}

// Values returns the current row.
func (r *Rows) Values() []record.Value {
	return r.current
}

// Scan copies the columns from the current row into the values pointed at by dest.
// The number of values in dest must match the number of columns.
func (r *Rows) Scan(dest ...any) error {
	if r.current == nil {
		return fmt.Errorf("no current row")
	}
	if len(dest) != len(r.current) {
		return fmt.Errorf("expected %d destinations, got %d", len(r.current), len(dest))
	}
	for i, v := range r.current {
		if err := scanInto(v, dest[i]); err != nil {
			return fmt.Errorf("error scanning column %d: %w", i, err)
		}
	}
	return nil
}

// Close closes the Rows, preventing further enumeration.
func (r *Rows) Close() error {
	if r.done {
		return nil
	}
	r.done = true
	r.current = nil
	return r.stmt.Finalize()
}

// Columns returns the column names.
func (r *Rows) Columns() []string {
	return r.columns
}

// Err returns the error, if any, that was encountered during iteration.
func (r *Rows) Err() error {
	return r.err
}

// scanInto stores v in the variable dest points to.
func scanInto(v record.Value, dest any) error {
	switch d := dest.(type) {
	case *any:
		*d = v.Go()
	case *record.Value:
		*d = v
	case *int:
		*d = int(v.Int64())
	case *int64:
		*d = v.Int64()
	case *float64:
		*d = v.Float64()
	case *string:
		*d = v.Text()
	case *[]byte:
		if v.IsNull() {
			*d = nil
		} else {
			*d = append([]byte(nil), v.Bytes()...)
		}
	case *bool:
		*d = v.Truth()
	default:
		return fmt.Errorf("unsupported scan destination type: %T", dest)
	}
	return nil
}

// Tx represents a database transaction.
type Tx struct {
	engine *Engine
	done   bool
}

// Begin starts a deferred transaction.
func (e *Engine) Begin() (*Tx, error) {
	if _, err := e.Execute("BEGIN"); err != nil {
		return nil, err
	}
	return &Tx{engine: e}, nil
}

// Commit commits the transaction.
func (tx *Tx) Commit() error {
	if tx.done {
		return fmt.Errorf("transaction already finished")
	}
	if _, err := tx.engine.Execute("COMMIT"); err != nil {
		return fmt.Errorf("commit failed: %w", err)
	}
	tx.done = true
	return nil
}

// Rollback rolls back the transaction.
func (tx *Tx) Rollback() error {
	if tx.done {
		return fmt.Errorf("transaction already finished")
	}
	tx.done = true
	if tx.engine.autoCommit {
		return nil
	}
	if _, err := tx.engine.Execute("ROLLBACK"); err != nil {
		return fmt.Errorf("rollback failed: %w", err)
	}
	return nil
}

// Execute executes a SQL statement within the transaction.
func (tx *Tx) Execute(sql string, args ...any) (*Result, error) {
	if tx.done {
		return nil, fmt.Errorf("transaction already finished")
	}
	return tx.engine.Execute(sql, args...)
}

// Query executes a query within the transaction.
func (tx *Tx) Query(sql string, args ...any) (*Rows, error) {
	if tx.done {
		return nil, fmt.Errorf("transaction already finished")
	}
	return tx.engine.Query(sql, args...)
}

// Exec executes a statement within the transaction.
func (tx *Tx) Exec(sql string, args ...any) (int64, error) {
	if tx.done {
		return 0, fmt.Errorf("transaction already finished")
	}
	return tx.engine.Exec(sql, args...)
}

// QueryRow is a query expected to return at most one row.
type QueryRow struct {
	rows *Rows
	err  error
}

// QueryRow executes a query that is expected to return at most one row.
func (e *Engine) QueryRow(sql string, args ...any) *QueryRow {
	rows, err := e.Query(sql, args...)
	if err != nil {
		return &QueryRow{err: err}
	}
	return &QueryRow{rows: rows}
}

// Scan scans the first row into dest. It returns io.EOF when there is none.
func (qr *QueryRow) Scan(dest ...any) error {
	if qr.err != nil {
		return qr.err
	}
	defer qr.rows.Close()

	if !qr.rows.Next() {
		if err := qr.rows.Err(); err != nil {
			return err
		}
		return io.EOF
	}
	return qr.rows.Scan(dest...)
}
