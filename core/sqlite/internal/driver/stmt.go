package driver

import (
	"context"
	"database/sql/driver"
	"fmt"

	errs "github.com/FocuswithJustin/sqlcompact/core/errors"
	"github.com/FocuswithJustin/sqlcompact/core/sqlite/internal/engine"
	"github.com/FocuswithJustin/sqlcompact/core/sqlite/internal/record"
)

// Stmt implements database/sql/driver.Stmt over a prepared engine statement.
type Stmt struct {
	conn   *Conn
	stmt   *engine.Stmt
	closed bool
}

// Close finalizes the statement.
func (s *Stmt) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.stmt.Finalize()
	s.conn.removeStmt(s)
	return err
}

// NumInput returns the number of placeholder parameters.
func (s *Stmt) NumInput() int {
	return s.stmt.ParamCount()
}

// Exec executes a statement that doesn't return rows.
func (s *Stmt) Exec(args []driver.Value) (driver.Result, error) {
	return s.ExecContext(context.Background(), valuesToNamedValues(args))
}

// ExecContext runs the statement to completion, discarding any rows.
func (s *Stmt) ExecContext(ctx context.Context, args []driver.NamedValue) (driver.Result, error) {
	if err := s.start(ctx, args); err != nil {
		return nil, err
	}
	s.conn.mu.Lock()
	defer s.conn.mu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			s.stmt.Reset()
			return nil, err
		}
		ok, err := s.stmt.Step()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
	}
	return &Result{
		lastInsertID: s.conn.engine.LastInsertRowid(),
		rowsAffected: s.stmt.RowsAffected(),
	}, nil
}

// Query executes a query that returns rows.
func (s *Stmt) Query(args []driver.Value) (driver.Rows, error) {
	return s.QueryContext(context.Background(), valuesToNamedValues(args))
}

// QueryContext binds args and returns an iterator stepping the statement.
func (s *Stmt) QueryContext(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	if err := s.start(ctx, args); err != nil {
		return nil, err
	}
	return &Rows{stmt: s, columns: s.stmt.ColumnNames(), ctx: ctx}, nil
}

// start resets the statement and binds args by position or name.
func (s *Stmt) start(ctx context.Context, args []driver.NamedValue) error {
	if s.closed {
		return driver.ErrBadConn
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.conn.mu.Lock()
	defer s.conn.mu.Unlock()

	if tx := s.conn.tx; tx != nil && tx.readOnly && !s.stmt.ReadOnly() {
		return errs.New(errs.READONLY, "attempt to write in a read-only transaction")
	}
	if err := s.stmt.Reset(); err != nil {
		return err
	}
	s.stmt.ClearBindings()
	for _, a := range args {
		v, err := record.FromGo(a.Value)
		if err != nil {
			return errs.WithCode(errs.MISMATCH, err)
		}
		idx := a.Ordinal
		if a.Name != "" {
			if idx = s.paramIndex(a.Name); idx == 0 {
				return errs.Newf(errs.RANGE, "no parameter named %s", a.Name)
			}
		}
		if err := s.stmt.Bind(idx, v); err != nil {
			return err
		}
	}
	return nil
}

func (s *Stmt) paramIndex(name string) int {
	for _, prefix := range []string{":", "@", "$"} {
		if i := s.stmt.ParamIndex(prefix + name); i > 0 {
			return i
		}
	}
	return 0
}

func valuesToNamedValues(args []driver.Value) []driver.NamedValue {
	named := make([]driver.NamedValue, len(args))
	for i, v := range args {
		named[i] = driver.NamedValue{Ordinal: i + 1, Value: v}
	}
	return named
}

// String identifies the statement in logs.
func (s *Stmt) String() string {
	return fmt.Sprintf("Stmt(%q)", s.stmt.SQL())
}
