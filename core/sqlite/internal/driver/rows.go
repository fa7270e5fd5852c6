package driver

import (
	"context"
	"database/sql/driver"
	"io"
	"reflect"

	"github.com/FocuswithJustin/sqlcompact/core/sqlite/internal/record"
)

// Rows implements database/sql/driver.Rows by stepping the statement.
type Rows struct {
	stmt    *Stmt
	columns []string
	ctx     context.Context
	current []record.Value
	closed  bool
}

// Columns returns the column names.
func (r *Rows) Columns() []string {
	return r.columns
}

// Close resets the statement so it can be run again.
func (r *Rows) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.current = nil

	r.stmt.conn.mu.Lock()
	defer r.stmt.conn.mu.Unlock()
	return r.stmt.stmt.Reset()
}

// Next advances to the next row and copies its values into dest.
func (r *Rows) Next(dest []driver.Value) error {
	if r.closed {
		return io.EOF
	}
	if err := r.ctx.Err(); err != nil {
		return err
	}

	r.stmt.conn.mu.Lock()
	ok, err := r.stmt.stmt.Step()
	r.stmt.conn.mu.Unlock()
	if err != nil {
		return err
	}
	if !ok {
		r.current = nil
		return io.EOF
	}
	r.current = r.stmt.stmt.Row()
	for i := range dest {
		if i < len(r.current) {
			dest[i] = r.current[i].Go()
		}
	}
	return nil
}

// ColumnTypeScanType returns the Go type of the column in the current row.
// SQLite is dynamically typed, so columns without a row scan as any.
func (r *Rows) ColumnTypeScanType(index int) reflect.Type {
	if index < len(r.current) {
		if v := r.current[index].Go(); v != nil {
			return reflect.TypeOf(v)
		}
	}
	return reflect.TypeOf((*any)(nil)).Elem()
}

// ColumnTypeDatabaseTypeName returns the storage class of the column in the
// current row.
func (r *Rows) ColumnTypeDatabaseTypeName(index int) string {
	if index >= len(r.current) {
		return ""
	}
	switch r.current[index].Type() {
	case record.TypeInteger:
		return "INTEGER"
	case record.TypeFloat:
		return "REAL"
	case record.TypeText:
		return "TEXT"
	case record.TypeBlob:
		return "BLOB"
	}
	return "NULL"
}
