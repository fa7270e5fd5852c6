package driver

import (
	"database/sql/driver"
	"fmt"

	"github.com/FocuswithJustin/sqlcompact/core/sqlite/internal/pager"
)

// Tx implements database/sql/driver.Tx.
type Tx struct {
	conn     *Conn
	readOnly bool
	closed   bool
}

// Commit commits the transaction.
func (tx *Tx) Commit() error {
	return tx.finish("COMMIT")
}

// Rollback rolls back the transaction. Rolling back a finished transaction
// is a no-op.
func (tx *Tx) Rollback() error {
	if tx.closed {
		return nil
	}
	return tx.finish("ROLLBACK")
}

func (tx *Tx) finish(sql string) error {
	if tx.closed {
		return driver.ErrBadConn
	}
	tx.conn.mu.Lock()
	defer tx.conn.mu.Unlock()

	tx.closed = true
	tx.conn.tx = nil
	if tx.conn.engine.AutoCommit() {
		// A failed statement already ended it.
		return nil
	}
	if _, err := tx.conn.engine.Execute(sql); err != nil {
		return fmt.Errorf("%s failed: %w", sql, err)
	}
	return nil
}

// IsReadOnly reports whether the transaction was opened read-only.
func (tx *Tx) IsReadOnly() bool {
	return tx.readOnly
}

// IsClosed reports whether the transaction has been committed or rolled back.
func (tx *Tx) IsClosed() bool {
	return tx.closed
}

// Savepoint creates a named savepoint on the main database.
func (tx *Tx) Savepoint(name string) error {
	return tx.savepointOp(func(p *pager.Pager) error { return p.Savepoint(name) })
}

// ReleaseSavepoint releases a savepoint and every savepoint opened after it.
func (tx *Tx) ReleaseSavepoint(name string) error {
	return tx.savepointOp(func(p *pager.Pager) error { return p.Release(name) })
}

// RollbackToSavepoint undoes the work done since the savepoint.
func (tx *Tx) RollbackToSavepoint(name string) error {
	return tx.savepointOp(func(p *pager.Pager) error {
		if err := p.RollbackTo(name); err != nil {
			return err
		}
		tx.conn.engine.ResetSchemas()
		return nil
	})
}

func (tx *Tx) savepointOp(op func(*pager.Pager) error) error {
	if tx.closed {
		return driver.ErrBadConn
	}
	if tx.readOnly {
		return fmt.Errorf("cannot use savepoints in a read-only transaction")
	}
	tx.conn.mu.Lock()
	defer tx.conn.mu.Unlock()

	return op(tx.conn.engine.GetPager())
}
