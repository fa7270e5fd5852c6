package driver

import (
	"context"
	"database/sql/driver"
	"fmt"
	"sync"

	"github.com/FocuswithJustin/sqlcompact/core/sqlite/internal/engine"
	"github.com/FocuswithJustin/sqlcompact/core/sqlite/internal/vacuum"
)

// Conn implements database/sql/driver.Conn over one engine.
type Conn struct {
	engine *engine.Engine
	stmts  map[*Stmt]struct{}
	mu     sync.Mutex
	closed bool
	tx     *Tx
}

// Prepare prepares a SQL statement.
func (c *Conn) Prepare(query string) (driver.Stmt, error) {
	return c.PrepareContext(context.Background(), query)
}

// PrepareContext prepares a SQL statement.
func (c *Conn) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, driver.ErrBadConn
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	es, err := c.engine.Prepare(query)
	if err != nil {
		return nil, err
	}
	stmt := &Stmt{conn: c, stmt: es}
	c.stmts[stmt] = struct{}{}
	return stmt, nil
}

// ExecContext runs a script of statements without arguments in one call.
// Anything else goes through Prepare.
func (c *Conn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, driver.ErrBadConn
	}
	if len(args) > 0 || (c.tx != nil && c.tx.readOnly) {
		return nil, driver.ErrSkip
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res, err := c.engine.Execute(query)
	if err != nil {
		return nil, err
	}
	return &Result{lastInsertID: res.LastInsertID, rowsAffected: res.RowsAffected}, nil
}

// Close finalizes every open statement, rolls back any open transaction and
// closes the engine.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	for stmt := range c.stmts {
		stmt.stmt.Finalize()
		stmt.closed = true
	}
	c.stmts = nil
	c.closed = true
	return c.engine.Close()
}

// Begin starts a transaction.
func (c *Conn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

// BeginTx starts a transaction. Read-only transactions begin DEFERRED and
// refuse writes; others begin IMMEDIATE.
func (c *Conn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, driver.ErrBadConn
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.tx != nil || !c.engine.AutoCommit() {
		return nil, fmt.Errorf("transaction already in progress")
	}
	sql := "BEGIN IMMEDIATE"
	if opts.ReadOnly {
		sql = "BEGIN DEFERRED"
	}
	if _, err := c.engine.Execute(sql); err != nil {
		return nil, err
	}
	c.tx = &Tx{conn: c, readOnly: opts.ReadOnly}
	return c.tx, nil
}

// Ping verifies the connection is still alive.
func (c *Conn) Ping(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return driver.ErrBadConn
	}
	return nil
}

// ResetSession is called before a pooled connection is reused.
func (c *Conn) ResetSession(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return driver.ErrBadConn
	}
	if c.tx != nil {
		return fmt.Errorf("cannot reset session with active transaction")
	}
	return nil
}

// IsValid reports whether the connection can be reused.
func (c *Conn) IsValid() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// CheckNamedValue converts arguments the engine understands and leaves the
// rest to the default converter.
func (c *Conn) CheckNamedValue(nv *driver.NamedValue) error {
	v, err := sqlcompactConverter.ConvertValue(nv.Value)
	if err != nil {
		return driver.ErrSkip
	}
	nv.Value = v
	return nil
}

// Engine returns the engine behind the connection, for use through
// sql.Conn.Raw.
func (c *Conn) Engine() *engine.Engine {
	return c.engine
}

// Vacuum rebuilds the main database with the given page reserve.
func (c *Conn) Vacuum(ctx context.Context, reserve int) (*vacuum.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, driver.ErrBadConn
	}
	return c.engine.Vacuum(ctx, reserve)
}

// Script runs every statement in sql and returns the rows of the last one.
func (c *Conn) Script(ctx context.Context, sql string) (*engine.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, driver.ErrBadConn
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.engine.Execute(sql)
}

func (c *Conn) removeStmt(stmt *Stmt) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.stmts, stmt)
}
