package vacuum

import (
	"github.com/FocuswithJustin/sqlcompact/core/sqlite/internal/pager"
)

// Flags is the connection flag word a run saves and restores.
type Flags uint32

const (
	// WriteSchema permits direct writes to sqlite_master.
	WriteSchema Flags = 1 << iota
	// IgnoreChecks suppresses CHECK constraint evaluation.
	IgnoreChecks
)

// Stmt is a compiled statement.
type Stmt interface {
	// Step advances to the next result row. It reports false once the
	// statement has run to completion.
	Step() (bool, error)
	ColumnCount() int
	ColumnText(i int) string
	Finalize() error
}

// Conn is the connection a run compacts. The engine's connection implements
// it.
type Conn interface {
	// AutoCommit reports whether no explicit transaction is open.
	AutoCommit() bool
	// SetAutoCommit(true) leaves any explicit transaction, rolling back
	// whatever has not been committed.
	SetAutoCommit(on bool)

	Flags() Flags
	SetFlags(f Flags)

	// Changes returns the last statement's row changes and the running total.
	Changes() (changes, total int64)
	SetChanges(changes, total int64)

	// PendingPageSize is the page size requested with PRAGMA page_size on a
	// non-empty database; 0 when none.
	PendingPageSize() int
	SetPendingPageSize(size int)
	// PendingAutoVacuum is the auto-vacuum mode requested on a non-empty
	// database, if any.
	PendingAutoVacuum() (pager.AutoVacuum, bool)

	// Store returns the page store of the named database.
	Store(schema string) (*pager.Pager, error)

	Prepare(sql string) (Stmt, error)

	// ResetSchemas drops every cached schema so the next statement reloads
	// it from disk.
	ResetSchemas()
}
