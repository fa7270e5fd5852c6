// Package engine executes SQL against a main database and any databases
// attached to it. It ties together the pager, btree, schema, parser and
// function packages and runs each statement by walking its syntax tree.
//
// An Engine is one connection. It must not be used by more than one
// goroutine at a time.
package engine

import (
	"fmt"
	"strings"
	"time"

	errs "github.com/FocuswithJustin/sqlcompact/core/errors"
	"github.com/FocuswithJustin/sqlcompact/core/sqlite/internal/btree"
	"github.com/FocuswithJustin/sqlcompact/core/sqlite/internal/functions"
	"github.com/FocuswithJustin/sqlcompact/core/sqlite/internal/pager"
	"github.com/FocuswithJustin/sqlcompact/core/sqlite/internal/parser"
	"github.com/FocuswithJustin/sqlcompact/core/sqlite/internal/schema"
	"github.com/FocuswithJustin/sqlcompact/core/sqlite/internal/vacuum"
)

// Flags are connection flags.
type Flags = vacuum.Flags

const (
	FlagWriteSchema  = vacuum.WriteSchema
	FlagIgnoreChecks = vacuum.IgnoreChecks
)

const (
	// MainSchema is the name of the database the engine was opened on.
	MainSchema = "main"

	maxAttached   = 10
	stmtSavepoint = "stmt"
)

// Options configures an Engine. Zero values select the defaults.
type Options struct {
	ReadOnly    bool
	PageSize    int
	Reserve     int
	Codec       pager.Codec
	CacheSize   int
	BusyTimeout time.Duration

	// Opener opens the files of the main and attached databases.
	Opener pager.Opener
}

func (o Options) pagerOptions() pager.Options {
	return pager.Options{
		PageSize:    o.PageSize,
		Reserve:     o.Reserve,
		ReadOnly:    o.ReadOnly,
		Codec:       o.Codec,
		CacheSize:   o.CacheSize,
		BusyTimeout: o.BusyTimeout,
		Opener:      o.Opener,
	}
}

// Database is the main database or an attached one.
type Database struct {
	Name string

	pager  *pager.Pager
	bt     *btree.Btree
	schema *schema.Schema
	loaded bool
}

func newDatabase(name string, pg *pager.Pager) *Database {
	return &Database{Name: name, pager: pg, bt: btree.New(pg), schema: schema.NewSchema()}
}

// Pager returns the database's page store.
func (d *Database) Pager() *pager.Pager { return d.pager }

// Btree returns the b-tree layer over the page store.
func (d *Database) Btree() *btree.Btree { return d.bt }

// Engine is a database connection.
type Engine struct {
	dbs   []*Database
	opts  Options
	funcs *functions.Registry

	flags           Flags
	changes         int64
	totalChanges    int64
	lastInsertRowid int64
	autoCommit      bool

	pendingPageSize   int
	pendingAutoVacuum pager.AutoVacuum
	hasPendingAutoVac bool

	// active counts statements that have returned a row and not finished.
	active int
	closed bool
}

// Open opens or creates a database at filename.
func Open(filename string) (*Engine, error) {
	return OpenWithOptions(filename, Options{})
}

// OpenWithOptions opens or creates a database with specific options. The
// schema is read once so a file that is not a database fails here.
func OpenWithOptions(filename string, opts Options) (*Engine, error) {
	pg, err := pager.OpenWithOptions(filename, opts.pagerOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to open pager: %w", err)
	}
	e := &Engine{
		dbs:        []*Database{newDatabase(MainSchema, pg)},
		opts:       opts,
		funcs:      functions.DefaultRegistry(),
		autoCommit: true,
	}
	if _, err := e.schemaOf(e.dbs[0]); err != nil {
		pg.Close()
		return nil, fmt.Errorf("failed to load schema: %w", err)
	}
	e.endReads()
	return e, nil
}

// Close rolls back any open transaction and closes every database.
func (e *Engine) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	var first error
	for i := len(e.dbs) - 1; i >= 0; i-- {
		if err := e.dbs[i].pager.Close(); err != nil && first == nil {
			first = fmt.Errorf("failed to close %s: %w", e.dbs[i].Name, err)
		}
	}
	e.dbs = nil
	return first
}

// GetSchema returns the catalog of the main database.
func (e *Engine) GetSchema() *schema.Schema {
	s, _ := e.schemaOf(e.dbs[0])
	return s
}

// GetPager returns the page store of the main database.
func (e *Engine) GetPager() *pager.Pager {
	return e.dbs[0].pager
}

// IsReadOnly reports whether the main database was opened read-only.
func (e *Engine) IsReadOnly() bool {
	return e.opts.ReadOnly
}

// Functions returns the connection's function registry.
func (e *Engine) Functions() *functions.Registry {
	return e.funcs
}

// Databases returns the main database followed by the attached ones.
func (e *Engine) Databases() []*Database {
	return append([]*Database(nil), e.dbs...)
}

// Database returns the database called name; "" means main.
func (e *Engine) Database(name string) (*Database, error) {
	if name == "" {
		return e.dbs[0], nil
	}
	for _, db := range e.dbs {
		if strings.EqualFold(db.Name, name) {
			return db, nil
		}
	}
	return nil, errs.Newf(errs.ERROR, "unknown database %s", name)
}

// Schema returns the current catalog of the named database.
func (e *Engine) Schema(name string) (*schema.Schema, error) {
	db, err := e.Database(name)
	if err != nil {
		return nil, err
	}
	return e.schemaOf(db)
}

// AutoCommit reports whether no explicit transaction is open.
func (e *Engine) AutoCommit() bool { return e.autoCommit }

// SetAutoCommit switches auto-commit mode. Turning it on rolls back every
// write transaction still open.
func (e *Engine) SetAutoCommit(on bool) {
	if on {
		for _, db := range e.dbs {
			if db.pager.InTransaction() {
				db.pager.Rollback()
				db.loaded = false
			}
		}
		if e.active == 0 {
			e.endReads()
		}
	}
	e.autoCommit = on
}

// Flags returns the connection flags.
func (e *Engine) Flags() Flags { return e.flags }

// SetFlags replaces the connection flags.
func (e *Engine) SetFlags(f Flags) { e.flags = f }

func (e *Engine) hasFlag(f Flags) bool { return e.flags&f != 0 }

// Changes returns the rows changed by the last INSERT, UPDATE or DELETE and
// the total since the connection opened.
func (e *Engine) Changes() (changes, total int64) { return e.changes, e.totalChanges }

// SetChanges overwrites both change counters.
func (e *Engine) SetChanges(changes, total int64) {
	e.changes, e.totalChanges = changes, total
}

// LastInsertRowid returns the rowid of the most recent successful insert.
func (e *Engine) LastInsertRowid() int64 { return e.lastInsertRowid }

// PendingPageSize returns the page size the next VACUUM will use, or 0.
func (e *Engine) PendingPageSize() int { return e.pendingPageSize }

// SetPendingPageSize sets the page size the next VACUUM will use.
func (e *Engine) SetPendingPageSize(size int) { e.pendingPageSize = size }

// PendingAutoVacuum returns the auto-vacuum mode the next VACUUM will use.
func (e *Engine) PendingAutoVacuum() (pager.AutoVacuum, bool) {
	return e.pendingAutoVacuum, e.hasPendingAutoVac
}

// Store returns the page store of the named database.
func (e *Engine) Store(name string) (*pager.Pager, error) {
	db, err := e.Database(name)
	if err != nil {
		return nil, err
	}
	return db.pager, nil
}

// ResetSchemas forces every database to reload its catalog.
func (e *Engine) ResetSchemas() {
	for _, db := range e.dbs {
		db.loaded = false
	}
}

// schemaOf returns db's catalog, reloading it when the schema cookie on disk
// has moved.
func (e *Engine) schemaOf(db *Database) (*schema.Schema, error) {
	cookie, err := db.pager.Meta(pager.MetaSchemaVersion)
	if err != nil {
		return nil, err
	}
	if db.loaded && cookie == db.schema.Cookie {
		return db.schema, nil
	}
	if err := db.schema.LoadFromMaster(db.bt, cookie); err != nil {
		return nil, err
	}
	db.loaded = true
	return db.schema, nil
}

// findTable resolves a table name. Without a schema name the databases are
// searched in attach order, main first.
func (e *Engine) findTable(schemaName, name string) (*Database, *schema.Table, error) {
	dbs := e.dbs
	if schemaName != "" {
		db, err := e.Database(schemaName)
		if err != nil {
			return nil, nil, err
		}
		dbs = []*Database{db}
	}
	for _, db := range dbs {
		s, err := e.schemaOf(db)
		if err != nil {
			return nil, nil, err
		}
		if t, ok := s.Table(name); ok {
			return db, t, nil
		}
	}
	return nil, nil, noSuchTable(schemaName, name)
}

// findView resolves a view name the way findTable resolves tables.
func (e *Engine) findView(schemaName, name string) (*schema.View, error) {
	dbs := e.dbs
	if schemaName != "" {
		db, err := e.Database(schemaName)
		if err != nil {
			return nil, err
		}
		dbs = []*Database{db}
	}
	for _, db := range dbs {
		s, err := e.schemaOf(db)
		if err != nil {
			return nil, err
		}
		if v, ok := s.View(name); ok {
			return v, nil
		}
	}
	return nil, noSuchTable(schemaName, name)
}

func noSuchTable(schemaName, name string) error {
	if schemaName != "" {
		return errs.Newf(errs.ERROR, "no such table: %s.%s", schemaName, name)
	}
	return errs.Newf(errs.ERROR, "no such table: %s", name)
}

// beginTxn opens a write transaction on db. A database without pages gets
// its page 1 so the header and catalog exist from here on.
func (e *Engine) beginTxn(db *Database) error {
	if db.pager.InTransaction() {
		return nil
	}
	if db.pager.IsReadOnly() {
		return errs.New(errs.READONLY, "attempt to write a readonly database")
	}
	if err := db.pager.Begin(); err != nil {
		return err
	}
	if db.pager.PageCount() == 0 {
		if err := db.bt.Init(); err != nil {
			db.pager.Rollback()
			return err
		}
	}
	return nil
}

// beginWrite prepares db for a statement that modifies it. Inside an
// explicit transaction the statement gets a savepoint so a failure undoes
// only its own changes.
func (e *Engine) beginWrite(s *Stmt, db *Database) error {
	for _, w := range s.written {
		if w == db {
			return nil
		}
	}
	if err := e.beginTxn(db); err != nil {
		return err
	}
	if !e.autoCommit {
		if err := db.pager.Savepoint(stmtSavepoint); err != nil {
			return err
		}
	}
	s.written = append(s.written, db)
	return nil
}

// endStatement commits or undoes what statement s wrote and, outside a
// transaction, drops the read locks once nothing else is reading.
func (e *Engine) endStatement(s *Stmt, err error) error {
	for _, db := range s.written {
		switch {
		case e.autoCommit && err == nil:
			if cerr := db.pager.Commit(); cerr != nil {
				db.pager.Rollback()
				db.loaded = false
				err = cerr
			}
		case e.autoCommit:
			db.pager.Rollback()
			db.loaded = false
		case err == nil:
			if !db.pager.InTransaction() {
				break
			}
			if rerr := db.pager.Release(stmtSavepoint); rerr != nil {
				err = rerr
			}
		default:
			if db.pager.InTransaction() {
				db.pager.RollbackTo(stmtSavepoint)
				db.pager.Release(stmtSavepoint)
			}
			db.loaded = false
		}
	}
	s.written = nil
	if e.autoCommit && e.active == 0 {
		e.endReads()
	}
	return err
}

func (e *Engine) endReads() {
	for _, db := range e.dbs {
		if !db.pager.InTransaction() {
			db.pager.EndRead()
		}
	}
}

// bumpCookie records a schema change in db.
func (e *Engine) bumpCookie(db *Database) error {
	v, err := db.pager.Meta(pager.MetaSchemaVersion)
	if err != nil {
		return err
	}
	if err := db.pager.SetMeta(pager.MetaSchemaVersion, v+1); err != nil {
		return err
	}
	db.loaded = false
	return nil
}

func (e *Engine) begin(mode parser.TxMode) error {
	if !e.autoCommit {
		return errs.New(errs.ERROR, "cannot start a transaction within a transaction")
	}
	if mode != parser.TxDeferred {
		for i, db := range e.dbs {
			if err := e.beginTxn(db); err != nil {
				for _, prev := range e.dbs[:i] {
					prev.pager.Rollback()
				}
				return err
			}
		}
	}
	e.autoCommit = false
	return nil
}

func (e *Engine) commit() error {
	if e.autoCommit {
		return errs.New(errs.ERROR, "cannot commit - no transaction is active")
	}
	for _, db := range e.dbs {
		if db.pager.InTransaction() {
			if err := db.pager.Commit(); err != nil {
				return err
			}
		}
	}
	e.autoCommit = true
	if e.active == 0 {
		e.endReads()
	}
	return nil
}

func (e *Engine) rollback() error {
	if e.autoCommit {
		return errs.New(errs.ERROR, "cannot rollback - no transaction is active")
	}
	e.SetAutoCommit(true)
	return nil
}

// attach opens file and adds it under name. An empty file name creates a
// private temporary database; both it and any database opened without a
// key share the main database's codec.
func (e *Engine) attach(file, name string, key *string) error {
	if !e.autoCommit {
		return errs.New(errs.ERROR, "cannot ATTACH database within transaction")
	}
	for _, db := range e.dbs {
		if strings.EqualFold(db.Name, name) {
			return errs.Newf(errs.ERROR, "database %s is already in use", name)
		}
	}
	if len(e.dbs) > maxAttached {
		return errs.Newf(errs.ERROR, "too many attached databases - max %d", maxAttached)
	}

	opts := e.opts.pagerOptions()
	opts.PageSize, opts.Reserve = 0, 0
	opts.Codec = e.dbs[0].pager.Codec()
	if key != nil {
		c, err := keyCodec(*key)
		if err != nil {
			return err
		}
		opts.Codec = c
	}

	var pg *pager.Pager
	var err error
	switch file {
	case "":
		opts.ReadOnly = false
		pg, err = pager.OpenTemp(opts)
	default:
		pg, err = pager.OpenWithOptions(file, opts)
	}
	if err != nil {
		return errs.WithCode(errs.CodeOf(err), fmt.Errorf("unable to open database: %s: %w", file, err))
	}
	db := newDatabase(name, pg)
	e.dbs = append(e.dbs, db)
	if _, err := e.schemaOf(db); err != nil {
		e.dbs = e.dbs[:len(e.dbs)-1]
		pg.Close()
		return err
	}
	return nil
}

func (e *Engine) detach(name string) error {
	if strings.EqualFold(name, MainSchema) {
		return errs.New(errs.ERROR, "cannot detach database main")
	}
	for i, db := range e.dbs {
		if !strings.EqualFold(db.Name, name) {
			continue
		}
		if !e.autoCommit || db.pager.InTransaction() {
			return errs.Newf(errs.ERROR, "database %s is locked", name)
		}
		e.dbs = append(e.dbs[:i], e.dbs[i+1:]...)
		db.schema = schema.NewSchema()
		db.loaded = false
		if err := db.pager.Close(); err != nil {
			return fmt.Errorf("failed to close %s: %w", name, err)
		}
		return nil
	}
	return errs.Newf(errs.ERROR, "no such database: %s", name)
}

var errClosed = errs.New(errs.MISUSE, "database is closed")
