// Package vacuum rebuilds a database into a scratch copy and swaps the copy
// back in page by page. The rebuild may use a different page reserve, so a
// run is also how the reserve of a populated database is changed.
//
// A run drives the connection with ordinary SQL: the scratch database is
// attached as vacuum_db, its schema is recreated from the source catalog and
// each table is copied with INSERT ... SELECT. Only the final swap works on
// the page stores directly.
package vacuum

import (
	"context"
	"time"

	"github.com/FocuswithJustin/sqlcompact/core/sqlite/internal/pager"
	"github.com/FocuswithJustin/sqlcompact/internal/logging"
)

// State is a step of a run.
type State int

const (
	StateIdle State = iota
	StateValidated
	StateScratchAttached
	StateConfigured
	StateSchemaMirrored
	StateDataCopied
	StateSwapped
	StateCommitted
	StateFailed
)

var stateNames = [...]string{
	"idle", "validated", "scratch_attached", "configured",
	"schema_mirrored", "data_copied", "swapped", "committed", "failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Store operations used by the swap. Tests replace them to inject faults.
var (
	setPageSize = func(p *pager.Pager, size, reserve int, fix bool) error {
		return p.SetPageSize(size, reserve, fix)
	}
	copyMeta  = CopyMeta
	copyFile  = func(dst, src *pager.Pager) error { return dst.CopyFrom(src) }
	commit    = func(p *pager.Pager) error { return p.Commit() }
	afterStep = func(State) error { return nil }
)

// Options controls a run.
type Options struct {
	// Reserve is the number of bytes reserved at the end of every page of
	// the rebuilt database.
	Reserve int
}

// Result describes a finished run.
type Result struct {
	State    State
	PageSize int
	Reserve  int
	Pages    pager.Pgno
	Duration time.Duration
}

// Coordinator runs one compaction on a connection.
type Coordinator struct {
	conn   Conn
	runner *Runner
	opts   Options
	state  State

	main    *pager.Pager
	scratch *pager.Pager

	savedFlags          Flags
	savedChanges, total int64
	attached            bool
}

// New returns a Coordinator for conn.
func New(conn Conn, opts Options) *Coordinator {
	return &Coordinator{conn: conn, runner: NewRunner(conn), opts: opts}
}

// Run compacts the main database of conn with the given reserve.
func Run(ctx context.Context, conn Conn, opts Options) (*Result, error) {
	return New(conn, opts).Run(ctx)
}

// State returns the last state reached.
func (c *Coordinator) State() State { return c.state }

func (c *Coordinator) enter(ctx context.Context, s State) error {
	logging.DebugContext(ctx, "vacuum state", "op", "vacuum", "from", c.state.String(), "state", s.String())
	c.state = s
	return afterStep(s)
}

// Run performs the compaction. On failure the main database is left as it
// was and the first error is returned.
func (c *Coordinator) Run(ctx context.Context) (res *Result, err error) {
	start := time.Now()
	if !c.conn.AutoCommit() {
		return nil, ErrInvalidState
	}
	c.savedFlags = c.conn.Flags()
	c.savedChanges, c.total = c.conn.Changes()
	c.conn.SetFlags(c.savedFlags | WriteSchema | IgnoreChecks)
	defer func() {
		c.cleanup(ctx)
		if err != nil {
			logging.DebugContext(ctx, "vacuum state", "op", "vacuum", "from", c.state.String(), "state", StateFailed.String())
			c.state = StateFailed
		}
		path := ""
		if c.main != nil {
			path = c.main.Filename()
		}
		d := time.Since(start)
		logging.Compaction(ctx, path, c.pageSizeOr0(), c.opts.Reserve, d, err, "op", "vacuum", "state", c.state.String())
		if res != nil {
			res.Duration = d
		}
	}()

	if err := c.enter(ctx, StateValidated); err != nil {
		return nil, err
	}
	if err := c.attach(); err != nil {
		return nil, err
	}
	if err := c.enter(ctx, StateScratchAttached); err != nil {
		return nil, err
	}
	if err := c.configure(); err != nil {
		return nil, err
	}
	if err := c.enter(ctx, StateConfigured); err != nil {
		return nil, err
	}

	if err := c.runner.Run("BEGIN EXCLUSIVE;"); err != nil {
		return nil, err
	}
	if err := MirrorSchema(c.runner); err != nil {
		return nil, err
	}
	if err := c.enter(ctx, StateSchemaMirrored); err != nil {
		return nil, err
	}
	for _, step := range []func(*Runner) error{CopyData, CopySequence, CopyCatalogOnly} {
		if err := step(c.runner); err != nil {
			return nil, err
		}
	}
	if err := c.enter(ctx, StateDataCopied); err != nil {
		return nil, err
	}

	if err := c.swap(); err != nil {
		return nil, err
	}
	if err := c.enter(ctx, StateSwapped); err != nil {
		return nil, err
	}

	res = &Result{PageSize: c.main.PageSize(), Reserve: c.main.Reserve(), Pages: c.main.PageCount()}
	if err := c.enter(ctx, StateCommitted); err != nil {
		return nil, err
	}
	res.State = StateCommitted
	return res, nil
}

func (c *Coordinator) pageSizeOr0() int {
	if c.main == nil {
		return 0
	}
	return c.main.PageSize()
}

func (c *Coordinator) attach() error {
	main, err := c.conn.Store("main")
	if err != nil {
		return &StoreError{Op: "open main", Err: err}
	}
	c.main = main
	if err := c.runner.Run("ATTACH '' AS " + ScratchSchema + ";"); err != nil {
		return err
	}
	c.attached = true
	scratch, err := c.conn.Store(ScratchSchema)
	if err != nil {
		return &StoreError{Op: "open scratch", Err: err}
	}
	c.scratch = scratch
	return nil
}

// configure gives the scratch store its geometry and auto-vacuum mode. A
// keyed source keeps its page size, so a pending change is dropped before
// anything is applied.
func (c *Coordinator) configure() error {
	if c.conn.PendingPageSize() != 0 && c.main.Keyed() {
		c.conn.SetPendingPageSize(0)
	}
	if setPageSize(c.scratch, c.main.PageSize(), c.opts.Reserve, false) != nil ||
		(!c.main.IsMemory() && setPageSize(c.scratch, c.conn.PendingPageSize(), c.opts.Reserve, false) != nil) {
		return ErrOutOfMemory
	}

	if err := c.runner.Run("PRAGMA " + ScratchSchema + ".synchronous=OFF"); err != nil {
		return err
	}

	mode, ok := c.conn.PendingAutoVacuum()
	if !ok {
		mode = c.main.AutoVacuum()
	}
	if err := c.scratch.SetAutoVacuum(mode); err != nil {
		return &StoreError{Op: "set auto_vacuum", Err: err}
	}
	return nil
}

// swap carries the meta slots over, copies the scratch pages into main and
// settles main's geometry.
func (c *Coordinator) swap() error {
	if err := copyMeta(c.main, c.scratch); err != nil {
		return err
	}
	if err := copyFile(c.main, c.scratch); err != nil {
		return &StoreError{Op: "copy into main", Err: err}
	}
	if err := commit(c.scratch); err != nil {
		return &StoreError{Op: "commit scratch", Err: err}
	}
	if err := c.main.SetAutoVacuum(c.scratch.AutoVacuum()); err != nil {
		return &StoreError{Op: "set auto_vacuum", Err: err}
	}
	if err := setPageSize(c.main, c.scratch.PageSize(), c.opts.Reserve, true); err != nil {
		return &StoreError{Op: "set page size", Err: err}
	}
	return nil
}

// cleanup restores the connection whatever state the run reached.
func (c *Coordinator) cleanup(ctx context.Context) {
	c.conn.SetFlags(c.savedFlags)
	c.conn.SetChanges(c.savedChanges, c.total)
	c.conn.SetAutoCommit(true)

	if c.attached {
		if err := c.runner.Run("DETACH " + ScratchSchema + ";"); err != nil {
			logging.WarnContext(ctx, "vacuum detach failed", "op", "vacuum", "error", err)
		}
		c.attached = false
		c.scratch = nil
	}
	c.conn.ResetSchemas()
}
