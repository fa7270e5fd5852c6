package btree

import (
	"fmt"
	"math"

	errs "github.com/FocuswithJustin/sqlcompact/core/errors"
	"github.com/FocuswithJustin/sqlcompact/core/sqlite/internal/pager"
)

// MaxBtreeDepth bounds descents so a corrupt file cannot loop forever.
const MaxBtreeDepth = 20

var (
	// ErrCorrupt is the pager's corruption error, shared so callers can test
	// for either with one errors.Is.
	ErrCorrupt = pager.ErrCorrupt

	ErrDuplicateKey = errs.New(errs.CONSTRAINT, "duplicate key in b-tree")
	ErrRowidFull    = errs.New(errs.FULL, "database or disk is full")
)

// PageStore is the page access the b-tree needs. *pager.Pager implements it.
type PageStore interface {
	Get(pgno pager.Pgno) (*pager.DbPage, error)
	Put(page *pager.DbPage)
	Write(page *pager.DbPage) error
	Allocate() (*pager.DbPage, error)
	Free(pgno pager.Pgno) error
	UsableSize() int
	PageCount() pager.Pgno
}

// KeyCompare orders two index keys.
type KeyCompare func(a, b []byte) int

// Btree stores table and index b-trees in the pages of a PageStore, using
// the SQLite page format. Every modification rewrites whole pages; pages that
// overflow are split and pages that empty are merged with a sibling. A tree's
// root never moves.
type Btree struct {
	store PageStore
}

// New returns a Btree over store.
func New(store PageStore) *Btree {
	return &Btree{store: store}
}

// Store returns the underlying page store.
func (bt *Btree) Store() PageStore {
	return bt.store
}

func (bt *Btree) usable() int    { return bt.store.UsableSize() }
func (bt *Btree) pageLimit() int { return int(bt.store.PageCount()) + 1 }

// String returns a string representation of the B-tree
func (bt *Btree) String() string {
	return fmt.Sprintf("Btree{usableSize=%d, pages=%d}", bt.usable(), bt.store.PageCount())
}

// Init formats page 1 as the empty schema table of a new database. It does
// nothing if the database already has pages. A write transaction must be open.
func (bt *Btree) Init() error {
	if bt.store.PageCount() > 0 {
		return nil
	}
	page, err := bt.store.Allocate()
	if err != nil {
		return err
	}
	defer bt.store.Put(page)
	if page.Pgno != 1 {
		return fmt.Errorf("btree: new database started at page %d", page.Pgno)
	}
	encodeNode(&node{pgno: 1, typ: PageTypeLeafTable}, page.Data, bt.usable())
	return nil
}

// CreateTable creates an empty table b-tree and returns its root page.
func (bt *Btree) CreateTable() (uint32, error) {
	return bt.create(PageTypeLeafTable)
}

// CreateIndex creates an empty index b-tree and returns its root page.
func (bt *Btree) CreateIndex() (uint32, error) {
	return bt.create(PageTypeLeafIndex)
}

func (bt *Btree) create(typ byte) (uint32, error) {
	if err := bt.Init(); err != nil {
		return 0, err
	}
	page, err := bt.store.Allocate()
	if err != nil {
		return 0, err
	}
	defer bt.store.Put(page)
	pgno := uint32(page.Pgno)
	encodeNode(&node{pgno: pgno, typ: typ}, page.Data, bt.usable())
	return pgno, nil
}

// Drop frees every page of the tree, its root included.
func (bt *Btree) Drop(root uint32) error {
	return bt.freeTree(root, true, 0)
}

// Clear removes every entry, leaving an empty root.
func (bt *Btree) Clear(root uint32) error {
	n, err := bt.readNode(root)
	if err != nil {
		return err
	}
	if err := bt.freeTree(root, false, 0); err != nil {
		return err
	}
	return bt.writeNode(&node{pgno: root, typ: leafType(n.typ)})
}

func (bt *Btree) freeTree(pgno uint32, self bool, depth int) error {
	if depth > MaxBtreeDepth {
		return fmt.Errorf("%w: tree deeper than %d", ErrCorrupt, MaxBtreeDepth)
	}
	n, err := bt.readNode(pgno)
	if err != nil {
		return err
	}
	if n.typ != PageTypeInteriorTable {
		for _, c := range n.cells {
			if err := bt.freeOverflow(n.typ, c); err != nil {
				return err
			}
		}
	}
	if !n.leaf() {
		for _, child := range n.children() {
			if err := bt.freeTree(child, true, depth+1); err != nil {
				return err
			}
		}
	}
	if self {
		return bt.store.Free(pager.Pgno(pgno))
	}
	return nil
}

// Insert adds a row to a table. An existing rowid fails with ErrDuplicateKey.
func (bt *Btree) Insert(root uint32, rowid int64, payload []byte) error {
	c := bt.NewCursor(root, nil)
	found, err := c.seekRowidLeaf(rowid)
	if err != nil {
		return err
	}
	if found {
		return fmt.Errorf("%w: rowid %d", ErrDuplicateKey, rowid)
	}
	cell, err := bt.buildCell(PageTypeLeafTable, rowid, payload)
	if err != nil {
		return err
	}
	return c.insertCell(cell)
}

// Replace inserts a row, overwriting any row with the same rowid.
func (bt *Btree) Replace(root uint32, rowid int64, payload []byte) error {
	c := bt.NewCursor(root, nil)
	found, err := c.seekRowidLeaf(rowid)
	if err != nil {
		return err
	}
	cell, err := bt.buildCell(PageTypeLeafTable, rowid, payload)
	if err != nil {
		return err
	}
	if !found {
		return c.insertCell(cell)
	}
	top := c.top()
	if err := bt.freeOverflow(top.n.typ, top.n.cells[top.idx]); err != nil {
		return err
	}
	top.n.cells[top.idx] = cell
	return bt.balance(c.path(), top.n, false)
}

// Delete removes a row from a table and reports whether it existed.
func (bt *Btree) Delete(root uint32, rowid int64) (bool, error) {
	c := bt.NewCursor(root, nil)
	found, err := c.seekRowidLeaf(rowid)
	if err != nil || !found {
		return false, err
	}
	return true, c.deleteLeafCell(true)
}

// IndexInsert adds key to an index. Keys must be unique within the tree.
func (bt *Btree) IndexInsert(root uint32, key []byte, cmp KeyCompare) error {
	c := bt.NewCursor(root, cmp)
	found, _, err := c.locateIndex(key)
	if err != nil {
		return err
	}
	if found {
		return ErrDuplicateKey
	}
	cell, err := bt.buildCell(PageTypeLeafIndex, 0, key)
	if err != nil {
		return err
	}
	return c.insertCell(cell)
}

// IndexDelete removes key from an index and reports whether it existed.
func (bt *Btree) IndexDelete(root uint32, key []byte, cmp KeyCompare) (bool, error) {
	c := bt.NewCursor(root, cmp)
	found, level, err := c.locateIndex(key)
	if err != nil || !found {
		return false, err
	}
	if level == len(c.stack)-1 {
		return true, c.deleteLeafCell(true)
	}
	return true, bt.deleteInterior(c, level)
}

// deleteInterior removes the interior index entry held by frame level. The
// entry is replaced by its predecessor, the last cell of the leaf the cursor
// stands on, and that leaf copy is removed afterwards.
func (bt *Btree) deleteInterior(c *BtCursor, level int) error {
	f := &c.stack[level]
	leaf := c.top().n
	if !leaf.leaf() || len(leaf.cells) == 0 {
		return fmt.Errorf("%w: no predecessor for interior entry on page %d", ErrCorrupt, f.n.pgno)
	}
	pred := leaf.cells[len(leaf.cells)-1]
	predKey, err := bt.cellPayload(leaf.typ, pred)
	if err != nil {
		return err
	}

	if err := bt.freeOverflow(f.n.typ, f.n.cells[f.idx]); err != nil {
		return err
	}
	f.n.cells[f.idx] = interiorCell(f.n.child(f.idx), pred)
	if err := bt.balance(c.pathTo(level), f.n, false); err != nil {
		return err
	}

	// The leaf copy shares its overflow chain with the entry just written.
	c2 := bt.NewCursor(c.root, c.cmp)
	found, err := c2.seekIndexLeaf(predKey)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: predecessor vanished from index %d", ErrCorrupt, c.root)
	}
	return c2.deleteLeafCell(false)
}

// NewRowid returns one more than the largest rowid in the table.
func (bt *Btree) NewRowid(root uint32) (int64, error) {
	c := bt.NewCursor(root, nil)
	ok, err := c.Last()
	if err != nil {
		return 0, err
	}
	if !ok {
		return 1, nil
	}
	last := c.Key()
	if last == math.MaxInt64 {
		return 0, ErrRowidFull
	}
	if last < 0 {
		return 1, nil
	}
	return last + 1, nil
}

// Count returns the number of entries in the tree.
func (bt *Btree) Count(root uint32) (int64, error) {
	return bt.count(root, 0)
}

func (bt *Btree) count(pgno uint32, depth int) (int64, error) {
	if depth > MaxBtreeDepth {
		return 0, fmt.Errorf("%w: tree deeper than %d", ErrCorrupt, MaxBtreeDepth)
	}
	n, err := bt.readNode(pgno)
	if err != nil {
		return 0, err
	}
	if n.leaf() {
		return int64(len(n.cells)), nil
	}
	var total int64
	if !n.intKey() {
		total = int64(len(n.cells))
	}
	for _, child := range n.children() {
		c, err := bt.count(child, depth+1)
		if err != nil {
			return 0, err
		}
		total += c
	}
	return total, nil
}

// IsTable reports whether root holds a table (rowid) tree.
func (bt *Btree) IsTable(root uint32) (bool, error) {
	n, err := bt.readNode(root)
	if err != nil {
		return false, err
	}
	return n.intKey(), nil
}

func (bt *Btree) readNode(pgno uint32) (*node, error) {
	if pgno == 0 {
		return nil, fmt.Errorf("%w: page 0 referenced", ErrCorrupt)
	}
	page, err := bt.store.Get(pager.Pgno(pgno))
	if err != nil {
		return nil, err
	}
	defer bt.store.Put(page)
	return decodeNode(pgno, page.Data, bt.usable())
}

func (bt *Btree) writeNode(n *node) error {
	usable := bt.usable()
	if n.size() > usable {
		return fmt.Errorf("btree: page %d overfull (%d > %d bytes)", n.pgno, n.size(), usable)
	}
	page, err := bt.store.Get(pager.Pgno(n.pgno))
	if err != nil {
		return err
	}
	defer bt.store.Put(page)
	if err := bt.store.Write(page); err != nil {
		return err
	}
	encodeNode(n, page.Data, usable)
	return nil
}

func (bt *Btree) allocPage() (uint32, error) {
	page, err := bt.store.Allocate()
	if err != nil {
		return 0, err
	}
	bt.store.Put(page)
	return uint32(page.Pgno), nil
}

// pageData returns the cached image of pgno. The slice stays valid until the
// page is next modified.
func (bt *Btree) pageData(pgno uint32) ([]byte, error) {
	page, err := bt.store.Get(pager.Pgno(pgno))
	if err != nil {
		return nil, err
	}
	bt.store.Put(page)
	return page.Data, nil
}
