package btree

import (
	"fmt"
)

// Cursor states
const (
	CursorValid   = 0 // positioned on an entry
	CursorInvalid = 1 // past the end, or not positioned yet
	CursorFault   = 2 // a read failed; the error was returned
)

// frame is one level of a cursor's path. On a leaf idx is the current cell.
// On an interior page idx is the child being visited, or for an index tree
// with onEntry set, the cell whose entry is current.
type frame struct {
	n       *node
	idx     int
	onEntry bool
}

// BtCursor walks the entries of one tree in key order. It reads decoded
// copies of the pages on its path, so it must be repositioned after the tree
// is modified.
type BtCursor struct {
	bt    *Btree
	root  uint32
	cmp   KeyCompare
	stack []frame
	State int
}

// NewCursor returns an unpositioned cursor over the tree at root. cmp orders
// index keys and may be nil for table trees.
func (bt *Btree) NewCursor(root uint32, cmp KeyCompare) *BtCursor {
	return &BtCursor{bt: bt, root: root, cmp: cmp, State: CursorInvalid}
}

// RootPage returns the root page of the cursor's tree.
func (c *BtCursor) RootPage() uint32 { return c.root }

// Valid reports whether the cursor is on an entry.
func (c *BtCursor) Valid() bool { return c.State == CursorValid }

func (c *BtCursor) top() *frame { return &c.stack[len(c.stack)-1] }

func (c *BtCursor) reset() {
	c.stack = c.stack[:0]
	c.State = CursorInvalid
}

func (c *BtCursor) fail(err error) (bool, error) {
	c.State = CursorFault
	return false, err
}

func (c *BtCursor) push(pgno uint32) (*node, error) {
	if len(c.stack) >= MaxBtreeDepth {
		return nil, fmt.Errorf("%w: tree %d deeper than %d", ErrCorrupt, c.root, MaxBtreeDepth)
	}
	n, err := c.bt.readNode(pgno)
	if err != nil {
		return nil, err
	}
	if len(c.stack) > 0 && n.typ != leafType(c.top().n.typ) && n.typ != c.top().n.typ {
		return nil, fmt.Errorf("%w: page %d has type 0x%02x under page %d", ErrCorrupt, pgno, n.typ, c.top().n.pgno)
	}
	c.stack = append(c.stack, frame{n: n})
	return n, nil
}

func (c *BtCursor) descendLeft(pgno uint32) error {
	for {
		n, err := c.push(pgno)
		if err != nil {
			return err
		}
		if n.leaf() {
			return nil
		}
		pgno = n.child(0)
	}
}

// settle moves the cursor forward from its path to the next entry, popping
// exhausted pages.
func (c *BtCursor) settle() (bool, error) {
	for len(c.stack) > 0 {
		f := c.top()
		if f.n.leaf() {
			if f.idx < len(f.n.cells) {
				c.State = CursorValid
				return true, nil
			}
			c.stack = c.stack[:len(c.stack)-1]
			if len(c.stack) == 0 {
				break
			}
			// The parent's child f.idx is done.
			p := c.top()
			if !p.n.intKey() && p.idx < len(p.n.cells) {
				p.onEntry = true
				c.State = CursorValid
				return true, nil
			}
			if err := c.nextChild(); err != nil {
				return c.fail(err)
			}
			continue
		}
		if f.onEntry {
			c.State = CursorValid
			return true, nil
		}
		if err := c.nextChild(); err != nil {
			return c.fail(err)
		}
	}
	c.State = CursorInvalid
	return false, nil
}

// nextChild advances the interior frame on top of the stack to its next
// child and descends to that child's first leaf, or pops the frame when it
// has no children left.
func (c *BtCursor) nextChild() error {
	for len(c.stack) > 0 {
		f := c.top()
		f.onEntry = false
		if f.idx < len(f.n.cells) {
			f.idx++
			return c.descendLeft(f.n.child(f.idx))
		}
		c.stack = c.stack[:len(c.stack)-1]
		if len(c.stack) == 0 {
			return nil
		}
		p := c.top()
		if !p.n.intKey() && p.idx < len(p.n.cells) {
			p.onEntry = true
			return nil
		}
	}
	return nil
}

// First moves to the smallest entry and reports whether the tree has one.
func (c *BtCursor) First() (bool, error) {
	c.reset()
	if err := c.descendLeft(c.root); err != nil {
		return c.fail(err)
	}
	return c.settle()
}

// Last moves to the largest entry and reports whether the tree has one.
func (c *BtCursor) Last() (bool, error) {
	c.reset()
	pgno := c.root
	for {
		n, err := c.push(pgno)
		if err != nil {
			return c.fail(err)
		}
		f := c.top()
		if n.leaf() {
			f.idx = len(n.cells) - 1
			break
		}
		f.idx = len(n.cells)
		pgno = n.right
	}
	if c.top().idx < 0 {
		return false, nil
	}
	c.State = CursorValid
	return true, nil
}

// Next moves to the following entry and reports whether there is one.
func (c *BtCursor) Next() (bool, error) {
	if c.State != CursorValid {
		return false, nil
	}
	f := c.top()
	if f.n.leaf() {
		f.idx++
		return c.settle()
	}
	// On an interior index entry: continue with the subtree to its right.
	if err := c.nextChild(); err != nil {
		return c.fail(err)
	}
	return c.settle()
}

// SeekRowid moves to rowid, or to the first row after it, and reports
// whether rowid itself was found.
func (c *BtCursor) SeekRowid(rowid int64) (bool, error) {
	found, err := c.seekRowidLeaf(rowid)
	if err != nil {
		return c.fail(err)
	}
	if found {
		return true, nil
	}
	_, err = c.settle()
	return false, err
}

// SeekGE moves an index cursor to the first entry not less than key and
// reports whether there is one.
func (c *BtCursor) SeekGE(key []byte) (bool, error) {
	if _, err := c.seekIndexLeaf(key); err != nil {
		return c.fail(err)
	}
	return c.settle()
}

// Key returns the rowid of the current table row.
func (c *BtCursor) Key() int64 {
	if c.State != CursorValid {
		return 0
	}
	f := c.top()
	k, err := cellKey(f.n.typ, f.n.cells[f.idx], c.bt.usable())
	if err != nil {
		return 0
	}
	return k
}

// Payload returns the full payload of the current entry: the record of a
// table row, or the key of an index entry.
func (c *BtCursor) Payload() ([]byte, error) {
	if c.State != CursorValid {
		return nil, fmt.Errorf("btree: cursor on tree %d is not positioned", c.root)
	}
	f := c.top()
	return c.bt.cellPayload(f.n.typ, f.n.cells[f.idx])
}

// search returns the first i in [0, n) for which ge(i) holds, or n.
func search(n int, ge func(i int) (bool, error)) (int, error) {
	lo, hi := 0, n
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		ok, err := ge(mid)
		if err != nil {
			return 0, err
		}
		if ok {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return lo, nil
}

// seekRowidLeaf descends to the leaf where rowid is or would be. The top
// frame's idx is the first cell with a key not less than rowid.
func (c *BtCursor) seekRowidLeaf(rowid int64) (bool, error) {
	c.reset()
	usable := c.bt.usable()
	pgno := c.root
	for {
		n, err := c.push(pgno)
		if err != nil {
			return false, err
		}
		if !n.intKey() {
			return false, fmt.Errorf("btree: page %d is not part of a table tree", pgno)
		}
		i, err := search(len(n.cells), func(i int) (bool, error) {
			k, err := cellKey(n.typ, n.cells[i], usable)
			return k >= rowid, err
		})
		if err != nil {
			return false, err
		}
		c.top().idx = i
		if n.leaf() {
			if i < len(n.cells) {
				k, err := cellKey(n.typ, n.cells[i], usable)
				if err != nil {
					return false, err
				}
				if k == rowid {
					c.State = CursorValid
					return true, nil
				}
			}
			return false, nil
		}
		pgno = n.child(i)
	}
}

// seekIndexLeaf descends to the leaf where key is or would be and reports
// whether the leaf holds it.
func (c *BtCursor) seekIndexLeaf(key []byte) (bool, error) {
	if c.cmp == nil {
		return false, fmt.Errorf("btree: index %d searched without a key comparison", c.root)
	}
	c.reset()
	pgno := c.root
	for {
		n, err := c.push(pgno)
		if err != nil {
			return false, err
		}
		if n.intKey() {
			return false, fmt.Errorf("btree: page %d is not part of an index tree", pgno)
		}
		i, err := search(len(n.cells), func(i int) (bool, error) {
			p, err := c.bt.cellPayload(n.typ, n.cells[i])
			if err != nil {
				return false, err
			}
			return c.cmp(p, key) >= 0, nil
		})
		if err != nil {
			return false, err
		}
		c.top().idx = i
		if n.leaf() {
			if i == len(n.cells) {
				return false, nil
			}
			p, err := c.bt.cellPayload(n.typ, n.cells[i])
			if err != nil {
				return false, err
			}
			if c.cmp(p, key) == 0 {
				c.State = CursorValid
				return true, nil
			}
			return false, nil
		}
		pgno = n.child(i)
	}
}

// locateIndex finds key in an index and returns the stack level holding it:
// the leaf, or the interior page whose entry equals key.
func (c *BtCursor) locateIndex(key []byte) (bool, int, error) {
	found, err := c.seekIndexLeaf(key)
	if err != nil {
		return false, -1, err
	}
	if found {
		return true, len(c.stack) - 1, nil
	}
	if leaf := c.top(); leaf.idx < len(leaf.n.cells) {
		return false, -1, nil
	}
	// The next entry in order is the first ancestor cell not yet passed.
	for l := len(c.stack) - 2; l >= 0; l-- {
		f := &c.stack[l]
		if f.idx == len(f.n.cells) {
			continue
		}
		p, err := c.bt.cellPayload(f.n.typ, f.n.cells[f.idx])
		if err != nil {
			return false, -1, err
		}
		return c.cmp(p, key) == 0, l, nil
	}
	return false, -1, nil
}

// path returns the ancestors of the top frame.
func (c *BtCursor) path() []step {
	return c.pathTo(len(c.stack) - 1)
}

// pathTo returns the frames above level as balance steps.
func (c *BtCursor) pathTo(level int) []step {
	out := make([]step, level)
	for i := 0; i < level; i++ {
		out[i] = step{pgno: c.stack[i].n.pgno, idx: c.stack[i].idx}
	}
	return out
}

// insertCell inserts cell at the cursor's leaf position and rebalances.
func (c *BtCursor) insertCell(cell []byte) error {
	f := c.top()
	n := f.n
	n.cells = append(n.cells, nil)
	copy(n.cells[f.idx+1:], n.cells[f.idx:])
	n.cells[f.idx] = cell
	appendHint := f.idx == len(n.cells)-1
	c.State = CursorInvalid
	return c.bt.balance(c.path(), n, appendHint)
}

// deleteLeafCell removes the current leaf cell and rebalances. The cell's
// overflow chain is freed unless another cell took it over.
func (c *BtCursor) deleteLeafCell(freeOverflow bool) error {
	f := c.top()
	n := f.n
	if freeOverflow {
		if err := c.bt.freeOverflow(n.typ, n.cells[f.idx]); err != nil {
			return err
		}
	}
	n.cells = append(n.cells[:f.idx], n.cells[f.idx+1:]...)
	c.State = CursorInvalid
	return c.bt.balance(c.path(), n, false)
}
