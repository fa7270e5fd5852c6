package btree

import (
	"encoding/binary"
	"fmt"

	"github.com/FocuswithJustin/sqlcompact/core/sqlite/internal/pager"
)

// step is one ancestor on the way down to a page: the ancestor's page and
// the child index taken there.
type step struct {
	pgno uint32
	idx  int
}

// balance writes n back after a change, splitting or merging pages from n up
// to the root as needed. path lists n's ancestors. appendHint is set when n
// grew at its right end, which makes a split pack the left page full.
func (bt *Btree) balance(path []step, n *node, appendHint bool) error {
	for len(path) > 0 {
		over := n.size() > bt.usable()
		if !over && len(n.cells) > 0 {
			return bt.writeNode(n)
		}

		up := path[len(path)-1]
		path = path[:len(path)-1]
		parent, err := bt.readNode(up.pgno)
		if err != nil {
			return err
		}
		if over {
			appendHint = appendHint && up.idx == len(parent.cells)
			err = bt.split(parent, up.idx, n, appendHint)
		} else {
			appendHint = false
			err = bt.merge(parent, up.idx, n)
		}
		if err != nil {
			return err
		}
		n = parent
	}
	return bt.balanceRoot(n, appendHint)
}

// balanceRoot writes a root page. An overfull root moves its content to a
// new child which is then split, so the tree grows a level while the root
// keeps its page number. An interior root left without cells takes over its
// only child when the child's content fits; page 1 may be too small for that
// and then stays an empty interior page.
func (bt *Btree) balanceRoot(root *node, appendHint bool) error {
	if root.size() > bt.usable() {
		pgno, err := bt.allocPage()
		if err != nil {
			return err
		}
		child := &node{pgno: pgno, typ: root.typ, cells: root.cells, right: root.right}
		root = &node{pgno: root.pgno, typ: interiorType(root.typ), right: pgno}
		if err := bt.split(root, 0, child, appendHint); err != nil {
			return err
		}
		return bt.balanceRoot(root, appendHint)
	}

	for !root.leaf() && len(root.cells) == 0 {
		child, err := bt.readNode(root.right)
		if err != nil {
			return err
		}
		merged := &node{pgno: root.pgno, typ: child.typ, cells: child.cells, right: child.right}
		if merged.size() > bt.usable() {
			break
		}
		if err := bt.store.Free(pager.Pgno(child.pgno)); err != nil {
			return err
		}
		root = merged
	}
	return bt.writeNode(root)
}

// split spreads the cells of the overfull child idx of parent over as many
// pages as needed and records the new dividers in parent. The first page
// keeps the child's page number. parent is modified in memory only.
func (bt *Btree) split(parent *node, idx int, n *node, greedy bool) error {
	pages, dividers, err := bt.pack(n.typ, n.cells, n.right, greedy)
	if err != nil {
		return err
	}
	pgnos := make([]uint32, len(pages))
	for i, p := range pages {
		if i == 0 {
			p.pgno = n.pgno
		} else if p.pgno, err = bt.allocPage(); err != nil {
			return err
		}
		pgnos[i] = p.pgno
	}
	for _, p := range pages {
		if err := bt.writeNode(p); err != nil {
			return err
		}
	}
	parent.replaceChildren(idx, 1, pgnos, dividers)
	return nil
}

// merge folds the empty child idx of parent together with a neighbour and
// the divider between them, then repacks the result into one or two pages.
// parent is modified in memory only.
func (bt *Btree) merge(parent *node, idx int, n *node) error {
	if len(parent.cells) == 0 {
		// Only child of a root that could not absorb it.
		return bt.writeNode(n)
	}

	a := idx
	if idx > 0 {
		a = idx - 1
	}
	left, right := n, n
	var err error
	if a == idx {
		right, err = bt.readNode(parent.child(idx + 1))
	} else {
		left, err = bt.readNode(parent.child(a))
	}
	if err != nil {
		return err
	}
	if left.typ != right.typ {
		return fmt.Errorf("%w: sibling pages %d and %d differ in type", ErrCorrupt, left.pgno, right.pgno)
	}

	divider := parent.cells[a][4:]
	cells := make([][]byte, 0, len(left.cells)+len(right.cells)+1)
	cells = append(cells, left.cells...)
	switch {
	case left.typ == PageTypeLeafTable:
		// Table dividers are copies of keys; the leaf keys carry on.
	case left.leaf():
		cells = append(cells, divider)
	default:
		cells = append(cells, interiorCell(left.right, divider))
	}
	cells = append(cells, right.cells...)

	pages, dividers, err := bt.pack(left.typ, cells, right.right, false)
	if err != nil {
		return err
	}
	reuse := []uint32{left.pgno, right.pgno}
	pgnos := make([]uint32, len(pages))
	for i, p := range pages {
		if i < len(reuse) {
			p.pgno = reuse[i]
		} else if p.pgno, err = bt.allocPage(); err != nil {
			return err
		}
		pgnos[i] = p.pgno
	}
	if len(pages) == 1 {
		if err := bt.store.Free(pager.Pgno(right.pgno)); err != nil {
			return err
		}
	}
	for _, p := range pages {
		if err := bt.writeNode(p); err != nil {
			return err
		}
	}
	parent.replaceChildren(a, 2, pgnos, dividers)
	return nil
}

// pack distributes cells over pages of type typ, none of them page 1. It
// returns the pages (page numbers unset) and the dividers that separate them.
// Table leaf dividers are copies of the last key on the left page; in every
// other kind of page the cell at a boundary moves up as the divider. With
// greedy set each page is filled before the next is started, otherwise the
// bytes are spread evenly.
func (bt *Btree) pack(typ byte, cells [][]byte, right uint32, greedy bool) ([]*node, [][]byte, error) {
	usable := bt.usable()
	capacity := usable - headerSize(typ)
	need := func(c []byte) int { return 2 + cellAlloc(len(c)) }

	target := capacity
	if !greedy {
		total := 0
		for _, c := range cells {
			total += need(c)
		}
		if k := (total + capacity - 1) / capacity; k > 1 {
			target = total / k
		}
	}
	consume := typ != PageTypeLeafTable
	interior := typ&ptfLeaf == 0

	var pages []*node
	var dividers [][]byte
	cur := &node{typ: typ}
	used := 0
	for i := 0; i < len(cells); i++ {
		c := cells[i]
		if len(cur.cells) == 0 || (used < target && used+need(c) <= capacity) {
			cur.cells = append(cur.cells, c)
			used += need(c)
			continue
		}

		if !consume {
			key, err := cellKey(typ, cur.cells[len(cur.cells)-1], usable)
			if err != nil {
				return nil, nil, err
			}
			dividers = append(dividers, AppendVarint(nil, uint64(key)))
			pages = append(pages, cur)
			cur = &node{typ: typ}
			used = 0
			i--
			continue
		}

		d := c
		if i == len(cells)-1 {
			// Nothing would follow c, so the last cell of cur moves up
			// instead and c starts the final page.
			if len(cur.cells) < 2 {
				return nil, nil, fmt.Errorf("%w: cannot split page of type 0x%02x", ErrCorrupt, typ)
			}
			d = cur.cells[len(cur.cells)-1]
			cur.cells = cur.cells[:len(cur.cells)-1]
			i--
		}
		if interior {
			cur.right = binary.BigEndian.Uint32(d)
			d = d[4:]
		}
		dividers = append(dividers, d)
		pages = append(pages, cur)
		cur = &node{typ: typ}
		used = 0
	}
	if interior {
		cur.right = right
	}
	pages = append(pages, cur)
	return pages, dividers, nil
}
