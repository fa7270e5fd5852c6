package btree

import (
	"encoding/binary"
	"fmt"
)

const maxProblems = 100

// checker walks one tree for Check.
type checker struct {
	bt       *Btree
	cmp      KeyCompare
	seen     map[uint32]bool
	pages    []uint32
	problems []string

	leafDepth int
	prev      []byte
	havePrev  bool
}

// Check walks the tree rooted at root and reports structural problems: bad
// pages, pages used twice, keys out of order, leaves at unequal depths and
// broken overflow chains. It returns every page the tree uses, overflow pages
// included, so a caller can account for the whole file. Index keys are only
// order-checked when cmp is not nil.
func (bt *Btree) Check(root uint32, cmp KeyCompare) (pages []uint32, problems []string) {
	k := &checker{bt: bt, cmp: cmp, seen: make(map[uint32]bool), leafDepth: -1}
	k.walk(root, 0, nil, nil)
	return k.pages, k.problems
}

func (k *checker) problem(format string, args ...any) {
	if len(k.problems) < maxProblems {
		k.problems = append(k.problems, fmt.Sprintf(format, args...))
	}
}

func (k *checker) use(pgno uint32, what string) bool {
	if pgno < 1 || int(pgno) >= k.bt.pageLimit() {
		k.problem("%s page %d out of range", what, pgno)
		return false
	}
	if k.seen[pgno] {
		k.problem("%s page %d referenced more than once", what, pgno)
		return false
	}
	k.seen[pgno] = true
	k.pages = append(k.pages, pgno)
	return true
}

// walk checks the subtree at pgno. For table trees lo and hi bound the
// rowids: lo < key <= hi, nil meaning unbounded.
func (k *checker) walk(pgno uint32, depth int, lo, hi *int64) {
	if depth > MaxBtreeDepth {
		k.problem("tree deeper than %d at page %d", MaxBtreeDepth, pgno)
		return
	}
	if !k.use(pgno, "b-tree") {
		return
	}
	n, err := k.bt.readNode(pgno)
	if err != nil {
		k.problem("page %d: %v", pgno, err)
		return
	}
	if depth > 0 && len(n.cells) == 0 {
		k.problem("page %d is empty", pgno)
	}
	usable := k.bt.usable()

	for i, c := range n.cells {
		info, err := ParseCell(n.typ, c, usable)
		if err != nil {
			k.problem("page %d cell %d: %v", pgno, i, err)
			continue
		}
		if info.OverflowPage != 0 {
			k.checkOverflow(pgno, i, info)
		}
	}

	if n.leaf() {
		if k.leafDepth < 0 {
			k.leafDepth = depth
		} else if depth != k.leafDepth {
			k.problem("leaf page %d at depth %d, expected %d", pgno, depth, k.leafDepth)
		}
		for i, c := range n.cells {
			k.visit(n, i, c, lo, hi)
		}
		return
	}

	for i := 0; i <= len(n.cells); i++ {
		childLo, childHi := lo, hi
		if n.intKey() {
			if i > 0 {
				key, err := cellKey(n.typ, n.cells[i-1], usable)
				if err == nil {
					childLo = &key
				}
			}
			if i < len(n.cells) {
				key, err := cellKey(n.typ, n.cells[i], usable)
				if err == nil {
					childHi = &key
					k.inBounds(pgno, key, lo, hi)
				}
			}
		}
		k.walk(n.child(i), depth+1, childLo, childHi)
		if !n.intKey() && i < len(n.cells) {
			k.visit(n, i, n.cells[i], nil, nil)
		}
	}
}

// visit checks one entry in key order.
func (k *checker) visit(n *node, i int, cell []byte, lo, hi *int64) {
	if n.intKey() {
		key, err := cellKey(n.typ, cell, k.bt.usable())
		if err != nil {
			return
		}
		k.inBounds(n.pgno, key, lo, hi)
		k.ordered(n.pgno, i, func() int {
			prev, _ := GetVarint(k.prev)
			switch {
			case int64(prev) < key:
				return -1
			case int64(prev) > key:
				return 1
			}
			return 0
		}, AppendVarint(nil, uint64(key)))
		return
	}
	if k.cmp == nil {
		return
	}
	payload, err := k.bt.cellPayload(n.typ, cell)
	if err != nil {
		k.problem("page %d cell %d: %v", n.pgno, i, err)
		return
	}
	k.ordered(n.pgno, i, func() int { return k.cmp(k.prev, payload) }, payload)
}

func (k *checker) ordered(pgno uint32, i int, cmpPrev func() int, cur []byte) {
	if k.havePrev && cmpPrev() >= 0 {
		k.problem("page %d cell %d out of order", pgno, i)
	}
	k.prev = cur
	k.havePrev = true
}

func (k *checker) inBounds(pgno uint32, key int64, lo, hi *int64) {
	if (lo != nil && key <= *lo) || (hi != nil && key > *hi) {
		k.problem("page %d: rowid %d outside its parent's range", pgno, key)
	}
}

func (k *checker) checkOverflow(pgno uint32, i int, info *CellInfo) {
	usable := k.bt.usable()
	remaining := int(info.PayloadSize) - info.LocalPayload
	next := info.OverflowPage
	for remaining > 0 {
		if next == 0 {
			k.problem("page %d cell %d: overflow chain ends early", pgno, i)
			return
		}
		if !k.use(next, "overflow") {
			return
		}
		data, err := k.bt.pageData(next)
		if err != nil {
			k.problem("overflow page %d: %v", next, err)
			return
		}
		remaining -= usable - 4
		next = binary.BigEndian.Uint32(data)
	}
	if next != 0 {
		k.problem("page %d cell %d: overflow chain too long", pgno, i)
	}
}
