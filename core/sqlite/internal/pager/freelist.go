package pager

import (
	"encoding/binary"
	"fmt"
)

// Free-list layout, shared with the on-disk format: the header holds the
// first trunk page and the total free page count. A trunk page holds the next
// trunk, a leaf count and the leaf page numbers.
const (
	trunkNextOffset  = 0
	trunkCountOffset = 4
	trunkLeafOffset  = 8
)

func (p *Pager) maxTrunkLeaves() uint32 {
	return uint32((p.pageSize-p.reserve)/4 - 8)
}

// freelistHead returns the first trunk page and the free page count.
func (p *Pager) freelistHead() (Pgno, uint32, error) {
	if p.state == PagerStateOpen {
		if err := p.beginReadLocked(); err != nil {
			return 0, 0, err
		}
	}
	if p.dbSize == 0 {
		return 0, 0, nil
	}
	page1, err := p.getLocked(1)
	if err != nil {
		return 0, 0, err
	}
	defer page1.Unref()
	trunk := Pgno(binary.BigEndian.Uint32(page1.Data[OffsetFreelistTrunk:]))
	count := binary.BigEndian.Uint32(page1.Data[OffsetFreelistCount:])
	return trunk, count, nil
}

// Allocate returns a zeroed, writable page. Free pages are reused before the
// file grows. Allocating page 1 of an empty database writes a fresh header.
func (p *Pager) Allocate() (*DbPage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == PagerStateError {
		return nil, p.errCode
	}
	if p.state < PagerStateWriterLocked {
		return nil, ErrNoTransaction
	}

	if p.dbSize == 0 {
		return p.newDatabase()
	}

	page1, err := p.getLocked(1)
	if err != nil {
		return nil, err
	}
	defer page1.Unref()

	trunk := Pgno(binary.BigEndian.Uint32(page1.Data[OffsetFreelistTrunk:]))
	count := binary.BigEndian.Uint32(page1.Data[OffsetFreelistCount:])
	if trunk == 0 || count == 0 {
		return p.extend()
	}
	if trunk > p.dbSize {
		return nil, fmt.Errorf("%w: free-list trunk %d", ErrCorrupt, trunk)
	}

	tp, err := p.getLocked(trunk)
	if err != nil {
		return nil, err
	}
	nLeaf := binary.BigEndian.Uint32(tp.Data[trunkCountOffset:])
	if nLeaf > p.maxTrunkLeaves() {
		tp.Unref()
		return nil, fmt.Errorf("%w: free-list trunk %d has %d leaves", ErrCorrupt, trunk, nLeaf)
	}

	if err := p.writeLocked(page1); err != nil {
		tp.Unref()
		return nil, err
	}
	binary.BigEndian.PutUint32(page1.Data[OffsetFreelistCount:], count-1)

	if nLeaf == 0 {
		// The trunk itself is handed out.
		next := binary.BigEndian.Uint32(tp.Data[trunkNextOffset:])
		binary.BigEndian.PutUint32(page1.Data[OffsetFreelistTrunk:], next)
		if err := p.writeLocked(tp); err != nil {
			tp.Unref()
			return nil, err
		}
		clear(tp.Data)
		return tp, nil
	}

	if err := p.writeLocked(tp); err != nil {
		tp.Unref()
		return nil, err
	}
	slot := trunkLeafOffset + 4*int(nLeaf-1)
	leaf := Pgno(binary.BigEndian.Uint32(tp.Data[slot:]))
	binary.BigEndian.PutUint32(tp.Data[slot:], 0)
	binary.BigEndian.PutUint32(tp.Data[trunkCountOffset:], nLeaf-1)
	tp.Unref()
	if leaf < 2 || leaf > p.dbSize {
		return nil, fmt.Errorf("%w: free-list leaf %d", ErrCorrupt, leaf)
	}

	// A free leaf's content is meaningless, so it is not read from disk.
	page := p.cache.Get(leaf)
	if page == nil {
		page = NewDbPage(leaf, p.pageSize)
		p.cache.Put(page)
	} else {
		page.Ref()
	}
	if err := p.writeLocked(page); err != nil {
		page.Unref()
		return nil, err
	}
	clear(page.Data)
	return page, nil
}

func (p *Pager) extend() (*DbPage, error) {
	if p.dbSize >= maxPageNum {
		return nil, ErrFull
	}
	p.dbSize++
	page := NewDbPage(p.dbSize, p.pageSize)
	p.cache.Put(page)
	if err := p.writeLocked(page); err != nil {
		p.cache.Remove(page.Pgno)
		p.dbSize--
		return nil, err
	}
	return page, nil
}

// newDatabase creates page 1 with a fresh header. The caller formats the
// rest of the page.
func (p *Pager) newDatabase() (*DbPage, error) {
	page, err := p.extend()
	if err != nil {
		return nil, err
	}
	initHeader(page.Data, p.pageSize, p.reserve)
	if p.autoVacuum != AutoVacuumNone {
		binary.BigEndian.PutUint32(page.Data[OffsetMetaBase+4*MetaLargestRoot:], 1)
	}
	if p.autoVacuum == AutoVacuumIncremental {
		binary.BigEndian.PutUint32(page.Data[OffsetMetaBase+4*MetaIncrVacuum:], 1)
	}
	p.fixed = false
	return page, nil
}

// Free puts pgno on the free list. The page content is left as is.
func (p *Pager) Free(pgno Pgno) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state < PagerStateWriterLocked {
		return ErrNoTransaction
	}
	if pgno < 2 || pgno > p.dbSize {
		return ErrInvalidPageNum
	}

	page1, err := p.getLocked(1)
	if err != nil {
		return err
	}
	defer page1.Unref()
	if err := p.writeLocked(page1); err != nil {
		return err
	}

	trunk := Pgno(binary.BigEndian.Uint32(page1.Data[OffsetFreelistTrunk:]))
	count := binary.BigEndian.Uint32(page1.Data[OffsetFreelistCount:])
	binary.BigEndian.PutUint32(page1.Data[OffsetFreelistCount:], count+1)

	if trunk != 0 {
		tp, err := p.getLocked(trunk)
		if err != nil {
			return err
		}
		defer tp.Unref()
		nLeaf := binary.BigEndian.Uint32(tp.Data[trunkCountOffset:])
		if nLeaf < p.maxTrunkLeaves() {
			if err := p.writeLocked(tp); err != nil {
				return err
			}
			binary.BigEndian.PutUint32(tp.Data[trunkLeafOffset+4*int(nLeaf):], uint32(pgno))
			binary.BigEndian.PutUint32(tp.Data[trunkCountOffset:], nLeaf+1)
			return nil
		}
	}

	// pgno becomes the new first trunk.
	page, err := p.getLocked(pgno)
	if err != nil {
		return err
	}
	defer page.Unref()
	if err := p.writeLocked(page); err != nil {
		return err
	}
	clear(page.Data)
	binary.BigEndian.PutUint32(page.Data[trunkNextOffset:], uint32(trunk))
	binary.BigEndian.PutUint32(page1.Data[OffsetFreelistTrunk:], uint32(pgno))
	return nil
}
