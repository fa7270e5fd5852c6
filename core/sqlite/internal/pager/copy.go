package pager

import (
	"errors"
	"fmt"
)

// CopyFrom replaces the content of p with the content of src, page for page,
// and commits p. src may be in an open write transaction; its uncommitted
// pages are what gets copied. p adopts src's page size and reserve, and its
// page size is left unfixed so the caller can settle it with SetPageSize.
//
// The copy goes through p's journal, so a failure at any point leaves the
// file as it was when the transaction began.
func (p *Pager) CopyFrom(src *Pager) error {
	if src == p {
		return errors.New("pager: copy onto itself")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	src.mu.Lock()
	defer src.mu.Unlock()

	if p.state == PagerStateError {
		return p.errCode
	}
	if p.state < PagerStateWriterLocked {
		return ErrNoTransaction
	}
	if err := validateGeometry(src.pageSize, src.reserve, p.codec); err != nil {
		return fmt.Errorf("copy from %s: %w", src.filename, err)
	}

	p.cache.Clear()
	p.clearSavepointsLocked()
	p.pageSize = src.pageSize
	p.reserve = src.reserve
	p.dbSize = 0

	for pgno := Pgno(1); pgno <= src.dbSize; pgno++ {
		sp, err := src.getLocked(pgno)
		if err != nil {
			return fmt.Errorf("copy page %d from %s: %w", pgno, src.filename, err)
		}
		page := NewDbPage(pgno, p.pageSize)
		copy(page.Data, sp.Data)
		sp.Unref()
		page.RefCount = 0
		p.cache.Put(page)
		p.cache.MarkDirty(page)
		p.dbSize = pgno
	}
	p.state = PagerStateWriterCachemod
	p.fixed = false

	return p.commitLocked()
}
