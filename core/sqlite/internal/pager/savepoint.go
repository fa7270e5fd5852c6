package pager

import (
	"fmt"

	errs "github.com/FocuswithJustin/sqlcompact/core/errors"
)

// Savepoint is a named point inside a write transaction that later changes
// can be rolled back to. The engine opens one per statement so a failing
// statement inside an explicit transaction undoes only its own writes.
type Savepoint struct {
	name string

	// Database size when the savepoint was opened.
	dbSize Pgno

	// Page images as they were when the savepoint was opened, captured on
	// the first Write after it.
	pageStates map[Pgno][]byte
}

// Savepoint opens a savepoint with the given name.
func (p *Pager) Savepoint(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == PagerStateError {
		return p.errCode
	}
	if p.state < PagerStateWriterLocked {
		return ErrNoTransaction
	}
	if name == "" {
		return errs.NewValidation("savepoint", "name cannot be empty")
	}
	if p.findSavepoint(name) >= 0 {
		return fmt.Errorf("savepoint %s already exists", name)
	}

	p.savepoints = append(p.savepoints, &Savepoint{
		name:       name,
		dbSize:     p.dbSize,
		pageStates: make(map[Pgno][]byte),
	})
	return nil
}

// Release releases a savepoint and all savepoints opened after it. The
// changes are kept.
func (p *Pager) Release(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state < PagerStateWriterLocked {
		return ErrNoTransaction
	}
	idx := p.findSavepoint(name)
	if idx < 0 {
		return errs.NewNotFound("savepoint", name)
	}
	p.savepoints = p.savepoints[:idx]
	return nil
}

// RollbackTo undoes every change made since the savepoint was opened. The
// savepoint stays open; newer ones are discarded.
func (p *Pager) RollbackTo(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == PagerStateError {
		return p.errCode
	}
	if p.state < PagerStateWriterLocked {
		return ErrNoTransaction
	}
	idx := p.findSavepoint(name)
	if idx < 0 {
		return errs.NewNotFound("savepoint", name)
	}

	p.restoreToSavepoint(idx)
	p.savepoints = p.savepoints[:idx+1]
	return nil
}

// ClearSavepoints removes all savepoints.
func (p *Pager) ClearSavepoints() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clearSavepointsLocked()
}

func (p *Pager) clearSavepointsLocked() {
	p.savepoints = nil
}

// HasSavepoint returns true if a savepoint with the given name exists.
func (p *Pager) HasSavepoint(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.findSavepoint(name) >= 0
}

// SavepointNames returns the open savepoints, oldest first.
func (p *Pager) SavepointNames() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, len(p.savepoints))
	for i, sp := range p.savepoints {
		names[i] = sp.name
	}
	return names
}

func (p *Pager) findSavepoint(name string) int {
	for i := len(p.savepoints) - 1; i >= 0; i-- {
		if p.savepoints[i].name == name {
			return i
		}
	}
	return -1
}

// savePageState records the current image of page for every open savepoint
// that has not seen it yet. Pages beyond a savepoint's size need no image:
// rolling back truncates them.
func (p *Pager) savePageState(page *DbPage) {
	for _, sp := range p.savepoints {
		if page.Pgno > sp.dbSize {
			continue
		}
		if _, ok := sp.pageStates[page.Pgno]; ok {
			continue
		}
		sp.pageStates[page.Pgno] = append([]byte(nil), page.Data...)
	}
}

// restoreToSavepoint puts back the page images captured by savepoint idx and
// every newer savepoint. The oldest image of a page wins.
func (p *Pager) restoreToSavepoint(idx int) {
	target := p.savepoints[idx]
	restore := make(map[Pgno][]byte, len(target.pageStates))
	for i := idx; i < len(p.savepoints); i++ {
		for pgno, data := range p.savepoints[i].pageStates {
			if _, ok := restore[pgno]; !ok && pgno <= target.dbSize {
				restore[pgno] = data
			}
		}
	}

	for pgno, data := range restore {
		page := p.cache.Get(pgno)
		if page == nil {
			page = NewDbPage(pgno, p.pageSize)
			page.RefCount = 0
			p.cache.Put(page)
		}
		copy(page.Data, data)
		p.cache.MarkDirty(page)
	}

	p.dbSize = target.dbSize
	p.cache.Truncate(p.dbSize)
}
