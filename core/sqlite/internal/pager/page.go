package pager

import (
	"sync/atomic"

	"github.com/zhangyunhao116/skipmap"
)

// Pgno represents a page number in the database.
// Page numbers start at 1 (page 0 is reserved/invalid).
type Pgno uint32

// Page flags
const (
	// PageFlagClean indicates the page matches what is on disk.
	PageFlagClean = 0x001

	// PageFlagDirty indicates the page has been modified in the open
	// write transaction.
	PageFlagDirty = 0x002

	// PageFlagWriteable indicates Write has been called for the page.
	PageFlagWriteable = 0x004
)

// DbPage is a single cached page. Data always holds the decoded (plaintext)
// image; encoding happens on the way to the backend.
//
// DbPage is not safe for concurrent use; the owning pager serializes access.
type DbPage struct {
	Pgno Pgno

	Data []byte

	Flags uint16

	// RefCount pins the page in the cache while positive.
	RefCount int64
}

// NewDbPage creates a new clean page with the given page number and size.
func NewDbPage(pgno Pgno, pageSize int) *DbPage {
	return &DbPage{
		Pgno:     pgno,
		Data:     make([]byte, pageSize),
		Flags:    PageFlagClean,
		RefCount: 1,
	}
}

// IsDirty returns true if the page has been modified.
func (p *DbPage) IsDirty() bool {
	return p.Flags&PageFlagDirty != 0
}

// IsWriteable returns true if Write has been called for the page.
func (p *DbPage) IsWriteable() bool {
	return p.Flags&PageFlagWriteable != 0
}

func (p *DbPage) makeDirty() {
	p.Flags &^= PageFlagClean
	p.Flags |= PageFlagDirty | PageFlagWriteable
}

func (p *DbPage) makeClean() {
	p.Flags &^= PageFlagDirty | PageFlagWriteable
	p.Flags |= PageFlagClean
}

// Ref increments the reference count for this page.
func (p *DbPage) Ref() {
	atomic.AddInt64(&p.RefCount, 1)
}

// Unref decrements the reference count for this page.
func (p *DbPage) Unref() {
	if atomic.AddInt64(&p.RefCount, -1) < 0 {
		atomic.StoreInt64(&p.RefCount, 0)
	}
}

// GetRefCount returns the current reference count.
func (p *DbPage) GetRefCount() int64 {
	return atomic.LoadInt64(&p.RefCount)
}

// Clone creates a deep copy of the page.
func (p *DbPage) Clone() *DbPage {
	clone := &DbPage{
		Pgno:     p.Pgno,
		Data:     make([]byte, len(p.Data)),
		Flags:    p.Flags,
		RefCount: 1,
	}
	copy(clone.Data, p.Data)
	return clone
}

// PageCache holds the pages read or modified by the pager. Dirty pages live
// in an ordered set so commits write them in ascending page order.
type PageCache struct {
	pages    map[Pgno]*DbPage
	dirty    *skipmap.FuncMap[Pgno, *DbPage]
	maxPages int
}

func newDirtySet() *skipmap.FuncMap[Pgno, *DbPage] {
	return skipmap.NewFunc[Pgno, *DbPage](func(a, b Pgno) bool { return a < b })
}

// NewPageCache creates a new page cache holding about maxPages clean pages.
func NewPageCache(maxPages int) *PageCache {
	if maxPages <= 0 {
		maxPages = DefaultCacheSize
	}
	return &PageCache{
		pages:    make(map[Pgno]*DbPage),
		dirty:    newDirtySet(),
		maxPages: maxPages,
	}
}

// Get retrieves a page from the cache, or nil.
func (c *PageCache) Get(pgno Pgno) *DbPage {
	return c.pages[pgno]
}

// Put adds a page to the cache, evicting clean unreferenced pages when the
// cache is over its limit.
func (c *PageCache) Put(page *DbPage) {
	if len(c.pages) >= c.maxPages && c.dirty.Len() < len(c.pages) {
		c.evictClean(len(c.pages) - c.maxPages + 1)
	}
	c.pages[page.Pgno] = page
	if page.IsDirty() {
		c.dirty.Store(page.Pgno, page)
	}
}

// MarkDirty flags page as dirty and records it in the dirty set.
func (c *PageCache) MarkDirty(page *DbPage) {
	page.makeDirty()
	c.dirty.Store(page.Pgno, page)
}

// Remove removes a page from the cache.
func (c *PageCache) Remove(pgno Pgno) {
	delete(c.pages, pgno)
	c.dirty.Delete(pgno)
}

// Clear removes all pages from the cache.
func (c *PageCache) Clear() {
	c.pages = make(map[Pgno]*DbPage)
	c.dirty = newDirtySet()
}

// DropDirty discards every dirty page. Used on rollback, where the cached
// images no longer match the file.
func (c *PageCache) DropDirty() {
	c.dirty.Range(func(pgno Pgno, _ *DbPage) bool {
		delete(c.pages, pgno)
		return true
	})
	c.dirty = newDirtySet()
}

// DirtyPages returns the dirty pages in ascending page order.
func (c *PageCache) DirtyPages() []*DbPage {
	out := make([]*DbPage, 0, c.dirty.Len())
	c.dirty.Range(func(_ Pgno, page *DbPage) bool {
		out = append(out, page)
		return true
	})
	return out
}

// DirtyCount returns the number of dirty pages.
func (c *PageCache) DirtyCount() int {
	return c.dirty.Len()
}

// MakeClean marks all pages as clean.
func (c *PageCache) MakeClean() {
	c.dirty.Range(func(_ Pgno, page *DbPage) bool {
		page.makeClean()
		return true
	})
	c.dirty = newDirtySet()
}

// Truncate drops cached pages beyond n.
func (c *PageCache) Truncate(n Pgno) {
	for pgno := range c.pages {
		if pgno > n {
			c.Remove(pgno)
		}
	}
}

// Size returns the number of pages in the cache.
func (c *PageCache) Size() int {
	return len(c.pages)
}

func (c *PageCache) evictClean(n int) {
	for pgno, page := range c.pages {
		if n <= 0 {
			return
		}
		if !page.IsDirty() && page.GetRefCount() == 0 {
			delete(c.pages, pgno)
			n--
		}
	}
}
