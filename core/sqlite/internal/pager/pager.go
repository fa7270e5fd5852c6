package pager

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	errs "github.com/FocuswithJustin/sqlcompact/core/errors"
	"github.com/FocuswithJustin/sqlcompact/internal/logging"
)

// Pager states
const (
	// PagerStateOpen - pager is open but no transaction is active
	PagerStateOpen = iota

	// PagerStateReader - read transaction is active
	PagerStateReader

	// PagerStateWriterLocked - write transaction started, locks acquired
	PagerStateWriterLocked

	// PagerStateWriterCachemod - write transaction, cache modified
	PagerStateWriterCachemod

	// PagerStateError - a commit failed and could not be undone
	PagerStateError
)

// Lock states
const (
	LockNone = iota
	LockShared
	LockExclusive
)

// Synchronous is the durability level applied to journal and database syncs.
type Synchronous int

const (
	SyncOff Synchronous = iota
	SyncNormal
	SyncFull
)

// AutoVacuum modes, stored in meta slots 4 and 7.
type AutoVacuum int

const (
	AutoVacuumNone AutoVacuum = iota
	AutoVacuumFull
	AutoVacuumIncremental
)

// Default values
const (
	DefaultCacheSize = 2000

	busyRetryInterval = 5 * time.Millisecond
	maxPageNum        = 0x7FFFFFFF
)

// MemoryFilename opens a private in-memory database.
const MemoryFilename = ":memory:"

// Common errors
var (
	ErrInvalidPageSize = errs.New(errs.MISUSE, "invalid page size")
	ErrInvalidReserve  = errs.New(errs.MISUSE, "invalid reserve size")
	ErrInvalidPageNum  = errs.New(errs.CORRUPT, "invalid page number")
	ErrReadOnly        = errs.New(errs.READONLY, "attempt to write a readonly database")
	ErrNoTransaction   = errs.New(errs.ERROR, "no transaction active")
	ErrTransactionOpen = errs.New(errs.ERROR, "transaction already open")
	ErrBusy            = errs.New(errs.BUSY, "database is locked")
	ErrCorrupt         = errs.New(errs.CORRUPT, "database disk image is malformed")
	ErrNotADatabase    = errs.New(errs.NOTADB, "file is not a database")
	ErrFull            = errs.New(errs.FULL, "database or disk is full")

	errWouldBlock = errors.New("lock would block")
)

// Codec transforms page images on their way to and from the backend. The
// transformation may use the last Overhead() bytes of the page, which the
// b-tree layer leaves alone as the reserved region.
type Codec interface {
	Overhead() int
	Keyed() bool
	Encode(pgno uint32, page []byte) ([]byte, error)
	Decode(pgno uint32, page []byte) error
}

// Options configures Open.
type Options struct {
	// PageSize and Reserve apply to a new (empty) database.
	PageSize int
	Reserve  int

	ReadOnly bool

	// Memory keeps the database in a MemBackend; the filename is a label.
	Memory bool

	// DeleteOnClose removes the file and its journal on Close.
	DeleteOnClose bool

	Codec Codec

	// Opener opens database and journal backends. Defaults to OpenFile.
	Opener Opener

	// BusyTimeout bounds the wait for a contended file lock.
	BusyTimeout time.Duration

	CacheSize int
}

// Pager manages reading and writing pages from/to a database file.
// It implements page caching, journaling for atomic commits, and file locking.
type Pager struct {
	filename        string
	journalFilename string
	opts            Options

	db    Backend
	cache *PageCache
	codec Codec

	state     int
	lockState int

	pageSize int
	reserve  int
	dbSize   Pgno

	// Values captured when the write transaction began, restored on rollback.
	origPageSize int
	origReserve  int
	origFixed    bool
	dbOrigSize   Pgno

	// changeCounter is the header change counter last seen on disk.
	changeCounter uint32

	// fixed is set once the page size of an existing file has been read.
	fixed bool

	autoVacuum AutoVacuum
	sync       Synchronous
	readOnly   bool
	memory     bool

	errCode error

	savepoints []*Savepoint

	mu sync.Mutex
}

// Open opens a database file with default options.
func Open(filename string, readOnly bool) (*Pager, error) {
	return OpenWithOptions(filename, Options{ReadOnly: readOnly})
}

// OpenWithPageSize opens a database file and uses pageSize if the file is new.
func OpenWithPageSize(filename string, readOnly bool, pageSize int) (*Pager, error) {
	return OpenWithOptions(filename, Options{ReadOnly: readOnly, PageSize: pageSize})
}

// OpenTemp opens a private file-backed database in the system temp
// directory. The file is removed on Close.
func OpenTemp(opts Options) (*Pager, error) {
	opts.DeleteOnClose = true
	opts.Memory = false
	name := filepath.Join(os.TempDir(), "sqlcompact-"+uuid.NewString()+".db")
	return OpenWithOptions(name, opts)
}

// OpenWithOptions opens or creates a database. An existing file's header
// decides the page size and reserve; opts only apply to empty files.
func OpenWithOptions(filename string, opts Options) (*Pager, error) {
	if opts.PageSize == 0 {
		opts.PageSize = DefaultPageSize
	}
	if !IsValidPageSize(opts.PageSize) {
		return nil, ErrInvalidPageSize
	}
	if opts.Opener == nil {
		opts.Opener = OpenFile
	}

	p := &Pager{
		filename:        filename,
		journalFilename: filename + "-journal",
		opts:            opts,
		cache:           NewPageCache(opts.CacheSize),
		codec:           opts.Codec,
		state:           PagerStateOpen,
		lockState:       LockNone,
		pageSize:        opts.PageSize,
		reserve:         opts.Reserve,
		sync:            SyncFull,
		readOnly:        opts.ReadOnly,
		memory:          opts.Memory || filename == MemoryFilename || filename == "",
	}
	if p.codec != nil && p.reserve < p.codec.Overhead() {
		p.reserve = p.codec.Overhead()
	}
	if err := validateGeometry(p.pageSize, p.reserve, p.codec); err != nil {
		return nil, err
	}

	if p.memory {
		p.db = NewMemBackend()
		return p, nil
	}

	db, err := opts.Opener(filename, opts.ReadOnly, false)
	if err != nil {
		return nil, errs.WithCode(errs.CANTOPEN, fmt.Errorf("failed to open database file: %w", err))
	}
	p.db = db

	if err := p.recoverHotJournal(); err != nil {
		db.Close()
		return nil, err
	}

	size, err := db.Size()
	if err != nil {
		db.Close()
		return nil, errs.NewIO("stat", filename, err)
	}
	if size > 0 {
		if err := p.loadHeader(size); err != nil {
			db.Close()
			return nil, err
		}
	}
	return p, nil
}

// loadHeader refreshes page size, reserve and size from the file header.
func (p *Pager) loadHeader(fileSize int64) error {
	h, err := ReadHeader(p.db)
	if err != nil {
		return err
	}
	p.pageSize = h.PageSize
	p.reserve = int(h.ReservedSpace)
	p.dbSize = Pgno(fileSize / int64(p.pageSize))
	p.changeCounter = h.FileChangeCounter
	p.fixed = true
	if p.codec != nil && p.reserve < p.codec.Overhead() {
		return fmt.Errorf("%w: reserve %d too small for codec", ErrNotADatabase, p.reserve)
	}
	return nil
}

// recoverHotJournal rolls back a journal left by a crashed commit.
func (p *Pager) recoverHotJournal() error {
	if p.readOnly || !fileExists(p.journalFilename) {
		return nil
	}
	if err := p.lock(LockExclusive); err != nil {
		return err
	}
	defer p.unlock()

	jb, err := p.opts.Opener(p.journalFilename, false, true)
	if err != nil {
		return errs.NewIO("open", p.journalFilename, err)
	}
	restored, err := playbackJournal(jb, p.db, true)
	jb.Close()
	if err != nil {
		return errs.NewIO("rollback", p.journalFilename, err)
	}
	if err := removeFile(p.journalFilename); err != nil {
		return errs.NewIO("delete", p.journalFilename, err)
	}
	logging.StoreEvent("hot_journal_rollback", p.filename, "pages", restored)
	return nil
}

// Close closes the pager and releases all resources.
func (p *Pager) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state >= PagerStateWriterLocked {
		p.rollbackLocked()
	}
	p.unlock()
	p.cache.Clear()

	var err error
	if p.db != nil {
		err = p.db.Close()
		p.db = nil
	}
	if p.opts.DeleteOnClose && !p.memory {
		removeFile(p.filename)
		removeFile(p.journalFilename)
	}
	p.state = PagerStateOpen
	return err
}

// Get retrieves a page from the database, taking a shared lock if no
// transaction is open. The caller releases the page with Put.
func (p *Pager) Get(pgno Pgno) (*DbPage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.getLocked(pgno)
}

func (p *Pager) getLocked(pgno Pgno) (*DbPage, error) {
	if p.state == PagerStateError {
		return nil, p.errCode
	}
	if pgno == 0 || pgno > maxPageNum {
		return nil, ErrInvalidPageNum
	}
	if p.state == PagerStateOpen {
		if err := p.beginReadLocked(); err != nil {
			return nil, err
		}
	}

	if page := p.cache.Get(pgno); page != nil {
		page.Ref()
		return page, nil
	}
	if pgno > p.dbSize {
		return nil, fmt.Errorf("%w: page %d beyond end of database (%d pages)", ErrCorrupt, pgno, p.dbSize)
	}

	page, err := p.readPage(pgno)
	if err != nil {
		return nil, err
	}
	p.cache.Put(page)
	return page, nil
}

// Put releases a reference to a page.
func (p *Pager) Put(page *DbPage) {
	if page == nil {
		return
	}
	page.Unref()
}

// BeginRead takes a shared lock and revalidates the cache against the file's
// change counter. It is a no-op inside a transaction.
func (p *Pager) BeginRead() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == PagerStateError {
		return p.errCode
	}
	if p.state != PagerStateOpen {
		return nil
	}
	return p.beginReadLocked()
}

func (p *Pager) beginReadLocked() error {
	if err := p.lock(LockShared); err != nil {
		return err
	}
	p.state = PagerStateReader
	if p.memory {
		return nil
	}

	size, err := p.db.Size()
	if err != nil {
		p.endReadLocked()
		return errs.NewIO("stat", p.filename, err)
	}
	if size == 0 {
		if p.dbSize != 0 {
			p.cache.Clear()
			p.dbSize = 0
		}
		return nil
	}

	var counter [4]byte
	if _, err := p.db.ReadAt(counter[:], OffsetFileChangeCounter); err != nil && err != io.EOF {
		p.endReadLocked()
		return errs.NewIO("read", p.filename, err)
	}
	if c := binary.BigEndian.Uint32(counter[:]); c != p.changeCounter || !p.fixed || p.dbSize == 0 {
		p.cache.Clear()
		if err := p.loadHeader(size); err != nil {
			p.endReadLocked()
			return err
		}
	}
	return nil
}

// EndRead releases the shared lock taken by BeginRead or Get. It is a no-op
// inside a write transaction.
func (p *Pager) EndRead() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == PagerStateReader {
		p.endReadLocked()
	}
}

func (p *Pager) endReadLocked() {
	p.unlock()
	p.state = PagerStateOpen
}

// Begin starts a write transaction and takes the exclusive lock.
func (p *Pager) Begin() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.readOnly {
		return ErrReadOnly
	}
	if p.state == PagerStateError {
		return p.errCode
	}
	if p.state >= PagerStateWriterLocked {
		return ErrTransactionOpen
	}
	if p.state == PagerStateOpen {
		if err := p.beginReadLocked(); err != nil {
			return err
		}
	}
	if err := p.lock(LockExclusive); err != nil {
		// flock may drop the shared lock while converting.
		p.endReadLocked()
		return err
	}

	p.state = PagerStateWriterLocked
	p.dbOrigSize = p.dbSize
	p.origPageSize = p.pageSize
	p.origReserve = p.reserve
	p.origFixed = p.fixed
	return nil
}

// Write must be called before a page is modified. It marks the page dirty
// and records its current image for any open savepoint.
func (p *Pager) Write(page *DbPage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writeLocked(page)
}

func (p *Pager) writeLocked(page *DbPage) error {
	if p.state == PagerStateError {
		return p.errCode
	}
	if p.state < PagerStateWriterLocked {
		return ErrNoTransaction
	}
	if page == nil {
		return errors.New("nil page")
	}
	p.savePageState(page)
	p.cache.MarkDirty(page)
	p.state = PagerStateWriterCachemod
	return nil
}

// Commit commits the current write transaction.
func (p *Pager) Commit() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.commitLocked()
}

func (p *Pager) commitLocked() error {
	if p.state == PagerStateError {
		return p.errCode
	}
	if p.state < PagerStateWriterLocked {
		return ErrNoTransaction
	}

	if p.cache.DirtyCount() > 0 || p.dbSize != p.dbOrigSize {
		if err := p.writeTransaction(); err != nil {
			return err
		}
	}

	p.clearSavepointsLocked()
	p.dbOrigSize = p.dbSize
	p.state = PagerStateOpen
	p.unlock()
	return nil
}

// writeTransaction journals the pages about to be overwritten, writes the
// dirty pages in ascending order and deletes the journal. The journal delete
// is the commit point.
func (p *Pager) writeTransaction() error {
	if p.dbSize > 0 {
		if err := p.stampHeader(); err != nil {
			return err
		}
	}

	durable := p.sync != SyncOff && !p.memory
	j, err := p.writeJournal(durable)
	if err != nil {
		return err
	}

	if err := p.writeDirtyPages(durable); err != nil {
		restored, rbErr := j.Playback(p.db, durable)
		if rbErr != nil {
			p.state = PagerStateError
			p.errCode = errs.NewIO("commit", p.filename, err)
			j.Close(false)
			return p.errCode
		}
		j.Close(true)
		logging.StoreEvent("commit_undone", p.filename, "pages", restored, "error", err.Error())
		return errs.NewIO("commit", p.filename, err)
	}

	if err := j.Close(true); err != nil {
		p.state = PagerStateError
		p.errCode = errs.NewIO("delete", p.journalFilename, err)
		return p.errCode
	}

	p.cache.MakeClean()
	if page1 := p.cache.Get(1); page1 != nil && p.dbSize > 0 {
		p.changeCounter = binary.BigEndian.Uint32(page1.Data[OffsetFileChangeCounter:])
	}
	return nil
}

// stampHeader refreshes the page 1 fields the pager owns.
func (p *Pager) stampHeader() error {
	page1, err := p.getLocked(1)
	if err != nil {
		return err
	}
	defer page1.Unref()
	if err := p.writeLocked(page1); err != nil {
		return err
	}

	d := page1.Data
	counter := p.changeCounter + 1
	binary.BigEndian.PutUint16(d[OffsetPageSize:], encodePageSize(p.pageSize))
	d[OffsetReservedSpace] = byte(p.reserve)
	binary.BigEndian.PutUint32(d[OffsetFileChangeCounter:], counter)
	binary.BigEndian.PutUint32(d[OffsetDatabaseSize:], uint32(p.dbSize))
	binary.BigEndian.PutUint32(d[OffsetVersionValidFor:], counter)
	binary.BigEndian.PutUint32(d[OffsetLibraryVersion:], LibraryVersion)
	return nil
}

// writeJournal records the original raw image of every page the commit will
// overwrite or truncate. When the page size changes every original page is
// journaled at the old size.
func (p *Pager) writeJournal(durable bool) (*Journal, error) {
	jb, err := p.openJournalBackend()
	if err != nil {
		return nil, err
	}
	name := p.journalFilename
	if p.memory {
		name = ""
	}
	j := NewJournal(jb, name, p.origPageSize, p.dbOrigSize)

	fail := func(err error) (*Journal, error) {
		j.Close(true)
		return nil, errs.NewIO("journal", p.journalFilename, err)
	}

	raw := make([]byte, p.origPageSize)
	record := func(pgno Pgno) error {
		if _, err := p.db.ReadAt(raw, int64(pgno-1)*int64(p.origPageSize)); err != nil && err != io.EOF {
			return err
		}
		return j.WriteOriginal(pgno, raw)
	}

	if p.pageSize != p.origPageSize {
		for pgno := Pgno(1); pgno <= p.dbOrigSize; pgno++ {
			if err := record(pgno); err != nil {
				return fail(err)
			}
		}
	} else {
		for _, page := range p.cache.DirtyPages() {
			if page.Pgno > p.dbOrigSize {
				break
			}
			if err := record(page.Pgno); err != nil {
				return fail(err)
			}
		}
		for pgno := p.dbSize + 1; pgno <= p.dbOrigSize; pgno++ {
			if p.cache.Get(pgno) != nil && p.cache.Get(pgno).IsDirty() {
				continue
			}
			if err := record(pgno); err != nil {
				return fail(err)
			}
		}
	}

	if err := j.Finish(p.sync == SyncFull, durable); err != nil {
		return fail(err)
	}
	return j, nil
}

func (p *Pager) openJournalBackend() (Backend, error) {
	if p.memory {
		return NewMemBackend(), nil
	}
	jb, err := p.opts.Opener(p.journalFilename, false, false)
	if err != nil {
		return nil, errs.NewIO("open", p.journalFilename, err)
	}
	if err := jb.Truncate(0); err != nil {
		jb.Close()
		return nil, errs.NewIO("truncate", p.journalFilename, err)
	}
	return jb, nil
}

// writeDirtyPages writes all dirty pages to the database file, sizes the
// file and syncs it.
func (p *Pager) writeDirtyPages(durable bool) error {
	for _, page := range p.cache.DirtyPages() {
		if page.Pgno > p.dbSize {
			continue
		}
		if err := p.writePage(page); err != nil {
			return err
		}
	}
	if err := p.db.Truncate(int64(p.dbSize) * int64(p.pageSize)); err != nil {
		return fmt.Errorf("failed to size database file: %w", err)
	}
	if durable {
		if err := p.db.Sync(); err != nil {
			return fmt.Errorf("failed to sync database file: %w", err)
		}
	}
	return nil
}

// readPage reads and decodes a page from the backend.
func (p *Pager) readPage(pgno Pgno) (*DbPage, error) {
	page := NewDbPage(pgno, p.pageSize)
	offset := int64(pgno-1) * int64(p.pageSize)
	n, err := p.db.ReadAt(page.Data, offset)
	if n < p.pageSize {
		if err != nil && err != io.EOF {
			return nil, errs.NewIO("read", p.filename, err)
		}
		return nil, fmt.Errorf("%w: short read of page %d", ErrCorrupt, pgno)
	}
	if p.codec != nil {
		if err := p.codec.Decode(uint32(pgno), page.Data); err != nil {
			if pgno == 1 {
				return nil, fmt.Errorf("%w: %v", ErrNotADatabase, err)
			}
			return nil, fmt.Errorf("%w: page %d: %v", ErrCorrupt, pgno, err)
		}
	}
	return page, nil
}

// writePage encodes and writes a page to the backend.
func (p *Pager) writePage(page *DbPage) error {
	data := page.Data
	if p.codec != nil {
		enc, err := p.codec.Encode(uint32(page.Pgno), page.Data)
		if err != nil {
			return fmt.Errorf("failed to encode page %d: %w", page.Pgno, err)
		}
		data = enc
	}
	offset := int64(page.Pgno-1) * int64(p.pageSize)
	if _, err := p.db.WriteAt(data, offset); err != nil {
		return fmt.Errorf("failed to write page %d: %w", page.Pgno, err)
	}
	return nil
}

// Rollback rolls back the current write transaction.
func (p *Pager) Rollback() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rollbackLocked()
}

// rollbackLocked discards every dirty page. Dirty pages never reach the file
// before commit, so the file needs no repair unless a commit failed midway.
func (p *Pager) rollbackLocked() error {
	if p.state == PagerStateError {
		p.cache.Clear()
		p.state = PagerStateOpen
		p.errCode = nil
		p.unlock()
		// The journal left behind by the failed commit is hot.
		err := p.recoverHotJournal()
		p.restoreOrig()
		return err
	}
	if p.state < PagerStateWriterLocked {
		return ErrNoTransaction
	}

	p.cache.DropDirty()
	if p.pageSize != p.origPageSize {
		p.cache.Clear()
	}
	p.restoreOrig()
	p.clearSavepointsLocked()
	p.state = PagerStateOpen
	p.unlock()
	return nil
}

func (p *Pager) restoreOrig() {
	p.dbSize = p.dbOrigSize
	p.pageSize = p.origPageSize
	p.reserve = p.origReserve
	p.fixed = p.origFixed
}

// lock moves the advisory file lock to how, retrying a contended lock until
// the busy timeout expires.
func (p *Pager) lock(how int) error {
	if p.lockState == how {
		return nil
	}
	if p.memory {
		p.lockState = how
		return nil
	}

	deadline := time.Now().Add(p.opts.BusyTimeout)
	for {
		err := flock(p.db, how)
		if err == nil {
			p.lockState = how
			return nil
		}
		if !errors.Is(err, errWouldBlock) {
			return errs.NewIO("lock", p.filename, err)
		}
		if !time.Now().Before(deadline) {
			return ErrBusy
		}
		time.Sleep(busyRetryInterval)
	}
}

func (p *Pager) unlock() {
	if p.lockState == LockNone {
		return
	}
	if !p.memory && p.db != nil {
		flock(p.db, LockNone)
	}
	p.lockState = LockNone
}

func validateGeometry(pageSize, reserve int, codec Codec) error {
	if !IsValidPageSize(pageSize) {
		return ErrInvalidPageSize
	}
	if reserve < 0 || reserve > MaxReserve || pageSize-reserve < MinUsableSize {
		return fmt.Errorf("%w: %d with page size %d", ErrInvalidReserve, reserve, pageSize)
	}
	if codec != nil && reserve < codec.Overhead() {
		return fmt.Errorf("%w: codec needs %d reserved bytes, have %d", ErrInvalidReserve, codec.Overhead(), reserve)
	}
	return nil
}

// SetPageSize changes the page size and reserve of an empty database. A
// size that is not a valid page size keeps the current size, and a negative
// reserve keeps the current reserve. Once the size is fixed every call fails
// with ErrReadOnly; fix marks it fixed.
func (p *Pager) SetPageSize(size, reserve int, fix bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.fixed {
		return ErrReadOnly
	}
	if reserve < 0 {
		reserve = p.reserve
	}
	newSize := p.pageSize
	if IsValidPageSize(size) && p.dbSize == 0 {
		newSize = size
	}
	if p.dbSize > 0 && reserve != p.reserve {
		return ErrReadOnly
	}
	if err := validateGeometry(newSize, reserve, p.codec); err != nil {
		return err
	}
	if newSize != p.pageSize {
		p.cache.Clear()
	}
	p.pageSize = newSize
	p.reserve = reserve
	p.fixed = fix
	return nil
}

// SetCodec installs or replaces the page codec. The cache is dropped so later
// reads go through the new codec.
func (p *Pager) SetCodec(c Codec) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state >= PagerStateWriterLocked {
		return ErrTransactionOpen
	}
	if c != nil && p.reserve < c.Overhead() {
		if p.dbSize > 0 {
			return fmt.Errorf("%w: codec needs %d reserved bytes, have %d", ErrInvalidReserve, c.Overhead(), p.reserve)
		}
		p.reserve = c.Overhead()
	}
	p.codec = c
	p.cache.Clear()
	return nil
}

// Codec returns the installed codec, or nil.
func (p *Pager) Codec() Codec {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.codec
}

// Keyed reports whether the store is protected by a keyed codec.
func (p *Pager) Keyed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.codec != nil && p.codec.Keyed()
}

// Meta returns meta slot n from page 1. An empty database reports 0.
func (p *Pager) Meta(n int) (uint32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.metaLocked(n)
}

func (p *Pager) metaLocked(n int) (uint32, error) {
	if n < 0 || n > MaxMetaSlot {
		return 0, fmt.Errorf("%w: meta slot %d", errs.ErrInvalidInput, n)
	}
	if p.state == PagerStateOpen {
		if err := p.beginReadLocked(); err != nil {
			return 0, err
		}
	}
	if p.dbSize == 0 {
		return 0, nil
	}
	page1, err := p.getLocked(1)
	if err != nil {
		return 0, err
	}
	defer page1.Unref()
	return binary.BigEndian.Uint32(page1.Data[OffsetMetaBase+4*n:]), nil
}

// SetMeta writes meta slot n. It requires a write transaction and page 1.
func (p *Pager) SetMeta(n int, v uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if n < 1 || n > MaxMetaSlot {
		return fmt.Errorf("%w: meta slot %d", errs.ErrInvalidInput, n)
	}
	if p.state < PagerStateWriterLocked {
		return ErrNoTransaction
	}
	page1, err := p.getLocked(1)
	if err != nil {
		return err
	}
	defer page1.Unref()
	if err := p.writeLocked(page1); err != nil {
		return err
	}
	binary.BigEndian.PutUint32(page1.Data[OffsetMetaBase+4*n:], v)
	return nil
}

// AutoVacuum returns the auto-vacuum mode. For an empty database it is the
// mode that page 1 will be created with.
func (p *Pager) AutoVacuum() AutoVacuum {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.autoVacuumLocked()
}

func (p *Pager) autoVacuumLocked() AutoVacuum {
	if p.dbSize == 0 {
		return p.autoVacuum
	}
	largest, err := p.metaLocked(MetaLargestRoot)
	if err != nil || largest == 0 {
		return AutoVacuumNone
	}
	if incr, _ := p.metaLocked(MetaIncrVacuum); incr != 0 {
		return AutoVacuumIncremental
	}
	return AutoVacuumFull
}

// SetAutoVacuum sets the auto-vacuum mode used when page 1 is created.
// Switching between none and full/incremental is refused with ErrReadOnly
// once the page size is fixed.
func (p *Pager) SetAutoVacuum(mode AutoVacuum) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.fixed {
		current := p.autoVacuumLocked()
		if (mode != AutoVacuumNone) != (current != AutoVacuumNone) {
			return ErrReadOnly
		}
	}
	p.autoVacuum = mode
	return nil
}

// SetSynchronous sets the durability level.
func (p *Pager) SetSynchronous(s Synchronous) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sync = s
}

// Synchronous returns the durability level.
func (p *Pager) Synchronous() Synchronous {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sync
}

// Header returns the decoded page 1 header, or nil for an empty database.
func (p *Pager) Header() (*DatabaseHeader, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == PagerStateOpen {
		if err := p.beginReadLocked(); err != nil {
			return nil, err
		}
	}
	if p.dbSize == 0 {
		return nil, nil
	}
	page1, err := p.getLocked(1)
	if err != nil {
		return nil, err
	}
	defer page1.Unref()
	return ParseDatabaseHeader(page1.Data[:DatabaseHeaderSize])
}

// PageSize returns the page size of the database.
func (p *Pager) PageSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pageSize
}

// Reserve returns the number of reserved bytes at the end of each page.
func (p *Pager) Reserve() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reserve
}

// UsableSize returns the page size less the reserve.
func (p *Pager) UsableSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pageSize - p.reserve
}

// PageCount returns the number of pages in the database.
func (p *Pager) PageCount() Pgno {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dbSize
}

// FreelistCount returns the number of pages on the free list.
func (p *Pager) FreelistCount() (uint32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, count, err := p.freelistHead()
	return count, err
}

// InTransaction reports whether a write transaction is open.
func (p *Pager) InTransaction() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state >= PagerStateWriterLocked && p.state != PagerStateError
}

// State returns the pager state.
func (p *Pager) State() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// IsReadOnly returns true if the pager is read-only.
func (p *Pager) IsReadOnly() bool {
	return p.readOnly
}

// IsMemory reports whether the database lives only in memory.
func (p *Pager) IsMemory() bool {
	return p.memory
}

// Filename returns the database path.
func (p *Pager) Filename() string {
	return p.filename
}
