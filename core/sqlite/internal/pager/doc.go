/*
Package pager implements the page store underneath the b-tree: fixed-size page
I/O over a Backend, a page cache, rollback-journal commits, advisory file
locking, the free list and the small integer meta slots kept in page 1.

The on-disk layout is the SQLite 3 file format, so files written with no codec
and auto_vacuum off open in any SQLite 3 reader.

# Database File Format

The first 100 bytes of page 1 hold the header:
  - Magic string: "SQLite format 3\0"
  - Page size at offset 16 (the value 1 means 65536)
  - Reserved bytes per page at offset 20
  - Change counter, database size, free-list trunk and count
  - Meta slots 1..15 at 36+4n (schema cookie, default cache size, text
    encoding, user version, ...)

The last Reserve() bytes of every page are left to the page Codec, which may
use them for a checksum or an authentication tag.

# Transactions

Pages are modified in the cache only. Commit:

 1. stamps page 1 (change counter, size, page size, reserve)
 2. copies the original raw image of every page about to be overwritten or
    truncated into <db>-journal, then writes and syncs the journal header
 3. writes the dirty pages in ascending order, sizes and syncs the file
 4. deletes the journal, which is the commit point

Rollback drops the dirty pages. A journal found on open is hot and is played
back before the file is used.

# Pager States

	OPEN -> READER -> WRITER_LOCKED -> WRITER_CACHEMOD -> OPEN

A commit that fails and cannot be undone moves the pager to ERROR; only
Rollback or Close leave it.

# Page Size and Reserve

SetPageSize applies to empty databases and to a database whose content was
just replaced by CopyFrom. Once the size of an existing file has been read it
is fixed and SetPageSize reports ErrReadOnly.

# Usage

	p, err := pager.Open("app.db", false)
	if err != nil {
	    return err
	}
	defer p.Close()

	if err := p.Begin(); err != nil {
	    return err
	}
	page, err := p.Allocate()
	if err != nil {
	    p.Rollback()
	    return err
	}
	copy(page.Data[pager.DatabaseHeaderSize:], payload)
	p.Put(page)
	return p.Commit()
*/
package pager
