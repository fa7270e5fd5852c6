package pager

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
)

// Journal header constants
const (
	// JournalHeaderSize is the size of the journal header in bytes
	JournalHeaderSize = 28

	// JournalMagic is the magic number at the start of a journal file
	JournalMagic = 0xd9d505f9

	// JournalFormatVersion identifies the record layout: page number, raw
	// page image, 4-byte BLAKE3 checksum.
	JournalFormatVersion = 2

	journalChecksumSize = 4
)

// JournalHeader is the decoded journal header. It is written only after all
// records are on disk, so a journal with a valid header is complete.
type JournalHeader struct {
	Magic         uint32
	PageCount     uint32 // number of records
	Nonce         uint32 // salts the record checksums
	InitialSize   uint32 // database size in pages when the transaction began
	SectorSize    uint32
	PageSize      uint32 // page size of the journaled images
	FormatVersion uint32
}

// Journal is a rollback journal holding the original raw images of the pages
// a commit is about to overwrite.
type Journal struct {
	b         Backend
	filename  string
	pageSize  int
	dbSize    Pgno
	nonce     uint32
	pageCount int
}

// NewJournal creates a journal over b. Records are appended after the header
// slot; the header itself is written by Finish.
func NewJournal(b Backend, filename string, pageSize int, dbSize Pgno) *Journal {
	return &Journal{
		b:        b,
		filename: filename,
		pageSize: pageSize,
		dbSize:   dbSize,
		nonce:    generateNonce(),
	}
}

func (j *Journal) entrySize() int64 {
	return int64(4 + j.pageSize + journalChecksumSize)
}

// WriteOriginal appends the original raw image of page pgno.
func (j *Journal) WriteOriginal(pgno Pgno, raw []byte) error {
	if len(raw) != j.pageSize {
		return fmt.Errorf("journal record for page %d has %d bytes, want %d", pgno, len(raw), j.pageSize)
	}
	entry := make([]byte, j.entrySize())
	binary.BigEndian.PutUint32(entry[0:4], uint32(pgno))
	copy(entry[4:], raw)
	binary.BigEndian.PutUint32(entry[4+j.pageSize:], j.checksum(pgno, raw))

	off := JournalHeaderSize + int64(j.pageCount)*j.entrySize()
	if _, err := j.b.WriteAt(entry, off); err != nil {
		return fmt.Errorf("failed to journal page %d: %w", pgno, err)
	}
	j.pageCount++
	return nil
}

// Finish makes the journal valid: records are synced, then the header is
// written and synced. With syncRecords false only the final sync happens;
// with durable false nothing is synced.
func (j *Journal) Finish(syncRecords, durable bool) error {
	if durable && syncRecords {
		if err := j.b.Sync(); err != nil {
			return fmt.Errorf("failed to sync journal: %w", err)
		}
	}
	if err := j.writeHeader(); err != nil {
		return err
	}
	if durable {
		if err := j.b.Sync(); err != nil {
			return fmt.Errorf("failed to sync journal: %w", err)
		}
	}
	return nil
}

// Playback restores every journaled page into db and truncates db to its
// original size. It returns the number of pages restored.
func (j *Journal) Playback(db Backend, durable bool) (int, error) {
	return playbackJournal(j.b, db, durable)
}

// GetPageCount returns the number of records written.
func (j *Journal) GetPageCount() int {
	return j.pageCount
}

// Close closes the journal backend and removes the file unless it is memory
// resident.
func (j *Journal) Close(remove bool) error {
	err := j.b.Close()
	if remove && j.filename != "" {
		if rmErr := removeFile(j.filename); rmErr != nil && fileExists(j.filename) {
			return rmErr
		}
	}
	return err
}

func (j *Journal) writeHeader() error {
	data := make([]byte, JournalHeaderSize)
	binary.BigEndian.PutUint32(data[0:4], JournalMagic)
	binary.BigEndian.PutUint32(data[4:8], uint32(j.pageCount))
	binary.BigEndian.PutUint32(data[8:12], j.nonce)
	binary.BigEndian.PutUint32(data[12:16], uint32(j.dbSize))
	binary.BigEndian.PutUint32(data[16:20], 512)
	binary.BigEndian.PutUint32(data[20:24], uint32(j.pageSize))
	binary.BigEndian.PutUint32(data[24:28], JournalFormatVersion)

	if _, err := j.b.WriteAt(data, 0); err != nil {
		return fmt.Errorf("failed to write journal header: %w", err)
	}
	return nil
}

func (j *Journal) checksum(pgno Pgno, data []byte) uint32 {
	return journalChecksum(j.nonce, pgno, data)
}

func journalChecksum(nonce uint32, pgno Pgno, data []byte) uint32 {
	var prefix [8]byte
	binary.BigEndian.PutUint32(prefix[0:4], nonce)
	binary.BigEndian.PutUint32(prefix[4:8], uint32(pgno))

	h := blake3.New()
	_, _ = h.Write(prefix[:])
	_, _ = h.Write(data)
	sum := h.Sum(nil)
	return binary.BigEndian.Uint32(sum[:4])
}

// readJournalHeader reads the header from b. A missing, short or foreign
// header yields ok=false.
func readJournalHeader(b Backend) (*JournalHeader, bool, error) {
	data := make([]byte, JournalHeaderSize)
	n, err := b.ReadAt(data, 0)
	if n < JournalHeaderSize {
		if err != nil && err != io.EOF {
			return nil, false, err
		}
		return nil, false, nil
	}

	h := &JournalHeader{
		Magic:         binary.BigEndian.Uint32(data[0:4]),
		PageCount:     binary.BigEndian.Uint32(data[4:8]),
		Nonce:         binary.BigEndian.Uint32(data[8:12]),
		InitialSize:   binary.BigEndian.Uint32(data[12:16]),
		SectorSize:    binary.BigEndian.Uint32(data[16:20]),
		PageSize:      binary.BigEndian.Uint32(data[20:24]),
		FormatVersion: binary.BigEndian.Uint32(data[24:28]),
	}
	if h.Magic != JournalMagic || h.FormatVersion != JournalFormatVersion || !IsValidPageSize(int(h.PageSize)) {
		return h, false, nil
	}
	return h, true, nil
}

// playbackJournal copies the records of journal jb back into db. A record
// with a bad checksum ends playback: it was never synced, so the database
// page it names was never overwritten.
func playbackJournal(jb, db Backend, durable bool) (int, error) {
	h, ok, err := readJournalHeader(jb)
	if err != nil {
		return 0, fmt.Errorf("failed to read journal header: %w", err)
	}
	if !ok {
		return 0, nil
	}

	pageSize := int(h.PageSize)
	entrySize := int64(4 + pageSize + journalChecksumSize)
	entry := make([]byte, entrySize)
	restored := 0

	for i := uint32(0); i < h.PageCount; i++ {
		off := JournalHeaderSize + int64(i)*entrySize
		n, err := jb.ReadAt(entry, off)
		if int64(n) < entrySize {
			if err != nil && err != io.EOF {
				return restored, fmt.Errorf("failed to read journal entry: %w", err)
			}
			break
		}

		pgno := Pgno(binary.BigEndian.Uint32(entry[0:4]))
		data := entry[4 : 4+pageSize]
		stored := binary.BigEndian.Uint32(entry[4+pageSize:])
		if pgno == 0 || stored != journalChecksum(h.Nonce, pgno, data) {
			break
		}

		if _, err := db.WriteAt(data, int64(pgno-1)*int64(pageSize)); err != nil {
			return restored, fmt.Errorf("failed to restore page %d: %w", pgno, err)
		}
		restored++
	}

	if err := db.Truncate(int64(h.InitialSize) * int64(pageSize)); err != nil {
		return restored, fmt.Errorf("failed to truncate database after rollback: %w", err)
	}
	if durable {
		if err := db.Sync(); err != nil {
			return restored, fmt.Errorf("failed to sync database after rollback: %w", err)
		}
	}
	return restored, nil
}

// generateNonce generates a random nonce for the journal.
func generateNonce() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0x12345678
	}
	return binary.BigEndian.Uint32(b[:])
}
