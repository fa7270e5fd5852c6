package pager

import (
	"encoding/binary"
	"fmt"
	"io"
)

// File format constants
const (
	// DatabaseHeaderSize is the size of the database file header (first 100 bytes).
	DatabaseHeaderSize = 100

	// DefaultPageSize is the default page size for new databases.
	DefaultPageSize = 4096

	// MinPageSize is the minimum allowed page size (512 bytes).
	MinPageSize = 512

	// MaxPageSize is the maximum allowed page size (65536 bytes).
	MaxPageSize = 65536

	// MaxReserve is the largest per-page reserve the header byte can hold.
	MaxReserve = 255

	// MinUsableSize is the smallest usable area a page may be left with.
	MinUsableSize = 480

	// MagicHeaderString is the magic header string, 16 bytes including the
	// terminating NUL.
	MagicHeaderString = "SQLite format 3\x00"

	// LibraryVersion is written at offset 96 on every commit.
	LibraryVersion = 3045001
)

// Database header byte offsets
const (
	OffsetMagic             = 0
	OffsetPageSize          = 16 // 2 bytes; the value 1 means 65536
	OffsetFileFormatWrite   = 18
	OffsetFileFormatRead    = 19
	OffsetReservedSpace     = 20
	OffsetMaxPayloadFrac    = 21
	OffsetMinPayloadFrac    = 22
	OffsetLeafPayloadFrac   = 23
	OffsetFileChangeCounter = 24
	OffsetDatabaseSize      = 28
	OffsetFreelistTrunk     = 32
	OffsetFreelistCount     = 36
	OffsetMetaBase          = 36 // meta slot n lives at OffsetMetaBase + 4*n
	OffsetVersionValidFor   = 92
	OffsetLibraryVersion    = 96
)

// Meta slot numbers. Slot n is the 32-bit big-endian value at 36+4*n.
const (
	MetaFreePageCount   = 0
	MetaSchemaVersion   = 1
	MetaFileFormat      = 2
	MetaDefaultCache    = 3
	MetaLargestRoot     = 4
	MetaTextEncoding    = 5
	MetaUserVersion     = 6
	MetaIncrVacuum      = 7
	MetaApplicationID   = 8
	MaxMetaSlot         = 15
	metaSlotCount       = MaxMetaSlot + 1
	encodingUTF8        = 1
	defaultSchemaFormat = 4
)

// Text encoding values
const (
	EncodingUTF8    = 1
	EncodingUTF16LE = 2
	EncodingUTF16BE = 3
)

// DatabaseHeader is the decoded form of the 100-byte file header.
type DatabaseHeader struct {
	PageSize          int
	FileFormatWrite   uint8
	FileFormatRead    uint8
	ReservedSpace     uint8
	FileChangeCounter uint32
	DatabaseSize      uint32
	FreelistTrunk     uint32
	FreelistCount     uint32
	Meta              [metaSlotCount]uint32
	VersionValidFor   uint32
	LibraryVersion    uint32
}

// SchemaCookie returns meta slot 1.
func (h *DatabaseHeader) SchemaCookie() uint32 { return h.Meta[MetaSchemaVersion] }

// TextEncoding returns meta slot 5.
func (h *DatabaseHeader) TextEncoding() uint32 { return h.Meta[MetaTextEncoding] }

// UserVersion returns meta slot 6.
func (h *DatabaseHeader) UserVersion() uint32 { return h.Meta[MetaUserVersion] }

// ParseDatabaseHeader parses the 100-byte database header from raw bytes.
func ParseDatabaseHeader(data []byte) (*DatabaseHeader, error) {
	if len(data) < DatabaseHeaderSize {
		return nil, fmt.Errorf("invalid header size: got %d, want %d", len(data), DatabaseHeaderSize)
	}
	if string(data[OffsetMagic:OffsetMagic+16]) != MagicHeaderString {
		return nil, ErrNotADatabase
	}

	h := &DatabaseHeader{
		PageSize:          decodePageSize(binary.BigEndian.Uint16(data[OffsetPageSize:])),
		FileFormatWrite:   data[OffsetFileFormatWrite],
		FileFormatRead:    data[OffsetFileFormatRead],
		ReservedSpace:     data[OffsetReservedSpace],
		FileChangeCounter: binary.BigEndian.Uint32(data[OffsetFileChangeCounter:]),
		DatabaseSize:      binary.BigEndian.Uint32(data[OffsetDatabaseSize:]),
		FreelistTrunk:     binary.BigEndian.Uint32(data[OffsetFreelistTrunk:]),
		FreelistCount:     binary.BigEndian.Uint32(data[OffsetFreelistCount:]),
		VersionValidFor:   binary.BigEndian.Uint32(data[OffsetVersionValidFor:]),
		LibraryVersion:    binary.BigEndian.Uint32(data[OffsetLibraryVersion:]),
	}
	for i := 1; i < metaSlotCount; i++ {
		h.Meta[i] = binary.BigEndian.Uint32(data[OffsetMetaBase+4*i:])
	}
	h.Meta[MetaFreePageCount] = h.FreelistCount

	if err := h.Validate(); err != nil {
		return nil, err
	}
	return h, nil
}

// Validate performs validation checks on the database header.
func (h *DatabaseHeader) Validate() error {
	if !IsValidPageSize(h.PageSize) {
		return fmt.Errorf("%w: invalid page size %d", ErrNotADatabase, h.PageSize)
	}
	if h.FileFormatWrite > 2 || h.FileFormatRead > 2 {
		return fmt.Errorf("%w: unsupported file format %d/%d", ErrNotADatabase, h.FileFormatWrite, h.FileFormatRead)
	}
	if h.PageSize-int(h.ReservedSpace) < MinUsableSize {
		return fmt.Errorf("%w: reserve %d leaves too little usable space", ErrCorrupt, h.ReservedSpace)
	}
	if enc := h.TextEncoding(); enc > EncodingUTF16BE {
		return fmt.Errorf("%w: invalid text encoding %d", ErrCorrupt, enc)
	}
	return nil
}

// initHeader writes a fresh header for a new database into page 1's data.
func initHeader(data []byte, pageSize, reserve int) {
	copy(data[OffsetMagic:], MagicHeaderString)
	binary.BigEndian.PutUint16(data[OffsetPageSize:], encodePageSize(pageSize))
	data[OffsetFileFormatWrite] = 1
	data[OffsetFileFormatRead] = 1
	data[OffsetReservedSpace] = byte(reserve)
	data[OffsetMaxPayloadFrac] = 64
	data[OffsetMinPayloadFrac] = 32
	data[OffsetLeafPayloadFrac] = 32
	binary.BigEndian.PutUint32(data[OffsetMetaBase+4*MetaFileFormat:], defaultSchemaFormat)
	binary.BigEndian.PutUint32(data[OffsetMetaBase+4*MetaTextEncoding:], encodingUTF8)
}

func encodePageSize(size int) uint16 {
	if size == MaxPageSize {
		return 1
	}
	return uint16(size)
}

func decodePageSize(v uint16) int {
	if v == 1 {
		return MaxPageSize
	}
	return int(v)
}

// IsValidPageSize reports whether size is a power of two in [512, 65536].
func IsValidPageSize(size int) bool {
	if size < MinPageSize || size > MaxPageSize {
		return false
	}
	return size&(size-1) == 0
}

// ReadHeader reads and parses the header stored in b without
// opening a pager. It is used by tooling that only needs the header.
func ReadHeader(b Backend) (*DatabaseHeader, error) {
	buf := make([]byte, DatabaseHeaderSize)
	n, err := b.ReadAt(buf, 0)
	if n < DatabaseHeaderSize {
		if err != nil && err != io.EOF {
			return nil, err
		}
		return nil, ErrNotADatabase
	}
	return ParseDatabaseHeader(buf)
}
