package btree

import (
	"encoding/binary"
	"fmt"

	"github.com/FocuswithJustin/sqlcompact/core/sqlite/internal/pager"
)

// CellInfo contains parsed information about a B-tree cell
type CellInfo struct {
	Key          int64  // rowid for table cells
	Payload      []byte // local part of the payload
	PayloadSize  uint32 // total payload bytes
	LocalPayload int    // bytes of payload stored on the page
	CellSize     int    // bytes the cell occupies, before padding
	OverflowPage uint32 // first overflow page, 0 if none
	ChildPage    uint32 // left child (interior cells)
}

// ParseCell parses the cell at the start of cellData.
func ParseCell(pageType byte, cellData []byte, usableSize int) (*CellInfo, error) {
	info := &CellInfo{}
	off := 0

	if pageType&ptfLeaf == 0 {
		if len(cellData) < 4 {
			return nil, fmt.Errorf("cell data too small for interior cell")
		}
		info.ChildPage = binary.BigEndian.Uint32(cellData)
		off = 4
	}

	if pageType == PageTypeInteriorTable {
		key, n := GetVarint(cellData[off:])
		if n == 0 {
			return nil, fmt.Errorf("failed to read rowid")
		}
		info.Key = int64(key)
		info.CellSize = off + n
		return info, nil
	}

	size, n := GetVarint32(cellData[off:])
	if n == 0 {
		return nil, fmt.Errorf("failed to read payload size")
	}
	info.PayloadSize = size
	off += n

	if pageType == PageTypeLeafTable {
		key, n := GetVarint(cellData[off:])
		if n == 0 {
			return nil, fmt.Errorf("failed to read rowid")
		}
		info.Key = int64(key)
		off += n
	}

	info.LocalPayload = localPayload(int(size), usableSize, pageType == PageTypeLeafTable)
	if off+info.LocalPayload > len(cellData) {
		return nil, fmt.Errorf("cell data truncated")
	}
	info.Payload = cellData[off : off+info.LocalPayload]
	off += info.LocalPayload

	if info.LocalPayload < int(size) {
		if off+4 > len(cellData) {
			return nil, fmt.Errorf("overflow page number truncated")
		}
		info.OverflowPage = binary.BigEndian.Uint32(cellData[off:])
		off += 4
	}
	info.CellSize = off
	return info, nil
}

// String returns a string representation of the cell info
func (c *CellInfo) String() string {
	return fmt.Sprintf("CellInfo{key=%d, payloadSize=%d, localPayload=%d, cellSize=%d, overflow=%d, child=%d}",
		c.Key, c.PayloadSize, c.LocalPayload, c.CellSize, c.OverflowPage, c.ChildPage)
}

// maxLocal is the largest payload kept entirely on a page. Table leaves may
// fill a page with one cell; index cells are limited so four fit.
func maxLocal(usable int, tableLeaf bool) int {
	if tableLeaf {
		return usable - 35
	}
	return (usable-12)*64/255 - 23
}

func minLocal(usable int) int {
	return (usable-12)*32/255 - 23
}

// localPayload returns how many of size payload bytes are stored on the page.
func localPayload(size, usable int, tableLeaf bool) int {
	max := maxLocal(usable, tableLeaf)
	if size <= max {
		return size
	}
	min := minLocal(usable)
	surplus := min + (size-min)%(usable-4)
	if surplus <= max {
		return surplus
	}
	return min
}

// EncodeTableLeafCell encodes a table leaf cell whose payload fits locally.
func EncodeTableLeafCell(rowid int64, payload []byte) []byte {
	buf := make([]byte, 0, 2*MaxVarintLen+len(payload))
	buf = AppendVarint(buf, uint64(len(payload)))
	buf = AppendVarint(buf, uint64(rowid))
	return append(buf, payload...)
}

// EncodeTableInteriorCell encodes a table interior cell.
func EncodeTableInteriorCell(childPage uint32, rowid int64) []byte {
	return interiorCell(childPage, AppendVarint(nil, uint64(rowid)))
}

// EncodeIndexLeafCell encodes an index leaf cell whose payload fits locally.
func EncodeIndexLeafCell(payload []byte) []byte {
	buf := make([]byte, 0, MaxVarintLen+len(payload))
	buf = AppendVarint(buf, uint64(len(payload)))
	return append(buf, payload...)
}

// EncodeIndexInteriorCell encodes an index interior cell whose payload fits
// locally.
func EncodeIndexInteriorCell(childPage uint32, payload []byte) []byte {
	return interiorCell(childPage, EncodeIndexLeafCell(payload))
}

// buildCell encodes a leaf cell for payload, spilling the tail to a fresh
// overflow chain when it does not fit on the page.
func (bt *Btree) buildCell(typ byte, rowid int64, payload []byte) ([]byte, error) {
	usable := bt.usable()
	local := localPayload(len(payload), usable, typ == PageTypeLeafTable)

	cell := make([]byte, 0, 2*MaxVarintLen+local+4)
	cell = AppendVarint(cell, uint64(len(payload)))
	if typ == PageTypeLeafTable {
		cell = AppendVarint(cell, uint64(rowid))
	}
	cell = append(cell, payload[:local]...)
	if local < len(payload) {
		first, err := bt.writeOverflow(payload[local:])
		if err != nil {
			return nil, err
		}
		cell = binary.BigEndian.AppendUint32(cell, first)
	}
	return cell, nil
}

// writeOverflow stores data in a chain of overflow pages. Each page holds the
// next page number followed by usable-4 bytes of data.
func (bt *Btree) writeOverflow(data []byte) (uint32, error) {
	usable := bt.usable()
	var first uint32
	var prev []byte
	for len(data) > 0 {
		page, err := bt.store.Allocate()
		if err != nil {
			return 0, err
		}
		pgno := uint32(page.Pgno)
		if prev == nil {
			first = pgno
		} else {
			binary.BigEndian.PutUint32(prev, pgno)
		}
		n := copy(page.Data[4:usable], data)
		data = data[n:]
		prev = page.Data[:4]
		bt.store.Put(page)
	}
	return first, nil
}

// readOverflow appends size bytes of the chain starting at pgno to dst.
func (bt *Btree) readOverflow(dst []byte, pgno uint32, size int) ([]byte, error) {
	usable := bt.usable()
	for hops := 0; size > 0; hops++ {
		if pgno == 0 || hops > bt.pageLimit() {
			return nil, fmt.Errorf("%w: overflow chain ends early", ErrCorrupt)
		}
		data, err := bt.pageData(pgno)
		if err != nil {
			return nil, err
		}
		n := min(size, usable-4)
		dst = append(dst, data[4:4+n]...)
		size -= n
		pgno = binary.BigEndian.Uint32(data)
	}
	return dst, nil
}

// freeOverflow releases the overflow chain of a leaf-form or interior cell.
func (bt *Btree) freeOverflow(typ byte, cell []byte) error {
	info, err := ParseCell(typ, cell, bt.usable())
	if err != nil {
		return err
	}
	if info.OverflowPage == 0 {
		return nil
	}
	pages, err := bt.overflowPages(info)
	if err != nil {
		return err
	}
	for _, pgno := range pages {
		if err := bt.store.Free(pager.Pgno(pgno)); err != nil {
			return err
		}
	}
	return nil
}

// overflowPages lists the pages of a cell's overflow chain.
func (bt *Btree) overflowPages(info *CellInfo) ([]uint32, error) {
	usable := bt.usable()
	remaining := int(info.PayloadSize) - info.LocalPayload
	var pages []uint32
	pgno := info.OverflowPage
	for remaining > 0 {
		if pgno == 0 || len(pages) > bt.pageLimit() {
			return nil, fmt.Errorf("%w: overflow chain ends early", ErrCorrupt)
		}
		pages = append(pages, pgno)
		data, err := bt.pageData(pgno)
		if err != nil {
			return nil, err
		}
		remaining -= usable - 4
		pgno = binary.BigEndian.Uint32(data)
	}
	return pages, nil
}

// cellPayload returns the full payload of a cell, following overflow pages.
func (bt *Btree) cellPayload(typ byte, cell []byte) ([]byte, error) {
	info, err := ParseCell(typ, cell, bt.usable())
	if err != nil {
		return nil, err
	}
	if info.OverflowPage == 0 {
		return info.Payload, nil
	}
	out := make([]byte, 0, info.PayloadSize)
	out = append(out, info.Payload...)
	return bt.readOverflow(out, info.OverflowPage, int(info.PayloadSize)-info.LocalPayload)
}

// cellKey returns the rowid of a table cell.
func cellKey(typ byte, cell []byte, usable int) (int64, error) {
	info, err := ParseCell(typ, cell, usable)
	if err != nil {
		return 0, err
	}
	return info.Key, nil
}
