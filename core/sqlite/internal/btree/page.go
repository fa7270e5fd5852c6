package btree

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Page type constants (first byte of page header)
const (
	PageTypeInteriorIndex = 0x02 // Interior index b-tree page
	PageTypeInteriorTable = 0x05 // Interior table b-tree page
	PageTypeLeafIndex     = 0x0a // Leaf index b-tree page
	PageTypeLeafTable     = 0x0d // Leaf table b-tree page
)

// Page type flags
const (
	ptfIntKey = 0x01
	ptfLeaf   = 0x08
)

// Page header offsets
const (
	PageHeaderOffsetType       = 0 // Page type (1 byte)
	PageHeaderOffsetFreeblock  = 1 // First freeblock offset (2 bytes)
	PageHeaderOffsetNumCells   = 3 // Number of cells (2 bytes)
	PageHeaderOffsetCellStart  = 5 // Start of cell content area (2 bytes)
	PageHeaderOffsetFragmented = 7 // Fragmented free bytes (1 byte)
	PageHeaderOffsetRightChild = 8 // Right-most child pointer (4 bytes, interior only)
)

// Header sizes
const (
	PageHeaderSizeLeaf     = 8
	PageHeaderSizeInterior = 12
	FileHeaderSize         = 100 // Database file header on page 1
)

// minCellSize is the smallest allocation a cell takes on a page.
const minCellSize = 4

// PageHeader represents the parsed header of a B-tree page
type PageHeader struct {
	PageType         byte
	FirstFreeblock   uint16
	NumCells         uint16
	CellContentStart int // 0 on disk means 65536
	FragmentedBytes  byte
	RightChild       uint32

	IsLeaf        bool
	IsTable       bool
	HeaderSize    int // 8 or 12
	CellPtrOffset int // offset of the cell pointer array
}

// ParsePageHeader parses the B-tree page header from raw page data.
func ParsePageHeader(data []byte, pageNum uint32) (*PageHeader, error) {
	offset := headerOffset(pageNum)
	if len(data) < offset+PageHeaderSizeLeaf {
		return nil, fmt.Errorf("page %d too small: %d bytes", pageNum, len(data))
	}

	h := &PageHeader{
		PageType:         data[offset+PageHeaderOffsetType],
		FirstFreeblock:   binary.BigEndian.Uint16(data[offset+PageHeaderOffsetFreeblock:]),
		NumCells:         binary.BigEndian.Uint16(data[offset+PageHeaderOffsetNumCells:]),
		CellContentStart: int(binary.BigEndian.Uint16(data[offset+PageHeaderOffsetCellStart:])),
		FragmentedBytes:  data[offset+PageHeaderOffsetFragmented],
	}
	if h.CellContentStart == 0 {
		h.CellContentStart = 65536
	}
	if !validPageType(h.PageType) {
		return nil, fmt.Errorf("%w: page %d has invalid type 0x%02x", ErrCorrupt, pageNum, h.PageType)
	}

	h.IsLeaf = h.PageType&ptfLeaf != 0
	h.IsTable = h.PageType&ptfIntKey != 0
	if h.IsLeaf {
		h.HeaderSize = PageHeaderSizeLeaf
	} else {
		if len(data) < offset+PageHeaderSizeInterior {
			return nil, fmt.Errorf("interior page %d too small: %d bytes", pageNum, len(data))
		}
		h.RightChild = binary.BigEndian.Uint32(data[offset+PageHeaderOffsetRightChild:])
		h.HeaderSize = PageHeaderSizeInterior
	}
	h.CellPtrOffset = offset + h.HeaderSize
	return h, nil
}

// GetCellPointer returns the offset of the i-th cell in the page
func (h *PageHeader) GetCellPointer(data []byte, cellIndex int) (int, error) {
	if cellIndex < 0 || cellIndex >= int(h.NumCells) {
		return 0, fmt.Errorf("cell index out of range: %d (have %d)", cellIndex, h.NumCells)
	}
	ptrOffset := h.CellPtrOffset + cellIndex*2
	if ptrOffset+2 > len(data) {
		return 0, fmt.Errorf("cell pointer offset out of bounds: %d", ptrOffset)
	}
	return int(binary.BigEndian.Uint16(data[ptrOffset:])), nil
}

// String returns a string representation of the page header
func (h *PageHeader) String() string {
	return fmt.Sprintf("PageHeader{type=%s, cells=%d, contentStart=%d, freeblock=%d, fragmented=%d}",
		pageTypeName(h.PageType), h.NumCells, h.CellContentStart, h.FirstFreeblock, h.FragmentedBytes)
}

func validPageType(t byte) bool {
	switch t {
	case PageTypeInteriorIndex, PageTypeInteriorTable, PageTypeLeafIndex, PageTypeLeafTable:
		return true
	}
	return false
}

func pageTypeName(t byte) string {
	switch t {
	case PageTypeInteriorIndex:
		return "interior index"
	case PageTypeInteriorTable:
		return "interior table"
	case PageTypeLeafIndex:
		return "leaf index"
	case PageTypeLeafTable:
		return "leaf table"
	}
	return "unknown"
}

func headerOffset(pgno uint32) int {
	if pgno == 1 {
		return FileHeaderSize
	}
	return 0
}

func headerSize(typ byte) int {
	if typ&ptfLeaf != 0 {
		return PageHeaderSizeLeaf
	}
	return PageHeaderSizeInterior
}

// interiorType returns the interior page type of the same tree kind.
func interiorType(typ byte) byte {
	return typ &^ ptfLeaf
}

// leafType returns the leaf page type of the same tree kind.
func leafType(typ byte) byte {
	return typ | ptfLeaf
}

func cellAlloc(n int) int {
	if n < minCellSize {
		return minCellSize
	}
	return n
}

// node is the decoded content of one b-tree page. Cells are held as the raw
// bytes stored on the page; interior cells start with their 4-byte child.
type node struct {
	pgno  uint32
	typ   byte
	cells [][]byte
	right uint32
}

func (n *node) leaf() bool   { return n.typ&ptfLeaf != 0 }
func (n *node) intKey() bool { return n.typ&ptfIntKey != 0 }

// size returns the bytes the node occupies on its page.
func (n *node) size() int {
	s := headerOffset(n.pgno) + headerSize(n.typ)
	for _, c := range n.cells {
		s += 2 + cellAlloc(len(c))
	}
	return s
}

// child returns the page number of child i; i == len(cells) is the right child.
func (n *node) child(i int) uint32 {
	if i >= len(n.cells) {
		return n.right
	}
	return binary.BigEndian.Uint32(n.cells[i])
}

// children returns every child page number, right child last.
func (n *node) children() []uint32 {
	out := make([]uint32, 0, len(n.cells)+1)
	for i := range n.cells {
		out = append(out, n.child(i))
	}
	return append(out, n.right)
}

// dividers returns the interior cells without their child pointers.
func (n *node) dividers() [][]byte {
	out := make([][]byte, len(n.cells))
	for i, c := range n.cells {
		out[i] = c[4:]
	}
	return out
}

// setChildren rebuilds an interior node from len(dividers)+1 children.
func (n *node) setChildren(children []uint32, dividers [][]byte) {
	n.cells = make([][]byte, len(dividers))
	for i, d := range dividers {
		n.cells[i] = interiorCell(children[i], d)
	}
	n.right = children[len(children)-1]
}

// replaceChildren swaps count adjacent children starting at idx, and the
// count-1 dividers between them, for pgnos separated by newDividers.
func (n *node) replaceChildren(idx, count int, pgnos []uint32, newDividers [][]byte) {
	ch := n.children()
	dv := n.dividers()

	children := make([]uint32, 0, len(ch)-count+len(pgnos))
	children = append(children, ch[:idx]...)
	children = append(children, pgnos...)
	children = append(children, ch[idx+count:]...)

	dividers := make([][]byte, 0, len(dv)-(count-1)+len(newDividers))
	dividers = append(dividers, dv[:idx]...)
	dividers = append(dividers, newDividers...)
	dividers = append(dividers, dv[idx+count-1:]...)

	n.setChildren(children, dividers)
}

func interiorCell(child uint32, body []byte) []byte {
	c := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(c, child)
	copy(c[4:], body)
	return c
}

// decodeNode parses a page into a node. Cells are copied out of data.
func decodeNode(pgno uint32, data []byte, usable int) (*node, error) {
	h, err := ParsePageHeader(data, pgno)
	if err != nil {
		return nil, err
	}
	n := &node{pgno: pgno, typ: h.PageType, right: h.RightChild}
	ptrEnd := h.CellPtrOffset + 2*int(h.NumCells)
	if ptrEnd > usable {
		return nil, fmt.Errorf("%w: page %d cell count %d", ErrCorrupt, pgno, h.NumCells)
	}
	n.cells = make([][]byte, h.NumCells)
	for i := range n.cells {
		off, err := h.GetCellPointer(data, i)
		if err != nil {
			return nil, err
		}
		if off < ptrEnd || off >= usable {
			return nil, fmt.Errorf("%w: page %d cell %d at offset %d", ErrCorrupt, pgno, i, off)
		}
		info, err := ParseCell(h.PageType, data[off:usable], usable)
		if err != nil {
			return nil, fmt.Errorf("%w: page %d cell %d: %v", ErrCorrupt, pgno, i, err)
		}
		n.cells[i] = bytes.Clone(data[off : off+info.CellSize])
	}
	return n, nil
}

// encodeNode writes n into data from scratch: header, pointer array and
// cells packed against the end of the usable area. The file header on page 1
// and the reserved region are left alone. The caller has checked that the
// node fits.
func encodeNode(n *node, data []byte, usable int) {
	hdr := headerOffset(n.pgno)
	clear(data[hdr:usable])
	data[hdr+PageHeaderOffsetType] = n.typ

	ptr := hdr + headerSize(n.typ)
	content := usable
	for i, c := range n.cells {
		content -= cellAlloc(len(c))
		copy(data[content:], c)
		binary.BigEndian.PutUint16(data[ptr+2*i:], uint16(content))
	}
	binary.BigEndian.PutUint16(data[hdr+PageHeaderOffsetNumCells:], uint16(len(n.cells)))
	// 65536 wraps to 0, which is how the format spells it.
	binary.BigEndian.PutUint16(data[hdr+PageHeaderOffsetCellStart:], uint16(content))
	if !n.leaf() {
		binary.BigEndian.PutUint32(data[hdr+PageHeaderOffsetRightChild:], n.right)
	}
}
