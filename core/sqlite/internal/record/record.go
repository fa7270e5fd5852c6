package record

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/FocuswithJustin/sqlcompact/core/sqlite/internal/btree"
)

// ErrCorrupt reports a record that cannot be decoded.
var ErrCorrupt = btree.ErrCorrupt

// Serial types
//
//	0      NULL
//	1..6   big-endian signed integer of 1, 2, 3, 4, 6 or 8 bytes
//	7      IEEE 754 float64, big-endian
//	8, 9   the integers 0 and 1, no body
//	N>=12  even: BLOB of (N-12)/2 bytes; odd: TEXT of (N-13)/2 bytes
const (
	SerialNull    = 0
	SerialFloat64 = 7
	SerialZero    = 8
	SerialOne     = 9
)

var intSizes = [...]int{0, 1, 2, 3, 4, 6, 8}

// SerialType returns the serial type v is stored with.
func SerialType(v Value) uint64 {
	switch v.typ {
	case TypeInteger:
		i := v.i
		switch {
		case i == 0:
			return SerialZero
		case i == 1:
			return SerialOne
		case i >= -1<<7 && i < 1<<7:
			return 1
		case i >= -1<<15 && i < 1<<15:
			return 2
		case i >= -1<<23 && i < 1<<23:
			return 3
		case i >= -1<<31 && i < 1<<31:
			return 4
		case i >= -1<<47 && i < 1<<47:
			return 5
		}
		return 6
	case TypeFloat:
		return SerialFloat64
	case TypeText:
		return uint64(13 + 2*len(v.s))
	case TypeBlob:
		return uint64(12 + 2*len(v.b))
	}
	return SerialNull
}

// SerialSize returns the body size of serial type st.
func SerialSize(st uint64) int {
	switch {
	case st <= 6:
		return intSizes[st]
	case st == SerialFloat64:
		return 8
	case st < 12:
		return 0
	}
	return int((st - 12) / 2)
}

// Encode builds the record for vals.
func Encode(vals []Value) []byte {
	types := make([]uint64, len(vals))
	hdr, body := 0, 0
	for i, v := range vals {
		types[i] = SerialType(v)
		hdr += btree.VarintLen(types[i])
		body += SerialSize(types[i])
	}
	// The header size counts its own varint.
	hsize := hdr + 1
	for btree.VarintLen(uint64(hsize)) != hsize-hdr {
		hsize++
	}

	out := make([]byte, 0, hsize+body)
	out = btree.AppendVarint(out, uint64(hsize))
	for _, st := range types {
		out = btree.AppendVarint(out, st)
	}
	for i, v := range vals {
		out = appendBody(out, v, types[i])
	}
	return out
}

func appendBody(out []byte, v Value, st uint64) []byte {
	switch {
	case st >= 1 && st <= 6:
		n := intSizes[st]
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], uint64(v.i))
		return append(out, buf[8-n:]...)
	case st == SerialFloat64:
		return binary.BigEndian.AppendUint64(out, math.Float64bits(v.f))
	case st >= 12 && st%2 == 0:
		return append(out, v.b...)
	case st >= 13:
		return append(out, v.s...)
	}
	return out
}

// Decode splits a record into its values. Text and blob values do not alias
// data.
func Decode(data []byte) ([]Value, error) {
	hsize, n := btree.GetVarint(data)
	if n == 0 || hsize > uint64(len(data)) || int(hsize) < n {
		return nil, fmt.Errorf("%w: bad record header size %d", ErrCorrupt, hsize)
	}
	hdr := data[n:hsize]
	body := data[hsize:]

	var vals []Value
	for len(hdr) > 0 {
		st, m := btree.GetVarint(hdr)
		if m == 0 {
			return nil, fmt.Errorf("%w: truncated record header", ErrCorrupt)
		}
		hdr = hdr[m:]
		size := SerialSize(st)
		if size > len(body) {
			return nil, fmt.Errorf("%w: record body too short for serial type %d", ErrCorrupt, st)
		}
		v, err := decodeBody(st, body[:size])
		if err != nil {
			return nil, err
		}
		vals = append(vals, v)
		body = body[size:]
	}
	return vals, nil
}

func decodeBody(st uint64, b []byte) (Value, error) {
	switch {
	case st == SerialNull:
		return Null(), nil
	case st <= 6:
		var i int64
		if len(b) > 0 && b[0]&0x80 != 0 {
			i = -1
		}
		for _, c := range b {
			i = i<<8 | int64(c)
		}
		return Int(i), nil
	case st == SerialFloat64:
		return Float(math.Float64frombits(binary.BigEndian.Uint64(b))), nil
	case st == SerialZero:
		return Int(0), nil
	case st == SerialOne:
		return Int(1), nil
	case st < 12:
		return Null(), fmt.Errorf("%w: reserved serial type %d", ErrCorrupt, st)
	case st%2 == 0:
		return Blob(append([]byte{}, b...)), nil
	}
	return Text(string(b)), nil
}
