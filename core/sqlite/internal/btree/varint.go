package btree

// Variable-length integers in the SQLite encoding: one to nine bytes, seven
// bits per byte most significant first with the high bit as a continuation
// flag. The ninth byte, when present, contributes all eight bits.

// MaxVarintLen is the longest encoding of a 64-bit value.
const MaxVarintLen = 9

// PutVarint writes v to p and returns the number of bytes written. p must
// hold at least VarintLen(v) bytes.
func PutVarint(p []byte, v uint64) int {
	if v > 0x00ffffffffffffff {
		p[8] = byte(v)
		v >>= 8
		for i := 7; i >= 0; i-- {
			p[i] = byte(v&0x7f) | 0x80
			v >>= 7
		}
		return 9
	}
	n := VarintLen(v)
	for i := n - 1; i >= 0; i-- {
		p[i] = byte(v & 0x7f)
		if i != n-1 {
			p[i] |= 0x80
		}
		v >>= 7
	}
	return n
}

// AppendVarint appends the encoding of v to b.
func AppendVarint(b []byte, v uint64) []byte {
	var buf [MaxVarintLen]byte
	n := PutVarint(buf[:], v)
	return append(b, buf[:n]...)
}

// GetVarint decodes a varint from the start of p. It returns the value and
// the number of bytes read, or 0 bytes if p is truncated.
func GetVarint(p []byte) (uint64, int) {
	var v uint64
	for i := 0; i < 8; i++ {
		if i >= len(p) {
			return 0, 0
		}
		v = v<<7 | uint64(p[i]&0x7f)
		if p[i] < 0x80 {
			return v, i + 1
		}
	}
	if len(p) < 9 {
		return 0, 0
	}
	return v<<8 | uint64(p[8]), 9
}

// GetVarint32 is GetVarint clamped to 32 bits.
func GetVarint32(p []byte) (uint32, int) {
	if len(p) > 0 && p[0] < 0x80 {
		return uint32(p[0]), 1
	}
	v, n := GetVarint(p)
	if v > 0xffffffff {
		return 0xffffffff, n
	}
	return uint32(v), n
}

// VarintLen returns the number of bytes needed to encode v.
func VarintLen(v uint64) int {
	if v > 0x00ffffffffffffff {
		return 9
	}
	n := 1
	for v > 0x7f {
		v >>= 7
		n++
	}
	return n
}
