package record

import (
	"bytes"
	"math"
	"strings"
)

// Collation orders two text values.
type Collation struct {
	Name    string
	Compare func(a, b string) int
}

// Built-in collations
var (
	Binary = &Collation{Name: "BINARY", Compare: strings.Compare}
	NoCase = &Collation{Name: "NOCASE", Compare: compareNoCase}
	RTrim  = &Collation{Name: "RTRIM", Compare: compareRTrim}
)

// LookupCollation returns the named built-in collation.
func LookupCollation(name string) (*Collation, bool) {
	switch strings.ToUpper(name) {
	case "", "BINARY":
		return Binary, true
	case "NOCASE":
		return NoCase, true
	case "RTRIM":
		return RTrim, true
	}
	return nil, false
}

// compareNoCase folds ASCII letters only.
func compareNoCase(a, b string) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		ca, cb := lowerASCII(a[i]), lowerASCII(b[i])
		if ca != cb {
			if ca < cb {
				return -1
			}
			return 1
		}
	}
	return len(a) - len(b)
}

func lowerASCII(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c + 'a' - 'A'
	}
	return c
}

func compareRTrim(a, b string) int {
	return strings.Compare(strings.TrimRight(a, " "), strings.TrimRight(b, " "))
}

func typeRank(t Type) int {
	switch t {
	case TypeNull:
		return 0
	case TypeInteger, TypeFloat:
		return 1
	case TypeText:
		return 2
	}
	return 3
}

// Compare orders two values: NULL, then numbers, then text by coll (nil
// meaning BINARY), then blobs. Two NULLs compare equal.
func Compare(a, b Value, coll *Collation) int {
	ra, rb := typeRank(a.typ), typeRank(b.typ)
	if ra != rb {
		return ra - rb
	}
	switch ra {
	case 0:
		return 0
	case 1:
		return compareNumbers(a, b)
	case 2:
		if coll == nil {
			coll = Binary
		}
		return sign(coll.Compare(a.s, b.s))
	}
	return bytes.Compare(a.b, b.b)
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	}
	return 0
}

func compareNumbers(a, b Value) int {
	if a.typ == TypeInteger && b.typ == TypeInteger {
		switch {
		case a.i < b.i:
			return -1
		case a.i > b.i:
			return 1
		}
		return 0
	}
	if a.typ == TypeInteger {
		return -compareFloatInt(b.f, a.i)
	}
	if b.typ == TypeInteger {
		return compareFloatInt(a.f, b.i)
	}
	switch {
	case a.f < b.f:
		return -1
	case a.f > b.f:
		return 1
	case math.IsNaN(a.f) && !math.IsNaN(b.f):
		return -1
	case !math.IsNaN(a.f) && math.IsNaN(b.f):
		return 1
	}
	return 0
}

// compareFloatInt compares without losing precision on integers beyond 2^53.
func compareFloatInt(f float64, i int64) int {
	switch {
	case math.IsNaN(f):
		return -1
	case f < -9223372036854775808.0:
		return -1
	case f >= 9223372036854775808.0:
		return 1
	}
	t := int64(f)
	switch {
	case t < i:
		return -1
	case t > i:
		return 1
	}
	frac := f - float64(t)
	switch {
	case frac < 0:
		return -1
	case frac > 0:
		return 1
	}
	return 0
}

// KeyOrder describes how the columns of an index key sort.
type KeyOrder struct {
	Collations []*Collation
	Desc       []bool
}

// Compare orders two encoded keys column by column. A key that is a prefix
// of the other sorts first. Undecodable keys sort by their raw bytes.
func (o KeyOrder) Compare(a, b []byte) int {
	va, errA := Decode(a)
	vb, errB := Decode(b)
	if errA != nil || errB != nil {
		return bytes.Compare(a, b)
	}
	return o.CompareValues(va, vb)
}

// CompareValues is Compare over decoded keys.
func (o KeyOrder) CompareValues(va, vb []Value) int {
	n := min(len(va), len(vb))
	for i := 0; i < n; i++ {
		var coll *Collation
		if i < len(o.Collations) {
			coll = o.Collations[i]
		}
		c := Compare(va[i], vb[i], coll)
		if c != 0 {
			if i < len(o.Desc) && o.Desc[i] {
				return -c
			}
			return c
		}
	}
	return len(va) - len(vb)
}
