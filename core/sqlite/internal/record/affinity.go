package record

import (
	"math"
	"strings"
)

// Affinity is the type preference of a column.
type Affinity uint8

const (
	AffinityBlob Affinity = iota
	AffinityText
	AffinityNumeric
	AffinityInteger
	AffinityReal
)

// String returns the affinity name.
func (a Affinity) String() string {
	switch a {
	case AffinityText:
		return "TEXT"
	case AffinityNumeric:
		return "NUMERIC"
	case AffinityInteger:
		return "INTEGER"
	case AffinityReal:
		return "REAL"
	}
	return "BLOB"
}

// AffinityOf derives a column's affinity from its declared type:
//   - contains "INT": INTEGER
//   - contains "CHAR", "CLOB" or "TEXT": TEXT
//   - contains "BLOB", or no type: BLOB
//   - contains "REAL", "FLOA" or "DOUB": REAL
//   - anything else: NUMERIC
func AffinityOf(declType string) Affinity {
	t := strings.ToUpper(declType)
	switch {
	case strings.Contains(t, "INT"):
		return AffinityInteger
	case strings.Contains(t, "CHAR"), strings.Contains(t, "CLOB"), strings.Contains(t, "TEXT"):
		return AffinityText
	case t == "", strings.Contains(t, "BLOB"):
		return AffinityBlob
	case strings.Contains(t, "REAL"), strings.Contains(t, "FLOA"), strings.Contains(t, "DOUB"):
		return AffinityReal
	}
	return AffinityNumeric
}

// IsNumeric reports whether a prefers numbers.
func (a Affinity) IsNumeric() bool {
	return a >= AffinityNumeric
}

// Apply converts v the way storing it in a column of affinity a does.
func (a Affinity) Apply(v Value) Value {
	switch a {
	case AffinityText:
		if v.IsNumeric() {
			return Text(v.Text())
		}
	case AffinityNumeric, AffinityInteger:
		if v.typ == TypeText {
			if n, ok := parseNumber(v.s); ok {
				return intIfExact(n)
			}
		}
		if v.typ == TypeFloat {
			return intIfExact(v)
		}
	case AffinityReal:
		if v.typ == TypeText {
			if n, ok := parseNumber(v.s); ok {
				return Float(n.Float64())
			}
		}
		if v.typ == TypeInteger {
			return Float(float64(v.i))
		}
	}
	return v
}

// intIfExact turns a real holding an integer into that integer.
func intIfExact(v Value) Value {
	if v.typ != TypeFloat {
		return v
	}
	f := v.f
	if f >= -9.2233720368547e18 && f <= 9.2233720368547e18 && f == math.Trunc(f) {
		return Int(int64(f))
	}
	return v
}

// Cast converts v to the storage class named by typeName, as CAST does.
func Cast(v Value, typeName string) Value {
	if v.IsNull() {
		return v
	}
	switch AffinityOf(typeName) {
	case AffinityText:
		return Text(v.Text())
	case AffinityInteger:
		return Int(v.Int64())
	case AffinityReal:
		return Float(v.Float64())
	case AffinityNumeric:
		if v.IsNumeric() {
			return v
		}
		return intIfExact(v.Numeric())
	}
	if typeName == "" {
		return v
	}
	return Blob(v.Bytes())
}
