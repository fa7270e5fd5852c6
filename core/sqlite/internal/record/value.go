// Package record implements SQLite values and the record format rows and
// index keys are stored in: serial types, encoding, comparison with
// collations, and column affinity.
package record

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Type is the storage class of a value.
type Type uint8

const (
	TypeNull Type = iota
	TypeInteger
	TypeFloat
	TypeText
	TypeBlob
)

// String returns the name typeof() reports.
func (t Type) String() string {
	switch t {
	case TypeNull:
		return "null"
	case TypeInteger:
		return "integer"
	case TypeFloat:
		return "real"
	case TypeText:
		return "text"
	case TypeBlob:
		return "blob"
	}
	return "unknown"
}

// Value is a single SQL value. The zero Value is NULL.
type Value struct {
	typ Type
	i   int64
	f   float64
	s   string
	b   []byte
}

func Null() Value           { return Value{} }
func Int(i int64) Value     { return Value{typ: TypeInteger, i: i} }
func Float(f float64) Value { return Value{typ: TypeFloat, f: f} }
func Text(s string) Value   { return Value{typ: TypeText, s: s} }
func Blob(b []byte) Value   { return Value{typ: TypeBlob, b: b} }
func Bool(b bool) Value     { return Int(boolInt(b)) }

func (v Value) Type() Type      { return v.typ }
func (v Value) IsNull() bool    { return v.typ == TypeNull }
func (v Value) IsNumeric() bool { return v.typ == TypeInteger || v.typ == TypeFloat }

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// FromGo converts a Go value as handed over by database/sql into a Value.
func FromGo(x any) (Value, error) {
	switch x := x.(type) {
	case nil:
		return Null(), nil
	case int64:
		return Int(x), nil
	case int:
		return Int(int64(x)), nil
	case int32:
		return Int(int64(x)), nil
	case bool:
		return Bool(x), nil
	case float64:
		return Float(x), nil
	case float32:
		return Float(float64(x)), nil
	case string:
		return Text(x), nil
	case []byte:
		return Blob(append([]byte(nil), x...)), nil
	case Value:
		return x, nil
	}
	return Null(), fmt.Errorf("record: unsupported Go type %T", x)
}

// Go returns the value as the Go type database/sql expects.
func (v Value) Go() any {
	switch v.typ {
	case TypeInteger:
		return v.i
	case TypeFloat:
		return v.f
	case TypeText:
		return v.s
	case TypeBlob:
		return v.b
	}
	return nil
}

// Int64 converts the value to an integer the way CAST(x AS INTEGER) does.
func (v Value) Int64() int64 {
	switch v.typ {
	case TypeInteger:
		return v.i
	case TypeFloat:
		return floatToInt(v.f)
	case TypeText:
		return textToInt(v.s)
	case TypeBlob:
		return textToInt(string(v.b))
	}
	return 0
}

// Float64 converts the value to a float the way CAST(x AS REAL) does.
func (v Value) Float64() float64 {
	switch v.typ {
	case TypeInteger:
		return float64(v.i)
	case TypeFloat:
		return v.f
	case TypeText:
		return textToFloat(v.s)
	case TypeBlob:
		return textToFloat(string(v.b))
	}
	return 0
}

// Text returns the text form of the value; NULL gives "".
func (v Value) Text() string {
	switch v.typ {
	case TypeInteger:
		return strconv.FormatInt(v.i, 10)
	case TypeFloat:
		return FormatFloat(v.f)
	case TypeText:
		return v.s
	case TypeBlob:
		return string(v.b)
	}
	return ""
}

// Bytes returns the blob form of the value.
func (v Value) Bytes() []byte {
	switch v.typ {
	case TypeBlob:
		return v.b
	case TypeNull:
		return nil
	}
	return []byte(v.Text())
}

// Len returns the byte length length() reports for blobs and numbers.
func (v Value) Len() int {
	switch v.typ {
	case TypeBlob:
		return len(v.b)
	case TypeNull:
		return 0
	}
	return len(v.Text())
}

// Truth reports whether the value counts as true in a WHERE clause. NULL is
// not true.
func (v Value) Truth() bool {
	switch v.typ {
	case TypeInteger:
		return v.i != 0
	case TypeFloat:
		return v.f != 0
	case TypeText, TypeBlob:
		return v.Float64() != 0
	}
	return false
}

// Numeric returns the value converted to a number for arithmetic: integers
// stay integers, text that spells an integer becomes one, anything else a
// float.
func (v Value) Numeric() Value {
	switch v.typ {
	case TypeInteger, TypeFloat:
		return v
	case TypeNull:
		return v
	}
	s := v.Text()
	if n, ok := parseNumber(s); ok {
		return n
	}
	return Float(textToFloat(s))
}

// Quote renders the value as an SQL literal.
func (v Value) Quote() string {
	switch v.typ {
	case TypeNull:
		return "NULL"
	case TypeInteger:
		return strconv.FormatInt(v.i, 10)
	case TypeFloat:
		return quoteFloat(v.f)
	case TypeText:
		return "'" + strings.ReplaceAll(v.s, "'", "''") + "'"
	}
	return fmt.Sprintf("X'%X'", v.b)
}

// String implements fmt.Stringer for debugging.
func (v Value) String() string {
	if v.typ == TypeNull {
		return "NULL"
	}
	return v.Quote()
}

// FormatFloat renders f the way SQLite prints a REAL: 15 significant digits
// and always a decimal point or exponent.
func FormatFloat(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "Inf"
	case math.IsInf(f, -1):
		return "-Inf"
	case math.IsNaN(f):
		return "NaN"
	}
	s := strconv.FormatFloat(f, 'g', 15, 64)
	mant, exp, hasExp := strings.Cut(s, "e")
	if !strings.Contains(mant, ".") {
		mant += ".0"
	}
	if !hasExp {
		return mant
	}
	return mant + "e" + exp
}

func quoteFloat(f float64) string {
	if math.IsInf(f, 1) {
		return "9.0e+999"
	}
	if math.IsInf(f, -1) {
		return "-9.0e+999"
	}
	if math.IsNaN(f) {
		return "NULL"
	}
	s := strconv.FormatFloat(f, 'g', 17, 64)
	if g, err := strconv.ParseFloat(FormatFloat(f), 64); err == nil && g == f {
		s = FormatFloat(f)
	}
	if !strings.ContainsAny(s, ".eEIN") {
		s += ".0"
	}
	return s
}

func floatToInt(f float64) int64 {
	switch {
	case math.IsNaN(f):
		return 0
	case f <= math.MinInt64:
		return math.MinInt64
	case f >= math.MaxInt64:
		return math.MaxInt64
	}
	return int64(f)
}

// numericPrefix returns the longest prefix of s, after leading spaces, that
// reads as a number, and whether that prefix has a fraction or exponent.
func numericPrefix(s string) (string, bool) {
	s = strings.TrimLeft(s, " \t\n\r\f\v")
	i := 0
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		i++
	}
	digits := 0
	for i < len(s) && isDigit(s[i]) {
		i++
		digits++
	}
	real := false
	if i < len(s) && s[i] == '.' {
		j := i + 1
		frac := 0
		for j < len(s) && isDigit(s[j]) {
			j++
			frac++
		}
		if digits+frac > 0 {
			i = j
			digits += frac
			real = true
		}
	}
	if digits == 0 {
		return "", false
	}
	if i < len(s) && (s[i] == 'e' || s[i] == 'E') {
		j := i + 1
		if j < len(s) && (s[j] == '+' || s[j] == '-') {
			j++
		}
		if j < len(s) && isDigit(s[j]) {
			for j < len(s) && isDigit(s[j]) {
				j++
			}
			i = j
			real = true
		}
	}
	return s[:i], real
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func textToInt(s string) int64 {
	p, real := numericPrefix(s)
	if p == "" {
		return 0
	}
	if !real {
		if i, err := strconv.ParseInt(p, 10, 64); err == nil {
			return i
		}
	}
	f, _ := strconv.ParseFloat(p, 64)
	return floatToInt(f)
}

func textToFloat(s string) float64 {
	p, _ := numericPrefix(s)
	if p == "" {
		return 0
	}
	f, err := strconv.ParseFloat(p, 64)
	if err != nil && !math.IsInf(f, 0) {
		return 0
	}
	return f
}

// parseNumber reads s as a number if all of it, ignoring surrounding spaces,
// is one.
func parseNumber(s string) (Value, bool) {
	t := strings.Trim(s, " \t\n\r\f\v")
	p, real := numericPrefix(t)
	if p == "" || len(p) != len(t) {
		return Null(), false
	}
	if !real {
		if i, err := strconv.ParseInt(p, 10, 64); err == nil {
			return Int(i), true
		}
	}
	f, err := strconv.ParseFloat(p, 64)
	if err != nil && !math.IsInf(f, 0) {
		return Null(), false
	}
	return Float(f), true
}
