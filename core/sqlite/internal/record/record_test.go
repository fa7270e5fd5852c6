package record

import (
	"bytes"
	"math"
	"strings"
	"testing"
)

func TestEncodeDecode(t *testing.T) {
	tests := []struct {
		name string
		vals []Value
	}{
		{"empty", nil},
		{"null", []Value{Null()}},
		{"small ints", []Value{Int(0), Int(1), Int(-1), Int(127), Int(-128)}},
		{"wide ints", []Value{Int(1 << 20), Int(-1 << 30), Int(1 << 40), Int(math.MaxInt64), Int(math.MinInt64)}},
		{"floats", []Value{Float(0.5), Float(-1e300), Float(3)}},
		{"text and blob", []Value{Text(""), Text("hello"), Blob([]byte{0, 1, 2}), Blob([]byte{})}},
		{"long header", func() []Value {
			var v []Value
			for i := 0; i < 200; i++ {
				v = append(v, Text(strings.Repeat("x", i)))
			}
			return v
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := Encode(tt.vals)
			got, err := Decode(data)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if len(got) != len(tt.vals) {
				t.Fatalf("Decode() returned %d values, want %d", len(got), len(tt.vals))
			}
			for i := range got {
				if got[i].Type() != tt.vals[i].Type() || Compare(got[i], tt.vals[i], nil) != 0 {
					t.Errorf("value %d = %v, want %v", i, got[i], tt.vals[i])
				}
			}
		})
	}
}

func TestEncode_KnownBytes(t *testing.T) {
	// Header size 3, serial types 1 (int8) and 15 (text of 1 byte).
	got := Encode([]Value{Int(5), Text("a")})
	want := []byte{3, 1, 15, 5, 'a'}
	if !bytes.Equal(got, want) {
		t.Errorf("Encode() = %v, want %v", got, want)
	}
}

func TestDecode_Corrupt(t *testing.T) {
	for _, data := range [][]byte{
		{},
		{9, 1},
		{2, 6, 1},
		{2, 10},
	} {
		if _, err := Decode(data); err == nil {
			t.Errorf("Decode(%v) succeeded", data)
		}
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		a, b Value
		coll *Collation
		want int
	}{
		{Null(), Null(), nil, 0},
		{Null(), Int(0), nil, -1},
		{Int(1), Float(1.0), nil, 0},
		{Int(2), Float(1.5), nil, 1},
		{Float(1.5), Int(2), nil, -1},
		{Int(math.MaxInt64), Float(9.3e18), nil, -1},
		{Int(5), Text("1"), nil, -1},
		{Text("b"), Text("a"), nil, 1},
		{Text("B"), Text("a"), nil, -1},
		{Text("B"), Text("a"), NoCase, 1},
		{Text("ABC"), Text("abc"), NoCase, 0},
		{Text("a  "), Text("a"), RTrim, 0},
		{Text("z"), Blob([]byte("a")), nil, -1},
		{Blob([]byte{1}), Blob([]byte{1, 0}), nil, -1},
	}
	for _, tt := range tests {
		if got := Compare(tt.a, tt.b, tt.coll); sign(got) != tt.want {
			t.Errorf("Compare(%v, %v) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestKeyOrder(t *testing.T) {
	o := KeyOrder{Collations: []*Collation{NoCase, nil}, Desc: []bool{false, true}}
	k := func(vals ...Value) []byte { return Encode(vals) }

	if o.Compare(k(Text("A"), Int(1)), k(Text("a"), Int(1))) != 0 {
		t.Error("NOCASE keys should be equal")
	}
	if o.Compare(k(Text("a"), Int(2)), k(Text("a"), Int(1))) >= 0 {
		t.Error("descending column should reverse the order")
	}
	if o.Compare(k(Text("a")), k(Text("a"), Int(1))) >= 0 {
		t.Error("a prefix should sort first")
	}
}

func TestAffinity(t *testing.T) {
	tests := []struct {
		decl string
		aff  Affinity
	}{
		{"INTEGER", AffinityInteger},
		{"BIGINT", AffinityInteger},
		{"VARCHAR(10)", AffinityText},
		{"CLOB", AffinityText},
		{"", AffinityBlob},
		{"BLOB", AffinityBlob},
		{"DOUBLE PRECISION", AffinityReal},
		{"DECIMAL(10,5)", AffinityNumeric},
		{"BOOLEAN", AffinityNumeric},
	}
	for _, tt := range tests {
		if got := AffinityOf(tt.decl); got != tt.aff {
			t.Errorf("AffinityOf(%q) = %v, want %v", tt.decl, got, tt.aff)
		}
	}

	apply := []struct {
		aff  Affinity
		in   Value
		want Value
	}{
		{AffinityInteger, Text("42"), Int(42)},
		{AffinityInteger, Text(" 4.0 "), Int(4)},
		{AffinityInteger, Text("4.5"), Float(4.5)},
		{AffinityInteger, Text("abc"), Text("abc")},
		{AffinityNumeric, Float(3.0), Int(3)},
		{AffinityReal, Int(3), Float(3)},
		{AffinityText, Int(7), Text("7")},
		{AffinityText, Float(0.5), Text("0.5")},
		{AffinityBlob, Text("12"), Text("12")},
	}
	for _, tt := range apply {
		got := tt.aff.Apply(tt.in)
		if got.Type() != tt.want.Type() || Compare(got, tt.want, nil) != 0 {
			t.Errorf("%v.Apply(%v) = %v, want %v", tt.aff, tt.in, got, tt.want)
		}
	}
}

func TestConversions(t *testing.T) {
	tests := []struct {
		in    Value
		i     int64
		f     float64
		text  string
		quote string
	}{
		{Int(42), 42, 42, "42", "42"},
		{Float(1), 1, 1, "1.0", "1.0"},
		{Float(0.1), 0, 0.1, "0.1", "0.1"},
		{Float(1e20), 0, 1e20, "1.0e+20", "1.0e+20"},
		{Text("12abc"), 12, 12, "12abc", "'12abc'"},
		{Text("  3.5e1x"), 35, 35, "  3.5e1x", "'  3.5e1x'"},
		{Text("it's"), 0, 0, "it's", "'it''s'"},
		{Blob([]byte{0xAB, 0x01}), 0, 0, "\xab\x01", "X'AB01'"},
		{Null(), 0, 0, "", "NULL"},
	}
	for _, tt := range tests {
		if tt.in.Type() != TypeFloat || tt.in.Float64() < 1e19 {
			if got := tt.in.Int64(); got != tt.i {
				t.Errorf("%v.Int64() = %d, want %d", tt.in, got, tt.i)
			}
		}
		if got := tt.in.Float64(); got != tt.f {
			t.Errorf("%v.Float64() = %g, want %g", tt.in, got, tt.f)
		}
		if got := tt.in.Text(); got != tt.text {
			t.Errorf("%v.Text() = %q, want %q", tt.in, got, tt.text)
		}
		if got := tt.in.Quote(); got != tt.quote {
			t.Errorf("%v.Quote() = %q, want %q", tt.in, got, tt.quote)
		}
	}
}

func TestCast(t *testing.T) {
	tests := []struct {
		in   Value
		typ  string
		want Value
	}{
		{Text("12.7"), "INTEGER", Int(12)},
		{Int(3), "REAL", Float(3)},
		{Float(2.0), "TEXT", Text("2.0")},
		{Text("5"), "NUMERIC", Int(5)},
		{Text("x"), "BLOB", Blob([]byte("x"))},
		{Null(), "INTEGER", Null()},
	}
	for _, tt := range tests {
		got := Cast(tt.in, tt.typ)
		if got.Type() != tt.want.Type() || Compare(got, tt.want, nil) != 0 {
			t.Errorf("Cast(%v, %s) = %v, want %v", tt.in, tt.typ, got, tt.want)
		}
	}
}
