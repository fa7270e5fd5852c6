package functions

import (
	"math"
	"testing"

	errs "github.com/FocuswithJustin/sqlcompact/core/errors"
	"github.com/FocuswithJustin/sqlcompact/core/sqlite/internal/record"
)

var registry = DefaultRegistry()

func call(t *testing.T, name string, args ...record.Value) record.Value {
	t.Helper()
	fn, err := registry.Scalar(name, len(args))
	if err != nil {
		t.Fatalf("Scalar(%s) error = %v", name, err)
	}
	v, err := fn.Call(args)
	if err != nil {
		t.Fatalf("%s() error = %v", name, err)
	}
	return v
}

func aggregate(t *testing.T, name string, rows ...[]record.Value) (record.Value, error) {
	t.Helper()
	nargs := 0
	if len(rows) > 0 {
		nargs = len(rows[0])
	}
	fn, ok := registry.Aggregate(name, nargs)
	if !ok {
		t.Fatalf("Aggregate(%s, %d) not found", name, nargs)
	}
	state := fn.New()
	for _, r := range rows {
		if err := state.Step(r); err != nil {
			return record.Null(), err
		}
	}
	return state.Final()
}

func rows(vals ...record.Value) [][]record.Value {
	out := make([][]record.Value, len(vals))
	for i, v := range vals {
		out[i] = []record.Value{v}
	}
	return out
}

var (
	i = record.Int
	f = record.Float
	s = record.Text
	n = record.Null
)

func TestTextFunctions(t *testing.T) {
	tests := []struct {
		name string
		fn   string
		args []record.Value
		want record.Value
	}{
		{"length text", "length", []record.Value{s("héllo")}, i(5)},
		{"length blob", "length", []record.Value{record.Blob([]byte{1, 2, 3})}, i(3)},
		{"length int", "length", []record.Value{i(12345)}, i(5)},
		{"length null", "length", []record.Value{n()}, n()},
		{"substr create table", "substr", []record.Value{s("CREATE TABLE t(a,b)"), i(14)}, s("t(a,b)")},
		{"substr create index", "substr", []record.Value{s("CREATE INDEX i ON t(a)"), i(14)}, s("i ON t(a)")},
		{"substr unique", "substr", []record.Value{s("CREATE UNIQUE INDEX u ON t(a)"), i(21)}, s("u ON t(a)")},
		{"substr len", "substr", []record.Value{s("hello"), i(2), i(3)}, s("ell")},
		{"substr negative start", "substr", []record.Value{s("hello"), i(-3)}, s("llo")},
		{"substr negative len", "substr", []record.Value{s("hello"), i(4), i(-2)}, s("el")},
		{"substr zero", "substr", []record.Value{s("hello"), i(0), i(2)}, s("h")},
		{"substr past end", "substr", []record.Value{s("hello"), i(9)}, s("")},
		{"upper", "upper", []record.Value{s("abc é")}, s("ABC é")},
		{"lower", "lower", []record.Value{s("ABC")}, s("abc")},
		{"trim", "trim", []record.Value{s("  x  ")}, s("x")},
		{"ltrim chars", "ltrim", []record.Value{s("xxyx"), s("x")}, s("yx")},
		{"rtrim", "rtrim", []record.Value{s(" x ")}, s(" x")},
		{"replace", "replace", []record.Value{s("a-b-c"), s("-"), s("+")}, s("a+b+c")},
		{"replace empty", "replace", []record.Value{s("abc"), s(""), s("x")}, s("abc")},
		{"instr", "instr", []record.Value{s("héllo"), s("l")}, i(3)},
		{"instr missing", "instr", []record.Value{s("abc"), s("z")}, i(0)},
		{"hex", "hex", []record.Value{record.Blob([]byte{0xab, 0x01})}, s("AB01")},
		{"hex null", "hex", []record.Value{n()}, s("")},
		{"unhex", "unhex", []record.Value{s("AB01")}, record.Blob([]byte{0xab, 0x01})},
		{"unhex bad", "unhex", []record.Value{s("zz")}, n()},
		{"quote text", "quote", []record.Value{s("it's")}, s("'it''s'")},
		{"quote null", "quote", []record.Value{n()}, s("NULL")},
		{"quote name", "quote", []record.Value{s("t")}, s("'t'")},
		{"unicode", "unicode", []record.Value{s("A")}, i(65)},
		{"char", "char", []record.Value{i(72), i(105)}, s("Hi")},
		{"typeof", "typeof", []record.Value{f(1.5)}, s("real")},
		{"coalesce", "coalesce", []record.Value{n(), n(), i(3)}, i(3)},
		{"ifnull", "ifnull", []record.Value{n(), s("d")}, s("d")},
		{"nullif equal", "nullif", []record.Value{i(1), i(1)}, n()},
		{"nullif differ", "nullif", []record.Value{i(1), i(2)}, i(1)},
		{"iif", "iif", []record.Value{i(0), s("y"), s("n")}, s("n")},
		{"min scalar", "min", []record.Value{i(3), i(1), i(2)}, i(1)},
		{"max scalar", "max", []record.Value{i(3), s("a")}, s("a")},
		{"max null", "max", []record.Value{i(3), n()}, n()},
		{"like", "like", []record.Value{s("a%"), s("ABC")}, i(1)},
		{"glob", "glob", []record.Value{s("a*"), s("ABC")}, i(0)},
		{"sqlite_version", "sqlite_version", nil, s(Version)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := call(t, tt.fn, tt.args...)
			if got.Type() != tt.want.Type() || record.Compare(got, tt.want, nil) != 0 {
				t.Errorf("%s(%v) = %v, want %v", tt.fn, tt.args, got, tt.want)
			}
		})
	}
}

func TestBlobFunctions(t *testing.T) {
	if got := call(t, "zeroblob", i(4)); len(got.Bytes()) != 4 || got.Type() != record.TypeBlob {
		t.Errorf("zeroblob(4) = %v", got)
	}
	if got := call(t, "randomblob", i(0)); len(got.Bytes()) != 1 {
		t.Errorf("randomblob(0) length = %d, want 1", len(got.Bytes()))
	}
	fn, _ := registry.Scalar("zeroblob", 1)
	if _, err := fn.Call([]record.Value{i(maxBlobSize + 1)}); errs.CodeOf(err) != errs.TOOBIG {
		t.Errorf("zeroblob(huge) code = %v, want TOOBIG", errs.CodeOf(err))
	}
}

func TestLike(t *testing.T) {
	tests := []struct {
		pattern, s string
		esc        rune
		want       bool
	}{
		{"abc", "ABC", 0, true},
		{"a_c", "abc", 0, true},
		{"a_c", "ac", 0, false},
		{"%", "", 0, true},
		{"%b%", "abc", 0, true},
		{"%x", "abc", 0, false},
		{"a%c", "abbbc", 0, true},
		{"10!%", "10%", '!', true},
		{"10!%", "100", '!', false},
		{"é%", "éa", 0, true},
	}
	for _, tt := range tests {
		if got := Like(tt.pattern, tt.s, tt.esc); got != tt.want {
			t.Errorf("Like(%q, %q) = %v, want %v", tt.pattern, tt.s, got, tt.want)
		}
	}
}

func TestGlob(t *testing.T) {
	tests := []struct {
		pattern, s string
		want       bool
	}{
		{"abc", "abc", true},
		{"abc", "ABC", false},
		{"a?c", "abc", true},
		{"a*", "a", true},
		{"*c", "abc", true},
		{"[a-c]x", "bx", true},
		{"[^a-c]x", "bx", false},
		{"[]]", "]", true},
		{"sqlite_*", "sqlite_sequence", true},
		{"[abc", "a", false},
	}
	for _, tt := range tests {
		if got := Glob(tt.pattern, tt.s); got != tt.want {
			t.Errorf("Glob(%q, %q) = %v, want %v", tt.pattern, tt.s, got, tt.want)
		}
	}
}

func TestMathFunctions(t *testing.T) {
	tests := []struct {
		fn   string
		args []record.Value
		want record.Value
	}{
		{"abs", []record.Value{i(-5)}, i(5)},
		{"abs", []record.Value{f(-2.5)}, f(2.5)},
		{"abs", []record.Value{n()}, n()},
		{"round", []record.Value{f(2.5)}, f(3)},
		{"round", []record.Value{f(-2.5)}, f(-3)},
		{"round", []record.Value{f(1.2345), i(2)}, f(1.23)},
		{"round", []record.Value{i(7)}, f(7)},
		{"sign", []record.Value{f(-0.1)}, i(-1)},
		{"ceil", []record.Value{f(1.2)}, f(2)},
		{"floor", []record.Value{i(3)}, i(3)},
		{"trunc", []record.Value{f(-1.7)}, f(-1)},
		{"sqrt", []record.Value{i(16)}, f(4)},
		{"sqrt", []record.Value{i(-1)}, n()},
		{"pow", []record.Value{i(2), i(10)}, f(1024)},
		{"log", []record.Value{i(100)}, f(2)},
		{"log", []record.Value{i(2), i(8)}, f(3)},
		{"mod", []record.Value{i(7), i(3)}, f(1)},
		{"ln", []record.Value{s("abc")}, n()},
	}
	for _, tt := range tests {
		got := call(t, tt.fn, tt.args...)
		if got.Type() != tt.want.Type() {
			t.Errorf("%s(%v) = %v, want %v", tt.fn, tt.args, got, tt.want)
			continue
		}
		if got.Type() == record.TypeFloat && math.Abs(got.Float64()-tt.want.Float64()) > 1e-9 {
			t.Errorf("%s(%v) = %v, want %v", tt.fn, tt.args, got, tt.want)
		}
		if got.Type() == record.TypeInteger && got.Int64() != tt.want.Int64() {
			t.Errorf("%s(%v) = %v, want %v", tt.fn, tt.args, got, tt.want)
		}
	}

	fn, _ := registry.Scalar("abs", 1)
	if _, err := fn.Call([]record.Value{i(math.MinInt64)}); err == nil {
		t.Error("abs(MinInt64) error = nil, want integer overflow")
	}
}

func TestAggregates(t *testing.T) {
	vals := rows(i(1), n(), i(2), i(3))

	tests := []struct {
		name string
		fn   string
		rows [][]record.Value
		want record.Value
	}{
		{"count", "count", vals, i(3)},
		{"count star", "count", [][]record.Value{{}, {}}, i(2)},
		{"sum ints", "sum", vals, i(6)},
		{"sum mixed", "sum", rows(i(1), f(0.5)), f(1.5)},
		{"sum empty", "sum", rows(n()), n()},
		{"total empty", "total", rows(n()), f(0)},
		{"total ints", "total", vals, f(6)},
		{"avg", "avg", vals, f(2)},
		{"avg empty", "avg", rows(n()), n()},
		{"min", "min", vals, i(1)},
		{"max", "max", rows(i(1), s("a"), f(9.5)), s("a")},
		{"max empty", "max", rows(n()), n()},
		{"group_concat", "group_concat", rows(s("a"), n(), s("b")), s("a,b")},
		{"group_concat sep", "group_concat", [][]record.Value{{s("a"), s("; ")}, {s("b"), s("; ")}}, s("a; b")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := aggregate(t, tt.fn, tt.rows...)
			if err != nil {
				t.Fatalf("%s() error = %v", tt.fn, err)
			}
			if got.Type() != tt.want.Type() || record.Compare(got, tt.want, nil) != 0 {
				t.Errorf("%s() = %v, want %v", tt.fn, got, tt.want)
			}
		})
	}
}

func TestSumOverflow(t *testing.T) {
	_, err := aggregate(t, "sum", rows(i(math.MaxInt64), i(1))...)
	if err == nil {
		t.Fatal("sum() error = nil, want integer overflow")
	}
	got, err := aggregate(t, "total", rows(i(math.MaxInt64), i(1))...)
	if err != nil {
		t.Fatalf("total() error = %v", err)
	}
	if got.Float64() < 9.2e18 {
		t.Errorf("total() = %v", got)
	}
}

func TestRegistryLookup(t *testing.T) {
	if _, err := registry.Scalar("nosuch", 1); err == nil || err.Error() != "no such function: nosuch" {
		t.Errorf("Scalar(nosuch) error = %v", err)
	}
	if _, err := registry.Scalar("length", 2); err == nil {
		t.Error("Scalar(length, 2) error = nil")
	}
	if _, err := registry.Scalar("LENGTH", 1); err != nil {
		t.Errorf("Scalar(LENGTH) error = %v", err)
	}
	if _, ok := registry.Aggregate("max", 2); ok {
		t.Error("Aggregate(max, 2) found, want scalar only")
	}

	r := NewRegistry()
	r.RegisterScalar(NewScalarFunc("f", 1, 1, func([]record.Value) (record.Value, error) { return i(1), nil }))
	r.RegisterScalar(NewScalarFunc("f", 1, 1, func([]record.Value) (record.Value, error) { return i(2), nil }))
	fn, _ := r.Scalar("f", 1)
	if v, _ := fn.Call(nil); v.Int64() != 2 {
		t.Errorf("later registration = %v, want 2", v)
	}
}
