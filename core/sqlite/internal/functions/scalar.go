package functions

import (
	"bytes"
	"encoding/hex"
	"math"
	"math/rand/v2"
	"strings"
	"unicode/utf8"

	errs "github.com/FocuswithJustin/sqlcompact/core/errors"
	"github.com/FocuswithJustin/sqlcompact/core/sqlite/internal/record"
)

// Version is the SQL dialect level reported by sqlite_version().
const Version = "3.46.1"

// RegisterScalarFunctions registers the text, type and blob functions.
func RegisterScalarFunctions(r *Registry) {
	r.RegisterScalar(NewScalarFunc("length", 1, 1, lengthFunc))
	r.RegisterScalar(NewScalarFunc("substr", 2, 3, substrFunc))
	r.RegisterScalar(NewScalarFunc("substring", 2, 3, substrFunc))
	r.RegisterScalar(NewScalarFunc("upper", 1, 1, upperFunc))
	r.RegisterScalar(NewScalarFunc("lower", 1, 1, lowerFunc))
	r.RegisterScalar(NewScalarFunc("trim", 1, 2, trimFunc(true, true)))
	r.RegisterScalar(NewScalarFunc("ltrim", 1, 2, trimFunc(true, false)))
	r.RegisterScalar(NewScalarFunc("rtrim", 1, 2, trimFunc(false, true)))
	r.RegisterScalar(NewScalarFunc("replace", 3, 3, replaceFunc))
	r.RegisterScalar(NewScalarFunc("instr", 2, 2, instrFunc))
	r.RegisterScalar(NewScalarFunc("hex", 1, 1, hexFunc))
	r.RegisterScalar(NewScalarFunc("unhex", 1, 2, unhexFunc))
	r.RegisterScalar(NewScalarFunc("quote", 1, 1, quoteFunc))
	r.RegisterScalar(NewScalarFunc("unicode", 1, 1, unicodeFunc))
	r.RegisterScalar(NewScalarFunc("char", 0, Variadic, charFunc))
	r.RegisterScalar(NewScalarFunc("like", 2, 3, likeFunc))
	r.RegisterScalar(NewScalarFunc("glob", 2, 2, globFunc))

	r.RegisterScalar(NewScalarFunc("typeof", 1, 1, typeofFunc))
	r.RegisterScalar(NewScalarFunc("coalesce", 2, Variadic, coalesceFunc))
	r.RegisterScalar(NewScalarFunc("ifnull", 2, 2, coalesceFunc))
	r.RegisterScalar(NewScalarFunc("nullif", 2, 2, nullifFunc))
	r.RegisterScalar(NewScalarFunc("iif", 3, 3, iifFunc))
	r.RegisterScalar(NewScalarFunc("min", 2, Variadic, extremeFunc(-1)))
	r.RegisterScalar(NewScalarFunc("max", 2, Variadic, extremeFunc(1)))

	r.RegisterScalar(NewScalarFunc("zeroblob", 1, 1, zeroblobFunc))
	r.RegisterScalar(NewScalarFunc("randomblob", 1, 1, randomblobFunc))
	r.RegisterScalar(NewScalarFunc("sqlite_version", 0, 0, func([]record.Value) (record.Value, error) {
		return record.Text(Version), nil
	}))
}

func anyNull(args []record.Value) bool {
	for _, a := range args {
		if a.IsNull() {
			return true
		}
	}
	return false
}

// lengthFunc counts characters of text and bytes of a blob.
func lengthFunc(args []record.Value) (record.Value, error) {
	switch v := args[0]; v.Type() {
	case record.TypeNull:
		return record.Null(), nil
	case record.TypeBlob:
		return record.Int(int64(len(v.Bytes()))), nil
	default:
		return record.Int(int64(utf8.RuneCountInString(v.Text()))), nil
	}
}

// substrFunc implements substr(X, Y [, Z]). Y is 1-based and counts from the
// end when negative; a negative Z takes the characters before Y.
func substrFunc(args []record.Value) (record.Value, error) {
	if anyNull(args) {
		return record.Null(), nil
	}
	blob := args[0].Type() == record.TypeBlob
	var units []rune
	var data []byte
	var n int64
	if blob {
		data = args[0].Bytes()
		n = int64(len(data))
	} else {
		units = []rune(args[0].Text())
		n = int64(len(units))
	}

	p1 := args[1].Int64()
	p2 := int64(math.MaxInt32)
	neg := false
	if len(args) == 3 {
		p2 = args[2].Int64()
		if p2 < 0 {
			p2, neg = -p2, true
		}
	}
	switch {
	case p1 < 0:
		p1 += n
		if p1 < 0 {
			p2 = max(p2+p1, 0)
			p1 = 0
		}
	case p1 > 0:
		p1--
	case p2 > 0:
		p2--
	}
	if neg {
		p1 -= p2
		if p1 < 0 {
			p2 += p1
			p1 = 0
		}
	}
	p1 = min(p1, n)
	p2 = max(min(p2, n-p1), 0)

	if blob {
		return record.Blob(append([]byte(nil), data[p1:p1+p2]...)), nil
	}
	return record.Text(string(units[p1 : p1+p2])), nil
}

func mapASCII(s string, from, to byte) string {
	b := []byte(s)
	for i, c := range b {
		if c >= from && c <= from+25 {
			b[i] = c - from + to
		}
	}
	return string(b)
}

func upperFunc(args []record.Value) (record.Value, error) {
	if args[0].IsNull() {
		return record.Null(), nil
	}
	return record.Text(mapASCII(args[0].Text(), 'a', 'A')), nil
}

func lowerFunc(args []record.Value) (record.Value, error) {
	if args[0].IsNull() {
		return record.Null(), nil
	}
	return record.Text(mapASCII(args[0].Text(), 'A', 'a')), nil
}

func trimFunc(left, right bool) func([]record.Value) (record.Value, error) {
	return func(args []record.Value) (record.Value, error) {
		if anyNull(args) {
			return record.Null(), nil
		}
		s, cut := args[0].Text(), " "
		if len(args) == 2 {
			cut = args[1].Text()
		}
		if left {
			s = strings.TrimLeft(s, cut)
		}
		if right {
			s = strings.TrimRight(s, cut)
		}
		return record.Text(s), nil
	}
}

func replaceFunc(args []record.Value) (record.Value, error) {
	if anyNull(args) {
		return record.Null(), nil
	}
	s, old := args[0].Text(), args[1].Text()
	if old == "" {
		return record.Text(s), nil
	}
	return record.Text(strings.ReplaceAll(s, old, args[2].Text())), nil
}

// instrFunc returns the 1-based position of the first Y in X, or 0.
func instrFunc(args []record.Value) (record.Value, error) {
	if anyNull(args) {
		return record.Null(), nil
	}
	if args[0].Type() == record.TypeBlob && args[1].Type() == record.TypeBlob {
		return record.Int(int64(bytes.Index(args[0].Bytes(), args[1].Bytes()) + 1)), nil
	}
	s := args[0].Text()
	i := strings.Index(s, args[1].Text())
	if i < 0 {
		return record.Int(0), nil
	}
	return record.Int(int64(utf8.RuneCountInString(s[:i]) + 1)), nil
}

func hexFunc(args []record.Value) (record.Value, error) {
	return record.Text(strings.ToUpper(hex.EncodeToString(args[0].Bytes()))), nil
}

// unhexFunc decodes hex digits, skipping any characters in the optional
// second argument. Invalid input yields NULL.
func unhexFunc(args []record.Value) (record.Value, error) {
	if anyNull(args) {
		return record.Null(), nil
	}
	s := args[0].Text()
	if len(args) == 2 {
		ignore := args[1].Text()
		s = strings.Map(func(r rune) rune {
			if strings.ContainsRune(ignore, r) {
				return -1
			}
			return r
		}, s)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return record.Null(), nil
	}
	return record.Blob(b), nil
}

func quoteFunc(args []record.Value) (record.Value, error) {
	return record.Text(args[0].Quote()), nil
}

func unicodeFunc(args []record.Value) (record.Value, error) {
	s := args[0].Text()
	if args[0].IsNull() || s == "" {
		return record.Null(), nil
	}
	r, _ := utf8.DecodeRuneInString(s)
	return record.Int(int64(r)), nil
}

func charFunc(args []record.Value) (record.Value, error) {
	var sb strings.Builder
	for _, a := range args {
		r := a.Int64()
		if r < 0 || r > utf8.MaxRune {
			r = utf8.RuneError
		}
		sb.WriteRune(rune(r))
	}
	return record.Text(sb.String()), nil
}

// likeFunc implements like(Y, X [, E]), which is X LIKE Y [ESCAPE E].
func likeFunc(args []record.Value) (record.Value, error) {
	if anyNull(args) {
		return record.Null(), nil
	}
	var esc rune
	if len(args) == 3 {
		e := args[2].Text()
		if utf8.RuneCountInString(e) != 1 {
			return record.Null(), errs.New(errs.ERROR, "ESCAPE expression must be a single character")
		}
		esc, _ = utf8.DecodeRuneInString(e)
	}
	return record.Bool(Like(args[0].Text(), args[1].Text(), esc)), nil
}

func globFunc(args []record.Value) (record.Value, error) {
	if anyNull(args) {
		return record.Null(), nil
	}
	return record.Bool(Glob(args[0].Text(), args[1].Text())), nil
}

func typeofFunc(args []record.Value) (record.Value, error) {
	return record.Text(args[0].Type().String()), nil
}

func coalesceFunc(args []record.Value) (record.Value, error) {
	for _, a := range args {
		if !a.IsNull() {
			return a, nil
		}
	}
	return record.Null(), nil
}

func nullifFunc(args []record.Value) (record.Value, error) {
	if record.Compare(args[0], args[1], nil) == 0 {
		return record.Null(), nil
	}
	return args[0], nil
}

func iifFunc(args []record.Value) (record.Value, error) {
	if args[0].Truth() {
		return args[1], nil
	}
	return args[2], nil
}

// extremeFunc builds the multi-argument min (dir -1) and max (dir 1). Any
// NULL argument makes the result NULL.
func extremeFunc(dir int) func([]record.Value) (record.Value, error) {
	return func(args []record.Value) (record.Value, error) {
		best := args[0]
		for _, a := range args {
			if a.IsNull() {
				return record.Null(), nil
			}
			if record.Compare(a, best, nil)*dir > 0 {
				best = a
			}
		}
		return best, nil
	}
}

// Blob size limit, matching the engine's default maximum string length.
const maxBlobSize = 1_000_000_000

func zeroblobFunc(args []record.Value) (record.Value, error) {
	n := max(args[0].Int64(), 0)
	if n > maxBlobSize {
		return record.Null(), errs.New(errs.TOOBIG, "string or blob too big")
	}
	return record.Blob(make([]byte, n)), nil
}

func randomblobFunc(args []record.Value) (record.Value, error) {
	n := max(args[0].Int64(), 1)
	if n > maxBlobSize {
		return record.Null(), errs.New(errs.TOOBIG, "string or blob too big")
	}
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(rand.Uint32())
	}
	return record.Blob(b), nil
}
