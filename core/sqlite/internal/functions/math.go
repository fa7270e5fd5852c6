package functions

import (
	"math"
	"math/rand/v2"

	errs "github.com/FocuswithJustin/sqlcompact/core/errors"
	"github.com/FocuswithJustin/sqlcompact/core/sqlite/internal/record"
)

// RegisterMathFunctions registers abs, round and the math library.
func RegisterMathFunctions(r *Registry) {
	r.RegisterScalar(NewScalarFunc("abs", 1, 1, absFunc))
	r.RegisterScalar(NewScalarFunc("round", 1, 2, roundFunc))
	r.RegisterScalar(NewScalarFunc("sign", 1, 1, signFunc))
	r.RegisterScalar(NewScalarFunc("random", 0, 0, randomFunc))
	r.RegisterScalar(NewScalarFunc("ceil", 1, 1, integral(math.Ceil)))
	r.RegisterScalar(NewScalarFunc("ceiling", 1, 1, integral(math.Ceil)))
	r.RegisterScalar(NewScalarFunc("floor", 1, 1, integral(math.Floor)))
	r.RegisterScalar(NewScalarFunc("trunc", 1, 1, integral(math.Trunc)))
	r.RegisterScalar(NewScalarFunc("pi", 0, 0, func([]record.Value) (record.Value, error) {
		return record.Float(math.Pi), nil
	}))

	unary := map[string]func(float64) float64{
		"sqrt": math.Sqrt, "exp": math.Exp, "ln": math.Log, "log10": math.Log10,
		"log2": math.Log2, "sin": math.Sin, "cos": math.Cos, "tan": math.Tan,
		"asin": math.Asin, "acos": math.Acos, "atan": math.Atan, "sinh": math.Sinh,
		"cosh": math.Cosh, "tanh": math.Tanh, "asinh": math.Asinh, "acosh": math.Acosh,
		"atanh": math.Atanh,
		"radians": func(x float64) float64 { return x * math.Pi / 180 },
		"degrees": func(x float64) float64 { return x * 180 / math.Pi },
	}
	for name, f := range unary {
		r.RegisterScalar(NewScalarFunc(name, 1, 1, floatFunc(f)))
	}
	r.RegisterScalar(NewScalarFunc("log", 1, 1, floatFunc(math.Log10)))
	r.RegisterScalar(NewScalarFunc("log", 2, 2, binaryFloat(func(b, x float64) float64 {
		return math.Log(x) / math.Log(b)
	})))
	r.RegisterScalar(NewScalarFunc("pow", 2, 2, binaryFloat(math.Pow)))
	r.RegisterScalar(NewScalarFunc("power", 2, 2, binaryFloat(math.Pow)))
	r.RegisterScalar(NewScalarFunc("atan2", 2, 2, binaryFloat(math.Atan2)))
	r.RegisterScalar(NewScalarFunc("mod", 2, 2, binaryFloat(math.Mod)))
}

// numeric converts an argument for a math function. Text that is not a
// number yields ok == false.
func numeric(v record.Value) (record.Value, bool) {
	switch {
	case v.IsNumeric():
		return v, true
	case v.IsNull():
		return v, false
	}
	n := record.AffinityNumeric.Apply(record.Text(v.Text()))
	return n, n.IsNumeric()
}

// finite maps NaN and infinities from a domain error to NULL.
func finite(f float64) record.Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return record.Null()
	}
	return record.Float(f)
}

func floatFunc(f func(float64) float64) func([]record.Value) (record.Value, error) {
	return func(args []record.Value) (record.Value, error) {
		x, ok := numeric(args[0])
		if !ok {
			return record.Null(), nil
		}
		return finite(f(x.Float64())), nil
	}
}

func binaryFloat(f func(a, b float64) float64) func([]record.Value) (record.Value, error) {
	return func(args []record.Value) (record.Value, error) {
		a, ok1 := numeric(args[0])
		b, ok2 := numeric(args[1])
		if !ok1 || !ok2 {
			return record.Null(), nil
		}
		return finite(f(a.Float64(), b.Float64())), nil
	}
}

// integral applies a rounding function; integers pass through unchanged.
func integral(f func(float64) float64) func([]record.Value) (record.Value, error) {
	return func(args []record.Value) (record.Value, error) {
		x, ok := numeric(args[0])
		if !ok {
			return record.Null(), nil
		}
		if x.Type() == record.TypeInteger {
			return x, nil
		}
		return record.Float(f(x.Float64())), nil
	}
}

func absFunc(args []record.Value) (record.Value, error) {
	x, ok := numeric(args[0])
	if !ok {
		return record.Null(), nil
	}
	if x.Type() == record.TypeInteger {
		i := x.Int64()
		if i == math.MinInt64 {
			return record.Null(), errs.New(errs.ERROR, "integer overflow")
		}
		if i < 0 {
			i = -i
		}
		return record.Int(i), nil
	}
	return record.Float(math.Abs(x.Float64())), nil
}

// roundFunc rounds half away from zero to n digits (0..30).
func roundFunc(args []record.Value) (record.Value, error) {
	if anyNull(args) {
		return record.Null(), nil
	}
	n := int64(0)
	if len(args) == 2 {
		n = min(max(args[1].Int64(), 0), 30)
	}
	x := args[0].Float64()
	if math.Abs(x) >= 4503599627370496 {
		return record.Float(x), nil
	}
	if n == 0 {
		return record.Float(math.Round(x)), nil
	}
	scale := math.Pow(10, float64(n))
	r := math.Round(x*scale) / scale
	if math.IsInf(r, 0) || math.IsNaN(r) {
		return record.Float(x), nil
	}
	return record.Float(r), nil
}

func signFunc(args []record.Value) (record.Value, error) {
	x, ok := numeric(args[0])
	if !ok {
		return record.Null(), nil
	}
	switch f := x.Float64(); {
	case f > 0:
		return record.Int(1), nil
	case f < 0:
		return record.Int(-1), nil
	}
	return record.Int(0), nil
}

func randomFunc([]record.Value) (record.Value, error) {
	return record.Int(int64(rand.Uint64())), nil
}
