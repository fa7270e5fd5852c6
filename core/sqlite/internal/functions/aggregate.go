package functions

import (
	"math"
	"strings"

	errs "github.com/FocuswithJustin/sqlcompact/core/errors"
	"github.com/FocuswithJustin/sqlcompact/core/sqlite/internal/record"
)

// RegisterAggregateFunctions registers count, sum, total, avg, min, max and
// group_concat.
func RegisterAggregateFunctions(r *Registry) {
	r.RegisterAggregate(NewAggregateFunc("count", 0, 1, func() Aggregate { return &countAgg{} }))
	r.RegisterAggregate(NewAggregateFunc("sum", 1, 1, func() Aggregate { return &sumAgg{} }))
	r.RegisterAggregate(NewAggregateFunc("total", 1, 1, func() Aggregate { return &sumAgg{total: true} }))
	r.RegisterAggregate(NewAggregateFunc("avg", 1, 1, func() Aggregate { return &avgAgg{} }))
	r.RegisterAggregate(NewAggregateFunc("min", 1, 1, func() Aggregate { return &extremeAgg{dir: -1} }))
	r.RegisterAggregate(NewAggregateFunc("max", 1, 1, func() Aggregate { return &extremeAgg{dir: 1} }))
	r.RegisterAggregate(NewAggregateFunc("group_concat", 1, 2, func() Aggregate { return &concatAgg{} }))
}

// countAgg counts rows with no argument and non-NULL values with one.
type countAgg struct{ n int64 }

func (a *countAgg) Step(args []record.Value) error {
	if len(args) == 0 || !args[0].IsNull() {
		a.n++
	}
	return nil
}

func (a *countAgg) Final() (record.Value, error) { return record.Int(a.n), nil }

// sumAgg sums as integers until a non-integer shows up. sum() of no values
// is NULL, total() of no values is 0.0.
type sumAgg struct {
	total   bool
	seen    bool
	isFloat bool
	i       int64
	f       float64
	err     error
}

func (a *sumAgg) Step(args []record.Value) error {
	v := args[0]
	if v.IsNull() {
		return nil
	}
	a.seen = true
	n := v.Numeric()
	if n.Type() == record.TypeInteger && !a.isFloat {
		x := n.Int64()
		s := a.i + x
		if (x > 0 && s < a.i) || (x < 0 && s > a.i) {
			if !a.total {
				a.err = errs.New(errs.ERROR, "integer overflow")
			}
			a.isFloat = true
			a.f = float64(a.i) + float64(x)
			return nil
		}
		a.i = s
		a.f += float64(x)
		return nil
	}
	if !a.isFloat {
		a.isFloat = true
		a.f = float64(a.i)
	}
	a.f += n.Float64()
	return nil
}

func (a *sumAgg) Final() (record.Value, error) {
	if a.total {
		if a.isFloat {
			return record.Float(a.f), nil
		}
		return record.Float(float64(a.i)), nil
	}
	if a.err != nil {
		return record.Null(), a.err
	}
	if !a.seen {
		return record.Null(), nil
	}
	if a.isFloat {
		return record.Float(a.f), nil
	}
	return record.Int(a.i), nil
}

type avgAgg struct {
	n   int64
	sum float64
}

func (a *avgAgg) Step(args []record.Value) error {
	if args[0].IsNull() {
		return nil
	}
	a.n++
	a.sum += args[0].Numeric().Float64()
	return nil
}

func (a *avgAgg) Final() (record.Value, error) {
	if a.n == 0 {
		return record.Null(), nil
	}
	avg := a.sum / float64(a.n)
	if math.IsNaN(avg) {
		return record.Null(), nil
	}
	return record.Float(avg), nil
}

// extremeAgg keeps the smallest (dir < 0) or largest non-NULL value.
type extremeAgg struct {
	dir  int
	have bool
	best record.Value
}

func (a *extremeAgg) Step(args []record.Value) error {
	v := args[0]
	if v.IsNull() {
		return nil
	}
	if !a.have || record.Compare(v, a.best, record.Binary)*a.dir > 0 {
		a.best = v
		a.have = true
	}
	return nil
}

func (a *extremeAgg) Final() (record.Value, error) { return a.best, nil }

type concatAgg struct {
	have bool
	sb   strings.Builder
}

func (a *concatAgg) Step(args []record.Value) error {
	if args[0].IsNull() {
		return nil
	}
	if a.have {
		sep := ","
		if len(args) > 1 {
			sep = args[1].Text()
		}
		a.sb.WriteString(sep)
	}
	a.have = true
	a.sb.WriteString(args[0].Text())
	return nil
}

func (a *concatAgg) Final() (record.Value, error) {
	if !a.have {
		return record.Null(), nil
	}
	return record.Text(a.sb.String()), nil
}
