package functions

import (
	"strings"

	errs "github.com/FocuswithJustin/sqlcompact/core/errors"
	"github.com/FocuswithJustin/sqlcompact/core/sqlite/internal/record"
)

// Variadic marks a function without an upper argument limit.
const Variadic = -1

// ScalarFunc is a function evaluated once per call.
type ScalarFunc struct {
	name    string
	minArgs int
	maxArgs int
	fn      func(args []record.Value) (record.Value, error)
}

// NewScalarFunc creates a scalar function accepting minArgs..maxArgs
// arguments. maxArgs may be Variadic.
func NewScalarFunc(name string, minArgs, maxArgs int, fn func(args []record.Value) (record.Value, error)) *ScalarFunc {
	return &ScalarFunc{name: name, minArgs: minArgs, maxArgs: maxArgs, fn: fn}
}

func (f *ScalarFunc) Name() string { return f.name }

// Call runs the function.
func (f *ScalarFunc) Call(args []record.Value) (record.Value, error) {
	return f.fn(args)
}

// Aggregate accumulates one group.
type Aggregate interface {
	Step(args []record.Value) error
	Final() (record.Value, error)
}

// AggregateFunc creates the per-group state of an aggregate.
type AggregateFunc struct {
	name    string
	minArgs int
	maxArgs int
	New     func() Aggregate
}

// NewAggregateFunc creates an aggregate function.
func NewAggregateFunc(name string, minArgs, maxArgs int, newState func() Aggregate) *AggregateFunc {
	return &AggregateFunc{name: name, minArgs: minArgs, maxArgs: maxArgs, New: newState}
}

func (f *AggregateFunc) Name() string { return f.name }

func accepts(lo, hi, n int) bool {
	return n >= lo && (hi == Variadic || n <= hi)
}

// Registry holds the functions known to a connection.
type Registry struct {
	scalars    map[string][]*ScalarFunc
	aggregates map[string][]*AggregateFunc
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		scalars:    make(map[string][]*ScalarFunc),
		aggregates: make(map[string][]*AggregateFunc),
	}
}

// RegisterScalar adds fn. Later registrations win for overlapping
// argument counts.
func (r *Registry) RegisterScalar(fn *ScalarFunc) {
	name := strings.ToLower(fn.name)
	r.scalars[name] = append([]*ScalarFunc{fn}, r.scalars[name]...)
}

// RegisterAggregate adds fn.
func (r *Registry) RegisterAggregate(fn *AggregateFunc) {
	name := strings.ToLower(fn.name)
	r.aggregates[name] = append([]*AggregateFunc{fn}, r.aggregates[name]...)
}

// Aggregate returns the aggregate called name taking nargs arguments.
func (r *Registry) Aggregate(name string, nargs int) (*AggregateFunc, bool) {
	for _, fn := range r.aggregates[strings.ToLower(name)] {
		if accepts(fn.minArgs, fn.maxArgs, nargs) {
			return fn, true
		}
	}
	return nil, false
}

// Scalar returns the scalar function called name taking nargs arguments.
func (r *Registry) Scalar(name string, nargs int) (*ScalarFunc, error) {
	name = strings.ToLower(name)
	candidates, ok := r.scalars[name]
	for _, fn := range candidates {
		if accepts(fn.minArgs, fn.maxArgs, nargs) {
			return fn, nil
		}
	}
	if !ok {
		if _, agg := r.aggregates[name]; agg {
			return nil, errs.Newf(errs.ERROR, "wrong number of arguments to function %s()", name)
		}
		return nil, errs.Newf(errs.ERROR, "no such function: %s", name)
	}
	return nil, errs.Newf(errs.ERROR, "wrong number of arguments to function %s()", name)
}

// Names returns the names of every registered function.
func (r *Registry) Names() []string {
	seen := make(map[string]bool)
	var names []string
	for n := range r.scalars {
		seen[n] = true
		names = append(names, n)
	}
	for n := range r.aggregates {
		if !seen[n] {
			names = append(names, n)
		}
	}
	return names
}

// DefaultRegistry returns a registry with the built-in functions.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	RegisterScalarFunctions(r)
	RegisterMathFunctions(r)
	RegisterAggregateFunctions(r)
	return r
}
