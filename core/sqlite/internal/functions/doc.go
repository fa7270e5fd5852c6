/*
Package functions implements the built-in SQL functions on record.Value.

# Registry

A Registry maps a lower-case name to a scalar implementation, an aggregate
factory, or both. min and max are aggregates with one argument and scalars
with more, so lookups take the argument count:

	reg := functions.DefaultRegistry()
	fn, err := reg.Scalar("substr", 2)
	if err != nil {
	    return err
	}
	v, err := fn.Call([]record.Value{record.Text("CREATE TABLE t(a)"), record.Int(14)})

Aggregates hand out fresh state per group, so one Registry is safe to share
between statements:

	agg, _ := reg.Aggregate("sum", 1)
	state := agg.New()
	for _, v := range column {
	    state.Step([]record.Value{v})
	}
	total, err := state.Final()

# Text Semantics

Text functions count characters, blob arguments count bytes. upper, lower and
LIKE fold ASCII letters only.
*/
package functions
