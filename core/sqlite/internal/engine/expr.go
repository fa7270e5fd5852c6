package engine

import (
	"encoding/hex"
	"math"
	"strconv"
	"strings"

	errs "github.com/FocuswithJustin/sqlcompact/core/errors"
	"github.com/FocuswithJustin/sqlcompact/core/sqlite/internal/functions"
	"github.com/FocuswithJustin/sqlcompact/core/sqlite/internal/parser"
	"github.com/FocuswithJustin/sqlcompact/core/sqlite/internal/record"
	"github.com/FocuswithJustin/sqlcompact/core/sqlite/internal/schema"
)

// source describes the rows a FROM clause produces.
type source struct {
	name    string // table name or alias, used by qualified references
	columns []string
	aff     []record.Affinity
	coll    []string
	table   *schema.Table // nil for views and subqueries
	db      *Database
}

// column finds a column of the source. The rowid names resolve to -1 on
// tables that have no column of that name.
func (src *source) column(name string) (int, bool) {
	for i, c := range src.columns {
		if strings.EqualFold(c, name) {
			return i, true
		}
	}
	if src.table != nil && schema.IsRowidName(name) {
		return -1, true
	}
	return 0, false
}

func (src *source) matches(qualifier string) bool {
	return qualifier == "" || strings.EqualFold(qualifier, src.name)
}

// row is one row of a source.
type row struct {
	rowid int64
	vals  []record.Value
}

// scope binds a row of a source for column references. Subqueries see the
// scopes of their enclosing queries through outer.
type scope struct {
	src   *source
	row   *row
	outer *scope
}

// evaluator computes expressions for one statement.
type evaluator struct {
	e  *Engine
	s  *Stmt
	sc *scope

	// aggs holds the finished aggregates of the current group.
	aggs map[*parser.FunctionExpr]record.Value
}

func (s *Stmt) evaluator(sc *scope) *evaluator {
	return &evaluator{e: s.e, s: s, sc: sc}
}

func (e *Engine) evaluator(sc *scope) *evaluator {
	return &evaluator{e: e, sc: sc}
}

func (ev *evaluator) with(sc *scope) *evaluator {
	return &evaluator{e: ev.e, s: ev.s, sc: sc, aggs: ev.aggs}
}

// resolve finds the scope and column position a reference names.
func (ev *evaluator) resolve(c *parser.ColumnExpr) (*scope, int, error) {
	for sc := ev.sc; sc != nil; sc = sc.outer {
		if sc.src == nil || !sc.src.matches(c.Table) {
			continue
		}
		if i, ok := sc.src.column(c.Column); ok {
			return sc, i, nil
		}
	}
	return nil, 0, noSuchColumn(c)
}

func noSuchColumn(c *parser.ColumnExpr) error {
	if c.Table != "" {
		return errs.Newf(errs.ERROR, "no such column: %s.%s", c.Table, c.Column)
	}
	return errs.Newf(errs.ERROR, "no such column: %s", c.Column)
}

func (ev *evaluator) truth(x parser.Expression) (bool, error) {
	if x == nil {
		return true, nil
	}
	v, err := ev.eval(x)
	if err != nil {
		return false, err
	}
	return v.Truth(), nil
}

func (ev *evaluator) eval(x parser.Expression) (record.Value, error) {
	switch x := x.(type) {
	case nil:
		return record.Null(), nil
	case *parser.LiteralExpr:
		return literal(x)
	case *parser.VariableExpr:
		if ev.s == nil || x.Index < 1 || x.Index > len(ev.s.args) {
			return record.Null(), nil
		}
		return ev.s.args[x.Index-1], nil
	case *parser.ColumnExpr:
		sc, i, err := ev.resolve(x)
		if err != nil {
			return record.Null(), err
		}
		if sc.row == nil {
			return record.Null(), nil
		}
		if i < 0 {
			return record.Int(sc.row.rowid), nil
		}
		return sc.row.vals[i], nil
	case *parser.UnaryExpr:
		return ev.unary(x)
	case *parser.BinaryExpr:
		return ev.binary(x)
	case *parser.IsNullExpr:
		v, err := ev.eval(x.Expr)
		if err != nil {
			return v, err
		}
		return record.Bool(v.IsNull() != x.Not), nil
	case *parser.LikeExpr:
		return ev.like(x)
	case *parser.BetweenExpr:
		return ev.between(x)
	case *parser.InExpr:
		return ev.in(x)
	case *parser.CaseExpr:
		return ev.caseExpr(x)
	case *parser.CastExpr:
		v, err := ev.eval(x.Expr)
		if err != nil {
			return v, err
		}
		return record.Cast(v, x.Type), nil
	case *parser.CollateExpr:
		if _, ok := record.LookupCollation(x.Collation); !ok {
			return record.Null(), errs.Newf(errs.ERROR, "no such collation sequence: %s", x.Collation)
		}
		return ev.eval(x.Expr)
	case *parser.FunctionExpr:
		return ev.function(x)
	case *parser.SubqueryExpr:
		rows, err := ev.subquery(x.Select, 1)
		if err != nil || len(rows) == 0 {
			return record.Null(), err
		}
		return rows[0][0], nil
	case *parser.ExistsExpr:
		rows, err := ev.subquery(x.Select, 1)
		if err != nil {
			return record.Null(), err
		}
		return record.Bool((len(rows) > 0) != x.Not), nil
	}
	return record.Null(), errs.NewUnsupported("expression", "")
}

func literal(x *parser.LiteralExpr) (record.Value, error) {
	switch x.Kind {
	case parser.LiteralInteger:
		if h, ok := strings.CutPrefix(strings.ToLower(x.Value), "0x"); ok {
			u, err := strconv.ParseUint(h, 16, 64)
			if err != nil {
				return record.Null(), errs.Newf(errs.ERROR, "hex literal too big: %s", x.Value)
			}
			return record.Int(int64(u)), nil
		}
		if i, err := strconv.ParseInt(x.Value, 10, 64); err == nil {
			return record.Int(i), nil
		}
		f, err := strconv.ParseFloat(x.Value, 64)
		if err != nil {
			return record.Null(), errs.Newf(errs.ERROR, "malformed number: %s", x.Value)
		}
		return record.Float(f), nil
	case parser.LiteralFloat:
		f, err := strconv.ParseFloat(x.Value, 64)
		if err != nil {
			return record.Null(), errs.Newf(errs.ERROR, "malformed number: %s", x.Value)
		}
		return record.Float(f), nil
	case parser.LiteralString:
		return record.Text(x.Value), nil
	case parser.LiteralBlob:
		b, err := hex.DecodeString(x.Value)
		if err != nil {
			return record.Null(), errs.Newf(errs.ERROR, "malformed blob literal: X'%s'", x.Value)
		}
		return record.Blob(b), nil
	}
	return record.Null(), nil
}

func (ev *evaluator) unary(x *parser.UnaryExpr) (record.Value, error) {
	v, err := ev.eval(x.Expr)
	if err != nil || v.IsNull() {
		return v, err
	}
	switch x.Op {
	case parser.OpNeg:
		n := v.Numeric()
		if n.Type() == record.TypeInteger {
			if n.Int64() == math.MinInt64 {
				return record.Float(-float64(n.Int64())), nil
			}
			return record.Int(-n.Int64()), nil
		}
		return record.Float(-n.Float64()), nil
	case parser.OpPos:
		return v, nil
	case parser.OpNot:
		return record.Bool(!v.Truth()), nil
	case parser.OpBitNot:
		return record.Int(^v.Numeric().Int64()), nil
	}
	return record.Null(), errs.NewUnsupported("operator", "")
}

func (ev *evaluator) binary(x *parser.BinaryExpr) (record.Value, error) {
	switch x.Op {
	case parser.OpAnd, parser.OpOr:
		return ev.logical(x)
	}
	l, err := ev.eval(x.Left)
	if err != nil {
		return l, err
	}
	r, err := ev.eval(x.Right)
	if err != nil {
		return r, err
	}
	switch x.Op {
	case parser.OpEq, parser.OpNe, parser.OpLt, parser.OpLe, parser.OpGt, parser.OpGe, parser.OpIs, parser.OpIsNot:
		return ev.compareOp(x, l, r), nil
	case parser.OpConcat:
		if l.IsNull() || r.IsNull() {
			return record.Null(), nil
		}
		return record.Text(l.Text() + r.Text()), nil
	}
	return arith(x.Op, l, r), nil
}

// logical applies AND/OR with SQL three-valued logic.
func (ev *evaluator) logical(x *parser.BinaryExpr) (record.Value, error) {
	l, err := ev.eval(x.Left)
	if err != nil {
		return l, err
	}
	decided := x.Op == parser.OpOr // OR is decided by a true operand
	if !l.IsNull() && l.Truth() == decided {
		return record.Bool(decided), nil
	}
	r, err := ev.eval(x.Right)
	if err != nil {
		return r, err
	}
	if !r.IsNull() && r.Truth() == decided {
		return record.Bool(decided), nil
	}
	if l.IsNull() || r.IsNull() {
		return record.Null(), nil
	}
	return record.Bool(!decided), nil
}

func (ev *evaluator) compareOp(x *parser.BinaryExpr, l, r record.Value) record.Value {
	coll := ev.collation(x.Left, x.Right)
	l, r = ev.applyComparisonAffinity(x.Left, x.Right, l, r)
	switch x.Op {
	case parser.OpIs:
		return record.Bool(nullSafeEqual(l, r, coll))
	case parser.OpIsNot:
		return record.Bool(!nullSafeEqual(l, r, coll))
	}
	if l.IsNull() || r.IsNull() {
		return record.Null()
	}
	c := record.Compare(l, r, coll)
	switch x.Op {
	case parser.OpEq:
		return record.Bool(c == 0)
	case parser.OpNe:
		return record.Bool(c != 0)
	case parser.OpLt:
		return record.Bool(c < 0)
	case parser.OpLe:
		return record.Bool(c <= 0)
	case parser.OpGt:
		return record.Bool(c > 0)
	}
	return record.Bool(c >= 0)
}

func nullSafeEqual(l, r record.Value, coll *record.Collation) bool {
	if l.IsNull() || r.IsNull() {
		return l.IsNull() && r.IsNull()
	}
	return record.Compare(l, r, coll) == 0
}

// affinity returns the affinity an operand carries into a comparison.
// AffinityBlob stands for none.
func (ev *evaluator) affinity(x parser.Expression) record.Affinity {
	switch x := x.(type) {
	case *parser.ColumnExpr:
		sc, i, err := ev.resolve(x)
		if err != nil {
			return record.AffinityBlob
		}
		if i < 0 {
			return record.AffinityInteger
		}
		if i < len(sc.src.aff) {
			return sc.src.aff[i]
		}
	case *parser.CastExpr:
		return record.AffinityOf(x.Type)
	case *parser.CollateExpr:
		return ev.affinity(x.Expr)
	}
	return record.AffinityBlob
}

// applyComparisonAffinity converts the operands of a comparison: a numeric
// side makes the other side numeric, else a text side makes a side without
// affinity text.
func (ev *evaluator) applyComparisonAffinity(lx, rx parser.Expression, l, r record.Value) (record.Value, record.Value) {
	la, ra := ev.affinity(lx), ev.affinity(rx)
	switch {
	case la.IsNumeric() && !ra.IsNumeric():
		r = record.AffinityNumeric.Apply(r)
	case ra.IsNumeric() && !la.IsNumeric():
		l = record.AffinityNumeric.Apply(l)
	case la == record.AffinityText && ra == record.AffinityBlob:
		r = record.AffinityText.Apply(r)
	case ra == record.AffinityText && la == record.AffinityBlob:
		l = record.AffinityText.Apply(l)
	}
	return l, r
}

// collation picks the collating sequence of a comparison: an explicit
// COLLATE on either side, else the left then the right column's.
func (ev *evaluator) collation(l, r parser.Expression) *record.Collation {
	name, explicit := ev.exprCollation(l)
	if !explicit {
		if rn, rexplicit := ev.exprCollation(r); rexplicit || name == "" {
			name = rn
		}
	}
	c, ok := record.LookupCollation(name)
	if !ok {
		return record.Binary
	}
	return c
}

func (ev *evaluator) exprCollation(x parser.Expression) (string, bool) {
	switch x := x.(type) {
	case *parser.CollateExpr:
		return x.Collation, true
	case *parser.ColumnExpr:
		sc, i, err := ev.resolve(x)
		if err == nil && i >= 0 && i < len(sc.src.coll) {
			return sc.src.coll[i], false
		}
	}
	return "", false
}

// arith applies an arithmetic or bitwise operator. Integer overflow moves
// the result to floating point; division by zero gives NULL.
func arith(op parser.BinaryOp, l, r record.Value) record.Value {
	if l.IsNull() || r.IsNull() {
		return record.Null()
	}
	l, r = l.Numeric(), r.Numeric()

	switch op {
	case parser.OpBitAnd:
		return record.Int(l.Int64() & r.Int64())
	case parser.OpBitOr:
		return record.Int(l.Int64() | r.Int64())
	case parser.OpLShift:
		return record.Int(shift(l.Int64(), r.Int64()))
	case parser.OpRShift:
		return record.Int(shift(l.Int64(), -r.Int64()))
	}

	if l.Type() == record.TypeInteger && r.Type() == record.TypeInteger {
		a, b := l.Int64(), r.Int64()
		switch op {
		case parser.OpPlus:
			if s := a + b; (s > a) == (b > 0) {
				return record.Int(s)
			}
		case parser.OpMinus:
			if d := a - b; (d < a) == (b > 0) {
				return record.Int(d)
			}
		case parser.OpMul:
			if a == 0 || b == 0 {
				return record.Int(0)
			}
			if p := a * b; p/b == a && !(a == -1 && b == math.MinInt64) && !(b == -1 && a == math.MinInt64) {
				return record.Int(p)
			}
		case parser.OpDiv:
			if b == 0 {
				return record.Null()
			}
			if !(a == math.MinInt64 && b == -1) {
				return record.Int(a / b)
			}
		case parser.OpRem:
			if b == 0 {
				return record.Null()
			}
			if b == -1 {
				return record.Int(0)
			}
			return record.Int(a % b)
		}
	}

	a, b := l.Float64(), r.Float64()
	switch op {
	case parser.OpPlus:
		return record.Float(a + b)
	case parser.OpMinus:
		return record.Float(a - b)
	case parser.OpMul:
		return record.Float(a * b)
	case parser.OpDiv:
		if b == 0 {
			return record.Null()
		}
		return record.Float(a / b)
	case parser.OpRem:
		ia, ib := l.Int64(), r.Int64()
		if ib == 0 {
			return record.Null()
		}
		if ib == -1 {
			return record.Float(0)
		}
		return record.Float(float64(ia % ib))
	}
	return record.Null()
}

// shift moves a left by n bits, right for negative n.
func shift(a, n int64) int64 {
	switch {
	case n >= 64:
		return 0
	case n <= -64:
		if a < 0 {
			return -1
		}
		return 0
	case n >= 0:
		return a << uint(n)
	}
	return a >> uint(-n)
}

func (ev *evaluator) like(x *parser.LikeExpr) (record.Value, error) {
	v, err := ev.eval(x.Expr)
	if err != nil {
		return v, err
	}
	p, err := ev.eval(x.Pattern)
	if err != nil {
		return p, err
	}
	if v.IsNull() || p.IsNull() {
		return record.Null(), nil
	}
	var matched bool
	if x.Glob {
		matched = functions.Glob(p.Text(), v.Text())
	} else {
		var esc rune
		if x.Escape != nil {
			e, err := ev.eval(x.Escape)
			if err != nil {
				return e, err
			}
			runes := []rune(e.Text())
			if len(runes) != 1 {
				return record.Null(), errs.New(errs.ERROR, "ESCAPE expression must be a single character")
			}
			esc = runes[0]
		}
		matched = functions.Like(p.Text(), v.Text(), esc)
	}
	return record.Bool(matched != x.Not), nil
}

func (ev *evaluator) between(x *parser.BetweenExpr) (record.Value, error) {
	lo := &parser.BinaryExpr{Op: parser.OpGe, Left: x.Expr, Right: x.Lower}
	hi := &parser.BinaryExpr{Op: parser.OpLe, Left: x.Expr, Right: x.Upper}
	v, err := ev.logical(&parser.BinaryExpr{Op: parser.OpAnd, Left: lo, Right: hi})
	if err != nil || v.IsNull() || !x.Not {
		return v, err
	}
	return record.Bool(!v.Truth()), nil
}

func (ev *evaluator) in(x *parser.InExpr) (record.Value, error) {
	v, err := ev.eval(x.Expr)
	if err != nil {
		return v, err
	}
	var candidates []record.Value
	if x.Select != nil {
		rows, err := ev.subquery(x.Select, 0)
		if err != nil {
			return record.Null(), err
		}
		for _, r := range rows {
			candidates = append(candidates, r[0])
		}
	} else {
		for _, item := range x.Values {
			c, err := ev.eval(item)
			if err != nil {
				return c, err
			}
			candidates = append(candidates, c)
		}
	}
	if len(candidates) == 0 {
		return record.Bool(x.Not), nil
	}
	if v.IsNull() {
		return record.Null(), nil
	}
	coll := ev.collation(x.Expr, nil)
	aff := ev.affinity(x.Expr)
	sawNull := false
	for _, c := range candidates {
		if c.IsNull() {
			sawNull = true
			continue
		}
		if aff.IsNumeric() {
			c = record.AffinityNumeric.Apply(c)
		}
		if record.Compare(v, c, coll) == 0 {
			return record.Bool(!x.Not), nil
		}
	}
	if sawNull {
		return record.Null(), nil
	}
	return record.Bool(x.Not), nil
}

func (ev *evaluator) caseExpr(x *parser.CaseExpr) (record.Value, error) {
	var operand record.Value
	if x.Operand != nil {
		v, err := ev.eval(x.Operand)
		if err != nil {
			return v, err
		}
		operand = v
	}
	for _, w := range x.Whens {
		c, err := ev.eval(w.Cond)
		if err != nil {
			return c, err
		}
		hit := c.Truth()
		if x.Operand != nil {
			coll := ev.collation(x.Operand, w.Cond)
			hit = !operand.IsNull() && !c.IsNull() && record.Compare(operand, c, coll) == 0
		}
		if hit {
			return ev.eval(w.Result)
		}
	}
	return ev.eval(x.Else)
}

func (ev *evaluator) function(x *parser.FunctionExpr) (record.Value, error) {
	if v, ok := ev.aggs[x]; ok {
		return v, nil
	}
	nargs := len(x.Args)
	if _, ok := ev.e.funcs.Aggregate(x.Name, nargs); ok && (x.Star || x.Distinct || !isScalarOverload(ev.e.funcs, x.Name, nargs)) {
		return record.Null(), errs.Newf(errs.ERROR, "misuse of aggregate function %s()", x.Name)
	}
	if x.Distinct {
		return record.Null(), errs.Newf(errs.ERROR, "DISTINCT aggregates must have exactly one argument")
	}

	switch strings.ToLower(x.Name) {
	case "changes":
		if nargs == 0 {
			return record.Int(ev.e.changes), nil
		}
	case "total_changes":
		if nargs == 0 {
			return record.Int(ev.e.totalChanges), nil
		}
	case "last_insert_rowid":
		if nargs == 0 {
			return record.Int(ev.e.lastInsertRowid), nil
		}
	}

	fn, err := ev.e.funcs.Scalar(x.Name, nargs)
	if err != nil {
		return record.Null(), err
	}
	args := make([]record.Value, nargs)
	for i, a := range x.Args {
		if args[i], err = ev.eval(a); err != nil {
			return record.Null(), err
		}
	}
	return fn.Call(args)
}

func isScalarOverload(r *functions.Registry, name string, nargs int) bool {
	_, err := r.Scalar(name, nargs)
	return err == nil
}

// subquery runs a nested SELECT in the current scope and returns up to
// limit rows, all of them for limit 0. Every row has at least one column.
func (ev *evaluator) subquery(st *parser.SelectStmt, limit int) ([][]record.Value, error) {
	it, err := ev.e.querySelect(ev.s, st, ev.sc)
	if err != nil {
		return nil, err
	}
	defer it.close()
	var rows [][]record.Value
	for limit == 0 || len(rows) < limit {
		r, ok, err := it.next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		if len(r) == 0 {
			r = []record.Value{record.Null()}
		}
		rows = append(rows, r)
	}
	return rows, nil
}

// isAggregateCall reports whether x is a call to an aggregate.
func (e *Engine) isAggregateCall(x *parser.FunctionExpr) bool {
	nargs := len(x.Args)
	if _, ok := e.funcs.Aggregate(x.Name, nargs); !ok {
		return false
	}
	return x.Star || x.Distinct || !isScalarOverload(e.funcs, x.Name, nargs)
}

// aggregateCalls lists the aggregate calls in xs outside any subquery,
// without descending into the arguments of an aggregate.
func (e *Engine) aggregateCalls(xs ...parser.Expression) []*parser.FunctionExpr {
	var out []*parser.FunctionExpr
	for _, x := range xs {
		parser.Walk(x, func(n parser.Expression) bool {
			if f, ok := n.(*parser.FunctionExpr); ok && e.isAggregateCall(f) {
				out = append(out, f)
				return false
			}
			return true
		})
	}
	return out
}

// exprSQL renders an expression as SQL text.
func exprSQL(x parser.Expression) string {
	var b strings.Builder
	writeExpr(&b, x)
	return b.String()
}

var binaryOps = map[parser.BinaryOp]string{
	parser.OpOr: "OR", parser.OpAnd: "AND", parser.OpEq: "=", parser.OpNe: "<>",
	parser.OpIs: "IS", parser.OpIsNot: "IS NOT", parser.OpLt: "<", parser.OpLe: "<=",
	parser.OpGt: ">", parser.OpGe: ">=", parser.OpBitAnd: "&", parser.OpBitOr: "|",
	parser.OpLShift: "<<", parser.OpRShift: ">>", parser.OpPlus: "+", parser.OpMinus: "-",
	parser.OpMul: "*", parser.OpDiv: "/", parser.OpRem: "%", parser.OpConcat: "||",
}

func writeExpr(b *strings.Builder, x parser.Expression) {
	switch x := x.(type) {
	case nil:
		b.WriteString("NULL")
	case *parser.LiteralExpr:
		switch x.Kind {
		case parser.LiteralNull:
			b.WriteString("NULL")
		case parser.LiteralString:
			b.WriteString(record.Text(x.Value).Quote())
		case parser.LiteralBlob:
			b.WriteString("X'" + x.Value + "'")
		default:
			b.WriteString(x.Value)
		}
	case *parser.VariableExpr:
		b.WriteString(x.Name)
	case *parser.ColumnExpr:
		if x.Table != "" {
			b.WriteString(x.Table + ".")
		}
		b.WriteString(x.Column)
	case *parser.UnaryExpr:
		b.WriteString([...]string{"-", "+", "NOT ", "~"}[x.Op])
		writeExpr(b, x.Expr)
	case *parser.BinaryExpr:
		writeExpr(b, x.Left)
		b.WriteString(" " + binaryOps[x.Op] + " ")
		writeExpr(b, x.Right)
	case *parser.IsNullExpr:
		writeExpr(b, x.Expr)
		if x.Not {
			b.WriteString(" NOT NULL")
		} else {
			b.WriteString(" IS NULL")
		}
	case *parser.LikeExpr:
		writeExpr(b, x.Expr)
		if x.Not {
			b.WriteString(" NOT")
		}
		if x.Glob {
			b.WriteString(" GLOB ")
		} else {
			b.WriteString(" LIKE ")
		}
		writeExpr(b, x.Pattern)
		if x.Escape != nil {
			b.WriteString(" ESCAPE ")
			writeExpr(b, x.Escape)
		}
	case *parser.BetweenExpr:
		writeExpr(b, x.Expr)
		if x.Not {
			b.WriteString(" NOT")
		}
		b.WriteString(" BETWEEN ")
		writeExpr(b, x.Lower)
		b.WriteString(" AND ")
		writeExpr(b, x.Upper)
	case *parser.InExpr:
		writeExpr(b, x.Expr)
		if x.Not {
			b.WriteString(" NOT")
		}
		b.WriteString(" IN (")
		if x.Select != nil {
			b.WriteString("SELECT ...")
		}
		for i, v := range x.Values {
			if i > 0 {
				b.WriteString(", ")
			}
			writeExpr(b, v)
		}
		b.WriteString(")")
	case *parser.CaseExpr:
		b.WriteString("CASE")
		if x.Operand != nil {
			b.WriteString(" ")
			writeExpr(b, x.Operand)
		}
		for _, w := range x.Whens {
			b.WriteString(" WHEN ")
			writeExpr(b, w.Cond)
			b.WriteString(" THEN ")
			writeExpr(b, w.Result)
		}
		if x.Else != nil {
			b.WriteString(" ELSE ")
			writeExpr(b, x.Else)
		}
		b.WriteString(" END")
	case *parser.CastExpr:
		b.WriteString("CAST(")
		writeExpr(b, x.Expr)
		b.WriteString(" AS " + x.Type + ")")
	case *parser.CollateExpr:
		writeExpr(b, x.Expr)
		b.WriteString(" COLLATE " + x.Collation)
	case *parser.FunctionExpr:
		b.WriteString(x.Name + "(")
		if x.Distinct {
			b.WriteString("DISTINCT ")
		}
		if x.Star {
			b.WriteString("*")
		}
		for i, a := range x.Args {
			if i > 0 {
				b.WriteString(", ")
			}
			writeExpr(b, a)
		}
		b.WriteString(")")
	case *parser.SubqueryExpr:
		b.WriteString("(SELECT ...)")
	case *parser.ExistsExpr:
		if x.Not {
			b.WriteString("NOT ")
		}
		b.WriteString("EXISTS (SELECT ...)")
	}
}
