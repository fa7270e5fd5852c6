package engine

import (
	"sort"
	"strconv"
	"strings"

	"github.com/zhangyunhao116/skipmap"

	errs "github.com/FocuswithJustin/sqlcompact/core/errors"
	"github.com/FocuswithJustin/sqlcompact/core/sqlite/internal/btree"
	"github.com/FocuswithJustin/sqlcompact/core/sqlite/internal/functions"
	"github.com/FocuswithJustin/sqlcompact/core/sqlite/internal/parser"
	"github.com/FocuswithJustin/sqlcompact/core/sqlite/internal/record"
	"github.com/FocuswithJustin/sqlcompact/core/sqlite/internal/schema"
)

// selectPlan is a SELECT with its source resolved and its result columns
// expanded.
type selectPlan struct {
	st    *parser.SelectStmt
	src   *source
	inner *parser.SelectStmt // body of a view or FROM subquery

	cols   []parser.Expression
	direct []int // source column copied by a * expansion, or -1
	names  []string

	order   []orderKey
	aggs    []*parser.FunctionExpr
	grouped bool
}

// orderKey is one ORDER BY term. pos is the result column it names, or -1
// when expr is evaluated against the row.
type orderKey struct {
	expr parser.Expression
	pos  int
	desc bool
}

// planSelect resolves the source and result columns of st. References to
// columns are checked against the source and the enclosing scopes.
func (e *Engine) planSelect(st *parser.SelectStmt, outer *scope) (*selectPlan, error) {
	p := &selectPlan{st: st}
	if st.From != nil {
		if err := e.planSource(p, st.From); err != nil {
			return nil, err
		}
	}

	for _, rc := range st.Columns {
		if rc.Star {
			if p.src == nil {
				return nil, errs.New(errs.ERROR, "no tables specified")
			}
			if !p.src.matches(rc.Table) {
				return nil, errs.Newf(errs.ERROR, "no such table: %s", rc.Table)
			}
			for i, c := range p.src.columns {
				p.cols = append(p.cols, &parser.ColumnExpr{Table: p.src.name, Column: c})
				p.direct = append(p.direct, i)
				p.names = append(p.names, c)
			}
			continue
		}
		p.cols = append(p.cols, rc.Expr)
		p.direct = append(p.direct, -1)
		p.names = append(p.names, resultName(rc))
	}

	if err := p.planOrder(); err != nil {
		return nil, err
	}

	orderExprs := make([]parser.Expression, 0, len(p.order))
	for _, k := range p.order {
		orderExprs = append(orderExprs, k.expr)
	}
	p.aggs = e.aggregateCalls(append(append(append([]parser.Expression(nil), p.cols...), st.Having), orderExprs...)...)
	p.grouped = len(p.aggs) > 0 || len(st.GroupBy) > 0
	if st.Having != nil && !p.grouped {
		return nil, errs.New(errs.ERROR, "a GROUP BY clause is required before HAVING")
	}
	if calls := e.aggregateCalls(st.Where); len(calls) > 0 {
		return nil, errs.Newf(errs.ERROR, "misuse of aggregate: %s()", calls[0].Name)
	}

	ev := e.evaluator(&scope{src: p.src, outer: outer})
	check := append(append([]parser.Expression{st.Where, st.Having}, p.cols...), st.GroupBy...)
	check = append(check, orderExprs...)
	for _, x := range check {
		if err := checkColumns(ev, x); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// resultName is the column name SQLite reports for a result column.
func resultName(rc parser.ResultColumn) string {
	if rc.Alias != "" {
		return rc.Alias
	}
	if c, ok := rc.Expr.(*parser.ColumnExpr); ok {
		return c.Column
	}
	if rc.Text != "" {
		return rc.Text
	}
	return exprSQL(rc.Expr)
}

// planOrder resolves ORDER BY terms that name a result column by position
// or alias.
func (p *selectPlan) planOrder() error {
	for i, term := range p.st.OrderBy {
		k := orderKey{expr: term.Expr, pos: -1, desc: term.Desc}
		switch x := term.Expr.(type) {
		case *parser.LiteralExpr:
			if x.Kind == parser.LiteralInteger {
				n, err := literal(x)
				if err != nil {
					return err
				}
				if n.Int64() < 1 || n.Int64() > int64(len(p.cols)) {
					return errs.Newf(errs.ERROR, "%s ORDER BY term out of range - should be between 1 and %d", ordinal(i+1), len(p.cols))
				}
				k.pos = int(n.Int64()) - 1
				k.expr = nil
			}
		case *parser.ColumnExpr:
			if x.Table != "" {
				break
			}
			for j, rc := range p.st.Columns {
				if rc.Alias != "" && strings.EqualFold(rc.Alias, x.Column) {
					k.pos = p.resultIndex(j)
					k.expr = nil
					break
				}
			}
		}
		p.order = append(p.order, k)
	}
	return nil
}

// resultIndex maps a SELECT list entry to its result column. Entries before
// it may have expanded into several columns.
func (p *selectPlan) resultIndex(entry int) int {
	n := 0
	for j := 0; j < entry; j++ {
		if p.st.Columns[j].Star {
			n += len(p.src.columns)
		} else {
			n++
		}
	}
	return n
}

func ordinal(n int) string {
	switch n {
	case 1:
		return "1st"
	case 2:
		return "2nd"
	case 3:
		return "3rd"
	}
	return strconv.Itoa(n) + "th"
}

// checkColumns reports the first column reference in x that resolves to
// nothing. Subqueries are checked when they run.
func checkColumns(ev *evaluator, x parser.Expression) error {
	var err error
	parser.Walk(x, func(n parser.Expression) bool {
		if c, ok := n.(*parser.ColumnExpr); ok {
			_, _, err = ev.resolve(c)
		}
		return err == nil
	})
	return err
}

func (e *Engine) planSource(p *selectPlan, ref *parser.TableRef) error {
	if ref.Subquery != nil {
		sub, err := e.planSelect(ref.Subquery, nil)
		if err != nil {
			return err
		}
		p.inner = ref.Subquery
		p.src = derivedSource(ref.Alias, sub.names)
		return nil
	}

	db, t, err := e.findTable(ref.Schema, ref.Name)
	if err != nil {
		v, verr := e.findView(ref.Schema, ref.Name)
		if verr != nil {
			return err
		}
		sub, err := e.planSelect(v.Select, nil)
		if err != nil {
			return err
		}
		names := sub.names
		if len(v.Columns) > 0 {
			if len(v.Columns) != len(sub.names) {
				return errs.Newf(errs.ERROR, "expected %d columns for '%s' but got %d", len(v.Columns), v.Name, len(sub.names))
			}
			names = v.Columns
		}
		p.inner = v.Select
		p.src = derivedSource(firstNonEmpty(ref.Alias, v.Name), names)
		return nil
	}
	if err := usableTable(t); err != nil {
		return err
	}
	p.src = tableSource(db, t, ref.Alias)
	return nil
}

// usableTable rejects tables the engine stores but cannot read.
func usableTable(t *schema.Table) error {
	switch {
	case t.Virtual:
		return errs.Newf(errs.ERROR, "no such module: %s", t.Module)
	case t.WithoutRowID:
		return errs.NewUnsupported("WITHOUT ROWID table "+t.Name, "rowid tables only")
	}
	return nil
}

func tableSource(db *Database, t *schema.Table, alias string) *source {
	src := &source{name: firstNonEmpty(alias, t.Name), table: t, db: db}
	for _, c := range t.Columns {
		src.columns = append(src.columns, c.Name)
		src.aff = append(src.aff, c.Affinity)
		src.coll = append(src.coll, c.Collation)
	}
	return src
}

func derivedSource(name string, columns []string) *source {
	return &source{
		name:    name,
		columns: columns,
		aff:     make([]record.Affinity, len(columns)),
		coll:    make([]string, len(columns)),
	}
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// rowSource produces the rows of a FROM clause.
type rowSource interface {
	next() (*row, bool, error)
	close()
}

// singleRow is the one empty row of a SELECT without FROM.
type singleRow struct{ done bool }

func (s *singleRow) next() (*row, bool, error) {
	if s.done {
		return nil, false, nil
	}
	s.done = true
	return &row{}, true, nil
}

func (s *singleRow) close() {}

// tableScan walks a table b-tree in rowid order.
type tableScan struct {
	c       *btree.BtCursor
	t       *schema.Table
	started bool

	// only, when set, restricts the scan to one rowid.
	only    *int64
	skipAll bool
}

func (ts *tableScan) next() (*row, bool, error) {
	if ts.skipAll {
		return nil, false, nil
	}
	var ok bool
	var err error
	switch {
	case ts.only != nil && !ts.started:
		ok, err = ts.c.SeekRowid(*ts.only)
	case ts.only != nil:
		ok = false
	case !ts.started:
		ok, err = ts.c.First()
	default:
		ok, err = ts.c.Next()
	}
	ts.started = true
	if err != nil || !ok {
		return nil, false, err
	}
	payload, err := ts.c.Payload()
	if err != nil {
		return nil, false, err
	}
	vals, err := record.Decode(payload)
	if err != nil {
		return nil, false, err
	}
	rowid := ts.c.Key()
	return &row{rowid: rowid, vals: fitRow(vals, ts.t, rowid)}, true, nil
}

func (ts *tableScan) close() {}

// fitRow pads or trims a stored record to the table's columns and fills in
// the rowid alias, which is stored as NULL.
func fitRow(vals []record.Value, t *schema.Table, rowid int64) []record.Value {
	out := make([]record.Value, len(t.Columns))
	copy(out, vals)
	if t.RowidAlias >= 0 {
		out[t.RowidAlias] = record.Int(rowid)
	}
	return out
}

// derivedScan numbers the rows of a view or subquery.
type derivedScan struct {
	it rowIter
	n  int64
}

func (d *derivedScan) next() (*row, bool, error) {
	vals, ok, err := d.it.next()
	if err != nil || !ok {
		return nil, false, err
	}
	d.n++
	return &row{rowid: d.n, vals: vals}, true, nil
}

func (d *derivedScan) close() { d.it.close() }

// openSource starts reading the rows of p's source.
func (e *Engine) openSource(s *Stmt, p *selectPlan, outer *scope) (rowSource, error) {
	switch {
	case p.src == nil:
		return &singleRow{}, nil
	case p.inner != nil:
		it, err := e.querySelect(s, p.inner, nil)
		if err != nil {
			return nil, err
		}
		return &derivedScan{it: it}, nil
	}
	return e.scanTable(s, p.src, p.st.Where, outer)
}

// scanTable opens a scan of a table source. A WHERE clause that pins the
// rowid to a constant turns the scan into a single seek.
func (e *Engine) scanTable(s *Stmt, src *source, where parser.Expression, outer *scope) (*tableScan, error) {
	t := src.table
	ts := &tableScan{c: src.db.bt.NewCursor(t.RootPage, nil), t: t}
	if src.db.pager.PageCount() == 0 {
		ts.skipAll = true
		return ts, nil
	}
	if x := rowidTerm(src, where); x != nil {
		ev := &evaluator{e: e, s: s, sc: outer}
		v, err := ev.eval(x)
		if err != nil {
			return nil, err
		}
		v = record.AffinityNumeric.Apply(v)
		if v.Type() != record.TypeInteger {
			ts.skipAll = true
			return ts, nil
		}
		id := v.Int64()
		ts.only = &id
	}
	return ts, nil
}

// rowidTerm returns the constant side of "rowid = constant" when that is the
// whole WHERE clause.
func rowidTerm(src *source, where parser.Expression) parser.Expression {
	b, ok := where.(*parser.BinaryExpr)
	if !ok || b.Op != parser.OpEq {
		return nil
	}
	isRowid := func(x parser.Expression) bool {
		c, ok := x.(*parser.ColumnExpr)
		if !ok || !src.matches(c.Table) {
			return false
		}
		i, ok := src.column(c.Column)
		return ok && (i < 0 || i == src.table.RowidAlias)
	}
	isConst := func(x parser.Expression) bool {
		switch x.(type) {
		case *parser.LiteralExpr, *parser.VariableExpr:
			return true
		}
		return false
	}
	switch {
	case isRowid(b.Left) && isConst(b.Right):
		return b.Right
	case isRowid(b.Right) && isConst(b.Left):
		return b.Left
	}
	return nil
}

func (e *Engine) execSelect(s *Stmt, st *parser.SelectStmt) (rowIter, error) {
	return e.querySelect(s, st, nil)
}

// querySelect runs a SELECT. Plain queries stream; ordered, grouped and
// aggregate queries are computed in full first.
func (e *Engine) querySelect(s *Stmt, st *parser.SelectStmt, outer *scope) (rowIter, error) {
	p, err := e.planSelect(st, outer)
	if err != nil {
		return nil, err
	}
	limit, offset, err := e.limits(s, st, outer)
	if err != nil {
		return nil, err
	}
	in, err := e.openSource(s, p, outer)
	if err != nil {
		return nil, err
	}
	sc := &scope{src: p.src, outer: outer}
	ev := &evaluator{e: e, s: s, sc: sc}

	if !p.grouped && len(p.order) == 0 {
		it := &selectIter{p: p, in: in, sc: sc, ev: ev, limit: limit, offset: offset}
		if st.Distinct {
			it.seen = make(map[string]bool)
		}
		return it, nil
	}

	defer in.close()
	var rows []sortedRow
	if p.grouped {
		rows, err = e.groupRows(p, in, sc, ev)
	} else {
		rows, err = e.collectRows(p, in, sc, ev)
	}
	if err != nil {
		return nil, err
	}
	p.sort(rows, ev)

	out := &sliceIter{}
	var seen map[string]bool
	if st.Distinct {
		seen = make(map[string]bool)
	}
	for _, r := range rows {
		if seen != nil {
			k := string(record.Encode(r.vals))
			if seen[k] {
				continue
			}
			seen[k] = true
		}
		if offset > 0 {
			offset--
			continue
		}
		if limit >= 0 && int64(len(out.rows)) >= limit {
			break
		}
		out.rows = append(out.rows, r.vals)
	}
	return out, nil
}

// limits evaluates LIMIT and OFFSET. A negative limit means none.
func (e *Engine) limits(s *Stmt, st *parser.SelectStmt, outer *scope) (limit, offset int64, err error) {
	ev := &evaluator{e: e, s: s, sc: outer}
	limit = -1
	if st.Limit != nil {
		v, err := ev.eval(st.Limit)
		if err != nil {
			return 0, 0, err
		}
		if v = record.AffinityInteger.Apply(v); v.Type() != record.TypeInteger {
			return 0, 0, errs.New(errs.MISMATCH, "datatype mismatch")
		}
		limit = v.Int64()
	}
	if st.Offset != nil {
		v, err := ev.eval(st.Offset)
		if err != nil {
			return 0, 0, err
		}
		if v = record.AffinityInteger.Apply(v); v.Type() != record.TypeInteger {
			return 0, 0, errs.New(errs.MISMATCH, "datatype mismatch")
		}
		offset = max(v.Int64(), 0)
	}
	return limit, offset, nil
}

// project computes the result columns for the row bound in ev.
func (p *selectPlan) project(ev *evaluator, r *row) ([]record.Value, error) {
	out := make([]record.Value, len(p.cols))
	for i, x := range p.cols {
		if d := p.direct[i]; d >= 0 && r != nil && d < len(r.vals) {
			out[i] = r.vals[d]
			continue
		}
		v, err := ev.eval(x)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// selectIter streams the rows of a query without ORDER BY or aggregates.
type selectIter struct {
	p  *selectPlan
	in rowSource
	sc *scope
	ev *evaluator

	seen          map[string]bool
	limit, offset int64
	emitted       int64
}

func (it *selectIter) next() ([]record.Value, bool, error) {
	for {
		if it.limit >= 0 && it.emitted >= it.limit {
			return nil, false, nil
		}
		r, ok, err := it.in.next()
		if err != nil || !ok {
			return nil, false, err
		}
		it.sc.row = r
		keep, err := it.ev.truth(it.p.st.Where)
		if err != nil {
			return nil, false, err
		}
		if !keep {
			continue
		}
		out, err := it.p.project(it.ev, r)
		if err != nil {
			return nil, false, err
		}
		if it.seen != nil {
			k := string(record.Encode(out))
			if it.seen[k] {
				continue
			}
			it.seen[k] = true
		}
		if it.offset > 0 {
			it.offset--
			continue
		}
		it.emitted++
		return out, true, nil
	}
}

func (it *selectIter) close() { it.in.close() }

// sortedRow is a result row with its ORDER BY keys.
type sortedRow struct {
	vals []record.Value
	keys []record.Value
}

func (p *selectPlan) orderValues(ev *evaluator, out []record.Value) ([]record.Value, error) {
	if len(p.order) == 0 {
		return nil, nil
	}
	keys := make([]record.Value, len(p.order))
	for i, k := range p.order {
		if k.pos >= 0 {
			keys[i] = out[k.pos]
			continue
		}
		v, err := ev.eval(k.expr)
		if err != nil {
			return nil, err
		}
		keys[i] = v
	}
	return keys, nil
}

func (e *Engine) collectRows(p *selectPlan, in rowSource, sc *scope, ev *evaluator) ([]sortedRow, error) {
	var rows []sortedRow
	for {
		r, ok, err := in.next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return rows, nil
		}
		sc.row = r
		keep, err := ev.truth(p.st.Where)
		if err != nil {
			return nil, err
		}
		if !keep {
			continue
		}
		out, err := p.project(ev, r)
		if err != nil {
			return nil, err
		}
		keys, err := p.orderValues(ev, out)
		if err != nil {
			return nil, err
		}
		rows = append(rows, sortedRow{vals: out, keys: keys})
	}
}

// sort orders rows by the ORDER BY keys, keeping the input order of ties.
func (p *selectPlan) sort(rows []sortedRow, ev *evaluator) {
	if len(p.order) == 0 {
		return
	}
	colls := make([]*record.Collation, len(p.order))
	for i, k := range p.order {
		x := k.expr
		if k.pos >= 0 {
			x = p.cols[k.pos]
		}
		name, _ := ev.exprCollation(x)
		colls[i], _ = record.LookupCollation(name)
	}
	sort.SliceStable(rows, func(a, b int) bool {
		for i, k := range p.order {
			c := record.Compare(rows[a].keys[i], rows[b].keys[i], colls[i])
			if c == 0 {
				continue
			}
			if k.desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

// group accumulates the rows of one GROUP BY key.
type group struct {
	last   *row
	states []functions.Aggregate
	seen   []map[string]bool
}

// groupRows folds the input into groups ordered by their key and returns one
// result row per group that passes HAVING.
func (e *Engine) groupRows(p *selectPlan, in rowSource, sc *scope, ev *evaluator) ([]sortedRow, error) {
	order := record.KeyOrder{Collations: make([]*record.Collation, len(p.st.GroupBy))}
	for i, x := range p.st.GroupBy {
		name, _ := ev.exprCollation(x)
		order.Collations[i], _ = record.LookupCollation(name)
	}
	groups := skipmap.NewFunc[string, *group](func(a, b string) bool {
		return order.Compare([]byte(a), []byte(b)) < 0
	})

	newGroup := func() (*group, error) {
		g := &group{states: make([]functions.Aggregate, len(p.aggs)), seen: make([]map[string]bool, len(p.aggs))}
		for i, f := range p.aggs {
			fn, ok := e.funcs.Aggregate(f.Name, len(f.Args))
			if !ok {
				return nil, errs.Newf(errs.ERROR, "no such function: %s", f.Name)
			}
			g.states[i] = fn.New()
			if f.Distinct {
				if len(f.Args) != 1 {
					return nil, errs.New(errs.ERROR, "DISTINCT aggregates must have exactly one argument")
				}
				g.seen[i] = make(map[string]bool)
			}
		}
		return g, nil
	}

	for {
		r, ok, err := in.next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		sc.row = r
		keep, err := ev.truth(p.st.Where)
		if err != nil {
			return nil, err
		}
		if !keep {
			continue
		}
		keyVals := make([]record.Value, len(p.st.GroupBy))
		for i, x := range p.st.GroupBy {
			if keyVals[i], err = ev.eval(x); err != nil {
				return nil, err
			}
		}
		key := string(record.Encode(keyVals))
		g, ok := groups.Load(key)
		if !ok {
			if g, err = newGroup(); err != nil {
				return nil, err
			}
			groups.Store(key, g)
		}
		if err := e.stepAggregates(p, g, ev); err != nil {
			return nil, err
		}
		g.last = r
	}

	if groups.Len() == 0 && len(p.st.GroupBy) == 0 {
		g, err := newGroup()
		if err != nil {
			return nil, err
		}
		groups.Store("", g)
	}

	var rows []sortedRow
	var ferr error
	groups.Range(func(_ string, g *group) bool {
		aggs := make(map[*parser.FunctionExpr]record.Value, len(p.aggs))
		for i, f := range p.aggs {
			v, err := g.states[i].Final()
			if err != nil {
				ferr = err
				return false
			}
			aggs[f] = v
		}
		sc.row = g.last
		gev := &evaluator{e: ev.e, s: ev.s, sc: sc, aggs: aggs}
		keep, err := gev.truth(p.st.Having)
		if err != nil {
			ferr = err
			return false
		}
		if !keep {
			return true
		}
		out, err := p.project(gev, g.last)
		if err != nil {
			ferr = err
			return false
		}
		keys, err := p.orderValues(gev, out)
		if err != nil {
			ferr = err
			return false
		}
		rows = append(rows, sortedRow{vals: out, keys: keys})
		return true
	})
	return rows, ferr
}

func (e *Engine) stepAggregates(p *selectPlan, g *group, ev *evaluator) error {
	for i, f := range p.aggs {
		args := make([]record.Value, len(f.Args))
		for j, a := range f.Args {
			v, err := ev.eval(a)
			if err != nil {
				return err
			}
			args[j] = v
		}
		if g.seen[i] != nil {
			if args[0].IsNull() {
				continue
			}
			k := string(record.Encode(args))
			if g.seen[i][k] {
				continue
			}
			g.seen[i][k] = true
		}
		if err := g.states[i].Step(args); err != nil {
			return err
		}
	}
	return nil
}
