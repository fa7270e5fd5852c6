package engine

import (
	"strings"

	errs "github.com/FocuswithJustin/sqlcompact/core/errors"
	"github.com/FocuswithJustin/sqlcompact/core/sqlite/internal/parser"
	"github.com/FocuswithJustin/sqlcompact/core/sqlite/internal/record"
)

// Stmt is a prepared statement. Statements that return no rows run to
// completion on the first Step. Queries produce their rows one Step at a
// time; those with ORDER BY, GROUP BY or aggregates compute every row on the
// first Step.
type Stmt struct {
	e       *Engine
	sql     string
	ast     parser.Statement
	nparams int
	args    []record.Value

	iter    rowIter
	row     []record.Value
	columns []string
	started bool
	done    bool
	active  bool
	closed  bool

	written []*Database
	changes int64
}

// rowIter produces the rows of a statement.
type rowIter interface {
	next() ([]record.Value, bool, error)
	close()
}

// sliceIter returns rows computed in advance.
type sliceIter struct {
	rows [][]record.Value
	pos  int
}

func (it *sliceIter) next() ([]record.Value, bool, error) {
	if it.pos >= len(it.rows) {
		return nil, false, nil
	}
	it.pos++
	return it.rows[it.pos-1], true, nil
}

func (it *sliceIter) close() {}

// Prepare compiles a single SQL statement.
func (e *Engine) Prepare(sql string) (*Stmt, error) {
	if e.closed {
		return nil, errClosed
	}
	p := parser.NewParser(sql)
	stmts, err := p.Parse()
	if err != nil {
		return nil, err
	}
	switch len(stmts) {
	case 0:
		return nil, errs.New(errs.MISUSE, "no statement to prepare")
	case 1:
	default:
		return nil, errs.New(errs.ERROR, "cannot prepare more than one statement")
	}
	s := &Stmt{e: e, sql: sql, ast: stmts[0], nparams: p.ParamCount()}
	s.args = make([]record.Value, s.nparams)
	err = s.describe()
	if e.autoCommit && e.active == 0 {
		e.endReads()
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// describe resolves the result columns so they are known before the first
// Step.
func (s *Stmt) describe() error {
	switch st := s.ast.(type) {
	case *parser.SelectStmt:
		plan, err := s.e.planSelect(st, nil)
		if err != nil {
			return err
		}
		s.columns = plan.names
	case *parser.PragmaStmt:
		s.columns = pragmaColumns(st)
	}
	return nil
}

// SQL returns the text the statement was prepared from.
func (s *Stmt) SQL() string { return s.sql }

// ParamCount returns the number of parameters the statement takes.
func (s *Stmt) ParamCount() int { return s.nparams }

// ParamIndex returns the 1-based index of the named parameter, or 0. The
// name includes its prefix character.
func (s *Stmt) ParamIndex(name string) int {
	idx := 0
	walkStatement(s.ast, func(x parser.Expression) {
		if v, ok := x.(*parser.VariableExpr); ok && v.Name == name && idx == 0 {
			idx = v.Index
		}
	})
	return idx
}

// Bind sets parameter i, counting from 1.
func (s *Stmt) Bind(i int, v record.Value) error {
	if i < 1 || i > s.nparams {
		return errs.Newf(errs.RANGE, "bind index %d out of range (1..%d)", i, s.nparams)
	}
	s.args[i-1] = v
	return nil
}

// BindAll binds Go values to the parameters in order.
func (s *Stmt) BindAll(args ...any) error {
	if len(args) > s.nparams {
		return errs.Newf(errs.RANGE, "%d arguments for %d parameters", len(args), s.nparams)
	}
	for i, a := range args {
		v, err := record.FromGo(a)
		if err != nil {
			return errs.WithCode(errs.MISMATCH, err)
		}
		s.args[i] = v
	}
	return nil
}

// ClearBindings sets every parameter back to NULL.
func (s *Stmt) ClearBindings() {
	clear(s.args)
}

// ReadOnly reports whether the statement leaves the database unchanged.
func (s *Stmt) ReadOnly() bool {
	switch st := s.ast.(type) {
	case *parser.SelectStmt:
		return true
	case *parser.PragmaStmt:
		return !st.HasValue
	}
	return false
}

// ColumnCount returns the number of result columns.
func (s *Stmt) ColumnCount() int { return len(s.columns) }

// ColumnNames returns the result column names.
func (s *Stmt) ColumnNames() []string { return s.columns }

// ColumnName returns the name of result column i.
func (s *Stmt) ColumnName(i int) string {
	if i < 0 || i >= len(s.columns) {
		return ""
	}
	return s.columns[i]
}

// Column returns column i of the current row.
func (s *Stmt) Column(i int) record.Value {
	if i < 0 || i >= len(s.row) {
		return record.Null()
	}
	return s.row[i]
}

// ColumnText returns column i of the current row as text.
func (s *Stmt) ColumnText(i int) string {
	return s.Column(i).Text()
}

// Row returns the current row.
func (s *Stmt) Row() []record.Value { return s.row }

// RowsAffected returns the rows the statement inserted, updated or deleted.
func (s *Stmt) RowsAffected() int64 { return s.changes }

// Step runs the statement up to its next row. It reports false once the
// statement is complete.
func (s *Stmt) Step() (bool, error) {
	if s.closed {
		return false, errs.New(errs.MISUSE, "statement is closed")
	}
	if s.e.closed {
		return false, errClosed
	}
	if s.done {
		return false, nil
	}
	if !s.started {
		s.started = true
		s.changes = 0
		iter, err := s.exec()
		if err != nil {
			return false, s.complete(err)
		}
		if iter == nil {
			return false, s.complete(nil)
		}
		s.iter = iter
		s.active = true
		s.e.active++
	}
	row, ok, err := s.iter.next()
	if err != nil || !ok {
		return false, s.complete(err)
	}
	s.row = row
	return true, nil
}

// complete finishes the statement and settles its transaction.
func (s *Stmt) complete(err error) error {
	if s.iter != nil {
		s.iter.close()
		s.iter = nil
	}
	if s.active {
		s.active = false
		s.e.active--
	}
	s.done = true
	s.row = nil
	return s.e.endStatement(s, err)
}

// Reset returns the statement to its initial state, keeping the bindings.
func (s *Stmt) Reset() error {
	var err error
	if s.started && !s.done {
		err = s.complete(nil)
	}
	s.started, s.done = false, false
	s.row = nil
	return err
}

// Finalize releases the statement.
func (s *Stmt) Finalize() error {
	if s.closed {
		return nil
	}
	err := s.Reset()
	s.closed = true
	return err
}

// Close is Finalize.
func (s *Stmt) Close() error { return s.Finalize() }

// exec runs the statement. Queries return an iterator; everything else
// runs to completion and returns nil.
func (s *Stmt) exec() (rowIter, error) {
	e := s.e
	switch st := s.ast.(type) {
	case *parser.SelectStmt:
		return e.execSelect(s, st)
	case *parser.InsertStmt:
		return nil, s.recordChanges(e.execInsert(s, st))
	case *parser.UpdateStmt:
		return nil, s.recordChanges(e.execUpdate(s, st))
	case *parser.DeleteStmt:
		return nil, s.recordChanges(e.execDelete(s, st))
	case *parser.CreateTableStmt:
		return nil, e.createTable(s, st)
	case *parser.CreateIndexStmt:
		return nil, e.createIndex(s, st)
	case *parser.CreateViewStmt:
		return nil, e.createView(s, st)
	case *parser.CreateTriggerStmt:
		return nil, e.createTrigger(s, st)
	case *parser.CreateVirtualTableStmt:
		return nil, e.createVirtualTable(s, st)
	case *parser.DropStmt:
		return nil, e.drop(s, st)
	case *parser.AttachStmt:
		return nil, e.execAttach(s, st)
	case *parser.DetachStmt:
		return nil, e.detach(st.Schema)
	case *parser.BeginStmt:
		return nil, e.begin(st.Mode)
	case *parser.CommitStmt:
		return nil, e.commit()
	case *parser.RollbackStmt:
		return nil, e.rollback()
	case *parser.PragmaStmt:
		return e.execPragma(s, st)
	case *parser.VacuumStmt:
		return nil, e.execVacuum(s, st)
	}
	return nil, errs.NewUnsupported("statement", "not executable")
}

// recordChanges publishes the statement's row count to the connection.
func (s *Stmt) recordChanges(err error) error {
	if err != nil {
		return err
	}
	s.e.changes = s.changes
	s.e.totalChanges += s.changes
	return nil
}

func (e *Engine) execAttach(s *Stmt, st *parser.AttachStmt) error {
	ev := s.evaluator(nil)
	file, err := ev.eval(st.File)
	if err != nil {
		return err
	}
	var key *string
	if st.Key != nil {
		k, err := ev.eval(st.Key)
		if err != nil {
			return err
		}
		text := k.Text()
		key = &text
	}
	return e.attach(file.Text(), st.Schema, key)
}

// walkStatement calls fn for every expression of a statement, descending
// into subqueries.
func walkStatement(stmt parser.Statement, fn func(parser.Expression)) {
	var expr func(parser.Expression)
	var sel func(*parser.SelectStmt)
	expr = func(x parser.Expression) {
		parser.Walk(x, func(x parser.Expression) bool {
			fn(x)
			switch q := x.(type) {
			case *parser.SubqueryExpr:
				sel(q.Select)
			case *parser.ExistsExpr:
				sel(q.Select)
			case *parser.InExpr:
				if q.Select != nil {
					sel(q.Select)
				}
			}
			return true
		})
	}
	sel = func(q *parser.SelectStmt) {
		if q == nil {
			return
		}
		for _, c := range q.Columns {
			expr(c.Expr)
		}
		if q.From != nil {
			sel(q.From.Subquery)
		}
		expr(q.Where)
		for _, g := range q.GroupBy {
			expr(g)
		}
		expr(q.Having)
		for _, o := range q.OrderBy {
			expr(o.Expr)
		}
		expr(q.Limit)
		expr(q.Offset)
	}

	switch st := stmt.(type) {
	case *parser.SelectStmt:
		sel(st)
	case *parser.InsertStmt:
		for _, row := range st.Values {
			for _, x := range row {
				expr(x)
			}
		}
		sel(st.Select)
	case *parser.UpdateStmt:
		for _, a := range st.Sets {
			expr(a.Value)
		}
		expr(st.Where)
	case *parser.DeleteStmt:
		expr(st.Where)
	case *parser.AttachStmt:
		expr(st.File)
		expr(st.Key)
	case *parser.VacuumStmt:
		expr(st.Into)
	}
}

// splitName separates "schema.name" as written in some pragma arguments.
func splitName(s string) (string, string) {
	if i := strings.IndexByte(s, '.'); i > 0 {
		return s[:i], s[i+1:]
	}
	return "", s
}
