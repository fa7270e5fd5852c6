package engine

import (
	"math"
	"strings"

	errs "github.com/FocuswithJustin/sqlcompact/core/errors"
	"github.com/FocuswithJustin/sqlcompact/core/sqlite/internal/parser"
	"github.com/FocuswithJustin/sqlcompact/core/sqlite/internal/record"
	"github.com/FocuswithJustin/sqlcompact/core/sqlite/internal/schema"
)

// writableTable resolves the target of INSERT, UPDATE or DELETE and opens
// the statement's write transaction on its database.
func (e *Engine) writableTable(s *Stmt, schemaName, name string) (*Database, *schema.Table, error) {
	db, t, err := e.findTable(schemaName, name)
	if err != nil {
		return nil, nil, err
	}
	if schema.IsMasterName(t.Name) && !e.hasFlag(FlagWriteSchema) {
		return nil, nil, errs.Newf(errs.ERROR, "table %s may not be modified", t.Name)
	}
	if err := usableTable(t); err != nil {
		return nil, nil, err
	}
	if err := e.beginWrite(s, db); err != nil {
		return nil, nil, err
	}
	return db, t, nil
}

// catalogWritten marks db's catalog stale after a direct write to it.
func catalogWritten(db *Database, t *schema.Table) {
	if schema.IsMasterName(t.Name) {
		db.loaded = false
	}
}

// rowWrite is one row on its way into a table.
type rowWrite struct {
	db *Database
	t  *schema.Table

	vals     []record.Value // one per column
	rowid    int64
	hasRowid bool
	mode     parser.ConflictMode

	// old is the row an UPDATE replaces. Its own entries never conflict.
	old *row
}

// insertTarget maps the column list of an INSERT to table positions. The
// rowid names map to -1 unless the table has a column of that name.
func insertTarget(t *schema.Table, names []string) ([]int, error) {
	if len(names) == 0 {
		pos := make([]int, len(t.Columns))
		for i := range pos {
			pos[i] = i
		}
		return pos, nil
	}
	pos := make([]int, len(names))
	for i, n := range names {
		p, ok := t.Column(n)
		if !ok {
			return nil, errs.Newf(errs.ERROR, "table %s has no column named %s", t.Name, n)
		}
		pos[i] = p
	}
	return pos, nil
}

func (e *Engine) execInsert(s *Stmt, st *parser.InsertStmt) error {
	db, t, err := e.writableTable(s, st.Schema, st.Table)
	if err != nil {
		return err
	}
	defer catalogWritten(db, t)

	pos, err := insertTarget(t, st.Columns)
	if err != nil {
		return err
	}
	ev := s.evaluator(nil)

	insert := func(values []record.Value) error {
		w := &rowWrite{db: db, t: t, vals: make([]record.Value, len(t.Columns)), mode: st.OnConflict}
		given := make([]bool, len(t.Columns))
		for i, p := range pos {
			if p < 0 {
				if err := w.setRowid(values[i]); err != nil {
					return err
				}
				continue
			}
			w.vals[p] = values[i]
			given[p] = true
		}
		for i, c := range t.Columns {
			if !given[i] && c.Default != nil {
				v, err := e.evaluator(nil).eval(c.Default)
				if err != nil {
					return err
				}
				w.vals[i] = v
			}
		}
		ok, err := e.writeRow(s, w)
		if err != nil || !ok {
			return err
		}
		e.lastInsertRowid = w.rowid
		s.changes++
		return nil
	}

	switch {
	case st.DefaultValues:
		return insert(nil)

	case st.Select != nil:
		if src, ok := e.transferSource(db, t, st); ok {
			return e.transfer(s, db, t, src, st.OnConflict)
		}
		it, err := e.querySelect(s, st.Select, nil)
		if err != nil {
			return err
		}
		var rows [][]record.Value
		for {
			r, ok, err := it.next()
			if err != nil {
				it.close()
				return err
			}
			if !ok {
				break
			}
			rows = append(rows, r)
		}
		it.close()
		for _, r := range rows {
			if len(r) != len(pos) {
				return valueCountError(t, st, len(r), len(pos))
			}
			if err := insert(r); err != nil {
				return err
			}
		}
		return nil
	}

	for _, exprs := range st.Values {
		if len(exprs) != len(pos) {
			return valueCountError(t, st, len(exprs), len(pos))
		}
		values := make([]record.Value, len(exprs))
		for i, x := range exprs {
			if values[i], err = ev.eval(x); err != nil {
				return err
			}
		}
		if err := insert(values); err != nil {
			return err
		}
	}
	return nil
}

func valueCountError(t *schema.Table, st *parser.InsertStmt, got, want int) error {
	if len(st.Columns) == 0 {
		return errs.Newf(errs.ERROR, "table %s has %d columns but %d values were supplied", t.Name, want, got)
	}
	return errs.Newf(errs.ERROR, "%d values for %d columns", got, want)
}

// transferSource reports whether INSERT ... SELECT is a plain copy of another
// table of the same shape into an empty table. Such a copy keeps the source
// rowids.
func (e *Engine) transferSource(db *Database, t *schema.Table, st *parser.InsertStmt) (*source, bool) {
	sel := st.Select
	if len(st.Columns) != 0 || sel.From == nil || sel.From.Subquery != nil ||
		len(sel.Columns) != 1 || !sel.Columns[0].Star || sel.Columns[0].Table != "" ||
		sel.Distinct || sel.Where != nil || len(sel.GroupBy) > 0 || sel.Having != nil ||
		len(sel.OrderBy) > 0 || sel.Limit != nil || sel.Offset != nil {
		return nil, false
	}
	sdb, st2, err := e.findTable(sel.From.Schema, sel.From.Name)
	if err != nil || usableTable(st2) != nil {
		return nil, false
	}
	if len(st2.Columns) != len(t.Columns) || st2.RowidAlias != t.RowidAlias {
		return nil, false
	}
	if sdb == db && st2.RootPage == t.RootPage {
		return nil, false
	}
	if n, err := db.bt.Count(t.RootPage); err != nil || n != 0 {
		return nil, false
	}
	return tableSource(sdb, st2, sel.From.Alias), true
}

// transfer copies every row of src into t under its original rowid.
func (e *Engine) transfer(s *Stmt, db *Database, t *schema.Table, src *source, mode parser.ConflictMode) error {
	scan, err := e.scanTable(s, src, nil, nil)
	if err != nil {
		return err
	}
	defer scan.close()
	for {
		r, ok, err := scan.next()
		if err != nil || !ok {
			return err
		}
		w := &rowWrite{db: db, t: t, vals: r.vals, rowid: r.rowid, hasRowid: true, mode: mode}
		ok, err = e.writeRow(s, w)
		if err != nil {
			return err
		}
		if ok {
			e.lastInsertRowid = w.rowid
			s.changes++
		}
	}
}

// setRowid records an explicit rowid. NULL asks for a new one.
func (w *rowWrite) setRowid(v record.Value) error {
	if v.IsNull() {
		w.hasRowid = false
		return nil
	}
	v = record.AffinityInteger.Apply(v)
	if v.Type() != record.TypeInteger {
		return errs.New(errs.MISMATCH, "datatype mismatch")
	}
	w.rowid, w.hasRowid = v.Int64(), true
	return nil
}

// writeRow checks and stores a row. It reports false when the row was
// skipped by OR IGNORE.
func (e *Engine) writeRow(s *Stmt, w *rowWrite) (bool, error) {
	t := w.t
	for i, c := range t.Columns {
		w.vals[i] = c.Affinity.Apply(w.vals[i])
	}
	if t.RowidAlias >= 0 {
		if err := w.setRowid(w.vals[t.RowidAlias]); err != nil {
			return false, err
		}
	}

	for i, c := range t.Columns {
		if !c.NotNull || !w.vals[i].IsNull() || i == t.RowidAlias {
			continue
		}
		switch {
		case w.mode == parser.ConflictIgnore:
			return false, nil
		case w.mode == parser.ConflictReplace && c.Default != nil:
			v, err := e.evaluator(nil).eval(c.Default)
			if err != nil {
				return false, err
			}
			w.vals[i] = c.Affinity.Apply(v)
			if !w.vals[i].IsNull() {
				continue
			}
		}
		return false, errs.NewConstraint("NOT NULL", t.Name+"."+c.Name)
	}

	if !w.hasRowid {
		id, err := e.newRowid(w.db, t)
		if err != nil {
			return false, err
		}
		w.rowid, w.hasRowid = id, true
	}
	if t.RowidAlias >= 0 {
		w.vals[t.RowidAlias] = record.Int(w.rowid)
	}
	r := &row{rowid: w.rowid, vals: w.vals}
	src := tableSource(w.db, t, "")

	if !e.hasFlag(FlagIgnoreChecks) {
		ev := e.evaluator(&scope{src: src, row: r})
		for _, check := range t.Checks {
			v, err := ev.eval(check)
			if err != nil {
				return false, err
			}
			if !v.IsNull() && !v.Truth() {
				return false, errs.NewConstraint("CHECK", exprSQL(check))
			}
		}
	}

	victims, err := e.conflicts(w, r, src)
	if err != nil || victims == nil {
		return victims != nil, err
	}

	if w.old != nil {
		if err := e.deleteRow(w.db, t, w.old); err != nil {
			return false, err
		}
	}
	for _, id := range victims {
		if w.old != nil && id == w.old.rowid {
			continue
		}
		victim, err := e.loadRow(w.db, t, id)
		if err != nil {
			return false, err
		}
		if victim != nil {
			if err := e.deleteRow(w.db, t, victim); err != nil {
				return false, err
			}
		}
	}

	stored := append([]record.Value(nil), w.vals...)
	if t.RowidAlias >= 0 {
		stored[t.RowidAlias] = record.Null()
	}
	if err := w.db.bt.Insert(t.RootPage, w.rowid, record.Encode(stored)); err != nil {
		return false, err
	}
	if err := e.insertIndexEntries(w.db, t, r, src); err != nil {
		return false, err
	}
	if t.Autoincrement && w.old == nil {
		if err := e.bumpSequence(w.db, t, w.rowid); err != nil {
			return false, err
		}
	}
	return true, nil
}

// conflicts checks the rowid and every unique index. Under OR REPLACE it
// returns the rows to delete; under OR IGNORE a nil slice means skip the
// row. Other modes fail on the first conflict.
func (e *Engine) conflicts(w *rowWrite, r *row, src *source) ([]int64, error) {
	t := w.t
	victims := []int64{}
	conflict := func(id int64, target string) error {
		switch w.mode {
		case parser.ConflictReplace:
			victims = append(victims, id)
			return nil
		case parser.ConflictIgnore:
			victims = nil
			return nil
		}
		return errs.NewConstraint("UNIQUE", target)
	}
	self := func(id int64) bool { return w.old != nil && id == w.old.rowid }

	if !self(w.rowid) {
		existing, err := e.loadRow(w.db, t, w.rowid)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			target := t.Name + ".rowid"
			if t.RowidAlias >= 0 {
				target = t.Name + "." + t.Columns[t.RowidAlias].Name
			}
			if err := conflict(w.rowid, target); err != nil || victims == nil {
				return nil, err
			}
		}
	}

	s, err := e.schemaOf(w.db)
	if err != nil {
		return nil, err
	}
	for _, ix := range s.TableIndexes(t.Name) {
		if !ix.Unique {
			continue
		}
		covered, err := e.indexCovers(ix, r, src)
		if err != nil {
			return nil, err
		}
		if !covered {
			continue
		}
		key := indexKey(ix, r)
		id, found, err := e.findIndexEntry(w.db, ix, key[:len(key)-1], w.old)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		cols := make([]string, len(ix.Columns))
		for i, c := range ix.Columns {
			cols[i] = t.Name + "." + c.Name
		}
		if err := conflict(id, strings.Join(cols, ", ")); err != nil || victims == nil {
			return nil, err
		}
	}
	return victims, nil
}

// findIndexEntry looks for an entry whose indexed columns equal key and
// returns its rowid. Keys holding NULL never match. The entry of old is
// passed over.
func (e *Engine) findIndexEntry(db *Database, ix *schema.Index, key []record.Value, old *row) (int64, bool, error) {
	for _, v := range key {
		if v.IsNull() {
			return 0, false, nil
		}
	}
	order := ix.KeyOrder()
	c := db.bt.NewCursor(ix.RootPage, order.Compare)
	ok, err := c.SeekGE(record.Encode(key))
	for ; ok && err == nil; ok, err = c.Next() {
		payload, perr := c.Payload()
		if perr != nil {
			return 0, false, perr
		}
		vals, perr := record.Decode(payload)
		if perr != nil {
			return 0, false, perr
		}
		if len(vals) <= len(key) || order.CompareValues(vals[:len(key)], key) != 0 {
			return 0, false, nil
		}
		id := vals[len(vals)-1].Int64()
		if old != nil && id == old.rowid {
			continue
		}
		return id, true, nil
	}
	return 0, false, err
}

// indexKey builds the entry of ix for r: the indexed values then the rowid.
func indexKey(ix *schema.Index, r *row) []record.Value {
	key := make([]record.Value, 0, len(ix.Columns)+1)
	for _, c := range ix.Columns {
		if c.Column < 0 {
			key = append(key, record.Int(r.rowid))
		} else {
			key = append(key, r.vals[c.Column])
		}
	}
	return append(key, record.Int(r.rowid))
}

// indexCovers reports whether r belongs in ix, which for a partial index
// depends on its WHERE clause.
func (e *Engine) indexCovers(ix *schema.Index, r *row, src *source) (bool, error) {
	if ix.Where == nil {
		return true, nil
	}
	return e.evaluator(&scope{src: src, row: r}).truth(ix.Where)
}

func (e *Engine) insertIndexEntries(db *Database, t *schema.Table, r *row, src *source) error {
	s, err := e.schemaOf(db)
	if err != nil {
		return err
	}
	for _, ix := range s.TableIndexes(t.Name) {
		covered, err := e.indexCovers(ix, r, src)
		if err != nil {
			return err
		}
		if !covered {
			continue
		}
		order := ix.KeyOrder()
		if err := db.bt.IndexInsert(ix.RootPage, record.Encode(indexKey(ix, r)), order.Compare); err != nil {
			return err
		}
	}
	return nil
}

// deleteRow removes a row and its index entries.
func (e *Engine) deleteRow(db *Database, t *schema.Table, r *row) error {
	s, err := e.schemaOf(db)
	if err != nil {
		return err
	}
	src := tableSource(db, t, "")
	for _, ix := range s.TableIndexes(t.Name) {
		covered, err := e.indexCovers(ix, r, src)
		if err != nil {
			return err
		}
		if !covered {
			continue
		}
		order := ix.KeyOrder()
		if _, err := db.bt.IndexDelete(ix.RootPage, record.Encode(indexKey(ix, r)), order.Compare); err != nil {
			return err
		}
	}
	_, err = db.bt.Delete(t.RootPage, r.rowid)
	return err
}

// loadRow reads one row by rowid, or returns nil if there is none.
func (e *Engine) loadRow(db *Database, t *schema.Table, rowid int64) (*row, error) {
	ts := &tableScan{c: db.bt.NewCursor(t.RootPage, nil), t: t, only: &rowid}
	r, ok, err := ts.next()
	if err != nil || !ok {
		return nil, err
	}
	return r, nil
}

// newRowid picks the rowid of a row inserted without one. AUTOINCREMENT
// tables never reuse a rowid recorded in sqlite_sequence.
func (e *Engine) newRowid(db *Database, t *schema.Table) (int64, error) {
	id, err := db.bt.NewRowid(t.RootPage)
	if err != nil && !t.Autoincrement {
		return 0, errs.WithCode(errs.FULL, err)
	}
	if !t.Autoincrement {
		return id, nil
	}
	_, seq, err := e.sequence(db, t)
	if err != nil {
		return 0, err
	}
	if seq == math.MaxInt64 {
		return 0, errs.New(errs.FULL, "database or disk is full")
	}
	return max(id, seq+1), nil
}

// sequence finds the sqlite_sequence row of t. It returns rowid 0 when there
// is none.
func (e *Engine) sequence(db *Database, t *schema.Table) (int64, int64, error) {
	s, err := e.schemaOf(db)
	if err != nil {
		return 0, 0, err
	}
	seqTable, ok := s.Table(schema.SequenceName)
	if !ok {
		return 0, 0, errs.Newf(errs.CORRUPT, "missing %s for %s", schema.SequenceName, t.Name)
	}
	ts := &tableScan{c: db.bt.NewCursor(seqTable.RootPage, nil), t: seqTable}
	for {
		r, ok, err := ts.next()
		if err != nil || !ok {
			return 0, 0, err
		}
		if len(r.vals) >= 2 && strings.EqualFold(r.vals[0].Text(), t.Name) {
			return r.rowid, r.vals[1].Int64(), nil
		}
	}
}

// bumpSequence raises t's counter in sqlite_sequence to rowid.
func (e *Engine) bumpSequence(db *Database, t *schema.Table, rowid int64) error {
	id, seq, err := e.sequence(db, t)
	if err != nil {
		return err
	}
	s, err := e.schemaOf(db)
	if err != nil {
		return err
	}
	seqTable, _ := s.Table(schema.SequenceName)
	rec := record.Encode([]record.Value{record.Text(t.Name), record.Int(rowid)})
	if id == 0 {
		next, err := db.bt.NewRowid(seqTable.RootPage)
		if err != nil {
			return err
		}
		return db.bt.Insert(seqTable.RootPage, next, rec)
	}
	if rowid <= seq {
		return nil
	}
	return db.bt.Replace(seqTable.RootPage, id, rec)
}

// matchingRows collects the rows of t that satisfy where before any of them
// is changed.
func (e *Engine) matchingRows(s *Stmt, src *source, where parser.Expression) ([]*row, error) {
	scan, err := e.scanTable(s, src, where, nil)
	if err != nil {
		return nil, err
	}
	defer scan.close()
	sc := &scope{src: src}
	ev := s.evaluator(sc)
	if err := checkColumns(ev, where); err != nil {
		return nil, err
	}
	var rows []*row
	for {
		r, ok, err := scan.next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return rows, nil
		}
		sc.row = r
		keep, err := ev.truth(where)
		if err != nil {
			return nil, err
		}
		if keep {
			rows = append(rows, r)
		}
	}
}

func (e *Engine) execUpdate(s *Stmt, st *parser.UpdateStmt) error {
	db, t, err := e.writableTable(s, st.Schema, st.Table)
	if err != nil {
		return err
	}
	defer catalogWritten(db, t)

	pos := make([]int, len(st.Sets))
	for i, a := range st.Sets {
		p, ok := t.Column(a.Column)
		if !ok {
			return errs.Newf(errs.ERROR, "no such column: %s", a.Column)
		}
		pos[i] = p
	}

	src := tableSource(db, t, "")
	rows, err := e.matchingRows(s, src, st.Where)
	if err != nil {
		return err
	}
	sc := &scope{src: src}
	ev := s.evaluator(sc)
	for _, old := range rows {
		sc.row = old
		w := &rowWrite{
			db: db, t: t,
			vals:  append([]record.Value(nil), old.vals...),
			rowid: old.rowid, hasRowid: true,
			mode: st.OnConflict,
			old:  old,
		}
		for i, a := range st.Sets {
			v, err := ev.eval(a.Value)
			if err != nil {
				return err
			}
			if pos[i] < 0 {
				if err := w.setRowid(v); err != nil {
					return err
				}
				if !w.hasRowid {
					return errs.New(errs.MISMATCH, "datatype mismatch")
				}
				continue
			}
			w.vals[pos[i]] = v
		}
		if t.RowidAlias >= 0 && w.vals[t.RowidAlias].IsNull() {
			return errs.New(errs.MISMATCH, "datatype mismatch")
		}
		ok, err := e.writeRow(s, w)
		if err != nil {
			return err
		}
		if ok {
			s.changes++
		}
	}
	return nil
}

func (e *Engine) execDelete(s *Stmt, st *parser.DeleteStmt) error {
	db, t, err := e.writableTable(s, st.Schema, st.Table)
	if err != nil {
		return err
	}
	defer catalogWritten(db, t)

	if st.Where == nil && !schema.IsMasterName(t.Name) {
		return e.truncate(s, db, t)
	}
	rows, err := e.matchingRows(s, tableSource(db, t, ""), st.Where)
	if err != nil {
		return err
	}
	for _, r := range rows {
		if err := e.deleteRow(db, t, r); err != nil {
			return err
		}
		s.changes++
	}
	return nil
}

// truncate empties a table and its indexes.
func (e *Engine) truncate(s *Stmt, db *Database, t *schema.Table) error {
	n, err := db.bt.Count(t.RootPage)
	if err != nil {
		return err
	}
	sch, err := e.schemaOf(db)
	if err != nil {
		return err
	}
	for _, ix := range sch.TableIndexes(t.Name) {
		if err := db.bt.Clear(ix.RootPage); err != nil {
			return err
		}
	}
	if err := db.bt.Clear(t.RootPage); err != nil {
		return err
	}
	s.changes += n
	return nil
}
