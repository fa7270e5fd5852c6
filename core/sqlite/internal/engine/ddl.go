package engine

import (
	"strings"

	errs "github.com/FocuswithJustin/sqlcompact/core/errors"
	"github.com/FocuswithJustin/sqlcompact/core/sqlite/internal/parser"
	"github.com/FocuswithJustin/sqlcompact/core/sqlite/internal/record"
	"github.com/FocuswithJustin/sqlcompact/core/sqlite/internal/schema"
)

// ddlTarget resolves the database a CREATE statement writes to and loads its
// catalog.
func (e *Engine) ddlTarget(schemaName string) (*Database, *schema.Schema, error) {
	db, err := e.Database(schemaName)
	if err != nil {
		return nil, nil, err
	}
	s, err := e.schemaOf(db)
	if err != nil {
		return nil, nil, err
	}
	return db, s, nil
}

// checkObjectName rejects names reserved for internal objects. Writable
// schema mode lifts the restriction.
func (e *Engine) checkObjectName(name string) error {
	if schema.IsReservedName(name) && !e.hasFlag(FlagWriteSchema) {
		return errs.Newf(errs.ERROR, "object name reserved for internal use: %s", name)
	}
	return nil
}

// nameTaken reports an existing object of any kind called name.
func nameTaken(s *schema.Schema, name string) error {
	switch s.Lookup(name) {
	case parser.KindTable:
		return errs.Newf(errs.ERROR, "table %s already exists", name)
	case parser.KindView:
		return errs.Newf(errs.ERROR, "view %s already exists", name)
	case parser.KindIndex:
		return errs.Newf(errs.ERROR, "there is already an index named %s", name)
	case parser.KindTrigger:
		return errs.Newf(errs.ERROR, "trigger %s already exists", name)
	}
	return nil
}

// insertMaster appends a catalog row to db.
func (e *Engine) insertMaster(db *Database, r schema.MasterRow) error {
	rowid, err := db.bt.NewRowid(schema.MasterRoot)
	if err != nil {
		return err
	}
	return db.bt.Insert(schema.MasterRoot, rowid, record.Encode(r.Values()))
}

// deleteMaster removes every catalog row of db that match selects.
func (e *Engine) deleteMaster(db *Database, match func(schema.MasterRow) bool) error {
	c := db.bt.NewCursor(schema.MasterRoot, nil)
	var doomed []int64
	ok, err := c.First()
	for ; ok && err == nil; ok, err = c.Next() {
		payload, perr := c.Payload()
		if perr != nil {
			return perr
		}
		r, perr := schema.ParseMasterRow(payload)
		if perr != nil {
			return perr
		}
		if match(r) {
			doomed = append(doomed, c.Key())
		}
	}
	if err != nil {
		return err
	}
	for _, id := range doomed {
		if _, err := db.bt.Delete(schema.MasterRoot, id); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) createTable(s *Stmt, st *parser.CreateTableStmt) error {
	db, sch, err := e.ddlTarget(st.Schema)
	if err != nil {
		return err
	}
	if err := e.checkObjectName(st.Name); err != nil {
		return err
	}
	if taken := nameTaken(sch, st.Name); taken != nil {
		if st.IfNotExists && sch.Lookup(st.Name) != parser.KindIndex {
			return nil
		}
		return taken
	}
	t, err := schema.NewTable(st)
	if err != nil {
		return err
	}
	if err := e.beginWrite(s, db); err != nil {
		return err
	}

	root, err := db.bt.CreateTable()
	if err != nil {
		return err
	}
	err = e.insertMaster(db, schema.MasterRow{
		Type: string(parser.KindTable), Name: t.Name, TblName: t.Name, RootPage: root, SQL: t.SQL,
	})
	if err != nil {
		return err
	}
	for _, ix := range t.AutoIndexes() {
		root, err := db.bt.CreateIndex()
		if err != nil {
			return err
		}
		err = e.insertMaster(db, schema.MasterRow{
			Type: string(parser.KindIndex), Name: ix.Name, TblName: t.Name, RootPage: root,
		})
		if err != nil {
			return err
		}
	}
	if t.Autoincrement {
		if _, ok := sch.Table(schema.SequenceName); !ok {
			if err := e.createSequence(db); err != nil {
				return err
			}
		}
	}
	return e.bumpCookie(db)
}

// createSequence adds sqlite_sequence to db.
func (e *Engine) createSequence(db *Database) error {
	root, err := db.bt.CreateTable()
	if err != nil {
		return err
	}
	return e.insertMaster(db, schema.MasterRow{
		Type:     string(parser.KindTable),
		Name:     schema.SequenceName,
		TblName:  schema.SequenceName,
		RootPage: root,
		SQL:      schema.SequenceSQL,
	})
}

func (e *Engine) createIndex(s *Stmt, st *parser.CreateIndexStmt) error {
	db, sch, err := e.ddlTarget(st.Schema)
	if err != nil {
		return err
	}
	if err := e.checkObjectName(st.Name); err != nil {
		return err
	}
	t, ok := sch.Table(st.Table)
	switch {
	case !ok:
		return noSuchTable(st.Schema, st.Table)
	case schema.IsMasterName(t.Name):
		return errs.Newf(errs.ERROR, "table %s may not be indexed", t.Name)
	case t.Virtual:
		return errs.New(errs.ERROR, "virtual tables may not be indexed")
	}
	if taken := nameTaken(sch, st.Name); taken != nil {
		if st.IfNotExists && sch.Lookup(st.Name) == parser.KindIndex {
			return nil
		}
		if sch.Lookup(st.Name) == parser.KindIndex {
			return errs.Newf(errs.ERROR, "index %s already exists", st.Name)
		}
		return errs.Newf(errs.ERROR, "there is already a table named %s", st.Name)
	}
	ix, err := schema.NewIndex(st, t)
	if err != nil {
		return err
	}
	if err := usableTable(t); err != nil {
		return err
	}
	if err := e.beginWrite(s, db); err != nil {
		return err
	}

	root, err := db.bt.CreateIndex()
	if err != nil {
		return err
	}
	ix.RootPage = root
	if err := e.fillIndex(db, t, ix); err != nil {
		return err
	}
	err = e.insertMaster(db, schema.MasterRow{
		Type: string(parser.KindIndex), Name: ix.Name, TblName: t.Name, RootPage: root, SQL: ix.SQL,
	})
	if err != nil {
		return err
	}
	return e.bumpCookie(db)
}

// fillIndex adds an entry to ix for every row already in t.
func (e *Engine) fillIndex(db *Database, t *schema.Table, ix *schema.Index) error {
	src := tableSource(db, t, "")
	scan := &tableScan{c: db.bt.NewCursor(t.RootPage, nil), t: t}
	order := ix.KeyOrder()
	for {
		r, ok, err := scan.next()
		if err != nil || !ok {
			return err
		}
		covered, err := e.indexCovers(ix, r, src)
		if err != nil {
			return err
		}
		if !covered {
			continue
		}
		key := indexKey(ix, r)
		if ix.Unique {
			_, found, err := e.findIndexEntry(db, ix, key[:len(key)-1], nil)
			if err != nil {
				return err
			}
			if found {
				cols := make([]string, len(ix.Columns))
				for i, c := range ix.Columns {
					cols[i] = t.Name + "." + c.Name
				}
				return errs.NewConstraint("UNIQUE", strings.Join(cols, ", "))
			}
		}
		if err := db.bt.IndexInsert(ix.RootPage, record.Encode(key), order.Compare); err != nil {
			return err
		}
	}
}

func (e *Engine) createView(s *Stmt, st *parser.CreateViewStmt) error {
	db, sch, err := e.ddlTarget(st.Schema)
	if err != nil {
		return err
	}
	if err := e.checkObjectName(st.Name); err != nil {
		return err
	}
	if taken := nameTaken(sch, st.Name); taken != nil {
		if st.IfNotExists && sch.Lookup(st.Name) == parser.KindView {
			return nil
		}
		return taken
	}
	plan, err := e.planSelect(st.Select, nil)
	if err != nil {
		return err
	}
	if len(st.Columns) > 0 && len(st.Columns) != len(plan.names) {
		return errs.Newf(errs.ERROR, "expected %d columns for '%s' but got %d", len(st.Columns), st.Name, len(plan.names))
	}
	if err := e.beginWrite(s, db); err != nil {
		return err
	}
	err = e.insertMaster(db, schema.MasterRow{
		Type: string(parser.KindView), Name: st.Name, TblName: st.Name, SQL: st.SQL,
	})
	if err != nil {
		return err
	}
	return e.bumpCookie(db)
}

// createTrigger records the trigger in the catalog. Triggers are never
// fired.
func (e *Engine) createTrigger(s *Stmt, st *parser.CreateTriggerStmt) error {
	db, sch, err := e.ddlTarget(st.Schema)
	if err != nil {
		return err
	}
	if err := e.checkObjectName(st.Name); err != nil {
		return err
	}
	if _, ok := sch.Trigger(st.Name); ok {
		if st.IfNotExists {
			return nil
		}
		return errs.Newf(errs.ERROR, "trigger %s already exists", st.Name)
	}
	tblName := st.Table
	if t, ok := sch.Table(st.Table); ok {
		if schema.IsMasterName(t.Name) {
			return errs.New(errs.ERROR, "cannot create trigger on system table")
		}
		tblName = t.Name
	} else if v, ok := sch.View(st.Table); ok {
		tblName = v.Name
	} else {
		return noSuchTable(st.Schema, st.Table)
	}
	if err := e.beginWrite(s, db); err != nil {
		return err
	}
	err = e.insertMaster(db, schema.MasterRow{
		Type: string(parser.KindTrigger), Name: st.Name, TblName: tblName, SQL: st.SQL,
	})
	if err != nil {
		return err
	}
	return e.bumpCookie(db)
}

// createVirtualTable records the table in the catalog with root page 0. No
// modules are available, so reading it fails.
func (e *Engine) createVirtualTable(s *Stmt, st *parser.CreateVirtualTableStmt) error {
	db, sch, err := e.ddlTarget(st.Schema)
	if err != nil {
		return err
	}
	if err := e.checkObjectName(st.Name); err != nil {
		return err
	}
	if taken := nameTaken(sch, st.Name); taken != nil {
		if st.IfNotExists && sch.Lookup(st.Name) == parser.KindTable {
			return nil
		}
		return taken
	}
	if err := e.beginWrite(s, db); err != nil {
		return err
	}
	err = e.insertMaster(db, schema.MasterRow{
		Type: string(parser.KindTable), Name: st.Name, TblName: st.Name, SQL: st.SQL,
	})
	if err != nil {
		return err
	}
	return e.bumpCookie(db)
}

// dropTarget finds the database holding the object st names. ok is false
// when no database has an object of that name and kind.
func (e *Engine) dropTarget(st *parser.DropStmt) (*Database, *schema.Schema, bool, error) {
	dbs := e.dbs
	if st.Schema != "" {
		db, err := e.Database(st.Schema)
		if err != nil {
			return nil, nil, false, err
		}
		dbs = []*Database{db}
	}
	var firstDB *Database
	var firstSchema *schema.Schema
	for _, db := range dbs {
		sch, err := e.schemaOf(db)
		if err != nil {
			return nil, nil, false, err
		}
		kind := sch.Lookup(st.Name)
		if kind == st.Kind {
			return db, sch, true, nil
		}
		if kind != "" && firstDB == nil {
			firstDB, firstSchema = db, sch
		}
	}
	if firstDB != nil {
		return firstDB, firstSchema, true, nil
	}
	return nil, nil, false, nil
}

func (e *Engine) drop(s *Stmt, st *parser.DropStmt) error {
	db, sch, ok, err := e.dropTarget(st)
	if err != nil {
		return err
	}
	if !ok {
		if st.IfExists {
			return nil
		}
		if st.Schema != "" {
			return errs.Newf(errs.ERROR, "no such %s: %s.%s", st.Kind, st.Schema, st.Name)
		}
		return errs.Newf(errs.ERROR, "no such %s: %s", st.Kind, st.Name)
	}

	kind := sch.Lookup(st.Name)
	switch {
	case kind == parser.KindView && st.Kind == parser.KindTable:
		return errs.Newf(errs.ERROR, "use DROP VIEW to delete view %s", st.Name)
	case kind == parser.KindTable && st.Kind == parser.KindView:
		return errs.Newf(errs.ERROR, "use DROP TABLE to delete table %s", st.Name)
	case kind != st.Kind:
		if st.IfExists {
			return nil
		}
		return errs.Newf(errs.ERROR, "no such %s: %s", st.Kind, st.Name)
	}

	switch st.Kind {
	case parser.KindTable:
		return e.dropTable(s, db, sch, st.Name)
	case parser.KindIndex:
		return e.dropIndex(s, db, sch, st.Name)
	}
	if err := e.beginWrite(s, db); err != nil {
		return err
	}
	err = e.deleteMaster(db, func(r schema.MasterRow) bool {
		return r.Type == string(st.Kind) && strings.EqualFold(r.Name, st.Name)
	})
	if err != nil {
		return err
	}
	return e.bumpCookie(db)
}

func (e *Engine) dropTable(s *Stmt, db *Database, sch *schema.Schema, name string) error {
	t, _ := sch.Table(name)
	if schema.IsMasterName(t.Name) || (schema.IsReservedName(t.Name) && !e.hasFlag(FlagWriteSchema)) {
		return errs.Newf(errs.ERROR, "table %s may not be dropped", t.Name)
	}
	if err := e.beginWrite(s, db); err != nil {
		return err
	}
	if !t.Virtual {
		for _, ix := range sch.TableIndexes(t.Name) {
			if err := db.bt.Drop(ix.RootPage); err != nil {
				return err
			}
		}
		if err := db.bt.Drop(t.RootPage); err != nil {
			return err
		}
	}
	if t.Autoincrement {
		if seq, ok := sch.Table(schema.SequenceName); ok {
			id, _, err := e.sequence(db, t)
			if err != nil {
				return err
			}
			if id != 0 {
				if _, err := db.bt.Delete(seq.RootPage, id); err != nil {
					return err
				}
			}
		}
	}
	err := e.deleteMaster(db, func(r schema.MasterRow) bool {
		return strings.EqualFold(r.TblName, t.Name)
	})
	if err != nil {
		return err
	}
	return e.bumpCookie(db)
}

func (e *Engine) dropIndex(s *Stmt, db *Database, sch *schema.Schema, name string) error {
	ix, _ := sch.Index(name)
	if ix.Auto {
		return errs.New(errs.ERROR, "index associated with UNIQUE or PRIMARY KEY constraint cannot be dropped")
	}
	if err := e.beginWrite(s, db); err != nil {
		return err
	}
	if err := db.bt.Drop(ix.RootPage); err != nil {
		return err
	}
	err := e.deleteMaster(db, func(r schema.MasterRow) bool {
		return r.Type == string(parser.KindIndex) && strings.EqualFold(r.Name, ix.Name)
	})
	if err != nil {
		return err
	}
	return e.bumpCookie(db)
}
