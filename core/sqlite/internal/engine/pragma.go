package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	errs "github.com/FocuswithJustin/sqlcompact/core/errors"
	"github.com/FocuswithJustin/sqlcompact/core/sqlite/internal/codec"
	"github.com/FocuswithJustin/sqlcompact/core/sqlite/internal/pager"
	"github.com/FocuswithJustin/sqlcompact/core/sqlite/internal/parser"
	"github.com/FocuswithJustin/sqlcompact/core/sqlite/internal/record"
	"github.com/FocuswithJustin/sqlcompact/core/sqlite/internal/schema"
	"github.com/FocuswithJustin/sqlcompact/internal/logging"
)

// metaPragmas map pragma names to the page-1 meta slot they read and write.
var metaPragmas = map[string]int{
	"user_version":       pager.MetaUserVersion,
	"schema_version":     pager.MetaSchemaVersion,
	"application_id":     pager.MetaApplicationID,
	"default_cache_size": pager.MetaDefaultCache,
}

// flagPragmas map pragma names to the connection flag they toggle.
var flagPragmas = map[string]Flags{
	"writable_schema":          FlagWriteSchema,
	"ignore_check_constraints": FlagIgnoreChecks,
}

const defaultMaxErrors = 100

// pragmaColumns returns the result columns of a pragma. Pragmas that only
// set something return none.
func pragmaColumns(st *parser.PragmaStmt) []string {
	switch st.Name {
	case "table_info":
		return []string{"cid", "name", "type", "notnull", "dflt_value", "pk"}
	case "database_list":
		return []string{"seq", "name", "file"}
	case "integrity_check":
		return []string{st.Name}
	case "cipher_reserve":
		if !st.HasValue {
			return []string{st.Name}
		}
		return nil
	case "key", "rekey":
		return nil
	}
	if st.HasValue {
		return nil
	}
	if _, ok := pragmaGetters[st.Name]; ok {
		return []string{st.Name}
	}
	if _, ok := metaPragmas[st.Name]; ok {
		return []string{st.Name}
	}
	if _, ok := flagPragmas[st.Name]; ok {
		return []string{st.Name}
	}
	return nil
}

// pragmaGetters read the store-level settings.
var pragmaGetters = map[string]func(db *Database) (record.Value, error){
	"page_size": func(db *Database) (record.Value, error) {
		return record.Int(int64(db.pager.PageSize())), nil
	},
	"reserve_size": func(db *Database) (record.Value, error) {
		return record.Int(int64(db.pager.Reserve())), nil
	},
	"auto_vacuum": func(db *Database) (record.Value, error) {
		return record.Int(int64(db.pager.AutoVacuum())), nil
	},
	"synchronous": func(db *Database) (record.Value, error) {
		return record.Int(int64(db.pager.Synchronous())), nil
	},
	"page_count": func(db *Database) (record.Value, error) {
		return record.Int(int64(db.pager.PageCount())), nil
	},
	"freelist_count": func(db *Database) (record.Value, error) {
		n, err := db.pager.FreelistCount()
		return record.Int(int64(n)), err
	},
	"encoding": func(db *Database) (record.Value, error) {
		enc, err := db.pager.Meta(pager.MetaTextEncoding)
		if err != nil {
			return record.Null(), err
		}
		switch enc {
		case 2:
			return record.Text("UTF-16le"), nil
		case 3:
			return record.Text("UTF-16be"), nil
		}
		return record.Text("UTF-8"), nil
	},
}

func single(v record.Value) rowIter {
	return &sliceIter{rows: [][]record.Value{{v}}}
}

func pragmaInt(st *parser.PragmaStmt) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(st.Value), 10, 64)
	if err != nil {
		return 0, errs.Newf(errs.ERROR, "invalid value for PRAGMA %s: %s", st.Name, st.Value)
	}
	return n, nil
}

func (e *Engine) execPragma(s *Stmt, st *parser.PragmaStmt) (rowIter, error) {
	db, err := e.Database(st.Schema)
	if err != nil {
		return nil, err
	}
	if err := db.pager.BeginRead(); err != nil {
		return nil, err
	}
	name := st.Name
	if name == "cipher_reserve" {
		name = "reserve_size"
	}

	if slot, ok := metaPragmas[name]; ok {
		return e.metaPragma(s, db, st, slot)
	}
	if f, ok := flagPragmas[name]; ok {
		if !st.HasValue {
			return single(record.Bool(e.hasFlag(f))), nil
		}
		on, err := pragmaBool(st.Value)
		if err != nil {
			return nil, err
		}
		if on {
			e.flags |= f
		} else {
			e.flags &^= f
		}
		e.ResetSchemas()
		return nil, nil
	}

	switch name {
	case "table_info":
		return e.tableInfo(st)
	case "database_list":
		return e.databaseList(), nil
	case "integrity_check":
		return e.integrityCheck(db, st)
	case "key", "rekey":
		return nil, e.setKey(db, st)
	}

	get, ok := pragmaGetters[name]
	if !ok {
		return nil, nil
	}
	if !st.HasValue {
		v, err := get(db)
		if err != nil {
			return nil, err
		}
		return single(v), nil
	}

	switch name {
	case "page_size":
		return nil, e.setPageSize(db, st)
	case "reserve_size":
		return nil, e.setReserve(db, st)
	case "auto_vacuum":
		return nil, e.setAutoVacuum(db, st)
	case "synchronous":
		level, err := pragmaSync(st.Value)
		if err != nil {
			return nil, err
		}
		db.pager.SetSynchronous(level)
		return nil, nil
	case "encoding":
		switch strings.ToUpper(strings.TrimSpace(st.Value)) {
		case "UTF-8", "UTF8":
			return nil, nil
		}
		return nil, errs.NewUnsupported("encoding "+st.Value, "UTF-8 only")
	}
	return nil, nil
}

// metaPragma reads or writes a meta slot. The slots hold signed 32-bit
// values.
func (e *Engine) metaPragma(s *Stmt, db *Database, st *parser.PragmaStmt, slot int) (rowIter, error) {
	if !st.HasValue {
		v, err := db.pager.Meta(slot)
		if err != nil {
			return nil, err
		}
		return single(record.Int(int64(int32(v)))), nil
	}
	n, err := pragmaInt(st)
	if err != nil {
		return nil, err
	}
	if err := e.beginWrite(s, db); err != nil {
		return nil, err
	}
	if err := db.pager.SetMeta(slot, uint32(int32(n))); err != nil {
		return nil, err
	}
	if slot == pager.MetaSchemaVersion {
		db.loaded = false
	}
	return nil, nil
}

func pragmaBool(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "on", "true", "yes":
		return true, nil
	case "0", "off", "false", "no":
		return false, nil
	}
	return false, errs.Newf(errs.ERROR, "invalid boolean: %s", v)
}

func pragmaSync(v string) (pager.Synchronous, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "0", "off":
		return pager.SyncOff, nil
	case "1", "normal":
		return pager.SyncNormal, nil
	case "2", "3", "full", "extra":
		return pager.SyncFull, nil
	}
	return 0, errs.Newf(errs.ERROR, "invalid synchronous level: %s", v)
}

func pragmaAutoVacuum(v string) (pager.AutoVacuum, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "0", "none":
		return pager.AutoVacuumNone, nil
	case "1", "full":
		return pager.AutoVacuumFull, nil
	case "2", "incremental":
		return pager.AutoVacuumIncremental, nil
	}
	return 0, errs.Newf(errs.ERROR, "invalid auto_vacuum mode: %s", v)
}

// setPageSize applies a page size to an empty database and remembers it for
// the next VACUUM. Sizes the store cannot take are ignored.
func (e *Engine) setPageSize(db *Database, st *parser.PragmaStmt) error {
	n, err := pragmaInt(st)
	if err != nil {
		return err
	}
	e.pendingPageSize = int(n)
	if err := db.pager.SetPageSize(int(n), -1, false); err != nil {
		logging.Debug("page size not applied", "op", "pragma", "db", db.Name, "size", n, "error", err)
	}
	return nil
}

// setReserve changes the per-page reserve. An empty database takes it
// directly; a populated main database is rebuilt with it.
func (e *Engine) setReserve(db *Database, st *parser.PragmaStmt) error {
	n, err := pragmaInt(st)
	if err != nil {
		return err
	}
	if n < 0 || n > 255 {
		return errs.Newf(errs.RANGE, "reserve_size %d out of range (0..255)", n)
	}
	if db.pager.PageCount() == 0 {
		return db.pager.SetPageSize(db.pager.PageSize(), int(n), false)
	}
	if int(n) == db.pager.Reserve() {
		return nil
	}
	if db != e.dbs[0] {
		return errs.NewUnsupported("reserve_size on "+db.Name, "only the main database can be rebuilt")
	}
	_, err = e.Vacuum(context.Background(), int(n))
	return err
}

// setAutoVacuum sets the mode of an empty database and remembers it for the
// next VACUUM.
func (e *Engine) setAutoVacuum(db *Database, st *parser.PragmaStmt) error {
	mode, err := pragmaAutoVacuum(st.Value)
	if err != nil {
		return err
	}
	if db == e.dbs[0] {
		e.pendingAutoVacuum, e.hasPendingAutoVac = mode, true
	}
	if db.pager.PageCount() == 0 {
		return db.pager.SetAutoVacuum(mode)
	}
	return nil
}

// keyCodec builds the codec a passphrase selects. An empty key means none.
func keyCodec(key string) (pager.Codec, error) {
	return codec.New("", key, 0)
}

// setKey installs the codec for a key. Pages already cached are dropped so
// the next read decodes with it.
func (e *Engine) setKey(db *Database, st *parser.PragmaStmt) error {
	if !st.HasValue {
		return nil
	}
	c, err := keyCodec(st.Value)
	if err != nil {
		return err
	}
	db.pager.EndRead()
	if err := db.pager.SetCodec(c); err != nil {
		return err
	}
	db.loaded = false
	return nil
}

func (e *Engine) tableInfo(st *parser.PragmaStmt) (rowIter, error) {
	if !st.HasValue {
		return &sliceIter{}, nil
	}
	schemaName, name := st.Schema, st.Value
	if schemaName == "" {
		schemaName, name = splitName(st.Value)
	}
	_, t, err := e.findTable(schemaName, name)
	if err != nil {
		v, verr := e.findView(schemaName, name)
		if verr != nil {
			return &sliceIter{}, nil
		}
		plan, err := e.planSelect(v.Select, nil)
		if err != nil {
			return nil, err
		}
		names := plan.names
		if len(v.Columns) > 0 {
			names = v.Columns
		}
		rows := make([][]record.Value, len(names))
		for i, n := range names {
			rows[i] = []record.Value{record.Int(int64(i)), record.Text(n), record.Text(""), record.Int(0), record.Null(), record.Int(0)}
		}
		return &sliceIter{rows: rows}, nil
	}
	rows := make([][]record.Value, len(t.Columns))
	for i, c := range t.Columns {
		dflt := record.Null()
		if c.Default != nil {
			dflt = record.Text(exprSQL(c.Default))
		}
		pk := 0
		for j, name := range t.PrimaryKey {
			if strings.EqualFold(name, c.Name) {
				pk = j + 1
			}
		}
		rows[i] = []record.Value{
			record.Int(int64(i)),
			record.Text(c.Name),
			record.Text(c.Type),
			record.Bool(c.NotNull),
			dflt,
			record.Int(int64(pk)),
		}
	}
	return &sliceIter{rows: rows}, nil
}

func (e *Engine) databaseList() rowIter {
	rows := make([][]record.Value, len(e.dbs))
	for i, db := range e.dbs {
		file := db.pager.Filename()
		if db.pager.IsMemory() {
			file = ""
		}
		rows[i] = []record.Value{record.Int(int64(i)), record.Text(db.Name), record.Text(file)}
	}
	return &sliceIter{rows: rows}
}

// integrityCheck walks every b-tree of db, checks index sizes against their
// tables and accounts for every page of the file. It returns one row per
// problem, or a single "ok".
func (e *Engine) integrityCheck(db *Database, st *parser.PragmaStmt) (rowIter, error) {
	limit := int64(defaultMaxErrors)
	if st.HasValue {
		n, err := pragmaInt(st)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			limit = n
		}
	}
	if db.pager.PageCount() == 0 {
		return single(record.Text("ok")), nil
	}
	sch, err := e.schemaOf(db)
	if err != nil {
		return nil, err
	}

	var problems []string
	used := make(map[uint32]bool)
	walk := func(what string, root uint32, ix *schema.Index) {
		var pages []uint32
		var found []string
		if ix != nil {
			order := ix.KeyOrder()
			pages, found = db.bt.Check(root, order.Compare)
		} else {
			pages, found = db.bt.Check(root, nil)
		}
		for _, p := range found {
			problems = append(problems, fmt.Sprintf("%s: %s", what, p))
		}
		for _, p := range pages {
			if used[p] {
				problems = append(problems, fmt.Sprintf("%s: page %d is also used by another tree", what, p))
			}
			used[p] = true
		}
	}

	walk(schema.MasterName, schema.MasterRoot, nil)
	for _, name := range sch.ListTables() {
		t, _ := sch.Table(name)
		if t.Virtual || t.RootPage == 0 {
			continue
		}
		walk("table "+t.Name, t.RootPage, nil)
		rows, err := db.bt.Count(t.RootPage)
		if err != nil {
			problems = append(problems, fmt.Sprintf("table %s: %v", t.Name, err))
			continue
		}
		for _, ix := range sch.TableIndexes(t.Name) {
			walk("index "+ix.Name, ix.RootPage, ix)
			if ix.Where != nil {
				continue
			}
			entries, err := db.bt.Count(ix.RootPage)
			if err != nil {
				problems = append(problems, fmt.Sprintf("index %s: %v", ix.Name, err))
				continue
			}
			if entries != rows {
				problems = append(problems, fmt.Sprintf("wrong # of entries in index %s", ix.Name))
			}
		}
	}

	free, err := db.pager.FreelistCount()
	if err != nil {
		problems = append(problems, fmt.Sprintf("freelist: %v", err))
	} else if total := int(db.pager.PageCount()); len(used)+int(free) != total {
		problems = append(problems, fmt.Sprintf("%d of %d pages in use, %d free", len(used), total, free))
	}

	if len(problems) == 0 {
		return single(record.Text("ok")), nil
	}
	if int64(len(problems)) > limit {
		problems = problems[:limit]
	}
	rows := make([][]record.Value, len(problems))
	for i, p := range problems {
		rows[i] = []record.Value{record.Text(p)}
	}
	return &sliceIter{rows: rows}, nil
}
