// Package schema holds the catalog of one database: its tables, indexes,
// views and triggers as recorded in sqlite_master.
package schema

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	errs "github.com/FocuswithJustin/sqlcompact/core/errors"
	"github.com/FocuswithJustin/sqlcompact/core/sqlite/internal/parser"
	"github.com/FocuswithJustin/sqlcompact/core/sqlite/internal/record"
)

// Schema represents a database schema. It is safe for concurrent access.
type Schema struct {
	Tables   map[string]*Table
	Indexes  map[string]*Index
	Views    map[string]*View
	Triggers map[string]*Trigger

	// Cookie is the schema version the catalog was loaded at.
	Cookie uint32

	mu sync.RWMutex
}

// NewSchema creates a new empty schema.
func NewSchema() *Schema {
	return &Schema{
		Tables:   make(map[string]*Table),
		Indexes:  make(map[string]*Index),
		Views:    make(map[string]*View),
		Triggers: make(map[string]*Trigger),
	}
}

func key(name string) string { return strings.ToLower(name) }

// Table represents a table definition.
type Table struct {
	Name     string
	RootPage uint32 // 0 for virtual tables
	SQL      string
	Columns  []*Column

	// PrimaryKey lists the primary key columns in key order.
	PrimaryKey []string

	// RowidAlias is the position of the INTEGER PRIMARY KEY column, or -1.
	RowidAlias int

	Autoincrement bool
	WithoutRowID  bool
	Virtual       bool
	Module        string

	// Checks holds column and table CHECK constraints.
	Checks []parser.Expression

	// autoIndexes are the indexes UNIQUE and PRIMARY KEY constraints
	// imply, numbered in order of appearance.
	autoIndexes []*Index
}

// Column represents a table column definition.
type Column struct {
	Name      string
	Type      string
	Affinity  record.Affinity
	NotNull   bool
	Default   parser.Expression
	Collation string

	PrimaryKey bool
	Unique     bool
}

// Index represents an index definition.
type Index struct {
	Name     string
	Table    string
	RootPage uint32
	SQL      string // empty for automatic indexes
	Columns  []IndexColumn
	Unique   bool
	Where    parser.Expression
	Auto     bool
}

// IndexColumn is one key column of an index.
type IndexColumn struct {
	Name      string
	Column    int // position in the table, -1 for the rowid
	Collation string
	Desc      bool
}

// View is a stored SELECT.
type View struct {
	Name    string
	SQL     string
	Columns []string
	Select  *parser.SelectStmt
}

// Trigger is kept as catalog text; it is never fired.
type Trigger struct {
	Name  string
	Table string
	SQL   string
}

// Table retrieves a table by name, case-insensitively.
func (s *Schema) Table(name string) (*Table, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if IsMasterName(name) {
		return MasterTable(), true
	}
	t, ok := s.Tables[key(name)]
	return t, ok
}

// Index retrieves an index by name.
func (s *Schema) Index(name string) (*Index, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ix, ok := s.Indexes[key(name)]
	return ix, ok
}

// View retrieves a view by name.
func (s *Schema) View(name string) (*View, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.Views[key(name)]
	return v, ok
}

// Trigger retrieves a trigger by name.
func (s *Schema) Trigger(name string) (*Trigger, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tr, ok := s.Triggers[key(name)]
	return tr, ok
}

// ListTables returns the sorted table names.
func (s *Schema) ListTables() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.Tables))
	for _, t := range s.Tables {
		names = append(names, t.Name)
	}
	sort.Strings(names)
	return names
}

// TableIndexes returns the indexes of a table, automatic ones first, each
// group sorted by name.
func (s *Schema) TableIndexes(table string) []*Index {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Index
	for _, ix := range s.Indexes {
		if strings.EqualFold(ix.Table, table) {
			out = append(out, ix)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Auto != out[j].Auto {
			return out[i].Auto
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// TableTriggers returns the names of the triggers defined on table.
func (s *Schema) TableTriggers(table string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for _, tr := range s.Triggers {
		if strings.EqualFold(tr.Table, table) {
			out = append(out, tr.Name)
		}
	}
	sort.Strings(out)
	return out
}

// Lookup reports the kind of the object called name, or "" if there is none.
func (s *Schema) Lookup(name string) parser.ObjectKind {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k := key(name)
	switch {
	case IsMasterName(name):
		return parser.KindTable
	case s.Tables[k] != nil:
		return parser.KindTable
	case s.Indexes[k] != nil:
		return parser.KindIndex
	case s.Views[k] != nil:
		return parser.KindView
	case s.Triggers[k] != nil:
		return parser.KindTrigger
	}
	return ""
}

// AddTable registers t and its automatic indexes.
func (s *Schema) AddTable(t *Table) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Tables[key(t.Name)] = t
	for _, ix := range t.autoIndexes {
		s.Indexes[key(ix.Name)] = ix
	}
}

// AddIndex registers ix.
func (s *Schema) AddIndex(ix *Index) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Indexes[key(ix.Name)] = ix
}

// AddView registers v.
func (s *Schema) AddView(v *View) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Views[key(v.Name)] = v
}

// AddTrigger registers tr.
func (s *Schema) AddTrigger(tr *Trigger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Triggers[key(tr.Name)] = tr
}

// DropTable removes a table with its indexes and triggers.
func (s *Schema) DropTable(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(name)
	if _, ok := s.Tables[k]; !ok {
		return errs.NewNotFound("table", name)
	}
	for n, ix := range s.Indexes {
		if strings.EqualFold(ix.Table, name) {
			delete(s.Indexes, n)
		}
	}
	for n, tr := range s.Triggers {
		if strings.EqualFold(tr.Table, name) {
			delete(s.Triggers, n)
		}
	}
	delete(s.Tables, k)
	return nil
}

// DropIndex removes an index.
func (s *Schema) DropIndex(name string) error {
	return dropFrom(s, s.Indexes, "index", name)
}

// DropView removes a view.
func (s *Schema) DropView(name string) error {
	return dropFrom(s, s.Views, "view", name)
}

// DropTrigger removes a trigger.
func (s *Schema) DropTrigger(name string) error {
	return dropFrom(s, s.Triggers, "trigger", name)
}

func dropFrom[T any](s *Schema, m map[string]T, kind, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(name)
	if _, ok := m[k]; !ok {
		return errs.NewNotFound(kind, name)
	}
	delete(m, k)
	return nil
}

// Column returns the position of the named column, or -1. The names rowid,
// oid and _rowid_ resolve to the rowid alias column if there is one, else
// to -1 with ok set.
func (t *Table) Column(name string) (idx int, ok bool) {
	for i, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return i, true
		}
	}
	if IsRowidName(name) && !t.WithoutRowID {
		return t.RowidAlias, true
	}
	return -1, false
}

// ColumnNames returns the column names in declaration order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// AutoIndexes returns the indexes the table's constraints imply.
func (t *Table) AutoIndexes() []*Index {
	return t.autoIndexes
}

// IsRowidName reports whether name is one of the rowid aliases.
func IsRowidName(name string) bool {
	switch strings.ToLower(name) {
	case "rowid", "oid", "_rowid_":
		return true
	}
	return false
}

// KeyOrder returns the sort order of the index's keys: the indexed columns
// followed by the rowid.
func (ix *Index) KeyOrder() record.KeyOrder {
	o := record.KeyOrder{
		Collations: make([]*record.Collation, len(ix.Columns)+1),
		Desc:       make([]bool, len(ix.Columns)+1),
	}
	for i, c := range ix.Columns {
		o.Collations[i], _ = record.LookupCollation(c.Collation)
		o.Desc[i] = c.Desc
	}
	return o
}

// NewTable builds a table from its CREATE TABLE statement. The root page is
// left for the caller.
func NewTable(stmt *parser.CreateTableStmt) (*Table, error) {
	t := &Table{
		Name:         stmt.Name,
		SQL:          stmt.SQL,
		RowidAlias:   -1,
		WithoutRowID: stmt.WithoutRowid,
	}
	seen := make(map[string]bool)
	type keyDef struct {
		cols    []parser.IndexedColumn
		primary bool
	}
	var keys []keyDef
	pkDesc := false

	for _, cd := range stmt.Columns {
		if seen[key(cd.Name)] {
			return nil, errs.Newf(errs.ERROR, "duplicate column name: %s", cd.Name)
		}
		seen[key(cd.Name)] = true
		c := &Column{
			Name:       cd.Name,
			Type:       cd.Type,
			Affinity:   record.AffinityOf(cd.Type),
			NotNull:    cd.NotNull,
			Default:    cd.Default,
			Collation:  cd.Collate,
			PrimaryKey: cd.PrimaryKey,
			Unique:     cd.Unique,
		}
		if c.Collation != "" {
			if _, ok := record.LookupCollation(c.Collation); !ok {
				return nil, errs.Newf(errs.ERROR, "no such collation sequence: %s", c.Collation)
			}
		}
		t.Columns = append(t.Columns, c)
		t.Checks = append(t.Checks, cd.Checks...)
		if cd.PrimaryKey {
			if t.PrimaryKey != nil {
				return nil, errs.Newf(errs.ERROR, "table %q has more than one primary key", t.Name)
			}
			t.PrimaryKey = []string{cd.Name}
			pkDesc = cd.Desc
			t.Autoincrement = cd.Autoincrement
			keys = append(keys, keyDef{cols: []parser.IndexedColumn{{Name: cd.Name, Collate: cd.Collate, Desc: cd.Desc}}, primary: true})
		}
		if cd.Unique {
			keys = append(keys, keyDef{cols: []parser.IndexedColumn{{Name: cd.Name, Collate: cd.Collate}}})
		}
	}

	for _, tc := range stmt.Constraints {
		switch {
		case tc.Check != nil:
			t.Checks = append(t.Checks, tc.Check)
		case tc.PrimaryKey:
			if t.PrimaryKey != nil {
				return nil, errs.Newf(errs.ERROR, "table %q has more than one primary key", t.Name)
			}
			for _, ic := range tc.Columns {
				t.PrimaryKey = append(t.PrimaryKey, ic.Name)
			}
			if len(tc.Columns) == 1 {
				pkDesc = tc.Columns[0].Desc
			}
			keys = append(keys, keyDef{cols: tc.Columns, primary: true})
		case tc.Unique:
			keys = append(keys, keyDef{cols: tc.Columns})
		}
	}

	for _, name := range t.PrimaryKey {
		i, ok := t.Column(name)
		if !ok || i < 0 {
			return nil, errs.Newf(errs.ERROR, "no such column: %s", name)
		}
		t.Columns[i].PrimaryKey = true
	}

	// A lone INTEGER PRIMARY KEY column aliases the rowid. Declared DESC on
	// the column itself it does not.
	if len(t.PrimaryKey) == 1 && !t.WithoutRowID {
		i, _ := t.Column(t.PrimaryKey[0])
		colConstraint := stmt.Columns[i].PrimaryKey
		if strings.EqualFold(t.Columns[i].Type, "INTEGER") && !(colConstraint && pkDesc) {
			t.RowidAlias = i
		}
	}
	if t.Autoincrement && t.RowidAlias < 0 {
		return nil, errs.New(errs.ERROR, "AUTOINCREMENT is only allowed on an INTEGER PRIMARY KEY")
	}
	if t.WithoutRowID && t.PrimaryKey == nil {
		return nil, errs.Newf(errs.ERROR, "PRIMARY KEY missing on table %s", t.Name)
	}

	n := 0
	var made [][]string
	for _, k := range keys {
		if k.primary && t.RowidAlias >= 0 {
			continue
		}
		cols := make([]IndexColumn, len(k.cols))
		names := make([]string, len(k.cols))
		for j, ic := range k.cols {
			pos, ok := t.Column(ic.Name)
			if !ok || pos < 0 {
				return nil, errs.Newf(errs.ERROR, "no such column: %s", ic.Name)
			}
			coll := ic.Collate
			if coll == "" {
				coll = t.Columns[pos].Collation
			}
			cols[j] = IndexColumn{Name: t.Columns[pos].Name, Column: pos, Collation: coll, Desc: ic.Desc}
			names[j] = key(t.Columns[pos].Name)
		}
		if containsKey(made, names) {
			continue
		}
		made = append(made, names)
		n++
		t.autoIndexes = append(t.autoIndexes, &Index{
			Name:    fmt.Sprintf("sqlite_autoindex_%s_%d", t.Name, n),
			Table:   t.Name,
			Columns: cols,
			Unique:  true,
			Auto:    true,
		})
	}
	return t, nil
}

func containsKey(made [][]string, names []string) bool {
	for _, m := range made {
		if strings.Join(m, "\x00") == strings.Join(names, "\x00") {
			return true
		}
	}
	return false
}

// NewVirtualTable builds the catalog entry of a virtual table.
func NewVirtualTable(stmt *parser.CreateVirtualTableStmt) *Table {
	return &Table{
		Name:       stmt.Name,
		SQL:        stmt.SQL,
		RowidAlias: -1,
		Virtual:    true,
		Module:     stmt.Module,
	}
}

// NewIndex builds an index of table t from its CREATE INDEX statement.
func NewIndex(stmt *parser.CreateIndexStmt, t *Table) (*Index, error) {
	ix := &Index{
		Name:   stmt.Name,
		Table:  t.Name,
		SQL:    stmt.SQL,
		Unique: stmt.Unique,
		Where:  stmt.Where,
	}
	for _, ic := range stmt.Columns {
		pos, ok := t.Column(ic.Name)
		if !ok {
			return nil, errs.Newf(errs.ERROR, "no such column: %s", ic.Name)
		}
		name := ic.Name
		coll := ic.Collate
		if pos >= 0 {
			name = t.Columns[pos].Name
			if coll == "" {
				coll = t.Columns[pos].Collation
			}
		}
		if _, ok := record.LookupCollation(coll); !ok {
			return nil, errs.Newf(errs.ERROR, "no such collation sequence: %s", coll)
		}
		ix.Columns = append(ix.Columns, IndexColumn{Name: name, Column: pos, Collation: coll, Desc: ic.Desc})
	}
	return ix, nil
}

// NewView builds a view from its CREATE VIEW statement.
func NewView(stmt *parser.CreateViewStmt) *View {
	return &View{Name: stmt.Name, SQL: stmt.SQL, Columns: stmt.Columns, Select: stmt.Select}
}
