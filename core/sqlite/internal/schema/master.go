package schema

import (
	"fmt"
	"strings"

	errs "github.com/FocuswithJustin/sqlcompact/core/errors"
	"github.com/FocuswithJustin/sqlcompact/core/sqlite/internal/btree"
	"github.com/FocuswithJustin/sqlcompact/core/sqlite/internal/parser"
	"github.com/FocuswithJustin/sqlcompact/core/sqlite/internal/record"
)

// sqlite_master lives in the table b-tree rooted at page 1:
//
//	CREATE TABLE sqlite_master(type text, name text, tbl_name text,
//	                           rootpage integer, sql text)

const (
	// MasterName is the catalog table; SchemaAlias names it too.
	MasterName  = "sqlite_master"
	SchemaAlias = "sqlite_schema"
	MasterRoot  = 1

	// SequenceName is the table AUTOINCREMENT keeps its counters in.
	SequenceName = "sqlite_sequence"
	SequenceSQL  = "CREATE TABLE sqlite_sequence(name,seq)"

	autoIndexPrefix = "sqlite_autoindex_"
)

var masterTable = &Table{
	Name:       MasterName,
	RootPage:   MasterRoot,
	SQL:        "CREATE TABLE sqlite_master(type text,name text,tbl_name text,rootpage integer,sql text)",
	RowidAlias: -1,
	Columns: []*Column{
		{Name: "type", Type: "text", Affinity: record.AffinityText},
		{Name: "name", Type: "text", Affinity: record.AffinityText},
		{Name: "tbl_name", Type: "text", Affinity: record.AffinityText},
		{Name: "rootpage", Type: "integer", Affinity: record.AffinityInteger},
		{Name: "sql", Type: "text", Affinity: record.AffinityText},
	},
}

// MasterTable returns the definition of sqlite_master.
func MasterTable() *Table { return masterTable }

// IsMasterName reports whether name refers to the catalog table.
func IsMasterName(name string) bool {
	return strings.EqualFold(name, MasterName) || strings.EqualFold(name, SchemaAlias)
}

// IsReservedName reports whether name is reserved for internal objects.
func IsReservedName(name string) bool {
	return strings.HasPrefix(strings.ToLower(name), "sqlite_")
}

// MasterRow represents a row in the sqlite_master table.
type MasterRow struct {
	Type     string
	Name     string
	TblName  string
	RootPage uint32
	SQL      string // "" is stored as NULL
}

// Values returns the row as a record.
func (r MasterRow) Values() []record.Value {
	sql := record.Null()
	if r.SQL != "" {
		sql = record.Text(r.SQL)
	}
	return []record.Value{
		record.Text(r.Type),
		record.Text(r.Name),
		record.Text(r.TblName),
		record.Int(int64(r.RootPage)),
		sql,
	}
}

// ParseMasterRow decodes a catalog record.
func ParseMasterRow(payload []byte) (MasterRow, error) {
	vals, err := record.Decode(payload)
	if err != nil {
		return MasterRow{}, err
	}
	for len(vals) < 5 {
		vals = append(vals, record.Null())
	}
	return MasterRow{
		Type:     vals[0].Text(),
		Name:     vals[1].Text(),
		TblName:  vals[2].Text(),
		RootPage: uint32(vals[3].Int64()),
		SQL:      vals[4].Text(),
	}, nil
}

// ReadMaster returns every catalog row in rowid order. An empty database has
// none.
func ReadMaster(bt *btree.Btree) ([]MasterRow, error) {
	if bt.Store().PageCount() == 0 {
		return nil, nil
	}
	c := bt.NewCursor(MasterRoot, nil)
	var rows []MasterRow
	ok, err := c.First()
	for ; ok && err == nil; ok, err = c.Next() {
		payload, perr := c.Payload()
		if perr != nil {
			return nil, perr
		}
		row, perr := ParseMasterRow(payload)
		if perr != nil {
			return nil, fmt.Errorf("sqlite_master row %d: %w", c.Key(), perr)
		}
		rows = append(rows, row)
	}
	return rows, err
}

func malformed(name string, err error) error {
	msg := "malformed database schema (" + name + ")"
	if err != nil {
		msg += " - " + err.Error()
	}
	return errs.New(errs.CORRUPT, msg)
}

// LoadFromMaster replaces the catalog with the content of sqlite_master.
func (s *Schema) LoadFromMaster(bt *btree.Btree, cookie uint32) error {
	rows, err := ReadMaster(bt)
	if err != nil {
		return err
	}
	fresh := NewSchema()
	fresh.Cookie = cookie

	// Tables first, so indexes find their table and automatic indexes
	// their definition.
	for _, row := range rows {
		if row.Type != string(parser.KindTable) {
			continue
		}
		stmt, err := parseCatalogSQL(row)
		if err != nil {
			return err
		}
		switch st := stmt.(type) {
		case *parser.CreateTableStmt:
			t, err := NewTable(st)
			if err != nil {
				return malformed(row.Name, err)
			}
			t.RootPage = row.RootPage
			fresh.AddTable(t)
		case *parser.CreateVirtualTableStmt:
			fresh.AddTable(NewVirtualTable(st))
		default:
			return malformed(row.Name, nil)
		}
	}

	for _, row := range rows {
		switch parser.ObjectKind(row.Type) {
		case parser.KindIndex:
			if row.SQL == "" {
				ix, ok := fresh.Indexes[key(row.Name)]
				if !ok || !ix.Auto {
					return malformed(row.Name, nil)
				}
				ix.RootPage = row.RootPage
				continue
			}
			stmt, err := parseCatalogSQL(row)
			if err != nil {
				return err
			}
			st, ok := stmt.(*parser.CreateIndexStmt)
			if !ok {
				return malformed(row.Name, nil)
			}
			t, ok := fresh.Tables[key(st.Table)]
			if !ok {
				return malformed(row.Name, fmt.Errorf("no such table: %s", st.Table))
			}
			ix, err := NewIndex(st, t)
			if err != nil {
				return malformed(row.Name, err)
			}
			ix.RootPage = row.RootPage
			fresh.AddIndex(ix)
		case parser.KindView:
			stmt, err := parseCatalogSQL(row)
			if err != nil {
				return err
			}
			st, ok := stmt.(*parser.CreateViewStmt)
			if !ok {
				return malformed(row.Name, nil)
			}
			fresh.AddView(NewView(st))
		case parser.KindTrigger:
			fresh.AddTrigger(&Trigger{Name: row.Name, Table: row.TblName, SQL: row.SQL})
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.Tables, s.Indexes = fresh.Tables, fresh.Indexes
	s.Views, s.Triggers = fresh.Views, fresh.Triggers
	s.Cookie = cookie
	return nil
}

func parseCatalogSQL(row MasterRow) (parser.Statement, error) {
	stmts, err := parser.ParseString(row.SQL)
	if err != nil {
		return nil, malformed(row.Name, err)
	}
	if len(stmts) != 1 {
		return nil, malformed(row.Name, nil)
	}
	return stmts[0], nil
}

// IsAutoIndexName reports whether name is the name of an automatic index.
func IsAutoIndexName(name string) bool {
	return strings.HasPrefix(strings.ToLower(name), autoIndexPrefix)
}
