package schema

import (
	"testing"

	errs "github.com/FocuswithJustin/sqlcompact/core/errors"
	"github.com/FocuswithJustin/sqlcompact/core/sqlite/internal/btree"
	"github.com/FocuswithJustin/sqlcompact/core/sqlite/internal/pager"
	"github.com/FocuswithJustin/sqlcompact/core/sqlite/internal/record"
)

func newCatalog(t *testing.T, rows []MasterRow) *btree.Btree {
	t.Helper()
	p, err := pager.OpenWithOptions(pager.MemoryFilename, pager.Options{PageSize: 1024})
	if err != nil {
		t.Fatalf("OpenWithOptions() error = %v", err)
	}
	t.Cleanup(func() { p.Close() })
	if err := p.Begin(); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	bt := btree.New(p)
	if err := bt.Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	for i, r := range rows {
		if err := bt.Insert(MasterRoot, int64(i+1), record.Encode(r.Values())); err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
	}
	return bt
}

func TestMasterTable(t *testing.T) {
	m := MasterTable()
	if m.RootPage != 1 || len(m.Columns) != 5 {
		t.Fatalf("MasterTable() = %+v", m)
	}
	if m.Columns[3].Name != "rootpage" || m.Columns[3].Affinity != record.AffinityInteger {
		t.Errorf("rootpage column = %+v", m.Columns[3])
	}
	for _, name := range []string{"sqlite_master", "SQLITE_SCHEMA"} {
		if !IsMasterName(name) {
			t.Errorf("IsMasterName(%q) = false", name)
		}
	}
	if !IsReservedName("sqlite_sequence") || IsReservedName("t") {
		t.Error("IsReservedName mismatch")
	}
}

func TestMasterRow_RoundTrip(t *testing.T) {
	row := MasterRow{Type: "index", Name: "sqlite_autoindex_t_1", TblName: "t", RootPage: 3}
	vals := row.Values()
	if !vals[4].IsNull() {
		t.Errorf("empty sql stored as %v, want NULL", vals[4])
	}
	got, err := ParseMasterRow(record.Encode(vals))
	if err != nil {
		t.Fatalf("ParseMasterRow() error = %v", err)
	}
	if got != row {
		t.Errorf("ParseMasterRow() = %+v, want %+v", got, row)
	}
}

func TestLoadFromMaster(t *testing.T) {
	rows := []MasterRow{
		{"table", "t", "t", 2, "CREATE TABLE t(a,b)"},
		{"index", "idx_t_a", "t", 3, "CREATE INDEX idx_t_a ON t(a)"},
		{"table", "u", "u", 4, "CREATE TABLE u(id INTEGER PRIMARY KEY AUTOINCREMENT, k TEXT UNIQUE)"},
		{"index", "sqlite_autoindex_u_1", "u", 5, ""},
		{"table", "sqlite_sequence", "sqlite_sequence", 6, SequenceSQL},
		{"view", "v", "v", 0, "CREATE VIEW v AS SELECT a FROM t"},
		{"trigger", "tr", "t", 0, "CREATE TRIGGER tr AFTER INSERT ON t BEGIN SELECT 1; END"},
		{"table", "vt", "vt", 0, "CREATE VIRTUAL TABLE vt USING fts5(x)"},
	}
	bt := newCatalog(t, rows)

	got, err := ReadMaster(bt)
	if err != nil {
		t.Fatalf("ReadMaster() error = %v", err)
	}
	if len(got) != len(rows) || got[3] != rows[3] {
		t.Fatalf("ReadMaster() = %+v", got)
	}

	s := NewSchema()
	if err := s.LoadFromMaster(bt, 7); err != nil {
		t.Fatalf("LoadFromMaster() error = %v", err)
	}
	if s.Cookie != 7 {
		t.Errorf("Cookie = %d, want 7", s.Cookie)
	}
	if got := s.ListTables(); len(got) != 4 {
		t.Errorf("ListTables() = %v", got)
	}
	u, _ := s.Table("u")
	if u.RootPage != 4 || !u.Autoincrement {
		t.Errorf("u = %+v", u)
	}
	auto, ok := s.Index("sqlite_autoindex_u_1")
	if !ok || auto.RootPage != 5 || !auto.Unique {
		t.Errorf("sqlite_autoindex_u_1 = %+v", auto)
	}
	ix, _ := s.Index("idx_t_a")
	if ix.RootPage != 3 || ix.SQL != "CREATE INDEX idx_t_a ON t(a)" {
		t.Errorf("idx_t_a = %+v", ix)
	}
	vt, _ := s.Table("vt")
	if !vt.Virtual || vt.RootPage != 0 || vt.Module != "fts5" {
		t.Errorf("vt = %+v", vt)
	}
	if v, ok := s.View("v"); !ok || v.Select == nil {
		t.Errorf("view v = %+v", v)
	}
	if tr, ok := s.Trigger("tr"); !ok || tr.Table != "t" {
		t.Errorf("trigger tr = %+v", tr)
	}
}

func TestLoadFromMaster_Empty(t *testing.T) {
	p, err := pager.OpenWithOptions(pager.MemoryFilename, pager.Options{})
	if err != nil {
		t.Fatalf("OpenWithOptions() error = %v", err)
	}
	defer p.Close()
	s := NewSchema()
	if err := s.LoadFromMaster(btree.New(p), 0); err != nil {
		t.Fatalf("LoadFromMaster() error = %v", err)
	}
	if len(s.Tables) != 0 {
		t.Errorf("Tables = %v", s.Tables)
	}
}

func TestLoadFromMaster_Malformed(t *testing.T) {
	tests := []struct {
		name string
		rows []MasterRow
	}{
		{"bad sql", []MasterRow{{"table", "t", "t", 2, "CREATE TABLE t("}}},
		{"index on missing table", []MasterRow{{"index", "i", "x", 2, "CREATE INDEX i ON x(a)"}}},
		{"stray autoindex", []MasterRow{{"index", "sqlite_autoindex_t_1", "t", 2, ""}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewSchema().LoadFromMaster(newCatalog(t, tt.rows), 1)
			if errs.CodeOf(err) != errs.CORRUPT {
				t.Errorf("LoadFromMaster() = %v, want CORRUPT", err)
			}
		})
	}
}
