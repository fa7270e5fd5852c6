package engine

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	errs "github.com/FocuswithJustin/sqlcompact/core/errors"
)

func openTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func mustExec(t *testing.T, e *Engine, sql string, args ...any) {
	t.Helper()
	if _, err := e.Execute(sql, args...); err != nil {
		t.Fatalf("Execute(%q) error = %v", sql, err)
	}
}

// queryAll returns the rows of sql as Go values.
func queryAll(t *testing.T, e *Engine, sql string, args ...any) [][]any {
	t.Helper()
	res, err := e.Execute(sql, args...)
	if err != nil {
		t.Fatalf("Execute(%q) error = %v", sql, err)
	}
	out := make([][]any, 0, len(res.Rows))
	for _, r := range res.Rows {
		row := make([]any, len(r))
		for i, v := range r {
			row[i] = v.Go()
		}
		out = append(out, row)
	}
	return out
}

func expectError(t *testing.T, e *Engine, sql, want string) {
	t.Helper()
	_, err := e.Execute(sql)
	if err == nil {
		t.Fatalf("Execute(%q) succeeded, want error containing %q", sql, want)
	}
	if !strings.Contains(err.Error(), want) {
		t.Fatalf("Execute(%q) error = %v, want %q", sql, err, want)
	}
}

func TestEngineOpenClose(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	e, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	mustExec(t, e, "CREATE TABLE t(a)")
	if err := e.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := os.Stat(dbPath); err != nil {
		t.Fatalf("database file missing: %v", err)
	}
	if _, err := e.Execute("SELECT 1"); err == nil {
		t.Error("Execute() after Close() succeeded")
	}
}

func TestCreateTableCatalog(t *testing.T) {
	e := openTestEngine(t)
	mustExec(t, e, "create table t(a INTEGER, b TEXT UNIQUE)")
	mustExec(t, e, "CREATE INDEX idx_t_a ON t(a)")

	got := queryAll(t, e, "SELECT type, name, tbl_name, sql FROM sqlite_master ORDER BY rowid")
	want := [][]any{
		{"table", "t", "t", "CREATE TABLE t(a INTEGER, b TEXT UNIQUE)"},
		{"index", "sqlite_autoindex_t_1", "t", nil},
		{"index", "idx_t_a", "t", "CREATE INDEX idx_t_a ON t(a)"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("sqlite_master mismatch (-want +got):\n%s", diff)
	}

	expectError(t, e, "CREATE TABLE t(x)", "table t already exists")
	mustExec(t, e, "CREATE TABLE IF NOT EXISTS t(x)")
	expectError(t, e, "CREATE TABLE sqlite_x(a)", "object name reserved for internal use")
}

func TestInsertSelect(t *testing.T) {
	e := openTestEngine(t)
	mustExec(t, e, "CREATE TABLE users(id INTEGER PRIMARY KEY, name TEXT NOT NULL, age INTEGER)")
	mustExec(t, e, "INSERT INTO users(name, age) VALUES ('Alice', 30), ('Bob', 25)")
	mustExec(t, e, "INSERT INTO users VALUES (10, 'Carol', '41')")

	if got := e.LastInsertRowid(); got != 10 {
		t.Errorf("LastInsertRowid() = %d, want 10", got)
	}

	got := queryAll(t, e, "SELECT id, name, age FROM users ORDER BY id")
	want := [][]any{
		{int64(1), "Alice", int64(30)},
		{int64(2), "Bob", int64(25)},
		{int64(10), "Carol", int64(41)},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}

	got = queryAll(t, e, "SELECT name FROM users WHERE age > ? ORDER BY name DESC", 26)
	if diff := cmp.Diff([][]any{{"Carol"}, {"Alice"}}, got); diff != "" {
		t.Errorf("filtered rows mismatch (-want +got):\n%s", diff)
	}

	got = queryAll(t, e, "SELECT name FROM users WHERE rowid = 2")
	if diff := cmp.Diff([][]any{{"Bob"}}, got); diff != "" {
		t.Errorf("rowid lookup mismatch (-want +got):\n%s", diff)
	}
}

func TestInsertErrors(t *testing.T) {
	e := openTestEngine(t)
	mustExec(t, e, "CREATE TABLE t(a NOT NULL, b CHECK (b > 0), c UNIQUE)")

	tests := []struct {
		sql  string
		want string
		code errs.Code
	}{
		{"INSERT INTO t VALUES (NULL, 1, 1)", "NOT NULL constraint failed: t.a", errs.CONSTRAINT},
		{"INSERT INTO t VALUES (1, 0, 1)", "CHECK constraint failed: b > 0", errs.CONSTRAINT},
		{"INSERT INTO t(z) VALUES (1)", "table t has no column named z", errs.ERROR},
		{"INSERT INTO t VALUES (1, 2)", "table t has 3 columns but 2 values were supplied", errs.ERROR},
		{"INSERT INTO sqlite_master VALUES ('table','x','x',0,'')", "table sqlite_master may not be modified", errs.ERROR},
		{"INSERT INTO missing VALUES (1)", "no such table: missing", errs.ERROR},
	}
	for _, tt := range tests {
		t.Run(tt.sql, func(t *testing.T) {
			_, err := e.Execute(tt.sql)
			if err == nil {
				t.Fatalf("Execute() succeeded, want %q", tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Execute() error = %v, want %q", err, tt.want)
			}
			if got := errs.CodeOf(err); got != tt.code {
				t.Errorf("CodeOf() = %v, want %v", got, tt.code)
			}
		})
	}

	mustExec(t, e, "INSERT INTO t VALUES (1, 1, 1)")
	expectError(t, e, "INSERT INTO t VALUES (2, 2, 1)", "UNIQUE constraint failed: t.c")
	mustExec(t, e, "INSERT OR IGNORE INTO t VALUES (2, 2, 1)")
	mustExec(t, e, "INSERT OR REPLACE INTO t VALUES (3, 3, 1)")
	got := queryAll(t, e, "SELECT a, b, c FROM t")
	if diff := cmp.Diff([][]any{{int64(3), int64(3), int64(1)}}, got); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
}

func TestIgnoreCheckConstraints(t *testing.T) {
	e := openTestEngine(t)
	mustExec(t, e, "CREATE TABLE t(a CHECK (a > 0))")
	expectError(t, e, "INSERT INTO t VALUES (-1)", "CHECK constraint failed")

	mustExec(t, e, "PRAGMA ignore_check_constraints = ON")
	mustExec(t, e, "INSERT INTO t VALUES (-1)")
	if got := queryAll(t, e, "PRAGMA ignore_check_constraints"); got[0][0] != int64(1) {
		t.Errorf("ignore_check_constraints = %v, want 1", got[0][0])
	}
}

func TestAutoincrement(t *testing.T) {
	e := openTestEngine(t)
	mustExec(t, e, "CREATE TABLE t(id INTEGER PRIMARY KEY AUTOINCREMENT, v)")
	mustExec(t, e, "INSERT INTO t(v) VALUES ('a'), ('b'), ('c')")
	mustExec(t, e, "DELETE FROM t WHERE id = 3")
	mustExec(t, e, "INSERT INTO t(v) VALUES ('d')")

	got := queryAll(t, e, "SELECT id, v FROM t ORDER BY id")
	want := [][]any{{int64(1), "a"}, {int64(2), "b"}, {int64(4), "d"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
	got = queryAll(t, e, "SELECT name, seq FROM sqlite_sequence")
	if diff := cmp.Diff([][]any{{"t", int64(4)}}, got); diff != "" {
		t.Errorf("sqlite_sequence mismatch (-want +got):\n%s", diff)
	}
}

func TestUpdateDelete(t *testing.T) {
	e := openTestEngine(t)
	mustExec(t, e, "CREATE TABLE t(a INTEGER PRIMARY KEY, b)")
	mustExec(t, e, "CREATE INDEX t_b ON t(b)")
	mustExec(t, e, "INSERT INTO t VALUES (1, 'x'), (2, 'y'), (3, 'z')")

	res, err := e.Execute("UPDATE t SET b = b || '!' WHERE a >= 2")
	if err != nil {
		t.Fatalf("UPDATE error = %v", err)
	}
	if res.RowsAffected != 2 {
		t.Errorf("UPDATE RowsAffected = %d, want 2", res.RowsAffected)
	}
	n, err := e.Exec("DELETE FROM t WHERE b = 'x'")
	if err != nil {
		t.Fatalf("DELETE error = %v", err)
	}
	if n != 1 {
		t.Errorf("DELETE affected %d rows, want 1", n)
	}

	got := queryAll(t, e, "SELECT a, b FROM t ORDER BY b")
	want := [][]any{{int64(2), "y!"}, {int64(3), "z!"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
	if got := queryAll(t, e, "PRAGMA integrity_check"); got[0][0] != "ok" {
		t.Errorf("integrity_check = %v, want ok", got)
	}

	n, err = e.Exec("DELETE FROM t")
	if err != nil {
		t.Fatalf("DELETE error = %v", err)
	}
	if n != 2 {
		t.Errorf("DELETE affected %d rows, want 2", n)
	}
}

func TestAggregates(t *testing.T) {
	e := openTestEngine(t)
	mustExec(t, e, "CREATE TABLE sales(region TEXT, amount INTEGER)")
	mustExec(t, e, "INSERT INTO sales VALUES ('north', 10), ('south', 5), ('north', 7), ('south', NULL)")

	got := queryAll(t, e, "SELECT count(*), count(amount), sum(amount), max(amount) FROM sales")
	if diff := cmp.Diff([][]any{{int64(4), int64(3), int64(22), int64(10)}}, got); diff != "" {
		t.Errorf("aggregate mismatch (-want +got):\n%s", diff)
	}

	got = queryAll(t, e, "SELECT region, sum(amount) FROM sales GROUP BY region HAVING sum(amount) > 6 ORDER BY 1")
	if diff := cmp.Diff([][]any{{"north", int64(17)}}, got); diff != "" {
		t.Errorf("group mismatch (-want +got):\n%s", diff)
	}

	got = queryAll(t, e, "SELECT count(*) FROM sales WHERE amount > 100")
	if diff := cmp.Diff([][]any{{int64(0)}}, got); diff != "" {
		t.Errorf("empty aggregate mismatch (-want +got):\n%s", diff)
	}
}

func TestInsertSelectKeepsRowids(t *testing.T) {
	e := openTestEngine(t)
	mustExec(t, e, "CREATE TABLE src(a, b)")
	mustExec(t, e, "INSERT INTO src(rowid, a, b) VALUES (5, 'x', 1), (9, 'y', 2)")
	mustExec(t, e, "CREATE TABLE dst(a, b)")
	mustExec(t, e, "INSERT INTO dst SELECT * FROM src")

	got := queryAll(t, e, "SELECT rowid, a, b FROM dst")
	want := [][]any{{int64(5), "x", int64(1)}, {int64(9), "y", int64(2)}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
}

func TestTransactions(t *testing.T) {
	e := openTestEngine(t)
	mustExec(t, e, "CREATE TABLE t(a UNIQUE)")

	tx, err := e.Begin()
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if _, err := tx.Exec("INSERT INTO t VALUES (1)"); err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
	if _, err := tx.Exec("INSERT INTO t VALUES (1)"); err == nil {
		t.Fatal("duplicate insert succeeded")
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if got := queryAll(t, e, "SELECT a FROM t"); len(got) != 1 {
		t.Fatalf("rows after commit = %v, want one", got)
	}

	tx, err = e.Begin()
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if _, err := tx.Exec("INSERT INTO t VALUES (2)"); err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}
	if got := queryAll(t, e, "SELECT a FROM t"); len(got) != 1 {
		t.Errorf("rows after rollback = %v, want one", got)
	}
	if !e.AutoCommit() {
		t.Error("AutoCommit() = false after Rollback()")
	}
}

func TestPreparedStatement(t *testing.T) {
	e := openTestEngine(t)
	mustExec(t, e, "CREATE TABLE t(a, b)")

	s, err := e.Prepare("INSERT INTO t VALUES (?, ?)")
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := s.BindAll(i, "v"); err != nil {
			t.Fatalf("BindAll() error = %v", err)
		}
		if _, err := s.Step(); err != nil {
			t.Fatalf("Step() error = %v", err)
		}
		if err := s.Reset(); err != nil {
			t.Fatalf("Reset() error = %v", err)
		}
	}
	if err := s.Finalize(); err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}

	q, err := e.Prepare("SELECT a FROM t ORDER BY a")
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	defer q.Finalize()
	if got := q.ColumnNames(); !cmp.Equal(got, []string{"a"}) {
		t.Errorf("ColumnNames() = %v", got)
	}
	var texts []string
	for {
		ok, err := q.Step()
		if err != nil {
			t.Fatalf("Step() error = %v", err)
		}
		if !ok {
			break
		}
		texts = append(texts, q.ColumnText(0))
	}
	if diff := cmp.Diff([]string{"0", "1", "2"}, texts); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
}

func TestQueryRow(t *testing.T) {
	e := openTestEngine(t)
	mustExec(t, e, "CREATE TABLE t(a, b)")
	mustExec(t, e, "INSERT INTO t VALUES (1, 'one')")

	var a int64
	var b string
	if err := e.QueryRow("SELECT a, b FROM t WHERE a = ?", 1).Scan(&a, &b); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if a != 1 || b != "one" {
		t.Errorf("Scan() = %d, %q", a, b)
	}
	if err := e.QueryRow("SELECT a FROM t WHERE a = 2").Scan(&a); err == nil {
		t.Error("Scan() of empty result succeeded")
	}
}

func TestDropObjects(t *testing.T) {
	e := openTestEngine(t)
	mustExec(t, e, "CREATE TABLE t(a UNIQUE, b)")
	mustExec(t, e, "CREATE INDEX t_b ON t(b)")
	mustExec(t, e, "CREATE VIEW v AS SELECT a FROM t")
	mustExec(t, e, "CREATE TRIGGER tr AFTER INSERT ON t BEGIN SELECT 1; END")

	expectError(t, e, "DROP INDEX sqlite_autoindex_t_1", "cannot be dropped")
	expectError(t, e, "DROP TABLE v", "use DROP VIEW to delete view v")
	mustExec(t, e, "DROP INDEX t_b")
	mustExec(t, e, "DROP VIEW v")
	mustExec(t, e, "DROP TABLE t")
	mustExec(t, e, "DROP TABLE IF EXISTS t")
	expectError(t, e, "DROP TABLE t", "no such table: t")

	if got := queryAll(t, e, "SELECT count(*) FROM sqlite_master"); got[0][0] != int64(0) {
		t.Errorf("catalog rows left = %v", got[0][0])
	}
	if got := queryAll(t, e, "PRAGMA integrity_check"); got[0][0] != "ok" {
		t.Errorf("integrity_check = %v", got)
	}
}

func TestWritableSchema(t *testing.T) {
	e := openTestEngine(t)
	mustExec(t, e, "CREATE TABLE t(a)")
	mustExec(t, e, "PRAGMA writable_schema = 1")
	mustExec(t, e, "INSERT INTO sqlite_master VALUES ('view', 'v', 'v', 0, 'CREATE VIEW v AS SELECT a FROM t')")
	mustExec(t, e, "PRAGMA writable_schema = 0")

	mustExec(t, e, "INSERT INTO t VALUES (7)")
	got := queryAll(t, e, "SELECT a FROM v")
	if diff := cmp.Diff([][]any{{int64(7)}}, got); diff != "" {
		t.Errorf("view rows mismatch (-want +got):\n%s", diff)
	}
}

func TestPragmas(t *testing.T) {
	e := openTestEngine(t)
	mustExec(t, e, "PRAGMA page_size = 1024")
	mustExec(t, e, "PRAGMA reserve_size = 8")
	mustExec(t, e, "CREATE TABLE t(a)")

	tests := []struct {
		sql  string
		want any
	}{
		{"PRAGMA page_size", int64(1024)},
		{"PRAGMA reserve_size", int64(8)},
		{"PRAGMA cipher_reserve", int64(8)},
		{"PRAGMA encoding", "UTF-8"},
		{"PRAGMA auto_vacuum", int64(0)},
		{"PRAGMA freelist_count", int64(0)},
		{"PRAGMA user_version", int64(0)},
	}
	for _, tt := range tests {
		t.Run(tt.sql, func(t *testing.T) {
			got := queryAll(t, e, tt.sql)
			if len(got) != 1 || got[0][0] != tt.want {
				t.Errorf("%s = %v, want %v", tt.sql, got, tt.want)
			}
		})
	}

	mustExec(t, e, "PRAGMA user_version = -3")
	if got := queryAll(t, e, "PRAGMA user_version"); got[0][0] != int64(-3) {
		t.Errorf("user_version = %v, want -3", got[0][0])
	}

	mustExec(t, e, "PRAGMA page_size = 4096")
	if got := e.PendingPageSize(); got != 4096 {
		t.Errorf("PendingPageSize() = %d, want 4096", got)
	}
	if got := queryAll(t, e, "PRAGMA page_size"); got[0][0] != int64(1024) {
		t.Errorf("page_size of populated database = %v, want 1024", got[0][0])
	}

	got := queryAll(t, e, "PRAGMA table_info(t)")
	want := [][]any{{int64(0), "a", "", int64(0), nil, int64(0)}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("table_info mismatch (-want +got):\n%s", diff)
	}
}

func TestAttachDetach(t *testing.T) {
	e := openTestEngine(t)
	other := filepath.Join(t.TempDir(), "other.db")
	mustExec(t, e, "ATTACH ? AS aux", other)
	mustExec(t, e, "CREATE TABLE aux.t(a)")
	mustExec(t, e, "INSERT INTO aux.t VALUES (1)")

	got := queryAll(t, e, "SELECT name FROM aux.sqlite_master")
	if diff := cmp.Diff([][]any{{"t"}}, got); diff != "" {
		t.Errorf("aux catalog mismatch (-want +got):\n%s", diff)
	}
	expectError(t, e, "ATTACH ? AS aux", "")
	mustExec(t, e, "DETACH aux")
	expectError(t, e, "SELECT a FROM aux.t", "unknown database aux")
}

func TestVacuumStatement(t *testing.T) {
	e := openTestEngine(t)
	mustExec(t, e, "CREATE TABLE t(a INTEGER PRIMARY KEY, b)")
	for i := 0; i < 50; i++ {
		mustExec(t, e, "INSERT INTO t(b) VALUES (?)", strings.Repeat("x", 200))
	}
	mustExec(t, e, "DELETE FROM t WHERE a > 10")
	before := queryAll(t, e, "PRAGMA page_count")[0][0].(int64)

	mustExec(t, e, "VACUUM")

	after := queryAll(t, e, "PRAGMA page_count")[0][0].(int64)
	if after >= before {
		t.Errorf("page_count after VACUUM = %d, want less than %d", after, before)
	}
	if got := queryAll(t, e, "SELECT count(*) FROM t"); got[0][0] != int64(10) {
		t.Errorf("rows after VACUUM = %v, want 10", got[0][0])
	}
	if got := queryAll(t, e, "PRAGMA freelist_count"); got[0][0] != int64(0) {
		t.Errorf("freelist_count after VACUUM = %v, want 0", got[0][0])
	}

	mustExec(t, e, "BEGIN")
	expectError(t, e, "VACUUM", "cannot VACUUM from within a transaction")
	mustExec(t, e, "ROLLBACK")
	expectError(t, e, "VACUUM INTO 'x.db'", "VACUUM INTO")
}

func TestReserveSizeRebuild(t *testing.T) {
	e := openTestEngine(t)
	mustExec(t, e, "PRAGMA page_size = 1024")
	mustExec(t, e, "CREATE TABLE t(a, b)")
	mustExec(t, e, "CREATE INDEX idx_t_a ON t(a)")
	mustExec(t, e, "INSERT INTO t VALUES (1, 'one'), (2, 'two'), (3, 'three')")

	mustExec(t, e, "PRAGMA reserve_size = 16")

	if got := queryAll(t, e, "PRAGMA reserve_size"); got[0][0] != int64(16) {
		t.Errorf("reserve_size = %v, want 16", got[0][0])
	}
	if got := queryAll(t, e, "PRAGMA page_size"); got[0][0] != int64(1024) {
		t.Errorf("page_size = %v, want 1024", got[0][0])
	}
	got := queryAll(t, e, "SELECT a, b FROM t WHERE a >= 2 ORDER BY a")
	want := [][]any{{int64(2), "two"}, {int64(3), "three"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
	if got := queryAll(t, e, "PRAGMA integrity_check"); got[0][0] != "ok" {
		t.Errorf("integrity_check = %v", got)
	}
}

func TestActiveStatementBlocksVacuum(t *testing.T) {
	e := openTestEngine(t)
	mustExec(t, e, "CREATE TABLE t(a)")
	mustExec(t, e, "INSERT INTO t VALUES (1), (2)")

	rows, err := e.Query("SELECT a FROM t")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if !rows.Next() {
		t.Fatalf("Next() = false, err = %v", rows.Err())
	}
	_, err = e.Execute("VACUUM")
	if errs.CodeOf(err) != errs.LOCKED {
		t.Errorf("VACUUM with an open query error = %v, want LOCKED", err)
	}
	rows.Close()
	mustExec(t, e, "VACUUM")
}
