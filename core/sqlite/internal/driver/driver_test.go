package driver

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	errs "github.com/FocuswithJustin/sqlcompact/core/errors"
	"github.com/FocuswithJustin/sqlcompact/core/sqlite/internal/engine"
	"github.com/FocuswithJustin/sqlcompact/core/sqlite/internal/vacuum"
)

func openDB(t *testing.T, params string) (*sql.DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	dsn := path
	if params != "" {
		dsn += "?" + params
	}
	db, err := sql.Open(Name, dsn)
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db, path
}

func mustExec(t *testing.T, db *sql.DB, query string, args ...any) sql.Result {
	t.Helper()
	res, err := db.Exec(query, args...)
	if err != nil {
		t.Fatalf("Exec(%q) error = %v", query, err)
	}
	return res
}

func TestDriverRegistration(t *testing.T) {
	if !slices.Contains(sql.Drivers(), Name) {
		t.Errorf("%s driver not registered", Name)
	}
}

func TestParseDSN(t *testing.T) {
	tests := []struct {
		dsn     string
		want    *Config
		wantErr bool
	}{
		{dsn: "a.db", want: &Config{Filename: "a.db"}},
		{dsn: "file:a.db?mode=ro", want: &Config{Filename: "a.db", Options: engine.Options{ReadOnly: true}}},
		{
			dsn: "a.db?_key=pw&_reserve=32&_page_size=1024&_busy_timeout=250",
			want: &Config{Filename: "a.db", Key: "pw", Options: engine.Options{
				Reserve: 32, PageSize: 1024, BusyTimeout: 250 * time.Millisecond,
			}},
		},
		{dsn: "a.db?_codec=checksum&_cache_size=50", want: &Config{Filename: "a.db", Codec: "checksum", Options: engine.Options{CacheSize: 50}}},
		{dsn: "", wantErr: true},
		{dsn: ":memory:", wantErr: true},
		{dsn: "a.db?_reserve=lots", wantErr: true},
		{dsn: "a.db?mode=memory", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.dsn, func(t *testing.T) {
			got, err := ParseDSN(tt.dsn)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseDSN() = %+v, want error", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseDSN() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ParseDSN() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEngineOptionsCodecReserve(t *testing.T) {
	cfg := &Config{Filename: "a.db", Key: "pw"}
	opts, err := cfg.EngineOptions()
	if err != nil {
		t.Fatalf("EngineOptions() error = %v", err)
	}
	if opts.Codec == nil || !opts.Codec.Keyed() {
		t.Fatal("EngineOptions() did not build a keyed codec")
	}
	if opts.Reserve != opts.Codec.Overhead() {
		t.Errorf("Reserve = %d, want codec overhead %d", opts.Reserve, opts.Codec.Overhead())
	}

	if _, err := (&Config{Codec: "cipher"}).EngineOptions(); err == nil {
		t.Error("cipher codec without a key should fail")
	}
}

func TestExecAndQuery(t *testing.T) {
	db, _ := openDB(t, "")
	mustExec(t, db, "CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT, score REAL)")

	res := mustExec(t, db, "INSERT INTO users (name, score) VALUES (?, ?)", "Alice", 9.5)
	if id, _ := res.LastInsertId(); id != 1 {
		t.Errorf("LastInsertId() = %d, want 1", id)
	}
	mustExec(t, db, "INSERT INTO users (name, score) VALUES (:name, :score)",
		sql.Named("name", "Bob"), sql.Named("score", 7))

	res = mustExec(t, db, "UPDATE users SET score = score + 1")
	if n, _ := res.RowsAffected(); n != 2 {
		t.Errorf("RowsAffected() = %d, want 2", n)
	}

	rows, err := db.Query("SELECT id, name, score FROM users ORDER BY id")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	defer rows.Close()
	type user struct {
		ID    int64
		Name  string
		Score float64
	}
	var got []user
	for rows.Next() {
		var u user
		if err := rows.Scan(&u.ID, &u.Name, &u.Score); err != nil {
			t.Fatalf("Scan() error = %v", err)
		}
		got = append(got, u)
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("rows.Err() = %v", err)
	}
	want := []user{{1, "Alice", 10.5}, {2, "Bob", 8}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
}

func TestExecScript(t *testing.T) {
	db, _ := openDB(t, "")
	mustExec(t, db, "CREATE TABLE a(x); CREATE TABLE b(y); INSERT INTO a VALUES (1)")
	var n int
	if err := db.QueryRow("SELECT count(*) FROM sqlite_master").Scan(&n); err != nil {
		t.Fatalf("QueryRow() error = %v", err)
	}
	if n != 2 {
		t.Errorf("tables = %d, want 2", n)
	}
}

func TestPreparedStatementReuse(t *testing.T) {
	db, _ := openDB(t, "")
	mustExec(t, db, "CREATE TABLE kv (k TEXT PRIMARY KEY, v INTEGER)")

	stmt, err := db.Prepare("INSERT INTO kv VALUES (?, ?)")
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	defer stmt.Close()
	for i, k := range []string{"a", "b", "c"} {
		if _, err := stmt.Exec(k, i); err != nil {
			t.Fatalf("Exec(%s) error = %v", k, err)
		}
	}
	_, err = stmt.Exec("a", 9)
	if got := errs.CodeOf(err); got != errs.CONSTRAINT {
		t.Errorf("duplicate key: CodeOf(%v) = %v, want CONSTRAINT", err, got)
	}

	var sum int
	if err := db.QueryRow("SELECT sum(v) FROM kv").Scan(&sum); err != nil {
		t.Fatalf("QueryRow() error = %v", err)
	}
	if sum != 3 {
		t.Errorf("sum = %d, want 3", sum)
	}
}

func TestTransaction(t *testing.T) {
	db, _ := openDB(t, "")
	mustExec(t, db, "CREATE TABLE t (x)")

	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if _, err := tx.Exec("INSERT INTO t VALUES (1)"); err != nil {
		t.Fatalf("tx.Exec() error = %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}

	tx, err = db.Begin()
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if _, err := tx.Exec("INSERT INTO t VALUES (2)"); err != nil {
		t.Fatalf("tx.Exec() error = %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if err := tx.Commit(); !errors.Is(err, sql.ErrTxDone) {
		t.Errorf("second Commit() error = %v, want ErrTxDone", err)
	}

	var got []int
	rows, err := db.Query("SELECT x FROM t")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	defer rows.Close()
	for rows.Next() {
		var x int
		if err := rows.Scan(&x); err != nil {
			t.Fatal(err)
		}
		got = append(got, x)
	}
	if diff := cmp.Diff([]int{2}, got); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
}

func TestReadOnlyTransaction(t *testing.T) {
	db, _ := openDB(t, "")
	mustExec(t, db, "CREATE TABLE t (x)")

	tx, err := db.BeginTx(context.Background(), &sql.TxOptions{ReadOnly: true})
	if err != nil {
		t.Fatalf("BeginTx() error = %v", err)
	}
	defer tx.Rollback()
	if _, err := tx.Exec("INSERT INTO t VALUES (?)", 1); errs.CodeOf(err) != errs.READONLY {
		t.Errorf("write in read-only tx error = %v, want READONLY", err)
	}
	var n int
	if err := tx.QueryRow("SELECT count(*) FROM t").Scan(&n); err != nil {
		t.Errorf("read in read-only tx error = %v", err)
	}
}

func TestSavepoints(t *testing.T) {
	db, _ := openDB(t, "")
	mustExec(t, db, "CREATE TABLE t (x)")
	conn, err := db.Conn(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(context.Background(), "BEGIN IMMEDIATE"); err != nil {
		t.Fatal(err)
	}
	if _, err := conn.ExecContext(context.Background(), "INSERT INTO t VALUES (1)"); err != nil {
		t.Fatal(err)
	}
	err = conn.Raw(func(dc any) error {
		c := dc.(*Conn)
		tx := &Tx{conn: c}
		if err := tx.Savepoint("sp"); err != nil {
			return err
		}
		if _, err := c.engine.Execute("INSERT INTO t VALUES (2)"); err != nil {
			return err
		}
		return tx.RollbackToSavepoint("sp")
	})
	if err != nil {
		t.Fatalf("savepoint sequence error = %v", err)
	}
	if _, err := conn.ExecContext(context.Background(), "COMMIT"); err != nil {
		t.Fatal(err)
	}
	// The pool holds a single connection and conn still owns it.
	var n int
	if err := conn.QueryRowContext(context.Background(), "SELECT count(*) FROM t").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("rows = %d, want 1", n)
	}
}

func TestValueConversion(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)
	tests := []struct {
		in      any
		want    any
		wantErr bool
	}{
		{in: nil, want: nil},
		{in: 42, want: int64(42)},
		{in: uint8(7), want: int64(7)},
		{in: float32(1.5), want: float64(1.5)},
		{in: true, want: int64(1)},
		{in: "s", want: "s"},
		{in: ts, want: "2024-05-01 12:30:00+00:00"},
		{in: uint64(1 << 63), wantErr: true},
		{in: struct{}{}, wantErr: true},
	}
	for _, tt := range tests {
		got, err := sqlcompactConverter.ConvertValue(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ConvertValue(%v) = %v, want error", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ConvertValue(%v) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ConvertValue(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestConnVacuum(t *testing.T) {
	db, _ := openDB(t, "_page_size=1024")
	mustExec(t, db, "CREATE TABLE t (x)")
	for i := 0; i < 50; i++ {
		mustExec(t, db, "INSERT INTO t VALUES (?)", i)
	}
	conn, err := db.Conn(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	var res *vacuum.Result
	err = conn.Raw(func(dc any) error {
		var err error
		res, err = dc.(*Conn).Vacuum(context.Background(), 24)
		return err
	})
	if err != nil {
		t.Fatalf("Vacuum() error = %v", err)
	}
	if res.Reserve != 24 || res.PageSize != 1024 {
		t.Errorf("geometry = %d/%d, want 1024/24", res.PageSize, res.Reserve)
	}
	var reserve int
	if err := conn.QueryRowContext(context.Background(), "PRAGMA reserve_size").Scan(&reserve); err != nil {
		t.Fatal(err)
	}
	if reserve != 24 {
		t.Errorf("reserve_size = %d, want 24", reserve)
	}
}

func TestKeyedDatabase(t *testing.T) {
	db, path := openDB(t, "_key=secret")
	mustExec(t, db, "CREATE TABLE t (x)")
	mustExec(t, db, "INSERT INTO t VALUES ('hidden')")
	mustExec(t, db, "PRAGMA cipher_reserve = 40")
	db.Close()

	db2, err := sql.Open(Name, path+"?_key=secret")
	if err != nil {
		t.Fatal(err)
	}
	defer db2.Close()
	var x string
	var reserve int
	if err := db2.QueryRow("SELECT x FROM t").Scan(&x); err != nil {
		t.Fatalf("reopen with key: %v", err)
	}
	if err := db2.QueryRow("PRAGMA reserve_size").Scan(&reserve); err != nil {
		t.Fatal(err)
	}
	if x != "hidden" || reserve != 40 {
		t.Errorf("got %q reserve %d, want hidden reserve 40", x, reserve)
	}

	db3, err := sql.Open(Name, path+"?_key=wrong")
	if err != nil {
		t.Fatal(err)
	}
	defer db3.Close()
	if err := db3.QueryRow("SELECT x FROM t").Scan(&x); err == nil {
		t.Error("wrong key read the table")
	}
}

func TestReadOnlyMode(t *testing.T) {
	db, path := openDB(t, "")
	mustExec(t, db, "CREATE TABLE t (x)")
	db.Close()

	ro, err := sql.Open(Name, path+"?mode=ro")
	if err != nil {
		t.Fatal(err)
	}
	defer ro.Close()
	if _, err := ro.Exec("INSERT INTO t VALUES (1)"); err == nil {
		t.Error("insert on read-only connection succeeded")
	}
}
