package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDriverInfo(t *testing.T) {
	info := GetInfo()

	if info.DriverName != DriverName() || info.DriverName != "sqlcompact" {
		t.Errorf("DriverName = %q, want sqlcompact", info.DriverName)
	}
	if info.ReferenceDriverName != ReferenceDriverName() {
		t.Errorf("ReferenceDriverName mismatch: info=%s, func=%s", info.ReferenceDriverName, ReferenceDriverName())
	}
	if info.DriverType != DriverType() {
		t.Errorf("DriverType mismatch: info=%s, func=%s", info.DriverType, DriverType())
	}
	if info.IsCGO != IsCGO() {
		t.Errorf("IsCGO mismatch: info=%v, func=%v", info.IsCGO, IsCGO())
	}
	if info.Package == "" {
		t.Error("Package should not be empty")
	}
}

func TestDriverTypeConsistency(t *testing.T) {
	switch DriverType() {
	case "purego":
		if IsCGO() || ReferenceDriverName() != "sqlite" {
			t.Errorf("purego build: IsCGO=%v reference=%q", IsCGO(), ReferenceDriverName())
		}
	case "cgo":
		if !IsCGO() || ReferenceDriverName() != "sqlite3" {
			t.Errorf("cgo build: IsCGO=%v reference=%q", IsCGO(), ReferenceDriverName())
		}
	default:
		t.Errorf("unknown driver type: %s", DriverType())
	}
}

func TestOpenRejectsBadDSN(t *testing.T) {
	for _, dsn := range []string{"", ":memory:", "x.db?_reserve=abc"} {
		if db, err := Open(dsn); err == nil {
			db.Close()
			t.Errorf("Open(%q) succeeded", dsn)
		}
	}
}

func TestOpenReadOnly(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db := MustOpen(dbPath)
	if _, err := db.Exec(`CREATE TABLE test (id INTEGER PRIMARY KEY, value TEXT)`); err != nil {
		t.Fatalf("failed to create table: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO test (value) VALUES (?)`, "readonly"); err != nil {
		t.Fatalf("failed to insert: %v", err)
	}
	db.Close()

	rodb, err := OpenReadOnly(dbPath)
	if err != nil {
		t.Fatalf("failed to open read-only: %v", err)
	}
	defer rodb.Close()

	var value string
	if err := rodb.QueryRow(`SELECT value FROM test WHERE id = 1`).Scan(&value); err != nil {
		t.Fatalf("failed to query: %v", err)
	}
	if value != "readonly" {
		t.Errorf("expected 'readonly', got '%s'", value)
	}
	if _, err := rodb.Exec(`DELETE FROM test`); err == nil {
		t.Error("write through a read-only handle succeeded")
	}
}

func TestVacuumAndInspect(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(dbPath + "?_page_size=1024")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	if _, err := db.Exec(`CREATE TABLE t (a, b); CREATE INDEX idx_t_a ON t(a)`); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 200; i++ {
		if _, err := db.Exec(`INSERT INTO t VALUES (?, ?)`, i, "row"); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := db.Exec(`DELETE FROM t WHERE a % 2 = 0`); err != nil {
		t.Fatal(err)
	}
	before, err := Inspect(ctx, db)
	if err != nil {
		t.Fatalf("Inspect() error = %v", err)
	}

	res, err := Vacuum(ctx, db, 16)
	if err != nil {
		t.Fatalf("Vacuum() error = %v", err)
	}
	after, err := Inspect(ctx, db)
	if err != nil {
		t.Fatalf("Inspect() error = %v", err)
	}

	want := *before
	want.Reserve = 16
	want.SchemaVersion = before.SchemaVersion + 1
	want.FreelistCount = 0
	want.PageCount = int64(res.Pages)
	if diff := cmp.Diff(&want, after); diff != "" {
		t.Errorf("Inspect() after vacuum mismatch (-want +got):\n%s", diff)
	}

	problems, err := IntegrityCheck(ctx, db)
	if err != nil || len(problems) > 0 {
		t.Errorf("IntegrityCheck() = %v, %v", problems, err)
	}
	db.Close()

	problems, err = VerifyReference(ctx, dbPath)
	if err != nil || len(problems) > 0 {
		t.Errorf("VerifyReference() = %v, %v", problems, err)
	}
}

func TestVacuumNeedsEngineDriver(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	MustOpen(dbPath).Close()
	ref, err := OpenReference(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer ref.Close()
	if _, err := Vacuum(context.Background(), ref, 8); err == nil {
		t.Error("Vacuum() through the reference driver succeeded")
	}
}

func TestOpenKeyed(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "keyed.db")
	db, err := OpenKeyed(dbPath, "pw")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`CREATE TABLE s (v); INSERT INTO s VALUES ('x')`); err != nil {
		t.Fatal(err)
	}
	res, err := Vacuum(context.Background(), db, 64)
	if err != nil {
		t.Fatalf("Vacuum() error = %v", err)
	}
	if res.Reserve != 64 {
		t.Errorf("Reserve = %d, want 64", res.Reserve)
	}
	db.Close()

	db, err = OpenKeyed(dbPath, "pw")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	var v string
	if err := db.QueryRow(`SELECT v FROM s`).Scan(&v); err != nil || v != "x" {
		t.Errorf("read after reopen = %q, %v", v, err)
	}
}
