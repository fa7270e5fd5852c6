package vacuum_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	errs "github.com/FocuswithJustin/sqlcompact/core/errors"
	"github.com/FocuswithJustin/sqlcompact/core/sqlite/internal/codec"
	"github.com/FocuswithJustin/sqlcompact/core/sqlite/internal/engine"
	"github.com/FocuswithJustin/sqlcompact/core/sqlite/internal/pager"
	"github.com/FocuswithJustin/sqlcompact/core/sqlite/internal/vacuum"
)

// override replaces *p for the rest of the test.
func override[T any](t *testing.T, p *T, v T) {
	t.Helper()
	old := *p
	*p = v
	t.Cleanup(func() { *p = old })
}

type fixture struct {
	e    *engine.Engine
	path string
}

func newFixture(t *testing.T, opts engine.Options) *fixture {
	t.Helper()
	path := filepath.Join(t.TempDir(), "main.db")
	e, err := engine.OpenWithOptions(path, opts)
	if err != nil {
		t.Fatalf("OpenWithOptions() error = %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return &fixture{e: e, path: path}
}

func (f *fixture) exec(t *testing.T, sql string, args ...any) {
	t.Helper()
	if _, err := f.e.Execute(sql, args...); err != nil {
		t.Fatalf("Execute(%q) error = %v", sql, err)
	}
}

func (f *fixture) query(t *testing.T, sql string) [][]any {
	t.Helper()
	res, err := f.e.Execute(sql)
	if err != nil {
		t.Fatalf("Execute(%q) error = %v", sql, err)
	}
	out := make([][]any, len(res.Rows))
	for i, r := range res.Rows {
		out[i] = make([]any, len(r))
		for j, v := range r {
			out[i][j] = v.Go()
		}
	}
	return out
}

func (f *fixture) scalar(t *testing.T, sql string) any {
	t.Helper()
	rows := f.query(t, sql)
	if len(rows) != 1 || len(rows[0]) != 1 {
		t.Fatalf("%s returned %v, want a single value", sql, rows)
	}
	return rows[0][0]
}

// seed builds the reference database: t(a,b) with three rows and a plain
// index on a.
func (f *fixture) seed(t *testing.T) {
	t.Helper()
	f.exec(t, "CREATE TABLE t(a, b)")
	f.exec(t, "CREATE INDEX idx_t_a ON t(a)")
	f.exec(t, "INSERT INTO t VALUES (3, 'three'), (1, 'one'), (2, 'two')")
}

// snapshot captures everything a compaction must preserve.
func (f *fixture) snapshot(t *testing.T) map[string][][]any {
	t.Helper()
	snap := map[string][][]any{
		"catalog": f.query(t, "SELECT type, name, tbl_name, sql FROM sqlite_master ORDER BY name"),
	}
	for _, row := range f.query(t, "SELECT name FROM sqlite_master WHERE type = 'table' AND rootpage > 0") {
		name := row[0].(string)
		snap[name] = f.query(t, "SELECT rowid, * FROM '"+name+"'")
	}
	return snap
}

func TestRunChangesReserve(t *testing.T) {
	f := newFixture(t, engine.Options{PageSize: 1024})
	f.seed(t)
	cookie := f.scalar(t, "PRAGMA schema_version").(int64)

	res, err := f.e.Vacuum(context.Background(), 16)
	if err != nil {
		t.Fatalf("Vacuum() error = %v", err)
	}
	if res.State != vacuum.StateCommitted {
		t.Errorf("State = %v, want %v", res.State, vacuum.StateCommitted)
	}
	if res.PageSize != 1024 || res.Reserve != 16 {
		t.Errorf("geometry = %d/%d, want 1024/16", res.PageSize, res.Reserve)
	}

	if got := f.scalar(t, "PRAGMA page_size"); got != int64(1024) {
		t.Errorf("page_size = %v, want 1024", got)
	}
	if got := f.scalar(t, "PRAGMA reserve_size"); got != int64(16) {
		t.Errorf("reserve_size = %v, want 16", got)
	}
	if got := f.scalar(t, "PRAGMA schema_version"); got != cookie+1 {
		t.Errorf("schema_version = %v, want %d", got, cookie+1)
	}

	got := f.query(t, "SELECT a, b FROM t ORDER BY a")
	want := [][]any{{int64(1), "one"}, {int64(2), "two"}, {int64(3), "three"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
	if got := f.scalar(t, "SELECT b FROM t WHERE a = 2"); got != "two" {
		t.Errorf("indexed lookup = %v, want two", got)
	}
	if got := f.scalar(t, "SELECT count(*) FROM sqlite_master WHERE name = 'idx_t_a'"); got != int64(1) {
		t.Errorf("idx_t_a missing after compaction")
	}
	if got := f.scalar(t, "PRAGMA integrity_check"); got != "ok" {
		t.Errorf("integrity_check = %v", got)
	}

	// The new geometry survives a reopen.
	if err := f.e.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	e, err := engine.Open(f.path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer e.Close()
	if got := e.GetPager().Reserve(); got != 16 {
		t.Errorf("reserve after reopen = %d, want 16", got)
	}
}

func TestRunIdempotent(t *testing.T) {
	f := newFixture(t, engine.Options{})
	f.seed(t)
	f.exec(t, "CREATE TABLE u(id INTEGER PRIMARY KEY AUTOINCREMENT, v UNIQUE)")
	f.exec(t, "INSERT INTO u(v) VALUES ('x'), ('y'), ('z')")
	f.exec(t, "DELETE FROM u WHERE v = 'y'")
	f.exec(t, "CREATE UNIQUE INDEX idx_t_b ON t(b)")
	f.exec(t, "CREATE VIEW v_t AS SELECT a FROM t WHERE a > 1")
	f.exec(t, "CREATE TRIGGER tr_t AFTER INSERT ON t BEGIN SELECT 1; END")
	f.exec(t, "CREATE VIRTUAL TABLE vt USING fts5(body)")
	before := f.snapshot(t)
	reserve := f.e.GetPager().Reserve()

	for i := 0; i < 2; i++ {
		if _, err := f.e.Vacuum(context.Background(), reserve); err != nil {
			t.Fatalf("Vacuum() #%d error = %v", i+1, err)
		}
		if diff := cmp.Diff(before, f.snapshot(t)); diff != "" {
			t.Fatalf("content changed by compaction #%d (-before +after):\n%s", i+1, diff)
		}
	}
	if got := f.query(t, "SELECT a FROM v_t ORDER BY a"); !cmp.Equal(got, [][]any{{int64(2)}, {int64(3)}}) {
		t.Errorf("view rows = %v", got)
	}
}

func TestRunCopiesSequenceExactly(t *testing.T) {
	f := newFixture(t, engine.Options{})
	f.exec(t, "CREATE TABLE u(id INTEGER PRIMARY KEY AUTOINCREMENT, v)")
	f.exec(t, "INSERT INTO u(v) VALUES ('a'), ('b')")
	f.exec(t, "UPDATE sqlite_sequence SET seq = 100 WHERE name = 'u'")
	before := f.query(t, "SELECT rowid, name, seq FROM sqlite_sequence")

	if _, err := f.e.Vacuum(context.Background(), 0); err != nil {
		t.Fatalf("Vacuum() error = %v", err)
	}
	if diff := cmp.Diff(before, f.query(t, "SELECT rowid, name, seq FROM sqlite_sequence")); diff != "" {
		t.Errorf("sqlite_sequence mismatch (-before +after):\n%s", diff)
	}
	f.exec(t, "INSERT INTO u(v) VALUES ('c')")
	if got := f.scalar(t, "SELECT max(id) FROM u"); got != int64(101) {
		t.Errorf("next id = %v, want 101", got)
	}
}

func TestRunPreservesMeta(t *testing.T) {
	f := newFixture(t, engine.Options{})
	f.seed(t)
	f.exec(t, "PRAGMA user_version = 42")
	f.exec(t, "PRAGMA default_cache_size = -500")
	cookie := f.scalar(t, "PRAGMA schema_version").(int64)

	if _, err := f.e.Vacuum(context.Background(), 8); err != nil {
		t.Fatalf("Vacuum() error = %v", err)
	}
	tests := []struct {
		pragma string
		want   any
	}{
		{"user_version", int64(42)},
		{"default_cache_size", int64(-500)},
		{"schema_version", cookie + 1},
		{"encoding", "UTF-8"},
	}
	for _, tt := range tests {
		if got := f.scalar(t, "PRAGMA "+tt.pragma); got != tt.want {
			t.Errorf("%s = %v, want %v", tt.pragma, got, tt.want)
		}
	}
}

func TestRunPendingPageSize(t *testing.T) {
	f := newFixture(t, engine.Options{PageSize: 1024})
	f.seed(t)
	f.exec(t, "PRAGMA page_size = 4096")

	res, err := f.e.Vacuum(context.Background(), 0)
	if err != nil {
		t.Fatalf("Vacuum() error = %v", err)
	}
	if res.PageSize != 4096 {
		t.Errorf("PageSize = %d, want 4096", res.PageSize)
	}
	if got := f.scalar(t, "SELECT count(*) FROM t"); got != int64(3) {
		t.Errorf("rows = %v, want 3", got)
	}
}

func TestRunMemoryIgnoresPendingPageSize(t *testing.T) {
	e, err := engine.OpenWithOptions(":memory:", engine.Options{PageSize: 1024})
	if err != nil {
		t.Fatalf("OpenWithOptions() error = %v", err)
	}
	t.Cleanup(func() { e.Close() })
	f := &fixture{e: e}
	f.seed(t)
	f.e.SetPendingPageSize(4096)

	res, err := f.e.Vacuum(context.Background(), 16)
	if err != nil {
		t.Fatalf("Vacuum() error = %v", err)
	}
	if res.PageSize != 1024 || res.Reserve != 16 {
		t.Errorf("geometry = %d/%d, want 1024/16", res.PageSize, res.Reserve)
	}
	want := [][]any{{int64(1), "one"}, {int64(2), "two"}, {int64(3), "three"}}
	if diff := cmp.Diff(want, f.query(t, "SELECT a, b FROM t ORDER BY a")); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
}

func TestRunKeyedKeepsPageSize(t *testing.T) {
	c, err := codec.New(codec.NameCipher, "secret", 32)
	if err != nil {
		t.Fatalf("codec.New() error = %v", err)
	}
	f := newFixture(t, engine.Options{PageSize: 1024, Reserve: 32, Codec: c})
	f.seed(t)
	f.e.SetPendingPageSize(4096)

	res, err := f.e.Vacuum(context.Background(), 48)
	if err != nil {
		t.Fatalf("Vacuum() error = %v", err)
	}
	if res.PageSize != 1024 || res.Reserve != 48 {
		t.Errorf("geometry = %d/%d, want 1024/48", res.PageSize, res.Reserve)
	}
	if got := f.e.PendingPageSize(); got != 0 {
		t.Errorf("PendingPageSize() = %d, want 0", got)
	}
	if got := f.query(t, "SELECT a FROM t ORDER BY a"); len(got) != 3 {
		t.Errorf("rows = %v, want 3", got)
	}
}

func TestRunInsideTransaction(t *testing.T) {
	f := newFixture(t, engine.Options{})
	f.seed(t)
	f.exec(t, "BEGIN")
	f.exec(t, "INSERT INTO t VALUES (4, 'four')")

	_, err := f.e.Vacuum(context.Background(), 16)
	if !errors.Is(err, vacuum.ErrInvalidState) {
		t.Fatalf("Vacuum() error = %v, want ErrInvalidState", err)
	}
	if f.e.AutoCommit() {
		t.Error("transaction ended by a refused compaction")
	}
	f.exec(t, "COMMIT")
	if got := f.scalar(t, "SELECT count(*) FROM t"); got != int64(4) {
		t.Errorf("rows = %v, want 4", got)
	}
}

func TestRunRestoresConnection(t *testing.T) {
	f := newFixture(t, engine.Options{})
	f.seed(t)
	f.exec(t, "INSERT INTO t VALUES (9, 'nine')")
	changes, total := f.e.Changes()
	f.e.SetFlags(engine.FlagIgnoreChecks)

	if _, err := f.e.Vacuum(context.Background(), 0); err != nil {
		t.Fatalf("Vacuum() error = %v", err)
	}
	if got := f.e.Flags(); got != engine.FlagIgnoreChecks {
		t.Errorf("Flags() = %v, want %v", got, engine.FlagIgnoreChecks)
	}
	if c, tot := f.e.Changes(); c != changes || tot != total {
		t.Errorf("Changes() = %d/%d, want %d/%d", c, tot, changes, total)
	}
	if !f.e.AutoCommit() {
		t.Error("AutoCommit() = false after compaction")
	}
	if n := len(f.e.Databases()); n != 1 {
		t.Errorf("%d databases attached after compaction, want 1", n)
	}
}

func TestRunFailureLeavesMainUnchanged(t *testing.T) {
	injected := errs.New(errs.IOERR, "injected")
	tests := []struct {
		name   string
		inject func(t *testing.T)
		code   errs.Code
	}{
		{"validated", failAt(vacuum.StateValidated, injected), errs.IOERR},
		{"scratch attached", failAt(vacuum.StateScratchAttached, injected), errs.IOERR},
		{"configured", failAt(vacuum.StateConfigured, injected), errs.IOERR},
		{"schema mirrored", failAt(vacuum.StateSchemaMirrored, injected), errs.IOERR},
		{"data copied", failAt(vacuum.StateDataCopied, injected), errs.IOERR},
		{"scratch geometry", func(t *testing.T) {
			override(t, vacuum.SetPageSizeHook, func(*pager.Pager, int, int, bool) error { return injected })
		}, errs.NOMEM},
		{"meta copy", func(t *testing.T) {
			override(t, vacuum.CopyMetaHook, func(src, dst *pager.Pager) error {
				return errs.WithCode(errs.INTERNAL, injected)
			})
		}, errs.INTERNAL},
		{"copy into main", func(t *testing.T) {
			override(t, vacuum.CopyFileHook, func(dst, src *pager.Pager) error { return injected })
		}, errs.IOERR},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, engine.Options{PageSize: 1024})
			f.seed(t)
			before := f.snapshot(t)
			raw, err := os.ReadFile(f.path)
			if err != nil {
				t.Fatalf("ReadFile() error = %v", err)
			}

			tt.inject(t)
			res, err := f.e.Vacuum(context.Background(), 16)
			if err == nil {
				t.Fatalf("Vacuum() = %+v, want error", res)
			}
			if got := errs.CodeOf(err); got != tt.code {
				t.Errorf("CodeOf(%v) = %v, want %v", err, got, tt.code)
			}

			after, err := os.ReadFile(f.path)
			if err != nil {
				t.Fatalf("ReadFile() error = %v", err)
			}
			if !bytes.Equal(raw, after) {
				t.Error("main database file changed by a failed compaction")
			}
			if got := f.e.GetPager().Reserve(); got != 0 {
				t.Errorf("reserve = %d, want 0", got)
			}
			if n := len(f.e.Databases()); n != 1 {
				t.Errorf("%d databases attached after failure, want 1", n)
			}
			if !f.e.AutoCommit() {
				t.Error("AutoCommit() = false after failure")
			}
			if diff := cmp.Diff(before, f.snapshot(t)); diff != "" {
				t.Errorf("content changed (-before +after):\n%s", diff)
			}
		})
	}
}

func failAt(state vacuum.State, err error) func(t *testing.T) {
	return func(t *testing.T) {
		override(t, vacuum.AfterStepHook, func(s vacuum.State) error {
			if s == state {
				return err
			}
			return nil
		})
	}
}

// Main is committed by the page copy, so a scratch commit failure is
// reported without undoing the rebuilt content.
func TestRunScratchCommitFailure(t *testing.T) {
	f := newFixture(t, engine.Options{})
	f.seed(t)
	before := f.snapshot(t)
	override(t, vacuum.CommitHook, func(*pager.Pager) error {
		return errs.New(errs.IOERR, "injected")
	})

	_, err := f.e.Vacuum(context.Background(), 8)
	var storeErr *vacuum.StoreError
	if !errors.As(err, &storeErr) || storeErr.Op != "commit scratch" {
		t.Fatalf("Vacuum() error = %v, want commit scratch StoreError", err)
	}
	if got := errs.CodeOf(err); got != errs.IOERR {
		t.Errorf("CodeOf() = %v, want IOERR", got)
	}
	if n := len(f.e.Databases()); n != 1 {
		t.Errorf("%d databases attached after failure, want 1", n)
	}
	if diff := cmp.Diff(before, f.snapshot(t)); diff != "" {
		t.Errorf("content changed (-before +after):\n%s", diff)
	}
}

func TestRunActiveStatement(t *testing.T) {
	f := newFixture(t, engine.Options{})
	f.seed(t)
	rows, err := f.e.Query("SELECT a FROM t")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if !rows.Next() {
		t.Fatal("Next() = false, want a row")
	}
	_, err = f.e.Vacuum(context.Background(), 0)
	if !errors.Is(err, vacuum.ErrActiveStatements) {
		t.Errorf("Vacuum() error = %v, want ErrActiveStatements", err)
	}
	rows.Close()
	if _, err := f.e.Vacuum(context.Background(), 0); err != nil {
		t.Errorf("Vacuum() after Close error = %v", err)
	}
}
