package vacuum_test

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	errs "github.com/FocuswithJustin/sqlcompact/core/errors"
	"github.com/FocuswithJustin/sqlcompact/core/sqlite/internal/pager"
	"github.com/FocuswithJustin/sqlcompact/core/sqlite/internal/vacuum"
)

// scriptConn answers Prepare from a table of canned statements and records
// the SQL it was given.
type scriptConn struct {
	stmts     map[string]*scriptStmt
	prepared  []string
	finalized []string
}

func (c *scriptConn) AutoCommit() bool { return true }
func (c *scriptConn) SetAutoCommit(bool) {}
func (c *scriptConn) Flags() vacuum.Flags { return 0 }
func (c *scriptConn) SetFlags(vacuum.Flags) {}
func (c *scriptConn) Changes() (int64, int64) { return 0, 0 }
func (c *scriptConn) SetChanges(int64, int64) {}
func (c *scriptConn) PendingPageSize() int { return 0 }
func (c *scriptConn) SetPendingPageSize(int) {}
func (c *scriptConn) PendingAutoVacuum() (pager.AutoVacuum, bool) { return 0, false }
func (c *scriptConn) Store(string) (*pager.Pager, error) { return nil, errors.New("no store") }
func (c *scriptConn) ResetSchemas() {}

func (c *scriptConn) Prepare(sql string) (vacuum.Stmt, error) {
	c.prepared = append(c.prepared, sql)
	s, ok := c.stmts[sql]
	if !ok {
		return nil, errs.Newf(errs.ERROR, "near %q: syntax error", sql)
	}
	s.conn, s.sql, s.pos = c, sql, 0
	return s, nil
}

type scriptStmt struct {
	rows        []string
	cols        int
	stepErr     error
	finalizeErr error

	conn *scriptConn
	sql  string
	pos  int
}

func (s *scriptStmt) Step() (bool, error) {
	if s.stepErr != nil {
		return false, s.stepErr
	}
	if s.pos >= len(s.rows) {
		return false, nil
	}
	s.pos++
	return true, nil
}

func (s *scriptStmt) ColumnCount() int {
	if s.cols == 0 {
		return 1
	}
	return s.cols
}
func (s *scriptStmt) ColumnText(int) string { return s.rows[s.pos-1] }
func (s *scriptStmt) Finalize() error {
	s.conn.finalized = append(s.conn.finalized, s.sql)
	return s.finalizeErr
}

func TestRunnerRun(t *testing.T) {
	stepFail := errs.New(errs.CONSTRAINT, "UNIQUE constraint failed: t.a")
	tests := []struct {
		name     string
		sql      string
		stmts    map[string]*scriptStmt
		wantCode errs.Code
		wantStmt bool
	}{
		{name: "ok", sql: "DELETE FROM t", stmts: map[string]*scriptStmt{"DELETE FROM t": {}}},
		{name: "empty", sql: "", wantCode: errs.NOMEM},
		{name: "compile error", sql: "DELETE FRM t", wantCode: errs.ERROR, wantStmt: true},
		{
			name:     "step error",
			sql:      "INSERT INTO t VALUES (1)",
			stmts:    map[string]*scriptStmt{"INSERT INTO t VALUES (1)": {stepErr: stepFail}},
			wantCode: errs.CONSTRAINT,
			wantStmt: true,
		},
		{
			name:     "returns a row",
			sql:      "SELECT 1",
			stmts:    map[string]*scriptStmt{"SELECT 1": {rows: []string{"1"}}},
			wantCode: errs.INTERNAL,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := &scriptConn{stmts: tt.stmts}
			err := vacuum.NewRunner(conn).Run(tt.sql)
			if tt.wantCode == 0 {
				if err != nil {
					t.Fatalf("Run() error = %v", err)
				}
				if diff := cmp.Diff([]string{tt.sql}, conn.finalized); diff != "" {
					t.Errorf("finalized mismatch (-want +got):\n%s", diff)
				}
				return
			}
			if err == nil {
				t.Fatal("Run() error = nil")
			}
			if got := errs.CodeOf(err); got != tt.wantCode {
				t.Errorf("CodeOf(%v) = %v, want %v", err, got, tt.wantCode)
			}
			var stmtErr *vacuum.StatementError
			if got := errors.As(err, &stmtErr); got != tt.wantStmt {
				t.Errorf("errors.As(StatementError) = %v, want %v", got, tt.wantStmt)
			}
			if tt.wantStmt && stmtErr.SQL != tt.sql {
				t.Errorf("StatementError.SQL = %q, want %q", stmtErr.SQL, tt.sql)
			}
		})
	}
}

func TestRunnerRunGenerated(t *testing.T) {
	conn := &scriptConn{stmts: map[string]*scriptStmt{
		"gen": {rows: []string{"A", "B", "C"}},
		"A":   {},
		"B":   {},
		"C":   {},
	}}
	if err := vacuum.NewRunner(conn).RunGenerated("gen"); err != nil {
		t.Fatalf("RunGenerated() error = %v", err)
	}
	want := []string{"gen", "A", "B", "C"}
	if diff := cmp.Diff(want, conn.prepared); diff != "" {
		t.Errorf("prepared mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"A", "B", "C", "gen"}, conn.finalized); diff != "" {
		t.Errorf("finalized mismatch (-want +got):\n%s", diff)
	}
}

func TestRunnerRunGeneratedStopsAtFirstFailure(t *testing.T) {
	conn := &scriptConn{stmts: map[string]*scriptStmt{
		"gen": {rows: []string{"A", "bad", "C"}},
		"A":   {},
		"C":   {},
	}}
	err := vacuum.NewRunner(conn).RunGenerated("gen")
	var stmtErr *vacuum.StatementError
	if !errors.As(err, &stmtErr) || stmtErr.SQL != "bad" {
		t.Fatalf("RunGenerated() error = %v, want StatementError for bad", err)
	}
	if diff := cmp.Diff([]string{"gen", "A", "bad"}, conn.prepared); diff != "" {
		t.Errorf("prepared mismatch (-want +got):\n%s", diff)
	}
	if got := conn.finalized[len(conn.finalized)-1]; got != "gen" {
		t.Errorf("generator not finalized, last finalized = %q", got)
	}
}

func TestRunnerRunGeneratedFinalizeError(t *testing.T) {
	busy := errs.New(errs.BUSY, "database is locked")
	conn := &scriptConn{stmts: map[string]*scriptStmt{
		"gen": {rows: []string{"A"}, finalizeErr: busy},
		"A":   {},
	}}
	err := vacuum.NewRunner(conn).RunGenerated("gen")
	var stmtErr *vacuum.StatementError
	if !errors.As(err, &stmtErr) || stmtErr.SQL != "gen" {
		t.Fatalf("RunGenerated() error = %v, want StatementError for gen", err)
	}
	if got := errs.CodeOf(err); got != errs.BUSY {
		t.Errorf("CodeOf(%v) = %v, want BUSY", err, got)
	}
}

func TestRunnerRunGeneratedKeepsFirstError(t *testing.T) {
	conn := &scriptConn{stmts: map[string]*scriptStmt{
		"gen": {rows: []string{"bad"}, finalizeErr: errs.New(errs.BUSY, "database is locked")},
	}}
	err := vacuum.NewRunner(conn).RunGenerated("gen")
	var stmtErr *vacuum.StatementError
	if !errors.As(err, &stmtErr) || stmtErr.SQL != "bad" {
		t.Fatalf("RunGenerated() error = %v, want StatementError for bad", err)
	}
}

func TestRunnerRunGeneratedColumnCount(t *testing.T) {
	conn := &scriptConn{stmts: map[string]*scriptStmt{
		"gen": {rows: []string{"A"}, cols: 2},
		"A":   {},
	}}
	err := vacuum.NewRunner(conn).RunGenerated("gen")
	if got := errs.CodeOf(err); got != errs.INTERNAL {
		t.Fatalf("CodeOf(%v) = %v, want INTERNAL", err, got)
	}
	if diff := cmp.Diff([]string{"gen"}, conn.prepared); diff != "" {
		t.Errorf("prepared mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"gen"}, conn.finalized); diff != "" {
		t.Errorf("finalized mismatch (-want +got):\n%s", diff)
	}
}

func TestRunnerRunGeneratedEmpty(t *testing.T) {
	err := vacuum.NewRunner(&scriptConn{}).RunGenerated("")
	if !errors.Is(err, vacuum.ErrOutOfMemory) {
		t.Errorf("RunGenerated(\"\") error = %v, want ErrOutOfMemory", err)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		s    vacuum.State
		want string
	}{
		{vacuum.StateIdle, "idle"},
		{vacuum.StateCommitted, "committed"},
		{vacuum.StateFailed, "failed"},
		{vacuum.State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}
