package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FocuswithJustin/sqlcompact/core/sqlite"
)

func newTestShell(t *testing.T) (*Shell, *bytes.Buffer) {
	t.Helper()
	path := createDB(t)
	db, err := sqlite.OpenWith(path, sqlite.Options{})
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	var out bytes.Buffer
	return newShell(db, path, &out), &out
}

func eval(t *testing.T, s *Shell, line string) {
	t.Helper()
	done, err := s.Eval(line)
	require.NoError(t, err, line)
	require.False(t, done, line)
}

func TestShellMultiLineStatement(t *testing.T) {
	s, out := newTestShell(t)

	eval(t, s, "SELECT count(*) AS n")
	assert.Empty(t, out.String())
	eval(t, s, "  FROM notes;")
	assert.Equal(t, []string{"n", "50"}, strings.Fields(out.String()))
}

func TestShellDotCommands(t *testing.T) {
	s, out := newTestShell(t)

	eval(t, s, ".tables")
	assert.Equal(t, "notes\n", out.String())

	out.Reset()
	eval(t, s, ".schema notes")
	assert.Contains(t, out.String(), "CREATE TABLE notes")
	assert.Contains(t, out.String(), "CREATE INDEX idx_notes_body")

	out.Reset()
	eval(t, s, ".vacuum 12")
	assert.True(t, strings.HasPrefix(out.String(), "page_size=1024 reserve=12 pages="), out.String())

	out.Reset()
	eval(t, s, ".info")
	assert.Contains(t, out.String(), "reserve=12 ")
	assert.Contains(t, out.String(), "freelist=0 ")

	_, err := s.Eval(".vacuum lots")
	assert.ErrorContains(t, err, "bad reserve")
	_, err = s.Eval(".frobnicate")
	assert.ErrorContains(t, err, "unknown command")

	done, err := s.Eval(".quit")
	require.NoError(t, err)
	assert.True(t, done)
}

func TestShellStatementError(t *testing.T) {
	s, _ := newTestShell(t)
	_, err := s.Eval("SELECT * FROM missing;")
	require.Error(t, err)

	// The failed statement is not carried into the next one.
	eval(t, s, "SELECT 1;")
}

func TestShellCompleter(t *testing.T) {
	s := &Shell{}
	tests := []struct {
		line string
		want []string
	}{
		{".t", []string{".tables"}},
		{".s", []string{".schema"}},
		{"sel", []string{"SELECT"}},
		{"SELECT * fr", []string{"SELECT * FROM"}},
		{"DELETE ", nil},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, s.completer(tt.line), "completer(%q)", tt.line)
	}
}
