package sqlite

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "src.db")
	db := MustOpen(path)
	_, err := db.Exec(`CREATE TABLE t (v); INSERT INTO t VALUES ('one'), ('two')`)
	require.NoError(t, err)
	require.NoError(t, db.Close())
	return path
}

func TestSnapshotRoundTrip(t *testing.T) {
	path := writeTestDB(t)
	dir := filepath.Join(t.TempDir(), "snaps")

	info, err := Snapshot(path, dir)
	require.NoError(t, err)
	assert.FileExists(t, info.Path)
	assert.Equal(t, SnapshotExt, filepath.Ext(info.Path))

	st, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, st.Size(), info.Size)

	digest, err := FileDigest(path)
	require.NoError(t, err)
	assert.Equal(t, digest, info.Digest)

	// Damage the database, then restore it.
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o644))
	require.NoError(t, os.WriteFile(path+"-journal", []byte("stale"), 0o644))

	restored, err := RestoreSnapshot(info.Path, path)
	require.NoError(t, err)
	assert.Equal(t, info.Digest, restored)
	assert.NoFileExists(t, path+"-journal")

	db := MustOpen(path)
	defer db.Close()
	var n int
	require.NoError(t, db.QueryRow(`SELECT count(*) FROM t`).Scan(&n))
	assert.Equal(t, 2, n)
}

func TestSnapshotRefusesHotJournal(t *testing.T) {
	path := writeTestDB(t)
	require.NoError(t, os.WriteFile(path+"-journal", []byte("hot"), 0o644))

	_, err := Snapshot(path, t.TempDir())
	assert.Error(t, err)
}

func TestSnapshotWriterFailure(t *testing.T) {
	path := writeTestDB(t)
	injected := errors.New("injected")
	orig := xzNewWriter
	xzNewWriter = func(io.Writer) (io.WriteCloser, error) { return nil, injected }
	t.Cleanup(func() { xzNewWriter = orig })

	dir := t.TempDir()
	_, err := Snapshot(path, dir)
	require.Error(t, err)
	assert.ErrorContains(t, err, injected.Error())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotEqual(t, SnapshotExt, filepath.Ext(e.Name()), "partial snapshot %s left behind", e.Name())
	}
}

func TestRestoreSnapshotRejectsOtherFiles(t *testing.T) {
	_, err := RestoreSnapshot(filepath.Join(t.TempDir(), "x.db"), filepath.Join(t.TempDir(), "y.db"))
	assert.Error(t, err)
}
