package sqlite

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/natefinch/atomic"
	"github.com/ulikunitz/xz"
	"github.com/zeebo/blake3"

	errs "github.com/FocuswithJustin/sqlcompact/core/errors"
	"github.com/FocuswithJustin/sqlcompact/internal/logging"
)

// SnapshotExt is the extension of snapshot files.
const SnapshotExt = ".xz"

// Injectable for tests.
var (
	xzNewWriter = func(w io.Writer) (io.WriteCloser, error) { return xz.NewWriter(w) }
	xzNewReader = func(r io.Reader) (io.Reader, error) { return xz.NewReader(r) }
	atomicWrite = atomic.WriteFile
	now         = time.Now
)

// SnapshotInfo describes a snapshot file.
type SnapshotInfo struct {
	Path string `json:"path"`
	// Size is the size of the database file, before compression.
	Size int64 `json:"size"`
	// Digest is the BLAKE3 hash of the database file, hex encoded.
	Digest string `json:"digest"`
}

// Snapshot writes an xz-compressed copy of the database file at path into
// dir. The database must not be in the middle of a write: a file with a hot
// rollback journal is refused.
func Snapshot(path, dir string) (*SnapshotInfo, error) {
	if _, err := os.Stat(path + "-journal"); err == nil {
		return nil, errs.New(errs.BUSY, "database has a hot journal: "+path)
	}
	src, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	defer src.Close()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot dir: %w", err)
	}
	name := fmt.Sprintf("%s.%s.%s%s",
		filepath.Base(path), now().UTC().Format("20060102T150405Z"), uuid.NewString()[:8], SnapshotExt)
	info := &SnapshotInfo{Path: filepath.Join(dir, name)}

	h := blake3.New()
	pr, pw := io.Pipe()
	go func() {
		zw, err := xzNewWriter(pw)
		if err != nil {
			pw.CloseWithError(fmt.Errorf("failed to create xz writer: %w", err))
			return
		}
		n, err := io.Copy(zw, io.TeeReader(src, h))
		info.Size = n
		if cerr := zw.Close(); err == nil {
			err = cerr
		}
		pw.CloseWithError(err)
	}()

	if err := atomicWrite(info.Path, pr); err != nil {
		pr.CloseWithError(err)
		return nil, fmt.Errorf("failed to write snapshot: %w", err)
	}
	info.Digest = hex.EncodeToString(h.Sum(nil))
	logging.Info("snapshot written", "op", "snapshot", "path", path, "snapshot", info.Path, "size", info.Size)
	return info, nil
}

// RestoreSnapshot replaces the database file at path with the content of a
// snapshot and returns the BLAKE3 digest of what was restored. A journal
// left next to the old file is removed so it cannot be replayed onto the
// restored one.
func RestoreSnapshot(snapshot, path string) (string, error) {
	if !strings.HasSuffix(snapshot, SnapshotExt) {
		return "", errs.NewValidation("snapshot", "not a "+SnapshotExt+" file: "+snapshot)
	}
	f, err := os.Open(snapshot)
	if err != nil {
		return "", fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer f.Close()

	zr, err := xzNewReader(f)
	if err != nil {
		return "", fmt.Errorf("failed to create xz reader: %w", err)
	}
	h := blake3.New()
	if err := atomicWrite(path, io.TeeReader(zr, h)); err != nil {
		return "", fmt.Errorf("failed to restore snapshot: %w", err)
	}
	if err := os.Remove(path + "-journal"); err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to remove stale journal: %w", err)
	}
	logging.Info("snapshot restored", "op", "restore", "path", path, "snapshot", snapshot)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// FileDigest returns the BLAKE3 hash of the file at path, hex encoded.
func FileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
