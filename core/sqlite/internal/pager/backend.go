package pager

import (
	"errors"
	"io"
	"os"
	"sync"
)

// Backend is the byte store underneath a pager or its journal.
type Backend interface {
	io.ReaderAt
	io.WriterAt
	Truncate(size int64) error
	Size() (int64, error)
	Sync() error
	Close() error
}

// Opener opens the backend for a database or journal path. Journal paths end
// in "-journal". mustExist reports whether a missing file is an error.
type Opener func(path string, readOnly, mustExist bool) (Backend, error)

// fileBackend is a Backend over an *os.File.
type fileBackend struct {
	f *os.File
}

// OpenFile is the default Opener.
func OpenFile(path string, readOnly, mustExist bool) (Backend, error) {
	flag := os.O_RDWR | os.O_CREATE
	if readOnly {
		flag = os.O_RDONLY
	} else if mustExist {
		flag = os.O_RDWR
	}
	f, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return nil, err
	}
	return &fileBackend{f: f}, nil
}

func (b *fileBackend) ReadAt(p []byte, off int64) (int, error)  { return b.f.ReadAt(p, off) }
func (b *fileBackend) WriteAt(p []byte, off int64) (int, error) { return b.f.WriteAt(p, off) }
func (b *fileBackend) Truncate(size int64) error                { return b.f.Truncate(size) }
func (b *fileBackend) Sync() error                              { return b.f.Sync() }
func (b *fileBackend) Close() error                             { return b.f.Close() }

func (b *fileBackend) Size() (int64, error) {
	info, err := b.f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Fd exposes the descriptor for advisory locking.
func (b *fileBackend) Fd() uintptr { return b.f.Fd() }

// MemBackend is an in-memory Backend. It is used for ":memory:" databases,
// their journals, and by tests.
type MemBackend struct {
	mu   sync.Mutex
	data []byte
}

// NewMemBackend returns an empty in-memory backend.
func NewMemBackend() *MemBackend {
	return &MemBackend{}
}

func (m *MemBackend) ReadAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m *MemBackend) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.New("negative offset")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	end := off + int64(len(p))
	if end > int64(len(m.data)) {
		grown := make([]byte, end)
		copy(grown, m.data)
		m.data = grown
	}
	return copy(m.data[off:], p), nil
}

func (m *MemBackend) Truncate(size int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if size < int64(len(m.data)) {
		m.data = m.data[:size]
	} else if size > int64(len(m.data)) {
		grown := make([]byte, size)
		copy(grown, m.data)
		m.data = grown
	}
	return nil
}

func (m *MemBackend) Size() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.data)), nil
}

func (m *MemBackend) Sync() error  { return nil }
func (m *MemBackend) Close() error { return nil }

// Bytes returns a copy of the stored bytes.
func (m *MemBackend) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.data...)
}

// fileExists is swapped out by tests.
var fileExists = func(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

var removeFile = os.Remove
