package pager

import (
	"encoding/binary"
	"errors"
	"testing"
)

func newHeaderBytes(pageSize, reserve int) []byte {
	data := make([]byte, DatabaseHeaderSize)
	initHeader(data, pageSize, reserve)
	return data
}

func TestParseDatabaseHeader(t *testing.T) {
	tests := []struct {
		name    string
		setup   func() []byte
		wantErr error
	}{
		{
			name:  "valid header",
			setup: func() []byte { return newHeaderBytes(4096, 0) },
		},
		{
			name:  "max page size (65536)",
			setup: func() []byte { return newHeaderBytes(65536, 0) },
		},
		{
			name:  "min page size with reserve",
			setup: func() []byte { return newHeaderBytes(512, 32) },
		},
		{
			name: "invalid magic header",
			setup: func() []byte {
				data := newHeaderBytes(4096, 0)
				copy(data, "Invalid format 3\x00")
				return data
			},
			wantErr: ErrNotADatabase,
		},
		{
			name: "reserve leaves too little space",
			setup: func() []byte {
				data := newHeaderBytes(512, 0)
				data[OffsetReservedSpace] = 64
				return data
			},
			wantErr: ErrCorrupt,
		},
		{
			name: "bad page size",
			setup: func() []byte {
				data := newHeaderBytes(4096, 0)
				binary.BigEndian.PutUint16(data[OffsetPageSize:], 1000)
				return data
			},
			wantErr: ErrNotADatabase,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDatabaseHeader(tt.setup())
			if tt.wantErr == nil && err != nil {
				t.Fatalf("ParseDatabaseHeader() error = %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("ParseDatabaseHeader() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseDatabaseHeader_Fields(t *testing.T) {
	data := newHeaderBytes(65536, 16)
	binary.BigEndian.PutUint32(data[OffsetMetaBase+4*MetaSchemaVersion:], 9)
	binary.BigEndian.PutUint32(data[OffsetMetaBase+4*MetaUserVersion:], 77)

	h, err := ParseDatabaseHeader(data)
	if err != nil {
		t.Fatalf("ParseDatabaseHeader() error = %v", err)
	}
	if h.PageSize != 65536 {
		t.Errorf("PageSize = %d, want 65536", h.PageSize)
	}
	if binary.BigEndian.Uint16(data[OffsetPageSize:]) != 1 {
		t.Errorf("65536 should be stored as 1")
	}
	if h.ReservedSpace != 16 {
		t.Errorf("ReservedSpace = %d, want 16", h.ReservedSpace)
	}
	if h.SchemaCookie() != 9 || h.UserVersion() != 77 {
		t.Errorf("meta = %d/%d, want 9/77", h.SchemaCookie(), h.UserVersion())
	}
	if h.TextEncoding() != EncodingUTF8 {
		t.Errorf("TextEncoding = %d, want UTF-8", h.TextEncoding())
	}
}

func TestParseDatabaseHeader_TooShort(t *testing.T) {
	if _, err := ParseDatabaseHeader(make([]byte, 50)); err == nil {
		t.Fatal("expected error for short header")
	}
}

func TestIsValidPageSize(t *testing.T) {
	tests := []struct {
		size int
		want bool
	}{
		{256, false},
		{512, true},
		{1000, false},
		{1024, true},
		{4096, true},
		{65536, true},
		{131072, false},
	}
	for _, tt := range tests {
		if got := IsValidPageSize(tt.size); got != tt.want {
			t.Errorf("IsValidPageSize(%d) = %v, want %v", tt.size, got, tt.want)
		}
	}
}

func TestReadHeader(t *testing.T) {
	b := NewMemBackend()
	if _, err := ReadHeader(b); !errors.Is(err, ErrNotADatabase) {
		t.Fatalf("ReadHeader(empty) error = %v, want ErrNotADatabase", err)
	}
	if _, err := b.WriteAt(newHeaderBytes(1024, 8), 0); err != nil {
		t.Fatal(err)
	}
	h, err := ReadHeader(b)
	if err != nil {
		t.Fatalf("ReadHeader() error = %v", err)
	}
	if h.PageSize != 1024 || h.ReservedSpace != 8 {
		t.Errorf("header = %d/%d, want 1024/8", h.PageSize, h.ReservedSpace)
	}
}
