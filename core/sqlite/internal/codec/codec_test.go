package codec

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/FocuswithJustin/sqlcompact/core/sqlite/internal/pager"
)

func samplePage(size int, seed byte) []byte {
	p := make([]byte, size)
	for i := range p {
		p[i] = seed + byte(i*7)
	}
	return p
}

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		codec    string
		key      string
		reserve  int
		wantNil  bool
		wantErr  bool
		overhead int
		keyed    bool
	}{
		{"none", "none", "", 0, true, false, 0, false},
		{"empty", "", "", 0, true, false, 0, false},
		{"key implies cipher", "", "secret", 0, false, false, CipherOverhead, true},
		{"checksum default", "checksum", "", 0, false, false, 8, false},
		{"checksum fills reserve", "checksum", "", 16, false, false, 16, false},
		{"checksum capped", "CHECKSUM", "", 64, false, false, 32, false},
		{"cipher", "cipher", "k", 0, false, false, CipherOverhead, true},
		{"cipher without key", "cipher", "", 0, false, true, 0, false},
		{"unknown", "rot13", "", 0, false, true, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.codec, tt.key, tt.reserve)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if (c == nil) != tt.wantNil {
				t.Fatalf("New() = %v, wantNil %v", c, tt.wantNil)
			}
			if c == nil {
				return
			}
			if c.Overhead() != tt.overhead || c.Keyed() != tt.keyed {
				t.Errorf("Overhead/Keyed = %d/%v, want %d/%v", c.Overhead(), c.Keyed(), tt.overhead, tt.keyed)
			}
		})
	}
}

func TestChecksum_RoundTrip(t *testing.T) {
	c, err := NewChecksum(12)
	if err != nil {
		t.Fatal(err)
	}
	page := samplePage(1024, 3)
	enc, err := c.Encode(5, page)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if !bytes.Equal(enc[:1012], page[:1012]) {
		t.Error("Encode changed the page body")
	}
	if bytes.Equal(enc[1012:], page[1012:]) {
		t.Error("Encode did not write a trailer")
	}
	if err := c.Decode(5, enc); err != nil {
		t.Errorf("Decode() error = %v", err)
	}
}

func TestChecksum_DetectsDamage(t *testing.T) {
	c, _ := NewChecksum(8)
	enc, _ := c.Encode(2, samplePage(512, 9))

	tests := []struct {
		name  string
		pgno  uint32
		flip  int
	}{
		{"body bit", 2, 17},
		{"trailer bit", 2, 510},
		{"wrong page number", 3, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			damaged := bytes.Clone(enc)
			if tt.flip >= 0 {
				damaged[tt.flip] ^= 0x40
			}
			if err := c.Decode(tt.pgno, damaged); !errors.Is(err, ErrChecksum) {
				t.Errorf("Decode() error = %v, want ErrChecksum", err)
			}
		})
	}
}

func TestCipher_RoundTrip(t *testing.T) {
	c, err := NewCipher("correct horse")
	if err != nil {
		t.Fatal(err)
	}
	for _, pgno := range []uint32{1, 2, 77} {
		page := samplePage(4096, byte(pgno))
		enc, err := c.Encode(pgno, page)
		if err != nil {
			t.Fatalf("Encode(%d) error = %v", pgno, err)
		}
		if pgno == 1 && !bytes.Equal(enc[:headerSize], page[:headerSize]) {
			t.Error("page 1 header must stay readable")
		}
		if bytes.Contains(enc, page[200:260]) {
			t.Errorf("page %d body stored in clear", pgno)
		}
		if err := c.Decode(pgno, enc); err != nil {
			t.Fatalf("Decode(%d) error = %v", pgno, err)
		}
		body := len(page) - CipherOverhead
		if !bytes.Equal(enc[:body], page[:body]) {
			t.Errorf("page %d did not decrypt to the original", pgno)
		}
	}
}

func TestCipher_FreshNonce(t *testing.T) {
	c, _ := NewCipher("k")
	page := samplePage(1024, 1)
	a, _ := c.Encode(4, page)
	b, _ := c.Encode(4, page)
	if bytes.Equal(a, b) {
		t.Error("two encodings of the same page should differ")
	}
}

func TestCipher_WrongKeyOrPage(t *testing.T) {
	good, _ := NewCipher("right")
	bad, _ := NewCipher("wrong")
	enc, _ := good.Encode(3, samplePage(1024, 5))

	if err := bad.Decode(3, bytes.Clone(enc)); !errors.Is(err, ErrBadKey) {
		t.Errorf("Decode() with wrong key error = %v, want ErrBadKey", err)
	}
	if err := good.Decode(4, bytes.Clone(enc)); !errors.Is(err, ErrBadKey) {
		t.Errorf("Decode() of moved page error = %v, want ErrBadKey", err)
	}
}

func TestCipher_ThroughPager(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "enc.db")
	c, _ := NewCipher("pw")

	p, err := pager.OpenWithOptions(filename, pager.Options{PageSize: 1024, Codec: c})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if p.Reserve() != CipherOverhead {
		t.Errorf("Reserve() = %d, want %d", p.Reserve(), CipherOverhead)
	}
	if err := p.Begin(); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		page, err := p.Allocate()
		if err != nil {
			t.Fatal(err)
		}
		copy(page.Data[200:], "secret payload")
		p.Put(page)
	}
	if err := p.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	p.Close()

	// The header is readable without a key.
	plain, err := pager.OpenWithOptions(filename, pager.Options{})
	if err != nil {
		t.Fatalf("Open() without key error = %v", err)
	}
	if plain.PageSize() != 1024 || plain.Reserve() != CipherOverhead {
		t.Errorf("geometry = %d/%d", plain.PageSize(), plain.Reserve())
	}
	page, err := plain.Get(2)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(page.Data, []byte("secret payload")) {
		t.Error("payload readable without key")
	}
	plain.Put(page)
	plain.Close()

	wrong, _ := NewCipher("nope")
	wp, err := pager.OpenWithOptions(filename, pager.Options{Codec: wrong})
	if err != nil {
		t.Fatal(err)
	}
	defer wp.Close()
	if _, err := wp.Get(1); !errors.Is(err, pager.ErrNotADatabase) {
		t.Errorf("Get(1) with wrong key error = %v, want ErrNotADatabase", err)
	}
}
