// Package codec provides page codecs that keep per-page integrity or
// confidentiality data in the reserved region at the end of each page.
//
// A codec never touches bytes outside its trailer except for the cipher,
// which encrypts the page body. Page 1 keeps its first 100 bytes readable so
// the page size and reserve can be parsed before any key is known.
package codec

import (
	"fmt"
	"strings"

	errs "github.com/FocuswithJustin/sqlcompact/core/errors"
	"github.com/FocuswithJustin/sqlcompact/core/sqlite/internal/pager"
)

// Codec names accepted by New.
const (
	NameNone     = "none"
	NameChecksum = "checksum"
	NameCipher   = "cipher"
)

// headerSize is the plaintext prefix of page 1.
const headerSize = pager.DatabaseHeaderSize

// New builds the codec called name. reserve is the per-page reserve the
// database will be created with; the checksum trailer grows to fill it, up to
// 32 bytes. A nil codec is returned for "none" and "".
func New(name, key string, reserve int) (pager.Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", NameNone:
		if key != "" {
			return NewCipher(key)
		}
		return nil, nil
	case NameChecksum:
		size := reserve
		if size < MinChecksumSize {
			size = MinChecksumSize
		}
		if size > MaxChecksumSize {
			size = MaxChecksumSize
		}
		return NewChecksum(size)
	case NameCipher:
		if key == "" {
			return nil, errs.NewValidation("key", "cipher codec needs a key")
		}
		return NewCipher(key)
	default:
		return nil, errs.NewUnsupported("codec "+name, "unknown codec name")
	}
}

// Names lists the codec names New understands.
func Names() []string {
	return []string{NameNone, NameChecksum, NameCipher}
}

func checkPage(pgno uint32, page []byte, overhead int) error {
	if pgno == 0 {
		return fmt.Errorf("codec: invalid page number 0")
	}
	min := overhead
	if pgno == 1 {
		min += headerSize
	}
	if len(page) < min {
		return fmt.Errorf("codec: page %d too small (%d bytes) for %d byte trailer", pgno, len(page), overhead)
	}
	return nil
}
