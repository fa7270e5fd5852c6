package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/zeebo/blake3"

	errs "github.com/FocuswithJustin/sqlcompact/core/errors"
)

// Checksum trailer bounds.
const (
	MinChecksumSize = 8
	MaxChecksumSize = 32
)

// ErrChecksum reports a page whose trailer does not match its content.
var ErrChecksum = errs.New(errs.CORRUPT, "page checksum mismatch")

// Checksum stores a truncated BLAKE3 hash of the page number and the page
// body in the last Overhead() bytes of every page.
type Checksum struct {
	size int
}

// NewChecksum returns a checksum codec with a trailer of size bytes.
func NewChecksum(size int) (*Checksum, error) {
	if size < MinChecksumSize || size > MaxChecksumSize {
		return nil, errs.NewValidation("checksum size", fmt.Sprintf("%d outside [%d, %d]", size, MinChecksumSize, MaxChecksumSize))
	}
	return &Checksum{size: size}, nil
}

// Overhead returns the trailer size.
func (c *Checksum) Overhead() int { return c.size }

// Keyed reports false: anyone can recompute the checksum.
func (c *Checksum) Keyed() bool { return false }

// Encode returns a copy of page with the trailer filled in.
func (c *Checksum) Encode(pgno uint32, page []byte) ([]byte, error) {
	if err := checkPage(pgno, page, c.size); err != nil {
		return nil, err
	}
	out := bytes.Clone(page)
	body := len(out) - c.size
	sum := c.sum(pgno, out[:body])
	copy(out[body:], sum[:c.size])
	return out, nil
}

// Decode verifies the trailer in place.
func (c *Checksum) Decode(pgno uint32, page []byte) error {
	if err := checkPage(pgno, page, c.size); err != nil {
		return err
	}
	body := len(page) - c.size
	sum := c.sum(pgno, page[:body])
	if !bytes.Equal(page[body:], sum[:c.size]) {
		return fmt.Errorf("%w: page %d", ErrChecksum, pgno)
	}
	return nil
}

func (c *Checksum) sum(pgno uint32, body []byte) [32]byte {
	h := blake3.New()
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], pgno)
	h.Write(n[:])
	h.Write(body)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
