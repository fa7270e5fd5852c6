package codec

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/zeebo/blake3"

	errs "github.com/FocuswithJustin/sqlcompact/core/errors"
)

const (
	nonceSize = 12
	tagSize   = 16

	// CipherOverhead is the reserve the cipher codec needs per page.
	CipherOverhead = nonceSize + tagSize

	keyContext = "sqlcompact 2026 page cipher key"
)

// ErrBadKey reports a page that fails authentication, which for page 1 means
// the key is wrong.
var ErrBadKey = errs.New(errs.NOTADB, "file is encrypted or is not a database")

// Cipher encrypts every page with AES-256-GCM. The nonce and tag live in the
// last CipherOverhead bytes of the page and the page number is bound in as
// additional data, so pages cannot be swapped.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher derives a 256-bit key from passphrase.
func NewCipher(passphrase string) (*Cipher, error) {
	if passphrase == "" {
		return nil, errs.NewValidation("key", "empty passphrase")
	}
	var key [32]byte
	blake3.DeriveKey(keyContext, []byte(passphrase), key[:])
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, errs.Wrap(err, "cipher")
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errs.Wrap(err, "cipher")
	}
	return &Cipher{aead: aead}, nil
}

// Overhead returns CipherOverhead.
func (c *Cipher) Overhead() int { return CipherOverhead }

// Keyed reports true.
func (c *Cipher) Keyed() bool { return true }

// Encode returns the encrypted image of page.
func (c *Cipher) Encode(pgno uint32, page []byte) ([]byte, error) {
	if err := checkPage(pgno, page, CipherOverhead); err != nil {
		return nil, err
	}
	start := 0
	if pgno == 1 {
		start = headerSize
	}
	end := len(page) - CipherOverhead

	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, errs.Wrap(err, "nonce")
	}
	sealed := c.aead.Seal(nil, nonce[:], page[start:end], aad(pgno))

	out := bytes.Clone(page)
	copy(out[start:end], sealed[:end-start])
	copy(out[end:], nonce[:])
	copy(out[end+nonceSize:], sealed[end-start:])
	return out, nil
}

// Decode decrypts page in place. The trailer is left as read.
func (c *Cipher) Decode(pgno uint32, page []byte) error {
	if err := checkPage(pgno, page, CipherOverhead); err != nil {
		return err
	}
	start := 0
	if pgno == 1 {
		start = headerSize
	}
	end := len(page) - CipherOverhead

	nonce := page[end : end+nonceSize]
	sealed := make([]byte, 0, end-start+tagSize)
	sealed = append(sealed, page[start:end]...)
	sealed = append(sealed, page[end+nonceSize:]...)
	plain, err := c.aead.Open(sealed[:0], nonce, sealed, aad(pgno))
	if err != nil {
		return fmt.Errorf("%w: page %d", ErrBadKey, pgno)
	}
	copy(page[start:end], plain)
	return nil
}

func aad(pgno uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], pgno)
	return b[:]
}
