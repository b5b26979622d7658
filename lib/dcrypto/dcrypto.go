// Package dcrypto implements the client side encryption used by
// DRACOON.
//
// File contents are encrypted with AES-256-GCM under a fresh file key.
// The ciphertext has the same length as the plaintext and the
// authentication tag travels with the file key. The file key is then
// wrapped for every recipient with RSA-OAEP (SHA-256) under the
// recipient's public key.
package dcrypto

import (
	"crypto/rand"
	"encoding/base64"
	"io"

	"github.com/pkg/errors"
)

// Sizes in bytes
const (
	KeySize = 32 // AES-256
	IVSize  = 12 // GCM standard nonce
	TagSize = 16 // GCM tag
)

// Versions of the containers understood by this package
const (
	PlainFileKeyVersion = "A"
	FileKeyVersion      = "RSA-4096/AES-256-GCM"
	UserKeyPairVersion  = "RSA-4096"
)

// Errors returned by this package
var (
	ErrNotFinalized     = errors.New("encrypter not finalized")
	ErrAlreadyFinalized = errors.New("encrypter already finalized")
	ErrSizeExceeded     = errors.New("more data than announced")
	ErrSizeMismatch     = errors.New("less data than announced")
	ErrBadKey           = errors.New("invalid file key")
	ErrBadKeyContainer  = errors.New("invalid key container")
)

// rng is the source of key material
var rng io.Reader = rand.Reader

func randomBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(rng, buf); err != nil {
		return nil, errors.Wrap(err, "read random bytes")
	}
	return buf, nil
}

// Zero overwrites b with zeroes
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func encode(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func decode(what, s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", what)
	}
	return b, nil
}
