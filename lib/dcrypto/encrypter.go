package dcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"io"

	"github.com/pkg/errors"
)

// Encrypter encrypts one file of a known size.
//
// Data is collected with Write into a buffer of exactly size bytes
// (plus room for the tag) and sealed in place by Finalize, so the
// plaintext never exists twice in memory.
type Encrypter struct {
	fk        *PlainFileKey
	size      int64
	buf       []byte
	finalized bool
}

// NewEncrypter returns an Encrypter for size bytes with a freshly
// generated file key
func NewEncrypter(size int64) (*Encrypter, error) {
	if size < 0 {
		return nil, errors.Errorf("negative size %d", size)
	}
	fk, err := NewPlainFileKey()
	if err != nil {
		return nil, err
	}
	return &Encrypter{
		fk:   fk,
		size: size,
		buf:  make([]byte, 0, size+TagSize),
	}, nil
}

// Write adds plaintext
func (e *Encrypter) Write(p []byte) (n int, err error) {
	if e.finalized {
		return 0, ErrAlreadyFinalized
	}
	if int64(len(e.buf))+int64(len(p)) > e.size {
		return 0, ErrSizeExceeded
	}
	e.buf = append(e.buf, p...)
	return len(p), nil
}

// ReadFrom drains r into the Encrypter. It fails if r holds more or
// less than the announced size.
func (e *Encrypter) ReadFrom(r io.Reader) (n int64, err error) {
	if e.finalized {
		return 0, ErrAlreadyFinalized
	}
	for int64(len(e.buf)) < e.size {
		var nn int
		nn, err = r.Read(e.buf[len(e.buf):e.size])
		e.buf = e.buf[:len(e.buf)+nn]
		n += int64(nn)
		if err == io.EOF {
			break
		}
		if err != nil {
			return n, err
		}
	}
	if int64(len(e.buf)) < e.size {
		return n, errors.Wrapf(ErrSizeMismatch, "read %d of %d bytes", len(e.buf), e.size)
	}
	// Anything left over means the size was wrong
	var probe [1]byte
	for {
		nn, perr := r.Read(probe[:])
		if nn > 0 {
			return n, ErrSizeExceeded
		}
		if perr == io.EOF {
			return n, nil
		}
		if perr != nil {
			return n, perr
		}
	}
}

// Finalize encrypts the collected plaintext and records the tag in
// the file key
func (e *Encrypter) Finalize() error {
	if e.finalized {
		return ErrAlreadyFinalized
	}
	if int64(len(e.buf)) != e.size {
		return errors.Wrapf(ErrSizeMismatch, "have %d of %d bytes", len(e.buf), e.size)
	}
	key, iv, err := e.fk.raw()
	if err != nil {
		return err
	}
	gcm, err := newGCM(key)
	if err != nil {
		return err
	}
	sealed := gcm.Seal(e.buf[:0], iv, e.buf, nil)
	e.fk.Tag = encode(sealed[e.size:])
	e.buf = sealed[:e.size]
	e.finalized = true
	return nil
}

// Bytes returns the ciphertext, which has the same length as the
// plaintext
func (e *Encrypter) Bytes() ([]byte, error) {
	if !e.finalized {
		return nil, ErrNotFinalized
	}
	return e.buf, nil
}

// PlainFileKey returns the file key including the tag
func (e *Encrypter) PlainFileKey() (*PlainFileKey, error) {
	if !e.finalized {
		return nil, ErrNotFinalized
	}
	return e.fk, nil
}

// Zero clears the buffer and the file key
func (e *Encrypter) Zero() {
	Zero(e.buf[:cap(e.buf)])
	e.buf = nil
	e.fk.Zero()
}

// Decrypt decrypts and authenticates ciphertext produced under fk
func Decrypt(fk *PlainFileKey, ciphertext []byte) ([]byte, error) {
	if fk == nil {
		return nil, ErrBadKey
	}
	key, iv, err := fk.raw()
	if err != nil {
		return nil, err
	}
	tag, err := decode("file key tag", fk.Tag)
	if err != nil {
		return nil, err
	}
	if len(tag) != TagSize {
		return nil, errors.Wrapf(ErrBadKey, "tag is %d bytes", len(tag))
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	sealed := make([]byte, 0, len(ciphertext)+TagSize)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)
	plain, err := gcm.Open(sealed[:0], iv, sealed, nil)
	if err != nil {
		return nil, errors.Wrap(err, "decrypt")
	}
	return plain, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "aes")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, "gcm")
	}
	return gcm, nil
}
