package dcrypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"

	"github.com/pkg/errors"
)

// PlainFileKey is the unwrapped key material of one file.
//
// Key is kept raw so Zero can wipe it. IV and Tag are base64 encoded
// as they appear on the wire.
type PlainFileKey struct {
	Key     []byte `json:"key"`
	IV      string `json:"iv"`
	Tag     string `json:"tag,omitempty"`
	Version string `json:"version"`
}

// FileKey is a file key wrapped for one recipient
type FileKey struct {
	Key     string `json:"key"`
	IV      string `json:"iv"`
	Tag     string `json:"tag,omitempty"`
	Version string `json:"version"`
}

// NewPlainFileKey generates a fresh key and IV. The tag is filled in
// by Encrypter.Finalize.
func NewPlainFileKey() (*PlainFileKey, error) {
	key, err := randomBytes(KeySize)
	if err != nil {
		return nil, err
	}
	iv, err := randomBytes(IVSize)
	if err != nil {
		return nil, err
	}
	return &PlainFileKey{
		Key:     key,
		IV:      encode(iv),
		Version: PlainFileKeyVersion,
	}, nil
}

// Zero clears the key material from fk
func (fk *PlainFileKey) Zero() {
	if fk == nil {
		return
	}
	Zero(fk.Key)
	fk.Key = nil
	fk.IV = ""
	fk.Tag = ""
}

// raw returns the key and the decoded IV checking their sizes. The
// key is fk.Key itself so callers must not keep or clear it.
func (fk *PlainFileKey) raw() (key, iv []byte, err error) {
	if len(fk.Key) != KeySize {
		return nil, nil, errors.Wrapf(ErrBadKey, "key is %d bytes", len(fk.Key))
	}
	iv, err = decode("file key iv", fk.IV)
	if err != nil {
		return nil, nil, err
	}
	if len(iv) != IVSize {
		return nil, nil, errors.Wrapf(ErrBadKey, "iv is %d bytes", len(iv))
	}
	return fk.Key, iv, nil
}

// EncryptFileKey wraps the plain file key for the owner of pub
func EncryptFileKey(fk *PlainFileKey, pub *PublicKeyContainer) (*FileKey, error) {
	if fk == nil || pub == nil {
		return nil, ErrBadKey
	}
	rsaPub, err := pub.Parse()
	if err != nil {
		return nil, err
	}
	key, _, err := fk.raw()
	if err != nil {
		return nil, err
	}
	wrapped, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, rsaPub, key, nil)
	if err != nil {
		return nil, errors.Wrap(err, "wrap file key")
	}
	return &FileKey{
		Key:     encode(wrapped),
		IV:      fk.IV,
		Tag:     fk.Tag,
		Version: FileKeyVersion,
	}, nil
}

// DecryptFileKey unwraps a file key with the private key of kp
func DecryptFileKey(wrapped *FileKey, kp *PlainUserKeyPair) (*PlainFileKey, error) {
	if wrapped == nil || kp == nil || kp.PrivateKey == nil {
		return nil, ErrBadKey
	}
	enc, err := decode("wrapped file key", wrapped.Key)
	if err != nil {
		return nil, err
	}
	key, err := rsa.DecryptOAEP(sha256.New(), nil, kp.PrivateKey, enc, nil)
	if err != nil {
		return nil, errors.Wrap(err, "unwrap file key")
	}
	return &PlainFileKey{
		Key:     key,
		IV:      wrapped.IV,
		Tag:     wrapped.Tag,
		Version: PlainFileKeyVersion,
	}, nil
}
