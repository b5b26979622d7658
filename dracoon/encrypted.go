package dracoon

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/dco3go/dco3/dracoon/api"
	"github.com/dco3go/dco3/fs"
	"github.com/dco3go/dco3/lib/dcrypto"
)

// uploadEncrypted encrypts the whole of in under a fresh file key,
// wraps the key for every recipient of share and sends the ciphertext
// through the normal upload.
func (p *Public) uploadEncrypted(ctx context.Context, accessKey string, share *api.PublicUploadShare, opts *UploadOptions, chunk int64, in io.Reader, progress ProgressFunc) (string, error) {
	recipients := share.Recipients()
	if len(recipients) == 0 {
		return "", ErrMissingEncryptionSecret
	}
	enc, err := dcrypto.NewEncrypter(opts.Size)
	if err != nil {
		return "", &CryptoError{Op: "init", Err: err}
	}
	defer enc.Zero()
	if _, err = enc.ReadFrom(in); err != nil {
		return "", &IOError{Op: "read plaintext", Err: err}
	}
	if err = enc.Finalize(); err != nil {
		return "", &CryptoError{Op: "finalize", Err: err}
	}
	ct, err := enc.Bytes()
	if err != nil {
		return "", &CryptoError{Op: "finalize", Err: err}
	}
	if int64(len(ct)) != opts.Size {
		return "", &CryptoError{Op: "finalize", Err: fmt.Errorf("ciphertext is %d bytes, want %d", len(ct), opts.Size)}
	}
	fk, err := enc.PlainFileKey()
	if err != nil {
		return "", &CryptoError{Op: "finalize", Err: err}
	}
	keys, err := p.wrapFileKey(fk, recipients)
	fk.Zero()
	if err != nil {
		return "", err
	}
	fs.Debugf(p, "Encrypted %q for %d recipients", opts.Name, len(keys))
	return p.upload(ctx, accessKey, opts, chunk, bytes.NewReader(ct), keys, progress)
}

// wrapFileKey wraps fk for each recipient.
//
// A recipient whose key can't be used fails the upload unless
// SkipInvalidRecipientKeys is set, in which case it is left out.
func (p *Public) wrapFileKey(fk *dcrypto.PlainFileKey, recipients []api.UserUserPublicKey) ([]api.UserFileKey, error) {
	keys := make([]api.UserFileKey, 0, len(recipients))
	for i := range recipients {
		r := &recipients[i]
		wrapped, err := dcrypto.EncryptFileKey(fk, &r.PublicKeyContainer)
		if err != nil {
			if p.c.opt.SkipInvalidRecipientKeys {
				fs.Logf(p, "Skipping recipient %d with unusable public key: %v", r.ID, err)
				continue
			}
			return nil, &CryptoError{Op: fmt.Sprintf("wrap file key for user %d", r.ID), Err: err}
		}
		keys = append(keys, api.UserFileKey{UserID: r.ID, FileKey: *wrapped})
	}
	if len(keys) == 0 {
		return nil, &CryptoError{Op: "wrap file key", Err: fmt.Errorf("none of %d recipients has a usable public key", len(recipients))}
	}
	return keys, nil
}
