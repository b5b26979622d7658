package dracoon

import (
	"context"
	"net/http"

	"github.com/dco3go/dco3/dracoon/api"
	"github.com/dco3go/dco3/fs"
	"github.com/dco3go/dco3/lib/dcrypto"
	"github.com/dco3go/dco3/lib/rest"
)

// callJSON runs an authenticated API call through the pacer
func (s *Connected) callJSON(ctx context.Context, opts *rest.Opts, request, response interface{}) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.c.pacer.Call(func() (bool, error) {
		resp, err := s.srv.CallJSON(ctx, opts, request, response)
		return shouldRetry(ctx, resp, err)
	})
}

// GetUserAccount returns the account of the connected user. The
// first successful answer is cached for the life of the session.
func (s *Connected) GetUserAccount(ctx context.Context) (*api.UserAccount, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	account := s.account
	s.mu.Unlock()
	if account != nil {
		return account, nil
	}
	opts := rest.Opts{
		Method: http.MethodGet,
		Path:   "user/account",
	}
	var result api.UserAccount
	if err := s.callJSON(ctx, &opts, nil, &result); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.account = &result
	s.mu.Unlock()
	return &result, nil
}

// GetUserKeypair fetches the encrypted key pair of the connected user
func (s *Connected) GetUserKeypair(ctx context.Context) (*dcrypto.UserKeyPairContainer, error) {
	opts := rest.Opts{
		Method: http.MethodGet,
		Path:   "user/account/keypair",
	}
	var result dcrypto.UserKeyPairContainer
	if err := s.callJSON(ctx, &opts, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// loadKeypair fetches the key pair and opens it with password
func (s *Connected) loadKeypair(ctx context.Context, password string) error {
	container, err := s.GetUserKeypair(ctx)
	if err != nil {
		return err
	}
	kp, err := dcrypto.DecryptKeyPair(container, password)
	if err != nil {
		return &CryptoError{Op: "decrypt user key pair", Err: err}
	}
	s.mu.Lock()
	s.keypair = kp
	s.mu.Unlock()
	fs.Debugf(s, "Loaded user key pair (%s)", kp.Version)
	return nil
}

// Keypair returns the decrypted user key pair. It is only available
// when the client was built with an encryption password.
func (s *Connected) Keypair() (*dcrypto.PlainUserKeyPair, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.keypair == nil {
		return nil, ErrMissingEncryptionSecret
	}
	return s.keypair, nil
}
