package dracoon

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/dco3go/dco3/fs/fserrors"
	"github.com/dco3go/dco3/lib/dcrypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connect(t *testing.T, d *Disconnected, flow OAuth2Flow) *Connected {
	s, err := d.Connect(context.Background(), flow)
	require.NoError(t, err)
	require.NotNil(t, s)
	return s
}

func TestConnectAuthCode(t *testing.T) {
	f := newFakeServer(t)
	d := f.client(nil)
	ctx := context.Background()

	s := connect(t, d, AuthCodeFlow("xyz"))

	header, err := s.AuthHeader(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Bearer A", header)
	refresh, err := s.RefreshToken()
	require.NoError(t, err)
	assert.Equal(t, "R", refresh)

	require.Len(t, f.tokenForms, 1)
	form := f.tokenForms[0]
	assert.Equal(t, "authorization_code", form.Get("grant_type"))
	assert.Equal(t, "xyz", form.Get("code"))
	assert.Equal(t, f.srv.URL+"/oauth/callback", form.Get("redirect_uri"))
	assert.Empty(t, form.Get("client_secret"))
	wantBasic := "Basic " + base64.RawURLEncoding.EncodeToString([]byte("cid:csec"))
	assert.Equal(t, wantBasic, f.tokenAuth[0])
}

func TestConnectPassword(t *testing.T) {
	f := newFakeServer(t)
	s := connect(t, f.client(nil), PasswordFlow("jdoe", "hunter2"))
	assert.Equal(t, "dracoon "+s.BaseURL().Host, s.String())

	form := f.tokenForms[0]
	assert.Equal(t, "password", form.Get("grant_type"))
	assert.Equal(t, "jdoe", form.Get("username"))
	assert.Equal(t, "hunter2", form.Get("password"))
	assert.Contains(t, f.tokenAuth[0], "Basic ")
}

func TestConnectRefreshToken(t *testing.T) {
	f := newFakeServer(t)
	connect(t, f.client(nil), RefreshTokenFlow("saved"))

	form := f.tokenForms[0]
	assert.Equal(t, "refresh_token", form.Get("grant_type"))
	assert.Equal(t, "saved", form.Get("refresh_token"))
	assert.Equal(t, testClientID, form.Get("client_id"))
	assert.Equal(t, testClientSecret, form.Get("client_secret"))
	assert.Empty(t, f.tokenAuth[0])
}

func TestConnectAuthFailure(t *testing.T) {
	f := newFakeServer(t)
	f.setTokenReplies(
		reply{http.StatusUnauthorized, `{"error":"invalid_grant"}`},
		reply{http.StatusOK, testTokenReply},
	)
	d := f.client(nil)

	s, err := d.Connect(context.Background(), AuthCodeFlow("bad"))
	require.Error(t, err)
	assert.Nil(t, s)
	var authErr *AuthError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, http.StatusUnauthorized, authErr.StatusCode)
	assert.Equal(t, "invalid_grant", authErr.Code)
	assert.Contains(t, err.Error(), "invalid_grant")
	assert.True(t, IsUnauthorized(err))
	assert.Equal(t, 1, f.tokenCalls(), "auth failures are not retried")

	// the disconnected client is still usable
	connect(t, d, AuthCodeFlow("good"))
}

func TestConnectNilFlow(t *testing.T) {
	f := newFakeServer(t)
	_, err := f.client(nil).Connect(context.Background(), nil)
	assert.Error(t, err)
}

func TestConnectEmptyAccessToken(t *testing.T) {
	f := newFakeServer(t)
	f.setTokenReplies(reply{http.StatusOK, `{"refresh_token":"R","expires_in":3600}`})
	_, err := f.client(nil).Connect(context.Background(), PasswordFlow("u", "p"))
	var authErr *AuthError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, "invalid_response", authErr.Code)
}

func TestConnectRetriesServerErrors(t *testing.T) {
	f := newFakeServer(t)
	f.setTokenReplies(
		reply{http.StatusServiceUnavailable, `{"code":503,"message":"busy"}`},
		reply{http.StatusOK, testTokenReply},
	)
	connect(t, f.client(nil), PasswordFlow("u", "p"))
	assert.Equal(t, 2, f.tokenCalls())
}

func TestShouldRetryHonoursRetryAfter(t *testing.T) {
	ctx := context.Background()
	resp := &http.Response{StatusCode: http.StatusTooManyRequests, Header: http.Header{}}
	resp.Header.Set("Retry-After", "7")
	retry, err := shouldRetry(ctx, resp, &HTTPError{StatusCode: http.StatusTooManyRequests})
	assert.True(t, retry)
	dt := time.Until(fserrors.RetryAfterErrorTime(err))
	assert.True(t, dt > 6*time.Second && dt <= 7*time.Second, "got %v", dt)
	var httpErr *HTTPError
	assert.True(t, errors.As(err, &httpErr))

	resp.StatusCode = http.StatusNotFound
	retry, err = shouldRetry(ctx, resp, &HTTPError{StatusCode: http.StatusNotFound})
	assert.False(t, retry)
	assert.True(t, fserrors.RetryAfterErrorTime(err).IsZero())
}

func TestAuthHeaderRefreshesExpiredToken(t *testing.T) {
	f := newFakeServer(t)
	f.setTokenReplies(
		reply{http.StatusOK, testTokenReply},
		reply{http.StatusOK, `{"access_token":"A2","refresh_token":"R2","expires_in":3600}`},
	)
	clock := newFakeClock()
	d := f.client(nil)
	d.c.now = clock.Now
	s := connect(t, d, PasswordFlow("u", "p"))
	ctx := context.Background()

	clock.Advance(3599 * time.Second)
	header, err := s.AuthHeader(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Bearer A", header)
	assert.Equal(t, 1, f.tokenCalls())

	clock.Advance(2 * time.Second)
	const callers = 16
	var wg sync.WaitGroup
	headers := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			headers[i], errs[i] = s.AuthHeader(ctx)
		}(i)
	}
	wg.Wait()
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "Bearer A2", headers[i])
	}
	assert.Equal(t, 2, f.tokenCalls(), "exactly one refresh")

	form := f.tokenForms[1]
	assert.Equal(t, "refresh_token", form.Get("grant_type"))
	assert.Equal(t, "R", form.Get("refresh_token"))
	refresh, err := s.RefreshToken()
	require.NoError(t, err)
	assert.Equal(t, "R2", refresh)
}

func TestAuthHeaderExpiryBoundary(t *testing.T) {
	f := newFakeServer(t)
	clock := newFakeClock()
	d := f.client(nil)
	d.c.now = clock.Now
	s := connect(t, d, PasswordFlow("u", "p"))

	// expired exactly at issued_at + expires_in
	clock.Advance(3600 * time.Second)
	_, err := s.AuthHeader(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, f.tokenCalls())
}

func TestAuthHeaderNeverReturnsExpiredToken(t *testing.T) {
	f := newFakeServer(t)
	f.setTokenReplies(
		reply{http.StatusOK, testTokenReply},
		reply{http.StatusOK, `{"access_token":"A2","refresh_token":"R2","expires_in":0}`},
	)
	clock := newFakeClock()
	d := f.client(nil)
	d.c.now = clock.Now
	s := connect(t, d, PasswordFlow("u", "p"))

	clock.Advance(time.Hour)
	header, err := s.AuthHeader(context.Background())
	assert.Error(t, err)
	assert.Empty(t, header)
}

func TestRefreshFailureKeepsSession(t *testing.T) {
	f := newFakeServer(t)
	f.setTokenReplies(
		reply{http.StatusOK, testTokenReply},
		reply{http.StatusBadRequest, `{"error":"invalid_grant","error_description":"refresh token expired"}`},
		reply{http.StatusOK, `{"access_token":"A3","expires_in":3600}`},
	)
	s := connect(t, f.client(nil), PasswordFlow("u", "p"))
	ctx := context.Background()

	err := s.Refresh(ctx)
	var authErr *AuthError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, "refresh token expired", authErr.Message)
	header, err := s.AuthHeader(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Bearer A", header)

	require.NoError(t, s.Refresh(ctx))
	header, err = s.AuthHeader(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Bearer A3", header)
	refresh, err := s.RefreshToken()
	require.NoError(t, err)
	assert.Equal(t, "R", refresh, "refresh token kept when none is returned")
}

func TestRefreshOneTokenRequestAtATime(t *testing.T) {
	f := newFakeServer(t)
	clock := newFakeClock()
	d := f.client(nil)
	d.c.now = clock.Now
	s := connect(t, d, PasswordFlow("u", "p"))
	ctx := context.Background()
	started, release := f.holdTokens()

	clock.Advance(2 * time.Hour)
	var wg sync.WaitGroup
	var headerErr, refreshErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, headerErr = s.AuthHeader(ctx)
	}()
	go func() {
		defer wg.Done()
		refreshErr = s.Refresh(ctx)
	}()
	<-started
	// leave the other caller time to reach the token endpoint
	time.Sleep(100 * time.Millisecond)
	release()
	wg.Wait()

	require.NoError(t, headerErr)
	require.NoError(t, refreshErr)
	assert.Equal(t, 1, f.maxTokenRequests())
	// the forced refresh always runs, the expired one only if it came first
	calls := f.tokenCalls()
	assert.True(t, calls == 2 || calls == 3, "token calls %d", calls)
}

func TestRefreshSurvivesCancelledCaller(t *testing.T) {
	f := newFakeServer(t)
	f.setTokenReplies(
		reply{http.StatusOK, testTokenReply},
		reply{http.StatusOK, `{"access_token":"A2","refresh_token":"R2","expires_in":3600}`},
	)
	clock := newFakeClock()
	d := f.client(nil)
	d.c.now = clock.Now
	s := connect(t, d, PasswordFlow("u", "p"))
	started, release := f.holdTokens()

	clock.Advance(2 * time.Hour)
	firstCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	firstErr := make(chan error, 1)
	go func() {
		_, err := s.AuthHeader(firstCtx)
		firstErr <- err
	}()
	<-started

	type result struct {
		header string
		err    error
	}
	second := make(chan result, 1)
	go func() {
		header, err := s.AuthHeader(context.Background())
		second <- result{header, err}
	}()
	time.Sleep(100 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)
	release()
	got := <-second
	require.NoError(t, got.err)
	assert.Equal(t, "Bearer A2", got.header)
	assert.Equal(t, 2, f.tokenCalls(), "one refresh")

	header, err := s.AuthHeader(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer A2", header)
}

func TestToken(t *testing.T) {
	f := newFakeServer(t)
	clock := newFakeClock()
	d := f.client(nil)
	d.c.now = clock.Now
	s := connect(t, d, PasswordFlow("u", "p"))

	tok, err := s.Token()
	require.NoError(t, err)
	assert.Equal(t, "A", tok.AccessToken)
	assert.Equal(t, "R", tok.RefreshToken)
	assert.Equal(t, "Bearer", tok.TokenType)
	assert.Equal(t, clock.Now().Add(time.Hour), tok.Expiry)
}

func TestClientAddsBearerToken(t *testing.T) {
	f := newFakeServer(t)
	s := connect(t, f.client(nil), PasswordFlow("u", "p"))

	resp, err := s.Client().Get(f.srv.URL + APIPrefix + "/user/account")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"Bearer A"}, f.apiAuth)
}

func TestGetUserAccountCached(t *testing.T) {
	f := newFakeServer(t)
	s := connect(t, f.client(nil), PasswordFlow("u", "p"))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		account, err := s.GetUserAccount(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(42), account.ID)
		assert.Equal(t, "jdoe", account.UserName)
	}
	assert.Equal(t, 1, f.accountCalls)
	assert.Equal(t, []string{"Bearer A"}, f.apiAuth)
}

func TestDisconnect(t *testing.T) {
	f := newFakeServer(t)
	d := f.client(nil)
	s := connect(t, d, PasswordFlow("u", "p"))
	ctx := context.Background()

	d2, err := s.Disconnect(ctx)
	require.NoError(t, err)
	require.NotNil(t, d2)

	require.Len(t, f.revokeForms, 1)
	form := f.revokeForms[0]
	assert.Equal(t, "A", form.Get("token"))
	assert.Equal(t, "access_token", form.Get("token_type_hint"))
	assert.Equal(t, testClientID, form.Get("client_id"))
	assert.Equal(t, testClientSecret, form.Get("client_secret"))

	// equivalent to the client we started from
	assert.Equal(t, d.BaseURL(), d2.BaseURL())
	assert.Equal(t, d.RedirectURI(), d2.RedirectURI())
	assert.Equal(t, d.AuthorizeURL(), d2.AuthorizeURL())

	// and it can connect again
	s2 := connect(t, d2, PasswordFlow("u", "p"))
	_, err = s2.AuthHeader(ctx)
	require.NoError(t, err)
}

func TestDisconnectWithBothTokens(t *testing.T) {
	f := newFakeServer(t)
	s := connect(t, f.client(nil), PasswordFlow("u", "p"))

	_, err := s.DisconnectWith(context.Background(), true, true)
	require.NoError(t, err)
	require.Len(t, f.revokeForms, 2)
	assert.Equal(t, "A", f.revokeForms[0].Get("token"))
	assert.Equal(t, "R", f.revokeForms[1].Get("token"))
	assert.Equal(t, "refresh_token", f.revokeForms[1].Get("token_type_hint"))
}

func TestDisconnectWithoutRevoke(t *testing.T) {
	f := newFakeServer(t)
	s := connect(t, f.client(nil), PasswordFlow("u", "p"))

	d, err := s.DisconnectWith(context.Background(), false, false)
	require.NoError(t, err)
	assert.NotNil(t, d)
	assert.Empty(t, f.revokeForms)
}

func TestDisconnectRevokeFailure(t *testing.T) {
	f := newFakeServer(t)
	f.revokeStatus = http.StatusBadRequest
	s := connect(t, f.client(nil), PasswordFlow("u", "p"))

	d, err := s.DisconnectWith(context.Background(), true, true)
	require.Error(t, err)
	require.NotNil(t, d, "disconnected even though revoke failed")
	var authErr *AuthError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, "invalid_request", authErr.Code)
	assert.Len(t, f.revokeForms, 2)

	_, err = s.AuthHeader(context.Background())
	assert.ErrorIs(t, err, ErrConnectionClosed)
}

func TestClosedSession(t *testing.T) {
	f := newFakeServer(t)
	s := connect(t, f.client(nil), PasswordFlow("u", "p"))
	ctx := context.Background()
	_, err := s.Disconnect(ctx)
	require.NoError(t, err)

	_, err = s.AuthHeader(ctx)
	assert.ErrorIs(t, err, ErrConnectionClosed)
	_, err = s.RefreshToken()
	assert.ErrorIs(t, err, ErrConnectionClosed)
	assert.ErrorIs(t, s.Refresh(ctx), ErrConnectionClosed)
	_, err = s.Token()
	assert.ErrorIs(t, err, ErrConnectionClosed)
	_, err = s.GetUserAccount(ctx)
	assert.ErrorIs(t, err, ErrConnectionClosed)
	_, err = s.GetUserKeypair(ctx)
	assert.ErrorIs(t, err, ErrConnectionClosed)
	_, err = s.Keypair()
	assert.ErrorIs(t, err, ErrConnectionClosed)
	_, err = s.Disconnect(ctx)
	assert.ErrorIs(t, err, ErrConnectionClosed)

	// the public API doesn't need the session
	_, err = s.Public().GetSystemInfo(ctx)
	assert.NoError(t, err)
}

func TestAuthorizeURL(t *testing.T) {
	f := newFakeServer(t)
	d := f.client(func(opt *Options) {
		opt.RedirectURI = "http://localhost:8080/callback"
	})

	u, err := url.Parse(d.AuthorizeURL())
	require.NoError(t, err)
	assert.Equal(t, authorizePath, u.Path)
	assert.Equal(t, d.BaseURL().Host, u.Host)
	q := u.Query()
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, testClientID, q.Get("client_id"))
	assert.Equal(t, "http://localhost:8080/callback", q.Get("redirect_uri"))
	assert.Equal(t, "all", q.Get("scope"))
	assert.Empty(t, q.Get("client_secret"))

	s := connect(t, d, AuthCodeFlow("xyz"))
	assert.Equal(t, "http://localhost:8080/callback", f.tokenForms[0].Get("redirect_uri"))
	_, err = s.Disconnect(context.Background())
	require.NoError(t, err)
}

func TestConnectLoadsKeypair(t *testing.T) {
	container, plain, err := dcrypto.GenerateUserKeyPair(2048, "secret")
	require.NoError(t, err)
	f := newFakeServer(t)
	f.keypair = container
	ctx := context.Background()

	t.Run("Without password", func(t *testing.T) {
		s := connect(t, f.client(nil), PasswordFlow("u", "p"))
		_, err := s.Keypair()
		assert.ErrorIs(t, err, ErrMissingEncryptionSecret)
	})

	t.Run("With password", func(t *testing.T) {
		d := f.client(func(opt *Options) { opt.EncryptionPassword = "secret" })
		s := connect(t, d, PasswordFlow("u", "p"))
		kp, err := s.Keypair()
		require.NoError(t, err)
		assert.True(t, plain.PrivateKey.Equal(kp.PrivateKey))

		got, err := s.GetUserKeypair(ctx)
		require.NoError(t, err)
		assert.Equal(t, container.PublicKeyContainer.PublicKey, got.PublicKeyContainer.PublicKey)
		assert.Contains(t, f.apiAuth, "Bearer A")
	})

	t.Run("Wrong password", func(t *testing.T) {
		d := f.client(func(opt *Options) { opt.EncryptionPassword = "wrong" })
		s, err := d.Connect(ctx, PasswordFlow("u", "p"))
		assert.Nil(t, s)
		var cryptoErr *CryptoError
		require.True(t, errors.As(err, &cryptoErr))
		assert.Equal(t, "decrypt user key pair", cryptoErr.Op)

		// the tokens of the failed connection are revoked
		f.mu.Lock()
		defer f.mu.Unlock()
		require.GreaterOrEqual(t, len(f.revokeForms), 2)
		revoked := f.revokeForms[len(f.revokeForms)-2:]
		assert.Equal(t, "A", revoked[0].Get("token"))
		assert.Equal(t, "R", revoked[1].Get("token"))
		assert.Equal(t, "refresh_token", revoked[1].Get("token_type_hint"))
	})

	t.Run("No key pair", func(t *testing.T) {
		f.mu.Lock()
		f.keypair = nil
		f.mu.Unlock()
		d := f.client(func(opt *Options) { opt.EncryptionPassword = "secret" })
		_, err := d.Connect(ctx, PasswordFlow("u", "p"))
		require.Error(t, err)
		assert.True(t, IsNotFound(err))
	})
}
