// Package dracoon is a client for DRACOON: OAuth2 sessions and
// chunked, optionally end to end encrypted, uploads to public upload
// shares through presigned object storage URLs.
package dracoon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/dco3go/dco3/dracoon/api"
	"github.com/dco3go/dco3/fs"
	"github.com/dco3go/dco3/fs/fserrors"
	"github.com/dco3go/dco3/fs/fshttp"
	"github.com/dco3go/dco3/lib/dcrypto"
	"github.com/dco3go/dco3/lib/pacer"
	"github.com/dco3go/dco3/lib/rest"
	"github.com/patrickmn/go-cache"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

const systemInfoTTL = 5 * time.Minute

// retryErrorCodes is a slice of error codes that we will retry
var retryErrorCodes = []int{
	429, // Too Many Requests
	500, // Internal Server Error
	502, // Bad Gateway
	503, // Service Unavailable
	504, // Gateway Timeout
}

// shouldRetry returns a boolean as to whether this resp and err
// deserve to be retried.  It returns the err as a convenience, marked
// with the server's Retry-After if it sent one.
func shouldRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if fserrors.ContextError(ctx, &err) {
		return false, err
	}
	retry := fserrors.ShouldRetry(err) || fserrors.ShouldRetryHTTP(resp, retryErrorCodes)
	if retry && resp != nil {
		if d, ok := fserrors.ParseRetryAfter(resp.Header.Get("Retry-After")); ok {
			err = fserrors.RetryAfterError(err, d)
		}
	}
	return retry, err
}

// client is the state shared by every session value made from one
// Build. It never changes after newClient.
type client struct {
	opt     Options
	baseURL *url.URL
	apiRoot string
	http    *http.Client
	oauth   *rest.Client // {base}, token endpoints
	srv     *rest.Client // {base}/api/v4, unauthenticated
	s3      *rest.Client // presigned URLs
	pacer   *fs.Pacer
	cache   *cache.Cache
	metrics *fshttp.Metrics
	now     func() time.Time
}

func newClient(ctx context.Context, opt Options, hc *http.Client) (*client, error) {
	base, err := opt.validate()
	if err != nil {
		return nil, err
	}
	ctx, ci := fs.AddConfig(ctx)
	ci.UserAgent = opt.UserAgent
	ci.LowLevelRetries = opt.MaxRetries + 1
	ci.TPSLimit = opt.TPSLimit
	ci.TPSLimitBurst = opt.TPSLimitBurst
	ci.Timeout = time.Duration(opt.Timeout)
	ci.ConnectTimeout = time.Duration(opt.ConnectTimeout)
	ci.Transfers = opt.UploadConcurrency
	if hc == nil {
		hc = fshttp.NewClient(ctx)
	}
	root := base.String()
	c := &client{
		opt:     opt,
		baseURL: base,
		apiRoot: root + APIPrefix + "/",
		http:    hc,
		oauth:   rest.NewClient(hc).SetRoot(root).SetErrorHandler(authErrorHandler),
		srv:     rest.NewClient(hc).SetRoot(root + APIPrefix + "/").SetErrorHandler(apiErrorHandler),
		s3:      rest.NewClient(hc).SetErrorHandler(s3ErrorHandler),
		pacer: fs.NewPacer(ctx, "dracoon", pacer.NewBackoff(
			pacer.MinSleep(time.Duration(opt.MinRetryDelay)),
			pacer.MaxSleep(time.Duration(opt.MaxRetryDelay)),
		)),
		cache:   cache.New(systemInfoTTL, 2*systemInfoTTL),
		metrics: fshttp.MetricsFor(hc),
		now:     time.Now,
	}
	for _, srv := range []*rest.Client{c.oauth, c.srv, c.s3} {
		srv.SetHeader("User-Agent", opt.UserAgent)
	}
	return c, nil
}

// detach returns a context which keeps the values of ctx but not its
// cancellation, bounded by the client timeout
func (c *client) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = context.WithoutCancel(ctx)
	if timeout := time.Duration(c.opt.Timeout); timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}

// String describes the client for logging
func (c *client) String() string {
	return "dracoon " + c.baseURL.Host
}

// Disconnected is a client without tokens. It can only reach the
// public API and start one of the OAuth2 flows.
type Disconnected struct {
	c           *client
	redirectURI string
}

func newDisconnected(ctx context.Context, opt Options, hc *http.Client) (*Disconnected, error) {
	c, err := newClient(ctx, opt, hc)
	if err != nil {
		return nil, err
	}
	return &Disconnected{c: c, redirectURI: c.opt.RedirectURI}, nil
}

// BaseURL returns the address of the DRACOON instance
func (d *Disconnected) BaseURL() *url.URL {
	u := *d.c.baseURL
	return &u
}

// RedirectURI returns the redirect URI used by the authorization code flow
func (d *Disconnected) RedirectURI() string {
	return d.redirectURI
}

// Public returns the endpoints which need no authentication
func (d *Disconnected) Public() *Public {
	return &Public{c: d.c}
}

// Connect runs flow and returns the connected client.
//
// If an encryption password is configured the user key pair is
// fetched and decrypted too. d stays usable if Connect fails.
func (d *Disconnected) Connect(ctx context.Context, flow OAuth2Flow) (*Connected, error) {
	if flow == nil {
		return nil, errors.New("nil OAuth2 flow")
	}
	fs.Debugf(d.c, "Connecting with %s flow", flow.name())
	tok, err := d.c.requestToken(ctx, flow.form(d), flow.basicAuth())
	if err != nil {
		return nil, err
	}
	s := newConnected(d.c, newTokenCell(tok, d.c.now()), d.redirectURI)
	if pw := d.c.opt.EncryptionPassword; pw != "" {
		if err := s.loadKeypair(ctx, pw); err != nil {
			revokeCtx, cancel := d.c.detach(ctx)
			defer cancel()
			_, _ = s.DisconnectWith(revokeCtx, true, true)
			return nil, err
		}
	}
	fs.Infof(d.c, "Connected")
	return s, nil
}

// tokenCell holds the token pair of a connection. It is shared by all
// users of one Connected.
type tokenCell struct {
	mu        sync.RWMutex
	access    string
	refresh   string
	expiresIn int64 // seconds
	issuedAt  time.Time
	closed    bool
	flight    singleflight.Group
	refreshMu sync.Mutex // held while a token request is in flight
}

func newTokenCell(tok *api.TokenResponse, now time.Time) *tokenCell {
	cell := &tokenCell{}
	cell.set(tok, now)
	return cell
}

// set stores a new token pair. The refresh token is kept if the
// server didn't send a new one.
func (cell *tokenCell) set(tok *api.TokenResponse, now time.Time) {
	cell.access = tok.AccessToken
	if tok.RefreshToken != "" {
		cell.refresh = tok.RefreshToken
	}
	cell.expiresIn = tok.ExpiresIn
	cell.issuedAt = now
}

// validLocked reports whether the access token is still valid at
// now, to the second. Call with mu held.
func (cell *tokenCell) validLocked(now time.Time) bool {
	return int64(now.Sub(cell.issuedAt)/time.Second) < cell.expiresIn
}

// Connected is a client holding a token pair
type Connected struct {
	c           *client
	cell        *tokenCell
	redirectURI string
	srv         *rest.Client // {base}/api/v4 with bearer token

	mu      sync.Mutex
	account *api.UserAccount
	keypair *dcrypto.PlainUserKeyPair
}

func newConnected(c *client, cell *tokenCell, redirectURI string) *Connected {
	s := &Connected{
		c:           c,
		cell:        cell,
		redirectURI: redirectURI,
	}
	s.srv = rest.NewClient(c.http).
		SetRoot(c.apiRoot).
		SetErrorHandler(apiErrorHandler).
		SetHeader("User-Agent", c.opt.UserAgent).
		SetSigner(s.sign)
	return s
}

// String describes the session for logging
func (s *Connected) String() string {
	return s.c.String()
}

// sign adds the bearer token to an API request
func (s *Connected) sign(req *http.Request) error {
	header, err := s.AuthHeader(req.Context())
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", header)
	return nil
}

// BaseURL returns the address of the DRACOON instance
func (s *Connected) BaseURL() *url.URL {
	u := *s.c.baseURL
	return &u
}

// Public returns the endpoints which need no authentication
func (s *Connected) Public() *Public {
	return &Public{c: s.c}
}

// validToken returns an access token which is valid now, refreshing
// it first if needed. Concurrent callers share one refresh.
func (s *Connected) validToken(ctx context.Context) (string, error) {
	s.cell.mu.RLock()
	closed, access, valid := s.cell.closed, s.cell.access, s.cell.validLocked(s.c.now())
	s.cell.mu.RUnlock()
	if closed {
		return "", ErrConnectionClosed
	}
	if valid {
		return access, nil
	}
	if err := s.runRefresh(ctx, "refresh", false); err != nil {
		return "", err
	}
	s.cell.mu.RLock()
	defer s.cell.mu.RUnlock()
	if s.cell.closed {
		return "", ErrConnectionClosed
	}
	if !s.cell.validLocked(s.c.now()) {
		return "", fmt.Errorf("access token expired straight after refresh (expires_in=%d)", s.cell.expiresIn)
	}
	return s.cell.access, nil
}

// runRefresh refreshes the token pair on a flight shared by all
// callers using key. The flight runs detached from ctx so a cancelled
// caller doesn't fail the others, but each caller stops waiting when
// its own ctx is done.
func (s *Connected) runRefresh(ctx context.Context, key string, force bool) error {
	ch := s.cell.flight.DoChan(key, func() (interface{}, error) {
		flightCtx, cancel := s.c.detach(ctx)
		defer cancel()
		return nil, s.refresh(flightCtx, force)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// refresh swaps the token pair for a new one. Unless force is set
// nothing is done if the access token is valid by the time no other
// refresh is in flight. On failure the old pair is kept so the next
// call tries again.
func (s *Connected) refresh(ctx context.Context, force bool) error {
	s.cell.refreshMu.Lock()
	defer s.cell.refreshMu.Unlock()
	s.cell.mu.RLock()
	closed, refreshToken := s.cell.closed, s.cell.refresh
	valid := s.cell.validLocked(s.c.now())
	s.cell.mu.RUnlock()
	if closed {
		return ErrConnectionClosed
	}
	if valid && !force {
		return nil
	}
	fs.Debugf(s, "Refreshing access token")
	tok, err := s.c.requestToken(ctx, RefreshTokenFlow(refreshToken).form(nil), false)
	if err != nil {
		return err
	}
	s.cell.mu.Lock()
	defer s.cell.mu.Unlock()
	if s.cell.closed {
		return ErrConnectionClosed
	}
	s.cell.set(tok, s.c.now())
	return nil
}

// AuthHeader returns the value of the Authorization header for an
// authenticated request, refreshing the access token if it expired.
func (s *Connected) AuthHeader(ctx context.Context) (string, error) {
	access, err := s.validToken(ctx)
	if err != nil {
		return "", err
	}
	return "Bearer " + access, nil
}

// RefreshToken returns the current refresh token so the caller can
// persist it
func (s *Connected) RefreshToken() (string, error) {
	s.cell.mu.RLock()
	defer s.cell.mu.RUnlock()
	if s.cell.closed {
		return "", ErrConnectionClosed
	}
	return s.cell.refresh, nil
}

// Refresh gets a new token pair now, whether or not the current one
// expired
func (s *Connected) Refresh(ctx context.Context) error {
	return s.runRefresh(ctx, "force", true)
}

// Token returns the current token, refreshed if needed. This makes
// Connected an oauth2.TokenSource.
func (s *Connected) Token() (*oauth2.Token, error) {
	access, err := s.validToken(context.Background())
	if err != nil {
		return nil, err
	}
	s.cell.mu.RLock()
	defer s.cell.mu.RUnlock()
	return &oauth2.Token{
		AccessToken:  access,
		TokenType:    "Bearer",
		RefreshToken: s.cell.refresh,
		Expiry:       s.cell.issuedAt.Add(time.Duration(s.cell.expiresIn) * time.Second),
	}, nil
}

var _ oauth2.TokenSource = (*Connected)(nil)

// Client returns an *http.Client which adds the bearer token to every
// request
func (s *Connected) Client() *http.Client {
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, s.c.http)
	return oauth2.NewClient(ctx, s)
}

// Disconnect revokes the access token and returns the disconnected
// client
func (s *Connected) Disconnect(ctx context.Context) (*Disconnected, error) {
	return s.DisconnectWith(ctx, true, false)
}

// DisconnectWith revokes the selected tokens and returns the
// disconnected client.
//
// Revocation failures are returned joined, but the session is closed
// and the *Disconnected is returned regardless.
func (s *Connected) DisconnectWith(ctx context.Context, revokeAccess, revokeRefresh bool) (*Disconnected, error) {
	s.cell.mu.Lock()
	if s.cell.closed {
		s.cell.mu.Unlock()
		return nil, ErrConnectionClosed
	}
	s.cell.closed = true
	access, refresh := s.cell.access, s.cell.refresh
	s.cell.access, s.cell.refresh = "", ""
	s.cell.mu.Unlock()

	var errs []error
	if revokeAccess {
		if err := s.c.revoke(ctx, access, tokenHintAccess); err != nil {
			fs.Errorf(s, "Failed to revoke access token: %v", err)
			errs = append(errs, err)
		}
	}
	if revokeRefresh {
		if err := s.c.revoke(ctx, refresh, tokenHintRefresh); err != nil {
			fs.Errorf(s, "Failed to revoke refresh token: %v", err)
			errs = append(errs, err)
		}
	}
	s.mu.Lock()
	s.keypair = nil
	s.account = nil
	s.mu.Unlock()
	fs.Infof(s, "Disconnected")
	return &Disconnected{c: s.c, redirectURI: s.redirectURI}, errors.Join(errs...)
}

// checkOpen returns ErrConnectionClosed once the session was
// disconnected
func (s *Connected) checkOpen() error {
	s.cell.mu.RLock()
	defer s.cell.mu.RUnlock()
	if s.cell.closed {
		return ErrConnectionClosed
	}
	return nil
}
