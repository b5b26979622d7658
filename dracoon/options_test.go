package dracoon

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/dco3go/dco3/dracoon/api"
	"github.com/dco3go/dco3/fs"
	"github.com/dco3go/dco3/fs/config/configmap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBuilder() *Builder {
	return NewBuilder().
		WithBaseURL("https://mock").
		WithClientID(testClientID).
		WithClientSecret(testClientSecret)
}

func TestBuildValidationOrder(t *testing.T) {
	for _, test := range []struct {
		name    string
		builder *Builder
		want    error
	}{
		{"Nothing set", NewBuilder(), ErrMissingBaseURL},
		{"Only credentials", NewBuilder().WithClientID("a").WithClientSecret("b"), ErrMissingBaseURL},
		{"Relative base", NewBuilder().WithBaseURL("/dracoon"), ErrInvalidURL},
		{"No scheme", NewBuilder().WithBaseURL("mock.example.com"), ErrInvalidURL},
		{"Unparsable base", NewBuilder().WithBaseURL("https://mock\x7f"), ErrInvalidURL},
		{"Bad base before client id", NewBuilder().WithBaseURL("::"), ErrInvalidURL},
		{"No client id", NewBuilder().WithBaseURL("https://mock"), ErrMissingClientID},
		{"No client secret", NewBuilder().WithBaseURL("https://mock").WithClientID("a"), ErrMissingClientSecret},
		{"Missing secret before bad redirect", NewBuilder().WithBaseURL("https://mock").WithClientID("a").WithRedirectURI("::"), ErrMissingClientSecret},
		{"Bad redirect", testBuilder().WithRedirectURI("::"), ErrInvalidURL},
		{"Relative redirect", testBuilder().WithRedirectURI("callback"), ErrInvalidURL},
		{"Bad chunk size", testBuilder().WithChunkSize(0), ErrInvalidChunkSize},
		{"Huge chunk size", testBuilder().WithChunkSize(MaxChunkSize + 1), ErrInvalidChunkSize},
	} {
		t.Run(test.name, func(t *testing.T) {
			d, err := test.builder.Build()
			assert.Nil(t, d)
			assert.ErrorIs(t, err, test.want)
		})
	}
}

func TestBuildDefaults(t *testing.T) {
	d, err := NewBuilder().
		WithBaseURL("https://mock/some/path/?x=1#frag").
		WithClientID(testClientID).
		WithClientSecret(testClientSecret).
		Build()
	require.NoError(t, err)

	assert.Equal(t, "https://mock/some/path", d.BaseURL().String())
	assert.Equal(t, "https://mock/some/path/oauth/callback", d.RedirectURI())
	assert.Equal(t, "https://mock/some/path/api/v4/", d.c.apiRoot)
	opt := d.c.opt
	assert.True(t, strings.HasPrefix(opt.UserAgent, "dco3/"), opt.UserAgent)
	assert.Equal(t, 5, opt.MaxRetries)
	assert.Equal(t, fs.Duration(600*time.Millisecond), opt.MinRetryDelay)
	assert.Equal(t, fs.Duration(20*time.Second), opt.MaxRetryDelay)
	assert.Equal(t, DefaultChunkSize, opt.ChunkSize)
	assert.Equal(t, 1, opt.UploadConcurrency)
	assert.Equal(t, fs.Duration(30*time.Minute), opt.PollTimeout)

	// BaseURL hands out copies
	d.BaseURL().Host = "elsewhere"
	assert.Equal(t, "mock", d.BaseURL().Host)
}

func TestBuildClampsRetryPolicy(t *testing.T) {
	for _, test := range []struct {
		name     string
		retries  int
		min, max time.Duration
		wantN    int
		wantMin  time.Duration
		wantMax  time.Duration
	}{
		{"In range", 3, time.Second, 10 * time.Second, 3, time.Second, 10 * time.Second},
		{"Too low", 0, time.Millisecond, time.Millisecond, 1, 100 * time.Millisecond, time.Second},
		{"Too high", 99, time.Minute, time.Hour, 10, 5 * time.Second, 60 * time.Second},
		{"Min above max", 5, 4 * time.Second, 2 * time.Second, 5, 4 * time.Second, 4 * time.Second},
	} {
		t.Run(test.name, func(t *testing.T) {
			d, err := testBuilder().
				WithMaxRetries(test.retries).
				WithMinRetryDelay(test.min).
				WithMaxRetryDelay(test.max).
				Build()
			require.NoError(t, err)
			assert.Equal(t, test.wantN, d.c.opt.MaxRetries)
			assert.Equal(t, fs.Duration(test.wantMin), d.c.opt.MinRetryDelay)
			assert.Equal(t, fs.Duration(test.wantMax), d.c.opt.MaxRetryDelay)
		})
	}
}

func TestBuildOptions(t *testing.T) {
	hc := &http.Client{}
	d, err := testBuilder().
		WithRedirectURI("http://localhost/cb").
		WithUserAgent("tester/1.0").
		WithEncryptionPassword("secret").
		WithHTTPClient(hc).
		WithChunkSize(8 * fs.Mebi).
		WithPollTimeout(0).
		WithSkipInvalidRecipientKeys(true).
		WithUploadConcurrency(0).
		Build()
	require.NoError(t, err)
	assert.Equal(t, "http://localhost/cb", d.RedirectURI())
	opt := d.c.opt
	assert.Equal(t, "tester/1.0", opt.UserAgent)
	assert.Equal(t, "secret", opt.EncryptionPassword)
	assert.Equal(t, 8*fs.Mebi, opt.ChunkSize)
	assert.Equal(t, fs.Duration(0), opt.PollTimeout)
	assert.True(t, opt.SkipInvalidRecipientKeys)
	assert.Equal(t, 1, opt.UploadConcurrency)
	assert.Same(t, hc, d.c.http)
}

func TestUserAgentSent(t *testing.T) {
	f := newFakeServer(t)
	var got string
	srv := f.srv.Config.Handler
	f.srv.Config.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("User-Agent")
		srv.ServeHTTP(w, r)
	})
	p := f.client(func(opt *Options) { opt.UserAgent = "tester/2.0" }).Public()
	_, err := p.GetSystemInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tester/2.0", got)
}

func TestNewFromConfig(t *testing.T) {
	m := configmap.Simple{
		"base_url":                    "https://mock",
		"client_id":                   testClientID,
		"client_secret":               testClientSecret,
		"max_retries":                 "3",
		"min_retry_delay":             "250ms",
		"chunk_size":                  "16Mi",
		"upload_concurrency":          "4",
		"poll_timeout":                "1m",
		"skip_invalid_recipient_keys": "true",
		"tps_limit":                   "2.5",
	}
	d, err := NewFromConfig(context.Background(), m)
	require.NoError(t, err)
	opt := d.c.opt
	assert.Equal(t, "https://mock", d.BaseURL().String())
	assert.Equal(t, 3, opt.MaxRetries)
	assert.Equal(t, fs.Duration(250*time.Millisecond), opt.MinRetryDelay)
	assert.Equal(t, 16*fs.Mebi, opt.ChunkSize)
	assert.Equal(t, 4, opt.UploadConcurrency)
	assert.Equal(t, fs.Duration(time.Minute), opt.PollTimeout)
	assert.True(t, opt.SkipInvalidRecipientKeys)
	assert.Equal(t, 2.5, opt.TPSLimit)

	_, err = NewFromConfig(context.Background(), configmap.Simple{"base_url": "https://mock"})
	assert.ErrorIs(t, err, ErrMissingClientID)

	_, err = NewFromConfig(context.Background(), configmap.Simple{"max_retries": "lots"})
	assert.Error(t, err)
}

func TestNewFromConfigUsesGlobalConfig(t *testing.T) {
	ctx, ci := fs.AddConfig(context.Background())
	ci.UserAgent = "global/1.0"
	ci.Timeout = 42 * time.Second
	ci.TPSLimit = 7
	ci.TPSLimitBurst = 3
	m := configmap.Simple{
		"base_url":      "https://mock",
		"client_id":     testClientID,
		"client_secret": testClientSecret,
		"tps_limit":     "2",
	}
	d, err := NewFromConfig(ctx, m)
	require.NoError(t, err)
	opt := d.c.opt
	assert.Equal(t, "global/1.0", opt.UserAgent)
	assert.Equal(t, fs.Duration(42*time.Second), opt.Timeout)
	assert.Equal(t, 2.0, opt.TPSLimit)
	assert.Equal(t, 3, opt.TPSLimitBurst)
}

func TestErrorPredicates(t *testing.T) {
	for _, test := range []struct {
		status int
		is     func(error) bool
	}{
		{http.StatusNotFound, IsNotFound},
		{http.StatusUnauthorized, IsUnauthorized},
		{http.StatusForbidden, IsForbidden},
		{http.StatusConflict, IsConflict},
		{http.StatusRequestEntityTooLarge, IsPayloadTooLarge},
	} {
		httpErr := &HTTPError{StatusCode: test.status}
		assert.True(t, test.is(httpErr), "%d", test.status)
		assert.True(t, test.is(&IOError{Op: "wrapped", Err: httpErr}), "%d wrapped", test.status)
		assert.True(t, test.is(&AuthError{StatusCode: test.status}), "%d auth", test.status)
		assert.False(t, test.is(&HTTPError{StatusCode: http.StatusTeapot}), "%d other", test.status)
		assert.False(t, test.is(errors.New("plain")))
		assert.False(t, test.is(nil))
	}
}

func TestErrorStrings(t *testing.T) {
	assert.Equal(t, "authentication failed (HTTP 401): invalid_grant",
		(&AuthError{StatusCode: 401, Code: "invalid_grant", Message: "invalid_grant"}).Error())
	assert.Equal(t, "authentication failed (HTTP 400): invalid_client: bad secret",
		(&AuthError{StatusCode: 400, Code: "invalid_client", Message: "bad secret"}).Error())
	assert.Equal(t, "HTTP error 409 (code -40010): file exists: trace",
		(&HTTPError{StatusCode: 409, Code: -40010, Message: "file exists", DebugInfo: "trace"}).Error())
	assert.Equal(t, "HTTP error 500", (&HTTPError{StatusCode: 500}).Error())
	assert.Equal(t, "crypto: init: boom", (&CryptoError{Op: "init", Err: errors.New("boom")}).Error())
	assert.Equal(t, "read: boom", (&IOError{Op: "read", Err: errors.New("boom")}).Error())
}

func newResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{},
	}
}

func TestAPIErrorHandler(t *testing.T) {
	for _, test := range []struct {
		name string
		body string
		want HTTPError
	}{
		{"API error", `{"code":404,"message":"Node not found","debugInfo":"id 12","errorCode":-41000}`,
			HTTPError{StatusCode: 404, Code: -41000, Message: "Node not found", DebugInfo: "id 12"}},
		{"OAuth error", `{"error":"invalid_token","error_description":"expired"}`,
			HTTPError{StatusCode: 404, Message: "invalid_token: expired"}},
		{"Text", "gone fishing\n", HTTPError{StatusCode: 404, Message: "gone fishing"}},
		{"Empty", "", HTTPError{StatusCode: 404, Message: "Not Found"}},
	} {
		t.Run(test.name, func(t *testing.T) {
			err := apiErrorHandler(newResponse(404, test.body))
			var got *HTTPError
			require.True(t, errors.As(err, &got))
			assert.Equal(t, test.want, *got)
		})
	}
}

func TestAuthErrorHandler(t *testing.T) {
	err := authErrorHandler(newResponse(400, `{"error":"invalid_client","error_description":"bad secret"}`))
	assert.Equal(t, &AuthError{StatusCode: 400, Code: "invalid_client", Message: "bad secret"}, err)

	err = authErrorHandler(newResponse(401, `{"code":401,"message":"Unauthorized"}`))
	assert.Equal(t, &AuthError{StatusCode: 401, Code: "Unauthorized", Message: "Unauthorized"}, err)

	err = authErrorHandler(newResponse(502, "<html>bad gateway</html>"))
	assert.Equal(t, &AuthError{StatusCode: 502, Code: "Bad Gateway", Message: "Bad Gateway"}, err)
}

func TestS3ErrorHandler(t *testing.T) {
	err := s3ErrorHandler(newResponse(403,
		`<?xml version="1.0" encoding="UTF-8"?><Error><Code>SignatureDoesNotMatch</Code><Message>check your key</Message><RequestId>r1</RequestId></Error>`))
	assert.Equal(t, &HTTPError{StatusCode: 403, Message: "SignatureDoesNotMatch: check your key", DebugInfo: "r1"}, err)
	assert.True(t, IsForbidden(err))

	err = s3ErrorHandler(newResponse(500, "not xml"))
	assert.Equal(t, &HTTPError{StatusCode: 500, Message: "Internal Server Error"}, err)
}

func TestStatusError(t *testing.T) {
	err := statusError(&api.Error{Code: 413, Message: "too big", ErrorCode: -40200})
	assert.True(t, IsPayloadTooLarge(err))
	assert.Equal(t, &HTTPError{StatusCode: 500, Message: "upload failed without details"}, statusError(nil))
}
