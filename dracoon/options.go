package dracoon

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dco3go/dco3/fs"
	"github.com/dco3go/dco3/fs/config/configmap"
	"github.com/dco3go/dco3/fs/config/configstruct"
)

const (
	// APIPrefix is prepended to every API path
	APIPrefix = "/api/v4"

	// DefaultChunkSize is the size of one uploaded part
	DefaultChunkSize = 32 * fs.Mebi

	// MaxChunkSize is the per part limit of object storage
	MaxChunkSize = 5 * fs.Gibi

	minMaxRetries    = 1
	maxMaxRetries    = 10
	minRetryDelayMin = 100 * time.Millisecond
	minRetryDelayMax = 5 * time.Second
	maxRetryDelayMin = time.Second
	maxRetryDelayMax = 60 * time.Second
)

// Options defines the configuration of a client.
//
// It is decoded from a configmap.Mapper with configstruct so every
// field can come from flags, the environment or a config file.
type Options struct {
	BaseURL                  string        `config:"base_url"`
	ClientID                 string        `config:"client_id"`
	ClientSecret             string        `config:"client_secret"`
	RedirectURI              string        `config:"redirect_uri"`
	UserAgent                string        `config:"user_agent"`
	EncryptionPassword       string        `config:"encryption_password"`
	MaxRetries               int           `config:"max_retries"`
	MinRetryDelay            fs.Duration   `config:"min_retry_delay"`
	MaxRetryDelay            fs.Duration   `config:"max_retry_delay"`
	ChunkSize                fs.SizeSuffix `config:"chunk_size"`
	UploadConcurrency        int           `config:"upload_concurrency"`
	PollStartDelay           fs.Duration   `config:"poll_start_delay"`
	PollMaxDelay             fs.Duration   `config:"poll_max_delay"`
	PollTimeout              fs.Duration   `config:"poll_timeout"`
	SkipInvalidRecipientKeys bool          `config:"skip_invalid_recipient_keys"`
	TPSLimit                 float64       `config:"tps_limit"`
	TPSLimitBurst            int           `config:"tps_limit_burst"`
	Timeout                  fs.Duration   `config:"timeout"`
	ConnectTimeout           fs.Duration   `config:"connect_timeout"`
}

// DefaultOptions returns the options used for anything not configured
func DefaultOptions() Options {
	return Options{
		UserAgent:         fs.DefaultUserAgent(),
		MaxRetries:        5,
		MinRetryDelay:     fs.Duration(600 * time.Millisecond),
		MaxRetryDelay:     fs.Duration(20 * time.Second),
		ChunkSize:         DefaultChunkSize,
		UploadConcurrency: 1,
		PollStartDelay:    fs.Duration(300 * time.Millisecond),
		PollMaxDelay:      fs.Duration(30 * time.Second),
		PollTimeout:       fs.Duration(30 * time.Minute),
		TPSLimitBurst:     1,
		Timeout:           fs.Duration(5 * time.Minute),
		ConnectTimeout:    fs.Duration(time.Minute),
	}
}

func clampDuration(name string, d *fs.Duration, lo, hi time.Duration) {
	v := time.Duration(*d)
	switch {
	case v < lo:
		fs.Debugf(nil, "%s %v below minimum, using %v", name, v, lo)
		*d = fs.Duration(lo)
	case v > hi:
		fs.Debugf(nil, "%s %v above maximum, using %v", name, v, hi)
		*d = fs.Duration(hi)
	}
}

// validate checks the required fields and clamps the rest into range.
// It returns the parsed base URL.
func (opt *Options) validate() (*url.URL, error) {
	if opt.BaseURL == "" {
		return nil, ErrMissingBaseURL
	}
	base, err := url.Parse(opt.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: base url %q: %v", ErrInvalidURL, opt.BaseURL, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("%w: base url %q is not absolute", ErrInvalidURL, opt.BaseURL)
	}
	base.Path = strings.TrimRight(base.Path, "/")
	base.RawQuery = ""
	base.Fragment = ""
	if opt.ClientID == "" {
		return nil, ErrMissingClientID
	}
	if opt.ClientSecret == "" {
		return nil, ErrMissingClientSecret
	}
	if opt.RedirectURI == "" {
		opt.RedirectURI = base.String() + "/oauth/callback"
	} else if u, err := url.Parse(opt.RedirectURI); err != nil || u.Scheme == "" {
		return nil, fmt.Errorf("%w: redirect uri %q", ErrInvalidURL, opt.RedirectURI)
	}
	if opt.UserAgent == "" {
		opt.UserAgent = fs.DefaultUserAgent()
	}

	if opt.MaxRetries < minMaxRetries {
		fs.Debugf(nil, "max_retries %d below minimum, using %d", opt.MaxRetries, minMaxRetries)
		opt.MaxRetries = minMaxRetries
	} else if opt.MaxRetries > maxMaxRetries {
		fs.Debugf(nil, "max_retries %d above maximum, using %d", opt.MaxRetries, maxMaxRetries)
		opt.MaxRetries = maxMaxRetries
	}
	clampDuration("min_retry_delay", &opt.MinRetryDelay, minRetryDelayMin, minRetryDelayMax)
	clampDuration("max_retry_delay", &opt.MaxRetryDelay, maxRetryDelayMin, maxRetryDelayMax)
	if opt.MinRetryDelay > opt.MaxRetryDelay {
		opt.MaxRetryDelay = opt.MinRetryDelay
	}

	if err := checkChunkSize(int64(opt.ChunkSize)); err != nil {
		return nil, err
	}
	if opt.UploadConcurrency < 1 {
		opt.UploadConcurrency = 1
	}
	defaults := DefaultOptions()
	if opt.PollStartDelay <= 0 {
		opt.PollStartDelay = defaults.PollStartDelay
	}
	if opt.PollMaxDelay < opt.PollStartDelay {
		opt.PollMaxDelay = opt.PollStartDelay
	}
	if opt.PollTimeout < 0 {
		opt.PollTimeout = 0
	}
	if opt.TPSLimitBurst < 1 {
		opt.TPSLimitBurst = 1
	}
	return base, nil
}

// Builder configures a client step by step
type Builder struct {
	opt  Options
	http *http.Client
}

// NewBuilder returns a Builder holding DefaultOptions
func NewBuilder() *Builder {
	return &Builder{opt: DefaultOptions()}
}

// WithBaseURL sets the address of the DRACOON instance
func (b *Builder) WithBaseURL(baseURL string) *Builder {
	b.opt.BaseURL = baseURL
	return b
}

// WithClientID sets the OAuth2 client id
func (b *Builder) WithClientID(clientID string) *Builder {
	b.opt.ClientID = clientID
	return b
}

// WithClientSecret sets the OAuth2 client secret
func (b *Builder) WithClientSecret(clientSecret string) *Builder {
	b.opt.ClientSecret = clientSecret
	return b
}

// WithRedirectURI sets the redirect URI of the authorization code flow
func (b *Builder) WithRedirectURI(redirectURI string) *Builder {
	b.opt.RedirectURI = redirectURI
	return b
}

// WithUserAgent sets the User-Agent sent with every request
func (b *Builder) WithUserAgent(userAgent string) *Builder {
	b.opt.UserAgent = userAgent
	return b
}

// WithMaxRetries sets how many times a failed request is retried
func (b *Builder) WithMaxRetries(n int) *Builder {
	b.opt.MaxRetries = n
	return b
}

// WithMinRetryDelay sets the first retry delay
func (b *Builder) WithMinRetryDelay(d time.Duration) *Builder {
	b.opt.MinRetryDelay = fs.Duration(d)
	return b
}

// WithMaxRetryDelay caps the retry delay
func (b *Builder) WithMaxRetryDelay(d time.Duration) *Builder {
	b.opt.MaxRetryDelay = fs.Duration(d)
	return b
}

// WithEncryptionPassword sets the password of the user key pair
func (b *Builder) WithEncryptionPassword(password string) *Builder {
	b.opt.EncryptionPassword = password
	return b
}

// WithHTTPClient replaces the HTTP client built from the options
func (b *Builder) WithHTTPClient(c *http.Client) *Builder {
	b.http = c
	return b
}

// WithChunkSize sets the default part size of uploads
func (b *Builder) WithChunkSize(size fs.SizeSuffix) *Builder {
	b.opt.ChunkSize = size
	return b
}

// WithPollTimeout limits how long an upload may take to complete
// after finalize. Zero waits forever.
func (b *Builder) WithPollTimeout(d time.Duration) *Builder {
	b.opt.PollTimeout = fs.Duration(d)
	return b
}

// WithSkipInvalidRecipientKeys makes encrypted uploads leave out
// recipients whose public key can't be used instead of failing
func (b *Builder) WithSkipInvalidRecipientKeys(skip bool) *Builder {
	b.opt.SkipInvalidRecipientKeys = skip
	return b
}

// WithUploadConcurrency sets how many parts are sent at once
func (b *Builder) WithUploadConcurrency(n int) *Builder {
	b.opt.UploadConcurrency = n
	return b
}

// Build validates the configuration and returns a disconnected client
func (b *Builder) Build() (*Disconnected, error) {
	return newDisconnected(context.Background(), b.opt, b.http)
}

// NewFromConfig builds a disconnected client from a config map.
//
// Keys missing from m take the user agent, timeouts and transaction
// limits of the fs.ConfigInfo in ctx.
func NewFromConfig(ctx context.Context, m configmap.Mapper) (*Disconnected, error) {
	opt := DefaultOptions()
	ci := fs.GetConfig(ctx)
	opt.UserAgent = ci.UserAgent
	opt.Timeout = fs.Duration(ci.Timeout)
	opt.ConnectTimeout = fs.Duration(ci.ConnectTimeout)
	opt.TPSLimit = ci.TPSLimit
	opt.TPSLimitBurst = ci.TPSLimitBurst
	if err := configstruct.Set(m, &opt); err != nil {
		return nil, err
	}
	return newDisconnected(ctx, opt, nil)
}
