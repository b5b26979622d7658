package dracoon

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/url"

	"github.com/dco3go/dco3/dracoon/api"
	"github.com/dco3go/dco3/fs"
	"github.com/dco3go/dco3/lib/rest"
	"golang.org/x/oauth2"
)

// OAuth2 endpoints relative to the base URL
const (
	tokenPath     = "/oauth/token"
	revokePath    = "/oauth/revoke"
	authorizePath = "/oauth/authorize"

	tokenHintAccess  = "access_token"
	tokenHintRefresh = "refresh_token"
)

// OAuth2Flow is one of the ways of getting a token pair. Make one
// with PasswordFlow, AuthCodeFlow or RefreshTokenFlow.
type OAuth2Flow interface {
	name() string
	form(d *Disconnected) url.Values
	basicAuth() bool
}

type passwordFlow struct {
	username string
	password string
}

// PasswordFlow authenticates with the user's credentials
func PasswordFlow(username, password string) OAuth2Flow {
	return passwordFlow{username: username, password: password}
}

func (passwordFlow) name() string    { return "password" }
func (passwordFlow) basicAuth() bool { return true }
func (f passwordFlow) form(*Disconnected) url.Values {
	return url.Values{
		"grant_type": {"password"},
		"username":   {f.username},
		"password":   {f.password},
	}
}

type authCodeFlow struct {
	code string
}

// AuthCodeFlow redeems the code the authorization endpoint redirected
// the user back with
func AuthCodeFlow(code string) OAuth2Flow {
	return authCodeFlow{code: code}
}

func (authCodeFlow) name() string    { return "authorization code" }
func (authCodeFlow) basicAuth() bool { return true }
func (f authCodeFlow) form(d *Disconnected) url.Values {
	return url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {f.code},
		"redirect_uri": {d.redirectURI},
	}
}

type refreshTokenFlow struct {
	refreshToken string
}

// RefreshTokenFlow connects with a refresh token saved earlier
func RefreshTokenFlow(refreshToken string) OAuth2Flow {
	return refreshTokenFlow{refreshToken: refreshToken}
}

func (refreshTokenFlow) name() string    { return "refresh token" }
func (refreshTokenFlow) basicAuth() bool { return false }
func (f refreshTokenFlow) form(*Disconnected) url.Values {
	return url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {f.refreshToken},
	}
}

// basicCredentials encodes the client credentials for the Basic
// Authorization header, base64url without padding
func (c *client) basicCredentials() string {
	return base64.RawURLEncoding.EncodeToString([]byte(c.opt.ClientID + ":" + c.opt.ClientSecret))
}

// requestToken posts form to the token endpoint.
//
// With basic set the client credentials travel in the Authorization
// header, otherwise in the form.
func (c *client) requestToken(ctx context.Context, form url.Values, basic bool) (*api.TokenResponse, error) {
	opts := rest.Opts{
		Method:       "POST",
		Path:         tokenPath,
		NoSign:       true,
		ExtraHeaders: map[string]string{"Accept": "application/json"},
	}
	if basic {
		opts.ExtraHeaders["Authorization"] = "Basic " + c.basicCredentials()
	} else {
		form.Set("client_id", c.opt.ClientID)
		form.Set("client_secret", c.opt.ClientSecret)
	}
	var result api.TokenResponse
	var resp *http.Response
	err := c.pacer.Call(func() (bool, error) {
		var err error
		resp, err = c.oauth.CallForm(ctx, &opts, form, &result)
		return shouldRetry(ctx, resp, err)
	})
	if err != nil {
		fs.Debugf(c, "Token request failed: %v", err)
		return nil, err
	}
	if result.AccessToken == "" {
		return nil, &AuthError{StatusCode: resp.StatusCode, Code: "invalid_response", Message: "no access token in reply"}
	}
	return &result, nil
}

// revoke invalidates token on the server
func (c *client) revoke(ctx context.Context, token, hint string) error {
	if token == "" {
		return errors.New("no " + hint + " to revoke")
	}
	opts := rest.Opts{
		Method:     "POST",
		Path:       revokePath,
		NoSign:     true,
		NoResponse: true,
	}
	form := url.Values{
		"token":           {token},
		"token_type_hint": {hint},
		"client_id":       {c.opt.ClientID},
		"client_secret":   {c.opt.ClientSecret},
	}
	fs.Debugf(c, "Revoking %s", hint)
	return c.pacer.Call(func() (bool, error) {
		resp, err := c.oauth.CallForm(ctx, &opts, form, nil)
		return shouldRetry(ctx, resp, err)
	})
}

// oauthConfig describes the OAuth2 endpoints of the instance
func (d *Disconnected) oauthConfig() *oauth2.Config {
	root := d.c.baseURL.String()
	return &oauth2.Config{
		ClientID:     d.c.opt.ClientID,
		ClientSecret: d.c.opt.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  root + authorizePath,
			TokenURL: root + tokenPath,
		},
		RedirectURL: d.redirectURI,
		Scopes:      []string{"all"},
	}
}

// AuthorizeURL returns the URL the user opens to start the
// authorization code flow. The redirect URI in it is the one
// AuthCodeFlow will present.
func (d *Disconnected) AuthorizeURL() string {
	if d.redirectURI == "" {
		d.redirectURI = d.c.baseURL.String() + "/oauth/callback"
	}
	return d.oauthConfig().AuthCodeURL("")
}
