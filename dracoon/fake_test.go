package dracoon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dco3go/dco3/dracoon/api"
	"github.com/dco3go/dco3/fs"
	"github.com/dco3go/dco3/lib/dcrypto"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

const (
	testClientID     = "cid"
	testClientSecret = "csec"
	testAccessKey    = "ak"
	testTokenReply   = `{"access_token":"A","refresh_token":"R","expires_in":3600}`
)

// reply is a canned status and JSON body
type reply struct {
	status int
	body   string
}

// fakeServer emulates the parts of DRACOON and object storage the
// client talks to
type fakeServer struct {
	t   *testing.T
	srv *httptest.Server

	mu sync.Mutex

	// OAuth2
	tokenReplies []reply // served in order, the last one repeats
	tokenForms   []url.Values
	tokenAuth    []string
	tokenGate    chan struct{} // if set token replies wait for it to close
	tokenStarted chan struct{} // if set gets a value as each token request arrives
	tokenActive  int
	tokenPeak    int
	revokeForms  []url.Values
	revokeStatus int

	// API
	apiAuth         []string
	systemInfo      api.SystemInfo
	systemInfoCalls int
	share           api.PublicUploadShare
	accountCalls    int
	keypair         *dcrypto.UserKeyPairContainer

	// upload
	uploadID    string
	channels    []api.CreateShareUploadChannelRequest
	urlRequests []api.GeneratePresignedURLsRequest
	parts       map[uint32][]byte
	putAttempts int
	putReject   int  // PUTs answered 503 without reading the body
	putConsume  bool // read the body, then answer 503
	putDelay    time.Duration
	inFlight    int
	maxInFlight int
	finalized   []api.CompleteS3ShareUploadRequest
	statuses    []api.S3ShareUploadStatus // served in order, the last one repeats
	statusCalls int
	events      []string
}

func newFakeServer(t *testing.T) *fakeServer {
	f := &fakeServer{
		t:            t,
		tokenReplies: []reply{{http.StatusOK, testTokenReply}},
		revokeStatus: http.StatusOK,
		systemInfo:   api.SystemInfo{UseS3Storage: true},
		parts:        map[uint32][]byte{},
		statuses: []api.S3ShareUploadStatus{
			{Status: api.StatusTransferring},
			{Status: api.StatusDone, FileName: "x.txt"},
		},
	}
	f.srv = httptest.NewServer(f)
	t.Cleanup(f.srv.Close)
	return f
}

// client returns a disconnected client for f with fast polling and
// retries
func (f *fakeServer) client(mod func(*Options)) *Disconnected {
	opt := DefaultOptions()
	opt.BaseURL = f.srv.URL
	opt.ClientID = testClientID
	opt.ClientSecret = testClientSecret
	opt.MinRetryDelay = fs.Duration(100 * time.Millisecond)
	opt.MaxRetryDelay = fs.Duration(time.Second)
	opt.PollStartDelay = fs.Duration(time.Millisecond)
	opt.PollMaxDelay = fs.Duration(10 * time.Millisecond)
	if mod != nil {
		mod(&opt)
	}
	d, err := newDisconnected(context.Background(), opt, nil)
	require.NoError(f.t, err)
	return d
}

// setTokenReplies replaces the replies of the token endpoint
func (f *fakeServer) setTokenReplies(replies ...reply) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokenReplies = replies
}

// holdTokens makes the token endpoint wait until the returned
// function is called. Each request sends on the returned channel as it
// arrives.
func (f *fakeServer) holdTokens() (<-chan struct{}, func()) {
	gate := make(chan struct{})
	started := make(chan struct{}, 8)
	f.mu.Lock()
	f.tokenGate, f.tokenStarted = gate, started
	f.mu.Unlock()
	var once sync.Once
	release := func() { once.Do(func() { close(gate) }) }
	f.t.Cleanup(release)
	return started, release
}

func (f *fakeServer) maxTokenRequests() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokenPeak
}

func (f *fakeServer) tokenCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tokenForms)
}

func (f *fakeServer) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		f.t.Errorf("encode reply: %v", err)
	}
}

func (f *fakeServer) readJSON(r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		f.t.Errorf("decode %s %s: %v", r.Method, r.URL.Path, err)
		return false
	}
	return true
}

func (f *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	switch {
	case path == tokenPath:
		f.serveToken(w, r)
	case path == revokePath:
		f.serveRevoke(w, r)
	case strings.HasPrefix(path, "/s3/"):
		f.servePart(w, r)
	case strings.HasPrefix(path, APIPrefix+"/"):
		f.serveAPI(w, r, strings.TrimPrefix(path, APIPrefix+"/"))
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeServer) serveToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		f.t.Errorf("parse token form: %v", err)
	}
	f.mu.Lock()
	n := len(f.tokenForms)
	f.tokenForms = append(f.tokenForms, r.PostForm)
	f.tokenAuth = append(f.tokenAuth, r.Header.Get("Authorization"))
	rep := f.tokenReplies[len(f.tokenReplies)-1]
	if n < len(f.tokenReplies) {
		rep = f.tokenReplies[n]
	}
	f.tokenActive++
	if f.tokenActive > f.tokenPeak {
		f.tokenPeak = f.tokenActive
	}
	gate, started := f.tokenGate, f.tokenStarted
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.tokenActive--
		f.mu.Unlock()
	}()
	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(rep.status)
	_, _ = io.WriteString(w, rep.body)
}

func (f *fakeServer) serveRevoke(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		f.t.Errorf("parse revoke form: %v", err)
	}
	f.mu.Lock()
	f.revokeForms = append(f.revokeForms, r.PostForm)
	status := f.revokeStatus
	f.mu.Unlock()
	if status != http.StatusOK {
		f.writeJSON(w, status, api.OAuthError{Error: "invalid_request", ErrorDescription: "revoke refused"})
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (f *fakeServer) serveAPI(w http.ResponseWriter, r *http.Request, path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	uploads := strings.TrimSuffix(uploadSharesPath, "/")
	switch {
	case r.Method == http.MethodGet && path == systemInfoPath:
		f.systemInfoCalls++
		f.writeJSON(w, http.StatusOK, f.systemInfo)
	case r.Method == http.MethodGet && path == versionPath:
		f.writeJSON(w, http.StatusOK, api.SoftwareVersion{RestAPIVersion: "4.42.0", SdsServerVersion: "4.42.0"})
	case r.Method == http.MethodGet && path == "user/account":
		f.apiAuth = append(f.apiAuth, r.Header.Get("Authorization"))
		f.accountCalls++
		f.writeJSON(w, http.StatusOK, api.UserAccount{ID: 42, UserName: "jdoe"})
	case r.Method == http.MethodGet && path == "user/account/keypair":
		f.apiAuth = append(f.apiAuth, r.Header.Get("Authorization"))
		if f.keypair == nil {
			f.writeJSON(w, http.StatusNotFound, api.Error{Code: 404, Message: "no key pair", ErrorCode: -70020})
			return
		}
		f.writeJSON(w, http.StatusOK, f.keypair)
	case strings.HasPrefix(path, uploads+"/"):
		f.serveUpload(w, r, strings.Split(strings.TrimPrefix(path, uploads+"/"), "/"))
	default:
		f.writeJSON(w, http.StatusNotFound, api.Error{Code: 404, Message: "no such endpoint " + path})
	}
}

// serveUpload handles the public upload share endpoints. Called with
// mu held.
func (f *fakeServer) serveUpload(w http.ResponseWriter, r *http.Request, elem []string) {
	if elem[0] != testAccessKey {
		f.writeJSON(w, http.StatusNotFound, api.Error{Code: 404, Message: "share not found", ErrorCode: -60000})
		return
	}
	switch {
	case len(elem) == 1 && r.Method == http.MethodGet:
		f.writeJSON(w, http.StatusOK, f.share)
	case len(elem) == 1 && r.Method == http.MethodPost:
		var req api.CreateShareUploadChannelRequest
		if !f.readJSON(r, &req) {
			return
		}
		f.channels = append(f.channels, req)
		f.uploadID = uuid.NewString()
		f.events = append(f.events, "channel")
		f.writeJSON(w, http.StatusCreated, api.CreateShareUploadChannelResponse{UploadID: f.uploadID, Token: "t"})
	case len(elem) == 2 && elem[1] == "s3_urls" && r.Method == http.MethodPost:
		var req api.GeneratePresignedURLsRequest
		if !f.readJSON(r, &req) {
			return
		}
		f.urlRequests = append(f.urlRequests, req)
		f.events = append(f.events, fmt.Sprintf("url %d", req.FirstPartNumber))
		var list api.PresignedURLList
		for p := req.FirstPartNumber; p <= req.LastPartNumber; p++ {
			list.URLs = append(list.URLs, api.PresignedURL{
				URL:        fmt.Sprintf("%s/s3/%s/%d?X-Amz-Signature=sig", f.srv.URL, f.uploadID, p),
				PartNumber: p,
			})
		}
		f.writeJSON(w, http.StatusCreated, list)
	case len(elem) == 2 && elem[1] == "s3" && r.Method == http.MethodPut:
		var req api.CompleteS3ShareUploadRequest
		if !f.readJSON(r, &req) {
			return
		}
		f.finalized = append(f.finalized, req)
		f.events = append(f.events, "finalize")
		w.WriteHeader(http.StatusAccepted)
	case len(elem) == 2 && r.Method == http.MethodGet:
		if elem[1] != f.uploadID {
			f.writeJSON(w, http.StatusNotFound, api.Error{Code: 404, Message: "upload not found"})
			return
		}
		status := f.statuses[len(f.statuses)-1]
		if f.statusCalls < len(f.statuses) {
			status = f.statuses[f.statusCalls]
		}
		f.statusCalls++
		f.events = append(f.events, "status")
		f.writeJSON(w, http.StatusOK, status)
	default:
		f.writeJSON(w, http.StatusMethodNotAllowed, api.Error{Code: 405, Message: "not allowed"})
	}
}

// servePart stores one part PUT to a presigned URL
func (f *fakeServer) servePart(w http.ResponseWriter, r *http.Request) {
	elem := strings.Split(strings.TrimPrefix(r.URL.Path, "/s3/"), "/")
	if r.Method != http.MethodPut || len(elem) != 2 || r.URL.Query().Get("X-Amz-Signature") == "" {
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `<Error><Code>AccessDenied</Code><Message>bad request</Message></Error>`)
		return
	}
	part, err := strconv.ParseUint(elem[1], 10, 32)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	f.putAttempts++
	reject := f.putReject > 0
	if reject {
		f.putReject--
	}
	consume := f.putConsume
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	delay := f.putDelay
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()
	if reject {
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `<Error><Code>SlowDown</Code><Message>please retry</Message></Error>`)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		f.t.Errorf("read part %d: %v", part, err)
		return
	}
	if consume {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `<Error><Code>InternalError</Code><Message>lost it</Message></Error>`)
		return
	}
	time.Sleep(delay)
	f.mu.Lock()
	f.parts[uint32(part)] = body
	f.events = append(f.events, fmt.Sprintf("put %d", part))
	f.mu.Unlock()
	w.Header().Set("ETag", fmt.Sprintf(`"e%d"`, part))
	w.WriteHeader(http.StatusOK)
}

// uploaded joins the stored parts in order
func (f *fakeServer) uploaded() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []byte
	for p := uint32(1); p <= uint32(len(f.parts)); p++ {
		out = append(out, f.parts[p]...)
	}
	return out
}

// fakeClock is a settable clock
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
