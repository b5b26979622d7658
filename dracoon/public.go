package dracoon

import (
	"context"
	"net/http"

	"github.com/dco3go/dco3/dracoon/api"
	"github.com/dco3go/dco3/fs"
	"github.com/dco3go/dco3/lib/rest"
)

const (
	systemInfoPath   = "public/system/info"
	versionPath      = "public/software/version"
	uploadSharesPath = "public/shares/uploads/"
	systemInfoKey    = "system_info"
)

// Public holds the endpoints which need no authentication, which
// includes uploading to a public upload share
type Public struct {
	c *client
}

// String describes the endpoint for logging
func (p *Public) String() string {
	return p.c.String()
}

// callJSON runs an API call through the pacer
func (p *Public) callJSON(ctx context.Context, opts *rest.Opts, request, response interface{}) error {
	return p.c.pacer.Call(func() (bool, error) {
		resp, err := p.c.srv.CallJSON(ctx, opts, request, response)
		return shouldRetry(ctx, resp, err)
	})
}

// sharePath is the path of the upload share with accessKey plus elem
func sharePath(accessKey string, elem ...string) string {
	out := uploadSharesPath + rest.URLPathEscapeAll(accessKey)
	for _, e := range elem {
		out += "/" + rest.URLPathEscapeAll(e)
	}
	return out
}

// GetSystemInfo returns the storage setup of the instance. Answers are
// cached for five minutes.
func (p *Public) GetSystemInfo(ctx context.Context) (*api.SystemInfo, error) {
	if cached, ok := p.c.cache.Get(systemInfoKey); ok {
		return cached.(*api.SystemInfo), nil
	}
	opts := rest.Opts{
		Method: http.MethodGet,
		Path:   systemInfoPath,
	}
	var result api.SystemInfo
	if err := p.callJSON(ctx, &opts, nil, &result); err != nil {
		return nil, err
	}
	p.c.cache.Set(systemInfoKey, &result, systemInfoTTL)
	return &result, nil
}

// GetSoftwareVersion returns the server version
func (p *Public) GetSoftwareVersion(ctx context.Context) (*api.SoftwareVersion, error) {
	opts := rest.Opts{
		Method: http.MethodGet,
		Path:   versionPath,
	}
	var result api.SoftwareVersion
	if err := p.callJSON(ctx, &opts, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetUploadShare returns the upload share with accessKey, including
// the recipients of an encrypted share
func (p *Public) GetUploadShare(ctx context.Context, accessKey string) (*api.PublicUploadShare, error) {
	opts := rest.Opts{
		Method: http.MethodGet,
		Path:   sharePath(accessKey),
	}
	var result api.PublicUploadShare
	if err := p.callJSON(ctx, &opts, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetUploadStatus returns the state of upload uploadID
func (p *Public) GetUploadStatus(ctx context.Context, accessKey, uploadID string) (*api.S3ShareUploadStatus, error) {
	opts := rest.Opts{
		Method: http.MethodGet,
		Path:   sharePath(accessKey, uploadID),
	}
	var result api.S3ShareUploadStatus
	if err := p.callJSON(ctx, &opts, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// createUploadChannel opens an upload on the share
func (p *Public) createUploadChannel(ctx context.Context, accessKey string, req *api.CreateShareUploadChannelRequest) (*api.CreateShareUploadChannelResponse, error) {
	opts := rest.Opts{
		Method: http.MethodPost,
		Path:   sharePath(accessKey),
	}
	var result api.CreateShareUploadChannelResponse
	if err := p.callJSON(ctx, &opts, req, &result); err != nil {
		return nil, err
	}
	fs.Debugf(p, "Created upload channel %q for %q", result.UploadID, req.Name)
	return &result, nil
}

// createS3URLs asks for presigned URLs for a range of parts
func (p *Public) createS3URLs(ctx context.Context, accessKey string, req *api.GeneratePresignedURLsRequest) (*api.PresignedURLList, error) {
	opts := rest.Opts{
		Method: http.MethodPost,
		Path:   sharePath(accessKey, "s3_urls"),
	}
	var result api.PresignedURLList
	if err := p.callJSON(ctx, &opts, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// finalize completes the upload with the collected parts
func (p *Public) finalize(ctx context.Context, accessKey string, req *api.CompleteS3ShareUploadRequest) error {
	opts := rest.Opts{
		Method:     http.MethodPut,
		Path:       sharePath(accessKey, "s3"),
		NoResponse: true,
	}
	return p.callJSON(ctx, &opts, req, nil)
}
