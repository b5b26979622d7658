package dracoon

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dco3go/dco3/dracoon/api"
	"github.com/dco3go/dco3/fs"
	"github.com/dco3go/dco3/lib/dcrypto"
	"github.com/dco3go/dco3/lib/readers"
	"github.com/dco3go/dco3/lib/rest"
	"golang.org/x/sync/errgroup"
)

// ProgressFunc is called after each part with the bytes sent so far
// and the total size of the upload
type ProgressFunc func(transferred, total int64)

// ResolutionStrategy says what happens when the file name is taken
type ResolutionStrategy string

// Resolution strategies
const (
	ResolutionAutoRename ResolutionStrategy = "autorename"
	ResolutionOverwrite  ResolutionStrategy = "overwrite"
	ResolutionFail       ResolutionStrategy = "fail"
)

// UploadOptions describes the file being uploaded.
//
// Public upload shares only take the name, size, notes and timestamps.
// Classification, Expiration, ResolutionStrategy and KeepShareLinks are
// set by the share owner and are not sent.
type UploadOptions struct {
	Name               string
	Size               int64
	Notes              string
	Classification     int
	CreatedAt          time.Time
	ModifiedAt         time.Time
	Expiration         time.Time
	ResolutionStrategy ResolutionStrategy
	KeepShareLinks     bool
	ChunkSize          fs.SizeSuffix // zero for the client default
}

// channelRequest makes the request opening the upload channel
func (o *UploadOptions) channelRequest() *api.CreateShareUploadChannelRequest {
	size := o.Size
	direct := true
	req := &api.CreateShareUploadChannelRequest{
		Name:           o.Name,
		Size:           &size,
		Notes:          o.Notes,
		DirectS3Upload: &direct,
	}
	if !o.CreatedAt.IsZero() {
		t := o.CreatedAt.UTC()
		req.TimestampCreation = &t
	}
	if !o.ModifiedAt.IsZero() {
		t := o.ModifiedAt.UTC()
		req.TimestampModification = &t
	}
	return req
}

// Upload sends the contents of in, which must be exactly opts.Size
// bytes, to the upload share with accessKey and returns the name the
// file was stored under.
//
// Files are encrypted if share is. progress may be nil.
func (p *Public) Upload(ctx context.Context, accessKey string, share *api.PublicUploadShare, opts UploadOptions, in io.Reader, progress ProgressFunc) (string, error) {
	if share == nil {
		return "", errors.New("upload share is required")
	}
	if opts.Name == "" {
		return "", errors.New("upload needs a file name")
	}
	info, err := p.GetSystemInfo(ctx)
	if err != nil {
		return "", err
	}
	if !info.UseS3Storage {
		return "", ErrUnsupportedStorageMode
	}
	chunk := int64(opts.ChunkSize)
	if chunk == 0 {
		chunk = int64(p.c.opt.ChunkSize)
	}
	if _, _, err = Plan(opts.Size, chunk); err != nil {
		return "", err
	}
	if share.IsEncrypted {
		return p.uploadEncrypted(ctx, accessKey, share, &opts, chunk, in, progress)
	}
	return p.upload(ctx, accessKey, &opts, chunk, in, nil, progress)
}

// upload runs the upload protocol: open a channel, send the parts,
// finalize with keys and wait for the server to finish.
func (p *Public) upload(ctx context.Context, accessKey string, opts *UploadOptions, chunk int64, in io.Reader, keys []api.UserFileKey, progress ProgressFunc) (string, error) {
	count, last, err := Plan(opts.Size, chunk)
	if err != nil {
		return "", err
	}
	channel, err := p.createUploadChannel(ctx, accessKey, opts.channelRequest())
	if err != nil {
		return "", err
	}
	u := &partUploader{
		p:         p,
		accessKey: accessKey,
		uploadID:  channel.UploadID,
		size:      opts.Size,
		chunk:     chunk,
		count:     count,
		last:      last,
		progress:  progress,
	}
	parts, err := u.run(ctx, in)
	if err != nil {
		return "", err
	}
	fs.Debugf(p, "Finalizing upload %q with %d parts", channel.UploadID, len(parts))
	err = p.finalize(ctx, accessKey, &api.CompleteS3ShareUploadRequest{
		Parts:           parts,
		UserFileKeyList: keys,
	})
	if err != nil {
		return "", err
	}
	return p.pollUpload(ctx, accessKey, channel.UploadID)
}

// partUploader sends the parts of one upload
type partUploader struct {
	p         *Public
	accessKey string
	uploadID  string
	size      int64
	chunk     int64
	count     uint32
	last      int64
	progress  ProgressFunc

	mu          sync.Mutex
	transferred int64
}

// partSize returns the number of bytes in part
func (u *partUploader) partSize(part uint32) int64 {
	if part == u.count {
		return u.last
	}
	return u.chunk
}

// run reads the parts from in in order and sends them with up to
// UploadConcurrency in flight. The parts are returned sorted.
func (u *partUploader) run(ctx context.Context, in io.Reader) ([]api.S3FileUploadPart, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(u.p.c.opt.UploadConcurrency)
	parts := make([]api.S3FileUploadPart, u.count)
	for part := uint32(1); part <= u.count; part++ {
		buf := make([]byte, u.partSize(part))
		if _, err := io.ReadFull(in, buf); err != nil {
			cancel()
			_ = g.Wait()
			return nil, &IOError{Op: fmt.Sprintf("read part %d of %d", part, u.count), Err: err}
		}
		if gCtx.Err() != nil {
			break
		}
		part := part
		g.Go(func() error {
			etag, err := u.send(gCtx, part, buf)
			if err != nil {
				return fmt.Errorf("part %d: %w", part, err)
			}
			parts[part-1] = api.S3FileUploadPart{PartNumber: part, PartEtag: etag}
			return nil
		})
	}
	if gCtx.Err() == nil {
		if err := checkEOF(in); err != nil {
			cancel()
			_ = g.Wait()
			return nil, &IOError{Op: fmt.Sprintf("read past %d bytes", u.size), Err: err}
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sort.Slice(parts, func(i, j int) bool {
		return parts[i].PartNumber < parts[j].PartNumber
	})
	return parts, nil
}

// checkEOF makes sure in has nothing left after the announced size
func checkEOF(in io.Reader) error {
	var b [1]byte
	switch _, err := io.ReadFull(in, b[:]); err {
	case io.EOF:
		return nil
	case nil:
		return dcrypto.ErrSizeExceeded
	default:
		return err
	}
}

// send gets a presigned URL for part and PUTs buf to it
func (u *partUploader) send(ctx context.Context, part uint32, buf []byte) (string, error) {
	n := int64(len(buf))
	urls, err := u.p.createS3URLs(ctx, u.accessKey, &api.GeneratePresignedURLsRequest{
		Size:            n,
		FirstPartNumber: part,
		LastPartNumber:  part,
	})
	if err != nil {
		return "", err
	}
	if len(urls.URLs) == 0 {
		return "", fmt.Errorf("no presigned URL returned for part %d", part)
	}
	etag, err := u.p.putPart(ctx, urls.URLs[0].URL, buf)
	if err != nil {
		return "", err
	}
	fs.Debugf(u.p, "Upload %q: sent part %d/%d (%d bytes)", u.uploadID, part, u.count, n)
	if host, err := url.Parse(urls.URLs[0].URL); err == nil {
		u.p.c.metrics.AddUploaded(host.Host, n)
	}
	u.mu.Lock()
	u.transferred += n
	if u.progress != nil {
		u.progress(u.transferred, u.size)
	}
	u.mu.Unlock()
	return etag, nil
}

// putPart uploads buf to a presigned URL and returns the ETag.
//
// The PUT is only retried if the failure happened before any of the
// body was read by the transport.
func (p *Public) putPart(ctx context.Context, presignedURL string, buf []byte) (etag string, err error) {
	n := int64(len(buf))
	err = p.c.pacer.Call(func() (bool, error) {
		body := readers.NewCountingReader(bytes.NewReader(buf), nil)
		opts := rest.Opts{
			Method:        http.MethodPut,
			RootURL:       presignedURL,
			Body:          body,
			ContentLength: &n,
			NoResponse:    true,
			NoSign:        true,
		}
		if n > 0 {
			opts.ExtraHeaders = map[string]string{"Expect": "100-continue"}
		}
		resp, err := p.c.s3.Call(ctx, &opts)
		if err == nil {
			etag = strings.Trim(resp.Header.Get("ETag"), `"`)
			return false, nil
		}
		if body.Consumed() {
			return false, err
		}
		return shouldRetry(ctx, resp, err)
	})
	if err != nil {
		return "", err
	}
	if etag == "" {
		return "", errors.New("object storage returned no ETag")
	}
	return etag, nil
}
