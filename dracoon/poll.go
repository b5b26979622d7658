package dracoon

import (
	"context"
	"fmt"
	"time"

	"github.com/dco3go/dco3/dracoon/api"
	"github.com/dco3go/dco3/fs"
)

// nextPollDelay doubles delay up to max
func nextPollDelay(delay, max time.Duration) time.Duration {
	delay *= 2
	if delay > max || delay <= 0 {
		delay = max
	}
	return delay
}

// pollUpload waits for the server to finish upload uploadID and
// returns the name of the stored file.
//
// The wait starts at PollStartDelay and doubles up to PollMaxDelay. It
// gives up after PollTimeout unless that is 0.
func (p *Public) pollUpload(ctx context.Context, accessKey, uploadID string) (string, error) {
	if timeout := time.Duration(p.c.opt.PollTimeout); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	maxDelay := time.Duration(p.c.opt.PollMaxDelay)
	delay := time.Duration(p.c.opt.PollStartDelay)
	for {
		status, err := p.GetUploadStatus(ctx, accessKey, uploadID)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", fmt.Errorf("waiting for upload %q: %w", uploadID, ctxErr)
			}
			return "", err
		}
		fs.Debugf(p, "Upload %q status %q", uploadID, status.Status)
		switch {
		case status.Status.Is(api.StatusDone):
			return status.FileName, nil
		case status.Status.Is(api.StatusError):
			err = statusError(status.ErrorDetails)
			fs.Errorf(p, "Upload %q failed: %v", uploadID, err)
			return "", err
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", fmt.Errorf("waiting for upload %q: %w", uploadID, ctx.Err())
		case <-timer.C:
		}
		delay = nextPollDelay(delay, maxDelay)
	}
}
