package readers

import (
	"context"
	"io"
)

// ContextReader stops reading from its source once ctx is done
type ContextReader struct {
	ctx context.Context
	in  io.Reader
}

// NewContextReader wraps in so reads fail with the cause of ctx
// ending, eg context.Canceled after an interrupt
func NewContextReader(ctx context.Context, in io.Reader) *ContextReader {
	return &ContextReader{ctx: ctx, in: in}
}

// Read bytes as per io.Reader interface
func (r *ContextReader) Read(p []byte) (int, error) {
	select {
	case <-r.ctx.Done():
		return 0, context.Cause(r.ctx)
	default:
	}
	return r.in.Read(p)
}

// Close closes the source if it is an io.Closer
func (r *ContextReader) Close() error {
	if c, ok := r.in.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
