package readers

import (
	"io"
	"sync/atomic"
)

// CountingReader counts the bytes read through it.
//
// It is used to wrap request bodies so the caller can tell afterwards
// whether the transport consumed any of the body.
type CountingReader struct {
	in   io.Reader
	read atomic.Int64
	fn   func(n int64)
}

// NewCountingReader wraps in. fn, if set, is called with the
// number of bytes each successful Read returned.
func NewCountingReader(in io.Reader, fn func(n int64)) *CountingReader {
	return &CountingReader{in: in, fn: fn}
}

// Read bytes as per io.Reader interface
func (cr *CountingReader) Read(p []byte) (n int, err error) {
	n, err = cr.in.Read(p)
	if n > 0 {
		cr.read.Add(int64(n))
		if cr.fn != nil {
			cr.fn(int64(n))
		}
	}
	return n, err
}

// BytesRead returns the number of bytes read so far
func (cr *CountingReader) BytesRead() int64 {
	return cr.read.Load()
}

// Consumed reports whether any bytes have been read
func (cr *CountingReader) Consumed() bool {
	return cr.BytesRead() > 0
}

// NoCloser makes sure that the io.Reader passed in can't upgraded to
// an io.Closer.
//
// This is for use with http.NewRequest to make sure the body doesn't
// get upgraded to an io.Closer and the body closed unexpectedly.
func NoCloser(in io.Reader) io.Reader {
	if in == nil {
		return in
	}
	// if in doesn't implement io.Closer, just return it
	if _, canClose := in.(io.Closer); !canClose {
		return in
	}
	return noClose{in: in}
}

type noClose struct {
	in io.Reader
}

func (nc noClose) Read(p []byte) (n int, err error) {
	return nc.in.Read(p)
}
