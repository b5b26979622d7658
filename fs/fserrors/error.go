// Package fserrors provides errors and error handling
package fserrors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Retrier is an optional interface for error as to whether the
// operation should be retried at a high level.
//
// This should be returned from calls wrapped by the pacer as required
type Retrier interface {
	error
	Retry() bool
}

// retryError is a type of error
type retryError string

// Error interface
func (r retryError) Error() string {
	return string(r)
}

// Retry interface
func (r retryError) Retry() bool {
	return true
}

// Check interface
var _ Retrier = retryError("")

// RetryErrorf makes an error which indicates it would like to be retried
func RetryErrorf(format string, a ...interface{}) error {
	return retryError(fmt.Sprintf(format, a...))
}

// wrappedRetryError is an error wrapped so it will satisfy the
// Retrier interface and return true
type wrappedRetryError struct {
	error
}

// Retry interface
func (err wrappedRetryError) Retry() bool {
	return true
}

// Unwrap returns the underlying error
func (err wrappedRetryError) Unwrap() error {
	return err.error
}

// Check interface
var _ Retrier = wrappedRetryError{error(nil)}

// RetryError makes an error which indicates it would like to be retried
func RetryError(err error) error {
	if err == nil {
		err = errors.New("needs retry")
	}
	return wrappedRetryError{err}
}

// IsRetryError returns true if err conforms to the Retry interface
// and calling the Retry method returns true.
func IsRetryError(err error) (isRetry bool) {
	var r Retrier
	return errors.As(err, &r) && r.Retry()
}

// NoRetrier is an optional interface for error as to whether the
// operation should not be retried at a high level.
type NoRetrier interface {
	error
	NoRetry() bool
}

// wrappedNoRetryError is an error wrapped so it will satisfy the
// NoRetrier interface and return true
type wrappedNoRetryError struct {
	error
}

// NoRetry interface
func (err wrappedNoRetryError) NoRetry() bool {
	return true
}

// Unwrap returns the underlying error
func (err wrappedNoRetryError) Unwrap() error {
	return err.error
}

// NoRetryError makes an error which indicates the sync shouldn't be
// retried.
func NoRetryError(err error) error {
	return wrappedNoRetryError{err}
}

// IsNoRetryError returns true if err conforms to the NoRetry
// interface and calling the NoRetry method returns true.
func IsNoRetryError(err error) (isNoRetry bool) {
	var r NoRetrier
	return errors.As(err, &r) && r.NoRetry()
}

// RetryAfter is an optional interface for errors which know when the
// operation may be tried again, usually from a Retry-After header.
type RetryAfter interface {
	error
	RetryAfter() time.Time
}

// wrappedRetryAfterError is an error with the time the server asked
// us to come back at
type wrappedRetryAfterError struct {
	error
	at time.Time
}

// RetryAfter returns the time the operation should be retried at or
// after
func (err wrappedRetryAfterError) RetryAfter() time.Time {
	return err.at
}

// Unwrap returns the underlying error
func (err wrappedRetryAfterError) Unwrap() error {
	return err.error
}

// Check interface
var _ RetryAfter = wrappedRetryAfterError{}

// RetryAfterError wraps err so it asks to be retried no sooner than d
// from now
func RetryAfterError(err error, d time.Duration) error {
	if err == nil {
		err = errors.New("needs retry")
	}
	return wrappedRetryAfterError{error: err, at: time.Now().Add(d)}
}

// RetryAfterErrorTime returns the time that the RetryAfter error
// indicates or a Zero time.Time
func RetryAfterErrorTime(err error) (retryAfter time.Time) {
	var r RetryAfter
	if errors.As(err, &r) {
		return r.RetryAfter()
	}
	return time.Time{}
}

// ParseRetryAfter reads a Retry-After header value, which is either a
// number of seconds or an HTTP date, as a duration from now.
func ParseRetryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	at, err := http.ParseTime(value)
	if err != nil {
		return 0, false
	}
	d := time.Until(at)
	if d < 0 {
		d = 0
	}
	return d, true
}

// Cause is a souped up errors.Cause which can unwrap some standard
// library errors too.  It returns true if any of the intermediate
// errors had a Timeout() or Temporary() method which returned true.
func Cause(cause error) (retriable bool, err error) {
	for depth := 0; cause != nil && depth < maxCauseDepth; depth++ {
		// Check for net error Timeout()
		if x, ok := cause.(interface {
			Timeout() bool
		}); ok && x.Timeout() {
			retriable = true
		}

		// Check for net error Temporary()
		if x, ok := cause.(interface {
			Temporary() bool
		}); ok && x.Temporary() {
			retriable = true
		}
		err = cause
		cause = unwrap(cause)
	}
	return retriable, err
}

// maxCauseDepth stops Cause looping on errors which unwrap to themselves
const maxCauseDepth = 100

// unwrap one layer, understanding both Unwrap and the Cause method
// github.com/pkg/errors uses.
func unwrap(err error) error {
	switch x := err.(type) {
	case interface{ Unwrap() error }:
		return x.Unwrap()
	case interface{ Cause() error }:
		return x.Cause()
	}
	return nil
}

// retriableErrorStrings is a list of phrases which when we find it
// in an error, we know it is a networking error which should be
// retried.
//
// This is incredibly ugly - if only errors.Cause worked for all
// errors and all errors were exported from the stdlib.
var retriableErrorStrings = []string{
	"use of closed network connection",
	"unexpected EOF reading trailer",
	"transport connection broken",
	"http: ContentLength=",
	"server closed idle connection",
	"bad record MAC",
	"stream error:",
	"tls: use of closed connection",
}

// Errors which indicate networking errors which should be retried
//
// These are added to in retriable_errors*.go
var retriableErrors = []error{
	io.EOF,
	io.ErrUnexpectedEOF,
}

// ShouldRetry looks at an error and tries to work out if retrying the
// operation that caused it would be a good idea. It returns true if
// the error implements Timeout() or Temporary() or if the error
// indicates a premature closing of the connection.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}

	// If error has been marked to NoRetry then don't retry
	if IsNoRetryError(err) {
		return false
	}

	// Find root cause if available
	retriable, err := Cause(err)
	if retriable {
		return true
	}

	// Check if it is a retriable error
	for _, retriableErr := range retriableErrors {
		if err == retriableErr {
			return true
		}
	}

	// Check error strings (yuch!) too
	errString := err.Error()
	for _, phrase := range retriableErrorStrings {
		if strings.Contains(errString, phrase) {
			return true
		}
	}

	return false
}

// ShouldRetryHTTP returns a boolean as to whether this resp deserves.
// It checks to see if the HTTP response code is in the slice
// retryErrorCodes.
func ShouldRetryHTTP(resp *http.Response, retryErrorCodes []int) bool {
	if resp == nil {
		return false
	}
	for _, e := range retryErrorCodes {
		if resp.StatusCode == e {
			return true
		}
	}
	return false
}

// ContextError checks to see if ctx is in error.
//
// If it is in error then it overwrites *perr with the context error
// if *perr was nil and returns true.
//
// Otherwise it returns false.
func ContextError(ctx context.Context, perr *error) bool {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if *perr == nil {
			*perr = ctxErr
		}
		return true
	}
	return false
}
