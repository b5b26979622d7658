package dracoon

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/dco3go/dco3/dracoon/api"
	"github.com/dco3go/dco3/lib/rest"
)

// Errors returned by the client
var (
	ErrMissingBaseURL          = errors.New("missing base url")
	ErrMissingClientID         = errors.New("missing client id")
	ErrMissingClientSecret     = errors.New("missing client secret")
	ErrInvalidURL              = errors.New("invalid url")
	ErrMissingEncryptionSecret = errors.New("missing encryption secret")
	ErrUnsupportedStorageMode  = errors.New("unsupported storage mode: only S3 storage is implemented")
	ErrConnectionClosed        = errors.New("connection closed")
	ErrInvalidChunkSize        = errors.New("invalid chunk size")
)

// AuthError is returned when the token endpoint refuses a grant
type AuthError struct {
	StatusCode int
	Code       string // OAuth2 error, eg invalid_grant
	Message    string
}

// Error satisfies the error interface
func (e *AuthError) Error() string {
	if e.Message == "" || e.Message == e.Code {
		return fmt.Sprintf("authentication failed (HTTP %d): %s", e.StatusCode, e.Code)
	}
	return fmt.Sprintf("authentication failed (HTTP %d): %s: %s", e.StatusCode, e.Code, e.Message)
}

// HTTPError is a non 2xx reply from the API or from object storage
type HTTPError struct {
	StatusCode int
	Code       int
	Message    string
	DebugInfo  string
}

// Error satisfies the error interface
func (e *HTTPError) Error() string {
	out := fmt.Sprintf("HTTP error %d", e.StatusCode)
	if e.Code != 0 {
		out += fmt.Sprintf(" (code %d)", e.Code)
	}
	if e.Message != "" {
		out += ": " + e.Message
	}
	if e.DebugInfo != "" {
		out += ": " + e.DebugInfo
	}
	return out
}

// IOError is a failure reading the source or moving bytes
type IOError struct {
	Op  string
	Err error
}

// Error satisfies the error interface
func (e *IOError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *IOError) Unwrap() error {
	return e.Err
}

// CryptoError is a failure in the encryption layer
type CryptoError struct {
	Op  string
	Err error
}

// Error satisfies the error interface
func (e *CryptoError) Error() string {
	return fmt.Sprintf("crypto: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *CryptoError) Unwrap() error {
	return e.Err
}

// statusCode finds the HTTP status carried by err, if any
func statusCode(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.StatusCode
	}
	return 0
}

// IsNotFound reports whether err is a 404
func IsNotFound(err error) bool { return statusCode(err) == http.StatusNotFound }

// IsUnauthorized reports whether err is a 401
func IsUnauthorized(err error) bool { return statusCode(err) == http.StatusUnauthorized }

// IsForbidden reports whether err is a 403
func IsForbidden(err error) bool { return statusCode(err) == http.StatusForbidden }

// IsConflict reports whether err is a 409
func IsConflict(err error) bool { return statusCode(err) == http.StatusConflict }

// IsPayloadTooLarge reports whether err is a 413
func IsPayloadTooLarge(err error) bool {
	return statusCode(err) == http.StatusRequestEntityTooLarge
}

// errorBody is the union of the API and OAuth2 error bodies
type errorBody struct {
	api.Error
	api.OAuthError
}

// apiErrorHandler parses a DRACOON error reply
func apiErrorHandler(resp *http.Response) error {
	body, err := rest.ReadBody(resp)
	if err != nil {
		return &IOError{Op: "read error body", Err: err}
	}
	e := &HTTPError{StatusCode: resp.StatusCode}
	var parsed errorBody
	if json.Unmarshal(body, &parsed) == nil {
		e.Code = parsed.ErrorCode
		e.Message = parsed.Message
		e.DebugInfo = parsed.DebugInfo
		if e.Message == "" && parsed.OAuthError.Error != "" {
			e.Message = parsed.OAuthError.Error
			if parsed.ErrorDescription != "" {
				e.Message += ": " + parsed.ErrorDescription
			}
		}
	}
	if e.Message == "" {
		e.Message = strings.TrimSpace(string(body))
	}
	if e.Message == "" {
		e.Message = http.StatusText(resp.StatusCode)
	}
	return e
}

// authErrorHandler parses a reply from the token endpoint
func authErrorHandler(resp *http.Response) error {
	body, err := rest.ReadBody(resp)
	if err != nil {
		return &IOError{Op: "read error body", Err: err}
	}
	e := &AuthError{StatusCode: resp.StatusCode}
	var parsed errorBody
	if json.Unmarshal(body, &parsed) == nil {
		e.Code = parsed.OAuthError.Error
		e.Message = parsed.ErrorDescription
		if e.Message == "" {
			e.Message = parsed.Message
		}
	}
	if e.Code == "" {
		e.Code = http.StatusText(resp.StatusCode)
	}
	if e.Message == "" {
		e.Message = e.Code
	}
	return e
}

// s3ErrorHandler parses an object storage error reply
func s3ErrorHandler(resp *http.Response) error {
	e := &HTTPError{StatusCode: resp.StatusCode}
	var parsed api.S3Error
	if err := rest.DecodeXML(resp, &parsed); err == nil {
		e.Message = parsed.Code
		if parsed.Message != "" {
			e.Message += ": " + parsed.Message
		}
		e.DebugInfo = parsed.RequestID
	}
	if e.Message == "" {
		e.Message = http.StatusText(resp.StatusCode)
	}
	return e
}

// statusError turns the error details of a failed upload into an
// HTTPError
func statusError(details *api.Error) error {
	if details == nil {
		return &HTTPError{StatusCode: http.StatusInternalServerError, Message: "upload failed without details"}
	}
	status := http.StatusInternalServerError
	if details.Code >= 100 {
		status = details.Code
	}
	return &HTTPError{
		StatusCode: status,
		Code:       details.ErrorCode,
		Message:    details.Message,
		DebugInfo:  details.DebugInfo,
	}
}
