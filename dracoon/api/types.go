// Package api provides types used by the DRACOON API.
package api

import (
	"fmt"
	"strings"
	"time"

	"github.com/dco3go/dco3/lib/dcrypto"
)

// TokenResponse is returned by the OAuth2 token endpoint
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope,omitempty"`
}

// OAuthError is the body of a failed OAuth2 call
type OAuthError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// Error is the body of a failed API call
type Error struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	DebugInfo string `json:"debugInfo,omitempty"`
	ErrorCode int    `json:"errorCode,omitempty"`
}

// String describes the error
func (e *Error) String() string {
	out := fmt.Sprintf("%d: %s", e.Code, e.Message)
	if e.ErrorCode != 0 {
		out += fmt.Sprintf(" (error code %d)", e.ErrorCode)
	}
	if e.DebugInfo != "" {
		out += ": " + e.DebugInfo
	}
	return out
}

// S3Error is the XML body object storage answers with on failure
type S3Error struct {
	Code      string `xml:"Code"`
	Message   string `xml:"Message"`
	RequestID string `xml:"RequestId"`
}

// SystemInfo describes the storage setup of a DRACOON instance
type SystemInfo struct {
	LanguageDefault       string   `json:"languageDefault"`
	HideLoginInputFields  bool     `json:"hideLoginInputFields"`
	S3Hosts               []string `json:"s3Hosts"`
	S3EnforceDirectUpload bool     `json:"s3EnforceDirectUpload"`
	UseS3Storage          bool     `json:"useS3Storage"`
}

// SoftwareVersion is the version of the server software
type SoftwareVersion struct {
	RestAPIVersion   string     `json:"restApiVersion"`
	SdsServerVersion string     `json:"sdsServerVersion"`
	BuildDate        *time.Time `json:"buildDate,omitempty"`
}

// UserUserPublicKey is the public key of one recipient of an
// encrypted upload share
type UserUserPublicKey struct {
	ID                 int64                      `json:"id"`
	PublicKeyContainer dcrypto.PublicKeyContainer `json:"publicKeyContainer"`
}

// UserUserPublicKeyList holds the recipients of an encrypted share
type UserUserPublicKeyList struct {
	Items []UserUserPublicKey `json:"items"`
}

// PublicUploadShare is the target of a public upload
type PublicUploadShare struct {
	Name                  string                 `json:"name,omitempty"`
	IsProtected           bool                   `json:"isProtected"`
	IsEncrypted           bool                   `json:"isEncrypted"`
	CreatedAt             *time.Time             `json:"createdAt,omitempty"`
	ExpireAt              *time.Time             `json:"expireAt,omitempty"`
	ShowUploadedFiles     bool                   `json:"showUploadedFiles"`
	RemainingSize         *int64                 `json:"remainingSize,omitempty"`
	RemainingSlots        *int64                 `json:"remainingSlots,omitempty"`
	UserUserPublicKeyList *UserUserPublicKeyList `json:"userUserPublicKeyList,omitempty"`
}

// Recipients returns the public keys the file key must be wrapped for
func (s *PublicUploadShare) Recipients() []UserUserPublicKey {
	if s == nil || s.UserUserPublicKeyList == nil {
		return nil
	}
	return s.UserUserPublicKeyList.Items
}

// CreateShareUploadChannelRequest opens an upload channel
type CreateShareUploadChannelRequest struct {
	Name                  string     `json:"name"`
	Size                  *int64     `json:"size,omitempty"`
	Password              string     `json:"password,omitempty"`
	Notes                 string     `json:"notes,omitempty"`
	DirectS3Upload        *bool      `json:"directS3Upload,omitempty"`
	TimestampCreation     *time.Time `json:"timestampCreation,omitempty"`
	TimestampModification *time.Time `json:"timestampModification,omitempty"`
}

// CreateShareUploadChannelResponse identifies a new upload channel
type CreateShareUploadChannelResponse struct {
	UploadID  string `json:"uploadId"`
	UploadURL string `json:"uploadUrl,omitempty"`
	Token     string `json:"token,omitempty"`
}

// GeneratePresignedURLsRequest asks for the URLs of a range of parts
type GeneratePresignedURLsRequest struct {
	Size            int64  `json:"size"`
	FirstPartNumber uint32 `json:"firstPartNumber"`
	LastPartNumber  uint32 `json:"lastPartNumber"`
}

// PresignedURL is a URL accepting one PUT for one part
type PresignedURL struct {
	URL        string `json:"url"`
	PartNumber uint32 `json:"partNumber"`
}

// PresignedURLList is the answer to GeneratePresignedURLsRequest
type PresignedURLList struct {
	URLs []PresignedURL `json:"urls"`
}

// S3FileUploadPart records the ETag of an uploaded part
type S3FileUploadPart struct {
	PartNumber uint32 `json:"partNumber"`
	PartEtag   string `json:"partEtag"`
}

// UserFileKey is a file key wrapped for one user
type UserFileKey struct {
	UserID  int64           `json:"userId"`
	FileKey dcrypto.FileKey `json:"fileKey"`
}

// CompleteS3ShareUploadRequest finalizes an upload channel
type CompleteS3ShareUploadRequest struct {
	Parts           []S3FileUploadPart `json:"parts"`
	UserFileKeyList []UserFileKey      `json:"userFileKeyList,omitempty"`
}

// S3UploadStatus is the state of an upload after finalize
type S3UploadStatus string

// Upload states
const (
	StatusTransferring S3UploadStatus = "transfer"
	StatusFinishing    S3UploadStatus = "finishing"
	StatusDone         S3UploadStatus = "done"
	StatusError        S3UploadStatus = "error"
)

// Is reports whether s is the state want, ignoring case
func (s S3UploadStatus) Is(want S3UploadStatus) bool {
	return strings.EqualFold(string(s), string(want))
}

// S3ShareUploadStatus is returned while polling an upload
type S3ShareUploadStatus struct {
	Status       S3UploadStatus `json:"status"`
	FileName     string         `json:"fileName"`
	Size         int64          `json:"size,omitempty"`
	ErrorDetails *Error         `json:"errorDetails,omitempty"`
}

// UserAccount is the account of the connected user
type UserAccount struct {
	ID                  int64      `json:"id"`
	UserName            string     `json:"userName"`
	FirstName           string     `json:"firstName"`
	LastName            string     `json:"lastName"`
	Email               string     `json:"email,omitempty"`
	IsEncryptionEnabled bool       `json:"isEncryptionEnabled"`
	LastLoginSuccessAt  *time.Time `json:"lastLoginSuccessAt,omitempty"`
	Language            string     `json:"language,omitempty"`
}
