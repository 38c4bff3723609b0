package objectstore

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for object-store operations.
var (
	// ErrNotFound indicates the requested object does not exist.
	ErrNotFound = errors.New("object not found")

	// ErrAccessDenied indicates the store rejected the request's credentials or
	// the credentials lack permission.
	ErrAccessDenied = errors.New("access denied")

	// ErrCredentialUnavailable indicates signing credentials could not be obtained.
	ErrCredentialUnavailable = errors.New("credentials unavailable")

	// ErrTransient indicates a network failure, throttling or a 5xx response.
	// Clients retry these internally; seeing one means the retry budget ran out.
	ErrTransient = errors.New("transient failure")

	// ErrProtocol indicates an unexpected status code or response shape.
	ErrProtocol = errors.New("protocol error")
)

// Error kinds as reported in bulk-operation results and logs.
const (
	KindNotFound              = "NotFound"
	KindAccessDenied          = "AccessDenied"
	KindCredentialUnavailable = "CredentialUnavailable"
	KindTransient             = "Transient"
	KindProtocol              = "ProtocolError"
	KindCanceled              = "Canceled"
	KindUnknown               = "Unknown"
)

// StoreError wraps a failed object-store call with context.
type StoreError struct {
	// Op is the operation that failed (e.g., "Get", "List").
	Op string

	// Backend is the client implementation that produced the error.
	Backend Backend

	// Bucket is the bucket name, if applicable.
	Bucket string

	// Key is the object key or prefix, if applicable.
	Key string

	// StatusCode is the HTTP status, zero when no response was received.
	StatusCode int

	// Code is the S3 error code from the response body (e.g., "NoSuchKey").
	Code string

	// Body is the raw response body for protocol errors.
	Body string

	// Err is the underlying sentinel or transport error.
	Err error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	detail := e.Err.Error()
	if e.StatusCode != 0 {
		detail = fmt.Sprintf("%s (status %d", detail, e.StatusCode)
		if e.Code != "" {
			detail += ", code " + e.Code
		}
		detail += ")"
	}
	if e.Key != "" {
		return fmt.Sprintf("%s %s: %s/%s: %s", e.Backend, e.Op, e.Bucket, e.Key, detail)
	}
	if e.Bucket != "" {
		return fmt.Sprintf("%s %s: %s: %s", e.Backend, e.Op, e.Bucket, detail)
	}
	return fmt.Sprintf("%s %s: %s", e.Backend, e.Op, detail)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// IsNotFound returns true if the error indicates an object was not found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAccessDenied returns true if the error indicates insufficient permissions.
func IsAccessDenied(err error) bool {
	return errors.Is(err, ErrAccessDenied)
}

// IsCredentialUnavailable returns true if signing credentials could not be obtained.
func IsCredentialUnavailable(err error) bool {
	return errors.Is(err, ErrCredentialUnavailable)
}

// IsTransient returns true if the error is a retryable network or server failure.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// IsProtocol returns true if the store answered with something unexpected.
func IsProtocol(err error) bool {
	return errors.Is(err, ErrProtocol)
}

// Kind classifies err into one of the Kind* constants.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case IsNotFound(err):
		return KindNotFound
	case IsAccessDenied(err):
		return KindAccessDenied
	case IsCredentialUnavailable(err):
		return KindCredentialUnavailable
	case IsTransient(err):
		return KindTransient
	case IsProtocol(err):
		return KindProtocol
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	default:
		return KindUnknown
	}
}

// StatusError maps an HTTP status code to its sentinel error.
// Returns nil for 2xx codes.
func StatusError(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == 404:
		return ErrNotFound
	case status == 401 || status == 403:
		return ErrAccessDenied
	case status == 429 || status >= 500:
		return ErrTransient
	default:
		return ErrProtocol
	}
}

// CodeError refines a status-derived sentinel with an S3 error code.
// Unknown codes return fallback.
func CodeError(code string, fallback error) error {
	switch code {
	case "NoSuchKey", "NotFound":
		return ErrNotFound
	case "AccessDenied", "Forbidden", "InvalidAccessKeyId", "SignatureDoesNotMatch",
		"ExpiredToken", "TokenRefreshRequired", "InvalidToken":
		return ErrAccessDenied
	case "SlowDown", "Throttling", "RequestLimitExceeded", "RequestTimeout",
		"InternalError", "ServiceUnavailable":
		return ErrTransient
	case "NoSuchBucket":
		// A missing bucket is misconfiguration, not a missing path.
		return ErrProtocol
	}
	return fallback
}
