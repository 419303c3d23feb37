// Package errdefs defines the error taxonomy shared by every component of the
// transfer engine. All failures crossing a package boundary are *Error values
// carrying a Kind, so callers can make retry decisions without parsing
// messages.
package errdefs

import (
	"errors"
	"fmt"
)

// Kind classifies a failure reported by the storage backend or the transport.
type Kind int

const (
	// KindUnknown is the zero value for unclassifiable failures.
	KindUnknown Kind = iota
	// KindValidation covers rejected inputs (bad file type, bad size).
	KindValidation
	// KindAuth covers invalid credentials and access denials.
	KindAuth
	// KindNetwork covers transport-level failures (connection refused, reset).
	KindNetwork
	// KindTimeout covers deadline hits, kept distinct from KindNetwork.
	KindTimeout
	// KindService covers transient backend failures (storage, transform, database).
	KindService
	// KindSignedURLExpired marks a PUT or GET against a no-longer-valid signed URL.
	KindSignedURLExpired
	// KindRateLimited marks throttling responses.
	KindRateLimited
	// KindQuotaExceeded marks storage quota exhaustion.
	KindQuotaExceeded
	// KindNotFound marks a missing bucket, file or upload session.
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuth:
		return "auth"
	case KindNetwork:
		return "network"
	case KindTimeout:
		return "timeout"
	case KindService:
		return "service"
	case KindSignedURLExpired:
		return "signed-url-expired"
	case KindRateLimited:
		return "rate-limited"
	case KindQuotaExceeded:
		return "quota-exceeded"
	case KindNotFound:
		return "not-found"
	case KindUnknown:
		return "unknown"
	}
	return "unknown"
}

// Retryable reports whether failures of this kind may ever be retried.
// Call sites further restrict this through their backoff policies.
func (k Kind) Retryable() bool {
	switch k {
	case KindNetwork, KindTimeout, KindService, KindSignedURLExpired, KindRateLimited:
		return true
	case KindValidation, KindAuth, KindQuotaExceeded, KindNotFound, KindUnknown:
		return false
	}
	return false
}

// RetryAfterDetail is the Details key holding a server-supplied retry-after
// hint in seconds, set on rate-limited errors when the backend provides one.
const RetryAfterDetail = "retry_after"

// Error is the structured error every component signals failure with.
type Error struct {
	Kind      Kind
	Message   string
	Retryable bool
	Details   map[string]string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// New creates an Error of the given kind, deriving Retryable from the kind.
func New(kind Kind, message string) *Error {
	return &Error{
		Kind:      kind,
		Message:   message,
		Retryable: kind.Retryable(),
	}
}

// Newf is New with formatting.
func Newf(kind Kind, format string, v ...interface{}) *Error {
	return New(kind, fmt.Sprintf(format, v...))
}

// WithDetail returns e with the detail set. The receiver is mutated and
// returned for chaining.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = map[string]string{}
	}
	e.Details[key] = value
	return e
}

// KindOf extracts the Kind from err. Wrapped errors are unwrapped; anything
// that is not a structured Error is KindUnknown.
func KindOf(err error) Kind {
	var structured *Error
	if errors.As(err, &structured) {
		return structured.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether err carries a retryable kind.
func IsRetryable(err error) bool {
	var structured *Error
	if errors.As(err, &structured) {
		return structured.Retryable
	}
	return false
}

// FromCode maps a backend error code (the `error.code` field of error
// responses) to a Kind. Unlisted codes are KindUnknown on purpose: new codes
// are a compile-time decision, not a runtime fallback.
func FromCode(code string) Kind {
	switch code {
	case "INVALID_FILE_TYPE", "INVALID_FILE_SIZE", "INVALID_REQUEST", "VALIDATION_ERROR":
		return KindValidation
	case "UNAUTHORIZED", "INVALID_TOKEN", "ACCESS_DENIED", "FORBIDDEN":
		return KindAuth
	case "NETWORK_ERROR":
		return KindNetwork
	case "TIMEOUT":
		return KindTimeout
	case "STORAGE_ERROR", "TRANSFORM_FAILED", "DATABASE_ERROR", "INTERNAL_ERROR":
		return KindService
	case "SIGNED_URL_EXPIRED", "URL_EXPIRED":
		return KindSignedURLExpired
	case "RATE_LIMITED", "TOO_MANY_REQUESTS":
		return KindRateLimited
	case "QUOTA_EXCEEDED", "STORAGE_FULL":
		return KindQuotaExceeded
	case "NOT_FOUND", "BUCKET_NOT_FOUND", "FILE_NOT_FOUND", "UPLOAD_NOT_FOUND":
		return KindNotFound
	}
	return KindUnknown
}

// FromStatus maps an HTTP status code to a Kind, used when the response body
// carries no parseable error code (signed-URL PUTs go straight to storage and
// answer with bare statuses).
func FromStatus(status int) Kind {
	switch {
	case status == 401 || status == 403:
		return KindAuth
	case status == 404:
		return KindNotFound
	case status == 408:
		return KindTimeout
	case status == 410:
		return KindSignedURLExpired
	case status == 429:
		return KindRateLimited
	case status == 507:
		return KindQuotaExceeded
	case status >= 400 && status < 500:
		return KindValidation
	case status >= 500:
		return KindService
	}
	return KindUnknown
}
