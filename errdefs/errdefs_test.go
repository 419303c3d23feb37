package errdefs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromCode(t *testing.T) {
	tests := []struct {
		code string
		want Kind
	}{
		{code: "INVALID_FILE_TYPE", want: KindValidation},
		{code: "UNAUTHORIZED", want: KindAuth},
		{code: "ACCESS_DENIED", want: KindAuth},
		{code: "NETWORK_ERROR", want: KindNetwork},
		{code: "TIMEOUT", want: KindTimeout},
		{code: "STORAGE_ERROR", want: KindService},
		{code: "TRANSFORM_FAILED", want: KindService},
		{code: "DATABASE_ERROR", want: KindService},
		{code: "SIGNED_URL_EXPIRED", want: KindSignedURLExpired},
		{code: "RATE_LIMITED", want: KindRateLimited},
		{code: "QUOTA_EXCEEDED", want: KindQuotaExceeded},
		{code: "FILE_NOT_FOUND", want: KindNotFound},
		{code: "SOMETHING_NEW", want: KindUnknown},
		{code: "", want: KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.want, FromCode(tt.code))
		})
	}
}

func TestFromStatus(t *testing.T) {
	tests := []struct {
		status int
		want   Kind
	}{
		{status: 400, want: KindValidation},
		{status: 401, want: KindAuth},
		{status: 403, want: KindAuth},
		{status: 404, want: KindNotFound},
		{status: 408, want: KindTimeout},
		{status: 410, want: KindSignedURLExpired},
		{status: 413, want: KindValidation},
		{status: 429, want: KindRateLimited},
		{status: 500, want: KindService},
		{status: 503, want: KindService},
		{status: 507, want: KindQuotaExceeded},
		{status: 200, want: KindUnknown},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d", tt.status), func(t *testing.T) {
			assert.Equal(t, tt.want, FromStatus(tt.status))
		})
	}
}

func TestRetryableByKind(t *testing.T) {
	retryable := []Kind{KindNetwork, KindTimeout, KindService, KindSignedURLExpired, KindRateLimited}
	terminal := []Kind{KindValidation, KindAuth, KindQuotaExceeded, KindNotFound, KindUnknown}

	for _, k := range retryable {
		assert.True(t, k.Retryable(), "expected %s to be retryable", k)
		assert.True(t, New(k, "boom").Retryable)
	}
	for _, k := range terminal {
		assert.False(t, k.Retryable(), "expected %s to be terminal", k)
		assert.False(t, New(k, "boom").Retryable)
	}
}

func TestKindOfUnwrapsWrappedErrors(t *testing.T) {
	inner := Newf(KindQuotaExceeded, "used %d of %d bytes", 100, 50)
	wrapped := fmt.Errorf("finalize upload: %w", inner)

	assert.Equal(t, KindQuotaExceeded, KindOf(wrapped))
	assert.False(t, IsRetryable(wrapped))

	var structured *Error
	require.True(t, errors.As(wrapped, &structured))
	assert.Equal(t, "used 100 of 50 bytes", structured.Message)
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf(errors.New("opaque")))
	assert.False(t, IsRetryable(errors.New("opaque")))
	assert.False(t, IsRetryable(nil))
}

func TestWithDetail(t *testing.T) {
	err := New(KindRateLimited, "slow down").WithDetail(RetryAfterDetail, "30")
	assert.Equal(t, "30", err.Details[RetryAfterDetail])
	assert.Equal(t, "rate-limited: slow down", err.Error())
}
