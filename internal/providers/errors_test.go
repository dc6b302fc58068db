package providers

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/streamcore/roundtable/pkg/chunk"
)

func TestNewProviderError_ClassifiesByStatus(t *testing.T) {
	cases := []struct {
		status int
		reason FailoverReason
		code   chunk.ErrorCode
	}{
		{401, FailoverAuth, chunk.ErrInvalidAPIKey},
		{402, FailoverBilling, chunk.ErrQuotaExceeded},
		{404, FailoverModelUnavail, chunk.ErrModelNotFound},
		{429, FailoverRateLimit, chunk.ErrRateLimited},
		{500, FailoverServerError, chunk.ErrServerError},
		{503, FailoverServerError, chunk.ErrServerError},
	}
	for _, tc := range cases {
		err := NewProviderError("anthropic", "claude", tc.status, errors.New("boom"))
		require.Equal(t, tc.reason, err.Reason, "status %d", tc.status)
		require.Equal(t, tc.code, err.Code, "status %d", tc.status)
	}
}

func TestNewProviderError_ClassifiesByMessage(t *testing.T) {
	cases := []struct {
		msg    string
		reason FailoverReason
	}{
		{"request timeout", FailoverTimeout},
		{"rate limit exceeded", FailoverRateLimit},
		{"invalid api key", FailoverAuth},
		{"quota exceeded for this billing period", FailoverBilling},
		{"response blocked by content_filter", FailoverContentFilter},
		{"model not found", FailoverModelUnavail},
	}
	for _, tc := range cases {
		err := NewProviderError("openai", "gpt-4o", 0, errors.New(tc.msg))
		require.Equal(t, tc.reason, err.Reason, tc.msg)
	}
}

func TestFailoverReason_IsRetryableAndShouldFailover(t *testing.T) {
	require.True(t, FailoverRateLimit.IsRetryable())
	require.False(t, FailoverRateLimit.ShouldFailover())

	require.True(t, FailoverAuth.ShouldFailover())
	require.False(t, FailoverAuth.IsRetryable())
}

func TestProviderError_ErrorAndUnwrap(t *testing.T) {
	cause := errors.New("network down")
	err := NewProviderError("anthropic", "claude-sonnet-4", 503, cause)
	require.Contains(t, err.Error(), "anthropic/claude-sonnet-4")
	require.Contains(t, err.Error(), "503")
	require.ErrorIs(t, err, cause)
}

func TestAsProviderError(t *testing.T) {
	err := NewProviderError("openai", "gpt-4o", 429, errors.New("rate limited"))

	pe, ok := AsProviderError(err)
	require.True(t, ok)
	require.Equal(t, FailoverRateLimit, pe.Reason)

	_, ok = AsProviderError(errors.New("plain"))
	require.False(t, ok)
}
