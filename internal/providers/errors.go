package providers

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/streamcore/roundtable/pkg/chunk"
)

// FailoverReason classifies a provider error for the purpose of deciding
// whether a caller should retry the same provider, fail over to a
// different one, or give up. It is additive to chunk.ErrorCode: every
// ProviderError also carries a chunk.ErrorCode for the wire-facing error
// chunk, and a FailoverReason for the orchestrator's internal routing
// decision.
type FailoverReason string

const (
	FailoverNone           FailoverReason = ""
	FailoverRateLimit      FailoverReason = "rate_limit"
	FailoverBilling        FailoverReason = "billing"
	FailoverAuth           FailoverReason = "auth"
	FailoverTimeout        FailoverReason = "timeout"
	FailoverServerError    FailoverReason = "server_error"
	FailoverInvalidRequest FailoverReason = "invalid_request"
	FailoverModelUnavail   FailoverReason = "model_unavailable"
	FailoverContentFilter  FailoverReason = "content_filter"
	FailoverUnknown        FailoverReason = "unknown"
)

// IsRetryable reports whether the same provider is worth retrying for
// this reason (transient conditions only).
func (r FailoverReason) IsRetryable() bool {
	switch r {
	case FailoverRateLimit, FailoverTimeout, FailoverServerError:
		return true
	default:
		return false
	}
}

// ShouldFailover reports whether a caller should try a different
// provider rather than retrying this one.
func (r FailoverReason) ShouldFailover() bool {
	switch r {
	case FailoverBilling, FailoverAuth, FailoverModelUnavail:
		return true
	default:
		return false
	}
}

// ProviderError is the error type every adapter returns for a failed
// stream. It carries enough structure to populate an error DomainChunk
// and to drive internal failover routing without string-matching twice.
type ProviderError struct {
	Reason    FailoverReason
	Code      chunk.ErrorCode
	Provider  string
	Model     string
	Status    int
	RequestID string
	Message   string
	Cause     error
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	b.WriteString(e.Provider)
	if e.Model != "" {
		b.WriteString("/")
		b.WriteString(e.Model)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.RequestID != "" {
		fmt.Fprintf(&b, " [request_id=%s]", e.RequestID)
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// WithRequestID returns a copy of e carrying the given request ID.
func (e *ProviderError) WithRequestID(id string) *ProviderError {
	c := *e
	c.RequestID = id
	return &c
}

// NewProviderError builds a ProviderError, classifying it from cause and
// an optional HTTP status code.
func NewProviderError(provider, model string, status int, cause error) *ProviderError {
	reason, code := classify(status, cause)
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return &ProviderError{
		Reason:   reason,
		Code:     code,
		Provider: provider,
		Model:    model,
		Status:   status,
		Message:  msg,
		Cause:    cause,
	}
}

// classify maps an HTTP status code and/or error text to a
// (FailoverReason, chunk.ErrorCode) pair, the way the teacher's
// ClassifyError/classifyStatusCode pair does for its own taxonomy.
func classify(status int, err error) (FailoverReason, chunk.ErrorCode) {
	if status != 0 {
		if r, c, ok := classifyStatus(status); ok {
			return r, c
		}
	}
	if err == nil {
		return FailoverUnknown, chunk.ErrUnknown
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return FailoverTimeout, chunk.ErrTimeout
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "429"):
		return FailoverRateLimit, chunk.ErrRateLimited
	case strings.Contains(msg, "unauthorized") || strings.Contains(msg, "401") ||
		strings.Contains(msg, "403") || strings.Contains(msg, "invalid api key") ||
		strings.Contains(msg, "invalid_api_key"):
		return FailoverAuth, chunk.ErrInvalidAPIKey
	case strings.Contains(msg, "billing") || strings.Contains(msg, "quota") || strings.Contains(msg, "402"):
		return FailoverBilling, chunk.ErrQuotaExceeded
	case strings.Contains(msg, "content_filter") || strings.Contains(msg, "safety") || strings.Contains(msg, "blocked"):
		return FailoverContentFilter, chunk.ErrContentFiltered
	case strings.Contains(msg, "model not found") || strings.Contains(msg, "model_not_found") ||
		strings.Contains(msg, "does not exist") || strings.Contains(msg, "unavailable"):
		return FailoverModelUnavail, chunk.ErrModelNotFound
	case strings.Contains(msg, "invalid request") || strings.Contains(msg, "invalid_request"):
		return FailoverInvalidRequest, chunk.ErrInvalidRequest
	case isNetworkError(err):
		return FailoverTimeout, chunk.ErrNetwork
	case strings.Contains(msg, "internal server") || hasStatusCodeString(msg, 500, 504):
		return FailoverServerError, chunk.ErrServerError
	default:
		return FailoverUnknown, chunk.ErrUnknown
	}
}

func classifyStatus(status int) (FailoverReason, chunk.ErrorCode, bool) {
	switch {
	case status == 401 || status == 403:
		return FailoverAuth, chunk.ErrInvalidAPIKey, true
	case status == 402:
		return FailoverBilling, chunk.ErrQuotaExceeded, true
	case status == 404:
		return FailoverModelUnavail, chunk.ErrModelNotFound, true
	case status == 408:
		return FailoverTimeout, chunk.ErrTimeout, true
	case status == 422:
		return FailoverInvalidRequest, chunk.ErrInvalidRequest, true
	case status == 429:
		return FailoverRateLimit, chunk.ErrRateLimited, true
	case status >= 500 && status <= 504:
		return FailoverServerError, chunk.ErrServerError, true
	default:
		return "", "", false
	}
}

func hasStatusCodeString(msg string, lo, hi int) bool {
	for code := lo; code <= hi; code++ {
		if strings.Contains(msg, strconv.Itoa(code)) {
			return true
		}
	}
	return false
}

func isNetworkError(err error) bool {
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "no such host")
}

// AsProviderError extracts a *ProviderError from err, if any.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	ok := errors.As(err, &pe)
	return pe, ok
}
