package providers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Reason categorizes a backend failure for retry decisions.
type Reason string

const (
	ReasonRateLimit      Reason = "rate_limit"
	ReasonAuth           Reason = "auth"
	ReasonBilling        Reason = "billing"
	ReasonTimeout        Reason = "timeout"
	ReasonServerError    Reason = "server_error"
	ReasonInvalidRequest Reason = "invalid_request"
	ReasonModelNotFound  Reason = "model_not_found"
	ReasonUnknown        Reason = "unknown"
)

// Retryable reports whether the failure is plausibly transient.
func (r Reason) Retryable() bool {
	switch r {
	case ReasonRateLimit, ReasonTimeout, ReasonServerError:
		return true
	default:
		return false
	}
}

// ProviderError is a classified backend failure.
type ProviderError struct {
	Reason   Reason
	Provider string
	Model    string
	Status   int
	Cause    error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("[%s] %s model=%s", e.Reason, e.Provider, e.Model)
	if e.Status != 0 {
		msg += fmt.Sprintf(" status=%d", e.Status)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// WrapError classifies a backend failure. A nil cause returns nil.
func WrapError(provider, model string, cause error) error {
	if cause == nil {
		return nil
	}
	return &ProviderError{
		Reason:   ClassifyError(cause),
		Provider: provider,
		Model:    model,
		Cause:    cause,
	}
}

// ClassifyError maps an arbitrary backend error to a Reason by message
// inspection, for SDKs that do not expose a status code.
func ClassifyError(err error) Reason {
	if err == nil {
		return ReasonUnknown
	}
	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "timeout"),
		strings.Contains(msg, "deadline exceeded"):
		return ReasonTimeout
	case strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "rate_limit"),
		strings.Contains(msg, "too many requests"),
		strings.Contains(msg, "429"):
		return ReasonRateLimit
	case strings.Contains(msg, "unauthorized"),
		strings.Contains(msg, "invalid api key"),
		strings.Contains(msg, "invalid_api_key"),
		strings.Contains(msg, "authentication"),
		strings.Contains(msg, "401"),
		strings.Contains(msg, "403"):
		return ReasonAuth
	case strings.Contains(msg, "billing"),
		strings.Contains(msg, "quota"),
		strings.Contains(msg, "insufficient"),
		strings.Contains(msg, "402"):
		return ReasonBilling
	case strings.Contains(msg, "model not found"),
		strings.Contains(msg, "model_not_found"),
		strings.Contains(msg, "does not exist"):
		return ReasonModelNotFound
	case strings.Contains(msg, "internal server"),
		strings.Contains(msg, "server error"),
		strings.Contains(msg, "500"),
		strings.Contains(msg, "502"),
		strings.Contains(msg, "503"),
		strings.Contains(msg, "504"):
		return ReasonServerError
	default:
		return ReasonUnknown
	}
}

// ClassifyStatus maps an HTTP status code to a Reason.
func ClassifyStatus(status int) Reason {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ReasonAuth
	case status == http.StatusPaymentRequired:
		return ReasonBilling
	case status == http.StatusTooManyRequests:
		return ReasonRateLimit
	case status == http.StatusBadRequest:
		return ReasonInvalidRequest
	case status == http.StatusNotFound:
		return ReasonModelNotFound
	case status >= 500:
		return ReasonServerError
	default:
		return ReasonUnknown
	}
}

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Reason.Retryable()
	}
	return ClassifyError(err).Retryable()
}
