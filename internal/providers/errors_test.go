package providers

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err  error
		want Reason
	}{
		{errors.New("429 too many requests"), ReasonRateLimit},
		{errors.New("rate_limit_error: slow down"), ReasonRateLimit},
		{errors.New("context deadline exceeded"), ReasonTimeout},
		{errors.New("invalid api key provided"), ReasonAuth},
		{errors.New("insufficient quota"), ReasonBilling},
		{errors.New("model not found"), ReasonModelNotFound},
		{errors.New("502 bad gateway"), ReasonServerError},
		{errors.New("something odd"), ReasonUnknown},
		{nil, ReasonUnknown},
	}
	for _, tt := range tests {
		if got := ClassifyError(tt.err); got != tt.want {
			t.Errorf("ClassifyError(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		want   Reason
	}{
		{401, ReasonAuth},
		{403, ReasonAuth},
		{402, ReasonBilling},
		{429, ReasonRateLimit},
		{400, ReasonInvalidRequest},
		{404, ReasonModelNotFound},
		{500, ReasonServerError},
		{503, ReasonServerError},
		{200, ReasonUnknown},
	}
	for _, tt := range tests {
		if got := ClassifyStatus(tt.status); got != tt.want {
			t.Errorf("ClassifyStatus(%d) = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	retryable := WrapError("openai", "gpt-4o", errors.New("500 internal server error"))
	if !IsRetryable(retryable) {
		t.Error("server error should be retryable")
	}

	permanent := WrapError("openai", "gpt-4o", errors.New("invalid api key"))
	if IsRetryable(permanent) {
		t.Error("auth failure should not be retryable")
	}

	// Classification survives wrapping.
	wrapped := fmt.Errorf("stream open: %w", retryable)
	if !IsRetryable(wrapped) {
		t.Error("wrapped ProviderError lost its classification")
	}

	if !IsRetryable(errors.New("timeout awaiting headers")) {
		t.Error("raw timeout error should classify as retryable")
	}
}

func TestProviderError_Message(t *testing.T) {
	err := WrapError("anthropic", "claude-sonnet-4-5", errors.New("429 too many requests"))
	var pe *ProviderError
	if !errors.As(err, &pe) {
		t.Fatal("WrapError did not produce a ProviderError")
	}
	if pe.Reason != ReasonRateLimit {
		t.Errorf("Reason = %q, want rate_limit", pe.Reason)
	}
	want := "[rate_limit] anthropic model=claude-sonnet-4-5: 429 too many requests"
	if pe.Error() != want {
		t.Errorf("Error() = %q, want %q", pe.Error(), want)
	}
}

func TestWrapError_NilCause(t *testing.T) {
	if err := WrapError("openai", "gpt-4o", nil); err != nil {
		t.Errorf("WrapError(nil) = %v, want nil", err)
	}
}
