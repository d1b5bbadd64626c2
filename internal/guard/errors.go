// Package guard wraps tool execution with schema validation, response
// caching, and rate limiting. Every agent-facing tool passes through a
// Pipeline; failures surface as ToolError values carrying a stable code
// from a closed enumeration.
package guard

import (
	"errors"
	"strings"
)

// Code is a stable error code from the closed taxonomy. Codes are
// namespaced by tool family; the generic codes apply when no family
// fits.
type Code string

const (
	// Generic codes.
	CodeInvalidParams       Code = "invalid_params"
	CodeToolRateLimited     Code = "tool_rate_limited"
	CodeToolExecutionFailed Code = "tool_execution_failed"

	// Accommodation search.
	CodeAccomSearchInvalidParams Code = "accom_search_invalid_params"
	CodeAccomSearchRateLimited   Code = "accom_search_rate_limited"
	CodeAccomSearchFailed        Code = "accom_search_failed"

	// Web search.
	CodeWebSearchInvalidParams Code = "web_search_invalid_params"
	CodeWebSearchRateLimited   Code = "web_search_rate_limited"
	CodeWebSearchFailed        Code = "web_search_failed"

	// Places lookup.
	CodePlacesInvalidParams Code = "places_invalid_params"
	CodePlacesRateLimited   Code = "places_rate_limited"
	CodePlacesFailed        Code = "places_failed"

	// Traveler memory.
	CodeMemoryInvalidParams Code = "memory_invalid_params"
	CodeMemoryRateLimited   Code = "memory_rate_limited"
	CodeMemoryUpdateFailed  Code = "memory_update_failed"

	// Approval workflow.
	CodeApprovalRequired Code = "approval_required"
	CodeApprovalDenied   Code = "approval_denied"
	CodeApprovalExpired  Code = "approval_expired"
)

// validCodes is the membership set for the taxonomy. IsToolError checks
// against it so a foreign error that happens to carry a Code field is
// never misclassified as ours.
var validCodes = map[Code]struct{}{
	CodeInvalidParams:            {},
	CodeToolRateLimited:          {},
	CodeToolExecutionFailed:      {},
	CodeAccomSearchInvalidParams: {},
	CodeAccomSearchRateLimited:   {},
	CodeAccomSearchFailed:        {},
	CodeWebSearchInvalidParams:   {},
	CodeWebSearchRateLimited:     {},
	CodeWebSearchFailed:          {},
	CodePlacesInvalidParams:      {},
	CodePlacesRateLimited:        {},
	CodePlacesFailed:             {},
	CodeMemoryInvalidParams:      {},
	CodeMemoryRateLimited:        {},
	CodeMemoryUpdateFailed:       {},
	CodeApprovalRequired:         {},
	CodeApprovalDenied:           {},
	CodeApprovalExpired:          {},
}

// Valid reports whether the code belongs to the taxonomy.
func (c Code) Valid() bool {
	_, ok := validCodes[c]
	return ok
}

// ToolError is the single failure contract between the guardrail layer
// and the HTTP boundary.
type ToolError struct {
	Code    Code
	Message string
	Meta    map[string]any
}

func (e *ToolError) Error() string {
	return string(e.Code) + ": " + e.Message
}

// NewToolError constructs a ToolError. It is the only constructor; a
// code outside the taxonomy is normalized to tool_execution_failed with
// the original code preserved in Meta so nothing unclassified escapes.
func NewToolError(code Code, message string, meta map[string]any) *ToolError {
	if !code.Valid() {
		if meta == nil {
			meta = map[string]any{}
		}
		meta["original_code"] = string(code)
		code = CodeToolExecutionFailed
	}
	return &ToolError{Code: code, Message: message, Meta: meta}
}

// AsToolError unwraps err into a *ToolError if it belongs to the
// taxonomy. Membership is checked against the code set, not just the
// type, so a hand-built ToolError with an unknown code is rejected.
func AsToolError(err error) (*ToolError, bool) {
	var te *ToolError
	if !errors.As(err, &te) {
		return nil, false
	}
	if !te.Code.Valid() {
		return nil, false
	}
	return te, true
}

// IsToolError reports whether err carries a taxonomy code.
func IsToolError(err error) bool {
	_, ok := AsToolError(err)
	return ok
}

// Classify reclassifies an arbitrary error into the taxonomy. Taxonomy
// errors pass through unchanged; anything else becomes fallback with
// the original message preserved in Meta.
func Classify(err error, fallback Code) *ToolError {
	if te, ok := AsToolError(err); ok {
		return te
	}
	return NewToolError(fallback, err.Error(), map[string]any{
		"cause": err.Error(),
	})
}

// HTTPStatus maps a taxonomy code to the status the HTTP boundary
// should return. Rate-limit codes map to 429, validation codes to 400,
// approval_required to 403, everything else to 500.
func HTTPStatus(code Code) int {
	switch {
	case code == CodeInvalidParams || strings.HasSuffix(string(code), "_invalid_params"):
		return 400
	case code == CodeToolRateLimited || strings.HasSuffix(string(code), "_rate_limited"):
		return 429
	case code == CodeApprovalRequired || code == CodeApprovalDenied:
		return 403
	default:
		return 500
	}
}
