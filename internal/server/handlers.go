package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/itinera-ai/itinera/internal/agent"
	"github.com/itinera-ai/itinera/internal/guard"
	"github.com/itinera-ai/itinera/internal/models"
	"github.com/itinera-ai/itinera/internal/observability"
	"github.com/itinera-ai/itinera/internal/providers"
	"github.com/itinera-ai/itinera/internal/tools/memory"
)

type chatRequest struct {
	UserID   string        `json:"user_id"`
	Model    string        `json:"model,omitempty"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// handleChat runs one conversation turn and streams events as SSE.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "user_id is required")
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "messages must not be empty")
		return
	}

	messages := make([]models.Message, 0, len(req.Messages))
	for _, msg := range req.Messages {
		role := models.Role(msg.Role)
		switch role {
		case models.RoleUser, models.RoleAssistant:
		default:
			writeError(w, http.StatusBadRequest, "invalid_request",
				fmt.Sprintf("unsupported message role %q", msg.Role))
			return
		}
		messages = append(messages, models.Message{Role: role, Content: msg.Content})
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal_error", "streaming not supported")
		return
	}

	ctx := r.Context()
	events, err := s.runner.Run(ctx, agent.RunRequest{
		UserID:    req.UserID,
		RequestID: requestID(r),
		Model:     req.Model,
		Messages:  messages,
		Tools:     s.toolsFor(req.UserID),
	})
	if err != nil {
		s.writeToolError(ctx, w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for event := range events {
		if event.Err != nil {
			if _, ok := guard.AsToolError(event.Err); !ok {
				s.logger.Error(ctx, "agent run failed", "error", event.Err)
			}
		}
		writeSSE(w, flusher, event)
	}
}

// toolsFor returns the static tool set plus the per-user memory tool.
func (s *Server) toolsFor(userID string) []guard.Handle {
	var handles []guard.Handle
	if s.tools != nil {
		handles = s.tools.List()
	}
	if s.store != nil {
		handles = append(handles, memory.NewTool(s.store, userID))
	}
	return handles
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, event agent.Event) {
	name := "text"
	var payload any = event

	switch {
	case event.Err != nil:
		name = "error"
		payload = errorPayload(event.Err)
	case event.Done:
		name = "done"
	case event.ToolCall != nil:
		name = "tool_call"
	case event.ToolResult != nil:
		name = "tool_result"
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	flusher.Flush()
}

type invalidateRequest struct {
	Tags []string `json:"tags"`
}

type invalidateResponse struct {
	Versions map[string]int64 `json:"versions"`
}

// handleInvalidate bumps tag versions so every key under those tags
// misses on next lookup.
func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	if s.tags == nil {
		writeError(w, http.StatusServiceUnavailable, "cache_unavailable", "tag invalidation is not configured")
		return
	}

	var req invalidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	if len(req.Tags) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "tags must not be empty")
		return
	}

	versions, err := s.tags.BumpTags(r.Context(), req.Tags)
	if err != nil {
		s.logger.Warn(r.Context(), "tag invalidation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "tag invalidation failed")
		return
	}

	writeJSON(w, http.StatusOK, invalidateResponse{Versions: versions})
}

type putKeyRequest struct {
	UserID string `json:"user_id"`
	Key    string `json:"key"`
}

// byokProvider validates the path segment. Only direct providers accept
// traveler keys; the gateway key is configuration.
func byokProvider(name string) (models.Provider, bool) {
	switch p := models.Provider(name); p {
	case models.ProviderOpenAI, models.ProviderAnthropic, models.ProviderXAI:
		return p, true
	default:
		return "", false
	}
}

func (s *Server) handlePutKey(w http.ResponseWriter, r *http.Request) {
	if s.keys == nil {
		writeError(w, http.StatusServiceUnavailable, "keys_unavailable", "key storage is not configured")
		return
	}
	provider, ok := byokProvider(r.PathValue("provider"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_request",
			fmt.Sprintf("unknown provider %q", r.PathValue("provider")))
		return
	}

	var req putKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "user_id is required")
		return
	}
	if strings.TrimSpace(req.Key) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "key is required")
		return
	}

	if err := s.keys.SetUserKey(r.Context(), req.UserID, provider, req.Key); err != nil {
		s.logger.Warn(r.Context(), "key save failed", "provider", string(provider), "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "key save failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

func (s *Server) handleDeleteKey(w http.ResponseWriter, r *http.Request) {
	if s.keys == nil {
		writeError(w, http.StatusServiceUnavailable, "keys_unavailable", "key storage is not configured")
		return
	}
	provider, ok := byokProvider(r.PathValue("provider"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_request",
			fmt.Sprintf("unknown provider %q", r.PathValue("provider")))
		return
	}
	userID := r.URL.Query().Get("user_id")
	if strings.TrimSpace(userID) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "user_id is required")
		return
	}

	if err := s.keys.DeleteUserKey(r.Context(), userID, provider); err != nil {
		s.logger.Warn(r.Context(), "key delete failed", "provider", string(provider), "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "key delete failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func requestID(r *http.Request) string {
	if id, ok := r.Context().Value(observability.RequestIDKey).(string); ok {
		return id
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}

// writeToolError maps taxonomy errors onto HTTP statuses; anything
// else is a 500. Unclassified errors are logged here and the response
// carries a fixed message, since raw error strings can embed addresses
// and key material.
func (s *Server) writeToolError(ctx context.Context, w http.ResponseWriter, err error) {
	if te, ok := guard.AsToolError(err); ok {
		writeJSON(w, guard.HTTPStatus(te.Code), errorPayload(err))
		return
	}
	if errors.Is(err, providers.ErrNoProviderKey) {
		writeError(w, http.StatusForbidden, "no_provider_key",
			"no API key available for this user and no gateway is configured")
		return
	}
	s.logger.Error(ctx, "chat request failed", "error", err)
	writeJSON(w, http.StatusInternalServerError, errorPayload(err))
}

func errorPayload(err error) map[string]any {
	if te, ok := guard.AsToolError(err); ok {
		payload := map[string]any{"error": string(te.Code), "message": te.Message}
		if len(te.Meta) > 0 {
			payload["meta"] = te.Meta
		}
		return payload
	}
	return map[string]any{"error": "internal_error", "message": "internal error"}
}
