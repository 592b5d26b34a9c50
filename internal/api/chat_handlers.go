package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/tradeflow-ai/tradeflow/internal/auth"
	"github.com/tradeflow-ai/tradeflow/internal/session"
)

type chatRequest struct {
	UserMessage string `json:"user_message"`
	SessionID   string `json:"session_id"`
}

func (c *chatRequest) validate() error {
	c.SessionID = strings.TrimSpace(c.SessionID)
	if c.SessionID == "" {
		return errors.New("session_id is required")
	}
	if strings.TrimSpace(c.UserMessage) == "" {
		return errors.New("user_message is required")
	}
	return nil
}

// Chat starts a new conversation turn for the session. Upstream and store
// failures surface uniformly as 500 with the error text as detail.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.validate(); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	user := auth.UserFromContext(r.Context())
	result, err := h.engine.Start(r.Context(), req.SessionID, user.ID, req.UserMessage)
	if err != nil {
		slog.Error("chat turn failed", "session_id", req.SessionID, "error", err)
		Error(w, http.StatusInternalServerError, err.Error())
		return
	}

	JSON(w, http.StatusOK, result)
}

// ResumeFlow advances a paused plan run for the session. A session with no
// stored plan is a 404.
func (h *Handler) ResumeFlow(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.validate(); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.engine.Resume(r.Context(), req.SessionID, req.UserMessage)
	if err != nil {
		if errors.Is(err, session.ErrNoPlanRun) {
			Error(w, http.StatusNotFound, "No active plan found for this session.")
			return
		}
		slog.Error("resume turn failed", "session_id", req.SessionID, "error", err)
		Error(w, http.StatusInternalServerError, err.Error())
		return
	}

	JSON(w, http.StatusOK, result)
}

// History returns the session's recent chat log, oldest first.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		Error(w, http.StatusBadRequest, "session_id is required")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	messages, err := h.engine.History(r.Context(), sessionID, limit)
	if err != nil {
		slog.Error("failed to read history", "session_id", sessionID, "error", err)
		Error(w, http.StatusInternalServerError, err.Error())
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{"messages": messages})
}
