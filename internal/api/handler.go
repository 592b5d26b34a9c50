// Package api provides HTTP handlers for the TradeFlow API.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/tradeflow-ai/tradeflow/internal/auth"
	"github.com/tradeflow-ai/tradeflow/internal/flow"
	"github.com/tradeflow-ai/tradeflow/internal/session"
	"github.com/tradeflow-ai/tradeflow/internal/store"
)

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

// Handler holds the dependencies shared by all HTTP handlers.
type Handler struct {
	repo           store.Repository
	sessions       *session.Store
	engine         *flow.Engine
	issuer         *auth.TokenIssuer
	allowedOrigins []string
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, sessions *session.Store, engine *flow.Engine, issuer *auth.TokenIssuer, allowedOrigins []string) *Handler {
	return &Handler{
		repo:           repo,
		sessions:       sessions,
		engine:         engine,
		issuer:         issuer,
		allowedOrigins: allowedOrigins,
	}
}

// RegisterRoutes mounts all API routes on the router. Chat routes sit behind
// the bearer-token middleware; signup, token and health are public.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.Health)
	r.Post("/signup", h.Signup)
	r.Post("/token", h.Token)

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(h.issuer, h.repo))
		r.Post("/chat", h.Chat)
		r.Post("/resume_flow", h.ResumeFlow)
		r.Get("/history", h.History)
		r.Get("/ws/chat", h.ChatSocket)
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// Health reports service liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
