package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/tradeflow-ai/tradeflow/internal/auth"
	"github.com/tradeflow-ai/tradeflow/internal/domain"
	"github.com/tradeflow-ai/tradeflow/internal/session"
)

// wsTurnRequest is one inbound frame on the chat socket.
type wsTurnRequest struct {
	Type        string `json:"type"` // "chat" or "resume"
	UserMessage string `json:"user_message"`
	SessionID   string `json:"session_id"`
}

// wsTurnReply is one outbound frame: a turn result or an error.
type wsTurnReply struct {
	*domain.TurnResult
	Error string `json:"error,omitempty"`
	Code  int    `json:"code,omitempty"`
}

// ChatSocket serves the streaming chat endpoint. Each inbound frame is one
// conversation turn; the reply frame mirrors the corresponding HTTP response.
// The connection authenticates through the same bearer middleware as the
// JSON endpoints (token accepted via query parameter for browser clients).
func (h *Handler) ChatSocket(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	slog.Info("chat socket connection", "username", user.Username, "ip", r.RemoteAddr)

	opts := &websocket.AcceptOptions{}
	if len(h.allowedOrigins) > 0 {
		opts.OriginPatterns = originPatterns(h.allowedOrigins)
	}
	ws, err := websocket.Accept(w, r, opts)
	if err != nil {
		slog.Error("failed to accept chat socket", "error", err, "username", user.Username)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("failed to close chat socket", "error", closeErr)
		}
	}()

	ctx := r.Context()
	for {
		var req wsTurnRequest
		if err := wsjson.Read(ctx, ws, &req); err != nil {
			if websocket.CloseStatus(err) != -1 || ctx.Err() != nil {
				return
			}
			slog.Debug("chat socket read failed", "error", err)
			return
		}

		reply := h.handleSocketTurn(ctx, user, &req)
		if err := wsjson.Write(ctx, ws, reply); err != nil {
			slog.Debug("chat socket write failed", "error", err)
			return
		}
	}
}

func (h *Handler) handleSocketTurn(ctx context.Context, user *domain.User, req *wsTurnRequest) *wsTurnReply {
	if req.SessionID == "" || req.UserMessage == "" {
		return &wsTurnReply{Error: "session_id and user_message are required", Code: http.StatusBadRequest}
	}

	// Each turn gets its own deadline so one stuck upstream call cannot pin
	// the socket forever.
	turnCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	var result *domain.TurnResult
	var err error
	switch req.Type {
	case "resume":
		result, err = h.engine.Resume(turnCtx, req.SessionID, req.UserMessage)
	case "chat", "":
		result, err = h.engine.Start(turnCtx, req.SessionID, user.ID, req.UserMessage)
	default:
		return &wsTurnReply{Error: "unknown turn type: " + req.Type, Code: http.StatusBadRequest}
	}
	if err != nil {
		if errors.Is(err, session.ErrNoPlanRun) {
			return &wsTurnReply{Error: "No active plan found for this session.", Code: http.StatusNotFound}
		}
		slog.Error("socket turn failed", "session_id", req.SessionID, "error", err)
		return &wsTurnReply{Error: err.Error(), Code: http.StatusInternalServerError}
	}
	return &wsTurnReply{TurnResult: result}
}

// originPatterns converts full origins (scheme://host) into the host
// patterns the websocket library matches against.
func originPatterns(origins []string) []string {
	patterns := make([]string, 0, len(origins))
	for _, o := range origins {
		for _, prefix := range []string{"https://", "http://"} {
			if len(o) > len(prefix) && o[:len(prefix)] == prefix {
				o = o[len(prefix):]
				break
			}
		}
		patterns = append(patterns, o)
	}
	return patterns
}
