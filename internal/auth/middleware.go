package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/tradeflow-ai/tradeflow/internal/domain"
	"github.com/tradeflow-ai/tradeflow/internal/store"
)

type contextKey int

const userKey contextKey = iota

// UserFromContext extracts the authenticated user from the request context.
func UserFromContext(ctx context.Context) *domain.User {
	if u, ok := ctx.Value(userKey).(*domain.User); ok {
		return u
	}
	return nil
}

// BearerToken extracts the bearer token from a request. WebSocket clients
// cannot always set headers, so a "token" query parameter is accepted too.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// Middleware requires a valid bearer token on every request it wraps. The
// token subject must resolve to a registered user, which is injected into the
// request context. Missing or invalid tokens get a 401 with no side effects.
func Middleware(issuer *TokenIssuer, repo store.Repository) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				unauthorized(w)
				return
			}

			username, err := issuer.Validate(token)
			if err != nil {
				unauthorized(w)
				return
			}

			user, err := repo.GetUserByUsername(r.Context(), username)
			if err != nil {
				http.Error(w, `{"error":"failed to load user"}`, http.StatusInternalServerError)
				return
			}
			if user == nil {
				unauthorized(w)
				return
			}

			ctx := context.WithValue(r.Context(), userKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"not authenticated"}`))
}
