package middleware

import (
	"net/http"
	"strings"

	"github.com/healapp/backend/internal/auth"
)

// TokenVerifier valida o token da sessão. Implementado por *auth.Authenticator.
type TokenVerifier interface {
	Verify(raw string) (*auth.Claims, error)
}

// RequireAuthMiddleware returns a mux-compatible middleware (func(http.Handler) http.Handler).
func RequireAuthMiddleware(v TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return RequireAuth(v, next)
	}
}

func RequireAuth(v TokenVerifier, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := extractBearer(r)
		if raw == "" && isUpgrade(r) {
			// navegadores não enviam Authorization no handshake do WebSocket
			raw = r.URL.Query().Get("access_token")
		}
		if raw == "" {
			writeJSONError(w, http.StatusUnauthorized, "missing or invalid authorization")
			return
		}
		claims, err := v.Verify(raw)
		if err != nil {
			writeJSONError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		r = r.WithContext(auth.WithClaims(r.Context(), claims))
		next.ServeHTTP(w, r)
	})
}

func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c := auth.ClaimsFrom(r.Context())
			if c == nil {
				writeJSONError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			if !c.HasRole(roles...) {
				writeJSONError(w, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractBearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

func isUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

func writeJSONError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
