package middleware

import (
	"context"
	"net/http"
	"time"
)

// Timeout returns a middleware that enforces a maximum duration for each request.
// When the timeout is reached, the request context is cancelled and the handler may stop.
// WebSocket upgrades are long-lived and pass through. A non-positive timeout is a no-op.
func Timeout(timeout time.Duration) func(http.Handler) http.Handler {
	if timeout <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isUpgrade(r) {
				next.ServeHTTP(w, r)
				return
			}
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
