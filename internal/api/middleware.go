package api

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// quietRoutes are polled often enough that logging them at info drowns the
// session lines.
var quietRoutes = map[string]bool{
	"/health":                          true,
	"/api/v1/sessions/{user_id}/frame": true,
}

// requestLogger writes one line per request once the handler returns, so
// websocket and SSE streams are logged when they end. The raw query is
// never logged since resume tokens travel there.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		level := slog.LevelInfo
		switch {
		case ww.Status() >= http.StatusInternalServerError:
			level = slog.LevelWarn
		case quietRoutes[route]:
			level = slog.LevelDebug
		}

		attrs := []any{
			"method", r.Method,
			"route", route,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		}
		if user := r.URL.Query().Get("user_id"); user != "" {
			attrs = append(attrs, "user_id", user)
		}
		if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
			attrs = append(attrs, "stream", "websocket")
		}
		slog.Log(r.Context(), level, "http request", attrs...)
	})
}

// noStore keeps credential responses out of shared caches.
func noStore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/v1/credentials/") {
			w.Header().Set("Cache-Control", "no-store")
		}
		next.ServeHTTP(w, r)
	})
}

const adminScheme = "adminToken"

const adminDescription = "The session endpoints return live login screens and the event feed " +
	"names every user with a session. Keep the gateway on a loopback or private bind, " +
	"and set GATEWAY_ADMIN_TOKEN to require `Authorization: Bearer <token>` on both."

// adminPrefixes are the routes guarded by the admin token.
var adminPrefixes = []string{"/api/v1/sessions", "/api/v1/events"}

// requireAdmin rejects unauthenticated requests to admin routes. An empty
// token disables the check.
func requireAdmin(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		want := []byte("Bearer " + token)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			guarded := false
			for _, p := range adminPrefixes {
				if r.URL.Path == p || strings.HasPrefix(r.URL.Path, p+"/") {
					guarded = true
					break
				}
			}
			if guarded && subtle.ConstantTimeCompare([]byte(r.Header.Get("Authorization")), want) != 1 {
				w.Header().Set("WWW-Authenticate", `Bearer realm="gateway-admin"`)
				http.Error(w, "admin token required", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
