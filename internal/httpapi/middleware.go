package httpapi

import (
	"net/http"
	"strings"
	"time"
)

// requireAdminToken enforces a bearer token from the admin allowlist on
// every route it wraps.
func (s *Server) requireAdminToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" || !s.AdminTokens[token] {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid admin token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs every request's method, path, status, and latency.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		if s.Log != nil {
			s.Log.WithFields(map[string]interface{}{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   wrapped.status,
				"duration": time.Since(start).String(),
			}).Info("http request")
		}
	})
}

// recoveryMiddleware converts a handler panic into a 500 instead of
// crashing the server; node-agent socket loops and admin handlers run on
// separate goroutines and must not bring each other down.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if s.Log != nil {
					s.Log.WithField("panic", rec).Error("http handler panicked")
				}
				writeError(w, http.StatusInternalServerError, "INTERNAL", "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
