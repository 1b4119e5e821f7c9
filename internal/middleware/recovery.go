// Package middleware holds the HTTP middleware chain.
package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/zzxtbeta/rag-demo/internal/httputil"
)

// Recovery converts handler panics into 500 responses. The panic is logged
// with the request that triggered it and the connection is answered rather
// than dropped, so an EventSource client sees a response it can retry.
func Recovery(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("handler panicked",
						"panic", rec,
						"method", r.Method,
						"path", r.URL.Path,
						"remote_addr", r.RemoteAddr,
						"stack", string(debug.Stack()),
					)

					httputil.RespondError(w, http.StatusInternalServerError, "internal server error")
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
