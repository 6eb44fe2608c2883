// Package middleware provides HTTP middleware for the event fabric.
package middleware

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/poppopjmp/spiderfoot-sub008/internal/logging"
)

// LoggingMiddleware logs HTTP requests and binds a request ID to the context.
func LoggingMiddleware(logger *logging.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = logging.NewTraceID()
			}

			ctx := logging.WithTraceID(r.Context(), requestID)
			r = r.WithContext(ctx)

			// Ensure downstream handlers (including reverse proxies) can forward the request ID.
			r.Header.Set("X-Request-ID", requestID)
			w.Header().Set("X-Request-ID", requestID)

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			duration := time.Since(start)
			logger.LogRequest(ctx, r.Method, r.URL.Path, wrapped.statusCode, duration)
		})
	}
}
