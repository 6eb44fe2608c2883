package correlation

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/poppopjmp/spiderfoot-sub008/internal/httputil"
	"github.com/poppopjmp/spiderfoot-sub008/internal/logging"
)

// Middleware binds request_id/method/path to the request context, propagates
// X-Request-ID on both directions, and warns on requests slower than
// slowThreshold.
func Middleware(logger *logging.Logger, slowThreshold time.Duration) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = uuid.New().String()
			}

			ctx := WithFields(r.Context(), Fields{
				RequestID: requestID,
				Method:    r.Method,
				Path:      r.URL.Path,
			})
			ctx = logging.WithTraceID(ctx, requestID)
			r = r.WithContext(ctx)

			r.Header.Set("X-Request-ID", requestID)
			w.Header().Set("X-Request-ID", requestID)

			next.ServeHTTP(w, r)

			if slowThreshold > 0 {
				if elapsed := time.Since(start); elapsed > slowThreshold && logger != nil {
					logger.WithFields(map[string]interface{}{
						"request_id": requestID,
						"method":     r.Method,
						"path":       r.URL.Path,
						"client_ip":  httputil.ClientIP(r),
						"duration":   elapsed.String(),
					}).Warn("slow request")
				}
			}
		})
	}
}
