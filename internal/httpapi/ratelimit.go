package httpapi

import (
	"net/http"

	"github.com/poppopjmp/spiderfoot-sub008/internal/httputil"
)

// rateLimit admits or rejects requests per client IP ahead of every handler
// below it. Health and liveness probes are exempt so an orchestrator's probe
// traffic can never itself trip the limiter.
func (h *handler) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.Limiter == nil || r.URL.Path == "/healthz" || r.URL.Path == "/livez" {
			next.ServeHTTP(w, r)
			return
		}

		result := h.Limiter.Allow("ip:" + httputil.ClientIP(r))
		if !result.Allowed {
			httputil.RateLimited(w, result.RetryAfter)
			return
		}
		next.ServeHTTP(w, r)
	})
}
