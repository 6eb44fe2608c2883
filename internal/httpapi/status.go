package httpapi

import (
	"errors"
	"net/http"

	"github.com/poppopjmp/spiderfoot-sub008/internal/httputil"
	appmiddleware "github.com/poppopjmp/spiderfoot-sub008/internal/middleware"
)

var errUnhealthyBus = errors.New("event bus is unhealthy")

// status reports a consolidated snapshot across every wired component, for
// operators and dashboards; it carries no invariants of its own.
func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"runtime": appmiddleware.RuntimeStats(),
	}

	if h.Bus != nil {
		busHealth := h.Bus.Health()
		resp["bus"] = map[string]interface{}{
			"state":        busHealth.State,
			"circuit_open": busHealth.CircuitOpen,
			"dlq_size":     busHealth.DLQSize,
			"checked_at":   busHealth.CheckedAt,
		}
	}

	if h.Tasks != nil {
		resp["tasks"] = map[string]interface{}{
			"in_progress": h.Tasks.InProgress(),
		}
	}

	if h.Limiter != nil {
		resp["rate_limit"] = map[string]interface{}{
			"enabled": h.Limiter.Enabled,
		}
	}

	httputil.WriteJSON(w, http.StatusOK, resp)
}
