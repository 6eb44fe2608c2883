package httpapi

import (
	"net/http"

	"github.com/poppopjmp/spiderfoot-sub008/internal/eventbus"
	"github.com/poppopjmp/spiderfoot-sub008/internal/httputil"
)

type publishEventRequest struct {
	ScanID    string      `json:"scan_id"`
	EventType string      `json:"event_type"`
	Module    string      `json:"module"`
	Data      interface{} `json:"data"`
}

// publishEvent injects a test event onto the bus under the configured topic
// prefix, exercising the same Publish path real scanner modules use.
func (h *handler) publishEvent(w http.ResponseWriter, r *http.Request) {
	if h.Bus == nil {
		httputil.ServiceUnavailable(w, "event bus not configured")
		return
	}

	var req publishEventRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.ScanID == "" || req.EventType == "" {
		httputil.BadRequest(w, "scan_id and event_type are required")
		return
	}
	if req.Module == "" {
		req.Module = "httpapi"
	}

	topic := eventbus.BuildTopic(h.TopicPrefix, req.ScanID, req.EventType)
	envelope := eventbus.NewEnvelope(topic, req.ScanID, req.EventType, req.Module, req.Data)

	delivered, err := h.Bus.Publish(r.Context(), envelope)
	if err != nil {
		httputil.ServiceUnavailable(w, err.Error())
		return
	}

	httputil.WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"id":        envelope.ID,
		"topic":     topic,
		"delivered": delivered,
	})
}
