package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/google/uuid"

	"github.com/poppopjmp/spiderfoot-sub008/internal/httputil"
	"github.com/poppopjmp/spiderfoot-sub008/internal/webhook"
)

type registerWebhookRequest struct {
	URL         string            `json:"url"`
	Secret      string            `json:"secret"`
	EventFilter []string          `json:"event_filter"`
	Headers     map[string]string `json:"headers"`
	Enabled     *bool             `json:"enabled"`
	TimeoutMS   int               `json:"timeout_ms"`
	MaxRetries  int               `json:"max_retries"`
	Description string            `json:"description"`
}

func (h *handler) registerWebhook(w http.ResponseWriter, r *http.Request) {
	var req registerWebhookRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.URL == "" {
		httputil.BadRequest(w, "url is required")
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	timeout := time.Duration(req.TimeoutMS) * time.Millisecond

	cfg := webhook.Config{
		ID:          uuid.New().String(),
		URL:         req.URL,
		Secret:      req.Secret,
		EventFilter: req.EventFilter,
		Headers:     req.Headers,
		Enabled:     enabled,
		Timeout:     timeout,
		MaxRetries:  req.MaxRetries,
		Description: req.Description,
	}
	h.Notifications.Register(cfg)
	httputil.WriteJSON(w, http.StatusCreated, cfg)
}

func (h *handler) listWebhooks(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.Notifications.List())
}

func (h *handler) unregisterWebhook(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	h.Notifications.Unregister(id)
	w.WriteHeader(http.StatusNoContent)
}

// webhookDeliveries surfaces recent delivery attempts via the dispatcher the
// notification manager shares across every registered webhook.
func (h *handler) webhookDeliveries(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.Notifications.Dispatcher().History())
}
