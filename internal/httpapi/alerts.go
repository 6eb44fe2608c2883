package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/poppopjmp/spiderfoot-sub008/internal/httputil"
)

func (h *handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.Alerts.History())
}

func (h *handler) acknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	rule := mux.Vars(r)["rule"]
	if !h.Alerts.Acknowledge(rule) {
		httputil.NotFound(w, "no alert for rule")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) acknowledgeAllAlerts(w http.ResponseWriter, r *http.Request) {
	h.Alerts.AcknowledgeAll()
	w.WriteHeader(http.StatusNoContent)
}
