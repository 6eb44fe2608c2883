package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/poppopjmp/spiderfoot-sub008/internal/httputil"
	"github.com/poppopjmp/spiderfoot-sub008/internal/persistence"
)

func (h *handler) getReport(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	report, err := h.Store.Get(id)
	if err != nil {
		httputil.NotFound(w, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}

func (h *handler) listReports(w http.ResponseWriter, r *http.Request) {
	filters := persistence.Filters{
		ScanID: httputil.QueryString(r, "scan_id", ""),
		Status: httputil.QueryString(r, "status", ""),
		Type:   httputil.QueryString(r, "type", ""),
	}
	offset, limit := httputil.PaginationParams(r, 50, 500)

	reports, err := h.Store.List(filters, limit, offset)
	if err != nil {
		httputil.InternalError(w, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, reports)
}
