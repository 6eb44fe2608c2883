package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/poppopjmp/spiderfoot-sub008/internal/errors"
	"github.com/poppopjmp/spiderfoot-sub008/internal/httputil"
	"github.com/poppopjmp/spiderfoot-sub008/internal/taskmanager"
)

type submitTaskRequest struct {
	ID       string                 `json:"id"`
	Type     string                 `json:"type"`
	Metadata map[string]interface{} `json:"metadata"`
}

// submitTask looks up the requested task type in TaskFuncs and hands it to
// the task manager. The registry is populated by the embedding application;
// this layer has no domain-specific work of its own to run.
func (h *handler) submitTask(w http.ResponseWriter, r *http.Request) {
	var req submitTaskRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.ID == "" || req.Type == "" {
		httputil.BadRequest(w, "id and type are required")
		return
	}

	fn, ok := h.TaskFuncs[req.Type]
	if !ok {
		httputil.WriteErrorResponse(w, r, http.StatusBadRequest, "", "unknown task type", map[string]any{"type": req.Type})
		return
	}

	if err := h.Tasks.Submit(req.ID, taskmanager.TaskType(req.Type), fn, req.Metadata); err != nil {
		httputil.Conflict(w, err.Error())
		return
	}

	rec, err := h.Tasks.Get(req.ID)
	if err != nil {
		httputil.InternalError(w, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, rec)
}

func (h *handler) getTask(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, err := h.Tasks.Get(id)
	if err != nil {
		if svcErr, ok := err.(*errors.ServiceError); ok {
			httputil.WriteErrorResponse(w, r, svcErr.HTTPStatus, string(svcErr.Code), svcErr.Message, svcErr.Details)
			return
		}
		httputil.NotFound(w, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rec)
}

func (h *handler) listTasks(w http.ResponseWriter, r *http.Request) {
	state := taskmanager.TaskState(httputil.QueryString(r, "state", ""))
	taskType := taskmanager.TaskType(httputil.QueryString(r, "type", ""))
	limit := httputil.QueryInt(r, "limit", 100)

	records := h.Tasks.List(state, taskType, limit)
	httputil.WriteJSON(w, http.StatusOK, records)
}

func (h *handler) cancelTask(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !h.Tasks.Cancel(id) {
		httputil.Conflict(w, "task is not cancellable")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
