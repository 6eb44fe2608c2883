// Package httpapi exposes thin gorilla/mux adapter shells over the event
// fabric's core components: submit/query tasks, register/list webhooks,
// list/ack alerts, publish test events, and read bus/task/rate-limit/health
// status. This layer carries no invariants of its own beyond propagating the
// request-correlation headers internal/correlation already establishes.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/poppopjmp/spiderfoot-sub008/internal/alertengine"
	"github.com/poppopjmp/spiderfoot-sub008/internal/correlation"
	"github.com/poppopjmp/spiderfoot-sub008/internal/eventbus"
	"github.com/poppopjmp/spiderfoot-sub008/internal/logging"
	"github.com/poppopjmp/spiderfoot-sub008/internal/metrics"
	appmiddleware "github.com/poppopjmp/spiderfoot-sub008/internal/middleware"
	"github.com/poppopjmp/spiderfoot-sub008/internal/persistence"
	"github.com/poppopjmp/spiderfoot-sub008/internal/ratelimiter"
	"github.com/poppopjmp/spiderfoot-sub008/internal/taskmanager"
	"github.com/poppopjmp/spiderfoot-sub008/internal/webhook"
)

// Deps bundles the core components the API surface adapts. Bus, Limiter and
// Store may be left nil: a nil Limiter disables rate limiting, a nil Bus
// makes /events answer 503 and drops the bus from /status and /healthz, and
// a nil Store leaves the /reports routes unregistered. Tasks, Alerts and
// Notifications must be set; their handlers call them without a nil check.
type Deps struct {
	Tasks         *taskmanager.Manager
	TaskFuncs     map[string]taskmanager.TaskFunc
	Alerts        *alertengine.Engine
	Limiter       *ratelimiter.Limiter
	Notifications *webhook.NotificationManager
	Bus           *eventbus.Resilient
	TopicPrefix   string
	Store         persistence.Store

	Logger  *logging.Logger
	Metrics *metrics.Metrics
	Version string

	// SlowRequestThreshold is forwarded to correlation.Middleware.
	SlowRequestThreshold time.Duration
}

// handler closes over Deps; every file in this package adds methods to it.
type handler struct {
	Deps
	health *appmiddleware.HealthChecker
}

// NewRouter builds the complete HTTP surface: recovery, metrics (when
// Metrics is set), correlation, and per-client rate-limit middleware, in
// that order, wrapping the adapter shells below.
func NewRouter(deps Deps) http.Handler {
	h := &handler{Deps: deps, health: appmiddleware.NewHealthChecker(deps.Version)}
	if h.Bus != nil {
		h.health.RegisterCheck("eventbus", func() error {
			if health := h.Bus.Health(); health.State == eventbus.HealthUnhealthy {
				return errUnhealthyBus
			}
			return nil
		})
	}

	router := mux.NewRouter()
	router.Use(appmiddleware.NewRecoveryMiddleware(deps.Logger).Handler)
	if deps.Metrics != nil {
		router.Use(appmiddleware.MetricsMiddleware("httpapi", deps.Metrics))
	}
	router.Use(correlation.Middleware(deps.Logger, deps.SlowRequestThreshold))
	router.Use(h.rateLimit)

	router.HandleFunc("/healthz", h.health.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/livez", appmiddleware.LivenessHandler()).Methods(http.MethodGet)
	router.HandleFunc("/status", h.status).Methods(http.MethodGet)

	tasks := router.PathPrefix("/tasks").Subrouter()
	tasks.HandleFunc("", h.submitTask).Methods(http.MethodPost)
	tasks.HandleFunc("", h.listTasks).Methods(http.MethodGet)
	tasks.HandleFunc("/{id}", h.getTask).Methods(http.MethodGet)
	tasks.HandleFunc("/{id}", h.cancelTask).Methods(http.MethodDelete)

	webhooks := router.PathPrefix("/webhooks").Subrouter()
	webhooks.HandleFunc("", h.registerWebhook).Methods(http.MethodPost)
	webhooks.HandleFunc("", h.listWebhooks).Methods(http.MethodGet)
	webhooks.HandleFunc("/{id}", h.unregisterWebhook).Methods(http.MethodDelete)
	webhooks.HandleFunc("/deliveries", h.webhookDeliveries).Methods(http.MethodGet)

	alerts := router.PathPrefix("/alerts").Subrouter()
	alerts.HandleFunc("", h.listAlerts).Methods(http.MethodGet)
	alerts.HandleFunc("/ack", h.acknowledgeAllAlerts).Methods(http.MethodPost)
	alerts.HandleFunc("/{rule}/ack", h.acknowledgeAlert).Methods(http.MethodPost)

	router.HandleFunc("/events", h.publishEvent).Methods(http.MethodPost)

	if h.Store != nil {
		reports := router.PathPrefix("/reports").Subrouter()
		reports.HandleFunc("", h.listReports).Methods(http.MethodGet)
		reports.HandleFunc("/{id}", h.getReport).Methods(http.MethodGet)
	}

	return router
}
