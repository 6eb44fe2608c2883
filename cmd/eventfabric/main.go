// Command eventfabric runs the runtime event fabric: the pub/sub bus, task
// manager, alert engine, rate limiter, webhook dispatcher, and persistence
// layer, fronted by the internal/httpapi adapter shells.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/poppopjmp/spiderfoot-sub008/internal/alertengine"
	"github.com/poppopjmp/spiderfoot-sub008/internal/config"
	"github.com/poppopjmp/spiderfoot-sub008/internal/eventbus"
	"github.com/poppopjmp/spiderfoot-sub008/internal/httpapi"
	"github.com/poppopjmp/spiderfoot-sub008/internal/logging"
	"github.com/poppopjmp/spiderfoot-sub008/internal/metrics"
	appmiddleware "github.com/poppopjmp/spiderfoot-sub008/internal/middleware"
	"github.com/poppopjmp/spiderfoot-sub008/internal/persistence"
	"github.com/poppopjmp/spiderfoot-sub008/internal/ratelimiter"
	"github.com/poppopjmp/spiderfoot-sub008/internal/taskmanager"
	"github.com/poppopjmp/spiderfoot-sub008/internal/webhook"

	"github.com/jmoiron/sqlx"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address (defaults to config or :8080)")
	configPath := flag.String("config", "", "path to a YAML configuration file")
	flag.Parse()

	var cfg *config.Config
	var err error
	if trimmed := strings.TrimSpace(*configPath); trimmed != "" {
		cfg, err = config.LoadFile(trimmed)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := logging.New("eventfabric", cfg.Logging.Level, cfg.Logging.Format)
	var m *metrics.Metrics
	if metrics.Enabled() {
		m = metrics.Init("eventfabric")
	}

	bus, err := buildBus(cfg, logger, m)
	if err != nil {
		log.Fatalf("build event bus: %v", err)
	}
	rootCtx := context.Background()
	if err := bus.Connect(rootCtx); err != nil {
		log.Fatalf("connect event bus: %v", err)
	}

	tasks := taskmanager.NewManager(taskmanager.DefaultConfig(), logger, m)
	alerts := alertengine.NewEngine(1000, logger, m)
	limiter := ratelimiter.New(ratelimiter.Config{
		Requests: 100,
		Window:   time.Minute,
	}, "@every 5m", time.Hour, logger, m)
	if !cfg.RateLimit.Enabled {
		limiter.Enabled = false
	}

	dispatcher := webhook.NewDispatcher(cfg.Webhook.HistoryCap, logger, m)
	notifications := webhook.NewNotificationManager(dispatcher, logger)

	// The task manager's CompletionCallback and the alert engine's Handler
	// each carry more context than the notification manager's generic wire
	// functions take, so each is adapted here rather than in the webhook
	// package, which has no knowledge of either domain type.
	taskNotify := notifications.WireTaskManager()
	tasks.OnTaskComplete(func(rec *taskmanager.TaskRecord) {
		taskNotify(rec.ID, string(rec.Type), string(rec.State), rec.Result)
	})
	alertNotify := notifications.WireAlertEngine()
	alerts.OnAlert(func(alert alertengine.Alert) {
		alertNotify(alert.RuleName, string(alert.Severity), alert.Message)
	})

	store, closeStore := buildStore(cfg, logger)
	if closeStore != nil {
		defer closeStore()
	}

	router := httpapi.NewRouter(httpapi.Deps{
		Tasks:                tasks,
		TaskFuncs:            map[string]taskmanager.TaskFunc{},
		Alerts:               alerts,
		Limiter:              limiter,
		Notifications:        notifications,
		Bus:                  bus,
		TopicPrefix:          cfg.Bus.Prefix,
		Store:                store,
		Logger:               logger,
		Metrics:              m,
		Version:              "dev",
		SlowRequestThreshold: 2 * time.Second,
	})

	listenAddr := ":8080"
	if trimmed := strings.TrimSpace(*addr); trimmed != "" {
		listenAddr = trimmed
	} else if cfg.Server.Port != 0 {
		host := cfg.Server.Host
		if host == "" {
			host = "0.0.0.0"
		}
		listenAddr = host + ":" + strconv.Itoa(cfg.Server.Port)
	}

	server := &http.Server{
		Addr:    listenAddr,
		Handler: router,
	}

	shutdown := appmiddleware.NewGracefulShutdown(server, 10*time.Second, logger)
	shutdown.OnShutdown("rate limiter", limiter.Shutdown)
	shutdown.OnShutdown("task manager", tasks.Shutdown)
	shutdown.OnShutdown("event bus", func() {
		if err := bus.Disconnect(context.Background()); err != nil {
			logger.WithError(err).Warn("event bus disconnect failed")
		}
	})
	shutdown.ListenForSignals()

	logger.Info(rootCtx, "event fabric listening", map[string]interface{}{"addr": listenAddr})
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("listen: %v", err)
	}
	shutdown.Wait()
}

func buildBus(cfg *config.Config, logger *logging.Logger, m *metrics.Metrics) (*eventbus.Resilient, error) {
	var inner eventbus.Bus

	switch strings.ToLower(cfg.Bus.Backend) {
	case "redis":
		redisBus, err := eventbus.NewRedisBus(eventbus.RedisBusConfig{
			URL:    cfg.Bus.RedisURL,
			Prefix: cfg.Bus.Prefix,
		}, logger)
		if err != nil {
			return nil, err
		}
		inner = redisBus
	case "nats":
		inner = eventbus.NewNATSBus(eventbus.NATSBusConfig{
			URL:        cfg.Bus.NATSURL,
			Prefix:     cfg.Bus.Prefix,
			StreamName: cfg.Bus.NATSStreamName,
		}, logger)
	default:
		inner = eventbus.NewMemoryBus(logger, 0)
	}

	resilientCfg := eventbus.DefaultResilientConfig(cfg.Bus.Backend, logger)
	if cfg.Bus.HealthCheckInterval > 0 {
		resilientCfg.HealthCheckInterval = cfg.Bus.HealthCheckInterval
	}
	return eventbus.NewResilient(inner, resilientCfg, logger, m), nil
}

// buildStore picks the SQL-backed store fronted by an LRU cache when a DSN is
// configured, falling back to an in-memory store for local runs. The
// returned closer is nil when there is nothing to release.
func buildStore(cfg *config.Config, logger *logging.Logger) (persistence.Store, func()) {
	dsn := strings.TrimSpace(cfg.Database.DSN)
	if dsn == "" {
		return persistence.NewMemoryStore(), nil
	}

	db, err := sqlx.Connect(cfg.Database.Driver, dsn)
	if err != nil {
		logger.WithError(err).Warn("connect to database failed, falling back to in-memory store")
		return persistence.NewMemoryStore(), nil
	}
	if cfg.Database.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	}
	if cfg.Database.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	}

	sqlStore, err := persistence.NewSQLStore(db)
	if err != nil {
		logger.WithError(err).Warn("apply reports schema failed, falling back to in-memory store")
		db.Close()
		return persistence.NewMemoryStore(), nil
	}

	cached, err := persistence.NewCachedStore(sqlStore, 1000, 5*time.Minute)
	if err != nil {
		logger.WithError(err).Warn("build cached store failed, using uncached SQL store")
		return sqlStore, func() { db.Close() }
	}
	return cached, func() { db.Close() }
}
