package webhook

import (
	"context"
	"sync"

	"github.com/poppopjmp/spiderfoot-sub008/internal/logging"
	"github.com/poppopjmp/spiderfoot-sub008/internal/metrics"
)

// NotificationManager holds the set of webhook Configs and brokers event
// notifications across the ones whose filter matches.
type NotificationManager struct {
	dispatcher *Dispatcher
	logger     *logging.Logger

	mu       sync.RWMutex
	webhooks map[string]Config
}

// NewNotificationManager builds a manager sharing dispatcher across every
// registered webhook.
func NewNotificationManager(dispatcher *Dispatcher, logger *logging.Logger) *NotificationManager {
	return &NotificationManager{
		dispatcher: dispatcher,
		logger:     logger,
		webhooks:   make(map[string]Config),
	}
}

// Register adds or replaces a webhook configuration.
func (n *NotificationManager) Register(cfg Config) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.webhooks[cfg.ID] = cfg
}

// Unregister removes a webhook configuration.
func (n *NotificationManager) Unregister(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.webhooks, id)
}

// Dispatcher returns the shared dispatcher backing every registered webhook,
// used by callers that need delivery history rather than notification
// fan-out.
func (n *NotificationManager) Dispatcher() *Dispatcher {
	return n.dispatcher
}

// List returns a snapshot of every registered webhook.
func (n *NotificationManager) List() []Config {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]Config, 0, len(n.webhooks))
	for _, cfg := range n.webhooks {
		out = append(out, cfg)
	}
	return out
}

// Notify snapshots enabled webhooks whose filter matches eventType and
// delivers payload to each, returning the resulting delivery records.
func (n *NotificationManager) Notify(ctx context.Context, eventType string, payload interface{}) []*DeliveryRecord {
	n.mu.RLock()
	var targets []Config
	for _, cfg := range n.webhooks {
		if cfg.Enabled && cfg.Matches(eventType) {
			targets = append(targets, cfg)
		}
	}
	n.mu.RUnlock()

	records := make([]*DeliveryRecord, 0, len(targets))
	for _, cfg := range targets {
		records = append(records, n.dispatcher.Deliver(ctx, cfg, eventType, payload))
	}
	return records
}

// NotifyAsync fires deliveries on a background goroutine and discards the
// result; callers that need the delivery records should use Notify.
func (n *NotificationManager) NotifyAsync(ctx context.Context, eventType string, payload interface{}) {
	go func() {
		defer func() {
			if r := recover(); r != nil && n.logger != nil {
				n.logger.WithFields(map[string]interface{}{
					"event_type": eventType,
					"panic":      r,
				}).Error("async webhook notification panicked")
			}
		}()
		n.Notify(context.WithoutCancel(ctx), eventType, payload)
	}()
}

// WireTaskManager returns a function that turns a terminal task, given as
// its id, type, state and result, into an asynchronous "task.{state}"
// notification. It is not a taskmanager.CompletionCallback itself; the
// caller adapts it (cmd/eventfabric does).
func (n *NotificationManager) WireTaskManager() func(taskID, taskType, state string, result interface{}) {
	return func(taskID, taskType, state string, result interface{}) {
		n.NotifyAsync(context.Background(), "task."+state, map[string]interface{}{
			"task_id":   taskID,
			"task_type": taskType,
			"state":     state,
			"result":    result,
		})
	}
}

// WireAlertEngine returns a function that turns an alert, given as its rule
// name, severity and message, into an asynchronous "alert.{severity}"
// notification. It is not an alertengine.Handler itself; the caller adapts
// it (cmd/eventfabric does).
func (n *NotificationManager) WireAlertEngine() func(ruleName, severity, message string) {
	return func(ruleName, severity, message string) {
		n.NotifyAsync(context.Background(), "alert."+severity, map[string]interface{}{
			"rule":     ruleName,
			"severity": severity,
			"message":  message,
		})
	}
}
