package alertengine

import (
	"sync"
	"time"

	"github.com/poppopjmp/spiderfoot-sub008/internal/errors"
	"github.com/poppopjmp/spiderfoot-sub008/internal/logging"
	"github.com/poppopjmp/spiderfoot-sub008/internal/metrics"
)

// Handler receives fired alerts. Panics are recovered and logged, never
// propagated to the caller of Evaluate.
type Handler func(alert Alert)

// Engine evaluates event contexts against registered rules and emits alerts.
type Engine struct {
	logger *logging.Logger
	m      *metrics.Metrics

	historyCap int

	mu    sync.RWMutex
	rules map[string]*Rule

	handlersMu sync.RWMutex
	handlers   []Handler

	historyMu sync.Mutex
	history   []Alert
}

// NewEngine builds an Engine that retains at most historyCap alerts.
func NewEngine(historyCap int, logger *logging.Logger, m *metrics.Metrics) *Engine {
	if historyCap <= 0 {
		historyCap = 1000
	}
	return &Engine{
		logger:     logger,
		m:          m,
		historyCap: historyCap,
		rules:      make(map[string]*Rule),
	}
}

// AddRule registers a rule. Rule names are unique; re-adding a name replaces
// the prior rule.
func (e *Engine) AddRule(rule *Rule) error {
	if rule.Name == "" {
		return errors.AlertRuleInvalid("", "name must not be empty")
	}
	if rule.Mode != MatchAny && rule.Mode != MatchAll {
		return errors.AlertRuleInvalid(rule.Name, "match mode must be any or all")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules[rule.Name] = rule
	return nil
}

// RemoveRule deletes a rule by name.
func (e *Engine) RemoveRule(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.rules, name)
}

// Rule returns a rule by name, or nil.
func (e *Engine) Rule(name string) *Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.rules[name]
}

// OnAlert registers a handler invoked for each fired alert.
func (e *Engine) OnAlert(h Handler) {
	e.handlersMu.Lock()
	e.handlers = append(e.handlers, h)
	e.handlersMu.Unlock()
}

// Evaluate runs ctx against every enabled rule, firing alerts for rules that
// match and are not gated by cooldown or quota.
func (e *Engine) Evaluate(ctx EventContext) []Alert {
	e.mu.RLock()
	rules := make([]*Rule, 0, len(e.rules))
	for _, r := range e.rules {
		rules = append(rules, r)
	}
	e.mu.RUnlock()

	var fired []Alert
	for _, rule := range rules {
		if alert, ok := e.evaluateRule(rule, ctx); ok {
			fired = append(fired, alert)
		}
	}
	return fired
}

func (e *Engine) evaluateRule(rule *Rule, ctx EventContext) (Alert, bool) {
	rule.mu.Lock()
	if !rule.Enabled {
		rule.mu.Unlock()
		return Alert{}, false
	}
	if rule.MaxAlerts > 0 && rule.alertCount >= rule.MaxAlerts {
		rule.mu.Unlock()
		return Alert{}, false
	}
	if rule.CooldownSeconds > 0 && !rule.lastAlertTime.IsZero() {
		elapsed := time.Since(rule.lastAlertTime).Seconds()
		if elapsed < rule.CooldownSeconds {
			rule.mu.Unlock()
			return Alert{}, false
		}
	}
	rule.mu.Unlock()

	if !rule.matches(ctx) {
		return Alert{}, false
	}

	rule.mu.Lock()
	rule.alertCount++
	rule.lastAlertTime = time.Now()
	message := rule.render(ctx)
	rule.mu.Unlock()

	alert := Alert{
		RuleName:  rule.Name,
		Severity:  rule.Severity,
		Message:   message,
		Timestamp: time.Now().UTC(),
		Context:   ctx,
	}

	e.appendHistory(alert)
	e.notify(alert)

	if e.m != nil {
		e.m.RecordAlertFired(rule.Name, string(rule.Severity))
	}

	return alert, true
}

func (e *Engine) notify(alert Alert) {
	e.handlersMu.RLock()
	handlers := append([]Handler(nil), e.handlers...)
	e.handlersMu.RUnlock()

	for _, h := range handlers {
		e.safeInvoke(h, alert)
	}
}

func (e *Engine) safeInvoke(h Handler, alert Alert) {
	defer func() {
		if r := recover(); r != nil && e.logger != nil {
			e.logger.WithFields(map[string]interface{}{
				"rule":  alert.RuleName,
				"panic": r,
			}).Error("alert handler panicked")
		}
	}()
	h(alert)
}

func (e *Engine) appendHistory(alert Alert) {
	e.historyMu.Lock()
	defer e.historyMu.Unlock()
	e.history = append(e.history, alert)
	if len(e.history) > e.historyCap {
		e.history = e.history[len(e.history)-e.historyCap:]
	}
}

// History returns the most recent alerts, oldest first.
func (e *Engine) History() []Alert {
	e.historyMu.Lock()
	defer e.historyMu.Unlock()
	out := make([]Alert, len(e.history))
	copy(out, e.history)
	return out
}

// Acknowledge marks the most recent alert for ruleName as acknowledged. It
// does not delete the alert. Returns false if no matching alert exists.
func (e *Engine) Acknowledge(ruleName string) bool {
	e.historyMu.Lock()
	defer e.historyMu.Unlock()
	for i := len(e.history) - 1; i >= 0; i-- {
		if e.history[i].RuleName == ruleName {
			e.history[i].Acknowledged = true
			return true
		}
	}
	return false
}

// AcknowledgeAll marks every alert in history as acknowledged.
func (e *Engine) AcknowledgeAll() {
	e.historyMu.Lock()
	defer e.historyMu.Unlock()
	for i := range e.history {
		e.history[i].Acknowledged = true
	}
}
