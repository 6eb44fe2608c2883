package alertengine

import (
	"testing"
	"time"
)

func TestAlertRuleCooldown(t *testing.T) {
	engine := NewEngine(100, nil, nil)
	rule := &Rule{
		Name:            "high-risk-ip",
		Severity:        SeverityMedium,
		MessageTemplate: "risk event for {event_type}",
		Mode:            MatchAll,
		CooldownSeconds: 1.0,
		Enabled:         true,
		Conditions: []Condition{
			{Kind: KindEventType, Value: "IP_ADDRESS"},
			{Kind: KindSeverity, Operator: OpGTE, Value: 50.0},
		},
	}
	if err := engine.AddRule(rule); err != nil {
		t.Fatalf("add rule: %v", err)
	}

	ctx := EventContext{EventType: "IP_ADDRESS", Severity: 60, Fields: map[string]interface{}{"event_type": "IP_ADDRESS"}}

	fired := engine.Evaluate(ctx)
	if len(fired) != 1 {
		t.Fatalf("expected first evaluation to fire, got %d alerts", len(fired))
	}

	fired = engine.Evaluate(ctx)
	if len(fired) != 0 {
		t.Fatalf("expected second evaluation within cooldown to be suppressed, got %d", len(fired))
	}

	time.Sleep(1100 * time.Millisecond)

	fired = engine.Evaluate(ctx)
	if len(fired) != 1 {
		t.Fatalf("expected third evaluation after cooldown to fire, got %d", len(fired))
	}
}

func TestMaxAlertsQuota(t *testing.T) {
	engine := NewEngine(10, nil, nil)
	rule := &Rule{
		Name:       "quota",
		Severity:   SeverityLow,
		Mode:       MatchAny,
		MaxAlerts:  2,
		Enabled:    true,
		Conditions: []Condition{{Kind: KindEventType, Value: "DOMAIN_NAME"}},
	}
	if err := engine.AddRule(rule); err != nil {
		t.Fatalf("add rule: %v", err)
	}

	ctx := EventContext{EventType: "DOMAIN_NAME"}
	for i := 0; i < 2; i++ {
		if fired := engine.Evaluate(ctx); len(fired) != 1 {
			t.Fatalf("iteration %d: expected alert to fire", i)
		}
	}
	if fired := engine.Evaluate(ctx); len(fired) != 0 {
		t.Fatal("expected quota to suppress the third alert")
	}
}

func TestMessageTemplateMissingKeyCollapsesSilently(t *testing.T) {
	engine := NewEngine(10, nil, nil)
	rule := &Rule{
		Name:            "tmpl",
		Severity:        SeverityInfo,
		MessageTemplate: "seen {event_type} with {missing_key}",
		Mode:            MatchAny,
		Enabled:         true,
		Conditions:      []Condition{{Kind: KindEventType, Value: "IP_ADDRESS"}},
	}
	if err := engine.AddRule(rule); err != nil {
		t.Fatalf("add rule: %v", err)
	}

	var got Alert
	engine.OnAlert(func(a Alert) { got = a })

	ctx := EventContext{EventType: "IP_ADDRESS", Fields: map[string]interface{}{"event_type": "IP_ADDRESS"}}
	if fired := engine.Evaluate(ctx); len(fired) != 1 {
		t.Fatal("expected rule to fire")
	}
	if got.Message != "seen IP_ADDRESS with {missing_key}" {
		t.Fatalf("expected missing key to collapse silently, got %q", got.Message)
	}
}

func TestMatchAnyFiresOnOneMatchingCondition(t *testing.T) {
	engine := NewEngine(10, nil, nil)
	anyRule := &Rule{
		Name:    "any",
		Mode:    MatchAny,
		Enabled: true,
		Conditions: []Condition{
			{Kind: KindEventType, Value: "NEVER_MATCHES"},
			{Kind: KindSeverity, Operator: OpGTE, Value: 10.0},
		},
	}
	if err := engine.AddRule(anyRule); err != nil {
		t.Fatalf("add any rule: %v", err)
	}

	ctx := EventContext{EventType: "IP_ADDRESS", Severity: 20}
	if fired := engine.Evaluate(ctx); len(fired) != 1 {
		t.Fatal("expected match_any to fire when only one condition matches")
	}
}

func TestAcknowledge(t *testing.T) {
	engine := NewEngine(10, nil, nil)
	rule := &Rule{
		Name:       "ack",
		Mode:       MatchAny,
		Enabled:    true,
		Conditions: []Condition{{Kind: KindEventType, Value: "IP_ADDRESS"}},
	}
	if err := engine.AddRule(rule); err != nil {
		t.Fatalf("add rule: %v", err)
	}
	engine.Evaluate(EventContext{EventType: "IP_ADDRESS"})

	if !engine.Acknowledge("ack") {
		t.Fatal("expected acknowledge to find the alert")
	}
	history := engine.History()
	if len(history) != 1 || !history[0].Acknowledged {
		t.Fatal("expected history entry to remain and be acknowledged")
	}
}
