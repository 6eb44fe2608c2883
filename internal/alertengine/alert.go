// Package alertengine evaluates event contexts against registered rules and
// emits alerts to registered handlers.
package alertengine

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Severity is the alert severity tier.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Operator is the comparison applied by a numeric or string condition.
type Operator string

const (
	OpGTE      Operator = "gte"
	OpLTE      Operator = "lte"
	OpGT       Operator = "gt"
	OpLT       Operator = "lt"
	OpEQ       Operator = "eq"
	OpContains Operator = "contains"
	OpMatches  Operator = "matches"
)

// ConditionKind tags which field of the event context a condition examines.
type ConditionKind string

const (
	KindEventType ConditionKind = "event_type"
	KindPattern   ConditionKind = "pattern"
	KindSeverity  ConditionKind = "severity"
	KindRate      ConditionKind = "rate"
	KindCount     ConditionKind = "count"
	KindCustom    ConditionKind = "custom"
)

// EventContext is the snapshot a rule evaluates against.
type EventContext struct {
	EventType string
	Data      interface{}
	Severity  float64
	Rate      float64
	Count     float64
	Fields    map[string]interface{}
}

// CustomFunc is the closure backing a KindCustom condition.
type CustomFunc func(ctx EventContext) bool

// Condition is a tagged union over condition kinds. Only the fields matching
// Kind are read.
type Condition struct {
	Kind     ConditionKind
	Operator Operator
	Value    interface{}
	Custom   CustomFunc
}

// Evaluate reports whether the condition is satisfied by ctx.
func (c Condition) Evaluate(ctx EventContext) bool {
	switch c.Kind {
	case KindEventType:
		value, _ := c.Value.(string)
		return ctx.EventType == value
	case KindPattern:
		pattern, ok := c.Value.(string)
		if !ok {
			return false
		}
		data, ok := ctx.Data.(string)
		if !ok {
			return false
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false
		}
		return re.MatchString(data)
	case KindSeverity:
		return compareNumeric(ctx.Severity, c.Value, c.Operator)
	case KindRate:
		return compareNumeric(ctx.Rate, c.Value, c.Operator)
	case KindCount:
		return compareNumeric(ctx.Count, c.Value, c.Operator)
	case KindCustom:
		if c.Custom == nil {
			return false
		}
		return c.Custom(ctx)
	default:
		return false
	}
}

func compareNumeric(actual float64, want interface{}, op Operator) bool {
	target, ok := toFloat(want)
	if !ok {
		return false
	}
	switch op {
	case OpGTE:
		return actual >= target
	case OpLTE:
		return actual <= target
	case OpGT:
		return actual > target
	case OpLT:
		return actual < target
	case OpEQ:
		return actual == target
	case OpContains:
		return strings.Contains(fmt.Sprint(actual), fmt.Sprint(want))
	case OpMatches:
		re, err := regexp.Compile(fmt.Sprint(want))
		if err != nil {
			return false
		}
		return re.MatchString(fmt.Sprint(actual))
	default:
		return false
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// MatchMode combines multiple conditions.
type MatchMode string

const (
	MatchAny MatchMode = "any"
	MatchAll MatchMode = "all"
)

// Rule is a named predicate-plus-metadata that may emit Alerts.
type Rule struct {
	Name            string
	Severity        Severity
	MessageTemplate string
	Conditions      []Condition
	Mode            MatchMode
	CooldownSeconds float64
	MaxAlerts       int // 0 = unbounded
	Enabled         bool

	mu            sync.Mutex
	alertCount    int
	lastAlertTime time.Time
}

// Alert is a triggered instance of a Rule.
type Alert struct {
	RuleName     string
	Severity     Severity
	Message      string
	Timestamp    time.Time
	Context      EventContext
	Acknowledged bool
}

// matches combines the rule's conditions per its MatchMode.
func (r *Rule) matches(ctx EventContext) bool {
	if len(r.Conditions) == 0 {
		return false
	}
	if r.Mode == MatchAny {
		for _, c := range r.Conditions {
			if c.Evaluate(ctx) {
				return true
			}
		}
		return false
	}
	for _, c := range r.Conditions {
		if !c.Evaluate(ctx) {
			return false
		}
	}
	return true
}

// render interpolates {placeholder} tokens from ctx.Fields into the message
// template. A missing key collapses silently, leaving the raw placeholder in
// place.
func (r *Rule) render(ctx EventContext) string {
	msg := r.MessageTemplate
	for key, val := range ctx.Fields {
		token := "{" + key + "}"
		if strings.Contains(msg, token) {
			msg = strings.ReplaceAll(msg, token, fmt.Sprint(val))
		}
	}
	return msg
}
