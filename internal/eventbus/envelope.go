// Package eventbus implements the topic-routed publish/subscribe fabric that
// connects scanner modules (producers) to correlation, persistence, and alert
// consumers.
package eventbus

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RootEventHash is the sentinel parent fingerprint for an envelope that has
// no parent event.
const RootEventHash = "ROOT"

// Envelope is the unit of pub/sub traffic. It is immutable after creation;
// callers that need to mutate metadata for their own bookkeeping should call
// Clone first.
type Envelope struct {
	ID              string                 `json:"id"`
	Topic           string                 `json:"topic"`
	ScanID          string                 `json:"scan_id"`
	EventType       string                 `json:"event_type"`
	Module          string                 `json:"module"`
	Data            interface{}            `json:"data"`
	SourceEventHash string                 `json:"source_event_hash"`
	Confidence      int                    `json:"confidence"`
	Visibility      int                    `json:"visibility"`
	Risk            int                    `json:"risk"`
	Timestamp       time.Time              `json:"timestamp"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
}

// NewEnvelope constructs an Envelope with a generated ID, a stamped
// timestamp, and a default sentinel parent hash.
func NewEnvelope(topic, scanID, eventType, module string, data interface{}) *Envelope {
	return &Envelope{
		ID:              uuid.New().String(),
		Topic:           topic,
		ScanID:          scanID,
		EventType:       eventType,
		Module:          module,
		Data:            data,
		SourceEventHash: RootEventHash,
		Timestamp:       time.Now().UTC(),
		Metadata:        make(map[string]interface{}),
	}
}

// Fingerprint returns a stable hash of (event_type, data, module), used to
// chain derived events back to the event that produced them.
func (e *Envelope) Fingerprint() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%v|%s", e.EventType, e.Data, e.Module)
	return hex.EncodeToString(h.Sum(nil))
}

// Clone returns an independent copy of the envelope, including a shallow
// copy of Metadata, so callers can annotate their own copy without mutating
// the one other subscribers received.
func (e *Envelope) Clone() *Envelope {
	clone := *e
	if e.Metadata != nil {
		clone.Metadata = make(map[string]interface{}, len(e.Metadata))
		for k, v := range e.Metadata {
			clone.Metadata[k] = v
		}
	}
	return &clone
}

// BuildTopic constructs the canonical "{prefix}.{scan_id}.{event_type}" topic
// string used throughout the fabric.
func BuildTopic(prefix, scanID, eventType string) string {
	if prefix == "" {
		return fmt.Sprintf("%s.%s", scanID, eventType)
	}
	return fmt.Sprintf("%s.%s.%s", prefix, scanID, eventType)
}
