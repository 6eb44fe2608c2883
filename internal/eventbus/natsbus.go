package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/poppopjmp/spiderfoot-sub008/internal/logging"
)

// NATSBusConfig configures the NATS JetStream backend.
type NATSBusConfig struct {
	URL        string
	Prefix     string // subject prefix, "{prefix}.{topic}"
	StreamName string
	AckWait    time.Duration
}

// natsWireEnvelope is the JSON payload shape published to JetStream subjects,
// matching spec.md §6's "single JSON object with the same keys" format.
type natsWireEnvelope struct {
	ID              string                 `json:"id"`
	ScanID          string                 `json:"scan_id"`
	EventType       string                 `json:"event_type"`
	Module          string                 `json:"module"`
	Data            interface{}            `json:"data"`
	SourceEventHash string                 `json:"source_event_hash"`
	Confidence      int                    `json:"confidence"`
	Visibility      int                    `json:"visibility"`
	Risk            int                    `json:"risk"`
	Timestamp       int64                  `json:"timestamp"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
}

// NATSBus is the NATS JetStream Bus backend. Publish sends to subject
// "{prefix}.{topic}"; subscriptions use durable consumers with manual
// acknowledgement, negatively acknowledging on handler failure to trigger
// redelivery.
type NATSBus struct {
	cfg    NATSBusConfig
	conn   *nats.Conn
	js     nats.JetStreamContext
	logger *logging.Logger

	mu            sync.RWMutex
	connected     bool
	subscriptions map[string]*nats.Subscription
}

// NewNATSBus creates a NATS JetStream bus from connection settings.
func NewNATSBus(cfg NATSBusConfig, logger *logging.Logger) *NATSBus {
	if cfg.Prefix == "" {
		cfg.Prefix = "spiderfoot"
	}
	if cfg.StreamName == "" {
		cfg.StreamName = "SPIDERFOOT_EVENTS"
	}
	if cfg.AckWait <= 0 {
		cfg.AckWait = 30 * time.Second
	}
	return &NATSBus{
		cfg:           cfg,
		logger:        logger,
		subscriptions: make(map[string]*nats.Subscription),
	}
}

func (b *NATSBus) subject(topic string) string {
	return fmt.Sprintf("%s.%s", b.cfg.Prefix, topic)
}

// Connect dials the NATS server, ensures the backing stream exists, and
// marks the bus connected. Idempotent.
func (b *NATSBus) Connect(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.connected {
		return nil
	}

	conn, err := nats.Connect(b.cfg.URL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}

	if _, err := js.StreamInfo(b.cfg.StreamName); err != nil {
		_, err = js.AddStream(&nats.StreamConfig{
			Name:     b.cfg.StreamName,
			Subjects: []string{b.cfg.Prefix + ".>"},
		})
		if err != nil {
			conn.Close()
			return fmt.Errorf("%w: %v", ErrTransport, err)
		}
	}

	b.conn = conn
	b.js = js
	b.connected = true
	return nil
}

// Disconnect unsubscribes every durable consumer and closes the connection.
// Idempotent.
func (b *NATSBus) Disconnect(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return nil
	}
	for _, sub := range b.subscriptions {
		_ = sub.Unsubscribe()
	}
	b.subscriptions = make(map[string]*nats.Subscription)
	if b.conn != nil {
		b.conn.Close()
	}
	b.connected = false
	return nil
}

// Publish sends envelope to subject "{prefix}.{topic}".
func (b *NATSBus) Publish(_ context.Context, envelope *Envelope) (bool, error) {
	b.mu.RLock()
	connected, js := b.connected, b.js
	b.mu.RUnlock()
	if !connected {
		return false, ErrNotConnected
	}

	wire := natsWireEnvelope{
		ID:              envelope.ID,
		ScanID:          envelope.ScanID,
		EventType:       envelope.EventType,
		Module:          envelope.Module,
		Data:            envelope.Data,
		SourceEventHash: envelope.SourceEventHash,
		Confidence:      envelope.Confidence,
		Visibility:      envelope.Visibility,
		Risk:            envelope.Risk,
		Timestamp:       envelope.Timestamp.Unix(),
		Metadata:        envelope.Metadata,
	}

	payload, err := json.Marshal(wire)
	if err != nil {
		return false, err
	}

	if _, err := js.Publish(b.subject(envelope.Topic), payload); err != nil {
		return false, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	return true, nil
}

// Subscribe creates a durable JetStream push consumer bound to
// "{prefix}.{pattern}" — like the Redis backend, remote wildcard routing is
// resolved by the caller to a concrete subject since JetStream durable
// consumers bind one subject filter.
func (b *NATSBus) Subscribe(_ context.Context, pattern string, handler EventHandler) (string, error) {
	b.mu.Lock()
	if !b.connected {
		b.mu.Unlock()
		return "", ErrNotConnected
	}
	js := b.js
	b.mu.Unlock()

	id := uuid.New().String()
	durable := "durable-" + id

	sub, err := js.Subscribe(b.subject(pattern), func(msg *nats.Msg) {
		var wire natsWireEnvelope
		if err := json.Unmarshal(msg.Data, &wire); err != nil {
			_ = msg.Nak()
			return
		}
		envelope := &Envelope{
			ID:              wire.ID,
			Topic:           pattern,
			ScanID:          wire.ScanID,
			EventType:       wire.EventType,
			Module:          wire.Module,
			Data:            wire.Data,
			SourceEventHash: wire.SourceEventHash,
			Confidence:      wire.Confidence,
			Visibility:      wire.Visibility,
			Risk:            wire.Risk,
			Timestamp:       time.Unix(wire.Timestamp, 0).UTC(),
			Metadata:        wire.Metadata,
		}

		func() {
			defer func() {
				if r := recover(); r != nil {
					_ = msg.Nak()
					if b.logger != nil {
						b.logger.WithFields(map[string]interface{}{
							"subscription_id": id,
							"panic":           r,
						}).Error("nats subscriber handler panicked")
					}
				}
			}()
			handler(context.Background(), envelope)
			_ = msg.Ack()
		}()
	}, nats.Durable(durable), nats.ManualAck(), nats.AckWait(b.cfg.AckWait))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTransport, err)
	}

	b.mu.Lock()
	b.subscriptions[id] = sub
	b.mu.Unlock()

	return id, nil
}

// Unsubscribe tears down the durable consumer. Idempotent.
func (b *NATSBus) Unsubscribe(_ context.Context, subscriptionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub, ok := b.subscriptions[subscriptionID]
	if !ok {
		return nil
	}
	_ = sub.Unsubscribe()
	delete(b.subscriptions, subscriptionID)
	return nil
}
