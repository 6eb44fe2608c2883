package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/poppopjmp/spiderfoot-sub008/internal/logging"
)

// RedisBusConfig configures the Redis Streams backend.
type RedisBusConfig struct {
	URL          string
	Prefix       string // stream key prefix, "{prefix}:{topic}"
	MaxStreamLen int64  // capped stream length, 0 uses a default
	ReadTimeout  time.Duration
	ConsumerName string
}

// RedisBus is the Redis Streams Bus backend. Publish appends to a capped
// stream; each subscription joins a consumer group and a background reader
// performs blocking XREADGROUP calls, invokes the callback, and
// acknowledges on success.
type RedisBus struct {
	cfg    RedisBusConfig
	client *redis.Client
	logger *logging.Logger

	mu            sync.RWMutex
	connected     bool
	subscriptions map[string]*redisSubscription
}

type redisSubscription struct {
	id      string
	pattern string
	stream  string
	group   string
	cancel  context.CancelFunc
}

// NewRedisBus creates a Redis Streams bus from connection settings.
func NewRedisBus(cfg RedisBusConfig, logger *logging.Logger) (*RedisBus, error) {
	if cfg.Prefix == "" {
		cfg.Prefix = "spiderfoot"
	}
	if cfg.MaxStreamLen <= 0 {
		cfg.MaxStreamLen = 10000
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 5 * time.Second
	}
	if cfg.ConsumerName == "" {
		cfg.ConsumerName = "consumer-" + uuid.New().String()
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	return &RedisBus{
		cfg:           cfg,
		client:        redis.NewClient(opts),
		logger:        logger,
		subscriptions: make(map[string]*redisSubscription),
	}, nil
}

func (b *RedisBus) streamKey(topic string) string {
	return fmt.Sprintf("%s:%s", b.cfg.Prefix, topic)
}

// Connect pings the Redis server and marks the bus connected.
func (b *RedisBus) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.connected {
		return nil
	}
	if err := b.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	b.connected = true
	return nil
}

// Disconnect cancels all consumer-group reader goroutines and closes the
// client.
func (b *RedisBus) Disconnect(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return nil
	}
	for _, sub := range b.subscriptions {
		sub.cancel()
	}
	b.subscriptions = make(map[string]*redisSubscription)
	b.connected = false
	return b.client.Close()
}

// Publish appends envelope to stream "{prefix}:{topic}" per spec.md §6's
// remote wire format.
func (b *RedisBus) Publish(ctx context.Context, envelope *Envelope) (bool, error) {
	b.mu.RLock()
	connected := b.connected
	b.mu.RUnlock()
	if !connected {
		return false, ErrNotConnected
	}

	fields, err := encodeRedisFields(envelope)
	if err != nil {
		return false, err
	}

	key := b.streamKey(envelope.Topic)
	err = b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		MaxLen: b.cfg.MaxStreamLen,
		Approx: true,
		Values: fields,
	}).Err()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	// Redis Streams does not report the number of live consumer groups at
	// publish time, so "delivered" reflects a successful append, not
	// confirmed subscriber receipt.
	return true, nil
}

func encodeRedisFields(e *Envelope) (map[string]interface{}, error) {
	data := e.Data
	if _, ok := data.(string); !ok {
		encoded, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		data = string(encoded)
	}

	metadata, err := json.Marshal(e.Metadata)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"id":                e.ID,
		"scan_id":           e.ScanID,
		"event_type":        e.EventType,
		"module":            e.Module,
		"data":              data,
		"source_event_hash": e.SourceEventHash,
		"confidence":        e.Confidence,
		"visibility":        e.Visibility,
		"risk":              e.Risk,
		"timestamp":         e.Timestamp.Unix(),
		"metadata":          string(metadata),
	}, nil
}

func decodeRedisFields(topic string, values map[string]interface{}) *Envelope {
	get := func(key string) string {
		if v, ok := values[key]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
		return ""
	}
	atoi := func(s string) int {
		n, _ := strconv.Atoi(s)
		return n
	}

	envelope := &Envelope{
		ID:              get("id"),
		Topic:           topic,
		ScanID:          get("scan_id"),
		EventType:       get("event_type"),
		Module:          get("module"),
		Data:            get("data"),
		SourceEventHash: get("source_event_hash"),
		Confidence:      atoi(get("confidence")),
		Visibility:      atoi(get("visibility")),
		Risk:            atoi(get("risk")),
	}
	if ts, err := strconv.ParseInt(get("timestamp"), 10, 64); err == nil {
		envelope.Timestamp = time.Unix(ts, 0).UTC()
	}
	if meta := get("metadata"); meta != "" {
		var m map[string]interface{}
		if json.Unmarshal([]byte(meta), &m) == nil {
			envelope.Metadata = m
		}
	}
	return envelope
}

// Subscribe joins a consumer group on stream "{prefix}:{pattern}" and starts
// a blocking-read goroutine. Redis Streams has no native wildcard matching,
// so subscriptions here are expected to target concrete topics (or the
// caller pre-resolves wildcard patterns to concrete topics before calling
// Subscribe); this mirrors how consumer-group backends are used throughout
// the pack (one subject/stream per logical topic).
func (b *RedisBus) Subscribe(ctx context.Context, pattern string, handler EventHandler) (string, error) {
	b.mu.Lock()
	if !b.connected {
		b.mu.Unlock()
		return "", ErrNotConnected
	}

	id := uuid.New().String()
	stream := b.streamKey(pattern)
	group := "group-" + id

	b.mu.Unlock()

	if err := b.client.XGroupCreateMkStream(ctx, stream, group, "$").Err(); err != nil {
		// BUSYGROUP means the group already exists, which is fine.
		if !isRedisBusyGroupErr(err) {
			return "", fmt.Errorf("%w: %v", ErrTransport, err)
		}
	}

	subCtx, cancel := context.WithCancel(context.Background())
	sub := &redisSubscription{id: id, pattern: pattern, stream: stream, group: group, cancel: cancel}

	b.mu.Lock()
	b.subscriptions[id] = sub
	b.mu.Unlock()

	go b.readLoop(subCtx, sub, handler)

	return id, nil
}

func isRedisBusyGroupErr(err error) bool {
	return err != nil && len(err.Error()) >= 9 && err.Error()[:9] == "BUSYGROUP"
}

func (b *RedisBus) readLoop(ctx context.Context, sub *redisSubscription, handler EventHandler) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		streams, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    sub.group,
			Consumer: b.cfg.ConsumerName,
			Streams:  []string{sub.stream, ">"},
			Count:    10,
			Block:    b.cfg.ReadTimeout,
		}).Result()
		if err != nil {
			if err == redis.Nil || ctx.Err() != nil {
				continue
			}
			if b.logger != nil {
				b.logger.WithError(err).Warn("redis consumer group read failed")
			}
			time.Sleep(time.Second)
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				envelope := decodeRedisFields(sub.pattern, msg.Values)
				handled := func() (ok bool) {
					defer func() {
						if r := recover(); r != nil && b.logger != nil {
							b.logger.WithFields(map[string]interface{}{
								"subscription_id": sub.id,
								"panic":           r,
							}).Error("redis subscriber handler panicked")
						}
					}()
					handler(ctx, envelope)
					return true
				}()
				if handled {
					_ = b.client.XAck(ctx, sub.stream, sub.group, msg.ID).Err()
				}
			}
		}
	}
}

// Unsubscribe cancels the consumer's read loop. Idempotent.
func (b *RedisBus) Unsubscribe(_ context.Context, subscriptionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub, ok := b.subscriptions[subscriptionID]
	if !ok {
		return nil
	}
	sub.cancel()
	delete(b.subscriptions, subscriptionID)
	return nil
}
