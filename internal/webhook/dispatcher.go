package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/poppopjmp/spiderfoot-sub008/internal/correlation"
	"github.com/poppopjmp/spiderfoot-sub008/internal/logging"
	"github.com/poppopjmp/spiderfoot-sub008/internal/metrics"
)

const userAgent = "SpiderFoot-Webhook/1.0"

// jsonFloat marshals a float64 the way Python's json.dumps does: integral
// values still carry a trailing ".0" instead of encoding/json's bare
// integer form. The delivery body's timestamp field is wire-documented in
// that shape, so deliveries stay byte-compatible with non-Go consumers.
type jsonFloat float64

func (f jsonFloat) MarshalJSON() ([]byte, error) {
	s := strconv.FormatFloat(float64(f), 'f', -1, 64)
	if !strings.ContainsRune(s, '.') {
		s += ".0"
	}
	return []byte(s), nil
}

type deliveryBody struct {
	EventType string      `json:"event_type"`
	Timestamp jsonFloat   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// Dispatcher delivers webhook payloads with HMAC signing and capped
// exponential-backoff retries, keeping a bounded ring buffer of delivery
// history.
type Dispatcher struct {
	client  *http.Client
	history *ring
	logger  *logging.Logger
	m       *metrics.Metrics
}

// NewDispatcher builds a Dispatcher retaining at most historyCap delivery
// records.
func NewDispatcher(historyCap int, logger *logging.Logger, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		client:  &http.Client{},
		history: newRing(historyCap),
		logger:  logger,
		m:       m,
	}
}

// Deliver POSTs payload to cfg.URL, signing the body when cfg.Secret is set,
// making at most cfg.MaxRetries attempts in total (at least one) with a sleep
// of min(2^(attempt-1), 30) seconds between attempts. The returned record is appended to history only
// once the attempt terminates.
func (d *Dispatcher) Deliver(ctx context.Context, cfg Config, eventType string, payload interface{}) *DeliveryRecord {
	body := deliveryBody{
		EventType: eventType,
		Timestamp: jsonFloat(float64(time.Now().Unix())),
		Payload:   payload,
	}
	raw, err := json.Marshal(body)
	if err != nil {
		rec := &DeliveryRecord{
			ID:          uuid.New().String(),
			WebhookID:   cfg.ID,
			EventType:   eventType,
			Status:      StatusFailed,
			Error:       err.Error(),
			CreatedAt:   time.Now().UTC(),
			CompletedAt: time.Now().UTC(),
		}
		d.history.add(*rec)
		return rec
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}

	rec := &DeliveryRecord{
		ID:          uuid.New().String(),
		WebhookID:   cfg.ID,
		EventType:   eventType,
		Status:      StatusPending,
		CreatedAt:   time.Now().UTC(),
		PayloadSize: len(raw),
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		rec.Attempts = attempt
		status, err := d.attempt(ctx, cfg, eventType, raw, timeout)
		rec.HTTPStatus = status
		if err == nil && status >= 200 && status < 300 {
			rec.Status = StatusSuccess
			rec.CompletedAt = time.Now().UTC()
			d.history.add(*rec)
			d.record(cfg.ID, string(rec.Status), rec.CompletedAt.Sub(rec.CreatedAt))
			return rec
		}

		lastErr = err
		if err == nil {
			lastErr = fmt.Errorf("webhook responded with status %d", status)
		}

		if attempt < maxRetries {
			rec.Status = StatusRetrying
			sleep := time.Duration(math.Min(math.Pow(2, float64(attempt-1)), 30)) * time.Second
			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
				attempt = maxRetries
			case <-time.After(sleep):
			}
		}
	}

	rec.Status = StatusFailed
	if lastErr != nil {
		rec.Error = lastErr.Error()
	}
	rec.CompletedAt = time.Now().UTC()
	d.history.add(*rec)
	d.record(cfg.ID, string(rec.Status), rec.CompletedAt.Sub(rec.CreatedAt))
	return rec
}

func (d *Dispatcher) attempt(ctx context.Context, cfg Config, eventType string, body []byte, timeout time.Duration) (int, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-SpiderFoot-Event", eventType)
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}
	if requestID := correlation.RequestID(ctx); requestID != "" {
		req.Header.Set("X-Request-ID", requestID)
	}
	if cfg.Secret != "" {
		mac := hmac.New(sha256.New, []byte(cfg.Secret))
		mac.Write(body)
		req.Header.Set("X-SpiderFoot-Signature", "sha256="+hex.EncodeToString(mac.Sum(nil)))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

func (d *Dispatcher) record(webhookID, status string, duration time.Duration) {
	if d.m != nil {
		d.m.RecordWebhookDelivery(webhookID, status, duration)
	}
}

// History returns the dispatcher's delivery records, oldest first.
func (d *Dispatcher) History() []DeliveryRecord {
	return d.history.snapshot()
}
