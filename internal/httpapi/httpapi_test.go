package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/poppopjmp/spiderfoot-sub008/internal/alertengine"
	"github.com/poppopjmp/spiderfoot-sub008/internal/logging"
	"github.com/poppopjmp/spiderfoot-sub008/internal/ratelimiter"
	"github.com/poppopjmp/spiderfoot-sub008/internal/taskmanager"
	"github.com/poppopjmp/spiderfoot-sub008/internal/webhook"
)

func testDeps(t *testing.T) Deps {
	t.Helper()
	logger := logging.New("httpapi-test", "error", "json")
	return Deps{
		Tasks: taskmanager.NewManager(taskmanager.Config{Workers: 1, MaxHistory: 10}, logger, nil),
		TaskFuncs: map[string]taskmanager.TaskFunc{
			"noop": func(ctx context.Context, report taskmanager.ProgressFunc) (interface{}, error) {
				report(100)
				return "done", nil
			},
		},
		Alerts:        alertengine.NewEngine(10, logger, nil),
		Limiter:       ratelimiter.New(ratelimiter.Config{Requests: 5, Window: 0}, "", 0, logger, nil),
		Notifications: webhook.NewNotificationManager(webhook.NewDispatcher(10, logger, nil), logger),
		Logger:        logger,
		Version:       "test",
	}
}

func TestSubmitAndGetTask(t *testing.T) {
	router := NewRouter(testDeps(t))

	body, _ := json.Marshal(map[string]interface{}{"id": "t1", "type": "noop"})
	req := httptest.NewRequest(http.MethodPost, "/tasks", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/tasks/t1", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestSubmitUnknownTaskTypeFails(t *testing.T) {
	router := NewRouter(testDeps(t))

	body, _ := json.Marshal(map[string]interface{}{"id": "t2", "type": "nonexistent"})
	req := httptest.NewRequest(http.MethodPost, "/tasks", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestRegisterAndListWebhook(t *testing.T) {
	router := NewRouter(testDeps(t))

	body, _ := json.Marshal(map[string]interface{}{"url": "https://example.com/hook"})
	req := httptest.NewRequest(http.MethodPost, "/webhooks", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/webhooks", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var webhooks []webhook.Config
	if err := json.Unmarshal(rec.Body.Bytes(), &webhooks); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(webhooks) != 1 {
		t.Fatalf("expected 1 registered webhook, got %d", len(webhooks))
	}
}

func TestAcknowledgeUnknownAlertReturnsNotFound(t *testing.T) {
	router := NewRouter(testDeps(t))

	req := httptest.NewRequest(http.MethodPost, "/alerts/missing-rule/ack", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestStatusReportsRuntimeAndRateLimit(t *testing.T) {
	router := NewRouter(testDeps(t))

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := resp["runtime"]; !ok {
		t.Fatal("expected runtime stats in status response")
	}
	if _, ok := resp["rate_limit"]; !ok {
		t.Fatal("expected rate_limit section in status response")
	}
}
