package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeliverSignsBodyAndSucceedsOnFirstAttempt(t *testing.T) {
	var receivedBody []byte
	var receivedSig string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		receivedBody = body
		receivedSig = r.Header.Get("X-SpiderFoot-Signature")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := NewDispatcher(10, nil, nil)
	cfg := Config{
		ID:         "wh1",
		URL:        server.URL,
		Secret:     "s3cret",
		Enabled:    true,
		Timeout:    2 * time.Second,
		MaxRetries: 1,
	}

	rec := d.Deliver(context.Background(), cfg, "t", map[string]interface{}{"a": 1})

	require.Equal(t, StatusSuccess, rec.Status)
	require.Equal(t, 1, rec.Attempts)
	require.Equal(t, http.StatusOK, rec.HTTPStatus)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(receivedBody, &decoded))
	assert.Equal(t, "t", decoded["event_type"])
	assert.Equal(t, map[string]interface{}{"a": float64(1)}, decoded["payload"])

	mac := hmac.New(sha256.New, []byte("s3cret"))
	mac.Write(receivedBody)
	wantSig := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	assert.Equal(t, wantSig, receivedSig)
}

func TestDeliverRetriesThenFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	d := NewDispatcher(10, nil, nil)
	cfg := Config{
		ID:         "wh2",
		URL:        server.URL,
		Enabled:    true,
		Timeout:    time.Second,
		MaxRetries: 2,
	}

	start := time.Now()
	rec := d.Deliver(context.Background(), cfg, "t", map[string]interface{}{"a": 1})
	elapsed := time.Since(start)

	require.Equal(t, StatusFailed, rec.Status)
	require.Equal(t, 2, rec.Attempts)
	assert.GreaterOrEqual(t, elapsed, time.Second)
}

func TestTimestampMarshalsWithTrailingDecimal(t *testing.T) {
	raw, err := json.Marshal(jsonFloat(1700000000))
	require.NoError(t, err)
	assert.Equal(t, "1700000000.0", string(raw))
}

func TestConfigMatchesDottedPrefix(t *testing.T) {
	cfg := Config{EventFilter: []string{"task"}}
	assert.True(t, cfg.Matches("task"))
	assert.True(t, cfg.Matches("task.completed"))
	assert.False(t, cfg.Matches("alert.high"))

	all := Config{}
	assert.True(t, all.Matches("anything"))
}
