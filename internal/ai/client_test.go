package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade-guard/config"
	"trade-guard/internal/signals"
)

func TestOpinionDecodes(t *testing.T) {
	ts := time.Date(2026, 3, 2, 11, 58, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/opinions/BTCUSDT", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("X-API-Key"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"symbol":    "BTCUSDT",
			"score":     0.42,
			"direction": "LONG",
			"rationale": "higher lows",
			"timestamp": ts,
		})
	}))
	defer srv.Close()

	c := NewClient(config.AIConfig{BaseURL: srv.URL, APIKey: "secret", Timeout: time.Second})
	op, err := c.Opinion(context.Background(), "BTCUSDT")
	require.NoError(t, err)

	assert.InDelta(t, 0.42, op.Score, 1e-9)
	assert.Equal(t, signals.DirectionLong, op.Direction)
	assert.Equal(t, "higher lows", op.Rationale)
	assert.True(t, ts.Equal(op.Timestamp))
}

func TestOpinionNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(config.AIConfig{BaseURL: srv.URL})
	_, err := c.Opinion(context.Background(), "ETHUSDT")
	assert.ErrorIs(t, err, ErrNoOpinion)
}

func TestOpinionRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"score": -0.3, "direction": "short", "timestamp": "2026-03-02T12:00:00Z"}`))
	}))
	defer srv.Close()

	c := NewClient(config.AIConfig{BaseURL: srv.URL})
	op, err := c.Opinion(context.Background(), "ETHUSDT")
	require.NoError(t, err)

	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, signals.DirectionShort, op.Direction)
}

func TestOpinionClientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error": "rate limited"}`))
	}))
	defer srv.Close()

	c := NewClient(config.AIConfig{BaseURL: srv.URL})
	_, err := c.Opinion(context.Background(), "ETHUSDT")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
}
