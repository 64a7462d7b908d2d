// Package ai fetches opinion records from the external analysis engine.
// The engine itself (models, prompts, rate gating) lives elsewhere; this
// package only reads its output.
package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"trade-guard/config"
	"trade-guard/internal/signals"
)

// ErrNoOpinion is returned when the engine has nothing for a symbol
var ErrNoOpinion = errors.New("no ai opinion available")

// opinionResponse is the engine's wire format
type opinionResponse struct {
	Symbol    string    `json:"symbol"`
	Score     float64   `json:"score"`
	Direction string    `json:"direction"`
	Rationale string    `json:"rationale"`
	Timestamp time.Time `json:"timestamp"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Client is the analysis engine HTTP client
type Client struct {
	client *resty.Client
}

// NewClient creates a client from configuration
func NewClient(cfg config.AIConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := resty.New()
	client.SetBaseURL(strings.TrimRight(cfg.BaseURL, "/"))
	client.SetTimeout(timeout)
	client.SetRetryCount(2)
	client.SetRetryWaitTime(200 * time.Millisecond)
	client.SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		client.SetHeader("X-API-Key", cfg.APIKey)
	}
	client.AddRetryCondition(func(r *resty.Response, err error) bool {
		return err != nil || r.StatusCode() >= http.StatusInternalServerError
	})

	return &Client{client: client}
}

// Opinion returns the latest opinion for symbol
func (c *Client) Opinion(ctx context.Context, symbol string) (*signals.Opinion, error) {
	var (
		result  opinionResponse
		failure errorResponse
	)
	resp, err := c.client.R().
		SetContext(ctx).
		SetPathParam("symbol", symbol).
		SetResult(&result).
		SetError(&failure).
		Get("/v1/opinions/{symbol}")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch ai opinion for %s: %w", symbol, err)
	}

	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNoOpinion, symbol)
	case resp.IsError():
		msg := failure.Error
		if msg == "" {
			msg = resp.Status()
		}
		return nil, fmt.Errorf("ai engine returned %d for %s: %s", resp.StatusCode(), symbol, msg)
	}

	dir := signals.Direction(strings.ToLower(result.Direction))
	if !dir.Valid() {
		dir = signals.DirectionFlat
	}
	return &signals.Opinion{
		Score:     result.Score,
		Direction: dir,
		Rationale: result.Rationale,
		Timestamp: result.Timestamp,
	}, nil
}
