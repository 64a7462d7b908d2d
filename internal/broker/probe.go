// Package broker checks the executor's broker session. Order placement is
// not done here; the probe only gates auto-recovery of a broker_session trip.
package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// HTTPProbe reports the broker session healthy when HealthURL answers 2xx
type HTTPProbe struct {
	client *resty.Client
	url    string
}

// NewHTTPProbe creates a probe for url
func NewHTTPProbe(url string, timeout time.Duration) *HTTPProbe {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := resty.New()
	client.SetTimeout(timeout)
	client.SetHeader("Accept", "application/json")
	return &HTTPProbe{client: client, url: url}
}

// Healthy implements systemguard.HealthProbe
func (p *HTTPProbe) Healthy(ctx context.Context) error {
	resp, err := p.client.R().SetContext(ctx).Get(p.url)
	if err != nil {
		return fmt.Errorf("broker health request failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("broker health returned %s", resp.Status())
	}
	return nil
}

// Unconfigured never clears, so a broker_session trip waits for an operator
type Unconfigured struct{}

func (Unconfigured) Healthy(ctx context.Context) error {
	return fmt.Errorf("no broker health endpoint configured")
}
