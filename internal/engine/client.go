// Package engine talks to the external budgeting engine that owns the
// authoritative ledger. It provides the persistence side of conflict
// resolution: a remote HTTP client and a local sqlite-backed fallback.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

// Client posts conflict resolutions to the budgeting engine.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewClient builds a client for the engine at baseURL. A non-positive
// timeout defaults to 10s.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "budgeting-engine",
			MaxRequests: 3,
			Interval:    30 * time.Second,
			Timeout:     10 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= 5 && failureRatio >= 0.6
			},
		}),
	}
}

// ResolveConflict persists the resolution of one transaction.
func (c *Client) ResolveConflict(ctx context.Context, txID, resolution string) error {
	body := map[string]any{
		"transaction_id": txID,
		"resolution":     resolution,
	}
	return c.post(ctx, "/api/conflicts/resolve", body)
}

// ResolveConflictsBatch persists one resolution for many transactions.
func (c *Client) ResolveConflictsBatch(ctx context.Context, txIDs []string, resolution string) error {
	body := map[string]any{
		"transaction_ids": txIDs,
		"resolution":      resolution,
	}
	return c.post(ctx, "/api/conflicts/resolve-batch", body)
}

// Ping checks the engine is reachable.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/health", nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil, nil
		}
		return nil, &StatusError{Code: resp.StatusCode}
	})
	return err
}

func (c *Client) post(ctx context.Context, path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	_, err = c.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil, nil
		}
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{Code: resp.StatusCode, Body: string(msg)}
	})
	return err
}

// StatusError is a non-2xx engine response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("engine: status %d: %s", e.Code, e.Body)
}
