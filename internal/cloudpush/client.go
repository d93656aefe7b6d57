// Package cloudpush declares the outbound measurement-push collaborator
// (§1 Non-goals: cloud upload is external) and ships one minimal net/http
// reference sender for the sample daemon and tests.
package cloudpush

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/altibiz/fieldgate/internal/store"
)

// Pusher hands a batch of measurements to whatever remote system consumes
// them. A real deployment's pusher is an external collaborator; Client
// below is a reference implementation for the sample daemon.
type Pusher interface {
	Push(ctx context.Context, batch []store.Measurement) error
}

// Client posts each batch as a JSON array to a single HTTP endpoint.
type Client struct {
	URL        string
	HTTPClient *http.Client
}

func NewClient(url string) *Client {
	return &Client{URL: url, HTTPClient: &http.Client{Timeout: 10 * time.Second}}
}

func (c *Client) Push(ctx context.Context, batch []store.Measurement) error {
	body, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("cloudpush: marshal batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("cloudpush: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("cloudpush: post to %s: %w", c.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("cloudpush: %s returned status %d", c.URL, resp.StatusCode)
	}
	return nil
}
