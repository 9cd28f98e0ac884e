// Package reputationclient submits settlement outcomes to the external
// reputation scoring service. The scoring formula is its concern, not
// ours; we only deliver the inputs.
package reputationclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"agentpact/pkg/domain"
)

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func New(baseURL string) *Client {
	return &Client{BaseURL: baseURL, HTTP: &http.Client{}}
}

func (c *Client) RecordOutcome(ctx context.Context, rec domain.ReputationRecord) error {
	b, _ := json.Marshal(rec)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/outcomes", bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("content-type", "application/json")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("reputation service returned %d", resp.StatusCode)
	}
	return nil
}
