// Package budgetclient talks to the external budget ledger. The
// coordinator only instructs; ledger balances and enforcement live on
// the other side of this API.
package budgetclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func New(baseURL string) *Client {
	return &Client{BaseURL: baseURL, HTTP: &http.Client{}}
}

func (c *Client) ApplyPenalty(ctx context.Context, agentID string, amount float64, contractID string) error {
	return c.post(ctx, "/ledger/penalties", map[string]any{
		"agent_id": agentID, "amount": amount, "contract_id": contractID,
	})
}

func (c *Client) ReleaseReward(ctx context.Context, agentID string, amount float64, contractID string) error {
	return c.post(ctx, "/ledger/rewards", map[string]any{
		"agent_id": agentID, "amount": amount, "contract_id": contractID,
	})
}

func (c *Client) FinalizeAllocation(ctx context.Context, agentID string, allocated, finalized float64, contractID string) error {
	return c.post(ctx, "/ledger/allocations:finalize", map[string]any{
		"agent_id": agentID, "allocated": allocated, "finalized": finalized, "contract_id": contractID,
	})
}

func (c *Client) post(ctx context.Context, path string, body map[string]any) error {
	b, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(b))
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
		return fmt.Errorf("budget ledger returned %d", resp.StatusCode)
	}
	return nil
}
