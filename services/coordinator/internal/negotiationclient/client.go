// Package negotiationclient wraps the external negotiation service,
// which also hosts conflict resolution and coordination-policy
// validation for a session.
package negotiationclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"agentpact/services/coordinator/internal/coord"
	"agentpact/services/coordinator/internal/store"
)

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func New(baseURL string) *Client {
	return &Client{BaseURL: baseURL, HTTP: &http.Client{}}
}

func (c *Client) Process(ctx context.Context, msg store.Message) (coord.NegotiationResult, error) {
	var out struct {
		State    string `json:"state"`
		Accepted bool   `json:"accepted"`
	}
	if err := c.post(ctx, "/negotiation/messages", msg, &out); err != nil {
		return coord.NegotiationResult{}, err
	}
	return coord.NegotiationResult{State: out.State, Accepted: out.Accepted}, nil
}

func (c *Client) Evaluate(ctx context.Context, msg store.Message, sessionID string) (map[string]any, error) {
	var out map[string]any
	err := c.post(ctx, "/negotiation/conflicts:evaluate", map[string]any{
		"session_id": sessionID, "message": msg,
	}, &out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PolicyClient views the same service as a policy validator. Separate
// type because conflict evaluation already uses the Evaluate name with
// a different shape.
type PolicyClient struct{ *Client }

func (c *Client) Policy() PolicyClient { return PolicyClient{c} }

func (p PolicyClient) Evaluate(ctx context.Context, msg store.Message, policy map[string]any) (bool, string, error) {
	var out struct {
		Allowed bool   `json:"allowed"`
		Reason  string `json:"reason"`
	}
	if err := p.post(ctx, "/negotiation/policies:evaluate", map[string]any{
		"message": msg, "policy": policy,
	}, &out); err != nil {
		return false, "", err
	}
	return out.Allowed, out.Reason, nil
}

func (c *Client) post(ctx context.Context, path string, body any, dst any) error {
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
		return fmt.Errorf("negotiation service returned %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}
