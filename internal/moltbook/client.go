// Package moltbook is a minimal client for the Moltbook agent API: the
// self-registration call that issues the agent's credential, and the claim
// status polls the lifecycle flow needs. Content operations (posting,
// commenting) are out of scope for this agent.
package moltbook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// DefaultBaseURL is the production Moltbook API. Always the www host:
// requests without www get their auth headers stripped by a redirect.
const DefaultBaseURL = "https://www.moltbook.com/api/v1"

const requestTimeout = 30 * time.Second

// Registration is what Moltbook returns from a successful self-registration.
// APIKey is the credential that is born inside the TEE and never leaves it;
// the claim URL and verification code are shown to the human owner.
type Registration struct {
	APIKey           string `json:"api_key"`
	ClaimURL         string `json:"claim_url"`
	VerificationCode string `json:"verification_code"`
}

// Status is the claim state of a registered agent.
type Status struct {
	Claimed bool   `json:"claimed"`
	Status  string `json:"status"`
}

// Client talks to the Moltbook API on behalf of one agent.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates an authenticated client. The API key is injected as a Bearer
// token on every request via an oauth2 static token source.
func New(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: apiKey})
	httpClient := oauth2.NewClient(context.Background(), src)
	httpClient.Timeout = requestTimeout
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

// Register creates a new agent and issues its API key. Unauthenticated by
// definition: the credential does not exist until this call returns.
func Register(ctx context.Context, baseURL, name, description string) (*Registration, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	body, err := json.Marshal(map[string]string{
		"name":        name,
		"description": description,
	})
	if err != nil {
		return nil, fmt.Errorf("encode registration: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(baseURL, "/")+"/agents/register", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build registration request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: requestTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("register agent: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read registration response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("register agent: status %d: %s", resp.StatusCode, truncate(raw, 200))
	}

	// The API sometimes nests the payload under "agent".
	var envelope struct {
		Agent *Registration `json:"agent"`
		Registration
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("decode registration response: %w", err)
	}
	reg := envelope.Registration
	if envelope.Agent != nil {
		reg = *envelope.Agent
	}
	if reg.APIKey == "" {
		return nil, fmt.Errorf("registration response missing api_key")
	}
	return &reg, nil
}

// GetStatus polls the agent's claim state. Moltbook returns 401 on profile
// endpoints until the agent is claimed, so this stays on /agents/status.
func (c *Client) GetStatus(ctx context.Context) (*Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/agents/status", nil)
	if err != nil {
		return nil, fmt.Errorf("build status request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get status: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read status response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get status: status %d: %s", resp.StatusCode, truncate(raw, 200))
	}

	var st Status
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("decode status response: %w", err)
	}
	if !st.Claimed && st.Status == "claimed" {
		st.Claimed = true
	}
	return &st, nil
}

func truncate(b []byte, n int) string {
	s := string(b)
	if len(s) > n {
		return s[:n]
	}
	return s
}
