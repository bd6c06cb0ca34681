// Package provision wraps the voice-agent provisioning API: it creates a
// remote agent session and returns the duplex socket endpoint the bridge
// connects to.
package provision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// ProvisioningError reports a failed session-creation call. A non-2xx
// status keeps the code; network failures wrap the transport error.
type ProvisioningError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *ProvisioningError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provisioning failed: %v", e.Err)
	}
	return fmt.Sprintf("provisioning failed: status %d: %s", e.StatusCode, e.Body)
}

func (e *ProvisioningError) Unwrap() error {
	return e.Err
}

// AgentSession is a provisioned voice-agent session.
type AgentSession struct {
	SessionID string `json:"session_id"`
	// JoinURL is the websocket endpoint carrying duplex PCM.
	JoinURL string `json:"join_url"`
	// SampleRate is the rate the agent produces and consumes. This value
	// is authoritative; the configured rate is only a request.
	SampleRate int `json:"sample_rate"`
}

// Config holds the provisioning endpoint and the opaque agent parameters
// forwarded with every session request.
type Config struct {
	BaseURL string
	APIKey  string

	// Requested session parameters. SystemPrompt and Voice are opaque to
	// the bridge and passed through unchanged.
	SystemPrompt string
	Voice        string
	SampleRate   int
}

// Client creates agent sessions over HTTP.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient creates a provisioning client. The HTTP timeout bounds the
// whole request; the session state machine adds no retry on top.
func NewClient(cfg Config) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type createSessionRequest struct {
	CallerName   string `json:"caller_name"`
	SystemPrompt string `json:"system_prompt,omitempty"`
	Voice        string `json:"voice,omitempty"`
	SampleRate   int    `json:"sample_rate,omitempty"`
}

// CreateSession provisions a new agent session for the given caller.
func (c *Client) CreateSession(ctx context.Context, callerName string) (*AgentSession, error) {
	payload, err := json.Marshal(createSessionRequest{
		CallerName:   callerName,
		SystemPrompt: c.cfg.SystemPrompt,
		Voice:        c.cfg.Voice,
		SampleRate:   c.cfg.SampleRate,
	})
	if err != nil {
		return nil, &ProvisioningError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/sessions", bytes.NewReader(payload))
	if err != nil {
		return nil, &ProvisioningError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ProvisioningError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var body bytes.Buffer
		body.ReadFrom(resp.Body)
		return nil, &ProvisioningError{StatusCode: resp.StatusCode, Body: body.String()}
	}

	var sess AgentSession
	if err := json.NewDecoder(resp.Body).Decode(&sess); err != nil {
		return nil, &ProvisioningError{Err: fmt.Errorf("decode response: %w", err)}
	}
	if sess.SampleRate == 0 {
		sess.SampleRate = c.cfg.SampleRate
	}
	return &sess, nil
}
