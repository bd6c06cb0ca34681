// Package callcontrol wraps the external call-control HTTP API used to
// answer or reject the inbound call. Answering is a two-phase handshake:
// the answer SDP is first delivered with action "pre_accept" and, after the
// protocol-mandated delay, confirmed with action "accept".
package callcontrol

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
)

// Answer actions defined by the call-control protocol.
const (
	ActionPreAccept = "pre_accept"
	ActionAccept    = "accept"
	actionReject    = "reject"
)

// CallControlError reports a failed answer call.
type CallControlError struct {
	Action     string
	StatusCode int
	Err        error
}

func (e *CallControlError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("call control %s failed: %v", e.Action, e.Err)
	}
	return fmt.Sprintf("call control %s failed: status %d", e.Action, e.StatusCode)
}

func (e *CallControlError) Unwrap() error {
	return e.Err
}

// Config holds the call-control endpoint parameters.
type Config struct {
	BaseURL     string
	AccessToken string
	// LineID scopes the calls resource (the provider's phone-line id).
	LineID string
}

// Client issues answer/reject requests.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

func NewClient(cfg Config) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type callActionRequest struct {
	CallID  string       `json:"call_id"`
	Action  string       `json:"action"`
	Session *sdpEnvelope `json:"session,omitempty"`
}

type sdpEnvelope struct {
	SdpType string `json:"sdp_type"`
	Sdp     string `json:"sdp"`
}

type callActionResponse struct {
	Success bool `json:"success"`
}

// Answer delivers the local answer SDP with the given action. Returns nil
// only when the provider reports success.
func (c *Client) Answer(ctx context.Context, callID, answerSDP, action string) error {
	return c.post(ctx, callActionRequest{
		CallID: callID,
		Action: action,
		Session: &sdpEnvelope{
			SdpType: "answer",
			Sdp:     answerSDP,
		},
	})
}

// Reject declines the call. Fire-and-forget: failures are logged, never
// propagated, since there is nothing left to do with a call we are
// already refusing.
func (c *Client) Reject(ctx context.Context, callID string) {
	if err := c.post(ctx, callActionRequest{CallID: callID, Action: actionReject}); err != nil {
		log.Printf("[callcontrol] reject %s failed: %v", callID, err)
	}
}

func (c *Client) post(ctx context.Context, reqBody callActionRequest) error {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return &CallControlError{Action: reqBody.Action, Err: err}
	}

	url := fmt.Sprintf("%s/%s/calls", c.cfg.BaseURL, c.cfg.LineID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return &CallControlError{Action: reqBody.Action, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &CallControlError{Action: reqBody.Action, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &CallControlError{Action: reqBody.Action, StatusCode: resp.StatusCode}
	}

	var body callActionResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return &CallControlError{Action: reqBody.Action, Err: fmt.Errorf("decode response: %w", err)}
	}
	if !body.Success {
		return &CallControlError{Action: reqBody.Action, Err: fmt.Errorf("provider reported failure")}
	}
	return nil
}
