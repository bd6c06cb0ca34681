package session

import (
	"context"
	"time"

	"github.com/realtime-ai/voice-bridge/pkg/connection"
	"github.com/realtime-ai/voice-bridge/pkg/provision"
)

// Provisioner creates remote voice-agent sessions.
type Provisioner interface {
	CreateSession(ctx context.Context, callerName string) (*provision.AgentSession, error)
}

// CallController answers or rejects the inbound call.
type CallController interface {
	// Answer delivers the answer SDP with action "pre_accept" or "accept".
	Answer(ctx context.Context, callID, sdp, action string) error
	// Reject declines the call. Fire-and-forget.
	Reject(ctx context.Context, callID string)
}

// TelephonyLeg is the caller-side media leg plus its negotiation step.
type TelephonyLeg interface {
	connection.MediaLeg
	Negotiate(ctx context.Context, offerSDP string) (answerSDP string, err error)
	OnClosed(fn func(err error))
}

// AgentLeg is the agent-side media leg.
type AgentLeg interface {
	connection.MediaLeg
	OnClosed(fn func(err error))
}

// TelephonyLegFactory creates a fresh telephony leg for one call.
type TelephonyLegFactory func() (TelephonyLeg, error)

// AgentDialer connects to a provisioned agent session's join endpoint.
type AgentDialer func(ctx context.Context, joinURL string, sampleRate int) (AgentLeg, error)

// Timing holds the protocol time bounds. The accept delay is a contract of
// the call-control protocol (pre-acceptance and acceptance must be
// temporally separated), not a tunable; it is injectable only so tests do
// not sleep for real seconds.
type Timing struct {
	// ConnectTimeout bounds the agent socket open. Exceeding it is
	// terminal for the call; there is no retry.
	ConnectTimeout time.Duration
	// AcceptDelay separates pre_accept from accept.
	AcceptDelay time.Duration
}

// DefaultTiming returns the reference deployment values.
func DefaultTiming() Timing {
	return Timing{
		ConnectTimeout: 15 * time.Second,
		AcceptDelay:    1 * time.Second,
	}
}

func (t Timing) withDefaults() Timing {
	if t.ConnectTimeout <= 0 {
		t.ConnectTimeout = 15 * time.Second
	}
	if t.AcceptDelay <= 0 {
		t.AcceptDelay = 1 * time.Second
	}
	return t
}

// Deps bundles the collaborators of a call session.
type Deps struct {
	Provisioner     Provisioner
	CallControl     CallController
	NewTelephonyLeg TelephonyLegFactory
	DialAgentLeg    AgentDialer

	// HasAgentCredential gates provisioning: without a credential the
	// call is rejected before any provisioning attempt.
	HasAgentCredential bool

	Timing Timing
}
