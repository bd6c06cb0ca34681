package session

import "github.com/realtime-ai/voice-bridge/pkg/provision"

// Inbound call event types delivered by the webhook transport.
const (
	EventConnect   = "connect"
	EventTerminate = "terminate"
)

// CallEvent is one inbound call-lifecycle notification.
type CallEvent struct {
	CallID       string `json:"call_id"`
	Event        string `json:"event"`
	OfferSDP     string `json:"offer_sdp,omitempty"`
	CallerName   string `json:"caller_name,omitempty"`
	CallerNumber string `json:"caller_number,omitempty"`
}

// Internal events consumed by the session's run loop. Every asynchronous
// continuation (HTTP response, socket open, timer) re-enters the state
// machine as one of these, keeping all session mutation on a single
// goroutine.
type sessionEvent interface {
	sessionEvent()
}

type evTerminate struct{}

type evProvisioned struct {
	sess *provision.AgentSession
	err  error
}

type evNegotiated struct {
	answerSDP string
	err       error
}

type evAgentOpened struct {
	leg AgentLeg
	err error
}

type evAnswerResult struct {
	action string
	err    error
}

type evAcceptDue struct{}

type evTransportClosed struct {
	legID string
	err   error
}

func (evTerminate) sessionEvent()       {}
func (evProvisioned) sessionEvent()     {}
func (evNegotiated) sessionEvent()      {}
func (evAgentOpened) sessionEvent()     {}
func (evAnswerResult) sessionEvent()    {}
func (evAcceptDue) sessionEvent()       {}
func (evTransportClosed) sessionEvent() {}
