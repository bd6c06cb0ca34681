package connection

import "encoding/json"

// The agent socket interleaves binary PCM frames with JSON text frames.
// Text frames are observability signals only and never drive control flow.
// Decoding is total: anything malformed or unrecognized becomes
// UnknownEvent, which handlers treat as a no-op.

// AgentEvent is a decoded text frame from the agent socket.
type AgentEvent interface {
	agentEvent()
}

// TranscriptEvent carries a partial or final transcript line.
type TranscriptEvent struct {
	Role string
	Text string
}

// StateEvent reports the agent's conversational state (listening,
// speaking, thinking, ...).
type StateEvent struct {
	State string
}

// UnknownEvent is any text frame that failed to parse or has an
// unrecognized type tag.
type UnknownEvent struct {
	Type string
}

func (TranscriptEvent) agentEvent() {}
func (StateEvent) agentEvent()      {}
func (UnknownEvent) agentEvent()    {}

type agentEnvelope struct {
	Type  string `json:"type"`
	Role  string `json:"role,omitempty"`
	Text  string `json:"text,omitempty"`
	State string `json:"state,omitempty"`
}

// DecodeAgentEvent parses one text frame into its tagged variant.
func DecodeAgentEvent(data []byte) AgentEvent {
	var env agentEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return UnknownEvent{}
	}
	switch env.Type {
	case "transcript":
		return TranscriptEvent{Role: env.Role, Text: env.Text}
	case "state":
		return StateEvent{State: env.State}
	default:
		return UnknownEvent{Type: env.Type}
	}
}
