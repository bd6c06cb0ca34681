package session

import (
	"context"

	"github.com/looplab/fsm"
	log "github.com/sirupsen/logrus"
)

// Call session states.
const (
	StateIdle             = "idle"
	StateProvisioning     = "provisioning"
	StateNegotiatingMedia = "negotiating_media"
	StateBridgeActive     = "bridge_active"
	StatePreAccepted      = "pre_accepted"
	StateAccepted         = "accepted"
	StateTerminated       = "terminated"
	StateFailed           = "failed"
)

// State machine transitions.
const (
	transProvision = "provision"
	transNegotiate = "negotiate"
	transActivate  = "activate"
	transPreAccept = "pre_accept"
	transAccept    = "accept"
	transFail      = "fail"
	transTerminate = "terminate"
)

var nonTerminalStates = []string{
	StateIdle, StateProvisioning, StateNegotiatingMedia,
	StateBridgeActive, StatePreAccepted, StateAccepted,
}

// newStateMachine builds the call lifecycle machine. Invalid transitions
// return an error from fsm.Event, which callers ignore: an unexpected
// (state, event) pair is a no-op, never a panic or a hang.
func newStateMachine(callID string) *fsm.FSM {
	return fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: transProvision, Src: []string{StateIdle}, Dst: StateProvisioning},
			{Name: transNegotiate, Src: []string{StateProvisioning}, Dst: StateNegotiatingMedia},
			{Name: transActivate, Src: []string{StateNegotiatingMedia}, Dst: StateBridgeActive},
			{Name: transPreAccept, Src: []string{StateBridgeActive}, Dst: StatePreAccepted},
			{Name: transAccept, Src: []string{StatePreAccepted}, Dst: StateAccepted},
			{Name: transFail, Src: nonTerminalStates, Dst: StateFailed},
			{Name: transTerminate, Src: append(nonTerminalStates, StateFailed), Dst: StateTerminated},
		},
		fsm.Callbacks{
			"after_event": func(_ context.Context, e *fsm.Event) {
				log.Printf("[session %s] %s: %s -> %s", callID, e.Event, e.Src, e.Dst)
			},
		},
	)
}
