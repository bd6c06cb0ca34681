package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/looplab/fsm"
	log "github.com/sirupsen/logrus"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/realtime-ai/voice-bridge/pkg/bridge"
	"github.com/realtime-ai/voice-bridge/pkg/callcontrol"
	"github.com/realtime-ai/voice-bridge/pkg/provision"
	"github.com/realtime-ai/voice-bridge/pkg/sdp"
	"github.com/realtime-ai/voice-bridge/pkg/trace"
)

// ErrConnectTimeout marks an agent socket that failed to open within the
// connect bound. Terminal for the call, never retried.
var ErrConnectTimeout = errors.New("agent socket connect timeout")

// NegotiationError marks a telephony SDP apply/answer failure.
type NegotiationError struct {
	Err error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("media negotiation failed: %v", e.Err)
}

func (e *NegotiationError) Unwrap() error {
	return e.Err
}

// TransportError marks a terminal socket or media failure on one leg.
// During setup it fails the call; mid-call it just ends it.
type TransportError struct {
	LegID string
	Err   error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error on %s: %v", e.LegID, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// CallSession drives one call through provisioning, media negotiation,
// bridge activation, the two-phase accept handshake and teardown.
//
// All mutation happens on the session's own goroutine: asynchronous work
// (HTTP calls, socket dial, timers, leg callbacks) posts typed events into
// a single ordered queue. That serialization is what makes the "one call,
// one state" model safe without locks around session fields.
type CallSession struct {
	callID       string
	callerName   string
	callerNumber string
	offerSDP     string

	// finalAnswerSDP is the local answer with the connection role forced
	// to active. Immutable once computed.
	finalAnswerSDP string

	deps    Deps
	machine *fsm.FSM
	events  chan sessionEvent
	done    chan struct{}

	// postMu serializes posts against run-loop exit: an event either lands
	// in the queue before the loop finishes (and is handled or drained) or
	// the post is refused and the caller keeps ownership of anything the
	// event carries.
	postMu   sync.Mutex
	finished bool

	setupCtx    context.Context
	setupCancel context.CancelFunc

	telephony TelephonyLeg
	agent     AgentLeg
	bridge    *bridge.Bridge

	acceptTimer *time.Timer

	negotiated bool
	agentReady bool
	torndown   bool

	// onDone releases the manager's single session slot.
	onDone func(*CallSession)
}

func newCallSession(ev CallEvent, deps Deps, onDone func(*CallSession)) *CallSession {
	ctx, cancel := context.WithCancel(context.Background())
	s := &CallSession{
		callID:       ev.CallID,
		callerName:   ev.CallerName,
		callerNumber: ev.CallerNumber,
		offerSDP:     ev.OfferSDP,
		deps:         deps,
		machine:      newStateMachine(ev.CallID),
		events:       make(chan sessionEvent, 32),
		done:         make(chan struct{}),
		setupCtx:     ctx,
		setupCancel:  cancel,
		onDone:       onDone,
	}
	go s.run()
	return s
}

// CallID returns the external call identifier.
func (s *CallSession) CallID() string {
	return s.callID
}

// State returns the current lifecycle state.
func (s *CallSession) State() string {
	return s.machine.Current()
}

// Done is closed once the session has fully torn down.
func (s *CallSession) Done() <-chan struct{} {
	return s.done
}

// Terminate requests teardown. Safe to call any number of times from any
// goroutine; calls after teardown are no-ops.
func (s *CallSession) Terminate() {
	s.post(evTerminate{})
}

// post delivers an event to the run loop. Returns false if the session has
// already finished. Never blocks: the queue is sized well past the bounded
// set of producers, and a full queue refuses the post like a finished
// session would.
func (s *CallSession) post(e sessionEvent) bool {
	s.postMu.Lock()
	defer s.postMu.Unlock()
	if s.finished {
		return false
	}
	select {
	case s.events <- e:
		return true
	default:
		return false
	}
}

func (s *CallSession) run() {
	s.handleConnect()
	for !s.torndown {
		s.handle(<-s.events)
	}

	s.postMu.Lock()
	s.finished = true
	s.postMu.Unlock()

	// Posts that won the race against teardown are still queued. Release
	// anything they carry before announcing completion; an agent socket
	// that opened after the call was gone must still be closed.
	for {
		select {
		case e := <-s.events:
			if opened, ok := e.(evAgentOpened); ok && opened.leg != nil {
				opened.leg.Close()
			}
		default:
			close(s.done)
			return
		}
	}
}

func (s *CallSession) handle(e sessionEvent) {
	switch e := e.(type) {
	case evTerminate:
		s.teardown(transTerminate)
	case evProvisioned:
		s.handleProvisioned(e)
	case evNegotiated:
		s.handleNegotiated(e)
	case evAgentOpened:
		s.handleAgentOpened(e)
	case evAnswerResult:
		s.handleAnswerResult(e)
	case evAcceptDue:
		if s.machine.Current() == StatePreAccepted {
			s.sendAnswer(callcontrol.ActionAccept)
		}
	case evTransportClosed:
		s.handleTransportClosed(e)
	}
}

func (s *CallSession) handleConnect() {
	log.Printf("[session %s] connect from %q <%s>", s.callID, s.callerName, s.callerNumber)

	if !s.deps.HasAgentCredential {
		s.fail(errors.New("no voice-agent credential configured"))
		return
	}
	_ = s.machine.Event(s.setupCtx, transProvision)

	go func() {
		var sess *provision.AgentSession
		err := trace.WithSpan(s.setupCtx, "agent.provision", func(ctx context.Context) error {
			created, err := s.deps.Provisioner.CreateSession(ctx, s.callerName)
			if err != nil {
				return err
			}
			sess = created
			return nil
		}, oteltrace.WithAttributes(trace.CallID(s.callID)))
		s.post(evProvisioned{sess: sess, err: err})
	}()
}

func (s *CallSession) handleProvisioned(e evProvisioned) {
	if s.machine.Current() != StateProvisioning {
		return
	}
	if e.err != nil {
		s.fail(e.err)
		return
	}
	log.Printf("[session %s] agent session %s at %s (%d Hz)",
		s.callID, e.sess.SessionID, e.sess.JoinURL, e.sess.SampleRate)
	_ = s.machine.Event(s.setupCtx, transNegotiate)

	// Kick off the agent connect first so the socket is opening while the
	// answer is being built; once the telephony leg goes live no audio
	// should wait on the agent side.
	dialCtx, dialCancel := context.WithTimeout(s.setupCtx, s.deps.Timing.ConnectTimeout)
	joinURL, sampleRate := e.sess.JoinURL, e.sess.SampleRate
	go func() {
		defer dialCancel()
		var leg AgentLeg
		err := trace.WithSpan(dialCtx, "agent.connect", func(ctx context.Context) error {
			dialed, err := s.deps.DialAgentLeg(ctx, joinURL, sampleRate)
			if err != nil {
				return err
			}
			leg = dialed
			return nil
		}, oteltrace.WithAttributes(trace.CallID(s.callID)))
		if !s.post(evAgentOpened{leg: leg, err: err}) && leg != nil {
			// Session finished while we were dialing.
			leg.Close()
		}
	}()

	tel, err := s.deps.NewTelephonyLeg()
	if err != nil {
		s.fail(&NegotiationError{Err: err})
		return
	}
	s.telephony = tel
	telID := tel.ID()
	tel.OnClosed(func(err error) {
		s.post(evTransportClosed{legID: telID, err: err})
	})

	go func() {
		var answer string
		err := trace.WithSpan(s.setupCtx, "telephony.negotiate", func(ctx context.Context) error {
			negotiated, err := tel.Negotiate(ctx, s.offerSDP)
			if err != nil {
				return err
			}
			answer = negotiated
			return nil
		}, oteltrace.WithAttributes(trace.CallID(s.callID)))
		s.post(evNegotiated{answerSDP: answer, err: err})
	}()
}

func (s *CallSession) handleNegotiated(e evNegotiated) {
	if s.machine.Current() != StateNegotiatingMedia {
		return
	}
	if e.err != nil {
		s.fail(&NegotiationError{Err: e.err})
		return
	}
	final, err := sdp.ForceActiveSetup(e.answerSDP)
	if err != nil {
		s.fail(&NegotiationError{Err: err})
		return
	}
	s.finalAnswerSDP = final
	s.negotiated = true
	s.maybeActivate()
}

func (s *CallSession) handleAgentOpened(e evAgentOpened) {
	if s.machine.Current() != StateNegotiatingMedia {
		// Late success after a timeout or teardown: the call is gone,
		// just release the socket.
		if e.leg != nil {
			e.leg.Close()
		}
		return
	}
	if e.err != nil {
		if errors.Is(e.err, context.DeadlineExceeded) {
			s.fail(fmt.Errorf("%w after %v", ErrConnectTimeout, s.deps.Timing.ConnectTimeout))
		} else {
			s.fail(e.err)
		}
		return
	}
	s.agent = e.leg
	agentID := e.leg.ID()
	e.leg.OnClosed(func(err error) {
		s.post(evTransportClosed{legID: agentID, err: err})
	})
	s.agentReady = true
	s.maybeActivate()
}

func (s *CallSession) maybeActivate() {
	if !s.negotiated || !s.agentReady {
		return
	}
	_ = s.machine.Event(s.setupCtx, transActivate)

	s.bridge = bridge.New(s.telephony, s.agent)
	s.bridge.Start()

	s.sendAnswer(callcontrol.ActionPreAccept)
}

func (s *CallSession) sendAnswer(action string) {
	go func() {
		err := trace.WithSpan(s.setupCtx, "call."+action, func(ctx context.Context) error {
			return s.deps.CallControl.Answer(ctx, s.callID, s.finalAnswerSDP, action)
		}, oteltrace.WithAttributes(trace.CallID(s.callID)))
		s.post(evAnswerResult{action: action, err: err})
	}()
}

func (s *CallSession) handleAnswerResult(e evAnswerResult) {
	switch e.action {
	case callcontrol.ActionPreAccept:
		if s.machine.Current() != StateBridgeActive {
			return
		}
		if e.err != nil {
			// Aborts the accept step; no retry. The provider will time
			// the call out on its side.
			log.Printf("[session %s] pre_accept failed, accept aborted: %v", s.callID, e.err)
			return
		}
		_ = s.machine.Event(s.setupCtx, transPreAccept)
		s.acceptTimer = time.AfterFunc(s.deps.Timing.AcceptDelay, func() {
			s.post(evAcceptDue{})
		})
	case callcontrol.ActionAccept:
		if s.machine.Current() != StatePreAccepted {
			return
		}
		if e.err != nil {
			log.Printf("[session %s] accept failed: %v", s.callID, e.err)
			return
		}
		_ = s.machine.Event(s.setupCtx, transAccept)
		log.Printf("[session %s] call accepted, audio bridged", s.callID)
	}
}

func (s *CallSession) handleTransportClosed(e evTransportClosed) {
	log.Printf("[session %s] transport closed on %s: %v", s.callID, e.legID, e.err)
	switch s.machine.Current() {
	case StateBridgeActive, StatePreAccepted, StateAccepted:
		// Mid-call loss of either transport ends the call.
		s.teardown(transTerminate)
	default:
		s.fail(&TransportError{LegID: e.legID, Err: e.err})
	}
}

// fail rejects the call and tears the session down into Failed. Setup-phase
// errors always surface to call control as an explicit reject.
func (s *CallSession) fail(err error) {
	log.Printf("[session %s] call failed: %v", s.callID, err)
	go s.deps.CallControl.Reject(context.Background(), s.callID)
	s.teardown(transFail)
}

// teardown releases the bridge and both legs, cancels pending timers and
// in-flight setup work, and moves to the terminal state. Idempotent: a
// second invocation (terminate event racing a socket-close error, say)
// is a no-op.
func (s *CallSession) teardown(trans string) {
	if s.torndown {
		return
	}
	s.torndown = true

	if s.acceptTimer != nil {
		s.acceptTimer.Stop()
		s.acceptTimer = nil
	}
	s.setupCancel()

	if s.bridge != nil {
		s.bridge.Close()
	}
	if s.agent != nil {
		s.agent.Close()
	}
	if s.telephony != nil {
		s.telephony.Close()
	}

	_ = s.machine.Event(context.Background(), trans)
	log.Printf("[session %s] torn down (%s)", s.callID, s.machine.Current())

	if s.onDone != nil {
		s.onDone(s)
	}
}
