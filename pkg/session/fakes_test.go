package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/realtime-ai/voice-bridge/pkg/connection"
	"github.com/realtime-ai/voice-bridge/pkg/provision"
)

// testAnswerSDP is a minimal parseable answer with an undetermined role,
// the shape the munge step expects from the stack.
var testAnswerSDP = strings.Join([]string{
	"v=0",
	"o=- 3948172 2 IN IP4 127.0.0.1",
	"s=-",
	"t=0 0",
	"m=audio 9 UDP/TLS/RTP/SAVPF 111",
	"c=IN IP4 0.0.0.0",
	"a=setup:actpass",
	"a=mid:0",
	"a=rtpmap:111 opus/48000/2",
	"",
}, "\r\n")

type fakeProvisioner struct {
	mu    sync.Mutex
	sess  *provision.AgentSession
	err   error
	calls int
}

func (p *fakeProvisioner) CreateSession(ctx context.Context, callerName string) (*provision.AgentSession, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	return p.sess, nil
}

func (p *fakeProvisioner) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type answerCall struct {
	action string
	sdp    string
	at     time.Time
}

type fakeCallControl struct {
	mu        sync.Mutex
	answers   []answerCall
	answerErr map[string]error
	rejects   []string
}

func (c *fakeCallControl) Answer(ctx context.Context, callID, sdp, action string) error {
	c.mu.Lock()
	c.answers = append(c.answers, answerCall{action: action, sdp: sdp, at: time.Now()})
	err := c.answerErr[action]
	c.mu.Unlock()
	return err
}

func (c *fakeCallControl) Reject(ctx context.Context, callID string) {
	c.mu.Lock()
	c.rejects = append(c.rejects, callID)
	c.mu.Unlock()
}

func (c *fakeCallControl) answerCalls() []answerCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]answerCall(nil), c.answers...)
}

func (c *fakeCallControl) rejectCalls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.rejects...)
}

type fakeLeg struct {
	id   string
	rate int

	mu       sync.Mutex
	handler  connection.AudioHandler
	onClosed func(error)
	closes   int

	negotiateErr error

	// negotiateGate, when set, holds Negotiate until closed.
	negotiateGate chan struct{}
}

func (l *fakeLeg) ID() string            { return l.id }
func (l *fakeLeg) NativeSampleRate() int { return l.rate }

func (l *fakeLeg) OnAudio(handler connection.AudioHandler) {
	l.mu.Lock()
	l.handler = handler
	l.mu.Unlock()
}

func (l *fakeLeg) WriteAudio(pcm []int16) error { return nil }

func (l *fakeLeg) OnClosed(fn func(error)) {
	l.mu.Lock()
	l.onClosed = fn
	l.mu.Unlock()
}

func (l *fakeLeg) Close() error {
	l.mu.Lock()
	l.closes++
	l.mu.Unlock()
	return nil
}

func (l *fakeLeg) closeCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closes
}

// dropTransport simulates a terminal transport error on this leg.
func (l *fakeLeg) dropTransport(err error) {
	l.mu.Lock()
	fn := l.onClosed
	l.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

func (l *fakeLeg) Negotiate(ctx context.Context, offerSDP string) (string, error) {
	if l.negotiateGate != nil {
		select {
		case <-l.negotiateGate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if l.negotiateErr != nil {
		return "", l.negotiateErr
	}
	return testAnswerSDP, nil
}

func (l *fakeLeg) closedHandlerSet() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.onClosed != nil
}

// testHarness bundles default fakes wired into a Deps.
type testHarness struct {
	provisioner *fakeProvisioner
	callControl *fakeCallControl
	telephony   *fakeLeg
	agent       *fakeLeg

	// dialBlocks makes the agent dial hang until the dial context ends,
	// simulating a socket that never opens.
	dialBlocks bool

	// dialGate, when set, holds the dial until closed and then succeeds
	// regardless of the dial context, simulating a socket that opens after
	// the call is already gone.
	dialGate chan struct{}
}

func newTestHarness() *testHarness {
	return &testHarness{
		provisioner: &fakeProvisioner{
			sess: &provision.AgentSession{
				SessionID:  "sess-1",
				JoinURL:    "ws://agent.test/join/sess-1",
				SampleRate: 16000,
			},
		},
		callControl: &fakeCallControl{answerErr: map[string]error{}},
		telephony:   &fakeLeg{id: "tel-1", rate: 48000},
		agent:       &fakeLeg{id: "agent-1", rate: 16000},
	}
}

func (h *testHarness) deps(timing Timing) Deps {
	return Deps{
		Provisioner: h.provisioner,
		CallControl: h.callControl,
		NewTelephonyLeg: func() (TelephonyLeg, error) {
			return h.telephony, nil
		},
		DialAgentLeg: func(ctx context.Context, joinURL string, sampleRate int) (AgentLeg, error) {
			if h.dialGate != nil {
				<-h.dialGate
				return h.agent, nil
			}
			if h.dialBlocks {
				<-ctx.Done()
				return nil, ctx.Err()
			}
			return h.agent, nil
		},
		HasAgentCredential: true,
		Timing:             timing,
	}
}

func fastTiming() Timing {
	return Timing{
		ConnectTimeout: 500 * time.Millisecond,
		AcceptDelay:    40 * time.Millisecond,
	}
}

func connectEvent(callID string) CallEvent {
	return CallEvent{
		CallID:     callID,
		Event:      EventConnect,
		OfferSDP:   "v=0\r\n",
		CallerName: "Alice",
	}
}
