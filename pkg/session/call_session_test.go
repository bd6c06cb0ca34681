package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitState(t *testing.T, s *CallSession, want string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return s.State() == want
	}, 2*time.Second, 5*time.Millisecond, "session never reached %s (last %s)", want, s.State())
}

func waitDone(t *testing.T, s *CallSession) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("session never finished, state %s", s.State())
	}
}

func startSession(t *testing.T, h *testHarness, timing Timing) (*Manager, *CallSession) {
	t.Helper()
	m := NewManager(h.deps(timing))
	require.NoError(t, m.Dispatch(connectEvent("call-1")))
	_, _, ok := m.Active()
	require.True(t, ok)
	m.mu.Lock()
	s := m.active
	m.mu.Unlock()
	require.NotNil(t, s)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return m, s
}

func TestSessionHappyPathAccepts(t *testing.T) {
	h := newTestHarness()
	_, s := startSession(t, h, fastTiming())

	waitState(t, s, StateAccepted)

	answers := h.callControl.answerCalls()
	require.Len(t, answers, 2)
	assert.Equal(t, "pre_accept", answers[0].action)
	assert.Equal(t, "accept", answers[1].action)

	// The role in the reported answer is rewritten before either action.
	for _, a := range answers {
		assert.Contains(t, a.sdp, "a=setup:active")
		assert.NotContains(t, a.sdp, "actpass")
	}

	// Accept waits out the settle delay after pre_accept succeeded.
	gap := answers[1].at.Sub(answers[0].at)
	assert.GreaterOrEqual(t, gap, fastTiming().AcceptDelay)

	assert.Empty(t, h.callControl.rejectCalls())
}

func TestSessionNoCredentialRejectsBeforeProvisioning(t *testing.T) {
	h := newTestHarness()
	deps := h.deps(fastTiming())
	deps.HasAgentCredential = false
	m := NewManager(deps)

	require.NoError(t, m.Dispatch(connectEvent("call-1")))

	assert.Eventually(t, func() bool {
		return len(h.callControl.rejectCalls()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, h.provisioner.callCount())
	assert.Empty(t, h.callControl.answerCalls())

	assert.Eventually(t, func() bool {
		_, _, ok := m.Active()
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestSessionProvisioningFailureFails(t *testing.T) {
	h := newTestHarness()
	h.provisioner.err = errors.New("upstream 503")
	_, s := startSession(t, h, fastTiming())

	waitDone(t, s)

	assert.Equal(t, StateFailed, s.State())
	assert.Equal(t, []string{"call-1"}, waitRejects(t, h, 1))
	assert.Empty(t, h.callControl.answerCalls())
}

func TestSessionNegotiationFailureFails(t *testing.T) {
	h := newTestHarness()
	h.telephony.negotiateErr = errors.New("bad offer")
	_, s := startSession(t, h, fastTiming())

	waitDone(t, s)

	assert.Equal(t, StateFailed, s.State())
	waitRejects(t, h, 1)
	assert.Empty(t, h.callControl.answerCalls())
	// The agent socket opened during setup must not leak.
	assert.Eventually(t, func() bool {
		return h.agent.closeCount() >= 1
	}, time.Second, 5*time.Millisecond)
}

func TestSessionAgentConnectTimeout(t *testing.T) {
	h := newTestHarness()
	h.dialBlocks = true
	timing := Timing{ConnectTimeout: 50 * time.Millisecond, AcceptDelay: 10 * time.Millisecond}
	_, s := startSession(t, h, timing)

	waitDone(t, s)

	assert.Equal(t, StateFailed, s.State())
	waitRejects(t, h, 1)
	assert.Empty(t, h.callControl.answerCalls())
	assert.GreaterOrEqual(t, h.telephony.closeCount(), 1)
}

func TestSessionTerminateMidCall(t *testing.T) {
	h := newTestHarness()
	// Keep the pre_accept step from advancing so the call parks in
	// bridge_active with live legs.
	h.callControl.answerErr["pre_accept"] = errors.New("provider hiccup")
	m, s := startSession(t, h, fastTiming())

	waitState(t, s, StateBridgeActive)

	require.NoError(t, m.Dispatch(CallEvent{CallID: "call-1", Event: EventTerminate}))
	waitDone(t, s)

	assert.Equal(t, StateTerminated, s.State())
	assert.GreaterOrEqual(t, h.telephony.closeCount(), 1)
	assert.GreaterOrEqual(t, h.agent.closeCount(), 1)
	// A mid-call hangup is not a setup failure; no reject goes out.
	assert.Empty(t, h.callControl.rejectCalls())
}

func TestSessionTerminateIsIdempotent(t *testing.T) {
	h := newTestHarness()
	m, s := startSession(t, h, fastTiming())

	waitState(t, s, StateAccepted)

	require.NoError(t, m.Dispatch(CallEvent{CallID: "call-1", Event: EventTerminate}))
	waitDone(t, s)
	require.NoError(t, m.Dispatch(CallEvent{CallID: "call-1", Event: EventTerminate}))
	s.Terminate()

	assert.Equal(t, StateTerminated, s.State())
	assert.Equal(t, 1, h.telephony.closeCount())
	assert.Equal(t, 1, h.agent.closeCount())
}

func TestSessionNoAcceptAfterTerminate(t *testing.T) {
	h := newTestHarness()
	timing := Timing{ConnectTimeout: 500 * time.Millisecond, AcceptDelay: 80 * time.Millisecond}
	_, s := startSession(t, h, timing)

	waitState(t, s, StatePreAccepted)
	s.Terminate()
	waitDone(t, s)

	time.Sleep(2 * timing.AcceptDelay)
	answers := h.callControl.answerCalls()
	require.Len(t, answers, 1)
	assert.Equal(t, "pre_accept", answers[0].action)
	assert.Equal(t, StateTerminated, s.State())
}

func TestSessionTransportLossMidCallTerminates(t *testing.T) {
	h := newTestHarness()
	_, s := startSession(t, h, fastTiming())

	waitState(t, s, StateAccepted)
	h.agent.dropTransport(errors.New("websocket: close 1006"))
	waitDone(t, s)

	assert.Equal(t, StateTerminated, s.State())
	assert.GreaterOrEqual(t, h.telephony.closeCount(), 1)
	assert.Empty(t, h.callControl.rejectCalls())
}

func TestSessionLateAgentOpenReleasesSocket(t *testing.T) {
	// An agent socket that finishes opening while or after the call fails
	// must still be closed, on every interleaving of the open against
	// teardown. Even iterations let the open race teardown; odd ones hold
	// it until the session is fully gone.
	for i := 0; i < 20; i++ {
		h := newTestHarness()
		h.telephony.negotiateErr = errors.New("bad offer")
		h.dialGate = make(chan struct{})
		_, s := startSession(t, h, fastTiming())

		if i%2 == 0 {
			close(h.dialGate)
		}
		waitDone(t, s)
		if i%2 == 1 {
			close(h.dialGate)
		}

		require.Eventually(t, func() bool {
			return h.agent.closeCount() >= 1
		}, time.Second, time.Millisecond, "iteration %d leaked the agent leg", i)
	}
}

func TestSessionTransportLossDuringSetupFails(t *testing.T) {
	h := newTestHarness()
	h.telephony.negotiateGate = make(chan struct{})
	defer close(h.telephony.negotiateGate)
	_, s := startSession(t, h, fastTiming())

	require.Eventually(t, func() bool {
		return h.telephony.closedHandlerSet()
	}, time.Second, 5*time.Millisecond)
	h.telephony.dropTransport(errors.New("dtls handshake failed"))
	waitDone(t, s)

	assert.Equal(t, StateFailed, s.State())
	waitRejects(t, h, 1)
	assert.Empty(t, h.callControl.answerCalls())
}

func TestManagerRejectsSecondCall(t *testing.T) {
	h := newTestHarness()
	// Park the first call so its slot stays occupied.
	h.callControl.answerErr["pre_accept"] = errors.New("provider hiccup")
	m, s := startSession(t, h, fastTiming())
	waitState(t, s, StateBridgeActive)

	err := m.Dispatch(connectEvent("call-2"))

	assert.ErrorIs(t, err, ErrCallInProgress)
	assert.Equal(t, []string{"call-2"}, waitRejects(t, h, 1))
	callID, _, ok := m.Active()
	require.True(t, ok)
	assert.Equal(t, "call-1", callID)
}

func TestManagerAcceptsAfterSlotReleased(t *testing.T) {
	h := newTestHarness()
	m, s := startSession(t, h, fastTiming())

	waitState(t, s, StateAccepted)
	s.Terminate()
	waitDone(t, s)

	require.NoError(t, m.Dispatch(connectEvent("call-2")))
	callID, _, ok := m.Active()
	require.True(t, ok)
	assert.Equal(t, "call-2", callID)
}

func TestManagerIgnoresUnknownEvents(t *testing.T) {
	h := newTestHarness()
	m := NewManager(h.deps(fastTiming()))

	assert.NoError(t, m.Dispatch(CallEvent{CallID: "call-1", Event: "ringing"}))
	assert.NoError(t, m.Dispatch(CallEvent{CallID: "nope", Event: EventTerminate}))

	_, _, ok := m.Active()
	assert.False(t, ok)
	assert.Equal(t, 0, h.provisioner.callCount())
}

func TestManagerShutdownWaitsForTeardown(t *testing.T) {
	h := newTestHarness()
	m, s := startSession(t, h, fastTiming())
	waitState(t, s, StateAccepted)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))

	assert.Equal(t, StateTerminated, s.State())
	_, _, ok := m.Active()
	assert.False(t, ok)
}

func waitRejects(t *testing.T, h *testHarness, n int) []string {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(h.callControl.rejectCalls()) >= n
	}, time.Second, 5*time.Millisecond)
	return h.callControl.rejectCalls()
}
