package connection

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/realtime-ai/voice-bridge/pkg/audio"
)

const (
	agentWriteWait  = 10 * time.Second
	agentPongWait   = 60 * time.Second
	agentPingPeriod = 54 * time.Second // must be less than pongWait

	agentOutQueueSize = 50
)

// AgentLeg adapts the AI-voice duplex websocket to the MediaLeg interface.
// Binary frames carry raw PCM at the session's negotiated sample rate in
// either direction; text frames are JSON events surfaced via OnEvent.
type AgentLeg struct {
	id   string
	conn *websocket.Conn

	sampleRate int

	handler  AudioHandler
	onEvent  func(ev AgentEvent)
	onClosed func(err error)

	outChan chan []byte

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	once    sync.Once
	mu      sync.RWMutex
	writeMu sync.Mutex
	closed  atomic.Bool
}

var _ MediaLeg = (*AgentLeg)(nil)

// DialAgentLeg connects to the agent session's join endpoint. The caller
// bounds the connect attempt through ctx; a timed-out dial returns an error
// and no leg.
func DialAgentLeg(ctx context.Context, joinURL string, sampleRate int) (*AgentLeg, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, joinURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial agent socket: %w", err)
	}

	legCtx, cancel := context.WithCancel(context.Background())
	l := &AgentLeg{
		id:         "agent-" + uuid.New().String(),
		conn:       conn,
		sampleRate: sampleRate,
		outChan:    make(chan []byte, agentOutQueueSize),
		ctx:        legCtx,
		cancel:     cancel,
	}
	l.start()
	return l, nil
}

func (l *AgentLeg) ID() string {
	return l.id
}

func (l *AgentLeg) NativeSampleRate() int {
	return l.sampleRate
}

func (l *AgentLeg) OnAudio(handler AudioHandler) {
	l.mu.Lock()
	l.handler = handler
	l.mu.Unlock()
}

// OnEvent registers the handler for decoded text-frame events.
func (l *AgentLeg) OnEvent(fn func(ev AgentEvent)) {
	l.mu.Lock()
	l.onEvent = fn
	l.mu.Unlock()
}

// OnClosed registers a callback fired once when the socket goes away.
func (l *AgentLeg) OnClosed(fn func(err error)) {
	l.mu.Lock()
	l.onClosed = fn
	l.mu.Unlock()
}

// WriteAudio queues a PCM chunk for transmission. The agent consumes
// arbitrary-length chunks, so no re-framing happens here. A full queue
// drops the chunk rather than stalling the sender.
func (l *AgentLeg) WriteAudio(pcm []int16) error {
	if l.closed.Load() {
		return fmt.Errorf("agent leg %s closed", l.id)
	}
	select {
	case l.outChan <- audio.SamplesToBytes(pcm):
	default:
		log.Printf("[agent %s] output queue full, dropping %d samples", l.id, len(pcm))
	}
	return nil
}

func (l *AgentLeg) Close() error {
	l.once.Do(func() {
		l.closed.Store(true)
		l.cancel()
		l.conn.Close()
	})
	return nil
}

func (l *AgentLeg) start() {
	l.conn.SetReadDeadline(time.Now().Add(agentPongWait))
	l.conn.SetPongHandler(func(string) error {
		l.conn.SetReadDeadline(time.Now().Add(agentPongWait))
		return nil
	})

	l.wg.Add(3)
	go l.readPump()
	go l.writePump()
	go l.pingPump()
}

func (l *AgentLeg) readPump() {
	defer l.wg.Done()
	defer l.Close()

	for {
		msgType, data, err := l.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[agent %s] read error: %v", l.id, err)
			}
			l.notifyClosed(err)
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			l.mu.RLock()
			handler := l.handler
			l.mu.RUnlock()
			if handler != nil && len(data) >= audio.BytesPerSample {
				handler(audio.BytesToSamples(data))
			}
		case websocket.TextMessage:
			l.handleEvent(DecodeAgentEvent(data))
		}
	}
}

func (l *AgentLeg) handleEvent(ev AgentEvent) {
	switch e := ev.(type) {
	case TranscriptEvent:
		log.Printf("[agent %s] transcript (%s): %s", l.id, e.Role, e.Text)
	case StateEvent:
		log.Printf("[agent %s] state: %s", l.id, e.State)
	case UnknownEvent:
		// Malformed or unrecognized frames are a no-op.
	}

	l.mu.RLock()
	fn := l.onEvent
	l.mu.RUnlock()
	if fn != nil {
		fn(ev)
	}
}

func (l *AgentLeg) writePump() {
	defer l.wg.Done()

	for {
		select {
		case <-l.ctx.Done():
			return
		case data := <-l.outChan:
			l.writeMu.Lock()
			l.conn.SetWriteDeadline(time.Now().Add(agentWriteWait))
			err := l.conn.WriteMessage(websocket.BinaryMessage, data)
			l.writeMu.Unlock()
			if err != nil {
				log.Printf("[agent %s] write error: %v", l.id, err)
				return
			}
		}
	}
}

func (l *AgentLeg) pingPump() {
	defer l.wg.Done()

	ticker := time.NewTicker(agentPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-l.ctx.Done():
			return
		case <-ticker.C:
			l.writeMu.Lock()
			err := l.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(agentWriteWait))
			l.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (l *AgentLeg) notifyClosed(err error) {
	l.mu.Lock()
	fn := l.onClosed
	l.onClosed = nil
	l.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}
