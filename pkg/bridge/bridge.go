// Package bridge forwards PCM between the telephony leg and the agent leg,
// converting sample rates and adapting frame sizes in both directions.
//
// Pipelines:
//
//	telephony -> resample(48k -> agent rate) -> agent (arbitrary chunks)
//	agent -> resample(agent rate -> 48k) -> framer(10 ms) -> telephony
//
// Each direction runs entirely inside its leg's read goroutine, so
// per-direction sample order is preserved without extra queues. Conversion
// errors are per-packet: the chunk is counted and dropped, the bridge
// stays up.
package bridge

import (
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"github.com/realtime-ai/voice-bridge/pkg/audio"
	"github.com/realtime-ai/voice-bridge/pkg/connection"
)

// Bridge wires two media legs together. It references the legs but does not
// own them; closing their transports is the session's job.
type Bridge struct {
	telephony connection.MediaLeg
	agent     connection.MediaLeg

	telephonyRate int
	agentRate     int

	// agent -> telephony needs re-framing to the telephony packetization
	// interval. The other direction sends chunks as-is.
	framer *audio.Framer

	closed atomic.Bool
}

// New creates a bridge between the two legs. Rates are taken from the legs
// themselves; the agent rate is whatever provisioning negotiated.
func New(telephony, agent connection.MediaLeg) *Bridge {
	return &Bridge{
		telephony:     telephony,
		agent:         agent,
		telephonyRate: telephony.NativeSampleRate(),
		agentRate:     agent.NativeSampleRate(),
		framer:        audio.NewFramer(telephony.NativeSampleRate()),
	}
}

// Start registers the audio handlers on both legs. Audio flows until Close.
func (b *Bridge) Start() {
	b.telephony.OnAudio(b.forwardToAgent)
	b.agent.OnAudio(b.forwardToTelephony)
	log.Printf("[bridge] active: %s (%d Hz) <-> %s (%d Hz)",
		b.telephony.ID(), b.telephonyRate, b.agent.ID(), b.agentRate)
}

// Close detaches the pipelines and clears buffered samples. Idempotent;
// in-flight callbacks see the closed flag and drop their chunk.
func (b *Bridge) Close() {
	if b.closed.Swap(true) {
		return
	}
	b.telephony.OnAudio(nil)
	b.agent.OnAudio(nil)
	b.framer.Reset()
	log.Printf("[bridge] closed: %s <-> %s", b.telephony.ID(), b.agent.ID())
}

func (b *Bridge) forwardToAgent(pcm []int16) {
	if b.closed.Load() {
		packetsDropped.WithLabelValues(directionToAgent, causeClosed).Inc()
		return
	}
	out, err := audio.Resample(pcm, b.telephonyRate, b.agentRate)
	if err != nil {
		packetsDropped.WithLabelValues(directionToAgent, causeResample).Inc()
		return
	}
	if err := b.agent.WriteAudio(out); err != nil {
		packetsDropped.WithLabelValues(directionToAgent, causeWrite).Inc()
		return
	}
	framesForwarded.WithLabelValues(directionToAgent).Inc()
}

func (b *Bridge) forwardToTelephony(pcm []int16) {
	if b.closed.Load() {
		packetsDropped.WithLabelValues(directionToTelephony, causeClosed).Inc()
		return
	}
	out, err := audio.Resample(pcm, b.agentRate, b.telephonyRate)
	if err != nil {
		packetsDropped.WithLabelValues(directionToTelephony, causeResample).Inc()
		return
	}
	b.framer.Push(out)
	for {
		frame, ok := b.framer.Next()
		if !ok {
			return
		}
		if err := b.telephony.WriteAudio(frame); err != nil {
			packetsDropped.WithLabelValues(directionToTelephony, causeWrite).Inc()
			continue
		}
		framesForwarded.WithLabelValues(directionToTelephony).Inc()
	}
}
