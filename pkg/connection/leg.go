// Package connection provides the media leg adapters for the bridge: the
// telephony WebRTC leg and the AI-voice agent socket leg. A leg hides its
// transport framing (RTP/Opus, websocket binary frames) and exposes raw
// 16-bit mono PCM at its native sample rate.
package connection

// AudioHandler receives inbound PCM from a leg. Handlers are invoked from
// the leg's single read goroutine, so per-leg sample ordering is preserved
// as long as the handler processes each chunk to completion.
type AudioHandler func(pcm []int16)

// MediaLeg is one side of the bridge.
type MediaLeg interface {
	// ID returns the unique identifier of this leg.
	ID() string

	// NativeSampleRate is the rate at which this leg produces and
	// consumes PCM.
	NativeSampleRate() int

	// OnAudio registers the handler for inbound PCM. Registering a new
	// handler replaces the previous one.
	OnAudio(handler AudioHandler)

	// WriteAudio queues PCM for transmission. It never blocks the caller;
	// legs that cannot keep up drop audio.
	WriteAudio(pcm []int16) error

	// Close shuts down the underlying transport. Safe to call more
	// than once.
	Close() error
}
