package audio

import "sync"

// FrameDurationMs is the packetization interval of emitted frames.
// The telephony leg consumes 10 ms Opus frames, so the framer cuts the
// converted stream on 10 ms boundaries.
const FrameDurationMs = 10

// Framer accumulates converted PCM samples and emits fixed-size frames in
// FIFO order. Partial remainders carry over between pushes. The buffer is
// drained by index and compacted lazily, so emitting a frame does not
// relocate the whole backlog.
type Framer struct {
	mu        sync.Mutex
	frameSize int
	buf       []int16
	readPos   int
}

// NewFramer creates a framer for the given destination sample rate.
// Frame size is sampleRate/100 samples (10 ms at a 100 Hz cadence).
func NewFramer(sampleRate int) *Framer {
	return &Framer{
		frameSize: sampleRate * FrameDurationMs / 1000,
		buf:       make([]int16, 0, sampleRate/5), // room for ~200ms of backlog
	}
}

// FrameSize returns the number of samples per emitted frame.
func (f *Framer) FrameSize() int {
	return f.frameSize
}

// Push appends samples to the accumulator.
func (f *Framer) Push(samples []int16) {
	if len(samples) == 0 {
		return
	}
	f.mu.Lock()
	f.buf = append(f.buf, samples...)
	f.mu.Unlock()
}

// Next pops the oldest complete frame, or returns false if fewer than
// frameSize samples are buffered. The returned slice is a copy and stays
// valid after further Push calls.
func (f *Framer) Next() ([]int16, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.buf)-f.readPos < f.frameSize {
		return nil, false
	}
	frame := make([]int16, f.frameSize)
	copy(frame, f.buf[f.readPos:f.readPos+f.frameSize])
	f.readPos += f.frameSize

	// Compact once the dead prefix dominates the backlog.
	if f.readPos >= len(f.buf) {
		f.buf = f.buf[:0]
		f.readPos = 0
	} else if f.readPos > cap(f.buf)/2 {
		n := copy(f.buf, f.buf[f.readPos:])
		f.buf = f.buf[:n]
		f.readPos = 0
	}
	return frame, true
}

// Buffered returns the number of samples waiting for emission, including
// any partial remainder.
func (f *Framer) Buffered() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.buf) - f.readPos
}

// Reset discards all buffered samples, including partial remainders.
// Called on bridge teardown; there is no flush or padding requirement.
func (f *Framer) Reset() {
	f.mu.Lock()
	f.buf = f.buf[:0]
	f.readPos = 0
	f.mu.Unlock()
}
