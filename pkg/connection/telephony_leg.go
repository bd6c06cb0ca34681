package connection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hraban/opus"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	log "github.com/sirupsen/logrus"
)

const (
	// TelephonySampleRate is the leg's native PCM rate. WebRTC audio is
	// Opus at a 48 kHz clock; the codec is handled here so the bridge
	// only ever sees PCM.
	TelephonySampleRate = 48000
	TelephonyChannels   = 1

	opusBitRate = 50000

	// maxOpusFrameSamples covers a 120 ms Opus frame at 48 kHz.
	maxOpusFrameSamples = 5760
)

// ErrNotNegotiated is returned by WriteAudio before the answer exchange
// has produced a local track.
var ErrNotNegotiated = errors.New("telephony leg not negotiated")

// TelephonyLeg adapts a caller's WebRTC peer connection to the MediaLeg
// interface. Inbound RTP is decoded to 48 kHz PCM; outbound PCM must arrive
// in 10 ms frames (480 samples) and is encoded to Opus.
type TelephonyLeg struct {
	id string
	pc *webrtc.PeerConnection

	localTrack  *webrtc.TrackLocalStaticSample
	remoteTrack *webrtc.TrackRemote

	encoder *opus.Encoder
	decoder *opus.Decoder

	handler  AudioHandler
	onClosed func(err error)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
	mu     sync.RWMutex
}

var _ MediaLeg = (*TelephonyLeg)(nil)

// NewTelephonyLeg creates the WebRTC leg on the shared API. The peer
// connection is created immediately; media starts after Negotiate.
func NewTelephonyLeg(api *webrtc.API) (*TelephonyLeg, error) {
	encoder, err := opus.NewEncoder(TelephonySampleRate, TelephonyChannels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("create opus encoder: %w", err)
	}
	encoder.SetBitrate(opusBitRate)
	encoder.SetComplexity(10)

	decoder, err := opus.NewDecoder(TelephonySampleRate, TelephonyChannels)
	if err != nil {
		return nil, fmt.Errorf("create opus decoder: %w", err)
	}

	pc, err := api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &TelephonyLeg{
		id:      "tel-" + uuid.New().String(),
		pc:      pc,
		encoder: encoder,
		decoder: decoder,
		ctx:     ctx,
		cancel:  cancel,
	}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Printf("[telephony %s] connection state: %v", l.id, state)
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
			l.notifyClosed(fmt.Errorf("peer connection %v", state))
		}
	})

	transceiver, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendrecv,
	})
	if err != nil {
		pc.Close()
		cancel()
		return nil, fmt.Errorf("add audio transceiver: %w", err)
	}
	if sender := transceiver.Sender(); sender != nil {
		if track, ok := sender.Track().(*webrtc.TrackLocalStaticSample); ok {
			l.localTrack = track
		}
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Printf("[telephony %s] OnTrack: %v, codec: %v", l.id, track.ID(), track.Codec().MimeType)
		if track.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		l.mu.Lock()
		l.remoteTrack = track
		l.mu.Unlock()

		l.wg.Add(1)
		go l.readRemoteAudio(track)
	})

	return l, nil
}

func (l *TelephonyLeg) ID() string {
	return l.id
}

func (l *TelephonyLeg) NativeSampleRate() int {
	return TelephonySampleRate
}

func (l *TelephonyLeg) OnAudio(handler AudioHandler) {
	l.mu.Lock()
	l.handler = handler
	l.mu.Unlock()
}

// OnClosed registers a callback fired once when the underlying transport
// goes away (peer connection failed or closed).
func (l *TelephonyLeg) OnClosed(fn func(err error)) {
	l.mu.Lock()
	l.onClosed = fn
	l.mu.Unlock()
}

// Negotiate applies the caller's offer and produces the local answer,
// waiting for ICE gathering so the answer is complete. The returned SDP
// still carries pion's setup attribute; the session rewrites the role
// before delivering it to call control.
func (l *TelephonyLeg) Negotiate(ctx context.Context, offerSDP string) (string, error) {
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}
	if err := l.pc.SetRemoteDescription(offer); err != nil {
		return "", fmt.Errorf("set remote description: %w", err)
	}

	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("create answer: %w", err)
	}
	if err := l.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}

	select {
	case <-webrtc.GatheringCompletePromise(l.pc):
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return l.pc.LocalDescription().SDP, nil
}

// WriteAudio encodes one 10 ms PCM frame and writes it to the local track.
func (l *TelephonyLeg) WriteAudio(pcm []int16) error {
	l.mu.RLock()
	track := l.localTrack
	l.mu.RUnlock()
	if track == nil {
		return ErrNotNegotiated
	}

	buf := make([]byte, 1024)
	n, err := l.encoder.Encode(pcm, buf)
	if err != nil {
		return fmt.Errorf("opus encode: %w", err)
	}
	return track.WriteSample(media.Sample{
		Data:     buf[:n],
		Duration: time.Duration(len(pcm)) * time.Second / TelephonySampleRate,
	})
}

func (l *TelephonyLeg) Close() error {
	var err error
	l.once.Do(func() {
		l.cancel()
		err = l.pc.Close()
		l.wg.Wait()
	})
	return err
}

func (l *TelephonyLeg) readRemoteAudio(track *webrtc.TrackRemote) {
	defer l.wg.Done()

	pcm := make([]int16, maxOpusFrameSamples)
	for {
		select {
		case <-l.ctx.Done():
			return
		default:
		}

		pkt, _, err := track.ReadRTP()
		if err != nil {
			if err != io.EOF {
				log.Printf("[telephony %s] RTP read error: %v", l.id, err)
			}
			l.notifyClosed(err)
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}

		n, err := l.decoder.Decode(pkt.Payload, pcm)
		if err != nil {
			// Malformed packet, drop it and keep the stream alive.
			log.Printf("[telephony %s] opus decode error: %v", l.id, err)
			continue
		}

		l.mu.RLock()
		handler := l.handler
		l.mu.RUnlock()
		if handler != nil {
			out := make([]int16, n)
			copy(out, pcm[:n])
			handler(out)
		}
	}
}

func (l *TelephonyLeg) notifyClosed(err error) {
	l.mu.Lock()
	fn := l.onClosed
	l.onClosed = nil
	l.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}
