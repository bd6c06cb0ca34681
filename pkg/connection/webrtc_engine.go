package connection

import (
	"fmt"
	"net"

	"github.com/pion/webrtc/v4"
)

// NewWebRTCAPI builds the shared pion API for telephony legs: an Opus-only
// media engine and a setting engine multiplexing all ICE traffic over a
// single UDP port. ICE-lite is enabled since the bridge runs on a public
// address and the calling service is always the controlling agent.
func NewWebRTCAPI(udpPort int) (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   TelephonySampleRate,
			Channels:    TelephonyChannels,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		PayloadType: 111,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("register opus codec: %w", err)
	}

	s := webrtc.SettingEngine{}
	s.SetLite(true)
	s.SetFireOnTrackBeforeFirstRTP(true)
	s.SetNetworkTypes([]webrtc.NetworkType{
		webrtc.NetworkTypeUDP4,
		webrtc.NetworkTypeUDP6,
	})

	udpListener, err := net.ListenUDP("udp", &net.UDPAddr{
		IP:   net.ParseIP("0.0.0.0"),
		Port: udpPort,
	})
	if err != nil {
		return nil, fmt.Errorf("listen udp %d: %w", udpPort, err)
	}
	s.SetICEUDPMux(webrtc.NewICEUDPMux(nil, udpListener))

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithSettingEngine(s),
	), nil
}
