package bridge

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	framesForwarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "voice_bridge",
		Name:      "frames_forwarded_total",
		Help:      "Audio chunks forwarded per direction.",
	}, []string{"direction"})

	packetsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "voice_bridge",
		Name:      "packets_dropped_total",
		Help:      "Audio chunks dropped per direction and cause.",
	}, []string{"direction", "cause"})
)

const (
	directionToAgent     = "telephony_to_agent"
	directionToTelephony = "agent_to_telephony"

	causeResample = "resample"
	causeWrite    = "write"
	causeClosed   = "closed"
)
