package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionState = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "screenlink",
		Subsystem: "session",
		Name:      "state",
		Help:      "Session state (0 idle, 1 starting, 2 running, 3 degraded, 4 stopping, 5 stopped, 6 failed)",
	})

	sessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "screenlink",
		Subsystem: "session",
		Name:      "finished_total",
		Help:      "Sessions that ended, by final state",
	}, []string{"state"})

	degradationLevel = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "screenlink",
		Subsystem: "session",
		Name:      "degradation_level",
		Help:      "Current degradation level (0 normal to 3 aggressive downscale)",
	})

	framesEncoded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "screenlink",
		Subsystem: "encoder",
		Name:      "access_units_total",
		Help:      "Access units produced by the encoder",
	})

	encodeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "screenlink",
		Subsystem: "encoder",
		Name:      "errors_total",
		Help:      "Frames the encoder failed on",
	})

	backendFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "screenlink",
		Subsystem: "encoder",
		Name:      "fallbacks_total",
		Help:      "Switches to the software encoder",
	}, []string{"kind"})

	workerDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "screenlink",
		Subsystem: "session",
		Name:      "frames_dropped_total",
		Help:      "Frames dropped by the sender worker by cause",
	}, []string{"cause"})

	relayDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "screenlink",
		Subsystem: "relay",
		Name:      "depth",
		Help:      "Frames waiting in the relay",
	})
)
