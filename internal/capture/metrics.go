package capture

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	framesCaptured = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "screenlink",
		Subsystem: "capture",
		Name:      "frames_total",
		Help:      "Frames read from the capture surface",
	})

	framesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "screenlink",
		Subsystem: "capture",
		Name:      "frames_dropped_total",
		Help:      "Frames not delivered to the encoder by cause",
	}, []string{"cause"})
)
