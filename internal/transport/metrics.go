package transport

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	packetsSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "screenlink",
		Subsystem: "transport",
		Name:      "rtp_packets_total",
		Help:      "RTP packets sent to the router",
	})

	bytesSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "screenlink",
		Subsystem: "transport",
		Name:      "rtp_bytes_total",
		Help:      "RTP bytes sent to the router, headers included",
	})

	sendErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "screenlink",
		Subsystem: "transport",
		Name:      "send_errors_total",
		Help:      "Datagrams that failed to send",
	})

	rtcpPacketsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "screenlink",
		Subsystem: "transport",
		Name:      "rtcp_packets_total",
		Help:      "RTCP packets received from the router by kind",
	}, []string{"kind"})

	keyframeRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "screenlink",
		Subsystem: "transport",
		Name:      "keyframe_requests_total",
		Help:      "Keyframe requests received (PLI or FIR)",
	}, []string{"kind"})

	nacksReceived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "screenlink",
		Subsystem: "transport",
		Name:      "nacks_received_total",
		Help:      "Packets reported lost via NACK (indicates packet loss)",
	})
)
