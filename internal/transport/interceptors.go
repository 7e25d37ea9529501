package transport

import (
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/nack"
	"github.com/pion/interceptor/pkg/report"
	"github.com/pion/interceptor/pkg/stats"
	pion "github.com/pion/webrtc/v4"

	"github.com/smazurov/screenlink/internal/encoder"
)

// DefaultNACKBufferSize is the number of sent packets kept for retransmission.
// At 8 Mbit/s with ~1200 byte packets this is about one second of history.
const DefaultNACKBufferSize = 1024

// statsHolder receives the stats getter when the chain is built.
type statsHolder struct {
	mu     sync.Mutex
	getter stats.Getter
}

func (h *statsHolder) set(g stats.Getter) {
	h.mu.Lock()
	h.getter = g
	h.mu.Unlock()
}

func (h *statsHolder) get(ssrc uint32) *stats.Stats {
	h.mu.Lock()
	g := h.getter
	h.mu.Unlock()
	if g == nil {
		return nil
	}
	return g.Get(ssrc)
}

// buildChain assembles the interceptors for one session: sender reports,
// outbound/remote-inbound statistics and, when enabled, a NACK responder.
func buildChain(cfg Config, holder *statsHolder) (interceptor.Interceptor, error) {
	registry := &interceptor.Registry{}

	if cfg.NACK {
		responder, err := nack.NewResponderInterceptor(nack.ResponderSize(cfg.NACKBufferSize))
		if err != nil {
			return nil, err
		}
		registry.Add(responder)
	}

	sender, err := report.NewSenderInterceptor(report.SenderInterval(cfg.ReportInterval))
	if err != nil {
		return nil, err
	}
	registry.Add(sender)

	statsFactory, err := stats.NewInterceptor()
	if err != nil {
		return nil, err
	}
	statsFactory.OnNewPeerConnection(func(_ string, g stats.Getter) {
		holder.set(g)
	})
	registry.Add(statsFactory)

	return registry.Build("screenlink")
}

// streamInfo describes the outbound stream to the interceptors.
func streamInfo(cfg Config, desc encoder.CodecDescriptor) *interceptor.StreamInfo {
	feedback := []interceptor.RTCPFeedback{
		{Type: pion.TypeRTCPFBNACK, Parameter: "pli"},
		{Type: pion.TypeRTCPFBCCM, Parameter: "fir"},
	}
	if cfg.NACK {
		feedback = append(feedback, interceptor.RTCPFeedback{Type: pion.TypeRTCPFBNACK})
	}
	return &interceptor.StreamInfo{
		ID:           "screen",
		SSRC:         cfg.SSRC,
		PayloadType:  cfg.PayloadType,
		MimeType:     desc.MimeType,
		ClockRate:    desc.ClockRate,
		SDPFmtpLine:  desc.Fmtp(),
		RTCPFeedback: feedback,
	}
}
