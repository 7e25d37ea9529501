package transport

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtcp"
)

// KeyframeKind identifies the feedback message that asked for a keyframe.
type KeyframeKind int

const (
	KeyframePLI KeyframeKind = iota
	KeyframeFIR
)

func (k KeyframeKind) String() string {
	if k == KeyframeFIR {
		return "fir"
	}
	return "pli"
}

// feedbackQueueSize bounds requests buffered between worker ticks.
const feedbackQueueSize = 64

// FeedbackBatch is everything drained from the queue in one worker tick.
type FeedbackBatch struct {
	PLI int
	FIR int
	// Overflow counts requests that arrived while the queue was full.
	Overflow int
}

// Requests returns the number of keyframe requests in the batch.
func (b FeedbackBatch) Requests() int { return b.PLI + b.FIR + b.Overflow }

// Feedback interprets RTCP coming back from the router. It runs on the
// reader goroutine; the worker drains keyframe requests once per tick so
// they are ordered against encode calls.
type Feedback struct {
	ssrc     uint32
	requests chan KeyframeKind
	overflow atomic.Int64

	mu      sync.Mutex
	firSeq  map[uint32]uint8
	firSeen map[uint32]bool

	lastRTCP     atomic.Int64
	rtcpPackets  atomic.Uint64
	nacks        atomic.Uint64
	fractionLost atomic.Uint32
	totalLost    atomic.Uint32
	jitter       atomic.Uint32
}

// NewFeedback creates a feedback handler for the stream with the given SSRC.
func NewFeedback(ssrc uint32) *Feedback {
	return &Feedback{
		ssrc:     ssrc,
		requests: make(chan KeyframeKind, feedbackQueueSize),
		firSeq:   make(map[uint32]uint8),
		firSeen:  make(map[uint32]bool),
	}
}

// Handle processes a compound RTCP packet received at now.
func (f *Feedback) Handle(pkts []rtcp.Packet, now time.Time) {
	f.lastRTCP.Store(now.UnixNano())
	for _, pkt := range pkts {
		f.rtcpPackets.Add(1)
		rtcpPacketsReceived.WithLabelValues(rtcpKind(pkt)).Inc()

		switch p := pkt.(type) {
		case *rtcp.PictureLossIndication:
			if f.forUs(p.MediaSSRC) {
				f.enqueue(KeyframePLI)
			}
		case *rtcp.FullIntraRequest:
			for _, e := range p.FIR {
				if f.forUs(e.SSRC) && f.newFIR(p.SenderSSRC, e.SequenceNumber) {
					f.enqueue(KeyframeFIR)
				}
			}
		case *rtcp.TransportLayerNack:
			if f.forUs(p.MediaSSRC) {
				n := 0
				for _, pair := range p.Nacks {
					n += len(pair.PacketList())
				}
				f.nacks.Add(uint64(n))
				nacksReceived.Add(float64(n))
			}
		case *rtcp.ReceiverReport:
			for _, r := range p.Reports {
				if f.forUs(r.SSRC) {
					f.fractionLost.Store(uint32(r.FractionLost))
					f.totalLost.Store(r.TotalLost)
					f.jitter.Store(r.Jitter)
				}
			}
		}
	}
}

// forUs accepts messages addressed to our SSRC. Some routers send 0 when a
// session carries a single stream.
func (f *Feedback) forUs(ssrc uint32) bool {
	return ssrc == f.ssrc || ssrc == 0
}

// newFIR drops retransmitted FIRs, which repeat the previous sequence number.
func (f *Feedback) newFIR(sender uint32, seq uint8) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.firSeen[sender] && f.firSeq[sender] == seq {
		return false
	}
	f.firSeen[sender] = true
	f.firSeq[sender] = seq
	return true
}

func (f *Feedback) enqueue(k KeyframeKind) {
	keyframeRequests.WithLabelValues(k.String()).Inc()
	select {
	case f.requests <- k:
	default:
		f.overflow.Add(1)
	}
}

// Drain returns and clears every pending keyframe request without blocking.
func (f *Feedback) Drain() FeedbackBatch {
	var b FeedbackBatch
	for {
		select {
		case k := <-f.requests:
			if k == KeyframeFIR {
				b.FIR++
			} else {
				b.PLI++
			}
		default:
			b.Overflow = int(f.overflow.Swap(0))
			return b
		}
	}
}

// LastReceived returns when RTCP last arrived, or the zero time.
func (f *Feedback) LastReceived() time.Time {
	ns := f.lastRTCP.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// ReceiverStats is what the router reported about our stream.
type ReceiverStats struct {
	RTCPPackets  uint64  `json:"rtcp_packets"`
	NACKs        uint64  `json:"nacks"`
	FractionLost float64 `json:"fraction_lost"`
	TotalLost    uint32  `json:"total_lost"`
	Jitter       uint32  `json:"jitter"`
}

// Stats returns the latest receiver-side figures.
func (f *Feedback) Stats() ReceiverStats {
	return ReceiverStats{
		RTCPPackets:  f.rtcpPackets.Load(),
		NACKs:        f.nacks.Load(),
		FractionLost: float64(f.fractionLost.Load()) / 256,
		TotalLost:    f.totalLost.Load(),
		Jitter:       f.jitter.Load(),
	}
}

func rtcpKind(pkt rtcp.Packet) string {
	switch pkt.(type) {
	case *rtcp.PictureLossIndication:
		return "pli"
	case *rtcp.FullIntraRequest:
		return "fir"
	case *rtcp.TransportLayerNack:
		return "nack"
	case *rtcp.ReceiverReport:
		return "rr"
	case *rtcp.SenderReport:
		return "sr"
	case *rtcp.SourceDescription:
		return "sdes"
	case *rtcp.Goodbye:
		return "bye"
	case *rtcp.ReceiverEstimatedMaximumBitrate:
		return "remb"
	default:
		return "other"
	}
}

// isRTCP distinguishes RTCP from RTP on a muxed socket (RFC 5761).
func isRTCP(b []byte) bool {
	return len(b) >= 2 && b[1] >= 192 && b[1] <= 223
}
