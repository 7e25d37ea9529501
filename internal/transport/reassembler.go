package transport

import (
	"errors"
	"fmt"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"

	"github.com/smazurov/screenlink/internal/encoder"
)

// ErrPacketLoss is returned when a sequence gap corrupts the unit being rebuilt.
var ErrPacketLoss = errors.New("packet loss")

// Unit is an access unit rebuilt from RTP packets, in canonical Annex-B form.
type Unit struct {
	Data      []byte
	Timestamp uint32
	Keyframe  bool
	Packets   int
}

// Reassembler rebuilds access units from an H.264 RTP stream.
type Reassembler struct {
	depacketizer codecs.H264Packet

	buf       []byte
	ts        uint32
	packets   int
	started   bool
	corrupt   bool
	lastSeq   uint16
	lastTS    uint32
	lastEnded bool
	haveSeq   bool
	lost      uint64
	completed uint64
}

// NewReassembler creates an empty reassembler.
func NewReassembler() *Reassembler {
	return &Reassembler{}
}

// Push adds one packet. It returns a unit when pkt carries the marker bit and
// every packet of the unit arrived in sequence. A gap discards the unit in
// progress and returns ErrPacketLoss once; the stream resumes at the next unit.
//
// When exactly one packet is missing, the packet before it did not end its
// unit and pkt carries a new timestamp, the missing packet was the old unit's
// last one. pkt then starts the next unit cleanly, and Push may return that
// unit together with ErrPacketLoss.
func (r *Reassembler) Push(pkt *rtp.Packet) (*Unit, error) {
	seq := pkt.SequenceNumber
	var lossErr error
	if r.haveSeq {
		if gap := seq - r.lastSeq; gap != 1 {
			if int16(gap) <= 0 {
				// Duplicate or reordered; the unit it belonged to is already settled.
				return nil, nil
			}
			r.lost += uint64(gap - 1)
			lossErr = fmt.Errorf("%w: %d packets missing before seq %d", ErrPacketLoss, gap-1, seq)
			fresh := gap == 2 && !r.lastEnded && pkt.Timestamp != r.lastTS
			r.discard()
			r.remember(pkt)
			if !fresh {
				r.corrupt = true
				r.finishIfMarked(pkt)
				return nil, lossErr
			}
			r.corrupt = false
		}
	}
	r.remember(pkt)

	if r.started && pkt.Timestamp != r.ts {
		// The previous unit never saw its marker.
		r.discard()
	}
	if !r.started {
		r.started = true
		r.ts = pkt.Timestamp
	}
	r.packets++

	if !r.corrupt {
		out, err := r.depacketizer.Unmarshal(pkt.Payload)
		if err != nil {
			r.discard()
			r.corrupt = true
			r.finishIfMarked(pkt)
			return nil, errors.Join(lossErr, fmt.Errorf("depacketize seq %d: %w", seq, err))
		}
		r.buf = append(r.buf, out...)
	}

	if !pkt.Marker {
		return nil, lossErr
	}
	if r.corrupt {
		r.finishIfMarked(pkt)
		return nil, lossErr
	}

	u := &Unit{
		Data:      append([]byte(nil), r.buf...),
		Timestamp: r.ts,
		Packets:   r.packets,
	}
	for _, n := range encoder.SplitAnnexB(u.Data) {
		if encoder.NALType(n) == encoder.NALIDR {
			u.Keyframe = true
			break
		}
	}
	r.completed++
	r.reset()
	return u, lossErr
}

func (r *Reassembler) remember(pkt *rtp.Packet) {
	r.lastSeq = pkt.SequenceNumber
	r.lastTS = pkt.Timestamp
	r.lastEnded = pkt.Marker
	r.haveSeq = true
}

// finishIfMarked ends a corrupt unit at its marker so the next one starts clean.
func (r *Reassembler) finishIfMarked(pkt *rtp.Packet) {
	if pkt.Marker {
		r.reset()
		r.corrupt = false
	}
}

func (r *Reassembler) discard() {
	r.depacketizer = codecs.H264Packet{}
	r.buf = r.buf[:0]
	r.started = false
	r.packets = 0
}

func (r *Reassembler) reset() {
	r.buf = r.buf[:0]
	r.started = false
	r.packets = 0
}

// Lost returns how many packets were detected missing.
func (r *Reassembler) Lost() uint64 { return r.lost }

// Completed returns how many units were rebuilt.
func (r *Reassembler) Completed() uint64 { return r.completed }
