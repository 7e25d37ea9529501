package transport

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/pion/rtp"

	"github.com/smazurov/screenlink/internal/encoder"
)

const (
	rtpHeaderSize = 12

	nalTypeSTAPA = 24
	nalTypeFUA   = 28

	fuStart = 0x80
	fuEnd   = 0x40

	// DefaultMTU leaves room for IP/UDP headers and tunnel overhead.
	DefaultMTU = 1200
	minMTU     = rtpHeaderSize + 64
)

// ErrUnsupportedCodec is returned for a codec the packetizer cannot carry.
var ErrUnsupportedCodec = errors.New("unsupported codec")

// Packetizer converts access units into RTP packets for one stream.
// It is owned by the sender worker.
type Packetizer struct {
	ssrc        uint32
	payloadType uint8
	mtu         int
	sequencer   rtp.Sequencer
	clock       *MediaClock
}

// NewPacketizer creates a packetizer for the codec described by desc.
func NewPacketizer(desc encoder.CodecDescriptor, ssrc uint32, payloadType uint8, mtu int, seq rtp.Sequencer, clock *MediaClock) (*Packetizer, error) {
	if desc.Codec != encoder.CodecH264 {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedCodec, desc.Codec)
	}
	if desc.PacketizationMode != 1 {
		return nil, fmt.Errorf("%w: packetization-mode=%d", ErrUnsupportedCodec, desc.PacketizationMode)
	}
	if mtu <= 0 {
		mtu = DefaultMTU
	}
	if mtu < minMTU {
		return nil, fmt.Errorf("mtu %d below minimum %d", mtu, minMTU)
	}
	if seq == nil {
		seq = rtp.NewRandomSequencer()
	}
	if clock == nil {
		clock = NewMediaClock(desc.ClockRate)
	}
	return &Packetizer{
		ssrc:        ssrc,
		payloadType: payloadType,
		mtu:         mtu,
		sequencer:   seq,
		clock:       clock,
	}, nil
}

// MTU returns the maximum packet size including the RTP header.
func (p *Packetizer) MTU() int { return p.mtu }

// Packetize returns the packets for one access unit in transmission order.
// All packets share the timestamp derived from the unit's capture time and
// only the last one carries the marker bit.
func (p *Packetizer) Packetize(au *encoder.AccessUnit) []*rtp.Packet {
	nalus := make([][]byte, 0, len(au.NALUs))
	for _, n := range au.NALUs {
		if len(n) > 0 {
			nalus = append(nalus, n)
		}
	}
	if len(nalus) == 0 {
		return nil
	}

	ts := p.clock.Timestamp(au.CapturedAt)
	maxPayload := p.mtu - rtpHeaderSize

	var payloads [][]byte
	for i := 0; i < len(nalus); {
		if len(nalus[i]) > maxPayload {
			payloads = append(payloads, fragment(nalus[i], maxPayload)...)
			i++
			continue
		}
		// Aggregate as many following NAL units as fit.
		j, size := i+1, 1+2+len(nalus[i])
		for j < len(nalus) && size+2+len(nalus[j]) <= maxPayload {
			size += 2 + len(nalus[j])
			j++
		}
		if j-i == 1 {
			payloads = append(payloads, nalus[i])
		} else {
			payloads = append(payloads, aggregate(nalus[i:j], size))
		}
		i = j
	}

	packets := make([]*rtp.Packet, len(payloads))
	for i, payload := range payloads {
		packets[i] = &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				Marker:         i == len(payloads)-1,
				PayloadType:    p.payloadType,
				SequenceNumber: p.sequencer.NextSequenceNumber(),
				Timestamp:      ts,
				SSRC:           p.ssrc,
			},
			Payload: payload,
		}
	}
	return packets
}

// aggregate builds a STAP-A payload. The NRI of the aggregate is the highest
// NRI of its members.
func aggregate(nalus [][]byte, size int) []byte {
	out := make([]byte, 1, size)
	var nri byte
	for _, n := range nalus {
		nri = max(nri, n[0]&0x60)
		out = binary.BigEndian.AppendUint16(out, uint16(len(n)))
		out = append(out, n...)
	}
	out[0] = nri | nalTypeSTAPA
	return out
}

// fragment splits one NAL unit into FU-A payloads.
func fragment(nalu []byte, maxPayload int) [][]byte {
	indicator := nalu[0]&0x60 | nalTypeFUA
	header := nalu[0] & 0x1F
	body := nalu[1:]
	chunk := maxPayload - 2

	out := make([][]byte, 0, (len(body)+chunk-1)/chunk)
	for off := 0; off < len(body); off += chunk {
		end := min(off+chunk, len(body))
		h := header
		if off == 0 {
			h |= fuStart
		}
		if end == len(body) {
			h |= fuEnd
		}
		payload := make([]byte, 2+end-off)
		payload[0] = indicator
		payload[1] = h
		copy(payload[2:], body[off:end])
		out = append(out, payload)
	}
	return out
}

// WithParameterSets returns the NAL units of a keyframe with SPS and PPS in
// front when the unit does not already carry them. Receivers that join late
// or lost the previous parameter sets can then decode the keyframe.
func WithParameterSets(au *encoder.AccessUnit, sps, pps []byte) [][]byte {
	if !au.Keyframe || len(sps) == 0 || len(pps) == 0 {
		return au.NALUs
	}
	for _, n := range au.NALUs {
		if t := encoder.NALType(n); t == encoder.NALSPS || t == encoder.NALPPS {
			return au.NALUs
		}
	}
	out := make([][]byte, 0, len(au.NALUs)+2)
	out = append(out, sps, pps)
	return append(out, au.NALUs...)
}
