package transport

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/pion/rtp"

	"github.com/smazurov/screenlink/internal/encoder"
)

func nalu(typ byte, size int) []byte {
	n := make([]byte, size)
	n[0] = 0x60 | typ
	for i := 1; i < size; i++ {
		n[i] = byte(i*7 + int(typ))
	}
	return n
}

func newTestPacketizer(t *testing.T, mtu int, firstSeq uint16) *Packetizer {
	t.Helper()
	p, err := NewPacketizer(encoder.H264Descriptor(), 0x1234, 96, mtu,
		rtp.NewFixedSequencer(firstSeq), NewMediaClockAt(encoder.ClockRate, 1000))
	if err != nil {
		t.Fatalf("NewPacketizer: %v", err)
	}
	return p
}

func reassemble(t *testing.T, pkts []*rtp.Packet) *Unit {
	t.Helper()
	r := NewReassembler()
	var unit *Unit
	for _, pkt := range pkts {
		// Round trip through the wire format.
		raw, err := pkt.Marshal()
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		var wire rtp.Packet
		if err := wire.Unmarshal(raw); err != nil {
			t.Fatalf("Unmarshal: %v", err)
		}
		u, err := r.Push(&wire)
		if err != nil {
			t.Fatalf("Push: %v", err)
		}
		if u != nil {
			if unit != nil {
				t.Fatal("More than one unit completed")
			}
			unit = u
		}
	}
	return unit
}

func TestPacketize_ByteExactReassembly(t *testing.T) {
	tests := []struct {
		name        string
		nalus       [][]byte
		mtu         int
		wantPackets int
		keyframe    bool
	}{
		{"single small nal", [][]byte{nalu(1, 300)}, 1200, 1, false},
		{"aggregated parameter sets", [][]byte{nalu(7, 12), nalu(8, 4), nalu(5, 600)}, 1200, 1, true},
		{"fragmented idr", [][]byte{nalu(5, 5000)}, 1200, 5, true},
		{"mixed", [][]byte{nalu(7, 12), nalu(8, 4), nalu(5, 3000), nalu(1, 100), nalu(1, 90)}, 1000, 6, true},
		{"tiny mtu", [][]byte{nalu(1, 900)}, minMTU, 15, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPacketizer(t, tt.mtu, 100)
			au := &encoder.AccessUnit{NALUs: tt.nalus, Keyframe: tt.keyframe, CapturedAt: time.Unix(10, 0)}
			pkts := p.Packetize(au)

			if len(pkts) != tt.wantPackets {
				t.Errorf("Expected %d packets, got %d", tt.wantPackets, len(pkts))
			}
			markers := 0
			for i, pkt := range pkts {
				if pkt.MarshalSize() > tt.mtu {
					t.Errorf("Packet %d is %d bytes, above mtu %d", i, pkt.MarshalSize(), tt.mtu)
				}
				if pkt.Marker {
					markers++
					if i != len(pkts)-1 {
						t.Errorf("Marker on packet %d of %d", i, len(pkts))
					}
				}
				if pkt.Timestamp != pkts[0].Timestamp {
					t.Error("Packets of one unit must share a timestamp")
				}
			}
			if markers != 1 {
				t.Errorf("Expected exactly one marker, got %d", markers)
			}

			unit := reassemble(t, pkts)
			if unit == nil {
				t.Fatal("Unit not completed")
			}
			if want := encoder.JoinAnnexB(tt.nalus); !bytes.Equal(unit.Data, want) {
				t.Errorf("Reassembled %d bytes differ from original %d bytes", len(unit.Data), len(want))
			}
			if unit.Keyframe != tt.keyframe {
				t.Errorf("Keyframe = %v, want %v", unit.Keyframe, tt.keyframe)
			}
		})
	}
}

func TestPacketize_SequenceWraps(t *testing.T) {
	p := newTestPacketizer(t, 500, 65530)
	start := time.Unix(100, 0)

	var seqs []uint16
	var stamps []uint32
	for i := range 6 {
		au := &encoder.AccessUnit{
			NALUs:      [][]byte{nalu(1, 1200)},
			CapturedAt: start.Add(time.Duration(i) * 40 * time.Millisecond),
		}
		for _, pkt := range p.Packetize(au) {
			seqs = append(seqs, pkt.SequenceNumber)
		}
		stamps = append(stamps, p.clock.last)
	}

	if seqs[0] != 65530 {
		t.Fatalf("First sequence number %d, want 65530", seqs[0])
	}
	wrapped := false
	for i := 1; i < len(seqs); i++ {
		if seqs[i] != seqs[i-1]+1 {
			t.Errorf("Sequence jumped from %d to %d", seqs[i-1], seqs[i])
		}
		if seqs[i] < seqs[i-1] {
			wrapped = true
		}
	}
	if !wrapped {
		t.Error("Expected the sequence number to wrap")
	}

	for i := 1; i < len(stamps); i++ {
		if d := stamps[i] - stamps[i-1]; d != 3600 {
			t.Errorf("Timestamp step %d, want 3600 for 40ms at 90kHz", d)
		}
	}
}

func TestPacketize_EmptyUnit(t *testing.T) {
	p := newTestPacketizer(t, 1200, 1)
	if pkts := p.Packetize(&encoder.AccessUnit{}); pkts != nil {
		t.Errorf("Expected no packets, got %d", len(pkts))
	}
	// Nothing consumed from the sequencer.
	pkts := p.Packetize(&encoder.AccessUnit{NALUs: [][]byte{nalu(1, 10)}})
	if pkts[0].SequenceNumber != 1 {
		t.Errorf("Sequence number %d, want 1", pkts[0].SequenceNumber)
	}
}

func TestNewPacketizer_Rejects(t *testing.T) {
	vp8 := encoder.CodecDescriptor{Codec: "VP8", PacketizationMode: 1}
	if _, err := NewPacketizer(vp8, 1, 96, 1200, nil, nil); !errors.Is(err, ErrUnsupportedCodec) {
		t.Errorf("Expected ErrUnsupportedCodec, got %v", err)
	}
	if _, err := NewPacketizer(encoder.H264Descriptor(), 1, 96, 40, nil, nil); err == nil {
		t.Error("Expected error for an mtu below the minimum")
	}
}

func TestWithParameterSets(t *testing.T) {
	sps, pps := nalu(7, 10), nalu(8, 4)
	idr := nalu(5, 50)

	key := &encoder.AccessUnit{NALUs: [][]byte{idr}, Keyframe: true}
	got := WithParameterSets(key, sps, pps)
	if len(got) != 3 || encoder.NALType(got[0]) != encoder.NALSPS || encoder.NALType(got[1]) != encoder.NALPPS {
		t.Errorf("Parameter sets not injected: %d units", len(got))
	}

	already := &encoder.AccessUnit{NALUs: [][]byte{sps, pps, idr}, Keyframe: true}
	if got := WithParameterSets(already, sps, pps); len(got) != 3 {
		t.Errorf("Injected into a unit that already had them: %d units", len(got))
	}

	delta := &encoder.AccessUnit{NALUs: [][]byte{nalu(1, 20)}}
	if got := WithParameterSets(delta, sps, pps); len(got) != 1 {
		t.Errorf("Injected into a delta frame: %d units", len(got))
	}
}

func TestMediaClock(t *testing.T) {
	base := uint32(0xFFFFFF00)
	c := NewMediaClockAt(90000, base)
	t0 := time.Unix(50, 0)
	if ts := c.Timestamp(t0); ts != base {
		t.Errorf("First timestamp %#x", ts)
	}
	// Wraps around 2^32.
	want := base + 90000
	if ts := c.Timestamp(t0.Add(time.Second)); ts != want {
		t.Errorf("Timestamp after 1s = %#x, want %#x", ts, want)
	}
	// Never goes backwards.
	if ts := c.Timestamp(t0.Add(500 * time.Millisecond)); ts != want {
		t.Errorf("Timestamp went backwards: %#x", ts)
	}
}

func TestMediaClock_LongSession(t *testing.T) {
	c := NewMediaClockAt(90000, 0)
	t0 := time.Unix(50, 0)
	c.Timestamp(t0)

	// Past 57h the product of nanoseconds and rate no longer fits in 64 bits.
	for h := 1; h <= 72; h++ {
		want := uint32(uint64(h) * 3600 * 90000)
		if ts := c.Timestamp(t0.Add(time.Duration(h) * time.Hour)); ts != want {
			t.Fatalf("Timestamp after %dh = %#x, want %#x", h, ts, want)
		}
	}
	ticks := uint64(72*3600*90000 + 45000)
	want := uint32(ticks)
	if ts := c.Timestamp(t0.Add(72*time.Hour + 500*time.Millisecond)); ts != want {
		t.Errorf("Timestamp after 72h500ms = %#x, want %#x", ts, want)
	}
}
