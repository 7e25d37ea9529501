package transport

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/pion/rtp"

	"github.com/smazurov/screenlink/internal/encoder"
)

func TestReassembler_LossRecovers(t *testing.T) {
	p := newTestPacketizer(t, 500, 10)
	first := p.Packetize(&encoder.AccessUnit{NALUs: [][]byte{nalu(5, 2000)}, Keyframe: true, CapturedAt: time.Unix(1, 0)})
	second := p.Packetize(&encoder.AccessUnit{NALUs: [][]byte{nalu(1, 300)}, CapturedAt: time.Unix(1, 40e6)})
	if len(first) < 3 {
		t.Fatalf("Expected a fragmented unit, got %d packets", len(first))
	}

	r := NewReassembler()
	var lossSeen bool
	for i, pkt := range first {
		if i == 1 {
			continue // lost in the network
		}
		u, err := r.Push(pkt)
		if errors.Is(err, ErrPacketLoss) {
			lossSeen = true
		} else if err != nil {
			t.Fatalf("Push: %v", err)
		}
		if u != nil {
			t.Fatal("Corrupt unit must not be delivered")
		}
	}
	if !lossSeen {
		t.Error("Expected ErrPacketLoss")
	}
	if r.Lost() != 1 {
		t.Errorf("Lost() = %d, want 1", r.Lost())
	}

	u, err := r.Push(second[0])
	if err != nil {
		t.Fatalf("Push after loss: %v", err)
	}
	if u == nil || !bytes.Equal(u.Data, encoder.JoinAnnexB([][]byte{nalu(1, 300)})) {
		t.Error("Next unit not recovered after loss")
	}
	if r.Completed() != 1 {
		t.Errorf("Completed() = %d, want 1", r.Completed())
	}
}

func TestReassembler_NextUnitAfterTailLoss(t *testing.T) {
	p := newTestPacketizer(t, 500, 10)
	first := p.Packetize(&encoder.AccessUnit{NALUs: [][]byte{nalu(5, 2000)}, Keyframe: true, CapturedAt: time.Unix(1, 0)})
	second := p.Packetize(&encoder.AccessUnit{NALUs: [][]byte{nalu(1, 1200)}, CapturedAt: time.Unix(1, 40e6)})
	third := p.Packetize(&encoder.AccessUnit{NALUs: [][]byte{nalu(1, 1200)}, CapturedAt: time.Unix(1, 80e6)})

	tests := []struct {
		name     string
		drop     func(i int) bool
		wantUnit bool
	}{
		{
			// Only the marker packet of the first unit is lost.
			name:     "tail of previous unit",
			drop:     func(i int) bool { return i == len(first)-1 },
			wantUnit: true,
		},
		{
			// The first packet of the second unit is lost too.
			name:     "tail and head",
			drop:     func(i int) bool { return i == len(first)-1 || i == len(first) },
			wantUnit: false,
		},
		{
			// A gap after a completed unit always hits the next one.
			name:     "head of next unit",
			drop:     func(i int) bool { return i == len(first) },
			wantUnit: false,
		},
	}

	all := append(append([]*rtp.Packet{}, first...), second...)
	wantData := encoder.JoinAnnexB([][]byte{nalu(1, 1200)})

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReassembler()
			var units []*Unit
			var lossSeen bool
			for i, pkt := range all {
				if tt.drop(i) {
					continue
				}
				u, err := r.Push(pkt)
				if errors.Is(err, ErrPacketLoss) {
					lossSeen = true
				} else if err != nil {
					t.Fatalf("Push: %v", err)
				}
				if u != nil {
					units = append(units, u)
				}
			}
			if !lossSeen {
				t.Error("Expected ErrPacketLoss")
			}

			var got *Unit
			for _, u := range units {
				if u.Timestamp == second[0].Timestamp {
					got = u
				}
			}
			if tt.wantUnit {
				if got == nil || !bytes.Equal(got.Data, wantData) {
					t.Fatal("Second unit not delivered after losing only the first unit's tail")
				}
			} else if got != nil {
				t.Fatal("Second unit delivered with missing packets")
			}

			// The stream always resumes at the following unit.
			var resumed bool
			for _, pkt := range third {
				u, err := r.Push(pkt)
				if err != nil {
					t.Fatalf("Push after loss: %v", err)
				}
				resumed = resumed || u != nil
			}
			if !resumed {
				t.Error("Stream did not resume")
			}
		})
	}
}

func TestReassembler_IgnoresDuplicates(t *testing.T) {
	p := newTestPacketizer(t, 1200, 65535)
	pkts := p.Packetize(&encoder.AccessUnit{NALUs: [][]byte{nalu(1, 100)}, CapturedAt: time.Unix(1, 0)})
	pkts = append(pkts, p.Packetize(&encoder.AccessUnit{NALUs: [][]byte{nalu(1, 120)}, CapturedAt: time.Unix(2, 0)})...)

	r := NewReassembler()
	units := 0
	for _, pkt := range []int{0, 0, 1} {
		u, err := r.Push(pkts[pkt])
		if err != nil {
			t.Fatalf("Push: %v", err)
		}
		if u != nil {
			units++
		}
	}
	if units != 2 {
		t.Errorf("Expected 2 units, got %d", units)
	}
}
