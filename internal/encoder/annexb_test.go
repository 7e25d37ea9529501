package encoder

import (
	"bytes"
	"testing"
)

func TestSplitAnnexB(t *testing.T) {
	data := []byte{
		0, 0, 0, 1, 0x67, 0x42, 0xe0, // SPS, 4-byte code
		0, 0, 1, 0x68, 0xce, // PPS, 3-byte code
		0, 0, 0, 1, 0x65, 0x88, 0x84, 0x00, 0x10, // IDR containing a zero byte
	}

	nalus := SplitAnnexB(data)
	if len(nalus) != 3 {
		t.Fatalf("Expected 3 NAL units, got %d", len(nalus))
	}
	wantTypes := []uint8{NALSPS, NALPPS, NALIDR}
	for i, n := range nalus {
		if NALType(n) != wantTypes[i] {
			t.Errorf("NAL %d type %d, want %d", i, NALType(n), wantTypes[i])
		}
	}
	if !bytes.Equal(nalus[2], []byte{0x65, 0x88, 0x84, 0x00, 0x10}) {
		t.Errorf("Unexpected IDR payload %x", nalus[2])
	}

	if got := SplitAnnexB([]byte{0x65, 0x01}); got != nil {
		t.Errorf("Expected no NAL units without a start code, got %d", len(got))
	}
}

func TestJoinAnnexB(t *testing.T) {
	nalus := [][]byte{{0x67, 1}, {0x68, 2}, {0x65, 3, 4}}
	joined := JoinAnnexB(nalus)

	want := []byte{0, 0, 0, 1, 0x67, 1, 0, 0, 0, 1, 0x68, 2, 0, 0, 0, 1, 0x65, 3, 4}
	if !bytes.Equal(joined, want) {
		t.Errorf("JoinAnnexB = %x, want %x", joined, want)
	}

	back := SplitAnnexB(joined)
	if len(back) != 3 || !bytes.Equal(back[2], nalus[2]) {
		t.Errorf("Split of joined stream did not round trip: %x", back)
	}
}

func auStream(aus ...[][]byte) []byte {
	var out []byte
	for _, au := range aus {
		out = append(out, 0, 0, 0, 1, 0x09, 0xf0) // AUD
		out = append(out, JoinAnnexB(au)...)
	}
	return out
}

func TestAUSplitter_Chunked(t *testing.T) {
	au1 := [][]byte{{0x67, 0x42, 0x00, 0x1f}, {0x68, 0xce, 0x3c, 0x80}, {0x65, 0x88, 0x80, 0x10, 0x00, 0x20}}
	au2 := [][]byte{{0x41, 0x9a, 0x02}}
	au3 := [][]byte{{0x41, 0x9a, 0x04, 0x05}}
	stream := auStream(au1, au2, au3)

	for _, chunk := range []int{1, 3, 7, len(stream)} {
		var s auSplitter
		var got [][][]byte
		for i := 0; i < len(stream); i += chunk {
			end := min(i+chunk, len(stream))
			got = append(got, s.write(stream[i:end])...)
		}

		// au3 is only known complete once the stream ends.
		if len(got) != 2 {
			t.Fatalf("chunk %d: expected 2 complete units before flush, got %d", chunk, len(got))
		}
		tail := s.flush()
		got = append(got, tail)

		for i, want := range [][][]byte{au1, au2, au3} {
			if !bytes.Equal(JoinAnnexB(got[i]), JoinAnnexB(want)) {
				t.Errorf("chunk %d: unit %d = %x, want %x", chunk, i, JoinAnnexB(got[i]), JoinAnnexB(want))
			}
		}
		if !isKeyframe(got[0]) || isKeyframe(got[1]) {
			t.Errorf("chunk %d: keyframe detection wrong", chunk)
		}
	}
}

func TestParameterSets(t *testing.T) {
	sps, pps := parameterSets([][]byte{{0x67, 1}, {0x68, 2}, {0x65, 3}})
	if !bytes.Equal(sps, []byte{0x67, 1}) || !bytes.Equal(pps, []byte{0x68, 2}) {
		t.Errorf("Unexpected parameter sets %x %x", sps, pps)
	}
}
