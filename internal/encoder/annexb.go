package encoder

import "bytes"

// H.264 NAL unit types.
const (
	NALSlice = 1
	NALIDR   = 5
	NALSEI   = 6
	NALSPS   = 7
	NALPPS   = 8
	NALAUD   = 9
)

var startCode = []byte{0, 0, 0, 1}

// NALType returns the type of a NAL unit without start code.
func NALType(nalu []byte) uint8 {
	if len(nalu) == 0 {
		return 0
	}
	return nalu[0] & 0x1F
}

// SplitAnnexB splits an Annex-B byte stream into NAL units. Both 3- and 4-byte
// start codes are accepted. Returned slices alias data.
func SplitAnnexB(data []byte) [][]byte {
	var nalus [][]byte
	start := -1

	for i := 0; i+2 < len(data); {
		if data[i] != 0 || data[i+1] != 0 {
			i++
			continue
		}
		codeLen := 0
		switch {
		case data[i+2] == 1:
			codeLen = 3
		case i+3 < len(data) && data[i+2] == 0 && data[i+3] == 1:
			codeLen = 4
		default:
			i++
			continue
		}
		if start >= 0 && i > start {
			nalus = append(nalus, data[start:i])
		}
		start = i + codeLen
		i = start
	}

	if start >= 0 && start < len(data) {
		nalus = append(nalus, data[start:])
	}
	return nalus
}

// JoinAnnexB writes NAL units with 4-byte start codes. This is the canonical
// byte form of an access unit.
func JoinAnnexB(nalus [][]byte) []byte {
	size := 0
	for _, n := range nalus {
		size += len(startCode) + len(n)
	}
	out := make([]byte, 0, size)
	for _, n := range nalus {
		out = append(out, startCode...)
		out = append(out, n...)
	}
	return out
}

// AnnexB returns the access unit in canonical Annex-B form.
func (au *AccessUnit) AnnexB() []byte {
	return JoinAnnexB(au.NALUs)
}

// auSplitter turns an Annex-B elementary stream that carries access unit
// delimiters into complete access units. An access unit is complete when the
// delimiter of the next one arrives.
type auSplitter struct {
	buf     []byte
	pending [][]byte
}

// write appends stream bytes and returns the NAL units of every completed
// access unit. Delimiters are dropped. Returned slices are owned by the caller.
func (s *auSplitter) write(p []byte) [][][]byte {
	s.buf = append(s.buf, p...)

	var complete [][][]byte
	for {
		// The last NAL in the buffer may still be growing; only consume NALs
		// followed by another start code.
		first := indexStartCode(s.buf, 0)
		if first < 0 {
			return complete
		}
		codeLen := startCodeLen(s.buf, first)
		next := indexStartCode(s.buf, first+codeLen)
		if next < 0 {
			if first > 0 {
				s.buf = s.buf[first:]
			}
			return complete
		}

		nalu := bytes.Clone(trimTrailingZeros(s.buf[first+codeLen : next]))
		s.buf = s.buf[next:]

		if NALType(nalu) == NALAUD {
			if len(s.pending) > 0 {
				complete = append(complete, s.pending)
				s.pending = nil
			}
			continue
		}
		if len(nalu) > 0 {
			s.pending = append(s.pending, nalu)
		}
	}
}

// flush returns the trailing access unit once the stream has ended.
func (s *auSplitter) flush() [][]byte {
	if first := indexStartCode(s.buf, 0); first >= 0 {
		nalu := bytes.Clone(s.buf[first+startCodeLen(s.buf, first):])
		if len(nalu) > 0 && NALType(nalu) != NALAUD {
			s.pending = append(s.pending, nalu)
		}
	}
	s.buf = s.buf[:0]
	out := s.pending
	s.pending = nil
	return out
}

func (s *auSplitter) reset() {
	s.buf = s.buf[:0]
	s.pending = nil
}

func indexStartCode(b []byte, from int) int {
	for i := from; i+2 < len(b); i++ {
		if b[i] == 0 && b[i+1] == 0 && b[i+2] == 1 {
			if i > from && b[i-1] == 0 {
				return i - 1
			}
			return i
		}
	}
	return -1
}

func startCodeLen(b []byte, at int) int {
	if at+3 < len(b) && b[at] == 0 && b[at+1] == 0 && b[at+2] == 0 && b[at+3] == 1 {
		return 4
	}
	return 3
}

// trimTrailingZeros drops trailing_zero_8bits that precede the next start code.
func trimTrailingZeros(b []byte) []byte {
	for len(b) > 0 && b[len(b)-1] == 0 {
		b = b[:len(b)-1]
	}
	return b
}

// isKeyframe reports whether the NAL units contain an IDR slice.
func isKeyframe(nalus [][]byte) bool {
	for _, n := range nalus {
		if NALType(n) == NALIDR {
			return true
		}
	}
	return false
}

// parameterSets returns the SPS and PPS found in nalus.
func parameterSets(nalus [][]byte) (sps, pps []byte) {
	for _, n := range nalus {
		switch NALType(n) {
		case NALSPS:
			sps = n
		case NALPPS:
			pps = n
		}
	}
	return sps, pps
}
