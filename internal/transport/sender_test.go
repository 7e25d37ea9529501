package transport

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"

	"github.com/smazurov/screenlink/internal/encoder"
)

type router struct {
	t    *testing.T
	conn *net.UDPConn
}

func newRouter(t *testing.T) *router {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &router{t: t, conn: conn}
}

// readRTP returns the next RTP packet and its sender, skipping RTCP.
func (r *router) readRTP() (*rtp.Packet, *net.UDPAddr) {
	r.t.Helper()
	buf := make([]byte, 2048)
	for {
		_ = r.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, from, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			r.t.Fatalf("router read: %v", err)
		}
		if isRTCP(buf[:n]) {
			continue
		}
		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(append([]byte(nil), buf[:n]...)); err != nil {
			r.t.Fatalf("router unmarshal: %v", err)
		}
		return pkt, from
	}
}

func (r *router) sendRTCP(to *net.UDPAddr, pkts ...rtcp.Packet) {
	r.t.Helper()
	raw, err := rtcp.Marshal(pkts)
	if err != nil {
		r.t.Fatal(err)
	}
	if _, err := r.conn.WriteToUDP(raw, to); err != nil {
		r.t.Fatalf("router write: %v", err)
	}
}

func dialTestSender(t *testing.T, r *router, nack bool) *Sender {
	t.Helper()
	s, err := Dial(Config{
		RemoteAddr:     r.conn.LocalAddr().String(),
		SSRC:           0xABCD,
		PayloadType:    102,
		MTU:            600,
		NACK:           nack,
		ReportInterval: time.Hour,
		Sequencer:      rtp.NewFixedSequencer(65533),
	}, encoder.H264Descriptor())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	go s.Run()
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSender_Loopback(t *testing.T) {
	r := newRouter(t)
	s := dialTestSender(t, r, false)

	units := [][][]byte{
		{nalu(7, 12), nalu(8, 4), nalu(5, 3000)},
		{nalu(1, 200)},
		{nalu(1, 1500)},
	}
	start := time.Now()
	sent := 0
	for i, nalus := range units {
		res, err := s.Send(&encoder.AccessUnit{
			NALUs:      nalus,
			Keyframe:   i == 0,
			CapturedAt: start.Add(time.Duration(i) * 33 * time.Millisecond),
			FrameSeq:   uint64(i + 1),
		})
		if err != nil {
			t.Fatalf("Send(%d): %v", i, err)
		}
		sent += res.Packets
	}

	reasm := NewReassembler()
	var got [][]byte
	var prev uint16
	var from *net.UDPAddr
	for i := range sent {
		pkt, addr := r.readRTP()
		from = addr
		if pkt.SSRC != 0xABCD || pkt.PayloadType != 102 {
			t.Errorf("Unexpected header %+v", pkt.Header)
		}
		if i == 0 && pkt.SequenceNumber != 65533 {
			t.Errorf("First sequence %d, want 65533", pkt.SequenceNumber)
		}
		if i > 0 && pkt.SequenceNumber != prev+1 {
			t.Errorf("Sequence %d after %d", pkt.SequenceNumber, prev)
		}
		prev = pkt.SequenceNumber
		u, err := reasm.Push(pkt)
		if err != nil {
			t.Fatalf("Reassemble: %v", err)
		}
		if u != nil {
			got = append(got, u.Data)
		}
	}
	if len(got) != len(units) {
		t.Fatalf("Reassembled %d units, want %d", len(got), len(units))
	}
	for i := range units {
		if !bytes.Equal(got[i], encoder.JoinAnnexB(units[i])) {
			t.Errorf("Unit %d differs after reassembly", i)
		}
	}

	st := s.Stats()
	if st.PacketsSent != uint64(sent) || !st.Connected {
		t.Errorf("Unexpected stats %+v", st)
	}
	if st.RemoteAlive {
		t.Error("Router has not sent RTCP yet")
	}

	// Feedback from the router turns into keyframe requests.
	r.sendRTCP(from,
		&rtcp.PictureLossIndication{SenderSSRC: 1, MediaSSRC: 0xABCD},
		&rtcp.FullIntraRequest{SenderSSRC: 1, FIR: []rtcp.FIREntry{{SSRC: 0xABCD, SequenceNumber: 1}}},
	)
	var batch FeedbackBatch
	deadline := time.Now().Add(2 * time.Second)
	for batch.Requests() < 2 && time.Now().Before(deadline) {
		b := s.DrainFeedback()
		batch.PLI += b.PLI
		batch.FIR += b.FIR
		time.Sleep(10 * time.Millisecond)
	}
	if batch.PLI != 1 || batch.FIR != 1 {
		t.Errorf("Feedback batch %+v, want one PLI and one FIR", batch)
	}
	if !s.Stats().RemoteAlive {
		t.Error("RemoteAlive should be set after RTCP arrived")
	}

	if err := s.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestSender_InjectsParameterSets(t *testing.T) {
	r := newRouter(t)
	s := dialTestSender(t, r, false)
	sps, pps := nalu(7, 12), nalu(8, 4)
	s.SetParameterSets(sps, pps)

	idr := nalu(5, 100)
	if _, err := s.Send(&encoder.AccessUnit{NALUs: [][]byte{idr}, Keyframe: true, CapturedAt: time.Now()}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	pkt, _ := r.readRTP()
	u, err := NewReassembler().Push(pkt)
	if err != nil || u == nil {
		t.Fatalf("Push = %v, %v", u, err)
	}
	if want := encoder.JoinAnnexB([][]byte{sps, pps, idr}); !bytes.Equal(u.Data, want) {
		t.Error("Keyframe was not prefixed with SPS/PPS")
	}
}

func TestSender_NACKRetransmits(t *testing.T) {
	r := newRouter(t)
	s := dialTestSender(t, r, true)

	if _, err := s.Send(&encoder.AccessUnit{NALUs: [][]byte{nalu(1, 100)}, CapturedAt: time.Now()}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	pkt, from := r.readRTP()

	r.sendRTCP(from, &rtcp.TransportLayerNack{
		SenderSSRC: 1,
		MediaSSRC:  0xABCD,
		Nacks:      []rtcp.NackPair{{PacketID: pkt.SequenceNumber}},
	})
	again, _ := r.readRTP()
	if again.SequenceNumber != pkt.SequenceNumber || !bytes.Equal(again.Payload, pkt.Payload) {
		t.Errorf("Retransmission seq %d, want %d", again.SequenceNumber, pkt.SequenceNumber)
	}
}
