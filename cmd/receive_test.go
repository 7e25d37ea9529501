package cmd

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/smazurov/screenlink/internal/logging"
	"github.com/smazurov/screenlink/internal/transport"
)

type unitSink chan []byte

func (s unitSink) Write(p []byte) (int, error) {
	s <- append([]byte(nil), p...)
	return len(p), nil
}

func TestReceiverRebuildsUnitsAndRequestsKeyframes(t *testing.T) {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	sender, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer sender.Close()

	sink := make(unitSink, 4)
	r := &receiver{conn: conn, sink: sink, logger: logging.GetLogger("transport"), reasm: transport.NewReassembler()}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.run(ctx) }()

	send := func(seq uint16, ts uint32, payload ...byte) {
		t.Helper()
		pkt := &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				PayloadType:    96,
				SequenceNumber: seq,
				Timestamp:      ts,
				SSRC:           0xabcd,
				Marker:         true,
			},
			Payload: payload,
		}
		b, err := pkt.Marshal()
		if err != nil {
			t.Fatal(err)
		}
		if _, err := sender.WriteTo(b, conn.LocalAddr()); err != nil {
			t.Fatal(err)
		}
	}

	send(1, 3000, 0x65, 0x88, 0x84)

	buf := make([]byte, 1500)
	_ = sender.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := sender.ReadFrom(buf)
	if err != nil {
		t.Fatalf("No RTCP from receiver: %v", err)
	}
	pkts, err := rtcp.Unmarshal(buf[:n])
	if err != nil {
		t.Fatal(err)
	}
	pli, ok := pkts[0].(*rtcp.PictureLossIndication)
	if !ok || pli.MediaSSRC != 0xabcd {
		t.Fatalf("Expected a PLI for ssrc 0xabcd first, got %T %+v", pkts[0], pkts[0])
	}

	want := []byte{0, 0, 0, 1, 0x65}
	select {
	case u := <-sink:
		if !bytes.HasPrefix(u, want) {
			t.Errorf("Unit %x does not start with %x", u, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("No unit rebuilt")
	}

	// Seq 2 never arrives.
	send(3, 6000, 0x41, 0x9a)
	send(4, 9000, 0x41, 0x9b)

	select {
	case u := <-sink:
		if !bytes.HasPrefix(u, []byte{0, 0, 0, 1, 0x41, 0x9b}) {
			t.Errorf("Expected the unit after the gap, got %x", u)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Stream did not resume after loss")
	}

	cancel()
	_ = conn.Close()
	if err := <-done; err != nil {
		t.Fatalf("run returned %v", err)
	}

	if r.keyframes != 1 {
		t.Errorf("keyframes = %d, want 1", r.keyframes)
	}
	if r.reasm.Lost() != 1 {
		t.Errorf("lost = %d, want 1", r.reasm.Lost())
	}
	// The loss PLI is rate limited behind the one sent at stream start.
	if r.plis != 1 {
		t.Errorf("plis = %d, want 1", r.plis)
	}
}
