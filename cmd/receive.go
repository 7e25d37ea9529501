package cmd

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/smazurov/screenlink/internal/logging"
	"github.com/smazurov/screenlink/internal/transport"
	"github.com/spf13/cobra"
)

const (
	receiverSSRC = 0x5c4ee17e
	pliInterval  = time.Second
)

// CreateReceiveCmd creates the receive command.
func CreateReceiveCmd() *cobra.Command {
	var listen string
	var output string

	cmd := &cobra.Command{
		Use:   "receive",
		Short: "Run a minimal RTP receiver for testing a sender",
		Long: `Listens for the H.264 RTP stream, rebuilds access units, answers with receiver reports and ` +
			`requests a keyframe (PLI) at start and after packet loss. Units can be written to an Annex-B file.`,
		Run: func(cmd *cobra.Command, _ []string) {
			logger := logging.GetLogger("transport").With("listen", listen)

			conn, err := net.ListenPacket("udp", listen)
			if err != nil {
				logger.Error("Failed to listen", "error", err)
				os.Exit(1)
			}
			defer conn.Close()

			var sink io.Writer = io.Discard
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					logger.Error("Failed to create output", "output", output, "error", err)
					os.Exit(1)
				}
				defer f.Close()
				sink = f
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				_ = conn.Close()
			}()

			r := &receiver{conn: conn, sink: sink, logger: logger, reasm: transport.NewReassembler()}
			logger.Info("Waiting for RTP")
			if err := r.run(ctx); err != nil {
				logger.Error("Receiver stopped", "error", err)
				os.Exit(1)
			}
			logger.Info("Receiver stopped", "units", r.reasm.Completed(), "keyframes", r.keyframes,
				"lost_packets", r.reasm.Lost(), "plis", r.plis)
		},
	}

	cmd.Flags().StringVarP(&listen, "listen", "l", ":5004", "UDP address to receive on")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write received access units to an Annex-B file")
	return cmd
}

type receiver struct {
	conn   net.PacketConn
	sink   io.Writer
	logger *slog.Logger
	reasm  *transport.Reassembler

	sender    net.Addr
	mediaSSRC uint32
	lastSeq   uint16
	lastPLI   time.Time
	lastRR    time.Time
	keyframes uint64
	plis      uint64
}

func (r *receiver) run(ctx context.Context) error {
	buf := make([]byte, 1500)
	for {
		n, from, err := r.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		// RTCP packet types 192-223 share the port when multiplexed.
		if n >= 2 && buf[1] >= 192 && buf[1] <= 223 {
			r.handleRTCP(buf[:n])
			continue
		}

		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			r.logger.Debug("Dropping malformed packet", "error", err)
			continue
		}
		if r.sender == nil || pkt.SSRC != r.mediaSSRC {
			r.logger.Info("Stream started", "from", from, "ssrc", pkt.SSRC, "payload_type", pkt.PayloadType)
			r.sender, r.mediaSSRC = from, pkt.SSRC
			r.requestKeyframe(time.Now(), true)
		}
		r.lastSeq = pkt.SequenceNumber

		unit, err := r.reasm.Push(pkt)
		now := time.Now()
		switch {
		case errors.Is(err, transport.ErrPacketLoss):
			r.logger.Warn("Packet loss", "error", err)
			r.requestKeyframe(now, false)
		case err != nil:
			r.logger.Debug("Dropping packet", "error", err)
		}
		// A unit can start cleanly right after a loss.
		if unit != nil {
			if unit.Keyframe {
				r.keyframes++
			}
			if _, err := r.sink.Write(unit.Data); err != nil {
				return err
			}
		}

		if now.Sub(r.lastRR) >= time.Second {
			r.sendReport(now)
		}
	}
}

func (r *receiver) handleRTCP(b []byte) {
	pkts, err := rtcp.Unmarshal(b)
	if err != nil {
		r.logger.Debug("Dropping malformed RTCP", "error", err)
		return
	}
	for _, p := range pkts {
		if sr, ok := p.(*rtcp.SenderReport); ok {
			r.logger.Debug("Sender report", "ssrc", sr.SSRC, "packets", sr.PacketCount, "octets", sr.OctetCount)
		}
	}
}

func (r *receiver) requestKeyframe(now time.Time, force bool) {
	if !force && now.Sub(r.lastPLI) < pliInterval {
		return
	}
	r.lastPLI = now
	if r.write(&rtcp.PictureLossIndication{SenderSSRC: receiverSSRC, MediaSSRC: r.mediaSSRC}) {
		r.plis++
	}
}

func (r *receiver) sendReport(now time.Time) {
	r.lastRR = now
	r.write(&rtcp.ReceiverReport{
		SSRC: receiverSSRC,
		Reports: []rtcp.ReceptionReport{{
			SSRC:               r.mediaSSRC,
			TotalLost:          uint32(min(r.reasm.Lost(), 1<<24-1)),
			LastSequenceNumber: uint32(r.lastSeq),
		}},
	})
}

func (r *receiver) write(pkts ...rtcp.Packet) bool {
	if r.sender == nil {
		return false
	}
	b, err := rtcp.Marshal(pkts)
	if err != nil {
		r.logger.Warn("Failed to marshal RTCP", "error", err)
		return false
	}
	if _, err := r.conn.WriteTo(b, r.sender); err != nil {
		r.logger.Warn("Failed to send RTCP", "to", r.sender, "error", err)
		return false
	}
	return true
}
