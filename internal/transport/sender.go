package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"

	"github.com/smazurov/screenlink/internal/encoder"
	"github.com/smazurov/screenlink/internal/logging"
)

// Defaults for Config.
const (
	DefaultPayloadType    = 96
	DefaultReportInterval = time.Second
	DefaultRemoteTimeout  = 5 * time.Second

	rtcpBufferSize = 1500
)

// ErrSend marks a datagram that could not be sent. It is counted, never fatal.
var ErrSend = errors.New("transport send failed")

// Config describes the outbound stream. PayloadType and SSRC come from the
// signaling layer and stay fixed for the session.
type Config struct {
	// RemoteAddr is the router's media host:port.
	RemoteAddr string
	// RTCPPort is the router's RTCP port. Zero multiplexes RTCP on the media socket.
	RTCPPort int

	PayloadType uint8
	SSRC        uint32
	MTU         int

	NACK           bool
	NACKBufferSize uint16
	ReportInterval time.Duration
	// RemoteTimeout is how long the router may stay silent before it is
	// reported unreachable.
	RemoteTimeout time.Duration

	// Sequencer and Clock override the random initial sequence number and timestamp.
	Sequencer rtp.Sequencer
	Clock     *MediaClock
}

func (c *Config) setDefaults() {
	if c.PayloadType == 0 {
		c.PayloadType = DefaultPayloadType
	}
	if c.MTU <= 0 {
		c.MTU = DefaultMTU
	}
	if c.NACKBufferSize == 0 {
		c.NACKBufferSize = DefaultNACKBufferSize
	}
	if c.ReportInterval <= 0 {
		c.ReportInterval = DefaultReportInterval
	}
	if c.RemoteTimeout <= 0 {
		c.RemoteTimeout = DefaultRemoteTimeout
	}
}

// SendResult summarizes the transmission of one access unit.
type SendResult struct {
	Packets int
	Bytes   int
	Errors  int
}

// Stats is a snapshot of the sender's counters and connectivity.
type Stats struct {
	Remote       string        `json:"remote"`
	SSRC         uint32        `json:"ssrc"`
	PayloadType  uint8         `json:"payload_type"`
	PacketsSent  uint64        `json:"packets_sent"`
	BytesSent    uint64        `json:"bytes_sent"`
	SendErrors   uint64        `json:"send_errors"`
	Connected    bool          `json:"connected"`
	RemoteAlive  bool          `json:"remote_alive"`
	LastFeedback time.Time     `json:"last_feedback,omitzero"`
	RTT          time.Duration `json:"rtt_ns"`
	Receiver     ReceiverStats `json:"receiver"`
}

// Sender transmits one session's RTP stream and reads its RTCP feedback.
// Send is called only from the sender worker; Run reads feedback on its own
// goroutine.
type Sender struct {
	cfg    Config
	logger *slog.Logger

	conn     *net.UDPConn
	rtcpConn *net.UDPConn

	chain      interceptor.Interceptor
	info       *interceptor.StreamInfo
	rtpWriter  interceptor.RTPWriter
	rtcpReader interceptor.RTCPReader
	stats      *statsHolder

	packetizer *Packetizer
	feedback   *Feedback
	sps, pps   []byte

	wmu  sync.Mutex
	wbuf []byte

	packets   atomic.Uint64
	bytes     atomic.Uint64
	errs      atomic.Uint64
	connected atomic.Bool

	closeOnce sync.Once
	closed    chan struct{}
}

// Dial opens the sockets for a session and binds the interceptor chain.
func Dial(cfg Config, desc encoder.CodecDescriptor) (*Sender, error) {
	cfg.setDefaults()
	logger := logging.GetLogger("transport")

	packetizer, err := NewPacketizer(desc, cfg.SSRC, cfg.PayloadType, cfg.MTU, cfg.Sequencer, cfg.Clock)
	if err != nil {
		return nil, err
	}

	raddr, err := net.ResolveUDPAddr("udp", cfg.RemoteAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve remote %q: %w", cfg.RemoteAddr, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", raddr, err)
	}

	rtcpConn := conn
	if cfg.RTCPPort > 0 {
		rtcpAddr := &net.UDPAddr{IP: raddr.IP, Port: cfg.RTCPPort, Zone: raddr.Zone}
		if rtcpConn, err = net.DialUDP("udp", nil, rtcpAddr); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("dial rtcp %s: %w", rtcpAddr, err)
		}
	}

	s := &Sender{
		cfg:        cfg,
		logger:     logger,
		conn:       conn,
		rtcpConn:   rtcpConn,
		stats:      &statsHolder{},
		packetizer: packetizer,
		feedback:   NewFeedback(cfg.SSRC),
		closed:     make(chan struct{}),
	}
	s.sps, s.pps = desc.SPS, desc.PPS

	if s.chain, err = buildChain(cfg, s.stats); err != nil {
		s.closeConns()
		return nil, fmt.Errorf("build interceptors: %w", err)
	}
	s.chain.BindRTCPWriter(interceptor.RTCPWriterFunc(s.writeRTCP))
	s.rtcpReader = s.chain.BindRTCPReader(interceptor.RTCPReaderFunc(s.readRTCP))
	s.info = streamInfo(cfg, desc)
	s.rtpWriter = s.chain.BindLocalStream(s.info, interceptor.RTPWriterFunc(s.writeRTP))
	s.connected.Store(true)

	logger.Info("Transport ready",
		"remote", raddr.String(),
		"local", conn.LocalAddr().String(),
		"rtcp_mux", cfg.RTCPPort == 0,
		"ssrc", cfg.SSRC,
		"payload_type", cfg.PayloadType,
		"mtu", cfg.MTU,
		"nack", cfg.NACK)
	return s, nil
}

// LocalAddr returns the address the media socket is bound to.
func (s *Sender) LocalAddr() net.Addr { return s.conn.LocalAddr() }

// SetParameterSets updates the SPS/PPS injected in front of keyframes that lack them.
func (s *Sender) SetParameterSets(sps, pps []byte) {
	s.sps, s.pps = sps, pps
}

// Send packetizes and transmits one access unit. Packets that fail to send are
// counted and skipped; the remaining packets of the unit are still sent.
func (s *Sender) Send(au *encoder.AccessUnit) (SendResult, error) {
	unit := *au
	unit.NALUs = WithParameterSets(au, s.sps, s.pps)

	var res SendResult
	var firstErr error
	for _, pkt := range s.packetizer.Packetize(&unit) {
		n, err := s.rtpWriter.Write(&pkt.Header, pkt.Payload, interceptor.Attributes{})
		if err != nil {
			res.Errors++
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		res.Packets++
		res.Bytes += n
	}
	if firstErr != nil {
		return res, fmt.Errorf("%w: %d of %d packets for frame %d: %w",
			ErrSend, res.Errors, res.Errors+res.Packets, au.FrameSeq, firstErr)
	}
	return res, nil
}

// writeRTP is the end of the interceptor chain. The NACK responder may call
// it from the feedback goroutine.
func (s *Sender) writeRTP(header *rtp.Header, payload []byte, _ interceptor.Attributes) (int, error) {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	pkt := rtp.Packet{Header: *header, Payload: payload}
	size := pkt.MarshalSize()
	if cap(s.wbuf) < size {
		s.wbuf = make([]byte, size)
	}
	n, err := pkt.MarshalTo(s.wbuf[:size])
	if err != nil {
		return 0, err
	}
	if _, err := s.conn.Write(s.wbuf[:n]); err != nil {
		s.errs.Add(1)
		sendErrors.Inc()
		if s.connected.Swap(false) {
			s.logger.Warn("Send failing", "remote", s.cfg.RemoteAddr, "error", err)
		}
		return 0, err
	}
	if !s.connected.Swap(true) {
		s.logger.Info("Send recovered", "remote", s.cfg.RemoteAddr)
	}
	s.packets.Add(1)
	s.bytes.Add(uint64(n))
	packetsSent.Inc()
	bytesSent.Add(float64(n))
	return n, nil
}

func (s *Sender) writeRTCP(pkts []rtcp.Packet, _ interceptor.Attributes) (int, error) {
	buf, err := rtcp.Marshal(pkts)
	if err != nil {
		return 0, err
	}
	return s.rtcpConn.Write(buf)
}

// readRTCP feeds RTCP datagrams into the chain, skipping RTP on a muxed socket.
func (s *Sender) readRTCP(b []byte, a interceptor.Attributes) (int, interceptor.Attributes, error) {
	for {
		n, err := s.rtcpConn.Read(b)
		if err != nil {
			return 0, a, err
		}
		if isRTCP(b[:n]) {
			return n, a, nil
		}
	}
}

// Run reads feedback until the sender is closed.
func (s *Sender) Run() error {
	buf := make([]byte, rtcpBufferSize)
	for {
		n, _, err := s.rtcpReader.Read(buf, make(interceptor.Attributes))
		if err != nil {
			select {
			case <-s.closed:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			// ICMP errors surface here on a connected socket; keep reading.
			s.logger.Debug("RTCP read failed", "error", err)
			continue
		}
		pkts, err := rtcp.Unmarshal(buf[:n])
		if err != nil {
			s.logger.Debug("Ignoring malformed RTCP", "bytes", n, "error", err)
			continue
		}
		s.feedback.Handle(pkts, time.Now())
	}
}

// DrainFeedback returns the keyframe requests received since the last call.
func (s *Sender) DrainFeedback() FeedbackBatch {
	return s.feedback.Drain()
}

// Stats returns a snapshot of counters and connectivity.
func (s *Sender) Stats() Stats {
	st := Stats{
		Remote:       s.cfg.RemoteAddr,
		SSRC:         s.cfg.SSRC,
		PayloadType:  s.cfg.PayloadType,
		PacketsSent:  s.packets.Load(),
		BytesSent:    s.bytes.Load(),
		SendErrors:   s.errs.Load(),
		Connected:    s.connected.Load(),
		LastFeedback: s.feedback.LastReceived(),
		Receiver:     s.feedback.Stats(),
	}
	st.RemoteAlive = !st.LastFeedback.IsZero() && time.Since(st.LastFeedback) <= s.cfg.RemoteTimeout
	if rs := s.stats.get(s.cfg.SSRC); rs != nil {
		st.RTT = rs.RemoteInboundRTPStreamStats.RoundTripTime
	}
	return st
}

// Close unbinds the stream, stops the interceptors and closes the sockets.
// Safe to call more than once.
func (s *Sender) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		s.connected.Store(false)
		s.chain.UnbindLocalStream(s.info)
		err = s.chain.Close()
		s.closeConns()
		s.logger.Info("Transport closed",
			"packets", s.packets.Load(),
			"bytes", s.bytes.Load(),
			"errors", s.errs.Load())
	})
	return err
}

func (s *Sender) closeConns() {
	if s.rtcpConn != s.conn {
		_ = s.rtcpConn.Close()
	}
	_ = s.conn.Close()
}

// HostPort joins a host and port for Config.RemoteAddr.
func HostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
