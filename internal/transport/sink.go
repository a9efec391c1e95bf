package transport

import (
	"log/slog"
	"net"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"k8s.io/utils/clock"

	"github.com/skylink-fpv/skylink/internal/relayerr"
	"github.com/skylink-fpv/skylink/internal/util"
)

// DefaultMaxPacketBytes keeps datagrams under a typical 1500 byte MTU.
const DefaultMaxPacketBytes = 1400

// OutputStreamConfig describes where and how a sink transmits.
type OutputStreamConfig struct {
	Host           string  `json:"host"`
	Port           int     `json:"port"`
	Broadcast      bool    `json:"broadcast"`
	MaxPacketBytes int     `json:"max_packet_bytes"`
	FECRatio       float64 `json:"fec_ratio"`
}

// Validate checks the configuration and fills in defaults.
func (c *OutputStreamConfig) Validate() error {
	if c.MaxPacketBytes == 0 {
		c.MaxPacketBytes = DefaultMaxPacketBytes
	}
	if c.MaxPacketBytes < 1 {
		return relayerr.Configuration("max packet bytes %d must be positive", c.MaxPacketBytes)
	}
	if c.Port < 1 || c.Port > 65535 {
		return relayerr.Configuration("port %d out of range", c.Port)
	}
	if c.Host == "" && !c.Broadcast {
		return relayerr.Configuration("destination host is required unless broadcast is enabled")
	}
	if c.FECRatio < 0 || c.FECRatio > 1 {
		return relayerr.Configuration("fec ratio %v must be in [0, 1]", c.FECRatio)
	}
	if c.FECRatio > 0 && c.MaxPacketBytes <= ShardHeaderSize {
		return relayerr.Configuration("max packet bytes %d too small for fec shards", c.MaxPacketBytes)
	}
	return nil
}

// Destination returns the address datagrams are sent to.
func (c OutputStreamConfig) Destination() (*net.UDPAddr, error) {
	if c.Broadcast {
		return &net.UDPAddr{IP: net.IPv4bcast, Port: c.Port}, nil
	}
	addr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(c.Host, strconv.Itoa(c.Port)))
	if err != nil {
		return nil, relayerr.Configuration("cannot resolve destination %s:%d: %v", c.Host, c.Port, err)
	}
	return addr, nil
}

// SendResult reports what happened to one Send call.
type SendResult struct {
	Datagrams int
	Failed    int
	Err       error
}

// SinkOption customizes a UDPSink.
type SinkOption func(*UDPSink)

// WithPacketConn makes the sink transmit on conn instead of opening its own socket.
// The sink takes ownership of conn.
func WithPacketConn(conn net.PacketConn) SinkOption {
	return func(s *UDPSink) { s.conn = conn }
}

// WithClock sets the clock used by the throughput reporter.
func WithClock(clk clock.PassiveClock) SinkOption {
	return func(s *UDPSink) { s.clock = clk }
}

// WithLogger sets the logger used by the sink.
func WithLogger(logger *slog.Logger) SinkOption {
	return func(s *UDPSink) { s.logger = logger }
}

// UDPSink fragments or FEC-encodes payloads and sends each piece as one datagram.
//
// Delivery is best effort: a failed datagram is counted and the rest of the payload is
// still sent. Pieces of one Send leave in order; Send calls are serialized.
type UDPSink struct {
	mu     sync.Mutex
	cfg    OutputStreamConfig
	conn   net.PacketConn
	dest   *net.UDPAddr
	fec    *FECEncoder
	stats  *Throughput
	clock  clock.PassiveClock
	logger *slog.Logger
	closed bool
}

// NewUDPSink validates cfg and opens the sink's socket.
func NewUDPSink(cfg OutputStreamConfig, opts ...SinkOption) (*UDPSink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	dest, err := cfg.Destination()
	if err != nil {
		return nil, err
	}

	s := &UDPSink{cfg: cfg, dest: dest}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = util.GetLogger()
	}

	if cfg.FECRatio > 0 {
		s.fec, err = NewFECEncoder(cfg.MaxPacketBytes, cfg.FECRatio)
		if err != nil {
			return nil, err
		}
	}

	if s.conn == nil {
		// Go enables SO_BROADCAST on every IPv4 datagram socket, so broadcast needs no
		// extra socket option here.
		conn, err := net.ListenPacket("udp4", ":0")
		if err != nil {
			return nil, relayerr.WrapUnavailable(err, "failed to open udp socket")
		}
		s.conn = conn
	}

	s.stats = NewThroughput(cfg.Port, s.clock, s.logger)
	return s, nil
}

// Config returns the sink's configuration.
func (s *UDPSink) Config() OutputStreamConfig {
	return s.cfg
}

// Destination returns the address the sink writes to.
func (s *UDPSink) Destination() *net.UDPAddr {
	return s.dest
}

// Send transmits buf. It never aborts on a single datagram failure.
func (s *UDPSink) Send(buf []byte) SendResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return SendResult{Err: errors.New("sink closed")}
	}

	var (
		pieces [][]byte
		blocks int
		result SendResult
	)
	if s.fec != nil {
		var err error
		pieces, blocks, err = s.fec.Encode(buf)
		if err != nil {
			// Whatever was encoded before the failure still goes out.
			result.Err = err
			s.logger.Warn("fec encode failed", "port", s.cfg.Port, "error", err)
		}
	} else {
		pieces = Fragment(buf, s.cfg.MaxPacketBytes)
	}

	for i, piece := range pieces {
		if _, err := s.conn.WriteTo(piece, s.dest); err != nil {
			result.Failed++
			if result.Err == nil {
				result.Err = relayerr.WrapTransient(err, "failed to send datagram %d/%d to %s", i+1, len(pieces), s.dest)
			}
			s.logger.Debug("datagram send failed", "dest", s.dest.String(), "index", i, "error", err)
			continue
		}
		result.Datagrams++
	}

	s.stats.Record(len(buf), blocks, result.Failed)
	return result
}

// Write implements io.Writer so capture drivers can stream straight into the sink.
// It only reports an error when no datagram of p could be sent.
func (s *UDPSink) Write(p []byte) (int, error) {
	res := s.Send(p)
	if res.Datagrams == 0 && res.Err != nil {
		return 0, res.Err
	}
	return len(p), nil
}

// Stats returns the counters of the current reporting window.
func (s *UDPSink) Stats() ThroughputSnapshot {
	return s.stats.Current()
}

// Close releases the socket. Further sends fail.
func (s *UDPSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close()
}
