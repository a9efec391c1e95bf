package transport

import (
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/pkg/errors"
	"k8s.io/utils/clock"

	"github.com/skylink-fpv/skylink/internal/relayerr"
	"github.com/skylink-fpv/skylink/internal/util"
)

// ReceiveTimeout bounds each socket read so Run notices cancellation.
const ReceiveTimeout = 250 * time.Millisecond

const maxDatagram = 65535

// ReceiverConfig describes the ground side of a video stream.
type ReceiverConfig struct {
	// Listen is the local host:port to bind, e.g. ":5600".
	Listen string
	// FEC must match whether the sender uses a non-zero FEC ratio.
	FEC bool
}

// ReceiverStats counts what a receiver has handled.
type ReceiverStats struct {
	Datagrams  uint64
	Bytes      uint64
	Malformed  uint64
	Reassembly ReassemblyStats
}

type ReceiverOption func(*Receiver)

// WithListenConn makes the receiver read from conn instead of binding Listen. The
// receiver takes ownership of conn.
func WithListenConn(conn net.PacketConn) ReceiverOption {
	return func(r *Receiver) { r.conn = conn }
}

func WithReceiverLogger(logger *slog.Logger) ReceiverOption {
	return func(r *Receiver) { r.logger = logger }
}

func WithReceiverClock(clk clock.PassiveClock) ReceiverOption {
	return func(r *Receiver) { r.clock = clk }
}

// Receiver reads the datagrams of a UDPSink and writes the original byte stream to a
// writer, typically the stdin of a video player. Without FEC every datagram is
// written as it arrives; with FEC whole groups are written once rebuilt.
type Receiver struct {
	cfg    ReceiverConfig
	conn   net.PacketConn
	reasm  *Reassembler
	stats  *Throughput
	clock  clock.PassiveClock
	logger *slog.Logger

	datagrams uint64
	bytes     uint64
	malformed uint64
}

// NewReceiver binds the listen address.
func NewReceiver(cfg ReceiverConfig, opts ...ReceiverOption) (*Receiver, error) {
	r := &Receiver{cfg: cfg}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = util.Component("receiver")
	}
	if r.conn == nil {
		if cfg.Listen == "" {
			return nil, relayerr.Configuration("receiver listen address is required")
		}
		conn, err := net.ListenPacket("udp4", cfg.Listen)
		if err != nil {
			return nil, relayerr.WrapUnavailable(err, "failed to listen on %s", cfg.Listen)
		}
		r.conn = conn
	}
	if cfg.FEC {
		r.reasm = NewReassembler()
	}

	port := 0
	if addr, ok := r.conn.LocalAddr().(*net.UDPAddr); ok {
		port = addr.Port
	}
	r.stats = NewThroughput(port, r.clock, r.logger)
	return r, nil
}

// LocalAddr returns the bound address.
func (r *Receiver) LocalAddr() net.Addr {
	return r.conn.LocalAddr()
}

// Run copies the stream to w until ctx is done. It fails only when the socket or w
// fails; malformed datagrams and unrecoverable groups are counted and skipped.
func (r *Receiver) Run(ctx context.Context, w io.Writer) error {
	buf := make([]byte, maxDatagram)
	r.logger.Info("receiving video", "listen", r.conn.LocalAddr().String(), "fec", r.cfg.FEC)
	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := r.conn.SetReadDeadline(time.Now().Add(ReceiveTimeout)); err != nil {
			r.logger.Debug("read deadline not supported", "error", err)
		}
		n, _, err := r.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			return relayerr.WrapUnavailable(err, "receive on %s failed", r.conn.LocalAddr())
		}
		r.datagrams++

		payload, blocks := buf[:n], 0
		if r.reasm != nil {
			payload, err = r.reasm.Push(payload)
			if err != nil {
				r.malformed++
				r.logger.Debug("dropping fec shard", "error", err)
				continue
			}
			if payload == nil {
				continue
			}
			blocks = 1
		}

		if _, err := w.Write(payload); err != nil {
			return errors.Wrap(err, "failed to write received stream")
		}
		r.bytes += uint64(len(payload))
		r.stats.Record(len(payload), blocks, 0)
	}
}

// Stats returns the receiver counters. It must not be called concurrently with Run.
func (r *Receiver) Stats() ReceiverStats {
	s := ReceiverStats{Datagrams: r.datagrams, Bytes: r.bytes, Malformed: r.malformed}
	if r.reasm != nil {
		s.Reassembly = r.reasm.Stats()
	}
	return s
}

func (r *Receiver) Close() error {
	return r.conn.Close()
}
