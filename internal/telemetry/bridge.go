package telemetry

import (
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/skylink-fpv/skylink/internal/relay"
	"github.com/skylink-fpv/skylink/internal/relayerr"
	"github.com/skylink-fpv/skylink/internal/transport"
	"github.com/skylink-fpv/skylink/internal/util"
)

const (
	DefaultMinPacket     = 128
	DefaultFlushInterval = 50 * time.Millisecond
	DefaultQueueSize     = 64

	// UplinkReadTimeout bounds each uplink socket read so the bridge can notice a stop.
	UplinkReadTimeout = 250 * time.Millisecond

	serialReadSize   = 1024
	uplinkBufferSize = 2048
)

// State is the lifecycle position of a Bridge.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// PacketSender is the outbound half of the bridge. *transport.UDPSink implements it.
type PacketSender interface {
	Send(buf []byte) transport.SendResult
	Close() error
}

// CommandSender consumes the latest RC channel state, for example by forwarding it to
// a flight controller.
type CommandSender interface {
	SendRC(ctx context.Context, ch RCChannels) error
}

// CommandSenderFunc adapts a function to CommandSender.
type CommandSenderFunc func(ctx context.Context, ch RCChannels) error

func (f CommandSenderFunc) SendRC(ctx context.Context, ch RCChannels) error { return f(ctx, ch) }

// BridgeConfig configures the serial telemetry bridge.
type BridgeConfig struct {
	UART     string
	Baudrate int
	Output   transport.OutputStreamConfig
	// RCListen is the host:port the uplink socket binds to. Empty disables the uplink.
	RCListen string
	// MinPacket is the number of bytes collected before a send. 0 sends every read.
	MinPacket     int
	FlushInterval time.Duration
	QueueSize     int
}

// Validate checks required fields and fills in defaults.
func (c *BridgeConfig) Validate() error {
	if c.UART == "" {
		return relayerr.Configuration("serial device path is required")
	}
	if c.Baudrate <= 0 {
		return relayerr.Configuration("baud rate %d must be positive", c.Baudrate)
	}
	if c.MinPacket < 0 {
		return relayerr.Configuration("min packet %d must not be negative", c.MinPacket)
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	return nil
}

// BridgeDeps holds the collaborators of a Bridge. Nil fields get real implementations.
type BridgeDeps struct {
	OpenSerial SerialOpener
	Sink       PacketSender
	// Uplink replaces the socket bound to RCListen.
	Uplink   net.PacketConn
	Commands CommandSender
	Logger   *slog.Logger
}

// BridgeStats counts what passed through a bridge.
type BridgeStats struct {
	SerialBytes   uint64
	SerialFrames  uint64
	Datagrams     uint64
	SendFailures  uint64
	RCUpdates     uint64
	RCMalformed   uint64
	RCDrops       uint64
	CommandErrors uint64
}

type bridgeCounters struct {
	serialBytes   atomic.Uint64
	serialFrames  atomic.Uint64
	datagrams     atomic.Uint64
	sendFailures  atomic.Uint64
	rcUpdates     atomic.Uint64
	rcMalformed   atomic.Uint64
	commandErrors atomic.Uint64
}

// Bridge moves bytes from a serial link to UDP and RC channel updates from UDP to a
// command sender.
//
// The serial reader and the UDP writer are decoupled by a bounded queue, so a slow
// network never stalls the serial port for longer than the queue takes to fill. RC
// updates go through a latest-wins cell: the command sender always acts on the newest
// state and never on a stale backlog.
type Bridge struct {
	cfg      BridgeConfig
	source   SerialSource
	sink     PacketSender
	uplink   net.PacketConn
	commands CommandSender
	logger   *slog.Logger

	frames *relay.Queue[[]byte]
	rc     *relay.Latest[RCChannels]

	state    atomic.Int32
	mu       sync.Mutex
	cancel   context.CancelFunc
	closeRes sync.Once
	counters bridgeCounters
}

// NewBridge opens the serial device, the UDP sink and, when configured, the uplink
// socket. On failure everything opened so far is closed again.
func NewBridge(cfg BridgeConfig, deps BridgeDeps) (*Bridge, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Logger == nil {
		deps.Logger = util.Component("telemetry")
	}
	if deps.OpenSerial == nil {
		deps.OpenSerial = OpenSerial
	}

	b := &Bridge{
		cfg:      cfg,
		commands: deps.Commands,
		logger:   deps.Logger,
		frames:   relay.NewQueue[[]byte](cfg.QueueSize),
		rc:       relay.NewLatest[RCChannels](),
	}

	source, err := deps.OpenSerial(cfg.UART, cfg.Baudrate)
	if err != nil {
		return nil, relayerr.WrapUnavailable(err, "telemetry serial %s", cfg.UART)
	}
	b.source = source

	b.sink = deps.Sink
	if b.sink == nil {
		sink, err := transport.NewUDPSink(cfg.Output, transport.WithLogger(deps.Logger))
		if err != nil {
			source.Close()
			return nil, err
		}
		b.sink = sink
	}

	b.uplink = deps.Uplink
	if b.uplink == nil && cfg.RCListen != "" {
		conn, err := net.ListenPacket("udp4", cfg.RCListen)
		if err != nil {
			source.Close()
			b.sink.Close()
			return nil, relayerr.WrapUnavailable(err, "failed to bind rc uplink %s", cfg.RCListen)
		}
		b.uplink = conn
	}
	return b, nil
}

// State returns the current lifecycle state.
func (b *Bridge) State() State {
	return State(b.state.Load())
}

// RCChannels returns the most recent valid RC update. ok is false until one arrives.
func (b *Bridge) RCChannels() (RCChannels, bool) {
	ch, _, ok := b.rc.Load()
	return ch, ok
}

func (b *Bridge) Stats() BridgeStats {
	return BridgeStats{
		SerialBytes:   b.counters.serialBytes.Load(),
		SerialFrames:  b.counters.serialFrames.Load(),
		Datagrams:     b.counters.datagrams.Load(),
		SendFailures:  b.counters.sendFailures.Load(),
		RCUpdates:     b.counters.rcUpdates.Load(),
		RCMalformed:   b.counters.rcMalformed.Load(),
		RCDrops:       b.rc.Drops(),
		CommandErrors: b.counters.commandErrors.Load(),
	}
}

// Run starts the loops and blocks until the bridge stops. It returns nil when stopped
// through Stop or ctx, and the serial error when the serial link fails.
func (b *Bridge) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// cancel is published together with the state change, so a Stop that sees
	// Running always finds it.
	b.mu.Lock()
	if !b.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		b.mu.Unlock()
		return errors.Errorf("bridge cannot run from state %s", b.State())
	}
	b.cancel = cancel
	b.mu.Unlock()

	b.logger.Info("telemetry bridge started", "uart", b.cfg.UART, "baudrate", b.cfg.Baudrate,
		"uplink", b.cfg.RCListen != "" || b.uplink != nil)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer b.frames.Close()
		return b.readLoop(gctx)
	})
	g.Go(func() error {
		b.writeLoop()
		return nil
	})
	if b.uplink != nil {
		g.Go(func() error { return b.uplinkLoop(gctx) })
	}
	if b.commands != nil {
		g.Go(func() error { return b.commandLoop(gctx) })
	}
	go func() {
		<-gctx.Done()
		b.state.CompareAndSwap(int32(StateRunning), int32(StateDraining))
	}()

	err := g.Wait()
	b.state.Store(int32(StateDraining))
	b.closeResources()
	b.state.Store(int32(StateStopped))

	stats := b.Stats()
	b.logger.Info("telemetry bridge stopped", "serial_bytes", stats.SerialBytes,
		"datagrams", stats.Datagrams, "rc_updates", stats.RCUpdates, "rc_malformed", stats.RCMalformed)
	if err != nil {
		b.logger.Error("telemetry bridge failed", "error", err)
	}
	return err
}

// Stop asks a running bridge to drain and stop. Stopping an idle bridge releases its
// resources. Stop does not wait; Run returns once the loops have exited.
func (b *Bridge) Stop() {
	b.mu.Lock()
	if b.state.CompareAndSwap(int32(StateIdle), int32(StateStopped)) {
		b.mu.Unlock()
		b.closeResources()
		return
	}
	cancel := b.cancel
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (b *Bridge) closeResources() {
	b.closeRes.Do(func() {
		b.frames.Close()
		b.rc.Close()
		if err := b.source.Close(); err != nil {
			b.logger.Debug("serial close failed", "error", err)
		}
		if err := b.sink.Close(); err != nil {
			b.logger.Debug("sink close failed", "error", err)
		}
		if b.uplink != nil {
			if err := b.uplink.Close(); err != nil {
				b.logger.Debug("uplink close failed", "error", err)
			}
		}
	})
}

func (b *Bridge) readLoop(ctx context.Context) error {
	buf := make([]byte, serialReadSize)
	for {
		if ctx.Err() != nil {
			return nil
		}
		n, err := b.source.Read(buf)
		if n > 0 {
			frame := make([]byte, n)
			copy(frame, buf[:n])
			b.counters.serialBytes.Add(uint64(n))
			b.counters.serialFrames.Add(1)
			if err := b.frames.Put(ctx, frame); err != nil {
				return nil
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, io.EOF) {
				return relayerr.Unavailable("serial device %s closed", b.cfg.UART)
			}
			return relayerr.WrapUnavailable(err, "serial read from %s", b.cfg.UART)
		}
	}
}

// writeLoop drains the frame queue until it is closed and empty, so frames read
// before a stop still go out.
func (b *Bridge) writeLoop() {
	var (
		pending  []byte
		deadline time.Time
	)
	flush := func() {
		if len(pending) == 0 {
			return
		}
		res := b.sink.Send(pending)
		b.counters.datagrams.Add(uint64(res.Datagrams))
		if res.Failed > 0 {
			b.counters.sendFailures.Add(uint64(res.Failed))
		}
		if res.Err != nil {
			b.logger.Debug("telemetry send incomplete", "bytes", len(pending), "failed", res.Failed, "error", res.Err)
		}
		pending = pending[:0]
	}

	for {
		getCtx, cancel := context.Background(), context.CancelFunc(func() {})
		if len(pending) > 0 {
			getCtx, cancel = context.WithDeadline(context.Background(), deadline)
		}
		frame, err := b.frames.Get(getCtx)
		cancel()

		switch {
		case err == nil:
			if len(pending) == 0 {
				deadline = time.Now().Add(b.cfg.FlushInterval)
			}
			pending = append(pending, frame...)
			if len(pending) > b.cfg.MinPacket {
				flush()
			}
		case errors.Is(err, context.DeadlineExceeded):
			flush()
		default:
			flush()
			return
		}
	}
}

func (b *Bridge) uplinkLoop(ctx context.Context) error {
	buf := make([]byte, uplinkBufferSize)
	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := b.uplink.SetReadDeadline(time.Now().Add(UplinkReadTimeout)); err != nil {
			b.logger.Debug("uplink deadline not supported", "error", err)
		}
		n, from, err := b.uplink.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			b.logger.Debug("uplink read failed", "error", relayerr.WrapTransient(err, "rc uplink"))
			continue
		}

		ch, err := ParseRCChannels(buf[:n])
		if err != nil {
			b.counters.rcMalformed.Add(1)
			b.logger.Debug("discarding rc datagram", "from", addrString(from), "error", err)
			continue
		}
		b.rc.Store(ch)
		b.counters.rcUpdates.Add(1)
	}
}

func (b *Bridge) commandLoop(ctx context.Context) error {
	var version uint64
	for {
		ch, v, err := b.rc.Wait(ctx, version)
		if err != nil {
			return nil
		}
		version = v
		if err := b.commands.SendRC(ctx, ch); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			b.counters.commandErrors.Add(1)
			b.logger.Warn("rc command send failed", "error", err)
		}
	}
}

func addrString(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	return addr.String()
}
