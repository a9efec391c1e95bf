// Package rc reads a transmitter connected to the ground station and sends its stick
// and switch positions to the air unit as RC uplink datagrams.
package rc

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"k8s.io/utils/clock"

	"github.com/skylink-fpv/skylink/internal/telemetry"
	"github.com/skylink-fpv/skylink/internal/transport"
	"github.com/skylink-fpv/skylink/internal/util"
)

// DefaultPeriod is the interval between two uplink datagrams.
const DefaultPeriod = 20 * time.Millisecond

// InputReader polls a transmitter. ok is false while no transmitter is connected.
type InputReader interface {
	ReadAxes() (axes []int16, ok bool)
}

// Sender transmits one uplink datagram. *transport.UDPSink implements it.
type Sender interface {
	Send(buf []byte) transport.SendResult
}

// AxisToChannel maps a raw axis position onto the 1100..1900 channel range.
func AxisToChannel(v int16) uint16 {
	return uint16((float64(v)/65536.0+0.5)*800.0 + 1100.0)
}

// AxesToChannels converts axis positions to a channel set. Missing axes read as
// centred.
func AxesToChannels(axes []int16) telemetry.RCChannels {
	var ch telemetry.RCChannels
	for i := range ch {
		var v int16
		if i < len(axes) {
			v = axes[i]
		}
		ch[i] = AxisToChannel(v)
	}
	return ch
}

// Transmitter periodically relays transmitter positions.
type Transmitter struct {
	input  InputReader
	sender Sender
	period time.Duration
	clock  clock.WithTicker
	logger *slog.Logger

	sent      atomic.Uint64
	skipped   atomic.Uint64
	connected bool
}

// Option customizes a Transmitter.
type Option func(*Transmitter)

func WithPeriod(d time.Duration) Option {
	return func(t *Transmitter) { t.period = d }
}

func WithClock(clk clock.WithTicker) Option {
	return func(t *Transmitter) { t.clock = clk }
}

func WithLogger(logger *slog.Logger) Option {
	return func(t *Transmitter) { t.logger = logger }
}

func NewTransmitter(input InputReader, sender Sender, opts ...Option) *Transmitter {
	t := &Transmitter{
		input:  input,
		sender: sender,
		period: DefaultPeriod,
		clock:  clock.RealClock{},
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = util.Component("rc")
	}
	if t.period <= 0 {
		t.period = DefaultPeriod
	}
	return t
}

// Run sends one datagram per period until ctx is done. Periods in which the
// transmitter is disconnected are skipped.
func (t *Transmitter) Run(ctx context.Context) error {
	ticker := t.clock.NewTicker(t.period)
	defer ticker.Stop()

	t.logger.Info("rc transmitter started", "period", t.period)
	for {
		select {
		case <-ctx.Done():
			t.logger.Info("rc transmitter stopped", "sent", t.sent.Load(), "skipped", t.skipped.Load())
			return nil
		case <-ticker.C():
			t.Tick()
		}
	}
}

// Tick reads the transmitter once and sends its positions if it is connected.
func (t *Transmitter) Tick() bool {
	axes, ok := t.input.ReadAxes()
	if ok != t.connected {
		t.connected = ok
		t.logger.Info("transmitter connection changed", "connected", ok)
	}
	if !ok {
		t.skipped.Add(1)
		return false
	}
	return t.Send(AxesToChannels(axes)) == nil
}

// Send transmits one channel set.
func (t *Transmitter) Send(ch telemetry.RCChannels) error {
	wire, err := ch.MarshalBinary()
	if err != nil {
		return err
	}
	res := t.sender.Send(wire)
	if res.Err != nil {
		t.logger.Debug("rc send failed", "error", res.Err)
		return res.Err
	}
	t.sent.Add(1)
	return nil
}

// Counts returns how many datagrams were sent and how many periods were skipped.
func (t *Transmitter) Counts() (sent, skipped uint64) {
	return t.sent.Load(), t.skipped.Load()
}
