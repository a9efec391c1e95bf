package transport

import (
	"log/slog"
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// ReportInterval is how often throughput counters are logged and reset.
const ReportInterval = 2 * time.Second

// ThroughputSnapshot is the state of the counters at one instant.
type ThroughputSnapshot struct {
	Bytes   uint64
	Frames  uint64
	Blocks  uint64
	Failed  uint64
	Elapsed time.Duration
}

// FPS returns frames per second over the snapshot window.
func (s ThroughputSnapshot) FPS() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Frames) / s.Elapsed.Seconds()
}

// Mbps returns megabits per second over the snapshot window.
func (s ThroughputSnapshot) Mbps() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return 8e-6 * float64(s.Bytes) / s.Elapsed.Seconds()
}

// Throughput counts bytes, frames and FEC blocks for one destination port and logs a
// summary each ReportInterval. Counters reset after each report.
type Throughput struct {
	mu       sync.Mutex
	port     int
	clock    clock.PassiveClock
	logger   *slog.Logger
	interval time.Duration

	windowStart time.Time
	bytes       uint64
	frames      uint64
	blocks      uint64
	failed      uint64

	last ThroughputSnapshot
}

// NewThroughput returns a reporter that logs through logger.
func NewThroughput(port int, clk clock.PassiveClock, logger *slog.Logger) *Throughput {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Throughput{
		port:        port,
		clock:       clk,
		logger:      logger,
		interval:    ReportInterval,
		windowStart: clk.Now(),
	}
}

// Record accounts for one frame of frameSize bytes that produced blocks FEC groups
// and failed unsent datagrams.
func (t *Throughput) Record(frameSize, blocks, failed int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.bytes += uint64(frameSize)
	t.frames++
	t.blocks += uint64(blocks)
	t.failed += uint64(failed)

	now := t.clock.Now()
	elapsed := now.Sub(t.windowStart)
	if elapsed <= t.interval {
		return
	}

	t.last = ThroughputSnapshot{
		Bytes:   t.bytes,
		Frames:  t.frames,
		Blocks:  t.blocks,
		Failed:  t.failed,
		Elapsed: elapsed,
	}
	t.report(t.last)

	t.windowStart = now
	t.bytes, t.frames, t.blocks, t.failed = 0, 0, 0, 0
}

func (t *Throughput) report(s ThroughputSnapshot) {
	if t.logger == nil {
		return
	}
	attrs := []any{"port", t.port, "fps", s.FPS(), "mbps", s.Mbps()}
	if s.Blocks > 0 {
		attrs = append(attrs, "blocks", s.Blocks)
	}
	if s.Failed > 0 {
		attrs = append(attrs, "failed", s.Failed)
	}
	t.logger.Debug("stream throughput", attrs...)
}

// Current returns the counters of the window in progress.
func (t *Throughput) Current() ThroughputSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return ThroughputSnapshot{
		Bytes:   t.bytes,
		Frames:  t.frames,
		Blocks:  t.blocks,
		Failed:  t.failed,
		Elapsed: t.clock.Now().Sub(t.windowStart),
	}
}

// LastReport returns the most recently logged window.
func (t *Throughput) LastReport() ThroughputSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}
