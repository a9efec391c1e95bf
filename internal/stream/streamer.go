// Package stream runs one video stream: it finds the capture mode closest to the
// request, opens it through a capture driver and sends every chunk of encoder output
// through a UDP sink.
package stream

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/skylink-fpv/skylink/internal/capture"
	"github.com/skylink-fpv/skylink/internal/h264"
	"github.com/skylink-fpv/skylink/internal/relayerr"
	"github.com/skylink-fpv/skylink/internal/transport"
	"github.com/skylink-fpv/skylink/internal/util"
)

// Detector enumerates capture devices. *capture.Catalog implements it.
type Detector interface {
	Detect(ctx context.Context, deviceFilter string) ([]capture.DeviceGroup, error)
}

// Sink transmits encoded video. *transport.UDPSink implements it.
type Sink interface {
	Send(buf []byte) transport.SendResult
	Close() error
}

// Config describes one stream.
type Config struct {
	Request     capture.SelectionRequest
	Output      transport.OutputStreamConfig
	Bitrate     int
	IntraPeriod int
	// Metric overrides the selector's distance metric.
	Metric capture.Metric
	// AlignNAL sends whole H.264 NAL units instead of the encoder's read chunks, so a
	// lost datagram never spans two units.
	AlignNAL bool
}

// Plan is the outcome of mode selection.
type Plan struct {
	Mode capture.CapabilityRecord
	FPS  uint32
}

func (p Plan) String() string {
	return fmt.Sprintf("%s %s %s@%dfps", p.Mode.DeviceID, p.Mode.Kind, p.Mode.Resolution(), p.FPS)
}

// Stats summarises a finished stream.
type Stats struct {
	Chunks    uint64
	Bytes     uint64
	Datagrams uint64
	Failed    uint64
	KeyFrames uint64
}

// Option customizes a Streamer.
type Option func(*Streamer)

// WithSink makes the streamer send through sink instead of opening a UDP sink.
func WithSink(sink Sink) Option {
	return func(s *Streamer) { s.sink = sink }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Streamer) { s.logger = logger }
}

// Streamer runs a stream from detection to the network.
type Streamer struct {
	cfg      Config
	detector Detector
	driver   capture.Driver
	sink     Sink
	logger   *slog.Logger
	session  string
	stats    Stats
}

// New returns a streamer. Nothing is probed or opened until Run or Plan.
func New(cfg Config, detector Detector, driver capture.Driver, opts ...Option) *Streamer {
	s := &Streamer{
		cfg:      cfg,
		detector: detector,
		driver:   driver,
		session:  uuid.NewString(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = util.Component("stream")
	}
	s.logger = s.logger.With("session", s.session)
	return s
}

// Session identifies this stream in logs.
func (s *Streamer) Session() string {
	return s.session
}

// Stats returns the counters of the last Run.
func (s *Streamer) Stats() Stats {
	return s.stats
}

// Plan detects the cameras and selects the mode Run would stream.
func (s *Streamer) Plan(ctx context.Context) (Plan, error) {
	req := s.cfg.Request
	groups, err := s.detector.Detect(ctx, req.DeviceFilter)
	if err != nil {
		return Plan{}, err
	}

	// The catalog already applied the device filter, matching logical ids and device
	// nodes alike, so the selector must not filter again on the id alone.
	unfiltered := req
	unfiltered.DeviceFilter = ""
	mode, err := capture.Selector{Metric: s.cfg.Metric}.SelectGroups(groups, unfiltered)
	if err != nil {
		if req.DeviceFilter != "" && len(groups) == 0 {
			return Plan{}, &capture.NotFoundError{
				Request: req,
				Reason:  fmt.Sprintf("no camera matches device %q; run `skylink cameras ls` to list devices", req.DeviceFilter),
			}
		}
		var nf *capture.NotFoundError
		if errors.As(err, &nf) {
			nf.Request = req
		}
		return Plan{}, err
	}
	return Plan{Mode: mode, FPS: capture.EffectiveFPS(mode, req.DesiredFPS)}, nil
}

// Run selects a mode, opens it and streams until the driver reports the end of the
// stream or ctx is cancelled. Send failures are counted, never fatal.
func (s *Streamer) Run(ctx context.Context) error {
	plan, err := s.Plan(ctx)
	if err != nil {
		s.logger.Error("no camera matching the requested parameters", "request", s.cfg.Request.String(), "error", err)
		return err
	}

	if s.sink == nil {
		sink, err := transport.NewUDPSink(s.cfg.Output, transport.WithLogger(s.logger))
		if err != nil {
			return err
		}
		s.sink = sink
	}
	defer s.sink.Close()

	handle, err := s.driver.Open(ctx, plan.Mode, capture.StreamParams{
		FPS:         plan.FPS,
		Bitrate:     s.cfg.Bitrate,
		IntraPeriod: s.cfg.IntraPeriod,
	})
	if err != nil {
		return relayerr.WrapUnavailable(err, "failed to open %s", plan.Mode)
	}
	defer handle.Close()

	s.logger.Info("streaming video", "mode", plan.String(), "port", s.cfg.Output.Port,
		"host", s.cfg.Output.Host, "broadcast", s.cfg.Output.Broadcast, "bitrate", s.cfg.Bitrate)

	s.stats = Stats{}
	var splitter *h264.Splitter
	if s.cfg.AlignNAL {
		splitter = h264.NewSplitter(h264.DefaultMaxUnit)
	}
	for {
		chunk, err := handle.ReadFrame(ctx)
		if err != nil {
			if splitter != nil {
				if rest := splitter.Flush(); len(rest) > 0 {
					s.send(rest)
				}
			}
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				s.logger.Info("stream ended", "chunks", s.stats.Chunks, "bytes", s.stats.Bytes,
					"failed", s.stats.Failed, "key_frames", s.stats.KeyFrames)
				return nil
			}
			return relayerr.WrapUnavailable(err, "capture from %s failed", plan.Mode.DeviceID)
		}
		if len(chunk) == 0 {
			continue
		}
		if splitter == nil {
			s.send(chunk)
			continue
		}
		for _, nal := range splitter.Push(chunk) {
			s.send(nal)
		}
	}
}

func (s *Streamer) send(chunk []byte) {
	res := s.sink.Send(chunk)
	s.stats.Chunks++
	s.stats.Bytes += uint64(len(chunk))
	s.stats.Datagrams += uint64(res.Datagrams)
	s.stats.Failed += uint64(res.Failed)
	if s.cfg.AlignNAL {
		if h264.IsKeyFrame(chunk) {
			s.stats.KeyFrames++
		}
	}
}
