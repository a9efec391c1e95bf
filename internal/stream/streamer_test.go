package stream

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skylink-fpv/skylink/internal/capture"
	"github.com/skylink-fpv/skylink/internal/relayerr"
	"github.com/skylink-fpv/skylink/internal/transport"
	"github.com/skylink-fpv/skylink/internal/util"
)

type fakeDetector struct {
	groups []capture.DeviceGroup
	err    error
	filter string
}

func (d *fakeDetector) Detect(_ context.Context, filter string) ([]capture.DeviceGroup, error) {
	d.filter = filter
	var out []capture.DeviceGroup
	for _, g := range d.groups {
		if g.Matches(filter) {
			out = append(out, g)
		}
	}
	return out, d.err
}

type fakeHandle struct {
	chunks [][]byte
	err    error
	closed bool
}

func (h *fakeHandle) ReadFrame(context.Context) ([]byte, error) {
	if len(h.chunks) == 0 {
		if h.err != nil {
			return nil, h.err
		}
		return nil, io.EOF
	}
	c := h.chunks[0]
	h.chunks = h.chunks[1:]
	return c, nil
}

func (h *fakeHandle) Close() error { h.closed = true; return nil }

type fakeDriver struct {
	handle *fakeHandle
	opened []capture.CapabilityRecord
	params []capture.StreamParams
	err    error
}

func (d *fakeDriver) Open(_ context.Context, rec capture.CapabilityRecord, params capture.StreamParams) (capture.Handle, error) {
	d.opened = append(d.opened, rec)
	d.params = append(d.params, params)
	if d.err != nil {
		return nil, d.err
	}
	return d.handle, nil
}

type fakeSink struct {
	mu     sync.Mutex
	sent   [][]byte
	closed bool
}

func (s *fakeSink) Send(buf []byte) transport.SendResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, buf)
	return transport.SendResult{Datagrams: 2, Failed: 1}
}

func (s *fakeSink) Close() error { s.closed = true; return nil }

func groupsFixture() []capture.DeviceGroup {
	return []capture.DeviceGroup{
		{
			DeviceID: "picam1", Node: "/dev/video0", Kind: capture.IntegratedCapture,
			Modes: []capture.CapabilityRecord{
				{Kind: capture.IntegratedCapture, DeviceID: "picam1", Width: 1920, Height: 1080, MaxFPS: 30},
				{Kind: capture.IntegratedCapture, DeviceID: "picam1", Width: 640, Height: 480, MaxFPS: 90},
			},
		},
		{
			DeviceID: "/dev/video2", Node: "/dev/video2", Kind: capture.NativeCapture,
			Modes: []capture.CapabilityRecord{
				{Kind: capture.NativeCapture, DeviceID: "/dev/video2", Width: 1280, Height: 720, MaxFPS: 30},
			},
		},
	}
}

func TestStreamerRun(t *testing.T) {
	t.Parallel()

	handle := &fakeHandle{chunks: [][]byte{[]byte("frame-1"), {}, []byte("frame-2")}}
	driver := &fakeDriver{handle: handle}
	sink := &fakeSink{}
	cfg := Config{
		Request: capture.SelectionRequest{DesiredWidth: 640, DesiredHeight: 480, DesiredFPS: 60, PreferKind: capture.IntegratedCapture},
		Bitrate: 3000000,
	}
	s := New(cfg, &fakeDetector{groups: groupsFixture()}, driver, WithSink(sink), WithLogger(util.Discard()))

	require.NoError(t, s.Run(context.Background()))

	require.Len(t, driver.opened, 1)
	assert.Equal(t, uint32(640), driver.opened[0].Width)
	assert.Equal(t, capture.StreamParams{FPS: 60, Bitrate: 3000000}, driver.params[0])
	assert.Equal(t, [][]byte{[]byte("frame-1"), []byte("frame-2")}, sink.sent)
	assert.True(t, handle.closed)
	assert.True(t, sink.closed)
	assert.Equal(t, Stats{Chunks: 2, Bytes: 14, Datagrams: 4, Failed: 2}, s.Stats())
	assert.NotEmpty(t, s.Session())
}

func TestStreamerPrefersNativeAcrossDevices(t *testing.T) {
	t.Parallel()

	groups := []capture.DeviceGroup{
		{
			DeviceID: "picam1", Node: "/dev/video0", Kind: capture.IntegratedCapture,
			Modes: []capture.CapabilityRecord{
				{Kind: capture.IntegratedCapture, DeviceID: "picam1", Width: 1920, Height: 1080, MaxFPS: 30},
			},
		},
		{
			DeviceID: "/dev/video1", Node: "/dev/video1", Kind: capture.NativeCapture,
			Modes: []capture.CapabilityRecord{
				{Kind: capture.NativeCapture, DeviceID: "/dev/video1", Width: 1280, Height: 720, MaxFPS: 60},
			},
		},
	}
	req := capture.SelectionRequest{DesiredWidth: 1920, DesiredHeight: 1080, DesiredFPS: 60, PreferKind: capture.NativeCapture}
	s := New(Config{Request: req}, &fakeDetector{groups: groups}, &fakeDriver{}, WithLogger(util.Discard()))

	plan, err := s.Plan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, capture.NativeCapture, plan.Mode.Kind)
	assert.Equal(t, "/dev/video1 native 1280x720@60fps", plan.String())
}

func TestStreamerNoCameras(t *testing.T) {
	t.Parallel()

	driver := &fakeDriver{handle: &fakeHandle{}}
	sink := &fakeSink{}
	s := New(Config{Request: capture.SelectionRequest{DesiredWidth: 1280, DesiredHeight: 720}}, &fakeDetector{}, driver,
		WithSink(sink), WithLogger(util.Discard()))

	err := s.Run(context.Background())
	require.Error(t, err)
	assert.True(t, relayerr.Is(err, relayerr.ErrHardwareUnavailable))
	assert.ErrorIs(t, err, capture.ErrNotFound)
	assert.Contains(t, err.Error(), "1280x720")
	assert.Empty(t, driver.opened, "nothing is opened when no mode matches")
	assert.False(t, sink.closed)
}

func TestStreamerDeviceFilterByNode(t *testing.T) {
	t.Parallel()

	detector := &fakeDetector{groups: groupsFixture()}
	s := New(Config{Request: capture.SelectionRequest{DesiredWidth: 1280, DesiredHeight: 720, DesiredFPS: 30, DeviceFilter: "/dev/video0"}},
		detector, &fakeDriver{}, WithLogger(util.Discard()))

	plan, err := s.Plan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/dev/video0", detector.filter)
	assert.Equal(t, "picam1", plan.Mode.DeviceID)
	assert.Equal(t, uint32(640), plan.Mode.Width)
	assert.Equal(t, uint32(30), plan.FPS)
}

func TestStreamerUnknownDevice(t *testing.T) {
	t.Parallel()

	s := New(Config{Request: capture.SelectionRequest{DesiredWidth: 1280, DesiredHeight: 720, DeviceFilter: "picam7"}},
		&fakeDetector{groups: groupsFixture()}, &fakeDriver{}, WithLogger(util.Discard()))

	_, err := s.Plan(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, capture.ErrNotFound)
	assert.Contains(t, err.Error(), `"picam7"`)
	assert.Contains(t, err.Error(), "cameras ls")
}

func TestStreamerDetectionFailure(t *testing.T) {
	t.Parallel()

	s := New(Config{}, &fakeDetector{err: relayerr.Unavailable("no video devices")}, &fakeDriver{}, WithLogger(util.Discard()))
	err := s.Run(context.Background())
	assert.True(t, relayerr.Is(err, relayerr.ErrHardwareUnavailable))
}

func TestStreamerDriverFailures(t *testing.T) {
	t.Parallel()

	cfg := Config{Request: capture.SelectionRequest{DesiredWidth: 1280, DesiredHeight: 720}}

	s := New(cfg, &fakeDetector{groups: groupsFixture()}, &fakeDriver{err: errors.New("camera busy")},
		WithSink(&fakeSink{}), WithLogger(util.Discard()))
	err := s.Run(context.Background())
	require.Error(t, err)
	assert.True(t, relayerr.Is(err, relayerr.ErrHardwareUnavailable))
	assert.Contains(t, err.Error(), "camera busy")

	handle := &fakeHandle{chunks: [][]byte{[]byte("x")}, err: errors.New("broken pipe")}
	s = New(cfg, &fakeDetector{groups: groupsFixture()}, &fakeDriver{handle: handle},
		WithSink(&fakeSink{}), WithLogger(util.Discard()))
	err = s.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken pipe")
	assert.True(t, handle.closed)
}

func TestStreamerStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	handle := &fakeHandle{chunks: [][]byte{[]byte("x")}, err: context.Canceled}
	cancel()

	s := New(Config{Request: capture.SelectionRequest{DesiredWidth: 1280, DesiredHeight: 720}},
		&fakeDetector{groups: groupsFixture()}, &fakeDriver{handle: handle}, WithSink(&fakeSink{}), WithLogger(util.Discard()))
	assert.NoError(t, s.Run(ctx))
}

func TestStreamerAlignsNALUnits(t *testing.T) {
	t.Parallel()

	sps := []byte{0, 0, 0, 1, 0x67, 0x42}
	idr := []byte{0, 0, 0, 1, 0x65, 0x88, 0x84}
	slice := []byte{0, 0, 1, 0x41, 0x9a}
	data := append(append(append([]byte(nil), sps...), idr...), slice...)

	// The encoder output is cut in the middle of units.
	handle := &fakeHandle{chunks: [][]byte{data[:3], data[3:9], data[9:]}}
	sink := &fakeSink{}
	s := New(Config{Request: capture.SelectionRequest{DesiredWidth: 1280, DesiredHeight: 720}, AlignNAL: true},
		&fakeDetector{groups: groupsFixture()}, &fakeDriver{handle: handle}, WithSink(sink), WithLogger(util.Discard()))

	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, [][]byte{sps, idr, slice}, sink.sent)
	stats := s.Stats()
	assert.Equal(t, uint64(3), stats.Chunks)
	assert.Equal(t, uint64(len(data)), stats.Bytes)
	assert.Equal(t, uint64(1), stats.KeyFrames)
}
