package capture

import (
	"context"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/skylink-fpv/skylink/internal/procgroup"
	"github.com/skylink-fpv/skylink/internal/relayerr"
)

// StreamParams are the encoder settings a driver opens a mode with.
type StreamParams struct {
	FPS         uint32
	Bitrate     int
	IntraPeriod int
}

// Driver opens a capture stream for a selected mode.
type Driver interface {
	Open(ctx context.Context, rec CapabilityRecord, params StreamParams) (Handle, error)
}

// Handle yields encoded video. ReadFrame returns io.EOF when the stream ends.
type Handle interface {
	ReadFrame(ctx context.Context) ([]byte, error)
	Close() error
}

// DefaultChunkSize is how much encoder output ExecDriver hands out per ReadFrame.
const DefaultChunkSize = 64 * 1024

// ExecDriver streams H.264 from an external encoder process writing to stdout:
// raspivid for integrated cameras and ffmpeg for native devices.
type ExecDriver struct {
	// Resolve maps an integrated logical id to its camera number. Nil derives it from
	// the id suffix (picam1 is camera 0).
	Resolve   func(id string) (int, bool)
	ChunkSize int
}

// Command returns the argv that streams rec.
func (d *ExecDriver) Command(rec CapabilityRecord, params StreamParams) ([]string, error) {
	fps := strconv.Itoa(int(EffectiveFPS(rec, params.FPS)))
	w, h := strconv.Itoa(int(rec.Width)), strconv.Itoa(int(rec.Height))
	switch rec.Kind {
	case IntegratedCapture:
		cam, ok := d.cameraNumber(rec.DeviceID)
		if !ok {
			return nil, relayerr.Configuration("%s is not an integrated camera id", rec.DeviceID)
		}
		argv := []string{"raspivid", "-o", "-", "-t", "0", "-w", w, "-h", h, "-fps", fps, "-cs", strconv.Itoa(cam), "-ih"}
		if params.Bitrate > 0 {
			argv = append(argv, "-b", strconv.Itoa(params.Bitrate))
		}
		if params.IntraPeriod > 0 {
			argv = append(argv, "-g", strconv.Itoa(params.IntraPeriod))
		}
		return argv, nil
	case NativeCapture:
		return []string{
			"ffmpeg", "-loglevel", "error",
			"-f", "v4l2", "-input_format", "h264", "-video_size", w + "x" + h, "-framerate", fps,
			"-i", rec.DeviceID, "-c:v", "copy", "-f", "h264", "-",
		}, nil
	default:
		return nil, relayerr.Configuration("record %s has no capture kind", rec)
	}
}

func (d *ExecDriver) cameraNumber(id string) (int, bool) {
	if d.Resolve != nil {
		return d.Resolve(id)
	}
	n, err := strconv.Atoi(strings.TrimPrefix(id, IntegratedPrefix))
	if err != nil || n < 1 || !strings.HasPrefix(id, IntegratedPrefix) {
		return 0, false
	}
	return n - 1, true
}

func (d *ExecDriver) Open(ctx context.Context, rec CapabilityRecord, params StreamParams) (Handle, error) {
	argv, err := d.Command(rec, params)
	if err != nil {
		return nil, err
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	procgroup.Set(cmd)
	cmd.Cancel = func() error { return procgroup.Kill(cmd) }
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create encoder pipe")
	}
	if err := cmd.Start(); err != nil {
		return nil, relayerr.WrapUnavailable(err, "failed to start %s for %s", argv[0], rec.DeviceID)
	}
	size := d.ChunkSize
	if size <= 0 {
		size = DefaultChunkSize
	}
	return &execHandle{cmd: cmd, stdout: stdout, buf: make([]byte, size)}, nil
}

type execHandle struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	buf    []byte
	once   sync.Once
}

func (h *execHandle) ReadFrame(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n, err := h.stdout.Read(h.buf)
	if n > 0 {
		return append([]byte(nil), h.buf[:n]...), nil
	}
	if err != nil {
		return nil, err
	}
	return nil, nil
}

func (h *execHandle) Close() error {
	var err error
	h.once.Do(func() {
		_ = procgroup.Kill(h.cmd)
		err = h.cmd.Wait()
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			err = nil
		}
	})
	return err
}
