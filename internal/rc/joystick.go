package rc

import (
	"encoding/binary"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/skylink-fpv/skylink/internal/relayerr"
)

const (
	jsEventSize  = 8
	jsEventAxis  = 0x02
	jsEventInit  = 0x80
	maxAxes      = 32
	reopenPeriod = time.Second
)

// Joystick reads a Linux joystick device (/dev/input/jsN). It reopens the device
// after it disappears, so unplugging and replugging the transmitter is handled.
type Joystick struct {
	path   string
	logger *slog.Logger
	open   func(path string) (io.ReadCloser, error)

	mu        sync.Mutex
	axes      []int16
	connected bool
	lastTry   time.Time
	dev       io.ReadCloser
	closed    bool
}

// NewJoystick returns a reader for the device at path. The device does not need to
// exist yet.
func NewJoystick(path string, logger *slog.Logger) *Joystick {
	return &Joystick{
		path:   path,
		logger: logger,
		open:   func(p string) (io.ReadCloser, error) { return os.Open(p) },
		axes:   make([]int16, maxAxes),
	}
}

// ReadAxes returns the latest axis positions, or ok false while the device is absent.
func (j *Joystick) ReadAxes() ([]int16, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.connected && !j.closed && time.Since(j.lastTry) >= reopenPeriod {
		j.lastTry = time.Now()
		j.connectLocked()
	}
	if !j.connected {
		return nil, false
	}
	return append([]int16(nil), j.axes...), true
}

func (j *Joystick) connectLocked() {
	dev, err := j.open(j.path)
	if err != nil {
		return
	}
	j.dev = dev
	j.connected = true
	for i := range j.axes {
		j.axes[i] = 0
	}
	go j.readEvents(dev)
}

func (j *Joystick) readEvents(dev io.ReadCloser) {
	buf := make([]byte, jsEventSize)
	for {
		if _, err := io.ReadFull(dev, buf); err != nil {
			j.mu.Lock()
			if j.dev == dev {
				j.connected = false
				j.dev = nil
			}
			j.mu.Unlock()
			dev.Close()
			if j.logger != nil {
				j.logger.Debug("joystick disconnected", "path", j.path, "error", err)
			}
			return
		}
		j.apply(buf)
	}
}

// apply decodes one js_event: u32 time, s16 value, u8 type, u8 number.
func (j *Joystick) apply(event []byte) {
	value := int16(binary.LittleEndian.Uint16(event[4:6]))
	kind := event[6] &^ jsEventInit
	number := int(event[7])
	if kind != jsEventAxis || number >= maxAxes {
		return
	}
	j.mu.Lock()
	j.axes[number] = value
	j.mu.Unlock()
}

func (j *Joystick) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.closed = true
	j.connected = false
	if j.dev != nil {
		err := j.dev.Close()
		j.dev = nil
		if err != nil {
			return relayerr.WrapTransient(err, "close %s", j.path)
		}
	}
	return nil
}
