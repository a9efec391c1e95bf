package telemetry

import (
	"io"
	"time"

	"go.bug.st/serial"

	"github.com/skylink-fpv/skylink/internal/relayerr"
)

// SerialReadTimeout bounds each serial read so the bridge can notice a stop request.
const SerialReadTimeout = 100 * time.Millisecond

// SerialSource is an open serial link. Read may return 0 bytes and a nil error when
// the read timeout expires without data.
type SerialSource interface {
	io.ReadWriteCloser
}

// SerialOpener opens the serial device at path with the given baud rate.
type SerialOpener func(path string, baudrate int) (SerialSource, error)

// OpenSerial opens a real serial port in 8N1 mode with a short read timeout.
func OpenSerial(path string, baudrate int) (SerialSource, error) {
	port, err := serial.Open(path, &serial.Mode{
		BaudRate: baudrate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, relayerr.WrapUnavailable(err, "failed to open serial port %s at %d baud", path, baudrate)
	}
	if err := port.SetReadTimeout(SerialReadTimeout); err != nil {
		port.Close()
		return nil, relayerr.WrapUnavailable(err, "failed to set read timeout on %s", path)
	}
	return port, nil
}

// ListSerialPorts returns the serial ports present on the system.
func ListSerialPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, relayerr.WrapUnavailable(err, "failed to enumerate serial ports")
	}
	return ports, nil
}
