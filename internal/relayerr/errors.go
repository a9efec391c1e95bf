// Package relayerr defines the error taxonomy shared by the transport, telemetry and
// capture packages.
//
// Construction-time failures are ErrConfiguration or ErrHardwareUnavailable and are
// returned to the caller. Steady-state failures (ErrTransientIO, ErrMalformedInput) are
// counted and logged by the component that hit them and never stop a stream.
package relayerr

import (
	stderrors "errors"

	"github.com/pkg/errors"
)

var (
	// ErrConfiguration marks a bad or missing required parameter.
	ErrConfiguration = stderrors.New("configuration error")
	// ErrHardwareUnavailable marks a missing device, port or capture mode.
	ErrHardwareUnavailable = stderrors.New("hardware unavailable")
	// ErrTransientIO marks a single failed datagram send or receive.
	ErrTransientIO = stderrors.New("transient I/O error")
	// ErrMalformedInput marks an input that was discarded without changing state.
	ErrMalformedInput = stderrors.New("malformed input")
)

type classified struct {
	kind  error
	cause error
}

func (c *classified) Error() string { return c.cause.Error() }

func (c *classified) Unwrap() []error { return []error{c.kind, c.cause} }

func (c *classified) Cause() error { return c.cause }

func classify(kind error, cause error) error {
	return &classified{kind: kind, cause: cause}
}

// Configuration returns an ErrConfiguration with a formatted message.
func Configuration(format string, args ...interface{}) error {
	return classify(ErrConfiguration, errors.Errorf(format, args...))
}

// Unavailable returns an ErrHardwareUnavailable with a formatted message.
func Unavailable(format string, args ...interface{}) error {
	return classify(ErrHardwareUnavailable, errors.Errorf(format, args...))
}

// WrapUnavailable classifies err as ErrHardwareUnavailable and adds context.
func WrapUnavailable(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return classify(ErrHardwareUnavailable, errors.Wrapf(err, format, args...))
}

// WrapTransient classifies err as ErrTransientIO and adds context.
func WrapTransient(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return classify(ErrTransientIO, errors.Wrapf(err, format, args...))
}

// Malformed returns an ErrMalformedInput with a formatted message.
func Malformed(format string, args ...interface{}) error {
	return classify(ErrMalformedInput, errors.Errorf(format, args...))
}

// Is reports whether err is classified as kind.
func Is(err, kind error) bool {
	return stderrors.Is(err, kind)
}
