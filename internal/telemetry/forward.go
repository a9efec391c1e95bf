package telemetry

import (
	"context"
)

// Forwarder is a CommandSender that passes every RC update on as a 32-byte datagram,
// typically to a local flight-controller router.
type Forwarder struct {
	sink PacketSender
}

// NewForwarder returns a Forwarder writing to sink. The Forwarder owns sink.
func NewForwarder(sink PacketSender) *Forwarder {
	return &Forwarder{sink: sink}
}

func (f *Forwarder) SendRC(ctx context.Context, ch RCChannels) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	wire, err := ch.MarshalBinary()
	if err != nil {
		return err
	}
	return f.sink.Send(wire).Err
}

func (f *Forwarder) Close() error {
	return f.sink.Close()
}
