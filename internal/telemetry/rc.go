package telemetry

import (
	"encoding/binary"

	"github.com/skylink-fpv/skylink/internal/relayerr"
)

const (
	// NumRCChannels is the fixed number of channels in an uplink command.
	NumRCChannels = 16
	// RCDatagramSize is the exact size of an RC uplink datagram.
	RCDatagramSize = NumRCChannels * 2

	// RCChannelMin and RCChannelMax bound the values a transmitter normally emits.
	RCChannelMin = 1000
	RCChannelMax = 1900
)

// RCChannels holds stick and switch positions, channel 1 first.
type RCChannels [NumRCChannels]uint16

// ParseRCChannels decodes a 32-byte little-endian uplink datagram. Any other size is
// rejected as malformed and nothing is decoded.
func ParseRCChannels(datagram []byte) (RCChannels, error) {
	var ch RCChannels
	if len(datagram) != RCDatagramSize {
		return ch, relayerr.Malformed("rc datagram is %d bytes, want %d", len(datagram), RCDatagramSize)
	}
	for i := range ch {
		ch[i] = binary.LittleEndian.Uint16(datagram[2*i:])
	}
	return ch, nil
}

// MarshalBinary encodes the channels in the 32-byte uplink wire format.
func (c RCChannels) MarshalBinary() ([]byte, error) {
	return c.AppendBinary(make([]byte, 0, RCDatagramSize))
}

// AppendBinary appends the wire encoding of c to b.
func (c RCChannels) AppendBinary(b []byte) ([]byte, error) {
	for _, v := range c {
		b = binary.LittleEndian.AppendUint16(b, v)
	}
	return b, nil
}

// UnmarshalBinary replaces c with the decoded datagram, leaving c untouched on error.
func (c *RCChannels) UnmarshalBinary(data []byte) error {
	parsed, err := ParseRCChannels(data)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
