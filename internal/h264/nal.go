// Package h264 finds NAL unit boundaries in an H.264 Annex-B byte stream.
package h264

import (
	"bytes"

	mch264 "github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
)

var (
	// Standard Annex-B start codes
	StartCode3 = []byte{0x00, 0x00, 0x01}
	StartCode4 = []byte{0x00, 0x00, 0x00, 0x01}
)

// StartCodeLen returns the length of the start code data begins with, or 0.
func StartCodeLen(data []byte) int {
	switch {
	case bytes.HasPrefix(data, StartCode4):
		return 4
	case bytes.HasPrefix(data, StartCode3):
		return 3
	default:
		return 0
	}
}

// UnitType returns the type of a NAL unit that begins with its start code.
func UnitType(nal []byte) (mch264.NALUType, bool) {
	n := StartCodeLen(nal)
	if n == 0 || len(nal) <= n {
		return 0, false
	}
	return mch264.NALUType(nal[n] & 0x1F), true
}

// Split decodes Annex-B data into NAL units without their start codes.
func Split(data []byte) ([][]byte, error) {
	var au mch264.AnnexB
	if err := au.Unmarshal(data); err != nil {
		return nil, err
	}
	return au, nil
}

// IsKeyFrame checks if the data contains an IDR (keyframe) NAL unit
func IsKeyFrame(data []byte) bool {
	units, err := Split(data)
	if err != nil {
		return false
	}
	for _, nalu := range units {
		if len(nalu) > 0 && mch264.NALUType(nalu[0]&0x1F) == mch264.NALUTypeIDR {
			return true
		}
	}
	return false
}

// nextBoundary returns the offset of the first start code at or after from. A zero
// byte right before a 3-byte code belongs to it as a 4-byte code.
//
// Splitter needs this scan because encoder output arrives in partial chunks, and
// AnnexB.Unmarshal only accepts complete access units.
func nextBoundary(data []byte, from int) int {
	i := bytes.Index(data[from:], StartCode3)
	if i < 0 {
		return -1
	}
	i += from
	if i > from && data[i-1] == 0x00 {
		return i - 1
	}
	return i
}
