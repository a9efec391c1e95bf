package h264

// DefaultMaxUnit bounds how much a Splitter buffers while waiting for a start code.
const DefaultMaxUnit = 1 << 20

// Splitter reassembles NAL units from an encoder's output, which arrives cut at
// arbitrary points.
type Splitter struct {
	buf     []byte
	maxUnit int
}

// NewSplitter returns a splitter that gives up on finding a boundary once maxUnit
// bytes are buffered and emits them as they are.
func NewSplitter(maxUnit int) *Splitter {
	if maxUnit <= 0 {
		maxUnit = DefaultMaxUnit
	}
	maxUnit = max(maxUnit, len(StartCode4))
	return &Splitter{maxUnit: maxUnit}
}

// Push appends p and returns the units it completed. A unit is complete once the
// start code of the next one has arrived. Returned slices are not reused.
func (s *Splitter) Push(p []byte) [][]byte {
	s.buf = append(s.buf, p...)

	var out [][]byte
	for {
		end := nextBoundary(s.buf, max(StartCodeLen(s.buf), 1))
		if end < 0 {
			break
		}
		out = append(out, clone(s.buf[:end]))
		s.buf = append(s.buf[:0], s.buf[end:]...)
	}

	// Keep a possible partial start code at the tail.
	if len(s.buf) > s.maxUnit {
		cut := len(s.buf) - (len(StartCode4) - 1)
		out = append(out, clone(s.buf[:cut]))
		s.buf = append(s.buf[:0], s.buf[cut:]...)
	}
	return out
}

// Flush returns whatever is buffered as a final unit.
func (s *Splitter) Flush() []byte {
	if len(s.buf) == 0 {
		return nil
	}
	out := clone(s.buf)
	s.buf = s.buf[:0]
	return out
}

// Buffered returns the number of bytes waiting for a boundary.
func (s *Splitter) Buffered() int {
	return len(s.buf)
}

func clone(b []byte) []byte {
	return append([]byte(nil), b...)
}
