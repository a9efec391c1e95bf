package transport

// Fragment splits buf into consecutive slices of at most maxPacketBytes bytes.
//
// The slices alias buf and cover it in order with no gaps. An empty buf yields no
// fragments. maxPacketBytes must be at least 1.
func Fragment(buf []byte, maxPacketBytes int) [][]byte {
	if maxPacketBytes < 1 {
		panic("transport: maxPacketBytes must be >= 1")
	}
	if len(buf) == 0 {
		return nil
	}

	count := (len(buf) + maxPacketBytes - 1) / maxPacketBytes
	fragments := make([][]byte, 0, count)
	for start := 0; start < len(buf); start += maxPacketBytes {
		end := min(start+maxPacketBytes, len(buf))
		fragments = append(fragments, buf[start:end:end])
	}
	return fragments
}
