package transport

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skylink-fpv/skylink/internal/relayerr"
)

func encodeGroups(t *testing.T, enc *FECEncoder, size int, fill byte) ([]byte, [][]byte) {
	t.Helper()
	buf := bytes.Repeat([]byte{fill}, size)
	for i := range buf {
		buf[i] += byte(i)
	}
	shards, _, err := enc.Encode(buf)
	require.NoError(t, err)
	return buf, shards
}

func pushAll(t *testing.T, r *Reassembler, shards [][]byte) []byte {
	t.Helper()
	var out []byte
	for _, s := range shards {
		got, err := r.Push(s)
		require.NoError(t, err)
		out = append(out, got...)
	}
	return out
}

func TestReassemblerWithoutLoss(t *testing.T) {
	t.Parallel()

	enc, err := NewFECEncoder(108, 0.5)
	require.NoError(t, err)
	// 2000 bytes over 100-byte shards: groups of 8, 8 and 4 data shards.
	buf, shards := encodeGroups(t, enc, 2000, 3)

	r := NewReassembler()
	assert.Equal(t, buf, pushAll(t, r, shards))
	assert.Equal(t, ReassemblyStats{Groups: 3}, r.Stats())
}

func TestReassemblerRebuildsLostDataShards(t *testing.T) {
	t.Parallel()

	enc, err := NewFECEncoder(108, 0.5)
	require.NoError(t, err)
	buf, shards := encodeGroups(t, enc, 800, 9)
	// One group: 8 data + 4 parity. Lose data shards 1, 4 and 6.
	require.Len(t, shards, 12)
	var received [][]byte
	for i, s := range shards {
		if i == 1 || i == 4 || i == 6 {
			continue
		}
		received = append(received, s)
	}

	r := NewReassembler()
	assert.Equal(t, buf, pushAll(t, r, received))
	assert.Equal(t, ReassemblyStats{Groups: 1, Rebuilt: 1}, r.Stats())
}

func TestReassemblerGivesUpIncompleteGroups(t *testing.T) {
	t.Parallel()

	enc, err := NewFECEncoder(108, 0.25)
	require.NoError(t, err)

	r := NewReassembler()
	_, first := encodeGroups(t, enc, 800, 1)
	// 8 data + 2 parity; losing three shards is unrecoverable.
	_, err = r.Push(first[0])
	require.NoError(t, err)

	var last []byte
	for i := 0; i < MaxPendingGroups; i++ {
		buf, shards := encodeGroups(t, enc, 100, byte(i))
		last = buf
		got := pushAll(t, r, shards)
		assert.Equal(t, buf, got)
	}
	assert.Equal(t, uint64(1), r.Stats().Lost)

	// Shards of the abandoned group are ignored from now on.
	got := pushAll(t, r, first[1:])
	assert.Empty(t, got)
	assert.NotEmpty(t, last)
}

func TestReassemblerIgnoresDuplicates(t *testing.T) {
	t.Parallel()

	enc, err := NewFECEncoder(108, 0.5)
	require.NoError(t, err)
	buf, shards := encodeGroups(t, enc, 250, 5)

	r := NewReassembler()
	doubled := append(append([][]byte{}, shards[0], shards[0]), shards[1:]...)
	doubled = append(doubled, shards...)
	assert.Equal(t, buf, pushAll(t, r, doubled))
	assert.Equal(t, uint64(1), r.Stats().Groups)
}

func TestReassemblerSenderRestart(t *testing.T) {
	t.Parallel()

	r := NewReassembler()
	old, err := NewFECEncoder(108, 0.5)
	require.NoError(t, err)
	old.sequence = 40000
	buf, shards := encodeGroups(t, old, 300, 2)
	assert.Equal(t, buf, pushAll(t, r, shards))

	restarted, err := NewFECEncoder(108, 0.5)
	require.NoError(t, err)
	buf, shards = encodeGroups(t, restarted, 300, 4)
	assert.Equal(t, buf, pushAll(t, r, shards))
}

func TestReassemblerMalformed(t *testing.T) {
	t.Parallel()

	_, err := NewReassembler().Push([]byte{1, 2, 3})
	assert.True(t, relayerr.Is(err, relayerr.ErrMalformedInput))
}
