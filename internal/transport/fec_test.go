package transport

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skylink-fpv/skylink/internal/relayerr"
)

func TestParityCount(t *testing.T) {
	t.Parallel()

	tests := []struct {
		data  int
		ratio float64
		want  int
	}{
		{8, 0.25, 2},
		{8, 0.5, 4},
		{8, 1, 8},
		{3, 0.5, 2},
		{10, 0.1, 1},
		{1, 0.01, 1},
		{250, 1, 6},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParityCount(tt.data, tt.ratio), "data=%d ratio=%v", tt.data, tt.ratio)
	}
}

func TestNewFECEncoderValidation(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		block int
		ratio float64
	}{
		{ShardHeaderSize, 0.5},
		{1400, 0},
		{1400, -0.1},
		{1400, 1.5},
	} {
		_, err := NewFECEncoder(tc.block, tc.ratio)
		require.Error(t, err)
		assert.True(t, relayerr.Is(err, relayerr.ErrConfiguration))
	}
}

func TestFECShardsFitBlockSize(t *testing.T) {
	t.Parallel()

	enc, err := NewFECEncoder(1400, 0.5)
	require.NoError(t, err)

	buf := make([]byte, 20000)
	shards, groups, err := enc.Encode(buf)
	require.NoError(t, err)

	dataShards := (len(buf) + enc.Capacity() - 1) / enc.Capacity()
	assert.Equal(t, (dataShards+MaxDataShards-1)/MaxDataShards, groups)
	for _, s := range shards {
		assert.LessOrEqual(t, len(s), 1400)
	}
}

func TestFECEmptyBuffer(t *testing.T) {
	t.Parallel()

	enc, err := NewFECEncoder(1400, 0.5)
	require.NoError(t, err)
	shards, groups, err := enc.Encode(nil)
	require.NoError(t, err)
	assert.Empty(t, shards)
	assert.Zero(t, groups)
}

// dropShards removes up to the parity count of shards from every group.
func dropShards(t *testing.T, rng *rand.Rand, shards [][]byte) [][]byte {
	t.Helper()

	byGroup := map[uint16][][]byte{}
	var order []uint16
	for _, s := range shards {
		h, err := ParseShardHeader(s)
		require.NoError(t, err)
		if _, ok := byGroup[h.Sequence]; !ok {
			order = append(order, h.Sequence)
		}
		byGroup[h.Sequence] = append(byGroup[h.Sequence], s)
	}

	var kept [][]byte
	for _, seq := range order {
		group := byGroup[seq]
		h, _ := ParseShardHeader(group[0])
		lose := rng.Intn(int(h.ParityShards) + 1)
		perm := rng.Perm(len(group))
		for _, idx := range perm[lose:] {
			kept = append(kept, group[idx])
		}
	}
	return kept
}

func TestFECRoundTripUnderLoss(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(42))
	dec := NewFECDecoder()
	for _, size := range []int{1, 100, 1391, 1392, 1393, 3000, 11136, 50000} {
		for _, ratio := range []float64{0.1, 0.25, 0.5, 1} {
			for _, block := range []int{64, 1400} {
				enc, err := NewFECEncoder(block, ratio)
				require.NoError(t, err)

				buf := make([]byte, size)
				rng.Read(buf)

				shards, _, err := enc.Encode(buf)
				require.NoError(t, err)

				got, err := dec.Reassemble(dropShards(t, rng, shards))
				require.NoError(t, err, "size=%d ratio=%v block=%d", size, ratio, block)
				assert.True(t, bytes.Equal(buf, got), "size=%d ratio=%v block=%d", size, ratio, block)
			}
		}
	}
}

func TestFECLosingLastDataShard(t *testing.T) {
	t.Parallel()

	enc, err := NewFECEncoder(100, 0.5)
	require.NoError(t, err)

	buf := bytes.Repeat([]byte("skylink"), 40) // 280 bytes -> 4 data shards, last one short
	shards, groups, err := enc.Encode(buf)
	require.NoError(t, err)
	require.Equal(t, 1, groups)
	require.Len(t, shards, 6)

	received := append([][]byte{}, shards[:3]...)
	received = append(received, shards[5])
	got, h, err := NewFECDecoder().ReconstructGroup(received)
	require.NoError(t, err)
	assert.True(t, h.LastGroup)
	assert.Equal(t, buf, got)
}

func TestFECTooManyLosses(t *testing.T) {
	t.Parallel()

	enc, err := NewFECEncoder(100, 0.25)
	require.NoError(t, err)
	shards, _, err := enc.Encode(make([]byte, 400))
	require.NoError(t, err)
	require.Len(t, shards, 7) // 5 data shards of at most 92 bytes, ceil(1.25) = 2 parity

	_, _, err = NewFECDecoder().ReconstructGroup(shards[3:])
	require.Error(t, err)
	assert.True(t, relayerr.Is(err, relayerr.ErrMalformedInput))
}

func TestFECSequenceAdvances(t *testing.T) {
	t.Parallel()

	enc, err := NewFECEncoder(1400, 0.5)
	require.NoError(t, err)

	first, _, err := enc.Encode([]byte("one"))
	require.NoError(t, err)
	second, _, err := enc.Encode([]byte("two"))
	require.NoError(t, err)

	h1, err := ParseShardHeader(first[0])
	require.NoError(t, err)
	h2, err := ParseShardHeader(second[0])
	require.NoError(t, err)
	assert.Equal(t, h1.Sequence+1, h2.Sequence)
}

func TestParseShardHeaderRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := ParseShardHeader([]byte{1, 2, 3})
	assert.True(t, relayerr.Is(err, relayerr.ErrMalformedInput))

	_, err = ParseShardHeader([]byte{0, 0, 9, 2, 1, 0, 0, 0})
	assert.True(t, relayerr.Is(err, relayerr.ErrMalformedInput))
}
