package transport

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFragmentProperties(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(1))
	for _, size := range []int{0, 1, 2, 199, 1399, 1400, 1401, 3000, 65535} {
		buf := make([]byte, size)
		rng.Read(buf)
		for _, max := range []int{1, 7, 1400, 100000} {
			fragments := Fragment(buf, max)

			assert.Len(t, fragments, (size+max-1)/max, "size=%d max=%d", size, max)
			for _, f := range fragments {
				assert.LessOrEqual(t, len(f), max)
				assert.NotEmpty(t, f)
			}
			assert.True(t, bytes.Equal(buf, bytes.Join(fragments, nil)), "size=%d max=%d", size, max)
		}
	}
}

func TestFragmentSizes(t *testing.T) {
	t.Parallel()

	fragments := Fragment(make([]byte, 3000), 1400)
	require.Len(t, fragments, 3)
	assert.Equal(t, []int{1400, 1400, 200}, []int{len(fragments[0]), len(fragments[1]), len(fragments[2])})
}

func TestFragmentEmpty(t *testing.T) {
	t.Parallel()

	assert.Empty(t, Fragment(nil, 1400))
	assert.Empty(t, Fragment([]byte{}, 1))
}

func TestFragmentDoesNotLeakCapacity(t *testing.T) {
	t.Parallel()

	buf := []byte("abcdef")
	fragments := Fragment(buf, 4)
	require.Len(t, fragments, 2)
	assert.Equal(t, 4, cap(fragments[0]))
	_ = append(fragments[0], 'X')
	assert.Equal(t, []byte("abcdef"), buf)
}

func TestFragmentRejectsZero(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() { Fragment([]byte{1}, 0) })
}
