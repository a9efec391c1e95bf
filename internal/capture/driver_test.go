package capture

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skylink-fpv/skylink/internal/relayerr"
)

func TestExecDriverCommand(t *testing.T) {
	t.Parallel()

	d := &ExecDriver{}

	argv, err := d.Command(rec(IntegratedCapture, "picam2", 1296, 972, 42), StreamParams{FPS: 60, Bitrate: 3000000, IntraPeriod: 5})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"raspivid", "-o", "-", "-t", "0", "-w", "1296", "-h", "972", "-fps", "42", "-cs", "1", "-ih",
		"-b", "3000000", "-g", "5",
	}, argv)

	argv, err = d.Command(rec(NativeCapture, "/dev/video1", 1280, 720, 30), StreamParams{FPS: 25})
	require.NoError(t, err)
	assert.Contains(t, argv, "1280x720")
	assert.Contains(t, argv, "/dev/video1")
	assert.Equal(t, "25", argv[indexOf(argv, "-framerate")+1])

	_, err = d.Command(rec(IntegratedCapture, "/dev/video0", 640, 480, 90), StreamParams{})
	assert.True(t, relayerr.Is(err, relayerr.ErrConfiguration))

	_, err = d.Command(CapabilityRecord{DeviceID: "x"}, StreamParams{})
	assert.Error(t, err)
}

func TestExecDriverResolve(t *testing.T) {
	t.Parallel()

	d := &ExecDriver{Resolve: func(id string) (int, bool) { return 3, id == "front" }}
	argv, err := d.Command(rec(IntegratedCapture, "front", 640, 480, 90), StreamParams{})
	require.NoError(t, err)
	assert.Equal(t, "3", argv[indexOf(argv, "-cs")+1])
}

func indexOf(s []string, v string) int {
	for i := range s {
		if s[i] == v {
			return i
		}
	}
	return -1
}
