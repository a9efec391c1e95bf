package capture

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSensorTable(t *testing.T) {
	t.Parallel()

	table := DefaultSensorTable()
	require.Len(t, table.Sensors, 2)

	v1, ok := table.ByMaxWidth(2592)
	require.True(t, ok)
	assert.Equal(t, "ov5647", v1.Model)
	assert.Equal(t, []SensorMode{
		{1920, 1080, 30},
		{1296, 972, 42},
		{1296, 730, 49},
		{640, 480, 90},
	}, v1.Modes)

	v2, ok := table.Lookup("imx219")
	require.True(t, ok)
	assert.Equal(t, uint32(3280), v2.MaxWidth)
	assert.Equal(t, SensorMode{1280, 720, 90}, v2.Modes[3])

	_, ok = table.Lookup("imx708")
	assert.False(t, ok)
}

func TestParseSensorTableRejectsIncompleteEntries(t *testing.T) {
	t.Parallel()

	_, err := ParseSensorTable([]byte("[[sensor]]\nmodel = \"x\"\n"))
	assert.Error(t, err)

	_, err = ParseSensorTable([]byte("[[sensor]\n"))
	assert.Error(t, err)
}
