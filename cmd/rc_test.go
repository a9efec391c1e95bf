package cmd

import (
	"bytes"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skylink-fpv/skylink/internal/telemetry"
)

func TestParseChannels(t *testing.T) {
	ch, err := parseChannels([]string{"1000", "1900", "1100"})
	require.NoError(t, err)
	assert.Equal(t, uint16(1000), ch[0])
	assert.Equal(t, uint16(1900), ch[1])
	assert.Equal(t, uint16(1100), ch[2])
	for i := 3; i < telemetry.NumRCChannels; i++ {
		assert.Equal(t, uint16(rcCentre), ch[i])
	}

	for _, bad := range []string{"abc", "-1", "70000"} {
		_, err := parseChannels([]string{bad})
		assert.Error(t, err, bad)
	}

	_, err = parseChannels(make([]string, telemetry.NumRCChannels+1))
	assert.Error(t, err)
}

func TestRCSend(t *testing.T) {
	rx, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer rx.Close()
	port := rx.LocalAddr().(*net.UDPAddr).Port

	cmd := NewRCCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"send", "--host", "127.0.0.1", "--port", strconv.Itoa(port), "1200", "1800"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "Sent [1200 1800]")

	buf := make([]byte, 64)
	require.NoError(t, rx.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, _, err := rx.ReadFromUDP(buf)
	require.NoError(t, err)
	require.Equal(t, telemetry.RCDatagramSize, n)

	ch, err := telemetry.ParseRCChannels(buf[:n])
	require.NoError(t, err)
	assert.Equal(t, uint16(1200), ch[0])
	assert.Equal(t, uint16(1800), ch[1])
	assert.Equal(t, uint16(rcCentre), ch[15])
}
