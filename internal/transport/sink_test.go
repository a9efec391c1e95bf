package transport

import (
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skylink-fpv/skylink/internal/relayerr"
	"github.com/skylink-fpv/skylink/internal/util"
)

func listenLoopback(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readDatagrams(t *testing.T, conn *net.UDPConn, n int) [][]byte {
	t.Helper()
	var out [][]byte
	buf := make([]byte, 65535)
	for len(out) < n {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		size, _, err := conn.ReadFromUDP(buf)
		require.NoError(t, err)
		out = append(out, append([]byte(nil), buf[:size]...))
	}
	return out
}

func TestOutputStreamConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     OutputStreamConfig
		wantErr bool
	}{
		{"defaults packet size", OutputStreamConfig{Host: "127.0.0.1", Port: 5600}, false},
		{"broadcast without host", OutputStreamConfig{Port: 5600, Broadcast: true}, false},
		{"missing host", OutputStreamConfig{Port: 5600}, true},
		{"port zero", OutputStreamConfig{Host: "127.0.0.1"}, true},
		{"port too large", OutputStreamConfig{Host: "127.0.0.1", Port: 70000}, true},
		{"negative packet", OutputStreamConfig{Host: "127.0.0.1", Port: 1, MaxPacketBytes: -1}, true},
		{"ratio above one", OutputStreamConfig{Host: "127.0.0.1", Port: 1, FECRatio: 1.5}, true},
		{"fec packet too small", OutputStreamConfig{Host: "127.0.0.1", Port: 1, MaxPacketBytes: 8, FECRatio: 0.5}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, relayerr.Is(err, relayerr.ErrConfiguration))
				return
			}
			require.NoError(t, err)
			assert.Positive(t, cfg.MaxPacketBytes)
		})
	}
}

func TestBroadcastDestination(t *testing.T) {
	t.Parallel()

	dest, err := OutputStreamConfig{Host: "10.0.0.9", Port: 5600, Broadcast: true}.Destination()
	require.NoError(t, err)
	assert.Equal(t, "255.255.255.255:5600", dest.String())
}

func TestSinkFragmentsWithoutFEC(t *testing.T) {
	t.Parallel()

	rx := listenLoopback(t)
	port := rx.LocalAddr().(*net.UDPAddr).Port

	sink, err := NewUDPSink(OutputStreamConfig{Host: "127.0.0.1", Port: port, MaxPacketBytes: 1400}, WithLogger(util.Discard()))
	require.NoError(t, err)
	defer sink.Close()

	payload := make([]byte, 3000)
	for i := range payload {
		payload[i] = byte(i)
	}
	res := sink.Send(payload)
	require.NoError(t, res.Err)
	assert.Equal(t, 3, res.Datagrams)

	got := readDatagrams(t, rx, 3)
	assert.Equal(t, []int{1400, 1400, 200}, []int{len(got[0]), len(got[1]), len(got[2])})
	assert.Equal(t, payload[:1400], got[0])
	assert.Equal(t, payload[2800:], got[2])

	stats := sink.Stats()
	assert.Equal(t, uint64(3000), stats.Bytes)
	assert.Equal(t, uint64(1), stats.Frames)
}

func TestSinkWithFECIsDecodable(t *testing.T) {
	t.Parallel()

	rx := listenLoopback(t)
	port := rx.LocalAddr().(*net.UDPAddr).Port

	sink, err := NewUDPSink(OutputStreamConfig{Host: "127.0.0.1", Port: port, MaxPacketBytes: 500, FECRatio: 0.5}, WithLogger(util.Discard()))
	require.NoError(t, err)
	defer sink.Close()

	payload := make([]byte, 2000)
	for i := range payload {
		payload[i] = byte(i * 7)
	}
	res := sink.Send(payload)
	require.NoError(t, res.Err)
	// 2000 bytes over 492-byte shards: 5 data + 3 parity
	require.Equal(t, 8, res.Datagrams)

	got := readDatagrams(t, rx, res.Datagrams)
	// Drop two data shards; parity covers them.
	decoded, err := NewFECDecoder().Reassemble(append(got[:1], got[3:]...))
	require.NoError(t, err)
	assert.Equal(t, payload, decoded)
	assert.Equal(t, uint64(1), sink.Stats().Blocks)
}

type flakyConn struct {
	mu      sync.Mutex
	writes  int
	failOn  map[int]bool
	written [][]byte
}

func (c *flakyConn) WriteTo(p []byte, _ net.Addr) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes++
	if c.failOn[c.writes] {
		return 0, errors.New("no buffer space available")
	}
	c.written = append(c.written, append([]byte(nil), p...))
	return len(p), nil
}

func (c *flakyConn) ReadFrom([]byte) (int, net.Addr, error) { return 0, nil, errors.New("unused") }
func (c *flakyConn) Close() error                            { return nil }
func (c *flakyConn) LocalAddr() net.Addr                     { return &net.UDPAddr{} }
func (c *flakyConn) SetDeadline(time.Time) error             { return nil }
func (c *flakyConn) SetReadDeadline(time.Time) error         { return nil }
func (c *flakyConn) SetWriteDeadline(time.Time) error        { return nil }

func TestSinkContinuesAfterDatagramFailure(t *testing.T) {
	t.Parallel()

	conn := &flakyConn{failOn: map[int]bool{2: true}}
	sink, err := NewUDPSink(OutputStreamConfig{Host: "127.0.0.1", Port: 5600, MaxPacketBytes: 10},
		WithPacketConn(conn), WithLogger(util.Discard()))
	require.NoError(t, err)

	res := sink.Send(make([]byte, 35))
	assert.Equal(t, 3, res.Datagrams)
	assert.Equal(t, 1, res.Failed)
	assert.True(t, relayerr.Is(res.Err, relayerr.ErrTransientIO))
	require.Len(t, conn.written, 3)
	assert.Len(t, conn.written[2], 5)

	n, err := sink.Write(make([]byte, 5))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, uint64(1), sink.Stats().Failed)
}

func TestSinkClosed(t *testing.T) {
	t.Parallel()

	sink, err := NewUDPSink(OutputStreamConfig{Host: "127.0.0.1", Port: 5600}, WithPacketConn(&flakyConn{}), WithLogger(util.Discard()))
	require.NoError(t, err)
	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close())

	res := sink.Send([]byte("x"))
	assert.Error(t, res.Err)
	_, err = sink.Write([]byte("x"))
	assert.Error(t, err)
}
