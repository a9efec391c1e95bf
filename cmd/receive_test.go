package cmd

import (
	"bytes"
	"context"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skylink-fpv/skylink/config"
	"github.com/skylink-fpv/skylink/internal/transport"
	"github.com/skylink-fpv/skylink/internal/util"
)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func freeUDPPort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	port := conn.LocalAddr().(*net.UDPAddr).Port
	require.NoError(t, conn.Close())
	return port
}

func TestReceiveWritesStreamToStdout(t *testing.T) {
	port := freeUDPPort(t)
	t.Cleanup(func() {
		config.Set("receive.host", "")
		config.Set("receive.port", 5600)
		config.Set("receive.fec", false)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cmd := NewReceiveCommand()
	out := &lockedBuffer{}
	cmd.SetOut(out)
	cmd.SetArgs([]string{"--host", "127.0.0.1", "--port", strconv.Itoa(port), "--fec"})
	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	sink, err := transport.NewUDPSink(transport.OutputStreamConfig{Host: "127.0.0.1", Port: port, MaxPacketBytes: 64, FECRatio: 0.5},
		transport.WithLogger(util.Discard()))
	require.NoError(t, err)
	defer sink.Close()

	payload := bytes.Repeat([]byte("\x00\x00\x00\x01\x65frame"), 40)
	// The listener may not be bound yet; resend until the first copy is seen.
	require.Eventually(t, func() bool {
		sink.Send(payload)
		return len(out.String()) >= len(payload)
	}, 3*time.Second, 50*time.Millisecond)
	assert.Equal(t, string(payload), out.String()[:len(payload)])

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("receive did not stop")
	}
}
