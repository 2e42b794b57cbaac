//go:build linux

package serial

import (
	"bytes"
	"testing"
	"time"

	"rfid-bridge/config"
	"rfid-bridge/pkg/logger"

	"github.com/creack/pty"
	"github.com/stretchr/testify/require"
)

func TestSerialBridge_ptyEndToEnd(t *testing.T) {
	master, slave, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { master.Close(); slave.Close() })

	var logs bytes.Buffer
	log, err := logger.New(logger.DEBUG, "", &logs)
	require.NoError(t, err)

	cfg, err := config.LoadConfig("")
	require.NoError(t, err)
	cfg.SerialBridge.PortName = slave.Name()
	cfg.SerialBridge.Timeout = 100 * time.Millisecond

	s := NewSerialBridge(&cfg.SerialBridge, log)
	if err := s.Connect(); err != nil {
		t.Skipf("pseudo-terminal not usable as a serial device here: %v", err)
	}
	t.Cleanup(func() { s.Disconnect() })

	_, err = master.Write([]byte("A1B2C3\r\n"))
	require.NoError(t, err)

	deadline := time.Now().Add(2 * time.Second)
	var tag string
	for tag == "" && time.Now().Before(deadline) {
		tag, err = s.ReadTag()
		require.NoError(t, err)
	}
	require.Equal(t, "A1B2C3", tag)

	require.NoError(t, s.Disconnect())
	require.False(t, s.IsConnected())
}
