package serial

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"rfid-bridge/config"
	"rfid-bridge/pkg/logger"

	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// fakePort replays chunks; an empty chunk simulates a read timeout. Once the
// script is exhausted Read returns err (io.EOF by default).
type fakePort struct {
	mu      sync.Mutex
	chunks  []string
	err     error
	timeout time.Duration
	closes  int
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closes > 0 {
		return 0, errors.New("port closed")
	}
	if len(p.chunks) == 0 {
		if p.err != nil {
			return 0, p.err
		}
		return 0, io.EOF
	}
	c := p.chunks[0]
	n := copy(b, c)
	if n < len(c) {
		p.chunks[0] = c[n:]
	} else {
		p.chunks = p.chunks[1:]
	}
	return n, nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closes++
	return nil
}

func (p *fakePort) SetReadTimeout(t time.Duration) error {
	p.timeout = t
	return nil
}

func newTestBridge(t *testing.T, port *fakePort, opts ...Option) (*SerialBridge, *bytes.Buffer, *serial.Mode) {
	t.Helper()

	var logs bytes.Buffer
	log, err := logger.New(logger.DEBUG, "", &logs)
	require.NoError(t, err)

	cfg, err := config.LoadConfig("")
	require.NoError(t, err)

	var gotMode *serial.Mode
	open := func(name string, mode *serial.Mode) (Port, error) {
		gotMode = mode
		return port, nil
	}
	s := NewSerialBridge(&cfg.SerialBridge, log, append([]Option{WithOpener(open)}, opts...)...)
	require.NoError(t, s.Connect())
	return s, &logs, gotMode
}

func TestConnect_appliesMode(t *testing.T) {
	port := &fakePort{}
	s, _, mode := newTestBridge(t, port)

	require.True(t, s.IsConnected())
	require.Equal(t, "COM10", s.GetPortName())
	require.Equal(t, 9600, mode.BaudRate)
	require.Equal(t, 8, mode.DataBits)
	require.Equal(t, serial.NoParity, mode.Parity)
	require.Equal(t, time.Second, port.timeout)

	require.Error(t, s.Connect(), "second Connect must fail while open")
}

func TestConnect_openError(t *testing.T) {
	cfg, err := config.LoadConfig("")
	require.NoError(t, err)

	open := func(string, *serial.Mode) (Port, error) {
		return nil, &serial.PortError{}
	}
	s := NewSerialBridge(&cfg.SerialBridge, nil, WithOpener(open))

	err = s.Connect()
	require.ErrorContains(t, err, "COM10")
	require.False(t, s.IsConnected())
	require.NoError(t, s.Disconnect())
}

func TestReadTag_trimsCRLF(t *testing.T) {
	s, _, _ := newTestBridge(t, &fakePort{chunks: []string{"A1B2C3\r\n"}})

	tag, err := s.ReadTag()
	require.NoError(t, err)
	require.Equal(t, "A1B2C3", tag)
}

func TestReadTag_timeoutAndBlankLinesAreEmpty(t *testing.T) {
	s, _, _ := newTestBridge(t, &fakePort{chunks: []string{"", "   \r\n", "\n"}})

	for i := 0; i < 3; i++ {
		tag, err := s.ReadTag()
		require.NoError(t, err)
		require.Empty(t, tag)
	}
}

func TestReadTag_partialLineSurvivesTimeout(t *testing.T) {
	s, _, _ := newTestBridge(t, &fakePort{chunks: []string{"04A3", "", "2B1C\r\n"}})

	tag, err := s.ReadTag()
	require.NoError(t, err)
	require.Empty(t, tag, "timeout before terminator must not emit a half tag")

	tag, err = s.ReadTag()
	require.NoError(t, err)
	require.Equal(t, "04A32B1C", tag)
}

func TestReadTag_severalLinesInOneChunk(t *testing.T) {
	s, _, _ := newTestBridge(t, &fakePort{chunks: []string{"AAA\r\nBBB\r\nCC"}, err: io.ErrUnexpectedEOF})

	tag, err := s.ReadTag()
	require.NoError(t, err)
	require.Equal(t, "AAA", tag)

	tag, err = s.ReadTag()
	require.NoError(t, err)
	require.Equal(t, "BBB", tag)

	_, err = s.ReadTag()
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestReadTag_invalidUTF8(t *testing.T) {
	s, logs, _ := newTestBridge(t, &fakePort{chunks: []string{"AB\xffCD\n"}})

	tag, err := s.ReadTag()
	require.NoError(t, err)
	require.Equal(t, "AB\uFFFDCD", tag)
	require.Contains(t, logs.String(), "invalid UTF-8")
}

func TestReadTag_longLineIsBounded(t *testing.T) {
	long := strings.Repeat("X", maxLineLen+100)
	s, logs, _ := newTestBridge(t, &fakePort{chunks: []string{long, "\n"}})

	var tag string
	var err error
	for tag == "" {
		tag, err = s.ReadTag()
		require.NoError(t, err)
	}
	require.Len(t, tag, maxLineLen)
	require.Contains(t, logs.String(), "dropping")
}

func TestDisconnect_closesOnce(t *testing.T) {
	port := &fakePort{}
	s, _, _ := newTestBridge(t, port)

	require.NoError(t, s.Disconnect())
	require.NoError(t, s.Disconnect())
	require.Equal(t, 1, port.closes)
	require.False(t, s.IsConnected())

	_, err := s.ReadTag()
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestConnect_autoDetect(t *testing.T) {
	ports := []*enumerator.PortDetails{
		{Name: "/dev/ttyS0"},
		{Name: "/dev/ttyUSB0", IsUSB: true, VID: "1A86", PID: "7523"},
		{Name: "/dev/ttyACM0", IsUSB: true, VID: "2341", PID: "0043", Product: "Arduino Uno"},
	}

	var logs bytes.Buffer
	log, err := logger.New(logger.INFO, "", &logs)
	require.NoError(t, err)

	cfg, err := config.LoadConfig("")
	require.NoError(t, err)
	cfg.SerialBridge.PortName = config.AutoPort
	cfg.SerialBridge.VID = "2341"

	var opened string
	s := NewSerialBridge(&cfg.SerialBridge, log,
		WithEnumerator(func() ([]*enumerator.PortDetails, error) { return ports, nil }),
		WithOpener(func(name string, _ *serial.Mode) (Port, error) {
			opened = name
			return &fakePort{}, nil
		}),
	)

	require.NoError(t, s.Connect())
	require.Equal(t, "/dev/ttyACM0", opened)
	require.Equal(t, "/dev/ttyACM0", s.GetPortName())
	require.Contains(t, logs.String(), "Arduino Uno")
}

func TestConnect_autoDetectNothingFound(t *testing.T) {
	cfg, err := config.LoadConfig("")
	require.NoError(t, err)
	cfg.SerialBridge.PortName = ""

	s := NewSerialBridge(&cfg.SerialBridge, nil,
		WithEnumerator(func() ([]*enumerator.PortDetails, error) {
			return []*enumerator.PortDetails{{Name: "/dev/ttyS0"}}, nil
		}),
	)
	require.ErrorContains(t, s.Connect(), "no USB serial device")
}

func TestSelectPort(t *testing.T) {
	ports := []*enumerator.PortDetails{
		nil,
		{Name: "a", IsUSB: true, VID: "067b", PID: "2303"},
		{Name: "b", IsUSB: true, VID: "067B", PID: "23A3"},
	}

	require.Equal(t, "a", selectPort(ports, "", "").Name)
	require.Equal(t, "a", selectPort(ports, "067B", "2303").Name)
	require.Equal(t, "b", selectPort(ports, "067B", "23a3").Name)
	require.Nil(t, selectPort(ports, "FFFF", ""))
}
