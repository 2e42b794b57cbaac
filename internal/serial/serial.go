package serial

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"rfid-bridge/config"
	"rfid-bridge/pkg/logger"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// maxLineLen bounds the bytes buffered while waiting for a line terminator.
const maxLineLen = 1024

var ErrNotConnected = errors.New("serial port not connected")

// Port is the subset of serial.Port the bridge needs.
type Port interface {
	io.ReadCloser
	SetReadTimeout(t time.Duration) error
}

// Opener opens a named serial device.
type Opener func(name string, mode *serial.Mode) (Port, error)

// Enumerator lists the serial devices present on the host.
type Enumerator func() ([]*enumerator.PortDetails, error)

type Option func(*SerialBridge)

func WithOpener(open Opener) Option {
	return func(s *SerialBridge) { s.open = open }
}

func WithEnumerator(enumerate Enumerator) Option {
	return func(s *SerialBridge) { s.enumerate = enumerate }
}

type SerialBridge struct {
	mu       sync.Mutex
	port     Port
	portName string

	buf     []byte
	pending []byte

	config    *config.SerialBridgeConfig
	log       *logger.Logger
	open      Opener
	enumerate Enumerator
}

func NewSerialBridge(cfg *config.SerialBridgeConfig, log *logger.Logger, opts ...Option) *SerialBridge {
	s := &SerialBridge{
		config:    cfg,
		log:       log,
		open:      openNative,
		enumerate: enumerator.GetDetailedPortsList,
		buf:       make([]byte, 256),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func openNative(name string, mode *serial.Mode) (Port, error) {
	p, err := serial.Open(name, mode)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Connect establishes connection to the serial port
func (s *SerialBridge) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port != nil {
		return fmt.Errorf("serial port %s already connected", s.portName)
	}

	name, err := s.resolvePortName()
	if err != nil {
		return fmt.Errorf("failed to get port device: %w", err)
	}

	dataBits := s.config.DataBits
	if dataBits == 0 {
		dataBits = 8
	}
	mode := &serial.Mode{
		BaudRate: s.config.BaudRate,
		DataBits: dataBits,
		Parity:   s.config.Parity,
		StopBits: s.config.StopBits,
	}

	port, err := s.open(name, mode)
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", name, err)
	}

	if err := port.SetReadTimeout(s.config.Timeout); err != nil {
		port.Close()
		return fmt.Errorf("failed to set read timeout: %w", err)
	}

	s.port = port
	s.portName = name
	s.pending = s.pending[:0]
	s.log.Debug("connected to serial port: %s (%d baud)", name, mode.BaudRate)
	return nil
}

// Disconnect closes the serial port connection. Only the first call after a
// successful Connect closes the device; later calls are no-ops.
func (s *SerialBridge) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port == nil {
		return nil
	}
	// ReadTag does not hold mu while blocked in Read, so closing here
	// unblocks it.
	err := s.port.Close()
	s.port = nil
	s.log.Debug("disconnected from serial port: %s", s.portName)
	return err
}

// ReadTag returns the next line from the reader with surrounding whitespace
// removed. It returns "" with a nil error when the read timed out or the line
// was blank. Any device error is returned as is and ends the session.
func (s *SerialBridge) ReadTag() (string, error) {
	for {
		if line, ok := s.popLine(); ok {
			return s.decode(line), nil
		}

		port := s.currentPort()
		if port == nil {
			return "", ErrNotConnected
		}

		n, err := port.Read(s.buf)
		if n > 0 {
			s.appendPending(s.buf[:n])
		}
		if err != nil {
			return "", fmt.Errorf("failed to read from serial port: %w", err)
		}
		if n == 0 {
			// read timeout; a partial line stays pending
			return "", nil
		}
	}
}

func (s *SerialBridge) currentPort() Port {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

func (s *SerialBridge) popLine() ([]byte, bool) {
	idx := bytes.IndexByte(s.pending, '\n')
	if idx < 0 {
		return nil, false
	}
	line := bytes.Clone(s.pending[:idx])
	s.pending = s.pending[:copy(s.pending, s.pending[idx+1:])]
	return line, true
}

func (s *SerialBridge) appendPending(chunk []byte) {
	s.pending = append(s.pending, chunk...)
	if len(s.pending) > maxLineLen && bytes.IndexByte(s.pending, '\n') < 0 {
		drop := len(s.pending) - maxLineLen
		s.log.Warn("serial line exceeds %d bytes without terminator, dropping %d bytes", maxLineLen, drop)
		s.pending = s.pending[:copy(s.pending, s.pending[drop:])]
	}
}

func (s *SerialBridge) decode(line []byte) string {
	if !utf8.Valid(line) {
		s.log.Warn("invalid UTF-8 from serial port: %q", line)
		return strings.TrimSpace(strings.ToValidUTF8(string(line), "\uFFFD"))
	}
	return strings.TrimSpace(string(line))
}

func (s *SerialBridge) resolvePortName() (string, error) {
	name := strings.TrimSpace(s.config.PortName)
	if name != "" && !strings.EqualFold(name, config.AutoPort) {
		return name, nil
	}

	ports, err := s.enumerate()
	if err != nil {
		return "", fmt.Errorf("failed to enumerate ports: %w", err)
	}
	port := selectPort(ports, s.config.VID, s.config.PID)
	if port == nil {
		if s.config.VID != "" {
			return "", fmt.Errorf("no USB serial device with VID=%s PID=%s", s.config.VID, s.config.PID)
		}
		return "", errors.New("no USB serial device found")
	}
	s.log.Info("auto-detected serial device %s (%s %s:%s)", port.Name, port.Product, port.VID, port.PID)
	return port.Name, nil
}

// selectPort returns the first USB port matching vid/pid. Empty vid or pid
// matches anything.
func selectPort(ports []*enumerator.PortDetails, vid, pid string) *enumerator.PortDetails {
	for _, p := range ports {
		if p == nil || !p.IsUSB {
			continue
		}
		if vid != "" && !strings.EqualFold(p.VID, vid) {
			continue
		}
		if pid != "" && !strings.EqualFold(p.PID, pid) {
			continue
		}
		return p
	}
	return nil
}

// IsConnected returns true if the serial port is connected
func (s *SerialBridge) IsConnected() bool {
	return s.currentPort() != nil
}

// GetPortName returns the resolved device name. Before Connect it is the
// configured name.
func (s *SerialBridge) GetPortName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.portName != "" {
		return s.portName
	}
	return s.config.PortName
}

// ListPorts returns every serial device the OS reports, USB metadata included.
func ListPorts() ([]*enumerator.PortDetails, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate ports: %w", err)
	}
	return ports, nil
}
