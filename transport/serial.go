package transport

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/arloliu/go-directnet/directnet"
	"github.com/arloliu/go-directnet/logger"
	"github.com/grid-x/serial"
)

// SerialConfig describes a local serial line.
type SerialConfig struct {
	Device   string
	BaudRate int
	DataBits int
	StopBits int
	Parity   string // "N", "E" or "O"
}

// DefaultSerialConfig returns the usual DirectNet line settings, 9600 8O1, for device.
func DefaultSerialConfig(device string) SerialConfig {
	return SerialConfig{
		Device:   device,
		BaudRate: directnet.DefaultBaudRate,
		DataBits: 8,
		StopBits: 1,
		Parity:   "O",
	}
}

// Serial is a directnet.Transport over a local serial port.
//
// The port is opened on first use and reopened on the next use after an I/O
// failure. A reader goroutine moves received bytes into an inbox so timed reads
// and input flushes do not depend on driver support for deadlines.
type Serial struct {
	cfg    serial.Config
	logger logger.Logger
	open   func(*serial.Config) (io.ReadWriteCloser, error)

	mu     sync.Mutex // protects port and closed
	port   io.ReadWriteCloser
	closed bool
	inbox  *inbox

	connNotifier
}

var (
	_ directnet.Transport    = (*Serial)(nil)
	_ directnet.ConnNotifier = (*Serial)(nil)
	_ io.Closer              = (*Serial)(nil)
)

// NewSerial creates a Serial transport. The device is not opened until first use.
func NewSerial(cfg SerialConfig, opts ...Option) (*Serial, error) {
	if cfg.Device == "" {
		return nil, errors.New("transport: empty serial device")
	}
	if cfg.BaudRate <= 0 {
		return nil, fmt.Errorf("transport: invalid baud rate %d", cfg.BaudRate)
	}
	switch cfg.Parity {
	case "N", "E", "O":
	case "":
		cfg.Parity = "N"
	default:
		return nil, fmt.Errorf("transport: invalid parity %q", cfg.Parity)
	}
	if cfg.DataBits == 0 {
		cfg.DataBits = 8
	}
	if cfg.StopBits == 0 {
		cfg.StopBits = 1
	}

	o := newOptions(opts)

	return &Serial{
		cfg: serial.Config{
			Address:  cfg.Device,
			BaudRate: cfg.BaudRate,
			DataBits: cfg.DataBits,
			StopBits: cfg.StopBits,
			Parity:   cfg.Parity,
			Timeout:  o.pollInterval,
		},
		logger: o.logger.With("device", cfg.Device),
		open: func(c *serial.Config) (io.ReadWriteCloser, error) {
			return serial.Open(c)
		},
		inbox: newInbox(),
	}, nil
}

// Open opens the device if it is not open yet.
func (s *Serial) Open() error {
	_, err := s.ensureOpen()
	return err
}

// Write writes p to the line. The driver write blocks until the bytes are queued,
// so timeout is not used.
func (s *Serial) Write(p []byte, _ time.Duration) (int, error) {
	port, err := s.ensureOpen()
	if err != nil {
		return 0, err
	}

	n, err := port.Write(p)
	if err != nil {
		s.fault(port, err)
		return n, fmt.Errorf("transport: serial write: %w", err)
	}

	return n, nil
}

// Read reads len(p) bytes, waiting at most timeout.
func (s *Serial) Read(p []byte, timeout time.Duration) (int, directnet.ReadReason, error) {
	if _, err := s.ensureOpen(); err != nil {
		return 0, directnet.ReasonNone, err
	}

	return s.inbox.read(p, timeout)
}

// FlushInput discards received but unread bytes.
func (s *Serial) FlushInput() error {
	if n := s.inbox.flush(); n > 0 {
		s.logger.Debug("transport: flushed input", "bytes", n)
	}

	return nil
}

// Close closes the device. A closed Serial cannot be reused.
func (s *Serial) Close() error {
	s.mu.Lock()
	s.closed = true
	port := s.port
	s.port = nil
	s.mu.Unlock()

	s.inbox.fail(ErrClosed)

	if port == nil {
		return nil
	}

	err := port.Close()
	s.setConnected(false)

	return err
}

func (s *Serial) ensureOpen() (io.ReadWriteCloser, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if s.port != nil {
		port := s.port
		s.mu.Unlock()

		return port, nil
	}

	port, err := s.open(&s.cfg)
	if err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("transport: open %s: %w", s.cfg.Address, err)
	}

	s.port = port
	s.inbox.reset()
	s.mu.Unlock()

	s.logger.Info("transport: serial port opened", "baudRate", s.cfg.BaudRate, "parity", s.cfg.Parity)
	go s.pump(port)
	s.setConnected(true)

	return port, nil
}

// pump copies bytes from the driver into the inbox until the port fails or closes.
func (s *Serial) pump(port io.ReadWriteCloser) {
	buf := make([]byte, 512)
	for {
		n, err := port.Read(buf)
		if n > 0 {
			s.inbox.put(buf[:n])
		}

		switch {
		case err == nil, errors.Is(err, serial.ErrTimeout):
			continue
		case s.isCurrent(port):
			s.fault(port, err)
		}

		return
	}
}

func (s *Serial) isCurrent(port io.ReadWriteCloser) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.port == port
}

// fault closes port after an I/O error so the next use reopens the device.
func (s *Serial) fault(port io.ReadWriteCloser, err error) {
	s.mu.Lock()
	if s.port != port {
		s.mu.Unlock()
		return
	}
	s.port = nil
	s.mu.Unlock()

	s.logger.Warn("transport: serial port failed", "error", err)
	_ = port.Close()
	s.inbox.fail(fmt.Errorf("%w: %w", ErrNotConnected, err))
	s.setConnected(false)
}
