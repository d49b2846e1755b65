package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/arloliu/go-directnet/directnet"
	"github.com/arloliu/go-directnet/logger"
)

// Stream is a directnet.Transport over a net.Conn, typically a TCP connection to
// a serial terminal server.
//
// A Stream created with Dial connects on first use and redials on the next use
// after an I/O failure. A Stream created with NewStream wraps a fixed connection
// and reports ErrNotConnected once it fails.
type Stream struct {
	addr   string
	dialer net.Dialer
	logger logger.Logger

	mu     sync.Mutex // protects conn, reader and closed
	conn   net.Conn
	reader *bufio.Reader
	closed bool

	connNotifier
}

var (
	_ directnet.Transport    = (*Stream)(nil)
	_ directnet.ConnNotifier = (*Stream)(nil)
	_ io.Closer              = (*Stream)(nil)
)

// NewStream wraps an established connection.
func NewStream(conn net.Conn, opts ...Option) *Stream {
	o := newOptions(opts)

	s := &Stream{
		logger: o.logger.With("remote", remoteAddr(conn)),
		conn:   conn,
		reader: bufio.NewReader(conn),
	}
	s.connected = true

	return s
}

// Dial returns a Stream that connects to addr ("host:port") on first use.
func Dial(addr string, opts ...Option) (*Stream, error) {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return nil, fmt.Errorf("transport: invalid address %q: %w", addr, err)
	}

	o := newOptions(opts)

	return &Stream{
		addr:   addr,
		dialer: net.Dialer{Timeout: o.dialTimeout},
		logger: o.logger.With("remote", addr),
	}, nil
}

// Connect establishes the connection if needed.
func (s *Stream) Connect(ctx context.Context) error {
	_, _, err := s.connect(ctx)
	return err
}

// Write writes p within timeout.
func (s *Stream) Write(p []byte, timeout time.Duration) (int, error) {
	conn, _, err := s.connect(context.Background())
	if err != nil {
		return 0, err
	}

	if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		s.fault(conn, err)
		return 0, fmt.Errorf("transport: set write deadline: %w", err)
	}

	n, err := conn.Write(p)
	if err != nil {
		if !isTimeout(err) {
			s.fault(conn, err)
		}

		return n, fmt.Errorf("transport: write: %w", err)
	}

	return n, nil
}

// Read reads len(p) bytes, waiting at most timeout.
func (s *Stream) Read(p []byte, timeout time.Duration) (int, directnet.ReadReason, error) {
	conn, r, err := s.connect(context.Background())
	if err != nil {
		return 0, directnet.ReasonNone, err
	}

	// net.Pipe and closed sockets fail here before any read is attempted.
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		s.fault(conn, err)
		return 0, directnet.ReasonEnd, fmt.Errorf("transport: set read deadline: %w", err)
	}

	n, err := io.ReadFull(r, p)
	switch {
	case err == nil:
		return n, directnet.ReasonCount, nil

	case isTimeout(err):
		return n, directnet.ReasonNone, fmt.Errorf("transport: %w after %v (%d of %d bytes)", directnet.ErrReadTimeout, timeout, n, len(p))

	default:
		s.fault(conn, err)
		return n, directnet.ReasonEnd, fmt.Errorf("transport: read: %w", err)
	}
}

// FlushInput discards buffered input and whatever arrives within a short window.
func (s *Stream) FlushInput() error {
	s.mu.Lock()
	conn, r := s.conn, s.reader
	s.mu.Unlock()

	if conn == nil {
		return nil
	}

	discarded, _ := r.Discard(r.Buffered())

	buf := make([]byte, 256)
	for discarded < maxFlushBytes {
		if err := conn.SetReadDeadline(time.Now().Add(flushWindow)); err != nil {
			s.fault(conn, err)
			return fmt.Errorf("transport: flush: %w", err)
		}

		n, err := r.Read(buf)
		discarded += n
		if err != nil {
			if isTimeout(err) {
				break
			}
			s.fault(conn, err)

			return fmt.Errorf("transport: flush: %w", err)
		}
	}

	if discarded > 0 {
		s.logger.Debug("transport: flushed input", "bytes", discarded)
	}

	return nil
}

// Close closes the connection. A closed Stream cannot be reused.
func (s *Stream) Close() error {
	s.mu.Lock()
	s.closed = true
	conn := s.conn
	s.conn, s.reader = nil, nil
	s.mu.Unlock()

	if conn == nil {
		return nil
	}

	err := conn.Close()
	s.setConnected(false)

	return err
}

func (s *Stream) connect(ctx context.Context) (net.Conn, *bufio.Reader, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, nil, ErrClosed
	}
	if s.conn != nil {
		conn, r := s.conn, s.reader
		s.mu.Unlock()

		return conn, r, nil
	}
	if s.addr == "" {
		s.mu.Unlock()
		return nil, nil, ErrNotConnected
	}

	conn, err := s.dialer.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		s.mu.Unlock()
		return nil, nil, fmt.Errorf("%w: dial %s: %w", ErrNotConnected, s.addr, err)
	}

	r := bufio.NewReader(conn)
	s.conn, s.reader = conn, r
	s.mu.Unlock()

	s.logger.Info("transport: connected")
	s.setConnected(true)

	return conn, r, nil
}

// fault drops conn after an I/O error; a dialing Stream reconnects on next use.
func (s *Stream) fault(conn net.Conn, err error) {
	s.mu.Lock()
	if s.conn != conn {
		s.mu.Unlock()
		return
	}
	s.conn, s.reader = nil, nil
	s.mu.Unlock()

	if closedByRemote(err) {
		s.logger.Warn("transport: connection closed by remote")
	} else {
		s.logger.Warn("transport: connection failed", "error", err)
	}

	_ = conn.Close()
	s.setConnected(false)
}

func closedByRemote(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed)
}

func remoteAddr(conn net.Conn) string {
	if conn == nil || conn.RemoteAddr() == nil {
		return ""
	}

	return conn.RemoteAddr().String()
}
