// Package transport provides byte-stream transports for directnet ports: a local
// serial line and a TCP (or any net.Conn) stream for serial terminal servers.
package transport

import (
	"errors"
	"net"
	"os"
	"sync"
	"time"

	"github.com/arloliu/go-directnet/logger"
)

// ErrNotConnected is returned when a transport has no usable connection.
var ErrNotConnected = errors.New("transport: not connected")

// ErrClosed is returned after Close.
var ErrClosed = errors.New("transport: closed")

// Default settings.
const (
	DefaultDialTimeout  = 3 * time.Second
	DefaultPollInterval = 50 * time.Millisecond

	flushWindow   = time.Millisecond
	maxFlushBytes = 64 * 1024
)

type options struct {
	logger       logger.Logger
	dialTimeout  time.Duration
	pollInterval time.Duration
}

// Option configures a transport.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithDialTimeout sets the timeout used when a Stream dials its address.
func WithDialTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.dialTimeout = d
		}
	}
}

// WithPollInterval sets how long a Serial reader blocks in the driver before it
// checks whether the port was closed.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

func newOptions(opts []Option) options {
	o := options{
		logger:       logger.GetLogger(),
		dialTimeout:  DefaultDialTimeout,
		pollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(&o)
	}

	return o
}

// connNotifier fans connectivity changes out to registered callbacks.
type connNotifier struct {
	mu        sync.Mutex
	fns       []func(connected bool)
	connected bool
}

// NotifyConn registers fn to be called on every connectivity change.
func (n *connNotifier) NotifyConn(fn func(connected bool)) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.fns = append(n.fns, fn)
}

// setConnected records the new state and notifies only on a change.
func (n *connNotifier) setConnected(connected bool) {
	n.mu.Lock()
	if n.connected == connected {
		n.mu.Unlock()
		return
	}
	n.connected = connected
	fns := append([]func(bool){}, n.fns...)
	n.mu.Unlock()

	for _, fn := range fns {
		fn(connected)
	}
}

// Connected reports the last known connectivity.
func (n *connNotifier) Connected() bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.connected
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}

	var netErr net.Error

	return errors.As(err, &netErr) && netErr.Timeout()
}
