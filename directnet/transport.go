package directnet

import (
	"errors"
	"time"
)

// ReadReason reports why a Transport read returned.
type ReadReason int

const (
	ReasonNone  ReadReason = iota // no data was delivered
	ReasonCount                   // the requested byte count was satisfied
	ReasonEnd                     // the stream ended
)

// ErrReadTimeout is wrapped by transports when a read deadline expires.
var ErrReadTimeout = errors.New("directnet: read timeout")

// Transport is the byte stream a port exchanges frames over, typically a serial line.
//
// Implementations need not be goroutine-safe: a port's worker is the only caller.
type Transport interface {
	// Write writes p within timeout and returns the number of bytes written.
	Write(p []byte, timeout time.Duration) (int, error)

	// Read reads until p is full or timeout expires. On timeout it returns the
	// bytes received so far together with an error wrapping ErrReadTimeout.
	Read(p []byte, timeout time.Duration) (int, ReadReason, error)

	// FlushInput discards any input that has been received but not read.
	FlushInput() error
}

// ConnNotifier is implemented by transports that report link up/down changes.
type ConnNotifier interface {
	// NotifyConn registers fn to be called whenever connectivity changes.
	NotifyConn(fn func(connected bool))
}

// IsReadTimeout reports whether err is a transport read timeout.
func IsReadTimeout(err error) bool {
	return errors.Is(err, ErrReadTimeout)
}
