package transport

import (
	"fmt"
	"sync"
	"time"

	"github.com/arloliu/go-directnet/directnet"
	"github.com/arloliu/go-directnet/internal/pool"
)

// inbox buffers bytes delivered by a reader goroutine until the port worker
// consumes them with timed reads.
type inbox struct {
	mu     sync.Mutex
	buf    []byte
	err    error
	signal chan struct{}
}

func newInbox() *inbox {
	return &inbox{signal: make(chan struct{}, 1)}
}

func (ib *inbox) put(p []byte) {
	ib.mu.Lock()
	ib.buf = append(ib.buf, p...)
	ib.mu.Unlock()

	ib.wake()
}

// fail records a terminal reader error; pending and later reads return it once
// the buffered bytes are consumed.
func (ib *inbox) fail(err error) {
	ib.mu.Lock()
	ib.err = err
	ib.mu.Unlock()

	ib.wake()
}

// reset clears buffered bytes and any recorded error, for a reopened port.
func (ib *inbox) reset() {
	ib.mu.Lock()
	ib.buf = nil
	ib.err = nil
	ib.mu.Unlock()
}

func (ib *inbox) flush() int {
	ib.mu.Lock()
	defer ib.mu.Unlock()

	n := len(ib.buf)
	ib.buf = ib.buf[:0]

	return n
}

func (ib *inbox) wake() {
	select {
	case ib.signal <- struct{}{}:
	default:
	}
}

// read fills p from buffered input, waiting at most timeout for more bytes.
func (ib *inbox) read(p []byte, timeout time.Duration) (int, directnet.ReadReason, error) {
	timer := pool.GetTimer(timeout)
	defer pool.PutTimer(timer)

	n := 0
	for {
		ib.mu.Lock()
		c := copy(p[n:], ib.buf)
		ib.buf = ib.buf[c:]
		err := ib.err
		ib.mu.Unlock()

		n += c
		if n == len(p) {
			return n, directnet.ReasonCount, nil
		}
		if err != nil {
			return n, directnet.ReasonEnd, err
		}

		select {
		case <-ib.signal:
		case <-timer.C:
			return n, directnet.ReasonNone, fmt.Errorf("transport: %w after %v (%d of %d bytes)", directnet.ErrReadTimeout, timeout, n, len(p))
		}
	}
}
