package directnet

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/arloliu/go-directnet/logger"
)

var (
	// ErrSendFailure is returned when the transport refuses or truncates a write.
	ErrSendFailure = errors.New("directnet: send failure")

	errUnexpectedReply = errors.New("directnet: unexpected reply")
)

// link wraps a Transport with the timed byte helpers shared by both protocol variants.
//
// This type is NOT goroutine-safe; the port worker owns it.
type link struct {
	tr     Transport
	cfg    *Config
	logger logger.Logger
}

func newLink(tr Transport, cfg *Config) *link {
	return &link{tr: tr, cfg: cfg, logger: cfg.logger}
}

// writeAll writes p, allowing the enquiry timeout and margin plus the time p
// needs on the line.
func (l *link) writeAll(p []byte) error {
	n, err := l.tr.Write(p, l.cfg.stageTimeout(l.cfg.enqAckTimeout, len(p)))
	if err == nil && n != len(p) {
		err = io.ErrShortWrite
	}
	if err != nil {
		l.logger.Error("directnet: write failed", "len", len(p), "written", n, "error", err)
		return fmt.Errorf("%w: %w", ErrSendFailure, err)
	}

	l.trace("directnet: sent", p)

	return nil
}

// writeByte writes a single control character (ACK, NAK or EOT).
func (l *link) writeByte(b byte) error {
	return l.writeAll([]byte{b})
}

// readByte reads one byte within timeout. A non-positive timeout fails immediately.
func (l *link) readByte(timeout time.Duration) (byte, error) {
	var buf [1]byte
	if err := l.readFull(buf[:], timeout); err != nil {
		return 0, err
	}

	return buf[0], nil
}

// readFull reads exactly len(p) bytes within timeout.
func (l *link) readFull(p []byte, timeout time.Duration) error {
	if timeout <= 0 {
		return ErrReadTimeout
	}

	n, reason, err := l.tr.Read(p, timeout)
	if n > 0 {
		l.trace("directnet: received", p[:n])
	}
	if err != nil {
		return err
	}
	if n != len(p) {
		return fmt.Errorf("%w: got %d of %d bytes, reason %d", ErrReadTimeout, n, len(p), reason)
	}

	return nil
}

// flush discards pending input. Failures are logged; the following read detects
// any real line fault.
func (l *link) flush() {
	if err := l.tr.FlushInput(); err != nil {
		l.logger.Debug("directnet: flush input failed", "error", err)
	}
}

// send flushes stale input and writes p, so that the next read sees only the reply to p.
func (l *link) send(p []byte) error {
	l.flush()

	return l.writeAll(p)
}

// sendAndReadByte sends p and reads the one-byte reply within timeout.
func (l *link) sendAndReadByte(p []byte, timeout time.Duration) (byte, error) {
	if err := l.send(p); err != nil {
		return 0, err
	}

	return l.readByte(timeout)
}

// scanFor reads until one of want arrives or deadline passes, discarding and
// logging any other byte.
func (l *link) scanFor(deadline time.Time, want ...byte) (byte, error) {
	skipped := 0
	for {
		b, err := l.readByte(time.Until(deadline))
		if err != nil {
			if skipped > 0 {
				l.logger.Debug("directnet: no frame start before deadline", "skipped", skipped)
			}
			return 0, err
		}

		if slices.Contains(want, b) {
			return b, nil
		}

		skipped++
		l.logger.Debug("directnet: skip stray byte", "byte", fmt.Sprintf("0x%02X", b))
	}
}

func (l *link) trace(msg string, p []byte) {
	if l.logger.Level() > logger.DebugLevel {
		return
	}

	l.logger.Debug(msg, "len", len(p), "data", fmt.Sprintf("% X", p))
}
