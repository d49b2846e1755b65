package directnet

import (
	"fmt"
	"time"
	"unicode"

	"github.com/arloliu/go-directnet/logger"
)

const (
	// SimLineSize is the maximum number of data bytes carried by one simulator D line.
	SimLineSize = 32

	// simReasonSize bounds the logged reason text of an N response.
	simReasonSize = 80
)

// Simulator response characters.
const (
	SimAccept = 'A'
	SimReject = 'N'
	SimCancel = 'X'
	SimData   = 'D'
)

// simProtocol implements Protocol with the ASCII line protocol of the software
// stand-in device.
//
// A request is announced as "R|W id cmd addr len\n" (lowercase hex). Data moves
// in "D nn hh..hh\n" lines of up to SimLineSize bytes. The device answers A
// (accept), N followed by a reason line (reject), or X (cancel acknowledged).
// The stream is assumed reliable: there is no retry, and an unexpected reply
// fails the request at once.
type simProtocol struct {
	link   *link
	cfg    *Config
	logger logger.Logger
}

var _ Protocol = (*simProtocol)(nil)

func newSimProtocol(tr Transport, cfg *Config) *simProtocol {
	return &simProtocol{
		link:   newLink(tr, cfg),
		cfg:    cfg,
		logger: cfg.logger,
	}
}

// Write announces the request, sends data in D lines and waits for A.
func (s *simProtocol) Write(cmd Command, addr uint16, data []byte) Status {
	if !validLength(len(data)) {
		return Internal
	}

	deadline := time.Now().Add(s.cfg.simTimeout)

	if err := s.command('W', cmd, addr, len(data)); err != nil {
		return SendFail
	}

	for rest := data; len(rest) > 0; {
		n := min(len(rest), SimLineSize)
		if err := s.link.writeAll(AppendDataLine(nil, rest[:n])); err != nil {
			return SendFail
		}
		rest = rest[n:]
	}

	reply, err := s.response(deadline)
	if err != nil || reply != SimAccept {
		s.logger.Warn("directnet: simulator write failed",
			"command", cmd,
			"address", addr,
			"reply", string(rune(reply)),
			"error", err,
		)

		return WriteBlockFail
	}

	return Success
}

// Read announces the request and accumulates D lines into buf until it is full.
//
// An N reply fails the request as is. Any other interruption, including the
// exchange deadline, cancels the read with "X\n" before failing.
func (s *simProtocol) Read(cmd Command, addr uint16, buf []byte) Status {
	if !validLength(len(buf)) {
		return Internal
	}

	deadline := time.Now().Add(s.cfg.simTimeout)

	if err := s.command('R', cmd, addr, len(buf)); err != nil {
		return SendFail
	}

	for got := 0; got < len(buf); {
		n, reply, err := s.readLine(buf[got:], deadline)
		got += n

		if err == nil && reply == SimReject {
			if got == 0 {
				s.logger.Warn("directnet: simulator rejected read, no data received", "command", cmd, "address", addr)
			} else {
				s.logger.Warn("directnet: simulator partial read", "command", cmd, "address", addr, "missing", len(buf)-got)
			}

			return ReadBlockFail
		}

		if err != nil || reply != SimData {
			s.logger.Warn("directnet: unexpected simulator response, cancelling",
				"command", cmd,
				"reply", string(rune(reply)),
				"error", err,
			)
			s.cancel()

			return ReadBlockFail
		}

		if got < len(buf) && !time.Now().Before(deadline) {
			s.logger.Warn("directnet: simulator read timed out, cancelling", "command", cmd, "missing", len(buf)-got)
			s.cancel()

			return ReadBlockFail
		}
	}

	return Success
}

// command sends the request announcement line.
func (s *simProtocol) command(op byte, cmd Command, addr uint16, length int) error {
	line := fmt.Appendf(nil, "%c %02x %02x %04x %04x\n", op, cmd.SlaveID(), cmd.Op(), addr, length)

	return s.link.send(line)
}

// response reads the next response character, skipping blank line endings.
// The reason text following N is logged.
func (s *simProtocol) response(deadline time.Time) (byte, error) {
	var reply byte
	for {
		b, err := s.link.readByte(time.Until(deadline))
		if err != nil {
			return 0, err
		}
		if b != '\n' && b != '\r' {
			reply = b
			break
		}
	}

	switch reply {
	case SimReject:
		s.logger.Warn("directnet: simulator rejected request", "reason", s.readReason(deadline))
		return reply, nil

	case SimAccept, SimCancel, SimData:
		return reply, nil

	default:
		return reply, fmt.Errorf("%w: simulator response 0x%02X", errUnexpectedReply, reply)
	}
}

// readReason collects the printable text of an N response up to the end of line.
// A timeout ends the text.
func (s *simProtocol) readReason(deadline time.Time) string {
	reason := make([]byte, 0, simReasonSize)
	for {
		b, err := s.link.readByte(time.Until(deadline))
		if err != nil || b == '\n' || b == '\r' {
			return string(reason)
		}

		if b >= 0x20 && b < 0x7F && len(reason) < simReasonSize-1 {
			reason = append(reason, b)
		}
	}
}

// readLine reads one response. When it is a D line its bytes are stored in dst;
// bytes beyond len(dst) are read and discarded. It returns the number of bytes stored.
func (s *simProtocol) readLine(dst []byte, deadline time.Time) (int, byte, error) {
	reply, err := s.response(deadline)
	if err != nil || reply != SimData {
		return 0, reply, err
	}

	count, err := s.readHexByte(deadline)
	if err != nil {
		return 0, reply, err
	}

	n := min(int(count), len(dst))
	if int(count) > len(dst) {
		s.logger.Warn("directnet: simulator sent more data than requested", "requested", len(dst), "sent", count)
	}

	for i := range int(count) {
		v, err := s.readHexByte(deadline)
		if err != nil {
			return min(i, n), reply, err
		}
		if i < n {
			dst[i] = v
		}
	}

	return n, reply, nil
}

// readHexByte skips white space and reads two hex digits.
func (s *simProtocol) readHexByte(deadline time.Time) (byte, error) {
	var digits [2]byte
	for {
		b, err := s.link.readByte(time.Until(deadline))
		if err != nil {
			return 0, err
		}
		if !unicode.IsSpace(rune(b)) {
			digits[0] = b
			break
		}
	}

	b, err := s.link.readByte(time.Until(deadline))
	if err != nil {
		return 0, err
	}
	digits[1] = b

	v, err := parseHex(digits[:])
	if err != nil {
		return 0, fmt.Errorf("%w: %w", errUnexpectedReply, err)
	}

	return byte(v), nil
}

// cancel aborts a read in progress and waits, bounded by the enquiry timeout,
// for the device to accept the cancellation.
func (s *simProtocol) cancel() {
	if err := s.link.writeAll([]byte{SimCancel, '\n'}); err != nil {
		return
	}

	deadline := time.Now().Add(s.cfg.stageTimeout(s.cfg.enqAckTimeout, 2))
	for {
		b, err := s.link.readByte(time.Until(deadline))
		if err != nil {
			s.logger.Warn("directnet: simulator did not acknowledge cancel", "error", err)
			return
		}
		if b == SimAccept {
			return
		}
	}
}

// AppendDataLine appends a simulator "D nn hh..hh\n" line carrying data to dst.
func AppendDataLine(dst []byte, data []byte) []byte {
	dst = fmt.Appendf(dst, "%c %02x ", SimData, len(data))
	for _, b := range data {
		dst = fmt.Appendf(dst, "%02x", b)
	}

	return append(dst, '\n')
}
