package directnet

import (
	"errors"
	"fmt"
	"time"

	"github.com/arloliu/go-directnet/internal/pool"
	"github.com/arloliu/go-directnet/logger"
)

// wireProtocol implements Protocol with the binary DirectNet framing used on a
// real multidrop line.
//
// An exchange runs Select, Header, the data blocks, and a closing EOT. Every
// stage retries locally up to the configured limit; only an EOT received in
// reply to the header restarts the whole exchange (see exchange).
//
// This type is NOT goroutine-safe; the port worker serializes all exchanges.
type wireProtocol struct {
	link   *link
	cfg    *Config
	logger logger.Logger
}

var _ Protocol = (*wireProtocol)(nil)

func newWireProtocol(tr Transport, cfg *Config) *wireProtocol {
	return &wireProtocol{
		link:   newLink(tr, cfg),
		cfg:    cfg,
		logger: cfg.logger,
	}
}

// Read reads len(buf) bytes starting at addr into buf.
//
// buf is written block by block and holds partial data when the exchange fails.
func (w *wireProtocol) Read(cmd Command, addr uint16, buf []byte) Status {
	if !validLength(len(buf)) {
		return Internal
	}

	return w.exchange(cmd, addr, len(buf), func() Status {
		return w.readData(buf)
	})
}

// Write writes data starting at addr.
func (w *wireProtocol) Write(cmd Command, addr uint16, data []byte) Status {
	if !validLength(len(data)) {
		return Internal
	}

	return w.exchange(cmd, addr, len(data), func() Status {
		return w.writeData(data)
	})
}

// attemptResult classifies one attempt of a stage so its retry loop can decide
// whether to retry or abort.
type attemptResult int

const (
	attemptOK    attemptResult = iota // stage completed
	attemptRetry                      // retryable failure (silence, NAK, bad reply)
	attemptAbort                      // transport write failure
)

// selectTarget addresses the slave and waits for it to grant the line.
//
// The first attempt sends "N <id> ENQ"; retries prefix an EOT to release any
// half-open selection first. The reply must be "N <id> ACK"; stray bytes before
// N or EOT are skipped until the stage deadline.
func (w *wireProtocol) selectTarget(id uint8) Status {
	slave := id + SlaveOffset
	reselect := []byte{EOT, SEQ, slave, ENQ}
	enquiry := reselect[1:]
	timeout := w.cfg.stageTimeout(w.cfg.enqAckTimeout, len(reselect))

	for attempt := 1; attempt <= w.cfg.retryLimit; attempt++ {
		result, err := w.selectAttempt(enquiry, slave, timeout)

		switch result {
		case attemptOK:
			return Success

		case attemptAbort:
			return SendFail

		case attemptRetry:
			w.logger.Debug("directnet: select retry",
				"slaveID", id,
				"attempt", attempt,
				"retryLimit", w.cfg.retryLimit,
				"error", err,
			)
		}

		enquiry = reselect
	}

	w.logger.Warn("directnet: select failed", "slaveID", id, "attempts", w.cfg.retryLimit)

	return SelectFail
}

func (w *wireProtocol) selectAttempt(enquiry []byte, slave byte, timeout time.Duration) (attemptResult, error) {
	deadline := time.Now().Add(timeout)

	if err := w.link.send(enquiry); err != nil {
		return attemptAbort, err
	}

	b, err := w.link.scanFor(deadline, SEQ, EOT)
	if err != nil {
		return attemptRetry, err
	}
	if b == EOT {
		return attemptRetry, fmt.Errorf("%w: EOT in select reply", errUnexpectedReply)
	}

	for _, want := range []byte{slave, ACK} {
		b, err = w.link.readByte(time.Until(deadline))
		if err != nil {
			return attemptRetry, err
		}
		if b != want {
			return attemptRetry, fmt.Errorf("%w: got 0x%02X, want 0x%02X", errUnexpectedReply, b, want)
		}
	}

	return attemptOK, nil
}

// header selects the target addressed by cmd and sends the request header.
//
// NAK resends the header within the retry limit on the same selection. EOT means
// the target released the line and is reported as UnexpectedDisconnect.
func (w *wireProtocol) header(cmd Command, addr uint16, length int) Status {
	if status := w.selectTarget(cmd.SlaveID()); status != Success {
		return status
	}

	frame := Header{
		Command:    cmd,
		Address:    addr,
		Length:     uint16(length),
		Originator: MasterID,
	}.Pack()
	timeout := w.cfg.stageTimeout(w.cfg.headerAckTimeout, HeaderLen)

	for attempt := 1; ; attempt++ {
		reply, err := w.link.sendAndReadByte(frame, timeout)

		switch {
		case errors.Is(err, ErrSendFailure):
			return SendFail

		case err != nil:
			w.logger.Warn("directnet: no header reply", "command", cmd, "error", err)
			return HeaderFail

		case reply == ACK:
			return Success

		case reply == EOT:
			return UnexpectedDisconnect

		case reply != NAK:
			w.logger.Warn("directnet: unexpected header reply",
				"command", cmd,
				"reply", fmt.Sprintf("0x%02X", reply),
				"attempt", attempt,
			)

			return HeaderFail
		}

		if attempt >= w.cfg.retryLimit {
			w.logger.Warn("directnet: header rejected", "command", cmd, "attempts", attempt)
			return HeaderFail
		}

		w.logger.Debug("directnet: header NAK, retry", "command", cmd, "attempt", attempt)
	}
}

// writeData sends data as one or more blocks; all but the last end with ETB.
func (w *wireProtocol) writeData(data []byte) Status {
	blocks := splitBlocks(data)

	for i, blk := range blocks {
		frame, err := PackBlock(blk, i == len(blocks)-1)
		if err != nil {
			w.logger.Error("directnet: pack block", "block", i, "error", err)
			return Internal
		}

		if status := w.writeBlock(frame, i); status != Success {
			return status
		}
	}

	return Success
}

func (w *wireProtocol) writeBlock(frame []byte, index int) Status {
	timeout := w.cfg.stageTimeout(w.cfg.dataAckTimeout, MaxBlockSize+blockOverhead)

	for attempt := 1; ; attempt++ {
		reply, err := w.link.sendAndReadByte(frame, timeout)

		switch {
		case errors.Is(err, ErrSendFailure):
			return SendFail

		case err != nil:
			w.logger.Warn("directnet: no block reply", "block", index, "error", err)
			return WriteBlockFail

		case reply == ACK:
			return Success

		case reply != NAK:
			w.logger.Warn("directnet: unexpected block reply",
				"block", index,
				"reply", fmt.Sprintf("0x%02X", reply),
			)

			return WriteBlockFail
		}

		if attempt >= w.cfg.retryLimit {
			w.logger.Warn("directnet: block rejected", "block", index, "attempts", attempt)
			return WriteBlockFail
		}

		w.logger.Debug("directnet: block NAK, retry", "block", index, "attempt", attempt)
	}
}

// readData receives len(buf) bytes as one or more blocks and then expects the
// target to end the transmission with EOT.
func (w *wireProtocol) readData(buf []byte) Status {
	blocks := splitBlocks(buf)

	for i, blk := range blocks {
		if status := w.readBlock(blk, i, i == len(blocks)-1); status != Success {
			return status
		}
	}

	b, err := w.link.readByte(w.cfg.stageTimeout(w.cfg.dataAckTimeout, 1))
	if err != nil || b != EOT {
		w.logger.Warn("directnet: read not terminated by EOT", "reply", fmt.Sprintf("0x%02X", b), "error", err)
		return FrameNotTerminated
	}

	return Success
}

// readBlock receives one block into dst, answering ACK when the terminator and
// LRC verify and NAK otherwise so the target resends it.
func (w *wireProtocol) readBlock(dst []byte, index int, final bool) Status {
	timeout := w.cfg.stageTimeout(w.cfg.dataAckTimeout, MaxBlockSize)
	tail := pool.GetBuffer(len(dst) + 2) // data + terminator + LRC
	defer pool.PutBuffer(tail)

	for attempt := 1; ; attempt++ {
		data, err := w.readBlockAttempt(tail, final, timeout)
		if err == nil {
			copy(dst, data)

			if err := w.link.writeByte(ACK); err != nil {
				return SendFail
			}

			return Success
		}

		w.logger.Debug("directnet: block receive failed",
			"block", index,
			"attempt", attempt,
			"retryLimit", w.cfg.retryLimit,
			"error", err,
		)

		if err := w.link.writeByte(NAK); err != nil {
			return SendFail
		}

		if attempt >= w.cfg.retryLimit {
			w.logger.Warn("directnet: block receive failed", "block", index, "attempts", attempt, "error", err)
			return ReadBlockFail
		}
	}
}

func (w *wireProtocol) readBlockAttempt(tail []byte, final bool, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)

	if _, err := w.link.scanFor(deadline, STX); err != nil {
		return nil, err
	}

	if err := w.link.readFull(tail, time.Until(deadline)); err != nil {
		return nil, err
	}

	return checkBlockTail(tail, final)
}

// endTransmission releases the line. It is sent after every attempt.
func (w *wireProtocol) endTransmission() {
	if err := w.link.writeByte(EOT); err != nil {
		w.logger.Debug("directnet: failed to send EOT", "error", err)
	}
}

func validLength(n int) bool {
	return n > 0 && n <= MaxTransferSize
}
