package simdevice

import (
	"bufio"
	"errors"
	"io"

	"github.com/arloliu/go-directnet/directnet"
	"github.com/arloliu/go-directnet/logger"
)

var errSlaveMismatch = errors.New("simdevice: header addresses another slave")

// wireSession serves the binary DirectNet protocol as a slave on one connection.
//
// It never times out on its own: an EOT from the master at any point ends the
// current selection and returns the session to idle.
type wireSession struct {
	dev    *Device
	r      *bufio.Reader
	w      io.Writer
	logger logger.Logger
}

func newWireSession(d *Device, conn io.ReadWriter) *wireSession {
	return &wireSession{
		dev:    d,
		r:      bufio.NewReader(conn),
		w:      conn,
		logger: d.logger,
	}
}

func (s *wireSession) serve() error {
	for {
		b, err := s.r.ReadByte()
		if err != nil {
			return err
		}
		if b != directnet.SEQ {
			continue
		}

		id, ok, err := s.enquiry()
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		if _, err := s.w.Write([]byte{directnet.SEQ, id + directnet.SlaveOffset, directnet.ACK}); err != nil {
			return err
		}

		if err := s.selected(id); err != nil {
			return err
		}
	}
}

// enquiry reads the rest of "N <id> ENQ" and reports whether it addresses a
// slave of this device.
func (s *wireSession) enquiry() (uint8, bool, error) {
	var buf [2]byte
	if _, err := io.ReadFull(s.r, buf[:]); err != nil {
		return 0, false, err
	}

	if buf[1] != directnet.ENQ || buf[0] < directnet.SlaveOffset {
		return 0, false, nil
	}

	id := buf[0] - directnet.SlaveOffset

	return id, s.dev.answers(id), nil
}

// selected runs one selection: header, data transfer, and back to idle.
func (s *wireSession) selected(id uint8) error {
	hdr, ok, err := s.header()
	if err != nil || !ok {
		return err
	}

	length := int(hdr.Length)
	err = s.dev.mem.check(id, hdr.Command, hdr.Address, length)
	if err == nil && hdr.Command.SlaveID() != id {
		err = errSlaveMismatch
	}
	if err != nil {
		s.logger.Debug("simdevice: refusing request", "slaveID", id, "command", hdr.Command, "error", err)
		return s.writeByte(directnet.EOT)
	}

	if err := s.writeByte(directnet.ACK); err != nil {
		return err
	}

	if hdr.Command.IsWrite() {
		return s.receive(id, hdr, length)
	}

	return s.send(id, hdr, length)
}

// header waits for a valid header frame. A corrupted one is answered with NAK.
func (s *wireSession) header() (directnet.Header, bool, error) {
	frame := make([]byte, directnet.HeaderLen)
	for {
		ok, err := s.waitFor(directnet.SOH)
		if err != nil || !ok {
			return directnet.Header{}, false, err
		}

		frame[0] = directnet.SOH
		if _, err := io.ReadFull(s.r, frame[1:]); err != nil {
			return directnet.Header{}, false, err
		}

		hdr, err := directnet.ParseHeader(frame)
		if err == nil {
			return hdr, true, nil
		}

		s.logger.Debug("simdevice: bad header", "error", err)
		if err := s.writeByte(directnet.NAK); err != nil {
			return directnet.Header{}, false, err
		}
	}
}

// receive accepts the blocks of a write request and stores them once complete.
func (s *wireSession) receive(id uint8, hdr directnet.Header, length int) error {
	data := make([]byte, 0, length)
	frame := make([]byte, directnet.MaxBlockSize+3)

	for len(data) < length {
		n := min(length-len(data), directnet.MaxBlockSize)
		final := len(data)+n == length

		ok, err := s.waitFor(directnet.STX)
		if err != nil || !ok {
			return err
		}

		frame[0] = directnet.STX
		if _, err := io.ReadFull(s.r, frame[1:n+3]); err != nil {
			return err
		}

		block, err := directnet.ParseBlock(frame[:n+3], final)
		if err != nil {
			s.logger.Debug("simdevice: bad block", "error", err)
			if err := s.writeByte(directnet.NAK); err != nil {
				return err
			}

			continue
		}

		data = append(data, block...)
		if err := s.writeByte(directnet.ACK); err != nil {
			return err
		}
	}

	if err := s.dev.mem.Write(id, hdr.Command, hdr.Address, data); err != nil {
		s.logger.Warn("simdevice: write failed", "slaveID", id, "error", err)
	}

	s.logger.Debug("simdevice: write", "slaveID", id, "command", hdr.Command, "address", hdr.Address, "length", length)

	return nil
}

// send transmits the blocks of a read request and ends with EOT. A NAK resends
// the block.
func (s *wireSession) send(id uint8, hdr directnet.Header, length int) error {
	data, err := s.dev.mem.Read(id, hdr.Command, hdr.Address, length)
	if err != nil {
		s.logger.Warn("simdevice: read failed", "slaveID", id, "error", err)
		return s.writeByte(directnet.EOT)
	}

	s.logger.Debug("simdevice: read", "slaveID", id, "command", hdr.Command, "address", hdr.Address, "length", length)

	for len(data) > 0 {
		n := min(len(data), directnet.MaxBlockSize)

		frame, err := directnet.PackBlock(data[:n], n == len(data))
		if err != nil {
			return err
		}

		for acked := false; !acked; {
			if _, err := s.w.Write(frame); err != nil {
				return err
			}

			reply, err := s.r.ReadByte()
			if err != nil {
				return err
			}

			switch reply {
			case directnet.ACK:
				acked = true
			case directnet.NAK:
				s.logger.Debug("simdevice: block NAK, resending")
			default:
				// EOT or noise: the master gave up on this request.
				return nil
			}
		}

		data = data[n:]
	}

	return s.writeByte(directnet.EOT)
}

// waitFor skips bytes until want. It reports false when the master sends EOT first.
func (s *wireSession) waitFor(want byte) (bool, error) {
	for {
		b, err := s.r.ReadByte()
		if err != nil {
			return false, err
		}

		switch b {
		case want:
			return true, nil
		case directnet.EOT:
			return false, nil
		}
	}
}

func (s *wireSession) writeByte(b byte) error {
	_, err := s.w.Write([]byte{b})
	return err
}
