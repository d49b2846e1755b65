package simdevice

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/arloliu/go-directnet/directnet"
	"github.com/arloliu/go-directnet/logger"
)

var errMalformed = errors.New("malformed line")

// simSession serves the ASCII simulator protocol on one connection.
type simSession struct {
	dev    *Device
	r      *bufio.Reader
	w      io.Writer
	logger logger.Logger
}

func newSimSession(d *Device, conn io.ReadWriter) *simSession {
	return &simSession{
		dev:    d,
		r:      bufio.NewReader(conn),
		w:      conn,
		logger: d.logger,
	}
}

// request is a parsed "R|W id cmd addr len" line.
type request struct {
	slave  uint8
	cmd    directnet.Command
	addr   uint16
	length int
}

func (s *simSession) serve() error {
	for {
		line, err := s.r.ReadString('\n')
		if err != nil {
			return err
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "R":
			err = s.handleRead(fields)
		case "W":
			err = s.handleWrite(fields)
		case string(directnet.SimCancel):
			err = s.reply(directnet.SimAccept)
		default:
			err = s.reject(fmt.Sprintf("unknown command %q", fields[0]))
		}

		if err != nil {
			return err
		}
	}
}

func (s *simSession) handleRead(fields []string) error {
	req, err := parseRequest(fields)
	if err != nil {
		return s.reject(err.Error())
	}
	if !s.dev.answers(req.slave) {
		return s.reject(fmt.Sprintf("no slave %d", req.slave))
	}

	data, err := s.dev.mem.Read(req.slave, req.cmd, req.addr, req.length)
	if err != nil {
		return s.reject(err.Error())
	}

	s.logger.Debug("simdevice: read", "slaveID", req.slave, "command", req.cmd, "address", req.addr, "length", req.length)

	out := make([]byte, 0, len(data)*3)
	for rest := data; len(rest) > 0; {
		n := min(len(rest), directnet.SimLineSize)
		out = directnet.AppendDataLine(out, rest[:n])
		rest = rest[n:]
	}

	_, err = s.w.Write(out)

	return err
}

func (s *simSession) handleWrite(fields []string) error {
	req, err := parseRequest(fields)
	if err != nil {
		return s.reject(err.Error())
	}

	data := make([]byte, 0, req.length)
	for len(data) < req.length {
		line, err := s.r.ReadString('\n')
		if err != nil {
			return err
		}

		chunk, err := parseDataLine(line)
		if err != nil || len(data)+len(chunk) > req.length {
			return s.reject("bad data line")
		}
		data = append(data, chunk...)
	}

	if !s.dev.answers(req.slave) {
		return s.reject(fmt.Sprintf("no slave %d", req.slave))
	}

	if err := s.dev.mem.Write(req.slave, req.cmd, req.addr, data); err != nil {
		return s.reject(err.Error())
	}

	s.logger.Debug("simdevice: write", "slaveID", req.slave, "command", req.cmd, "address", req.addr, "length", req.length)

	return s.reply(directnet.SimAccept)
}

func (s *simSession) reply(c byte) error {
	_, err := s.w.Write([]byte{c, '\n'})
	return err
}

func (s *simSession) reject(reason string) error {
	s.logger.Debug("simdevice: reject", "reason", reason)

	_, err := fmt.Fprintf(s.w, "%c %s\n", directnet.SimReject, reason)

	return err
}

func parseRequest(fields []string) (request, error) {
	var req request

	if len(fields) != 5 {
		return req, fmt.Errorf("%w: %d fields", errMalformed, len(fields))
	}

	slave, err := strconv.ParseUint(fields[1], 16, 8)
	if err != nil {
		return req, fmt.Errorf("%w: slave id %q", errMalformed, fields[1])
	}
	op, err := strconv.ParseUint(fields[2], 16, 8)
	if err != nil {
		return req, fmt.Errorf("%w: command %q", errMalformed, fields[2])
	}
	addr, err := strconv.ParseUint(fields[3], 16, 16)
	if err != nil {
		return req, fmt.Errorf("%w: address %q", errMalformed, fields[3])
	}
	length, err := strconv.ParseUint(fields[4], 16, 16)
	if err != nil || length == 0 {
		return req, fmt.Errorf("%w: length %q", errMalformed, fields[4])
	}

	req.slave = uint8(slave)
	req.cmd = directnet.Command(op)
	req.addr = uint16(addr)
	req.length = int(length)

	if req.cmd.IsWrite() != (fields[0] == "W") {
		return req, fmt.Errorf("%w: command %s does not match %s", errMalformed, req.cmd, fields[0])
	}

	return req, nil
}

// parseDataLine decodes a "D nn hh..hh" line.
func parseDataLine(line string) ([]byte, error) {
	fields := strings.Fields(line)
	if len(fields) != 3 || fields[0] != string(directnet.SimData) {
		return nil, errMalformed
	}

	count, err := strconv.ParseUint(fields[1], 16, 8)
	if err != nil {
		return nil, errMalformed
	}

	data, err := hex.DecodeString(fields[2])
	if err != nil || len(data) != int(count) || count == 0 {
		return nil, errMalformed
	}

	return data, nil
}
