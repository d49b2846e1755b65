package directnet

import (
	"errors"
	"fmt"
	"strconv"
)

// DirectNet control characters.
const (
	SOH byte = 0x01 // start of header
	STX byte = 0x02 // start of data block
	ETX byte = 0x03 // end of final data block
	EOT byte = 0x04 // end of transmission
	ENQ byte = 0x05 // enquiry
	ACK byte = 0x06 // positive acknowledge
	NAK byte = 0x15 // negative acknowledge
	ETB byte = 0x17 // end of intermediate block / header

	// SEQ is the sequence character that opens a select enquiry and its reply.
	SEQ byte = 'N'
)

const (
	// HeaderLen is the size in bytes of a packed header frame.
	HeaderLen = 17

	// MaxBlockSize is the maximum number of data bytes carried by one block frame.
	MaxBlockSize = 256

	// MaxTransferSize is the maximum number of bytes a single request can move.
	MaxTransferSize = 0xFFFF

	// SlaveOffset is added to the slave id when it is sent in a select enquiry.
	SlaveOffset = 0x20

	// MasterID is the originator id this master reports in header frames.
	MasterID = 0

	// blockOverhead is STX + terminator + LRC.
	blockOverhead = 3
)

var (
	ErrInvalidFrame     = errors.New("directnet: invalid frame")
	ErrChecksumMismatch = errors.New("directnet: checksum mismatch")
	ErrBadTerminator    = errors.New("directnet: bad block terminator")
	ErrBlockSize        = errors.New("directnet: block size out of range")
)

// LRC returns the longitudinal redundancy check of data, the XOR of all bytes.
func LRC(data []byte) byte {
	var lrc byte
	for _, b := range data {
		lrc ^= b
	}

	return lrc
}

// Header is the request header exchanged after a successful select.
type Header struct {
	Command    Command
	Address    uint16
	Length     uint16
	Originator uint8
}

// Pack encodes the header into its 17-byte wire form:
//
//	SOH cccc aaaa llll oo ETB lrc
//
// where each field is uppercase hex and lrc covers every byte after SOH up to and
// including ETB.
func (h Header) Pack() []byte {
	frame := make([]byte, 0, HeaderLen)
	frame = append(frame, SOH)
	frame = fmt.Appendf(frame, "%04X%04X%04X%02X", uint16(h.Command), h.Address, h.Length, h.Originator)
	frame = append(frame, ETB)
	frame = append(frame, LRC(frame[1:]))

	return frame
}

// ParseHeader decodes a 17-byte header frame produced by Header.Pack.
func ParseHeader(frame []byte) (Header, error) {
	var h Header

	if len(frame) != HeaderLen {
		return h, fmt.Errorf("%w: header length %d, want %d", ErrInvalidFrame, len(frame), HeaderLen)
	}
	if frame[0] != SOH {
		return h, fmt.Errorf("%w: header starts with 0x%02X", ErrInvalidFrame, frame[0])
	}
	if frame[HeaderLen-2] != ETB {
		return h, fmt.Errorf("%w: header ends with 0x%02X", ErrBadTerminator, frame[HeaderLen-2])
	}
	if lrc := LRC(frame[1 : HeaderLen-1]); lrc != frame[HeaderLen-1] {
		return h, fmt.Errorf("%w: header lrc 0x%02X, computed 0x%02X", ErrChecksumMismatch, frame[HeaderLen-1], lrc)
	}

	cmd, err := parseHex(frame[1:5])
	if err != nil {
		return h, fmt.Errorf("%w: %w", ErrInvalidFrame, err)
	}
	addr, err := parseHex(frame[5:9])
	if err != nil {
		return h, fmt.Errorf("%w: %w", ErrInvalidFrame, err)
	}
	length, err := parseHex(frame[9:13])
	if err != nil {
		return h, fmt.Errorf("%w: %w", ErrInvalidFrame, err)
	}
	orig, err := parseHex(frame[13:15])
	if err != nil {
		return h, fmt.Errorf("%w: %w", ErrInvalidFrame, err)
	}

	h.Command = Command(cmd)
	h.Address = uint16(addr)
	h.Length = uint16(length)
	h.Originator = uint8(orig)

	return h, nil
}

// PackBlock frames data as STX, data, terminator and LRC(data).
// The terminator is ETX when final is true and ETB otherwise.
func PackBlock(data []byte, final bool) ([]byte, error) {
	if len(data) == 0 || len(data) > MaxBlockSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrBlockSize, len(data))
	}

	frame := make([]byte, 0, len(data)+blockOverhead)
	frame = append(frame, STX)
	frame = append(frame, data...)
	frame = append(frame, blockTerminator(final), LRC(data))

	return frame, nil
}

// ParseBlock validates a block frame and returns its data bytes.
//
// The returned slice aliases frame.
func ParseBlock(frame []byte, final bool) ([]byte, error) {
	if len(frame) < blockOverhead+1 {
		return nil, fmt.Errorf("%w: block length %d", ErrInvalidFrame, len(frame))
	}
	if frame[0] != STX {
		return nil, fmt.Errorf("%w: block starts with 0x%02X", ErrInvalidFrame, frame[0])
	}

	return checkBlockTail(frame[1:], final)
}

// checkBlockTail validates data + terminator + LRC as read after STX.
func checkBlockTail(tail []byte, final bool) ([]byte, error) {
	n := len(tail) - 2
	if n <= 0 || n > MaxBlockSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrBlockSize, n)
	}

	data := tail[:n]
	if term := tail[n]; term != blockTerminator(final) {
		return nil, fmt.Errorf("%w: got 0x%02X, want 0x%02X", ErrBadTerminator, term, blockTerminator(final))
	}
	if lrc := LRC(data); lrc != tail[n+1] {
		return nil, fmt.Errorf("%w: block lrc 0x%02X, computed 0x%02X", ErrChecksumMismatch, tail[n+1], lrc)
	}

	return data, nil
}

func blockTerminator(final bool) byte {
	if final {
		return ETX
	}

	return ETB
}

// splitBlocks segments data into chunks of at most MaxBlockSize bytes.
func splitBlocks(data []byte) [][]byte {
	blocks := make([][]byte, 0, (len(data)+MaxBlockSize-1)/MaxBlockSize)
	for len(data) > MaxBlockSize {
		blocks = append(blocks, data[:MaxBlockSize])
		data = data[MaxBlockSize:]
	}

	if len(data) > 0 {
		blocks = append(blocks, data)
	}

	return blocks
}

// parseHex decodes a fixed-width field of hex digits in either case.
func parseHex(digits []byte) (uint32, error) {
	v, err := strconv.ParseUint(string(digits), 16, 32)
	if err != nil {
		return 0, fmt.Errorf("non-hex field %q", digits)
	}

	return uint32(v), nil
}
