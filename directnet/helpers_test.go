package directnet

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// newTestConfig creates a Config with short timeouts suitable for tests.
func newTestConfig(t *testing.T, opts ...Option) *Config {
	t.Helper()

	defaults := []Option{
		WithEnqAckTimeout(50 * time.Millisecond),
		WithHeaderAckTimeout(50 * time.Millisecond),
		WithDataAckTimeout(100 * time.Millisecond),
		WithSimulatorTimeout(200 * time.Millisecond),
		WithTimeoutMargin(0),
		WithByteRate(MaxByteRate),
	}

	cfg, err := NewConfig(append(defaults, opts...)...)
	if err != nil {
		t.Fatalf("newTestConfig: %v", err)
	}

	return cfg
}

// fakeTransport is a synchronous scripted Transport. Every Write is recorded and
// handed to respond, whose result becomes readable input. Reads never wait: a
// read that cannot be satisfied from pending input times out at once.
type fakeTransport struct {
	mu       sync.Mutex
	in       []byte
	writes   [][]byte
	respond  func(p []byte) []byte
	writeErr error
	flushes  int
	gate     chan struct{} // when set, Write blocks until it is closed

	notify []func(bool)
}

func newFakeTransport(respond func(p []byte) []byte) *fakeTransport {
	return &fakeTransport{respond: respond}
}

func (f *fakeTransport) Write(p []byte, _ time.Duration) (int, error) {
	if f.gate != nil {
		<-f.gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.writeErr != nil {
		return 0, f.writeErr
	}

	cp := bytes.Clone(p)
	f.writes = append(f.writes, cp)
	if f.respond != nil {
		f.in = append(f.in, f.respond(cp)...)
	}

	return len(p), nil
}

func (f *fakeTransport) Read(p []byte, _ time.Duration) (int, ReadReason, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := copy(p, f.in)
	f.in = f.in[n:]
	if n < len(p) {
		return n, ReasonNone, fmt.Errorf("fake: %w", ErrReadTimeout)
	}

	return n, ReasonCount, nil
}

func (f *fakeTransport) FlushInput() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.flushes++
	f.in = nil

	return nil
}

func (f *fakeTransport) NotifyConn(fn func(bool)) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.notify = append(f.notify, fn)
}

func (f *fakeTransport) setConnected(connected bool) {
	f.mu.Lock()
	fns := append([]func(bool){}, f.notify...)
	f.mu.Unlock()

	for _, fn := range fns {
		fn(connected)
	}
}

// written returns a copy of every frame written so far.
func (f *fakeTransport) written() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([][]byte{}, f.writes...)
}

// count returns how many writes satisfy match.
func (f *fakeTransport) count(match func(p []byte) bool) int {
	n := 0
	for _, p := range f.written() {
		if match(p) {
			n++
		}
	}

	return n
}

func isSelect(p []byte) bool {
	return (len(p) == 3 && p[0] == SEQ) || (len(p) == 4 && p[0] == EOT && p[1] == SEQ)
}

func isHeader(p []byte) bool { return len(p) == HeaderLen && p[0] == SOH }

func isBlock(p []byte) bool { return len(p) > blockOverhead && p[0] == STX }

func isCtrl(c byte) func(p []byte) bool {
	return func(p []byte) bool { return len(p) == 1 && p[0] == c }
}

// wireSlave scripts the slave side of the wire protocol for fakeTransport.
type wireSlave struct {
	id byte

	silent        bool   // never answer select
	strayBytes    []byte // sent before each select reply
	headerReplies []byte // consumed one per header; ACK afterwards
	blockReplies  []byte // consumed one per written block; ACK afterwards
	corruptBlocks int    // number of read blocks sent with a bad LRC
	noEOT         bool   // omit the EOT after the last read block

	readData []byte // served for read commands
	received []byte // collected from write commands

	header  Header
	blocks  [][]byte
	current int
}

func (s *wireSlave) respond(p []byte) []byte {
	switch {
	case isSelect(p):
		if s.silent || p[len(p)-2] != s.id+SlaveOffset {
			return nil
		}
		reply := append([]byte{}, s.strayBytes...)

		return append(reply, SEQ, s.id+SlaveOffset, ACK)

	case isHeader(p):
		h, err := ParseHeader(p)
		if err != nil {
			return []byte{NAK}
		}
		s.header = h

		reply := byte(ACK)
		if len(s.headerReplies) > 0 {
			reply, s.headerReplies = s.headerReplies[0], s.headerReplies[1:]
		}
		if reply != ACK || h.Command.IsWrite() {
			return []byte{reply}
		}

		s.blocks = splitBlocks(s.readData[:h.Length])
		s.current = 0

		return append([]byte{ACK}, s.block()...)

	case isBlock(p):
		reply := byte(ACK)
		if len(s.blockReplies) > 0 {
			reply, s.blockReplies = s.blockReplies[0], s.blockReplies[1:]
		}
		if reply == ACK {
			s.received = append(s.received, p[1:len(p)-2]...)
		}

		return []byte{reply}

	case isCtrl(ACK)(p):
		s.current++
		if s.current < len(s.blocks) {
			return s.block()
		}
		if s.noEOT {
			return nil
		}

		return []byte{EOT}

	case isCtrl(NAK)(p):
		return s.block()
	}

	return nil
}

func (s *wireSlave) block() []byte {
	if s.current >= len(s.blocks) {
		return nil
	}

	frame, _ := PackBlock(s.blocks[s.current], s.current == len(s.blocks)-1)
	if s.corruptBlocks > 0 {
		s.corruptBlocks--
		frame[len(frame)-1] ^= 0xFF
	}

	return frame
}

// simResponder scripts a simulator device for fakeTransport. reply maps each
// complete command (announcement plus data lines) to the device answer.
type simResponder struct {
	lines  []string
	cmd    string // last announcement line
	want   int    // write bytes still expected
	reply  func(cmd string) string
	cancel string // answer to an "X" line
}

func (s *simResponder) respond(p []byte) []byte {
	line := string(p)
	s.lines = append(s.lines, line)

	switch line[0] {
	case 'W':
		s.cmd = line
		s.want = hexField(line, 4)

		return nil

	case 'D':
		s.want -= hexField(line, 1)
		if s.want > 0 {
			return nil
		}

		return []byte(s.reply(s.cmd))

	case 'R':
		return []byte(s.reply(line))

	case 'X':
		return []byte(s.cancel)
	}

	return nil
}

// hexField parses the i-th space separated hex field of line.
func hexField(line string, i int) int {
	fields := strings.Fields(line)
	if i >= len(fields) {
		return 0
	}

	v, _ := strconv.ParseInt(fields[i], 16, 32)

	return int(v)
}
