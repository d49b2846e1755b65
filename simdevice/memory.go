package simdevice

import (
	"errors"
	"fmt"
	"sync"

	"github.com/arloliu/go-directnet/directnet"
	"github.com/puzpuzpuz/xsync/v3"
)

// AreaSize is the size of every data area, covering the full 16-bit address space.
const AreaSize = 0x10000

var (
	ErrUnknownArea = errors.New("simdevice: unknown data area")
	ErrReadOnly    = errors.New("simdevice: data area is read-only")
	ErrOutOfRange  = errors.New("simdevice: address out of range")
)

// areaKey identifies a data area by slave and read operation code.
type areaKey struct {
	slave uint8
	area  directnet.Command
}

type area struct {
	mu   sync.RWMutex
	data []byte
}

// Memory holds the data areas of every emulated slave. Areas are allocated on
// first access and start zeroed.
type Memory struct {
	areas *xsync.MapOf[areaKey, *area]
}

// NewMemory creates an empty Memory.
func NewMemory() *Memory {
	return &Memory{areas: xsync.NewMapOf[areaKey, *area]()}
}

// Read returns a copy of n bytes at addr in the area addressed by cmd.
func (m *Memory) Read(slave uint8, cmd directnet.Command, addr uint16, n int) ([]byte, error) {
	a, err := m.lookup(slave, cmd)
	if err != nil {
		return nil, err
	}
	if err := checkRange(addr, n); err != nil {
		return nil, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]byte, n)
	copy(out, a.data[addr:])

	return out, nil
}

// Write stores data at addr in the area addressed by cmd. Only areas with a
// write operation accept writes.
func (m *Memory) Write(slave uint8, cmd directnet.Command, addr uint16, data []byte) error {
	if !writable(cmd & 0x7F) {
		return fmt.Errorf("%w: %s", ErrReadOnly, cmd)
	}

	return m.Set(slave, cmd, addr, data)
}

// Set stores data at addr in any area, read-only ones included. It is used to
// seed inputs and status.
func (m *Memory) Set(slave uint8, cmd directnet.Command, addr uint16, data []byte) error {
	a, err := m.lookup(slave, cmd)
	if err != nil {
		return err
	}
	if err := checkRange(addr, len(data)); err != nil {
		return err
	}

	a.mu.Lock()
	copy(a.data[addr:], data)
	a.mu.Unlock()

	return nil
}

func (m *Memory) lookup(slave uint8, cmd directnet.Command) (*area, error) {
	kind := cmd & 0x7F
	if !known(kind) {
		return nil, fmt.Errorf("%w: 0x%02X", ErrUnknownArea, cmd.Op())
	}

	a, _ := m.areas.LoadOrCompute(areaKey{slave: slave, area: kind}, func() *area {
		return &area{data: make([]byte, AreaSize)}
	})

	return a, nil
}

func checkRange(addr uint16, n int) error {
	if n <= 0 || int(addr)+n > AreaSize {
		return fmt.Errorf("%w: %d bytes at 0x%04X", ErrOutOfRange, n, addr)
	}

	return nil
}

func known(kind directnet.Command) bool {
	switch kind {
	case directnet.OpReadVMem, directnet.OpReadInputs, directnet.OpReadOutputs,
		directnet.OpReadScratchpad, directnet.OpReadProgram, directnet.OpReadStatus:
		return true
	default:
		return false
	}
}

func writable(kind directnet.Command) bool {
	switch kind {
	case directnet.OpReadVMem, directnet.OpReadScratchpad, directnet.OpReadProgram:
		return true
	default:
		return false
	}
}

// check reports whether a transfer of n bytes at addr is possible without
// performing it.
func (m *Memory) check(slave uint8, cmd directnet.Command, addr uint16, n int) error {
	if cmd.IsWrite() && !writable(cmd&0x7F) {
		return fmt.Errorf("%w: %s", ErrReadOnly, cmd)
	}
	if !known(cmd & 0x7F) {
		return fmt.Errorf("%w: 0x%02X", ErrUnknownArea, cmd.Op())
	}

	return checkRange(addr, n)
}
