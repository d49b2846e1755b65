package directnet

import "fmt"

// Command selects the operation of a request.
//
// The low byte holds the operation code, bit 0x80 of it marks a write, and the
// high byte carries the slave id once the request is bound to a target.
type Command uint16

// Operation codes.
const (
	OpReadVMem       Command = 0x01
	OpReadInputs     Command = 0x02
	OpReadOutputs    Command = 0x03
	OpReadScratchpad Command = 0x06
	OpReadProgram    Command = 0x07
	OpReadStatus     Command = 0x09

	// WriteFlag turns a read operation into the matching write operation.
	WriteFlag Command = 0x80

	OpWriteVMem       = OpReadVMem | WriteFlag
	OpWriteScratchpad = OpReadScratchpad | WriteFlag
	OpWriteProgram    = OpReadProgram | WriteFlag
)

// IsWrite reports whether the command writes to the target.
func (c Command) IsWrite() bool {
	return c&WriteFlag != 0
}

// Op returns the operation byte, including the write flag.
func (c Command) Op() byte {
	return byte(c)
}

// SlaveID returns the slave id packed into the upper byte.
func (c Command) SlaveID() uint8 {
	return uint8(c >> 8)
}

// WithSlave returns the command with id packed into the upper byte.
func (c Command) WithSlave(id uint8) Command {
	return Command(id)<<8 | c&0xFF
}

func (c Command) String() string {
	var name string
	switch c & 0x7F {
	case OpReadVMem:
		name = "VMem"
	case OpReadInputs:
		name = "Inputs"
	case OpReadOutputs:
		name = "Outputs"
	case OpReadScratchpad:
		name = "Scratchpad"
	case OpReadProgram:
		name = "Program"
	case OpReadStatus:
		name = "Status"
	default:
		return fmt.Sprintf("Command(0x%04X)", uint16(c))
	}

	dir := "Read"
	if c.IsWrite() {
		dir = "Write"
	}

	if id := c.SlaveID(); id != 0 {
		return fmt.Sprintf("%s%s@%d", dir, name, id)
	}

	return dir + name
}
