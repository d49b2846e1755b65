package directnet

import (
	"fmt"
	"strings"
)

// Protocol performs read and write exchanges with a target over one Transport.
//
// Both methods block until the exchange completes and report the outcome as a
// Status. The slave id is taken from the upper byte of cmd.
type Protocol interface {
	// Read reads len(buf) bytes starting at addr into buf.
	Read(cmd Command, addr uint16, buf []byte) Status
	// Write writes data starting at addr.
	Write(cmd Command, addr uint16, data []byte) Status
}

// Variant selects the Protocol implementation used for a target.
type Variant int

const (
	// VariantWire is the binary DirectNet protocol spoken by real PLCs.
	VariantWire Variant = iota
	// VariantSimulator is the line-oriented ASCII protocol spoken by software stand-ins.
	VariantSimulator
)

func (v Variant) String() string {
	switch v {
	case VariantWire:
		return "wire"
	case VariantSimulator:
		return "simulator"
	default:
		return fmt.Sprintf("Variant(%d)", int(v))
	}
}

// ParseVariant converts a variant name into a Variant.
func ParseVariant(name string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "wire", "directnet", "dn":
		return VariantWire, nil
	case "sim", "simulator":
		return VariantSimulator, nil
	default:
		return VariantWire, fmt.Errorf("directnet: unknown protocol variant %q", name)
	}
}

// NewProtocol returns the Protocol implementation for v bound to tr.
func NewProtocol(v Variant, tr Transport, cfg *Config) (Protocol, error) {
	if tr == nil {
		return nil, fmt.Errorf("directnet: nil transport")
	}
	if cfg == nil {
		var err error
		if cfg, err = NewConfig(); err != nil {
			return nil, err
		}
	}

	switch v {
	case VariantWire:
		return newWireProtocol(tr, cfg), nil
	case VariantSimulator:
		return newSimProtocol(tr, cfg), nil
	default:
		return nil, fmt.Errorf("directnet: unknown protocol variant %d", int(v))
	}
}
