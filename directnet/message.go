package directnet

import (
	"errors"
	"sync/atomic"
)

var (
	ErrNotBound      = errors.New("directnet: message not bound to a target")
	ErrInFlight      = errors.New("directnet: message already in flight")
	ErrInvalidLength = errors.New("directnet: invalid data length")
	ErrClientClosed  = errors.New("directnet: client closed")
)

// Message is one read or write request against a named target.
//
// A Message is bound once with Client.Bind and may then be submitted repeatedly,
// but only one submission may be in flight at a time. Between Submit and
// completion the exchange owns Data: the caller must not touch it. After a
// failed read Data still holds its previous content.
type Message struct {
	// Target is the registered target name.
	Target string
	// Command selects the operation; the slave id is filled in at submission.
	Command Command
	// Address is the first address transferred.
	Address uint16
	// Data is the transfer buffer; its length is the transfer length.
	Data []byte

	// Status is the outcome of the last submission. It is Internal while in flight.
	Status Status

	// Callback, when set, is invoked exactly once per submission after Status
	// is stored.
	Callback func(msg *Message)

	// ConnStatus, when set, is invoked when the transport of the bound target
	// reports a connectivity change.
	ConnStatus func(msg *Message, connected bool)

	// Owner is an optional back-reference to the record that owns this message.
	Owner any

	target   atomic.Pointer[Target]
	inFlight atomic.Bool
}

// BoundTarget returns the target the message is bound to, or nil.
func (m *Message) BoundTarget() *Target {
	return m.target.Load()
}

// Variant returns the protocol variant of the bound target.
func (m *Message) Variant() (Variant, error) {
	t := m.target.Load()
	if t == nil {
		return VariantWire, ErrNotBound
	}

	return t.variant, nil
}

// InFlight reports whether a submission of m has not completed yet.
func (m *Message) InFlight() bool {
	return m.inFlight.Load()
}

// IsWrite reports whether m writes to the target.
func (m *Message) IsWrite() bool {
	return m.Command.IsWrite()
}
