package directnet

import "fmt"

// Status is the outcome of an exchange. Success is zero.
//
// Status implements error so a failed exchange can flow through error returns;
// use Err to convert it.
type Status int

const (
	Success              Status = iota // exchange completed
	Internal                           // session failure outside the protocol
	Timeout                            // request expired before the exchange started
	SendFail                           // transport refused a write
	SelectFail                         // target did not answer the select enquiry
	HeaderFail                         // header rejected or unanswered
	ReadBlockFail                      // data block could not be received
	WriteBlockFail                     // data block was rejected
	FrameNotTerminated                 // no EOT after the last read block
	UnexpectedDisconnect               // target sent EOT during the header handshake
)

var statusNames = [...]string{
	Success:              "Success",
	Internal:             "Internal",
	Timeout:              "Timeout",
	SendFail:             "SendFail",
	SelectFail:           "SelectFail",
	HeaderFail:           "HeaderFail",
	ReadBlockFail:        "ReadBlockFail",
	WriteBlockFail:       "WriteBlockFail",
	FrameNotTerminated:   "FrameNotTerminated",
	UnexpectedDisconnect: "UnexpectedDisconnect",
}

func (s Status) String() string {
	if s >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}

	return fmt.Sprintf("Status(%d)", int(s))
}

// Error implements the error interface.
func (s Status) Error() string {
	return "directnet: " + s.String()
}

// Err returns nil for Success and s otherwise.
func (s Status) Err() error {
	if s == Success {
		return nil
	}

	return s
}

// OK reports whether s is Success.
func (s Status) OK() bool {
	return s == Success
}
