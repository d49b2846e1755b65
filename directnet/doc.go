// Package directnet implements the master side of the DirectNet link protocol
// used to read and write PLC memory over a half-duplex, multidrop serial line.
//
// # Protocol Overview
//
// Every exchange is initiated by the master and runs through four stages:
//
//   - Select: "N <slave+0x20> ENQ", answered by "N <slave+0x20> ACK".
//   - Header: a 17-byte frame SOH, hex command, address, length and originator,
//     ETB and an LRC. The target answers ACK, NAK (resend) or EOT.
//   - Data: blocks of up to 256 bytes framed as STX data ETB|ETX LRC, each
//     acknowledged with ACK or NAK. A read ends with an EOT from the target.
//   - End: the master always releases the line with EOT.
//
// Each stage retries locally up to the configured limit (3 by default). The
// whole exchange restarts only when the target answers the header with EOT.
//
// A second, line-oriented ASCII variant talks to software stand-in devices with
// the same Protocol interface; see VariantSimulator.
//
// # Timeouts
//
// Stage timeouts are computed as base + margin + bytes/byteRate:
//
//   - enquiry ACK: 800ms
//   - header ACK: 2s
//   - data ACK: 20s
//   - margin: 1s, byte rate: 960 bytes/s (9600 baud)
//
// # Client
//
// A Client owns one worker goroutine per port of a Registry. Messages are bound
// to a target with Bind and submitted with Submit, which never blocks. Exchanges
// on the same port are strictly serialized in submission order; ports run
// independently. Outcomes are reported as a Status, never as a Go error.
package directnet
