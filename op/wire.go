// Package op implements the operation multiplexer: it turns a raw
// per-connection byte stream of fixed-header messages into a set of
// tracked, in-flight operations with request/response correlation,
// per-operation timeout, and cancellation.
package op

import "encoding/binary"

const (
	// HeaderSize is the on-wire size of a frame header, in bytes.
	HeaderSize = 8

	// DefaultMaxMessageSize is the default maximum frame size
	// (header + payload), matching the greybus default.
	DefaultMaxMessageSize = 4096

	// typeResponseBit is set in Header.Type for response frames and
	// clear for request frames.
	typeResponseBit = 0x80

	// DefaultOperationTimeout is the time a submitted request waits
	// for a response before the core completes it with ResultTimeout.
	DefaultOperationTimeout = 1000 // milliseconds, see engine.go
)

// Header is the 8-byte, little-endian, wire header that precedes every
// frame's payload. Any operation-specific data begins immediately after
// it and is 64-bit aligned.
type Header struct {
	Size        uint16 // total frame bytes, header included
	OperationID uint16 // correlation id; 0 means "not yet assigned"
	Type        uint8  // protocol-defined opcode; top bit set => response
	Result      uint8  // 0 = success, non-zero = error (responses only)
}

// IsResponse reports whether Type's response bit is set.
func (h Header) IsResponse() bool {
	return h.Type&typeResponseBit != 0
}

// responseType sets the response bit on a request opcode.
func responseType(t uint8) uint8 {
	return t | typeResponseBit
}

// EncodeHeader writes h into the first HeaderSize bytes of buf. The two
// reserved bytes are always written as zero.
func EncodeHeader(buf []byte, h Header) {
	_ = buf[HeaderSize-1] // bounds check hint
	binary.LittleEndian.PutUint16(buf[0:2], h.Size)
	binary.LittleEndian.PutUint16(buf[2:4], h.OperationID)
	buf[4] = h.Type
	buf[5] = h.Result
	buf[6] = 0
	buf[7] = 0
}

// DecodeHeader reads a Header from the first HeaderSize bytes of buf.
// The reserved bytes are ignored.
func DecodeHeader(buf []byte) Header {
	_ = buf[HeaderSize-1]
	return Header{
		Size:        binary.LittleEndian.Uint16(buf[0:2]),
		OperationID: binary.LittleEndian.Uint16(buf[2:4]),
		Type:        buf[4],
		Result:      buf[5],
	}
}
