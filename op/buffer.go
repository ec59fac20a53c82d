package op

import (
	"context"
	"fmt"
)

// MessageBuffer owns a single contiguous frame (header + payload)
// allocated through the owning Connection's HostDevice. It never
// copies its frame memory once handed to the transport, except via an
// explicit cancel.
type MessageBuffer struct {
	operation *Operation // non-owning back-reference
	frame     []byte     // full frame, header included
	size      int        // bytes actually in use (may be < cap(frame))
	cookie    Cookie     // non-nil while in flight
	freed     bool
}

// allocateMessage allocates a frame sized for payloadSize bytes of
// payload plus the header, fills the header, and returns a
// MessageBuffer. isRequest clears the response bit; otherwise it is
// set. mayBlock is forwarded to the HostDevice.
func allocateMessage(operation *Operation, opType uint8, payloadSize int, isRequest, mayBlock bool) (*MessageBuffer, error) {
	conn := operation.connection
	if payloadSize > conn.maxMessageSize()-HeaderSize {
		return nil, ErrTooLarge
	}
	size := HeaderSize + payloadSize
	frame, err := conn.hostDevice.BufferAlloc(size, mayBlock)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOutOfMemory, err)
	}

	t := opType
	if !isRequest {
		t = responseType(opType)
	}
	EncodeHeader(frame[:HeaderSize], Header{
		Size:        uint16(size),
		OperationID: 0,
		Type:        t,
		Result:      0,
	})

	return &MessageBuffer{
		operation: operation,
		frame:     frame,
		size:      size,
	}, nil
}

// Payload returns the portion of the frame after the header.
func (m *MessageBuffer) Payload() []byte {
	return m.frame[HeaderSize:m.size]
}

// Capacity returns the maximum payload this buffer can hold.
func (m *MessageBuffer) Capacity() int {
	return len(m.frame) - HeaderSize
}

// Size returns the total frame size currently in use, header included.
func (m *MessageBuffer) Size() int {
	return m.size
}

// frameCapacity returns the total allocated frame size, header
// included: the largest incoming frame this buffer can absorb.
func (m *MessageBuffer) frameCapacity() int {
	return len(m.frame)
}

// overwriteFrame replaces the buffer's contents with data in place,
// used by the response path to copy an incoming wire frame (header
// and payload both) into a pre-allocated response buffer. It reports
// whether data fit.
func (m *MessageBuffer) overwriteFrame(data []byte) bool {
	if len(data) > len(m.frame) {
		return false
	}
	copy(m.frame, data)
	m.size = len(data)
	return true
}

// header reads the buffer's current header.
func (m *MessageBuffer) header() Header {
	return DecodeHeader(m.frame[:HeaderSize])
}

// setOperationID rewrites the header's operation id field in place.
func (m *MessageBuffer) setOperationID(id uint16) {
	h := m.header()
	h.OperationID = id
	EncodeHeader(m.frame[:HeaderSize], h)
}

// setResult rewrites the header's result field in place. Used by a
// Protocol handler to surface a protocol-defined result code to the
// peer; the requester reads it back out of the response header on
// arrival (dispatch.go), not out of the payload.
func (m *MessageBuffer) setResult(r ResultCode) {
	h := m.header()
	h.Result = uint8(r)
	EncodeHeader(m.frame[:HeaderSize], h)
}

// release returns the frame to the host device. It is idempotent.
func (m *MessageBuffer) release() {
	if m.freed || m.frame == nil {
		return
	}
	m.operation.connection.hostDevice.BufferFree(m.frame)
	m.freed = true
	m.frame = nil
}

// send hands the frame to the transport, recording the returned
// cookie. On failure the cookie is left nil.
func (m *MessageBuffer) send(ctx context.Context, mayBlock bool) error {
	conn := m.operation.connection
	cookie, err := conn.hostDevice.BufferSend(ctx, conn.RemoteCportID, m.frame, m.size, mayBlock)
	if err != nil {
		m.cookie = nil
		return err
	}
	m.cookie = cookie
	return nil
}

// cancel asks the transport to recall the buffer if it is in flight.
// A no-op otherwise.
func (m *MessageBuffer) cancel() {
	if m.cookie == nil {
		return
	}
	m.operation.connection.hostDevice.BufferCancel(m.cookie)
}
