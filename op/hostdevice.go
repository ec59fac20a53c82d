package op

import "context"

// Cookie is an opaque handle returned by HostDevice.BufferSend. Its
// validity spans from a successful send until the transport's own
// completion of that send (or a successful BufferCancel).
type Cookie interface{}

// HostDevice is the physical (or virtual) transport the core hands
// framed buffers to. It is the only component in this module that
// touches bytes on the wire; everything above it deals in Headers and
// payloads. Implementations live under hostdevice/.
//
// BufferAlloc may be called from a thread (mayBlock true, from
// CreateOutgoing and AttachResponse) or from the receive-dispatch path
// (mayBlock false, when allocating an incoming request's buffer).
// BufferSend is always called with mayBlock true, from Submit and
// SendResponse.
type HostDevice interface {
	// BufferAlloc returns a zeroed buffer of the requested size, or
	// ErrOutOfMemory. mayBlock indicates whether the caller may be
	// put to sleep; false means the call is happening on a
	// non-blocking (interrupt-like) path and must not sleep.
	BufferAlloc(size int, mayBlock bool) ([]byte, error)

	// BufferFree returns a buffer obtained from BufferAlloc. It must
	// be safe to call at most once per buffer; the core guarantees
	// that.
	BufferFree(buf []byte)

	// BufferSend hands buf (exactly size bytes, already containing a
	// valid header) to the transport for delivery to remoteCportID on
	// this connection, returning a cookie that identifies the
	// in-flight send or an error if the hand-off itself failed.
	BufferSend(ctx context.Context, remoteCportID uint16, buf []byte, size int, mayBlock bool) (Cookie, error)

	// BufferCancel asks the transport to recall an in-flight buffer.
	// It does not block and does not guarantee the send didn't
	// already complete; callers must tolerate a late completion.
	BufferCancel(cookie Cookie)
}

// Protocol interprets the Type byte of incoming requests and routes
// them to a handler. It is supplied per Connection.
type Protocol interface {
	// RequestRecv is invoked on the Deferred Completion Runner for
	// every inbound request operation. The handler is responsible for
	// attaching a response to operation (via Operation.AttachResponse),
	// filling in its payload, and handing it to the transport with
	// Operation.SendResponse before returning; the core sends nothing on
	// its behalf. A connection with no handler at all is expressed by
	// passing a nil Protocol to NewConnection, not by this method.
	RequestRecv(opType uint8, operation *Operation)
}
