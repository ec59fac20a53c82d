package op

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// Direction distinguishes an Operation created by a local submitter
// from one created by the Receive Dispatcher for an inbound request.
type Direction uint8

const (
	Outgoing Direction = iota
	Incoming
)

// Callback is invoked exactly once, on the Deferred Completion Runner
// or on timeout fire, when an Operation reaches completion.
type Callback func(*Operation)

// OperationTrace lets a caller observe the state machine for
// introspection or tests without coupling the core to any particular
// tracing backend. Either method may be left nil.
type OperationTrace struct {
	OnSubmit   func(*Operation)
	OnComplete func(*Operation)
}

// Operation aggregates a request MessageBuffer, an optional response
// MessageBuffer, a correlation id, a result code, a completion
// signal, an optional callback, a timeout handle, a cancel flag, and
// a reference count. See spec §3 for the full lifecycle.
type Operation struct {
	connection *Connection
	direction  Direction
	opType     uint8

	id uint16 // 0 until insertPending assigns one

	request  *MessageBuffer
	response *MessageBuffer

	callback  Callback
	done      chan struct{}
	closeDone sync.Once

	timer *operationTimer

	canceled atomic.Bool
	Result   ResultCode

	refCount int32 // atomic; 1 at creation

	trace *OperationTrace
}

// CreateOutgoing allocates both the request and response
// MessageBuffers for a new operation to be submitted on connection.
// responsePayloadSize must be > 0: every response carries at least a
// status byte. The returned Operation's id is 0 until Submit assigns
// one.
func (c *Connection) CreateOutgoing(opType uint8, requestPayloadSize, responsePayloadSize int) (*Operation, error) {
	if responsePayloadSize <= 0 {
		return nil, ErrResponseSizeZero
	}
	o := &Operation{
		connection: c,
		direction:  Outgoing,
		opType:     opType,
		done:       make(chan struct{}),
		refCount:   1,
	}

	req, err := allocateMessage(o, opType, requestPayloadSize, true, true)
	if err != nil {
		return nil, err
	}
	o.request = req

	resp, err := allocateMessage(o, opType, responsePayloadSize, false, true)
	if err != nil {
		req.release()
		return nil, err
	}
	o.response = resp

	c.insertOperation(o)
	return o, nil
}

// createIncoming allocates only the request MessageBuffer, sized to
// hold requestPayloadSize bytes of payload plus the header. The handler attached via
// the connection's Protocol is responsible for attaching a response
// with AttachResponse. mayBlock is false: this is called from the
// receive-dispatch path, which must not sleep.
func (c *Connection) createIncoming(opType uint8, requestPayloadSize int) (*Operation, error) {
	o := &Operation{
		connection: c,
		direction:  Incoming,
		opType:     opType,
		done:       make(chan struct{}),
		refCount:   1,
	}
	req, err := allocateMessage(o, opType, requestPayloadSize, true, false)
	if err != nil {
		return nil, err
	}
	o.request = req
	c.insertOperation(o)
	return o, nil
}

// AttachResponse allocates the response MessageBuffer for an incoming
// Operation. It must be called from a Protocol.RequestRecv handler,
// which runs on the Deferred Completion Runner and may therefore
// block. The response header is stamped with o's correlation id so the
// peer's Pending Table can match it on arrival (spec §3, §9;
// operation.c:85).
func (o *Operation) AttachResponse(payloadSize int) error {
	resp, err := allocateMessage(o, o.opType, payloadSize, false, true)
	if err != nil {
		return err
	}
	resp.setOperationID(o.id)
	o.response = resp
	return nil
}

// SendResponse hands an incoming operation's attached response buffer
// to the transport. It must be called from a Protocol.RequestRecv
// handler, after AttachResponse. The operation's own reference count
// (the 1 assigned at creation, owned by the Deferred Runner job that
// is calling this handler) is left untouched here; this retain/release
// pair only protects the response buffer's cookie for the duration of
// the hand-off itself, the same way an armed timer protects itself for
// its own duration.
func (o *Operation) SendResponse(ctx context.Context) error {
	if o.response == nil {
		return errors.New("op: SendResponse called with no response attached")
	}
	o.Retain()
	defer o.Release()
	return o.response.send(ctx, true)
}

// Request returns the operation's request MessageBuffer, always present.
func (o *Operation) Request() *MessageBuffer { return o.request }

// Response returns the operation's response MessageBuffer, or nil if
// none has been attached yet (an incoming request whose handler
// hasn't run, or hasn't attached one, yet).
func (o *Operation) Response() *MessageBuffer { return o.response }

// SetResult stamps r into the attached response buffer's wire header,
// so a Protocol handler can surface a protocol-defined result code to
// the peer (spec §6). It must be called after AttachResponse and
// before SendResponse.
func (o *Operation) SetResult(r ResultCode) {
	if o.response != nil {
		o.response.setResult(r)
	}
}

// ID returns the operation's correlation id (0 if not yet submitted).
func (o *Operation) ID() uint16 { return o.id }

// Direction reports whether this Operation is outgoing or incoming.
func (o *Operation) Direction() Direction { return o.direction }

// Type returns the protocol-defined opcode this operation carries.
func (o *Operation) Type() uint8 { return o.opType }

// SetTrace attaches an introspection hook. Not safe to call
// concurrently with Submit.
func (o *Operation) SetTrace(t *OperationTrace) { o.trace = t }

// Retain increments the operation's reference count. Timers,
// transport cookies, and Deferred Runner jobs each hold one reference
// while they may still touch the Operation.
func (o *Operation) Retain() {
	atomic.AddInt32(&o.refCount, 1)
}

// Release decrements the reference count; the final release destroys
// the Operation, frees its MessageBuffers, and removes it from its
// Connection's lists.
func (o *Operation) Release() {
	if atomic.AddInt32(&o.refCount, -1) != 0 {
		return
	}
	o.connection.forgetOperation(o)
	if o.request != nil {
		o.request.release()
	}
	if o.response != nil {
		o.response.release()
	}
}

// Cancel is advisory and idempotent. It marks the operation and asks
// the transport to recall both buffers; it does not synthesize a
// completion, which still flows through exactly one of the normal
// paths (response match, timeout fire, or handler completion).
func (o *Operation) Cancel() {
	if !o.canceled.CompareAndSwap(false, true) {
		return
	}
	o.request.cancel()
	if o.response != nil {
		o.response.cancel()
	}
}

// wasCanceled reports whether Cancel has been called.
func (o *Operation) wasCanceled() bool {
	return o.canceled.Load()
}

// signalDone closes the completion channel exactly once.
func (o *Operation) signalDone() {
	o.closeDone.Do(func() { close(o.done) })
}
