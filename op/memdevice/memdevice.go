// Package memdevice provides an in-process HostDevice used by the op
// package's own tests and by demo code that doesn't need a real
// transport. It models two connections talking to each other over a
// loopback pair, in the style of transport_test.go's MockConnection:
// plain fields guarded by a mutex, no real I/O.
package memdevice

import (
	"context"
	"errors"
	"sync"

	"github.com/nmxmxh/fabricbus/op"
)

// ErrSendFailed is returned by BufferSend when the device has been
// configured to fail the next send via FailNextSend.
var ErrSendFailed = errors.New("memdevice: simulated send failure")

// Device is a loopback HostDevice. Its deliver func must be set (via Pair) to
// the function that hands a sent frame to the remote side's
// Connection.Recv before any BufferSend call is made.
type Device struct {
	mu           sync.Mutex
	deliver      func(frame []byte)
	dropNext     bool
	failNextSend bool
	sent         [][]byte
	freedCount   int
}

// New returns a Device with no peer wired up yet; call Pair to connect
// two devices to each other.
func New() *Device {
	return &Device{}
}

// Pair wires a and b so that whatever a sends is handed to deliverToB,
// and whatever b sends is handed to deliverToA. deliverToA and
// deliverToB are typically connA.Recv and connB.Recv.
func Pair(a, b *Device, deliverToA, deliverToB func(frame []byte)) {
	a.mu.Lock()
	a.deliver = deliverToB
	a.mu.Unlock()
	b.mu.Lock()
	b.deliver = deliverToA
	b.mu.Unlock()
}

// DropNextSend makes the next BufferSend succeed (returning a cookie)
// but silently discard the frame instead of delivering it, simulating
// a transport that accepted a buffer and then lost it: used to drive
// the timeout scenario.
func (d *Device) DropNextSend() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dropNext = true
}

// FailNextSend makes the next BufferSend return ErrSendFailed instead
// of handing the frame off at all.
func (d *Device) FailNextSend() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failNextSend = true
}

// Sent returns a copy of every frame this device has successfully
// handed off, dropped or not.
func (d *Device) Sent() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([][]byte, len(d.sent))
	copy(out, d.sent)
	return out
}

// FreedCount returns how many times BufferFree has been called.
func (d *Device) FreedCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.freedCount
}

// BufferAlloc returns a freshly zeroed slice of the requested size.
// mayBlock is accepted but unused; an in-process allocation never
// blocks.
func (d *Device) BufferAlloc(size int, mayBlock bool) ([]byte, error) {
	return make([]byte, size), nil
}

// BufferFree records that buf was released. It tolerates being called
// on a nil or already-tracked buffer; op.MessageBuffer.release already
// guarantees at-most-once per buffer.
func (d *Device) BufferFree(buf []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.freedCount++
}

type sendCookie struct{}

// BufferSend hands frame[:size] to the peer device's deliver func,
// synchronously, as if the wire were instantaneous. ctx is honored
// only to the extent of checking it hasn't already been canceled.
func (d *Device) BufferSend(ctx context.Context, remoteCportID uint16, buf []byte, size int, mayBlock bool) (op.Cookie, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	drop := d.dropNext
	d.dropNext = false
	fail := d.failNextSend
	d.failNextSend = false
	deliver := d.deliver
	d.mu.Unlock()

	if fail {
		return nil, ErrSendFailed
	}

	frame := make([]byte, size)
	copy(frame, buf[:size])

	d.mu.Lock()
	d.sent = append(d.sent, frame)
	d.mu.Unlock()

	if drop || deliver == nil {
		return sendCookie{}, nil
	}
	deliver(frame)
	return sendCookie{}, nil
}

// BufferCancel is a no-op: the loopback device delivers synchronously
// inside BufferSend, so by the time a caller could ask to cancel, the
// frame has already been handed to the peer or dropped.
func (d *Device) BufferCancel(cookie op.Cookie) {}
