// Package webrtcdevice implements op.HostDevice over a pion/webrtc
// DataChannel, the way WebRTCConnection backs the mesh transport's
// Connection interface once signaling has established a
// PeerConnection and its DataChannel.
package webrtcdevice

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v3"

	"github.com/nmxmxh/fabricbus/op"
)

// ErrChannelClosed is returned by BufferSend once the data channel has
// left the open state.
var ErrChannelClosed = errors.New("webrtcdevice: data channel not open")

// Device adapts a single *webrtc.DataChannel to op.HostDevice. A
// DataChannel delivers messages via OnMessage callbacks rather than a
// blocking read, so unlike WebRTCConnection.Receive (left unimplemented
// in the mesh transport) this Device wires OnMessage directly to the
// owning op.Connection's Recv at construction time.
type Device struct {
	dc     *webrtc.DataChannel
	pc     *webrtc.PeerConnection
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// New wraps an already-negotiated DataChannel. recv is invoked with
// every message the channel delivers; pass an *op.Connection's Recv.
// pc may be nil if the caller manages PeerConnection lifetime
// elsewhere.
func New(pc *webrtc.PeerConnection, dc *webrtc.DataChannel, recv func(frame []byte), logger *slog.Logger) *Device {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Device{dc: dc, pc: pc, logger: logger}
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		recv(msg.Data)
	})
	dc.OnClose(func() {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()
	})
	return d
}

// IsOpen reports whether the underlying DataChannel is ready to send.
func (d *Device) IsOpen() bool {
	return d.dc.ReadyState() == webrtc.DataChannelStateOpen
}

// Close tears down the data channel and, if this Device owns it, the
// peer connection beneath it.
func (d *Device) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	if err := d.dc.Close(); err != nil {
		return err
	}
	if d.pc != nil {
		return d.pc.Close()
	}
	return nil
}

// BufferAlloc returns a freshly zeroed slice; pion copies the slice it
// is given into its own SCTP send buffers, so no pooling is needed
// here.
func (d *Device) BufferAlloc(size int, mayBlock bool) ([]byte, error) {
	return make([]byte, size), nil
}

// BufferFree is a no-op.
func (d *Device) BufferFree(buf []byte) {}

type cookie struct{}

// BufferSend writes buf[:size] as a single DataChannel message.
// remoteCportID is unused: one Device models one DataChannel, i.e. one
// point-to-point link, same as webrtcdevice's websocket counterpart.
func (d *Device) BufferSend(ctx context.Context, remoteCportID uint16, buf []byte, size int, mayBlock bool) (op.Cookie, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.RLock()
	closed := d.closed
	d.mu.RUnlock()
	if closed || d.dc.ReadyState() != webrtc.DataChannelStateOpen {
		return nil, ErrChannelClosed
	}
	if err := d.dc.Send(buf[:size]); err != nil {
		return nil, err
	}
	return cookie{}, nil
}

// BufferCancel is a no-op: pion's Send call already returns only after
// handing the message to the SCTP association.
func (d *Device) BufferCancel(c op.Cookie) {}
