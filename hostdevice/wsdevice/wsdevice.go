// Package wsdevice implements op.HostDevice over a gorilla/websocket
// connection: one physical socket carries the frames of one
// op.Connection, the same way WebSocketConnection in the mesh
// transport carries RPC frames over a single signaling socket. Every
// frame read off the socket goes to that one Connection's Recv.
package wsdevice

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nmxmxh/fabricbus/op"
)

// ErrClosed is returned by BufferSend once the device has been closed.
var ErrClosed = errors.New("wsdevice: connection closed")

// Device adapts a *websocket.Conn to op.HostDevice. WriteMessage on a
// gorilla connection is not safe for concurrent callers, so every send
// is serialized through sendMu, mirroring
// WebSocketConnection.signalingWriteMu in the mesh transport.
type Device struct {
	conn   *websocket.Conn
	logger *slog.Logger

	sendMu sync.Mutex
	closed chan struct{}
	once   sync.Once

	recv func(frame []byte) // wired to the owning op.Connection's Recv
}

// New wraps conn. recv is called with every complete frame read off
// the socket; callers typically pass an *op.Connection's Recv method.
func New(conn *websocket.Conn, recv func(frame []byte), logger *slog.Logger) *Device {
	if logger == nil {
		logger = slog.Default()
	}
	return &Device{
		conn:   conn,
		logger: logger,
		closed: make(chan struct{}),
		recv:   recv,
	}
}

// ReadLoop blocks reading frames off the socket and dispatching them
// to recv until the socket errors or Close is called. Run it in its
// own goroutine, one per Device, the way transport.go's receiveLoop is
// run once per WebSocketConnection.
func (d *Device) ReadLoop() {
	for {
		_, message, err := d.conn.ReadMessage()
		if err != nil {
			select {
			case <-d.closed:
			default:
				d.logger.Debug("websocket read loop exiting", "error", err)
			}
			return
		}
		d.recv(message)
	}
}

// Close closes the underlying socket. Idempotent.
func (d *Device) Close() error {
	d.once.Do(func() { close(d.closed) })
	return d.conn.Close()
}

// BufferAlloc returns a freshly zeroed slice; the websocket transport
// has no buffer pool of its own to draw from.
func (d *Device) BufferAlloc(size int, mayBlock bool) ([]byte, error) {
	return make([]byte, size), nil
}

// BufferFree is a no-op: ordinary Go slices need no explicit release.
func (d *Device) BufferFree(buf []byte) {}

type cookie struct{}

// BufferSend writes buf[:size] as a single binary websocket message.
// remoteCportID is not used to route at the socket layer: this Device
// models a point-to-point link, the same granularity as one
// WebSocketConnection in the mesh transport. The op header carries no
// cport id, so frames for several cport ids on one socket are not
// told apart anywhere.
func (d *Device) BufferSend(ctx context.Context, remoteCportID uint16, buf []byte, size int, mayBlock bool) (op.Cookie, error) {
	select {
	case <-d.closed:
		return nil, ErrClosed
	default:
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.sendMu.Lock()
	defer d.sendMu.Unlock()

	if dl, ok := ctx.Deadline(); ok {
		_ = d.conn.SetWriteDeadline(dl)
	} else {
		_ = d.conn.SetWriteDeadline(time.Time{})
	}
	if err := d.conn.WriteMessage(websocket.BinaryMessage, buf[:size]); err != nil {
		return nil, err
	}
	return cookie{}, nil
}

// BufferCancel is a no-op: once WriteMessage returns, the frame has
// already left the process: there is nothing left to recall.
func (d *Device) BufferCancel(c op.Cookie) {}
