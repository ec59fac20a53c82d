// Package p2pdevice implements op.HostDevice over a libp2p stream, the
// same per-call stream-open/write/close pattern used by
// internal/network's SendPacket and StartNodeWithStreams: every frame
// gets its own stream on a well-known protocol id, so no separate
// framing or multiplexing layer is needed below the op package's own
// header.
package p2pdevice

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	libp2p_host "github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/nmxmxh/fabricbus/op"
)

// ProtocolID identifies op frames on the libp2p stream multiplexer,
// distinct from internal/network's "/packet/1.0.0" request/response
// protocol: this one carries whole op frames, request or response,
// with no implicit reply-on-the-same-stream semantics.
const ProtocolID = "/fabricbus/op/1.0.0"

// Device adapts a connection to a single remote libp2p peer into an
// op.HostDevice. remoteCportID is ignored at this layer for the same
// reason wsdevice and webrtcdevice ignore it: one Device models one
// point-to-point link.
type Device struct {
	host   libp2p_host.Host
	peer   peer.AddrInfo
	logger *slog.Logger
}

// New resolves peerAddr (a full /p2p/ multiaddr, as produced by
// internal/network's TestNode.Addr) into the peer this Device sends
// to. It does not install a stream handler: inbound frames reach an
// *op.Connection's Recv only through RegisterHandler, which is called
// once per host, not per Device; call it exactly once for a host
// shared across several Devices.
func New(host libp2p_host.Host, peerAddr string, logger *slog.Logger) (*Device, error) {
	if logger == nil {
		logger = slog.Default()
	}
	maddr, err := ma.NewMultiaddr(peerAddr)
	if err != nil {
		return nil, fmt.Errorf("p2pdevice: bad peer address: %w", err)
	}
	info, err := peer.AddrInfoFromP2pAddr(maddr)
	if err != nil {
		return nil, fmt.Errorf("p2pdevice: bad peer address: %w", err)
	}
	return &Device{host: host, peer: *info, logger: logger}, nil
}

// RegisterHandler installs the stream handler that delivers inbound op
// frames to recv. Call once per libp2p host; every Device built on
// that host shares the same inbound path the way every cport shares
// one greybus host-device interrupt line.
func RegisterHandler(host libp2p_host.Host, recv func(frame []byte), logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	host.SetStreamHandler(ProtocolID, func(s network.Stream) {
		defer s.Close()
		data, err := io.ReadAll(s)
		if err != nil {
			logger.Debug("p2pdevice: stream read failed", "error", err)
			return
		}
		recv(data)
	})
}

// BufferAlloc returns a freshly zeroed slice.
func (d *Device) BufferAlloc(size int, mayBlock bool) ([]byte, error) {
	return make([]byte, size), nil
}

// BufferFree is a no-op.
func (d *Device) BufferFree(buf []byte) {}

type cookie struct{}

// BufferSend dials the remote peer if needed and opens a fresh stream
// carrying exactly buf[:size], closing it for further writes once
// sent so the remote's io.ReadAll terminates.
func (d *Device) BufferSend(ctx context.Context, remoteCportID uint16, buf []byte, size int, mayBlock bool) (op.Cookie, error) {
	if err := d.host.Connect(ctx, d.peer); err != nil {
		return nil, fmt.Errorf("p2pdevice: connect: %w", err)
	}
	stream, err := d.host.NewStream(ctx, d.peer.ID, ProtocolID)
	if err != nil {
		return nil, fmt.Errorf("p2pdevice: new stream: %w", err)
	}
	defer stream.Close()

	if _, err := stream.Write(buf[:size]); err != nil {
		return nil, fmt.Errorf("p2pdevice: write: %w", err)
	}
	if err := stream.CloseWrite(); err != nil {
		return nil, fmt.Errorf("p2pdevice: close write: %w", err)
	}
	return cookie{}, nil
}

// BufferCancel is a no-op: BufferSend already completed the stream
// round-trip (open, write, close) synchronously before returning.
func (d *Device) BufferCancel(c op.Cookie) {}
