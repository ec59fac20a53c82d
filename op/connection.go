package op

import (
	"log/slog"
	"sync"
)

// Connection is a logical channel between the host and a remote
// endpoint. It owns the set of live Operations and the subset of
// those that are pending a response, and exposes only the fields the
// core reads or writes; protocol- and transport-specific state lives
// in the HostDevice and Protocol implementations it references.
type Connection struct {
	core *Core

	hostDevice HostDevice
	protocol   Protocol

	// RemoteCportID is the transport-layer address of the remote
	// endpoint on this connection.
	RemoteCportID uint16

	config Config

	mu         sync.Mutex // guards enabled; the three fields after it are guarded by globalOpsMu (pending.go)
	enabled    bool
	opCycle    uint16
	operations map[*Operation]struct{}
	pending    map[uint16]*Operation

	logger *slog.Logger
}

// Config holds the tunables the distilled spec leaves as constants.
// Mirrors the shape of a teacher-style *Config struct with a
// defaulting constructor, e.g. transport.TransportConfig.
type Config struct {
	// MaxMessageSize bounds header+payload for any frame on this
	// connection. Requests whose payload would exceed
	// MaxMessageSize-HeaderSize are rejected at allocation time.
	MaxMessageSize int

	// OperationTimeoutMillis is how long, in milliseconds, a submitted
	// request waits for a response before the core completes it with
	// ResultTimeout.
	OperationTimeoutMillis int
}

// DefaultConfig returns the greybus-compatible defaults: a 4096-byte
// maximum frame and a 1-second operation timeout.
func DefaultConfig() Config {
	return Config{
		MaxMessageSize:      DefaultMaxMessageSize,
		OperationTimeoutMillis: DefaultOperationTimeout,
	}
}

// NewConnection creates a disabled Connection bound to hostDevice and
// protocol. Call Enable before submitting or receiving operations.
func NewConnection(core *Core, hostDevice HostDevice, protocol Protocol, remoteCportID uint16, config Config) *Connection {
	if config.MaxMessageSize <= 0 {
		config.MaxMessageSize = DefaultMaxMessageSize
	}
	if config.OperationTimeoutMillis <= 0 {
		config.OperationTimeoutMillis = DefaultOperationTimeout
	}
	logger := core.logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Connection{
		core:          core,
		hostDevice:    hostDevice,
		protocol:      protocol,
		RemoteCportID: remoteCportID,
		config:        config,
		operations:    make(map[*Operation]struct{}),
		pending:       make(map[uint16]*Operation),
		logger:        logger.With("cport_id", remoteCportID),
	}
}

func (c *Connection) maxMessageSize() int { return c.config.MaxMessageSize }

// Enable marks the connection ready to submit and receive operations.
// A disabled connection fails Submit with ErrNotConnected and drops
// all incoming bytes.
func (c *Connection) Enable() {
	c.mu.Lock()
	c.enabled = true
	c.mu.Unlock()
}

// Disable marks the connection unable to submit or receive further
// operations. It does not by itself touch any already-pending
// Operation; see Core.CloseConnection to also drain them.
func (c *Connection) Disable() {
	c.mu.Lock()
	c.enabled = false
	c.mu.Unlock()
}

func (c *Connection) isEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}
