// Package protocoldemo is a minimal op.Protocol implementation: a
// method-opcode to handler registry, the same shape as the mesh
// transport's RegisterRPCHandler/handleRPCRequest pair, just keyed by
// the op package's single-byte opcode instead of an RPC method string.
package protocoldemo

import (
	"context"
	"log/slog"
	"sync"

	"github.com/nmxmxh/fabricbus/op"
)

// Handler answers one incoming request's payload with a response
// payload, or an error to report back as ResultCode 0xff
// (ResultUnknown). Every error maps to ResultUnknown; the error's value
// does not select a different result code.
type Handler func(ctx context.Context, operationID uint16, request []byte) ([]byte, error)

// Registry dispatches incoming operations to Handlers registered by
// opcode. It implements op.Protocol.
type Registry struct {
	mu       sync.RWMutex
	handlers map[uint8]Handler
	logger   *slog.Logger
}

// New returns an empty Registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{handlers: make(map[uint8]Handler), logger: logger}
}

// Register installs handler for opType, replacing any previous one.
func (r *Registry) Register(opType uint8, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[opType] = handler
}

// RequestRecv implements op.Protocol. It runs on the Deferred
// Completion Runner, so handlers are free to block.
func (r *Registry) RequestRecv(opType uint8, o *op.Operation) {
	r.mu.RLock()
	handler, ok := r.handlers[opType]
	r.mu.RUnlock()

	if !ok {
		r.logger.Warn("no handler registered for opcode", "type", opType)
		o.Result = op.ResultProtocolBad
		return
	}

	ctx := context.Background()
	resp, err := handler(ctx, o.ID(), o.Request().Payload())
	if err != nil {
		r.logger.Error("handler returned an error", "type", opType, "error", err)
		if attachErr := o.AttachResponse(1); attachErr != nil {
			return
		}
		o.SetResult(op.ResultUnknown)
		_ = o.SendResponse(ctx)
		return
	}

	if err := o.AttachResponse(len(resp)); err != nil {
		r.logger.Error("failed to attach response", "type", opType, "error", err)
		return
	}
	copy(o.Response().Payload(), resp)
	if err := o.SendResponse(ctx); err != nil {
		r.logger.Debug("send response failed", "type", opType, "error", err)
	}
}
