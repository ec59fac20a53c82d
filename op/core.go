package op

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Core owns the Deferred Completion Runner and any cross-connection
// hooks (tracing, logging). One Core typically serves every Connection
// in a process; spec §6 calls its lifecycle entry points
// operation_init/operation_exit.
type Core struct {
	runner *runner
	trace  *OperationTrace
	logger *slog.Logger
}

// CoreOption configures a Core at construction time.
type CoreOption func(*Core)

// WithTrace attaches a process-wide OperationTrace hook.
func WithTrace(t *OperationTrace) CoreOption {
	return func(c *Core) { c.trace = t }
}

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) CoreOption {
	return func(c *Core) { c.logger = l }
}

// WithQueueDepth sets the Deferred Completion Runner's job queue
// depth. The runner never drops jobs; this only bounds how much
// receive-dispatch work may be buffered ahead of the single worker.
func WithQueueDepth(depth int) CoreOption {
	return func(c *Core) { c.runner = newRunner(c, depth) }
}

// NewCore is the process_init equivalent (spec §6's operation_init):
// it starts the Deferred Completion Runner and returns a ready Core.
// Call Close (operation_exit) to drain and stop it.
func NewCore(opts ...CoreOption) *Core {
	c := &Core{logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	if c.runner == nil {
		c.runner = newRunner(c, 0)
	} else {
		c.runner.core = c
	}
	c.runner.start()
	return c
}

// Close is operation_exit: it stops accepting new deferred jobs and
// waits for the worker to drain its queue.
func (c *Core) Close() {
	c.runner.stop()
}

// Call is a convenience wrapper over CreateOutgoing + Submit + Wait:
// it allocates an outgoing operation, fills its request payload via
// fill, submits it synchronously, and returns the response payload on
// success. It is the Go-idiomatic analogue of the original driver's
// gb_operation_sync helper (see SPEC_FULL.md's Supplemented Features).
func (c *Core) Call(ctx context.Context, conn *Connection, opType uint8, requestPayloadSize, responsePayloadSize int, fill func([]byte)) ([]byte, error) {
	o, err := conn.CreateOutgoing(opType, requestPayloadSize, responsePayloadSize)
	if err != nil {
		return nil, err
	}
	defer o.Release()

	if fill != nil {
		fill(o.Request().Payload())
	}

	if err := o.Submit(ctx, nil); err != nil {
		return nil, err
	}
	if o.Result != ResultSuccess {
		return nil, o.Result
	}

	resp := o.Response().Payload()
	out := make([]byte, len(resp))
	copy(out, resp)
	return out, nil
}

// CloseConnection disables conn, cancels every operation still
// awaiting a response, and waits for each of them to reach completion
// through its normal path (a late response, if one arrives, or the
// armed timeout) before returning. Cancellation does not synthesize a
// completion (spec §5), so this genuinely waits rather than assuming
// cancel finishes things immediately.
func (c *Core) CloseConnection(ctx context.Context, conn *Connection) error {
	conn.Disable()

	pending := conn.pendingOperations()
	g, gctx := errgroup.WithContext(ctx)
	for _, o := range pending {
		o := o
		o.Cancel()
		g.Go(func() error {
			_ = o.Wait(gctx)
			return nil
		})
	}
	return g.Wait()
}
