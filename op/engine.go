package op

import (
	"context"
	"time"
)

// operationTimer wraps the delayed work item armed at submit time and
// disarmed (best-effort) on the response path.
type operationTimer struct {
	t *time.Timer
}

// stop disarms the timer and reports whether it actually prevented a
// pending fire (false means the timer had already fired, or was never
// armed). The caller is responsible for releasing the reference the
// timer held only when stop reports true: otherwise the firing
// closure owns releasing it.
func (ot *operationTimer) stop() bool {
	if ot == nil || ot.t == nil {
		return false
	}
	return ot.t.Stop()
}

// Submit sends the operation's request buffer over its connection's
// host device, assigning a correlation id and arming the default
// operation timeout. If callback is nil, Submit blocks until the
// operation completes or ctx is done; ctx cancellation is treated as
// an interrupted wait: the request buffer's send is canceled and
// ResultInterrupted is returned.
//
// Submit must only be called once per Operation, and only on an
// Operation created with CreateOutgoing.
func (o *Operation) Submit(ctx context.Context, callback Callback) error {
	conn := o.connection
	if !conn.isEnabled() {
		return ErrNotConnected
	}

	o.callback = callback
	conn.insertPending(o)
	// Arm the timeout before handing the frame to the transport: send
	// can synchronously drive the peer's response all the way back
	// into recvResponse on another goroutine before this call returns,
	// and recvResponse reads o.timer. Arming it first keeps that write
	// program-ordered ahead of send, so a response arriving that fast
	// always observes a non-nil timer instead of racing this field.
	o.armTimeout()

	if err := o.request.send(ctx, true); err != nil {
		// Open question resolved per spec §9: remove from pending on
		// send failure so invariant 2 (no two pending ops share an
		// id) always holds; the caller owns the operation from here.
		// The timer is already armed, so disarm it too: if we win the
		// race against a concurrent fire, its reference is ours to
		// release, otherwise the firing closure releases itself.
		if o.timer.stop() {
			o.Release()
		}
		conn.removePending(o)
		return err
	}

	if conn.core != nil && conn.core.trace != nil && conn.core.trace.OnSubmit != nil {
		conn.core.trace.OnSubmit(o)
	}
	if o.trace != nil && o.trace.OnSubmit != nil {
		o.trace.OnSubmit(o)
	}

	if callback != nil {
		return nil
	}
	return o.Wait(ctx)
}

// armTimeout schedules the operation's timeout to fire after its
// connection's configured OperationTimeout. Per spec §9, the armed
// timer holds its own reference to the Operation for as long as it
// may still touch it: that reference is released either by whoever
// successfully stops the timer (recvResponse, on a winning race) or
// by the timer's own fired closure.
func (o *Operation) armTimeout() {
	o.Retain()
	d := time.Duration(o.connection.config.OperationTimeoutMillis) * time.Millisecond
	o.timer = &operationTimer{
		t: time.AfterFunc(d, func() {
			defer o.Release()
			o.connection.core.timeoutFire(o)
		}),
	}
}

// Wait blocks the caller until the operation completes. It must not
// be called when a callback was supplied to Submit. On ctx
// cancellation it cancels the request buffer and returns
// ResultInterrupted without waiting further; completion, if it
// arrives later via a response or timeout, still happens exactly
// once through the normal paths.
func (o *Operation) Wait(ctx context.Context) error {
	select {
	case <-o.done:
		if o.Result != ResultSuccess {
			return o.Result
		}
		return nil
	case <-ctx.Done():
		o.Cancel()
		return ResultInterrupted
	}
}

// timeoutFire is the timer-service-context handler for an armed
// operation timeout. It races the response-arrival path for the right
// to call complete: whichever of the two removes the operation from
// the pending set first wins (see findAndRemovePending).
func (c *Core) timeoutFire(o *Operation) {
	conn := o.connection
	won := conn.findAndRemovePending(o.id) == o
	if !won {
		return // response arrived first; this operation already completed
	}
	o.Result = ResultTimeout
	c.complete(o)
}

// complete is the single choke-point that delivers a finished
// Operation to its submitter: its registered callback if any, and
// always a wakeup of o.done. It is invoked from exactly two places:
// the Deferred Completion Runner (runner.go) and timeoutFire above,
// which together guarantee it runs exactly once per Operation.
//
// o.done is closed unconditionally, even when a callback is set,
// because Core.CloseConnection (core.go) calls Wait on every pending
// operation regardless of how it was submitted; without this a
// callback-style operation would leave no waiter ever released.
func (c *Core) complete(o *Operation) {
	if c.trace != nil && c.trace.OnComplete != nil {
		c.trace.OnComplete(o)
	}
	if o.trace != nil && o.trace.OnComplete != nil {
		o.trace.OnComplete(o)
	}
	if o.callback != nil {
		o.callback(o)
	}
	o.signalDone()
}
