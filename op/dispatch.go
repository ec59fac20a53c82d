package op

// Recv is the Receive Dispatcher entry point (spec §4.5): it parses an
// incoming framed buffer from the transport, classifies it request vs
// response, and routes it. It may execute in interrupt-like context:
// it must not block and must not invoke user handlers directly; both
// paths below only ever reach user code via the Deferred Completion
// Runner.
func (c *Connection) Recv(data []byte) {
	if !c.isEnabled() {
		c.logger.Warn("dropping received bytes on disabled connection", "size", len(data))
		return
	}
	if len(data) < HeaderSize {
		c.logger.Warn("dropping undersized frame", "size", len(data))
		return
	}

	h := DecodeHeader(data)
	if int(h.Size) > len(data) {
		c.logger.Warn("dropping incomplete frame", "header_size", h.Size, "got", len(data))
		return
	}
	frame := data[:h.Size]

	if h.IsResponse() {
		c.recvResponse(h, frame)
	} else {
		c.recvRequest(h, frame)
	}
}

// recvResponse locates the pending Operation by correlation id, and
// either copies the incoming frame into its response buffer and
// enqueues it for completion, or records Overflow if it doesn't fit.
// Either way the operation is removed from pending exactly once by
// findAndRemovePending, which is what makes this race-safe against a
// concurrent timeout fire (spec §8 invariant 1).
func (c *Connection) recvResponse(h Header, frame []byte) {
	o := c.findAndRemovePending(h.OperationID)
	if o == nil {
		c.logger.Debug("dropping response for unknown or already-completed operation", "operation_id", h.OperationID)
		return
	}
	// We won the race against a concurrent timeout fire by being the
	// one to remove o from pending. If we also manage to stop the
	// armed timer before it fires, its reference is ours to release;
	// otherwise its own closure will release it.
	if o.timer.stop() {
		o.Release()
	}

	if !o.response.overwriteFrame(frame) {
		o.Result = ResultOverflow
		c.logger.Warn("response overflowed buffer, dropping payload", "operation_id", o.id, "frame_size", len(frame), "capacity", o.response.frameCapacity())
	} else {
		// Resolved open question (spec §9): read the result byte from
		// the copy we just made, not from the not-yet-overwritten
		// local buffer.
		o.Result = ResultCode(o.response.header().Result)
	}

	o.Retain() // held by the runner job until it finishes processing
	c.core.runner.enqueue(o)
}

// recvRequest allocates a new incoming Operation sized to the frame,
// copies the frame into its request buffer, stamps its id from the
// header, and enqueues it for the connection's Protocol to handle.
func (c *Connection) recvRequest(h Header, frame []byte) {
	o, err := c.createIncoming(h.Type, len(frame)-HeaderSize)
	if err != nil {
		c.logger.Error("failed to allocate incoming operation", "error", err, "type", h.Type)
		return
	}
	o.id = h.OperationID
	o.request.overwriteFrame(frame)
	// The reference count of 1 set at creation is exactly the
	// reference the Deferred Runner's job will hold and release when
	// it finishes processing: unlike the response path there is no
	// separate caller-held reference to protect here.
	c.core.runner.enqueue(o)
}
