package op

import "sync"

// globalOpsMu is the single mutual-exclusion primitive protecting every
// Connection's operations/pending sets, safe against the interrupt-like
// receive-dispatch context (spec §4.3, §5). A per-connection lock would
// do just as well since the core never needs to lock two connections
// at once, but mirroring the original single global spinlock keeps the
// "no two in-flight operations share an id" invariant trivially easy
// to audit in one place.
var globalOpsMu sync.Mutex

// insertOperation adds a freshly created Operation to the connection's
// not-pending set.
func (c *Connection) insertOperation(o *Operation) {
	globalOpsMu.Lock()
	defer globalOpsMu.Unlock()
	c.operations[o] = struct{}{}
}

// insertPending assigns o.id from the connection's monotonic counter,
// writes it into the request header, and moves o from the operations
// set into the pending set. The id counter skips 0 on wrap (reserved
// for "unassigned") and additionally skips any id currently present in
// pending, per the MAY in spec §9.
func (c *Connection) insertPending(o *Operation) {
	globalOpsMu.Lock()
	defer globalOpsMu.Unlock()

	delete(c.operations, o)

	id := c.opCycle + 1
	for id == 0 || c.pendingLocked(id) {
		id++
	}
	c.opCycle = id

	o.id = id
	o.request.setOperationID(id)
	c.pending[id] = o
}

func (c *Connection) pendingLocked(id uint16) bool {
	_, ok := c.pending[id]
	return ok
}

// removePending moves o back into the operations set, used on submit
// failure (see spec §9's resolved open question). It is a no-op if o
// is not currently pending.
func (c *Connection) removePending(o *Operation) {
	globalOpsMu.Lock()
	defer globalOpsMu.Unlock()
	if c.pending[o.id] != o {
		return
	}
	delete(c.pending, o.id)
	c.operations[o] = struct{}{}
}

// findAndRemovePending looks up the Operation pending under id and,
// if found, atomically removes it from the pending set in the same
// critical section: this is what makes the response-arrival and
// timeout-fire races resolve to exactly one winner (invariant 1 in
// spec §8): whichever caller observes the non-nil result is the only
// one that goes on to call complete.
func (c *Connection) findAndRemovePending(id uint16) *Operation {
	globalOpsMu.Lock()
	defer globalOpsMu.Unlock()
	o, ok := c.pending[id]
	if !ok {
		return nil
	}
	delete(c.pending, id)
	c.operations[o] = struct{}{}
	return o
}

// forgetOperation removes o from whichever set it currently belongs
// to. Called on final Release.
func (c *Connection) forgetOperation(o *Operation) {
	globalOpsMu.Lock()
	defer globalOpsMu.Unlock()
	delete(c.operations, o)
	if o.id != 0 && c.pending[o.id] == o {
		delete(c.pending, o.id)
	}
}

// pendingOperations returns a snapshot of every operation currently
// awaiting a response on c, used by Core.CloseConnection to drain them.
func (c *Connection) pendingOperations() []*Operation {
	globalOpsMu.Lock()
	defer globalOpsMu.Unlock()
	ops := make([]*Operation, 0, len(c.pending))
	for _, o := range c.pending {
		ops = append(ops, o)
	}
	return ops
}
