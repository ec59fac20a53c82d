package op

import "sync"

// runner is the Deferred Completion Runner: a single serialized worker
// queue that executes request handlers and completion callbacks
// outside of the transport's interrupt-time context (spec §4.6, §5).
// The core does not assume anything about parallelism across
// connections: nothing here prevents running several runners, each
// owning a disjoint set of connections, provided per-operation
// completion stays exactly-once.
type runner struct {
	jobs chan *Operation
	wg   sync.WaitGroup
	core *Core
}

func newRunner(core *Core, queueDepth int) *runner {
	if queueDepth <= 0 {
		queueDepth = 64
	}
	return &runner{
		jobs: make(chan *Operation, queueDepth),
		core: core,
	}
}

func (r *runner) start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for o := range r.jobs {
			r.run(o)
		}
	}()
}

// enqueue schedules o for deferred processing. Called from the
// interrupt-like receive-dispatch path; must not block the caller for
// long, so the queue is generously buffered and enqueue never runs
// user code itself.
func (r *runner) enqueue(o *Operation) {
	r.jobs <- o
}

func (r *runner) stop() {
	close(r.jobs)
	r.wg.Wait()
}

// run executes one job: if the operation has no response attached yet
// it is an incoming request, so the connection's Protocol gets first
// crack at it; either way the job ends by calling complete exactly
// once.
func (r *runner) run(o *Operation) {
	defer o.Release() // balances the Retain taken before enqueue, or an incoming operation's creation reference
	if o.Direction() == Incoming {
		conn := o.connection
		if conn.protocol != nil {
			conn.protocol.RequestRecv(o.Type(), o)
		} else {
			o.Result = ResultProtocolBad
			conn.logger.Error("no protocol handler for incoming request", "type", o.Type(), "operation_id", o.id)
		}
	}
	r.core.complete(o)
}
