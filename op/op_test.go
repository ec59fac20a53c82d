package op_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/nmxmxh/fabricbus/op"
	"github.com/nmxmxh/fabricbus/op/memdevice"
)

const pingType uint8 = 0x01

// echoProtocol attaches a response of the same size as the request and
// copies the payload back. It always handles the request; tests
// exercise ResultProtocolBad via a nil Protocol instead.
type echoProtocol struct {
	mu    sync.Mutex
	calls int
}

func (p *echoProtocol) RequestRecv(opType uint8, o *op.Operation) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()

	req := o.Request().Payload()
	if err := o.AttachResponse(len(req)); err != nil {
		return
	}
	copy(o.Response().Payload(), req)
	_ = o.SendResponse(context.Background())
}

// harness wires up a pair of Cores/Connections/Devices connected back
// to back over memdevice, mirroring the loopback pattern in
// transport_test.go.
type harness struct {
	coreA, coreB *op.Core
	connA, connB *op.Connection
	devA, devB   *memdevice.Device
}

func newHarness(t *testing.T, protoB op.Protocol) *harness {
	t.Helper()
	h := &harness{
		coreA: op.NewCore(),
		coreB: op.NewCore(),
		devA:  memdevice.New(),
		devB:  memdevice.New(),
	}
	h.connA = op.NewConnection(h.coreA, h.devA, nil, 1, op.DefaultConfig())
	h.connB = op.NewConnection(h.coreB, h.devB, protoB, 1, op.DefaultConfig())
	memdevice.Pair(h.devA, h.devB, h.connA.Recv, h.connB.Recv)
	h.connA.Enable()
	h.connB.Enable()
	return h
}

func (h *harness) Close() {
	h.coreA.Close()
	h.coreB.Close()
}

// S1: happy-path synchronous call round-trips a payload.
func TestCallHappyPath(t *testing.T) {
	proto := &echoProtocol{}
	h := newHarness(t, proto)
	defer h.Close()

	resp, err := h.coreA.Call(context.Background(), h.connA, pingType, 4, 4, func(p []byte) {
		copy(p, []byte("ping"))
	})
	assert.NoError(t, err)
	assert.Equal(t, []byte("ping"), resp)
	assert.Equal(t, 1, proto.calls)
}

// S2: a submitted request that is never answered completes with
// ResultTimeout once the connection's operation timeout elapses, and a
// response that arrives after the timeout has no effect.
func TestSubmitTimeout(t *testing.T) {
	proto := &echoProtocol{}
	h := newHarness(t, proto)
	defer h.Close()

	cfg := op.DefaultConfig()
	cfg.OperationTimeoutMillis = 30
	connA := op.NewConnection(h.coreA, h.devA, nil, 1, cfg)
	connA.Enable()
	memdevice.Pair(h.devA, h.devB, connA.Recv, h.connB.Recv)

	h.devA.DropNextSend()

	o, err := connA.CreateOutgoing(pingType, 4, 4)
	assert.NoError(t, err)
	defer o.Release()

	copy(o.Request().Payload(), []byte("ping"))
	err = o.Submit(context.Background(), nil)
	assert.Equal(t, op.ResultTimeout, err)
	assert.Equal(t, op.ResultTimeout, o.Result)

	late := make([]byte, op.HeaderSize+4)
	op.EncodeHeader(late, op.Header{Size: uint16(len(late)), OperationID: o.ID(), Type: pingType | 0x80})
	connA.Recv(late)
	assert.Equal(t, op.ResultTimeout, o.Result)
}

// S3: a response frame larger than the pre-allocated response buffer
// completes with ResultOverflow instead of corrupting memory, and
// Complete still fires exactly once.
func TestResponseOverflow(t *testing.T) {
	h := newHarness(t, nil)
	defer h.Close()

	var handled sync.WaitGroup
	handled.Add(1)
	conn := op.NewConnection(h.coreB, h.devB, protocolFunc(func(opType uint8, o *op.Operation) {
		defer handled.Done()
		req := o.Request().Payload()
		// Attach a response far larger than the caller's 4-byte buffer.
		if err := o.AttachResponse(64); err != nil {
			return
		}
		copy(o.Response().Payload(), append(req, make([]byte, 60)...))
		_ = o.SendResponse(context.Background())
	}), 1, op.DefaultConfig())
	memdevice.Pair(h.devA, h.devB, h.connA.Recv, conn.Recv)
	conn.Enable()

	o, err := h.connA.CreateOutgoing(pingType, 4, 4)
	assert.NoError(t, err)
	defer o.Release()
	copy(o.Request().Payload(), []byte("ping"))

	err = o.Submit(context.Background(), nil)
	handled.Wait()
	assert.Equal(t, op.ResultOverflow, o.Result)
	assert.Error(t, err)
}

// S5: an incoming request on a connection with no Protocol attached
// completes locally with ResultProtocolBad.
func TestIncomingRequestNoHandler(t *testing.T) {
	done := make(chan *op.Operation, 1)
	coreA := op.NewCore()
	coreB := op.NewCore(op.WithTrace(&op.OperationTrace{
		OnComplete: func(o *op.Operation) { done <- o },
	}))
	defer coreA.Close()
	defer coreB.Close()

	devA, devB := memdevice.New(), memdevice.New()
	connA := op.NewConnection(coreA, devA, nil, 1, op.DefaultConfig())
	connB := op.NewConnection(coreB, devB, nil, 1, op.DefaultConfig()) // no Protocol attached
	memdevice.Pair(devA, devB, connA.Recv, connB.Recv)
	connA.Enable()
	connB.Enable()

	o, err := connA.CreateOutgoing(pingType, 4, 4)
	assert.NoError(t, err)
	defer o.Release()
	copy(o.Request().Payload(), []byte("ping"))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = o.Submit(ctx, nil)

	select {
	case incoming := <-done:
		assert.Equal(t, op.ResultProtocolBad, incoming.Result)
	case <-time.After(time.Second):
		t.Fatal("incoming operation never completed")
	}
}

// S6: an interrupted Wait (caller's context canceled before a response
// arrives) returns ResultInterrupted. The operation stays pending, so
// its later completion (response or timeout) still happens once.
func TestSubmitInterrupted(t *testing.T) {
	proto := &echoProtocol{}
	h := newHarness(t, proto)
	defer h.Close()

	h.devA.DropNextSend() // the response never comes back on its own

	o, err := h.connA.CreateOutgoing(pingType, 4, 4)
	assert.NoError(t, err)
	defer o.Release()
	copy(o.Request().Payload(), []byte("ping"))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err = o.Submit(ctx, nil)
	assert.Equal(t, op.ResultInterrupted, err)
}

// Dropping an unknown-id response must have no effect on any live
// operation and must not panic.
func TestDropUnknownResponse(t *testing.T) {
	h := newHarness(t, &echoProtocol{})
	defer h.Close()
	assert.NotPanics(t, func() {
		frame := make([]byte, op.HeaderSize)
		op.EncodeHeader(frame, op.Header{Size: op.HeaderSize, OperationID: 9999, Type: 0x80})
		h.connA.Recv(frame)
	})
}

// Cancel is idempotent and safe to call from multiple goroutines.
func TestCancelIdempotent(t *testing.T) {
	h := newHarness(t, &echoProtocol{})
	defer h.Close()
	o, err := h.connA.CreateOutgoing(pingType, 4, 4)
	assert.NoError(t, err)
	defer o.Release()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.Cancel()
		}()
	}
	wg.Wait()
}

// Header round-trips through Encode/Decode unchanged.
func TestHeaderRoundTrip(t *testing.T) {
	buf := make([]byte, op.HeaderSize)
	h := op.Header{Size: 42, OperationID: 7, Type: 0x05, Result: 0x01}
	op.EncodeHeader(buf, h)
	got := op.DecodeHeader(buf)
	assert.Equal(t, h, got)
}

// BufferFree is called exactly once per MessageBuffer across the
// lifetime of a completed, released operation (request + response).
func TestBufferFreedExactlyOnce(t *testing.T) {
	proto := &echoProtocol{}
	h := newHarness(t, proto)
	defer h.Close()

	o, err := h.connA.CreateOutgoing(pingType, 4, 4)
	assert.NoError(t, err)
	copy(o.Request().Payload(), []byte("ping"))
	err = o.Submit(context.Background(), nil)
	assert.NoError(t, err)

	before := h.devA.FreedCount()
	o.Release()
	after := h.devA.FreedCount()
	assert.Equal(t, before+2, after) // request + response, exactly once each

	o.Release() // further releases must not double-free
	assert.Equal(t, after, h.devA.FreedCount())
}

type protocolFunc func(opType uint8, o *op.Operation)

func (f protocolFunc) RequestRecv(opType uint8, o *op.Operation) { f(opType, o) }
