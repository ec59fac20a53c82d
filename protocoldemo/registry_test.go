package protocoldemo_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/nmxmxh/fabricbus/op"
	"github.com/nmxmxh/fabricbus/op/memdevice"
	"github.com/nmxmxh/fabricbus/protocoldemo"
)

const echoType uint8 = 0x10

func TestRegistryDispatchesByOpcode(t *testing.T) {
	reg := protocoldemo.New(nil)
	reg.Register(echoType, func(ctx context.Context, id uint16, req []byte) ([]byte, error) {
		out := make([]byte, len(req))
		copy(out, req)
		return out, nil
	})

	coreA := op.NewCore()
	coreB := op.NewCore()
	defer coreA.Close()
	defer coreB.Close()

	devA, devB := memdevice.New(), memdevice.New()
	connA := op.NewConnection(coreA, devA, nil, 1, op.DefaultConfig())
	connB := op.NewConnection(coreB, devB, reg, 1, op.DefaultConfig())
	memdevice.Pair(devA, devB, connA.Recv, connB.Recv)
	connA.Enable()
	connB.Enable()

	resp, err := coreA.Call(context.Background(), connA, echoType, 5, 5, func(p []byte) {
		copy(p, []byte("hello"))
	})
	assert.NoError(t, err)
	assert.Equal(t, []byte("hello"), resp)
}

func TestRegistryUnknownOpcode(t *testing.T) {
	reg := protocoldemo.New(nil)

	coreA := op.NewCore()
	coreB := op.NewCore()
	defer coreA.Close()
	defer coreB.Close()

	devA, devB := memdevice.New(), memdevice.New()
	connA := op.NewConnection(coreA, devA, nil, 1, op.DefaultConfig())
	connB := op.NewConnection(coreB, devB, reg, 1, op.DefaultConfig())
	memdevice.Pair(devA, devB, connA.Recv, connB.Recv)
	connA.Enable()
	connB.Enable()

	cfg := op.DefaultConfig()
	cfg.OperationTimeoutMillis = 50
	connA2 := op.NewConnection(coreA, devA, nil, 1, cfg)
	connA2.Enable()
	memdevice.Pair(devA, devB, connA2.Recv, connB.Recv)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := coreA.Call(ctx, connA2, 0xEE, 1, 1, func(p []byte) { p[0] = 1 })
	assert.Error(t, err)
}
