// Command opdemo wires up two op.Core/op.Connection pairs over an
// in-memory loopback HostDevice and exchanges one operation end to
// end, the way cmd/inos-node exercises a packet round trip between a
// sender and a receiver identity.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/nmxmxh/fabricbus/op"
	"github.com/nmxmxh/fabricbus/op/memdevice"
	"github.com/nmxmxh/fabricbus/protocoldemo"
)

const pingType uint8 = 0x01

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	registry := protocoldemo.New(logger)
	registry.Register(pingType, func(ctx context.Context, id uint16, req []byte) ([]byte, error) {
		logger.Info("handling ping", "operation_id", id, "payload", string(req))
		reply := append([]byte("pong:"), req...)
		return reply, nil
	})

	coreA := op.NewCore(op.WithLogger(logger.With("role", "client")))
	coreB := op.NewCore(op.WithLogger(logger.With("role", "server")))
	defer coreA.Close()
	defer coreB.Close()

	devA, devB := memdevice.New(), memdevice.New()
	connA := op.NewConnection(coreA, devA, nil, 1, op.DefaultConfig())
	connB := op.NewConnection(coreB, devB, registry, 1, op.DefaultConfig())
	memdevice.Pair(devA, devB, connA.Recv, connB.Recv)
	connA.Enable()
	connB.Enable()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := coreA.Call(ctx, connA, pingType, 5, 16, func(p []byte) {
		copy(p, []byte("hello"))
	})
	if err != nil {
		logger.Error("call failed", "error", err)
		os.Exit(1)
	}
	logger.Info("call succeeded", "response", string(resp))
}
