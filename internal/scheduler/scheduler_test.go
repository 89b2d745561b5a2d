package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/nodelink/gateway/internal/core"
	"github.com/nodelink/gateway/internal/modbus"
	"github.com/nodelink/gateway/internal/tracing"
)

func TestSchedulerPublishesTransDataOnTick(t *testing.T) {
	bus := core.NewBus(4, time.Second)
	bus.Register("driver-a")
	bus.Register(core.ManagerAddress)

	group := core.Group{
		Name:       "g1",
		IntervalMs: 10,
		Tags: []core.Tag{
			{Name: "bad-tag", Address: "not-an-address", DataType: "uint16"},
		},
	}
	source := func(name string) (core.Group, bool) {
		if name == "g1" {
			return group, true
		}
		return core.Group{}, false
	}

	conn := modbus.NewConnection(modbus.Endpoint{Address: "127.0.0.1", Port: 1}, time.Millisecond)
	exec := modbus.NewExecutor(conn, modbus.RetryPolicy{MaxRetries: 0}, modbus.NewDegradeTracker(10, time.Hour), 10*time.Millisecond, nil)

	sched := New("driver-a", bus, exec, source, 240, nil, 0, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	sched.StartGroup(ctx, group)
	defer sched.StopAll()

	recvCtx, recvCancel := context.WithTimeout(context.Background(), time.Second)
	defer recvCancel()
	env, _, err := bus.RecvFrom(recvCtx, core.ManagerAddress)
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if env.Type != core.MsgTransData {
		t.Fatalf("expected TRANS_DATA, got %s", env.Type)
	}
	td, ok := env.Body.(core.TransData)
	if !ok {
		t.Fatalf("expected TransData body, got %T", env.Body)
	}
	if len(td.Samples) != 1 || td.Samples[0].Error == nil {
		t.Fatalf("expected 1 errored sample for malformed address, got %+v", td.Samples)
	}
}

func TestSchedulerOmitsDegradedSlaveTagsWithoutError(t *testing.T) {
	bus := core.NewBus(4, time.Second)
	bus.Register("driver-c")
	bus.Register(core.ManagerAddress)

	group := core.Group{
		Name:       "g3",
		IntervalMs: 10,
		Tags: []core.Tag{
			{Name: "t1", Address: "1:holding:0", DataType: "uint16"},
		},
	}
	source := func(name string) (core.Group, bool) {
		if name == "g3" {
			return group, true
		}
		return core.Group{}, false
	}

	conn := modbus.NewConnection(modbus.Endpoint{Address: "127.0.0.1", Port: 1}, time.Millisecond)
	degrade := modbus.NewDegradeTracker(1, time.Hour)
	degrade.RecordFailure(1) // slave 1 is now degraded and will be skipped
	exec := modbus.NewExecutor(conn, modbus.RetryPolicy{MaxRetries: 0}, degrade, 10*time.Millisecond, nil)

	sched := New("driver-c", bus, exec, source, 240, nil, 0, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	sched.StartGroup(ctx, group)
	defer sched.StopAll()

	recvCtx, recvCancel := context.WithTimeout(context.Background(), time.Second)
	defer recvCancel()
	env, _, err := bus.RecvFrom(recvCtx, core.ManagerAddress)
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	td, ok := env.Body.(core.TransData)
	if !ok {
		t.Fatalf("expected TransData body, got %T", env.Body)
	}
	if len(td.Samples) != 0 {
		t.Fatalf("expected a degraded slave's tags to be dropped, not errored, got %+v", td.Samples)
	}
}

func TestSchedulerSamplesReadCyclesForTracing(t *testing.T) {
	bus := core.NewBus(4, time.Second)
	bus.Register("driver-d")
	bus.Register(core.ManagerAddress)

	group := core.Group{Name: "g4", IntervalMs: 10}
	source := func(name string) (core.Group, bool) {
		if name == "g4" {
			return group, true
		}
		return core.Group{}, false
	}

	conn := modbus.NewConnection(modbus.Endpoint{Address: "127.0.0.1", Port: 1}, time.Millisecond)
	exec := modbus.NewExecutor(conn, modbus.RetryPolicy{MaxRetries: 0}, modbus.NewDegradeTracker(10, time.Hour), 10*time.Millisecond, nil)
	side := tracing.NewSidecar(true, "test")

	sched := New("driver-d", bus, exec, source, 240, side, 1, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	sched.StartGroup(ctx, group)
	defer sched.StopAll()

	recvCtx, recvCancel := context.WithTimeout(context.Background(), time.Second)
	defer recvCancel()
	if _, _, err := bus.RecvFrom(recvCtx, core.ManagerAddress); err != nil {
		t.Fatalf("recv: %v", err)
	}
	// a sampled, empty-plan cycle opens and immediately closes its own root
	// span; by the time TRANS_DATA is published the trace context is gone.
}

func TestSchedulerStopGroupCancelsTicks(t *testing.T) {
	bus := core.NewBus(4, time.Second)
	bus.Register("driver-b")
	bus.Register(core.ManagerAddress)

	group := core.Group{Name: "g2", IntervalMs: 5}
	source := func(name string) (core.Group, bool) { return group, true }
	conn := modbus.NewConnection(modbus.Endpoint{Address: "127.0.0.1", Port: 1}, time.Millisecond)
	exec := modbus.NewExecutor(conn, modbus.RetryPolicy{}, modbus.NewDegradeTracker(10, time.Hour), 10*time.Millisecond, nil)

	sched := New("driver-b", bus, exec, source, 240, nil, 0, nil)
	ctx := context.Background()
	sched.StartGroup(ctx, group)
	sched.StopGroup("g2")

	// draining any already-queued envelope, then confirm nothing more arrives.
	drainCtx, drainCancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer drainCancel()
	for {
		if _, _, err := bus.RecvFrom(drainCtx, core.ManagerAddress); err != nil {
			break
		}
	}
}
