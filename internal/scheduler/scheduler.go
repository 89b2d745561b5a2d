// Package scheduler is the driver scheduler (C7): one periodic timer per
// group, ticking the Modbus driver core's tag-sort/execute/degrade
// machinery and publishing TRANS_DATA to the manager.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/codes"

	"github.com/nodelink/gateway/internal/core"
	"github.com/nodelink/gateway/internal/gatewaymetrics"
	"github.com/nodelink/gateway/internal/modbus"
	"github.com/nodelink/gateway/internal/tracing"
)

// GroupSource supplies the current tag set for a group; the scheduler
// re-resolves it every tick so edits (ADD_TAG/DEL_TAG/UPDATE_GROUP) take
// effect on the next cycle without a restart.
type GroupSource func(groupName string) (core.Group, bool)

// Scheduler owns one ticker per group for a single driver node.
type Scheduler struct {
	mu         sync.Mutex
	driverName string
	bus        *core.Bus
	exec       *modbus.Executor
	groups     GroupSource
	byteCap    int
	side       *tracing.Sidecar
	sampleRate float64
	log        *logrus.Entry

	cycle       uint64
	cancelFuncs map[string]context.CancelFunc
}

// New builds a Scheduler for one driver node. side may be nil, disabling
// tracing. sampleRate (spec §4.8: "a sampling rate selects a fraction of
// cycles for span emission") is the fraction of read cycles, in [0,1], that
// get a root span; 0 or negative disables read-cycle sampling entirely.
func New(driverName string, bus *core.Bus, exec *modbus.Executor, groups GroupSource, byteCap int, side *tracing.Sidecar, sampleRate float64, log *logrus.Entry) *Scheduler {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if byteCap <= 0 {
		byteCap = 240
	}
	if side == nil {
		side = tracing.NewSidecar(false, "")
	}
	return &Scheduler{
		driverName:  driverName,
		bus:         bus,
		exec:        exec,
		groups:      groups,
		byteCap:     byteCap,
		side:        side,
		sampleRate:  sampleRate,
		log:         log,
		cancelFuncs: make(map[string]context.CancelFunc),
	}
}

// StartGroup launches (or restarts) the periodic tick for one group at
// its configured interval.
func (s *Scheduler) StartGroup(ctx context.Context, group core.Group) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cancel, ok := s.cancelFuncs[group.Name]; ok {
		cancel()
	}

	groupCtx, cancel := context.WithCancel(ctx)
	s.cancelFuncs[group.Name] = cancel

	interval := time.Duration(group.IntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}
	go s.run(groupCtx, group.Name, interval)
}

// StopGroup cancels a group's periodic tick, if running.
func (s *Scheduler) StopGroup(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.cancelFuncs[name]; ok {
		cancel()
		delete(s.cancelFuncs, name)
	}
}

// StopAll cancels every group's tick, used on NODE_UNINIT.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, cancel := range s.cancelFuncs {
		cancel()
		delete(s.cancelFuncs, name)
	}
}

func (s *Scheduler) run(ctx context.Context, groupName string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, groupName)
		}
	}
}

// shouldSample decides, once per tick, whether this read cycle gets a root
// tracing span, at the configured fraction of cycles (spec §4.8).
func (s *Scheduler) shouldSample() bool {
	if !s.side.Enabled() || s.sampleRate <= 0 {
		return false
	}
	if s.sampleRate >= 1 {
		return true
	}
	period := uint64(1 / s.sampleRate)
	if period == 0 {
		period = 1
	}
	return atomic.AddUint64(&s.cycle, 1)%period == 0
}

// tick executes one scheduler cycle for groupName: regenerate the
// execution plan, run every command, publish one TRANS_DATA (spec §4.7).
func (s *Scheduler) tick(ctx context.Context, groupName string) {
	group, ok := s.groups(groupName)
	if !ok {
		return
	}

	points, parseErrs := modbus.PointsForGroup(group)
	plan := modbus.SortTags(points, s.byteCap/2)

	start := time.Now()
	var samples []core.TagSample
	var sendBytes, recvBytes int

	var traceHandle, rootSpan string
	if s.shouldSample() {
		traceHandle = fmt.Sprintf("read-%s-%s-%d", s.driverName, groupName, start.UnixNano())
		rootSpan = s.side.StartRootSpan(traceHandle, "read cycle")
	}

	for name, err := range parseErrs {
		samples = append(samples, core.TagSample{Name: name, Error: err})
	}

	for _, cmd := range plan {
		result := s.exec.Run(ctx, cmd, traceHandle)
		if result.Command == modbus.StateSkipped {
			// Degraded slave: drop this command's tags from the cycle
			// entirely rather than erroring them (spec §4.8) — their
			// last published values remain stale until the slave recovers.
			continue
		}
		if result.Err != nil {
			gatewaymetrics.RecordDriverDisconnect(s.driverName)
			for _, p := range cmd.Points {
				samples = append(samples, core.TagSample{Name: p.Name, Error: result.Err})
			}
			continue
		}
		samples = append(samples, result.Samples...)
	}

	gatewaymetrics.RecordGroupCycle(s.driverName, groupName, time.Since(start), sendBytes, recvBytes, len(plan))

	if traceHandle != "" {
		s.side.SetStatus(traceHandle, rootSpan, codes.Ok, "")
		s.side.SetFinal(traceHandle, rootSpan)
	}

	env := core.Envelope{
		Type:     core.MsgTransData,
		Sender:   s.driverName,
		Receiver: core.ManagerAddress,
		Body: core.TransData{
			DriverNode:  s.driverName,
			Group:       groupName,
			TimestampMs: core.Now(),
			Samples:     samples,
		},
	}
	sendCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.bus.SendTo(sendCtx, env); err != nil {
		s.log.WithError(err).WithField("group", groupName).Warn("failed to publish trans data")
	}
}
