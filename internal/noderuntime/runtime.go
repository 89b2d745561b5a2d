// Package noderuntime is the per-node runtime harness (C6): the goroutine
// loop every driver and app node runs once the manager starts it, reading
// bus envelopes addressed to the node and ticking its own periodic work
// (a driver's group polling, an app's connection bookkeeping).
package noderuntime

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nodelink/gateway/internal/core"
)

// Handler is the driver- or app-specific behavior a Loop drives. HandleEnvelope
// processes one bus message addressed to this node; Tick runs once per
// tick interval for periodic work. Either may be nil.
type Handler struct {
	HandleEnvelope func(ctx context.Context, env core.Envelope, sender string) error
	Tick           func(ctx context.Context) error
}

// Loop receives on one bus address and drives a Handler until its context
// is cancelled or NODE_UNINIT arrives.
type Loop struct {
	bus          *core.Bus
	address      string
	log          *logrus.Entry
	handler      Handler
	tickInterval time.Duration
}

// New builds a Loop bound to address, which must already be registered on
// bus (the manager registers it during NODE_INIT before starting the
// node's factory).
func New(bus *core.Bus, address string, log *logrus.Entry, handler Handler, tickInterval time.Duration) *Loop {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Loop{bus: bus, address: address, log: log, handler: handler, tickInterval: tickInterval}
}

// Run blocks, dispatching received envelopes and ticks, until ctx is
// cancelled or a NODE_UNINIT envelope is received.
func (l *Loop) Run(ctx context.Context) error {
	recv := make(chan receipt)
	recvCtx, cancelRecv := context.WithCancel(ctx)
	defer cancelRecv()
	go l.recvLoop(recvCtx, recv)

	var ticker *time.Ticker
	var tickC <-chan time.Time
	if l.tickInterval > 0 && l.handler.Tick != nil {
		ticker = time.NewTicker(l.tickInterval)
		defer ticker.Stop()
		tickC = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case r := <-recv:
			if r.err != nil {
				return r.err
			}
			if r.env.Type == core.MsgNodeUninit {
				return nil
			}
			if l.handler.HandleEnvelope != nil {
				if err := l.handler.HandleEnvelope(ctx, r.env, r.sender); err != nil {
					l.log.WithError(err).WithField("address", l.address).Warn("handle envelope failed")
				}
			}
		case <-tickC:
			if err := l.handler.Tick(ctx); err != nil {
				l.log.WithError(err).WithField("address", l.address).Warn("tick failed")
			}
		}
	}
}

type receipt struct {
	env    core.Envelope
	sender string
	err    error
}

func (l *Loop) recvLoop(ctx context.Context, out chan<- receipt) {
	for {
		env, sender, err := l.bus.RecvFrom(ctx, l.address)
		select {
		case out <- receipt{env: env, sender: sender, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}
