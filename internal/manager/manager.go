// Package manager's core type: Manager, the C5 single-threaded loop.
package manager

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/nodelink/gateway/internal/core"
	"github.com/nodelink/gateway/internal/gatewayerr"
	"github.com/nodelink/gateway/internal/gatewaymetrics"
	"github.com/nodelink/gateway/internal/persistence"
)

// maxConcurrentShutdowns bounds how many node NODE_UNINIT round-trips
// Shutdown runs at once, so tearing down a gateway with hundreds of
// driver/app nodes doesn't open hundreds of goroutines at once.
const maxConcurrentShutdowns = 8

// Config bounds the manager's bus behavior; cmd/gateway derives it from
// gatewayconfig.BusConfig.
type Config struct {
	SendTimeout time.Duration
}

// Manager is the C5 manager loop: it owns the three registries and the bus
// inbox address "manager", and is the only goroutine that mutates registry
// state. Node runtimes (C6) talk to it exclusively through envelopes.
type Manager struct {
	bus     *core.Bus
	plugins *core.PluginRegistry
	nodes   *core.NodeRegistry
	subs    *core.SubscriptionRegistry
	health  *core.HealthMonitor
	store   persistence.Store
	log     *logrus.Entry
	cfg     Config

	runtimeVersion core.Version
	factories      map[string]NodeFactory

	// pending correlates a driver-bound forward awaiting a terminal RESP_*
	// reply with the app/admin sender it must eventually reach (spec §7:
	// "every request is eventually answered"). Only touched from the Run
	// goroutine, so it needs no lock of its own.
	pending    map[string]pendingForward
	pendingSeq uint64
}

// New builds a Manager wired to bus and ready to accept RegisterFactory
// calls before Run starts processing envelopes.
func New(bus *core.Bus, cfg Config, opts ...Option) *Manager {
	m := &Manager{
		bus:            bus,
		plugins:        core.NewPluginRegistry(core.Version{Major: 1, Minor: 0, Patch: 0}),
		nodes:          core.NewNodeRegistry(),
		subs:           core.NewSubscriptionRegistry(),
		health:         core.NewHealthMonitor(),
		log:            logrus.NewEntry(logrus.StandardLogger()),
		cfg:            cfg,
		runtimeVersion: core.Version{Major: 1, Minor: 0, Patch: 0},
		factories:      make(map[string]NodeFactory),
		pending:        make(map[string]pendingForward),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.runtimeVersion != (core.Version{Major: 1, Minor: 0, Patch: 0}) {
		m.plugins = core.NewPluginRegistry(m.runtimeVersion)
	}
	m.bus.Register(core.ManagerAddress)
	return m
}

// RegisterFactory associates a plugin module name with the function that
// starts its node goroutine, used by cmd/gateway to wire the Modbus and
// eKuiper plugin implementations into ADD_NODE/NODE_INIT.
func (m *Manager) RegisterFactory(moduleName string, f NodeFactory) {
	m.factories[moduleName] = f
}

// Run blocks, reading envelopes addressed to "manager" and dispatching
// them, until ctx is canceled. This is the single-threaded loop spec §4.5
// requires: every registry mutation happens on this goroutine.
func (m *Manager) Run(ctx context.Context) error {
	for {
		env, sender, err := m.bus.RecvFrom(ctx, core.ManagerAddress)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			m.log.WithError(err).Warn("manager recv failed")
			continue
		}
		m.dispatch(ctx, env, sender)
	}
}

// Shutdown tears down every registered node concurrently (bounded by
// maxConcurrentShutdowns), collecting the first error. Intended to run
// after Run's ctx is canceled, using a fresh ctx of its own so in-flight
// NODE_UNINIT round-trips aren't immediately cut off by the same
// cancellation that stopped the loop.
func (m *Manager) Shutdown(ctx context.Context) error {
	names := m.nodes.Names()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentShutdowns)
	for _, name := range names {
		name := name
		g.Go(func() error {
			return m.uninitNode(gctx, name)
		})
	}
	return g.Wait()
}

// Plugins exposes the plugin registry for read-only diagnostics use (the
// HTTP diagnostics surface, not node runtimes).
func (m *Manager) Plugins() *core.PluginRegistry { return m.plugins }

// Nodes exposes the node registry for read-only diagnostics use.
func (m *Manager) Nodes() *core.NodeRegistry { return m.nodes }

// Subscriptions exposes the subscription registry for read-only diagnostics use.
func (m *Manager) Subscriptions() *core.SubscriptionRegistry { return m.subs }

// replyError sends a RESP_ERROR envelope back to sender, correlated by env.Ctx.
func (m *Manager) replyError(ctx context.Context, env core.Envelope, sender string, err error) {
	gatewaymetrics.RecordBusFanout("manager-error", err)
	sendCtx, cancel := context.WithTimeout(ctx, m.cfg.SendTimeout)
	defer cancel()
	_ = m.bus.SendTo(sendCtx, core.Envelope{
		Type:     core.MsgRespError,
		Sender:   core.ManagerAddress,
		Receiver: sender,
		Ctx:      env.Ctx,
		Body:     gatewayerr.CodeOf(err),
	})
}

// replyOK sends a success response envelope of respType back to sender,
// correlated by env.Ctx.
func (m *Manager) replyOK(ctx context.Context, env core.Envelope, sender string, respType core.MsgType, body any) {
	sendCtx, cancel := context.WithTimeout(ctx, m.cfg.SendTimeout)
	defer cancel()
	_ = m.bus.SendTo(sendCtx, core.Envelope{
		Type:     respType,
		Sender:   core.ManagerAddress,
		Receiver: sender,
		Ctx:      env.Ctx,
		Body:     body,
	})
}
