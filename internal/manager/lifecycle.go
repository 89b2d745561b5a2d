package manager

import (
	"context"
	"time"

	"github.com/nodelink/gateway/internal/core"
	"github.com/nodelink/gateway/internal/gatewayerr"
)

// NodeFactory instantiates the goroutine backing a node once the manager
// has admitted it. It is supplied by cmd/gateway, which is the only place
// that knows how to turn a PluginDescriptor into a running driver or app
// (the Modbus driver core and eKuiper app core each register one).
type NodeFactory func(ctx context.Context, node core.Node, desc core.PluginDescriptor) error

// initNode runs NODE_INIT: registers a bus address named after the node,
// records it as the node's runtime address, starts the node's goroutine via
// its factory, and marks the node ready and connected as soon as the
// factory returns. It does not wait for the node to announce itself.
func (m *Manager) initNode(ctx context.Context, name string) error {
	node, ok := m.nodes.Find(name)
	if !ok {
		return gatewayerr.NotFound(gatewayerr.CodeNodeNotExist, "node", name)
	}
	desc, ok := m.plugins.Find(node.PluginModule)
	if !ok {
		return gatewayerr.NotFound(gatewayerr.CodeLibraryNotFound, "plugin", node.PluginModule)
	}
	factory, ok := m.factories[node.PluginModule]
	if !ok {
		return gatewayerr.New(gatewayerr.CodeLibraryNotAllowCreateInstance, "no factory registered for plugin").
			With("module", node.PluginModule)
	}

	m.bus.Register(name)
	if err := m.nodes.UpdateAddress(name, name); err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := factory(ctx, node, desc); err != nil {
		m.bus.Unregister(name)
		_ = m.nodes.SetState(name, core.StateInit)
		return gatewayerr.Wrap(gatewayerr.CodePluginDisconnected, "node failed to start", err)
	}

	if err := m.nodes.SetState(name, core.StateReady); err != nil {
		return err
	}
	if err := m.nodes.SetLink(name, core.LinkConnected); err != nil {
		return err
	}
	m.health.Record(name, core.StateReady, core.LinkConnected, "")
	_ = startCtx
	return nil
}

// uninitNode runs NODE_UNINIT: tells the node runtime to stop (best
// effort), then tears down its bus registration and resets its state.
func (m *Manager) uninitNode(ctx context.Context, name string) error {
	node, ok := m.nodes.Find(name)
	if !ok {
		return gatewayerr.NotFound(gatewayerr.CodeNodeNotExist, "node", name)
	}

	if node.RuntimeAddress != "" {
		sendCtx, cancel := context.WithTimeout(ctx, m.cfg.SendTimeout)
		_ = m.bus.SendTo(sendCtx, core.Envelope{
			Type:     core.MsgNodeUninit,
			Sender:   core.ManagerAddress,
			Receiver: node.RuntimeAddress,
		})
		cancel()
	}

	m.bus.Unregister(name)
	if err := m.nodes.SetState(name, core.StateInit); err != nil {
		return err
	}
	if err := m.nodes.SetLink(name, core.LinkDisconnected); err != nil {
		return err
	}
	m.health.Record(name, core.StateInit, core.LinkDisconnected, "")
	return nil
}
