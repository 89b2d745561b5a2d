// Package manager implements the gateway's manager loop (C5): the single
// goroutine that owns the plugin, node, and subscription registries and
// serializes every administrative and data-plane message that touches them.
//
// The manager is structured the way the teacher's engine.Engine composes
// its subsystems, but the subsystems themselves are gateway-shaped:
//   - core.PluginRegistry / core.NodeRegistry / core.SubscriptionRegistry:
//     the three registries (C1-C3), touched only from this goroutine.
//   - core.Bus: the in-process datagram bus (C4) node runtimes send
//     envelopes over.
//   - persistence.Store: the durable mirror of plugin/node/group/tag/
//     subscription state (§6), written synchronously on every admin op.
//
// Manager.Run reads from its own bus inbox in a loop, dispatches by
// envelope type (the table in dispatch.go), and never blocks the loop body
// on node I/O — writes to node runtimes go through the bus's bounded,
// timeout-bearing SendTo.
package manager
