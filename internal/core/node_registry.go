package core

import (
	"sort"
	"sync"

	"github.com/nodelink/gateway/internal/gatewayerr"
)

// NodeRegistry is C2: the live node table. A node is an instance of a
// plugin; its Name is the addressing key used by both the bus and the
// persistence layer.
type NodeRegistry struct {
	mu    sync.RWMutex
	nodes map[string]*Node
	order []string
}

// NewNodeRegistry builds an empty node registry.
func NewNodeRegistry() *NodeRegistry {
	return &NodeRegistry{nodes: make(map[string]*Node)}
}

// Add inserts a new node in StateInit, disconnected, non-static.
func (r *NodeRegistry) Add(name, pluginModule string) error {
	return r.addNode(name, pluginModule, false)
}

// AddStatic inserts a new node flagged Static (not user-deletable, spec
// CodeNodeNotAllowDelete).
func (r *NodeRegistry) AddStatic(name, pluginModule string) error {
	return r.addNode(name, pluginModule, true)
}

func (r *NodeRegistry) addNode(name, pluginModule string, static bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if name == "" {
		return gatewayerr.Validation(gatewayerr.CodeParamIsWrong, "node name required")
	}
	if _, exists := r.nodes[name]; exists {
		return gatewayerr.New(gatewayerr.CodeNodeExist, "node already exists").With("node", name)
	}

	r.nodes[name] = &Node{
		Name:         name,
		PluginModule: pluginModule,
		State:        StateInit,
		Link:         LinkDisconnected,
		Static:       static,
	}
	r.order = append(r.order, name)
	return nil
}

// AddSingle behaves like Add but additionally marks the node Single, so the
// manager refuses a second instance of the owning plugin.
func (r *NodeRegistry) AddSingle(name, pluginModule string) error {
	if err := r.addNode(name, pluginModule, false); err != nil {
		return err
	}
	r.mu.Lock()
	r.nodes[name].Single = true
	r.mu.Unlock()
	return nil
}

// UpdateName renames a node, preserving its state and address.
func (r *NodeRegistry) UpdateName(oldName, newName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.nodes[oldName]
	if !ok {
		return gatewayerr.NotFound(gatewayerr.CodeNodeNotExist, "node", oldName)
	}
	if _, taken := r.nodes[newName]; taken {
		return gatewayerr.New(gatewayerr.CodeNodeExist, "node already exists").With("node", newName)
	}

	delete(r.nodes, oldName)
	n.Name = newName
	r.nodes[newName] = n
	for i, name := range r.order {
		if name == oldName {
			r.order[i] = newName
			break
		}
	}
	return nil
}

// UpdateAddress sets a node's bus runtime address, called on NODE_INIT once
// the node's goroutine has registered with the bus.
func (r *NodeRegistry) UpdateAddress(name, address string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.nodes[name]
	if !ok {
		return gatewayerr.NotFound(gatewayerr.CodeNodeNotExist, "node", name)
	}
	n.RuntimeAddress = address
	return nil
}

// SetState transitions a node's lifecycle state.
func (r *NodeRegistry) SetState(name string, state NodeState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.nodes[name]
	if !ok {
		return gatewayerr.NotFound(gatewayerr.CodeNodeNotExist, "node", name)
	}
	n.State = state
	if state == StateInit {
		n.RuntimeAddress = ""
	}
	return nil
}

// SetLink records a node's connection state.
func (r *NodeRegistry) SetLink(name string, link LinkState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.nodes[name]
	if !ok {
		return gatewayerr.NotFound(gatewayerr.CodeNodeNotExist, "node", name)
	}
	n.Link = link
	return nil
}

// Del removes a node. Static nodes cannot be deleted.
func (r *NodeRegistry) Del(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.nodes[name]
	if !ok {
		return gatewayerr.NotFound(gatewayerr.CodeNodeNotExist, "node", name)
	}
	if n.Static {
		return gatewayerr.New(gatewayerr.CodeNodeNotAllowDelete, "static node cannot be deleted").With("node", name)
	}

	delete(r.nodes, name)
	out := r.order[:0:0]
	for _, existing := range r.order {
		if existing != name {
			out = append(out, existing)
		}
	}
	r.order = out
	return nil
}

// Find returns a copy of a node's current record.
func (r *NodeRegistry) Find(name string) (Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[name]
	if !ok {
		return Node{}, false
	}
	return *n, true
}

// List returns every node, in registration order.
func (r *NodeRegistry) List() []Node {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Node, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, *r.nodes[name])
	}
	return out
}

// EnumStates returns the name/state pairs for RESP_GET_NODES_STATE as a map
// keyed by node name; it carries no ordering (use Names for a sorted list).
func (r *NodeRegistry) EnumStates() map[string]NodeState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]NodeState, len(r.nodes))
	for name, n := range r.nodes {
		out[name] = n.State
	}
	return out
}

// Names returns every registered node name, sorted.
func (r *NodeRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := append([]string{}, r.order...)
	sort.Strings(out)
	return out
}
