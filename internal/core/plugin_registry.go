package core

import (
	"sort"
	"sync"

	"github.com/nodelink/gateway/internal/gatewayerr"
)

// PluginRegistry is C1: the catalogue of installed driver/app plugins.
// Modeled on the teacher's Registry (system/core/registry.go) but dropping
// its blockchain-engine capability accessors in favor of the single
// PluginDescriptor shape spec §4.1 names.
type PluginRegistry struct {
	mu      sync.RWMutex
	byName  map[string]PluginDescriptor
	order   []string
	single  map[string]string // SingleName -> ModuleName, for single-instance plugins
	runtime Version
}

// NewPluginRegistry builds an empty registry, pinned to the runtime version
// new plugins must be major.minor-compatible with.
func NewPluginRegistry(runtime Version) *PluginRegistry {
	return &PluginRegistry{
		byName: make(map[string]PluginDescriptor),
		single: make(map[string]string),
		runtime: runtime,
	}
}

// Add registers a new plugin descriptor. Fails if the name is taken, the
// schema name conflicts, or the version is not runtime-compatible.
func (r *PluginRegistry) Add(desc PluginDescriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if desc.ModuleName == "" {
		return gatewayerr.Validation(gatewayerr.CodeParamIsWrong, "module name required")
	}
	if _, exists := r.byName[desc.ModuleName]; exists {
		return gatewayerr.New(gatewayerr.CodeLibraryModuleAlreadyExist, "plugin already registered").With("module", desc.ModuleName)
	}
	if !desc.Version.Compatible(r.runtime) {
		return gatewayerr.New(gatewayerr.CodeLibraryModuleVersionNotMatch, "plugin version incompatible with runtime").
			With("module", desc.ModuleName).With("version", desc.Version)
	}
	for name, d := range r.byName {
		if d.SchemaName == desc.SchemaName && name != desc.ModuleName {
			return gatewayerr.New(gatewayerr.CodeLibraryNameConflict, "schema name already in use").With("schema", desc.SchemaName)
		}
	}

	r.byName[desc.ModuleName] = desc
	r.order = append(r.order, desc.ModuleName)
	return nil
}

// Update replaces an existing descriptor's mutable fields (description,
// display). Kind, Type and Version are immutable once added.
func (r *PluginRegistry) Update(moduleName, description string, display bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	desc, ok := r.byName[moduleName]
	if !ok {
		return gatewayerr.NotFound(gatewayerr.CodeLibraryNotFound, "plugin", moduleName)
	}
	desc.Description = description
	desc.Display = display
	r.byName[moduleName] = desc
	return nil
}

// Del removes a plugin from the catalogue. The caller (manager) is
// responsible for verifying no node still references it (CodeLibraryInUse).
func (r *PluginRegistry) Del(moduleName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byName[moduleName]; !ok {
		return gatewayerr.NotFound(gatewayerr.CodeLibraryNotFound, "plugin", moduleName)
	}
	delete(r.byName, moduleName)
	for k, v := range r.single {
		if v == moduleName {
			delete(r.single, k)
		}
	}
	out := r.order[:0:0]
	for _, n := range r.order {
		if n != moduleName {
			out = append(out, n)
		}
	}
	r.order = out
	return nil
}

// Find returns a plugin descriptor by module name.
func (r *PluginRegistry) Find(moduleName string) (PluginDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byName[moduleName]
	return d, ok
}

// Exists reports whether moduleName is registered.
func (r *PluginRegistry) Exists(moduleName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byName[moduleName]
	return ok
}

// IsSingle reports whether moduleName is a single-instance plugin and, if
// so, the name already claimed for its one allowed instance (empty if none
// yet instantiated).
func (r *PluginRegistry) IsSingle(moduleName string) (single bool, instanceName string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byName[moduleName]
	if !ok || !d.Single {
		return false, ""
	}
	for k, v := range r.single {
		if v == moduleName {
			return true, k
		}
	}
	return true, ""
}

// ClaimSingle records instanceName as the live instance of a single-instance
// plugin. Callers must have already checked IsSingle returned an empty
// instanceName.
func (r *PluginRegistry) ClaimSingle(moduleName, instanceName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.single[instanceName] = moduleName
}

// ReleaseSingle frees a single-instance plugin's claimed instance name.
func (r *PluginRegistry) ReleaseSingle(instanceName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.single, instanceName)
}

// ListAll returns every registered plugin descriptor in registration order.
func (r *PluginRegistry) ListAll() []PluginDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]PluginDescriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

// ListByType returns registered plugins of the given type, sorted by name
// for deterministic CHECK_SCHEMA/GET_PLUGIN responses.
func (r *PluginRegistry) ListByType(t PluginType) []PluginDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []PluginDescriptor
	for _, name := range r.order {
		if d := r.byName[name]; d.Type == t {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModuleName < out[j].ModuleName })
	return out
}
