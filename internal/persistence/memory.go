package persistence

import (
	"context"
	"sync"

	"github.com/nodelink/gateway/internal/core"
	"github.com/nodelink/gateway/internal/gatewayerr"
)

// MemoryStore is an in-process Store, used by tests and by gateways booted
// with persistence disabled. It holds no durability guarantee across
// process restarts, matching the "durability across crashes not required"
// clause of spec §6.
type MemoryStore struct {
	mu      sync.Mutex
	nodes   map[string]core.Node
	settings map[string]map[string]string
	groups  map[string]map[string]core.Group // driver -> group name -> Group
	subs    map[string]core.Subscription     // "driver|group|app" -> Subscription
	plugins []PluginRecord
	users   map[string]User
}

// NewMemoryStore builds an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes:    make(map[string]core.Node),
		settings: make(map[string]map[string]string),
		groups:   make(map[string]map[string]core.Group),
		subs:     make(map[string]core.Subscription),
		users:    make(map[string]User),
	}
}

func subMapKey(driver, group, app string) string { return driver + "|" + group + "|" + app }

func (s *MemoryStore) PutNode(_ context.Context, n core.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[n.Name] = n
	return nil
}

func (s *MemoryStore) DeleteNode(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.nodes, name)
	delete(s.groups, name)
	delete(s.settings, name)
	return nil
}

func (s *MemoryStore) UpdateNode(ctx context.Context, n core.Node) error {
	return s.PutNode(ctx, n)
}

func (s *MemoryStore) ListNodes(_ context.Context) ([]core.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		out = append(out, n)
	}
	return out, nil
}

func (s *MemoryStore) PutSetting(_ context.Context, node, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settings[node] == nil {
		s.settings[node] = make(map[string]string)
	}
	s.settings[node][key] = value
	return nil
}

func (s *MemoryStore) GetSetting(_ context.Context, node, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.settings[node][key]
	return v, ok, nil
}

func (s *MemoryStore) DeleteSetting(_ context.Context, node, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.settings[node], key)
	return nil
}

func (s *MemoryStore) PutGroup(_ context.Context, driver string, g core.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.groups[driver] == nil {
		s.groups[driver] = make(map[string]core.Group)
	}
	s.groups[driver][g.Name] = g
	return nil
}

func (s *MemoryStore) UpdateGroup(ctx context.Context, driver string, g core.Group) error {
	return s.PutGroup(ctx, driver, g)
}

func (s *MemoryStore) ListGroups(_ context.Context, driver string) ([]core.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Group, 0, len(s.groups[driver]))
	for _, g := range s.groups[driver] {
		out = append(out, g)
	}
	return out, nil
}

func (s *MemoryStore) DeleteGroup(_ context.Context, driver, group string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.groups[driver], group)
	return nil
}

func (s *MemoryStore) PutTag(_ context.Context, driver, group string, t core.Tag) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putTagLocked(driver, group, t)
}

func (s *MemoryStore) putTagLocked(driver, group string, t core.Tag) error {
	if s.groups[driver] == nil {
		s.groups[driver] = make(map[string]core.Group)
	}
	g, ok := s.groups[driver][group]
	if !ok {
		return gatewayerr.NotFound(gatewayerr.CodeGroupNotExist, "group", group)
	}
	for i := range g.Tags {
		if g.Tags[i].Name == t.Name {
			g.Tags[i] = t
			s.groups[driver][group] = g
			return nil
		}
	}
	g.Tags = append(g.Tags, t)
	s.groups[driver][group] = g
	return nil
}

func (s *MemoryStore) PutTagsBatch(_ context.Context, driver, group string, tags []core.Tag) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tags {
		if err := s.putTagLocked(driver, group, t); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryStore) ListTags(_ context.Context, driver, group string) ([]core.Tag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[driver][group]
	if !ok {
		return nil, gatewayerr.NotFound(gatewayerr.CodeGroupNotExist, "group", group)
	}
	return append([]core.Tag{}, g.Tags...), nil
}

func (s *MemoryStore) UpdateTag(ctx context.Context, driver, group string, t core.Tag) error {
	return s.PutTag(ctx, driver, group, t)
}

func (s *MemoryStore) DeleteTag(_ context.Context, driver, group, tag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[driver][group]
	if !ok {
		return nil
	}
	out := g.Tags[:0:0]
	for _, t := range g.Tags {
		if t.Name != tag {
			out = append(out, t)
		}
	}
	g.Tags = out
	s.groups[driver][group] = g
	return nil
}

func (s *MemoryStore) PutSubscription(_ context.Context, sub core.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[subMapKey(sub.Driver, sub.Group, sub.App)] = sub
	return nil
}

func (s *MemoryStore) UpdateSubscription(ctx context.Context, sub core.Subscription) error {
	return s.PutSubscription(ctx, sub)
}

func (s *MemoryStore) ListSubscriptions(_ context.Context) ([]core.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		out = append(out, sub)
	}
	return out, nil
}

func (s *MemoryStore) DeleteSubscription(_ context.Context, driver, group, app string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, subMapKey(driver, group, app))
	return nil
}

func (s *MemoryStore) PutPluginList(_ context.Context, plugins []PluginRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plugins = append([]PluginRecord{}, plugins...)
	return nil
}

func (s *MemoryStore) ListPlugins(_ context.Context) ([]PluginRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]PluginRecord{}, s.plugins...), nil
}

func (s *MemoryStore) PutUser(_ context.Context, u User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.Name] = u
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, name string) (User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[name]
	return u, ok, nil
}

func (s *MemoryStore) ListUsers(_ context.Context) ([]User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	return out, nil
}

func (s *MemoryStore) DeleteUser(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, name)
	return nil
}

func (s *MemoryStore) Close() error { return nil }
