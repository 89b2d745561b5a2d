package core

import (
	"sync"

	"github.com/nodelink/gateway/internal/gatewayerr"
)

type subKey struct {
	driver string
	group  string
	app    string
}

// SubscriptionRegistry is C3: tracks which apps subscribe to which
// (driver, group) pairs, keyed per spec §4.3 by (driver, group, app).
type SubscriptionRegistry struct {
	mu   sync.RWMutex
	subs map[subKey]*Subscription
}

// NewSubscriptionRegistry builds an empty subscription registry.
func NewSubscriptionRegistry() *SubscriptionRegistry {
	return &SubscriptionRegistry{subs: make(map[subKey]*Subscription)}
}

// Sub creates or idempotently re-records a subscription: subscribing twice
// with the same params is a no-op success (spec §8 round-trip law).
func (r *SubscriptionRegistry) Sub(s Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := subKey{s.Driver, s.Group, s.App}
	if existing, ok := r.subs[k]; ok {
		if existing.Params == s.Params && existing.StaticTags == s.StaticTags {
			return nil
		}
		return gatewayerr.New(gatewayerr.CodeGroupAlreadySubscribed, "group already subscribed with different params").
			With("driver", s.Driver).With("group", s.Group).With("app", s.App)
	}

	cp := s
	r.subs[k] = &cp
	return nil
}

// UpdateParams rewrites an existing subscription's params in place.
// Applying the same params twice is a no-op (idempotent update_params law).
func (r *SubscriptionRegistry) UpdateParams(driver, group, app, params string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := subKey{driver, group, app}
	s, ok := r.subs[k]
	if !ok {
		return gatewayerr.New(gatewayerr.CodeGroupNotSubscribe, "not subscribed").
			With("driver", driver).With("group", group).With("app", app)
	}
	s.Params = params
	return nil
}

// Unsub removes a subscription, failing GROUP_NOT_SUBSCRIBE if app never
// subscribed to (driver, group). Repeating an existing sub;unsub sequence
// still round-trips cleanly (spec §8); only unsubscribing from nothing at
// all is an error.
func (r *SubscriptionRegistry) Unsub(driver, group, app string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := subKey{driver, group, app}
	if _, ok := r.subs[k]; !ok {
		return gatewayerr.New(gatewayerr.CodeGroupNotSubscribe, "not subscribed").
			With("driver", driver).With("group", group).With("app", app)
	}
	delete(r.subs, k)
	return nil
}

// Find returns one subscription by its full key.
func (r *SubscriptionRegistry) Find(driver, group, app string) (Subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.subs[subKey{driver, group, app}]
	if !ok {
		return Subscription{}, false
	}
	return *s, true
}

// FindByDriver returns every subscription against any group on driver,
// used by the manager's node-delete cascade and GET_SUBSCRIBE_GROUP.
func (r *SubscriptionRegistry) FindByDriver(driver string) []Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Subscription
	for k, s := range r.subs {
		if k.driver == driver {
			out = append(out, *s)
		}
	}
	return out
}

// FindByDriverGroup returns every app subscribed to (driver, group).
func (r *SubscriptionRegistry) FindByDriverGroup(driver, group string) []Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Subscription
	for k, s := range r.subs {
		if k.driver == driver && k.group == group {
			out = append(out, *s)
		}
	}
	return out
}

// RenameDriver cascades a driver node rename across every subscription key
// that references it, preserving each subscription's params.
func (r *SubscriptionRegistry) RenameDriver(oldName, newName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.renameField(func(k subKey) subKey {
		if k.driver == oldName {
			k.driver = newName
		}
		return k
	}, func(s *Subscription) { s.Driver = newName })
}

// RenameApp cascades an app node rename across every subscription key that
// references it.
func (r *SubscriptionRegistry) RenameApp(oldName, newName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.renameField(func(k subKey) subKey {
		if k.app == oldName {
			k.app = newName
		}
		return k
	}, func(s *Subscription) { s.App = newName })
}

func (r *SubscriptionRegistry) renameField(rekey func(subKey) subKey, mutate func(*Subscription)) {
	next := make(map[subKey]*Subscription, len(r.subs))
	for k, s := range r.subs {
		newKey := rekey(k)
		if newKey != k {
			mutate(s)
		}
		next[newKey] = s
	}
	r.subs = next
}

// RemoveDriver deletes every subscription against driver, used when a
// driver node is deleted (spec §8 node-delete cascade).
func (r *SubscriptionRegistry) RemoveDriver(driver string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k := range r.subs {
		if k.driver == driver {
			delete(r.subs, k)
		}
	}
}

// UnsubAll removes every subscription belonging to app, used when an app
// node is deleted.
func (r *SubscriptionRegistry) UnsubAll(app string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k := range r.subs {
		if k.app == app {
			delete(r.subs, k)
		}
	}
}

// List returns every live subscription.
func (r *SubscriptionRegistry) List() []Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Subscription, 0, len(r.subs))
	for _, s := range r.subs {
		out = append(out, *s)
	}
	return out
}
