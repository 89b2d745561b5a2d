// Package persistence implements the gateway's durability contract (spec
// §6): a KV-shaped store mirroring plugin, node, group, tag, subscription,
// setting and user state. Store methods are atomic per call except the
// multi-row PostgresStore writes noted on PostgresStore; the contract does
// not require cross-call transactional durability.
package persistence

import (
	"context"

	"github.com/nodelink/gateway/internal/core"
)

// PluginRecord is the persisted form of a custom plugin's catalogue entry.
// System plugins are not persisted; they are re-registered from disk/binary
// on every boot.
type PluginRecord struct {
	Descriptor core.PluginDescriptor
}

// Store is the persistence contract every admin operation in the manager
// mirrors into. Implementations: Postgres (production, via sqlx) and an
// in-memory Store (tests, and a store-less "ephemeral" boot mode).
type Store interface {
	PutNode(ctx context.Context, n core.Node) error
	DeleteNode(ctx context.Context, name string) error
	UpdateNode(ctx context.Context, n core.Node) error
	ListNodes(ctx context.Context) ([]core.Node, error)

	PutSetting(ctx context.Context, node, key, value string) error
	GetSetting(ctx context.Context, node, key string) (string, bool, error)
	DeleteSetting(ctx context.Context, node, key string) error

	PutGroup(ctx context.Context, driver string, g core.Group) error
	UpdateGroup(ctx context.Context, driver string, g core.Group) error
	ListGroups(ctx context.Context, driver string) ([]core.Group, error)
	DeleteGroup(ctx context.Context, driver, group string) error

	PutTag(ctx context.Context, driver, group string, t core.Tag) error
	PutTagsBatch(ctx context.Context, driver, group string, tags []core.Tag) error
	ListTags(ctx context.Context, driver, group string) ([]core.Tag, error)
	UpdateTag(ctx context.Context, driver, group string, t core.Tag) error
	DeleteTag(ctx context.Context, driver, group, tag string) error

	PutSubscription(ctx context.Context, s core.Subscription) error
	UpdateSubscription(ctx context.Context, s core.Subscription) error
	ListSubscriptions(ctx context.Context) ([]core.Subscription, error)
	DeleteSubscription(ctx context.Context, driver, group, app string) error

	PutPluginList(ctx context.Context, plugins []PluginRecord) error
	ListPlugins(ctx context.Context) ([]PluginRecord, error)

	PutUser(ctx context.Context, u User) error
	GetUser(ctx context.Context, name string) (User, bool, error)
	ListUsers(ctx context.Context) ([]User, error)
	DeleteUser(ctx context.Context, name string) error

	Close() error
}

// User is an operator account record (diagnostics/admin auth, spec §3).
type User struct {
	Name        string
	PasswordHash string
	Role        string
}
