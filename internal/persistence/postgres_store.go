package persistence

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/nodelink/gateway/internal/core"
)

// PostgresStore implements Store over a sqlx.DB connection. Most methods are
// a single statement and so atomic per call. PutGroup, PutTagsBatch and
// PutPluginList run one statement per row without a transaction: they are
// not atomic, and a failure partway leaves the rows already written in place.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore wraps an already-connected sqlx.DB.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) PutNode(ctx context.Context, n core.Node) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO nodes (name, plugin_module, state, link, static, single)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (name) DO UPDATE SET
			plugin_module = EXCLUDED.plugin_module,
			state = EXCLUDED.state,
			link = EXCLUDED.link,
			static = EXCLUDED.static,
			single = EXCLUDED.single`,
		n.Name, n.PluginModule, n.State, n.Link, n.Static, n.Single)
	return err
}

func (s *PostgresStore) DeleteNode(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM nodes WHERE name = $1`, name)
	return err
}

func (s *PostgresStore) UpdateNode(ctx context.Context, n core.Node) error {
	return s.PutNode(ctx, n)
}

func (s *PostgresStore) ListNodes(ctx context.Context) ([]core.Node, error) {
	rows, err := s.db.QueryxContext(ctx, `SELECT name, plugin_module, state, link, static, single FROM nodes`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.Node
	for rows.Next() {
		var n core.Node
		var state, link string
		if err := rows.Scan(&n.Name, &n.PluginModule, &state, &link, &n.Static, &n.Single); err != nil {
			return nil, err
		}
		n.State = core.NodeState(state)
		n.Link = core.LinkState(link)
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *PostgresStore) PutSetting(ctx context.Context, node, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO node_settings (node_name, key, value) VALUES ($1, $2, $3)
		ON CONFLICT (node_name, key) DO UPDATE SET value = EXCLUDED.value`,
		node, key, value)
	return err
}

func (s *PostgresStore) GetSetting(ctx context.Context, node, key string) (string, bool, error) {
	var value string
	err := s.db.GetContext(ctx, &value, `SELECT value FROM node_settings WHERE node_name = $1 AND key = $2`, node, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (s *PostgresStore) DeleteSetting(ctx context.Context, node, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM node_settings WHERE node_name = $1 AND key = $2`, node, key)
	return err
}

func (s *PostgresStore) PutGroup(ctx context.Context, driver string, g core.Group) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO groups (driver_name, name, interval_ms) VALUES ($1, $2, $3)
		ON CONFLICT (driver_name, name) DO UPDATE SET interval_ms = EXCLUDED.interval_ms`,
		driver, g.Name, g.IntervalMs)
	if err != nil {
		return err
	}
	return s.PutTagsBatch(ctx, driver, g.Name, g.Tags)
}

func (s *PostgresStore) UpdateGroup(ctx context.Context, driver string, g core.Group) error {
	return s.PutGroup(ctx, driver, g)
}

func (s *PostgresStore) ListGroups(ctx context.Context, driver string) ([]core.Group, error) {
	rows, err := s.db.QueryxContext(ctx, `SELECT name, interval_ms FROM groups WHERE driver_name = $1`, driver)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.Group
	for rows.Next() {
		var g core.Group
		if err := rows.Scan(&g.Name, &g.IntervalMs); err != nil {
			return nil, err
		}
		tags, err := s.ListTags(ctx, driver, g.Name)
		if err != nil {
			return nil, err
		}
		g.Tags = tags
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteGroup(ctx context.Context, driver, group string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM groups WHERE driver_name = $1 AND name = $2`, driver, group)
	return err
}

func (s *PostgresStore) PutTag(ctx context.Context, driver, group string, t core.Tag) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tags (driver_name, group_name, name, address, data_type, readable, writable, decode, precision, bias, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (driver_name, group_name, name) DO UPDATE SET
			address = EXCLUDED.address, data_type = EXCLUDED.data_type,
			readable = EXCLUDED.readable, writable = EXCLUDED.writable,
			decode = EXCLUDED.decode, precision = EXCLUDED.precision,
			bias = EXCLUDED.bias, description = EXCLUDED.description`,
		driver, group, t.Name, t.Address, t.DataType, t.Readable, t.Writable, t.Decode, t.Precision, t.Bias, t.Description)
	return err
}

func (s *PostgresStore) PutTagsBatch(ctx context.Context, driver, group string, tags []core.Tag) error {
	for _, t := range tags {
		if err := s.PutTag(ctx, driver, group, t); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) ListTags(ctx context.Context, driver, group string) ([]core.Tag, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT name, address, data_type, readable, writable, decode, precision, bias, description
		FROM tags WHERE driver_name = $1 AND group_name = $2`, driver, group)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.Tag
	for rows.Next() {
		var t core.Tag
		if err := rows.Scan(&t.Name, &t.Address, &t.DataType, &t.Readable, &t.Writable, &t.Decode, &t.Precision, &t.Bias, &t.Description); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateTag(ctx context.Context, driver, group string, t core.Tag) error {
	return s.PutTag(ctx, driver, group, t)
}

func (s *PostgresStore) DeleteTag(ctx context.Context, driver, group, tag string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tags WHERE driver_name = $1 AND group_name = $2 AND name = $3`, driver, group, tag)
	return err
}

func (s *PostgresStore) PutSubscription(ctx context.Context, sub core.Subscription) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subscriptions (driver_name, group_name, app_name, params, static_tags)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (driver_name, group_name, app_name) DO UPDATE SET
			params = EXCLUDED.params, static_tags = EXCLUDED.static_tags`,
		sub.Driver, sub.Group, sub.App, sub.Params, sub.StaticTags)
	return err
}

func (s *PostgresStore) UpdateSubscription(ctx context.Context, sub core.Subscription) error {
	return s.PutSubscription(ctx, sub)
}

func (s *PostgresStore) ListSubscriptions(ctx context.Context) ([]core.Subscription, error) {
	rows, err := s.db.QueryxContext(ctx, `SELECT driver_name, group_name, app_name, params, static_tags FROM subscriptions`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.Subscription
	for rows.Next() {
		var sub core.Subscription
		if err := rows.Scan(&sub.Driver, &sub.Group, &sub.App, &sub.Params, &sub.StaticTags); err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteSubscription(ctx context.Context, driver, group, app string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE driver_name = $1 AND group_name = $2 AND app_name = $3`, driver, group, app)
	return err
}

func (s *PostgresStore) PutPluginList(ctx context.Context, plugins []PluginRecord) error {
	for _, p := range plugins {
		d := p.Descriptor
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO plugins (module_name, schema_name, library_id, description, kind, plugin_type, version_major, version_minor, version_patch, single, display)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (module_name) DO UPDATE SET
				schema_name = EXCLUDED.schema_name, library_id = EXCLUDED.library_id,
				description = EXCLUDED.description, display = EXCLUDED.display`,
			d.ModuleName, d.SchemaName, d.LibraryID, d.Description, d.Kind, d.Type,
			d.Version.Major, d.Version.Minor, d.Version.Patch, d.Single, d.Display)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) ListPlugins(ctx context.Context) ([]PluginRecord, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT module_name, schema_name, library_id, description, kind, plugin_type, version_major, version_minor, version_patch, single, display
		FROM plugins`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PluginRecord
	for rows.Next() {
		var d core.PluginDescriptor
		var kind, ptype string
		if err := rows.Scan(&d.ModuleName, &d.SchemaName, &d.LibraryID, &d.Description, &kind, &ptype,
			&d.Version.Major, &d.Version.Minor, &d.Version.Patch, &d.Single, &d.Display); err != nil {
			return nil, err
		}
		d.Kind = core.PluginKind(kind)
		d.Type = core.PluginType(ptype)
		out = append(out, PluginRecord{Descriptor: d})
	}
	return out, rows.Err()
}

func (s *PostgresStore) PutUser(ctx context.Context, u User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (name, password_hash, role) VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET password_hash = EXCLUDED.password_hash, role = EXCLUDED.role`,
		u.Name, u.PasswordHash, u.Role)
	return err
}

func (s *PostgresStore) GetUser(ctx context.Context, name string) (User, bool, error) {
	var u User
	err := s.db.GetContext(ctx, &u, `SELECT name, password_hash, role FROM users WHERE name = $1`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, false, nil
	}
	if err != nil {
		return User{}, false, err
	}
	return u, true, nil
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]User, error) {
	var out []User
	err := s.db.SelectContext(ctx, &out, `SELECT name, password_hash, role FROM users`)
	return out, err
}

func (s *PostgresStore) DeleteUser(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE name = $1`, name)
	return err
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
