package manager

import (
	"github.com/sirupsen/logrus"

	"github.com/nodelink/gateway/internal/core"
	"github.com/nodelink/gateway/internal/persistence"
)

// Option configures a Manager.
type Option func(*Manager)

// WithLogger overrides the default logger.
func WithLogger(l *logrus.Entry) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithStore attaches a persistence.Store the manager mirrors admin
// operations into. Without this option the manager runs purely in memory.
func WithStore(s persistence.Store) Option {
	return func(m *Manager) {
		if s != nil {
			m.store = s
		}
	}
}

// WithRuntimeVersion pins the version new plugins must be major.minor
// compatible with (spec §4.1).
func WithRuntimeVersion(v core.Version) Option {
	return func(m *Manager) {
		m.runtimeVersion = v
	}
}
