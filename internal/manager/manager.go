// Package manager reconciles local topics with running bridges.
package manager

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/SWAI-Ltd/topicbridge/internal/bridge"
	"github.com/SWAI-Ltd/topicbridge/internal/domain"
	"github.com/SWAI-Ltd/topicbridge/internal/logging"
	"github.com/SWAI-Ltd/topicbridge/internal/metrics"
	"github.com/SWAI-Ltd/topicbridge/internal/naming"
)

// DefaultInterval is the discovery period when none is configured.
const DefaultInterval = 5 * time.Second

// ConfiguredTopic is a topic bridged at startup with a fixed action.
type ConfiguredTopic struct {
	Topic  bridge.TopicDescriptor
	Action bridge.Action
}

// Options configures a Manager.
type Options struct {
	Topics      []ConfiguredTopic
	Discovery   bool
	Interval    time.Duration
	Certificate []byte
}

// Manager owns the Registry and spawns one bridge per recorded topic.
type Manager struct {
	opts         Options
	introspector domain.Introspector
	resolver     *bridge.Resolver
	supervisor   *Supervisor
	registry     *Registry
	metrics      *metrics.Metrics
	logger       *slog.Logger
}

func New(opts Options, i domain.Introspector, r *bridge.Resolver, s *Supervisor, m *metrics.Metrics, logger *slog.Logger) *Manager {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	return &Manager{
		opts:         opts,
		introspector: i,
		resolver:     r,
		supervisor:   s,
		registry:     NewRegistry(),
		metrics:      m,
		logger:       logging.Subsystem(logger, "manager"),
	}
}

// Registry returns the manager's registry. It must not be read while Run
// is active.
func (m *Manager) Registry() *Registry { return m.registry }

// Supervisor returns the task set bridges are spawned into.
func (m *Manager) Supervisor() *Supervisor { return m.supervisor }

// Run bootstraps the configured topics and then, if discovery is enabled,
// rescans the local domain every interval and whenever it reports a change.
// It returns when ctx ends.
func (m *Manager) Run(ctx context.Context) error {
	m.Bootstrap(ctx)
	if !m.opts.Discovery {
		m.logger.Info("topic discovery disabled")
		<-ctx.Done()
		return nil
	}

	var changes <-chan struct{}
	if n, ok := m.introspector.(domain.Notifier); ok {
		changes = n.Changes()
	}
	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()

	m.logger.Info("topic discovery started", "interval", m.opts.Interval, "notifications", changes != nil)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-changes:
			m.logger.Debug("topic set changed")
		}
		if err := m.Discover(ctx); err != nil && ctx.Err() == nil {
			m.logger.Warn("discovery failed", "err", err)
		}
	}
}

// Bootstrap records and spawns every configured topic with its configured
// action. Topics configured twice keep their first entry.
func (m *Manager) Bootstrap(ctx context.Context) {
	for _, ct := range m.opts.Topics {
		name := naming.Derive(ct.Topic.Name, ct.Topic.Type, m.opts.Certificate)
		if !m.registry.Record(Status{Topic: ct.Topic.Name, Action: ct.Action}) {
			m.logger.Warn("topic configured twice, ignoring", "topic", ct.Topic.Name)
			continue
		}
		m.logger.Info("configured topic", "topic", ct.Topic.Name, "type", ct.Topic.Type,
			"action", ct.Action, "peer_name", name.Short())
		if ct.Action != bridge.ActionNoOp {
			m.supervisor.Spawn(ctx, ct.Topic, name, ct.Action)
		}
	}
	m.metrics.Entries(m.registry.Len())
}

// Discover enumerates the local domain once and bridges every topic not yet
// in the registry.
func (m *Manager) Discover(ctx context.Context) error {
	m.metrics.Scanned()
	topics, err := m.introspector.Enumerate(ctx)
	if err != nil {
		return fmt.Errorf("enumerate topics: %w", err)
	}
	for _, t := range topics {
		if m.registry.Has(t.Name) {
			continue
		}
		action, err := m.resolver.Resolve(ctx, t.Name)
		if err != nil {
			m.metrics.Failed(metrics.StageClassify)
			m.logger.Error("classification failed", "topic", t.Name, "err", err)
			m.registry.Record(Status{Topic: t.Name, Action: bridge.ActionNoOp, Err: err.Error()})
			continue
		}
		desc := bridge.TopicDescriptor{Name: t.Name, Type: t.FirstType()}
		name := naming.Derive(desc.Name, desc.Type, m.opts.Certificate)
		m.registry.Record(Status{Topic: t.Name, Action: action})
		m.logger.Info("discovered topic", "topic", desc.Name, "type", desc.Type,
			"action", action, "peer_name", name.Short())
		if action != bridge.ActionNoOp {
			m.supervisor.Spawn(ctx, desc, name, action)
		}
	}
	m.metrics.Entries(m.registry.Len())
	return nil
}
