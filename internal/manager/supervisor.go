package manager

import (
	"context"
	"errors"
	"log/slog"

	"github.com/SWAI-Ltd/topicbridge/internal/bridge"
	"github.com/SWAI-Ltd/topicbridge/internal/logging"
	"github.com/SWAI-Ltd/topicbridge/internal/metrics"
	"github.com/SWAI-Ltd/topicbridge/internal/naming"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Supervisor runs bridge tasks in the background and makes their failures
// visible. Tasks are never restarted.
type Supervisor struct {
	connector *bridge.Connector
	relay     *bridge.Relay
	metrics   *metrics.Metrics
	logger    *slog.Logger
	group     errgroup.Group
}

// NewSupervisor returns a Supervisor that connects through c and relays through r.
func NewSupervisor(c *bridge.Connector, r *bridge.Relay, m *metrics.Metrics, logger *slog.Logger) *Supervisor {
	return &Supervisor{connector: c, relay: r, metrics: m, logger: logging.Subsystem(logger, "supervisor")}
}

// Spawn starts the bridge for topic in its own goroutine and returns at once.
func (s *Supervisor) Spawn(ctx context.Context, topic bridge.TopicDescriptor, name naming.PeerName, action bridge.Action) {
	session := uuid.NewString()
	log := s.logger.With("session", session, "topic", topic.Name, "action", action, "peer_name", name.Short())
	s.metrics.Spawned(action.String())
	log.Info("bridge spawned")

	s.group.Go(func() error {
		stream, err := s.connector.Connect(ctx, action, name)
		if err != nil {
			if ctx.Err() == nil {
				s.metrics.Failed(metrics.StageConnect)
				log.Error("bridge connect failed", "err", err)
			}
			return nil
		}
		if err := s.relay.Run(ctx, stream, topic, action); err != nil && !errors.Is(err, context.Canceled) {
			s.metrics.Failed(metrics.StageRelay)
			log.Error("bridge relay failed", "err", err)
			return nil
		}
		log.Info("bridge closed")
		return nil
	})
}

// Wait blocks until every spawned task has returned.
func (s *Supervisor) Wait() {
	_ = s.group.Wait()
}
