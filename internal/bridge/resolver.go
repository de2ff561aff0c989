package bridge

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/SWAI-Ltd/topicbridge/internal/domain"
	"github.com/SWAI-Ltd/topicbridge/internal/logging"
)

// Classify applies the bridging policy to local endpoint counts. The
// publisher check runs first, so a topic with no endpoints at all is a
// publish bridge.
func Classify(c domain.Counts) Action {
	switch {
	case c.Publishers == 0:
		return ActionPublish
	case c.Subscribers == 0:
		return ActionSubscribe
	default:
		return ActionNoOp
	}
}

// Resolver classifies topics from live introspection.
type Resolver struct {
	introspector domain.Introspector
	logger       *slog.Logger
}

// NewResolver returns a resolver backed by i.
func NewResolver(i domain.Introspector, logger *slog.Logger) *Resolver {
	return &Resolver{introspector: i, logger: logging.Subsystem(logger, "resolver")}
}

// Resolve queries the local domain for topic and classifies it.
func (r *Resolver) Resolve(ctx context.Context, topic string) (Action, error) {
	c, err := r.introspector.Query(ctx, topic)
	if err != nil {
		return ActionNoOp, fmt.Errorf("query %s: %w", topic, err)
	}
	a := Classify(c)
	r.logger.Info("topic classified", "topic", topic,
		"publishers", c.Publishers, "subscribers", c.Subscribers, "action", a)
	return a, nil
}
