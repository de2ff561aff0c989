package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/SWAI-Ltd/topicbridge/internal/logging"
	"github.com/SWAI-Ltd/topicbridge/internal/metrics"
	"github.com/SWAI-Ltd/topicbridge/internal/naming"
	"github.com/cenkalti/backoff/v5"
)

// ErrNoBridge is returned when asked to connect a topic that needs no bridge.
var ErrNoBridge = errors.New("no bridge for action")

// Connector obtains the stream for one bridge.
type Connector struct {
	transport Transport
	policy    RetryPolicy
	metrics   *metrics.Metrics
	logger    *slog.Logger
	newName   func() naming.PeerName
}

// NewConnector returns a connector that reaches peers through t.
func NewConnector(t Transport, policy RetryPolicy, m *metrics.Metrics, logger *slog.Logger) *Connector {
	return &Connector{
		transport: t,
		policy:    policy,
		metrics:   m,
		logger:    logging.Subsystem(logger, "connector"),
		newName:   naming.Random,
	}
}

// Connect returns a stream for topic. A publish bridge advertises the topic
// name and waits for one peer; a subscribe bridge dials the topic name under
// a fresh identity per attempt, retrying timeouts per the policy.
func (c *Connector) Connect(ctx context.Context, action Action, topic naming.PeerName) (Stream, error) {
	switch action {
	case ActionPublish:
		return c.advertise(ctx, topic)
	case ActionSubscribe:
		return c.dial(ctx, topic)
	default:
		return nil, fmt.Errorf("%w: %s", ErrNoBridge, action)
	}
}

func (c *Connector) advertise(ctx context.Context, topic naming.PeerName) (Stream, error) {
	c.logger.Info("advertising", "peer_name", topic.Short())
	s, err := c.transport.Register(ctx, topic, nil)
	if err != nil {
		c.metrics.Attempt(metrics.ResultError)
		return nil, fmt.Errorf("advertise %s: %w", topic.Short(), err)
	}
	c.metrics.Attempt(metrics.ResultOK)
	c.logger.Info("peer attached", "peer_name", topic.Short())
	return s, nil
}

func (c *Connector) dial(ctx context.Context, topic naming.PeerName) (Stream, error) {
	timeout := c.policy.attemptTimeout()
	var attempt int
	op := func() (Stream, error) {
		attempt++
		self := c.newName()
		actx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		s, err := c.transport.Register(actx, self, &topic)
		switch {
		case err == nil:
			c.metrics.Attempt(metrics.ResultOK)
			c.logger.Info("connected", "peer_name", topic.Short(), "self", self.Short(), "attempt", attempt)
			return s, nil
		case ctx.Err() != nil:
			return nil, backoff.Permanent(ctx.Err())
		case isTimeout(err):
			c.metrics.Attempt(metrics.ResultTimeout)
			c.logger.Warn("connect timed out, retrying", "peer_name", topic.Short(), "attempt", attempt, "timeout", timeout)
			return nil, err
		default:
			c.metrics.Attempt(metrics.ResultError)
			return nil, backoff.Permanent(err)
		}
	}

	s, err := backoff.Retry(ctx, op, c.policy.options()...)
	if err != nil {
		return nil, fmt.Errorf("connect %s after %d attempts: %w", topic.Short(), attempt, err)
	}
	return s, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
