package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/SWAI-Ltd/topicbridge/internal/domain"
	"github.com/SWAI-Ltd/topicbridge/internal/logging"
	"github.com/SWAI-Ltd/topicbridge/internal/metrics"
	"golang.org/x/sync/errgroup"
)

// ErrLocalFeedClosed is returned when the local subscription ends under a
// running subscribe bridge.
var ErrLocalFeedClosed = errors.New("local feed closed")

// Relay moves payloads between a stream and the local domain.
type Relay struct {
	binding domain.Binding
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewRelay returns a relay that opens local endpoints through b.
func NewRelay(b domain.Binding, m *metrics.Metrics, logger *slog.Logger) *Relay {
	return &Relay{binding: b, metrics: m, logger: logging.Subsystem(logger, "relay")}
}

// Run relays until the stream closes or either side stops. Order is kept
// in each direction; nothing is retried or deduplicated. A clean end of
// stream returns nil. The stream is closed on return.
func (r *Relay) Run(ctx context.Context, stream Stream, topic TopicDescriptor, action Action) error {
	defer stream.Close()
	if action != ActionPublish && action != ActionSubscribe {
		return fmt.Errorf("%w: %s", ErrNoBridge, action)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	// Unblocks ReadFrame once the session is over.
	context.AfterFunc(ctx, func() { _ = stream.Close() })

	var (
		once  sync.Once
		first error
	)
	end := func(err error) {
		once.Do(func() {
			if ctx.Err() == nil {
				first = err
			}
		})
		cancel()
	}

	toWire := newUnbounded[[]byte](ctx)
	fromWire := newUnbounded[[]byte](ctx)

	var g errgroup.Group

	// Stream I/O: the only goroutines that touch the stream.
	g.Go(func() error {
		defer fromWire.close()
		for {
			b, err := stream.ReadFrame()
			if err != nil {
				if !errors.Is(err, io.EOF) {
					end(fmt.Errorf("read frame: %w", err))
				} else if action != ActionPublish {
					end(nil)
				}
				// A publish session ends once injectLocal has drained
				// the backlog.
				return nil
			}
			r.metrics.Relayed(metrics.DirInbound)
			if !fromWire.push(ctx, b) {
				return nil
			}
		}
	})
	g.Go(func() error {
		for b := range toWire.out {
			if err := stream.WriteFrame(b); err != nil {
				end(fmt.Errorf("write frame: %w", err))
				return nil
			}
			r.metrics.Relayed(metrics.DirOutbound)
		}
		return nil
	})

	// Local adapter.
	g.Go(func() error {
		var err error
		switch action {
		case ActionPublish:
			err = r.injectLocal(ctx, topic, fromWire)
		case ActionSubscribe:
			err = r.shipOutward(ctx, topic, toWire)
		}
		end(err)
		return nil
	})

	_ = g.Wait()
	r.logger.Info("bridge ended", "topic", topic.Name, "action", action, "err", first)
	return first
}

// injectLocal publishes every payload received from the wire.
func (r *Relay) injectLocal(ctx context.Context, topic TopicDescriptor, fromWire *unbounded[[]byte]) error {
	sink, err := r.binding.Publisher(ctx, topic.Name, topic.Type)
	if err != nil {
		return fmt.Errorf("open local publisher: %w", err)
	}
	defer sink.Close()
	for b := range fromWire.out {
		if err := sink.Send(b); err != nil {
			return fmt.Errorf("publish locally: %w", err)
		}
	}
	return nil
}

// shipOutward forwards every local publication to the wire.
func (r *Relay) shipOutward(ctx context.Context, topic TopicDescriptor, toWire *unbounded[[]byte]) error {
	defer toWire.close()
	feed, unsubscribe, err := r.binding.Subscribe(ctx, topic.Name, topic.Type)
	if err != nil {
		return fmt.Errorf("subscribe locally: %w", err)
	}
	defer unsubscribe()
	for {
		select {
		case b, ok := <-feed:
			if !ok {
				return ErrLocalFeedClosed
			}
			if !toWire.push(ctx, b) {
				return nil
			}
		case <-ctx.Done():
			return nil
		}
	}
}
