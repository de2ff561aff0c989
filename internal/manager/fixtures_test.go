package manager

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/SWAI-Ltd/topicbridge/internal/bridge"
	"github.com/SWAI-Ltd/topicbridge/internal/domain"
	"github.com/SWAI-Ltd/topicbridge/internal/metrics"
	"github.com/SWAI-Ltd/topicbridge/internal/naming"
	"github.com/prometheus/client_golang/prometheus"
)

var testCert = []byte("test-certificate")

// idleStream accepts writes and yields nothing until closed.
type idleStream struct {
	once sync.Once
	done chan struct{}
}

func newIdleStream() *idleStream { return &idleStream{done: make(chan struct{})} }

func (s *idleStream) ReadFrame() ([]byte, error) {
	<-s.done
	return nil, io.EOF
}

func (s *idleStream) WriteFrame([]byte) error {
	select {
	case <-s.done:
		return io.ErrClosedPipe
	default:
		return nil
	}
}

func (s *idleStream) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

type registration struct {
	self   naming.PeerName
	target *naming.PeerName
}

// recordingTransport pairs every registration immediately.
type recordingTransport struct {
	mu    sync.Mutex
	calls []registration
}

func (t *recordingTransport) Register(_ context.Context, self naming.PeerName, target *naming.PeerName) (bridge.Stream, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, registration{self: self, target: target})
	return newIdleStream(), nil
}

func (t *recordingTransport) registrations() []registration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]registration(nil), t.calls...)
}

// dialedTo reports whether some registration targeted name.
func (t *recordingTransport) dialedTo(name naming.PeerName) bool {
	for _, r := range t.registrations() {
		if r.target != nil && *r.target == name {
			return true
		}
	}
	return false
}

// advertised reports whether some registration advertised name.
func (t *recordingTransport) advertised(name naming.PeerName) bool {
	for _, r := range t.registrations() {
		if r.target == nil && r.self == name {
			return true
		}
	}
	return false
}

// countingDomain counts enumeration calls and can fail queries.
type countingDomain struct {
	*domain.Memory
	enumerations atomic.Int64
	failQuery    map[string]bool
}

func (d *countingDomain) Enumerate(ctx context.Context) ([]domain.TopicInfo, error) {
	d.enumerations.Add(1)
	return d.Memory.Enumerate(ctx)
}

func (d *countingDomain) Query(ctx context.Context, topic string) (domain.Counts, error) {
	if d.failQuery[topic] {
		return domain.Counts{}, errors.New("introspection unavailable")
	}
	return d.Memory.Query(ctx, topic)
}

type harness struct {
	domain    *countingDomain
	transport *recordingTransport
	metrics   *metrics.Metrics
	manager   *Manager
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	mem := domain.NewMemory(0)
	t.Cleanup(func() { _ = mem.Close() })

	h := &harness{
		domain:    &countingDomain{Memory: mem, failQuery: map[string]bool{}},
		transport: &recordingTransport{},
		metrics:   metrics.New(prometheus.NewRegistry()),
	}
	if opts.Certificate == nil {
		opts.Certificate = testCert
	}
	connector := bridge.NewConnector(h.transport, bridge.RetryPolicy{AttemptTimeout: time.Second}, h.metrics, nil)
	relay := bridge.NewRelay(h.domain, h.metrics, nil)
	sup := NewSupervisor(connector, relay, h.metrics, nil)
	h.manager = New(opts, h.domain, bridge.NewResolver(h.domain, nil), sup, h.metrics, nil)
	return h
}
