package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/SWAI-Ltd/topicbridge/internal/metrics"
	"github.com/SWAI-Ltd/topicbridge/internal/naming"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockTransport struct {
	mock.Mock
}

func (m *mockTransport) Register(ctx context.Context, self naming.PeerName, target *naming.PeerName) (Stream, error) {
	args := m.Called(ctx, self, target)
	s, _ := args.Get(0).(Stream)
	return s, args.Error(1)
}

func targeting(topic naming.PeerName) interface{} {
	return mock.MatchedBy(func(p *naming.PeerName) bool { return p != nil && *p == topic })
}

func TestConnectRetriesTimeouts(t *testing.T) {
	const k = 4
	topic := naming.Derive("/odom", "nav_msgs/msg/Odometry", []byte("cert"))
	want, _ := newPipe()
	other, _ := newPipe()

	var selves []naming.PeerName
	record := func(args mock.Arguments) { selves = append(selves, args.Get(1).(naming.PeerName)) }

	tr := &mockTransport{}
	tr.On("Register", mock.Anything, mock.Anything, targeting(topic)).Return(nil, context.DeadlineExceeded).Times(k).Run(record)
	tr.On("Register", mock.Anything, mock.Anything, targeting(topic)).Return(want, nil).Once().Run(record)
	tr.On("Register", mock.Anything, mock.Anything, targeting(topic)).Return(other, nil)

	m := metrics.New(prometheus.NewRegistry())
	c := NewConnector(tr, RetryPolicy{AttemptTimeout: time.Second}, m, nil)
	s, err := c.Connect(context.Background(), ActionSubscribe, topic)
	require.NoError(t, err)

	assert.Same(t, want, s)
	tr.AssertNumberOfCalls(t, "Register", k+1)
	assert.Equal(t, float64(k), testutil.ToFloat64(m.ConnectAttempts.WithLabelValues(metrics.ResultTimeout)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConnectAttempts.WithLabelValues(metrics.ResultOK)))

	// Every attempt dials under a fresh identity.
	seen := make(map[naming.PeerName]struct{})
	for _, s := range selves {
		seen[s] = struct{}{}
	}
	assert.Len(t, seen, k+1)
	assert.NotContains(t, seen, topic)
}

func TestConnectDoesNotRetryHardErrors(t *testing.T) {
	topic := naming.Derive("/odom", "t", []byte("cert"))
	boom := errors.New("rendezvous refused")

	tr := &mockTransport{}
	tr.On("Register", mock.Anything, mock.Anything, targeting(topic)).Return(nil, boom)

	c := NewConnector(tr, DefaultRetryPolicy(), nil, nil)
	_, err := c.Connect(context.Background(), ActionSubscribe, topic)
	assert.ErrorIs(t, err, boom)
	tr.AssertNumberOfCalls(t, "Register", 1)
}

func TestConnectHonoursAttemptCap(t *testing.T) {
	topic := naming.Derive("/odom", "t", []byte("cert"))
	tr := &mockTransport{}
	tr.On("Register", mock.Anything, mock.Anything, targeting(topic)).Return(nil, context.DeadlineExceeded)

	c := NewConnector(tr, RetryPolicy{AttemptTimeout: time.Second, MaxAttempts: 3}, nil, nil)
	_, err := c.Connect(context.Background(), ActionSubscribe, topic)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	tr.AssertNumberOfCalls(t, "Register", 3)
}

func TestConnectAdvertisesOnceForPublish(t *testing.T) {
	topic := naming.Derive("/cmd_vel", "t", []byte("cert"))
	want, _ := newPipe()

	tr := &mockTransport{}
	tr.On("Register", mock.Anything, topic, (*naming.PeerName)(nil)).Return(want, nil).Once()

	c := NewConnector(tr, DefaultRetryPolicy(), nil, nil)
	s, err := c.Connect(context.Background(), ActionPublish, topic)
	require.NoError(t, err)
	assert.Same(t, want, s)
	tr.AssertExpectations(t)
}

func TestConnectAdvertiseFailureIsFinal(t *testing.T) {
	topic := naming.Derive("/cmd_vel", "t", []byte("cert"))
	tr := &mockTransport{}
	tr.On("Register", mock.Anything, topic, (*naming.PeerName)(nil)).Return(nil, context.DeadlineExceeded)

	c := NewConnector(tr, DefaultRetryPolicy(), nil, nil)
	_, err := c.Connect(context.Background(), ActionPublish, topic)
	assert.Error(t, err)
	tr.AssertNumberOfCalls(t, "Register", 1)
}

func TestConnectNoOp(t *testing.T) {
	c := NewConnector(&mockTransport{}, DefaultRetryPolicy(), nil, nil)
	_, err := c.Connect(context.Background(), ActionNoOp, naming.PeerName{})
	assert.ErrorIs(t, err, ErrNoBridge)
}

// slowTransport blocks until the attempt deadline for the first misses
// calls, like a rendezvous server with no advertiser yet.
type slowTransport struct {
	mu     sync.Mutex
	misses int
	calls  int
	stream Stream
}

func (s *slowTransport) Register(ctx context.Context, _ naming.PeerName, _ *naming.PeerName) (Stream, error) {
	s.mu.Lock()
	s.calls++
	miss := s.calls <= s.misses
	s.mu.Unlock()
	if miss {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return s.stream, nil
}

func TestConnectAttemptTimeoutIsApplied(t *testing.T) {
	want, _ := newPipe()
	tr := &slowTransport{misses: 2, stream: want}
	c := NewConnector(tr, RetryPolicy{AttemptTimeout: 20 * time.Millisecond}, nil, nil)

	start := time.Now()
	s, err := c.Connect(context.Background(), ActionSubscribe, naming.Random())
	require.NoError(t, err)
	assert.Same(t, want, s)
	assert.Equal(t, 3, tr.calls)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestConnectStopsWithContext(t *testing.T) {
	tr := &slowTransport{misses: 1 << 30}
	c := NewConnector(tr, RetryPolicy{AttemptTimeout: 10 * time.Millisecond}, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 55*time.Millisecond)
	defer cancel()
	_, err := c.Connect(ctx, ActionSubscribe, naming.Random())
	assert.Error(t, err)
}
