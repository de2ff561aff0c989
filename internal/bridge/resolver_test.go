package bridge

import (
	"context"
	"errors"
	"testing"

	"github.com/SWAI-Ltd/topicbridge/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubIntrospector struct {
	counts map[string]domain.Counts
	err    error
}

func (s *stubIntrospector) Query(_ context.Context, topic string) (domain.Counts, error) {
	if s.err != nil {
		return domain.Counts{}, s.err
	}
	return s.counts[topic], nil
}

func (s *stubIntrospector) Enumerate(context.Context) ([]domain.TopicInfo, error) {
	return nil, s.err
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name   string
		counts domain.Counts
		want   Action
	}{
		{"no publishers", domain.Counts{Publishers: 0, Subscribers: 2}, ActionPublish},
		{"no subscribers", domain.Counts{Publishers: 1, Subscribers: 0}, ActionSubscribe},
		{"nothing local", domain.Counts{}, ActionPublish},
		{"both local", domain.Counts{Publishers: 3, Subscribers: 1}, ActionNoOp},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.counts))
		})
	}
}

func TestResolveQueriesIntrospector(t *testing.T) {
	r := NewResolver(&stubIntrospector{counts: map[string]domain.Counts{
		"/odom": {Publishers: 1},
		"/cmd":  {Subscribers: 1},
	}}, nil)

	a, err := r.Resolve(context.Background(), "/odom")
	require.NoError(t, err)
	assert.Equal(t, ActionSubscribe, a)

	a, err = r.Resolve(context.Background(), "/cmd")
	require.NoError(t, err)
	assert.Equal(t, ActionPublish, a)
}

func TestResolvePropagatesFailure(t *testing.T) {
	boom := errors.New("introspection down")
	r := NewResolver(&stubIntrospector{err: boom}, nil)
	_, err := r.Resolve(context.Background(), "/odom")
	assert.ErrorIs(t, err, boom)
}
