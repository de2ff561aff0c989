package domain

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCountsEndpoints(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(0)
	defer m.Close()

	c, err := m.Query(ctx, "/odom")
	require.NoError(t, err)
	assert.Equal(t, Counts{}, c)

	sink, err := m.Publisher(ctx, "/odom", "nav_msgs/msg/Odometry")
	require.NoError(t, err)
	_, cancel, err := m.Subscribe(ctx, "/odom", "nav_msgs/msg/Odometry")
	require.NoError(t, err)

	c, err = m.Query(ctx, "/odom")
	require.NoError(t, err)
	assert.Equal(t, Counts{Publishers: 1, Subscribers: 1}, c)

	cancel()
	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close())
	c, err = m.Query(ctx, "/odom")
	require.NoError(t, err)
	assert.Equal(t, Counts{}, c)
}

func TestMemoryFanoutPreservesOrder(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(16)
	defer m.Close()

	feed, cancel, err := m.Subscribe(ctx, "/chatter", "std_msgs/String")
	require.NoError(t, err)
	defer cancel()
	sink, err := m.Publisher(ctx, "/chatter", "std_msgs/String")
	require.NoError(t, err)

	for _, p := range []string{"a", "b", "c"} {
		require.NoError(t, sink.Send([]byte(p)))
	}
	assert.Equal(t, "a", string(<-feed))
	assert.Equal(t, "b", string(<-feed))
	assert.Equal(t, "c", string(<-feed))
}

func TestMemoryEnumerateKeepsDeclarationOrder(t *testing.T) {
	m := NewMemory(0)
	m.Declare("/b", "t1")
	m.Declare("/a", "t2")
	m.Declare("/b", "t3")
	m.Declare("/b", "t1")

	topics, err := m.Enumerate(context.Background())
	require.NoError(t, err)
	require.Len(t, topics, 2)
	assert.Equal(t, TopicInfo{Name: "/b", Types: []string{"t1", "t3"}}, topics[0])
	assert.Equal(t, "t2", topics[1].FirstType())
	assert.Equal(t, "", TopicInfo{Name: "/x"}.FirstType())
}

func TestMemoryChangesCoalesce(t *testing.T) {
	m := NewMemory(0)
	m.Declare("/a", "")
	m.Declare("/b", "")

	select {
	case <-m.Changes():
	default:
		t.Fatal("expected a change signal")
	}
	select {
	case <-m.Changes():
		t.Fatal("signals should coalesce")
	default:
	}

	m.Declare("/a", "late-type")
	select {
	case <-m.Changes():
		t.Fatal("known topic must not signal")
	default:
	}
}

func TestMemoryClose(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(0)
	feed, _, err := m.Subscribe(ctx, "/a", "")
	require.NoError(t, err)
	sink, err := m.Publisher(ctx, "/a", "")
	require.NoError(t, err)

	require.NoError(t, m.Close())
	_, ok := <-feed
	assert.False(t, ok)
	assert.ErrorIs(t, sink.Send([]byte("x")), ErrClosed)
	_, _, err = m.Subscribe(ctx, "/a", "")
	assert.ErrorIs(t, err, ErrClosed)
}
