package bridge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnboundedKeepsOrderWithoutConsumer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q := newUnbounded[int](ctx)

	// Nobody reads yet; pushes must still go through.
	for i := 0; i < 5000; i++ {
		require.True(t, q.push(ctx, i))
	}
	q.close()

	want := 0
	for v := range q.out {
		require.Equal(t, want, v)
		want++
	}
	assert.Equal(t, 5000, want)
}

func TestUnboundedStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	q := newUnbounded[string](ctx)
	require.True(t, q.push(ctx, "a"))
	cancel()

	for range q.out {
	}
	assert.False(t, q.push(ctx, "b"))
}
