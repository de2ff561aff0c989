package manager

import (
	"testing"

	"github.com/SWAI-Ltd/topicbridge/internal/bridge"
	"github.com/stretchr/testify/assert"
)

func TestRegistryFirstWriteWins(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.Has("/odom"))

	assert.True(t, r.Record(Status{Topic: "/odom", Action: bridge.ActionSubscribe}))
	assert.False(t, r.Record(Status{Topic: "/odom", Action: bridge.ActionPublish}))
	assert.False(t, r.Record(Status{Topic: "/odom", Action: bridge.ActionNoOp, Err: "later"}))

	s, ok := r.Get("/odom")
	assert.True(t, ok)
	assert.Equal(t, Status{Topic: "/odom", Action: bridge.ActionSubscribe}, s)
	assert.Equal(t, 1, r.Len())
}

func TestRegistrySnapshotIsSorted(t *testing.T) {
	r := NewRegistry()
	r.Record(Status{Topic: "/scan"})
	r.Record(Status{Topic: "/cmd_vel", Action: bridge.ActionPublish})
	r.Record(Status{Topic: "/odom", Action: bridge.ActionSubscribe})

	var topics []string
	for _, s := range r.Snapshot() {
		topics = append(topics, s.Topic)
	}
	assert.Equal(t, []string{"/cmd_vel", "/odom", "/scan"}, topics)

	_, ok := r.Get("/missing")
	assert.False(t, ok)
}
