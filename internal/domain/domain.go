// Package domain describes the local publish/subscribe domain whose topics
// are bridged, and provides the in-process and gossip implementations.
package domain

import (
	"context"
	"errors"
)

// ErrClosed is returned by endpoints of a closed domain.
var ErrClosed = errors.New("domain closed")

// Counts is the number of local endpoints on a topic.
type Counts struct {
	Publishers  int
	Subscribers int
}

// TopicInfo is one enumerated topic. Types are in declaration order.
type TopicInfo struct {
	Name  string
	Types []string
}

// FirstType returns the first declared type, or "" when none is known.
func (t TopicInfo) FirstType() string {
	if len(t.Types) == 0 {
		return ""
	}
	return t.Types[0]
}

// Introspector reports what exists in the local domain.
type Introspector interface {
	Query(ctx context.Context, topic string) (Counts, error)
	Enumerate(ctx context.Context) ([]TopicInfo, error)
}

// Sink accepts payloads for local publication.
type Sink interface {
	Send(payload []byte) error
	Close() error
}

// Binding opens local endpoints keyed by (topic, type).
type Binding interface {
	// Subscribe returns a feed of local publications. The channel is closed
	// after cancel is called or the domain shuts down.
	Subscribe(ctx context.Context, topic, typ string) (<-chan []byte, func(), error)
	Publisher(ctx context.Context, topic, typ string) (Sink, error)
}

// Domain is a complete local domain.
type Domain interface {
	Introspector
	Binding
}

// Notifier is implemented by domains that can signal that the topic set
// changed. Signals are coalesced.
type Notifier interface {
	Changes() <-chan struct{}
}
