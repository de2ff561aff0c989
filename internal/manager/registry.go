package manager

import (
	"sort"

	"github.com/SWAI-Ltd/topicbridge/internal/bridge"
)

// Status is the recorded outcome for one topic.
type Status struct {
	Topic  string
	Action bridge.Action
	// Err holds the classification error, if any. No bridge runs for such
	// a topic.
	Err string
}

// Registry holds one Status per topic for the life of the process. It is
// owned by the manager's control goroutine and is not safe for concurrent
// use.
type Registry struct {
	entries map[string]Status
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Status)}
}

// Has reports whether topic already has a recorded Status.
func (r *Registry) Has(topic string) bool {
	_, ok := r.entries[topic]
	return ok
}

// Record stores s unless its topic is already present. It reports whether
// s was stored.
func (r *Registry) Record(s Status) bool {
	if r.Has(s.Topic) {
		return false
	}
	r.entries[s.Topic] = s
	return true
}

// Get returns the Status recorded for topic.
func (r *Registry) Get(topic string) (Status, bool) {
	s, ok := r.entries[topic]
	return s, ok
}

func (r *Registry) Len() int { return len(r.entries) }

// Snapshot returns all entries sorted by topic.
func (r *Registry) Snapshot() []Status {
	out := make([]Status, 0, len(r.entries))
	for _, s := range r.entries {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Topic < out[j].Topic })
	return out
}
