package domain

import (
	"context"
	"slices"
	"sync"
)

const defaultMemoryBuffer = 1024

// Memory is a process-local domain. It keeps exact endpoint counts, so it
// doubles as its own introspector.
type Memory struct {
	mu      sync.RWMutex
	nextID  int
	topics  map[string]*memTopic
	order   []string
	changes chan struct{}
	buffer  int
	closed  bool
}

type memTopic struct {
	types      []string
	publishers int
	subs       map[int]chan []byte
}

// NewMemory creates an empty domain. buffer is the per-subscriber queue
// length; 0 uses a default.
func NewMemory(buffer int) *Memory {
	if buffer <= 0 {
		buffer = defaultMemoryBuffer
	}
	return &Memory{
		topics:  make(map[string]*memTopic),
		changes: make(chan struct{}, 1),
		buffer:  buffer,
	}
}

// Declare makes a topic known without attaching any endpoint.
func (m *Memory) Declare(topic, typ string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.topicLocked(topic, typ)
}

func (m *Memory) topicLocked(name, typ string) *memTopic {
	t, ok := m.topics[name]
	if !ok {
		t = &memTopic{subs: make(map[int]chan []byte)}
		m.topics[name] = t
		m.order = append(m.order, name)
		select {
		case m.changes <- struct{}{}:
		default:
		}
	}
	if typ != "" && !slices.Contains(t.types, typ) {
		t.types = append(t.types, typ)
	}
	return t
}

// Query counts local publishers and subscribers on topic. Unknown topics
// report zero counts.
func (m *Memory) Query(_ context.Context, topic string) (Counts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.topics[topic]
	if !ok {
		return Counts{}, nil
	}
	return Counts{Publishers: t.publishers, Subscribers: len(t.subs)}, nil
}

// Enumerate lists declared topics in declaration order, each with its types
// in first-seen order.
func (m *Memory) Enumerate(context.Context) ([]TopicInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]TopicInfo, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, TopicInfo{Name: name, Types: append([]string(nil), m.topics[name].types...)})
	}
	return out, nil
}

func (m *Memory) Changes() <-chan struct{} {
	return m.changes
}

// Subscribe attaches a buffered feed to topic. The returned cancel detaches
// it and closes the channel; it is safe to call more than once.
func (m *Memory) Subscribe(_ context.Context, topic, typ string) (<-chan []byte, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, nil, ErrClosed
	}
	t := m.topicLocked(topic, typ)
	id := m.nextID
	m.nextID++
	ch := make(chan []byte, m.buffer)
	t.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if sub, ok := t.subs[id]; ok {
				delete(t.subs, id)
				close(sub)
			}
		})
	}
	return ch, cancel, nil
}

// Publisher returns a Sink that delivers to every current subscriber of
// topic and counts as one publisher.
func (m *Memory) Publisher(_ context.Context, topic, typ string) (Sink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	t := m.topicLocked(topic, typ)
	t.publishers++
	return &memSink{m: m, t: t}, nil
}

func (m *Memory) publish(t *memTopic, payload []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	for _, ch := range t.subs {
		select {
		case ch <- append([]byte(nil), payload...):
		default:
			// Slow subscriber; drop rather than stall the publisher.
		}
	}
	return nil
}

// Close closes every subscription feed.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for _, t := range m.topics {
		for id, ch := range t.subs {
			delete(t.subs, id)
			close(ch)
		}
	}
	return nil
}

type memSink struct {
	m    *Memory
	t    *memTopic
	once sync.Once
}

func (s *memSink) Send(payload []byte) error {
	return s.m.publish(s.t, payload)
}

func (s *memSink) Close() error {
	s.once.Do(func() {
		s.m.mu.Lock()
		s.t.publishers--
		s.m.mu.Unlock()
	})
	return nil
}
