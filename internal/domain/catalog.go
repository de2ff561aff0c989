package domain

import (
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CatalogTopic is the gossip topic on which participants announce their
// endpoints.
const CatalogTopic = "/topicbridge/catalog/1"

const catalogSize = 4096

// Role is the direction of an announced endpoint.
type Role string

const (
	RolePublisher  Role = "publisher"
	RoleSubscriber Role = "subscriber"
)

// Announcement is what a participant says about one of its endpoints.
type Announcement struct {
	Topic string `json:"topic"`
	Type  string `json:"type"`
	Role  Role   `json:"role"`
	Peer  string `json:"peer"`
}

func (a Announcement) key() string {
	return a.Peer + "\x00" + a.Topic + "\x00" + string(a.Role) + "\x00" + a.Type
}

// catalog remembers remote announcements until they go stale.
type catalog struct {
	entries *expirable.LRU[string, Announcement]

	mu sync.Mutex
	// known holds every topic ever seen with its types in first-seen
	// order. It outlives entry expiry so the order stays stable.
	known map[string][]string
	onNew func(topic string)
}

func newCatalog(ttl time.Duration, onNew func(topic string)) *catalog {
	return &catalog{
		entries: expirable.NewLRU[string, Announcement](catalogSize, nil, ttl),
		known:   make(map[string][]string),
		onNew:   onNew,
	}
}

// observe records a; it reports whether the topic had never been seen.
func (c *catalog) observe(a Announcement) bool {
	if a.Topic == "" || a.Peer == "" {
		return false
	}
	if a.Role != RolePublisher && a.Role != RoleSubscriber {
		return false
	}
	c.entries.Add(a.key(), a)
	seen := c.noteType(a.Topic, a.Type)
	if !seen && c.onNew != nil {
		c.onNew(a.Topic)
	}
	return !seen
}

// noteType records typ for topic if it is new. It reports whether topic was
// already known.
func (c *catalog) noteType(topic, typ string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	types, seen := c.known[topic]
	if typ != "" && !slices.Contains(types, typ) {
		types = append(types, typ)
	}
	c.known[topic] = types
	return seen
}

// ordered returns the members of live in first-seen order.
func (c *catalog) ordered(topic string, live map[string]struct{}) []string {
	c.mu.Lock()
	known := c.known[topic]
	c.mu.Unlock()
	out := make([]string, 0, len(live))
	for _, typ := range known {
		if _, ok := live[typ]; ok {
			out = append(out, typ)
		}
	}
	return out
}

// counts returns the number of distinct live peers per role on topic.
func (c *catalog) counts(topic string) Counts {
	pubs := make(map[string]struct{})
	subs := make(map[string]struct{})
	for _, a := range c.entries.Values() {
		if a.Topic != topic {
			continue
		}
		switch a.Role {
		case RolePublisher:
			pubs[a.Peer] = struct{}{}
		case RoleSubscriber:
			subs[a.Peer] = struct{}{}
		}
	}
	return Counts{Publishers: len(pubs), Subscribers: len(subs)}
}

// topics lists live topics sorted by name, with types in first-seen order.
func (c *catalog) topics() []TopicInfo {
	live := make(map[string]map[string]struct{})
	for _, a := range c.entries.Values() {
		types, ok := live[a.Topic]
		if !ok {
			types = make(map[string]struct{})
			live[a.Topic] = types
		}
		if a.Type != "" {
			types[a.Type] = struct{}{}
		}
	}
	out := make([]TopicInfo, 0, len(live))
	for name, types := range live {
		out = append(out, TopicInfo{Name: name, Types: c.ordered(name, types)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
