package domain

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/SWAI-Ltd/topicbridge/internal/logging"
	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	p2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	mdns "github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/multierr"
)

const (
	DefaultCatalogTTL       = 30 * time.Second
	DefaultAnnounceInterval = 10 * time.Second

	gossipFeedBuffer = 256
)

// GossipOptions configures the libp2p gossip domain.
type GossipOptions struct {
	ListenAddrs      []string
	Bootstrap        []string
	Rendezvous       string
	EnableMDNS       bool
	IdentityKeyFile  string
	CatalogTTL       time.Duration
	AnnounceInterval time.Duration
}

// Gossip is a local domain built on GossipSub. Participants learn about each
// other's endpoints through announcements on CatalogTopic.
type Gossip struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	host    host.Host
	ps      *pubsub.PubSub
	catalog *catalog
	catSub  *pubsub.Subscription
	catT    *pubsub.Topic

	interval time.Duration
	changes  chan struct{}

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
	subs   map[*pubsub.Subscription]struct{}
	local  map[Announcement]int
}

// NewGossip starts a libp2p host, joins the catalog and begins announcing.
func NewGossip(parent context.Context, opts GossipOptions, logger *slog.Logger) (*Gossip, error) {
	logger = logging.Subsystem(logger, "gossip")
	if opts.CatalogTTL <= 0 {
		opts.CatalogTTL = DefaultCatalogTTL
	}
	if opts.AnnounceInterval <= 0 {
		opts.AnnounceInterval = DefaultAnnounceInterval
	}
	ctx, cancel := context.WithCancel(parent)

	listenAddrs := make([]ma.Multiaddr, 0, len(opts.ListenAddrs))
	for _, s := range opts.ListenAddrs {
		if s == "" {
			continue
		}
		a, err := ma.NewMultiaddr(s)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("invalid listen multiaddr %q: %w", s, err)
		}
		listenAddrs = append(listenAddrs, a)
	}
	if len(listenAddrs) == 0 {
		a, _ := ma.NewMultiaddr("/ip4/0.0.0.0/tcp/0")
		listenAddrs = append(listenAddrs, a)
	}

	libp2pOpts := []libp2p.Option{libp2p.ListenAddrs(listenAddrs...)}
	if opts.IdentityKeyFile != "" {
		key, err := loadOrCreateIdentityKey(opts.IdentityKeyFile)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("load identity key: %w", err)
		}
		libp2pOpts = append(libp2pOpts, libp2p.Identity(key))
	}

	h, err := libp2p.New(libp2pOpts...)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		_ = h.Close()
		cancel()
		return nil, fmt.Errorf("create gossipsub: %w", err)
	}

	g := &Gossip{
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger,
		host:     h,
		ps:       ps,
		interval: opts.AnnounceInterval,
		changes:  make(chan struct{}, 1),
		topics:   make(map[string]*pubsub.Topic),
		subs:     make(map[*pubsub.Subscription]struct{}),
		local:    make(map[Announcement]int),
	}
	g.catalog = newCatalog(opts.CatalogTTL, func(topic string) {
		logger.Debug("catalog: new topic", "topic", topic)
		g.notify()
	})

	g.catT, err = ps.Join(CatalogTopic)
	if err != nil {
		_ = h.Close()
		cancel()
		return nil, fmt.Errorf("join catalog: %w", err)
	}
	g.catSub, err = g.catT.Subscribe()
	if err != nil {
		_ = h.Close()
		cancel()
		return nil, fmt.Errorf("subscribe catalog: %w", err)
	}
	go g.readCatalog()
	go g.announceLoop()

	if opts.EnableMDNS {
		service := mdns.NewMdnsService(h, opts.Rendezvous, &mdnsNotifee{host: h, logger: logger})
		if err := service.Start(); err != nil {
			logger.Warn("mdns start failed", "err", err)
		}
	}

	for _, raw := range opts.Bootstrap {
		if raw == "" {
			continue
		}
		addr, err := ma.NewMultiaddr(raw)
		if err != nil {
			logger.Warn("skip bootstrap addr", "addr", raw, "err", err)
			continue
		}
		info, err := peer.AddrInfoFromP2pAddr(addr)
		if err != nil {
			logger.Warn("skip bootstrap addr", "addr", raw, "err", err)
			continue
		}
		if err := h.Connect(ctx, *info); err != nil {
			logger.Warn("bootstrap connect failed", "peer", info.ID, "err", err)
		} else {
			logger.Info("connected bootstrap peer", "peer", info.ID)
		}
	}

	return g, nil
}

// Query counts live catalogued peers plus this participant per role.
func (g *Gossip) Query(_ context.Context, topic string) (Counts, error) {
	c := g.catalog.counts(topic)
	g.mu.Lock()
	defer g.mu.Unlock()
	var pub, sub bool
	for a := range g.local {
		if a.Topic != topic {
			continue
		}
		pub = pub || a.Role == RolePublisher
		sub = sub || a.Role == RoleSubscriber
	}
	if pub {
		c.Publishers++
	}
	if sub {
		c.Subscribers++
	}
	return c, nil
}

// Enumerate lists catalogued and local topics sorted by name. Types keep
// the order in which this participant first saw them.
func (g *Gossip) Enumerate(context.Context) ([]TopicInfo, error) {
	live := make(map[string]map[string]struct{})
	add := func(topic, typ string) {
		types, ok := live[topic]
		if !ok {
			types = make(map[string]struct{})
			live[topic] = types
		}
		if typ != "" {
			types[typ] = struct{}{}
		}
	}
	for _, ti := range g.catalog.topics() {
		add(ti.Name, "")
		for _, typ := range ti.Types {
			add(ti.Name, typ)
		}
	}
	g.mu.Lock()
	for a := range g.local {
		add(a.Topic, a.Type)
	}
	g.mu.Unlock()

	out := make([]TopicInfo, 0, len(live))
	for name, types := range live {
		out = append(out, TopicInfo{Name: name, Types: g.catalog.ordered(name, types)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (g *Gossip) Changes() <-chan struct{} {
	return g.changes
}

func (g *Gossip) Subscribe(ctx context.Context, topic, typ string) (<-chan []byte, func(), error) {
	t, err := g.getOrJoinTopic(topic)
	if err != nil {
		return nil, nil, err
	}
	sub, err := t.Subscribe()
	if err != nil {
		return nil, nil, err
	}
	g.mu.Lock()
	g.subs[sub] = struct{}{}
	g.mu.Unlock()
	a := g.acquire(topic, typ, RoleSubscriber)

	out := make(chan []byte, gossipFeedBuffer)
	subCtx, subCancel := context.WithCancel(g.ctx)
	go func() {
		defer close(out)
		for {
			msg, err := sub.Next(subCtx)
			if err != nil {
				return
			}
			select {
			case out <- append([]byte(nil), msg.Data...):
			case <-subCtx.Done():
				return
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			subCancel()
			sub.Cancel()
			g.mu.Lock()
			delete(g.subs, sub)
			g.mu.Unlock()
			g.release(a)
		})
	}
	return out, cancel, nil
}

func (g *Gossip) Publisher(_ context.Context, topic, typ string) (Sink, error) {
	t, err := g.getOrJoinTopic(topic)
	if err != nil {
		return nil, err
	}
	a := g.acquire(topic, typ, RolePublisher)
	return &gossipSink{g: g, t: t, a: a}, nil
}

// PeerID is the libp2p identity of this participant.
func (g *Gossip) PeerID() string {
	return g.host.ID().String()
}

// ListenAddrs returns dialable multiaddrs including the peer id.
func (g *Gossip) ListenAddrs() []string {
	out := make([]string, 0, len(g.host.Addrs()))
	for _, addr := range g.host.Addrs() {
		out = append(out, fmt.Sprintf("%s/p2p/%s", addr.String(), g.host.ID().String()))
	}
	return out
}

// Close leaves every topic and shuts the host down. Subscriptions are
// cancelled before their topics are closed.
func (g *Gossip) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ctx.Err() != nil {
		return nil
	}
	g.catSub.Cancel()
	for sub := range g.subs {
		sub.Cancel()
	}
	var err error
	err = multierr.Append(err, g.catT.Close())
	for name, t := range g.topics {
		if cerr := t.Close(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("close topic %s: %w", name, cerr))
		}
	}
	g.cancel()
	return multierr.Append(err, g.host.Close())
}

func (g *Gossip) notify() {
	select {
	case g.changes <- struct{}{}:
	default:
	}
}

func (g *Gossip) getOrJoinTopic(name string) (*pubsub.Topic, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ctx.Err() != nil {
		return nil, ErrClosed
	}
	if t, ok := g.topics[name]; ok {
		return t, nil
	}
	t, err := g.ps.Join(name)
	if err != nil {
		return nil, err
	}
	g.topics[name] = t
	return t, nil
}

// acquire registers a local endpoint and announces it right away.
func (g *Gossip) acquire(topic, typ string, role Role) Announcement {
	a := Announcement{Topic: topic, Type: typ, Role: role, Peer: g.host.ID().String()}
	g.catalog.noteType(topic, typ)
	g.mu.Lock()
	g.local[a]++
	fresh := g.local[a] == 1
	g.mu.Unlock()
	if fresh {
		g.announce(a)
		g.notify()
	}
	return a
}

func (g *Gossip) release(a Announcement) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.local[a] <= 1 {
		delete(g.local, a)
		return
	}
	g.local[a]--
}

func (g *Gossip) announce(a Announcement) {
	b, err := json.Marshal(a)
	if err != nil {
		return
	}
	if err := g.catT.Publish(g.ctx, b); err != nil && g.ctx.Err() == nil {
		g.logger.Debug("catalog announce failed", "topic", a.Topic, "err", err)
	}
}

func (g *Gossip) announceLoop() {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()
	for {
		select {
		case <-g.ctx.Done():
			return
		case <-ticker.C:
		}
		g.mu.Lock()
		pending := make([]Announcement, 0, len(g.local))
		for a := range g.local {
			pending = append(pending, a)
		}
		g.mu.Unlock()
		for _, a := range pending {
			g.announce(a)
		}
	}
}

func (g *Gossip) readCatalog() {
	self := g.host.ID()
	for {
		msg, err := g.catSub.Next(g.ctx)
		if err != nil {
			return
		}
		from := msg.GetFrom()
		if from == self {
			continue
		}
		var a Announcement
		if err := json.Unmarshal(msg.Data, &a); err != nil {
			g.logger.Debug("catalog: bad announcement", "from", from, "err", err)
			continue
		}
		// The signed sender wins over whatever the body claims.
		a.Peer = from.String()
		g.catalog.observe(a)
	}
}

type gossipSink struct {
	g    *Gossip
	t    *pubsub.Topic
	a    Announcement
	once sync.Once
}

func (s *gossipSink) Send(payload []byte) error {
	if s.g.ctx.Err() != nil {
		return ErrClosed
	}
	return s.t.Publish(s.g.ctx, payload)
}

func (s *gossipSink) Close() error {
	s.once.Do(func() { s.g.release(s.a) })
	return nil
}

type mdnsNotifee struct {
	host   host.Host
	logger *slog.Logger
}

func (n *mdnsNotifee) HandlePeerFound(info peer.AddrInfo) {
	if info.ID == n.host.ID() {
		return
	}
	if err := n.host.Connect(context.Background(), info); err != nil {
		n.logger.Debug("mdns connect failed", "peer", info.ID, "err", err)
	}
}

func loadOrCreateIdentityKey(path string) (p2pcrypto.PrivKey, error) {
	if b, err := os.ReadFile(path); err == nil && len(b) > 0 {
		key, err := p2pcrypto.UnmarshalPrivateKey(b)
		if err != nil {
			return nil, fmt.Errorf("unmarshal private key: %w", err)
		}
		return key, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir key dir: %w", err)
	}
	key, _, err := p2pcrypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	raw, err := p2pcrypto.MarshalPrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("marshal private key: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return nil, fmt.Errorf("write private key: %w", err)
	}
	return key, nil
}
