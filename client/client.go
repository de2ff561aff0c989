// Package client provides a participant SDK for the gossip domain: a simple
// API to publish and subscribe to local topics with channel-based delivery.
// Endpoints opened here are announced, so a bridge on the same network sees
// them when it classifies topics.
package client

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/SWAI-Ltd/topicbridge/internal/domain"
)

const (
	// DefaultMessageBuffer is the buffer size for the Messages() channel.
	DefaultMessageBuffer = 64
)

// ErrClosed is returned when using a client after Close.
var ErrClosed = errors.New("client closed")

// ReceivedMessage is a message delivered to the subscriber.
type ReceivedMessage struct {
	Topic   string
	Payload []byte
}

// Config configures the client.
type Config struct {
	// ListenAddrs are libp2p multiaddrs; empty picks ephemeral ports.
	ListenAddrs []string
	// Bootstrap lists multiaddrs of participants to dial at start.
	Bootstrap []string
	// DisableDiscovery disables mDNS (set true in containers).
	DisableDiscovery bool
	// IdentityKeyFile persists the participant identity across restarts.
	IdentityKeyFile string
	// MessageBuffer sets the capacity of Messages() channel; 0 uses DefaultMessageBuffer.
	MessageBuffer int
	Logger        *slog.Logger
}

// Client is a participant in the local gossip domain. Use Publish/Subscribe
// and read from Messages().
type Client struct {
	domain *domain.Gossip
	msgs   chan ReceivedMessage

	mu      sync.Mutex
	closed  bool
	sinks   map[string]domain.Sink
	cancels []func()
	wg      sync.WaitGroup
}

// New joins the gossip domain.
func New(ctx context.Context, cfg Config) (*Client, error) {
	buf := cfg.MessageBuffer
	if buf <= 0 {
		buf = DefaultMessageBuffer
	}
	g, err := domain.NewGossip(ctx, domain.GossipOptions{
		ListenAddrs:     cfg.ListenAddrs,
		Bootstrap:       cfg.Bootstrap,
		EnableMDNS:      !cfg.DisableDiscovery,
		IdentityKeyFile: cfg.IdentityKeyFile,
	}, cfg.Logger)
	if err != nil {
		return nil, err
	}
	return &Client{
		domain: g,
		msgs:   make(chan ReceivedMessage, buf),
		sinks:  make(map[string]domain.Sink),
	}, nil
}

// Publish sends payload on topic. The first publish on a topic registers
// this client as one of its publishers.
func (c *Client) Publish(ctx context.Context, topic, typ string, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	sink, ok := c.sinks[topic]
	if !ok {
		var err error
		sink, err = c.domain.Publisher(ctx, topic, typ)
		if err != nil {
			return err
		}
		c.sinks[topic] = sink
	}
	return sink.Send(payload)
}

// Subscribe starts delivering topic's messages on Messages().
func (c *Client) Subscribe(ctx context.Context, topic, typ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	feed, cancel, err := c.domain.Subscribe(ctx, topic, typ)
	if err != nil {
		return err
	}
	c.cancels = append(c.cancels, cancel)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for payload := range feed {
			select {
			case c.msgs <- ReceivedMessage{Topic: topic, Payload: payload}:
			default:
				// channel full; drop
			}
		}
	}()
	return nil
}

// Messages returns the channel of received messages. Read until the client is closed.
func (c *Client) Messages() <-chan ReceivedMessage {
	return c.msgs
}

// Addrs returns the participant's dialable multiaddrs.
func (c *Client) Addrs() []string {
	return c.domain.ListenAddrs()
}

// Close leaves the domain and closes the Messages() channel.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	for _, cancel := range c.cancels {
		cancel()
	}
	for _, s := range c.sinks {
		_ = s.Close()
	}
	c.mu.Unlock()
	err := c.domain.Close()
	c.wg.Wait()
	close(c.msgs)
	return err
}
