// Package discovery finds a rendezvous server on the local network.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/betamos/zeroconf"
)

const (
	ServiceType = "_topicbridge._udp"
	Domain      = "local."
	DefaultPort = 6121
)

// ErrNotFound is returned when no rendezvous server answered before the
// lookup context ended.
var ErrNotFound = errors.New("no rendezvous server found")

// Server is one advertised rendezvous server
type Server struct {
	Name string
	Addr string
	Port int
}

// Announcer publishes this process as a rendezvous server
type Announcer struct {
	client *zeroconf.Client
}

// Announce advertises a rendezvous server listening on port.
func Announce(instance string, port int) (*Announcer, error) {
	if port <= 0 || port > 65535 {
		port = DefaultPort
	}
	self := zeroconf.NewService(zeroconf.NewType(ServiceType), instance, uint16(port))
	client, err := zeroconf.New().Publish(self).Open()
	if err != nil {
		return nil, fmt.Errorf("zeroconf: %w", err)
	}
	return &Announcer{client: client}, nil
}

// Close stops announcing
func (a *Announcer) Close() error {
	if a.client != nil {
		return a.client.Close()
	}
	return nil
}

// Lookup browses for rendezvous servers and returns the first one found.
func Lookup(ctx context.Context) (Server, error) {
	found := make(chan Server, 1)
	client, err := zeroconf.New().
		Browse(func(e zeroconf.Event) {
			if e.Op != zeroconf.OpAdded {
				return
			}
			if s, ok := fromEvent(e); ok {
				select {
				case found <- s:
				default:
				}
			}
		}, zeroconf.NewType(ServiceType)).
		Open()
	if err != nil {
		return Server{}, fmt.Errorf("zeroconf: %w", err)
	}
	defer client.Close()

	select {
	case s := <-found:
		return s, nil
	case <-ctx.Done():
		return Server{}, fmt.Errorf("%w: %w", ErrNotFound, ctx.Err())
	}
}

func fromEvent(e zeroconf.Event) (Server, bool) {
	var addr string
	for _, a := range e.Addrs {
		if !a.IsValid() {
			continue
		}
		// Prefer IPv4
		if a.Is4() || addr == "" {
			addr = net.JoinHostPort(a.String(), strconv.Itoa(int(e.Port)))
		}
		if a.Is4() {
			break
		}
	}
	if addr == "" {
		return Server{}, false
	}
	return Server{Name: e.Name, Addr: addr, Port: int(e.Port)}, true
}

// ParseAddr splits "host:port"
func ParseAddr(s string) (host string, port int, err error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return "", 0, err
	}
	port, err = strconv.Atoi(portStr)
	if err != nil {
		return "", 0, err
	}
	return host, port, nil
}
