package mesh

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/SWAI-Ltd/topicbridge/internal/logging"
	"github.com/SWAI-Ltd/topicbridge/internal/naming"
	"github.com/SWAI-Ltd/topicbridge/internal/proto"
	"github.com/SWAI-Ltd/topicbridge/internal/transport"
)

// RendezvousServer pairs bridges by name and splices their streams. It
// routes on names only; payloads pass through sealed.
type RendezvousServer struct {
	server *transport.Server
	logger *slog.Logger

	mu          sync.Mutex
	advertisers map[string]*waiter   // name -> parked advertiser
	connectors  map[string][]*waiter // target -> connectors waiting for it
}

const rejectLinger = 5 * time.Second

type waiter struct {
	conn   *transport.Conn
	name   string
	paired chan struct{}
}

// RunRendezvous starts a rendezvous server on addr. It stops accepting when
// ctx ends.
func RunRendezvous(ctx context.Context, addr string, logger *slog.Logger) (*RendezvousServer, error) {
	r := &RendezvousServer{
		logger:      logging.Subsystem(logger, "rendezvous"),
		advertisers: make(map[string]*waiter),
		connectors:  make(map[string][]*waiter),
	}
	server, err := transport.ListenQUIC(ctx, addr, r.handleConn)
	if err != nil {
		return nil, err
	}
	r.server = server
	r.logger.Info("rendezvous listening", "addr", server.LocalAddr())
	return r, nil
}

// Addr returns the listen address.
func (r *RendezvousServer) Addr() string {
	return r.server.LocalAddr()
}

// Pending reports how many advertisers and connectors are waiting.
func (r *RendezvousServer) Pending() (advertisers, connectors int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ws := range r.connectors {
		connectors += len(ws)
	}
	return len(r.advertisers), connectors
}

func (r *RendezvousServer) handleConn(c *transport.Conn) {
	var f proto.Frame
	if err := c.RecvFrame(&f); err != nil {
		r.logger.Debug("register not received", "remote", c.RemoteAddr(), "err", err)
		c.Close()
		return
	}
	reg := f.Register
	if f.Type != proto.FrameTypeRegister || reg == nil || !validName(reg.Name) ||
		(reg.Target != "" && !validName(reg.Target)) {
		r.reject(c, proto.CodeBadRequest, "expected register frame with hex names")
		return
	}

	w := &waiter{conn: c, name: reg.Name, paired: make(chan struct{})}
	if reg.Target == "" {
		r.advertise(w)
	} else {
		r.connect(w, reg.Target)
	}
}

// advertise parks w under its name until a connector arrives.
func (r *RendezvousServer) advertise(w *waiter) {
	r.mu.Lock()
	if _, taken := r.advertisers[w.name]; taken {
		r.mu.Unlock()
		r.reject(w.conn, proto.CodeNameTaken, "name already advertised: "+w.name)
		return
	}
	for {
		peer := r.popConnectorLocked(w.name)
		if peer == nil {
			break
		}
		r.mu.Unlock()
		if r.pair(peer, w) {
			return
		}
		r.mu.Lock()
	}
	r.advertisers[w.name] = w
	r.mu.Unlock()
	r.logger.Debug("advertiser parked", "name", short(w.name), "remote", w.conn.RemoteAddr())
	r.park(w, func() {
		if r.advertisers[w.name] == w {
			delete(r.advertisers, w.name)
		}
	})
}

// connect pairs w with the advertiser of target, or waits for one.
func (r *RendezvousServer) connect(w *waiter, target string) {
	r.mu.Lock()
	for {
		peer, ok := r.advertisers[target]
		if !ok {
			break
		}
		delete(r.advertisers, target)
		r.mu.Unlock()
		if r.pair(peer, w) {
			return
		}
		r.mu.Lock()
	}
	r.connectors[target] = append(r.connectors[target], w)
	r.mu.Unlock()
	r.logger.Debug("connector waiting", "target", short(target), "remote", w.conn.RemoteAddr())
	r.park(w, func() {
		ws := r.connectors[target]
		for i, other := range ws {
			if other == w {
				ws = append(ws[:i:i], ws[i+1:]...)
				break
			}
		}
		if len(ws) == 0 {
			delete(r.connectors, target)
		} else {
			r.connectors[target] = ws
		}
	})
}

func (r *RendezvousServer) popConnectorLocked(name string) *waiter {
	ws := r.connectors[name]
	if len(ws) == 0 {
		return nil
	}
	w := ws[0]
	if len(ws) == 1 {
		delete(r.connectors, name)
	} else {
		r.connectors[name] = ws[1:]
	}
	return w
}

// park blocks until w is paired or its connection goes away, in which case
// remove runs under the lock.
func (r *RendezvousServer) park(w *waiter, remove func()) {
	select {
	case <-w.paired:
	case <-w.conn.Done():
		r.mu.Lock()
		remove()
		r.mu.Unlock()
		r.logger.Debug("waiter left", "name", short(w.name))
		w.conn.Close()
	}
}

// pair announces the pairing to both sides and splices them. It reports
// false if parked has already gone, leaving fresh free to try another peer.
func (r *RendezvousServer) pair(parked, fresh *waiter) bool {
	if err := parked.conn.SendFrame(&proto.Frame{Type: proto.FrameTypePaired,
		Paired: &proto.PairedFrame{Peer: fresh.name}}); err != nil {
		parked.conn.Close()
		return false
	}
	close(parked.paired)
	if err := fresh.conn.SendFrame(&proto.Frame{Type: proto.FrameTypePaired,
		Paired: &proto.PairedFrame{Peer: parked.name}}); err != nil {
		fresh.conn.Close()
		parked.conn.Close()
		return true
	}
	r.logger.Info("bridge paired", "parked", short(parked.name), "fresh", short(fresh.name))
	go r.splice(parked, fresh)
	return true
}

func (r *RendezvousServer) splice(a, b *waiter) {
	var wg sync.WaitGroup
	wg.Add(2)
	pipe := func(dst, src *transport.Conn) {
		defer wg.Done()
		if _, err := io.Copy(dst.Stream, src.Stream); err != nil && !errors.Is(err, io.EOF) {
			r.logger.Debug("splice ended", "err", err)
		}
		_ = dst.CloseWrite()
	}
	go pipe(b.conn, a.conn)
	go pipe(a.conn, b.conn)
	wg.Wait()
	_ = a.conn.Shutdown(rejectLinger)
	_ = b.conn.Shutdown(rejectLinger)
	r.logger.Info("bridge unpaired", "name", short(a.name))
}

func (r *RendezvousServer) reject(c *transport.Conn, code, msg string) {
	r.logger.Warn("register rejected", "remote", c.RemoteAddr(), "code", code, "msg", msg)
	_ = c.SendFrame(&proto.Frame{Type: proto.FrameTypeError, Error: &proto.ErrorFrame{Code: code, Message: msg}})
	_ = c.CloseWrite()
	// Let the error frame drain before the connection goes.
	select {
	case <-c.Done():
	case <-time.After(rejectLinger):
		c.Close()
	}
}

func validName(s string) bool {
	_, err := naming.Parse(s)
	return err == nil
}

func short(name string) string {
	if len(name) > 8 {
		return name[:8]
	}
	return name
}
