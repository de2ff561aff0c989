// Package mesh connects bridges across hosts through a rendezvous server.
package mesh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/SWAI-Ltd/topicbridge/internal/bridge"
	"github.com/SWAI-Ltd/topicbridge/internal/crypto"
	"github.com/SWAI-Ltd/topicbridge/internal/logging"
	"github.com/SWAI-Ltd/topicbridge/internal/naming"
	"github.com/SWAI-Ltd/topicbridge/internal/proto"
	"github.com/SWAI-Ltd/topicbridge/internal/transport"
	"github.com/quic-go/quic-go"
)

// closeLinger bounds how long a closed stream waits for its queued frames
// to be acknowledged.
const closeLinger = 5 * time.Second

// ErrRejected is returned when the rendezvous server refuses a registration.
var ErrRejected = errors.New("rendezvous rejected registration")

// Client reaches remote bridges through one rendezvous server.
type Client struct {
	addr        string
	certificate []byte
	logger      *slog.Logger
}

// NewClient returns a transport that registers with the server at addr.
// Frames are sealed with keys derived from certificate.
func NewClient(addr string, certificate []byte, logger *slog.Logger) *Client {
	return &Client{addr: addr, certificate: certificate, logger: logging.Subsystem(logger, "mesh")}
}

// Addr returns the rendezvous server address.
func (c *Client) Addr() string { return c.addr }

// Register implements bridge.Transport. It blocks until the server pairs
// this registration or ctx ends, in which case ctx's error is returned.
func (c *Client) Register(ctx context.Context, self naming.PeerName, target *naming.PeerName) (bridge.Stream, error) {
	topic := self
	reg := &proto.RegisterFrame{Name: self.String()}
	if target != nil {
		topic = *target
		reg.Target = target.String()
	}
	sealer, err := crypto.NewSealer(c.certificate, topic[:])
	if err != nil {
		return nil, err
	}

	conn, err := transport.DialQUIC(ctx, c.addr)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("dial rendezvous %s: %w", c.addr, err)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })

	peer, err := c.handshake(conn, reg)
	if !stop() {
		// ctx ended first and the connection is gone.
		_ = conn.Close()
		return nil, ctx.Err()
	}
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	c.logger.Debug("paired", "name", topic.Short(), "peer", short(peer))
	return &sealedStream{conn: conn, sealer: sealer}, nil
}

func (c *Client) handshake(conn *transport.Conn, reg *proto.RegisterFrame) (string, error) {
	if err := conn.SendFrame(&proto.Frame{Type: proto.FrameTypeRegister, Register: reg}); err != nil {
		return "", fmt.Errorf("send register: %w", err)
	}
	var f proto.Frame
	if err := conn.RecvFrame(&f); err != nil {
		return "", fmt.Errorf("await pairing: %w", err)
	}
	switch {
	case f.Type == proto.FrameTypePaired && f.Paired != nil:
		return f.Paired.Peer, nil
	case f.Type == proto.FrameTypeError && f.Error != nil:
		return "", fmt.Errorf("%w: %w", ErrRejected, f.Error)
	default:
		return "", fmt.Errorf("unexpected frame type %d", f.Type)
	}
}

// sealedStream carries sealed data frames over a paired connection.
type sealedStream struct {
	conn   *transport.Conn
	sealer *crypto.Sealer
	once   sync.Once
	err    error
}

func (s *sealedStream) ReadFrame() ([]byte, error) {
	var f proto.Frame
	for {
		if err := s.conn.RecvFrame(&f); err != nil {
			if isClosed(err) {
				return nil, io.EOF
			}
			return nil, err
		}
		if f.Type == proto.FrameTypeData && f.Data != nil {
			break
		}
	}
	return s.sealer.Open(f.Data.Payload)
}

func (s *sealedStream) WriteFrame(payload []byte) error {
	sealed, err := s.sealer.Seal(payload)
	if err != nil {
		return err
	}
	return s.conn.SendFrame(&proto.Frame{Type: proto.FrameTypeData, Data: &proto.DataFrame{Payload: sealed}})
}

func (s *sealedStream) Close() error {
	s.once.Do(func() { s.err = s.conn.Shutdown(closeLinger) })
	return s.err
}

// isClosed reports a graceful end of the connection from either side.
func isClosed(err error) bool {
	if errors.Is(err, io.EOF) {
		return true
	}
	var appErr *quic.ApplicationError
	if errors.As(err, &appErr) && appErr.ErrorCode == 0 {
		return true
	}
	var streamErr *quic.StreamError
	return errors.As(err, &streamErr) && streamErr.ErrorCode == 0
}
