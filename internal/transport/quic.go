package transport

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"io"
	"math/big"
	"sync"
	"time"

	"github.com/SWAI-Ltd/topicbridge/internal/proto"
	"github.com/quic-go/quic-go"
)

// Bridges can sit idle for long stretches between messages, so keep the
// connection alive well past the QUIC default.
var defaultQuicConfig = &quic.Config{
	MaxIdleTimeout:  5 * time.Minute,
	KeepAlivePeriod: 30 * time.Second,
}

const (
	AddrLADDR = ":0"
	ProtoID   = "topicbridge/1"
)

// Conn wraps a QUIC connection with frame read/write
type Conn struct {
	Stream *quic.Stream
	Conn   *quic.Conn

	wmu sync.Mutex
}

// NewConn wraps a QUIC stream and its connection
func NewConn(stream *quic.Stream, conn *quic.Conn) *Conn {
	return &Conn{Stream: stream, Conn: conn}
}

// RemoteAddr returns the peer address
func (c *Conn) RemoteAddr() string {
	if c.Conn != nil {
		return c.Conn.RemoteAddr().String()
	}
	return "unknown"
}

// SendFrame encodes and sends a frame. Safe for concurrent use.
func (c *Conn) SendFrame(f *proto.Frame) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return f.Encode(c.Stream)
}

// RecvFrame reads and decodes a frame
func (c *Conn) RecvFrame(f *proto.Frame) error {
	return f.Decode(c.Stream)
}

// Done is closed once the underlying connection is gone.
func (c *Conn) Done() <-chan struct{} {
	return c.Conn.Context().Done()
}

// CloseWrite closes the send direction; the peer reads io.EOF.
func (c *Conn) CloseWrite() error {
	return c.Stream.Close()
}

// Shutdown closes the send direction and abandons reads at once, then tears
// the connection down when the peer goes away or linger passes. Data already
// written still reaches the peer.
func (c *Conn) Shutdown(linger time.Duration) error {
	c.Stream.CancelRead(0)
	err := c.Stream.Close()
	go func() {
		t := time.NewTimer(linger)
		defer t.Stop()
		select {
		case <-c.Conn.Context().Done():
		case <-t.C:
		}
		_ = c.Conn.CloseWithError(0, "")
	}()
	return err
}

// Close tears down the stream and the connection. Unsent data is lost.
func (c *Conn) Close() error {
	_ = c.Stream.Close()
	return c.Conn.CloseWithError(0, "")
}

// generateTLSConfig creates a self-signed cert; peers authenticate each
// other through sealed frames, not TLS.
func generateTLSConfig() (*tls.Config, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	template := x509.Certificate{
		SerialNumber:          big.NewInt(1),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	tlsCert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{tlsCert},
		NextProtos:   []string{ProtoID},
	}, nil
}

// Server runs a QUIC listener
type Server struct {
	Listener *quic.Listener
	Handler  func(*Conn)
}

// ListenQUIC starts a QUIC server on addr with handler set before accepting.
// Each accepted connection carries exactly one stream. The listener closes
// when ctx ends.
func ListenQUIC(ctx context.Context, addr string, handler func(*Conn)) (*Server, error) {
	tlsCfg, err := generateTLSConfig()
	if err != nil {
		return nil, err
	}
	listener, err := quic.ListenAddr(addr, tlsCfg, defaultQuicConfig)
	if err != nil {
		return nil, err
	}
	s := &Server{Listener: listener, Handler: handler}
	go s.acceptLoop(ctx)
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()
	return s, nil
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		sess, err := s.Listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		go func() {
			stream, err := sess.AcceptStream(ctx)
			if err != nil {
				_ = sess.CloseWithError(0, "")
				return
			}
			if s.Handler != nil {
				s.Handler(NewConn(stream, sess))
			} else {
				io.Copy(io.Discard, stream)
			}
		}()
	}
}

// LocalAddr returns the address of the QUIC listener
func (s *Server) LocalAddr() string {
	return s.Listener.Addr().String()
}

// DialQUIC connects to a QUIC server (skips cert verification; payloads are
// sealed end to end)
func DialQUIC(ctx context.Context, addr string) (*Conn, error) {
	tlsCfg := &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{ProtoID},
	}
	sess, err := quic.DialAddr(ctx, addr, tlsCfg, defaultQuicConfig)
	if err != nil {
		return nil, err
	}
	stream, err := sess.OpenStreamSync(ctx)
	if err != nil {
		sess.CloseWithError(0, "")
		return nil, err
	}
	return NewConn(stream, sess), nil
}
