package bridge

import (
	"context"

	"github.com/SWAI-Ltd/topicbridge/internal/naming"
)

// Stream is a bidirectional, ordered frame channel to one remote bridge.
// ReadFrame returns io.EOF once the remote side is gone. Close may be called
// more than once.
type Stream interface {
	ReadFrame() ([]byte, error)
	WriteFrame(payload []byte) error
	Close() error
}

// Transport reaches remote bridges by name. A nil target advertises self
// and waits for someone to attach; otherwise Register connects to target.
type Transport interface {
	Register(ctx context.Context, self naming.PeerName, target *naming.PeerName) (Stream, error)
}
