// Package naming derives the content-addressed peer names used for
// rendezvous. Two hosts holding the same certificate compute the same name
// for the same topic without talking to each other.
package naming

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// Size is the length of a PeerName in bytes.
const Size = sha256.Size

// Version is hashed into every derived name. Changing the encoding below
// without bumping it breaks rendezvous with older peers.
const Version = "topicbridge/peer-name/v1"

// PeerName identifies a bridge endpoint on the overlay.
type PeerName [Size]byte

// Derive returns the canonical name for a topic under a certificate.
func Derive(topicName, topicType string, certificate []byte) PeerName {
	h := sha256.New()
	h.Write([]byte(Version))
	writeField(h, []byte(topicName))
	writeField(h, []byte(topicType))
	writeField(h, certificate)
	var n PeerName
	copy(n[:], h.Sum(nil))
	return n
}

func writeField(h interface{ Write([]byte) (int, error) }, b []byte) {
	var l [4]byte
	binary.BigEndian.PutUint32(l[:], uint32(len(b)))
	h.Write(l[:])
	h.Write(b)
}

// Random returns a fresh throwaway name, used as the self identity of a
// connecting bridge.
func Random() PeerName {
	var n PeerName
	if _, err := rand.Read(n[:]); err != nil {
		panic(fmt.Sprintf("naming: read random: %v", err))
	}
	return n
}

// Parse decodes the hex form produced by String.
func Parse(s string) (PeerName, error) {
	var n PeerName
	b, err := hex.DecodeString(s)
	if err != nil {
		return n, fmt.Errorf("parse peer name: %w", err)
	}
	if len(b) != Size {
		return n, fmt.Errorf("parse peer name: want %d bytes, got %d", Size, len(b))
	}
	copy(n[:], b)
	return n, nil
}

func (n PeerName) String() string {
	return hex.EncodeToString(n[:])
}

// Short is the first 8 hex characters, for logs.
func (n PeerName) Short() string {
	return n.String()[:8]
}

// IsZero reports whether n is the zero name.
func (n PeerName) IsZero() bool {
	return n == PeerName{}
}
