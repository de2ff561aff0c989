package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	KeySize   = 32
	NonceSize = 24
)

// keyInfo domain-separates frame keys. Bump it together with any change to
// the sealing format.
const keyInfo = "topicbridge/frame-key/v1"

// ErrOpen is returned for frames that fail authentication.
var ErrOpen = errors.New("open sealed frame")

// Sealer encrypts frames exchanged by the two ends of one bridge. Both ends
// hold the same certificate, so the rendezvous server in between only ever
// sees ciphertext.
type Sealer struct {
	key [KeySize]byte
}

// NewSealer derives the frame key for one topic from the certificate.
func NewSealer(certificate []byte, topic []byte) (*Sealer, error) {
	if len(certificate) == 0 {
		return nil, ErrNoCertificate
	}
	info := append([]byte(keyInfo), topic...)
	r := hkdf.New(sha256.New, certificate, nil, info)
	s := &Sealer{}
	if _, err := io.ReadFull(r, s.key[:]); err != nil {
		return nil, fmt.Errorf("derive frame key: %w", err)
	}
	return s, nil
}

// Seal encrypts plaintext. The nonce is prepended; overhead is
// NonceSize+secretbox.Overhead bytes.
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	var nonce [NonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, err
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, &s.key), nil
}

// Open decrypts a frame produced by Seal.
func (s *Sealer) Open(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < NonceSize+secretbox.Overhead {
		return nil, ErrOpen
	}
	var nonce [NonceSize]byte
	copy(nonce[:], ciphertext[:NonceSize])
	plain, ok := secretbox.Open(nil, ciphertext[NonceSize:], &nonce, &s.key)
	if !ok {
		return nil, ErrOpen
	}
	return plain, nil
}
