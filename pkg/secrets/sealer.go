// Package secrets seals small secrets (per-student provider API keys) for
// storage at rest using NaCl secretbox.
package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	keySize   = 32
	nonceSize = 24
)

var (
	// ErrInvalidKey indicates the configured key is not a base64-encoded 32-byte value
	ErrInvalidKey = errors.New("encryption key must be 32 bytes, base64-encoded")

	// ErrCorruptCiphertext indicates a token that cannot be decrypted with this key
	ErrCorruptCiphertext = errors.New("ciphertext corrupt or sealed with a different key")
)

// Sealer encrypts and decrypts short strings with a static symmetric key.
// Tokens are base64(nonce || box); each Seal call draws a fresh nonce.
type Sealer struct {
	key [keySize]byte
}

// NewSealer builds a Sealer from a base64-encoded 32-byte key.
func NewSealer(encodedKey string) (*Sealer, error) {
	raw, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(raw) != keySize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidKey, len(raw))
	}
	s := &Sealer{}
	copy(s.key[:], raw)
	return s, nil
}

// Seal encrypts plaintext and returns a storage token.
func (s *Sealer) Seal(plaintext string) (string, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &s.key)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a token produced by Seal.
func (s *Sealer) Open(token string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCorruptCiphertext, err)
	}
	if len(raw) < nonceSize+secretbox.Overhead {
		return "", ErrCorruptCiphertext
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	plain, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &s.key)
	if !ok {
		return "", ErrCorruptCiphertext
	}
	return string(plain), nil
}

// SealMap encrypts every value of m, leaving keys readable. Used for the
// provider->api_key maps on cognitive profiles.
func (s *Sealer) SealMap(m map[string]string) (map[string]string, error) {
	if m == nil {
		return nil, nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		sealed, err := s.Seal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to seal %q: %w", k, err)
		}
		out[k] = sealed
	}
	return out, nil
}

// OpenMap decrypts every value of a map produced by SealMap.
func (s *Sealer) OpenMap(m map[string]string) (map[string]string, error) {
	if m == nil {
		return nil, nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		plain, err := s.Open(v)
		if err != nil {
			return nil, fmt.Errorf("failed to open %q: %w", k, err)
		}
		out[k] = plain
	}
	return out, nil
}

// GenerateKey returns a fresh base64-encoded key for deployment setup.
func GenerateKey() (string, error) {
	raw := make([]byte, keySize)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}
