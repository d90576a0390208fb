// Package crypto implements the end-to-end encryption layer: one ephemeral
// ECDH P-256 key pair per negotiation attempt, a shared AES-256-GCM key
// derived from the exchanged public keys, and authenticated encryption of
// all application content. The relay only ever sees public keys, nonces and
// ciphertext.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	// NonceSize is the AES-GCM nonce length. Matches the 12-byte IV the web
	// client generates, so both ends speak the same framing.
	NonceSize = 12

	// KeySize is the derived symmetric key length (AES-256).
	KeySize = 32
)

// hkdfInfo binds derived keys to this protocol.
var hkdfInfo = []byte("manar-chat shared key v1")

var (
	ErrBadPublicKey   = errors.New("malformed remote public key")
	ErrAuthentication = errors.New("message authentication failed")
	ErrNoSharedKey    = errors.New("shared key not derived")
)

// Session holds the ephemeral key material for one negotiation attempt.
// It is owned by a single chat session and regenerated on every fresh
// negotiation; key material never leaves memory.
type Session struct {
	priv *ecdh.PrivateKey
	aead cipher.AEAD
}

// NewSession generates a fresh ECDH key pair.
func NewSession() (*Session, error) {
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key pair: %w", err)
	}
	return &Session{priv: priv}, nil
}

// PublicKey returns the local public key as an uncompressed point
// (65 bytes), the same raw encoding WebCrypto exports.
func (s *Session) PublicKey() []byte {
	return s.priv.PublicKey().Bytes()
}

// DeriveSharedKey performs ECDH against the remote public key and derives
// the symmetric session key via HKDF-SHA256. Both parties derive an
// identical key from their respective (own-private, peer-public) pair.
func (s *Session) DeriveSharedKey(remotePub []byte) error {
	if s.priv == nil {
		return ErrNoSharedKey
	}

	pub, err := ecdh.P256().NewPublicKey(remotePub)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadPublicKey, err)
	}

	secret, err := s.priv.ECDH(pub)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadPublicKey, err)
	}

	key := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, hkdfInfo), key); err != nil {
		return fmt.Errorf("derive shared key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("derive shared key: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("derive shared key: %w", err)
	}

	s.aead = gcm
	return nil
}

// Ready reports whether a shared key has been derived.
func (s *Session) Ready() bool {
	return s != nil && s.aead != nil
}

// Encrypt seals plaintext with a fresh random nonce. The nonce is never
// reused for a given key.
func (s *Session) Encrypt(plain []byte) (nonce, ciphertext []byte, err error) {
	if !s.Ready() {
		return nil, nil, ErrNoSharedKey
	}

	nonce = make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, err
	}

	return nonce, s.aead.Seal(nil, nonce, plain, nil), nil
}

// Decrypt opens a sealed message. Tampered ciphertext, a wrong key or a bad
// nonce all fail with ErrAuthentication; corrupted plaintext is never
// returned.
func (s *Session) Decrypt(nonce, ciphertext []byte) ([]byte, error) {
	if !s.Ready() {
		return nil, ErrNoSharedKey
	}
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("%w: bad nonce length %d", ErrAuthentication, len(nonce))
	}

	plain, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrAuthentication
	}
	return plain, nil
}

// Close discards the key material. The session is unusable afterwards.
func (s *Session) Close() {
	s.priv = nil
	s.aead = nil
}
