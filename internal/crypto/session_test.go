package crypto

import (
	"bytes"
	"errors"
	"testing"
)

// pair returns two sessions that have completed the key exchange.
func pair(t *testing.T) (*Session, *Session) {
	t.Helper()

	a, err := NewSession()
	if err != nil {
		t.Fatalf("new session a: %v", err)
	}
	b, err := NewSession()
	if err != nil {
		t.Fatalf("new session b: %v", err)
	}

	if err := a.DeriveSharedKey(b.PublicKey()); err != nil {
		t.Fatalf("derive a: %v", err)
	}
	if err := b.DeriveSharedKey(a.PublicKey()); err != nil {
		t.Fatalf("derive b: %v", err)
	}
	return a, b
}

func TestRoundtrip(t *testing.T) {
	a, b := pair(t)

	plain := []byte("salam azizam")
	nonce, cipher, err := a.Encrypt(plain)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if len(nonce) != NonceSize {
		t.Errorf("nonce length %d, want %d", len(nonce), NonceSize)
	}
	if bytes.Contains(cipher, plain) {
		t.Error("ciphertext leaks plaintext")
	}

	got, err := b.Decrypt(nonce, cipher)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Errorf("decrypted %q, want %q", got, plain)
	}
}

func TestKeySymmetry(t *testing.T) {
	a, b := pair(t)

	// Each direction must work with the single derived key.
	for i, sender := range []*Session{a, b} {
		receiver := b
		if i == 1 {
			receiver = a
		}
		nonce, cipher, err := sender.Encrypt([]byte("ping"))
		if err != nil {
			t.Fatalf("encrypt %d: %v", i, err)
		}
		if _, err := receiver.Decrypt(nonce, cipher); err != nil {
			t.Fatalf("decrypt %d: %v", i, err)
		}
	}
}

func TestTamperedCiphertext(t *testing.T) {
	a, b := pair(t)

	nonce, cipher, err := a.Encrypt([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}

	cipher[0] ^= 0xFF
	if _, err := b.Decrypt(nonce, cipher); !errors.Is(err, ErrAuthentication) {
		t.Errorf("tampered ciphertext: got %v, want ErrAuthentication", err)
	}

	cipher[0] ^= 0xFF
	nonce[0] ^= 0xFF
	if _, err := b.Decrypt(nonce, cipher); !errors.Is(err, ErrAuthentication) {
		t.Errorf("tampered nonce: got %v, want ErrAuthentication", err)
	}
}

func TestWrongKey(t *testing.T) {
	a, _ := pair(t)
	_, c := pair(t)

	nonce, cipher, err := a.Encrypt([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Decrypt(nonce, cipher); !errors.Is(err, ErrAuthentication) {
		t.Errorf("wrong key: got %v, want ErrAuthentication", err)
	}
}

func TestBadNonceLength(t *testing.T) {
	a, b := pair(t)

	_, cipher, err := a.Encrypt([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.Decrypt([]byte{1, 2, 3}, cipher); !errors.Is(err, ErrAuthentication) {
		t.Errorf("short nonce: got %v, want ErrAuthentication", err)
	}
}

func TestMalformedPublicKey(t *testing.T) {
	s, err := NewSession()
	if err != nil {
		t.Fatal(err)
	}

	for _, bad := range [][]byte{nil, {}, {0x04, 0x01}, make([]byte, 65)} {
		if err := s.DeriveSharedKey(bad); !errors.Is(err, ErrBadPublicKey) {
			t.Errorf("pubkey %d bytes: got %v, want ErrBadPublicKey", len(bad), err)
		}
	}
	if s.Ready() {
		t.Error("session ready after failed derivations")
	}
}

func TestEncryptBeforeDerive(t *testing.T) {
	s, err := NewSession()
	if err != nil {
		t.Fatal(err)
	}

	if _, _, err := s.Encrypt([]byte("x")); !errors.Is(err, ErrNoSharedKey) {
		t.Errorf("encrypt: got %v, want ErrNoSharedKey", err)
	}
	if _, err := s.Decrypt(make([]byte, NonceSize), []byte("x")); !errors.Is(err, ErrNoSharedKey) {
		t.Errorf("decrypt: got %v, want ErrNoSharedKey", err)
	}
}

func TestNonceUniqueness(t *testing.T) {
	a, _ := pair(t)

	seen := make(map[string]bool)
	for i := 0; i < 64; i++ {
		nonce, _, err := a.Encrypt([]byte("same plaintext"))
		if err != nil {
			t.Fatal(err)
		}
		if seen[string(nonce)] {
			t.Fatal("nonce repeated")
		}
		seen[string(nonce)] = true
	}
}

func TestCloseDiscardsKeys(t *testing.T) {
	a, _ := pair(t)

	a.Close()
	if a.Ready() {
		t.Error("session ready after close")
	}
	if _, _, err := a.Encrypt([]byte("x")); !errors.Is(err, ErrNoSharedKey) {
		t.Errorf("encrypt after close: got %v, want ErrNoSharedKey", err)
	}
}
