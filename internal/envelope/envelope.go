// Package envelope defines the encrypted application messages carried over
// the direct channel. Every envelope is sealed before it reaches any
// transport; the codec itself never sees plaintext.
package envelope

import (
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Envelope kinds.
const (
	KindText = "text"
	KindFile = "file"
)

var ErrUnknownKind = errors.New("unknown envelope kind")

// Envelope is one tagged, encrypted unit of application content.
// For KindText the cipher seals UTF-8 text; for KindFile it seals an
// encoded FileMeta.
type Envelope struct {
	Kind   string `msgpack:"kind"`
	IV     []byte `msgpack:"iv"`
	Cipher []byte `msgpack:"cipher"`
}

// FileMeta is the plaintext a file envelope seals. Exactly one of URL
// (blob-backed, ciphertext stored on the relay) or Data (inline bytes)
// is set. IV is the nonce of the stored blob ciphertext, unused for
// inline data.
type FileMeta struct {
	Name string `msgpack:"name"`
	Mime string `msgpack:"mime"`
	URL  string `msgpack:"url,omitempty"`
	IV   []byte `msgpack:"iv,omitempty"`
	Data []byte `msgpack:"data,omitempty"`
}

// Encode serializes an envelope for the wire.
func Encode(e Envelope) ([]byte, error) {
	if e.Kind != KindText && e.Kind != KindFile {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, e.Kind)
	}
	return msgpack.Marshal(e)
}

// Decode parses a wire envelope, rejecting unknown kinds.
func Decode(b []byte) (Envelope, error) {
	var e Envelope
	if err := msgpack.Unmarshal(b, &e); err != nil {
		return Envelope{}, err
	}
	if e.Kind != KindText && e.Kind != KindFile {
		return Envelope{}, fmt.Errorf("%w: %q", ErrUnknownKind, e.Kind)
	}
	return e, nil
}

// EncodeFileMeta serializes file metadata before it is sealed.
func EncodeFileMeta(m FileMeta) ([]byte, error) {
	return msgpack.Marshal(m)
}

// DecodeFileMeta parses decrypted file metadata.
func DecodeFileMeta(b []byte) (FileMeta, error) {
	var m FileMeta
	if err := msgpack.Unmarshal(b, &m); err != nil {
		return FileMeta{}, err
	}
	return m, nil
}
