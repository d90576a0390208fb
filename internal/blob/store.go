// Package blob stores encrypted file payloads for the relay. Content is
// persisted verbatim; the store never decrypts.
package blob

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

var ErrNotFound = errors.New("blob not found")

// Store is the content store the relay router writes ciphertext to.
type Store interface {
	// Put persists data under a name derived from filename and returns the
	// URL path clients fetch it from.
	Put(filename string, data []byte) (string, error)

	// Get returns the stored bytes, or ErrNotFound.
	Get(name string) ([]byte, error)
}

// unsafeChars matches everything that is not allowed in a stored name.
var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9.\-_]`)

// DiskStore keeps blobs as files in a single directory.
type DiskStore struct {
	dir string
}

func NewDiskStore(dir string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &DiskStore{dir: dir}, nil
}

func (s *DiskStore) Put(filename string, data []byte) (string, error) {
	safe := unsafeChars.ReplaceAllString(filename, "_")
	name := fmt.Sprintf("%d-%s", time.Now().UnixMilli(), safe)

	if err := os.WriteFile(filepath.Join(s.dir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("write blob: %w", err)
	}
	return "/blob/" + name, nil
}

func (s *DiskStore) Get(name string) ([]byte, error) {
	// Stored names never contain separators, so anything with one is a
	// lookup for a blob that cannot exist.
	if name == "" || strings.ContainsAny(name, `/\`) || name != unsafeChars.ReplaceAllString(name, "_") {
		return nil, ErrNotFound
	}

	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read blob: %w", err)
	}
	return data, nil
}
