package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
)

// ErrNotFound is returned when a key has no blob behind it.
var ErrNotFound = errors.New("blob not found")

// BlobStore holds the bytes behind the keys owned by image records.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Release(ctx context.Context, key string) error
}

// MemoryStore keeps blobs in process memory. Used by the batch tool and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

func (s *MemoryStore) Put(ctx context.Context, key string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.blobs[cleanKey] = append([]byte(nil), data...)
	s.mu.Unlock()
	return cleanKey, nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	data, ok := s.blobs[key]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("storage: %s: %w", key, ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}

func (s *MemoryStore) Release(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[key]; !ok {
		return fmt.Errorf("storage: %s: %w", key, ErrNotFound)
	}
	delete(s.blobs, key)
	return nil
}

// Len reports how many blobs are currently held.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}

// OriginalKey builds the key for an uploaded original.
func OriginalKey(imageID, filename string) string {
	return path.Join("originals", imageID, "source"+strings.ToLower(path.Ext(filename)))
}

// EnhancedKey builds the key for an enhancement result.
func EnhancedKey(imageID, versionID, mime string) string {
	ext := ExtensionForMIME(mime)
	if ext == "" {
		ext = ".bin"
	}
	return path.Join("enhanced", imageID, versionID+ext)
}

// ExtensionForMIME maps common image MIME types to file extensions.
func ExtensionForMIME(mime string) string {
	switch strings.ToLower(strings.TrimSpace(mime)) {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ""
	}
}

var _ BlobStore = (*MemoryStore)(nil)
