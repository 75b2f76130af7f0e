// Package objectstore holds the raw derivative bytes referenced by asset rows.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
)

// ErrNotFound is returned by Get when no object exists at the path.
var ErrNotFound = errors.New("object not found")

// DeleteResult tells a removed object apart from one that was already gone.
// Both count as success.
type DeleteResult int

const (
	Deleted DeleteResult = iota
	NotFound
)

func (r DeleteResult) String() string {
	if r == NotFound {
		return "not_found"
	}
	return "deleted"
}

type Store interface {
	// Put stores data and returns the path it was stored under.
	Put(ctx context.Context, path string, data []byte) (string, error)
	Get(ctx context.Context, path string) ([]byte, error)
	// Delete is idempotent: a missing object yields NotFound and no error.
	Delete(ctx context.Context, path string) (DeleteResult, error)
	Close() error
}

func NewStore(storeType, location, bucket, prefix, endpoint string) (Store, error) {
	switch storeType {
	case "", "memory":
		return NewMemoryStore(), nil
	case "badger":
		return NewBadgerStore(location)
	case "gcs":
		return NewGCSStore(context.Background(), bucket, prefix, endpoint)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", storeType)
	}
}

func cleanPath(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", errors.New("object path is empty")
	}
	p = strings.TrimPrefix(path.Clean("/"+p), "/")
	if p == "" || p == "." {
		return "", fmt.Errorf("invalid object path %q", p)
	}
	return p, nil
}

func contentTypeForPath(p string) string {
	switch strings.ToLower(path.Ext(p)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	case ".svg":
		return "image/svg+xml"
	default:
		return "application/octet-stream"
	}
}

// MemoryStore keeps objects in a map. It backs tests and single-process demos.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

func (m *MemoryStore) Put(ctx context.Context, p string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key, err := cleanPath(p)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), data...)
	return key, nil
}

func (m *MemoryStore) Get(ctx context.Context, p string) ([]byte, error) {
	key, err := cleanPath(p)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryStore) Delete(ctx context.Context, p string) (DeleteResult, error) {
	if err := ctx.Err(); err != nil {
		return Deleted, err
	}
	key, err := cleanPath(p)
	if err != nil {
		return Deleted, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[key]; !ok {
		return NotFound, nil
	}
	delete(m.objects, key)
	return Deleted, nil
}

// Len reports the number of stored objects.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

func (m *MemoryStore) Close() error { return nil }
