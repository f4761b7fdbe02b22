package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

type Uploader interface {
	Upload(ctx context.Context, objectName string, contentType string, r io.Reader) (storedPath string, err error)
}

type Signer interface {
	SignedGetURL(ctx context.Context, objectName string, ttl time.Duration) (string, error)
}

// MemoryStore keeps objects in process. Used by the CLI and tests.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *MemoryStore) Upload(ctx context.Context, objectName string, contentType string, r io.Reader) (string, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[objectName] = buf.Bytes()
	m.types[objectName] = contentType
	return "mem://" + objectName, nil
}

func (m *MemoryStore) SignedGetURL(ctx context.Context, objectName string, ttl time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[objectName]; !ok {
		return "", fmt.Errorf("object %q not found", objectName)
	}
	return fmt.Sprintf("mem://%s?expires=%d", objectName, int64(ttl.Seconds())), nil
}

// Object returns a stored object's bytes and content type.
func (m *MemoryStore) Object(objectName string) ([]byte, string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[objectName]
	return b, m.types[objectName], ok
}
