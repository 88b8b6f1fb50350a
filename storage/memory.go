package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

// MemoryStorage is an in-memory Storage used by tests. It enforces the
// write-once contract: writing an existing key fails.
type MemoryStorage struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{objects: make(map[string][]byte)}
}

func (m *MemoryStorage) Write(ctx context.Context, filepath string, data io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	buf, err := io.ReadAll(data)
	if err != nil {
		return fmt.Errorf("copying data: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.objects[filepath]; exists {
		return fmt.Errorf("object %q already exists", filepath)
	}
	m.objects[filepath] = buf
	return nil
}

func (m *MemoryStorage) Read(ctx context.Context, filepath string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	data, exists := m.objects[filepath]
	if !exists {
		return nil, fmt.Errorf("object %q not found", filepath)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *MemoryStorage) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	var files []string
	for key := range m.objects {
		if strings.HasPrefix(key, prefix) {
			files = append(files, key)
		}
	}
	sort.Strings(files)
	return files, nil
}
