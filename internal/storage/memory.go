package storage

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"
)

type memoryObject struct {
	data        []byte
	contentType string
}

// MemoryStore 进程内对象存储，用于测试和本地调试
type MemoryStore struct {
	bucket  string
	mu      sync.RWMutex
	objects map[string]memoryObject
	puts    int
}

func NewMemoryStore(bucket string) *MemoryStore {
	return &MemoryStore{
		bucket:  bucket,
		objects: make(map[string]memoryObject),
	}
}

func (m *MemoryStore) Put(ctx context.Context, key, contentType string, data []byte) error {
	buf := make([]byte, len(data))
	copy(buf, data)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = memoryObject{data: buf, contentType: contentType}
	m.puts++
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.objects[key]
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return obj.data, obj.contentType, nil
}

// PresignGet 返回伪造的链接，只校验对象存在
func (m *MemoryStore) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	m.mu.RLock()
	_, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return fmt.Sprintf("memory://%s/%s?expires=%d", m.bucket, url.PathEscape(key), int(ttl.Seconds())), nil
}

// Puts 返回累计上传次数
func (m *MemoryStore) Puts() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.puts
}

var _ ObjectStore = (*MemoryStore)(nil)
