package storage

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

type memoryObject struct {
	data        []byte
	contentType string
	modified    time.Time
}

// MemoryBucket keeps objects in process memory. It backs development and
// tests; objects are served by the router under BaseURL.
type MemoryBucket struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
	baseURL string
	now     func() time.Time
}

// NewMemoryBucket creates an empty bucket whose URLs start with baseURL.
func NewMemoryBucket(baseURL string) *MemoryBucket {
	return &MemoryBucket{
		objects: make(map[string]memoryObject),
		baseURL: strings.TrimRight(baseURL, "/"),
		now:     time.Now,
	}
}

// SetClock overrides the modification time source.
func (b *MemoryBucket) SetClock(now func() time.Time) {
	b.now = now
}

func (b *MemoryBucket) Put(_ context.Context, key, contentType string, body io.Reader, _ int64) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}

	b.mu.Lock()
	b.objects[key] = memoryObject{data: data, contentType: contentType, modified: b.now()}
	b.mu.Unlock()

	return b.baseURL + "/" + key, nil
}

func (b *MemoryBucket) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	delete(b.objects, key)
	b.mu.Unlock()
	return nil
}

func (b *MemoryBucket) List(_ context.Context, prefix string) ([]Object, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var objects []Object
	for key, obj := range b.objects {
		if strings.HasPrefix(key, prefix) {
			objects = append(objects, Object{Key: key, Size: int64(len(obj.data)), LastModified: obj.modified})
		}
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}

// Open returns the contents and content type of key.
func (b *MemoryBucket) Open(key string) ([]byte, string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	obj, ok := b.objects[key]
	if !ok {
		return nil, "", ErrObjectNotFound
	}
	return obj.data, obj.contentType, nil
}
