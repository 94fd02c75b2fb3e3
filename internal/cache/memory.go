package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryProvider is an in-process Provider with optional per-key expiry.
// Entries do not survive the process; use it for tests and one-shot runs.
type MemoryProvider struct {
	mu   sync.Mutex
	data map[string]memoryItem
	now  func() time.Time
}

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryProvider creates an empty MemoryProvider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{data: make(map[string]memoryItem), now: time.Now}
}

// Get returns a copy of the stored bytes, or ErrCacheMiss when absent or expired.
func (c *MemoryProvider) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	it, ok := c.live(key)
	if !ok {
		return nil, ErrCacheMiss
	}
	return append([]byte(nil), it.value...), nil
}

// Set stores a value with optional TTL.
func (c *MemoryProvider) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = c.item(value, ttl)
	return nil
}

// SetNX stores the value only when no live entry exists for key.
func (c *MemoryProvider) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.live(key); ok {
		return false, nil
	}
	c.data[key] = c.item(value, ttl)
	return true, nil
}

// Del removes an entry.
func (c *MemoryProvider) Del(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (c *MemoryProvider) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

// Close is a no-op.
func (c *MemoryProvider) Close() error { return nil }

// live must be called with mu held; it evicts the entry if it has expired.
func (c *MemoryProvider) live(key string) (memoryItem, bool) {
	it, ok := c.data[key]
	if !ok {
		return memoryItem{}, false
	}
	if !it.expiresAt.IsZero() && c.now().After(it.expiresAt) {
		delete(c.data, key)
		return memoryItem{}, false
	}
	return it, true
}

func (c *MemoryProvider) item(value []byte, ttl time.Duration) memoryItem {
	var expires time.Time
	if ttl > 0 {
		expires = c.now().Add(ttl)
	}
	return memoryItem{value: append([]byte(nil), value...), expiresAt: expires}
}
