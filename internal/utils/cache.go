package utils

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
)

// CacheItem 包装缓存数据和过期时间
type CacheItem[V any] struct {
	Data      V
	ExpiresAt time.Time
}

// TTLCache 本地 LRU 缓存，每个条目带过期时间
type TTLCache[V any] struct {
	lruCache *lru.Cache[string, CacheItem[V]]
	ttl      time.Duration
	now      func() time.Time
	mu       sync.Mutex
}

// NewTTLCache 创建容量为 size 的缓存
func NewTTLCache[V any](size int, ttl time.Duration) (*TTLCache[V], error) {
	l, err := lru.New[string, CacheItem[V]](size)
	if err != nil {
		return nil, errors.Wrap(err, "create LRU cache")
	}
	return &TTLCache[V]{
		lruCache: l,
		ttl:      ttl,
		now:      time.Now,
	}, nil
}

// Set 设置缓存
func (c *TTLCache[V]) Set(key string, data V) {
	c.lruCache.Add(key, CacheItem[V]{
		Data:      data,
		ExpiresAt: c.clock().Add(c.ttl),
	})
}

// Get 获取缓存，若不存在或已过期则返回 false
func (c *TTLCache[V]) Get(key string) (V, bool) {
	var zero V
	val, ok := c.lruCache.Get(key)
	if !ok {
		return zero, false
	}

	// 检查过期
	if c.clock().After(val.ExpiresAt) {
		c.lruCache.Remove(key)
		return zero, false
	}

	return val.Data, true
}

// Delete 删除指定缓存
func (c *TTLCache[V]) Delete(key string) {
	c.lruCache.Remove(key)
}

func (c *TTLCache[V]) clock() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now()
}
