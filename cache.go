package flagdock

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/dgraph-io/ristretto"
	"github.com/redis/go-redis/v9"
)

// ConfigCache persists serialized config entries outside the process, so a
// restarted or sibling client can serve flags before its first fetch.
// Implementations must be safe for concurrent use.
type ConfigCache interface {
	Read(ctx context.Context, key string) (string, error)
	Write(ctx context.Context, key string, value string) error
}

// InMemoryCache is a process-local ConfigCache backed by Ristretto. It is
// mainly useful to share one fetched config between clients in the same
// process, or as a building block in tests.
type InMemoryCache struct {
	cache *ristretto.Cache
}

// NewInMemoryCache creates an in-memory cache.
func NewInMemoryCache() (*InMemoryCache, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e4,
		MaxCost:     1 << 24,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &InMemoryCache{cache: cache}, nil
}

// Read returns the stored entry, or "" when the key is unknown.
func (c *InMemoryCache) Read(ctx context.Context, key string) (string, error) {
	value, found := c.cache.Get(key)
	if !found {
		return "", nil
	}
	entry, ok := value.(string)
	if !ok {
		return "", nil
	}
	return entry, nil
}

// Write stores the entry and waits for it to become visible to readers.
func (c *InMemoryCache) Write(ctx context.Context, key string, value string) error {
	c.cache.Set(key, value, int64(len(value)))
	c.cache.Wait()
	return nil
}

// Close releases the cache's resources.
func (c *InMemoryCache) Close() {
	c.cache.Close()
}

// FileCache persists entries as files under a directory, one file per cache
// key. Writes go through a temp file and rename, so readers never observe a
// partial entry.
type FileCache struct {
	dir string
	mu  sync.RWMutex
}

// NewFileCache creates a file cache rooted at dir, creating it if needed.
func NewFileCache(dir string) (*FileCache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &FileCache{dir: dir}, nil
}

func (c *FileCache) filePath(key string) string {
	return filepath.Join(c.dir, key+".json")
}

// Read returns the stored entry, or "" when no file exists for the key.
func (c *FileCache) Read(ctx context.Context, key string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	data, err := os.ReadFile(c.filePath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return string(data), nil
}

// Write stores the entry atomically.
func (c *FileCache) Write(ctx context.Context, key string, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	file := c.filePath(key)
	tmp := file + ".tmp"
	if err := os.WriteFile(tmp, []byte(value), 0644); err != nil {
		return err
	}
	return os.Rename(tmp, file)
}

// RedisCache is a ConfigCache on a Redis instance, letting a fleet of
// clients share one fetched config.
type RedisCache struct {
	client redis.UniversalClient
}

// NewRedisCache creates a cache talking to the Redis server at addr.
func NewRedisCache(addr string) *RedisCache {
	return &RedisCache{client: redis.NewClient(&redis.Options{Addr: addr})}
}

// NewRedisCacheWithClient wraps an existing Redis client.
func NewRedisCacheWithClient(client redis.UniversalClient) *RedisCache {
	return &RedisCache{client: client}
}

// Read returns the stored entry, or "" when the key is unknown.
func (c *RedisCache) Read(ctx context.Context, key string) (string, error) {
	value, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// Write stores the entry without expiration; the refresh service overwrites
// it on every successful fetch.
func (c *RedisCache) Write(ctx context.Context, key string, value string) error {
	return c.client.Set(ctx, key, value, 0).Err()
}

// Close closes the underlying Redis client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
