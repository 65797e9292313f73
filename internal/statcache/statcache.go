// Package statcache caches index headers (the small, fixed-size part of
// an idxstore.Index) so cmd/dftidx-serve doesn't have to re-open and
// re-read a sidecar index file on every request just to answer "how many
// lines/bytes does this source have". Entries are invalidated by source
// fingerprint, so a rebuilt index naturally falls out of the cache the
// next time someone checks.
package statcache

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"

	"github.com/dftracer/dftidx/internal/idxstore"
)

// Cache caches idxstore.Header values keyed by gzip source path.
type Cache interface {
	Get(ctx context.Context, path string) (idxstore.Header, bool, error)
	Set(ctx context.Context, path string, hdr idxstore.Header) error
}

// Memory is an in-process Cache backed by a plain map. It's the default
// for a single-process server and the one used in tests.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]idxstore.Header
}

// NewMemory returns an empty in-process cache.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]idxstore.Header)}
}

func (m *Memory) Get(_ context.Context, path string) (idxstore.Header, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	hdr, ok := m.entries[path]
	return hdr, ok, nil
}

func (m *Memory) Set(_ context.Context, path string, hdr idxstore.Header) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[path] = hdr
	return nil
}

// Redis is a Cache backed by a shared Redis instance, for a multi-process
// or multi-replica cmd/dftidx-serve deployment where an in-memory cache
// per process would just mean N cold caches instead of one warm one.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedis wraps an existing *redis.Client. ttl of 0 means entries never
// expire on their own (they're still overwritten whenever Set runs with a
// newer header).
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl, prefix: "dftidx:hdr:"}
}

func (c *Redis) Get(_ context.Context, path string) (idxstore.Header, bool, error) {
	raw, err := c.client.Get(c.prefix + path).Bytes()
	if err == redis.Nil {
		return idxstore.Header{}, false, nil
	}
	if err != nil {
		return idxstore.Header{}, false, errors.Wrap(err, "reading statcache entry from redis")
	}
	var hdr idxstore.Header
	if err := json.Unmarshal(raw, &hdr); err != nil {
		return idxstore.Header{}, false, errors.Wrap(err, "decoding cached header")
	}
	return hdr, true, nil
}

func (c *Redis) Set(_ context.Context, path string, hdr idxstore.Header) error {
	raw, err := json.Marshal(hdr)
	if err != nil {
		return errors.Wrap(err, "encoding header for statcache")
	}
	if err := c.client.Set(c.prefix+path, raw, c.ttl).Err(); err != nil {
		return errors.Wrap(err, "writing statcache entry to redis")
	}
	return nil
}

// Lookup fetches a header from cache, falling back to loader (typically
// idxstore.Read(...).Header) on a miss and populating the cache with the
// result. A cached header whose recorded fingerprint no longer matches the
// source at path counts as a miss. A loader error is returned as-is and
// never cached.
func Lookup(ctx context.Context, cache Cache, path string, loader func() (idxstore.Header, error)) (idxstore.Header, error) {
	if hdr, ok, err := cache.Get(ctx, path); err != nil {
		return idxstore.Header{}, err
	} else if ok {
		if f, err := os.Open(path); err == nil {
			fp, err := idxstore.FingerprintFile(f)
			f.Close()
			if err == nil && fp.Matches(hdr) {
				return hdr, nil
			}
		}
	}

	hdr, err := loader()
	if err != nil {
		return idxstore.Header{}, err
	}
	if err := cache.Set(ctx, path, hdr); err != nil {
		return hdr, err
	}
	return hdr, nil
}
