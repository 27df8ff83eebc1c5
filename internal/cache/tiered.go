package cache

import (
	"context"
	"errors"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mapfold/tileserv/internal/observability"
)

type memEntry struct {
	val     []byte
	expires time.Time // zero means no expiry
}

// Tiered fronts a backend with a bounded in-process LRU so hot tiles skip
// the backend round trip entirely. Entries carry the TTL given to Set; an
// expired entry falls through to the backend on the next Get.
type Tiered struct {
	mem     *lru.Cache[string, memEntry]
	backend Interface
	now     func() time.Time
}

// NewTiered wraps backend with an LRU of at most entries tiles. With
// entries <= 0 the backend is returned unchanged.
func NewTiered(entries int, backend Interface) (Interface, error) {
	if entries <= 0 {
		return backend, nil
	}
	mem, err := lru.New[string, memEntry](entries)
	if err != nil {
		return nil, err
	}
	return &Tiered{mem: mem, backend: backend, now: time.Now}, nil
}

func (t *Tiered) Get(ctx context.Context, key string) ([]byte, error) {
	if e, ok := t.mem.Get(key); ok {
		if e.expires.IsZero() || t.now().Before(e.expires) {
			observability.IncCacheHit("memory")
			return e.val, nil
		}
		t.mem.Remove(key)
	}
	observability.IncCacheMiss("memory")

	b, err := t.backend.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	// backend hit without a known TTL; keep it until evicted or deleted
	t.mem.Add(key, memEntry{val: b})
	return b, nil
}

func (t *Tiered) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	e := memEntry{val: val}
	if ttl > 0 {
		e.expires = t.now().Add(ttl)
	}
	t.mem.Add(key, e)
	return t.backend.Set(ctx, key, val, ttl)
}

func (t *Tiered) Del(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		t.mem.Remove(k)
	}
	return t.backend.Del(ctx, keys...)
}

func (t *Tiered) Close() error { return t.backend.Close() }

var _ Interface = (*Tiered)(nil)

// IsMiss reports whether err is a cache miss.
func IsMiss(err error) bool { return errors.Is(err, ErrMiss) }
