// Package cached wraps any storage backend with TTL-bounded metadata
// caches for Stat and ReadDir. Data reads and all mutations pass
// straight through; mutations invalidate the affected cache entries so
// a client never observes its own write through stale metadata.
package cached

import (
	"context"
	"sync"
	"time"

	"github.com/containerfs/containerfs/pkg/types"
	"github.com/containerfs/containerfs/pkg/utils"
)

// TypePrefix tags descriptor types that request the wrapper, e.g.
// "cached-local" wraps a local backend.
const TypePrefix = "cached-"

type statEntry struct {
	attr      types.Attr
	fetchedAt time.Time
}

type dirEntry struct {
	entries   []types.DirEntry
	fetchedAt time.Time
}

// Backend memoizes metadata results from an inner backend.
type Backend struct {
	inner   types.Backend
	ttl     time.Duration
	metrics types.MetricsRecorder
	now     func() time.Time

	mu    sync.Mutex
	stats map[string]statEntry
	dirs  map[string]dirEntry
}

// New wraps inner with metadata caches expiring after ttl. A ttl of
// zero or below disables caching entirely. metrics may be nil.
func New(inner types.Backend, ttl time.Duration, metrics types.MetricsRecorder) *Backend {
	return &Backend{
		inner:   inner,
		ttl:     ttl,
		metrics: metrics,
		now:     time.Now,
		stats:   make(map[string]statEntry),
		dirs:    make(map[string]dirEntry),
	}
}

// Type returns the wrapped variant tag prefixed with "cached-".
func (b *Backend) Type() string { return TypePrefix + b.inner.Type() }

// ReadOnly reports the inner backend's writability.
func (b *Backend) ReadOnly() bool { return b.inner.ReadOnly() }

func (b *Backend) RequestMount(ctx context.Context) error { return b.inner.RequestMount(ctx) }

func (b *Backend) RequestUnmount(ctx context.Context) error {
	b.ClearCache()
	return b.inner.RequestUnmount(ctx)
}

// Unwrap returns the inner backend.
func (b *Backend) Unwrap() types.Backend { return b.inner }

// TTL returns the cache expiry in effect.
func (b *Backend) TTL() time.Duration { return b.ttl }

// ClearCache drops every cached metadata entry.
func (b *Backend) ClearCache() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stats = make(map[string]statEntry)
	b.dirs = make(map[string]dirEntry)
}

// fresh reports whether a cache entry is still usable. An entry goes
// stale only once its age exceeds the TTL; at exactly the TTL it is
// still served.
func (b *Backend) fresh(fetchedAt time.Time) bool {
	return b.now().Sub(fetchedAt) <= b.ttl
}

// Stat returns cached metadata when fresh, otherwise asks the inner
// backend and memoizes the result.
func (b *Backend) Stat(ctx context.Context, path string) (types.Attr, error) {
	if b.ttl <= 0 {
		return b.inner.Stat(ctx, path)
	}

	b.mu.Lock()
	if entry, ok := b.stats[path]; ok && b.fresh(entry.fetchedAt) {
		b.mu.Unlock()
		b.recordHit("stat")
		return entry.attr, nil
	}
	b.mu.Unlock()
	b.recordMiss("stat")

	attr, err := b.inner.Stat(ctx, path)
	if err != nil {
		return types.Attr{}, err
	}

	b.mu.Lock()
	b.stats[path] = statEntry{attr: attr, fetchedAt: b.now()}
	b.mu.Unlock()
	return attr, nil
}

// ReadDir returns a cached listing when fresh, otherwise asks the
// inner backend and memoizes the result.
func (b *Backend) ReadDir(ctx context.Context, path string) ([]types.DirEntry, error) {
	if b.ttl <= 0 {
		return b.inner.ReadDir(ctx, path)
	}

	b.mu.Lock()
	if entry, ok := b.dirs[path]; ok && b.fresh(entry.fetchedAt) {
		b.mu.Unlock()
		b.recordHit("readdir")
		return entry.entries, nil
	}
	b.mu.Unlock()
	b.recordMiss("readdir")

	entries, err := b.inner.ReadDir(ctx, path)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	b.dirs[path] = dirEntry{entries: entries, fetchedAt: b.now()}
	b.mu.Unlock()
	return entries, nil
}

// Read passes through; file data is never cached.
func (b *Backend) Read(ctx context.Context, path string, offset int64, dest []byte) (int, error) {
	return b.inner.Read(ctx, path, offset, dest)
}

// Write invalidates the file's cached metadata, then passes through.
func (b *Backend) Write(ctx context.Context, path string, offset int64, data []byte) (int, error) {
	b.invalidate(path)
	return b.inner.Write(ctx, path, offset, data)
}

// Truncate invalidates the file's cached metadata, then passes through.
func (b *Backend) Truncate(ctx context.Context, path string, size int64) error {
	b.invalidate(path)
	return b.inner.Truncate(ctx, path, size)
}

func (b *Backend) Create(ctx context.Context, path string) error {
	b.invalidate(path)
	return b.inner.Create(ctx, path)
}

func (b *Backend) Mkdir(ctx context.Context, path string) error {
	b.invalidate(path)
	return b.inner.Mkdir(ctx, path)
}

func (b *Backend) Unlink(ctx context.Context, path string) error {
	b.invalidate(path)
	return b.inner.Unlink(ctx, path)
}

func (b *Backend) Rmdir(ctx context.Context, path string) error {
	b.invalidate(path)
	return b.inner.Rmdir(ctx, path)
}

func (b *Backend) Rename(ctx context.Context, oldPath, newPath string) error {
	b.invalidate(oldPath)
	b.invalidate(newPath)
	return b.inner.Rename(ctx, oldPath, newPath)
}

// invalidate drops the cached stat for a path, the cached listing of
// its parent, and any cached listing of the path itself.
func (b *Backend) invalidate(path string) {
	if b.ttl <= 0 {
		return
	}
	parent := utils.RelParent(path)

	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.stats, path)
	delete(b.dirs, path)
	delete(b.dirs, parent)
}

func (b *Backend) recordHit(op string) {
	if b.metrics != nil {
		b.metrics.RecordCacheHit(op)
	}
}

func (b *Backend) recordMiss(op string) {
	if b.metrics != nil {
		b.metrics.RecordCacheMiss(op)
	}
}

var (
	_ types.Backend      = (*Backend)(nil)
	_ types.CacheClearer = (*Backend)(nil)
)
