package types

import (
	"context"
)

// Backend defines the capability contract every storage backend
// implements. Paths handed to a backend are container-relative, slash
// separated and cleaned; the empty string names the backend root.
//
// A backend variant implements the subset of operations it supports
// and returns an Unsupported error for the rest. A backend flagged
// read-only rejects every mutating operation with a ReadOnly error
// regardless of what it could technically perform.
type Backend interface {
	// Type returns the backend variant tag ("local", "s3", ...).
	Type() string

	// ReadOnly reports whether mutating operations are rejected.
	ReadOnly() bool

	// Lifecycle. RequestMount is called before the backend is
	// installed in the mount table, RequestUnmount after removal.
	RequestMount(ctx context.Context) error
	RequestUnmount(ctx context.Context) error

	// Metadata operations
	Stat(ctx context.Context, path string) (Attr, error)
	ReadDir(ctx context.Context, path string) ([]DirEntry, error)

	// I/O operations
	Read(ctx context.Context, path string, offset int64, dest []byte) (int, error)
	Write(ctx context.Context, path string, offset int64, data []byte) (int, error)
	Truncate(ctx context.Context, path string, size int64) error

	// Namespace mutations
	Create(ctx context.Context, path string) error
	Mkdir(ctx context.Context, path string) error
	Unlink(ctx context.Context, path string) error
	Rmdir(ctx context.Context, path string) error
	Rename(ctx context.Context, oldPath, newPath string) error
}

// CacheClearer is implemented by backends that keep invalidatable
// metadata caches (the cached wrapper, and delegates forwarding to
// one).
type CacheClearer interface {
	ClearCache()
}

// MetricsRecorder receives per-operation measurements from the request
// dispatcher. Implemented by internal/metrics; a nil recorder is
// permitted everywhere.
type MetricsRecorder interface {
	RecordOperation(op string, seconds float64, success bool)
	RecordCacheHit(op string)
	RecordCacheMiss(op string)
}
