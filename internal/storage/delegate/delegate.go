// Package delegate implements a backend that re-exposes a subdirectory
// of another mounted container under its own claim paths. The inner
// container is referenced by identity and looked up per operation, so
// a remount of the inner container is picked up transparently and an
// unmounted inner container simply makes the delegate appear empty.
package delegate

import (
	"context"

	"github.com/containerfs/containerfs/pkg/errors"
	"github.com/containerfs/containerfs/pkg/types"
	"github.com/containerfs/containerfs/pkg/utils"
)

// TypeName is the descriptor type tag for this backend.
const TypeName = "delegate"

// Lookup resolves a container identity to its currently mounted
// backend. The mount table's Get method satisfies it.
type Lookup func(id types.ContainerID) (types.Backend, bool)

// Backend forwards operations to an inner container's backend after
// rebasing paths under a configured subdirectory.
type Backend struct {
	inner    types.ContainerID
	subdir   string // container-relative, "" exposes the inner root
	readOnly bool
	lookup   Lookup
}

// New creates a delegate for the given inner container identity. The
// subdirectory is optional and container-relative.
func New(inner types.ContainerID, subdirectory string, readOnly bool, lookup Lookup) (*Backend, error) {
	if inner == "" {
		return nil, errors.InvalidConfig("delegate backend requires an inner container")
	}
	if lookup == nil {
		return nil, errors.InvalidConfig("delegate backend requires a container lookup")
	}

	subdir := ""
	if subdirectory != "" {
		if err := utils.ValidateRelPath(subdirectory); err != nil {
			return nil, errors.InvalidConfig(err.Error())
		}
		parts := utils.SplitPath(subdirectory)
		if len(parts) > 0 {
			subdir = utils.JoinComponents(parts)[1:] // drop leading slash
		}
	}
	return &Backend{inner: inner, subdir: subdir, readOnly: readOnly, lookup: lookup}, nil
}

// Type returns the backend variant tag.
func (b *Backend) Type() string { return TypeName }

// ReadOnly reports whether mutating operations are rejected by the
// delegate itself; the inner backend applies its own policy on top.
func (b *Backend) ReadOnly() bool { return b.readOnly }

// InnerContainer returns the identity of the delegated-to container.
func (b *Backend) InnerContainer() types.ContainerID { return b.inner }

// RequestMount succeeds even when the inner container is not mounted
// yet; mount order between the two containers is deliberately free.
func (b *Backend) RequestMount(ctx context.Context) error { return nil }

func (b *Backend) RequestUnmount(ctx context.Context) error { return nil }

// ClearCache forwards to the inner backend's cache, if it has one.
func (b *Backend) ClearCache() {
	if backend, ok := b.lookup(b.inner); ok {
		if clearer, ok := backend.(types.CacheClearer); ok {
			clearer.ClearCache()
		}
	}
}

func (b *Backend) resolve(path string) (types.Backend, string, error) {
	backend, ok := b.lookup(b.inner)
	if !ok {
		return nil, "", errors.NotFound(path)
	}
	return backend, utils.RelJoin(b.subdir, path), nil
}

// Stat returns metadata for a path inside the delegated subtree.
func (b *Backend) Stat(ctx context.Context, path string) (types.Attr, error) {
	backend, rebased, err := b.resolve(path)
	if err != nil {
		return types.Attr{}, err
	}
	return backend.Stat(ctx, rebased)
}

// ReadDir lists a directory inside the delegated subtree.
func (b *Backend) ReadDir(ctx context.Context, path string) ([]types.DirEntry, error) {
	backend, rebased, err := b.resolve(path)
	if err != nil {
		return nil, err
	}
	return backend.ReadDir(ctx, rebased)
}

func (b *Backend) Read(ctx context.Context, path string, offset int64, dest []byte) (int, error) {
	backend, rebased, err := b.resolve(path)
	if err != nil {
		return 0, err
	}
	return backend.Read(ctx, rebased, offset, dest)
}

func (b *Backend) Write(ctx context.Context, path string, offset int64, data []byte) (int, error) {
	if b.readOnly {
		return 0, errors.ReadOnly(path)
	}
	backend, rebased, err := b.resolve(path)
	if err != nil {
		return 0, err
	}
	return backend.Write(ctx, rebased, offset, data)
}

func (b *Backend) Truncate(ctx context.Context, path string, size int64) error {
	if b.readOnly {
		return errors.ReadOnly(path)
	}
	backend, rebased, err := b.resolve(path)
	if err != nil {
		return err
	}
	return backend.Truncate(ctx, rebased, size)
}

func (b *Backend) Create(ctx context.Context, path string) error {
	if b.readOnly {
		return errors.ReadOnly(path)
	}
	backend, rebased, err := b.resolve(path)
	if err != nil {
		return err
	}
	return backend.Create(ctx, rebased)
}

func (b *Backend) Mkdir(ctx context.Context, path string) error {
	if b.readOnly {
		return errors.ReadOnly(path)
	}
	backend, rebased, err := b.resolve(path)
	if err != nil {
		return err
	}
	return backend.Mkdir(ctx, rebased)
}

func (b *Backend) Unlink(ctx context.Context, path string) error {
	if b.readOnly {
		return errors.ReadOnly(path)
	}
	backend, rebased, err := b.resolve(path)
	if err != nil {
		return err
	}
	return backend.Unlink(ctx, rebased)
}

func (b *Backend) Rmdir(ctx context.Context, path string) error {
	if b.readOnly {
		return errors.ReadOnly(path)
	}
	backend, rebased, err := b.resolve(path)
	if err != nil {
		return err
	}
	return backend.Rmdir(ctx, rebased)
}

func (b *Backend) Rename(ctx context.Context, oldPath, newPath string) error {
	if b.readOnly {
		return errors.ReadOnly(oldPath)
	}
	backend, rebasedOld, err := b.resolve(oldPath)
	if err != nil {
		return err
	}
	return backend.Rename(ctx, rebasedOld, utils.RelJoin(b.subdir, newPath))
}

var (
	_ types.Backend      = (*Backend)(nil)
	_ types.CacheClearer = (*Backend)(nil)
)
