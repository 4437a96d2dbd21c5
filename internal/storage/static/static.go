// Package static implements a read-only backend whose entire content
// is declared inline in the mount descriptor. It is mainly useful for
// exposing small fixed files (manifests, READMEs) and for tests.
package static

import (
	"context"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/containerfs/containerfs/pkg/errors"
	"github.com/containerfs/containerfs/pkg/types"
	"github.com/containerfs/containerfs/pkg/utils"
)

// TypeName is the descriptor type tag for this backend.
const TypeName = "static"

// contentParamPrefix marks descriptor params that declare file content.
// The remainder of the key is the container-relative path.
const contentParamPrefix = "content."

// Backend serves an immutable in-memory file tree.
type Backend struct {
	files   map[string][]byte
	dirs    map[string]map[string]bool // dir path -> child name -> is directory
	created time.Time
}

// New builds a static backend from descriptor params. Every param key
// of the form "content.<path>" declares a file at <path> holding the
// param value; intermediate directories are derived.
func New(params map[string]string) (*Backend, error) {
	b := &Backend{
		files:   make(map[string][]byte),
		dirs:    map[string]map[string]bool{"": {}},
		created: time.Now(),
	}

	for key, value := range params {
		if !strings.HasPrefix(key, contentParamPrefix) {
			continue
		}
		rel := strings.Trim(strings.TrimPrefix(key, contentParamPrefix), "/")
		if rel == "" {
			return nil, errors.InvalidConfig("static content key names no path: " + key)
		}
		if err := utils.ValidateRelPath(rel); err != nil {
			return nil, errors.InvalidConfig(err.Error())
		}
		if _, dup := b.files[rel]; dup {
			return nil, errors.InvalidConfig("static content declared twice: " + rel)
		}
		b.files[rel] = []byte(value)

		// Register the file and its ancestor directories.
		child, dir, isDir := utils.RelBase(rel), utils.RelParent(rel), false
		for {
			if b.dirs[dir] == nil {
				b.dirs[dir] = make(map[string]bool)
			}
			b.dirs[dir][child] = isDir
			if dir == "" {
				break
			}
			child, dir, isDir = utils.RelBase(dir), utils.RelParent(dir), true
		}
	}

	for dir := range b.dirs {
		if _, clash := b.files[dir]; clash {
			return nil, errors.InvalidConfig("static path is both file and directory: " + dir)
		}
	}
	return b, nil
}

// Type returns the backend variant tag.
func (b *Backend) Type() string { return TypeName }

// ReadOnly always reports true; static content cannot be mutated.
func (b *Backend) ReadOnly() bool { return true }

func (b *Backend) RequestMount(ctx context.Context) error   { return nil }
func (b *Backend) RequestUnmount(ctx context.Context) error { return nil }

// Stat returns metadata for a path inside the container.
func (b *Backend) Stat(ctx context.Context, path string) (types.Attr, error) {
	if data, ok := b.files[path]; ok {
		return types.Attr{Mode: 0o444, Size: int64(len(data)), ModTime: b.created}, nil
	}
	if _, ok := b.dirs[path]; ok {
		attr := types.DirAttr()
		attr.ModTime = b.created
		return attr, nil
	}
	return types.Attr{}, errors.NotFound(path)
}

// ReadDir lists a directory inside the container.
func (b *Backend) ReadDir(ctx context.Context, path string) ([]types.DirEntry, error) {
	children, ok := b.dirs[path]
	if !ok {
		if _, isFile := b.files[path]; isFile {
			return nil, errors.NewError(errors.ErrCodeBackendIO, "not a directory").WithPath(path)
		}
		return nil, errors.NotFound(path)
	}

	entries := make([]types.DirEntry, 0, len(children))
	for name, isDir := range children {
		mode := os.FileMode(0o444)
		if isDir {
			mode = os.ModeDir | 0o555
		}
		entries = append(entries, types.DirEntry{Name: name, Mode: mode})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// Read reads up to len(dest) bytes at offset.
func (b *Backend) Read(ctx context.Context, path string, offset int64, dest []byte) (int, error) {
	data, ok := b.files[path]
	if !ok {
		return 0, errors.NotFound(path)
	}
	if offset >= int64(len(data)) {
		return 0, nil
	}
	return copy(dest, data[offset:]), nil
}

func (b *Backend) Write(ctx context.Context, path string, offset int64, data []byte) (int, error) {
	return 0, errors.ReadOnly(path)
}

func (b *Backend) Truncate(ctx context.Context, path string, size int64) error {
	return errors.ReadOnly(path)
}

func (b *Backend) Create(ctx context.Context, path string) error { return errors.ReadOnly(path) }
func (b *Backend) Mkdir(ctx context.Context, path string) error  { return errors.ReadOnly(path) }
func (b *Backend) Unlink(ctx context.Context, path string) error { return errors.ReadOnly(path) }
func (b *Backend) Rmdir(ctx context.Context, path string) error  { return errors.ReadOnly(path) }

func (b *Backend) Rename(ctx context.Context, oldPath, newPath string) error {
	return errors.ReadOnly(oldPath)
}

var _ types.Backend = (*Backend)(nil)
