// Package local implements the local-directory storage backend: every
// operation maps onto the host filesystem relative to a configured
// root directory.
package local

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/containerfs/containerfs/pkg/errors"
	"github.com/containerfs/containerfs/pkg/types"
	"github.com/containerfs/containerfs/pkg/utils"
)

// TypeName is the descriptor type tag for this backend.
const TypeName = "local"

// Backend serves a container from a directory on the local disk.
type Backend struct {
	root     string
	readOnly bool
}

// New creates a local backend rooted at the "location" param.
func New(params map[string]string, readOnly bool) (*Backend, error) {
	location := params["location"]
	if location == "" {
		return nil, errors.InvalidConfig("local backend requires a location param")
	}
	if !filepath.IsAbs(location) {
		return nil, errors.InvalidConfig("local backend location must be absolute: " + location)
	}
	return &Backend{root: filepath.Clean(location), readOnly: readOnly}, nil
}

// Type returns the backend variant tag.
func (b *Backend) Type() string { return TypeName }

// ReadOnly reports whether mutating operations are rejected.
func (b *Backend) ReadOnly() bool { return b.readOnly }

// RequestMount verifies the backing directory exists.
func (b *Backend) RequestMount(ctx context.Context) error {
	info, err := os.Stat(b.root)
	if err != nil {
		return errors.InvalidConfig("local backend location does not exist: " + b.root)
	}
	if !info.IsDir() {
		return errors.InvalidConfig("local backend location is not a directory: " + b.root)
	}
	return nil
}

// RequestUnmount releases nothing; the backend holds no persistent
// handles between operations.
func (b *Backend) RequestUnmount(ctx context.Context) error { return nil }

// Stat returns metadata for a path inside the container.
func (b *Backend) Stat(ctx context.Context, path string) (types.Attr, error) {
	full, err := b.fullPath(path)
	if err != nil {
		return types.Attr{}, err
	}
	info, err := os.Lstat(full)
	if err != nil {
		return types.Attr{}, b.translate(err, path)
	}
	return attrFromInfo(info), nil
}

// ReadDir lists a directory inside the container.
func (b *Backend) ReadDir(ctx context.Context, path string) ([]types.DirEntry, error) {
	full, err := b.fullPath(path)
	if err != nil {
		return nil, err
	}
	osEntries, err := os.ReadDir(full)
	if err != nil {
		return nil, b.translate(err, path)
	}

	entries := make([]types.DirEntry, 0, len(osEntries))
	for _, e := range osEntries {
		mode := os.FileMode(0o644)
		if e.IsDir() {
			mode = os.ModeDir | 0o755
		}
		entries = append(entries, types.DirEntry{Name: e.Name(), Mode: mode})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// Read reads up to len(dest) bytes at offset.
func (b *Backend) Read(ctx context.Context, path string, offset int64, dest []byte) (int, error) {
	full, err := b.fullPath(path)
	if err != nil {
		return 0, err
	}
	f, err := os.Open(full)
	if err != nil {
		return 0, b.translate(err, path)
	}
	defer f.Close()

	n, err := f.ReadAt(dest, offset)
	if err != nil && err != io.EOF {
		return n, errors.BackendIO(path, err)
	}
	return n, nil
}

// Write writes data at offset, extending the file as needed.
func (b *Backend) Write(ctx context.Context, path string, offset int64, data []byte) (int, error) {
	if b.readOnly {
		return 0, errors.ReadOnly(path)
	}
	full, err := b.fullPath(path)
	if err != nil {
		return 0, err
	}
	f, err := os.OpenFile(full, os.O_WRONLY, 0)
	if err != nil {
		return 0, b.translate(err, path)
	}
	defer f.Close()

	n, err := f.WriteAt(data, offset)
	if err != nil {
		return n, errors.BackendIO(path, err)
	}
	return n, nil
}

// Truncate resizes a file.
func (b *Backend) Truncate(ctx context.Context, path string, size int64) error {
	if b.readOnly {
		return errors.ReadOnly(path)
	}
	full, err := b.fullPath(path)
	if err != nil {
		return err
	}
	if err := os.Truncate(full, size); err != nil {
		return b.translate(err, path)
	}
	return nil
}

// Create creates an empty file.
func (b *Backend) Create(ctx context.Context, path string) error {
	if b.readOnly {
		return errors.ReadOnly(path)
	}
	full, err := b.fullPath(path)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return b.translate(err, path)
	}
	return f.Close()
}

// Mkdir creates a directory.
func (b *Backend) Mkdir(ctx context.Context, path string) error {
	if b.readOnly {
		return errors.ReadOnly(path)
	}
	full, err := b.fullPath(path)
	if err != nil {
		return err
	}
	if err := os.Mkdir(full, 0o755); err != nil {
		return b.translate(err, path)
	}
	return nil
}

// Unlink removes a file.
func (b *Backend) Unlink(ctx context.Context, path string) error {
	if b.readOnly {
		return errors.ReadOnly(path)
	}
	full, err := b.fullPath(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil {
		return b.translate(err, path)
	}
	return nil
}

// Rmdir removes an empty directory.
func (b *Backend) Rmdir(ctx context.Context, path string) error {
	if b.readOnly {
		return errors.ReadOnly(path)
	}
	full, err := b.fullPath(path)
	if err != nil {
		return err
	}
	info, err := os.Lstat(full)
	if err != nil {
		return b.translate(err, path)
	}
	if !info.IsDir() {
		return errors.NewError(errors.ErrCodeBackendIO, "not a directory").WithPath(path)
	}
	if err := os.Remove(full); err != nil {
		return b.translate(err, path)
	}
	return nil
}

// Rename moves a file or directory within the container.
func (b *Backend) Rename(ctx context.Context, oldPath, newPath string) error {
	if b.readOnly {
		return errors.ReadOnly(oldPath)
	}
	oldFull, err := b.fullPath(oldPath)
	if err != nil {
		return err
	}
	newFull, err := b.fullPath(newPath)
	if err != nil {
		return err
	}
	if err := os.Rename(oldFull, newFull); err != nil {
		return b.translate(err, oldPath)
	}
	return nil
}

func (b *Backend) fullPath(path string) (string, error) {
	if err := utils.ValidateRelPath(path); err != nil {
		return "", errors.InvalidConfig(err.Error())
	}
	if path == "" {
		return b.root, nil
	}
	return filepath.Join(b.root, filepath.FromSlash(path)), nil
}

func (b *Backend) translate(err error, path string) error {
	if os.IsNotExist(err) {
		return errors.NotFound(path)
	}
	return errors.BackendIO(path, err)
}

func attrFromInfo(info fs.FileInfo) types.Attr {
	mode := info.Mode()
	if mode.IsRegular() {
		return types.Attr{Mode: mode.Perm(), Size: info.Size(), ModTime: info.ModTime()}
	}
	return types.Attr{Mode: mode, Size: info.Size(), ModTime: info.ModTime()}
}

var _ types.Backend = (*Backend)(nil)
