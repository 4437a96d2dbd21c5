// Package dispatch routes POSIX-style filesystem requests. Paths under
// /.control go to the control plane; everything else resolves through
// the mount table to a backend. The dispatcher owns the open-handle
// table and is the single place where structured errors become errnos.
package dispatch

import (
	"context"
	stderrors "errors"
	"os"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/containerfs/containerfs/internal/control"
	"github.com/containerfs/containerfs/internal/namespace"
	"github.com/containerfs/containerfs/pkg/errors"
	"github.com/containerfs/containerfs/pkg/types"
	"github.com/containerfs/containerfs/pkg/utils"
)

// ErrCrossStorage reports a rename whose source and target live in
// different containers. It maps to EXDEV, unlike the taxonomy codes.
var ErrCrossStorage = stderrors.New("rename crosses container boundaries")

// Handle represents one open file.
type Handle struct {
	ID   uint64
	Path string

	// Exactly one of control/backend routing applies.
	control    bool
	controlRel string
	uuid       types.ContainerID
	backend    types.Backend
	rel        string
}

// Dispatcher routes filesystem requests to the control plane and to
// mounted backends.
type Dispatcher struct {
	resolver *namespace.Resolver
	control  *control.Control
	metrics  types.MetricsRecorder
	logger   *utils.Logger

	mu      sync.RWMutex
	handles map[uint64]*Handle
	nextID  uint64
}

// New creates a dispatcher. metrics may be nil.
func New(resolver *namespace.Resolver, ctl *control.Control, metrics types.MetricsRecorder, logger *utils.Logger) *Dispatcher {
	if logger == nil {
		logger = utils.DefaultLogger()
	}
	return &Dispatcher{
		resolver: resolver,
		control:  ctl,
		metrics:  metrics,
		logger:   logger.WithComponent("dispatch"),
		handles:  make(map[uint64]*Handle),
	}
}

// controlRel splits off the /.control prefix. ok means the path is
// inside the control subtree; rel is relative to it ("" = its root).
func controlRel(path string) (string, bool) {
	if path == "/"+control.DirName {
		return "", true
	}
	rel, ok := strings.CutPrefix(path, "/"+control.DirName+"/")
	return rel, ok
}

func (d *Dispatcher) record(op string, start time.Time, err error) {
	if d.metrics != nil {
		d.metrics.RecordOperation(op, time.Since(start).Seconds(), err == nil)
	}
}

// GetAttr returns metadata for an absolute namespace path.
func (d *Dispatcher) GetAttr(ctx context.Context, path string) (attr types.Attr, err error) {
	defer d.record("getattr", time.Now(), err)

	if path == "/" {
		return types.DirAttr(), nil
	}
	if rel, ok := controlRel(path); ok {
		return d.control.Stat(rel)
	}

	resolved := d.resolver.Resolve(path)
	for _, r := range resolved {
		attr, statErr := r.Backend.Stat(ctx, r.Remainder)
		if statErr == nil {
			return attr, nil
		}
		err = statErr
	}
	if _, ok := d.resolver.SyntheticEntries(path); ok {
		return types.DirAttr(), nil
	}
	if err == nil {
		err = errors.NotFound(path)
	}
	return types.Attr{}, err
}

// ReadDir lists a directory, merging backend entries with synthetic
// claim-path children; the namespace root additionally carries the
// control subtree.
func (d *Dispatcher) ReadDir(ctx context.Context, path string) (entries []types.DirEntry, err error) {
	defer d.record("readdir", time.Now(), err)

	if rel, ok := controlRel(path); ok {
		return d.control.ReadDir(rel)
	}

	merged := make(map[string]types.DirEntry)
	found := false

	if path == "/" {
		found = true
		merged[control.DirName] = types.DirEntry{Name: control.DirName, Mode: os.ModeDir | 0o555}
	}

	resolved := d.resolver.Resolve(path)
	var lastErr error
	for _, r := range resolved {
		backendEntries, listErr := r.Backend.ReadDir(ctx, r.Remainder)
		if listErr != nil {
			lastErr = listErr
			continue
		}
		found = true
		for _, e := range backendEntries {
			if _, taken := merged[e.Name]; !taken {
				merged[e.Name] = e
			}
		}
	}

	if names, ok := d.resolver.SyntheticEntries(path); ok {
		found = true
		for _, name := range names {
			if _, taken := merged[name]; !taken {
				merged[name] = types.DirEntry{Name: name, Mode: os.ModeDir | 0o555}
			}
		}
	}

	if !found {
		if lastErr != nil {
			return nil, lastErr
		}
		return nil, errors.NotFound(path)
	}

	entries = make([]types.DirEntry, 0, len(merged))
	for _, e := range merged {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// resolveOne picks the backend serving a path for non-merging
// operations: the longest claim-path match.
func (d *Dispatcher) resolveOne(path string) (*namespace.Resolved, error) {
	resolved := d.resolver.Resolve(path)
	if len(resolved) == 0 {
		if _, ok := d.resolver.SyntheticEntries(path); ok {
			return nil, errors.ReadOnly(path) // synthetic tree is immutable
		}
		return nil, errors.NotFound(path)
	}
	return &resolved[0], nil
}

func (d *Dispatcher) addHandle(h *Handle) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	h.ID = d.nextID
	d.handles[h.ID] = h
	return h.ID
}

func (d *Dispatcher) getHandle(id uint64) (*Handle, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.handles[id]
	if !ok {
		return nil, errors.BadHandle(id)
	}
	return h, nil
}

// liveBackend checks a backend handle against the mount table before
// I/O. Unmounting or remounting a container kills its open handles:
// the entry is gone, or it now carries a different backend.
func (d *Dispatcher) liveBackend(h *Handle) (types.Backend, error) {
	entry, ok := d.resolver.Get(h.uuid)
	if !ok || entry.Backend != h.backend {
		return nil, errors.BadHandle(h.ID)
	}
	return h.backend, nil
}

// Open opens an existing file and returns a handle id.
func (d *Dispatcher) Open(ctx context.Context, path string, writable bool) (id uint64, err error) {
	defer d.record("open", time.Now(), err)

	if rel, ok := controlRel(path); ok {
		if _, statErr := d.control.Stat(rel); statErr != nil {
			return 0, statErr
		}
		return d.addHandle(&Handle{Path: path, control: true, controlRel: rel}), nil
	}

	resolved := d.resolver.Resolve(path)
	if len(resolved) == 0 {
		return 0, errors.NotFound(path)
	}
	// Containers can nest; the file lives in the deepest one that has
	// it, matching what GetAttr reports.
	for i := range resolved {
		r := &resolved[i]
		if _, statErr := r.Backend.Stat(ctx, r.Remainder); statErr != nil {
			err = statErr
			continue
		}
		if writable && r.ReadOnly {
			return 0, errors.ReadOnly(path)
		}
		return d.addHandle(&Handle{Path: path, uuid: r.UUID, backend: r.Backend, rel: r.Remainder}), nil
	}
	return 0, err
}

// Create creates a file and returns a handle id.
func (d *Dispatcher) Create(ctx context.Context, path string) (id uint64, err error) {
	defer d.record("create", time.Now(), err)

	if _, ok := controlRel(path); ok {
		return 0, errors.ReadOnly(path) // control files are fixed
	}
	r, err := d.resolveOne(path)
	if err != nil {
		return 0, err
	}
	if r.ReadOnly {
		return 0, errors.ReadOnly(path)
	}
	if err := r.Backend.Create(ctx, r.Remainder); err != nil {
		return 0, err
	}
	return d.addHandle(&Handle{Path: path, uuid: r.UUID, backend: r.Backend, rel: r.Remainder}), nil
}

// Read reads through an open handle.
func (d *Dispatcher) Read(ctx context.Context, id uint64, offset int64, dest []byte) (n int, err error) {
	defer d.record("read", time.Now(), err)

	h, err := d.getHandle(id)
	if err != nil {
		return 0, err
	}
	if h.control {
		data, readErr := d.control.Read(h.controlRel)
		if readErr != nil {
			return 0, readErr
		}
		if offset >= int64(len(data)) {
			return 0, nil
		}
		return copy(dest, data[offset:]), nil
	}
	backend, err := d.liveBackend(h)
	if err != nil {
		return 0, err
	}
	return backend.Read(ctx, h.rel, offset, dest)
}

// Write writes through an open handle. A write to a control file is a
// complete instruction applied immediately.
func (d *Dispatcher) Write(ctx context.Context, id uint64, offset int64, data []byte) (n int, err error) {
	defer d.record("write", time.Now(), err)

	h, err := d.getHandle(id)
	if err != nil {
		return 0, err
	}
	if h.control {
		if err := d.control.Write(ctx, h.controlRel, data); err != nil {
			return 0, err
		}
		return len(data), nil
	}
	backend, err := d.liveBackend(h)
	if err != nil {
		return 0, err
	}
	return backend.Write(ctx, h.rel, offset, data)
}

// Release closes a handle. Unknown ids are rejected with BadHandle.
func (d *Dispatcher) Release(id uint64) (err error) {
	defer d.record("release", time.Now(), err)

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.handles[id]; !ok {
		return errors.BadHandle(id)
	}
	delete(d.handles, id)
	return nil
}

// Truncate resizes a file by path.
func (d *Dispatcher) Truncate(ctx context.Context, path string, size int64) (err error) {
	defer d.record("truncate", time.Now(), err)

	if _, ok := controlRel(path); ok {
		return nil // size is meaningless for control files
	}
	r, err := d.resolveOne(path)
	if err != nil {
		return err
	}
	if r.ReadOnly {
		return errors.ReadOnly(path)
	}
	return r.Backend.Truncate(ctx, r.Remainder, size)
}

// Mkdir creates a directory.
func (d *Dispatcher) Mkdir(ctx context.Context, path string) (err error) {
	defer d.record("mkdir", time.Now(), err)
	return d.mutate(ctx, path, func(r *namespace.Resolved) error {
		return r.Backend.Mkdir(ctx, r.Remainder)
	})
}

// Unlink removes a file.
func (d *Dispatcher) Unlink(ctx context.Context, path string) (err error) {
	defer d.record("unlink", time.Now(), err)
	return d.mutate(ctx, path, func(r *namespace.Resolved) error {
		return r.Backend.Unlink(ctx, r.Remainder)
	})
}

// Rmdir removes a directory. Claim paths and the control subtree are
// part of the namespace itself and cannot be removed this way.
func (d *Dispatcher) Rmdir(ctx context.Context, path string) (err error) {
	defer d.record("rmdir", time.Now(), err)

	if _, ok := controlRel(path); ok {
		return errors.ReadOnly(path)
	}
	r, err := d.resolveOne(path)
	if err != nil {
		return err
	}
	if r.Remainder == "" {
		return errors.ReadOnly(path) // the claim path itself
	}
	if r.ReadOnly {
		return errors.ReadOnly(path)
	}
	return r.Backend.Rmdir(ctx, r.Remainder)
}

func (d *Dispatcher) mutate(ctx context.Context, path string, op func(*namespace.Resolved) error) error {
	if _, ok := controlRel(path); ok {
		return errors.ReadOnly(path)
	}
	r, err := d.resolveOne(path)
	if err != nil {
		return err
	}
	if r.ReadOnly {
		return errors.ReadOnly(path)
	}
	return op(r)
}

// Rename moves a file within one container. Moves across containers
// fail so callers fall back to copy-and-delete.
func (d *Dispatcher) Rename(ctx context.Context, oldPath, newPath string) (err error) {
	defer d.record("rename", time.Now(), err)

	_, oldCtl := controlRel(oldPath)
	_, newCtl := controlRel(newPath)
	if oldCtl || newCtl {
		return errors.ReadOnly(oldPath)
	}

	oldR, err := d.resolveOne(oldPath)
	if err != nil {
		return err
	}
	newR, err := d.resolveOne(newPath)
	if err != nil {
		return err
	}
	if oldR.UUID != newR.UUID {
		return ErrCrossStorage
	}
	if oldR.ReadOnly {
		return errors.ReadOnly(oldPath)
	}
	return oldR.Backend.Rename(ctx, oldR.Remainder, newR.Remainder)
}

// OpenHandles reports the number of live handles.
func (d *Dispatcher) OpenHandles() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handles)
}

// ToErrno translates a structured error to its errno. This is the only
// errno mapping in the system.
func ToErrno(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	if stderrors.Is(err, ErrCrossStorage) {
		return syscall.EXDEV
	}
	switch errors.CodeOf(err) {
	case errors.ErrCodeNotFound:
		return syscall.ENOENT
	case errors.ErrCodeReadOnly:
		return syscall.EROFS
	case errors.ErrCodeUnsupported:
		return syscall.EACCES
	case errors.ErrCodePathConflict, errors.ErrCodeInvalidConfig:
		return syscall.EINVAL
	case errors.ErrCodeBadHandle:
		return syscall.EBADF
	default:
		return syscall.EIO
	}
}
