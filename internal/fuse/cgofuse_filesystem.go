//go:build cgofuse
// +build cgofuse

package fuse

import (
	"context"
	"fmt"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/winfsp/cgofuse/fuse"

	"github.com/containerfs/containerfs/internal/dispatch"
	"github.com/containerfs/containerfs/pkg/types"
	"github.com/containerfs/containerfs/pkg/utils"
)

// CgoFuseFS serves the dispatcher's namespace through cgofuse on
// platforms without a native go-fuse port.
type CgoFuseFS struct {
	fuse.FileSystemBase

	dispatcher *dispatch.Dispatcher
	options    *MountOptions
	logger     *utils.Logger

	uid uint32
	gid uint32

	mu      sync.Mutex
	host    *fuse.FileSystemHost
	mounted bool
}

// NewCgoFuseFS creates a cgofuse-based filesystem.
func NewCgoFuseFS(dispatcher *dispatch.Dispatcher, options *MountOptions, logger *utils.Logger) *CgoFuseFS {
	if logger == nil {
		logger = utils.DefaultLogger()
	}
	return &CgoFuseFS{
		dispatcher: dispatcher,
		options:    options,
		logger:     logger.WithComponent("cgofuse"),
		uid:        safeIntToUint32(os.Getuid()),
		gid:        safeIntToUint32(os.Getgid()),
	}
}

// cgoErrno translates a structured error to a cgofuse return value.
func cgoErrno(err error) int {
	if err == nil {
		return 0
	}
	switch dispatch.ToErrno(err) {
	case syscall.ENOENT:
		return -fuse.ENOENT
	case syscall.EROFS:
		return -fuse.EROFS
	case syscall.EACCES:
		return -fuse.EACCES
	case syscall.EINVAL:
		return -fuse.EINVAL
	case syscall.EBADF:
		return -fuse.EBADF
	case syscall.EXDEV:
		return -fuse.EXDEV
	default:
		return -fuse.EIO
	}
}

func (c *CgoFuseFS) fillStat(stat *fuse.Stat_t, attr types.Attr) {
	if attr.IsDir() {
		stat.Mode = fuse.S_IFDIR | uint32(attr.Mode.Perm())
		stat.Nlink = 2
	} else {
		stat.Mode = fuse.S_IFREG | uint32(attr.Mode.Perm())
		stat.Nlink = 1
		stat.Size = attr.Size
	}
	stat.Uid = c.uid
	stat.Gid = c.gid
	stat.Mtim = fuse.NewTimespec(attr.ModTime)
}

// Mount mounts the filesystem.
func (c *CgoFuseFS) Mount(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mounted {
		return fmt.Errorf("filesystem is already mounted")
	}

	c.host = fuse.NewFileSystemHost(c)

	mountOptions := []string{
		"-o", fmt.Sprintf("fsname=%s", c.options.FSName),
	}
	if c.options.AllowOther {
		mountOptions = append(mountOptions, "-o", "allow_other")
	}
	if c.options.ReadOnly {
		mountOptions = append(mountOptions, "-o", "ro")
	}

	go func() {
		if ok := c.host.Mount(c.options.Mountpoint, mountOptions); !ok {
			c.logger.Error("mount of %s failed", c.options.Mountpoint)
		}
	}()

	// cgofuse reports mount failure asynchronously; give the host a
	// moment to establish.
	time.Sleep(100 * time.Millisecond)

	c.mounted = true
	c.logger.Info("mounted at %s", c.options.Mountpoint)
	return nil
}

// Unmount unmounts the filesystem.
func (c *CgoFuseFS) Unmount() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.mounted {
		return fmt.Errorf("filesystem is not mounted")
	}
	if c.host != nil && !c.host.Unmount() {
		return fmt.Errorf("unmount of %s failed", c.options.Mountpoint)
	}

	c.mounted = false
	c.logger.Info("unmounted %s", c.options.Mountpoint)
	return nil
}

// IsMounted reports whether the filesystem is mounted.
func (c *CgoFuseFS) IsMounted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mounted
}

// Getattr gets file attributes.
func (c *CgoFuseFS) Getattr(path string, stat *fuse.Stat_t, fh uint64) int {
	attr, err := c.dispatcher.GetAttr(context.Background(), path)
	if err != nil {
		return cgoErrno(err)
	}
	c.fillStat(stat, attr)
	return 0
}

// Readdir reads directory contents.
func (c *CgoFuseFS) Readdir(path string, fill func(name string, stat *fuse.Stat_t, ofst int64) bool, ofst int64, fh uint64) int {
	entries, err := c.dispatcher.ReadDir(context.Background(), path)
	if err != nil {
		return cgoErrno(err)
	}

	fill(".", nil, 0)
	fill("..", nil, 0)
	for _, e := range entries {
		if !fill(e.Name, nil, 0) {
			break
		}
	}
	return 0
}

// Open opens a file.
func (c *CgoFuseFS) Open(path string, flags int) (int, uint64) {
	writable := flags&(fuse.O_WRONLY|fuse.O_RDWR) != 0

	id, err := c.dispatcher.Open(context.Background(), path, writable)
	if err != nil {
		return cgoErrno(err), ^uint64(0)
	}
	return 0, id
}

// Create creates and opens a file.
func (c *CgoFuseFS) Create(path string, flags int, mode uint32) (int, uint64) {
	id, err := c.dispatcher.Create(context.Background(), path)
	if err != nil {
		return cgoErrno(err), ^uint64(0)
	}
	return 0, id
}

// Read reads from an open file.
func (c *CgoFuseFS) Read(path string, buff []byte, ofst int64, fh uint64) int {
	n, err := c.dispatcher.Read(context.Background(), fh, ofst, buff)
	if err != nil {
		return cgoErrno(err)
	}
	return n
}

// Write writes to an open file.
func (c *CgoFuseFS) Write(path string, buff []byte, ofst int64, fh uint64) int {
	n, err := c.dispatcher.Write(context.Background(), fh, ofst, buff)
	if err != nil {
		return cgoErrno(err)
	}
	return n
}

// Release closes an open file.
func (c *CgoFuseFS) Release(path string, fh uint64) int {
	return cgoErrno(c.dispatcher.Release(fh))
}

// Truncate resizes a file.
func (c *CgoFuseFS) Truncate(path string, size int64, fh uint64) int {
	return cgoErrno(c.dispatcher.Truncate(context.Background(), path, size))
}

// Mkdir creates a directory.
func (c *CgoFuseFS) Mkdir(path string, mode uint32) int {
	return cgoErrno(c.dispatcher.Mkdir(context.Background(), path))
}

// Unlink removes a file.
func (c *CgoFuseFS) Unlink(path string) int {
	return cgoErrno(c.dispatcher.Unlink(context.Background(), path))
}

// Rmdir removes a directory.
func (c *CgoFuseFS) Rmdir(path string) int {
	return cgoErrno(c.dispatcher.Rmdir(context.Background(), path))
}

// Rename moves an entry within one container.
func (c *CgoFuseFS) Rename(oldpath string, newpath string) int {
	return cgoErrno(c.dispatcher.Rename(context.Background(), oldpath, newpath))
}
