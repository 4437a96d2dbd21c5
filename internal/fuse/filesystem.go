package fuse

import (
	"context"
	"os"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/containerfs/containerfs/internal/dispatch"
	"github.com/containerfs/containerfs/pkg/types"
	"github.com/containerfs/containerfs/pkg/utils"
)

// safeInt64ToUint64 safely converts int64 to uint64, preventing negative values
func safeInt64ToUint64(i int64) uint64 {
	if i < 0 {
		return 0
	}
	return uint64(i)
}

// safeIntToUint32 safely converts int to uint32, preventing overflow
func safeIntToUint32(i int) uint32 {
	if i < 0 {
		return 0
	}
	if i > 0xFFFFFFFF {
		return 0xFFFFFFFF
	}
	return uint32(i)
}

// FileSystem bridges the kernel FUSE protocol to the request
// dispatcher. Nodes hold absolute namespace paths and delegate every
// operation; the dispatcher owns handles, routing and errno mapping.
type FileSystem struct {
	dispatcher *dispatch.Dispatcher
	logger     *utils.Logger

	// Reported as the owner of every node. The namespace has no
	// per-file ownership of its own.
	uid uint32
	gid uint32
}

// NewFileSystem creates a FUSE filesystem serving the dispatcher's
// namespace.
func NewFileSystem(dispatcher *dispatch.Dispatcher, logger *utils.Logger) *FileSystem {
	if logger == nil {
		logger = utils.DefaultLogger()
	}
	return &FileSystem{
		dispatcher: dispatcher,
		logger:     logger.WithComponent("fuse"),
		uid:        safeIntToUint32(os.Getuid()),
		gid:        safeIntToUint32(os.Getgid()),
	}
}

// Root returns the root inode.
func (f *FileSystem) Root() fs.InodeEmbedder {
	return &DirectoryNode{fs: f, path: "/"}
}

// fuseMode converts a namespace mode to the kernel representation.
func fuseMode(attr types.Attr) uint32 {
	perm := uint32(attr.Mode.Perm())
	if attr.IsDir() {
		return fuse.S_IFDIR | perm
	}
	return fuse.S_IFREG | perm
}

func (f *FileSystem) fillAttr(out *fuse.Attr, attr types.Attr) {
	out.Mode = fuseMode(attr)
	out.Size = safeInt64ToUint64(attr.Size)
	out.Uid = f.uid
	out.Gid = f.gid

	unixTime := safeInt64ToUint64(attr.ModTime.Unix())
	out.Mtime = unixTime
	out.Atime = unixTime
	out.Ctime = unixTime
}

// DirectoryNode represents a directory in the namespace.
type DirectoryNode struct {
	fs.Inode
	fs   *FileSystem
	path string
}

var (
	_ fs.NodeGetattrer = (*DirectoryNode)(nil)
	_ fs.NodeLookuper  = (*DirectoryNode)(nil)
	_ fs.NodeReaddirer = (*DirectoryNode)(nil)
	_ fs.NodeMkdirer   = (*DirectoryNode)(nil)
	_ fs.NodeCreater   = (*DirectoryNode)(nil)
	_ fs.NodeUnlinker  = (*DirectoryNode)(nil)
	_ fs.NodeRmdirer   = (*DirectoryNode)(nil)
	_ fs.NodeRenamer   = (*DirectoryNode)(nil)
)

func (n *DirectoryNode) childPath(name string) string {
	if n.path == "/" {
		return "/" + name
	}
	return n.path + "/" + name
}

// Getattr gets directory attributes.
func (n *DirectoryNode) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	attr, err := n.fs.dispatcher.GetAttr(ctx, n.path)
	if err != nil {
		return dispatch.ToErrno(err)
	}
	n.fs.fillAttr(&out.Attr, attr)
	return 0
}

// Lookup looks up a child node by name.
func (n *DirectoryNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	childPath := n.childPath(name)

	attr, err := n.fs.dispatcher.GetAttr(ctx, childPath)
	if err != nil {
		return nil, dispatch.ToErrno(err)
	}
	n.fs.fillAttr(&out.Attr, attr)

	if attr.IsDir() {
		child := &DirectoryNode{fs: n.fs, path: childPath}
		return n.NewInode(ctx, child, fs.StableAttr{Mode: fuse.S_IFDIR}), 0
	}
	child := &FileNode{fs: n.fs, path: childPath}
	return n.NewInode(ctx, child, fs.StableAttr{Mode: fuse.S_IFREG}), 0
}

// Readdir reads directory contents.
func (n *DirectoryNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	entries, err := n.fs.dispatcher.ReadDir(ctx, n.path)
	if err != nil {
		n.fs.logger.Debug("readdir %s: %v", n.path, err)
		return nil, dispatch.ToErrno(err)
	}

	fuseEntries := make([]fuse.DirEntry, 0, len(entries))
	for _, e := range entries {
		mode := uint32(fuse.S_IFREG)
		if e.IsDir() {
			mode = fuse.S_IFDIR
		}
		fuseEntries = append(fuseEntries, fuse.DirEntry{
			Name: e.Name,
			Mode: mode,
		})
	}

	return fs.NewListDirStream(fuseEntries), 0
}

// Mkdir creates a new directory.
func (n *DirectoryNode) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	childPath := n.childPath(name)

	if err := n.fs.dispatcher.Mkdir(ctx, childPath); err != nil {
		return nil, dispatch.ToErrno(err)
	}

	n.fs.fillAttr(&out.Attr, types.DirAttr())
	child := &DirectoryNode{fs: n.fs, path: childPath}
	return n.NewInode(ctx, child, fs.StableAttr{Mode: fuse.S_IFDIR}), 0
}

// Create creates a new file and opens it.
func (n *DirectoryNode) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (node *fs.Inode, fh fs.FileHandle, fuseFlags uint32, errno syscall.Errno) {
	childPath := n.childPath(name)

	id, err := n.fs.dispatcher.Create(ctx, childPath)
	if err != nil {
		return nil, nil, 0, dispatch.ToErrno(err)
	}

	n.fs.fillAttr(&out.Attr, types.FileAttr(0, time.Now()))

	fileNode := &FileNode{fs: n.fs, path: childPath}
	node = n.NewInode(ctx, fileNode, fs.StableAttr{Mode: fuse.S_IFREG})
	return node, &FileHandle{fs: n.fs, id: id, path: childPath}, 0, 0
}

// Unlink removes a file.
func (n *DirectoryNode) Unlink(ctx context.Context, name string) syscall.Errno {
	return dispatch.ToErrno(n.fs.dispatcher.Unlink(ctx, n.childPath(name)))
}

// Rmdir removes a directory.
func (n *DirectoryNode) Rmdir(ctx context.Context, name string) syscall.Errno {
	return dispatch.ToErrno(n.fs.dispatcher.Rmdir(ctx, n.childPath(name)))
}

// Rename moves an entry. Moves whose source and target resolve to
// different containers fail with EXDEV and the kernel falls back to
// copy-and-delete.
func (n *DirectoryNode) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	target, ok := newParent.(*DirectoryNode)
	if !ok {
		return syscall.EXDEV
	}
	return dispatch.ToErrno(n.fs.dispatcher.Rename(ctx, n.childPath(name), target.childPath(newName)))
}

// FileNode represents a file in the namespace.
type FileNode struct {
	fs.Inode
	fs   *FileSystem
	path string
}

var (
	_ fs.NodeGetattrer = (*FileNode)(nil)
	_ fs.NodeSetattrer = (*FileNode)(nil)
	_ fs.NodeOpener    = (*FileNode)(nil)
)

// Getattr gets file attributes.
func (f *FileNode) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	attr, err := f.fs.dispatcher.GetAttr(ctx, f.path)
	if err != nil {
		return dispatch.ToErrno(err)
	}
	f.fs.fillAttr(&out.Attr, attr)
	return 0
}

// Setattr applies size changes as truncation. Other attribute changes
// have nothing to act on and succeed silently.
func (f *FileNode) Setattr(ctx context.Context, fh fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	if size, ok := in.GetSize(); ok {
		if err := f.fs.dispatcher.Truncate(ctx, f.path, int64(size)); err != nil {
			return dispatch.ToErrno(err)
		}
	}
	return f.Getattr(ctx, fh, out)
}

// Open opens the file through the dispatcher's handle table.
func (f *FileNode) Open(ctx context.Context, flags uint32) (fh fs.FileHandle, fuseFlags uint32, errno syscall.Errno) {
	writable := flags&(syscall.O_WRONLY|syscall.O_RDWR) != 0

	id, err := f.fs.dispatcher.Open(ctx, f.path, writable)
	if err != nil {
		return nil, 0, dispatch.ToErrno(err)
	}
	return &FileHandle{fs: f.fs, id: id, path: f.path}, 0, 0
}

// FileHandle represents an open file. The id refers to the
// dispatcher's handle table.
type FileHandle struct {
	fs   *FileSystem
	id   uint64
	path string
}

var (
	_ fs.FileReader   = (*FileHandle)(nil)
	_ fs.FileWriter   = (*FileHandle)(nil)
	_ fs.FileReleaser = (*FileHandle)(nil)
)

// Read reads data from the file.
func (fh *FileHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	n, err := fh.fs.dispatcher.Read(ctx, fh.id, off, dest)
	if err != nil {
		fh.fs.logger.Debug("read %s at %d: %v", fh.path, off, err)
		return nil, dispatch.ToErrno(err)
	}
	return fuse.ReadResultData(dest[:n]), 0
}

// Write writes data to the file. Writes into /.control files are
// applied as complete instructions by the dispatcher.
func (fh *FileHandle) Write(ctx context.Context, data []byte, off int64) (written uint32, errno syscall.Errno) {
	n, err := fh.fs.dispatcher.Write(ctx, fh.id, off, data)
	if err != nil {
		fh.fs.logger.Debug("write %s at %d: %v", fh.path, off, err)
		return 0, dispatch.ToErrno(err)
	}
	return safeIntToUint32(n), 0
}

// Release closes the dispatcher handle.
func (fh *FileHandle) Release(ctx context.Context) syscall.Errno {
	return dispatch.ToErrno(fh.fs.dispatcher.Release(fh.id))
}
