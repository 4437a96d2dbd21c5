/*
Package fuse exposes the containerfs namespace as a mounted POSIX
filesystem.

The package is a thin bridge: nodes carry absolute namespace paths and
forward every kernel request to the request dispatcher, which routes it
to the control plane or a mounted backend and owns the handle table and
errno mapping. No filesystem state lives here beyond the inode tree the
kernel asks for.

# Platform support

Two implementations sit behind build constraints, selected by
CreatePlatformMountManager:

Default build (go-fuse):
  - Target: Linux
  - Implementation: github.com/hanwen/go-fuse/v2
  - FileSystem/DirectoryNode/FileNode/FileHandle node tree

CGO build (-tags cgofuse):
  - Target: macOS and Windows via WinFsp/macFUSE
  - Implementation: github.com/winfsp/cgofuse
  - CgoFuseFS path-based adapter

Both satisfy PlatformFileSystem, so callers mount without caring which
driver is underneath.

# Usage

	manager := fuse.CreatePlatformMountManager(dispatcher, fuse.NewMountOptions(cfg), logger)
	if err := manager.Mount(ctx); err != nil {
		return err
	}
	defer manager.Unmount()
	manager.Wait()

Attribute and entry timeouts default to one second; the /.control
subtree changes shape at runtime, so longer kernel caching would serve
stale namespace views.
*/
package fuse
