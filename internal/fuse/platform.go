//go:build !cgofuse
// +build !cgofuse

package fuse

import (
	"context"

	"github.com/containerfs/containerfs/internal/dispatch"
	"github.com/containerfs/containerfs/pkg/utils"
)

// PlatformFileSystem is the mount surface shared by the go-fuse and
// cgofuse implementations.
type PlatformFileSystem interface {
	Mount(ctx context.Context) error
	Unmount() error
	IsMounted() bool
	Wait()
	GetStats() *FilesystemStats
}

// CreatePlatformMountManager creates the go-fuse mount manager.
func CreatePlatformMountManager(dispatcher *dispatch.Dispatcher, options *MountOptions, logger *utils.Logger) PlatformFileSystem {
	filesystem := NewFileSystem(dispatcher, logger)
	return NewMountManager(filesystem, options, logger)
}
