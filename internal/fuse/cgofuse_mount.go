//go:build cgofuse
// +build cgofuse

package fuse

import (
	"context"
	"time"

	"github.com/containerfs/containerfs/internal/dispatch"
	"github.com/containerfs/containerfs/pkg/utils"
)

// CgoFuseMountManager manages cgofuse-based mounts.
type CgoFuseMountManager struct {
	filesystem *CgoFuseFS
	dispatcher *dispatch.Dispatcher
	options    *MountOptions
}

// NewCgoFuseMountManager creates a cgofuse mount manager.
func NewCgoFuseMountManager(dispatcher *dispatch.Dispatcher, options *MountOptions, logger *utils.Logger) *CgoFuseMountManager {
	return &CgoFuseMountManager{
		filesystem: NewCgoFuseFS(dispatcher, options, logger),
		dispatcher: dispatcher,
		options:    options,
	}
}

// Mount mounts the filesystem.
func (m *CgoFuseMountManager) Mount(ctx context.Context) error {
	return m.filesystem.Mount(ctx)
}

// Unmount unmounts the filesystem.
func (m *CgoFuseMountManager) Unmount() error {
	return m.filesystem.Unmount()
}

// IsMounted reports whether the filesystem is mounted.
func (m *CgoFuseMountManager) IsMounted() bool {
	return m.filesystem.IsMounted()
}

// Wait blocks until the filesystem is unmounted. cgofuse exposes no
// wait primitive, so the mount state is polled.
func (m *CgoFuseMountManager) Wait() {
	for m.filesystem.IsMounted() {
		time.Sleep(time.Second)
	}
}

// GetStats returns mount-level statistics.
func (m *CgoFuseMountManager) GetStats() *FilesystemStats {
	return &FilesystemStats{
		Mounted:     m.filesystem.IsMounted(),
		Mountpoint:  m.options.Mountpoint,
		OpenHandles: m.dispatcher.OpenHandles(),
	}
}
