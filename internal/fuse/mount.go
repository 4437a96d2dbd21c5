package fuse

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/containerfs/containerfs/internal/config"
	"github.com/containerfs/containerfs/pkg/utils"
)

// FilesystemStats represents mount-level statistics.
type FilesystemStats struct {
	Mounted     bool   `json:"mounted"`
	Mountpoint  string `json:"mountpoint"`
	OpenHandles int    `json:"open_handles"`
}

// MountOptions contains FUSE mount options.
type MountOptions struct {
	Mountpoint string `yaml:"mountpoint"`

	// Basic options
	ReadOnly   bool `yaml:"read_only"`
	AllowOther bool `yaml:"allow_other"`

	// Advanced options
	Debug        bool          `yaml:"debug"`
	FSName       string        `yaml:"fsname"`
	Subtype      string        `yaml:"subtype"`
	AttrTimeout  time.Duration `yaml:"attr_timeout"`
	EntryTimeout time.Duration `yaml:"entry_timeout"`
	MaxWrite     int           `yaml:"max_write"`
}

// NewMountOptions derives mount options from the daemon configuration.
func NewMountOptions(cfg *config.Configuration) *MountOptions {
	return &MountOptions{
		Mountpoint:   cfg.Mount.Mountpoint,
		AllowOther:   cfg.Mount.AllowOther,
		Debug:        cfg.Mount.Debug,
		FSName:       cfg.Mount.FSName,
		Subtype:      "containerfs",
		AttrTimeout:  time.Second,
		EntryTimeout: time.Second,
		MaxWrite:     128 * 1024,
	}
}

// MountManager manages the FUSE mount lifecycle.
type MountManager struct {
	filesystem *FileSystem
	options    *MountOptions
	logger     *utils.Logger

	mu      sync.Mutex
	server  *fuse.Server
	mounted bool
}

// NewMountManager creates a mount manager for the filesystem.
func NewMountManager(filesystem *FileSystem, options *MountOptions, logger *utils.Logger) *MountManager {
	if logger == nil {
		logger = utils.DefaultLogger()
	}
	return &MountManager{
		filesystem: filesystem,
		options:    options,
		logger:     logger.WithComponent("mount"),
	}
}

// Mount mounts the filesystem and starts serving in the background.
func (m *MountManager) Mount(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.mounted {
		return fmt.Errorf("filesystem is already mounted")
	}

	if err := m.validateMountpoint(); err != nil {
		return fmt.Errorf("invalid mountpoint: %w", err)
	}

	opts := m.buildFUSEOptions()

	server, err := fs.Mount(m.options.Mountpoint, m.filesystem.Root(), opts)
	if err != nil {
		return fmt.Errorf("failed to mount filesystem: %w", err)
	}

	m.server = server
	m.mounted = true
	m.logger.Info("mounted at %s", m.options.Mountpoint)

	go func() {
		server.Wait()
		m.mu.Lock()
		m.mounted = false
		m.mu.Unlock()
		m.logger.Info("FUSE server stopped")
	}()

	return nil
}

// Unmount unmounts the filesystem, falling back to a forced unmount
// when the kernel refuses.
func (m *MountManager) Unmount() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.mounted || m.server == nil {
		return fmt.Errorf("filesystem is not mounted")
	}

	if err := m.server.Unmount(); err != nil {
		m.logger.Warn("unmount failed, forcing: %v", err)
		if forceErr := m.forceUnmount(); forceErr != nil {
			return fmt.Errorf("unmount failed: %w (forced unmount also failed: %v)", err, forceErr)
		}
	}

	m.mounted = false
	m.server = nil
	m.logger.Info("unmounted %s", m.options.Mountpoint)
	return nil
}

// IsMounted reports whether the filesystem is currently mounted.
func (m *MountManager) IsMounted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mounted
}

// Wait blocks until the FUSE server exits.
func (m *MountManager) Wait() {
	m.mu.Lock()
	server := m.server
	m.mu.Unlock()
	if server != nil {
		server.Wait()
	}
}

// GetStats returns mount-level statistics.
func (m *MountManager) GetStats() *FilesystemStats {
	return &FilesystemStats{
		Mounted:     m.IsMounted(),
		Mountpoint:  m.options.Mountpoint,
		OpenHandles: m.filesystem.dispatcher.OpenHandles(),
	}
}

func (m *MountManager) validateMountpoint() error {
	if m.options.Mountpoint == "" {
		return fmt.Errorf("mountpoint cannot be empty")
	}

	info, err := os.Stat(m.options.Mountpoint)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("mountpoint does not exist: %s", m.options.Mountpoint)
		}
		return fmt.Errorf("cannot access mountpoint: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("mountpoint is not a directory: %s", m.options.Mountpoint)
	}

	if m.isAlreadyMounted() {
		return fmt.Errorf("mountpoint %s is already mounted", m.options.Mountpoint)
	}

	return nil
}

func (m *MountManager) buildFUSEOptions() *fs.Options {
	opts := &fs.Options{
		MountOptions: fuse.MountOptions{
			Name:       m.options.FSName,
			FsName:     m.options.FSName,
			Debug:      m.options.Debug,
			AllowOther: m.options.AllowOther,
			MaxWrite:   m.options.MaxWrite,
		},

		AttrTimeout:  &m.options.AttrTimeout,
		EntryTimeout: &m.options.EntryTimeout,

		// The dispatcher decides access; the kernel must not second-guess
		// the synthetic modes.
		NullPermissions: true,
	}

	if m.options.ReadOnly {
		opts.Options = append(opts.Options, "ro")
	}
	if m.options.Subtype != "" {
		opts.Options = append(opts.Options, fmt.Sprintf("subtype=%s", m.options.Subtype))
	}

	return opts
}

func (m *MountManager) isAlreadyMounted() bool {
	data, err := os.ReadFile("/proc/mounts")
	if err != nil {
		return false
	}

	mountpoint := filepath.Clean(m.options.Mountpoint)
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[1] == mountpoint {
			return true
		}
	}
	return false
}

func (m *MountManager) forceUnmount() error {
	// Lazy detach first, then force.
	if err := syscall.Unmount(m.options.Mountpoint, 2); err == nil {
		return nil
	}
	return syscall.Unmount(m.options.Mountpoint, 1)
}
