package fuse

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/containerfs/containerfs/internal/config"
)

func TestNewMountOptions(t *testing.T) {
	cfg := config.NewDefault()
	cfg.Mount.Mountpoint = "/mnt/test"
	cfg.Mount.AllowOther = true
	cfg.Mount.FSName = "testfs"

	opts := NewMountOptions(cfg)

	if opts.Mountpoint != "/mnt/test" {
		t.Errorf("mountpoint = %q", opts.Mountpoint)
	}
	if !opts.AllowOther {
		t.Error("allow_other not carried over")
	}
	if opts.FSName != "testfs" {
		t.Errorf("fsname = %q", opts.FSName)
	}
	if opts.AttrTimeout != time.Second || opts.EntryTimeout != time.Second {
		t.Errorf("timeouts = %v/%v", opts.AttrTimeout, opts.EntryTimeout)
	}
}

func TestValidateMountpoint(t *testing.T) {
	newManager := func(mountpoint string) *MountManager {
		return NewMountManager(NewFileSystem(nil, nil), &MountOptions{Mountpoint: mountpoint}, nil)
	}

	if err := newManager("").validateMountpoint(); err == nil {
		t.Error("empty mountpoint accepted")
	}

	if err := newManager(filepath.Join(t.TempDir(), "absent")).validateMountpoint(); err == nil {
		t.Error("missing mountpoint accepted")
	}

	file := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := newManager(file).validateMountpoint(); err == nil {
		t.Error("regular file accepted as mountpoint")
	}

	if err := newManager(t.TempDir()).validateMountpoint(); err != nil {
		t.Errorf("empty directory rejected: %v", err)
	}
}

func TestBuildFUSEOptions(t *testing.T) {
	opts := &MountOptions{
		Mountpoint:   "/mnt/test",
		ReadOnly:     true,
		AllowOther:   true,
		FSName:       "testfs",
		Subtype:      "containerfs",
		AttrTimeout:  time.Second,
		EntryTimeout: time.Second,
		MaxWrite:     64 * 1024,
	}
	m := NewMountManager(NewFileSystem(nil, nil), opts, nil)

	fuseOpts := m.buildFUSEOptions()

	if fuseOpts.MountOptions.FsName != "testfs" {
		t.Errorf("fsname = %q", fuseOpts.MountOptions.FsName)
	}
	if !fuseOpts.MountOptions.AllowOther {
		t.Error("allow_other not set")
	}
	if fuseOpts.MountOptions.MaxWrite != 64*1024 {
		t.Errorf("max_write = %d", fuseOpts.MountOptions.MaxWrite)
	}
	if !fuseOpts.NullPermissions {
		t.Error("NullPermissions not set")
	}

	hasRO := false
	for _, o := range fuseOpts.Options {
		if o == "ro" {
			hasRO = true
		}
	}
	if !hasRO {
		t.Error("ro option missing for read-only mount")
	}
}
