package fuse

import (
	"testing"
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/containerfs/containerfs/pkg/types"
)

func TestSafeConversions(t *testing.T) {
	if got := safeInt64ToUint64(-1); got != 0 {
		t.Errorf("safeInt64ToUint64(-1) = %d", got)
	}
	if got := safeInt64ToUint64(42); got != 42 {
		t.Errorf("safeInt64ToUint64(42) = %d", got)
	}
	if got := safeIntToUint32(-1); got != 0 {
		t.Errorf("safeIntToUint32(-1) = %d", got)
	}
	if got := safeIntToUint32(1 << 40); got != 0xFFFFFFFF {
		t.Errorf("safeIntToUint32 overflow = %d", got)
	}
}

func TestFuseMode(t *testing.T) {
	dir := fuseMode(types.DirAttr())
	if dir&fuse.S_IFDIR == 0 {
		t.Errorf("directory mode %o missing S_IFDIR", dir)
	}
	if dir&0o777 != 0o555 {
		t.Errorf("directory perm = %o, want 555", dir&0o777)
	}

	file := fuseMode(types.FileAttr(10, time.Now()))
	if file&fuse.S_IFREG == 0 {
		t.Errorf("file mode %o missing S_IFREG", file)
	}
	if file&0o777 != 0o644 {
		t.Errorf("file perm = %o, want 644", file&0o777)
	}
}

func TestFillAttr(t *testing.T) {
	f := NewFileSystem(nil, nil)
	modTime := time.Unix(1700000000, 0)

	var out fuse.Attr
	f.fillAttr(&out, types.FileAttr(123, modTime))

	if out.Size != 123 {
		t.Errorf("size = %d", out.Size)
	}
	if out.Mtime != 1700000000 {
		t.Errorf("mtime = %d", out.Mtime)
	}
	if out.Mode&fuse.S_IFREG == 0 {
		t.Errorf("mode = %o", out.Mode)
	}
}

func TestChildPath(t *testing.T) {
	f := NewFileSystem(nil, nil)

	root := &DirectoryNode{fs: f, path: "/"}
	if got := root.childPath("a"); got != "/a" {
		t.Errorf("root child = %q", got)
	}

	nested := &DirectoryNode{fs: f, path: "/a/b"}
	if got := nested.childPath("c"); got != "/a/b/c" {
		t.Errorf("nested child = %q", got)
	}
}
