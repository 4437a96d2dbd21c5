package local

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/containerfs/containerfs/pkg/errors"
)

func newTestBackend(t *testing.T, readOnly bool) *Backend {
	t.Helper()
	dir := t.TempDir()
	b, err := New(map[string]string{"location": dir}, readOnly)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return b
}

func TestNewValidation(t *testing.T) {
	if _, err := New(map[string]string{}, false); !errors.IsCode(err, errors.ErrCodeInvalidConfig) {
		t.Errorf("missing location: got %v, want INVALID_CONFIG", err)
	}
	if _, err := New(map[string]string{"location": "relative/dir"}, false); !errors.IsCode(err, errors.ErrCodeInvalidConfig) {
		t.Errorf("relative location: got %v, want INVALID_CONFIG", err)
	}
}

func TestRequestMountMissingDirectory(t *testing.T) {
	b, err := New(map[string]string{"location": filepath.Join(t.TempDir(), "missing")}, false)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if err := b.RequestMount(context.Background()); !errors.IsCode(err, errors.ErrCodeInvalidConfig) {
		t.Errorf("RequestMount() = %v, want INVALID_CONFIG", err)
	}
}

func TestCreateWriteReadCycle(t *testing.T) {
	b := newTestBackend(t, false)
	ctx := context.Background()

	if err := b.Create(ctx, "file1"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := b.Write(ctx, "file1", 0, []byte("hello world")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	attr, err := b.Stat(ctx, "file1")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if attr.IsDir() || attr.Size != 11 {
		t.Errorf("Stat = %+v, want regular file of 11 bytes", attr)
	}

	dest := make([]byte, 5)
	n, err := b.Read(ctx, "file1", 6, dest)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != 5 || string(dest[:n]) != "world" {
		t.Errorf("Read at offset = %q (%d bytes)", dest[:n], n)
	}
}

func TestReadPastEOF(t *testing.T) {
	b := newTestBackend(t, false)
	ctx := context.Background()

	if err := b.Create(ctx, "short"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := b.Write(ctx, "short", 0, []byte("abc")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	dest := make([]byte, 10)
	n, err := b.Read(ctx, "short", 0, dest)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != 3 {
		t.Errorf("Read returned %d bytes, want 3", n)
	}
	if n, err = b.Read(ctx, "short", 100, dest); err != nil || n != 0 {
		t.Errorf("Read past EOF = (%d, %v), want (0, nil)", n, err)
	}
}

func TestStatMissing(t *testing.T) {
	b := newTestBackend(t, false)
	if _, err := b.Stat(context.Background(), "nope"); !errors.IsCode(err, errors.ErrCodeNotFound) {
		t.Errorf("Stat missing = %v, want NOT_FOUND", err)
	}
}

func TestReadDirSorted(t *testing.T) {
	b := newTestBackend(t, false)
	ctx := context.Background()

	for _, name := range []string{"zeta", "alpha"} {
		if err := b.Create(ctx, name); err != nil {
			t.Fatalf("Create %s: %v", name, err)
		}
	}
	if err := b.Mkdir(ctx, "dir1"); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}

	entries, err := b.ReadDir(ctx, "")
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("ReadDir returned %d entries, want 3", len(entries))
	}
	if entries[0].Name != "alpha" || entries[1].Name != "dir1" || entries[2].Name != "zeta" {
		t.Errorf("ReadDir order = %v", entries)
	}
	if !entries[1].Mode.IsDir() {
		t.Errorf("dir1 not reported as directory: %v", entries[1].Mode)
	}
}

func TestReadOnlyRejectsMutations(t *testing.T) {
	b := newTestBackend(t, true)
	ctx := context.Background()

	checks := map[string]error{
		"Create":   b.Create(ctx, "f"),
		"Mkdir":    b.Mkdir(ctx, "d"),
		"Unlink":   b.Unlink(ctx, "f"),
		"Rmdir":    b.Rmdir(ctx, "d"),
		"Truncate": b.Truncate(ctx, "f", 0),
		"Rename":   b.Rename(ctx, "f", "g"),
	}
	if _, err := b.Write(ctx, "f", 0, []byte("x")); err != nil {
		checks["Write"] = err
	}
	for op, err := range checks {
		if !errors.IsCode(err, errors.ErrCodeReadOnly) {
			t.Errorf("%s on read-only backend = %v, want READ_ONLY", op, err)
		}
	}
}

func TestRenameAndUnlink(t *testing.T) {
	b := newTestBackend(t, false)
	ctx := context.Background()

	if err := b.Mkdir(ctx, "dir1"); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if err := b.Create(ctx, "old"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := b.Rename(ctx, "old", "dir1/new"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if _, err := b.Stat(ctx, "old"); !errors.IsCode(err, errors.ErrCodeNotFound) {
		t.Errorf("old path still exists after rename: %v", err)
	}
	if _, err := b.Stat(ctx, "dir1/new"); err != nil {
		t.Errorf("new path missing after rename: %v", err)
	}

	if err := b.Unlink(ctx, "dir1/new"); err != nil {
		t.Fatalf("Unlink: %v", err)
	}
	if err := b.Rmdir(ctx, "dir1"); err != nil {
		t.Fatalf("Rmdir: %v", err)
	}
}

func TestRmdirOnFile(t *testing.T) {
	b := newTestBackend(t, false)
	ctx := context.Background()

	if err := b.Create(ctx, "plainfile"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := b.Rmdir(ctx, "plainfile"); !errors.IsCode(err, errors.ErrCodeBackendIO) {
		t.Errorf("Rmdir on file = %v, want BACKEND_IO", err)
	}
}

func TestTraversalRejected(t *testing.T) {
	b := newTestBackend(t, false)
	if _, err := b.Stat(context.Background(), "../escape"); !errors.IsCode(err, errors.ErrCodeInvalidConfig) {
		t.Errorf("traversal path = %v, want INVALID_CONFIG", err)
	}
}

func TestTruncate(t *testing.T) {
	b := newTestBackend(t, false)
	ctx := context.Background()

	if err := b.Create(ctx, "f"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := b.Write(ctx, "f", 0, []byte("0123456789")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := b.Truncate(ctx, "f", 4); err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	attr, err := b.Stat(ctx, "f")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if attr.Size != 4 {
		t.Errorf("size after truncate = %d, want 4", attr.Size)
	}
	// Independent verification through the OS.
	info, err := os.Stat(filepath.Join(b.root, "f"))
	if err != nil || info.Size() != 4 {
		t.Errorf("os.Stat after truncate = %v, %v", info, err)
	}
}
