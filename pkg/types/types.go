package types

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
)

// ContainerID is the immutable identity of a mounted container. It is
// the canonical lowercase string form of a UUID, so it can be used
// directly as a map key and in JSON instructions.
type ContainerID string

// ParseContainerID validates and canonicalizes a container UUID.
func ParseContainerID(s string) (ContainerID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid container uuid %q: %w", s, err)
	}
	return ContainerID(id.String()), nil
}

// NewContainerID generates a random container identity.
func NewContainerID() ContainerID {
	return ContainerID(uuid.NewString())
}

// String returns the canonical string form of the identity.
func (c ContainerID) String() string {
	return string(c)
}

// Attr represents file or directory metadata returned by a backend.
type Attr struct {
	Mode    os.FileMode `json:"mode"`
	Size    int64       `json:"size"`
	ModTime time.Time   `json:"mod_time"`
}

// IsDir reports whether the attributes describe a directory.
func (a Attr) IsDir() bool {
	return a.Mode.IsDir()
}

// DirAttr returns attributes for a synthetic directory.
func DirAttr() Attr {
	return Attr{Mode: os.ModeDir | 0o555}
}

// FileAttr returns attributes for a regular file of the given size.
func FileAttr(size int64, modTime time.Time) Attr {
	return Attr{Mode: 0o644, Size: size, ModTime: modTime}
}

// DirEntry represents a single directory entry returned by ReadDir.
type DirEntry struct {
	Name string      `json:"name"`
	Mode os.FileMode `json:"mode"`
}

// IsDir reports whether the entry is a directory.
func (e DirEntry) IsDir() bool {
	return e.Mode.IsDir()
}

// BackendDescriptor selects and configures a backend variant. The Type
// tag chooses the implementation ("local", "static", "s3", "delegate");
// a "cached-" prefix wraps the inner variant in the TTL cache, for
// example "cached-s3". Params carry type-specific configuration.
type BackendDescriptor struct {
	Type     string            `json:"type"`
	Params   map[string]string `json:"params,omitempty"`
	ReadOnly bool              `json:"read_only,omitempty"`

	// Delegate backends only: the inner container, referenced either
	// by uuid or by a manifest locator, and an optional subdirectory
	// of the inner container to expose as the delegate root.
	InnerContainer string `json:"inner_container,omitempty"`
	Subdirectory   string `json:"subdirectory,omitempty"`

	// Cached wrappers only: metadata/listing cache TTL. Zero or
	// negative disables caching.
	CacheTTL time.Duration `json:"cache_ttl,omitempty"`
}

// MountInstruction is a single structured mount request, delivered as
// one atomic write to the control plane's mount pseudo-file.
type MountInstruction struct {
	UUID    string            `json:"uuid"`
	Paths   []string          `json:"paths"`
	Backend BackendDescriptor `json:"backend"`
	Extra   map[string]string `json:"extra,omitempty"`
}

// UnmountInstruction is a single unmount-by-uuid request.
type UnmountInstruction struct {
	UUID string `json:"uuid"`
}
