package utils

import (
	"fmt"
	gopath "path"
	"strings"
)

// Namespace paths are always POSIX: absolute, slash separated and
// cleaned. Backend-relative paths drop the leading slash; the empty
// string names the backend root.

// NormalizeClaimPath validates and canonicalizes a claim path. Claim
// paths must be absolute and must not traverse upwards.
func NormalizeClaimPath(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("claim path cannot be empty")
	}
	if !strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("claim path must be absolute: %s", p)
	}
	// Check before cleaning; Clean silently folds ".." on rooted paths.
	for _, part := range strings.Split(p, "/") {
		if part == ".." {
			return "", fmt.Errorf("claim path contains directory traversal: %s", p)
		}
	}

	clean := gopath.Clean(p)
	if clean == "/" {
		return "", fmt.Errorf("cannot claim the namespace root")
	}
	return clean, nil
}

// ValidateRelPath rejects backend-relative paths that escape the
// backend root through ".." components.
func ValidateRelPath(p string) error {
	for _, part := range strings.Split(p, "/") {
		if part == ".." {
			return fmt.Errorf("path contains directory traversal: %s", p)
		}
	}
	return nil
}

// SplitPath returns the components of an absolute namespace path. The
// root yields an empty slice.
func SplitPath(p string) []string {
	clean := gopath.Clean("/" + p)
	if clean == "/" {
		return nil
	}
	return strings.Split(strings.TrimPrefix(clean, "/"), "/")
}

// JoinComponents rebuilds an absolute namespace path from components.
func JoinComponents(parts []string) string {
	if len(parts) == 0 {
		return "/"
	}
	return "/" + strings.Join(parts, "/")
}

// RelJoin joins backend-relative path elements, keeping the empty
// string as the root representation.
func RelJoin(base, name string) string {
	if base == "" {
		return name
	}
	if name == "" {
		return base
	}
	return base + "/" + name
}

// RelParent returns the parent of a backend-relative path, or the
// empty string for top-level entries.
func RelParent(p string) string {
	idx := strings.LastIndexByte(p, '/')
	if idx < 0 {
		return ""
	}
	return p[:idx]
}

// RelBase returns the final component of a backend-relative path.
func RelBase(p string) string {
	idx := strings.LastIndexByte(p, '/')
	if idx < 0 {
		return p
	}
	return p[idx+1:]
}
