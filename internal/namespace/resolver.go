// Package namespace implements the mount table: the authoritative
// mapping from claim paths to mounted container identities and their
// backends. It is the one piece of state shared between the control
// plane and concurrent filesystem requests.
package namespace

import (
	"sort"
	"sync"
	"time"

	"github.com/containerfs/containerfs/pkg/errors"
	"github.com/containerfs/containerfs/pkg/types"
	"github.com/containerfs/containerfs/pkg/utils"
)

// Entry represents one mounted container.
type Entry struct {
	UUID       types.ContainerID
	ClaimPaths []string // normalized absolute paths, first is the main path
	Backend    types.Backend
	ReadOnly   bool
	Extra      map[string]string
	MountedAt  time.Time
}

// Resolved pairs a mounted container with the backend-relative
// remainder of a resolved namespace path.
type Resolved struct {
	UUID      types.ContainerID
	Backend   types.Backend
	ReadOnly  bool
	Remainder string // container-relative, "" for the claim path itself
}

// mountDir is one node of the claim-path prefix tree. At most one
// container can claim a node: an exact duplicate claim by a different
// identity is a conflict, and a duplicate claim by the same identity
// is an idempotent remount.
type mountDir struct {
	id       types.ContainerID // "" when no container claims this node
	children map[string]*mountDir
}

func newMountDir() *mountDir {
	return &mountDir{children: make(map[string]*mountDir)}
}

func (d *mountDir) empty() bool {
	return d.id == "" && len(d.children) == 0
}

// walk descends along the path components, returning nil if the tree
// has no node for the full path.
func (d *mountDir) walk(parts []string) *mountDir {
	node := d
	for _, part := range parts {
		child, ok := node.children[part]
		if !ok {
			return nil
		}
		node = child
	}
	return node
}

func (d *mountDir) mount(parts []string, id types.ContainerID) {
	node := d
	for _, part := range parts {
		child, ok := node.children[part]
		if !ok {
			child = newMountDir()
			node.children[part] = child
		}
		node = child
	}
	node.id = id
}

func (d *mountDir) unmount(parts []string) {
	if len(parts) == 0 {
		d.id = ""
		return
	}
	child, ok := d.children[parts[0]]
	if !ok {
		return
	}
	child.unmount(parts[1:])
	if child.empty() {
		delete(d.children, parts[0])
	}
}

// Resolver owns the mount table. A single RWMutex serializes writers
// (mount, unmount) against each other and against readers, so a
// reader never observes a half-updated table. Backend I/O is never
// performed under the lock.
type Resolver struct {
	mu      sync.RWMutex
	root    *mountDir
	entries map[types.ContainerID]*Entry
	logger  *utils.Logger
}

// NewResolver creates an empty mount table.
func NewResolver(logger *utils.Logger) *Resolver {
	if logger == nil {
		logger = utils.DefaultLogger()
	}
	return &Resolver{
		root:    newMountDir(),
		entries: make(map[types.ContainerID]*Entry),
		logger:  logger.WithComponent("namespace"),
	}
}

// Resolve returns every mounted container whose claim path is a prefix
// of the given namespace path, longest claim path first, each paired
// with the remainder to hand to its backend. An empty result means the
// path belongs to no container; the caller should then consult
// SyntheticEntries to decide whether it is a synthetic ancestor
// directory.
func (r *Resolver) Resolve(path string) []Resolved {
	parts := utils.SplitPath(path)

	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []Resolved
	node := r.root
	for depth := 0; ; depth++ {
		if node.id != "" {
			entry := r.entries[node.id]
			results = append(results, Resolved{
				UUID:      entry.UUID,
				Backend:   entry.Backend,
				ReadOnly:  entry.ReadOnly,
				Remainder: joinRemainder(parts[depth:]),
			})
		}
		if depth == len(parts) {
			break
		}
		child, ok := node.children[parts[depth]]
		if !ok {
			break
		}
		node = child
	}

	// Longest claim path wins, so deeper matches come first.
	for i, j := 0, len(results)-1; i < j; i, j = i+1, j-1 {
		results[i], results[j] = results[j], results[i]
	}
	return results
}

// SyntheticEntries returns the child names contributed by claim paths
// below the given path, and whether the path exists in the prefix tree
// at all. The namespace root always exists.
func (r *Resolver) SyntheticEntries(path string) ([]string, bool) {
	parts := utils.SplitPath(path)

	r.mu.RLock()
	defer r.mu.RUnlock()

	node := r.root.walk(parts)
	if node == nil {
		return nil, false
	}
	names := make([]string, 0, len(node.children))
	for name := range node.children {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, true
}

// Mount installs a container entry, atomically replacing any previous
// entry with the same uuid (remount). It fails with PathConflict if a
// claim path is already held by a different identity; in that case the
// table is left unchanged. Claim paths are normalized in place.
//
// The replaced entry, if any, is returned so the caller can release
// its backend outside the table lock.
func (r *Resolver) Mount(entry *Entry) (*Entry, error) {
	if len(entry.ClaimPaths) == 0 {
		return nil, errors.InvalidConfig("mount requires at least one claim path")
	}

	normalized := make([]string, len(entry.ClaimPaths))
	for i, p := range entry.ClaimPaths {
		clean, err := utils.NormalizeClaimPath(p)
		if err != nil {
			return nil, errors.InvalidConfig(err.Error())
		}
		normalized[i] = clean
	}
	entry.ClaimPaths = normalized
	if entry.MountedAt.IsZero() {
		entry.MountedAt = time.Now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Validate every claim path before touching the table, so a
	// conflict leaves no partial state behind.
	for _, p := range entry.ClaimPaths {
		node := r.root.walk(utils.SplitPath(p))
		if node != nil && node.id != "" && node.id != entry.UUID {
			return nil, errors.PathConflict(p)
		}
	}

	previous := r.entries[entry.UUID]
	if previous != nil {
		for _, p := range previous.ClaimPaths {
			r.root.unmount(utils.SplitPath(p))
		}
		r.logger.Info("remounting container %s (paths %v -> %v)",
			entry.UUID, previous.ClaimPaths, entry.ClaimPaths)
	} else {
		r.logger.Info("mounting container %s under %v", entry.UUID, entry.ClaimPaths)
	}

	for _, p := range entry.ClaimPaths {
		r.root.mount(utils.SplitPath(p), entry.UUID)
	}
	r.entries[entry.UUID] = entry

	return previous, nil
}

// Unmount removes a container entry, failing with NotFound if the
// uuid is not mounted. The removed entry is returned so the caller can
// release its backend outside the table lock.
func (r *Resolver) Unmount(id types.ContainerID) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[id]
	if !ok {
		return nil, errors.NotFound(id.String())
	}

	for _, p := range entry.ClaimPaths {
		r.root.unmount(utils.SplitPath(p))
	}
	delete(r.entries, id)

	r.logger.Info("unmounted container %s from %v", id, entry.ClaimPaths)
	return entry, nil
}

// Get returns the entry for a mounted container.
func (r *Resolver) Get(id types.ContainerID) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[id]
	return entry, ok
}

// ListMounted returns a snapshot of all mounted entries, ordered by
// main claim path.
func (r *Resolver) ListMounted() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]*Entry, 0, len(r.entries))
	for _, entry := range r.entries {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ClaimPaths[0] < entries[j].ClaimPaths[0]
	})
	return entries
}

// ListPaths returns a snapshot mapping each claim path to the
// identities claiming it.
func (r *Resolver) ListPaths() map[string][]types.ContainerID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string][]types.ContainerID)
	for id, entry := range r.entries {
		for _, p := range entry.ClaimPaths {
			result[p] = append(result[p], id)
		}
	}
	return result
}

func joinRemainder(parts []string) string {
	switch len(parts) {
	case 0:
		return ""
	case 1:
		return parts[0]
	}
	n := len(parts) - 1
	for _, p := range parts {
		n += len(p)
	}
	buf := make([]byte, 0, n)
	for i, p := range parts {
		if i > 0 {
			buf = append(buf, '/')
		}
		buf = append(buf, p...)
	}
	return string(buf)
}
