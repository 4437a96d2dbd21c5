// Package control implements the /.control pseudo-subtree. Writes to
// its files are structured instructions (mount, unmount, cache
// management); reads render live namespace state. The subtree is
// synthesized by the dispatcher and never appears in backend listings.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/containerfs/containerfs/internal/manifest"
	"github.com/containerfs/containerfs/internal/namespace"
	"github.com/containerfs/containerfs/internal/storage"
	"github.com/containerfs/containerfs/pkg/errors"
	"github.com/containerfs/containerfs/pkg/types"
	"github.com/containerfs/containerfs/pkg/utils"
)

// DirName is the control subtree's entry name under the namespace root.
const DirName = ".control"

// MaxFileSize bounds a single control read or write. Instructions are
// small; anything larger is a protocol error.
const MaxFileSize = 4096

// Pseudo-file names under /.control.
const (
	fileMount      = "mount"
	fileUnmount    = "unmount"
	fileCmd        = "cmd"
	filePaths      = "paths"
	fileClearCache = "clear-cache"
	dirContainers  = "containers"
)

// Control wires control-plane instructions to the mount table and the
// backend factory.
type Control struct {
	resolver *namespace.Resolver
	factory  *storage.Factory
	logger   *utils.Logger

	// Serializes mounts. The factory validates delegate chains against
	// the live mount table before the table swap; two interleaved
	// mounts could each pass validation and together install a cycle.
	mountMu sync.Mutex
}

// New creates the control plane.
func New(resolver *namespace.Resolver, factory *storage.Factory, logger *utils.Logger) *Control {
	if logger == nil {
		logger = utils.DefaultLogger()
	}
	return &Control{
		resolver: resolver,
		factory:  factory,
		logger:   logger.WithComponent("control"),
	}
}

// containerInfo is the JSON rendering of a mounted entry, served from
// /.control/containers/<uuid>.
type containerInfo struct {
	UUID      string            `json:"uuid"`
	Paths     []string          `json:"paths"`
	Type      string            `json:"type"`
	ReadOnly  bool              `json:"read_only"`
	Extra     map[string]string `json:"extra,omitempty"`
	MountedAt time.Time         `json:"mounted_at"`
}

// Stat returns metadata for a path inside the control subtree. The
// path is relative to /.control; "" names the subtree root.
func (c *Control) Stat(path string) (types.Attr, error) {
	switch path {
	case "", dirContainers:
		return types.DirAttr(), nil
	case fileMount, fileUnmount, fileCmd, fileClearCache:
		return types.Attr{Mode: 0o200}, nil
	case filePaths:
		data, err := c.renderPaths()
		if err != nil {
			return types.Attr{}, err
		}
		return types.Attr{Mode: 0o444, Size: int64(len(data))}, nil
	}

	if id, ok := containerFile(path); ok {
		data, err := c.renderContainer(id)
		if err != nil {
			return types.Attr{}, err
		}
		return types.Attr{Mode: 0o444, Size: int64(len(data))}, nil
	}
	return types.Attr{}, errors.NotFound(path)
}

// ReadDir lists a directory inside the control subtree.
func (c *Control) ReadDir(path string) ([]types.DirEntry, error) {
	switch path {
	case "":
		return []types.DirEntry{
			{Name: fileClearCache, Mode: 0o200},
			{Name: fileCmd, Mode: 0o200},
			{Name: dirContainers, Mode: os.ModeDir | 0o555},
			{Name: fileMount, Mode: 0o200},
			{Name: filePaths, Mode: 0o444},
			{Name: fileUnmount, Mode: 0o200},
		}, nil
	case dirContainers:
		entries := make([]types.DirEntry, 0)
		for _, entry := range c.resolver.ListMounted() {
			entries = append(entries, types.DirEntry{Name: entry.UUID.String(), Mode: 0o444})
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
		return entries, nil
	}
	return nil, errors.NotFound(path)
}

// Read returns the full content of a readable control file. The
// dispatcher slices it for offset reads.
func (c *Control) Read(path string) ([]byte, error) {
	switch path {
	case filePaths:
		return c.renderPaths()
	case fileMount, fileUnmount, fileCmd, fileClearCache:
		return nil, errors.InvalidConfig(path + " is write-only")
	case "", dirContainers:
		return nil, errors.Unsupported("read directory " + path)
	}
	if id, ok := containerFile(path); ok {
		return c.renderContainer(id)
	}
	return nil, errors.NotFound(path)
}

// Write applies one control instruction. Each write is a complete
// instruction; partial or streamed writes are not part of the
// protocol.
func (c *Control) Write(ctx context.Context, path string, data []byte) error {
	if len(data) > MaxFileSize {
		return errors.InvalidConfig(fmt.Sprintf("control write exceeds %d bytes", MaxFileSize))
	}

	switch path {
	case fileMount:
		instruction, err := manifest.Parse(data)
		if err != nil {
			return err
		}
		return c.Mount(ctx, instruction)
	case fileUnmount:
		var instruction types.UnmountInstruction
		if err := json.Unmarshal(data, &instruction); err != nil {
			return errors.InvalidConfig("malformed unmount instruction: " + err.Error())
		}
		return c.unmountByString(ctx, instruction.UUID)
	case fileCmd:
		return c.runCommand(ctx, string(data))
	case fileClearCache:
		return c.clearCache(strings.TrimSpace(string(data)))
	case filePaths:
		return errors.Unsupported("write " + path)
	case "", dirContainers:
		return errors.Unsupported("write directory " + path)
	}
	if _, ok := containerFile(path); ok {
		return errors.Unsupported("write " + path)
	}
	return errors.NotFound(path)
}

// Mount builds the backend a mount instruction describes and installs
// it in the mount table. On conflict nothing is left mounted; on
// remount the replaced backend is released after the table swap.
func (c *Control) Mount(ctx context.Context, instruction *types.MountInstruction) error {
	c.mountMu.Lock()
	defer c.mountMu.Unlock()

	if err := manifest.Validate(instruction); err != nil {
		return err
	}
	id, err := types.ParseContainerID(instruction.UUID)
	if err != nil {
		return errors.InvalidConfig(err.Error())
	}

	backend, err := c.factory.Build(ctx, id, instruction.Backend)
	if err != nil {
		return err
	}
	if err := backend.RequestMount(ctx); err != nil {
		return err
	}

	previous, err := c.resolver.Mount(&namespace.Entry{
		UUID:       id,
		ClaimPaths: append([]string(nil), instruction.Paths...),
		Backend:    backend,
		ReadOnly:   backend.ReadOnly(),
		Extra:      instruction.Extra,
	})
	if err != nil {
		if releaseErr := backend.RequestUnmount(ctx); releaseErr != nil {
			c.logger.Warn("failed to release backend after mount error: %v", releaseErr)
		}
		return err
	}
	if previous != nil {
		if releaseErr := previous.Backend.RequestUnmount(ctx); releaseErr != nil {
			c.logger.Warn("failed to release replaced backend for %s: %v", id, releaseErr)
		}
	}
	return nil
}

// Unmount removes a container and releases its backend.
func (c *Control) Unmount(ctx context.Context, id types.ContainerID) error {
	entry, err := c.resolver.Unmount(id)
	if err != nil {
		return err
	}
	if releaseErr := entry.Backend.RequestUnmount(ctx); releaseErr != nil {
		c.logger.Warn("failed to release backend for %s: %v", id, releaseErr)
	}
	return nil
}

func (c *Control) unmountByString(ctx context.Context, raw string) error {
	id, err := types.ParseContainerID(raw)
	if err != nil {
		return errors.InvalidConfig(err.Error())
	}
	return c.Unmount(ctx, id)
}

// runCommand handles the text protocol of the cmd file:
//
//	mount <locator>
//	unmount <uuid>
func (c *Control) runCommand(ctx context.Context, raw string) error {
	fields := strings.Fields(raw)
	if len(fields) != 2 {
		return errors.InvalidConfig("malformed command: " + strings.TrimSpace(raw))
	}

	switch fields[0] {
	case "mount":
		instruction, err := manifest.Load(fields[1])
		if err != nil {
			return err
		}
		return c.Mount(ctx, instruction)
	case "unmount":
		return c.unmountByString(ctx, fields[1])
	}
	return errors.InvalidConfig("unknown command: " + fields[0])
}

// clearCache drops cached metadata. An empty write clears every
// mounted container; a uuid clears one.
func (c *Control) clearCache(arg string) error {
	if arg == "" {
		for _, entry := range c.resolver.ListMounted() {
			clearEntry(entry)
		}
		c.logger.Info("cleared caches for all containers")
		return nil
	}

	id, err := types.ParseContainerID(arg)
	if err != nil {
		return errors.InvalidConfig(err.Error())
	}
	entry, ok := c.resolver.Get(id)
	if !ok {
		return errors.NotFound(id.String())
	}
	clearEntry(entry)
	return nil
}

func clearEntry(entry *namespace.Entry) {
	if clearer, ok := entry.Backend.(types.CacheClearer); ok {
		clearer.ClearCache()
	}
}

func (c *Control) renderPaths() ([]byte, error) {
	paths := c.resolver.ListPaths()
	lines := make([]string, 0, len(paths))
	for path, ids := range paths {
		for _, id := range ids {
			lines = append(lines, path+" "+id.String())
		}
	}
	sort.Strings(lines)

	var sb strings.Builder
	for _, line := range lines {
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	return clampRead([]byte(sb.String())), nil
}

func (c *Control) renderContainer(id types.ContainerID) ([]byte, error) {
	entry, ok := c.resolver.Get(id)
	if !ok {
		return nil, errors.NotFound(id.String())
	}
	info := containerInfo{
		UUID:      entry.UUID.String(),
		Paths:     entry.ClaimPaths,
		Type:      entry.Backend.Type(),
		ReadOnly:  entry.ReadOnly,
		Extra:     entry.Extra,
		MountedAt: entry.MountedAt,
	}
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return nil, errors.BackendIO(id.String(), err)
	}
	return clampRead(append(data, '\n')), nil
}

// containerFile matches "containers/<uuid>" paths.
func containerFile(path string) (types.ContainerID, bool) {
	rest, ok := strings.CutPrefix(path, dirContainers+"/")
	if !ok || strings.ContainsRune(rest, '/') {
		return "", false
	}
	id, err := types.ParseContainerID(rest)
	if err != nil {
		return "", false
	}
	return id, true
}

func clampRead(data []byte) []byte {
	if len(data) > MaxFileSize {
		return data[:MaxFileSize]
	}
	return data
}
