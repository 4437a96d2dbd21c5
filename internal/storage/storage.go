// Package storage builds backends from mount descriptors. The factory
// is the only place that knows every backend variant, how the cached
// wrapper composes with them, and which delegate chains are legal.
package storage

import (
	"context"
	"strings"
	"time"

	"github.com/containerfs/containerfs/internal/namespace"
	"github.com/containerfs/containerfs/internal/storage/cached"
	"github.com/containerfs/containerfs/internal/storage/delegate"
	"github.com/containerfs/containerfs/internal/storage/local"
	"github.com/containerfs/containerfs/internal/storage/s3"
	"github.com/containerfs/containerfs/internal/storage/static"
	"github.com/containerfs/containerfs/pkg/errors"
	"github.com/containerfs/containerfs/pkg/types"
	"github.com/containerfs/containerfs/pkg/utils"
)

// innerRef is implemented by backends that reference another mounted
// container (the delegate). It drives cycle detection.
type innerRef interface {
	InnerContainer() types.ContainerID
}

// Factory constructs backends for mount requests.
type Factory struct {
	resolver *namespace.Resolver
	metrics  types.MetricsRecorder
	logger   *utils.Logger

	// Applied when a cached descriptor leaves cache_ttl unset. A
	// negative descriptor TTL disables caching outright.
	defaultTTL time.Duration
}

// NewFactory creates a backend factory bound to the mount table.
// metrics may be nil.
func NewFactory(resolver *namespace.Resolver, metrics types.MetricsRecorder, logger *utils.Logger) *Factory {
	if logger == nil {
		logger = utils.DefaultLogger()
	}
	return &Factory{
		resolver: resolver,
		metrics:  metrics,
		logger:   logger.WithComponent("storage"),
	}
}

// SetDefaultCacheTTL sets the TTL used by cached descriptors that do
// not carry their own.
func (f *Factory) SetDefaultCacheTTL(ttl time.Duration) {
	f.defaultTTL = ttl
}

// Build constructs the backend a descriptor asks for. The id is the
// container being mounted; delegate descriptors are checked against it
// so a delegate chain can never loop back onto itself.
func (f *Factory) Build(ctx context.Context, id types.ContainerID, desc types.BackendDescriptor) (types.Backend, error) {
	typeName := desc.Type
	wrap := strings.HasPrefix(typeName, cached.TypePrefix)
	if wrap {
		typeName = strings.TrimPrefix(typeName, cached.TypePrefix)
	}

	var (
		backend types.Backend
		err     error
	)
	switch typeName {
	case local.TypeName:
		backend, err = local.New(desc.Params, desc.ReadOnly)
	case static.TypeName:
		backend, err = static.New(desc.Params)
	case s3.TypeName:
		backend, err = s3.New(ctx, desc.Params, desc.ReadOnly)
	case delegate.TypeName:
		backend, err = f.buildDelegate(id, desc)
	case "":
		return nil, errors.InvalidConfig("backend descriptor has no type")
	default:
		return nil, errors.InvalidConfig("unknown backend type: " + desc.Type)
	}
	if err != nil {
		return nil, err
	}

	if wrap {
		ttl := desc.CacheTTL
		if ttl == 0 {
			ttl = f.defaultTTL
		}
		backend = cached.New(backend, ttl, f.metrics)
	}
	f.logger.Debug("built %s backend for container %s", backend.Type(), id)
	return backend, nil
}

func (f *Factory) buildDelegate(id types.ContainerID, desc types.BackendDescriptor) (types.Backend, error) {
	inner, err := types.ParseContainerID(desc.InnerContainer)
	if err != nil {
		return nil, errors.InvalidConfig(err.Error())
	}
	if err := f.checkDelegateCycle(id, inner); err != nil {
		return nil, err
	}

	lookup := func(target types.ContainerID) (types.Backend, bool) {
		entry, ok := f.resolver.Get(target)
		if !ok {
			return nil, false
		}
		return entry.Backend, true
	}
	return delegate.New(inner, desc.Subdirectory, desc.ReadOnly, lookup)
}

// checkDelegateCycle walks the currently mounted delegate chain from
// inner. Mounting id with that inner reference is illegal if the chain
// reaches back to id, or if it already contains a loop.
func (f *Factory) checkDelegateCycle(id, inner types.ContainerID) error {
	visited := map[types.ContainerID]bool{id: true}
	current := inner
	for {
		if visited[current] {
			return errors.InvalidConfig("delegate cycle through container " + current.String())
		}
		visited[current] = true

		entry, ok := f.resolver.Get(current)
		if !ok {
			return nil // chain ends at an unmounted container
		}
		backend := entry.Backend
		if wrapper, ok := backend.(interface{ Unwrap() types.Backend }); ok {
			backend = wrapper.Unwrap()
		}
		ref, ok := backend.(innerRef)
		if !ok {
			return nil // chain ends at a concrete backend
		}
		current = ref.InnerContainer()
	}
}
