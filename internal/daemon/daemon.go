// Package daemon assembles the engine from configuration: logging,
// metrics, the mount table, the backend factory, the control plane,
// the dispatcher and the FUSE mount, plus the manifests applied at
// startup.
package daemon

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/containerfs/containerfs/internal/config"
	"github.com/containerfs/containerfs/internal/control"
	"github.com/containerfs/containerfs/internal/dispatch"
	"github.com/containerfs/containerfs/internal/fuse"
	"github.com/containerfs/containerfs/internal/manifest"
	"github.com/containerfs/containerfs/internal/metrics"
	"github.com/containerfs/containerfs/internal/namespace"
	"github.com/containerfs/containerfs/internal/storage"
	"github.com/containerfs/containerfs/pkg/health"
	"github.com/containerfs/containerfs/pkg/retry"
	"github.com/containerfs/containerfs/pkg/types"
	"github.com/containerfs/containerfs/pkg/utils"
)

// Daemon owns every long-lived component of a containerfs instance.
type Daemon struct {
	config  *config.Configuration
	logger  *utils.Logger
	logFile *os.File

	resolver   *namespace.Resolver
	factory    *storage.Factory
	control    *control.Control
	dispatcher *dispatch.Dispatcher
	collector  *metrics.Collector
	mount      fuse.PlatformFileSystem
	retryer    *retry.Retryer

	startedAt   time.Time
	everMounted atomic.Bool
}

// New builds a daemon from a validated configuration.
func New(cfg *config.Configuration) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	level, err := utils.ParseLogLevel(cfg.Global.LogLevel)
	if err != nil {
		return nil, err
	}
	var output io.Writer = os.Stderr
	var logFile *os.File
	if cfg.Global.LogFile != "" {
		f, err := os.OpenFile(cfg.Global.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		logFile = f
		output = f
	}
	logger := utils.NewLogger(level, output)

	d := &Daemon{
		config:    cfg,
		logger:    logger.WithComponent("daemon"),
		logFile:   logFile,
		retryer:   retry.New(retry.DefaultConfig()),
		startedAt: time.Now(),
	}

	var recorder types.MetricsRecorder
	if cfg.Metrics.Enabled {
		d.collector = metrics.NewCollector()
		recorder = d.collector
	}

	d.resolver = namespace.NewResolver(logger)
	d.factory = storage.NewFactory(d.resolver, recorder, logger)
	d.factory.SetDefaultCacheTTL(cfg.Cache.DefaultTTL)
	d.control = control.New(d.resolver, d.factory, logger)
	d.dispatcher = dispatch.New(d.resolver, d.control, recorder, logger)
	d.mount = fuse.CreatePlatformMountManager(d.dispatcher, fuse.NewMountOptions(cfg), logger)

	return d, nil
}

// Dispatcher exposes the request dispatcher, mainly for embedders and
// tests that drive the namespace without a kernel mount.
func (d *Daemon) Dispatcher() *dispatch.Dispatcher {
	return d.dispatcher
}

// Control exposes the control plane.
func (d *Daemon) Control() *control.Control {
	return d.control
}

// ApplyManifests mounts every container configured for startup, in
// order. Backend I/O failures are retried with backoff; remote
// backends are often the last thing to come up on a booting host.
// The first persistent failure stops the daemon from coming up with a
// partially wrong namespace.
func (d *Daemon) ApplyManifests(ctx context.Context) error {
	for _, locator := range d.config.Containers.Manifests {
		instruction, err := manifest.Load(locator)
		if err != nil {
			return fmt.Errorf("manifest %s: %w", locator, err)
		}
		err = d.retryer.Do(ctx, func(ctx context.Context) error {
			return d.control.Mount(ctx, instruction)
		})
		if err != nil {
			return fmt.Errorf("manifest %s: %w", locator, err)
		}
		d.logger.Info("mounted container %s from %s", instruction.UUID, locator)
	}
	d.syncMountedGauge()
	return nil
}

// Status reports a health snapshot.
func (d *Daemon) Status() health.Status {
	state := health.StateStarting
	switch {
	case d.mount.IsMounted():
		state = health.StateHealthy
	case d.everMounted.Load():
		state = health.StateUnavailable
	}
	return health.Status{
		State:             state,
		MountedContainers: len(d.resolver.ListMounted()),
		OpenHandles:       d.dispatcher.OpenHandles(),
		StartedAt:         d.startedAt,
	}
}

// Start applies startup manifests, starts the observability endpoint
// when metrics are enabled and mounts the filesystem.
func (d *Daemon) Start(ctx context.Context) error {
	if err := d.ApplyManifests(ctx); err != nil {
		return err
	}

	if d.collector != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", d.collector.Handler())
		mux.Handle("/healthz", health.Handler(d.Status))
		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", d.config.Metrics.Port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			d.logger.Info("observability endpoint on %s", server.Addr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				d.logger.Error("observability endpoint failed: %v", err)
			}
		}()
	}

	if err := d.mount.Mount(ctx); err != nil {
		return err
	}
	d.everMounted.Store(true)
	return nil
}

// Wait blocks until the filesystem is unmounted.
func (d *Daemon) Wait() {
	d.mount.Wait()
}

// Shutdown unmounts the filesystem, releases every container and
// closes the log file. Errors are collected, not short-circuited; a
// stuck unmount must not leak backend sessions.
func (d *Daemon) Shutdown(ctx context.Context) error {
	var firstErr error

	if d.mount.IsMounted() {
		if err := d.mount.Unmount(); err != nil {
			firstErr = err
		}
	}

	for _, entry := range d.resolver.ListMounted() {
		if err := d.control.Unmount(ctx, entry.UUID); err != nil {
			d.logger.Warn("unmount of container %s failed: %v", entry.UUID, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	d.syncMountedGauge()

	if d.logFile != nil {
		if err := d.logFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		d.logFile = nil
	}
	return firstErr
}

func (d *Daemon) syncMountedGauge() {
	if d.collector != nil {
		d.collector.SetMountedContainers(len(d.resolver.ListMounted()))
	}
}
