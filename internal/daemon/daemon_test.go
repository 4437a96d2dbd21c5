package daemon

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/containerfs/containerfs/internal/config"
	"github.com/containerfs/containerfs/internal/manifest"
	"github.com/containerfs/containerfs/pkg/health"
	"github.com/containerfs/containerfs/pkg/types"
)

const uuid1 = "11111111-1111-4111-8111-111111111111"

func newTestConfig(t *testing.T, manifests ...string) *config.Configuration {
	cfg := config.NewDefault()
	cfg.Mount.Mountpoint = t.TempDir()
	cfg.Containers.Manifests = manifests
	return cfg
}

func writeManifest(t *testing.T, path, claimPath string) string {
	instruction := &types.MountInstruction{
		UUID:  uuid1,
		Paths: []string{claimPath},
		Backend: types.BackendDescriptor{
			Type:   "static",
			Params: map[string]string{"content.greeting.txt": "hello"},
		},
	}
	require.NoError(t, manifest.Write(path, instruction))
	return path
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Mount.Mountpoint = "relative/path"

	_, err := New(cfg)
	assert.Error(t, err)
}

func TestApplyManifests(t *testing.T) {
	locator := writeManifest(t, filepath.Join(t.TempDir(), "c1.json"), "/container1")
	d, err := New(newTestConfig(t, locator))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, d.ApplyManifests(ctx))

	entries, err := d.Dispatcher().ReadDir(ctx, "/")
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{".control", "container1"}, names)

	attr, err := d.Dispatcher().GetAttr(ctx, "/container1/greeting.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(5), attr.Size)
}

func TestApplyManifestsMissingLocator(t *testing.T) {
	d, err := New(newTestConfig(t, filepath.Join(t.TempDir(), "absent.json")))
	require.NoError(t, err)

	assert.Error(t, d.ApplyManifests(context.Background()))
}

func TestShutdownReleasesContainers(t *testing.T) {
	locator := writeManifest(t, filepath.Join(t.TempDir(), "c1.json"), "/container1")
	d, err := New(newTestConfig(t, locator))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, d.ApplyManifests(ctx))
	require.NoError(t, d.Shutdown(ctx))

	_, err = d.Dispatcher().GetAttr(ctx, "/container1/greeting.txt")
	assert.Error(t, err)
}

func TestStatusReflectsNamespace(t *testing.T) {
	locator := writeManifest(t, filepath.Join(t.TempDir(), "c1.json"), "/container1")
	d, err := New(newTestConfig(t, locator))
	require.NoError(t, err)

	status := d.Status()
	assert.Equal(t, health.StateStarting, status.State)
	assert.Equal(t, 0, status.MountedContainers)

	require.NoError(t, d.ApplyManifests(context.Background()))
	status = d.Status()
	assert.Equal(t, 1, status.MountedContainers)
	assert.Equal(t, 0, status.OpenHandles)
}

func TestMetricsGaugeTracksManifests(t *testing.T) {
	locator := writeManifest(t, filepath.Join(t.TempDir(), "c1.json"), "/container1")
	cfg := newTestConfig(t, locator)
	cfg.Metrics.Enabled = true

	d, err := New(cfg)
	require.NoError(t, err)
	require.NotNil(t, d.collector)

	ctx := context.Background()
	require.NoError(t, d.ApplyManifests(ctx))
	assert.Contains(t, scrape(t, d), "containerfs_mounted_containers 1")

	require.NoError(t, d.Shutdown(ctx))
	assert.Contains(t, scrape(t, d), "containerfs_mounted_containers 0")
}

func scrape(t *testing.T, d *Daemon) string {
	t.Helper()
	rec := httptest.NewRecorder()
	d.collector.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	return rec.Body.String()
}
