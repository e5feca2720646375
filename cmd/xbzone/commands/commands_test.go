package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/xbzone/pkg/engine"
	"github.com/openfroyo/xbzone/pkg/exportmask"
	"github.com/openfroyo/xbzone/pkg/stores"
	"github.com/openfroyo/xbzone/pkg/workflow"
)

// Two enclosures, each with one port per fabric, and two directors with one
// initiator per fabric.
const testTopology = `{
  "arrays": [{"id": "array-1", "label": "xio-1", "system_type": "xtremio"}],
  "networks": [{"id": "net-a"}, {"id": "net-b"}],
  "ports": [
    {"id": "p1", "name": "X1-SC1-fc1", "group": "X1-SC1", "network": "net-a", "array": "array-1"},
    {"id": "p2", "name": "X1-SC2-fc1", "group": "X1-SC2", "network": "net-b", "array": "array-1"},
    {"id": "p3", "name": "X2-SC1-fc1", "group": "X2-SC1", "network": "net-a", "array": "array-1"},
    {"id": "p4", "name": "X2-SC2-fc1", "group": "X2-SC2", "network": "net-b", "array": "array-1"}
  ],
  "initiators": [
    {"id": "i1", "port": "10:00:00:00:c9:00:00:01", "host": "director-a", "network": "net-a", "director": "director-a"},
    {"id": "i2", "port": "10:00:00:00:c9:00:00:02", "host": "director-a", "network": "net-b", "director": "director-a"},
    {"id": "i3", "port": "10:00:00:00:c9:00:00:03", "host": "director-b", "network": "net-a", "director": "director-b"},
    {"id": "i4", "port": "10:00:00:00:c9:00:00:04", "host": "director-b", "network": "net-b", "director": "director-b"}
  ]
}`

const testConfig = `
locks:
  backend: sqlite
  lease: 1m
telemetry:
  logging:
    level: error
  metrics:
    enabled: false
`

type testEnv struct {
	dir      string
	config   string
	store    string
	topology string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	env := &testEnv{
		dir:      dir,
		config:   filepath.Join(dir, "xbzone.yaml"),
		store:    filepath.Join(dir, "xbzone.db"),
		topology: filepath.Join(dir, "topology.json"),
	}
	require.NoError(t, os.WriteFile(env.config, []byte(testConfig), 0o600))
	require.NoError(t, os.WriteFile(env.topology, []byte(testTopology), 0o600))
	return env
}

// run executes the CLI against the environment's config and store.
func (e *testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return e.runContext(context.Background(), t, args...)
}

func (e *testEnv) runContext(ctx context.Context, t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand("test", "none", "unknown")
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(append([]string{"--config", e.config, "--store", e.store}, args...))
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func (e *testEnv) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := e.run(t, args...)
	require.NoError(t, err, "xbzone %v: %s", args, out)
	return out
}

func (e *testEnv) mask(t *testing.T, id string) engine.ExportMask {
	t.Helper()
	var masks []engine.ExportMask
	require.NoError(t, json.Unmarshal([]byte(e.mustRun(t, "masks", id, "--json")), &masks))
	require.Len(t, masks, 1)
	return masks[0]
}

func TestInit(t *testing.T) {
	env := newTestEnv(t)
	written := filepath.Join(env.dir, "written.yaml")

	out := env.mustRun(t, "init", "--write-config", written)
	assert.Contains(t, out, env.store)
	assert.FileExists(t, env.store)
	assert.FileExists(t, written)

	_, err := env.run(t, "init", "--write-config", written)
	assert.Error(t, err, "existing config must not be overwritten without --force")
	env.mustRun(t, "init", "--write-config", written, "--force")
}

func TestPlan(t *testing.T) {
	env := newTestEnv(t)

	var report planReport
	require.NoError(t, json.Unmarshal([]byte(env.mustRun(t, "plan", "--topology", env.topology, "--json")), &report))
	require.Len(t, report.Arrays, 1)

	a := report.Arrays[0]
	assert.Equal(t, "array-1", a.ArrayID)
	assert.True(t, a.Plan.Feasible())
	assert.Equal(t, 2, a.Plan.EnclosureCount)
	assert.Equal(t, 2, a.Plan.DirectorCount)
	assert.Equal(t, []string{"i1", "i2", "i3", "i4"}, a.Plan.Zoning.InitiatorIDs())
	assert.Empty(t, a.Plan.Gaps)
	assert.True(t, a.Policy.Allowed)
	assert.Empty(t, a.MaskID, "nothing is saved without --save")

	text := env.mustRun(t, "plan", "--topology", env.topology)
	assert.Contains(t, text, "Array array-1 (xtremio): 2 enclosures, 2 directors, 4 paths per director")
	assert.Contains(t, text, "Policy: allowed")
}

func TestPlanRejectedByPolicy(t *testing.T) {
	env := newTestEnv(t)
	policies := filepath.Join(env.dir, "policies")
	require.NoError(t, os.Mkdir(policies, 0o755))
	rego := `# No more than one network per array.
# severity: error
package xbzone.custom.networks

import rego.v1

deny contains msg if {
	count(input.networks) > 1
	msg := sprintf("array %s spans %d networks", [input.array_id, count(input.networks)])
}
`
	require.NoError(t, os.WriteFile(filepath.Join(policies, "single-network.rego"), []byte(rego), 0o600))

	out, err := env.run(t, "plan", "--topology", env.topology, "--policies", policies, "--save")
	require.Error(t, err)
	assert.Contains(t, out, "[error] single-network: array array-1 spans 2 networks")

	_, err = env.run(t, "masks", maskIDFor("array-1"))
	assert.True(t, engine.IsNotFound(err), "a rejected plan must not create a mask: %v", err)
}

func TestPlanSaveWaitsForMaskLock(t *testing.T) {
	env := newTestEnv(t)
	cfg := strings.Replace(testConfig, "locks:\n", "locks:\n  timeouts:\n    vplex_backend_export: 200ms\n", 1)
	require.NoError(t, os.WriteFile(env.config, []byte(cfg), 0o600))
	env.mustRun(t, "plan", "--topology", env.topology, "--save")

	ctx := context.Background()
	store, err := stores.Open(ctx, stores.Config{Path: env.store, Logger: zerolog.Nop()})
	require.NoError(t, err)
	defer store.Close()

	holder := stores.NewLockService(store, stores.LockConfig{Lease: time.Minute})
	keys, err := exportmask.LockKeys(ctx, store, "array-1", []string{"i1"})
	require.NoError(t, err)
	require.Equal(t, []string{"director-a::array-1"}, keys)
	require.NoError(t, holder.AcquireStepLocks(ctx, "step-held", keys, engine.LockTimeoutDefault))

	_, err = env.run(t, "plan", "--topology", env.topology, "--save")
	require.Error(t, err)
	assert.True(t, engine.IsLockTimeout(err), "save must wait for the held key: %v", err)

	require.NoError(t, holder.ReleaseStepLocks(ctx, "step-held"))
	env.mustRun(t, "plan", "--topology", env.topology, "--save")

	locks, err := holder.ListLocks(ctx)
	require.NoError(t, err)
	assert.Empty(t, locks, "the save releases its keys")
}

func TestPlanInvalidTopology(t *testing.T) {
	env := newTestEnv(t)
	bad := filepath.Join(env.dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"arrays": [{"id": "array-1"}], "ports": [{"id": "p1", "group": "nodash"}]}`), 0o600))

	_, err := env.run(t, "plan", "--topology", bad)
	assert.Error(t, err)
}

func TestExportAddThenRemove(t *testing.T) {
	env := newTestEnv(t)
	env.mustRun(t, "plan", "--topology", env.topology, "--save")

	mask := env.mask(t, "array-1-mask")
	assert.Equal(t, []string{"i1", "i2", "i3", "i4"}, mask.Initiators)
	assert.ElementsMatch(t, []string{"p1", "p2", "p3", "p4"}, mask.StoragePorts)
	assert.False(t, mask.Created)

	out := env.mustRun(t, "export", "add", "--array", "array-1", "--volume", "vol-1=1", "--volume", "vol-2=2")
	assert.Contains(t, out, "succeeded")

	mask = env.mask(t, "array-1-mask")
	assert.True(t, mask.Created)
	assert.Equal(t, engine.VolumeMap{"vol-1": 1, "vol-2": 2}, mask.Volumes)

	env.mustRun(t, "export", "remove", "--array", "array-1", "--volume", "vol-1")
	assert.Equal(t, engine.VolumeMap{"vol-2": 2}, env.mask(t, "array-1-mask").Volumes)

	env.mustRun(t, "export", "remove", "--array", "array-1", "--volume", "vol-2")
	assert.True(t, env.mask(t, "array-1-mask").Inactive)
	assert.Contains(t, env.mustRun(t, "masks"), "No export masks")

	var listing struct {
		Steps []workflow.StepRecord `json:"steps"`
		Locks []json.RawMessage     `json:"locks"`
	}
	require.NoError(t, json.Unmarshal([]byte(env.mustRun(t, "steps", "--locks", "--json")), &listing))
	require.Len(t, listing.Steps, 3)
	for _, s := range listing.Steps {
		assert.Equal(t, engine.StepStatusSucceeded, s.Status)
	}
	assert.Empty(t, listing.Locks, "locks are released once the steps finish")
}

func TestExportAddDeviceFailure(t *testing.T) {
	env := newTestEnv(t)
	env.mustRun(t, "plan", "--topology", env.topology, "--save")

	out, err := env.run(t, "export", "add", "--array", "array-1", "--volume", "vol-1", "--fail-on", "export_group_create")
	require.Error(t, err)
	assert.Contains(t, out, "failed")
	assert.False(t, env.mask(t, "array-1-mask").Created)

	_, err = env.run(t, "export", "add", "--array", "array-1", "--volume", "vol-1", "--fail-on", "format_disk")
	assert.ErrorContains(t, err, "unknown device operation")
}

func TestExportAddMissingMask(t *testing.T) {
	env := newTestEnv(t)
	env.mustRun(t, "plan", "--topology", env.topology, "--save")

	_, err := env.run(t, "export", "add", "--array", "array-1", "--mask", "other-mask", "--volume", "vol-1")
	require.Error(t, err)
	assert.True(t, engine.IsBackendExportMaskDeleted(err), "unexpected error: %v", err)
}

func TestWorkflowFile(t *testing.T) {
	env := newTestEnv(t)
	env.mustRun(t, "plan", "--topology", env.topology, "--save")
	file := filepath.Join(env.dir, "add.ndjson")

	env.mustRun(t, "export", "add", "--array", "array-1", "--volume", "vol-9=9", "--out", file)
	assert.Empty(t, env.mask(t, "array-1-mask").Volumes, "--out must not run the workflow")

	shown := env.mustRun(t, "workflow", "show", file)
	assert.Contains(t, shown, exportmask.MethodCreateOrAddVolumes)
	assert.Contains(t, shown, "rollback: "+exportmask.MethodDeleteOrRemoveVolumes)

	env.mustRun(t, "workflow", "run", file)
	assert.Equal(t, engine.VolumeMap{"vol-9": 9}, env.mask(t, "array-1-mask").Volumes)
}

func TestWatchPlansOnStart(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
	defer cancel()

	out, err := env.runContext(ctx, t, "watch", "--topology", env.topology)
	require.NoError(t, err)
	assert.Contains(t, out, "Array array-1 (xtremio)")
}

func TestParseVolumes(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    engine.VolumeMap
		wantErr bool
	}{
		{name: "with HLU", args: []string{"v1=3"}, want: engine.VolumeMap{"v1": 3}},
		{name: "without HLU", args: []string{"v1"}, want: engine.VolumeMap{"v1": -1}},
		{name: "mixed", args: []string{"v1=0", "v2"}, want: engine.VolumeMap{"v1": 0, "v2": -1}},
		{name: "bad HLU", args: []string{"v1=x"}, wantErr: true},
		{name: "empty ID", args: []string{"=1"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseVolumes(tt.args)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
