package syncer_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sacharya/FleetDeploymentReporting/graph"
	"github.com/sacharya/FleetDeploymentReporting/graph/memory"
	"github.com/sacharya/FleetDeploymentReporting/lock"
	"github.com/sacharya/FleetDeploymentReporting/query"
	"github.com/sacharya/FleetDeploymentReporting/runs"
	"github.com/sacharya/FleetDeploymentReporting/schema"
	"github.com/sacharya/FleetDeploymentReporting/snitch"
	"github.com/sacharya/FleetDeploymentReporting/snitcherr"
	"github.com/sacharya/FleetDeploymentReporting/syncer"
)

// writeRun creates run dir under root for environment account-name,
// completed at ms, with host files mapping hostname to kernel.
func writeRun(t *testing.T, root, dir, account, name string, ms int64, kernels map[string]string) string {
	t.Helper()
	path := filepath.Join(root, dir)
	require.NoError(t, os.MkdirAll(path, 0o755))
	env := map[string]any{"account_number": account, "name": name}
	write := func(file string, v any) {
		raw, err := json.Marshal(v)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(path, file), raw, 0o644))
	}
	write(runs.DataFile, map[string]any{
		"status":      "finished",
		"completed":   time.UnixMilli(ms).UTC().Format(time.RFC3339Nano),
		"environment": env,
	})
	for host, kernel := range kernels {
		write("host_"+host+".json", map[string]any{"environment": env, "data": map[string]any{"kernel": kernel}})
	}
	return path
}

func newOrchestrator(store graph.Store, root string, opts ...syncer.Option) *syncer.Orchestrator {
	return syncer.New(store, schema.Default(), runs.NewDirStore(root, nil), lock.New(store), opts...)
}

func kernelAt(t *testing.T, store graph.Store, at int64) []string {
	t.Helper()
	q, err := query.NewCompiler(schema.Default(), store).Query("Host")
	require.NoError(t, err)
	rows, err := q.Time(at).Fetch(context.Background())
	require.NoError(t, err)
	var out []string
	for _, r := range rows {
		out = append(out, r["Host"]["kernel"].(string))
	}
	return out
}

func TestGroupRuns(t *testing.T) {
	at := func(ms int64) time.Time { return time.UnixMilli(ms) }
	rs := []*runs.Run{
		{Path: "c", AccountNumber: "2", Name: "dev", Completed: at(100)},
		{Path: "b", AccountNumber: "1", Name: "prod", Completed: at(300)},
		{Path: "a", AccountNumber: "1", Name: "prod", Completed: at(200)},
		{Path: "d", AccountNumber: "1", Name: "dev", Completed: at(50)},
	}

	groups := syncer.GroupRuns(rs)
	require.Len(t, groups, 3)
	assert.Equal(t, "1-dev", groups[0].Environment())
	assert.Equal(t, "1-prod", groups[1].Environment())
	assert.Equal(t, "2-dev", groups[2].Environment())
	require.Len(t, groups[1].Runs, 2)
	assert.Equal(t, "a", groups[1].Runs[0].Path)
	assert.Equal(t, "b", groups[1].Runs[1].Path)
	assert.Equal(t, "c", rs[0].Path, "input is not reordered")
}

func TestSync_AppliesRunsInOrder(t *testing.T) {
	root := t.TempDir()
	// B is listed first on disk but completed later.
	a := writeRun(t, root, "z-run-a", "1", "prod", 100, map[string]string{"h1": "4.x"})
	b := writeRun(t, root, "a-run-b", "1", "prod", 200, map[string]string{"h1": "5.x"})
	store := memory.New()

	s, err := newOrchestrator(store, root, syncer.WithConcurrency(4)).Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, s.Count(syncer.Finished))
	assert.Empty(t, s.Locked)
	assert.Empty(t, s.Failed)

	assert.Equal(t, []string{"4.x"}, kernelAt(t, store, 150))
	assert.Equal(t, []string{"5.x"}, kernelAt(t, store, 250))

	for _, p := range []string{a, b} {
		r, err := runs.Load(p)
		require.NoError(t, err)
		assert.Equal(t, runs.SyncFinished, r.SyncStatus)
		assert.NotNil(t, r.Synced)
	}

	recs, err := graph.RunRead(context.Background(), store, graph.FindNode{
		Key: graph.Key{Label: "Environment", Property: schema.EnvironmentKey, Value: "1-prod"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(200), graph.ToInt64(recs[0].Props("n")[schema.LastUpdateProperty]))
	assert.Equal(t, 0, store.NodeCount(schema.LockLabel))
}

func TestSync_RejectsOldAndSyncedRuns(t *testing.T) {
	root := t.TempDir()
	writeRun(t, root, "a", "1", "prod", 100, map[string]string{"h1": "4.x"})
	writeRun(t, root, "b", "1", "prod", 200, map[string]string{"h1": "5.x"})
	store := memory.New()
	ctx := context.Background()

	_, err := newOrchestrator(store, root).Sync(ctx)
	require.NoError(t, err)
	states := store.NodeCount("HostState")

	writeRun(t, root, "c", "1", "prod", 150, map[string]string{"h1": "3.x"})
	s, err := newOrchestrator(store, root).Sync(ctx)
	require.NoError(t, err)
	require.Len(t, s.Results, 3)
	assert.Equal(t, 3, s.Count(syncer.Skipped))

	byPath := map[string]syncer.Result{}
	for _, r := range s.Results {
		byPath[filepath.Base(r.Path)] = r
	}
	assert.True(t, errors.Is(byPath["c"].Err, snitcherr.ErrRunContainsOldData), "got %v", byPath["c"].Err)
	assert.True(t, errors.Is(byPath["a"].Err, snitcherr.ErrRunContainsOldData) ||
		errors.Is(byPath["a"].Err, snitcherr.ErrRunAlreadySynced))

	assert.Equal(t, states, store.NodeCount("HostState"))
	assert.Equal(t, []string{"5.x"}, kernelAt(t, store, 250))

	c, err := runs.Load(filepath.Join(root, "c"))
	require.NoError(t, err)
	assert.Equal(t, runs.SyncNew, c.SyncStatus)
}

func TestSync_LockedEnvironmentIsSkipped(t *testing.T) {
	root := t.TempDir()
	writeRun(t, root, "a", "1", "prod", 100, map[string]string{"h1": "4.x"})
	writeRun(t, root, "b", "2", "dev", 100, map[string]string{"h2": "4.x"})
	store := memory.New()
	ctx := context.Background()

	held, err := lock.New(store).Acquire(ctx, "1", "prod")
	require.NoError(t, err)

	s, err := newOrchestrator(store, root, syncer.WithConcurrency(2)).Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"1-prod"}, s.Locked)
	require.Len(t, s.Results, 1)
	assert.Equal(t, "2-dev", s.Results[0].Environment)
	assert.Equal(t, syncer.Finished, s.Results[0].Outcome)

	require.NoError(t, held.Release(ctx))
	s, err = newOrchestrator(store, root).Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Count(syncer.Finished))
}

type failing struct{ err error }

func (f failing) Name() string { return "failing" }

func (f failing) Snitch(context.Context, graph.Store, *runs.Run) error { return f.err }

type panicking struct{}

func (panicking) Name() string { return "panicking" }

func (panicking) Snitch(_ context.Context, _ graph.Store, r *runs.Run) error {
	if r.AccountNumber == "1" {
		panic("collector bug")
	}
	return nil
}

func TestSync_ProducerErrorMarksRunErrored(t *testing.T) {
	root := t.TempDir()
	a := writeRun(t, root, "a", "1", "prod", 100, nil)
	b := writeRun(t, root, "b", "1", "prod", 200, nil)
	store := memory.New()

	s, err := newOrchestrator(store, root, syncer.WithProducers(failing{errors.New("disk on fire")})).Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, s.Count(syncer.Errored))

	for _, p := range []string{a, b} {
		r, err := runs.Load(p)
		require.NoError(t, err)
		assert.Equal(t, runs.SyncErrored, r.SyncStatus)
		assert.Contains(t, r.SyncError, "disk on fire")
		assert.Nil(t, r.Synced)
	}

	// Errored runs are retried on the next sync.
	s, err = newOrchestrator(store, root).Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, s.Count(syncer.Finished))
}

// unreadable fails every read transaction and passes writes through.
type unreadable struct {
	*memory.Store
}

func (unreadable) ExecuteRead(context.Context, func(graph.Tx) error) error {
	return errors.New("connection reset")
}

func TestSync_CheckErrorMarksRunErrored(t *testing.T) {
	tests := []struct {
		name   string
		status runs.SyncStatus
	}{
		{"new run", runs.SyncNew},
		{"previously errored run", runs.SyncErrored},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			path := writeRun(t, root, "a", "1", "prod", 100, map[string]string{"a": "4.x"})
			r, err := runs.Load(path)
			require.NoError(t, err)
			r.SyncStatus = tt.status
			require.NoError(t, runs.NewDirStore(root, nil).Save(context.Background(), r))

			store := unreadable{memory.New()}
			s, err := newOrchestrator(store, root).Sync(context.Background())
			require.NoError(t, err)
			require.Len(t, s.Results, 1)
			assert.Equal(t, syncer.Errored, s.Results[0].Outcome)

			r, err = runs.Load(path)
			require.NoError(t, err)
			assert.Equal(t, runs.SyncErrored, r.SyncStatus)
			assert.Contains(t, r.SyncError, "connection reset")
			assert.Equal(t, 0, store.NodeCount("Host"))
			assert.Equal(t, 0, store.NodeCount(schema.LockLabel))
		})
	}
}

func TestSync_PanicInGroupDoesNotStopOthers(t *testing.T) {
	root := t.TempDir()
	writeRun(t, root, "a", "1", "prod", 100, nil)
	writeRun(t, root, "b", "2", "dev", 100, nil)
	store := memory.New()

	producers := append(snitch.Default(schema.Default(), nil), panicking{})
	s, err := newOrchestrator(store, root, syncer.WithProducers(producers...), syncer.WithConcurrency(2)).Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"1-prod"}, s.Failed)
	require.Len(t, s.Results, 1)
	assert.Equal(t, "2-dev", s.Results[0].Environment)
	assert.Equal(t, syncer.Finished, s.Results[0].Outcome)
	assert.Equal(t, 0, store.NodeCount(schema.LockLabel))
}

func TestSync_Filter(t *testing.T) {
	root := t.TempDir()
	writeRun(t, root, "a", "1", "prod", 100, nil)
	writeRun(t, root, "b", "2", "dev", 100, nil)
	store := memory.New()

	f, err := runs.NewFilter(`account_number == "2"`)
	require.NoError(t, err)
	s, err := newOrchestrator(store, root, syncer.WithFilter(f)).Sync(context.Background())
	require.NoError(t, err)
	require.Len(t, s.Results, 1)
	assert.Equal(t, "2-dev", s.Results[0].Environment)
	assert.Equal(t, 1, store.NodeCount("Environment"))
}

func TestSync_MissingDataDir(t *testing.T) {
	_, err := newOrchestrator(memory.New(), filepath.Join(t.TempDir(), "nope")).Sync(context.Background())
	assert.Error(t, err)
}
