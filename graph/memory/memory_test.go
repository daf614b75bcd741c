package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sacharya/FleetDeploymentReporting/graph"
)

var envKey = graph.Key{Label: "Environment", Property: "account_number_name", Value: "1-prod"}

func hostKey(h string) graph.Key {
	return graph.Key{Label: "Host", Property: "hostname_environment", Value: h + "-1-prod"}
}

func run(t *testing.T, s *Store, stmts ...graph.Statement) []graph.Record {
	t.Helper()
	var last []graph.Record
	err := s.ExecuteWrite(context.Background(), func(tx graph.Tx) error {
		for _, st := range stmts {
			var err error
			last, err = tx.Run(context.Background(), st)
			if err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	return last
}

// seed builds Environment 1-prod with hosts a and b. Host a has kernel 4.x
// from 100 and 5.x from 200; host b is linked from 150.
func seed(t *testing.T) *Store {
	s := New()
	run(t, s,
		graph.MergeNode{Key: envKey, Props: map[string]any{"account_number": "1", "name": "prod"}},
		graph.MergeNode{Key: hostKey("a"), Props: map[string]any{"hostname": "a"}},
		graph.MergeNode{Key: hostKey("b"), Props: map[string]any{"hostname": "b"}},
		graph.OpenRels{Parent: envKey, Rel: "HAS_HOST", ChildLabel: "Host", ChildProperty: "hostname_environment", IDs: []string{"a-1-prod"}, Time: 100},
		graph.OpenRels{Parent: envKey, Rel: "HAS_HOST", ChildLabel: "Host", ChildProperty: "hostname_environment", IDs: []string{"b-1-prod"}, Time: 150},
		graph.CreateState{Key: hostKey("a"), StateLabel: "HostState", Props: map[string]any{"kernel": "4.x"}, Time: 100},
		graph.CloseState{Key: hostKey("a"), StateLabel: "HostState", Time: 200},
		graph.CreateState{Key: hostKey("a"), StateLabel: "HostState", Props: map[string]any{"kernel": "5.x"}, Time: 200},
		graph.CreateState{Key: hostKey("b"), StateLabel: "HostState", Props: map[string]any{"kernel": "5.x"}, Time: 150},
	)
	return s
}

func hostQuery(at int64) graph.Traversal {
	return graph.Traversal{
		Nodes:  []graph.Node{{Var: "environment", Label: "Environment"}, {Var: "host", Label: "Host"}},
		Rels:   []graph.Rel{{Var: "r0", Type: "HAS_HOST"}},
		States: []graph.StateMatch{{Owner: "host", RelVar: "r_host_state", Var: "host_state", Label: "HostState"}},
		Time:   at,
		Return: []graph.Projection{
			{Var: "host", Property: "hostname", Alias: "hostname"},
			{Var: "host_state", Property: "kernel", Alias: "kernel"},
		},
		Order: []graph.Order{{Var: "host", Property: "hostname"}},
	}
}

func TestTraverse_TimeSlices(t *testing.T) {
	s := seed(t)
	ctx := context.Background()

	tests := []struct {
		at   int64
		want []graph.Record
	}{
		{at: 50, want: []graph.Record{}},
		{at: 120, want: []graph.Record{{"hostname": "a", "kernel": "4.x"}}},
		{at: 199, want: []graph.Record{{"hostname": "a", "kernel": "4.x"}, {"hostname": "b", "kernel": "5.x"}}},
		{at: 200, want: []graph.Record{{"hostname": "a", "kernel": "5.x"}, {"hostname": "b", "kernel": "5.x"}}},
	}

	for _, tt := range tests {
		recs, err := graph.RunRead(ctx, s, hostQuery(tt.at))
		require.NoError(t, err)
		assert.Equal(t, tt.want, recs, "at %d", tt.at)
	}
}

func TestTraverse_FiltersOrderWindow(t *testing.T) {
	s := seed(t)
	ctx := context.Background()

	q := hostQuery(250)
	q.Where = []graph.Predicate{{Var: "host", Property: "hostname", Op: graph.In, Param: "filterval0"}}
	q.Params = map[string]any{"filterval0": []string{"a", "b"}}
	q.Order = []graph.Order{{Var: "host", Property: "hostname", Desc: true}}
	one := 1
	q.Limit = &one

	recs, err := graph.RunRead(ctx, s, q)
	require.NoError(t, err)
	assert.Equal(t, []graph.Record{{"hostname": "b", "kernel": "5.x"}}, recs)

	q.Limit = nil
	q.Count = true
	recs, err = graph.RunRead(ctx, s, q)
	require.NoError(t, err)
	assert.Equal(t, int64(2), recs[0].Int64("total"))
}

func TestDeleteChunk_Limit(t *testing.T) {
	s := seed(t)

	recs := run(t, s, graph.DeleteChunk{Root: envKey, Label: "Host", State: true, Limit: 2})
	assert.Equal(t, int64(2), recs[0].Int64("deleted"))
	recs = run(t, s, graph.DeleteChunk{Root: envKey, Label: "Host", State: true, Limit: 2})
	assert.Equal(t, int64(1), recs[0].Int64("deleted"))
	recs = run(t, s, graph.DeleteChunk{Root: envKey, Label: "Host", State: true, Limit: 2})
	assert.Equal(t, int64(0), recs[0].Int64("deleted"))

	assert.Equal(t, 0, s.NodeCount("HostState"))
	assert.Equal(t, 2, s.NodeCount("Host"))

	recs = run(t, s, graph.DeleteChunk{Root: envKey, Label: "Environment", Limit: 10})
	assert.Equal(t, int64(1), recs[0].Int64("deleted"))
	assert.Equal(t, 0, s.NodeCount("Environment"))
}

func TestCloseChunk(t *testing.T) {
	s := seed(t)

	recs := run(t, s, graph.CloseChunk{Root: envKey, Time: 300, Limit: 100})
	assert.Equal(t, int64(4), recs[0].Int64("changed"))
	assert.Equal(t, 0, s.OpenRelCount())

	recs = run(t, s, graph.CloseChunk{Root: envKey, Time: 400, Limit: 100})
	assert.Equal(t, int64(0), recs[0].Int64("changed"))
}

func TestCloseChunk_SkipsFutureEdges(t *testing.T) {
	s := seed(t)

	recs := run(t, s, graph.CloseChunk{Root: envKey, Time: 120, Limit: 100})
	assert.Equal(t, int64(1), recs[0].Int64("changed"))
	assert.Equal(t, 3, s.OpenRelCount())
}

func TestCloseChunk_KeepsEdgesOpenedAtTime(t *testing.T) {
	s := seed(t)

	// Only the HAS_HOST edge to a started before 150.
	recs := run(t, s, graph.CloseChunk{Root: envKey, Time: 150, Limit: 100})
	assert.Equal(t, int64(1), recs[0].Int64("changed"))
	assert.Equal(t, 3, s.OpenRelCount())

	recs = run(t, s, graph.CloseChunk{Root: envKey, Time: 150, Limit: 100})
	assert.Equal(t, int64(0), recs[0].Int64("changed"))
}

func TestLock(t *testing.T) {
	s := New()
	key := graph.Key{Label: "EnvironmentLock", Property: "account_number_name", Value: "1-prod"}

	recs := run(t, s, graph.AcquireLock{Key: key, Holder: "a", Now: 10})
	assert.Equal(t, true, recs[0]["acquired"])
	recs = run(t, s, graph.AcquireLock{Key: key, Holder: "b", Now: 11})
	assert.Equal(t, false, recs[0]["acquired"])

	recs = run(t, s, graph.ReleaseLock{Key: key, Holder: "b"})
	assert.Equal(t, int64(0), recs[0].Int64("released"))
	recs = run(t, s, graph.ReleaseLock{Key: key, Holder: "a"})
	assert.Equal(t, int64(1), recs[0].Int64("released"))

	recs = run(t, s, graph.AcquireLock{Key: key, Holder: "b", Now: 12})
	assert.Equal(t, true, recs[0]["acquired"])
}

func TestLock_ExpiredTakeover(t *testing.T) {
	s := New()
	key := graph.Key{Label: "EnvironmentLock", Property: "account_number_name", Value: "1-prod"}

	run(t, s, graph.AcquireLock{Key: key, Holder: "a", Now: 10, Expires: 20})
	recs := run(t, s, graph.AcquireLock{Key: key, Holder: "b", Now: 15, Expires: 25})
	assert.Equal(t, false, recs[0]["acquired"])
	recs = run(t, s, graph.AcquireLock{Key: key, Holder: "b", Now: 20, Expires: 30})
	assert.Equal(t, true, recs[0]["acquired"])
}

func TestExecuteWrite_RollsBack(t *testing.T) {
	s := New()
	boom := errors.New("boom")

	err := s.ExecuteWrite(context.Background(), func(tx graph.Tx) error {
		if _, err := tx.Run(context.Background(), graph.MergeNode{Key: envKey}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, s.NodeCount("Environment"))
}

func TestExecuteRead_RejectsWrites(t *testing.T) {
	s := New()
	_, err := graph.RunRead(context.Background(), s, graph.MergeNode{Key: envKey})
	assert.ErrorIs(t, err, graph.ErrReadOnly)
}

func TestChangeTimesAndAdvance(t *testing.T) {
	s := seed(t)
	ctx := context.Background()

	recs, err := graph.RunRead(ctx, s, graph.ChangeTimes{Key: envKey})
	require.NoError(t, err)
	var times []int64
	for _, r := range recs {
		times = append(times, r.Int64("t"))
	}
	assert.Equal(t, []int64{200, 150, 100}, times)

	recs = run(t, s, graph.Advance{Key: envKey, Property: "last_update", Value: 200})
	assert.Equal(t, int64(200), recs[0].Int64("value"))
	recs = run(t, s, graph.Advance{Key: envKey, Property: "last_update", Value: 100})
	assert.Equal(t, int64(200), recs[0].Int64("value"))
}

func TestMergeNode_KeepsExisting(t *testing.T) {
	s := New()

	recs := run(t, s, graph.MergeNode{Key: envKey, Props: map[string]any{"name": "prod"}})
	assert.Equal(t, true, recs[0]["created"])
	recs = run(t, s, graph.MergeNode{Key: envKey, Props: map[string]any{"name": "other"}})
	assert.Equal(t, false, recs[0]["created"])
	assert.Equal(t, "prod", recs[0].Props("n")["name"])
}

func TestClosed(t *testing.T) {
	s := New()
	require.NoError(t, s.Close(context.Background()))
	assert.ErrorIs(t, s.Ping(context.Background()), ErrClosed)
}
