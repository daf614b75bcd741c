package cypher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sacharya/FleetDeploymentReporting/graph"
)

func intPtr(n int) *int { return &n }

func hostTraversal() graph.Traversal {
	return graph.Traversal{
		Nodes: []graph.Node{{Var: "environment", Label: "Environment"}, {Var: "host", Label: "Host"}},
		Rels:  []graph.Rel{{Var: "r0", Type: "HAS_HOST"}},
		States: []graph.StateMatch{
			{Owner: "host", RelVar: "r_host_state", Var: "host_state", Label: "HostState"},
		},
		Time: 42,
	}
}

func TestCompileTraversal_ColumnFormat(t *testing.T) {
	tr := hostTraversal()
	tr.Return = []graph.Projection{
		{Var: "environment", Property: "account_number", Alias: "Environment.account_number"},
		{Var: "host_state", Property: "kernel", Alias: "kernel"},
	}
	tr.Order = []graph.Order{{Var: "host", Property: "hostname_environment"}}

	q, params, err := Compile(tr)
	require.NoError(t, err)

	want := "MATCH (environment:Environment)-[r0:HAS_HOST]->(host:Host) " +
		"\nMATCH (host)-[r_host_state:HAS_STATE]->(host_state:HostState) " +
		"\nWHERE r0.from <= $time < r0.to AND " +
		"r_host_state.from <= $time < r_host_state.to " +
		"\nRETURN environment.account_number AS `Environment.account_number`, " +
		"host_state.kernel AS `kernel` " +
		"\nORDER BY host.hostname_environment ASC"
	assert.Equal(t, want, q)
	assert.Equal(t, map[string]any{"time": int64(42)}, params)
}

func TestCompileTraversal_Filters(t *testing.T) {
	tests := []struct {
		name  string
		where []graph.Predicate
		want  string
	}{
		{
			name:  "equality",
			where: []graph.Predicate{{Var: "host", Property: "hostname", Op: graph.Eq, Param: "filterval0"}},
			want:  "WHERE host.hostname = $filterval0 AND r0.from",
		},
		{
			name: "state and identity",
			where: []graph.Predicate{
				{Var: "host", Property: "hostname", Op: graph.Eq, Param: "filterval0"},
				{Var: "host_state", Property: "kernel", Op: graph.StartsWith, Param: "filterval1"},
			},
			want: "WHERE host.hostname = $filterval0 AND host_state.kernel STARTS WITH $filterval1 AND",
		},
		{
			name:  "unary",
			where: []graph.Predicate{{Var: "host_state", Property: "kernel", Op: graph.IsNull}},
			want:  "WHERE host_state.kernel IS NULL AND",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := hostTraversal()
			tr.Where = tt.where
			tr.Return = []graph.Projection{{Var: "environment"}, {Var: "host"}, {Var: "host_state"}}

			q, _, err := Compile(tr)
			require.NoError(t, err)
			assert.Contains(t, q, tt.want)
			assert.Contains(t, q, "RETURN environment, host, host_state")
		})
	}
}

func TestCompileTraversal_RootOnly(t *testing.T) {
	tr := graph.Traversal{
		Nodes:  []graph.Node{{Var: "environment", Label: "Environment"}},
		Return: []graph.Projection{{Var: "environment"}},
		Order:  []graph.Order{{Var: "environment", Property: "account_number_name"}},
		Skip:   intPtr(10),
		Limit:  intPtr(5),
	}

	q, _, err := Compile(tr)
	require.NoError(t, err)
	assert.Equal(t, "MATCH (environment:Environment) "+
		"\nRETURN environment "+
		"\nORDER BY environment.account_number_name ASC "+
		"\nSKIP 10 "+
		"\nLIMIT 5", q)
	assert.NotContains(t, q, "WHERE")
}

func TestCompileTraversal_Count(t *testing.T) {
	tr := hostTraversal()
	tr.Count = true
	tr.Skip = intPtr(3)
	tr.Order = []graph.Order{{Var: "host", Property: "hostname", Desc: true}}

	q, _, err := Compile(tr)
	require.NoError(t, err)
	assert.Contains(t, q, "RETURN count(*) AS total")
	assert.NotContains(t, q, "ORDER BY")
	assert.NotContains(t, q, "SKIP")
}

func TestCompileTraversal_Malformed(t *testing.T) {
	_, _, err := Compile(graph.Traversal{Nodes: []graph.Node{{Var: "a", Label: "A"}}, Rels: []graph.Rel{{Var: "r0", Type: "X"}}})
	assert.Error(t, err)
}

func TestCompileDeleteChunk(t *testing.T) {
	root := graph.Key{Label: "Environment", Property: "account_number_name", Value: "1-prod"}

	tests := []struct {
		name string
		stmt graph.DeleteChunk
		want string
	}{
		{
			name: "identity nodes",
			stmt: graph.DeleteChunk{Root: root, Label: "Host", Limit: 5000},
			want: "MATCH (root:Environment {account_number_name: $root})-[*]->(n:Host)\n" +
				"WITH DISTINCT n LIMIT $limit\nDETACH DELETE n\nRETURN count(*) AS deleted",
		},
		{
			name: "state nodes",
			stmt: graph.DeleteChunk{Root: root, Label: "Host", State: true, Limit: 5000},
			want: "MATCH (root:Environment {account_number_name: $root})-[*]->(:Host)-[:HAS_STATE]->(n:HostState)\n" +
				"WITH DISTINCT n LIMIT $limit\nDETACH DELETE n\nRETURN count(*) AS deleted",
		},
		{
			name: "root",
			stmt: graph.DeleteChunk{Root: root, Label: "Environment", Limit: 5000},
			want: "MATCH (n:Environment {account_number_name: $root})\n" +
				"WITH DISTINCT n LIMIT $limit\nDETACH DELETE n\nRETURN count(*) AS deleted",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, params, err := Compile(tt.stmt)
			require.NoError(t, err)
			assert.Equal(t, tt.want, q)
			assert.Equal(t, "1-prod", params["root"])
			assert.Equal(t, int64(5000), params["limit"])
		})
	}
}

func TestCompileCloseChunk(t *testing.T) {
	q, params, err := Compile(graph.CloseChunk{
		Root:  graph.Key{Label: "Environment", Property: "account_number_name", Value: "1-prod"},
		Time:  300,
		Limit: 2000,
	})
	require.NoError(t, err)
	assert.Contains(t, q, "WHERE r.to = $EOT AND r.from < $time")
	assert.Contains(t, q, "SET r.to = $time")
	assert.Equal(t, graph.EOT, params["EOT"])
	assert.Equal(t, int64(300), params["time"])
	assert.Equal(t, int64(2000), params["limit"])
}

func TestCompileLock(t *testing.T) {
	key := graph.Key{Label: "EnvironmentLock", Property: "account_number_name", Value: "1-prod"}

	q, params, err := Compile(graph.AcquireLock{Key: key, Holder: "h1", Now: 10})
	require.NoError(t, err)
	assert.Contains(t, q, "MERGE (l:EnvironmentLock {account_number_name: $key})")
	assert.Contains(t, q, "RETURN l.holder = $holder AS acquired")
	assert.Equal(t, "h1", params["holder"])

	q, _, err = Compile(graph.ReleaseLock{Key: key, Holder: "h1"})
	require.NoError(t, err)
	assert.Contains(t, q, "WHERE l.holder = $holder")
}

func TestCompileConstraint(t *testing.T) {
	q, _, err := Compile(graph.CreateConstraint{Label: "Host", Property: "hostname_environment"})
	require.NoError(t, err)
	assert.Equal(t, "CREATE CONSTRAINT IF NOT EXISTS FOR (n:Host) REQUIRE n.hostname_environment IS UNIQUE", q)
}

func TestIdent(t *testing.T) {
	assert.Equal(t, "Host", Ident("Host"))
	assert.Equal(t, "`my label`", Ident("my label"))
	assert.Equal(t, "`a``b`", Ident("a`b"))
}

type unknownStatement struct{}

func (unknownStatement) Write() bool { return false }

func TestCompileUnsupported(t *testing.T) {
	_, _, err := Compile(unknownStatement{})
	assert.ErrorIs(t, err, graph.ErrUnsupportedStatement)
}
