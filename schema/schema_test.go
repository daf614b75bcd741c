package schema_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sacharya/FleetDeploymentReporting/schema"
	"github.com/sacharya/FleetDeploymentReporting/snitcherr"
)

func TestDefault_Paths(t *testing.T) {
	reg := schema.Default()

	tests := []struct {
		label string
		want  []schema.Hop
	}{
		{label: "Environment", want: []schema.Hop{}},
		{label: "Host", want: []schema.Hop{{Label: "Environment", Relationship: "HAS_HOST"}}},
		{label: "GitUrl", want: []schema.Hop{
			{Label: "Environment", Relationship: "HAS_HOST"},
			{Label: "Host", Relationship: "HAS_GIT_REPO"},
			{Label: "GitRepo", Relationship: "HAS_GIT_REMOTE"},
			{Label: "GitRemote", Relationship: "HAS_GIT_URL"},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			path, err := reg.Path(tt.label)
			require.NoError(t, err)
			assert.Equal(t, tt.want, path)
		})
	}
}

func TestDefault_Identity(t *testing.T) {
	reg := schema.Default()

	prop, err := reg.IdentityProperty("Environment")
	require.NoError(t, err)
	assert.Equal(t, "account_number_name", prop)

	prop, err = reg.IdentityProperty("Host")
	require.NoError(t, err)
	assert.Equal(t, "hostname_environment", prop)

	id, err := reg.IdentityValue("Environment", map[string]any{"account_number": "12345", "name": "prod"})
	require.NoError(t, err)
	assert.Equal(t, "12345-prod", id)

	id, err = reg.IdentityValue("Environment", map[string]any{"account_number_name": "given"})
	require.NoError(t, err)
	assert.Equal(t, "given", id)

	_, err = reg.IdentityValue("Host", map[string]any{"hostname": "h1"})
	assert.ErrorIs(t, err, schema.ErrMissingIdentity)
}

func TestRegistry_UnknownLabel(t *testing.T) {
	reg := schema.Default()

	_, err := reg.Path("NotAModel")
	assert.True(t, errors.Is(err, snitcherr.ErrInvalidLabel))

	_, err = reg.ValidateProperty("Host", "nope")
	assert.True(t, errors.Is(err, snitcherr.ErrInvalidProperty))

	state, err := reg.ValidateProperty("Host", "kernel")
	require.NoError(t, err)
	assert.True(t, state)

	state, err = reg.ValidateProperty("Host", "hostname")
	require.NoError(t, err)
	assert.False(t, state)
}

func TestRegistry_SharedAndState(t *testing.T) {
	reg := schema.Default()

	shared, err := reg.IsShared("AptPackage")
	require.NoError(t, err)
	assert.True(t, shared)

	shared, err = reg.IsShared("Host")
	require.NoError(t, err)
	assert.False(t, shared)

	assert.True(t, reg.HasState("Host"))
	assert.False(t, reg.HasState("Environment"))
	assert.False(t, reg.HasState("Virtualenv"))
	assert.Equal(t, "HostState", schema.StateLabel("Host"))
}

func TestRegistry_OnPath(t *testing.T) {
	reg := schema.Default()

	assert.True(t, reg.OnPath("Host", "Environment"))
	assert.True(t, reg.OnPath("Host", "Host"))
	assert.False(t, reg.OnPath("Environment", "AptPackage"))
	assert.False(t, reg.OnPath("Missing", "Host"))
}

func TestRegistry_DescendantsDeepestFirst(t *testing.T) {
	reg := schema.Default()
	desc := reg.Descendants()

	require.NotEmpty(t, desc)
	assert.NotContains(t, desc, "Environment")
	assert.Equal(t, "GitUrl", desc[0])

	prev := 1 << 30
	for _, label := range desc {
		d, err := reg.Depth(label)
		require.NoError(t, err)
		assert.LessOrEqual(t, d, prev, label)
		prev = d
	}
}

func TestNew_Validation(t *testing.T) {
	root := schema.EntityType{Label: "Root", Identity: []string{"id"}}

	tests := []struct {
		name  string
		types []schema.EntityType
	}{
		{name: "no root", types: []schema.EntityType{
			{Label: "A", Parent: "B", Relationship: "HAS_A", Identity: []string{"id"}},
			{Label: "B", Parent: "A", Relationship: "HAS_B", Identity: []string{"id"}},
		}},
		{name: "two roots", types: []schema.EntityType{root, {Label: "Other", Identity: []string{"id"}}}},
		{name: "unknown parent", types: []schema.EntityType{root, {Label: "A", Parent: "Nope", Relationship: "HAS_A", Identity: []string{"id"}}}},
		{name: "cycle", types: []schema.EntityType{
			root,
			{Label: "A", Parent: "B", Relationship: "HAS_A", Identity: []string{"id"}},
			{Label: "B", Parent: "A", Relationship: "HAS_B", Identity: []string{"id"}},
		}},
		{name: "shared with state", types: []schema.EntityType{root, {Label: "A", Parent: "Root", Relationship: "HAS_A", Identity: []string{"id"}, State: []string{"x"}, Shared: true}}},
		{name: "bad relationship", types: []schema.EntityType{root, {Label: "A", Parent: "Root", Relationship: "has-a", Identity: []string{"id"}}}},
		{name: "identity in state", types: []schema.EntityType{root, {Label: "A", Parent: "Root", Relationship: "HAS_A", Identity: []string{"id"}, State: []string{"id"}}}},
		{name: "no identity", types: []schema.EntityType{{Label: "Root"}}},
		{name: "duplicate", types: []schema.EntityType{root, root}},
		{name: "reserved lock label", types: []schema.EntityType{root, {Label: schema.LockLabel, Parent: "Root", Relationship: "HAS_LOCK", Identity: []string{"id"}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := schema.New(tt.types...)
			assert.ErrorIs(t, err, schema.ErrInvalidSchema)
		})
	}
}

func TestParse(t *testing.T) {
	data := []byte(`
types:
  - label: Environment
    identity: [account_number, name]
  - label: Host
    parent: Environment
    relationship: HAS_HOST
    identity: [hostname, environment]
    state: [kernel]
  - label: Package
    parent: Host
    relationship: HAS_PACKAGE
    identity: [name, version]
    shared: true
`)

	reg, err := schema.Parse(data)
	require.NoError(t, err)
	assert.Equal(t, "Environment", reg.Root())
	assert.Equal(t, []string{"Environment", "Host", "Package"}, reg.Types())

	props, err := reg.Properties("Host")
	require.NoError(t, err)
	assert.Equal(t, []string{"hostname_environment", "hostname", "environment", "kernel"}, props)

	_, err = schema.Parse([]byte("types: ["))
	assert.Error(t, err)
}
