// Package model writes versioned entity facts into the graph.
//
// Identity nodes are created once and never change. State properties live
// on state nodes whose HAS_STATE edge carries the validity interval; Update
// closes the open interval and opens a new one only when a state value
// actually changes. Link does the same for the structural edges between a
// parent and its children.
package model

import (
	"context"
	"fmt"
	"reflect"
	"sort"

	"github.com/sacharya/FleetDeploymentReporting/graph"
	"github.com/sacharya/FleetDeploymentReporting/schema"
	"github.com/sacharya/FleetDeploymentReporting/snitcherr"
)

// Entity is one observed entity: its type and the property values collected
// for it.
type Entity struct {
	Label string
	Props map[string]any
}

// Key returns the graph key of the entity of label with identity id.
func Key(reg *schema.Registry, label, id string) (graph.Key, error) {
	prop, err := reg.IdentityProperty(label)
	if err != nil {
		return graph.Key{}, err
	}
	return graph.Key{Label: label, Property: prop, Value: id}, nil
}

// Identity returns the identity value of e.
func (e Entity) Identity(reg *schema.Registry) (string, error) {
	return reg.IdentityValue(e.Label, e.Props)
}

// split separates props into identity-node and state-node properties,
// rejecting anything the schema does not declare.
func split(reg *schema.Registry, e Entity) (node, state map[string]any, err error) {
	node = make(map[string]any)
	state = make(map[string]any)
	for k, v := range e.Props {
		isState, err := reg.ValidateProperty(e.Label, k)
		if err != nil {
			return nil, nil, snitcherr.InvalidProperty("model.update", e.Label, k)
		}
		// Null properties are not stored.
		if v == nil {
			continue
		}
		if isState {
			state[k] = v
		} else {
			node[k] = v
		}
	}
	return node, state, nil
}

// Update upserts e as observed at the given time and returns its identity.
//
// The identity node is merged. If the type has state and the observed state
// differs from the open state, the open interval is closed at `at` and a new
// state valid from `at` is created. An unchanged state is left untouched.
// Once created, an entity of a stateful type always has one open state, so
// it stays visible to point-in-time queries.
func Update(ctx context.Context, tx graph.Tx, reg *schema.Registry, e Entity, at int64) (string, error) {
	id, err := e.Identity(reg)
	if err != nil {
		return "", err
	}
	key, err := Key(reg, e.Label, id)
	if err != nil {
		return "", err
	}
	nodeProps, state, err := split(reg, e)
	if err != nil {
		return "", err
	}
	nodeProps[key.Property] = id

	if _, err := tx.Run(ctx, graph.MergeNode{Key: key, Props: nodeProps}); err != nil {
		return "", fmt.Errorf("failed to merge %s %s: %w", e.Label, id, err)
	}

	if !reg.HasState(e.Label) {
		return id, nil
	}

	stateLabel := schema.StateLabel(e.Label)
	recs, err := tx.Run(ctx, graph.CurrentState{Key: key, StateLabel: stateLabel})
	if err != nil {
		return "", fmt.Errorf("failed to read state of %s %s: %w", e.Label, id, err)
	}
	if len(recs) > 0 && sameState(recs[0].Props("state"), state) {
		return id, nil
	}
	if len(recs) > 0 {
		if _, err := tx.Run(ctx, graph.CloseState{Key: key, StateLabel: stateLabel, Time: at}); err != nil {
			return "", fmt.Errorf("failed to close state of %s %s: %w", e.Label, id, err)
		}
	}
	// An observation whose state values are all null still gets a state node,
	// an empty one, so the entity keeps exactly one valid state.
	if _, err := tx.Run(ctx, graph.CreateState{Key: key, StateLabel: stateLabel, Props: state, Time: at}); err != nil {
		return "", fmt.Errorf("failed to create state of %s %s: %w", e.Label, id, err)
	}
	return id, nil
}

// Delta reports how many structural edges a Link opened and closed.
type Delta struct {
	Opened int64
	Closed int64
}

// Link makes childIDs the complete set of open children of type childLabel
// under the parent entity, as of the given time. Edges to children no longer
// present are closed at `at`; edges to new children are opened at `at`;
// unchanged edges are left untouched. Children must already exist.
func Link(ctx context.Context, tx graph.Tx, reg *schema.Registry, parentLabel, parentID, childLabel string, childIDs []string, at int64) (Delta, error) {
	child, err := reg.Type(childLabel)
	if err != nil {
		return Delta{}, err
	}
	if child.Parent != parentLabel {
		return Delta{}, snitcherr.InvalidLabel("model.link", childLabel).
			WithDetails(map[string]any{"parent": parentLabel})
	}
	parent, err := Key(reg, parentLabel, parentID)
	if err != nil {
		return Delta{}, err
	}
	childProp, err := reg.IdentityProperty(childLabel)
	if err != nil {
		return Delta{}, err
	}

	recs, err := tx.Run(ctx, graph.OpenChildren{
		Parent:        parent,
		Rel:           child.Relationship,
		ChildLabel:    childLabel,
		ChildProperty: childProp,
	})
	if err != nil {
		return Delta{}, fmt.Errorf("failed to read %s children of %s: %w", childLabel, parentID, err)
	}

	current := make(map[string]bool, len(recs))
	for _, r := range recs {
		current[fmt.Sprint(r["id"])] = true
	}
	wanted := make(map[string]bool, len(childIDs))
	for _, id := range childIDs {
		wanted[id] = true
	}

	var stale, fresh []string
	for id := range current {
		if !wanted[id] {
			stale = append(stale, id)
		}
	}
	for id := range wanted {
		if !current[id] {
			fresh = append(fresh, id)
		}
	}
	sort.Strings(stale)
	sort.Strings(fresh)

	var d Delta
	if len(stale) > 0 {
		recs, err := tx.Run(ctx, graph.CloseChildren{
			Parent: parent, Rel: child.Relationship, ChildLabel: childLabel,
			ChildProperty: childProp, IDs: stale, Time: at,
		})
		if err != nil {
			return Delta{}, fmt.Errorf("failed to close %s children of %s: %w", childLabel, parentID, err)
		}
		if len(recs) > 0 {
			d.Closed = recs[0].Int64("changed")
		}
	}
	if len(fresh) > 0 {
		recs, err := tx.Run(ctx, graph.OpenRels{
			Parent: parent, Rel: child.Relationship, ChildLabel: childLabel,
			ChildProperty: childProp, IDs: fresh, Time: at,
		})
		if err != nil {
			return Delta{}, fmt.Errorf("failed to open %s children of %s: %w", childLabel, parentID, err)
		}
		if len(recs) > 0 {
			d.Opened = recs[0].Int64("created")
		}
	}
	return d, nil
}

func sameState(current, observed map[string]any) bool {
	if len(current) != len(observed) {
		return false
	}
	for k, v := range observed {
		cv, ok := current[k]
		if !ok || !reflect.DeepEqual(normalize(cv), normalize(v)) {
			return false
		}
	}
	return true
}

// normalize maps the numeric types drivers and decoders produce onto int64
// and float64 so that 1, int64(1) and float64(1) compare equal.
func normalize(v any) any {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case float32:
		return normalize(float64(n))
	case float64:
		if n == float64(int64(n)) {
			return int64(n)
		}
		return n
	case []string:
		out := make([]any, len(n))
		for i, s := range n {
			out[i] = s
		}
		return out
	case []any:
		out := make([]any, len(n))
		for i, e := range n {
			out[i] = normalize(e)
		}
		return out
	default:
		return v
	}
}
