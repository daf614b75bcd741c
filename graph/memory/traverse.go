package memory

import (
	"fmt"
	"maps"
	"reflect"
	"sort"
	"strings"

	"github.com/sacharya/FleetDeploymentReporting/graph"
)

type binding map[string]*node

func (d *data) traverse(t graph.Traversal) ([]graph.Record, error) {
	if len(t.Nodes) == 0 || len(t.Rels) != len(t.Nodes)-1 {
		return nil, fmt.Errorf("memory: traversal needs n nodes and n-1 rels, got %d and %d", len(t.Nodes), len(t.Rels))
	}

	valid := func(r *rel) bool { return r.from <= t.Time && t.Time < r.to }

	var rows []binding
	for _, id := range d.sortedNodeIDs() {
		if n := d.nodes[id]; n.label == t.Nodes[0].Label {
			rows = append(rows, binding{t.Nodes[0].Var: n})
		}
	}

	for i, r := range t.Rels {
		from, to := t.Nodes[i], t.Nodes[i+1]
		var next []binding
		for _, b := range rows {
			for _, e := range d.outRels(b[from.Var].id) {
				if e.typ != r.Type || !valid(e) || d.nodes[e.end].label != to.Label {
					continue
				}
				nb := maps.Clone(b)
				nb[to.Var] = d.nodes[e.end]
				next = append(next, nb)
			}
		}
		rows = next
	}

	for _, s := range t.States {
		var next []binding
		for _, b := range rows {
			owner, ok := b[s.Owner]
			if !ok {
				return nil, fmt.Errorf("memory: state owner %s is not bound", s.Owner)
			}
			for _, e := range d.outRels(owner.id) {
				if e.typ != graph.StateRel || !valid(e) || d.nodes[e.end].label != s.Label {
					continue
				}
				nb := maps.Clone(b)
				nb[s.Var] = d.nodes[e.end]
				next = append(next, nb)
			}
		}
		rows = next
	}

	filtered := rows[:0]
	for _, b := range rows {
		keep := true
		for _, p := range t.Where {
			n, ok := b[p.Var]
			if !ok {
				return nil, fmt.Errorf("memory: predicate variable %s is not bound", p.Var)
			}
			if !matches(p.Op, n.props[p.Property], t.Params[p.Param]) {
				keep = false
				break
			}
		}
		if keep {
			filtered = append(filtered, b)
		}
	}
	rows = filtered

	if t.Count {
		return []graph.Record{{"total": int64(len(rows))}}, nil
	}

	if len(t.Order) > 0 {
		sort.SliceStable(rows, func(i, j int) bool {
			for _, o := range t.Order {
				c := orderCompare(rows[i][o.Var].props[o.Property], rows[j][o.Var].props[o.Property], o.Desc)
				if c != 0 {
					return c < 0
				}
			}
			return false
		})
	}

	if t.Skip != nil {
		if *t.Skip >= len(rows) {
			rows = nil
		} else if *t.Skip > 0 {
			rows = rows[*t.Skip:]
		}
	}
	if t.Limit != nil && *t.Limit < len(rows) {
		rows = rows[:*t.Limit]
	}

	out := make([]graph.Record, 0, len(rows))
	for _, b := range rows {
		rec := make(graph.Record, len(t.Return))
		for _, p := range t.Return {
			n := b[p.Var]
			if n == nil {
				return nil, fmt.Errorf("memory: projection variable %s is not bound", p.Var)
			}
			if p.Property == "" {
				rec[p.Column()] = maps.Clone(n.props)
			} else {
				rec[p.Column()] = n.props[p.Property]
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

// orderCompare sorts nulls last in ascending order and first in descending
// order.
func orderCompare(a, b any, desc bool) int {
	var c int
	switch {
	case a == nil && b == nil:
		c = 0
	case a == nil:
		c = 1
	case b == nil:
		c = -1
	default:
		c, _ = compareValues(a, b)
	}
	if desc {
		return -c
	}
	return c
}

func matches(op graph.Op, v, param any) bool {
	switch op {
	case graph.IsNull:
		return v == nil
	case graph.IsNotNull:
		return v != nil
	}
	if v == nil || param == nil {
		return false
	}

	switch op {
	case graph.Eq:
		return equalValues(v, param)
	case graph.Neq:
		return !equalValues(v, param)
	case graph.Lt, graph.Lte, graph.Gt, graph.Gte:
		c, ok := compareValues(v, param)
		if !ok {
			return false
		}
		switch op {
		case graph.Lt:
			return c < 0
		case graph.Lte:
			return c <= 0
		case graph.Gt:
			return c > 0
		default:
			return c >= 0
		}
	case graph.Contains, graph.StartsWith, graph.EndsWith:
		s, ok1 := v.(string)
		sub, ok2 := param.(string)
		if !ok1 || !ok2 {
			return false
		}
		switch op {
		case graph.Contains:
			return strings.Contains(s, sub)
		case graph.StartsWith:
			return strings.HasPrefix(s, sub)
		default:
			return strings.HasSuffix(s, sub)
		}
	case graph.In:
		rv := reflect.ValueOf(param)
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			return false
		}
		for i := 0; i < rv.Len(); i++ {
			if equalValues(v, rv.Index(i).Interface()) {
				return true
			}
		}
		return false
	}
	return false
}

func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	if i, ok := asInt(v); ok {
		return float64(i), true
	}
	switch n := v.(type) {
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func compareValues(a, b any) (int, bool) {
	if ai, ok := asInt(a); ok {
		if bi, ok := asInt(b); ok {
			switch {
			case ai < bi:
				return -1, true
			case ai > bi:
				return 1, true
			}
			return 0, true
		}
	}
	if af, ok := asFloat(a); ok {
		if bf, ok := asFloat(b); ok {
			switch {
			case af < bf:
				return -1, true
			case af > bf:
				return 1, true
			}
			return 0, true
		}
	}
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			return strings.Compare(as, bs), true
		}
	}
	if ab, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			switch {
			case ab == bb:
				return 0, true
			case !ab:
				return -1, true
			}
			return 1, true
		}
	}
	return 0, false
}

func equalValues(a, b any) bool {
	if c, ok := compareValues(a, b); ok {
		return c == 0
	}
	return reflect.DeepEqual(a, b)
}
