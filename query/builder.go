package query

import (
	"context"
	"fmt"
	"strings"

	"github.com/sacharya/FleetDeploymentReporting/graph"
	"github.com/sacharya/FleetDeploymentReporting/graph/cypher"
	"github.com/sacharya/FleetDeploymentReporting/schema"
	"github.com/sacharya/FleetDeploymentReporting/snitcherr"
)

// Direction is a sort direction.
type Direction string

const (
	Asc  Direction = "ASC"
	Desc Direction = "DESC"
)

// Variable naming. Node variables are the lowercased label, state variables
// append "_state" and their relationships are prefixed with "r_". Structural
// relationships along the path are r0, r1, ...
func nodeVar(label string) string  { return strings.ToLower(label) }
func stateVar(label string) string { return nodeVar(label) + "_state" }
func stateRel(label string) string { return "r_" + stateVar(label) }

func filterParam(n int) string { return fmt.Sprintf("filterval%d", n) }

// base holds the parts shared by Query and ColumnQuery: the path pattern,
// the time, filters, ordering and the result window.
type base struct {
	reg   *schema.Registry
	store graph.Store
	now   func() int64

	label  string
	path   []string
	nodes  []graph.Node
	rels   []graph.Rel
	states []graph.StateMatch

	where  []graph.Predicate
	params map[string]any
	time   int64

	order []graph.Order
	skip  *int
	limit *int

	count *int64
}

func newBase(reg *schema.Registry, store graph.Store, now func() int64, label string) (base, error) {
	hops, err := reg.Path(label)
	if err != nil {
		return base{}, snitcherr.InvalidLabel("query", label)
	}

	b := base{
		reg:    reg,
		store:  store,
		now:    now,
		label:  label,
		params: make(map[string]any),
		time:   now(),
	}

	for i, h := range hops {
		b.path = append(b.path, h.Label)
		b.nodes = append(b.nodes, graph.Node{Var: nodeVar(h.Label), Label: h.Label})
		b.rels = append(b.rels, graph.Rel{Var: fmt.Sprintf("r%d", i), Type: h.Relationship})
	}
	b.path = append(b.path, label)
	b.nodes = append(b.nodes, graph.Node{Var: nodeVar(label), Label: label})

	for _, l := range b.path {
		if reg.HasState(l) {
			b.states = append(b.states, graph.StateMatch{
				Owner:  nodeVar(l),
				RelVar: stateRel(l),
				Var:    stateVar(l),
				Label:  schema.StateLabel(l),
			})
		}
	}
	return b, nil
}

// onPath validates that label is the target or one of its ancestors.
func (b *base) onPath(op, label string) error {
	if !b.reg.Has(label) || !b.reg.OnPath(b.label, label) {
		return snitcherr.InvalidLabel(op, label)
	}
	return nil
}

// propertyVar returns the variable holding prop for label.
func (b *base) propertyVar(op, label, prop string) (string, error) {
	if err := b.onPath(op, label); err != nil {
		return "", err
	}
	state, err := b.reg.ValidateProperty(label, prop)
	if err != nil {
		return "", snitcherr.InvalidProperty(op, label, prop)
	}
	if state {
		return stateVar(label), nil
	}
	return nodeVar(label), nil
}

func (b *base) setTime(ms int64) {
	b.time = ms
	b.count = nil
}

func (b *base) filter(label, prop string, op graph.Op, value any) error {
	if _, ok := opNames[op]; !ok {
		return snitcherr.InvalidOperator("query.filter", op.String())
	}
	v, err := b.propertyVar("query.filter", label, prop)
	if err != nil {
		return err
	}

	pred := graph.Predicate{Var: v, Property: prop, Op: op}
	if !op.Unary() {
		pred.Param = filterParam(len(b.where))
		b.params[pred.Param] = value
	}
	b.where = append(b.where, pred)
	b.count = nil
	return nil
}

func (b *base) identity(id string) error {
	if id == "" {
		return nil
	}
	prop, err := b.reg.IdentityProperty(b.label)
	if err != nil {
		return err
	}
	return b.filter(b.label, prop, graph.Eq, id)
}

func (b *base) orderBy(label, prop string, dir Direction) error {
	if dir != Asc && dir != Desc {
		return fmt.Errorf("query: invalid order direction %q", dir)
	}
	v, err := b.propertyVar("query.orderby", label, prop)
	if err != nil {
		return err
	}
	b.order = append(b.order, graph.Order{Var: v, Property: prop, Desc: dir == Desc})
	return nil
}

func (b *base) traversal(ret []graph.Projection) graph.Traversal {
	order := b.order
	if len(order) == 0 {
		prop, _ := b.reg.IdentityProperty(b.label)
		order = []graph.Order{{Var: nodeVar(b.label), Property: prop}}
	}

	params := make(map[string]any, len(b.params))
	for k, v := range b.params {
		params[k] = v
	}

	return graph.Traversal{
		Nodes:  append([]graph.Node(nil), b.nodes...),
		Rels:   append([]graph.Rel(nil), b.rels...),
		States: append([]graph.StateMatch(nil), b.states...),
		Where:  append([]graph.Predicate(nil), b.where...),
		Params: params,
		Time:   b.time,
		Return: ret,
		Order:  order,
		Skip:   b.skip,
		Limit:  b.limit,
	}
}

func (b *base) countRecords(ctx context.Context) (int64, error) {
	if b.count != nil {
		return *b.count, nil
	}
	t := b.traversal(nil)
	t.Count = true

	recs, err := graph.RunRead(ctx, b.store, t)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", b.label, err)
	}
	var n int64
	if len(recs) > 0 {
		n = recs[0].Int64("total")
	}
	b.count = &n
	return n, nil
}

func (b *base) window(skip, size int) {
	b.skip = &skip
	b.limit = &size
}

// pageSkip converts a 1-based page or a 1-based row index into a skip count.
// A positive index takes precedence over page.
func pageSkip(page, size, index int) int {
	if index > 0 {
		return max(index-1, 0)
	}
	return max((page-1)*size, 0)
}

func compile(t graph.Traversal) string {
	q, _, err := cypher.Compile(t)
	if err != nil {
		return ""
	}
	return q
}

var opNames = map[graph.Op]bool{
	graph.Eq: true, graph.Neq: true, graph.Lt: true, graph.Lte: true,
	graph.Gt: true, graph.Gte: true, graph.Contains: true, graph.StartsWith: true,
	graph.EndsWith: true, graph.In: true, graph.IsNull: true, graph.IsNotNull: true,
}
