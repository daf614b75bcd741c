// Package query compiles point-in-time views of the snitch graph.
//
// A Query targets one entity type and returns, for every matching path from
// the root, the identity and state of each type along the path as it was at
// the query time. A ColumnQuery returns selected properties instead of whole
// entities. Labels and properties are validated against the schema when the
// query is built, so an invalid request fails before any I/O.
//
//	c := query.NewCompiler(schema.Default(), store)
//	q, err := c.Query("Host")
//	if err != nil {
//	    return err
//	}
//	q.Time(ts)
//	if err := q.Filter("kernel", graph.StartsWith, "5."); err != nil {
//	    return err
//	}
//	rows, err := q.Page(ctx, 1, 100)
package query

import (
	"context"
	"fmt"

	"github.com/sacharya/FleetDeploymentReporting/graph"
	"github.com/sacharya/FleetDeploymentReporting/schema"
)

// Compiler creates queries against one schema and store.
type Compiler struct {
	reg   *schema.Registry
	store graph.Store
	now   func() int64
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithClock overrides the source of the default query time.
func WithClock(now func() int64) Option {
	return func(c *Compiler) {
		c.now = now
	}
}

// NewCompiler returns a compiler for reg backed by store.
func NewCompiler(reg *schema.Registry, store graph.Store, opts ...Option) *Compiler {
	c := &Compiler{reg: reg, store: store, now: graph.NowMillis}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Row maps each returned label to the merged identity and state properties
// of that entity.
type Row map[string]map[string]any

// Query returns whole entities along the path to a target type.
type Query struct {
	base
	returns []string
}

// Query starts a query for label. Every type on the path to label is
// returned by default.
func (c *Compiler) Query(label string) (*Query, error) {
	b, err := newBase(c.reg, c.store, c.now, label)
	if err != nil {
		return nil, err
	}
	return &Query{base: b, returns: append([]string(nil), b.path...)}, nil
}

// Label returns the target type.
func (q *Query) Label() string { return q.label }

// Time sets the instant, in epoch milliseconds, at which facts must be valid.
func (q *Query) Time(ms int64) *Query {
	q.setTime(ms)
	return q
}

// Now resets the query time to the current time.
func (q *Query) Now() *Query {
	q.setTime(q.now())
	return q
}

// Filter adds a condition on a property of the target type.
func (q *Query) Filter(prop string, op graph.Op, value any) error {
	return q.filter(q.label, prop, op, value)
}

// FilterOn adds a condition on a property of label, which must be the target
// or one of its ancestors.
func (q *Query) FilterOn(label, prop string, op graph.Op, value any) error {
	return q.filter(label, prop, op, value)
}

// Identity restricts the query to the target entity with the given identity.
// An empty identity leaves the query unchanged.
func (q *Query) Identity(id string) error {
	return q.identity(id)
}

// AddReturn includes label in the result. It must be the target or one of its
// ancestors.
func (q *Query) AddReturn(label string) error {
	if err := q.onPath("query.return", label); err != nil {
		return err
	}
	for _, l := range q.returns {
		if l == label {
			return nil
		}
	}
	q.returns = append(q.returns, label)
	return nil
}

// OrderBy sorts by a property of the target type. Without any ordering the
// result is sorted by the target's identity ascending.
func (q *Query) OrderBy(prop string, dir Direction) error {
	return q.orderBy(q.label, prop, dir)
}

// OrderByOn sorts by a property of label.
func (q *Query) OrderByOn(label, prop string, dir Direction) error {
	return q.orderBy(label, prop, dir)
}

// Skip sets the number of rows to skip.
func (q *Query) Skip(n int) *Query {
	q.skip = &n
	return q
}

// Limit caps the number of rows returned.
func (q *Query) Limit(n int) *Query {
	q.limit = &n
	return q
}

func (q *Query) projections() []graph.Projection {
	var ps []graph.Projection
	for _, l := range q.returns {
		ps = append(ps, graph.Projection{Var: nodeVar(l)})
		if q.reg.HasState(l) {
			ps = append(ps, graph.Projection{Var: stateVar(l)})
		}
	}
	return ps
}

// Plan returns the traversal the query runs.
func (q *Query) Plan() graph.Traversal {
	return q.traversal(q.projections())
}

// String returns the Cypher text of the query.
func (q *Query) String() string {
	return compile(q.Plan())
}

// Params returns the query parameters, including the time.
func (q *Query) Params() map[string]any {
	p := q.Plan()
	out := make(map[string]any, len(p.Params)+1)
	for k, v := range p.Params {
		out[k] = v
	}
	out[graph.TimeParam] = p.Time
	return out
}

// Count returns the number of rows the query matches, ignoring skip, limit
// and ordering. The result is cached until the time or filters change.
func (q *Query) Count(ctx context.Context) (int64, error) {
	return q.countRecords(ctx)
}

// Fetch runs the query.
func (q *Query) Fetch(ctx context.Context) ([]Row, error) {
	recs, err := graph.RunRead(ctx, q.store, q.Plan())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", q.label, err)
	}

	rows := make([]Row, 0, len(recs))
	for _, rec := range recs {
		row := make(Row, len(q.returns))
		for _, l := range q.returns {
			obj := make(map[string]any)
			for k, v := range rec.Props(nodeVar(l)) {
				obj[k] = v
			}
			if q.reg.HasState(l) {
				for k, v := range rec.Props(stateVar(l)) {
					obj[k] = v
				}
			}
			row[l] = obj
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Page fetches the 1-based page of the given size.
func (q *Query) Page(ctx context.Context, page, size int) ([]Row, error) {
	q.window(pageSkip(page, size, 0), size)
	return q.Fetch(ctx)
}

// PageIndex fetches size rows starting at the 1-based row index.
func (q *Query) PageIndex(ctx context.Context, index, size int) ([]Row, error) {
	q.window(pageSkip(1, size, index), size)
	return q.Fetch(ctx)
}

// Times returns every distinct instant at which the subtree below the entity
// of label with the given identity changed, newest first.
func (c *Compiler) Times(ctx context.Context, label, id string) ([]int64, error) {
	prop, err := c.reg.IdentityProperty(label)
	if err != nil {
		return nil, err
	}
	recs, err := graph.RunRead(ctx, c.store, graph.ChangeTimes{
		Key: graph.Key{Label: label, Property: prop, Value: id},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch change times for %s %s: %w", label, id, err)
	}
	out := make([]int64, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Int64("t"))
	}
	return out, nil
}
