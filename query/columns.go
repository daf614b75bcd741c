package query

import (
	"context"
	"fmt"

	"github.com/sacharya/FleetDeploymentReporting/graph"
)

type column struct {
	name     string
	variable string
	prop     string
}

// ColumnQuery returns individual properties instead of whole entities.
type ColumnQuery struct {
	base
	columns []column
}

// ColumnQuery starts a column query for label.
func (c *Compiler) ColumnQuery(label string) (*ColumnQuery, error) {
	b, err := newBase(c.reg, c.store, c.now, label)
	if err != nil {
		return nil, err
	}
	return &ColumnQuery{base: b}, nil
}

// AddColumn returns label.prop as a column. label must be the target or one
// of its ancestors. The column is named "Label.prop" unless name is given.
// Adding a column with an existing name replaces its source in place.
func (q *ColumnQuery) AddColumn(label, prop, name string) error {
	v, err := q.propertyVar("query.column", label, prop)
	if err != nil {
		return err
	}
	if name == "" {
		name = label + "." + prop
	}

	col := column{name: name, variable: v, prop: prop}
	for i, existing := range q.columns {
		if existing.name == name {
			q.columns[i] = col
			return nil
		}
	}
	q.columns = append(q.columns, col)
	return nil
}

// Columns returns the column names in order.
func (q *ColumnQuery) Columns() []string {
	out := make([]string, len(q.columns))
	for i, c := range q.columns {
		out[i] = c.name
	}
	return out
}

// Time sets the instant, in epoch milliseconds, at which facts must be valid.
func (q *ColumnQuery) Time(ms int64) *ColumnQuery {
	q.setTime(ms)
	return q
}

// Now resets the query time to the current time.
func (q *ColumnQuery) Now() *ColumnQuery {
	q.setTime(q.now())
	return q
}

// Filter adds a condition on a property of the target type.
func (q *ColumnQuery) Filter(prop string, op graph.Op, value any) error {
	return q.filter(q.label, prop, op, value)
}

// FilterOn adds a condition on a property of label.
func (q *ColumnQuery) FilterOn(label, prop string, op graph.Op, value any) error {
	return q.filter(label, prop, op, value)
}

// Identity restricts the query to the target entity with the given identity.
func (q *ColumnQuery) Identity(id string) error {
	return q.identity(id)
}

// OrderBy sorts by a property of the target type.
func (q *ColumnQuery) OrderBy(prop string, dir Direction) error {
	return q.orderBy(q.label, prop, dir)
}

// OrderByOn sorts by a property of label.
func (q *ColumnQuery) OrderByOn(label, prop string, dir Direction) error {
	return q.orderBy(label, prop, dir)
}

// Skip sets the number of rows to skip.
func (q *ColumnQuery) Skip(n int) *ColumnQuery {
	q.skip = &n
	return q
}

// Limit caps the number of rows returned.
func (q *ColumnQuery) Limit(n int) *ColumnQuery {
	q.limit = &n
	return q
}

// Plan returns the traversal the query runs.
func (q *ColumnQuery) Plan() graph.Traversal {
	ps := make([]graph.Projection, 0, len(q.columns))
	for _, c := range q.columns {
		ps = append(ps, graph.Projection{Var: c.variable, Property: c.prop, Alias: c.name})
	}
	return q.traversal(ps)
}

// String returns the Cypher text of the query.
func (q *ColumnQuery) String() string {
	return compile(q.Plan())
}

// Count returns the number of rows the query matches. The result is cached
// until the time or filters change.
func (q *ColumnQuery) Count(ctx context.Context) (int64, error) {
	return q.countRecords(ctx)
}

// Fetch runs the query. Each row maps column name to value; Columns gives
// the column order.
func (q *ColumnQuery) Fetch(ctx context.Context) ([]map[string]any, error) {
	if len(q.columns) == 0 {
		return nil, fmt.Errorf("query: column query for %s has no columns", q.label)
	}
	recs, err := graph.RunRead(ctx, q.store, q.Plan())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s columns: %w", q.label, err)
	}

	rows := make([]map[string]any, 0, len(recs))
	for _, rec := range recs {
		row := make(map[string]any, len(q.columns))
		for _, c := range q.columns {
			row[c.name] = rec[c.name]
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Page fetches the 1-based page of the given size.
func (q *ColumnQuery) Page(ctx context.Context, page, size int) ([]map[string]any, error) {
	q.window(pageSkip(page, size, 0), size)
	return q.Fetch(ctx)
}

// PageIndex fetches size rows starting at the 1-based row index.
func (q *ColumnQuery) PageIndex(ctx context.Context, index, size int) ([]map[string]any, error) {
	q.window(pageSkip(1, size, index), size)
	return q.Fetch(ctx)
}
