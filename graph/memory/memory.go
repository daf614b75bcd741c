// Package memory is an in-process graph.Store that evaluates statements
// directly against a small property graph. It honours the same interval
// semantics as the Cypher backend and is used by tests and, with
// "store: memory" in snitch.yaml, for dry runs.
//
// Transactions are serialized by a single mutex. A write transaction works
// on the live graph and restores a snapshot if its function returns an
// error.
package memory

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"
	"sync"

	"github.com/sacharya/FleetDeploymentReporting/graph"
)

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("memory store closed")

type node struct {
	id    int64
	label string
	props map[string]any
}

type rel struct {
	id    int64
	typ   string
	start int64
	end   int64
	from  int64
	to    int64
}

type data struct {
	nextID      int64
	nodes       map[int64]*node
	rels        map[int64]*rel
	out         map[int64][]int64
	constraints map[string]bool
}

func newData() *data {
	return &data{
		nodes:       make(map[int64]*node),
		rels:        make(map[int64]*rel),
		out:         make(map[int64][]int64),
		constraints: make(map[string]bool),
	}
}

func (d *data) clone() *data {
	c := &data{
		nextID:      d.nextID,
		nodes:       make(map[int64]*node, len(d.nodes)),
		rels:        make(map[int64]*rel, len(d.rels)),
		out:         make(map[int64][]int64, len(d.out)),
		constraints: maps.Clone(d.constraints),
	}
	for id, n := range d.nodes {
		c.nodes[id] = &node{id: n.id, label: n.label, props: maps.Clone(n.props)}
	}
	for id, r := range d.rels {
		cp := *r
		c.rels[id] = &cp
	}
	for id, ids := range d.out {
		c.out[id] = append([]int64(nil), ids...)
	}
	return c
}

// Store is an in-memory graph.Store.
type Store struct {
	mu     sync.Mutex
	g      *data
	closed bool
}

// New returns an empty store.
func New() *Store {
	return &Store{g: newData()}
}

// ExecuteRead runs fn in a transaction that rejects write statements.
func (s *Store) ExecuteRead(ctx context.Context, fn func(graph.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(&tx{g: s.g})
}

// ExecuteWrite runs fn in a transaction that is rolled back when fn fails.
func (s *Store) ExecuteWrite(ctx context.Context, fn func(graph.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	snapshot := s.g.clone()
	if err := fn(&tx{g: s.g, write: true}); err != nil {
		s.g = snapshot
		return err
	}
	return nil
}

// Ping reports whether the store is open.
func (s *Store) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return ctx.Err()
}

// Close marks the store closed.
func (s *Store) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// NodeCount returns the number of nodes carrying label.
func (s *Store) NodeCount(label string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, nd := range s.g.nodes {
		if nd.label == label {
			n++
		}
	}
	return n
}

// OpenRelCount returns the number of relationships whose interval is open.
func (s *Store) OpenRelCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.g.rels {
		if r.to == graph.EOT {
			n++
		}
	}
	return n
}

// Constraints returns the declared uniqueness constraints as "Label.property",
// sorted.
func (s *Store) Constraints() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.g.constraints))
	for c := range s.g.constraints {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

type tx struct {
	g     *data
	write bool
}

// Run implements graph.Tx.
func (t *tx) Run(ctx context.Context, stmt graph.Statement) ([]graph.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if stmt.Write() && !t.write {
		return nil, graph.ErrReadOnly
	}

	switch s := stmt.(type) {
	case graph.Traversal:
		return t.g.traverse(s)
	case *graph.Traversal:
		return t.g.traverse(*s)
	case graph.DeleteChunk:
		return t.g.deleteChunk(s), nil
	case graph.CloseChunk:
		return t.g.closeChunk(s), nil
	case graph.AcquireLock:
		return t.g.acquireLock(s), nil
	case graph.ReleaseLock:
		return t.g.releaseLock(s), nil
	case graph.FindNode:
		n := t.g.find(s.Key)
		if n == nil {
			return nil, nil
		}
		return []graph.Record{{"n": maps.Clone(n.props)}}, nil
	case graph.MergeNode:
		return t.g.mergeNode(s), nil
	case graph.Advance:
		return t.g.advance(s), nil
	case graph.CurrentState:
		return t.g.currentState(s), nil
	case graph.CloseState:
		return t.g.closeState(s), nil
	case graph.CreateState:
		return t.g.createState(s), nil
	case graph.OpenChildren:
		return t.g.openChildren(s), nil
	case graph.CloseChildren:
		return t.g.closeChildren(s), nil
	case graph.OpenRels:
		return t.g.openRels(s), nil
	case graph.ChangeTimes:
		return t.g.changeTimes(s), nil
	case graph.CreateConstraint:
		t.g.constraints[s.Label+"."+s.Property] = true
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: %T", graph.ErrUnsupportedStatement, stmt)
	}
}

func (d *data) sortedNodeIDs() []int64 {
	ids := make([]int64, 0, len(d.nodes))
	for id := range d.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (d *data) find(k graph.Key) *node {
	for _, id := range d.sortedNodeIDs() {
		n := d.nodes[id]
		if n.label != k.Label {
			continue
		}
		if v, ok := n.props[k.Property]; ok && equalValues(v, k.Value) {
			return n
		}
	}
	return nil
}

func (d *data) createNode(label string, props map[string]any) *node {
	d.nextID++
	n := &node{id: d.nextID, label: label, props: props}
	d.nodes[n.id] = n
	return n
}

func (d *data) createRel(typ string, start, end, from int64) *rel {
	d.nextID++
	r := &rel{id: d.nextID, typ: typ, start: start, end: end, from: from, to: graph.EOT}
	d.rels[r.id] = r
	d.out[start] = append(d.out[start], r.id)
	return r
}

func (d *data) outRels(id int64) []*rel {
	ids := d.out[id]
	out := make([]*rel, 0, len(ids))
	for _, rid := range ids {
		out = append(out, d.rels[rid])
	}
	return out
}

func (d *data) detachDelete(id int64) {
	for rid, r := range d.rels {
		if r.start == id || r.end == id {
			delete(d.rels, rid)
		}
	}
	delete(d.out, id)
	for nid, ids := range d.out {
		kept := ids[:0]
		for _, rid := range ids {
			if _, ok := d.rels[rid]; ok {
				kept = append(kept, rid)
			}
		}
		d.out[nid] = kept
	}
	delete(d.nodes, id)
}

// reachable returns the nodes reachable from id by one or more outgoing
// relationships, in breadth-first order.
func (d *data) reachable(id int64) []int64 {
	seen := map[int64]bool{id: true}
	queue := []int64{id}
	var out []int64
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, r := range d.outRels(cur) {
			if seen[r.end] {
				continue
			}
			seen[r.end] = true
			out = append(out, r.end)
			queue = append(queue, r.end)
		}
	}
	return out
}

// subtreeRels returns every relationship leaving id or a node reachable from
// it, ordered by id.
func (d *data) subtreeRels(id int64) []*rel {
	starts := append([]int64{id}, d.reachable(id)...)
	var out []*rel
	for _, s := range starts {
		out = append(out, d.outRels(s)...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func (d *data) deleteChunk(s graph.DeleteChunk) []graph.Record {
	root := d.find(s.Root)
	if root == nil {
		return []graph.Record{{"deleted": int64(0)}}
	}

	stateLabel := s.Label + graph.StateSuffix
	var owners []int64
	if s.Label == s.Root.Label {
		owners = []int64{root.id}
	} else {
		for _, id := range d.reachable(root.id) {
			if d.nodes[id].label == s.Label {
				owners = append(owners, id)
			}
		}
	}

	var targets []int64
	seen := make(map[int64]bool)
	for _, id := range owners {
		if !s.State {
			if !seen[id] {
				seen[id] = true
				targets = append(targets, id)
			}
			continue
		}
		for _, r := range d.outRels(id) {
			if r.typ == graph.StateRel && d.nodes[r.end].label == stateLabel && !seen[r.end] {
				seen[r.end] = true
				targets = append(targets, r.end)
			}
		}
	}

	sort.Slice(targets, func(i, j int) bool { return targets[i] < targets[j] })
	if s.Limit > 0 && len(targets) > s.Limit {
		targets = targets[:s.Limit]
	}
	for _, id := range targets {
		d.detachDelete(id)
	}
	return []graph.Record{{"deleted": int64(len(targets))}}
}

func (d *data) closeChunk(s graph.CloseChunk) []graph.Record {
	root := d.find(s.Root)
	if root == nil {
		return []graph.Record{{"changed": int64(0)}}
	}
	changed := 0
	for _, r := range d.subtreeRels(root.id) {
		if s.Limit > 0 && changed >= s.Limit {
			break
		}
		if r.to == graph.EOT && r.from < s.Time {
			r.to = s.Time
			changed++
		}
	}
	return []graph.Record{{"changed": int64(changed)}}
}

func (d *data) acquireLock(s graph.AcquireLock) []graph.Record {
	n := d.find(s.Key)
	if n == nil {
		n = d.createNode(s.Key.Label, map[string]any{
			s.Key.Property: s.Key.Value,
			"holder":       s.Holder,
			"locked":       s.Now,
			"expires":      s.Expires,
		})
	} else if n.props["holder"] != s.Holder {
		expires := graph.ToInt64(n.props["expires"])
		if expires > 0 && expires <= s.Now {
			n.props["holder"] = s.Holder
			n.props["locked"] = s.Now
			n.props["expires"] = s.Expires
		}
	}
	return []graph.Record{{"acquired": n.props["holder"] == s.Holder}}
}

func (d *data) releaseLock(s graph.ReleaseLock) []graph.Record {
	n := d.find(s.Key)
	if n == nil || n.props["holder"] != s.Holder {
		return []graph.Record{{"released": int64(0)}}
	}
	d.detachDelete(n.id)
	return []graph.Record{{"released": int64(1)}}
}

func (d *data) mergeNode(s graph.MergeNode) []graph.Record {
	n := d.find(s.Key)
	created := false
	if n == nil {
		props := maps.Clone(s.Props)
		if props == nil {
			props = make(map[string]any)
		}
		props[s.Key.Property] = s.Key.Value
		n = d.createNode(s.Key.Label, props)
		created = true
	}
	return []graph.Record{{"n": maps.Clone(n.props), "created": created}}
}

func (d *data) advance(s graph.Advance) []graph.Record {
	n := d.find(s.Key)
	if n == nil {
		return nil
	}
	cur, ok := n.props[s.Property]
	if !ok || cur == nil || graph.ToInt64(cur) < s.Value {
		n.props[s.Property] = s.Value
	}
	return []graph.Record{{"value": n.props[s.Property]}}
}

func (d *data) openState(k graph.Key, stateLabel string) (*node, []*rel) {
	n := d.find(k)
	if n == nil {
		return nil, nil
	}
	var open []*rel
	for _, r := range d.outRels(n.id) {
		if r.typ == graph.StateRel && r.to == graph.EOT && d.nodes[r.end].label == stateLabel {
			open = append(open, r)
		}
	}
	return n, open
}

func (d *data) currentState(s graph.CurrentState) []graph.Record {
	_, open := d.openState(s.Key, s.StateLabel)
	out := make([]graph.Record, 0, len(open))
	for _, r := range open {
		out = append(out, graph.Record{"state": maps.Clone(d.nodes[r.end].props), "from": r.from})
	}
	return out
}

func (d *data) closeState(s graph.CloseState) []graph.Record {
	_, open := d.openState(s.Key, s.StateLabel)
	for _, r := range open {
		r.to = s.Time
	}
	return []graph.Record{{"changed": int64(len(open))}}
}

func (d *data) createState(s graph.CreateState) []graph.Record {
	n := d.find(s.Key)
	if n == nil {
		return []graph.Record{{"created": int64(0)}}
	}
	props := maps.Clone(s.Props)
	if props == nil {
		props = make(map[string]any)
	}
	st := d.createNode(s.StateLabel, props)
	d.createRel(graph.StateRel, n.id, st.id, s.Time)
	return []graph.Record{{"created": int64(1)}}
}

func (d *data) openChildRels(parent graph.Key, relType, childLabel string) []*rel {
	p := d.find(parent)
	if p == nil {
		return nil
	}
	var out []*rel
	for _, r := range d.outRels(p.id) {
		if r.typ == relType && r.to == graph.EOT && d.nodes[r.end].label == childLabel {
			out = append(out, r)
		}
	}
	return out
}

func (d *data) openChildren(s graph.OpenChildren) []graph.Record {
	var out []graph.Record
	for _, r := range d.openChildRels(s.Parent, s.Rel, s.ChildLabel) {
		out = append(out, graph.Record{"id": d.nodes[r.end].props[s.ChildProperty]})
	}
	return out
}

func (d *data) closeChildren(s graph.CloseChildren) []graph.Record {
	ids := make(map[string]bool, len(s.IDs))
	for _, id := range s.IDs {
		ids[id] = true
	}
	changed := 0
	for _, r := range d.openChildRels(s.Parent, s.Rel, s.ChildLabel) {
		if v, ok := d.nodes[r.end].props[s.ChildProperty].(string); ok && ids[v] {
			r.to = s.Time
			changed++
		}
	}
	return []graph.Record{{"changed": int64(changed)}}
}

func (d *data) openRels(s graph.OpenRels) []graph.Record {
	p := d.find(s.Parent)
	if p == nil {
		return []graph.Record{{"created": int64(0)}}
	}
	created := 0
	for _, id := range s.IDs {
		c := d.find(graph.Key{Label: s.ChildLabel, Property: s.ChildProperty, Value: id})
		if c == nil {
			continue
		}
		d.createRel(s.Rel, p.id, c.id, s.Time)
		created++
	}
	return []graph.Record{{"created": int64(created)}}
}

func (d *data) changeTimes(s graph.ChangeTimes) []graph.Record {
	n := d.find(s.Key)
	if n == nil {
		return nil
	}
	seen := make(map[int64]bool)
	var times []int64
	for _, r := range d.subtreeRels(n.id) {
		if !seen[r.from] {
			seen[r.from] = true
			times = append(times, r.from)
		}
	}
	sort.Slice(times, func(i, j int) bool { return times[i] > times[j] })
	out := make([]graph.Record, 0, len(times))
	for _, t := range times {
		out = append(out, graph.Record{"t": t})
	}
	return out
}
