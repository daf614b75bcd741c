// Package schema describes the entity types of the snitch graph: their
// identity, their versioned state properties and the path that connects
// each type to the root Environment.
//
// A Registry is built once and shared read-only. It is safe for concurrent
// use because nothing in it changes after construction.
package schema

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/sacharya/FleetDeploymentReporting/snitcherr"
)

// ErrInvalidSchema is returned when a set of type declarations cannot form a
// registry.
var ErrInvalidSchema = errors.New("invalid schema")

// StateRelationship connects an identity node to its state nodes.
const StateRelationship = "HAS_STATE"

// LockLabel is the label of environment lock nodes. It is not part of the
// entity tree but shares the root's identity property.
const LockLabel = "EnvironmentLock"

var relationshipPattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)

// EntityType declares one kind of node in the graph.
type EntityType struct {
	// Label is the node label, e.g. "Host".
	Label string `yaml:"label"`

	// Identity lists the component properties whose values, joined by "-",
	// form the identity value. The identity property name is the components
	// joined by "_".
	Identity []string `yaml:"identity"`

	// Properties are additional immutable properties stored on the
	// identity node.
	Properties []string `yaml:"properties,omitempty"`

	// State are versioned properties stored on state nodes.
	State []string `yaml:"state,omitempty"`

	// Parent is the label of the owning type. Empty for the root.
	Parent string `yaml:"parent,omitempty"`

	// Relationship is the relationship type from Parent to this type.
	Relationship string `yaml:"relationship,omitempty"`

	// Shared types may be reached from several roots and are never deleted
	// when a single root is pruned.
	Shared bool `yaml:"shared,omitempty"`
}

// Hop is one step along a type's path from the root.
type Hop struct {
	// Label is the type at the start of the hop.
	Label string

	// Relationship is the relationship type leaving Label.
	Relationship string
}

type entry struct {
	EntityType
	identityProperty string
	props            map[string]bool
	state            map[string]bool
	all              []string
	path             []Hop
	children         []string
}

// Registry is an immutable set of entity types rooted at a single type.
type Registry struct {
	root  string
	types map[string]*entry
	order []string
}

// New validates the declarations and builds a registry.
//
// Exactly one type must have no parent. Every parent must be declared, the
// parent graph must be a tree, identity components must be non-state
// properties, and shared types may not declare state.
func New(types ...EntityType) (*Registry, error) {
	r := &Registry{types: make(map[string]*entry, len(types))}

	for _, t := range types {
		if t.Label == "" {
			return nil, fmt.Errorf("%w: type with empty label", ErrInvalidSchema)
		}
		if _, dup := r.types[t.Label]; dup {
			return nil, fmt.Errorf("%w: duplicate type %s", ErrInvalidSchema, t.Label)
		}
		if t.Label == LockLabel {
			return nil, fmt.Errorf("%w: %s is reserved", ErrInvalidSchema, LockLabel)
		}
		e, err := newEntry(t)
		if err != nil {
			return nil, err
		}
		r.types[t.Label] = e
		r.order = append(r.order, t.Label)
		if t.Parent == "" {
			if r.root != "" {
				return nil, fmt.Errorf("%w: multiple roots %s and %s", ErrInvalidSchema, r.root, t.Label)
			}
			r.root = t.Label
		}
	}
	if r.root == "" {
		return nil, fmt.Errorf("%w: no root type", ErrInvalidSchema)
	}

	for _, label := range r.order {
		e := r.types[label]
		if e.Parent == "" {
			continue
		}
		parent, ok := r.types[e.Parent]
		if !ok {
			return nil, fmt.Errorf("%w: %s has unknown parent %s", ErrInvalidSchema, label, e.Parent)
		}
		parent.children = append(parent.children, label)
	}

	for _, label := range r.order {
		path, err := r.resolvePath(label)
		if err != nil {
			return nil, err
		}
		r.types[label].path = path
	}
	for _, e := range r.types {
		sort.Strings(e.children)
	}
	sort.Strings(r.order)

	return r, nil
}

func newEntry(t EntityType) (*entry, error) {
	if len(t.Identity) == 0 {
		return nil, fmt.Errorf("%w: %s has no identity", ErrInvalidSchema, t.Label)
	}
	if t.Parent != "" && !relationshipPattern.MatchString(t.Relationship) {
		return nil, fmt.Errorf("%w: %s has invalid relationship %q", ErrInvalidSchema, t.Label, t.Relationship)
	}
	if t.Shared && len(t.State) > 0 {
		return nil, fmt.Errorf("%w: shared type %s cannot declare state", ErrInvalidSchema, t.Label)
	}

	e := &entry{
		EntityType:       t,
		identityProperty: strings.Join(t.Identity, "_"),
		props:            make(map[string]bool),
		state:            make(map[string]bool),
	}

	add := func(p string) {
		if !e.props[p] {
			e.props[p] = true
			e.all = append(e.all, p)
		}
	}
	add(e.identityProperty)
	for _, p := range t.Identity {
		add(p)
	}
	for _, p := range t.Properties {
		add(p)
	}
	for _, p := range t.State {
		if e.props[p] {
			return nil, fmt.Errorf("%w: %s state property %s is also an identity property", ErrInvalidSchema, t.Label, p)
		}
		add(p)
		e.state[p] = true
	}
	return e, nil
}

func (r *Registry) resolvePath(label string) ([]Hop, error) {
	var rev []Hop
	seen := map[string]bool{label: true}

	cur := r.types[label]
	for cur.Parent != "" {
		if seen[cur.Parent] {
			return nil, fmt.Errorf("%w: cycle through %s", ErrInvalidSchema, cur.Parent)
		}
		seen[cur.Parent] = true
		rev = append(rev, Hop{Label: cur.Parent, Relationship: cur.Relationship})
		cur = r.types[cur.Parent]
	}

	path := make([]Hop, len(rev))
	for i := range rev {
		path[i] = rev[len(rev)-1-i]
	}
	return path, nil
}

func (r *Registry) lookup(label string) (*entry, error) {
	e, ok := r.types[label]
	if !ok {
		return nil, snitcherr.InvalidLabel("schema", label)
	}
	return e, nil
}

// Root returns the label of the root type.
func (r *Registry) Root() string {
	return r.root
}

// Types returns all labels in sorted order.
func (r *Registry) Types() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Type returns the declaration for label.
func (r *Registry) Type(label string) (EntityType, error) {
	e, err := r.lookup(label)
	if err != nil {
		return EntityType{}, err
	}
	return e.EntityType, nil
}

// Has reports whether label is declared.
func (r *Registry) Has(label string) bool {
	_, ok := r.types[label]
	return ok
}

// Path returns the hops from the root to label. The root's path is empty.
func (r *Registry) Path(label string) ([]Hop, error) {
	e, err := r.lookup(label)
	if err != nil {
		return nil, err
	}
	out := make([]Hop, len(e.path))
	copy(out, e.path)
	return out, nil
}

// Depth returns the number of hops between the root and label.
func (r *Registry) Depth(label string) (int, error) {
	e, err := r.lookup(label)
	if err != nil {
		return 0, err
	}
	return len(e.path), nil
}

// OnPath reports whether label is target itself or one of its ancestors.
func (r *Registry) OnPath(target, label string) bool {
	e, ok := r.types[target]
	if !ok {
		return false
	}
	if label == target {
		return true
	}
	for _, h := range e.path {
		if h.Label == label {
			return true
		}
	}
	return false
}

// IsShared reports whether label is a shared type.
func (r *Registry) IsShared(label string) (bool, error) {
	e, err := r.lookup(label)
	if err != nil {
		return false, err
	}
	return e.Shared, nil
}

// IdentityProperty returns the name of label's identity property.
func (r *Registry) IdentityProperty(label string) (string, error) {
	e, err := r.lookup(label)
	if err != nil {
		return "", err
	}
	return e.identityProperty, nil
}

// IdentityComponents returns the properties composing label's identity.
func (r *Registry) IdentityComponents(label string) ([]string, error) {
	e, err := r.lookup(label)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(e.Identity))
	copy(out, e.Identity)
	return out, nil
}

// Properties returns every property of label, state properties included,
// in declaration order with the identity property first.
func (r *Registry) Properties(label string) ([]string, error) {
	e, err := r.lookup(label)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(e.all))
	copy(out, e.all)
	return out, nil
}

// StateProperties returns the versioned properties of label.
func (r *Registry) StateProperties(label string) ([]string, error) {
	e, err := r.lookup(label)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(e.State))
	copy(out, e.State)
	return out, nil
}

// HasState reports whether label declares any state properties.
func (r *Registry) HasState(label string) bool {
	e, ok := r.types[label]
	return ok && len(e.State) > 0
}

// StateLabel returns the label of label's state nodes.
func StateLabel(label string) string {
	return label + "State"
}

// ValidateProperty returns InvalidLabel or InvalidProperty when prop is not a
// property of label, and reports whether it is a state property.
func (r *Registry) ValidateProperty(label, prop string) (state bool, err error) {
	e, err := r.lookup(label)
	if err != nil {
		return false, err
	}
	if !e.props[prop] {
		return false, snitcherr.InvalidProperty("schema", label, prop)
	}
	return e.state[prop], nil
}

// Children returns the labels whose parent is label, sorted.
func (r *Registry) Children(label string) []string {
	e, ok := r.types[label]
	if !ok {
		return nil
	}
	out := make([]string, len(e.children))
	copy(out, e.children)
	return out
}

// Descendants returns every type below the root, deepest first. Types at the
// same depth are ordered by label. This is the order in which a root's
// subtree can be deleted without orphaning anything.
func (r *Registry) Descendants() []string {
	var out []string
	for _, label := range r.order {
		if label != r.root {
			out = append(out, label)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		di, dj := len(r.types[out[i]].path), len(r.types[out[j]].path)
		if di != dj {
			return di > dj
		}
		return out[i] < out[j]
	})
	return out
}
