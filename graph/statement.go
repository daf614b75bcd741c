package graph

// Statement is a unit of work understood by every Store backend.
type Statement interface {
	// Write reports whether the statement mutates the graph.
	Write() bool
}

// Key addresses a single node by label and identity property.
type Key struct {
	Label    string
	Property string
	Value    any
}

// Node is a labelled variable in a traversal pattern.
type Node struct {
	Var   string
	Label string
}

// Rel is a typed relationship variable between two consecutive nodes of a
// traversal pattern.
type Rel struct {
	Var  string
	Type string
}

// StateMatch binds the state node of Owner that is valid at the traversal
// time.
type StateMatch struct {
	Owner  string
	RelVar string
	Var    string
	Label  string
}

// Predicate compares Var.Property against the parameter Param. Unary
// operators ignore Param.
type Predicate struct {
	Var      string
	Property string
	Op       Op
	Param    string
}

// Projection selects a whole node (Property empty) or a single property.
// Alias names the result column; when empty the variable name is used for
// whole nodes.
type Projection struct {
	Var      string
	Property string
	Alias    string
}

// Column returns the result column name of p.
func (p Projection) Column() string {
	if p.Alias != "" {
		return p.Alias
	}
	if p.Property == "" {
		return p.Var
	}
	return p.Var + "." + p.Property
}

// Order sorts by Var.Property.
type Order struct {
	Var      string
	Property string
	Desc     bool
}

// TimeParam is the parameter name carrying the traversal instant.
const TimeParam = "time"

// Traversal is a time-sliced read along a schema path:
//
//	Nodes[0] -Rels[0]-> Nodes[1] -Rels[1]-> ... Nodes[n]
//
// Every relationship in Rels and every state relationship in States must be
// valid at Time. Rows are filtered by Where, projected by Return, sorted by
// Order and windowed by Skip and Limit. When Count is set the statement
// returns a single record {"total": n} and ignores projection and windowing.
type Traversal struct {
	Nodes  []Node
	Rels   []Rel
	States []StateMatch
	Where  []Predicate
	Params map[string]any
	Time   int64
	Return []Projection
	Order  []Order
	Skip   *int
	Limit  *int
	Count  bool
}

// Write implements Statement.
func (Traversal) Write() bool { return false }

// DeleteChunk detaches and deletes up to Limit distinct nodes of Label
// reachable below Root, or of Label's state when State is set. When Label is
// Root's own label the root node itself is matched. Returns {"deleted": n}.
type DeleteChunk struct {
	Root  Key
	Label string
	State bool
	Limit int
}

// Write implements Statement.
func (DeleteChunk) Write() bool { return true }

// CloseChunk sets to = Time on up to Limit distinct open relationships
// reachable below Root whose from < Time. Relationships opened at or after
// Time stay open, so every closed interval is non-empty.
// Returns {"changed": n}.
type CloseChunk struct {
	Root  Key
	Time  int64
	Limit int
}

// Write implements Statement.
func (CloseChunk) Write() bool { return true }

// AcquireLock claims the lock node for Key on behalf of Holder. An existing
// claim by another holder is only taken over when it carries a non-zero
// expiry at or before Now. Returns {"acquired": bool}.
type AcquireLock struct {
	Key     Key
	Holder  string
	Now     int64
	Expires int64
}

// Write implements Statement.
func (AcquireLock) Write() bool { return true }

// ReleaseLock removes the lock node for Key if Holder owns it.
// Returns {"released": n}.
type ReleaseLock struct {
	Key    Key
	Holder string
}

// Write implements Statement.
func (ReleaseLock) Write() bool { return true }

// FindNode returns {"n": props} for the node at Key, or no records.
type FindNode struct {
	Key Key
}

// Write implements Statement.
func (FindNode) Write() bool { return false }

// MergeNode creates the node at Key with Props unless it exists. Properties
// of an existing node are left untouched. Returns {"n": props, "created": bool}.
type MergeNode struct {
	Key   Key
	Props map[string]any
}

// Write implements Statement.
func (MergeNode) Write() bool { return true }

// Advance raises Property on the node at Key to Value when the current value
// is absent or lower. Returns {"value": current} or no records when the node
// does not exist.
type Advance struct {
	Key      Key
	Property string
	Value    int64
}

// Write implements Statement.
func (Advance) Write() bool { return true }

// CurrentState returns {"state": props, "from": ms} for the open state of the
// node at Key, or no records.
type CurrentState struct {
	Key        Key
	StateLabel string
}

// Write implements Statement.
func (CurrentState) Write() bool { return false }

// CloseState closes the open state relationship of the node at Key at Time.
// Returns {"changed": n}.
type CloseState struct {
	Key        Key
	StateLabel string
	Time       int64
}

// Write implements Statement.
func (CloseState) Write() bool { return true }

// CreateState attaches a new state node with Props to the node at Key, valid
// from Time to EOT. Returns {"created": n}.
type CreateState struct {
	Key        Key
	StateLabel string
	Props      map[string]any
	Time       int64
}

// Write implements Statement.
func (CreateState) Write() bool { return true }

// OpenChildren returns {"id": identity} for each child of Parent linked by an
// open Rel relationship to a node of ChildLabel.
type OpenChildren struct {
	Parent        Key
	Rel           string
	ChildLabel    string
	ChildProperty string
}

// Write implements Statement.
func (OpenChildren) Write() bool { return false }

// CloseChildren closes, at Time, the open Rel relationships from Parent to
// the ChildLabel nodes whose identity is in IDs. Returns {"changed": n}.
type CloseChildren struct {
	Parent        Key
	Rel           string
	ChildLabel    string
	ChildProperty string
	IDs           []string
	Time          int64
}

// Write implements Statement.
func (CloseChildren) Write() bool { return true }

// OpenRels creates Rel relationships from Parent to each existing ChildLabel
// node whose identity is in IDs, valid from Time to EOT.
// Returns {"created": n}.
type OpenRels struct {
	Parent        Key
	Rel           string
	ChildLabel    string
	ChildProperty string
	IDs           []string
	Time          int64
}

// Write implements Statement.
func (OpenRels) Write() bool { return true }

// ChangeTimes returns {"t": ms} for every distinct "from" instant of the
// relationships in the subtree below the node at Key, newest first.
type ChangeTimes struct {
	Key Key
}

// Write implements Statement.
func (ChangeTimes) Write() bool { return false }

// CreateConstraint declares Property unique across nodes of Label.
type CreateConstraint struct {
	Label    string
	Property string
}

// Write implements Statement.
func (CreateConstraint) Write() bool { return true }
