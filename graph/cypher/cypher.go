// Package cypher serializes graph statements to parameterized Cypher for
// Neo4j 5. Values always travel as parameters; only schema-validated labels,
// relationship types and property names are written into the query text, and
// those are backtick-quoted when they are not plain identifiers.
package cypher

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/sacharya/FleetDeploymentReporting/graph"
)

var plainIdent = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Ident quotes name for use as a label, relationship type, property or
// variable.
func Ident(name string) string {
	if plainIdent.MatchString(name) {
		return name
	}
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// Compile returns the query text and parameters for stmt.
func Compile(stmt graph.Statement) (string, map[string]any, error) {
	switch s := stmt.(type) {
	case graph.Traversal:
		return compileTraversal(s)
	case *graph.Traversal:
		return compileTraversal(*s)
	case graph.DeleteChunk:
		return compileDeleteChunk(s)
	case graph.CloseChunk:
		return compileCloseChunk(s)
	case graph.AcquireLock:
		return compileAcquireLock(s)
	case graph.ReleaseLock:
		return compileReleaseLock(s)
	case graph.FindNode:
		return fmt.Sprintf("MATCH (n%s)\nRETURN properties(n) AS n", keyPattern(s.Key)),
			map[string]any{"key": s.Key.Value}, nil
	case graph.MergeNode:
		return compileMergeNode(s)
	case graph.Advance:
		return compileAdvance(s)
	case graph.CurrentState:
		return compileCurrentState(s)
	case graph.CloseState:
		return compileCloseState(s)
	case graph.CreateState:
		return compileCreateState(s)
	case graph.OpenChildren:
		return compileOpenChildren(s)
	case graph.CloseChildren:
		return compileCloseChildren(s)
	case graph.OpenRels:
		return compileOpenRels(s)
	case graph.ChangeTimes:
		return compileChangeTimes(s)
	case graph.CreateConstraint:
		return fmt.Sprintf(
			"CREATE CONSTRAINT IF NOT EXISTS FOR (n:%s) REQUIRE n.%s IS UNIQUE",
			Ident(s.Label), Ident(s.Property),
		), map[string]any{}, nil
	default:
		return "", nil, fmt.Errorf("%w: %T", graph.ErrUnsupportedStatement, stmt)
	}
}

// keyPattern renders ":Label {prop: $key}".
func keyPattern(k graph.Key) string {
	return keyPatternParam(k, "key")
}

func keyPatternParam(k graph.Key, param string) string {
	return fmt.Sprintf(":%s {%s: $%s}", Ident(k.Label), Ident(k.Property), param)
}

func compileTraversal(t graph.Traversal) (string, map[string]any, error) {
	if len(t.Nodes) == 0 || len(t.Rels) != len(t.Nodes)-1 {
		return "", nil, fmt.Errorf("cypher: traversal needs n nodes and n-1 rels, got %d and %d", len(t.Nodes), len(t.Rels))
	}

	var b strings.Builder
	b.WriteString(matchClause(t))
	b.WriteString(whereClause(t))

	if t.Count {
		b.WriteString(" \nRETURN count(*) AS total")
		return b.String(), traversalParams(t), nil
	}

	b.WriteString(returnClause(t.Return))
	if len(t.Order) > 0 {
		parts := make([]string, 0, len(t.Order))
		for _, o := range t.Order {
			dir := "ASC"
			if o.Desc {
				dir = "DESC"
			}
			parts = append(parts, fmt.Sprintf("%s.%s %s", Ident(o.Var), Ident(o.Property), dir))
		}
		b.WriteString(" \nORDER BY ")
		b.WriteString(strings.Join(parts, ", "))
	}
	if t.Skip != nil {
		fmt.Fprintf(&b, " \nSKIP %d", *t.Skip)
	}
	if t.Limit != nil {
		fmt.Fprintf(&b, " \nLIMIT %d", *t.Limit)
	}
	return b.String(), traversalParams(t), nil
}

func traversalParams(t graph.Traversal) map[string]any {
	params := make(map[string]any, len(t.Params)+1)
	for k, v := range t.Params {
		params[k] = v
	}
	params[graph.TimeParam] = t.Time
	return params
}

func nodePattern(n graph.Node) string {
	return fmt.Sprintf("(%s:%s)", Ident(n.Var), Ident(n.Label))
}

func matchClause(t graph.Traversal) string {
	var b strings.Builder
	b.WriteString("MATCH ")
	for i, r := range t.Rels {
		b.WriteString(nodePattern(t.Nodes[i]))
		fmt.Fprintf(&b, "-[%s:%s]->", Ident(r.Var), Ident(r.Type))
	}
	b.WriteString(nodePattern(t.Nodes[len(t.Nodes)-1]))

	for _, s := range t.States {
		fmt.Fprintf(&b, " \nMATCH (%s)-[%s:%s]->(%s:%s)",
			Ident(s.Owner), Ident(s.RelVar), graph.StateRel, Ident(s.Var), Ident(s.Label))
	}
	return b.String()
}

func whereClause(t graph.Traversal) string {
	var conds []string
	for _, p := range t.Where {
		ref := fmt.Sprintf("%s.%s", Ident(p.Var), Ident(p.Property))
		if p.Op.Unary() {
			conds = append(conds, fmt.Sprintf("%s %s", ref, p.Op))
			continue
		}
		conds = append(conds, fmt.Sprintf("%s %s $%s", ref, p.Op, p.Param))
	}
	for _, r := range t.Rels {
		conds = append(conds, interval(r.Var))
	}
	for _, s := range t.States {
		conds = append(conds, interval(s.RelVar))
	}
	if len(conds) == 0 {
		return ""
	}
	return " \nWHERE " + strings.Join(conds, " AND ")
}

func interval(relVar string) string {
	v := Ident(relVar)
	return fmt.Sprintf("%s.from <= $%s < %s.to", v, graph.TimeParam, v)
}

func returnClause(ps []graph.Projection) string {
	parts := make([]string, 0, len(ps))
	for _, p := range ps {
		if p.Property == "" {
			if p.Alias == "" || p.Alias == p.Var {
				parts = append(parts, Ident(p.Var))
			} else {
				parts = append(parts, fmt.Sprintf("%s AS %s", Ident(p.Var), quoteAlias(p.Alias)))
			}
			continue
		}
		parts = append(parts, fmt.Sprintf("%s.%s AS %s", Ident(p.Var), Ident(p.Property), quoteAlias(p.Column())))
	}
	return " \nRETURN " + strings.Join(parts, ", ")
}

func quoteAlias(a string) string {
	return "`" + strings.ReplaceAll(a, "`", "``") + "`"
}

func compileDeleteChunk(s graph.DeleteChunk) (string, map[string]any, error) {
	root := keyPatternParam(s.Root, "root")
	var match string
	switch {
	case s.Label == s.Root.Label && s.State:
		match = fmt.Sprintf("MATCH (%s)-[:%s]->(n:%s)", root, graph.StateRel, Ident(s.Label+graph.StateSuffix))
	case s.Label == s.Root.Label:
		match = fmt.Sprintf("MATCH (n%s)", root)
	case s.State:
		match = fmt.Sprintf("MATCH (root%s)-[*]->(:%s)-[:%s]->(n:%s)",
			root, Ident(s.Label), graph.StateRel, Ident(s.Label+graph.StateSuffix))
	default:
		match = fmt.Sprintf("MATCH (root%s)-[*]->(n:%s)", root, Ident(s.Label))
	}

	q := strings.Join([]string{
		match,
		"WITH DISTINCT n LIMIT $limit",
		"DETACH DELETE n",
		"RETURN count(*) AS deleted",
	}, "\n")
	return q, map[string]any{"root": s.Root.Value, "limit": int64(s.Limit)}, nil
}

func compileCloseChunk(s graph.CloseChunk) (string, map[string]any, error) {
	q := strings.Join([]string{
		fmt.Sprintf("MATCH (root%s)-[*0..]->()-[r]->()", keyPatternParam(s.Root, "root")),
		"WHERE r.to = $EOT AND r.from < $time",
		"WITH DISTINCT r LIMIT $limit",
		"SET r.to = $time",
		"RETURN count(*) AS changed",
	}, "\n")
	return q, map[string]any{
		"root":  s.Root.Value,
		"time":  s.Time,
		"limit": int64(s.Limit),
		"EOT":   graph.EOT,
	}, nil
}

func compileAcquireLock(s graph.AcquireLock) (string, map[string]any, error) {
	q := strings.Join([]string{
		fmt.Sprintf("MERGE (l%s)", keyPattern(s.Key)),
		"ON CREATE SET l.holder = $holder, l.locked = $now, l.expires = $expires",
		"WITH l",
		"FOREACH (_ IN CASE WHEN l.holder <> $holder AND l.expires > 0 AND l.expires <= $now THEN [1] ELSE [] END |",
		"  SET l.holder = $holder, l.locked = $now, l.expires = $expires)",
		"RETURN l.holder = $holder AS acquired",
	}, "\n")
	return q, map[string]any{
		"key":     s.Key.Value,
		"holder":  s.Holder,
		"now":     s.Now,
		"expires": s.Expires,
	}, nil
}

func compileReleaseLock(s graph.ReleaseLock) (string, map[string]any, error) {
	q := strings.Join([]string{
		fmt.Sprintf("MATCH (l%s)", keyPattern(s.Key)),
		"WHERE l.holder = $holder",
		"DELETE l",
		"RETURN count(*) AS released",
	}, "\n")
	return q, map[string]any{"key": s.Key.Value, "holder": s.Holder}, nil
}

func compileMergeNode(s graph.MergeNode) (string, map[string]any, error) {
	pattern := keyPattern(s.Key)
	q := strings.Join([]string{
		fmt.Sprintf("OPTIONAL MATCH (existing%s)", pattern),
		"WITH existing IS NULL AS created",
		fmt.Sprintf("MERGE (n%s)", pattern),
		"ON CREATE SET n += $props",
		"RETURN properties(n) AS n, created",
	}, "\n")
	props := s.Props
	if props == nil {
		props = map[string]any{}
	}
	return q, map[string]any{"key": s.Key.Value, "props": props}, nil
}

func compileAdvance(s graph.Advance) (string, map[string]any, error) {
	p := "n." + Ident(s.Property)
	q := strings.Join([]string{
		fmt.Sprintf("MATCH (n%s)", keyPattern(s.Key)),
		fmt.Sprintf("SET %s = CASE WHEN %s IS NULL OR %s < $value THEN $value ELSE %s END", p, p, p, p),
		fmt.Sprintf("RETURN %s AS value", p),
	}, "\n")
	return q, map[string]any{"key": s.Key.Value, "value": s.Value}, nil
}

func compileCurrentState(s graph.CurrentState) (string, map[string]any, error) {
	q := strings.Join([]string{
		fmt.Sprintf("MATCH (n%s)-[r:%s]->(s:%s)", keyPattern(s.Key), graph.StateRel, Ident(s.StateLabel)),
		"WHERE r.to = $EOT",
		"RETURN properties(s) AS state, r.from AS from",
	}, "\n")
	return q, map[string]any{"key": s.Key.Value, "EOT": graph.EOT}, nil
}

func compileCloseState(s graph.CloseState) (string, map[string]any, error) {
	q := strings.Join([]string{
		fmt.Sprintf("MATCH (n%s)-[r:%s]->(:%s)", keyPattern(s.Key), graph.StateRel, Ident(s.StateLabel)),
		"WHERE r.to = $EOT",
		"SET r.to = $time",
		"RETURN count(*) AS changed",
	}, "\n")
	return q, map[string]any{"key": s.Key.Value, "time": s.Time, "EOT": graph.EOT}, nil
}

func compileCreateState(s graph.CreateState) (string, map[string]any, error) {
	q := strings.Join([]string{
		fmt.Sprintf("MATCH (n%s)", keyPattern(s.Key)),
		fmt.Sprintf("CREATE (n)-[:%s {from: $time, to: $EOT}]->(s:%s)", graph.StateRel, Ident(s.StateLabel)),
		"SET s = $props",
		"RETURN count(*) AS created",
	}, "\n")
	props := s.Props
	if props == nil {
		props = map[string]any{}
	}
	return q, map[string]any{"key": s.Key.Value, "time": s.Time, "EOT": graph.EOT, "props": props}, nil
}

func childPattern(parent graph.Key, rel, childLabel string) string {
	return fmt.Sprintf("MATCH (p%s)-[r:%s]->(c:%s)", keyPattern(parent), Ident(rel), Ident(childLabel))
}

func compileOpenChildren(s graph.OpenChildren) (string, map[string]any, error) {
	q := strings.Join([]string{
		childPattern(s.Parent, s.Rel, s.ChildLabel),
		"WHERE r.to = $EOT",
		fmt.Sprintf("RETURN c.%s AS id", Ident(s.ChildProperty)),
	}, "\n")
	return q, map[string]any{"key": s.Parent.Value, "EOT": graph.EOT}, nil
}

func compileCloseChildren(s graph.CloseChildren) (string, map[string]any, error) {
	q := strings.Join([]string{
		childPattern(s.Parent, s.Rel, s.ChildLabel),
		fmt.Sprintf("WHERE r.to = $EOT AND c.%s IN $ids", Ident(s.ChildProperty)),
		"SET r.to = $time",
		"RETURN count(*) AS changed",
	}, "\n")
	return q, map[string]any{"key": s.Parent.Value, "ids": s.IDs, "time": s.Time, "EOT": graph.EOT}, nil
}

func compileOpenRels(s graph.OpenRels) (string, map[string]any, error) {
	q := strings.Join([]string{
		fmt.Sprintf("MATCH (p%s)", keyPattern(s.Parent)),
		"UNWIND $ids AS id",
		fmt.Sprintf("MATCH (c:%s {%s: id})", Ident(s.ChildLabel), Ident(s.ChildProperty)),
		fmt.Sprintf("CREATE (p)-[:%s {from: $time, to: $EOT}]->(c)", Ident(s.Rel)),
		"RETURN count(*) AS created",
	}, "\n")
	return q, map[string]any{"key": s.Parent.Value, "ids": s.IDs, "time": s.Time, "EOT": graph.EOT}, nil
}

func compileChangeTimes(s graph.ChangeTimes) (string, map[string]any, error) {
	q := strings.Join([]string{
		fmt.Sprintf("MATCH p = (n%s)-[*]->()", keyPattern(s.Key)),
		"UNWIND relationships(p) AS r",
		"RETURN DISTINCT r.from AS t",
		"ORDER BY t DESC",
	}, "\n")
	return q, map[string]any{"key": s.Key.Value}, nil
}
