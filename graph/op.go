package graph

import (
	"fmt"
	"strings"

	"github.com/sacharya/FleetDeploymentReporting/snitcherr"
)

// Op is a comparison operator in a filter predicate.
type Op int

const (
	// Eq represents equality comparison (=)
	Eq Op = iota
	// Neq represents inequality comparison (<>)
	Neq
	// Lt represents less than comparison (<)
	Lt
	// Lte represents less than or equal comparison (<=)
	Lte
	// Gt represents greater than comparison (>)
	Gt
	// Gte represents greater than or equal comparison (>=)
	Gte
	// Contains represents string containment check (CONTAINS)
	Contains
	// StartsWith represents string prefix check (STARTS WITH)
	StartsWith
	// EndsWith represents string suffix check (ENDS WITH)
	EndsWith
	// In represents membership check (IN)
	In
	// IsNull represents null check (IS NULL)
	IsNull
	// IsNotNull represents non-null check (IS NOT NULL)
	IsNotNull
)

var opText = map[Op]string{
	Eq:         "=",
	Neq:        "<>",
	Lt:         "<",
	Lte:        "<=",
	Gt:         ">",
	Gte:        ">=",
	Contains:   "CONTAINS",
	StartsWith: "STARTS WITH",
	EndsWith:   "ENDS WITH",
	In:         "IN",
	IsNull:     "IS NULL",
	IsNotNull:  "IS NOT NULL",
}

// String returns the Cypher spelling of the operator.
func (o Op) String() string {
	if s, ok := opText[o]; ok {
		return s
	}
	return fmt.Sprintf("Op(%d)", int(o))
}

// Unary reports whether the operator takes no operand.
func (o Op) Unary() bool {
	return o == IsNull || o == IsNotNull
}

// ParseOp parses an operator as written in Cypher. Matching is case
// insensitive and tolerates repeated whitespace; "!=" is accepted for "<>".
func ParseOp(s string) (Op, error) {
	norm := strings.ToUpper(strings.Join(strings.Fields(s), " "))
	if norm == "!=" || norm == "==" {
		norm = map[string]string{"!=": "<>", "==": "="}[norm]
	}
	for op, text := range opText {
		if text == norm {
			return op, nil
		}
	}
	return 0, snitcherr.InvalidOperator("graph.op", s)
}
