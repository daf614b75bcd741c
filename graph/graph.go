// Package graph defines the unit-of-work abstraction over the bitemporal
// graph store and the statements that can be run through it.
//
// Statements are plain values. A backend either serializes them to Cypher
// (see package graph/cypher and graph/neo4j) or evaluates them directly
// (see package graph/memory). Callers never build query text by hand.
package graph

import (
	"context"
	"errors"
	"math"
	"time"
)

// EOT is the open-ended interval sentinel. An edge whose "to" equals EOT is
// still valid.
const EOT int64 = math.MaxInt64

// Interval property names carried by every relationship.
const (
	FromProperty = "from"
	ToProperty   = "to"
)

// StateRel is the relationship type from an identity node to its state
// nodes. State node labels are the owner's label plus StateSuffix.
const (
	StateRel    = "HAS_STATE"
	StateSuffix = "State"
)

// ErrReadOnly is returned when a write statement is run inside a read
// transaction.
var ErrReadOnly = errors.New("write statement in read transaction")

// ErrUnsupportedStatement is returned by a backend that cannot run a
// statement type.
var ErrUnsupportedStatement = errors.New("unsupported statement")

// Record is one result row keyed by column name. Whole nodes are returned as
// map[string]any of their properties.
type Record map[string]any

// Int64 returns the integer column key, or 0 when absent.
func (r Record) Int64(key string) int64 {
	return ToInt64(r[key])
}

// Props returns the node column key, or nil when absent.
func (r Record) Props(key string) map[string]any {
	p, _ := r[key].(map[string]any)
	return p
}

// Tx runs statements inside a single transaction.
type Tx interface {
	Run(ctx context.Context, stmt Statement) ([]Record, error)
}

// Store is a transactional graph session factory.
//
// ExecuteWrite commits when fn returns nil and rolls back otherwise.
// Each call is an independent transaction; a Store is safe for concurrent
// use by multiple goroutines.
type Store interface {
	ExecuteRead(ctx context.Context, fn func(Tx) error) error
	ExecuteWrite(ctx context.Context, fn func(Tx) error) error
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// RunWrite runs a single statement in its own write transaction.
func RunWrite(ctx context.Context, store Store, stmt Statement) ([]Record, error) {
	var out []Record
	err := store.ExecuteWrite(ctx, func(tx Tx) error {
		var err error
		out, err = tx.Run(ctx, stmt)
		return err
	})
	return out, err
}

// RunRead runs a single statement in its own read transaction.
func RunRead(ctx context.Context, store Store, stmt Statement) ([]Record, error) {
	var out []Record
	err := store.ExecuteRead(ctx, func(tx Tx) error {
		var err error
		out, err = tx.Run(ctx, stmt)
		return err
	})
	return out, err
}

// Millis converts t to epoch milliseconds.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

// FromMillis converts epoch milliseconds to a UTC time.
func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// NowMillis returns the current time in epoch milliseconds.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// ToInt64 converts the numeric types drivers return to int64.
func ToInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}
