// Package neo4jgraph implements graph.Store on top of the Neo4j Go driver.
// Statements are serialized with package cypher and run inside managed
// transactions, so the driver retries transient failures.
package neo4jgraph

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/sacharya/FleetDeploymentReporting/graph"
	"github.com/sacharya/FleetDeploymentReporting/graph/cypher"
)

// Config holds connection settings.
type Config struct {
	URI      string
	Username string
	Password string
	Database string
	Logger   *slog.Logger
}

// Store is a Neo4j-backed graph.Store.
type Store struct {
	driver   neo4j.DriverWithContext
	database string
	logger   *slog.Logger
}

// Open creates a driver and verifies the server is reachable.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("failed to connect to neo4j at %s: %w", cfg.URI, err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		driver:   driver,
		database: cfg.Database,
		logger:   logger.With("component", "neo4j"),
	}, nil
}

func (s *Store) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: mode, DatabaseName: s.database})
}

// ExecuteRead runs fn in a managed read transaction.
func (s *Store) ExecuteRead(ctx context.Context, fn func(graph.Tx) error) error {
	session := s.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	_, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, fn(&txn{tx: tx, logger: s.logger, write: false})
	})
	return err
}

// ExecuteWrite runs fn in a managed write transaction.
func (s *Store) ExecuteWrite(ctx context.Context, fn func(graph.Tx) error) error {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, fn(&txn{tx: tx, logger: s.logger, write: true})
	})
	return err
}

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.driver.VerifyConnectivity(ctx)
}

// Close closes the driver.
func (s *Store) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

type txn struct {
	tx     neo4j.ManagedTransaction
	logger *slog.Logger
	write  bool
}

func (t *txn) Run(ctx context.Context, stmt graph.Statement) ([]graph.Record, error) {
	if stmt.Write() && !t.write {
		return nil, graph.ErrReadOnly
	}
	query, params, err := cypher.Compile(stmt)
	if err != nil {
		return nil, err
	}
	t.logger.Debug("running query", "statement", fmt.Sprintf("%T", stmt), "cypher", query)

	result, err := t.tx.Run(ctx, query, params)
	if err != nil {
		return nil, fmt.Errorf("failed to run %T: %w", stmt, err)
	}
	records, err := result.Collect(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to collect %T results: %w", stmt, err)
	}

	out := make([]graph.Record, 0, len(records))
	for _, rec := range records {
		row := make(graph.Record, len(rec.Keys))
		for i, key := range rec.Keys {
			row[key] = convert(rec.Values[i])
		}
		out = append(out, row)
	}
	return out, nil
}

// convert turns driver graph types into plain property maps.
func convert(v any) any {
	switch x := v.(type) {
	case neo4j.Node:
		return x.Props
	case neo4j.Relationship:
		return x.Props
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = convert(e)
		}
		return out
	default:
		return v
	}
}
