// Package temporal retires or removes an environment's data.
//
// Prune hard-deletes everything an environment exclusively owns. Terminate
// closes every open interval below it at a chosen instant and deletes
// nothing. Both work in bounded chunks, each committed in its own
// transaction, so an interrupted call can simply be run again.
package temporal

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/sacharya/FleetDeploymentReporting/graph"
	"github.com/sacharya/FleetDeploymentReporting/lock"
	"github.com/sacharya/FleetDeploymentReporting/schema"
	"github.com/sacharya/FleetDeploymentReporting/snitcherr"
	"github.com/sacharya/FleetDeploymentReporting/telemetry"
)

// Default chunk sizes.
const (
	DefaultDeleteLimit = 5000
	DefaultCloseLimit  = 2000
)

// Stats maps each type label, or "<Label>State" for state nodes, to the
// number of nodes deleted. Shared types map to nil: they are never touched.
type Stats map[string]*int64

// Total returns the number of nodes deleted.
func (s Stats) Total() int64 {
	var n int64
	for _, v := range s {
		if v != nil {
			n += *v
		}
	}
	return n
}

// Mutator runs Prune and Terminate.
type Mutator struct {
	store       graph.Store
	reg         *schema.Registry
	locker      *lock.Locker
	logger      *slog.Logger
	tel         *telemetry.Telemetry
	deleteLimit int
}

// Option configures a Mutator.
type Option func(*Mutator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Mutator) {
		m.logger = logger
	}
}

// WithTelemetry records spans and counters on t.
func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(m *Mutator) {
		m.tel = t
	}
}

// WithDeleteLimit sets the number of nodes deleted per prune transaction.
func WithDeleteLimit(n int) Option {
	return func(m *Mutator) {
		if n > 0 {
			m.deleteLimit = n
		}
	}
}

// New returns a Mutator. Every mutation holds the environment lock taken
// from locker.
func New(store graph.Store, reg *schema.Registry, locker *lock.Locker, opts ...Option) *Mutator {
	m := &Mutator{
		store:       store,
		reg:         reg,
		locker:      locker,
		logger:      slog.Default(),
		deleteLimit: DefaultDeleteLimit,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Mutator) rootKey(account, name string) graph.Key {
	return graph.Key{
		Label:    m.reg.Root(),
		Property: schema.EnvironmentKey,
		Value:    schema.EnvironmentIdentity(account, name),
	}
}

// Environment returns the properties of the environment, or an
// EnvironmentNotFound error.
func (m *Mutator) Environment(ctx context.Context, account, name string) (map[string]any, error) {
	recs, err := graph.RunRead(ctx, m.store, graph.FindNode{Key: m.rootKey(account, name)})
	if err != nil {
		return nil, fmt.Errorf("failed to find environment %s-%s: %w", account, name, err)
	}
	if len(recs) == 0 {
		return nil, snitcherr.EnvironmentNotFound("temporal.environment", account, name)
	}
	return recs[0].Props("n"), nil
}

// Prune deletes every node the environment exclusively owns, including the
// environment itself, leaves first. State nodes of a type go before the
// type's identity nodes.
func (m *Mutator) Prune(ctx context.Context, account, name string) (stats Stats, err error) {
	env := schema.EnvironmentIdentity(account, name)
	ctx, span := m.tel.Start(ctx, "snitch.prune", attribute.String("environment", env))
	defer func() { telemetry.End(span, err) }()

	if _, err := m.Environment(ctx, account, name); err != nil {
		return nil, err
	}

	root := m.rootKey(account, name)
	labels := append(m.reg.Descendants(), m.reg.Root())
	stats = make(Stats, len(labels))

	err = m.locker.With(ctx, account, name, func(ctx context.Context) error {
		for _, label := range labels {
			shared, err := m.reg.IsShared(label)
			if err != nil {
				return err
			}
			if shared {
				stats[label] = nil
				continue
			}
			if m.reg.HasState(label) {
				n, err := m.prune(ctx, root, label, true)
				if err != nil {
					return err
				}
				stats[schema.StateLabel(label)] = &n
			}
			n, err := m.prune(ctx, root, label, false)
			if err != nil {
				return err
			}
			stats[label] = &n
		}
		return nil
	})
	if err != nil {
		return stats, err
	}

	m.logger.Info("pruned environment", "environment", env, "deleted", stats.Total())
	return stats, nil
}

func (m *Mutator) prune(ctx context.Context, root graph.Key, label string, state bool) (int64, error) {
	n, err := DeleteUntilZero(ctx, m.store, graph.DeleteChunk{
		Root:  root,
		Label: label,
		State: state,
		Limit: m.deleteLimit,
	})
	if state {
		label = schema.StateLabel(label)
	}
	if err != nil {
		return n, fmt.Errorf("failed to prune %s: %w", label, err)
	}
	m.logger.Debug("pruned nodes", "label", label, "deleted", n)
	m.tel.NodesDeleted(ctx, label, n)
	return n, nil
}

// Terminate closes, at the given time, every relationship below the
// environment that is still open and started before that time. Facts
// observed at or after the given time stay open.
// A limit of zero or less uses DefaultCloseLimit. It returns the number of
// relationships closed; a second call finds nothing left to close.
func (m *Mutator) Terminate(ctx context.Context, account, name string, at int64, limit int) (closed int64, err error) {
	env := schema.EnvironmentIdentity(account, name)
	ctx, span := m.tel.Start(ctx, "snitch.terminate",
		attribute.String("environment", env),
		attribute.Int64("time", at),
	)
	defer func() { telemetry.End(span, err) }()

	if limit <= 0 {
		limit = DefaultCloseLimit
	}
	if _, err := m.Environment(ctx, account, name); err != nil {
		return 0, err
	}

	err = m.locker.With(ctx, account, name, func(ctx context.Context) error {
		var err error
		closed, err = SetToUntilZero(ctx, m.store, graph.CloseChunk{
			Root:  m.rootKey(account, name),
			Time:  at,
			Limit: limit,
		})
		return err
	})
	m.tel.RelationshipsClosed(ctx, env, closed)
	if err != nil {
		return closed, fmt.Errorf("failed to terminate %s: %w", env, err)
	}

	m.logger.Info("terminated environment", "environment", env, "closed", closed, "time", at)
	return closed, nil
}
