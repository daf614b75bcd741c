// Package lock provides the per-environment mutual exclusion used by every
// mutating operation. The lock is a node in the graph store itself, so it
// holds across processes and hosts without a separate lock service.
//
// Acquire never waits: if another holder owns the environment it fails
// immediately with snitcherr.ErrEnvironmentLocked. Use With to scope a lock
// to a function so it is released on every exit path.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sacharya/FleetDeploymentReporting/graph"
	"github.com/sacharya/FleetDeploymentReporting/schema"
	"github.com/sacharya/FleetDeploymentReporting/snitcherr"
)

// releaseTimeout bounds the release of a lock whose scope was cancelled.
const releaseTimeout = 10 * time.Second

// Locker acquires and releases environment locks.
type Locker struct {
	store  graph.Store
	lease  time.Duration
	now    func() time.Time
	holder func() string
	logger *slog.Logger
}

// Option configures a Locker.
type Option func(*Locker)

// WithLease makes claims expire after d so that a lock left behind by a
// crashed holder can be taken over. Zero, the default, means claims never
// expire.
func WithLease(d time.Duration) Option {
	return func(l *Locker) {
		l.lease = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Locker) {
		l.logger = logger
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Locker) {
		l.now = now
	}
}

// New returns a Locker over store.
func New(store graph.Store, opts ...Option) *Locker {
	l := &Locker{
		store:  store,
		now:    time.Now,
		holder: uuid.NewString,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Lock is a held environment lock.
type Lock struct {
	Account string
	Name    string
	Holder  string

	locker *Locker
}

func key(account, name string) graph.Key {
	return graph.Key{
		Label:    schema.LockLabel,
		Property: schema.EnvironmentKey,
		Value:    schema.EnvironmentIdentity(account, name),
	}
}

// Acquire claims the lock for the environment. It returns an
// EnvironmentLocked error without waiting if someone else holds it.
func (l *Locker) Acquire(ctx context.Context, account, name string) (*Lock, error) {
	holder := l.holder()
	now := l.now()

	var expires int64
	if l.lease > 0 {
		expires = graph.Millis(now.Add(l.lease))
	}

	recs, err := graph.RunWrite(ctx, l.store, graph.AcquireLock{
		Key:     key(account, name),
		Holder:  holder,
		Now:     graph.Millis(now),
		Expires: expires,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock for %s-%s: %w", account, name, err)
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("failed to acquire lock for %s-%s: no result", account, name)
	}
	if acquired, _ := recs[0]["acquired"].(bool); !acquired {
		return nil, snitcherr.EnvironmentLocked("lock.acquire", account, name)
	}

	l.logger.Debug("acquired environment lock", "account_number", account, "name", name, "holder", holder)
	return &Lock{Account: account, Name: name, Holder: holder, locker: l}, nil
}

// Release removes the lock if this holder still owns it.
func (lk *Lock) Release(ctx context.Context) error {
	recs, err := graph.RunWrite(ctx, lk.locker.store, graph.ReleaseLock{
		Key:    key(lk.Account, lk.Name),
		Holder: lk.Holder,
	})
	if err != nil {
		return fmt.Errorf("failed to release lock for %s-%s: %w", lk.Account, lk.Name, err)
	}
	if len(recs) == 0 || recs[0].Int64("released") == 0 {
		lk.locker.logger.Warn("environment lock was no longer held",
			"account_number", lk.Account, "name", lk.Name, "holder", lk.Holder)
		return nil
	}
	lk.locker.logger.Debug("released environment lock",
		"account_number", lk.Account, "name", lk.Name, "holder", lk.Holder)
	return nil
}

// With runs fn while holding the environment lock. The lock is released when
// fn returns, fails, panics or ctx is cancelled. A release failure is
// joined with the error of fn.
func (l *Locker) With(ctx context.Context, account, name string, fn func(ctx context.Context) error) (err error) {
	lk, err := l.Acquire(ctx, account, name)
	if err != nil {
		return err
	}
	defer func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if rerr := lk.Release(rctx); rerr != nil {
			if err == nil {
				err = rerr
			} else {
				err = errors.Join(err, rerr)
			}
		}
	}()
	return fn(ctx)
}
