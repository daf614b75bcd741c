// Package syncer applies collected runs to the graph.
//
// Runs are grouped by environment. Groups are synced concurrently on a
// bounded pool; the runs of one group are applied one at a time, oldest
// first, while holding the environment lock. A run that completed at or
// before the environment's last update is skipped so newer facts are never
// overwritten by older ones.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/sacharya/FleetDeploymentReporting/graph"
	"github.com/sacharya/FleetDeploymentReporting/lock"
	"github.com/sacharya/FleetDeploymentReporting/runs"
	"github.com/sacharya/FleetDeploymentReporting/schema"
	"github.com/sacharya/FleetDeploymentReporting/snitch"
	"github.com/sacharya/FleetDeploymentReporting/snitcherr"
	"github.com/sacharya/FleetDeploymentReporting/telemetry"
)

// Outcome is how the sync of one run ended.
type Outcome string

const (
	Finished Outcome = telemetry.OutcomeFinished
	Errored  Outcome = telemetry.OutcomeErrored
	Skipped  Outcome = telemetry.OutcomeSkipped
)

// Result is the outcome of one run.
type Result struct {
	Path        string
	Environment string
	Outcome     Outcome
	Err         error
	Duration    time.Duration
}

// Summary reports a whole sync.
type Summary struct {
	// Results holds one entry per run attempted, sorted by path.
	Results []Result

	// Locked lists environments whose group was skipped because another
	// holder had the lock.
	Locked []string

	// Failed lists environments whose group stopped on an unexpected error.
	Failed []string

	Duration time.Duration
}

// Count returns the number of runs with outcome o.
func (s Summary) Count(o Outcome) int {
	n := 0
	for _, r := range s.Results {
		if r.Outcome == o {
			n++
		}
	}
	return n
}

// Orchestrator syncs runs from a run store into the graph.
type Orchestrator struct {
	store       graph.Store
	reg         *schema.Registry
	runs        runs.Store
	locker      *lock.Locker
	producers   []snitch.Producer
	filter      *runs.Filter
	concurrency int
	logger      *slog.Logger
	tel         *telemetry.Telemetry
	now         func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithConcurrency sets how many environments sync at once. Values below one
// are treated as one.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n < 1 {
			n = 1
		}
		o.concurrency = n
	}
}

// WithFilter restricts the sync to runs matching f.
func WithFilter(f *runs.Filter) Option {
	return func(o *Orchestrator) {
		o.filter = f
	}
}

// WithProducers replaces the default producers.
func WithProducers(p ...snitch.Producer) Option {
	return func(o *Orchestrator) {
		o.producers = p
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithTelemetry records spans and metrics on t.
func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(o *Orchestrator) {
		o.tel = t
	}
}

// WithClock overrides the time recorded when a run finishes.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// New returns an Orchestrator. Unless WithProducers is given, the default
// producers of package snitch are used.
func New(store graph.Store, reg *schema.Registry, runStore runs.Store, locker *lock.Locker, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:       store,
		reg:         reg,
		runs:        runStore,
		locker:      locker,
		concurrency: 1,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.producers == nil {
		o.producers = snitch.Default(reg, o.logger)
	}
	return o
}

// groupResult is what one worker reports for its group.
type groupResult struct {
	env     string
	results []Result
	locked  bool
	err     error
}

// Sync applies every pending run. Per-run and per-group failures are logged
// and reported in the Summary; only failing to list runs is returned as an
// error.
func (o *Orchestrator) Sync(ctx context.Context) (Summary, error) {
	start := time.Now()

	found, err := o.runs.List(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to find runs: %w", err)
	}
	selected, err := o.filter.Select(found)
	if err != nil {
		return Summary{}, err
	}
	groups := GroupRuns(selected)
	o.logger.Info("syncing runs", "runs", len(selected), "environments", len(groups), "concurrency", o.concurrency)

	out := make(chan groupResult, len(groups))
	var g errgroup.Group
	g.SetLimit(o.concurrency)
	for _, grp := range groups {
		g.Go(func() error {
			out <- o.syncGroup(ctx, grp)
			return nil
		})
	}
	_ = g.Wait()
	close(out)

	var s Summary
	for gr := range out {
		s.Results = append(s.Results, gr.results...)
		if gr.locked {
			s.Locked = append(s.Locked, gr.env)
		}
		if gr.err != nil {
			s.Failed = append(s.Failed, gr.env)
		}
	}
	sort.Slice(s.Results, func(i, j int) bool { return s.Results[i].Path < s.Results[j].Path })
	sort.Strings(s.Locked)
	sort.Strings(s.Failed)
	s.Duration = time.Since(start)

	o.logger.Info("finished sync",
		"finished", s.Count(Finished),
		"skipped", s.Count(Skipped),
		"errored", s.Count(Errored),
		"locked", len(s.Locked),
		"duration", s.Duration,
	)
	return s, nil
}

// syncGroup applies the runs of one environment in order under its lock.
func (o *Orchestrator) syncGroup(ctx context.Context, grp Group) (gr groupResult) {
	gr.env = grp.Environment()
	logger := o.logger.With("environment", gr.env)

	defer func() {
		if p := recover(); p != nil {
			gr.err = fmt.Errorf("panic while syncing %s: %v", gr.env, p)
			logger.Error("an exception occurred while processing group", "error", gr.err)
		}
	}()

	err := o.locker.With(ctx, grp.AccountNumber, grp.Name, func(ctx context.Context) error {
		for _, r := range grp.Runs {
			if err := ctx.Err(); err != nil {
				return err
			}
			gr.results = append(gr.results, o.syncRun(ctx, logger, r))
		}
		return nil
	})
	switch {
	case errors.Is(err, snitcherr.ErrEnvironmentLocked):
		gr.locked = true
		logger.Error("environment is locked, skipping its runs", "runs", len(grp.Runs))
	case err != nil:
		gr.err = err
		logger.Error("failed to sync environment", "error", err)
	}
	return gr
}

// syncRun applies one run. It never returns an error: the outcome is logged
// and recorded on the run.
func (o *Orchestrator) syncRun(ctx context.Context, logger *slog.Logger, r *runs.Run) (res Result) {
	start := time.Now()
	res = Result{Path: r.Path, Environment: r.Environment()}
	logger = logger.With("path", r.Path)

	ctx, span := o.tel.Start(ctx, "snitch.sync.run",
		attribute.String("environment", res.Environment),
		attribute.String("path", r.Path),
	)
	defer func() {
		res.Duration = time.Since(start)
		o.tel.RunFinished(ctx, string(res.Outcome), res.Duration)
		if res.Outcome == Errored {
			telemetry.End(span, res.Err)
		} else {
			telemetry.End(span, nil)
		}
	}()

	err := o.checkRunTime(ctx, r)
	if err == nil {
		err = r.Start()
	}
	if err != nil {
		res.Err = err
		if snitcherr.IsSkip(err) {
			res.Outcome = Skipped
			logger.Info("skipping run", "reason", err)
		} else {
			res.Outcome = Errored
			logger.Error("unable to check run", "error", err)
			// Record the failure on the run so its sync status matches the
			// result. A run that cannot be started keeps its status.
			if r.Start() == nil && r.Fail(err) == nil {
				if serr := o.runs.Save(ctx, r); serr != nil {
					logger.Error("unable to mark run as errored", "error", serr)
				}
			}
		}
		return res
	}
	if err := o.runs.Save(ctx, r); err != nil {
		res.Outcome, res.Err = Errored, err
		logger.Error("unable to mark run as started", "error", err)
		return res
	}

	logger.Info("starting collection")
	if err := o.consume(ctx, r); err != nil {
		res.Outcome, res.Err = Errored, err
		logger.Error("unable to complete run", "error", err)
		if ferr := r.Fail(err); ferr == nil {
			if serr := o.runs.Save(ctx, r); serr != nil {
				logger.Error("unable to mark run as errored", "error", serr)
			}
		}
		return res
	}

	if err := r.Finish(o.now()); err != nil {
		res.Outcome, res.Err = Errored, err
		return res
	}
	if err := o.runs.Save(ctx, r); err != nil {
		res.Outcome, res.Err = Errored, err
		logger.Error("unable to mark run as finished", "error", err)
		return res
	}
	res.Outcome = Finished
	logger.Info("run complete", "completed", graph.Millis(r.Completed), "elapsed", time.Since(start))
	return res
}

func (o *Orchestrator) envKey(r *runs.Run) graph.Key {
	return graph.Key{
		Label:    o.reg.Root(),
		Property: schema.EnvironmentKey,
		Value:    r.Environment(),
	}
}

// checkRunTime rejects a run that is not newer than the environment's last
// update. An environment that does not exist yet accepts any run.
func (o *Orchestrator) checkRunTime(ctx context.Context, r *runs.Run) error {
	recs, err := graph.RunRead(ctx, o.store, graph.FindNode{Key: o.envKey(r)})
	if err != nil {
		return fmt.Errorf("failed to read environment %s: %w", r.Environment(), err)
	}
	if len(recs) == 0 {
		return nil
	}
	last := graph.ToInt64(recs[0].Props("n")[schema.LastUpdateProperty])
	completed := graph.Millis(r.Completed)
	o.logger.Debug("comparing run time", "completed", completed, "last_update", last)
	if completed <= last {
		return snitcherr.RunContainsOldData("syncer.check", r.Path, completed, last)
	}
	return nil
}

// consume runs every producer and then advances the environment's
// last update to the run's completion time.
func (o *Orchestrator) consume(ctx context.Context, r *runs.Run) error {
	for _, p := range o.producers {
		if err := p.Snitch(ctx, o.store, r); err != nil {
			return fmt.Errorf("%s: %w", p.Name(), err)
		}
	}
	recs, err := graph.RunWrite(ctx, o.store, graph.Advance{
		Key:      o.envKey(r),
		Property: schema.LastUpdateProperty,
		Value:    graph.Millis(r.Completed),
	})
	if err != nil {
		return fmt.Errorf("failed to record last update: %w", err)
	}
	if len(recs) == 0 {
		return fmt.Errorf("environment %s was not created by the run", r.Environment())
	}
	return nil
}
