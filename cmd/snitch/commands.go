package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sacharya/FleetDeploymentReporting/graph"
	"github.com/sacharya/FleetDeploymentReporting/health"
	"github.com/sacharya/FleetDeploymentReporting/query"
	"github.com/sacharya/FleetDeploymentReporting/runs"
	"github.com/sacharya/FleetDeploymentReporting/schema"
	"github.com/sacharya/FleetDeploymentReporting/syncer"
	"github.com/sacharya/FleetDeploymentReporting/temporal"
)

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:     "snitch",
		Short:   "Snitch - point-in-time inventory of deployed environments",
		Long:    `Snitch syncs collected environment snapshots into a bitemporal graph and answers questions about what was deployed where, and when.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd.Context())
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(a.in)
	root.SetOut(a.out)
	root.SetErr(a.errOut)

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "Path to snitch.yaml (default: $SNITCH_CONFIG or search upward)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn or error")

	root.AddCommand(
		newSyncCmd(a),
		newRemoveCmd(a),
		newTerminateCmd(a),
		newCleanCmd(a),
		newConstraintsCmd(a),
		newQueryCmd(a),
		newTimesCmd(a),
		newCheckCmd(a),
	)
	return root
}

func newSyncCmd(a *app) *cobra.Command {
	var (
		concurrency int
		filter      string
	)
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync collected runs into the graph",
		Long: `Sync every collected run that has not been synced yet.

Runs are grouped by environment. Environments sync in parallel up to
--concurrency; runs of one environment sync oldest first while holding the
environment lock. A run older than the environment's last update is skipped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if !cmd.Flags().Changed("concurrency") {
				concurrency = a.cfg.Sync.GetConcurrency()
			}
			if !cmd.Flags().Changed("filter") {
				filter = a.cfg.Sync.Filter
			}
			f, err := runs.NewFilter(filter)
			if err != nil {
				return err
			}
			if err := a.connect(ctx); err != nil {
				return err
			}
			store, err := a.runStore()
			if err != nil {
				return err
			}

			o := syncer.New(a.store, a.reg, store, a.locker(),
				syncer.WithConcurrency(concurrency),
				syncer.WithFilter(f),
				syncer.WithLogger(a.logger),
				syncer.WithTelemetry(a.tel),
			)
			summary, err := o.Sync(ctx)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Synced %d run(s): %d finished, %d errored, %d skipped in %s\n",
				len(summary.Results),
				summary.Count(syncer.Finished),
				summary.Count(syncer.Errored),
				summary.Count(syncer.Skipped),
				summary.Duration.Round(time.Millisecond),
			)
			for _, env := range summary.Locked {
				fmt.Fprintf(cmd.OutOrStdout(), "  locked: %s\n", env)
			}
			for _, env := range summary.Failed {
				fmt.Fprintf(cmd.OutOrStdout(), "  failed: %s\n", env)
			}
			if len(summary.Failed) > 0 || summary.Count(syncer.Errored) > 0 {
				return errors.New("sync completed with errors")
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", 1, "Number of environments to sync at once")
	cmd.Flags().StringVar(&filter, "filter", "", "CEL expression selecting runs, e.g. 'account_number == \"123\"'")
	return cmd
}

// findEnvironment looks the environment up and asks for confirmation unless
// skip is set. It reports false when the user declines.
func (a *app) findEnvironment(cmd *cobra.Command, m *temporal.Mutator, account, name, action string, skip bool) (bool, error) {
	if _, err := m.Environment(cmd.Context(), account, name); err != nil {
		return false, err
	}
	if skip {
		return true, nil
	}
	ok, err := confirm(cmd.InOrStdin(), cmd.OutOrStdout(), fmt.Sprintf(
		"Confirming %s of environment with account number '%s' and name '%s'", action, account, name))
	if err != nil {
		return false, err
	}
	if !ok {
		a.logger.Info(action + " unconfirmed, cancelling")
	}
	return ok, nil
}

func (a *app) mutator() *temporal.Mutator {
	return temporal.New(a.store, a.reg, a.locker(),
		temporal.WithLogger(a.logger),
		temporal.WithTelemetry(a.tel),
		temporal.WithDeleteLimit(a.cfg.Prune.GetDeleteLimit()),
	)
}

func newRemoveCmd(a *app) *cobra.Command {
	var skip bool
	cmd := &cobra.Command{
		Use:   "remove <account_number> <name>",
		Short: "Delete every node of an environment from the graph",
		Long: `Delete an environment and everything that belongs only to it.

Shared entities such as packages are left in place. The environment lock
is held for the whole removal.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.connect(ctx); err != nil {
				return err
			}
			m := a.mutator()
			ok, err := a.findEnvironment(cmd, m, args[0], args[1], "deletion", skip)
			if err != nil || !ok {
				return err
			}
			stats, err := m.Prune(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			for _, label := range sortedKeys(stats) {
				if n := stats[label]; n != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%-24s %d\n", label, *n)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "%-24s shared\n", label)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d node(s)\n", stats.Total())
			return nil
		},
	}
	cmd.Flags().BoolVarP(&skip, "skip", "s", false, "Skip interactive confirmation")
	return cmd
}

func newTerminateCmd(a *app) *cobra.Command {
	var (
		skip  bool
		at    int64
		limit int
	)
	cmd := &cobra.Command{
		Use:   "terminate <account_number> <name>",
		Short: "End every open relationship of an environment",
		Long: `Mark an environment as gone without deleting its history.

Every relationship reachable from the environment that is still open is
closed at --time, so queries after that instant no longer see it.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if !cmd.Flags().Changed("time") {
				at = graph.NowMillis()
			}
			if !cmd.Flags().Changed("limit") {
				limit = a.cfg.Terminate.GetLimit()
			}
			if err := a.connect(ctx); err != nil {
				return err
			}
			m := a.mutator()
			ok, err := a.findEnvironment(cmd, m, args[0], args[1], "termination", skip)
			if err != nil || !ok {
				return err
			}
			closed, err := m.Terminate(ctx, args[0], args[1], at, limit)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Terminated %d relationship(s) at %d\n", closed, at)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&skip, "skip", "s", false, "Skip interactive confirmation")
	cmd.Flags().Int64Var(&at, "time", 0, "Termination time in epoch milliseconds (default: now)")
	cmd.Flags().IntVar(&limit, "limit", temporal.DefaultCloseLimit, "Relationships closed per transaction")
	return cmd
}

func newCleanCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Remove run data that has already been synced",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.runStore()
			if err != nil {
				return err
			}
			n, err := runs.Clean(cmd.Context(), store, a.logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleaned %d run(s)\n", n)
			return nil
		},
	}
}

func newConstraintsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "constraints",
		Short: "Create uniqueness constraints for every entity identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.connect(ctx); err != nil {
				return err
			}
			stmts := []graph.CreateConstraint{{Label: schema.LockLabel, Property: schema.EnvironmentKey}}
			for _, label := range a.reg.Types() {
				prop, err := a.reg.IdentityProperty(label)
				if err != nil {
					return err
				}
				stmts = append(stmts, graph.CreateConstraint{Label: label, Property: prop})
			}
			err := a.store.ExecuteWrite(ctx, func(tx graph.Tx) error {
				for _, s := range stmts {
					if _, err := tx.Run(ctx, s); err != nil {
						return fmt.Errorf("failed to create constraint on %s.%s: %w", s.Label, s.Property, err)
					}
				}
				return nil
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %d constraint(s)\n", len(stmts))
			return nil
		},
	}
}

// queryFilter is a --filter value: [Label.]prop:OP[:value].
type queryFilter struct {
	label string
	prop  string
	op    graph.Op
	value any
}

func parseFilter(target, s string) (queryFilter, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) < 2 {
		return queryFilter{}, fmt.Errorf("invalid filter %q: want [Label.]prop:OP[:value]", s)
	}
	f := queryFilter{label: target, prop: parts[0]}
	if label, prop, ok := strings.Cut(parts[0], "."); ok {
		f.label, f.prop = label, prop
	}
	op, err := graph.ParseOp(parts[1])
	if err != nil {
		return queryFilter{}, err
	}
	f.op = op
	switch {
	case op.Unary():
	case len(parts) < 3:
		return queryFilter{}, fmt.Errorf("invalid filter %q: %s needs a value", s, op)
	case op == graph.In:
		f.value = strings.Split(parts[2], ",")
	default:
		f.value = parts[2]
	}
	return f, nil
}

func newQueryCmd(a *app) *cobra.Command {
	var (
		at      int64
		filters []string
		columns []string
		page    int
		size    int
	)
	cmd := &cobra.Command{
		Use:   "query <type>",
		Short: "Show entities of a type as they were at a point in time",
		Long: `Query entities of a type together with their ancestors.

Filters take the form [Label.]prop:OP[:value], for example
  --filter kernel:STARTS WITH:5.
  --filter Environment.name:=:prod
  --filter Host.hostname:IN:a,b

With --column the result holds only the named properties, each given as
Label.prop.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			label := args[0]
			if err := a.connect(ctx); err != nil {
				return err
			}
			c := query.NewCompiler(a.reg, a.store)
			parsed := make([]queryFilter, 0, len(filters))
			for _, s := range filters {
				f, err := parseFilter(label, s)
				if err != nil {
					return err
				}
				parsed = append(parsed, f)
			}

			var (
				rows  any
				total int64
			)
			if len(columns) > 0 {
				q, err := c.ColumnQuery(label)
				if err != nil {
					return err
				}
				for _, col := range columns {
					l, p, ok := strings.Cut(col, ".")
					if !ok {
						l, p = label, col
					}
					if err := q.AddColumn(l, p, ""); err != nil {
						return err
					}
				}
				for _, f := range parsed {
					if err := q.FilterOn(f.label, f.prop, f.op, f.value); err != nil {
						return err
					}
				}
				if cmd.Flags().Changed("time") {
					q.Time(at)
				}
				if total, err = q.Count(ctx); err != nil {
					return err
				}
				if rows, err = q.Page(ctx, page, size); err != nil {
					return err
				}
			} else {
				q, err := c.Query(label)
				if err != nil {
					return err
				}
				for _, f := range parsed {
					if err := q.FilterOn(f.label, f.prop, f.op, f.value); err != nil {
						return err
					}
				}
				if cmd.Flags().Changed("time") {
					q.Time(at)
				}
				if total, err = q.Count(ctx); err != nil {
					return err
				}
				if rows, err = q.Page(ctx, page, size); err != nil {
					return err
				}
			}

			return writeJSON(cmd, map[string]any{
				"type":  label,
				"count": total,
				"page":  page,
				"size":  size,
				"rows":  rows,
			})
		},
	}
	cmd.Flags().Int64Var(&at, "time", 0, "Point in time in epoch milliseconds (default: now)")
	cmd.Flags().StringArrayVar(&filters, "filter", nil, "Filter as [Label.]prop:OP[:value] (repeatable)")
	cmd.Flags().StringArrayVar(&columns, "column", nil, "Return only Label.prop (repeatable)")
	cmd.Flags().IntVar(&page, "page", 1, "1-based page number")
	cmd.Flags().IntVar(&size, "size", 100, "Rows per page")
	return cmd
}

func newTimesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "times <type> <identity>",
		Short: "List the instants at which an entity or anything below it changed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.connect(ctx); err != nil {
				return err
			}
			times, err := query.NewCompiler(a.reg, a.store).Times(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			for _, t := range times {
				fmt.Fprintln(cmd.OutOrStdout(), t)
			}
			return nil
		},
	}
}

func newCheckCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check connectivity to the graph, Redis and the data directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			checks := []health.Status{health.DirCheck(a.cfg.DataDir)}

			if err := a.connect(ctx); err != nil {
				checks = append(checks, health.Unhealthy("graph", "failed to open graph store", map[string]any{"error": err.Error()}))
			} else {
				checks = append(checks, health.GraphCheck(ctx, a.store))
			}

			if a.cfg.Redis.URL == "" {
				checks = append(checks, health.RedisCheck(ctx, nil))
			} else if _, err := a.runStore(); err != nil {
				checks = append(checks, health.Unhealthy("redis", "failed to connect to redis", map[string]any{"error": err.Error()}))
			} else {
				checks = append(checks, health.RedisCheck(ctx, a.catalog))
			}

			overall := health.Combine(checks...)
			if err := writeJSON(cmd, map[string]any{"status": overall, "checks": checks}); err != nil {
				return err
			}
			if overall.IsUnhealthy() {
				return errors.New(overall.Message)
			}
			return nil
		},
	}
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func sortedKeys(stats temporal.Stats) []string {
	keys := make([]string, 0, len(stats))
	for k := range stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
