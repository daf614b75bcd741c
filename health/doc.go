// Package health checks the dependencies of a snitch process.
//
// Each check returns a Status rather than an error so that the results of
// several checks can be printed together and aggregated with Combine:
//
//	status := health.Combine(
//	    health.GraphCheck(ctx, store),
//	    health.RedisCheck(ctx, catalog),
//	    health.DirCheck(cfg.DataDir),
//	)
//	if status.IsUnhealthy() {
//	    os.Exit(1)
//	}
//
// A degraded result means the process can run but has nothing to do or is
// running without an optional dependency.
package health
