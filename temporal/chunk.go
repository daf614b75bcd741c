package temporal

import (
	"context"

	"github.com/sacharya/FleetDeploymentReporting/graph"
)

// DeleteUntilZero runs stmt in successive write transactions until one
// deletes nothing, and returns the total deleted.
func DeleteUntilZero(ctx context.Context, store graph.Store, stmt graph.DeleteChunk) (int64, error) {
	return untilZero(ctx, store, stmt, "deleted")
}

// SetToUntilZero runs stmt in successive write transactions until one
// closes nothing, and returns the total closed.
func SetToUntilZero(ctx context.Context, store graph.Store, stmt graph.CloseChunk) (int64, error) {
	return untilZero(ctx, store, stmt, "changed")
}

// untilZero sums column over chunks. Chunks already committed stay
// committed when a later one fails.
func untilZero(ctx context.Context, store graph.Store, stmt graph.Statement, column string) (int64, error) {
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		recs, err := graph.RunWrite(ctx, store, stmt)
		if err != nil {
			return total, err
		}
		var n int64
		if len(recs) > 0 {
			n = recs[0].Int64(column)
		}
		if n == 0 {
			return total, nil
		}
		total += n
	}
}
