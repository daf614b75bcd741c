package runs

import (
	"context"
	"log/slog"
)

// Clean removes every run that has been synced and returns how many were
// removed. A run that cannot be removed is logged and skipped.
func Clean(ctx context.Context, store Store, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	found, err := store.List(ctx)
	if err != nil {
		return 0, err
	}

	cleaned := 0
	for _, r := range found {
		if err := ctx.Err(); err != nil {
			return cleaned, err
		}
		if r.Synced == nil {
			continue
		}
		logger.Info("cleaning run", "path", r.Path)
		if err := store.Remove(ctx, r); err != nil {
			logger.Error("failed to clean run", "path", r.Path, "error", err)
			continue
		}
		cleaned++
	}
	return cleaned, nil
}
