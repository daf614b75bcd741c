package runs

import (
	"context"
	"crypto/tls"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// Catalog keys.
const (
	catalogSet = "runs"
	runPrefix  = "run:"
)

// RedisOptions configures the Redis connection.
type RedisOptions struct {
	// URL is the Redis connection string (e.g., "redis://localhost:6379")
	URL string

	TLS            *tls.Config
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

// RedisStore keeps the sync lifecycle of runs in a Redis catalog instead of
// rewriting run_data.json, so snapshot directories can stay read-only.
// Runs are still discovered and read from the data directory.
//
// Each run is a hash run:<path> holding its metadata and sync fields; the
// set "runs" lists every cataloged path.
type RedisStore struct {
	client *redis.Client
	dir    *DirStore
}

// NewRedisStore connects to Redis and returns a catalog over dir.
func NewRedisStore(opts RedisOptions, dir *DirStore) (*RedisStore, error) {
	if opts.URL == "" {
		opts.URL = "redis://localhost:6379"
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = 30 * time.Second
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = 5 * time.Second
	}

	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	redisOpts.TLSConfig = opts.TLS
	redisOpts.DialTimeout = opts.ConnectTimeout
	redisOpts.ReadTimeout = opts.ReadTimeout
	redisOpts.WriteTimeout = opts.WriteTimeout

	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), opts.ConnectTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStore{client: client, dir: dir}, nil
}

func runKey(path string) string {
	return runPrefix + path
}

// List returns the runs in the data directory with their cataloged sync
// state applied. Runs seen for the first time are added to the catalog.
func (s *RedisStore) List(ctx context.Context) ([]*Run, error) {
	found, err := s.dir.List(ctx)
	if err != nil {
		return nil, err
	}

	for _, r := range found {
		fields, err := s.client.HGetAll(ctx, runKey(r.Path)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read catalog entry for %s: %w", r.Path, err)
		}
		if len(fields) == 0 {
			if err := s.Save(ctx, r); err != nil {
				return nil, err
			}
			continue
		}
		if err := applySync(r, fields); err != nil {
			return nil, fmt.Errorf("bad catalog entry for %s: %w", r.Path, err)
		}
	}
	return found, nil
}

// Paths returns every cataloged run path, sorted.
func (s *RedisStore) Paths(ctx context.Context) ([]string, error) {
	paths, err := s.client.SMembers(ctx, catalogSet).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list cataloged runs: %w", err)
	}
	sort.Strings(paths)
	return paths, nil
}

func applySync(r *Run, fields map[string]string) error {
	if v := fields["sync_status"]; v != "" {
		r.SyncStatus = SyncStatus(v)
	}
	r.SyncError = fields["sync_error"]
	r.Synced = nil
	if v := fields["synced"]; v != "" {
		t, err := parseTime(v)
		if err != nil {
			return err
		}
		r.Synced = &t
	}
	return nil
}

// Save writes the run's catalog entry.
func (s *RedisStore) Save(ctx context.Context, r *Run) error {
	synced := ""
	if r.Synced != nil {
		synced = formatTime(*r.Synced)
	}
	status := r.SyncStatus
	if status == "" {
		status = SyncNew
	}

	key := runKey(r.Path)
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key,
			"path", r.Path,
			"status", r.Status,
			"completed", formatTime(r.Completed),
			"account_number", r.AccountNumber,
			"name", r.Name,
			"sync_status", string(status),
			"synced", synced,
			"sync_error", r.SyncError,
		)
		p.SAdd(ctx, catalogSet, r.Path)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save catalog entry for %s: %w", r.Path, err)
	}
	return nil
}

// Remove deletes the run directory and its catalog entry.
func (s *RedisStore) Remove(ctx context.Context, r *Run) error {
	if err := s.dir.Remove(ctx, r); err != nil {
		return err
	}
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, runKey(r.Path))
		p.SRem(ctx, catalogSet, r.Path)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to remove catalog entry for %s: %w", r.Path, err)
	}
	return nil
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
