package runs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
)

// Store lists runs and persists their sync lifecycle.
type Store interface {
	// List returns every run the store knows about, in no particular order.
	List(ctx context.Context) ([]*Run, error)

	// Save persists the sync fields of r.
	Save(ctx context.Context, r *Run) error

	// Remove deletes the run and its data.
	Remove(ctx context.Context, r *Run) error
}

// DirStore finds runs as subdirectories of a data directory, each holding a
// run_data.json, and records sync state back into that file.
type DirStore struct {
	root   string
	logger *slog.Logger
}

// NewDirStore returns a store over the data directory root.
func NewDirStore(root string, logger *slog.Logger) *DirStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &DirStore{root: root, logger: logger}
}

// Root returns the data directory.
func (s *DirStore) Root() string { return s.root }

// runFile is the on-disk form of run_data.json.
type runFile struct {
	Status      string `json:"status"`
	Completed   string `json:"completed"`
	Environment struct {
		AccountNumber string `json:"account_number"`
		Name          string `json:"name"`
	} `json:"environment"`
	SyncStatus SyncStatus `json:"sync_status,omitempty"`
	Synced     string     `json:"synced,omitempty"`
	SyncError  string     `json:"sync_error,omitempty"`
}

// Load reads the run in dir.
func Load(dir string) (*Run, error) {
	data, err := os.ReadFile(filepath.Join(dir, DataFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read run %s: %w", dir, err)
	}
	var f runFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse run %s: %w", dir, err)
	}

	r := &Run{
		Path:          dir,
		Status:        f.Status,
		AccountNumber: f.Environment.AccountNumber,
		Name:          f.Environment.Name,
		SyncStatus:    f.SyncStatus,
		SyncError:     f.SyncError,
	}
	if r.SyncStatus == "" {
		r.SyncStatus = SyncNew
	}
	if f.Completed != "" {
		if r.Completed, err = parseTime(f.Completed); err != nil {
			return nil, fmt.Errorf("run %s: completed: %w", dir, err)
		}
	}
	if f.Synced != "" {
		t, err := parseTime(f.Synced)
		if err != nil {
			return nil, fmt.Errorf("run %s: synced: %w", dir, err)
		}
		r.Synced = &t
	}
	if r.AccountNumber == "" || r.Name == "" {
		return nil, fmt.Errorf("run %s: missing environment", dir)
	}
	return r, nil
}

// List loads every run directory below the root. Directories without a
// readable run_data.json are skipped with a warning.
func (s *DirStore) List(ctx context.Context) ([]*Run, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs in %s: %w", s.root, err)
	}

	var out []*Run
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(s.root, e.Name())
		if _, err := os.Stat(filepath.Join(dir, DataFile)); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		r, err := Load(dir)
		if err != nil {
			s.logger.Warn("skipping unreadable run", "path", dir, "error", err)
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// Save rewrites the sync fields of run_data.json, keeping every other field
// as the collector wrote it.
func (s *DirStore) Save(_ context.Context, r *Run) error {
	path := r.File(DataFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read run %s: %w", r.Path, err)
	}
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("failed to parse run %s: %w", r.Path, err)
	}

	set := func(key string, v any) error {
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		fields[key] = raw
		return nil
	}
	if err := set("sync_status", r.SyncStatus); err != nil {
		return err
	}
	if r.Synced != nil {
		if err := set("synced", formatTime(*r.Synced)); err != nil {
			return err
		}
	} else {
		delete(fields, "synced")
	}
	if r.SyncError != "" {
		if err := set("sync_error", r.SyncError); err != nil {
			return err
		}
	} else {
		delete(fields, "sync_error")
	}

	out, err := json.MarshalIndent(fields, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode run %s: %w", r.Path, err)
	}
	return writeFileAtomic(path, out)
}

// Remove deletes the run directory.
func (s *DirStore) Remove(_ context.Context, r *Run) error {
	if err := os.RemoveAll(r.Path); err != nil {
		return fmt.Errorf("failed to remove run %s: %w", r.Path, err)
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".run_data-*")
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
