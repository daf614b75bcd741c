// Package runs discovers collected run snapshots and tracks their sync
// lifecycle.
//
// A run is one immutable collection of data files for one environment. The
// collector marks a run complete by writing status "finished" and a
// completion time to run_data.json; sync then moves it through
// New, Running and exactly one of Finished or Errored.
package runs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/sacharya/FleetDeploymentReporting/schema"
	"github.com/sacharya/FleetDeploymentReporting/snitcherr"
)

// DataFile is the run metadata file inside a run directory.
const DataFile = "run_data.json"

// CollectionFinished is the collector status of a complete run.
const CollectionFinished = "finished"

// SyncStatus is the sync lifecycle state of a run.
type SyncStatus string

const (
	SyncNew      SyncStatus = "new"
	SyncRunning  SyncStatus = "running"
	SyncFinished SyncStatus = "finished"
	SyncErrored  SyncStatus = "errored"
)

// Run is one collected snapshot.
type Run struct {
	// Path is the run directory.
	Path string

	// Status is the collector status. Only finished runs can be synced.
	Status        string
	Completed     time.Time
	AccountNumber string
	Name          string

	SyncStatus SyncStatus
	Synced     *time.Time
	SyncError  string
}

// Environment returns the identity of the run's environment.
func (r *Run) Environment() string {
	return schema.EnvironmentIdentity(r.AccountNumber, r.Name)
}

func (r *Run) String() string {
	return fmt.Sprintf("run %s (%s, completed %s)", r.Path, r.Environment(), r.Completed.Format(time.RFC3339))
}

// Start moves the run to Running. The collector must have finished it, and
// it must not have been synced or be syncing already. Errored runs may be
// started again.
func (r *Run) Start() error {
	if r.Status != CollectionFinished {
		return snitcherr.RunInvalidStatus("runs.start", r.Path, r.Status)
	}
	switch r.SyncStatus {
	case "", SyncNew, SyncErrored:
	case SyncFinished:
		return snitcherr.RunAlreadySynced("runs.start", r.Path)
	default:
		return snitcherr.RunInvalidStatus("runs.start", r.Path, string(r.SyncStatus))
	}
	r.SyncStatus = SyncRunning
	r.SyncError = ""
	return nil
}

// Finish moves a running run to Finished, synced at the given time.
func (r *Run) Finish(at time.Time) error {
	if r.SyncStatus != SyncRunning {
		return snitcherr.RunInvalidStatus("runs.finish", r.Path, string(r.SyncStatus))
	}
	at = at.UTC()
	r.SyncStatus = SyncFinished
	r.Synced = &at
	return nil
}

// Fail moves a running run to Errored and records the cause.
func (r *Run) Fail(cause error) error {
	if r.SyncStatus != SyncRunning {
		return snitcherr.RunInvalidStatus("runs.fail", r.Path, string(r.SyncStatus))
	}
	r.SyncStatus = SyncErrored
	if cause != nil {
		r.SyncError = cause.Error()
	}
	return nil
}

// File returns the path of a file inside the run.
func (r *Run) File(name string) string {
	return filepath.Join(r.Path, name)
}

// Files returns the names of run files matching the glob pattern, sorted.
func (r *Run) Files(pattern string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(r.Path, pattern))
	if err != nil {
		return nil, fmt.Errorf("bad file pattern %q: %w", pattern, err)
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, filepath.Base(m))
	}
	sort.Strings(out)
	return out, nil
}

// ReadJSON decodes the run file name into v.
func (r *Run) ReadJSON(name string, v any) error {
	data, err := os.ReadFile(r.File(name))
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", r.File(name), err)
	}
	return nil
}

// parseTime accepts RFC 3339 and the space separated form collectors write.
func parseTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999", "2006-01-02T15:04:05.999999999"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
