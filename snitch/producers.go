package snitch

import (
	"context"
	"fmt"
	"regexp"

	"github.com/sacharya/FleetDeploymentReporting/graph"
	"github.com/sacharya/FleetDeploymentReporting/model"
	"github.com/sacharya/FleetDeploymentReporting/runs"
	"github.com/sacharya/FleetDeploymentReporting/schema"
)

// EnvironmentSnitcher upserts the run's environment.
type EnvironmentSnitcher struct{ base }

// Name implements Producer.
func (s *EnvironmentSnitcher) Name() string { return "environment" }

// Snitch creates or refreshes the environment of run and its state.
func (s *EnvironmentSnitcher) Snitch(ctx context.Context, store graph.Store, run *runs.Run) error {
	return store.ExecuteWrite(ctx, func(tx graph.Tx) error {
		_, err := model.Update(ctx, tx, s.reg, model.Entity{
			Label: schema.Environment,
			Props: map[string]any{"account_number": run.AccountNumber, "name": run.Name},
		}, at(run))
		return err
	})
}

// UservarsSnitcher models environment -> uservar from uservars.json, whose
// data maps variable names to values.
type UservarsSnitcher struct{ base }

// UservarsFile is the run file read by UservarsSnitcher.
const UservarsFile = "uservars.json"

// Name implements Producer.
func (s *UservarsSnitcher) Name() string { return "uservars" }

// Snitch links each variable in run's uservars file to the environment
// and unlinks variables the file no longer names. A run without the file
// leaves the graph untouched.
func (s *UservarsSnitcher) Snitch(ctx context.Context, store graph.Store, run *runs.Run) error {
	files, err := run.Files(UservarsFile)
	if err != nil || len(files) == 0 {
		return err
	}
	var doc document
	if err := run.ReadJSON(UservarsFile, &doc); err != nil {
		return err
	}

	ts := at(run)
	env := run.Environment()
	return store.ExecuteWrite(ctx, func(tx graph.Tx) error {
		ids := make([]string, 0, len(doc.Data))
		for name, v := range doc.Data {
			id, err := model.Update(ctx, tx, s.reg, model.Entity{
				Label: "Uservar",
				Props: map[string]any{"name": name, "environment": env, "value": value(v)},
			}, ts)
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		_, err := model.Link(ctx, tx, s.reg, schema.Environment, env, "Uservar", ids, ts)
		return err
	})
}

// HostSnitcher models environment -> host from host_<hostname>.json files,
// whose data holds the host's facts. Hosts without a file in the run are
// unlinked from the environment.
type HostSnitcher struct{ base }

var hostPattern = regexp.MustCompile(`^host_(.+)\.json$`)

// Name implements Producer.
func (s *HostSnitcher) Name() string { return "host" }

// Snitch updates every host with a file in run, then links the
// environment to exactly those hosts.
func (s *HostSnitcher) Snitch(ctx context.Context, store graph.Store, run *runs.Run) error {
	files, err := hostFiles(run, hostPattern)
	if err != nil {
		return err
	}

	ts := at(run)
	env := run.Environment()
	ids := make([]string, 0, len(files))
	for _, f := range files {
		var doc document
		if err := run.ReadJSON(f.name, &doc); err != nil {
			return err
		}
		e := s.entity("Host", map[string]any{"hostname": f.hostname, "environment": env}, doc.Data)
		err := store.ExecuteWrite(ctx, func(tx graph.Tx) error {
			id, err := model.Update(ctx, tx, s.reg, e, ts)
			if err != nil {
				return err
			}
			ids = append(ids, id)
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to update host %s: %w", f.hostname, err)
		}
	}

	return store.ExecuteWrite(ctx, func(tx graph.Tx) error {
		d, err := model.Link(ctx, tx, s.reg, schema.Environment, env, "Host", ids, ts)
		if err != nil {
			return err
		}
		s.logger.Debug("linked hosts", "environment", env, "opened", d.Opened, "closed", d.Closed)
		return nil
	})
}

// ConfiguredInterfaceSnitcher models host -> configuredinterface from
// configuredinterface_<hostname>.json files, whose data maps device names to
// interface settings. Files for hosts that do not exist are skipped.
type ConfiguredInterfaceSnitcher struct{ base }

var configuredInterfacePattern = regexp.MustCompile(`^configuredinterface_(.+)\.json$`)

// Name implements Producer.
func (s *ConfiguredInterfaceSnitcher) Name() string { return "configuredinterface" }

// Snitch updates the interfaces of each host named by a file in run.
func (s *ConfiguredInterfaceSnitcher) Snitch(ctx context.Context, store graph.Store, run *runs.Run) error {
	files, err := hostFiles(run, configuredInterfacePattern)
	if err != nil {
		return err
	}
	for _, f := range files {
		if err := s.updateHost(ctx, store, run, f); err != nil {
			return fmt.Errorf("failed to update interfaces of %s: %w", f.hostname, err)
		}
	}
	return nil
}

func (s *ConfiguredInterfaceSnitcher) updateHost(ctx context.Context, store graph.Store, run *runs.Run, f hostFile) error {
	var doc document
	if err := run.ReadJSON(f.name, &doc); err != nil {
		return err
	}

	hostID, err := s.reg.IdentityValue("Host", map[string]any{"hostname": f.hostname, "environment": run.Environment()})
	if err != nil {
		return err
	}
	hostKey, err := model.Key(s.reg, "Host", hostID)
	if err != nil {
		return err
	}

	ts := at(run)
	return store.ExecuteWrite(ctx, func(tx graph.Tx) error {
		recs, err := tx.Run(ctx, graph.FindNode{Key: hostKey})
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			s.logger.Warn("unable to locate host", "hostname", f.hostname, "environment", run.Environment())
			return nil
		}

		ids := make([]string, 0, len(doc.Data))
		for device, meta := range doc.Data {
			settings, _ := meta.(map[string]any)
			e := s.entity("ConfiguredInterface", map[string]any{"device": device, "host": hostID}, settings)
			id, err := model.Update(ctx, tx, s.reg, e, ts)
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		_, err = model.Link(ctx, tx, s.reg, "Host", hostID, "ConfiguredInterface", ids, ts)
		return err
	})
}
