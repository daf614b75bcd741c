// Package snitch turns the files of a collected run into graph facts.
//
// Each Producer owns one kind of collector file. Producers run in order for
// every run: the environment first, then types that hang off it. All facts
// are written as of the run's completion time, so applying the same run
// twice changes nothing.
package snitch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/sacharya/FleetDeploymentReporting/graph"
	"github.com/sacharya/FleetDeploymentReporting/model"
	"github.com/sacharya/FleetDeploymentReporting/runs"
	"github.com/sacharya/FleetDeploymentReporting/schema"
)

// Producer writes the facts of one kind of run file.
type Producer interface {
	// Name identifies the producer in logs.
	Name() string

	// Snitch applies the run's files to the graph.
	Snitch(ctx context.Context, store graph.Store, run *runs.Run) error
}

// Default returns the standard producers in the order they must run.
func Default(reg *schema.Registry, logger *slog.Logger) []Producer {
	b := base{reg: reg, logger: logger}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	return []Producer{
		&EnvironmentSnitcher{base: b},
		&UservarsSnitcher{base: b},
		&HostSnitcher{base: b},
		&ConfiguredInterfaceSnitcher{base: b},
	}
}

type base struct {
	reg    *schema.Registry
	logger *slog.Logger
}

// document is the layout of every collector file.
type document struct {
	Environment struct {
		AccountNumber string `json:"account_number"`
		Name          string `json:"name"`
	} `json:"environment"`
	Data map[string]any `json:"data"`
}

// hostFile is a per-host collector file.
type hostFile struct {
	hostname string
	name     string
}

// hostFiles returns the run files whose names match pattern, which must
// capture the hostname as its first group.
func hostFiles(run *runs.Run, pattern *regexp.Regexp) ([]hostFile, error) {
	names, err := run.Files("*.json")
	if err != nil {
		return nil, err
	}
	var out []hostFile
	for _, n := range names {
		m := pattern.FindStringSubmatch(n)
		if m == nil {
			continue
		}
		out = append(out, hostFile{hostname: m[1], name: n})
	}
	return out, nil
}

// entity builds an entity from collected values. Keys are made valid
// property names and anything the schema does not declare for label is
// dropped.
func (b base) entity(label string, identity, data map[string]any) model.Entity {
	props := make(map[string]any, len(identity)+len(data))
	for k, v := range data {
		k = propertyName(k)
		if _, err := b.reg.ValidateProperty(label, k); err != nil {
			b.logger.Debug("dropping undeclared property", "label", label, "property", k)
			continue
		}
		props[k] = value(v)
	}
	for k, v := range identity {
		props[k] = v
	}
	return model.Entity{Label: label, Props: props}
}

// propertyName replaces characters graph property names cannot carry.
func propertyName(k string) string {
	return strings.ReplaceAll(k, "-", "_")
}

// value keeps scalars and lists of scalars. Anything nested is stored as its
// JSON text.
func value(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return jsonText(t)
	case []any:
		for _, e := range t {
			switch e.(type) {
			case map[string]any, []any:
				return jsonText(t)
			}
		}
		return t
	default:
		return v
	}
}

func jsonText(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(raw)
}

// at is the instant every fact of run is written at.
func at(run *runs.Run) int64 {
	return graph.Millis(run.Completed)
}
