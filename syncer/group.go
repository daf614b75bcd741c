package syncer

import (
	"sort"

	"github.com/sacharya/FleetDeploymentReporting/runs"
	"github.com/sacharya/FleetDeploymentReporting/schema"
)

// Group is every run of one environment, oldest first.
type Group struct {
	AccountNumber string
	Name          string
	Runs          []*runs.Run
}

// Environment returns the identity of the group's environment.
func (g Group) Environment() string {
	return schema.EnvironmentIdentity(g.AccountNumber, g.Name)
}

// GroupRuns sorts runs by environment and completion time and groups them
// by environment. Ties on completion time are broken by path.
func GroupRuns(rs []*runs.Run) []Group {
	sorted := append([]*runs.Run(nil), rs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.AccountNumber != b.AccountNumber {
			return a.AccountNumber < b.AccountNumber
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		if !a.Completed.Equal(b.Completed) {
			return a.Completed.Before(b.Completed)
		}
		return a.Path < b.Path
	})

	var groups []Group
	for _, r := range sorted {
		n := len(groups)
		if n > 0 && groups[n-1].AccountNumber == r.AccountNumber && groups[n-1].Name == r.Name {
			groups[n-1].Runs = append(groups[n-1].Runs, r)
			continue
		}
		groups = append(groups, Group{AccountNumber: r.AccountNumber, Name: r.Name, Runs: []*runs.Run{r}})
	}
	return groups
}
