package mcpmgr

import (
	"maps"
	"slices"
	"sort"
)

// Plan partitions server ids into the actions needed to move from one
// configuration to another. The four sets are disjoint and their union is the
// union of the two configurations' id sets.
type Plan struct {
	Add       []string
	Remove    []string
	Restart   []string
	Unchanged []string
}

// Diff compares two configuration snapshots. It is pure: no side effects, and
// deterministic output ordering (ids sorted within each set).
func Diff(old, new Config) Plan {
	var plan Plan
	for id, newCfg := range new {
		oldCfg, existed := old[id]
		switch {
		case !existed:
			plan.Add = append(plan.Add, id)
		case configsEqual(oldCfg, newCfg):
			plan.Unchanged = append(plan.Unchanged, id)
		default:
			plan.Restart = append(plan.Restart, id)
		}
	}
	for id := range old {
		if _, still := new[id]; !still {
			plan.Remove = append(plan.Remove, id)
		}
	}
	sort.Strings(plan.Add)
	sort.Strings(plan.Remove)
	sort.Strings(plan.Restart)
	sort.Strings(plan.Unchanged)
	return plan
}

// configsEqual compares every field that affects a live connection, so any
// difference forces a restart. This comparison must be extended whenever a
// field is added to ServerConfig; a field missed here silently suppresses
// restarts that the new value needs.
func configsEqual(a, b ServerConfig) bool {
	if a.Kind() != b.Kind() {
		return false
	}
	if a.Name != b.Name || a.Description != b.Description || a.IsEnabled() != b.IsEnabled() {
		return false
	}
	switch a.Kind() {
	case TransportStdio:
		return a.Command == b.Command &&
			slices.Equal(a.Args, b.Args) &&
			maps.Equal(a.Env, b.Env) &&
			a.Cwd == b.Cwd
	case TransportHTTP:
		return a.URL == b.URL && maps.Equal(a.Headers, b.Headers)
	case TransportWebSocket:
		return a.URL == b.URL &&
			maps.Equal(a.Headers, b.Headers) &&
			a.ReconnectAttempts == b.ReconnectAttempts &&
			a.ReconnectDelayMS == b.ReconnectDelayMS
	}
	return false
}
