// Warden - Supervised Service Runtime
// Copyright 2026 BranchManager69
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/BranchManager69/warden

package registry

import "sort"

// topoSort orders service names so every service appears after all of its
// dependencies. Ties break alphabetically so the order is deterministic.
// Returns CyclicDependencyError if the graph has a cycle and
// UnknownServiceError if a dependency was never registered.
func topoSort(deps map[string][]string) ([]string, error) {
	indegree := make(map[string]int, len(deps))
	dependents := make(map[string][]string, len(deps))

	for name := range deps {
		indegree[name] += 0
	}
	for name, requires := range deps {
		for _, dep := range requires {
			if _, ok := deps[dep]; !ok {
				return nil, &UnknownServiceError{Name: dep}
			}
			indegree[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}

	ready := make([]string, 0, len(deps))
	for name, n := range indegree {
		if n == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(deps))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)

		for _, dep := range dependents[name] {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
		sort.Strings(ready)
	}

	if len(order) != len(deps) {
		var stuck []string
		for name, n := range indegree {
			if n > 0 {
				stuck = append(stuck, name)
			}
		}
		sort.Strings(stuck)
		return nil, &CyclicDependencyError{Services: stuck}
	}
	return order, nil
}
