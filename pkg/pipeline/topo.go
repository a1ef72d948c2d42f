package pipeline

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrDependencyCycle is returned at construction when layer
	// dependencies form a cycle.
	ErrDependencyCycle = errors.New("pipeline: dependency cycle")
	// ErrUnknownDependency is returned at construction when a layer names
	// a dependency that is not registered.
	ErrUnknownDependency = errors.New("pipeline: unknown dependency")
	// ErrDuplicateLayer is returned at construction when two layers share
	// an ID.
	ErrDuplicateLayer = errors.New("pipeline: duplicate layer id")
)

// orderLayers resolves the execution order with Kahn's algorithm.
// Registration order breaks ties so the result is deterministic.
func orderLayers(layers []Layer) ([]Layer, error) {
	byID := make(map[string]Layer, len(layers))
	regIndex := make(map[string]int, len(layers))
	for i, l := range layers {
		id := l.Config().ID
		if id == "" {
			return nil, fmt.Errorf("pipeline: layer at position %d has empty id", i)
		}
		if _, dup := byID[id]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateLayer, id)
		}
		byID[id] = l
		regIndex[id] = i
	}

	indegree := make(map[string]int, len(layers))
	dependents := make(map[string][]string, len(layers))
	for _, l := range layers {
		cfg := l.Config()
		indegree[cfg.ID] += 0
		for _, dep := range cfg.Dependencies {
			if _, ok := byID[dep]; !ok {
				return nil, fmt.Errorf("%w: layer %s depends on %s", ErrUnknownDependency, cfg.ID, dep)
			}
			indegree[cfg.ID]++
			dependents[dep] = append(dependents[dep], cfg.ID)
		}
	}

	ready := make([]string, 0, len(layers))
	for id, d := range indegree {
		if d == 0 {
			ready = append(ready, id)
		}
	}

	ordered := make([]Layer, 0, len(layers))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return regIndex[ready[i]] < regIndex[ready[j]] })
		id := ready[0]
		ready = ready[1:]
		ordered = append(ordered, byID[id])
		for _, next := range dependents[id] {
			indegree[next]--
			if indegree[next] == 0 {
				ready = append(ready, next)
			}
		}
	}

	if len(ordered) != len(layers) {
		stuck := make([]string, 0)
		for id, d := range indegree {
			if d > 0 {
				stuck = append(stuck, id)
			}
		}
		sort.Strings(stuck)
		return nil, fmt.Errorf("%w: involving %v", ErrDependencyCycle, stuck)
	}
	return ordered, nil
}
