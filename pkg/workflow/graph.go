package workflow

import (
	"fmt"
	"sort"
	"strings"

	"github.com/openfroyo/xbzone/pkg/engine"
)

// Graph is the dependency structure of a workflow.
type Graph struct {
	// Levels holds step IDs grouped by execution level. Steps in one level
	// have no dependency on each other.
	Levels [][]string

	// Dependents maps a step ID to the steps waiting for it.
	Dependents map[string][]string
}

// graphBuilder builds a level graph from workflow steps.
type graphBuilder struct {
	steps map[string]*Step

	// adjacency maps step IDs to the steps that wait for them
	adjacency map[string][]string

	// inDegree tracks the number of unfinished dependencies of each step
	inDegree map[string]int
}

// BuildGraph validates the steps and computes their execution levels.
func BuildGraph(steps []Step) (*Graph, error) {
	b := &graphBuilder{
		steps:     make(map[string]*Step),
		adjacency: make(map[string][]string),
		inDegree:  make(map[string]int),
	}

	if err := b.initialize(steps); err != nil {
		return nil, err
	}
	if err := b.detectCycles(); err != nil {
		return nil, err
	}
	return b.computeLevels()
}

func (b *graphBuilder) initialize(steps []Step) error {
	for i := range steps {
		step := &steps[i]
		if step.ID == "" {
			return engine.NewPermanentError("step has empty ID", nil).
				WithCode(engine.ErrCodeValidation)
		}
		if err := step.Validate(); err != nil {
			return err
		}
		if _, exists := b.steps[step.ID]; exists {
			return engine.NewPermanentError(fmt.Sprintf("duplicate step ID: %s", step.ID), nil).
				WithCode(engine.ErrCodeValidation)
		}
		b.steps[step.ID] = step
		b.adjacency[step.ID] = nil
		b.inDegree[step.ID] = 0
	}

	for _, step := range steps {
		for _, dep := range step.WaitFor {
			if _, exists := b.steps[dep]; !exists {
				return engine.NewPermanentError(
					fmt.Sprintf("step %s waits for non-existent step %s", step.ID, dep), nil).
					WithCode(engine.ErrCodeValidation).
					WithResource(step.ID)
			}
			b.adjacency[dep] = append(b.adjacency[dep], step.ID)
			b.inDegree[step.ID]++
		}
	}

	return nil
}

// detectCycles uses depth-first search to find circular waits.
func (b *graphBuilder) detectCycles() error {
	visited := make(map[string]bool)
	onStack := make(map[string]bool)

	var visit func(id string, path []string) []string
	visit = func(id string, path []string) []string {
		visited[id] = true
		onStack[id] = true
		path = append(path, id)

		for _, next := range b.adjacency[id] {
			if !visited[next] {
				if cycle := visit(next, path); cycle != nil {
					return cycle
				}
			} else if onStack[next] {
				for i, p := range path {
					if p == next {
						return append(append([]string{}, path[i:]...), next)
					}
				}
			}
		}

		onStack[id] = false
		return nil
	}

	for _, id := range sortedKeys(b.steps) {
		if visited[id] {
			continue
		}
		if cycle := visit(id, nil); cycle != nil {
			return engine.NewPermanentError(
				fmt.Sprintf("circular wait detected: %s", strings.Join(cycle, " -> ")), nil).
				WithCode(engine.ErrCodeValidation)
		}
	}
	return nil
}

// computeLevels applies Kahn's algorithm, keeping each level sorted.
func (b *graphBuilder) computeLevels() (*Graph, error) {
	inDegree := make(map[string]int, len(b.inDegree))
	for id, d := range b.inDegree {
		inDegree[id] = d
	}

	var current []string
	for _, id := range sortedKeys(b.steps) {
		if inDegree[id] == 0 {
			current = append(current, id)
		}
	}

	graph := &Graph{Dependents: b.adjacency}
	processed := 0
	for len(current) > 0 {
		graph.Levels = append(graph.Levels, current)
		processed += len(current)

		var next []string
		for _, id := range current {
			for _, dependent := range b.adjacency[id] {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		sort.Strings(next)
		current = next
	}

	if processed != len(b.steps) {
		return nil, engine.NewPermanentError("failed to order all steps - possible cycle", nil).
			WithCode(engine.ErrCodeInternal)
	}
	return graph, nil
}

func sortedKeys(m map[string]*Step) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
