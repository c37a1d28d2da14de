// Package graph provides dependency layering for plan steps.
package graph

import (
	"errors"
	"sort"
	"sync"

	"github.com/ShayCichocki/stepwise/pkg/models"
)

// ErrCycleDetected indicates a circular dependency was found among plan steps.
var ErrCycleDetected = errors.New("circular dependency detected")

// DependencyGraph is a directed graph of step dependencies.
// Steps are nodes, and edges point from a step to the steps it depends on.
type DependencyGraph struct {
	mu sync.RWMutex
	// nodes maps step number to the step itself.
	nodes map[int]*models.Step
	// edges maps step number to the step numbers it depends on.
	edges map[int][]int
}

// New creates a new empty dependency graph.
func New() *DependencyGraph {
	return &DependencyGraph{
		nodes: make(map[int]*models.Step),
		edges: make(map[int][]int),
	}
}

// Build constructs the graph from a slice of steps.
// Unknown dependencies are an error; cycles are not, see FindCycle.
func (g *DependencyGraph) Build(steps []*models.Step) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.nodes = make(map[int]*models.Step, len(steps))
	g.edges = make(map[int][]int, len(steps))
	for _, s := range steps {
		g.nodes[s.StepNumber] = s
		g.edges[s.StepNumber] = nil
	}

	for _, s := range steps {
		for _, dep := range s.DependsOn {
			if _, exists := g.nodes[dep]; !exists {
				return &UnknownDependencyError{StepNumber: s.StepNumber, DependsOn: dep}
			}
			g.edges[s.StepNumber] = append(g.edges[s.StepNumber], dep)
		}
	}
	return nil
}

// FindCycle returns the step numbers of one cycle in traversal order,
// or nil when the graph is acyclic. Uses depth-first search with colouring.
func (g *DependencyGraph) FindCycle() []int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	// 0 = unvisited, 1 = on the current path, 2 = done.
	colors := make(map[int]int, len(g.nodes))
	var path []int
	var cycle []int

	var visit func(n int) bool
	visit = func(n int) bool {
		colors[n] = 1
		path = append(path, n)
		for _, dep := range g.edges[n] {
			switch colors[dep] {
			case 1:
				for i, p := range path {
					if p == dep {
						cycle = append([]int(nil), path[i:]...)
						break
					}
				}
				return true
			case 0:
				if visit(dep) {
					return true
				}
			}
		}
		path = path[:len(path)-1]
		colors[n] = 2
		return false
	}

	for _, n := range g.sortedNodes() {
		if colors[n] == 0 && visit(n) {
			return cycle
		}
	}
	return nil
}

func (g *DependencyGraph) sortedNodes() []int {
	ids := make([]int, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
