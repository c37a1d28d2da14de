package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ShayCichocki/stepwise/pkg/models"
)

// CyclicDependencyError reports steps that could not be placed because
// their dependencies form a cycle (or depend on a cycle).
type CyclicDependencyError struct {
	// Remaining lists the unplaced step numbers in ascending order.
	Remaining []int
	// Cycle is one cycle among them in dependency order.
	Cycle []int
}

func (e *CyclicDependencyError) Error() string {
	msg := fmt.Sprintf("cyclic dependency among steps [%s]", joinSteps(e.Remaining, ", "))
	if len(e.Cycle) > 0 {
		msg += fmt.Sprintf(" (cycle %s -> %d)", joinSteps(e.Cycle, " -> "), e.Cycle[0])
	}
	return msg
}

func joinSteps(steps []int, sep string) string {
	parts := make([]string, len(steps))
	for i, n := range steps {
		parts[i] = fmt.Sprintf("%d", n)
	}
	return strings.Join(parts, sep)
}

// Is lets errors.Is match any CyclicDependencyError against ErrCycleDetected.
func (e *CyclicDependencyError) Is(target error) bool {
	return target == ErrCycleDetected
}

// UnknownDependencyError reports a dependency on a step that does not exist.
type UnknownDependencyError struct {
	StepNumber int
	DependsOn  int
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("step %d depends on unknown step %d", e.StepNumber, e.DependsOn)
}

// BuildLayers groups steps into ordered layers safe for concurrent execution.
// Each pass selects every unplaced step whose dependencies are all placed.
// It runs at most len(steps) passes. A pass that places nothing while steps
// remain returns the layers built so far and a *CyclicDependencyError.
func BuildLayers(steps []*models.Step) ([][]int, error) {
	layers, remaining, err := layer(steps)
	if err != nil {
		return nil, err
	}
	if len(remaining) > 0 {
		g := New()
		if err := g.Build(steps); err != nil {
			return nil, err
		}
		return layers, &CyclicDependencyError{Remaining: remaining, Cycle: g.FindCycle()}
	}
	return layers, nil
}

func layer(steps []*models.Step) ([][]int, []int, error) {
	known := make(map[int]bool, len(steps))
	for _, s := range steps {
		known[s.StepNumber] = true
	}
	for _, s := range steps {
		for _, dep := range s.DependsOn {
			if !known[dep] {
				return nil, nil, &UnknownDependencyError{StepNumber: s.StepNumber, DependsOn: dep}
			}
		}
	}

	placed := make(map[int]bool, len(steps))
	var layers [][]int

	for iter := 0; iter < len(steps) && len(placed) < len(steps); iter++ {
		var next []int
		for _, s := range steps {
			if placed[s.StepNumber] {
				continue
			}
			ready := true
			for _, dep := range s.DependsOn {
				if !placed[dep] {
					ready = false
					break
				}
			}
			if ready {
				next = append(next, s.StepNumber)
			}
		}
		if len(next) == 0 {
			break
		}
		// Members are marked after selection so a layer never satisfies itself.
		for _, n := range next {
			placed[n] = true
		}
		sort.Ints(next)
		layers = append(layers, next)
	}

	var remaining []int
	for _, s := range steps {
		if !placed[s.StepNumber] {
			remaining = append(remaining, s.StepNumber)
		}
	}
	sort.Ints(remaining)
	return layers, remaining, nil
}

// Renumber rewrites step numbers so they follow layer order, which removes
// forward references from an acyclic plan. Steps keep their relative order
// within a layer. It returns the mapping from old to new numbers.
// Steps and layers are modified in place.
func Renumber(steps []*models.Step, layers [][]int) map[int]int {
	mapping := make(map[int]int, len(steps))
	next := 1
	for _, l := range layers {
		for _, n := range l {
			mapping[n] = next
			next++
		}
	}

	for _, s := range steps {
		s.StepNumber = mapping[s.StepNumber]
		for i, dep := range s.DependsOn {
			s.DependsOn[i] = mapping[dep]
		}
		sort.Ints(s.DependsOn)
	}
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].StepNumber < steps[j].StepNumber })

	for _, l := range layers {
		for i, n := range l {
			l[i] = mapping[n]
		}
		sort.Ints(l)
	}
	return mapping
}

// HasForwardReferences reports whether any step depends on itself or a later step.
func HasForwardReferences(steps []*models.Step) bool {
	for _, s := range steps {
		if s.HasForwardReference() {
			return true
		}
	}
	return false
}
