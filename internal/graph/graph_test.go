package graph

import (
	"errors"
	"math/rand"
	"reflect"
	"testing"

	"github.com/ShayCichocki/stepwise/pkg/models"
)

func step(n int, deps ...int) *models.Step {
	return &models.Step{StepNumber: n, CapabilityID: "cap", DependsOn: deps}
}

func TestBuildLayers(t *testing.T) {
	tests := []struct {
		name  string
		steps []*models.Step
		want  [][]int
	}{
		{
			name:  "empty",
			steps: nil,
			want:  nil,
		},
		{
			name:  "linear",
			steps: []*models.Step{step(1), step(2, 1), step(3, 2)},
			want:  [][]int{{1}, {2}, {3}},
		},
		{
			name:  "diamond",
			steps: []*models.Step{step(1), step(2, 1), step(3, 1), step(4, 2, 3)},
			want:  [][]int{{1}, {2, 3}, {4}},
		},
		{
			name:  "independent",
			steps: []*models.Step{step(3), step(1), step(2)},
			want:  [][]int{{1, 2, 3}},
		},
		{
			name:  "forward reference without cycle",
			steps: []*models.Step{step(1, 2), step(2)},
			want:  [][]int{{2}, {1}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BuildLayers(tt.steps)
			if err != nil {
				t.Fatalf("BuildLayers() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("BuildLayers() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBuildLayers_Cycle(t *testing.T) {
	steps := []*models.Step{step(1), step(2, 1, 3), step(3, 2), step(4, 3)}

	layers, err := BuildLayers(steps)
	var cycleErr *CyclicDependencyError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("BuildLayers() error = %v, want *CyclicDependencyError", err)
	}
	if !errors.Is(err, ErrCycleDetected) {
		t.Error("CyclicDependencyError does not match ErrCycleDetected")
	}
	if !reflect.DeepEqual(cycleErr.Remaining, []int{2, 3, 4}) {
		t.Errorf("Remaining = %v, want [2 3 4]", cycleErr.Remaining)
	}
	if !reflect.DeepEqual(cycleErr.Cycle, []int{2, 3}) {
		t.Errorf("Cycle = %v, want [2 3]", cycleErr.Cycle)
	}
	if want := "cyclic dependency among steps [2, 3, 4] (cycle 2 -> 3 -> 2)"; err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if !reflect.DeepEqual(layers, [][]int{{1}}) {
		t.Errorf("partial layers = %v, want [[1]]", layers)
	}
}

func TestBuildLayers_SelfReference(t *testing.T) {
	_, err := BuildLayers([]*models.Step{step(1, 1)})
	if !errors.Is(err, ErrCycleDetected) {
		t.Fatalf("self reference error = %v, want cycle", err)
	}
}

func TestBuildLayers_UnknownDependency(t *testing.T) {
	_, err := BuildLayers([]*models.Step{step(1, 9)})
	var unknown *UnknownDependencyError
	if !errors.As(err, &unknown) {
		t.Fatalf("error = %v, want *UnknownDependencyError", err)
	}
	if unknown.DependsOn != 9 {
		t.Errorf("DependsOn = %d, want 9", unknown.DependsOn)
	}
}

// randomDAG builds n steps where each step depends on a random subset of
// earlier steps.
func randomDAG(r *rand.Rand, n int) []*models.Step {
	steps := make([]*models.Step, n)
	for i := 0; i < n; i++ {
		s := step(i + 1)
		for j := 1; j <= i; j++ {
			if r.Intn(3) == 0 {
				s.DependsOn = append(s.DependsOn, j)
			}
		}
		steps[i] = s
	}
	// Shuffle input order; layering must not depend on it.
	r.Shuffle(len(steps), func(i, j int) { steps[i], steps[j] = steps[j], steps[i] })
	return steps
}

func TestBuildLayers_Properties(t *testing.T) {
	r := rand.New(rand.NewSource(42))

	for trial := 0; trial < 200; trial++ {
		n := r.Intn(25)
		steps := randomDAG(r, n)

		layers, err := BuildLayers(steps)
		if err != nil {
			t.Fatalf("trial %d: BuildLayers() error = %v", trial, err)
		}

		idx := make(map[int]int)
		for i, l := range layers {
			for _, sn := range l {
				idx[sn] = i
			}
		}

		// Every step appears in exactly one layer.
		count := 0
		seen := make(map[int]int)
		for _, l := range layers {
			for _, sn := range l {
				seen[sn]++
				count++
			}
		}
		if count != n {
			t.Fatalf("trial %d: %d placements for %d steps", trial, count, n)
		}
		for _, s := range steps {
			if seen[s.StepNumber] != 1 {
				t.Fatalf("trial %d: step %d placed %d times", trial, s.StepNumber, seen[s.StepNumber])
			}
		}

		// Every dependency sits in a strictly earlier layer.
		for _, s := range steps {
			for _, dep := range s.DependsOn {
				if idx[dep] >= idx[s.StepNumber] {
					t.Fatalf("trial %d: step %d in layer %d depends on %d in layer %d",
						trial, s.StepNumber, idx[s.StepNumber], dep, idx[dep])
				}
			}
		}

		if len(layers) > n {
			t.Fatalf("trial %d: %d layers for %d steps", trial, len(layers), n)
		}
	}
}

func TestBuildLayers_CycleTerminates(t *testing.T) {
	r := rand.New(rand.NewSource(7))

	for trial := 0; trial < 100; trial++ {
		n := 2 + r.Intn(20)
		steps := randomDAG(r, n)
		// Close a cycle between two random steps.
		a, b := steps[r.Intn(n)], steps[r.Intn(n)]
		a.DependsOn = append(a.DependsOn, b.StepNumber)
		b.DependsOn = append(b.DependsOn, a.StepNumber)

		layers, err := BuildLayers(steps)
		if !errors.Is(err, ErrCycleDetected) {
			t.Fatalf("trial %d: error = %v, want cycle", trial, err)
		}
		if len(layers) > n {
			t.Fatalf("trial %d: %d layers for %d steps", trial, len(layers), n)
		}
	}
}

func TestRenumber(t *testing.T) {
	steps := []*models.Step{step(1, 3), step(2), step(3, 2)}
	layers, err := BuildLayers(steps)
	if err != nil {
		t.Fatalf("BuildLayers() error = %v", err)
	}
	if !HasForwardReferences(steps) {
		t.Fatal("expected forward references before renumbering")
	}

	mapping := Renumber(steps, layers)

	if !reflect.DeepEqual(mapping, map[int]int{2: 1, 3: 2, 1: 3}) {
		t.Errorf("mapping = %v", mapping)
	}
	if HasForwardReferences(steps) {
		t.Error("forward references remain after renumbering")
	}
	if !reflect.DeepEqual(layers, [][]int{{1}, {2}, {3}}) {
		t.Errorf("layers = %v", layers)
	}
	if steps[2].StepNumber != 3 || !reflect.DeepEqual(steps[2].DependsOn, []int{2}) {
		t.Errorf("last step = %+v", steps[2])
	}
}

func TestDependencyGraph_Acyclic(t *testing.T) {
	g := New()
	steps := []*models.Step{step(1), step(2, 1), step(3, 1), step(4, 2, 3), step(5)}
	if err := g.Build(steps); err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if cycle := g.FindCycle(); cycle != nil {
		t.Errorf("FindCycle() = %v for a DAG, want nil", cycle)
	}
}

func TestDependencyGraph_FindCycle(t *testing.T) {
	g := New()
	if err := g.Build([]*models.Step{step(1), step(2, 3), step(3, 4), step(4, 2)}); err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	cycle := g.FindCycle()
	if !reflect.DeepEqual(cycle, []int{2, 3, 4}) {
		t.Fatalf("FindCycle() = %v, want [2 3 4]", cycle)
	}
}

func TestDependencyGraph_UnknownDependency(t *testing.T) {
	g := New()
	if err := g.Build([]*models.Step{step(1, 2)}); err == nil {
		t.Error("Build() accepted unknown dependency")
	}
}
