package engine

import (
	"context"
	"slices"
	"sync/atomic"

	"github.com/kelindar/bitmap"
	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"
)

type systemMetadata struct {
	name string        // The name of the system
	deps bitmap.Bitmap // Resources the system touches
	fn   func(ctx context.Context) error
}

// systemScheduler runs the systems of one hook with as much parallelism as their dependencies
// allow. Two systems that share a resource run in registration order.
type systemScheduler struct {
	systems        []systemMetadata
	tier0          []int         // Systems without dependencies
	graph          map[int][]int // System -> systems that wait for it
	activeIndegree uint8         // Which of indegree0/indegree1 the next run consumes
	// indegree0 and indegree1 are double-buffered dependency counters. A run counts one down to
	// zero while counting the other back up, so neither needs resetting between runs.
	indegree0 []atomic.Int32
	indegree1 []atomic.Int32
}

func newSystemScheduler() systemScheduler {
	return systemScheduler{
		systems: make([]systemMetadata, 0),
		tier0:   make([]int, 0),
		graph:   make(map[int][]int),
	}
}

func (s *systemScheduler) register(name string, deps bitmap.Bitmap, fn func(ctx context.Context) error) {
	s.systems = append(s.systems, systemMetadata{name: name, deps: deps, fn: fn})
}

// Run executes every system once. All systems run even if some fail; the first error is returned.
func (s *systemScheduler) Run(ctx context.Context) error {
	if len(s.systems) == 0 {
		return nil
	}

	executionQueue := make(chan int, len(s.systems))
	defer close(executionQueue)

	currentIndegree, nextIndegree := s.getCurrentAndNextIndegrees()
	g := new(errgroup.Group)

	for _, systemID := range s.tier0 {
		executionQueue <- systemID
	}

	for range s.systems {
		systemID := <-executionQueue
		g.Go(func() error {
			// Dependents are released even when this system fails so that every system runs.
			var err error
			if err = s.systems[systemID].fn(ctx); err != nil {
				err = eris.Wrapf(err, "system %s failed", s.systems[systemID].name)
			}

			for _, dependent := range s.graph[systemID] {
				remainingDeps := currentIndegree[dependent].Add(-1)
				nextIndegree[dependent].Add(1)
				if remainingDeps == 0 {
					executionQueue <- dependent
				}
			}

			return err
		})
	}

	if err := g.Wait(); err != nil {
		return eris.Wrap(err, "system returned an error")
	}
	return nil
}

func (s *systemScheduler) getCurrentAndNextIndegrees() ([]atomic.Int32, []atomic.Int32) {
	isFirstBuffer := s.activeIndegree == 0
	s.activeIndegree = 1 - s.activeIndegree

	if isFirstBuffer {
		return s.indegree0, s.indegree1
	}
	return s.indegree1, s.indegree0
}

// createSchedule builds the dependency graph. Must be called after all systems are registered and
// before the first Run.
func (s *systemScheduler) createSchedule() {
	graph, indegree := buildDependencyGraph(s.systems)
	s.graph = graph

	s.indegree0 = make([]atomic.Int32, len(s.systems))
	s.indegree1 = make([]atomic.Int32, len(s.systems))
	s.activeIndegree = 0
	for k, v := range indegree {
		s.indegree0[k].Store(int32(v)) //nolint:gosec // Won't overflow
	}

	s.tier0 = getFirstTier(s.systems, indegree)
}

// buildDependencyGraph orders every pair of systems that share a resource. Edges only point from
// earlier to later registrations, so the graph is acyclic.
func buildDependencyGraph(systems []systemMetadata) (map[int][]int, map[int]int) {
	graph := make(map[int][]int, len(systems))
	indegree := make(map[int]int, len(systems))

	for systemA := range len(systems) - 1 {
		var depsA []uint32
		systems[systemA].deps.Range(func(x uint32) {
			depsA = append(depsA, x)
		})

		for systemB := systemA + 1; systemB < len(systems); systemB++ {
			if slices.ContainsFunc(depsA, systems[systemB].deps.Contains) {
				graph[systemA] = append(graph[systemA], systemB)
				indegree[systemB]++
			}
		}
	}

	return graph, indegree
}

func getFirstTier(systems []systemMetadata, indegree map[int]int) []int {
	var tier []int
	for systemID := range systems {
		if indegree[systemID] == 0 {
			tier = append(tier, systemID)
		}
	}
	return tier
}
