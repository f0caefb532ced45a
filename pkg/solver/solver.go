// Package solver implements the multi-objective evolutionary engine
// that allocates test demand from service areas to laboratories. The
// default algorithm is NSGA-II; alternatives slot in behind the Solver
// interface without touching the scheduler.
package solver

import (
	"context"
)

// Solver is the capability set the scheduler drives. Implementations
// own their population; the Problem is shared read-only.
type Solver interface {
	// Initialize builds and evaluates the initial population.
	Initialize(ctx context.Context) error

	// EvolveOneGeneration advances the population by one generation and
	// reports progress statistics.
	EvolveOneGeneration(ctx context.Context) (GenerationStats, error)

	// ExtractFront returns copies of the current rank-0 individuals.
	ExtractFront() []*Individual
}

// GenerationStats summarizes one generation for progress reporting and
// termination checks.
type GenerationStats struct {
	Generation    int
	BestFitness   float64 // lowest composite fitness in the population
	MeanFitness   float64
	Hypervolume   float64
	FrontSize     int
	Diversity     float64 // mean pairwise distance in objective space
	Converged     bool    // hypervolume variance below threshold
	DiversityLow  bool    // diversity below threshold with stalled improvement
	EvalCacheHits int64
}
