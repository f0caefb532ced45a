package solver

import (
	"math"
	"math/rand/v2"
	"sort"
)

// tournamentSelect picks a parent by rank, breaking ties on crowding
// distance so sparse regions of the front are favored.
func tournamentSelect(population []*Individual, size int, rng *rand.Rand) *Individual {
	best := population[rng.IntN(len(population))]
	for i := 1; i < size; i++ {
		challenger := population[rng.IntN(len(population))]
		if challenger.Rank < best.Rank ||
			(challenger.Rank == best.Rank && challenger.Crowding > best.Crowding) {
			best = challenger
		}
	}
	return best
}

// crossover picks 1-3 cut points on the flat gene vector and swaps the
// alternating segments between two parents, producing two children. The children violate the demand
// invariant until repair runs.
func crossover(parent1, parent2 *Individual, rng *rand.Rand) (*Individual, *Individual) {
	child1 := parent1.Clone()
	child2 := parent2.Clone()
	child1.Invalidate()
	child2.Invalidate()

	genes := len(child1.Allocation.X)
	if genes < 2 {
		return child1, child2
	}

	nCuts := 1 + rng.IntN(3)
	cuts := make([]int, nCuts)
	for i := range cuts {
		cuts[i] = 1 + rng.IntN(genes-1)
	}
	sort.Ints(cuts)

	// Swap alternating segments
	swapping := false
	cutIdx := 0
	for g := 0; g < genes; g++ {
		for cutIdx < nCuts && g == cuts[cutIdx] {
			swapping = !swapping
			cutIdx++
		}
		if swapping {
			child1.Allocation.X[g], child2.Allocation.X[g] = child2.Allocation.X[g], child1.Allocation.X[g]
		}
	}

	return child1, child2
}

// mutate applies integer Gaussian perturbation gene by gene. Both the
// per-gene probability and the step size anneal linearly over the run,
// with the probability floored at a tenth of the base rate.
func mutate(ind *Individual, p *mutationParams, rng *rand.Rand) {
	mutated := false
	al := ind.Allocation

	for a := 0; a < p.areas; a++ {
		for j := 0; j < p.labs; j++ {
			for t := 0; t < p.tests; t++ {
				if rng.Float64() >= p.rate {
					continue
				}
				idx := al.Index(a, j, t)
				perturbed := float64(al.X[idx]) + rng.NormFloat64()*p.sigma
				v := int(math.Round(perturbed))
				if v < 0 {
					v = 0
				}
				if max := p.demandAt(a, t); v > max {
					v = max
				}
				if v != al.X[idx] {
					al.X[idx] = v
					mutated = true
				}
			}
		}
	}

	if mutated {
		ind.Invalidate()
	}
}

// mutationParams carries the annealed mutation settings for one
// generation.
type mutationParams struct {
	areas, labs, tests int
	rate               float64
	sigma              float64
	demandAt           func(a, t int) int
}

// annealedMutation derives the generation-g mutation settings.
func annealedMutation(params *Parameters, generation, maxDemand, areas, labs, tests int, demandAt func(a, t int) int) *mutationParams {
	progress := float64(generation) / float64(params.MaxGenerations)
	rate := params.MutationRate * (1 - progress)
	if floor := params.MutationRate / 10; rate < floor {
		rate = floor
	}

	sigma := float64(maxDemand) * 0.1 * (1 - progress)
	if sigma < 0.5 {
		sigma = 0.5
	}

	return &mutationParams{
		areas:    areas,
		labs:     labs,
		tests:    tests,
		rate:     rate,
		sigma:    sigma,
		demandAt: demandAt,
	}
}
