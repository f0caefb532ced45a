package solver

import (
	"context"
	"math"
	"math/rand/v2"

	"github.com/pathdx/cdst-go/pkg/errors"
	"github.com/pathdx/cdst-go/pkg/logging"
	"github.com/pathdx/cdst-go/pkg/problem"
)

// NSGAII is the default Solver: elitist non-dominated sorting with
// crowding-distance diversity preservation over the allocation tensor.
type NSGAII struct {
	problem   *problem.Problem
	params    Parameters
	src       *rand.PCG
	rng       *rand.Rand
	hvRng     *rand.Rand // dedicated stream so hypervolume sampling never shifts the genetic stream
	evaluator *Evaluator
	logger    *logging.Logger

	population []*Individual
	generation int
	maxDemand  int

	hv          *hypervolumeEstimator
	hvWindow    []float64
	bestFitness float64
	stall       int
}

var _ Solver = (*NSGAII)(nil)

// NewNSGAII validates the parameters and prepares a solver for one run.
func NewNSGAII(p *problem.Problem, params Parameters) (*NSGAII, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	var seed1, seed2 uint64
	if params.Seed != nil {
		seed1 = uint64(*params.Seed)
		seed2 = uint64(*params.Seed) ^ 0x9e3779b97f4a7c15
	} else {
		seed1 = rand.Uint64()
		seed2 = rand.Uint64()
	}
	src := rand.NewPCG(seed1, seed2)

	return &NSGAII{
		problem:     p,
		params:      params,
		src:         src,
		rng:         rand.New(src),
		hvRng:       rand.New(rand.NewPCG(seed1^0xda3e39cb94b95bdb, seed2^0xd1b54a32d192ed03)),
		evaluator:   NewEvaluator(p, &params),
		logger:      logging.GetLogger(),
		maxDemand:   p.MaxDemand(),
		bestFitness: math.Inf(1),
	}, nil
}

// Generation returns the current generation counter.
func (s *NSGAII) Generation() int {
	return s.generation
}

// Population exposes the live population for checkpointing. Callers
// must not mutate it.
func (s *NSGAII) Population() []*Individual {
	return s.population
}

// RNGState serializes the random source so a resumed run continues the
// exact stream.
func (s *NSGAII) RNGState() ([]byte, error) {
	return s.src.MarshalBinary()
}

// Restore replaces the population, generation counter and RNG state
// from a checkpoint. Individuals must carry their objective vectors.
func (s *NSGAII) Restore(population []*Individual, generation int, rngState []byte) error {
	if len(population) == 0 {
		return errors.New(errors.CheckpointFailed, "checkpoint population is empty")
	}
	if err := s.src.UnmarshalBinary(rngState); err != nil {
		return errors.Wrap(err, errors.CheckpointFailed, "failed to restore RNG state")
	}

	for _, ind := range population {
		ind.evaluated = true
	}
	s.population = population
	s.generation = generation

	ComputeComposite(s.population, s.params.Weights)
	fronts := nonDominatedSort(s.population)
	for _, front := range fronts {
		assignCrowding(front)
	}
	s.hv = newHypervolumeEstimator(s.population, s.hvRng)

	return nil
}

// Initialize builds and evaluates the starting population and fixes
// the hypervolume reference box.
func (s *NSGAII) Initialize(ctx context.Context) error {
	if err := errors.CheckContext(ctx, "initialize population"); err != nil {
		return err
	}

	s.population = initializePopulation(s.problem, &s.params, s.rng)
	s.evaluator.EvaluateAll(ctx, s.population)
	ComputeComposite(s.population, s.params.Weights)

	fronts := nonDominatedSort(s.population)
	for _, front := range fronts {
		assignCrowding(front)
	}

	s.hv = newHypervolumeEstimator(s.population, s.hvRng)

	s.logger.Debug(ctx, "initialized population of %d (%d on the first front)",
		len(s.population), len(fronts[0]))

	return nil
}

// EvolveOneGeneration runs selection, variation, repair, evaluation and
// elitist replacement, then reports generation statistics.
func (s *NSGAII) EvolveOneGeneration(ctx context.Context) (GenerationStats, error) {
	if err := errors.CheckContext(ctx, "evolve generation"); err != nil {
		return GenerationStats{}, err
	}

	size := s.params.PopulationSize

	// Remember the elites before variation; they survive replacement
	// unconditionally.
	byRankThenCrowding(s.population)
	elites := make([]*Individual, 0, s.params.EliteSize)
	for i := 0; i < s.params.EliteSize && i < len(s.population); i++ {
		elites = append(elites, s.population[i])
	}

	mp := annealedMutation(&s.params, s.generation, s.maxDemand,
		s.problem.NAreas, s.problem.NLabs, s.problem.NTests, s.problem.DemandAt)

	offspring := make([]*Individual, 0, size)
	for len(offspring) < size {
		parent1 := tournamentSelect(s.population, s.params.TournamentSize, s.rng)
		parent2 := tournamentSelect(s.population, s.params.TournamentSize, s.rng)

		var child1, child2 *Individual
		if s.rng.Float64() < s.params.CrossoverRate {
			child1, child2 = crossover(parent1, parent2, s.rng)
		} else {
			child1, child2 = parent1.Clone(), parent2.Clone()
		}

		mutate(child1, mp, s.rng)
		mutate(child2, mp, s.rng)

		Repair(s.problem, child1.Allocation)
		Repair(s.problem, child2.Allocation)
		child1.Invalidate()
		child2.Invalidate()

		offspring = append(offspring, child1)
		if len(offspring) < size {
			offspring = append(offspring, child2)
		}
	}

	// Union of parents and children, evaluated and ranked together
	union := make([]*Individual, 0, len(s.population)+len(offspring))
	union = append(union, s.population...)
	union = append(union, offspring...)

	s.evaluator.EvaluateAll(ctx, union)
	ComputeComposite(union, s.params.Weights)

	fronts := nonDominatedSort(union)
	for _, front := range fronts {
		assignCrowding(front)
	}
	byRankThenCrowding(union)

	next := make([]*Individual, 0, size)
	chosen := make(map[*Individual]bool, size)
	for _, ind := range union[:size] {
		next = append(next, ind)
		chosen[ind] = true
	}

	// Reinstate any elite that extreme variation pushed out, displacing
	// the weakest survivors
	isElite := make(map[*Individual]bool, len(elites))
	for _, elite := range elites {
		isElite[elite] = true
	}
	slot := len(next) - 1
	for _, elite := range elites {
		if chosen[elite] {
			continue
		}
		for slot >= 0 && isElite[next[slot]] {
			slot--
		}
		if slot < 0 {
			break
		}
		delete(chosen, next[slot])
		next[slot] = elite
		chosen[elite] = true
		slot--
	}

	s.population = next
	s.generation++

	// Re-rank inside the surviving population
	popFronts := nonDominatedSort(s.population)
	for _, front := range popFronts {
		assignCrowding(front)
	}
	ComputeComposite(s.population, s.params.Weights)

	return s.stats(popFronts[0]), nil
}

// stats assembles the per-generation progress record and updates the
// convergence window.
func (s *NSGAII) stats(front []*Individual) GenerationStats {
	best := math.Inf(1)
	var mean float64
	for _, ind := range s.population {
		if ind.Fitness < best {
			best = ind.Fitness
		}
		mean += ind.Fitness
	}
	mean /= float64(len(s.population))

	hv := s.hv.estimate(front)
	s.hvWindow = append(s.hvWindow, hv)
	if len(s.hvWindow) > s.params.ConvergenceWindow {
		s.hvWindow = s.hvWindow[1:]
	}
	converged := len(s.hvWindow) == s.params.ConvergenceWindow &&
		variance(s.hvWindow) < s.params.ConvergenceThreshold

	if best < s.bestFitness-1e-12 {
		s.bestFitness = best
		s.stall = 0
	} else {
		s.stall++
	}

	diversity := s.meanPairwiseDistance()
	diversityLow := s.params.DiversityThreshold > 0 &&
		diversity < s.params.DiversityThreshold &&
		s.stall >= s.params.ConvergenceWindow

	return GenerationStats{
		Generation:    s.generation,
		BestFitness:   best,
		MeanFitness:   mean,
		Hypervolume:   hv,
		FrontSize:     len(front),
		Diversity:     diversity,
		Converged:     converged,
		DiversityLow:  diversityLow,
		EvalCacheHits: s.evaluator.CacheHits(),
	}
}

// meanPairwiseDistance measures population spread in objective space.
func (s *NSGAII) meanPairwiseDistance() float64 {
	n := len(s.population)
	if n < 2 {
		return 0
	}
	var sum float64
	var count int
	for i := 0; i < n; i++ {
		for k := i + 1; k < n; k++ {
			sum += s.population[i].ObjectiveDistance(s.population[k])
			count++
		}
	}
	return sum / float64(count)
}

// ExtractFront returns deep copies of the current rank-0 individuals.
func (s *NSGAII) ExtractFront() []*Individual {
	var front []*Individual
	for _, ind := range s.population {
		if ind.Rank == 0 {
			front = append(front, ind.Clone())
		}
	}
	return front
}
