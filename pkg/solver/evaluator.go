package solver

import (
	"context"
	"math"

	"github.com/sourcegraph/conc/pool"

	"github.com/pathdx/cdst-go/pkg/logging"
	"github.com/pathdx/cdst-go/pkg/problem"
)

// evalCacheLimit bounds the per-run evaluation memo.
const evalCacheLimit = 100000

// Evaluator computes the five objective values and the soft-constraint
// penalty for an allocation. It is pure: identical tensors produce
// identical results, which is what makes the content-hash memo sound.
type Evaluator struct {
	problem *problem.Problem
	params  *Parameters
	cache   *evalCache
	logger  *logging.Logger
}

// NewEvaluator creates an evaluator with a fresh memo scoped to one
// solver run.
func NewEvaluator(p *problem.Problem, params *Parameters) *Evaluator {
	return &Evaluator{
		problem: p,
		params:  params,
		cache:   newEvalCache(evalCacheLimit),
		logger:  logging.GetLogger(),
	}
}

// CacheHits reports how many evaluations the memo short-circuited.
func (e *Evaluator) CacheHits() int64 {
	return e.cache.hits()
}

// Evaluate fills in the individual's objectives and penalty.
func (e *Evaluator) Evaluate(ctx context.Context, ind *Individual) {
	if ind.evaluated {
		return
	}

	key := ind.Allocation.Hash()
	if cached, ok := e.cache.get(key); ok {
		ind.Objectives = cached.objectives
		ind.Penalty = cached.penalty
		ind.evaluated = true
		return
	}

	defer func() {
		if r := recover(); r != nil {
			// A broken individual never aborts the run; it is pushed to
			// the back of every comparison instead.
			e.logger.Error(ctx, "evaluation failed, penalizing individual: %v", r)
			ind.Penalty = math.Inf(1)
			ind.evaluated = true
		}
	}()

	objectives, penalty := e.compute(ind.Allocation)
	ind.Objectives = objectives
	ind.Penalty = penalty
	ind.evaluated = true

	e.cache.put(key, evalResult{objectives: objectives, penalty: penalty})
}

// EvaluateAll evaluates every stale individual in parallel. Results are
// written back by index, so population order — and with it seeded
// reproducibility — is preserved.
func (e *Evaluator) EvaluateAll(ctx context.Context, population []*Individual) {
	wp := pool.New().WithMaxGoroutines(e.params.workers())
	for _, ind := range population {
		if ind.evaluated {
			continue
		}
		ind := ind
		wp.Go(func() {
			e.Evaluate(ctx, ind)
		})
	}
	wp.Wait()
}

// compute runs the objective functions over one allocation.
func (e *Evaluator) compute(al *Allocation) ([NumObjectives]float64, float64) {
	p := e.problem
	var objectives [NumObjectives]float64

	totalTests := 0
	var sumDist, sumTime, sumCost float64
	minutesUsed := make([]float64, p.NLabs)

	for a := 0; a < p.NAreas; a++ {
		for j := 0; j < p.NLabs; j++ {
			dist := p.DistAt(a, j)
			travel := p.TravelTimeAt(a, j)
			for t := 0; t < p.NTests; t++ {
				x := al.At(a, j, t)
				if x == 0 {
					continue
				}
				fx := float64(x)
				procTime := p.ProcTimeAt(j, t)

				totalTests += x
				sumDist += fx * dist
				sumTime += fx * (travel + procTime)
				sumCost += fx * (dist*p.CostPerKM + p.CostPerTestAt(j, t) + p.Overhead[j]/p.MonthlyCapacity(j))
				minutesUsed[j] += fx * procTime
			}
		}
	}

	// f1, f2: mean transport distance and mean elapsed time per test
	if totalTests > 0 {
		objectives[0] = sumDist / float64(totalTests)
		objectives[1] = sumTime / float64(totalTests)
	}

	// f3: total operational cost
	objectives[2] = sumCost

	// f4: negated mean utilization score
	var utilSum float64
	for j := 0; j < p.NLabs; j++ {
		utilSum = utilSum + UtilizationScore(minutesUsed[j]/p.AvailableMinutes[j])
	}
	objectives[3] = -utilSum / float64(p.NLabs)

	// f5: negated mean accessibility score
	var accessSum float64
	for a := 0; a < p.NAreas; a++ {
		accessSum += accessibilityScore(p, al, a)
	}
	objectives[4] = -accessSum / float64(p.NAreas)

	return objectives, e.penalty(al, minutesUsed)
}

// penalty accumulates soft-constraint violations: quadratic for
// distance, travel time and utilization band, linear for quality.
func (e *Evaluator) penalty(al *Allocation, minutesUsed []float64) float64 {
	p := e.problem
	params := e.params

	var penalty float64

	for a := 0; a < p.NAreas; a++ {
		for j := 0; j < p.NLabs; j++ {
			dist := p.DistAt(a, j)
			travel := p.TravelTimeAt(a, j)
			for t := 0; t < p.NTests; t++ {
				if al.At(a, j, t) == 0 {
					continue
				}
				if params.MaxDistanceKM > 0 && dist > params.MaxDistanceKM {
					excess := (dist - params.MaxDistanceKM) / params.MaxDistanceKM
					penalty += excess * excess
				}
				if params.MaxTravelTimeMinutes > 0 && travel > params.MaxTravelTimeMinutes {
					excess := (travel - params.MaxTravelTimeMinutes) / params.MaxTravelTimeMinutes
					penalty += excess * excess
				}
				if params.MinQuality > 0 {
					if q := p.QualityAt(j, t); q < params.MinQuality {
						penalty += params.MinQuality - q
					}
				}
			}
		}
	}

	if params.MaxUtilization > 0 {
		for j := 0; j < p.NLabs; j++ {
			util := minutesUsed[j] / p.AvailableMinutes[j]
			if util < params.MinUtilization {
				v := params.MinUtilization - util
				penalty += v * v
			} else if util > params.MaxUtilization {
				v := util - params.MaxUtilization
				penalty += v * v
			}
		}
	}

	return penalty
}

// ComputeComposite assigns the weighted normalized composite fitness
// across the population. Each objective is mapped linearly into [0,1]
// using the population's current spread; the penalty rides on top.
func ComputeComposite(population []*Individual, weights [NumObjectives]float64) {
	if len(population) == 0 {
		return
	}

	var lo, hi [NumObjectives]float64
	for i := 0; i < NumObjectives; i++ {
		lo[i] = math.Inf(1)
		hi[i] = math.Inf(-1)
	}
	for _, ind := range population {
		for i := 0; i < NumObjectives; i++ {
			if ind.Objectives[i] < lo[i] {
				lo[i] = ind.Objectives[i]
			}
			if ind.Objectives[i] > hi[i] {
				hi[i] = ind.Objectives[i]
			}
		}
	}

	for _, ind := range population {
		var fitness float64
		for i := 0; i < NumObjectives; i++ {
			span := hi[i] - lo[i]
			if span > 0 {
				fitness += weights[i] * (ind.Objectives[i] - lo[i]) / span
			}
		}
		ind.Fitness = fitness + ind.Penalty
	}
}
