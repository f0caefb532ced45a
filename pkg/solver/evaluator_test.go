package solver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluatorMeanDistanceAndTime(t *testing.T) {
	p := singleLabProblem()
	params := DefaultParameters([NumObjectives]float64{1, 0, 0, 0, 0})
	evaluator := NewEvaluator(p, &params)

	al := NewAllocation(p)
	al.Set(0, 0, 0, 10)
	al.Set(1, 0, 0, 5)

	ind := NewIndividual(al)
	evaluator.Evaluate(context.Background(), ind)

	// f1 = (10*8 + 5*12) / 15
	assert.InDelta(t, (10*8.0+5*12.0)/15.0, ind.Objectives[0], 1e-9)
	// f2 = (10*(12+60) + 5*(18+60)) / 15, travel = dist*1.5
	assert.InDelta(t, (10*(12.0+60)+5*(18.0+60))/15.0, ind.Objectives[1], 1e-9)
	assert.Equal(t, 0.0, ind.Penalty)
}

func TestEvaluatorCostObjective(t *testing.T) {
	p := singleLabProblem()
	params := DefaultParameters([NumObjectives]float64{0, 0, 1, 0, 0})
	evaluator := NewEvaluator(p, &params)

	al := NewAllocation(p)
	al.Set(0, 0, 0, 10)
	al.Set(1, 0, 0, 5)

	ind := NewIndividual(al)
	evaluator.Evaluate(context.Background(), ind)

	// Per-test: dist*0.5 transport + 25 processing + overhead share (0 here)
	want := 10*(8*0.5+25.0) + 5*(12*0.5+25.0)
	assert.InDelta(t, want, ind.Objectives[2], 1e-9)
}

func TestUtilizationScore(t *testing.T) {
	// Piecewise: half credit below 0.3, linear to 0.9, decaying beyond
	assert.InDelta(t, 0.1, UtilizationScore(0.2), 1e-9)
	assert.InDelta(t, 0.6, UtilizationScore(0.6), 1e-9)
	assert.InDelta(t, 0.9, UtilizationScore(0.9), 1e-9)
	assert.InDelta(t, 0.7, UtilizationScore(1.0), 1e-9)
	assert.Greater(t, UtilizationScore(0.6), UtilizationScore(0.29),
		"mid-band utilization must beat underutilization")
}

func TestEvaluatorPenalties(t *testing.T) {
	p := singleLabProblem() // distances 8 and 12
	params := DefaultParameters([NumObjectives]float64{1, 0, 0, 0, 0})
	params.MaxDistanceKM = 10
	params.MaxUtilization = 0 // isolate the distance penalty
	evaluator := NewEvaluator(p, &params)

	al := NewAllocation(p)
	al.Set(0, 0, 0, 10)
	al.Set(1, 0, 0, 5) // 12 km > 10 km threshold

	ind := NewIndividual(al)
	evaluator.Evaluate(context.Background(), ind)

	excess := (12.0 - 10.0) / 10.0
	assert.InDelta(t, excess*excess, ind.Penalty, 1e-9)
}

func TestEvaluatorQualityPenalty(t *testing.T) {
	p := singleLabProblem() // quality 0.9 everywhere
	params := DefaultParameters([NumObjectives]float64{1, 0, 0, 0, 0})
	params.MinQuality = 0.95
	params.MaxUtilization = 0
	evaluator := NewEvaluator(p, &params)

	al := NewAllocation(p)
	al.Set(0, 0, 0, 10)
	al.Set(1, 0, 0, 5)

	ind := NewIndividual(al)
	evaluator.Evaluate(context.Background(), ind)

	// Two allocated cells below the quality bar, linear penalty each
	assert.InDelta(t, 2*(0.95-0.9), ind.Penalty, 1e-9)
}

func TestEvaluatorMemoization(t *testing.T) {
	p := singleLabProblem()
	params := DefaultParameters([NumObjectives]float64{1, 0, 0, 0, 0})
	evaluator := NewEvaluator(p, &params)
	ctx := context.Background()

	al := NewAllocation(p)
	al.Set(0, 0, 0, 10)
	al.Set(1, 0, 0, 5)

	first := NewIndividual(al.Clone())
	evaluator.Evaluate(ctx, first)
	require.Equal(t, int64(0), evaluator.CacheHits())

	second := NewIndividual(al.Clone())
	evaluator.Evaluate(ctx, second)
	assert.Equal(t, int64(1), evaluator.CacheHits())
	assert.Equal(t, first.Objectives, second.Objectives)
}

func TestEvalCacheEviction(t *testing.T) {
	cache := newEvalCache(3)
	for i := uint64(0); i < 5; i++ {
		cache.put(i, evalResult{penalty: float64(i)})
	}
	assert.Equal(t, 3, cache.len())

	// Oldest entries were evicted
	_, ok := cache.get(0)
	assert.False(t, ok)
	_, ok = cache.get(4)
	assert.True(t, ok)
}

func TestEvaluateAllParallelMatchesSerial(t *testing.T) {
	p := twoLabProblem()
	params := DefaultParameters([NumObjectives]float64{0.2, 0.2, 0.2, 0.2, 0.2})
	params.EvalWorkers = 4

	serial := NewEvaluator(p, &params)
	parallel := NewEvaluator(p, &params)
	ctx := context.Background()

	population := make([]*Individual, 16)
	clones := make([]*Individual, 16)
	for i := range population {
		al := NewAllocation(p)
		al.Set(0, 0, 0, 30-i)
		al.Set(0, 1, 0, i)
		al.Set(1, 1, 0, 30)
		population[i] = NewIndividual(al)
		clones[i] = NewIndividual(al.Clone())
	}

	for _, ind := range clones {
		serial.Evaluate(ctx, ind)
	}
	parallel.EvaluateAll(ctx, population)

	for i := range population {
		assert.Equal(t, clones[i].Objectives, population[i].Objectives,
			"parallel evaluation must preserve order at index %d", i)
	}
}

func TestComputeComposite(t *testing.T) {
	a := individualWithObjectives(0, 0, 0, 0, 0)
	b := individualWithObjectives(10, 10, 10, 10, 10)
	c := individualWithObjectives(5, 5, 5, 5, 5)
	c.Penalty = 0.25

	ComputeComposite([]*Individual{a, b, c}, [NumObjectives]float64{0.2, 0.2, 0.2, 0.2, 0.2})

	assert.InDelta(t, 0.0, a.Fitness, 1e-9)
	assert.InDelta(t, 1.0, b.Fitness, 1e-9)
	assert.InDelta(t, 0.75, c.Fitness, 1e-9, "normalized midpoint plus penalty")
}

func TestAccessibilityPrefersNearbyService(t *testing.T) {
	p := twoLabProblem()
	params := DefaultParameters([NumObjectives]float64{0, 0, 0, 0, 1})
	evaluator := NewEvaluator(p, &params)
	ctx := context.Background()

	near := NewAllocation(p)
	near.Set(0, 0, 0, 30) // area 1 -> lab A at 10 km
	near.Set(1, 1, 0, 30) // area 2 -> lab B at 5 km

	far := NewAllocation(p)
	far.Set(0, 1, 0, 30) // area 1 -> lab B at 20 km
	far.Set(1, 0, 0, 30) // area 2 -> lab A at 10 km

	nearInd := NewIndividual(near)
	farInd := NewIndividual(far)
	evaluator.Evaluate(ctx, nearInd)
	evaluator.Evaluate(ctx, farInd)

	// Accessibility is negated for minimization: nearer service scores lower
	assert.Less(t, nearInd.Objectives[4], farInd.Objectives[4])
}
