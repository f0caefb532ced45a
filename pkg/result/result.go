// Package result turns a final Pareto front into the decorated,
// persistable artifact consumers read: per-allocation rows with cost
// and score decorations, plus a summary against a greedy baseline.
package result

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/pathdx/cdst-go/pkg/problem"
	"github.com/pathdx/cdst-go/pkg/solver"
)

// AllocationRow is one nonzero x[a,j,t] cell, decorated.
type AllocationRow struct {
	ScenarioID         string  `json:"scenario_id"`
	AreaID             string  `json:"area_id"`
	LabID              string  `json:"lab_id"`
	TestID             string  `json:"test_id"`
	AllocatedTests     int     `json:"allocated_tests"`
	DistanceKM         float64 `json:"distance_km"`
	TravelTimeMinutes  float64 `json:"travel_time_minutes"`
	TransportCost      float64 `json:"transport_cost"`
	ProcessingCost     float64 `json:"processing_cost"`
	TotalCost          float64 `json:"total_cost"`
	UtilizationScore   float64 `json:"utilization_score"`
	AccessibilityScore float64 `json:"accessibility_score"`
}

// Solution is one decorated front member.
type Solution struct {
	Rows       []AllocationRow                   `json:"rows"`
	Objectives [solver.NumObjectives]float64     `json:"objectives"`
	Penalty    float64                           `json:"penalty"`
	TotalCost  float64                           `json:"total_cost"`
	TotalTests int                               `json:"total_tests"`
}

// Summary compares the front against the nearest-capable-lab greedy
// baseline, objective by objective. Positive improvement means the
// front's best value beats the baseline.
type Summary struct {
	Baseline       [solver.NumObjectives]float64 `json:"baseline"`
	Best           [solver.NumObjectives]float64 `json:"best"`
	ImprovementPct [solver.NumObjectives]float64 `json:"improvement_pct"`
}

// Result is the final artifact of a scenario run.
type Result struct {
	ScenarioID  string     `json:"scenario_id"`
	Status      string     `json:"status"`
	Generations int        `json:"generations"`
	GeneratedAt time.Time  `json:"generated_at"`
	Solutions   []Solution `json:"solutions"`
	Summary     Summary    `json:"summary"`
}

// Extract decorates every rank-0 individual and computes the baseline
// summary. The baseline greedy allocation is built on the same Problem,
// so the comparison is apples to apples.
func Extract(scenarioID string, p *problem.Problem, front []*solver.Individual, params solver.Parameters) *Result {
	res := &Result{
		ScenarioID:  scenarioID,
		GeneratedAt: time.Now(),
		Solutions:   make([]Solution, 0, len(front)),
	}

	evaluator := solver.NewEvaluator(p, &params)
	baseline := solver.NewIndividual(solver.GreedyBaseline(p))
	evaluator.Evaluate(context.Background(), baseline)
	res.Summary.Baseline = baseline.Objectives

	for i := range res.Summary.Best {
		res.Summary.Best[i] = math.Inf(1)
	}

	for _, ind := range front {
		res.Solutions = append(res.Solutions, decorate(scenarioID, p, ind))
		for i, v := range ind.Objectives {
			if v < res.Summary.Best[i] {
				res.Summary.Best[i] = v
			}
		}
	}

	if len(front) == 0 {
		res.Summary.Best = res.Summary.Baseline
	}

	for i := range res.Summary.ImprovementPct {
		base := res.Summary.Baseline[i]
		if base == 0 {
			continue
		}
		res.Summary.ImprovementPct[i] = (base - res.Summary.Best[i]) / math.Abs(base) * 100
	}

	return res
}

// decorate expands one individual into allocation rows.
func decorate(scenarioID string, p *problem.Problem, ind *solver.Individual) Solution {
	metrics := solver.ComputeMetrics(p, ind.Allocation)

	sol := Solution{
		Objectives: ind.Objectives,
		Penalty:    ind.Penalty,
	}

	for a := 0; a < p.NAreas; a++ {
		for j := 0; j < p.NLabs; j++ {
			for t := 0; t < p.NTests; t++ {
				x := ind.Allocation.At(a, j, t)
				if x == 0 {
					continue
				}

				dist := p.DistAt(a, j)
				transport := dist * p.CostPerKM * float64(x)
				processing := (p.CostPerTestAt(j, t) + p.Overhead[j]/p.MonthlyCapacity(j)) * float64(x)

				sol.Rows = append(sol.Rows, AllocationRow{
					ScenarioID:         scenarioID,
					AreaID:             p.AreaIDs[a],
					LabID:              p.LabIDs[j],
					TestID:             p.TestIDs[t],
					AllocatedTests:     x,
					DistanceKM:         dist,
					TravelTimeMinutes:  p.TravelTimeAt(a, j),
					TransportCost:      transport,
					ProcessingCost:     processing,
					TotalCost:          transport + processing,
					UtilizationScore:   metrics.LabUtilizationScore[j],
					AccessibilityScore: metrics.AreaAccessibility[a],
				})
				sol.TotalCost += transport + processing
				sol.TotalTests += x
			}
		}
	}

	// High-priority areas first, larger allocations first within
	areaPriority := func(areaID string) int {
		return p.Priority[p.AreaIndex[areaID]]
	}
	sort.SliceStable(sol.Rows, func(i, k int) bool {
		pi, pk := areaPriority(sol.Rows[i].AreaID), areaPriority(sol.Rows[k].AreaID)
		if pi != pk {
			return pi > pk
		}
		return sol.Rows[i].AllocatedTests > sol.Rows[k].AllocatedTests
	})

	return sol
}
