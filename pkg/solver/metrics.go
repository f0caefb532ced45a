package solver

import (
	"math"

	"github.com/pathdx/cdst-go/pkg/problem"
)

// Metrics are the per-lab and per-area decorations derived from one
// allocation, used by the result extractor.
type Metrics struct {
	LabUtilization      []float64 // fraction of the capacity envelope in use
	LabUtilizationScore []float64 // piecewise reward of that fraction
	AreaAccessibility   []float64
}

// ComputeMetrics derives the decoration scores for an allocation.
func ComputeMetrics(p *problem.Problem, al *Allocation) Metrics {
	m := Metrics{
		LabUtilization:      make([]float64, p.NLabs),
		LabUtilizationScore: make([]float64, p.NLabs),
		AreaAccessibility:   make([]float64, p.NAreas),
	}

	for j := 0; j < p.NLabs; j++ {
		var minutes float64
		for a := 0; a < p.NAreas; a++ {
			for t := 0; t < p.NTests; t++ {
				if x := al.At(a, j, t); x > 0 {
					minutes += float64(x) * p.ProcTimeAt(j, t)
				}
			}
		}
		m.LabUtilization[j] = minutes / p.AvailableMinutes[j]
		m.LabUtilizationScore[j] = UtilizationScore(m.LabUtilization[j])
	}

	for a := 0; a < p.NAreas; a++ {
		m.AreaAccessibility[a] = accessibilityScore(p, al, a)
	}

	return m
}

// UtilizationScore is the piecewise utilization reward: half credit
// below 30%, full credit in the 30-90% band, sharply decaying above.
func UtilizationScore(u float64) float64 {
	switch {
	case u < 0.3:
		return u / 2
	case u <= 0.9:
		return u
	default:
		return 0.9 - 2*(u-0.9)
	}
}

// accessibilityScore grades one area: 40% proximity to the nearest
// serving lab, 30% population weight, 30% breadth of test types
// reachable through the labs serving it.
func accessibilityScore(p *problem.Problem, al *Allocation, a int) float64 {
	var score float64

	dMin := math.Inf(1)
	serving := make([]int, 0, p.NLabs)
	for j := 0; j < p.NLabs; j++ {
		allocated := false
		for t := 0; t < p.NTests; t++ {
			if al.At(a, j, t) > 0 {
				allocated = true
				break
			}
		}
		if !allocated {
			continue
		}
		serving = append(serving, j)
		if d := p.DistAt(a, j); d < dMin {
			dMin = d
		}
	}

	if len(serving) > 0 {
		score += 0.4 * math.Max(0, 1-dMin/p.MaxAcceptableDistance)
	}

	if p.Pop[a] > 1 && p.MaxPop > 1 {
		score += 0.3 * math.Log(float64(p.Pop[a])) / math.Log(float64(p.MaxPop))
	}

	available := 0
	for t := 0; t < p.NTests; t++ {
		for _, j := range serving {
			if p.CapableAt(j, t) {
				available++
				break
			}
		}
	}
	score += 0.3 * float64(available) / float64(p.NTests)

	return score
}

// GreedyBaseline is the nearest-capable-lab allocation the result
// extractor compares fronts against.
func GreedyBaseline(p *problem.Problem) *Allocation {
	al := greedyAllocation(p)
	Repair(p, al)
	return al
}
