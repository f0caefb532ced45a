package solver

import (
	"math/rand/v2"

	"github.com/pathdx/cdst-go/pkg/problem"
)

// initializePopulation builds the starting population as a mix of
// strategies: 30% random spread, 40% greedy nearest-lab, 30%
// capacity-balanced. Every individual passes through repair before use.
func initializePopulation(p *problem.Problem, params *Parameters, rng *rand.Rand) []*Individual {
	size := params.PopulationSize
	population := make([]*Individual, size)

	randomCount := (size * 3) / 10
	greedyCount := (size * 4) / 10

	for i := 0; i < size; i++ {
		var al *Allocation
		switch {
		case i < randomCount:
			al = randomAllocation(p, rng)
		case i < randomCount+greedyCount:
			al = greedyAllocation(p)
		default:
			al = balancedAllocation(p, rng)
		}
		Repair(p, al)
		population[i] = NewIndividual(al)
	}

	return population
}

// randomAllocation spreads each demand row across capable labs with
// random weights.
func randomAllocation(p *problem.Problem, rng *rand.Rand) *Allocation {
	al := NewAllocation(p)

	for a := 0; a < p.NAreas; a++ {
		for t := 0; t < p.NTests; t++ {
			demand := p.DemandAt(a, t)
			if demand == 0 {
				continue
			}
			capable := p.CapableLabs(t)

			weights := make([]float64, len(capable))
			var total float64
			for i := range weights {
				weights[i] = rng.Float64()
				total += weights[i]
			}

			assigned := 0
			for i, j := range capable {
				share := int(float64(demand) * weights[i] / total)
				al.Set(a, j, t, share)
				assigned += share
			}
			// Rounding residue lands on a random capable lab
			if assigned < demand {
				al.Add(a, capable[rng.IntN(len(capable))], t, demand-assigned)
			}
		}
	}

	return al
}

// greedyAllocation fills the nearest capable lab until its capacity
// envelope is exhausted, then spills to the next.
func greedyAllocation(p *problem.Problem) *Allocation {
	al := NewAllocation(p)
	loads := make([]float64, p.NLabs)

	for a := 0; a < p.NAreas; a++ {
		for t := 0; t < p.NTests; t++ {
			remaining := p.DemandAt(a, t)
			if remaining == 0 {
				continue
			}

			labs := p.NearestCapableLabs(a, t)
			for _, j := range labs {
				if remaining == 0 {
					break
				}
				proc := p.ProcTimeAt(j, t)
				slack := p.AvailableMinutes[j] - loads[j]
				fit := int(slack / proc)
				if fit <= 0 {
					continue
				}
				if fit > remaining {
					fit = remaining
				}
				al.Add(a, j, t, fit)
				loads[j] += float64(fit) * proc
				remaining -= fit
			}
			// Leftover demand piles onto the nearest lab; repair
			// rebalances it against everyone's slack afterwards.
			if remaining > 0 {
				al.Add(a, labs[0], t, remaining)
			}
		}
	}

	return al
}

// balancedAllocation round-robins each demand row over capable labs,
// weighted by remaining capacity so underused labs fill first.
func balancedAllocation(p *problem.Problem, rng *rand.Rand) *Allocation {
	al := NewAllocation(p)
	loads := make([]float64, p.NLabs)

	// Randomized area order varies the capacity picture across
	// individuals while each row stays capacity-driven.
	order := rng.Perm(p.NAreas)

	for _, a := range order {
		for t := 0; t < p.NTests; t++ {
			demand := p.DemandAt(a, t)
			if demand == 0 {
				continue
			}
			capable := p.CapableLabs(t)

			var totalSlack float64
			slacks := make([]float64, len(capable))
			for i, j := range capable {
				s := p.AvailableMinutes[j] - loads[j]
				if s < 0 {
					s = 0
				}
				slacks[i] = s
				totalSlack += s
			}

			assigned := 0
			if totalSlack > 0 {
				for i, j := range capable {
					share := int(float64(demand) * slacks[i] / totalSlack)
					al.Add(a, j, t, share)
					loads[j] += float64(share) * p.ProcTimeAt(j, t)
					assigned += share
				}
			}
			// Residue round-robins over capable labs
			for i := 0; assigned < demand; i = (i + 1) % len(capable) {
				al.Add(a, capable[i], t, 1)
				loads[capable[i]] += p.ProcTimeAt(capable[i], t)
				assigned++
			}
		}
	}

	return al
}
