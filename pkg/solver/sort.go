package solver

import (
	"math"
	"sort"
)

// nonDominatedSort runs the fast non-dominated sort, assigning ranks
// and returning the fronts in rank order. Rank 0 is the current Pareto
// front.
func nonDominatedSort(population []*Individual) [][]*Individual {
	n := len(population)
	dominationCount := make([]int, n)
	dominated := make([][]int, n)

	var fronts [][]*Individual
	var current []int

	for i := 0; i < n; i++ {
		for k := 0; k < n; k++ {
			if i == k {
				continue
			}
			if population[i].Dominates(population[k]) {
				dominated[i] = append(dominated[i], k)
			} else if population[k].Dominates(population[i]) {
				dominationCount[i]++
			}
		}
		if dominationCount[i] == 0 {
			population[i].Rank = 0
			current = append(current, i)
		}
	}

	rank := 0
	for len(current) > 0 {
		front := make([]*Individual, len(current))
		for i, idx := range current {
			front[i] = population[idx]
		}
		fronts = append(fronts, front)

		var next []int
		for _, idx := range current {
			for _, d := range dominated[idx] {
				dominationCount[d]--
				if dominationCount[d] == 0 {
					population[d].Rank = rank + 1
					next = append(next, d)
				}
			}
		}
		rank++
		current = next
	}

	return fronts
}

// assignCrowding computes the crowding distance inside one front:
// boundary individuals get infinite distance, interior ones accumulate
// the normalized spread of their neighbors per objective.
func assignCrowding(front []*Individual) {
	n := len(front)
	if n == 0 {
		return
	}
	if n <= 2 {
		for _, ind := range front {
			ind.Crowding = math.Inf(1)
		}
		return
	}

	for _, ind := range front {
		ind.Crowding = 0
	}

	idx := make([]int, n)
	for m := 0; m < NumObjectives; m++ {
		for i := range idx {
			idx[i] = i
		}
		sort.SliceStable(idx, func(i, k int) bool {
			return front[idx[i]].Objectives[m] < front[idx[k]].Objectives[m]
		})

		front[idx[0]].Crowding = math.Inf(1)
		front[idx[n-1]].Crowding = math.Inf(1)

		span := front[idx[n-1]].Objectives[m] - front[idx[0]].Objectives[m]
		if span == 0 {
			continue
		}

		for i := 1; i < n-1; i++ {
			spread := front[idx[i+1]].Objectives[m] - front[idx[i-1]].Objectives[m]
			front[idx[i]].Crowding += spread / span
		}
	}
}

// byRankThenCrowding orders individuals for replacement: lower rank
// first, larger crowding first inside a rank.
func byRankThenCrowding(population []*Individual) {
	sort.SliceStable(population, func(i, k int) bool {
		if population[i].Rank != population[k].Rank {
			return population[i].Rank < population[k].Rank
		}
		return population[i].Crowding > population[k].Crowding
	})
}
