package solver

import (
	"github.com/pathdx/cdst-go/pkg/problem"
)

// buildProblem assembles a dense Problem directly, bypassing the
// builder so tests control every matrix cell.
type problemSpec struct {
	areas    int
	labs     int
	tests    int
	demand   []int     // [a*tests+t]
	dist     []float64 // [a*labs+j]
	travel   []float64 // [a*labs+j]; defaults to dist*1.5 when nil
	capable  []bool    // [j*tests+t]; defaults to all true when nil
	procTime float64   // per capable pair; default 60
	minutes  float64   // available minutes per lab; default 1e9 (unconstrained)
	pop      []int     // default 10000 each
}

func buildProblem(ps problemSpec) *problem.Problem {
	if ps.procTime == 0 {
		ps.procTime = 60
	}
	if ps.minutes == 0 {
		ps.minutes = 1e9
	}

	p := &problem.Problem{
		NAreas:    ps.areas,
		NLabs:     ps.labs,
		NTests:    ps.tests,
		AreaIDs:   make([]string, ps.areas),
		LabIDs:    make([]string, ps.labs),
		TestIDs:   make([]string, ps.tests),
		AreaIndex: map[string]int{},
		LabIndex:  map[string]int{},
		TestIndex: map[string]int{},

		Demand:     ps.demand,
		Dist:       ps.dist,
		TravelTime: ps.travel,

		Cap:              make([]problem.Capacities, ps.labs),
		Overhead:         make([]float64, ps.labs),
		AvailableMinutes: make([]float64, ps.labs),

		Capable:     ps.capable,
		ProcTime:    make([]float64, ps.labs*ps.tests),
		StaffReq:    make([]int, ps.labs*ps.tests),
		EquipUtil:   make([]float64, ps.labs*ps.tests),
		CostPerTest: make([]float64, ps.labs*ps.tests),
		Quality:     make([]float64, ps.labs*ps.tests),

		Pop:      ps.pop,
		Priority: make([]int, ps.areas),

		CostPerKM:             0.5,
		MaxAcceptableDistance: 100,
	}

	for i := range p.AreaIDs {
		id := "area-" + string(rune('a'+i))
		p.AreaIDs[i] = id
		p.AreaIndex[id] = i
	}
	for j := range p.LabIDs {
		id := "lab-" + string(rune('a'+j))
		p.LabIDs[j] = id
		p.LabIndex[id] = j
	}
	for t := range p.TestIDs {
		id := "test-" + string(rune('a'+t))
		p.TestIDs[t] = id
		p.TestIndex[id] = t
	}

	if p.TravelTime == nil {
		p.TravelTime = make([]float64, len(p.Dist))
		for i, d := range p.Dist {
			p.TravelTime[i] = d * 1.5
		}
	}
	if p.Capable == nil {
		p.Capable = make([]bool, ps.labs*ps.tests)
		for i := range p.Capable {
			p.Capable[i] = true
		}
	}
	if p.Pop == nil {
		p.Pop = make([]int, ps.areas)
		for i := range p.Pop {
			p.Pop[i] = 10000
		}
	}

	for j := 0; j < ps.labs; j++ {
		p.Cap[j] = problem.Capacities{
			MaxTestsPerDay:    1000,
			MaxTestsPerMonth:  30000,
			StaffCount:        10,
			EquipmentCount:    2,
			UtilizationFactor: 0.8,
		}
		p.AvailableMinutes[j] = ps.minutes
		for t := 0; t < ps.tests; t++ {
			if !p.Capable[j*ps.tests+t] {
				continue
			}
			p.ProcTime[j*ps.tests+t] = ps.procTime
			p.StaffReq[j*ps.tests+t] = 1
			p.EquipUtil[j*ps.tests+t] = 0.5
			p.CostPerTest[j*ps.tests+t] = 25
			p.Quality[j*ps.tests+t] = 0.9
		}
	}

	for _, n := range p.Pop {
		if n > p.MaxPop {
			p.MaxPop = n
		}
	}

	return p
}

// singleLabProblem: two areas, one lab, one test, demand 10 and 5.
func singleLabProblem() *problem.Problem {
	return buildProblem(problemSpec{
		areas:  2,
		labs:   1,
		tests:  1,
		demand: []int{10, 5},
		dist:   []float64{8, 12},
	})
}

// twoLabProblem reproduces the distance tradeoff fixture: both areas
// 10 km from lab A; lab B is 20 km from area 1 and 5 km from area 2.
func twoLabProblem() *problem.Problem {
	return buildProblem(problemSpec{
		areas:  2,
		labs:   2,
		tests:  1,
		demand: []int{30, 30},
		dist: []float64{
			10, 20, // area 1 -> labs A, B
			10, 5, // area 2 -> labs A, B
		},
	})
}

func seedParams(seed int64, population, generations int) Parameters {
	params := DefaultParameters([NumObjectives]float64{1, 0, 0, 0, 0})
	params.PopulationSize = population
	params.MaxGenerations = generations
	params.EliteSize = 4
	params.ConvergenceWindow = 5
	params.Seed = &seed
	params.EvalWorkers = 2
	return params
}
