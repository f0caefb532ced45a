package problem

import (
	"time"
)

// Problem is the dense, immutable input to a solver run. All slices are
// index-aligned flat arrays; after Build returns, nothing mutates them.
type Problem struct {
	NAreas int
	NLabs  int
	NTests int

	// Index tables mapping external IDs to dense 0-based positions.
	AreaIDs   []string
	LabIDs    []string
	TestIDs   []string
	AreaIndex map[string]int
	LabIndex  map[string]int
	TestIndex map[string]int

	// Demand[a*NTests+t] is the aggregated test count for (area, test).
	Demand []int

	// Dist[a*NLabs+j] / TravelTime[a*NLabs+j] in kilometers and minutes.
	Dist       []float64
	TravelTime []float64

	// Per-laboratory records.
	Cap              []Capacities
	Overhead         []float64
	AvailableMinutes []float64 // capacity envelope over the demand window

	// Per-(lab,test) records, indexed j*NTests+t. Capable false implies
	// ProcTime and CostPerTest are zero.
	Capable     []bool
	ProcTime    []float64
	StaffReq    []int
	EquipUtil   []float64
	CostPerTest []float64
	Quality     []float64

	// Per-area records.
	Pop      []int
	Priority []int

	// Scalars fixed at build time.
	CostPerKM             float64
	MaxAcceptableDistance float64
	MaxPop                int

	Meta Meta
}

// Meta records provenance of the build.
type Meta struct {
	BuiltAt       time.Time
	RoutingSource string // "osrm" if every route came from the router, else "fallback"
	WindowFrom    time.Time
	WindowTo      time.Time
	WindowDays    int
}

// DemandAt returns D[a,t].
func (p *Problem) DemandAt(a, t int) int {
	return p.Demand[a*p.NTests+t]
}

// DistAt returns the distance in kilometers from area a to lab j.
func (p *Problem) DistAt(a, j int) float64 {
	return p.Dist[a*p.NLabs+j]
}

// TravelTimeAt returns the travel time in minutes from area a to lab j.
func (p *Problem) TravelTimeAt(a, j int) float64 {
	return p.TravelTime[a*p.NLabs+j]
}

// CapableAt reports whether lab j can run test t.
func (p *Problem) CapableAt(j, t int) bool {
	return p.Capable[j*p.NTests+t]
}

// ProcTimeAt returns the per-test processing minutes for (lab, test).
func (p *Problem) ProcTimeAt(j, t int) float64 {
	return p.ProcTime[j*p.NTests+t]
}

// CostPerTestAt returns the per-test processing cost for (lab, test).
func (p *Problem) CostPerTestAt(j, t int) float64 {
	return p.CostPerTest[j*p.NTests+t]
}

// QualityAt returns the quality score for (lab, test).
func (p *Problem) QualityAt(j, t int) float64 {
	return p.Quality[j*p.NTests+t]
}

// CapableLabs returns the labs capable of test t, ordered by index.
func (p *Problem) CapableLabs(t int) []int {
	labs := make([]int, 0, p.NLabs)
	for j := 0; j < p.NLabs; j++ {
		if p.CapableAt(j, t) {
			labs = append(labs, j)
		}
	}
	return labs
}

// NearestCapableLabs returns the labs capable of test t sorted by
// ascending distance from area a.
func (p *Problem) NearestCapableLabs(a, t int) []int {
	labs := p.CapableLabs(t)
	// Insertion sort; capable lab counts are small
	for i := 1; i < len(labs); i++ {
		for k := i; k > 0 && p.DistAt(a, labs[k]) < p.DistAt(a, labs[k-1]); k-- {
			labs[k], labs[k-1] = labs[k-1], labs[k]
		}
	}
	return labs
}

// MonthlyCapacity returns the test-count capacity of lab j over a month.
func (p *Problem) MonthlyCapacity(j int) float64 {
	return float64(p.Cap[j].MaxTestsPerMonth)
}

// TotalDemand returns the sum of all demand cells.
func (p *Problem) TotalDemand() int {
	total := 0
	for _, d := range p.Demand {
		total += d
	}
	return total
}

// MaxDemand returns the largest single demand cell.
func (p *Problem) MaxDemand() int {
	max := 0
	for _, d := range p.Demand {
		if d > max {
			max = d
		}
	}
	return max
}
