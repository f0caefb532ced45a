package problem

import (
	"context"
	"math"
	"time"

	"github.com/pathdx/cdst-go/pkg/errors"
	"github.com/pathdx/cdst-go/pkg/logging"
	"github.com/pathdx/cdst-go/pkg/routing"
)

const (
	// Processing time sanity bounds, minutes per test.
	minProcTimeMinutes = 5
	maxProcTimeMinutes = 480

	defaultWindowDays        = 30
	defaultCostPerKM         = 0.5
	defaultMaxAcceptableDist = 1000.0
	defaultUtilizationFactor = 0.8
)

// BuildOptions tune the build. Zero values select the documented
// defaults.
type BuildOptions struct {
	// WindowFrom/WindowTo bound demand aggregation. Both zero means all
	// demand records count over a default 30-day window.
	WindowFrom time.Time
	WindowTo   time.Time

	CostPerKM             float64
	MaxAcceptableDistance float64
}

// Build validates the network snapshot, aggregates demand, materializes
// the distance and time matrices through the routing provider, and
// returns an immutable Problem. Any constraint violation fails with
// INVALID_NETWORK before a solver ever starts.
func Build(ctx context.Context, network *Network, provider routing.Provider, opts BuildOptions) (*Problem, error) {
	logger := logging.GetLogger()

	if opts.CostPerKM <= 0 {
		opts.CostPerKM = defaultCostPerKM
	}
	if opts.MaxAcceptableDistance <= 0 {
		opts.MaxAcceptableDistance = defaultMaxAcceptableDist
	}

	if err := validateNetwork(network); err != nil {
		return nil, err
	}

	nAreas := len(network.Areas)
	nLabs := len(network.Laboratories)
	nTests := len(network.TestTypes)

	p := &Problem{
		NAreas:    nAreas,
		NLabs:     nLabs,
		NTests:    nTests,
		AreaIDs:   make([]string, nAreas),
		LabIDs:    make([]string, nLabs),
		TestIDs:   make([]string, nTests),
		AreaIndex: make(map[string]int, nAreas),
		LabIndex:  make(map[string]int, nLabs),
		TestIndex: make(map[string]int, nTests),

		Demand:     make([]int, nAreas*nTests),
		Dist:       make([]float64, nAreas*nLabs),
		TravelTime: make([]float64, nAreas*nLabs),

		Cap:              make([]Capacities, nLabs),
		Overhead:         make([]float64, nLabs),
		AvailableMinutes: make([]float64, nLabs),

		Capable:     make([]bool, nLabs*nTests),
		ProcTime:    make([]float64, nLabs*nTests),
		StaffReq:    make([]int, nLabs*nTests),
		EquipUtil:   make([]float64, nLabs*nTests),
		CostPerTest: make([]float64, nLabs*nTests),
		Quality:     make([]float64, nLabs*nTests),

		Pop:      make([]int, nAreas),
		Priority: make([]int, nAreas),

		CostPerKM:             opts.CostPerKM,
		MaxAcceptableDistance: opts.MaxAcceptableDistance,
	}

	// Dense index assignment
	for i, area := range network.Areas {
		if _, dup := p.AreaIndex[area.ID]; dup {
			return nil, errors.WithFields(
				errors.New(errors.InvalidNetwork, "duplicate service area ID"),
				errors.Fields{"area_id": area.ID})
		}
		p.AreaIDs[i] = area.ID
		p.AreaIndex[area.ID] = i
		p.Pop[i] = area.Population
		p.Priority[i] = area.PriorityLevel
		if area.Population > p.MaxPop {
			p.MaxPop = area.Population
		}
	}
	for j, lab := range network.Laboratories {
		if _, dup := p.LabIndex[lab.ID]; dup {
			return nil, errors.WithFields(
				errors.New(errors.InvalidNetwork, "duplicate laboratory ID"),
				errors.Fields{"laboratory_id": lab.ID})
		}
		p.LabIDs[j] = lab.ID
		p.LabIndex[lab.ID] = j
	}
	for t, tt := range network.TestTypes {
		if _, dup := p.TestIndex[tt.ID]; dup {
			return nil, errors.WithFields(
				errors.New(errors.InvalidNetwork, "duplicate test type ID"),
				errors.Fields{"test_type_id": tt.ID})
		}
		p.TestIDs[t] = tt.ID
		p.TestIndex[tt.ID] = t
	}

	// Demand window
	windowDays := defaultWindowDays
	if !opts.WindowFrom.IsZero() && !opts.WindowTo.IsZero() {
		if opts.WindowTo.Before(opts.WindowFrom) {
			return nil, errors.New(errors.InvalidNetwork, "demand window end precedes start")
		}
		windowDays = int(opts.WindowTo.Sub(opts.WindowFrom).Hours()/24) + 1
	}
	p.Meta = Meta{
		BuiltAt:    time.Now(),
		WindowFrom: opts.WindowFrom,
		WindowTo:   opts.WindowTo,
		WindowDays: windowDays,
	}

	// Per-lab records
	for j, lab := range network.Laboratories {
		cap := lab.Capacities
		if cap.UtilizationFactor == 0 {
			cap.UtilizationFactor = defaultUtilizationFactor
		}
		if cap.EquipmentCount == 0 {
			cap.EquipmentCount = 1
		}
		p.Cap[j] = cap
		p.Overhead[j] = lab.Overhead

		hours := lab.Hours
		if len(hours) == 0 {
			hours = DefaultWeeklyHours()
		}
		weekly := hours.WeeklyOpenMinutes()
		if weekly <= 0 {
			return nil, errors.WithFields(
				errors.New(errors.InvalidNetwork, "laboratory has no operating hours"),
				errors.Fields{"laboratory_id": lab.ID})
		}
		// Working minutes over the demand window: weekly open minutes
		// scaled to the window length, one stream per staff member,
		// derated by the utilization factor.
		weeks := float64(windowDays) / 7.0
		p.AvailableMinutes[j] = weekly * weeks * float64(cap.StaffCount) * cap.UtilizationFactor

		for testID, capability := range lab.Capabilities {
			t, known := p.TestIndex[testID]
			if !known {
				return nil, errors.WithFields(
					errors.New(errors.InvalidNetwork, "capability references unknown test type"),
					errors.Fields{"laboratory_id": lab.ID, "test_type_id": testID})
			}
			if !capability.Available {
				continue
			}
			idx := j*nTests + t
			p.Capable[idx] = true
			p.ProcTime[idx] = capability.TimePerTestMinutes
			p.StaffReq[idx] = capability.StaffRequired
			p.EquipUtil[idx] = capability.EquipmentUtilization
			p.CostPerTest[idx] = capability.CostPerTest
			p.Quality[idx] = capability.QualityScore
		}
	}

	// Demand aggregation over the window, scaled by seasonal factor
	for _, demand := range network.Demands {
		a, knownArea := p.AreaIndex[demand.AreaID]
		if !knownArea {
			return nil, errors.WithFields(
				errors.New(errors.InvalidNetwork, "demand references unknown service area"),
				errors.Fields{"area_id": demand.AreaID})
		}
		t, knownTest := p.TestIndex[demand.TestTypeID]
		if !knownTest {
			return nil, errors.WithFields(
				errors.New(errors.InvalidNetwork, "demand references unknown test type"),
				errors.Fields{"test_type_id": demand.TestTypeID})
		}
		if demand.Count < 0 {
			return nil, errors.WithFields(
				errors.New(errors.InvalidNetwork, "negative demand count"),
				errors.Fields{"area_id": demand.AreaID, "test_type_id": demand.TestTypeID})
		}
		if !opts.WindowFrom.IsZero() && !opts.WindowTo.IsZero() && !demand.PeriodDate.IsZero() {
			if demand.PeriodDate.Before(opts.WindowFrom) || demand.PeriodDate.After(opts.WindowTo) {
				continue
			}
		}
		factor := demand.SeasonalFactor
		if factor == 0 {
			factor = 1
		}
		p.Demand[a*nTests+t] += int(math.Round(float64(demand.Count) * factor))
	}

	if err := checkDemandCoverage(p); err != nil {
		return nil, err
	}

	// Distance and time matrices in one batch through the provider
	pairs := make([]routing.Pair, 0, nAreas*nLabs)
	for _, area := range network.Areas {
		for _, lab := range network.Laboratories {
			pairs = append(pairs, routing.Pair{
				Origin:      routing.Point{Lat: area.Latitude, Lng: area.Longitude},
				Destination: routing.Point{Lat: lab.Latitude, Lng: lab.Longitude},
			})
		}
	}

	routes, err := provider.DistanceBatch(ctx, pairs)
	if err != nil {
		return nil, err
	}

	p.Meta.RoutingSource = routing.SourceOSRM
	for i, route := range routes {
		p.Dist[i] = route.KM
		p.TravelTime[i] = route.Minutes
		if route.Source == routing.SourceFallback {
			p.Meta.RoutingSource = routing.SourceFallback
		}
	}
	if p.Meta.RoutingSource == routing.SourceFallback {
		logger.Warn(ctx, "distance matrix built with haversine fallback for %d pairs", len(pairs))
	}

	return p, nil
}

// validateNetwork checks the structural constraints that do not need
// dense indices.
func validateNetwork(network *Network) error {
	if network == nil {
		return errors.New(errors.InvalidNetwork, "network snapshot is nil")
	}
	if len(network.Laboratories) == 0 {
		return errors.New(errors.InvalidNetwork, "network has no laboratories")
	}
	if len(network.Areas) == 0 {
		return errors.New(errors.InvalidNetwork, "network has no service areas")
	}
	if len(network.TestTypes) == 0 {
		return errors.New(errors.InvalidNetwork, "network has no test types")
	}

	for _, area := range network.Areas {
		point := routing.Point{Lat: area.Latitude, Lng: area.Longitude}
		if !point.Valid() {
			return errors.WithFields(
				errors.New(errors.InvalidNetwork, "service area coordinates out of range"),
				errors.Fields{"area_id": area.ID, "latitude": area.Latitude, "longitude": area.Longitude})
		}
		if area.Population < 0 {
			return errors.WithFields(
				errors.New(errors.InvalidNetwork, "negative population"),
				errors.Fields{"area_id": area.ID})
		}
	}

	for _, lab := range network.Laboratories {
		point := routing.Point{Lat: lab.Latitude, Lng: lab.Longitude}
		if !point.Valid() {
			return errors.WithFields(
				errors.New(errors.InvalidNetwork, "laboratory coordinates out of range"),
				errors.Fields{"laboratory_id": lab.ID, "latitude": lab.Latitude, "longitude": lab.Longitude})
		}
		cap := lab.Capacities
		if cap.MaxTestsPerDay <= 0 || cap.MaxTestsPerMonth <= 0 || cap.StaffCount <= 0 {
			return errors.WithFields(
				errors.New(errors.InvalidNetwork, "laboratory capacities must be positive"),
				errors.Fields{"laboratory_id": lab.ID})
		}
		if cap.UtilizationFactor < 0 || cap.UtilizationFactor > 1 {
			return errors.WithFields(
				errors.New(errors.InvalidNetwork, "utilization factor outside [0,1]"),
				errors.Fields{"laboratory_id": lab.ID})
		}

		for testID, capability := range lab.Capabilities {
			if !capability.Available {
				continue
			}
			if capability.TimePerTestMinutes < minProcTimeMinutes || capability.TimePerTestMinutes > maxProcTimeMinutes {
				return errors.WithFields(
					errors.Newf(errors.InvalidNetwork, "processing time outside [%d,%d] minutes", minProcTimeMinutes, maxProcTimeMinutes),
					errors.Fields{"laboratory_id": lab.ID, "test_type_id": testID, "minutes": capability.TimePerTestMinutes})
			}
			if capability.StaffRequired > cap.StaffCount {
				return errors.WithFields(
					errors.New(errors.InvalidNetwork, "capability requires more staff than the laboratory has"),
					errors.Fields{"laboratory_id": lab.ID, "test_type_id": testID})
			}
			if capability.QualityScore < 0 || capability.QualityScore > 1 {
				return errors.WithFields(
					errors.New(errors.InvalidNetwork, "quality score outside [0,1]"),
					errors.Fields{"laboratory_id": lab.ID, "test_type_id": testID})
			}
		}
	}

	return nil
}

// checkDemandCoverage verifies that every positive demand cell has at
// least one capable laboratory and that per-test aggregate capacity can
// absorb the per-test aggregate demand.
func checkDemandCoverage(p *Problem) error {
	for t := 0; t < p.NTests; t++ {
		capable := p.CapableLabs(t)

		totalDemand := 0
		for a := 0; a < p.NAreas; a++ {
			d := p.DemandAt(a, t)
			if d == 0 {
				continue
			}
			totalDemand += d
			if len(capable) == 0 {
				return errors.WithFields(
					errors.New(errors.InvalidNetwork, "demand has no capable laboratory"),
					errors.Fields{"area_id": p.AreaIDs[a], "test_type_id": p.TestIDs[t]})
			}
		}
		if totalDemand == 0 {
			continue
		}

		var totalCapacity float64
		for _, j := range capable {
			monthly := float64(p.Cap[j].MaxTestsPerMonth) * float64(p.Meta.WindowDays) / float64(defaultWindowDays)
			byMinutes := p.AvailableMinutes[j] / p.ProcTimeAt(j, t)
			totalCapacity += math.Min(monthly, byMinutes)
		}
		if totalCapacity < float64(totalDemand) {
			return errors.WithFields(
				errors.New(errors.InvalidNetwork, "aggregate capable capacity below demand"),
				errors.Fields{"test_type_id": p.TestIDs[t], "demand": totalDemand, "capacity": totalCapacity})
		}
	}
	return nil
}
