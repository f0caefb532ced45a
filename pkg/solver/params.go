package solver

import (
	"math"
	"runtime"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/pathdx/cdst-go/pkg/errors"
)

// Parameters are the per-scenario solver settings.
type Parameters struct {
	// Objective weights in order distance, time, cost, utilization,
	// accessibility. Must sum to 1 within 1e-6.
	Weights [NumObjectives]float64 `json:"weights"`

	// Soft constraint thresholds. Zero disables the constraint.
	MaxDistanceKM        float64 `json:"max_distance_km" validate:"gte=0"`
	MaxTravelTimeMinutes float64 `json:"max_travel_time_minutes" validate:"gte=0"`
	MinUtilization       float64 `json:"min_utilization" validate:"gte=0,lte=1"`
	MaxUtilization       float64 `json:"max_utilization" validate:"gte=0,lte=2"`
	MinQuality           float64 `json:"min_quality" validate:"gte=0,lte=1"`

	// Algorithm knobs.
	PopulationSize       int     `json:"population_size" validate:"gt=1"`
	MaxGenerations       int     `json:"max_generations" validate:"gt=0"`
	CrossoverRate        float64 `json:"crossover_rate" validate:"gte=0,lte=1"`
	MutationRate         float64 `json:"mutation_rate" validate:"gte=0,lte=1"`
	TournamentSize       int     `json:"tournament_size" validate:"gt=0"`
	EliteSize            int     `json:"elite_size" validate:"gte=0"`
	ConvergenceWindow    int     `json:"convergence_window" validate:"gt=1"`
	ConvergenceThreshold float64 `json:"convergence_threshold" validate:"gt=0"`
	DiversityThreshold   float64 `json:"diversity_threshold" validate:"gte=0"`

	// Termination.
	TimeBudget time.Duration `json:"time_budget" validate:"gt=0"`

	// Seed makes runs reproducible. Nil draws fresh entropy.
	Seed *int64 `json:"seed,omitempty"`

	// EvalWorkers bounds parallel fitness evaluation. Zero selects
	// min(runtime cores, 8).
	EvalWorkers int `json:"eval_workers" validate:"gte=0"`
}

// DefaultParameters returns the documented defaults with the given
// objective weights.
func DefaultParameters(weights [NumObjectives]float64) Parameters {
	return Parameters{
		Weights:              weights,
		PopulationSize:       200,
		MaxGenerations:       500,
		CrossoverRate:        0.9,
		MutationRate:         0.1,
		TournamentSize:       3,
		EliteSize:            20,
		ConvergenceWindow:    50,
		ConvergenceThreshold: 1e-3,
		DiversityThreshold:   1e-4,
		TimeBudget:           900 * time.Second,
	}
}

var paramsValidator = validator.New()

// Validate rejects parameter sets the solver cannot run with.
func (p *Parameters) Validate() error {
	if err := paramsValidator.Struct(p); err != nil {
		return errors.Wrap(err, errors.InvalidParameters, "invalid solver parameters")
	}

	var sum float64
	for _, w := range p.Weights {
		if w < 0 {
			return errors.New(errors.InvalidParameters, "objective weights must be non-negative")
		}
		sum += w
	}
	if math.Abs(sum-1.0) > 1e-6 {
		return errors.Newf(errors.InvalidParameters, "objective weights sum to %g, want 1", sum)
	}

	if p.MaxUtilization > 0 && p.MinUtilization > p.MaxUtilization {
		return errors.New(errors.InvalidParameters, "min utilization exceeds max utilization")
	}
	if p.TournamentSize > p.PopulationSize {
		return errors.New(errors.InvalidParameters, "tournament size exceeds population size")
	}
	if p.EliteSize > p.PopulationSize {
		return errors.New(errors.InvalidParameters, "elite size exceeds population size")
	}

	return nil
}

// workers resolves the evaluation worker count.
func (p *Parameters) workers() int {
	if p.EvalWorkers > 0 {
		return p.EvalWorkers
	}
	n := runtime.GOMAXPROCS(0)
	if n > 8 {
		n = 8
	}
	if n < 1 {
		n = 1
	}
	return n
}
