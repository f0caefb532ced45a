package solver

import (
	"math/rand/v2"
)

// hypervolumeSamples is the fixed Monte Carlo sample count. The sample
// set is drawn once per run, so the estimate is deterministic under a
// seed and monotone while the dominated region grows.
const hypervolumeSamples = 4096

// hypervolumeEstimator estimates the volume of objective space
// dominated by a front, relative to a fixed reference point.
type hypervolumeEstimator struct {
	lower     [NumObjectives]float64
	ref       [NumObjectives]float64
	samples   [][NumObjectives]float64
	dominated []bool // once a sample is dominated it stays counted; elitism makes the true region monotone
}

// newHypervolumeEstimator fixes the reference box from the initial
// population: per objective, the maximum plus 10% of the observed range
// forms the upper corner and the minimum minus 10% of the range the
// lower (a zero range counts as 1).
func newHypervolumeEstimator(population []*Individual, rng *rand.Rand) *hypervolumeEstimator {
	est := &hypervolumeEstimator{}

	for m := 0; m < NumObjectives; m++ {
		lo := population[0].Objectives[m]
		hi := population[0].Objectives[m]
		for _, ind := range population[1:] {
			if ind.Objectives[m] < lo {
				lo = ind.Objectives[m]
			}
			if ind.Objectives[m] > hi {
				hi = ind.Objectives[m]
			}
		}

		span := hi - lo
		if span == 0 {
			span = 1
		}
		est.lower[m] = lo - 0.1*span
		est.ref[m] = hi + 0.1*span
	}

	est.samples = make([][NumObjectives]float64, hypervolumeSamples)
	for i := range est.samples {
		for m := 0; m < NumObjectives; m++ {
			est.samples[i][m] = est.lower[m] + rng.Float64()*(est.ref[m]-est.lower[m])
		}
	}
	est.dominated = make([]bool, hypervolumeSamples)

	return est
}

// estimate marks the samples dominated by the front and returns the
// covered fraction of the reference box.
func (h *hypervolumeEstimator) estimate(front []*Individual) float64 {
	if len(h.samples) == 0 {
		return 0
	}

	for i, sample := range h.samples {
		if h.dominated[i] {
			continue
		}
		for _, ind := range front {
			dominates := true
			for m := 0; m < NumObjectives; m++ {
				if ind.Objectives[m] > sample[m] {
					dominates = false
					break
				}
			}
			if dominates {
				h.dominated[i] = true
				break
			}
		}
	}

	dominatedCount := 0
	for _, d := range h.dominated {
		if d {
			dominatedCount++
		}
	}
	return float64(dominatedCount) / float64(len(h.samples))
}

// variance returns the population variance (mean squared deviation,
// divided by n) of a hypervolume window.
func variance(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var mean float64
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	var sum float64
	for _, v := range values {
		d := v - mean
		sum += d * d
	}
	return sum / float64(len(values))
}
