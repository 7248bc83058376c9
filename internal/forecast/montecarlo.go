/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */

// Package forecast turns short daily-throughput histories into probabilistic
// completion estimates by Monte Carlo resampling, and assembles the per-team
// forecast table around release cadences.
package forecast

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// ErrInsufficientData means the resampler was handed an empty history.
// Callers substitute a zero row for that team instead of aborting the batch.
var ErrInsufficientData = errors.New("forecast: empty throughput history")

// Forecast holds the two survival-percentile totals for one horizon.
// Optimistic is the 15th percentile of simulated totals: 85% of simulations
// meet or exceed it, so it is the safer commitment despite being the smaller
// number. Conservative is the 30th percentile (70% meet or exceed it).
type Forecast struct {
	Optimistic   float64
	Conservative float64
}

// Simulator resamples daily throughput with replacement. The random source
// is injected so tests can pin a seed; production wiring passes a
// time-seeded generator.
type Simulator struct {
	rng *rand.Rand
}

func NewSimulator(rng *rand.Rand) *Simulator {
	return &Simulator{rng: rng}
}

// Run draws trials simulated horizons. Each horizon is horizonDays
// independent uniform draws from history. Zero-count days stay in the pool.
func (s *Simulator) Run(history []int, horizonDays, trials int) (Forecast, error) {
	if len(history) == 0 {
		return Forecast{}, ErrInsufficientData
	}
	if horizonDays < 1 {
		return Forecast{}, fmt.Errorf("forecast: horizon must be >= 1, got %d", horizonDays)
	}
	if trials < 1 {
		return Forecast{}, fmt.Errorf("forecast: trials must be >= 1, got %d", trials)
	}
	totals := make([]float64, trials)
	for i := 0; i < trials; i++ {
		sum := 0
		for d := 0; d < horizonDays; d++ {
			sum += history[s.rng.Intn(len(history))]
		}
		totals[i] = float64(sum)
	}
	sort.Float64s(totals)
	return Forecast{
		Optimistic:   percentile(totals, 15),
		Conservative: percentile(totals, 30),
	}, nil
}

// percentile computes the p-th percentile of sorted values with linear
// interpolation between adjacent order statistics.
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	rank := p / 100 * float64(n-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}
