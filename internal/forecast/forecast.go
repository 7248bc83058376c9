/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package forecast

import (
	"sort"
	"time"

	"github.com/HamedShams/sprint-pulse/internal/domain"
	"github.com/rs/zerolog"
)

// Options bound one orchestrator run. Now is injected so the release-date
// lookup is testable; zero means time.Now.
type Options struct {
	RelevantRange int
	Trials        int
	Now           time.Time
}

// Orchestrator builds the per-team forecast table: it picks each team's
// horizon from its release cadence and runs the resampler twice per team.
type Orchestrator struct {
	sim *Simulator
	log zerolog.Logger
}

func NewOrchestrator(sim *Simulator, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{sim: sim, log: log}
}

// Forecast emits one row per configured team, sorted so the lowest-throughput
// teams surface first. Teams with no throughput rows, or whose simulation
// fails, get a zero row; nothing short of bad input tables aborts the batch.
func (o *Orchestrator) Forecast(teams map[string]domain.Cadence, samples []domain.ThroughputSample, releases []domain.ReleaseDate, opts Options) []domain.TeamForecast {
	now := opts.Now
	if now.IsZero() { now = time.Now() }
	today := truncateDay(now)

	byTeam := map[string][]domain.ThroughputSample{}
	for _, s := range samples {
		byTeam[s.Team] = append(byTeam[s.Team], s)
	}

	names := make([]string, 0, len(teams))
	for name := range teams {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := make([]domain.TeamForecast, 0, len(names))
	for _, name := range names {
		cadence := teams[name]
		days := o.daysUntilRelease(cadence, releases, today)
		rows = append(rows, o.teamRow(name, cadence, byTeam[name], days, opts))
	}

	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.NextCycleOptimistic != b.NextCycleOptimistic {
			return a.NextCycleOptimistic < b.NextCycleOptimistic
		}
		if a.NextCycleConservative != b.NextCycleConservative {
			return a.NextCycleConservative < b.NextCycleConservative
		}
		return a.CurrentOptimistic < b.CurrentOptimistic
	})
	return rows
}

func (o *Orchestrator) teamRow(name string, cadence domain.Cadence, samples []domain.ThroughputSample, daysUntilRelease int, opts Options) domain.TeamForecast {
	row := domain.TeamForecast{Team: name, DaysUntilRelease: daysUntilRelease}
	if len(samples) == 0 {
		o.log.Warn().Str("team", name).Msg("no throughput history, emitting zero forecast")
		return row
	}
	history := recentCounts(samples, opts.RelevantRange)

	next, err := o.sim.Run(history, cadence.CycleDays(), opts.Trials)
	if err != nil {
		o.log.Error().Err(err).Str("team", name).Msg("next-cycle simulation failed")
		return row
	}
	row.NextCycleOptimistic = int(next.Optimistic)
	row.NextCycleConservative = int(next.Conservative)

	// A release due today leaves nothing to forecast for the current period.
	if daysUntilRelease >= 1 {
		current, err := o.sim.Run(history, daysUntilRelease, opts.Trials)
		if err != nil {
			o.log.Error().Err(err).Str("team", name).Msg("current-period simulation failed")
		} else {
			row.CurrentOptimistic = int(current.Optimistic)
		}
	}
	return row
}

// daysUntilRelease picks the nearest release for the cadence class. Upcoming
// dates win; when the table only holds past dates the nearest one is used
// with its absolute distance, matching how stale cadence tables behaved
// before the upcoming-only filter.
func (o *Orchestrator) daysUntilRelease(cadence domain.Cadence, releases []domain.ReleaseDate, today time.Time) int {
	bestFuture, bestPast := -1, -1
	for _, r := range releases {
		if r.Cadence != cadence { continue }
		d := int(truncateDay(r.Date).Sub(today).Hours() / 24)
		if d >= 0 {
			if bestFuture == -1 || d < bestFuture { bestFuture = d }
		} else {
			if bestPast == -1 || -d < bestPast { bestPast = -d }
		}
	}
	if bestFuture >= 0 { return bestFuture }
	if bestPast >= 0 {
		o.log.Warn().Str("cadence", cadence.String()).Msg("no upcoming release date, using nearest past date")
		return bestPast
	}
	return 0
}

// recentCounts sorts by date descending and keeps the newest n counts.
func recentCounts(samples []domain.ThroughputSample, n int) []int {
	sorted := make([]domain.ThroughputSample, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Date.After(sorted[j].Date) })
	if n > 0 && len(sorted) > n {
		sorted = sorted[:n]
	}
	out := make([]int, len(sorted))
	for i, s := range sorted {
		out[i] = s.Count
	}
	return out
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
