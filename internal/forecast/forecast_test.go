package forecast

import (
	"math/rand"
	"testing"
	"time"

	"github.com/HamedShams/sprint-pulse/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func samplesFor(team string, start string, counts ...int) []domain.ThroughputSample {
	base := day(start)
	out := make([]domain.ThroughputSample, len(counts))
	for i, c := range counts {
		out[i] = domain.ThroughputSample{Team: team, Date: base.AddDate(0, 0, i), Count: c}
	}
	return out
}

func newTestOrchestrator() *Orchestrator {
	return NewOrchestrator(NewSimulator(rand.New(rand.NewSource(1))), zerolog.Nop())
}

func TestForecast_TeamWithoutHistoryGetsZeroRow(t *testing.T) {
	o := newTestOrchestrator()
	teams := map[string]domain.Cadence{"Mobile": domain.CadenceBiweekly}
	releases := []domain.ReleaseDate{{Cadence: domain.CadenceBiweekly, Date: day("2025-07-10")}}

	rows := o.Forecast(teams, nil, releases, Options{RelevantRange: 30, Trials: 200, Now: day("2025-07-01")})
	require.Len(t, rows, 1)
	row := rows[0]
	assert.Equal(t, "Mobile", row.Team)
	assert.Equal(t, 9, row.DaysUntilRelease)
	assert.Zero(t, row.NextCycleOptimistic)
	assert.Zero(t, row.NextCycleConservative)
	assert.Zero(t, row.CurrentOptimistic)
}

func TestForecast_ConstantThroughputRowIsExact(t *testing.T) {
	o := newTestOrchestrator()
	teams := map[string]domain.Cadence{"Integrations API": domain.CadenceWeekly}
	releases := []domain.ReleaseDate{{Cadence: domain.CadenceWeekly, Date: day("2025-07-04")}}
	samples := samplesFor("Integrations API", "2025-06-01", 2, 2, 2, 2, 2, 2, 2, 2, 2, 2)

	rows := o.Forecast(teams, samples, releases, Options{RelevantRange: 30, Trials: 300, Now: day("2025-07-01")})
	require.Len(t, rows, 1)
	row := rows[0]
	assert.Equal(t, 3, row.DaysUntilRelease)
	// Weekly cycle is 7 days at 2/day; current period is 3 days at 2/day.
	assert.Equal(t, 14, row.NextCycleOptimistic)
	assert.Equal(t, 14, row.NextCycleConservative)
	assert.Equal(t, 6, row.CurrentOptimistic)
}

func TestForecast_RelevantRangeKeepsNewestCounts(t *testing.T) {
	o := newTestOrchestrator()
	teams := map[string]domain.Cadence{"Order Create": domain.CadenceWeekly}
	releases := []domain.ReleaseDate{{Cadence: domain.CadenceWeekly, Date: day("2025-07-08")}}
	// Old noisy counts followed by a steady recent week; range 7 must see
	// only the steady tail.
	samples := append(
		samplesFor("Order Create", "2025-06-01", 9, 0, 7, 1, 8),
		samplesFor("Order Create", "2025-06-20", 3, 3, 3, 3, 3, 3, 3)...,
	)
	rows := o.Forecast(teams, samples, releases, Options{RelevantRange: 7, Trials: 300, Now: day("2025-07-01")})
	require.Len(t, rows, 1)
	assert.Equal(t, 21, rows[0].NextCycleOptimistic)
	assert.Equal(t, 21, rows[0].NextCycleConservative)
}

func TestForecast_SortsMostAtRiskTeamsFirst(t *testing.T) {
	o := newTestOrchestrator()
	teams := map[string]domain.Cadence{
		"Fast Team": domain.CadenceWeekly,
		"Slow Team": domain.CadenceWeekly,
	}
	releases := []domain.ReleaseDate{{Cadence: domain.CadenceWeekly, Date: day("2025-07-05")}}
	samples := append(
		samplesFor("Fast Team", "2025-06-20", 5, 5, 5, 5, 5),
		samplesFor("Slow Team", "2025-06-20", 1, 1, 1, 1, 1)...,
	)
	rows := o.Forecast(teams, samples, releases, Options{RelevantRange: 30, Trials: 300, Now: day("2025-07-01")})
	require.Len(t, rows, 2)
	assert.Equal(t, "Slow Team", rows[0].Team)
	assert.Equal(t, "Fast Team", rows[1].Team)
}

func TestDaysUntilRelease_PrefersUpcomingDates(t *testing.T) {
	o := newTestOrchestrator()
	today := day("2025-07-01")
	releases := []domain.ReleaseDate{
		{Cadence: domain.CadenceWeekly, Date: day("2025-06-30")}, // yesterday
		{Cadence: domain.CadenceWeekly, Date: day("2025-07-06")},
		{Cadence: domain.CadenceWeekly, Date: day("2025-07-13")},
		{Cadence: domain.CadenceBiweekly, Date: day("2025-07-02")},
	}
	assert.Equal(t, 5, o.daysUntilRelease(domain.CadenceWeekly, releases, today))
	assert.Equal(t, 1, o.daysUntilRelease(domain.CadenceBiweekly, releases, today))
}

func TestDaysUntilRelease_FallsBackToNearestPast(t *testing.T) {
	o := newTestOrchestrator()
	today := day("2025-07-01")
	releases := []domain.ReleaseDate{
		{Cadence: domain.CadenceWeekly, Date: day("2025-06-28")},
		{Cadence: domain.CadenceWeekly, Date: day("2025-06-10")},
	}
	assert.Equal(t, 3, o.daysUntilRelease(domain.CadenceWeekly, releases, today))
	assert.Equal(t, 0, o.daysUntilRelease(domain.CadenceBiweekly, releases, today))
}

func TestForecast_ReleaseDueTodaySkipsCurrentPeriod(t *testing.T) {
	o := newTestOrchestrator()
	teams := map[string]domain.Cadence{"Personalization": domain.CadenceWeekly}
	releases := []domain.ReleaseDate{{Cadence: domain.CadenceWeekly, Date: day("2025-07-01")}}
	samples := samplesFor("Personalization", "2025-06-20", 2, 2, 2, 2, 2)

	rows := o.Forecast(teams, samples, releases, Options{RelevantRange: 30, Trials: 200, Now: day("2025-07-01")})
	require.Len(t, rows, 1)
	assert.Equal(t, 0, rows[0].DaysUntilRelease)
	assert.Zero(t, rows[0].CurrentOptimistic)
	assert.Equal(t, 14, rows[0].NextCycleOptimistic)
}
