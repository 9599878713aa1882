package planner

import (
	"fmt"
	"math/rand"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/watchplan-api/internal/models"
)

var everyDay = []time.Weekday{
	time.Sunday, time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday,
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func show(id string, seasons, episodes, duration int, priority models.Priority) models.Show {
	return models.Show{
		ID:                id,
		Title:             "Show " + id,
		Seasons:           seasons,
		EpisodesPerSeason: episodes,
		EpisodeDuration:   duration,
		Priority:          priority,
	}
}

func settings(start, end time.Time, hours float64, days ...time.Weekday) models.ScheduleSettings {
	return models.ScheduleSettings{StartDate: start, EndDate: end, HoursPerDay: hours, DaysPerWeek: days}
}

func TestScenarioEmptyShows(t *testing.T) {
	days := GenerateSchedule(nil, settings(date(2024, 1, 1), date(2024, 1, 31), 2, everyDay...))
	require.NotNil(t, days)
	assert.Empty(t, days)
}

func TestScenarioBothEpisodesFitExactly(t *testing.T) {
	shows := []models.Show{show("a", 1, 2, 30, models.PriorityLow)}
	days := GenerateSchedule(shows, settings(date(2024, 1, 1), date(2024, 1, 1), 1, everyDay...))

	require.Len(t, days, 1)
	require.Len(t, days[0].Episodes, 2)
	assert.Equal(t, 1, days[0].Episodes[0].Episode)
	assert.Equal(t, 2, days[0].Episodes[1].Episode)
}

func TestScenarioOverflowMovesToNextDay(t *testing.T) {
	shows := []models.Show{show("a", 1, 2, 40, models.PriorityMedium)}
	days := GenerateSchedule(shows, settings(date(2024, 1, 1), date(2024, 1, 2), 1, everyDay...))

	require.Len(t, days, 2)
	require.Len(t, days[0].Episodes, 1)
	require.Len(t, days[1].Episodes, 1)
	assert.Equal(t, 1, days[0].Episodes[0].Episode)
	assert.Equal(t, 2, days[1].Episodes[0].Episode)
}

func TestScenarioNoWeekdays(t *testing.T) {
	shows := []models.Show{show("a", 3, 10, 20, models.PriorityHigh)}
	days := GenerateSchedule(shows, settings(date(2024, 1, 1), date(2024, 3, 1), 8))
	require.NotNil(t, days)
	assert.Empty(t, days)
}

func TestScenarioHighPriorityFirst(t *testing.T) {
	shows := []models.Show{
		show("low", 1, 1, 20, models.PriorityLow),
		show("high", 1, 1, 20, models.PriorityHigh),
	}
	days := GenerateSchedule(shows, settings(date(2024, 1, 1), date(2024, 1, 1), 2, everyDay...))

	require.Len(t, days, 1)
	require.Len(t, days[0].Episodes, 2)
	assert.Equal(t, "high", days[0].Episodes[0].ShowID)
	assert.Equal(t, "low", days[0].Episodes[1].ShowID)
}

func TestWeekdayFilter(t *testing.T) {
	// 2024-10-14 is a Monday.
	days := GenerateSchedule(
		[]models.Show{show("a", 1, 10, 30, models.PriorityMedium)},
		settings(date(2024, 10, 14), date(2024, 10, 27), 1, time.Saturday, time.Sunday),
	)

	require.Len(t, days, 4)
	assert.Equal(t, date(2024, 10, 19), days[0].Date)
	assert.Equal(t, date(2024, 10, 20), days[1].Date)
	assert.Equal(t, date(2024, 10, 26), days[2].Date)
	assert.Equal(t, date(2024, 10, 27), days[3].Date)
	for _, d := range days {
		assert.Len(t, d.Episodes, 2)
	}
}

func TestStartAfterEndYieldsNoDays(t *testing.T) {
	days := GenerateSchedule(
		[]models.Show{show("a", 1, 1, 30, models.PriorityMedium)},
		settings(date(2024, 2, 1), date(2024, 1, 1), 1, everyDay...),
	)
	assert.Empty(t, days)
}

func TestDatesAreNormalisedToMidnight(t *testing.T) {
	start := time.Date(2024, 3, 1, 18, 45, 0, 0, time.UTC)
	end := time.Date(2024, 3, 2, 6, 0, 0, 0, time.UTC)
	days := GenerateSchedule([]models.Show{show("a", 1, 1, 30, models.PriorityMedium)}, settings(start, end, 1, everyDay...))

	require.Len(t, days, 2)
	assert.Equal(t, date(2024, 3, 1), days[0].Date)
	assert.Equal(t, date(2024, 3, 2), days[1].Date)
}

func TestFractionalHours(t *testing.T) {
	shows := []models.Show{show("a", 1, 4, 45, models.PriorityMedium)}
	days := GenerateSchedule(shows, settings(date(2024, 1, 1), date(2024, 1, 2), 1.5, everyDay...))

	require.Len(t, days, 2)
	assert.Len(t, days[0].Episodes, 2)
	assert.Len(t, days[1].Episodes, 2)
}

func TestOversizedEpisodeStallsQueue(t *testing.T) {
	shows := []models.Show{
		show("short", 1, 1, 30, models.PriorityHigh),
		show("movie", 1, 1, 150, models.PriorityMedium),
		show("after", 1, 3, 10, models.PriorityLow),
	}
	result := Build(shows, settings(date(2024, 1, 1), date(2024, 1, 5), 2, everyDay...))

	require.Len(t, result.Days, 5)
	assert.Len(t, result.Days[0].Episodes, 1)
	for _, d := range result.Days[1:] {
		assert.Empty(t, d.Episodes)
		assert.NotNil(t, d.Episodes)
	}
	assert.True(t, result.Stalled())
	stats := result.Stats()
	assert.Equal(t, 5, stats.TotalEpisodes)
	assert.Equal(t, 1, stats.ScheduledEpisodes)
	assert.Equal(t, 4, stats.UnscheduledEpisodes)
	assert.Equal(t, 30, stats.ScheduledMinutes)
	assert.Equal(t, 210, stats.TotalMinutes)
	assert.Len(t, result.Remaining(), 4)
}

func TestZeroHoursSchedulesNothing(t *testing.T) {
	result := Build([]models.Show{show("a", 1, 2, 30, models.PriorityMedium)}, settings(date(2024, 1, 1), date(2024, 1, 3), 0, everyDay...))
	require.Len(t, result.Days, 3)
	assert.Equal(t, 0, result.Scheduled)
	assert.True(t, result.Stalled())
}

func TestSortByPriorityIsStableAndCopies(t *testing.T) {
	input := []models.Show{
		show("m1", 1, 1, 1, models.PriorityMedium),
		show("l1", 1, 1, 1, models.PriorityLow),
		show("h1", 1, 1, 1, models.PriorityHigh),
		show("m2", 1, 1, 1, models.PriorityMedium),
		show("h2", 1, 1, 1, models.PriorityHigh),
	}
	sorted := SortByPriority(input)

	ids := make([]string, 0, len(sorted))
	for _, s := range sorted {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, []string{"h1", "h2", "m1", "m2", "l1"}, ids)
	assert.Equal(t, "m1", input[0].ID)
}

func TestFlattenEpisodesOrder(t *testing.T) {
	queue := FlattenEpisodes([]models.Show{show("a", 2, 2, 10, models.PriorityHigh), show("b", 1, 1, 5, models.PriorityLow)})

	got := make([]string, 0, len(queue))
	for _, ep := range queue {
		got = append(got, fmt.Sprintf("%s:%d:%d", ep.ShowID, ep.Season, ep.Episode))
	}
	assert.Equal(t, []string{"a:1:1", "a:1:2", "a:2:1", "a:2:2", "b:1:1"}, got)
	assert.Equal(t, 5, queue[4].Duration)
}

func TestEligibleDatesCrossesMonthAndLeapDay(t *testing.T) {
	dates := EligibleDates(date(2024, 2, 27), date(2024, 3, 2), everyDay)
	require.Len(t, dates, 5)
	assert.Equal(t, date(2024, 2, 29), dates[2])
	assert.Equal(t, date(2024, 3, 2), dates[4])
}

func TestEligibleDatesStayAtMidnightAcrossMidnightDST(t *testing.T) {
	// Chile moved clocks from 00:00 to 01:00 on 2024-09-08.
	loc, err := time.LoadLocation("America/Santiago")
	require.NoError(t, err)

	start := time.Date(2024, 9, 6, 0, 0, 0, 0, loc)
	end := time.Date(2024, 9, 12, 0, 0, 0, 0, loc)
	dates := EligibleDates(start, end, everyDay)
	require.Len(t, dates, 7)
	for i, d := range dates {
		assert.Equal(t, 6+i, d.Day())
		if d.Day() != 8 {
			assert.Equal(t, 0, d.Hour(), d.String())
		}
	}
}

func randomInput(r *rand.Rand) ([]models.Show, models.ScheduleSettings) {
	priorities := []models.Priority{models.PriorityHigh, models.PriorityMedium, models.PriorityLow}
	shows := make([]models.Show, r.Intn(5)+1)
	for i := range shows {
		shows[i] = show(fmt.Sprintf("s%d", i), r.Intn(3)+1, r.Intn(6)+1, r.Intn(90)+5, priorities[r.Intn(3)])
	}
	var days []time.Weekday
	for _, d := range everyDay {
		if r.Intn(2) == 0 {
			days = append(days, d)
		}
	}
	start := date(2024, time.Month(r.Intn(12)+1), r.Intn(28)+1)
	end := start.AddDate(0, 0, r.Intn(30))
	hours := float64(r.Intn(8)+1) / 2
	return shows, settings(start, end, hours, days...)
}

func countWeekdays(start, end time.Time, days []time.Weekday) int {
	n := 0
	span := int(end.Sub(start).Hours()/24 + 0.5)
	for i := 0; i <= span; i++ {
		wd := time.Weekday((int(start.Weekday()) + i) % 7)
		for _, d := range days {
			if d == wd {
				n++
				break
			}
		}
	}
	return n
}

func TestProperties(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for i := 0; i < 200; i++ {
		shows, cfg := randomInput(r)
		result := Build(shows, cfg)

		// determinism
		assert.Equal(t, result.Days, GenerateSchedule(shows, cfg))

		// coverage
		require.Len(t, result.Days, countWeekdays(cfg.StartDate, cfg.EndDate, cfg.DaysPerWeek))

		// scheduled episodes are a prefix of the queue, in order, without duplicates
		flat := []models.ScheduleEpisode{}
		for _, d := range result.Days {
			flat = append(flat, d.Episodes...)
		}
		require.LessOrEqual(t, len(flat), len(result.Queue))
		assert.Equal(t, result.Queue[:len(flat)], flat)
		assert.Equal(t, len(flat), result.Scheduled)

		// budget respected and the next episode would not have fit
		pos := 0
		for _, d := range result.Days {
			used := d.Minutes()
			assert.LessOrEqual(t, float64(used), cfg.BudgetMinutes())
			pos += len(d.Episodes)
			if pos < len(result.Queue) {
				assert.Greater(t, float64(used+result.Queue[pos].Duration), cfg.BudgetMinutes())
			}
		}

		// higher priority shows come entirely before lower ones
		seen := map[string]int{}
		for _, s := range shows {
			seen[s.ID] = s.Priority.Rank()
		}
		for j := 1; j < len(result.Queue); j++ {
			assert.GreaterOrEqual(t, seen[result.Queue[j-1].ShowID], seen[result.Queue[j].ShowID])
		}
	}
}
