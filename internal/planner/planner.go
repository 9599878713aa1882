// Package planner turns a list of shows and viewing constraints into a day by day episode schedule.
//
// Shows are queued by priority, their episodes flattened in season order, and the queue is packed
// greedily onto each eligible calendar date. The packing never reorders, splits or skips episodes:
// an episode that does not fit ends the day and is retried first on the next date.
package planner

import (
	"sort"
	"time"

	"github.com/noah-isme/watchplan-api/internal/models"
)

// Result is the outcome of a planning run.
type Result struct {
	Days      []models.ScheduleDay
	Queue     []models.ScheduleEpisode
	Scheduled int
	Budget    float64
}

// Remaining returns the queued episodes that were not placed on any day.
func (r Result) Remaining() []models.ScheduleEpisode {
	return r.Queue[r.Scheduled:]
}

// Stalled reports whether the next unscheduled episode is longer than a whole day's budget,
// in which case no later date could ever take it.
func (r Result) Stalled() bool {
	if r.Scheduled >= len(r.Queue) {
		return false
	}
	return float64(r.Queue[r.Scheduled].Duration) > r.Budget
}

// Stats summarises the run.
func (r Result) Stats() models.PlanStats {
	stats := models.PlanStats{
		TotalEpisodes:     len(r.Queue),
		ScheduledEpisodes: r.Scheduled,
		EligibleDays:      len(r.Days),
		Stalled:           r.Stalled(),
	}
	stats.UnscheduledEpisodes = stats.TotalEpisodes - stats.ScheduledEpisodes
	for i, ep := range r.Queue {
		stats.TotalMinutes += ep.Duration
		if i < r.Scheduled {
			stats.ScheduledMinutes += ep.Duration
		}
	}
	return stats
}

// GenerateSchedule returns one ScheduleDay per eligible date between the settings' start and end
// dates. It never fails; inconsistent settings simply produce fewer or emptier days.
func GenerateSchedule(shows []models.Show, settings models.ScheduleSettings) []models.ScheduleDay {
	return Build(shows, settings).Days
}

// Build runs the planner and keeps the intermediate queue for reporting.
func Build(shows []models.Show, settings models.ScheduleSettings) Result {
	result := Result{
		Days:   []models.ScheduleDay{},
		Budget: settings.BudgetMinutes(),
	}
	if len(shows) == 0 {
		result.Queue = []models.ScheduleEpisode{}
		return result
	}

	result.Queue = FlattenEpisodes(SortByPriority(shows))
	dates := EligibleDates(settings.StartDate, settings.EndDate, settings.DaysPerWeek)
	result.Days = make([]models.ScheduleDay, 0, len(dates))

	cursor := 0
	for _, date := range dates {
		var day models.ScheduleDay
		day, cursor = packDay(date, result.Queue, cursor, result.Budget)
		result.Days = append(result.Days, day)
	}
	result.Scheduled = cursor
	return result
}

// SortByPriority returns a copy of shows ordered high to low; ties keep their input order.
func SortByPriority(shows []models.Show) []models.Show {
	sorted := make([]models.Show, len(shows))
	copy(sorted, shows)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority.Rank() > sorted[j].Priority.Rank()
	})
	return sorted
}

// FlattenEpisodes expands shows into their episodes, season by season, in show order.
func FlattenEpisodes(shows []models.Show) []models.ScheduleEpisode {
	total := 0
	for _, show := range shows {
		if show.Seasons > 0 && show.EpisodesPerSeason > 0 {
			total += show.TotalEpisodes()
		}
	}

	queue := make([]models.ScheduleEpisode, 0, total)
	for _, show := range shows {
		for season := 1; season <= show.Seasons; season++ {
			for episode := 1; episode <= show.EpisodesPerSeason; episode++ {
				queue = append(queue, models.ScheduleEpisode{
					ShowID:    show.ID,
					ShowTitle: show.Title,
					Season:    season,
					Episode:   episode,
					Duration:  show.EpisodeDuration,
				})
			}
		}
	}
	return queue
}

// EligibleDates lists every date from start to end, inclusive, whose weekday is in days.
// Both bounds are reduced to their calendar date; iteration happens in start's location.
func EligibleDates(start, end time.Time, days []time.Weekday) []time.Time {
	if len(days) == 0 {
		return []time.Time{}
	}
	var allowed [7]bool
	for _, d := range days {
		if d >= time.Sunday && d <= time.Saturday {
			allowed[d] = true
		}
	}

	loc := start.Location()
	sy, sm, sd := start.Date()
	ey, em, ed := end.Date()
	to := time.Date(ey, em, ed, 0, 0, 0, 0, loc)

	dates := []time.Time{}
	for i := 0; ; i++ {
		d := time.Date(sy, sm, sd+i, 0, 0, 0, 0, loc)
		if d.After(to) {
			break
		}
		if allowed[d.Weekday()] {
			dates = append(dates, d)
		}
	}
	return dates
}

// packDay fills a single date starting at cursor and returns the day plus the advanced cursor.
func packDay(date time.Time, queue []models.ScheduleEpisode, cursor int, budget float64) (models.ScheduleDay, int) {
	day := models.ScheduleDay{Date: date, Episodes: []models.ScheduleEpisode{}}
	remaining := budget
	for remaining > 0 && cursor < len(queue) {
		next := queue[cursor]
		if float64(next.Duration) > remaining {
			break
		}
		day.Episodes = append(day.Episodes, next)
		remaining -= float64(next.Duration)
		cursor++
	}
	return day, cursor
}
