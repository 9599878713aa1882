package models

import (
	"strings"
	"time"
)

// ScheduleEpisode is one episode placed on a schedule day.
type ScheduleEpisode struct {
	ShowID    string `json:"show_id"`
	ShowTitle string `json:"show_title"`
	Season    int    `json:"season"`
	Episode   int    `json:"episode"`
	Duration  int    `json:"duration"`
}

// ScheduleDay is a calendar date with the episodes assigned to it, in viewing order.
type ScheduleDay struct {
	Date     time.Time         `json:"date"`
	Episodes []ScheduleEpisode `json:"episodes"`
}

// Minutes sums the durations of the day's episodes.
func (d ScheduleDay) Minutes() int {
	total := 0
	for _, ep := range d.Episodes {
		total += ep.Duration
	}
	return total
}

// ScheduleSettings are the viewing constraints for a schedule.
type ScheduleSettings struct {
	StartDate   time.Time      `json:"start_date"`
	EndDate     time.Time      `json:"end_date"`
	HoursPerDay float64        `json:"hours_per_day"`
	DaysPerWeek []time.Weekday `json:"days_per_week"`
}

// BudgetMinutes is the viewing time available on each eligible day.
func (s ScheduleSettings) BudgetMinutes() float64 {
	return s.HoursPerDay * 60
}

var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// ParseWeekday accepts English weekday names or their three letter abbreviations, in any case.
func ParseWeekday(name string) (time.Weekday, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	if day, ok := weekdayNames[key]; ok {
		return day, true
	}
	if len(key) == 3 {
		for full, day := range weekdayNames {
			if strings.HasPrefix(full, key) {
				return day, true
			}
		}
	}
	return 0, false
}

// WeekdayName returns the lowercase English name of d.
func WeekdayName(d time.Weekday) string {
	return strings.ToLower(d.String())
}
